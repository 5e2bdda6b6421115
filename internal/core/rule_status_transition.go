package core

import (
	"context"
	"fmt"

	"ticketcore/pkg/domain"
)

// StatusTransitionRule blocks ticket writes that violate the workflow graph:
// open -> in_progress -> closed, closed -> reopened -> in_progress. Writes
// keeping the status unchanged always pass, so repeating an identical update
// stays idempotent.
func StatusTransitionRule() domain.Rule {
	return statusTransitionRule{}
}

type statusTransitionRule struct{}

var allowedTransitions = map[domain.TicketStatus]map[domain.TicketStatus]struct{}{
	domain.StatusOpen:       {domain.StatusInProgress: {}},
	domain.StatusInProgress: {domain.StatusClosed: {}},
	domain.StatusClosed:     {domain.StatusReopened: {}},
	domain.StatusReopened:   {domain.StatusInProgress: {}},
}

func (statusTransitionRule) Name() string { return "status_transition" }

func (statusTransitionRule) Evaluate(_ context.Context, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityTicket {
			continue
		}
		switch change.Action {
		case domain.ActionCreate:
			if change.After.Status != domain.StatusOpen {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "status_transition",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("ticket must be created open, not %s", change.After.Status),
					Entity:   domain.EntityTicket,
					EntityID: change.After.ID,
				})
			}
		case domain.ActionUpdate:
			from, to := change.Before.Status, change.After.Status
			if from == to {
				continue
			}
			if _, ok := allowedTransitions[from][to]; !ok {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "status_transition",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("illegal transition %s -> %s", from, to),
					Entity:   domain.EntityTicket,
					EntityID: change.After.ID,
				})
			}
		}
	}
	return res, nil
}
