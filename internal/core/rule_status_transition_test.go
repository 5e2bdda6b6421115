package core

import (
	"context"
	"testing"

	"ticketcore/pkg/domain"
)

func TestStatusTransitionRuleGraph(t *testing.T) {
	rule := StatusTransitionRule()

	cases := []struct {
		from, to domain.TicketStatus
		allowed  bool
	}{
		{domain.StatusOpen, domain.StatusInProgress, true},
		{domain.StatusInProgress, domain.StatusClosed, true},
		{domain.StatusClosed, domain.StatusReopened, true},
		{domain.StatusReopened, domain.StatusInProgress, true},

		{domain.StatusOpen, domain.StatusClosed, false},
		{domain.StatusOpen, domain.StatusReopened, false},
		{domain.StatusInProgress, domain.StatusOpen, false},
		{domain.StatusInProgress, domain.StatusReopened, false},
		{domain.StatusClosed, domain.StatusOpen, false},
		{domain.StatusClosed, domain.StatusInProgress, false},
		{domain.StatusReopened, domain.StatusOpen, false},
		{domain.StatusReopened, domain.StatusClosed, false},

		// unchanged status always passes
		{domain.StatusOpen, domain.StatusOpen, true},
		{domain.StatusClosed, domain.StatusClosed, true},
	}

	for _, tc := range cases {
		change := domain.Change{
			Entity: domain.EntityTicket,
			Action: domain.ActionUpdate,
			Before: domain.Ticket{Base: domain.Base{ID: "t-1"}, Status: tc.from},
			After:  domain.Ticket{Base: domain.Base{ID: "t-1"}, Status: tc.to},
		}
		res, err := rule.Evaluate(context.Background(), []domain.Change{change})
		if err != nil {
			t.Fatalf("%s -> %s: %v", tc.from, tc.to, err)
		}
		if res.HasBlocking() == tc.allowed {
			t.Fatalf("%s -> %s: allowed = %v, want %v", tc.from, tc.to, !res.HasBlocking(), tc.allowed)
		}
	}
}

func TestStatusTransitionRuleCreate(t *testing.T) {
	rule := StatusTransitionRule()

	for _, tc := range []struct {
		status  domain.TicketStatus
		allowed bool
	}{
		{domain.StatusOpen, true},
		{domain.StatusInProgress, false},
		{domain.StatusClosed, false},
		{domain.StatusReopened, false},
	} {
		change := domain.Change{
			Entity: domain.EntityTicket,
			Action: domain.ActionCreate,
			After:  domain.Ticket{Status: tc.status},
		}
		res, err := rule.Evaluate(context.Background(), []domain.Change{change})
		if err != nil {
			t.Fatalf("create %s: %v", tc.status, err)
		}
		if res.HasBlocking() == tc.allowed {
			t.Fatalf("create %s: allowed = %v, want %v", tc.status, !res.HasBlocking(), tc.allowed)
		}
	}
}

func TestStatusTransitionRuleIgnoresOtherEntities(t *testing.T) {
	rule := StatusTransitionRule()
	res, err := rule.Evaluate(context.Background(), []domain.Change{{
		Entity: "widget",
		Action: domain.ActionUpdate,
		Before: domain.Ticket{Status: domain.StatusOpen},
		After:  domain.Ticket{Status: domain.StatusClosed},
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.HasBlocking() {
		t.Fatal("rule must only evaluate ticket changes")
	}
}
