package domain

import "fmt"

// ValidationError reports caller input that is malformed or violates a field
// constraint. The store is left unchanged.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ConflictError reports an illegal status transition. The record is left
// unchanged.
type ConflictError struct {
	ID     string
	Reason string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("ticket %s: %s", e.ID, e.Reason)
}

// NotFoundError reports a referenced id absent from the store.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// RuleViolationError surfaces blocking rule results from a rejected write.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	if len(e.Result.Violations) == 1 {
		return fmt.Sprintf("rule violation: %s", e.Result.Violations[0].Message)
	}
	return fmt.Sprintf("%d rule violations", len(e.Result.Violations))
}
