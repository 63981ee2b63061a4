package utils

import (
	"errors"
	"fmt"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

// Rules reported by ValidationError. Callers match on Rule, not on Message.
const (
	RuleRequired             = "required"
	RuleNegativeQuantity     = "negative_quantity"
	RuleNonPositiveQuantity  = "non_positive_quantity"
	RuleQuantityOutOfRange   = "quantity_out_of_range"
	RuleUnknownCategory      = "unknown_category"
	RuleUnknownPriority      = "unknown_priority"
	RuleLocationSiteMismatch = "location_site_mismatch"
	RuleCrossReference       = "cross_reference_mismatch"
	RuleExceedsReceived      = "exceeds_received"
	RuleDuplicatePlanningRow = "duplicate_planning_row"
	RuleDuplicateKey         = "duplicate_key"
	RuleInvalidFeedMessage   = "invalid_feed_message"
)

// ValidationError is returned when an input violates a ledger rule.
// Nothing is written when it is returned.
type ValidationError struct {
	Rule    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed (%s) on %s: %s", e.Rule, e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed (%s): %s", e.Rule, e.Message)
}

func NewValidationError(rule, field, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ReferenceError is returned when deleting an entity that is still referenced.
type ReferenceError struct {
	Entity       string
	Id           int
	ReferencedBy []string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %d is still referenced by %s", e.Entity, e.Id, strings.Join(e.ReferencedBy, ", "))
}

func IsValidationError(err error, rule string) bool {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	return rule == "" || verr.Rule == rule
}

func IsReferenceError(err error) bool {
	var rerr *ReferenceError
	return errors.As(err, &rerr)
}
