package workflow

import (
	"testing"

	"github.com/mmdatafocus/supplymap_backend/utils"
)

func intPtr(v int) *int {
	return &v
}

func TestNewAllocation_Validate(t *testing.T) {
	cases := []struct {
		name  string
		input NewAllocation
		rule  string
		field string
	}{
		{"planning row only", NewAllocation{PlanningRowId: intPtr(4), Quantity: dec("5")}, "", ""},
		{"unassigned with receipt and location", NewAllocation{ReceiptId: intPtr(9), LocationId: intPtr(2), Quantity: dec("5")}, "", ""},
		{"nothing to draw from", NewAllocation{LocationId: intPtr(2), Quantity: dec("5")}, utils.RuleRequired, "receipt_id"},
		{"unassigned without location", NewAllocation{ReceiptId: intPtr(9), Quantity: dec("5")}, utils.RuleRequired, "location_id"},
		{"non-positive planning row id", NewAllocation{PlanningRowId: intPtr(0), Quantity: dec("5")}, utils.RuleRequired, "PlanningRowId"},
	}
	for _, tc := range cases {
		err := tc.input.validate()
		if tc.rule == "" {
			if err != nil {
				t.Fatalf("%s: expected no error, got %v", tc.name, err)
			}
			continue
		}
		if !utils.IsValidationError(err, tc.rule) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.rule, err)
		}
		if verr := err.(*utils.ValidationError); verr.Field != tc.field {
			t.Fatalf("%s: expected field %s, got %s", tc.name, tc.field, verr.Field)
		}
	}
}
