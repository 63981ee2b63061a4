package models

import (
	"testing"

	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestValidateAllocation_OverAllocationSequence(t *testing.T) {
	receipt := &ReceiptRow{ID: 7, SiteId: 1, MaterialId: 2, RequisitionNumber: "SC-1", ReceivedQty: dec("500")}
	allocated := decimal.Zero

	steps := []struct {
		qty     string
		wantErr bool
	}{
		{"300", false},
		{"300", true},
		{"200", false},
		{"0.01", true},
	}
	for i, step := range steps {
		err := ValidateAllocation(AllocationCheck{
			Quantity:           dec(step.qty),
			SiteId:             1,
			MaterialId:         2,
			Receipt:            receipt,
			AllocatedOnReceipt: allocated,
		}, utils.DefaultTolerance)
		if step.wantErr {
			if !utils.IsValidationError(err, utils.RuleExceedsReceived) {
				t.Fatalf("step %d (%s): expected %s, got %v", i, step.qty, utils.RuleExceedsReceived, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("step %d (%s): unexpected error %v", i, step.qty, err)
		}
		allocated = allocated.Add(dec(step.qty))
	}
	if !allocated.Equal(dec("500")) {
		t.Fatalf("expected allocated 500, got %s", allocated.String())
	}
}

func TestValidateAllocation_RejectsNonPositive(t *testing.T) {
	for _, q := range []string{"0", "-1", "-0.01"} {
		err := ValidateAllocation(AllocationCheck{Quantity: dec(q), SiteId: 1, MaterialId: 1}, utils.DefaultTolerance)
		if !utils.IsValidationError(err, utils.RuleNonPositiveQuantity) {
			t.Fatalf("quantity %s: expected %s, got %v", q, utils.RuleNonPositiveQuantity, err)
		}
	}
}

func TestValidateAllocation_CheckOrder(t *testing.T) {
	planning := &PlanningRow{ID: 3, SiteId: 1, MaterialId: 2, PlannedQty: dec("100")}
	foreignLocation := &Location{ID: 9, SiteId: 5}
	foreignReceipt := &ReceiptRow{ID: 4, SiteId: 1, MaterialId: 99, ReceivedQty: dec("10")}

	// every rule is violated; the quantity rule must win
	err := ValidateAllocation(AllocationCheck{
		Quantity: dec("0"), SiteId: 1, MaterialId: 2,
		Location: foreignLocation, PlanningRow: planning, Receipt: foreignReceipt,
		AllocatedOnReceipt: dec("10"),
	}, utils.DefaultTolerance)
	if !utils.IsValidationError(err, utils.RuleNonPositiveQuantity) {
		t.Fatalf("expected quantity rule first, got %v", err)
	}

	// then the location rule
	err = ValidateAllocation(AllocationCheck{
		Quantity: dec("50"), SiteId: 1, MaterialId: 2,
		Location: foreignLocation, PlanningRow: planning, Receipt: foreignReceipt,
		AllocatedOnReceipt: dec("10"),
	}, utils.DefaultTolerance)
	if !utils.IsValidationError(err, utils.RuleLocationSiteMismatch) {
		t.Fatalf("expected location rule second, got %v", err)
	}

	// then cross-reference
	err = ValidateAllocation(AllocationCheck{
		Quantity: dec("50"), SiteId: 1, MaterialId: 2,
		Location: &Location{ID: 8, SiteId: 1}, PlanningRow: planning, Receipt: foreignReceipt,
		AllocatedOnReceipt: dec("10"),
	}, utils.DefaultTolerance)
	if !utils.IsValidationError(err, utils.RuleCrossReference) {
		t.Fatalf("expected cross-reference rule third, got %v", err)
	}
}

func TestValidateAllocation_AllowsManualWithoutReceipt(t *testing.T) {
	planning := &PlanningRow{ID: 3, SiteId: 1, MaterialId: 2, PlannedQty: dec("100")}
	err := ValidateAllocation(AllocationCheck{
		Quantity: dec("250"), SiteId: 1, MaterialId: 2,
		Location: &Location{ID: 8, SiteId: 1}, PlanningRow: planning,
	}, utils.DefaultTolerance)
	if err != nil {
		t.Fatalf("manual allocation over plan should pass the guard, got %v", err)
	}
}

func TestValidateAllocation_ZeroToleranceIsStrict(t *testing.T) {
	receipt := &ReceiptRow{ID: 7, SiteId: 1, MaterialId: 2, ReceivedQty: dec("10")}
	err := ValidateAllocation(AllocationCheck{
		Quantity: dec("0.001"), SiteId: 1, MaterialId: 2, Receipt: receipt, AllocatedOnReceipt: dec("10"),
	}, decimal.Zero)
	if !utils.IsValidationError(err, utils.RuleExceedsReceived) {
		t.Fatalf("expected strict rejection with zero tolerance, got %v", err)
	}
}
