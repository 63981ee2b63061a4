package models

import (
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
)

// AllocationCheck is everything the write guard needs, loaded by the caller
// inside the transaction that holds the receipt lock.
type AllocationCheck struct {
	Quantity    decimal.Decimal
	SiteId      int
	MaterialId  int
	Location    *Location
	PlanningRow *PlanningRow
	Receipt     *ReceiptRow
	// AllocatedOnReceipt is the receipt's allocated total before this write.
	AllocatedOnReceipt decimal.Decimal
}

// ValidateAllocation applies the allocation rules in a fixed order and
// returns the first violation:
//  1. quantity must be positive
//  2. location must belong to the planning row's site
//  3. receipt, planning row and allocation must agree on site and material
//  4. the receipt's allocated total must not pass its received quantity
func ValidateAllocation(check AllocationCheck, tolerance decimal.Decimal) error {
	qty := check.Quantity
	if qty.Sign() <= 0 {
		return utils.NewValidationError(utils.RuleNonPositiveQuantity, "quantity", "must be greater than zero, got %s", qty.String())
	}
	if qty.GreaterThanOrEqual(utils.MaxQuantity) {
		return utils.NewValidationError(utils.RuleQuantityOutOfRange, "quantity", "magnitude must be below %s", utils.MaxQuantity.String())
	}

	if check.Location != nil {
		if check.PlanningRow != nil && check.Location.SiteId != check.PlanningRow.SiteId {
			return utils.NewValidationError(utils.RuleLocationSiteMismatch, "location_id",
				"location %d belongs to site %d but planning row %d is at site %d",
				check.Location.ID, check.Location.SiteId, check.PlanningRow.ID, check.PlanningRow.SiteId)
		}
		if check.Location.SiteId != check.SiteId {
			return utils.NewValidationError(utils.RuleLocationSiteMismatch, "location_id",
				"location %d belongs to site %d, not %d", check.Location.ID, check.Location.SiteId, check.SiteId)
		}
	}

	if p := check.PlanningRow; p != nil && (p.SiteId != check.SiteId || p.MaterialId != check.MaterialId) {
		return utils.NewValidationError(utils.RuleCrossReference, "planning_row_id",
			"planning row %d is site %d / material %d, allocation is site %d / material %d",
			p.ID, p.SiteId, p.MaterialId, check.SiteId, check.MaterialId)
	}
	if r := check.Receipt; r != nil {
		if r.SiteId != check.SiteId || r.MaterialId != check.MaterialId {
			return utils.NewValidationError(utils.RuleCrossReference, "receipt_id",
				"receipt %d is site %d / material %d, allocation is site %d / material %d",
				r.ID, r.SiteId, r.MaterialId, check.SiteId, check.MaterialId)
		}

		total := check.AllocatedOnReceipt.Add(qty)
		if utils.Exceeds(total, r.ReceivedQty, tolerance) {
			available := r.Available(check.AllocatedOnReceipt)
			return utils.NewValidationError(utils.RuleExceedsReceived, "quantity",
				"allocating %s would bring receipt %d to %s of %s received (available %s)",
				qty.StringFixed(utils.QuantityScale), r.ID,
				total.StringFixed(utils.QuantityScale), r.ReceivedQty.StringFixed(utils.QuantityScale),
				available.StringFixed(utils.QuantityScale))
		}
	}
	return nil
}
