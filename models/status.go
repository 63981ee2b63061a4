package models

import (
	"strings"
	"time"

	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
)

// StatusInput is a planning row with the facts loaded around it.
type StatusInput struct {
	Row PlanningRow
	// Receipt is the resolved consolidated receipt, nil when none resolves.
	Receipt   *ReceiptRow
	Allocated decimal.Decimal
	// Today is the calendar date used for overdue checks.
	Today time.Time
	// Tolerance of zero compares exactly.
	Tolerance decimal.Decimal
}

type StatusResult struct {
	Stage                   Stage           `json:"stage"`
	Tier                    Tier            `json:"tier"`
	WhoToChase              Party           `json:"who_to_chase"`
	IsLate                  bool            `json:"is_late"`
	Solicited               decimal.Decimal `json:"solicited"`
	Received                decimal.Decimal `json:"received"`
	Allocated               decimal.Decimal `json:"allocated"`
	PercentAllocated        decimal.Decimal `json:"percent_allocated"`
	BalanceToAllocate       decimal.Decimal `json:"balance_to_allocate"`
	AllocatedExceedsPlanned bool            `json:"allocated_exceeds_planned"`
	PurchaseOrderNumber     string          `json:"purchase_order_number"`
	DeliveryDueDate         *time.Time      `json:"delivery_due_date"`
}

// procurementFacts are the receipt values, or the row's legacy values when
// no receipt resolves.
type procurementFacts struct {
	solicited     decimal.Decimal
	received      decimal.Decimal
	purchaseOrder string
	dueDate       *time.Time
}

func factsFor(row PlanningRow, receipt *ReceiptRow) procurementFacts {
	if receipt != nil {
		return procurementFacts{
			solicited:     receipt.SolicitedQty,
			received:      receipt.ReceivedQty,
			purchaseOrder: strings.TrimSpace(receipt.PurchaseOrderNumber),
			dueDate:       receipt.DeliveryDueDate,
		}
	}
	return procurementFacts{
		solicited:     row.PlannedQty,
		received:      row.LegacyReceivedQty,
		purchaseOrder: strings.TrimSpace(row.LegacyPurchaseOrderNumber),
		dueDate:       row.LegacyDeliveryDueDate,
	}
}

// DeriveStatus is a pure function of its input; calling it twice on the same
// input gives the same result.
func DeriveStatus(in StatusInput) StatusResult {
	tol := in.Tolerance
	today := utils.TruncateToDate(in.Today)
	row := in.Row
	facts := factsFor(row, in.Receipt)
	allocated := utils.NormalizeQuantity(in.Allocated)

	stage := deriveStage(row, in.Receipt != nil, facts, allocated, today, tol)

	base := facts.solicited
	if base.Sign() <= 0 {
		base = row.PlannedQty
	}
	result := StatusResult{
		Stage:                   stage,
		Tier:                    stage.Tier(),
		Solicited:               facts.solicited,
		Received:                facts.received,
		Allocated:               allocated,
		PercentAllocated:        utils.PercentOf(allocated, base),
		BalanceToAllocate:       utils.ClampZero(row.PlannedQty.Sub(allocated)),
		AllocatedExceedsPlanned: row.PlannedQty.Sign() > 0 && utils.Exceeds(allocated, row.PlannedQty, tol),
		PurchaseOrderNumber:     facts.purchaseOrder,
		DeliveryDueDate:         facts.dueDate,
	}
	result.WhoToChase = whoToChase(row, facts, allocated, tol)
	result.IsLate = isLate(row, facts, allocated, base, today, tol)
	return result
}

func deriveStage(row PlanningRow, hasReceipt bool, facts procurementFacts, allocated decimal.Decimal, today time.Time, tol decimal.Decimal) Stage {
	if !row.HasRequisition() {
		return StageUnclassified
	}
	received := facts.received
	if allocated.Sign() > 0 && !utils.Exceeds(row.PlannedQty, allocated, tol) {
		return StageDelivered
	}
	if received.Sign() > 0 {
		if utils.Exceeds(facts.solicited, received, tol) && !utils.Exceeds(allocated, received, tol) {
			return StagePartiallyReceived
		}
		if allocated.Sign() > 0 {
			return StagePartiallyAllocated
		}
		return StageAwaitingAllocation
	}
	if allocated.Sign() > 0 {
		// manual allocation made before any receipt was recorded
		return StagePartiallyAllocated
	}
	if facts.purchaseOrder == "" {
		return StageRequested
	}
	if facts.dueDate != nil && utils.TruncateToDate(*facts.dueDate).Before(today) {
		return StageOverdue
	}
	if hasReceipt {
		return StageAwaitingDelivery
	}
	return StageOrdered
}

func whoToChase(row PlanningRow, facts procurementFacts, allocated decimal.Decimal, tol decimal.Decimal) Party {
	if !row.HasRequisition() {
		return PartyEngineering
	}
	if facts.purchaseOrder == "" {
		return PartyPurchasing
	}
	if facts.received.Sign() > 0 && allocated.Sign() == 0 {
		return PartyWarehouse
	}
	if utils.Exceeds(row.PlannedQty, facts.received, tol) {
		return PartySupplier
	}
	return PartyNone
}

func isLate(row PlanningRow, facts procurementFacts, allocated, base decimal.Decimal, today time.Time, tol decimal.Decimal) bool {
	if !row.HasRequisition() {
		return row.NeededBy != nil && utils.TruncateToDate(*row.NeededBy).Before(today)
	}
	if facts.dueDate == nil || !utils.TruncateToDate(*facts.dueDate).Before(today) {
		return false
	}
	return base.Sign() > 0 && utils.Exceeds(base, allocated, tol)
}
