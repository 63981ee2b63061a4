package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllocationRow records a quantity physically distributed to a location.
// ReceiptId is nil for manual allocations made without a formal receipt.
type AllocationRow struct {
	ID            int             `gorm:"primary_key" json:"id"`
	SiteId        int             `gorm:"index;not null" json:"site_id"`
	MaterialId    int             `gorm:"index;not null" json:"material_id"`
	LocationId    int             `gorm:"index;not null" json:"location_id"`
	ReceiptId     *int            `gorm:"index" json:"receipt_id"`
	PlanningRowId *int            `gorm:"index" json:"planning_row_id"`
	Quantity      decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"quantity"`
	Note          string          `gorm:"type:text" json:"note"`
	CreatedBy     string          `gorm:"size:100" json:"created_by"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type quantitySum struct {
	Id    int
	Total decimal.Decimal
}

// SumAllocatedByReceipt returns the allocated total per receipt id in one query.
// Ids without allocations map to zero.
func SumAllocatedByReceipt(tx *gorm.DB, receiptIds []int) (map[int]decimal.Decimal, error) {
	return sumAllocatedBy(tx, "receipt_id", receiptIds)
}

// SumAllocatedByPlanningRow returns the allocated total per planning row id in one query.
func SumAllocatedByPlanningRow(tx *gorm.DB, planningRowIds []int) (map[int]decimal.Decimal, error) {
	return sumAllocatedBy(tx, "planning_row_id", planningRowIds)
}

func sumAllocatedBy(tx *gorm.DB, column string, ids []int) (map[int]decimal.Decimal, error) {
	result := make(map[int]decimal.Decimal, len(ids))
	ids = utils.UniqueSlice(ids)
	if len(ids) == 0 {
		return result, nil
	}
	for _, id := range ids {
		result[id] = decimal.Zero
	}
	var rows []quantitySum
	err := tx.Model(&AllocationRow{}).
		Select(column+" AS id, COALESCE(SUM(quantity), 0) AS total").
		Where(column+" IN ?", ids).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		result[r.Id] = utils.NormalizeQuantity(r.Total)
	}
	return result, nil
}

// AllocatedForReceipt is the current allocated total of one receipt.
func AllocatedForReceipt(tx *gorm.DB, receiptId int) (decimal.Decimal, error) {
	sums, err := SumAllocatedByReceipt(tx, []int{receiptId})
	if err != nil {
		return decimal.Zero, err
	}
	return sums[receiptId], nil
}

// AllocatedForPlanningRow is the current allocated total of one planning row.
func AllocatedForPlanningRow(tx *gorm.DB, planningRowId int) (decimal.Decimal, error) {
	sums, err := SumAllocatedByPlanningRow(tx, []int{planningRowId})
	if err != nil {
		return decimal.Zero, err
	}
	return sums[planningRowId], nil
}

func ListAllocationsForPlanningRow(tx *gorm.DB, planningRowId int) ([]AllocationRow, error) {
	var results []AllocationRow
	err := tx.Where("planning_row_id = ?", planningRowId).Order("id").Find(&results).Error
	return results, err
}

// CreateAllocationTx persists an allocation already checked by ValidateAllocation.
func CreateAllocationTx(tx *gorm.DB, row *AllocationRow) error {
	ctx := tx.Statement.Context
	row.Quantity = utils.NormalizeQuantity(row.Quantity)
	row.CreatedBy = utils.ActorFromContext(ctx)
	if err := tx.Create(row).Error; err != nil {
		return err
	}
	return createHistory(tx, historyEntry{
		siteId:        row.SiteId,
		planningRowId: row.PlanningRowId,
		actionType:    HistoryTypeAllocation,
		referenceType: "allocation_rows",
		referenceId:   row.ID,
		after:         row,
		description:   allocationDescription("allocated", row),
	})
}

// DeleteAllocationTx removes the allocation, returning what was deleted.
func DeleteAllocationTx(tx *gorm.DB, id int) (*AllocationRow, error) {
	var row AllocationRow
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := tx.Delete(&row).Error; err != nil {
		return nil, err
	}
	if err := createHistory(tx, historyEntry{
		siteId:        row.SiteId,
		planningRowId: row.PlanningRowId,
		actionType:    HistoryTypeDeallocation,
		referenceType: "allocation_rows",
		referenceId:   row.ID,
		before:        row,
		description:   allocationDescription("deallocated", &row),
	}); err != nil {
		return nil, err
	}
	return &row, nil
}

func GetAllocation(ctx context.Context, id int) (*AllocationRow, error) {
	return utils.FetchModel[AllocationRow](ctx, config.GetDB(), id)
}

func allocationDescription(verb string, row *AllocationRow) string {
	s := fmt.Sprintf("%s %s to location %d", verb, row.Quantity.StringFixed(utils.QuantityScale), row.LocationId)
	if row.ReceiptId != nil {
		s += fmt.Sprintf(" from receipt %d", *row.ReceiptId)
	} else {
		s += " without receipt"
	}
	if note := strings.TrimSpace(row.Note); note != "" {
		s += ": " + note
	}
	return s
}
