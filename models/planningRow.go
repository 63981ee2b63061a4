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

// PlanningRow is engineering's statement of need for a material at a site.
// The Legacy* fields hold procurement data typed in before receipts were
// imported; they are read only when no receipt resolves.
type PlanningRow struct {
	ID                        int             `gorm:"primary_key" json:"id"`
	SiteId                    int             `gorm:"index:idx_planning_site_material;not null" json:"site_id"`
	MaterialId                int             `gorm:"index:idx_planning_site_material;not null" json:"material_id"`
	Category                  Category        `gorm:"size:50;index;not null;default:UNCLASSIFIED" json:"category"`
	LocationId                *int            `gorm:"index" json:"location_id"`
	DescriptionOverride       string          `gorm:"size:500" json:"description_override"`
	PlannedQty                decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"planned_qty"`
	Priority                  Priority        `gorm:"size:20;not null;default:MEDIUM" json:"priority"`
	Responsible               string          `gorm:"size:100" json:"responsible"`
	NeededBy                  *time.Time      `gorm:"type:date" json:"needed_by"`
	RequisitionNumber         string          `gorm:"size:30;index" json:"requisition_number"`
	LegacyRequisitionDate     *time.Time      `gorm:"type:date" json:"legacy_requisition_date"`
	LegacyPurchaseOrderNumber string          `gorm:"size:30" json:"legacy_purchase_order_number"`
	LegacyPurchaseOrderDate   *time.Time      `gorm:"type:date" json:"legacy_purchase_order_date"`
	LegacySupplier            string          `gorm:"size:200" json:"legacy_supplier"`
	LegacyDeliveryDueDate     *time.Time      `gorm:"type:date" json:"legacy_delivery_due_date"`
	LegacyReceivedQty         decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"legacy_received_qty"`
	LegacyBalance             decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"legacy_balance"`
	CreatedBy                 string          `gorm:"size:100" json:"created_by"`
	CreatedAt                 time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasRequisition reports a non-blank requisition number.
func (p PlanningRow) HasRequisition() bool {
	return strings.TrimSpace(p.RequisitionNumber) != ""
}

type NewPlanningRow struct {
	SiteId              int             `json:"site_id" validate:"required,gt=0"`
	MaterialId          int             `json:"material_id" validate:"required,gt=0"`
	Category            Category        `json:"category"`
	LocationId          *int            `json:"location_id"`
	DescriptionOverride string          `json:"description_override" validate:"max=500"`
	PlannedQty          decimal.Decimal `json:"planned_qty"`
	Priority            Priority        `json:"priority"`
	Responsible         string          `json:"responsible" validate:"max=100"`
	NeededBy            *time.Time      `json:"needed_by"`
	RequisitionNumber   string          `json:"requisition_number" validate:"max=30"`
}

// validate checks everything that needs no database access.
func (input *NewPlanningRow) validate() error {
	input.RequisitionNumber = strings.TrimSpace(input.RequisitionNumber)
	input.PlannedQty = utils.NormalizeQuantity(input.PlannedQty)
	if input.Category == "" {
		input.Category = CategoryUnclassified
	}
	if input.Priority == "" {
		input.Priority = PriorityMedium
	}
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if err := utils.CheckQuantity("planned_qty", input.PlannedQty); err != nil {
		return err
	}
	if !input.Category.IsValid() {
		return utils.NewValidationError(utils.RuleUnknownCategory, "category", "category %q is not allowed", input.Category)
	}
	if !input.Priority.IsValid() {
		return utils.NewValidationError(utils.RuleUnknownPriority, "priority", "priority %q is not allowed", input.Priority)
	}
	return nil
}

// checkLocationInSite fails when locationId is set and belongs to another site.
func checkLocationInSite(tx *gorm.DB, siteId int, locationId *int) error {
	if locationId == nil {
		return nil
	}
	var location Location
	if err := tx.First(&location, *locationId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.NewValidationError(utils.RuleRequired, "location_id", "location %d not found", *locationId)
		}
		return err
	}
	if location.SiteId != siteId {
		return utils.NewValidationError(utils.RuleLocationSiteMismatch, "location_id",
			"location %d belongs to site %d, not %d", location.ID, location.SiteId, siteId)
	}
	return nil
}

// checkNoLocationUnique allows at most one location-less row per (site, material, category).
func checkNoLocationUnique(tx *gorm.DB, siteId, materialId int, category Category, locationId *int, excludeId int) error {
	if locationId != nil {
		return nil
	}
	var ids []int
	q := tx.Model(&PlanningRow{}).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("site_id = ? AND material_id = ? AND category = ? AND location_id IS NULL", siteId, materialId, category)
	if excludeId > 0 {
		q = q.Where("id <> ?", excludeId)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) > 0 {
		return utils.NewValidationError(utils.RuleDuplicatePlanningRow, "location_id",
			"planning row %d already covers material %d / %s at site %d without a location", ids[0], materialId, category, siteId)
	}
	return nil
}

func CreatePlanningRow(ctx context.Context, input *NewPlanningRow) (*PlanningRow, error) {
	var result *PlanningRow
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := CreatePlanningRowTx(tx, input)
		result = row
		return err
	})
	return result, err
}

func CreatePlanningRowTx(tx *gorm.DB, input *NewPlanningRow) (*PlanningRow, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	ctx := tx.Statement.Context
	if err := utils.ValidateResourceId[Site](ctx, tx, input.SiteId); err != nil {
		return nil, fmt.Errorf("site %d: %w", input.SiteId, err)
	}
	if err := utils.ValidateResourceId[Material](ctx, tx, input.MaterialId); err != nil {
		return nil, fmt.Errorf("material %d: %w", input.MaterialId, err)
	}
	if err := checkLocationInSite(tx, input.SiteId, input.LocationId); err != nil {
		return nil, err
	}
	if err := checkNoLocationUnique(tx, input.SiteId, input.MaterialId, input.Category, input.LocationId, 0); err != nil {
		return nil, err
	}

	row := PlanningRow{
		SiteId:              input.SiteId,
		MaterialId:          input.MaterialId,
		Category:            input.Category,
		LocationId:          input.LocationId,
		DescriptionOverride: strings.TrimSpace(input.DescriptionOverride),
		PlannedQty:          input.PlannedQty,
		Priority:            input.Priority,
		Responsible:         strings.TrimSpace(input.Responsible),
		NeededBy:            input.NeededBy,
		RequisitionNumber:   input.RequisitionNumber,
		CreatedBy:           utils.ActorFromContext(ctx),
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}
	if err := createHistory(tx, historyEntry{
		siteId:        row.SiteId,
		planningRowId: &row.ID,
		actionType:    HistoryTypeCreate,
		referenceType: "planning_rows",
		referenceId:   row.ID,
		after:         row,
		description:   fmt.Sprintf("planning row created with %s planned", row.PlannedQty.StringFixed(utils.QuantityScale)),
	}); err != nil {
		return nil, err
	}
	return &row, nil
}

type PlanningRowUpdate struct {
	Category            *Category        `json:"category"`
	LocationId          *int             `json:"location_id"`
	ClearLocation       bool             `json:"clear_location"`
	DescriptionOverride *string          `json:"description_override"`
	PlannedQty          *decimal.Decimal `json:"planned_qty"`
	Priority            *Priority        `json:"priority"`
	Responsible         *string          `json:"responsible"`
	NeededBy            *time.Time       `json:"needed_by"`
}

// UpdatePlanningRow edits the engineering fields of a row. Site and requisition
// have dedicated operations.
func UpdatePlanningRow(ctx context.Context, id int, input *PlanningRowUpdate) (*PlanningRow, error) {
	var result PlanningRow
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&result, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		before := result

		if input.Category != nil {
			if !input.Category.IsValid() {
				return utils.NewValidationError(utils.RuleUnknownCategory, "category", "category %q is not allowed", *input.Category)
			}
			result.Category = *input.Category
		}
		if input.ClearLocation {
			result.LocationId = nil
		} else if input.LocationId != nil {
			result.LocationId = input.LocationId
		}
		if input.DescriptionOverride != nil {
			result.DescriptionOverride = strings.TrimSpace(*input.DescriptionOverride)
		}
		if input.PlannedQty != nil {
			qty := utils.NormalizeQuantity(*input.PlannedQty)
			if err := utils.CheckQuantity("planned_qty", qty); err != nil {
				return err
			}
			result.PlannedQty = qty
		}
		if input.Priority != nil {
			if !input.Priority.IsValid() {
				return utils.NewValidationError(utils.RuleUnknownPriority, "priority", "priority %q is not allowed", *input.Priority)
			}
			result.Priority = *input.Priority
		}
		if input.Responsible != nil {
			result.Responsible = strings.TrimSpace(*input.Responsible)
		}
		if input.NeededBy != nil {
			result.NeededBy = input.NeededBy
		}

		if err := checkLocationInSite(tx, result.SiteId, result.LocationId); err != nil {
			return err
		}
		if err := checkNoLocationUnique(tx, result.SiteId, result.MaterialId, result.Category, result.LocationId, result.ID); err != nil {
			return err
		}
		if err := tx.Save(&result).Error; err != nil {
			return err
		}
		return createHistory(tx, historyEntry{
			siteId:        result.SiteId,
			planningRowId: &result.ID,
			actionType:    HistoryTypeEdit,
			referenceType: "planning_rows",
			referenceId:   result.ID,
			before:        before,
			after:         result,
			description:   "planning row edited",
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AttachRequisition stamps the requisition number that links the row to receipts.
func AttachRequisition(ctx context.Context, id int, requisitionNumber string) (*PlanningRow, error) {
	var result *PlanningRow
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := AttachRequisitionTx(tx, id, requisitionNumber)
		result = row
		return err
	})
	return result, err
}

func AttachRequisitionTx(tx *gorm.DB, id int, requisitionNumber string) (*PlanningRow, error) {
	requisitionNumber = strings.TrimSpace(requisitionNumber)
	if len(requisitionNumber) > 30 {
		return nil, utils.NewValidationError(utils.RuleRequired, "requisition_number", "must be at most 30 characters")
	}
	var row PlanningRow
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	previous := row.RequisitionNumber
	if previous == requisitionNumber {
		return &row, nil
	}
	if err := tx.Model(&row).Update("requisition_number", requisitionNumber).Error; err != nil {
		return nil, err
	}
	row.RequisitionNumber = requisitionNumber
	if err := createHistory(tx, historyEntry{
		siteId:        row.SiteId,
		planningRowId: &row.ID,
		actionType:    HistoryTypeEdit,
		referenceType: "planning_rows",
		referenceId:   row.ID,
		before:        map[string]string{"requisition_number": previous},
		after:         map[string]string{"requisition_number": requisitionNumber},
		description:   fmt.Sprintf("requisition changed from %q to %q", previous, requisitionNumber),
	}); err != nil {
		return nil, err
	}
	return &row, nil
}

// PlanningMoveResult reports what a moved row left behind at its old site.
type PlanningMoveResult struct {
	Row               *PlanningRow `json:"row"`
	ReceiptUnlinked   bool         `json:"receipt_unlinked"`
	PreviousReceiptId *int         `json:"previous_receipt_id"`
	// AllocationsDetached counts allocations that stayed at the old site with
	// their planning link cleared.
	AllocationsDetached int64 `json:"allocations_detached"`
}

// MovePlanningRowToSite reassigns the row's site and location. Receipts and
// allocations are never moved with it: a row whose receipt lived at the old
// site stops resolving, and its allocations are detached, both reported in
// the result.
func MovePlanningRowToSite(ctx context.Context, id int, newSiteId int, newLocationId *int) (*PlanningMoveResult, error) {
	var result PlanningMoveResult
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row PlanningRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if err := utils.ValidateResourceId[Site](ctx, tx, newSiteId); err != nil {
			return fmt.Errorf("site %d: %w", newSiteId, err)
		}
		if err := checkLocationInSite(tx, newSiteId, newLocationId); err != nil {
			return err
		}
		if err := checkNoLocationUnique(tx, newSiteId, row.MaterialId, row.Category, newLocationId, row.ID); err != nil {
			return err
		}

		before, err := ResolveReceiptTx(tx, row)
		if err != nil {
			return err
		}
		oldSiteId := row.SiteId
		if oldSiteId != newSiteId {
			detached := tx.Model(&AllocationRow{}).Where("planning_row_id = ?", row.ID).Update("planning_row_id", nil)
			if detached.Error != nil {
				return detached.Error
			}
			result.AllocationsDetached = detached.RowsAffected
		}
		row.SiteId = newSiteId
		row.LocationId = newLocationId
		if err := tx.Model(&PlanningRow{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
			"site_id":     newSiteId,
			"location_id": newLocationId,
		}).Error; err != nil {
			return err
		}
		after, err := ResolveReceiptTx(tx, row)
		if err != nil {
			return err
		}

		result.Row = &row
		if before != nil && (after == nil || after.ID != before.ID) {
			result.ReceiptUnlinked = true
			result.PreviousReceiptId = &before.ID
		}
		return createHistory(tx, historyEntry{
			siteId:        newSiteId,
			planningRowId: &row.ID,
			actionType:    HistoryTypeEdit,
			referenceType: "planning_rows",
			referenceId:   row.ID,
			before:        map[string]int{"site_id": oldSiteId},
			after:         map[string]int{"site_id": newSiteId},
			description: fmt.Sprintf("planning row moved from site %d to site %d, %d allocations detached",
				oldSiteId, newSiteId, result.AllocationsDetached),
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DeletePlanningRow detaches allocations (they stay on the receipt) and removes the row.
func DeletePlanningRow(ctx context.Context, id int) error {
	return config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row PlanningRow
		if err := tx.First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if err := tx.Model(&AllocationRow{}).Where("planning_row_id = ?", id).
			Update("planning_row_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(&row).Error; err != nil {
			return err
		}
		return createHistory(tx, historyEntry{
			siteId:        row.SiteId,
			actionType:    HistoryTypeDelete,
			referenceType: "planning_rows",
			referenceId:   row.ID,
			before:        row,
			description:   "planning row deleted",
		})
	})
}

func GetPlanningRow(ctx context.Context, id int) (*PlanningRow, error) {
	return utils.FetchModel[PlanningRow](ctx, config.GetDB(), id)
}

func ListPlanningRows(tx *gorm.DB, siteId int) ([]PlanningRow, error) {
	var results []PlanningRow
	err := tx.Where("site_id = ?", siteId).Order("category, id").Find(&results).Error
	return results, err
}
