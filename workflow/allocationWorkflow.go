package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("supplymap/workflow")

const allocationLockTTL = 15 * time.Second

type NewAllocation struct {
	// PlanningRowId is optional: without it the quantity is set aside on the
	// receipt for a location, and ReceiptId and LocationId are required.
	PlanningRowId *int `json:"planning_row_id" validate:"omitempty,gt=0"`
	// ReceiptId overrides the planning row's resolved receipt.
	ReceiptId *int `json:"receipt_id"`
	// LocationId defaults to the planning row's location.
	LocationId *int            `json:"location_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Note       string          `json:"note" validate:"max=1000"`
}

func (input NewAllocation) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.PlanningRowId != nil {
		return nil
	}
	if input.ReceiptId == nil {
		return utils.NewValidationError(utils.RuleRequired, "receipt_id", "a receipt or a planning row must be given")
	}
	if input.LocationId == nil {
		return utils.NewValidationError(utils.RuleRequired, "location_id", "must be given when no planning row is")
	}
	return nil
}

type AllocationResult struct {
	Allocation *models.AllocationRow `json:"allocation"`
	// AllocatedOnReceipt and Available are zero for allocations without a receipt.
	AllocatedOnReceipt decimal.Decimal `json:"allocated_on_receipt"`
	Available          decimal.Decimal `json:"available"`
	// The planning fields are zero for allocations without a planning row.
	AllocatedForPlanningRow decimal.Decimal     `json:"allocated_for_planning_row"`
	AllocatedExceedsPlanned bool                `json:"allocated_exceeds_planned"`
	Status                  models.StatusResult `json:"status"`
}

// Allocate distributes received quantity to a location, usually through a
// planning row.
//
// The receipt row is locked with SELECT ... FOR UPDATE before its allocated
// total is read, so two concurrent calls against one receipt cannot both pass
// the received-quantity check. The redis lock only narrows contention between
// instances; correctness never depends on it.
func Allocate(ctx context.Context, input NewAllocation, settings config.SupplySettings) (*AllocationResult, error) {
	ctx, span := tracer.Start(ctx, "workflow.Allocate")
	defer span.End()
	if input.PlanningRowId != nil {
		span.SetAttributes(attribute.Int("planning_row_id", *input.PlanningRowId))
	}

	logger := config.GetLogger()
	if err := models.ValidateAllocation(models.AllocationCheck{Quantity: input.Quantity}, settings.Tolerance); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	db := config.GetDB().WithContext(ctx)
	if settings.AllocationRedisLock {
		key, err := allocationLockKey(db, input)
		if err != nil {
			return nil, err
		}
		if lock := obtainBestEffort(ctx, logger, key); lock != nil {
			defer releaseBestEffort(ctx, logger, lock, key)
		}
	}

	var result AllocationResult
	err := db.Transaction(func(tx *gorm.DB) error {
		// locking reads first: the snapshot for the sum below starts after the locks are held
		var row *models.PlanningRow
		if input.PlanningRowId != nil {
			row = &models.PlanningRow{}
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(row, *input.PlanningRowId).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return utils.NewValidationError(utils.RuleRequired, "planning_row_id", "planning row %d not found", *input.PlanningRowId)
				}
				return err
			}
		}
		receipt, err := lockReceipt(tx, row, input.ReceiptId)
		if err != nil {
			return err
		}

		// site and material come from the planning row, or from the receipt
		// for an unassigned allocation
		var siteId, materialId int
		locationId := input.LocationId
		if row != nil {
			siteId, materialId = row.SiteId, row.MaterialId
			if locationId == nil {
				locationId = row.LocationId
			}
			if locationId == nil {
				return utils.NewValidationError(utils.RuleRequired, "location_id",
					"planning row %d has no location; one must be given", row.ID)
			}
		} else {
			siteId, materialId = receipt.SiteId, receipt.MaterialId
		}
		var location models.Location
		if err := tx.First(&location, *locationId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NewValidationError(utils.RuleRequired, "location_id", "location %d not found", *locationId)
			}
			return err
		}

		allocatedOnReceipt := decimal.Zero
		if receipt != nil {
			if allocatedOnReceipt, err = models.AllocatedForReceipt(tx, receipt.ID); err != nil {
				return err
			}
		}

		check := models.AllocationCheck{
			Quantity:           input.Quantity,
			SiteId:             siteId,
			MaterialId:         materialId,
			Location:           &location,
			PlanningRow:        row,
			Receipt:            receipt,
			AllocatedOnReceipt: allocatedOnReceipt,
		}
		if err := models.ValidateAllocation(check, settings.Tolerance); err != nil {
			return err
		}

		allocation := models.AllocationRow{
			SiteId:     siteId,
			MaterialId: materialId,
			LocationId: location.ID,
			Quantity:   input.Quantity,
			Note:       strings.TrimSpace(input.Note),
		}
		if row != nil {
			allocation.PlanningRowId = &row.ID
		}
		if receipt != nil {
			allocation.ReceiptId = &receipt.ID
		}
		if err := models.CreateAllocationTx(tx, &allocation); err != nil {
			return err
		}

		result.Allocation = &allocation
		if receipt != nil {
			result.AllocatedOnReceipt = allocatedOnReceipt.Add(allocation.Quantity)
			result.Available = receipt.Available(result.AllocatedOnReceipt)
		}
		if row == nil {
			return nil
		}
		allocatedForRow, err := models.AllocatedForPlanningRow(tx, row.ID)
		if err != nil {
			return err
		}
		result.AllocatedForPlanningRow = allocatedForRow
		result.Status = models.DeriveStatus(models.StatusInput{
			Row:       *row,
			Receipt:   receipt,
			Allocated: allocatedForRow,
			Today:     utils.TodayFromContext(ctx),
			Tolerance: settings.Tolerance,
		})
		result.AllocatedExceedsPlanned = result.Status.AllocatedExceedsPlanned
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !utils.IsValidationError(err, "") {
			config.LogError(logger, "allocationWorkflow.go", "Allocate", "allocating", input, err)
		}
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"field":           "Allocate",
		"allocation_id":   result.Allocation.ID,
		"planning_row_id": result.Allocation.PlanningRowId,
		"receipt_id":      result.Allocation.ReceiptId,
		"quantity":        result.Allocation.Quantity.String(),
		"over_planned":    result.AllocatedExceedsPlanned,
	}).Info("allocation created")
	return &result, nil
}

// Deallocate deletes an allocation. The receipt is locked first so the order
// of locks matches Allocate.
func Deallocate(ctx context.Context, id int) (*models.AllocationRow, error) {
	ctx, span := tracer.Start(ctx, "workflow.Deallocate")
	defer span.End()
	span.SetAttributes(attribute.Int("allocation_id", id))

	var deleted *models.AllocationRow
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.AllocationRow
		if err := tx.First(&current, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if current.PlanningRowId != nil {
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", *current.PlanningRowId).Find(&models.PlanningRow{}).Error; err != nil {
				return err
			}
		}
		if current.ReceiptId != nil {
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", *current.ReceiptId).Find(&models.ReceiptRow{}).Error; err != nil {
				return err
			}
		}
		row, err := models.DeleteAllocationTx(tx, id)
		deleted = row
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return deleted, nil
}

// lockReceipt locks the explicit receipt, or the planning row's consolidated
// receipt. A nil result is a manual allocation.
func lockReceipt(tx *gorm.DB, row *models.PlanningRow, receiptId *int) (*models.ReceiptRow, error) {
	var candidates []models.ReceiptRow
	q := tx.Clauses(clause.Locking{Strength: "UPDATE"})
	if receiptId != nil {
		q = q.Where("id = ?", *receiptId)
	} else {
		if row == nil || !row.HasRequisition() {
			return nil, nil
		}
		q = q.Where("site_id = ? AND material_id = ? AND requisition_number = ? AND sub_item = ?",
			row.SiteId, row.MaterialId, strings.TrimSpace(row.RequisitionNumber), "")
	}
	if err := q.Limit(1).Find(&candidates).Error; err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		if receiptId != nil {
			return nil, utils.NewValidationError(utils.RuleRequired, "receipt_id", "receipt %d not found", *receiptId)
		}
		return nil, nil
	}
	return &candidates[0], nil
}

func allocationLockKey(db *gorm.DB, input NewAllocation) (string, error) {
	if input.ReceiptId != nil {
		return fmt.Sprintf("lock:allocation:receipt:%d", *input.ReceiptId), nil
	}
	// validate guarantees a planning row when there is no receipt
	var row models.PlanningRow
	if err := db.Select("id", "site_id", "material_id", "requisition_number").First(&row, *input.PlanningRowId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", utils.NewValidationError(utils.RuleRequired, "planning_row_id", "planning row %d not found", *input.PlanningRowId)
		}
		return "", err
	}
	if !row.HasRequisition() {
		return fmt.Sprintf("lock:allocation:planning:%d", row.ID), nil
	}
	return fmt.Sprintf("lock:allocation:%d:%d:%s", row.SiteId, row.MaterialId, strings.TrimSpace(row.RequisitionNumber)), nil
}

func obtainBestEffort(ctx context.Context, logger *logrus.Logger, key string) *redislock.Lock {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil
	}
	lock, err := locker.Obtain(ctx, key, allocationLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		logger.WithFields(logrus.Fields{"field": "Allocate", "lock": key}).
			Warn("could not obtain redis lock; proceeding with row lock only")
		return nil
	} else if err != nil {
		logger.WithFields(logrus.Fields{"field": "Allocate", "lock": key}).
			Warn("error obtaining redis lock; proceeding with row lock only: " + err.Error())
		return nil
	}
	return lock
}

func releaseBestEffort(ctx context.Context, logger *logrus.Logger, lock *redislock.Lock, key string) {
	if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		logger.WithFields(logrus.Fields{"field": "Allocate", "lock": key}).
			Warn("failed to release redis lock: " + err.Error())
	}
}
