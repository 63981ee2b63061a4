package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Material is a catalog entry keyed by its ERP code.
type Material struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Code        string    `gorm:"size:50;not null;uniqueIndex" json:"code"`
	Description string    `gorm:"size:500;not null" json:"description"`
	Unit        string    `gorm:"size:20;not null" json:"unit"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	Notes       string    `gorm:"type:text" json:"notes"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMaterial struct {
	Code        string `json:"code" validate:"required,max=50"`
	Description string `json:"description" validate:"required,max=500"`
	Unit        string `json:"unit" validate:"max=20"`
}

func (input *NewMaterial) normalize(defaultUnit string) {
	input.Code = strings.TrimSpace(input.Code)
	input.Description = strings.TrimSpace(input.Description)
	input.Unit = strings.ToUpper(strings.TrimSpace(input.Unit))
	if input.Unit == "" {
		input.Unit = defaultUnit
	}
}

// UpsertMaterial creates the material or refreshes description and unit of the existing code.
func UpsertMaterial(ctx context.Context, input *NewMaterial, defaultUnit string) (*Material, error) {
	var result *Material
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := UpsertMaterialTx(tx, input, defaultUnit)
		result = m
		return err
	})
	return result, err
}

func UpsertMaterialTx(tx *gorm.DB, input *NewMaterial, defaultUnit string) (*Material, error) {
	input.normalize(defaultUnit)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	var existing Material
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("code = ?", input.Code).First(&existing).Error
	if err == nil {
		if existing.Description != input.Description || existing.Unit != input.Unit {
			if err := tx.Model(&existing).Updates(map[string]interface{}{
				"Description": input.Description,
				"Unit":        input.Unit,
			}).Error; err != nil {
				return nil, err
			}
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	material := Material{
		Code:        input.Code,
		Description: input.Description,
		Unit:        input.Unit,
		IsActive:    utils.NewTrue(),
	}
	if err := tx.Create(&material).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return nil, utils.NewValidationError(utils.RuleDuplicateKey, "code", "material code %q already exists", input.Code)
		}
		return nil, err
	}
	return &material, nil
}

func GetMaterial(ctx context.Context, id int) (*Material, error) {
	return utils.FetchModel[Material](ctx, config.GetDB(), id)
}

// DeleteMaterial refuses while any ledger row references the material.
func DeleteMaterial(ctx context.Context, id int) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var material Material
		if err := tx.First(&material, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}

		var referencedBy []string
		for _, ref := range []struct {
			table string
			model interface{}
		}{
			{"planning_rows", &PlanningRow{}},
			{"receipt_rows", &ReceiptRow{}},
			{"allocation_rows", &AllocationRow{}},
		} {
			var count int64
			if err := tx.Model(ref.model).Where("material_id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				referencedBy = append(referencedBy, ref.table)
			}
		}
		if len(referencedBy) > 0 {
			return &utils.ReferenceError{Entity: "material", Id: id, ReferencedBy: referencedBy}
		}
		return tx.Delete(&material).Error
	})
}
