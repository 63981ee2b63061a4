package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"gorm.io/gorm"
)

// Site is a construction site (obra). Deleting it removes every ledger row of the site.
type Site struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Code      string    `gorm:"size:50;not null;uniqueIndex" json:"code"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Location is a place inside a site (block, floor, unit...).
type Location struct {
	ID        int          `gorm:"primary_key" json:"id"`
	SiteId    int          `gorm:"index;not null" json:"site_id"`
	Name      string       `gorm:"size:100;not null" json:"name"`
	Type      LocationType `gorm:"size:20;not null;default:OTHER" json:"type"`
	ParentId  *int         `gorm:"index" json:"parent_id"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSite struct {
	Code string `json:"code" validate:"required,max=50"`
	Name string `json:"name" validate:"required,max=200"`
}

type NewLocation struct {
	SiteId   int          `json:"site_id" validate:"required,gt=0"`
	Name     string       `json:"name" validate:"required,max=100"`
	Type     LocationType `json:"type"`
	ParentId *int         `json:"parent_id"`
}

func CreateSite(ctx context.Context, input *NewSite) (*Site, error) {
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	site := Site{
		Code:     input.Code,
		Name:     input.Name,
		IsActive: utils.NewTrue(),
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&site).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return nil, utils.NewValidationError(utils.RuleDuplicateKey, "code", "site code %q already exists", input.Code)
		}
		return nil, err
	}
	return &site, nil
}

func GetSite(ctx context.Context, id int) (*Site, error) {
	return utils.FetchModel[Site](ctx, config.GetDB(), id)
}

func GetSiteByCode(tx *gorm.DB, code string) (*Site, error) {
	var site Site
	err := tx.Where("code = ?", strings.TrimSpace(code)).First(&site).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

// DeleteSite removes the site together with its allocations, receipts,
// planning rows, locations and history.
func DeleteSite(ctx context.Context, id int) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var site Site
		if err := tx.First(&site, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		// children first; order matters where foreign keys exist
		for _, model := range []interface{}{&AllocationRow{}, &ReceiptRow{}, &PlanningRow{}, &Location{}, &History{}} {
			if err := tx.Where("site_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&site).Error
	})
}

func CreateLocation(ctx context.Context, input *NewLocation) (*Location, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Type == "" {
		input.Type = LocationTypeOther
	}
	if !input.Type.IsValid() {
		return nil, utils.NewValidationError(utils.RuleRequired, "type", "unknown location type %q", input.Type)
	}

	db := config.GetDB()
	if err := utils.ValidateResourceId[Site](ctx, db, input.SiteId); err != nil {
		return nil, err
	}
	if input.ParentId != nil {
		parent, err := utils.FetchModel[Location](ctx, db, *input.ParentId)
		if err != nil {
			return nil, err
		}
		if parent.SiteId != input.SiteId {
			return nil, utils.NewValidationError(utils.RuleLocationSiteMismatch, "parent_id",
				"parent location %d belongs to site %d, not %d", parent.ID, parent.SiteId, input.SiteId)
		}
	}

	location := Location{
		SiteId:   input.SiteId,
		Name:     input.Name,
		Type:     input.Type,
		ParentId: input.ParentId,
	}
	if err := db.WithContext(ctx).Create(&location).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

func GetLocation(ctx context.Context, id int) (*Location, error) {
	return utils.FetchModel[Location](ctx, config.GetDB(), id)
}

// DeleteLocation refuses while allocations point at the location (or a child
// location); planning rows lose their location link.
func DeleteLocation(ctx context.Context, id int) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var location Location
		if err := tx.First(&location, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}

		ids, err := locationSubtree(tx, location)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&AllocationRow{}).Where("location_id IN ?", ids).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return &utils.ReferenceError{Entity: "location", Id: id, ReferencedBy: []string{"allocation_rows"}}
		}

		if err := tx.Model(&PlanningRow{}).Where("location_id IN ?", ids).
			Update("location_id", nil).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&Location{}).Error
	})
}

// locationSubtree returns the id of location and of all its descendants.
func locationSubtree(tx *gorm.DB, root Location) ([]int, error) {
	var all []Location
	if err := tx.Select("id", "parent_id").Where("site_id = ?", root.SiteId).Find(&all).Error; err != nil {
		return nil, err
	}
	children := make(map[int][]int)
	for _, l := range all {
		if l.ParentId != nil {
			children[*l.ParentId] = append(children[*l.ParentId], l.ID)
		}
	}
	ids := []int{root.ID}
	seen := map[int]bool{root.ID: true}
	for i := 0; i < len(ids); i++ {
		for _, child := range children[ids[i]] {
			if !seen[child] {
				seen[child] = true
				ids = append(ids, child)
			}
		}
	}
	return ids, nil
}
