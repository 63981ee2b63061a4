package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SupplyMapEntry is one planning row with everything the map screen shows.
type SupplyMapEntry struct {
	Row      PlanningRow  `json:"row"`
	Material *Material    `json:"material"`
	Location *Location    `json:"location"`
	Receipt  *ReceiptRow  `json:"receipt"`
	Status   StatusResult `json:"status"`
}

// Description prefers the row override over the catalog text.
func (e SupplyMapEntry) Description() string {
	if d := strings.TrimSpace(e.Row.DescriptionOverride); d != "" {
		return d
	}
	if e.Material != nil {
		return e.Material.Description
	}
	return ""
}

type SupplyMapFilter struct {
	Category Category
	Stage    Stage
	Tier     Tier
	OnlyLate bool
}

func (f SupplyMapFilter) match(e SupplyMapEntry) bool {
	if f.Category != "" && e.Row.Category != f.Category {
		return false
	}
	if f.Stage != "" && e.Status.Stage != f.Stage {
		return false
	}
	if f.Tier != "" && e.Status.Tier != f.Tier {
		return false
	}
	return !f.OnlyLate || e.Status.IsLate
}

type SupplyMap struct {
	SiteId  int              `json:"site_id"`
	Today   time.Time        `json:"today"`
	Entries []SupplyMapEntry `json:"entries"`
	ByStage map[Stage]int    `json:"by_stage"`
	ByTier  map[Tier]int     `json:"by_tier"`
}

// BuildSupplyMap lists a site's planning rows with their receipt, allocated
// total and status. The query count does not grow with the number of rows.
func BuildSupplyMap(ctx context.Context, siteId int, today time.Time, tolerance decimal.Decimal, filter SupplyMapFilter) (*SupplyMap, error) {
	db := config.GetDB().WithContext(ctx)
	if err := utils.ValidateResourceId[Site](ctx, db, siteId); err != nil {
		return nil, err
	}
	rows, err := ListPlanningRows(db, siteId)
	if err != nil {
		return nil, err
	}
	entries, err := buildEntries(db, rows, today, tolerance)
	if err != nil {
		return nil, err
	}

	result := SupplyMap{
		SiteId:  siteId,
		Today:   utils.TruncateToDate(today),
		Entries: []SupplyMapEntry{},
		ByStage: make(map[Stage]int),
		ByTier:  make(map[Tier]int),
	}
	for _, e := range entries {
		if !filter.match(e) {
			continue
		}
		result.Entries = append(result.Entries, e)
		result.ByStage[e.Status.Stage]++
		result.ByTier[e.Status.Tier]++
	}
	return &result, nil
}

// StatusForPlanningRows derives the status of the given rows in bulk. Missing
// ids are left out of the result.
func StatusForPlanningRows(ctx context.Context, ids []int, today time.Time, tolerance decimal.Decimal) (map[int]SupplyMapEntry, error) {
	db := config.GetDB().WithContext(ctx)
	result := make(map[int]SupplyMapEntry, len(ids))
	ids = utils.UniqueSlice(ids)
	if len(ids) == 0 {
		return result, nil
	}
	var rows []PlanningRow
	if err := db.Where("id IN ?", ids).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	entries, err := buildEntries(db, rows, today, tolerance)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		result[e.Row.ID] = e
	}
	return result, nil
}

// StatusForPlanningRow is the single-row accessor.
func StatusForPlanningRow(ctx context.Context, id int, today time.Time, tolerance decimal.Decimal) (*SupplyMapEntry, error) {
	entries, err := StatusForPlanningRows(ctx, []int{id}, today, tolerance)
	if err != nil {
		return nil, err
	}
	e, ok := entries[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return &e, nil
}

func buildEntries(tx *gorm.DB, rows []PlanningRow, today time.Time, tolerance decimal.Decimal) ([]SupplyMapEntry, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	var rowIds, siteIds, materialIds, locationIds []int
	for _, r := range rows {
		rowIds = append(rowIds, r.ID)
		siteIds = append(siteIds, r.SiteId)
		materialIds = append(materialIds, r.MaterialId)
		if r.LocationId != nil {
			locationIds = append(locationIds, *r.LocationId)
		}
	}

	allocated, err := SumAllocatedByPlanningRow(tx, rowIds)
	if err != nil {
		return nil, err
	}

	var receipts []ReceiptRow
	if err := tx.Where("site_id IN ? AND material_id IN ? AND sub_item = ?",
		utils.UniqueSlice(siteIds), utils.UniqueSlice(materialIds), "").Find(&receipts).Error; err != nil {
		return nil, err
	}
	consolidated := make(map[consolidatedKey]*ReceiptRow, len(receipts))
	for i := range receipts {
		r := &receipts[i]
		consolidated[consolidatedKey{r.SiteId, r.MaterialId, strings.TrimSpace(r.RequisitionNumber)}] = r
	}

	var materials []Material
	if err := tx.Where("id IN ?", utils.UniqueSlice(materialIds)).Find(&materials).Error; err != nil {
		return nil, err
	}
	materialMap := make(map[int]*Material, len(materials))
	for i := range materials {
		materialMap[materials[i].ID] = &materials[i]
	}

	locationMap := make(map[int]*Location)
	if len(locationIds) > 0 {
		var locations []Location
		if err := tx.Where("id IN ?", utils.UniqueSlice(locationIds)).Find(&locations).Error; err != nil {
			return nil, err
		}
		for i := range locations {
			locationMap[locations[i].ID] = &locations[i]
		}
	}

	entries := make([]SupplyMapEntry, 0, len(rows))
	for _, r := range rows {
		var receipt *ReceiptRow
		if r.HasRequisition() {
			receipt = consolidated[consolidatedKey{r.SiteId, r.MaterialId, strings.TrimSpace(r.RequisitionNumber)}]
		}
		e := SupplyMapEntry{
			Row:      r,
			Material: materialMap[r.MaterialId],
			Receipt:  receipt,
			Status: DeriveStatus(StatusInput{
				Row:       r,
				Receipt:   receipt,
				Allocated: allocated[r.ID],
				Today:     today,
				Tolerance: tolerance,
			}),
		}
		if r.LocationId != nil {
			e.Location = locationMap[*r.LocationId]
		}
		entries = append(entries, e)
	}
	return entries, nil
}
