package middlewares

import (
	"context"
	"strings"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type planningRowReader struct {
	db        *gorm.DB
	tolerance decimal.Decimal
}

func (r *planningRowReader) getPlanningRows(ctx context.Context, ids []int) []*dataloader.Result[*models.PlanningRow] {
	var results []models.PlanningRow
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.PlanningRow](len(ids), err)
	}
	return generateLoaderResults(results, ids)
}

// getReceipts resolves the consolidated receipt of each planning row in two
// queries. Rows that resolve nothing get a nil receipt, unknown rows an error.
func (r *planningRowReader) getReceipts(ctx context.Context, ids []int) []*dataloader.Result[*models.ReceiptRow] {
	db := r.db.WithContext(ctx)
	var rows []models.PlanningRow
	if err := db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return handleError[*models.ReceiptRow](len(ids), err)
	}

	rowMap := make(map[int]models.PlanningRow, len(rows))
	var siteIds, materialIds []int
	var requisitions []string
	for _, row := range rows {
		rowMap[row.ID] = row
		if !row.HasRequisition() {
			continue
		}
		siteIds = append(siteIds, row.SiteId)
		materialIds = append(materialIds, row.MaterialId)
		requisitions = append(requisitions, strings.TrimSpace(row.RequisitionNumber))
	}

	var candidates []models.ReceiptRow
	if len(requisitions) > 0 {
		err := db.Where("site_id IN ? AND material_id IN ? AND requisition_number IN ? AND sub_item = ?",
			utils.UniqueSlice(siteIds), utils.UniqueSlice(materialIds), utils.UniqueSlice(requisitions), "").
			Find(&candidates).Error
		if err != nil {
			return handleError[*models.ReceiptRow](len(ids), err)
		}
	}

	loaderResults := make([]*dataloader.Result[*models.ReceiptRow], 0, len(ids))
	for _, id := range ids {
		row, ok := rowMap[id]
		if !ok {
			loaderResults = append(loaderResults, &dataloader.Result[*models.ReceiptRow]{Error: utils.ErrorRecordNotFound})
			continue
		}
		loaderResults = append(loaderResults, &dataloader.Result[*models.ReceiptRow]{Data: models.ResolveReceipt(row, candidates)})
	}
	return loaderResults
}

// getAllocated sums allocations per planning row; rows without any sum to zero.
func (r *planningRowReader) getAllocated(ctx context.Context, ids []int) []*dataloader.Result[decimal.Decimal] {
	sums, err := models.SumAllocatedByPlanningRow(r.db.WithContext(ctx), ids)
	if err != nil {
		return handleError[decimal.Decimal](len(ids), err)
	}
	loaderResults := make([]*dataloader.Result[decimal.Decimal], 0, len(ids))
	for _, id := range ids {
		loaderResults = append(loaderResults, &dataloader.Result[decimal.Decimal]{Data: sums[id]})
	}
	return loaderResults
}

func (r *planningRowReader) getStatuses(ctx context.Context, ids []int) []*dataloader.Result[*models.SupplyMapEntry] {
	entries, err := models.StatusForPlanningRows(ctx, ids, utils.TodayFromContext(ctx), r.tolerance)
	if err != nil {
		return handleError[*models.SupplyMapEntry](len(ids), err)
	}
	loaderResults := make([]*dataloader.Result[*models.SupplyMapEntry], 0, len(ids))
	for _, id := range ids {
		entry, ok := entries[id]
		if !ok {
			loaderResults = append(loaderResults, &dataloader.Result[*models.SupplyMapEntry]{Error: utils.ErrorRecordNotFound})
			continue
		}
		loaderResults = append(loaderResults, &dataloader.Result[*models.SupplyMapEntry]{Data: &entry})
	}
	return loaderResults
}

func GetPlanningRow(ctx context.Context, id int) (*models.PlanningRow, error) {
	loaders := For(ctx)
	return loaders.planningRowLoader.Load(ctx, id)()
}

// GetPlanningReceipt returns the receipt the planning row resolves to, or nil.
func GetPlanningReceipt(ctx context.Context, planningRowId int) (*models.ReceiptRow, error) {
	loaders := For(ctx)
	return loaders.planningReceiptLoader.Load(ctx, planningRowId)()
}

func GetAllocatedForPlanningRow(ctx context.Context, planningRowId int) (decimal.Decimal, error) {
	loaders := For(ctx)
	return loaders.allocatedLoader.Load(ctx, planningRowId)()
}

func GetPlanningStatus(ctx context.Context, planningRowId int) (*models.SupplyMapEntry, error) {
	loaders := For(ctx)
	return loaders.planningStatusLoader.Load(ctx, planningRowId)()
}

func GetPlanningStatuses(ctx context.Context, planningRowIds []int) ([]*models.SupplyMapEntry, []error) {
	loaders := For(ctx)
	return loaders.planningStatusLoader.LoadMany(ctx, planningRowIds)()
}
