package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders wrap the per-request data loaders
type Loaders struct {
	siteLoader     *dataloader.Loader[int, *models.Site]
	locationLoader *dataloader.Loader[int, *models.Location]
	materialLoader *dataloader.Loader[int, *models.Material]

	planningRowLoader     *dataloader.Loader[int, *models.PlanningRow]
	planningReceiptLoader *dataloader.Loader[int, *models.ReceiptRow]
	allocatedLoader       *dataloader.Loader[int, decimal.Decimal]
	planningStatusLoader  *dataloader.Loader[int, *models.SupplyMapEntry]
}

// NewLoaders instantiates data loaders for the middleware
func NewLoaders(conn *gorm.DB, settings config.SupplySettings) *Loaders {
	siteReader := &siteReader{db: conn}
	locationReader := &locationReader{db: conn}
	materialReader := &materialReader{db: conn}
	planningReader := &planningRowReader{db: conn, tolerance: settings.Tolerance}

	loaders := &Loaders{
		siteLoader:     dataloader.NewBatchedLoader(siteReader.getSites, dataloader.WithWait[int, *models.Site](time.Millisecond)),
		locationLoader: dataloader.NewBatchedLoader(locationReader.getLocations, dataloader.WithWait[int, *models.Location](time.Millisecond)),
		materialLoader: dataloader.NewBatchedLoader(materialReader.getMaterials, dataloader.WithWait[int, *models.Material](time.Millisecond)),

		planningRowLoader:     dataloader.NewBatchedLoader(planningReader.getPlanningRows, dataloader.WithWait[int, *models.PlanningRow](time.Millisecond)),
		planningReceiptLoader: dataloader.NewBatchedLoader(planningReader.getReceipts, dataloader.WithWait[int, *models.ReceiptRow](time.Millisecond)),
		allocatedLoader:       dataloader.NewBatchedLoader(planningReader.getAllocated, dataloader.WithWait[int, decimal.Decimal](time.Millisecond)),
		planningStatusLoader:  dataloader.NewBatchedLoader(planningReader.getStatuses, dataloader.WithWait[int, *models.SupplyMapEntry](time.Millisecond)),
	}
	return loaders
}

// LoaderMiddleware injects fresh loaders into every request context
func LoaderMiddleware(settings config.SupplySettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(config.GetDB(), settings)
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func For(ctx context.Context) *Loaders {
	return ctx.Value(loadersKey).(*Loaders)
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// turns results from db into dataloader results, in the order of ids.
// ids without a row get utils.ErrorRecordNotFound.
func generateLoaderResults[T models.Data](results []T, ids []int) []*dataloader.Result[*T] {
	resultMap := make(map[int]T, len(results))
	for _, result := range results {
		resultMap[result.GetId()] = result
	}

	loaderResults := make([]*dataloader.Result[*T], 0, len(ids))
	for _, id := range ids {
		data, ok := resultMap[id]
		if !ok {
			loaderResults = append(loaderResults, &dataloader.Result[*T]{Error: utils.ErrorRecordNotFound})
			continue
		}
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: &data})
	}
	return loaderResults
}
