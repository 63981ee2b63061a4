package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/supplymap_backend/models"
	"gorm.io/gorm"
)

type siteReader struct {
	db *gorm.DB
}

func (r *siteReader) getSites(ctx context.Context, ids []int) []*dataloader.Result[*models.Site] {
	var results []models.Site
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Site](len(ids), err)
	}
	return generateLoaderResults(results, ids)
}

func GetSite(ctx context.Context, id int) (*models.Site, error) {
	loaders := For(ctx)
	return loaders.siteLoader.Load(ctx, id)()
}

type locationReader struct {
	db *gorm.DB
}

func (r *locationReader) getLocations(ctx context.Context, ids []int) []*dataloader.Result[*models.Location] {
	var results []models.Location
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Location](len(ids), err)
	}
	return generateLoaderResults(results, ids)
}

// GetLocation returns nil, nil for a nil id.
func GetLocation(ctx context.Context, id *int) (*models.Location, error) {
	if id == nil {
		return nil, nil
	}
	loaders := For(ctx)
	return loaders.locationLoader.Load(ctx, *id)()
}
