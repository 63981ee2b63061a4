package models

import (
	"encoding/json"
	"time"

	"github.com/mmdatafocus/supplymap_backend/utils"
	"gorm.io/gorm"
)

// History is the append-only change log of the supply map.
type History struct {
	ID            int         `gorm:"primary_key" json:"id"`
	SiteId        int         `gorm:"index;not null" json:"site_id"`
	PlanningRowId *int        `gorm:"index" json:"planning_row_id"`
	ActionType    HistoryType `gorm:"size:20;not null" json:"action_type"`
	ReferenceType string      `gorm:"size:50" json:"reference_type"`
	ReferenceID   int         `gorm:"index" json:"reference_id"`
	Before        string      `gorm:"type:text" json:"before"`
	After         string      `gorm:"type:text" json:"after"`
	Description   string      `gorm:"type:text;not null" json:"description"`
	UserName      string      `gorm:"size:100" json:"user_name"`
	CorrelationId string      `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

type historyEntry struct {
	siteId        int
	planningRowId *int
	actionType    HistoryType
	referenceType string
	referenceId   int
	before        interface{}
	after         interface{}
	description   string
}

// createHistory writes inside tx; user name and correlation id come from tx's context.
func createHistory(tx *gorm.DB, entry historyEntry) error {
	ctx := tx.Statement.Context

	var b, a []byte
	if entry.before != nil {
		b, _ = json.Marshal(entry.before)
	}
	if entry.after != nil {
		a, _ = json.Marshal(entry.after)
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	history := History{
		SiteId:        entry.siteId,
		PlanningRowId: entry.planningRowId,
		ActionType:    entry.actionType,
		ReferenceType: entry.referenceType,
		ReferenceID:   entry.referenceId,
		Before:        string(b),
		After:         string(a),
		Description:   entry.description,
		UserName:      utils.ActorFromContext(ctx),
		CorrelationId: correlationId,
	}
	return tx.Create(&history).Error
}

// ListHistory returns the newest entries for a planning row (or a whole site when planningRowId is 0).
func ListHistory(tx *gorm.DB, siteId int, planningRowId int, limit int) ([]History, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := tx.Where("site_id = ?", siteId)
	if planningRowId > 0 {
		q = q.Where("planning_row_id = ?", planningRowId)
	}
	var results []History
	err := q.Order("id DESC").Limit(limit).Find(&results).Error
	return results, err
}
