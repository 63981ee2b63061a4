package models

import (
	"time"

	"gorm.io/gorm"
)

// ReconciliationReport is one persisted verifier finding. Rows of the same run
// share a correlation id.
type ReconciliationReport struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Severity      FindingSeverity `gorm:"size:10;index;not null" json:"severity"`
	CheckType     VerifyCheck     `gorm:"size:50;index;not null" json:"check_type"`  // e.g. RECEIPT_BALANCE, PLANNING_UNRESOLVED
	EntityType    string          `gorm:"size:50;index;not null" json:"entity_type"` // e.g. ReceiptRow, AllocationRow
	EntityId      int             `gorm:"index;not null" json:"entity_id"`
	Critical      bool            `gorm:"not null;default:false" json:"critical"`
	Details       string          `gorm:"type:text" json:"details"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// SaveReconciliationReports stores the findings of one run in a single batch.
func SaveReconciliationReports(tx *gorm.DB, correlationId string, findings []Finding) error {
	if len(findings) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]ReconciliationReport, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, ReconciliationReport{
			Severity:      f.Severity,
			CheckType:     f.Check,
			EntityType:    f.EntityType,
			EntityId:      f.EntityId,
			Critical:      f.Critical,
			Details:       f.Message,
			CorrelationId: correlationId,
			CreatedAt:     now,
		})
	}
	return tx.CreateInBatches(rows, 200).Error
}

func ListReconciliationReports(tx *gorm.DB, correlationId string) ([]ReconciliationReport, error) {
	var results []ReconciliationReport
	err := tx.Where("correlation_id = ?", correlationId).Order("id").Find(&results).Error
	return results, err
}
