package models

import (
	"context"
	"database/sql"

	"github.com/mmdatafocus/supplymap_backend/config"
	"gorm.io/gorm"
)

// LoadLedgerSnapshot reads all four tables inside one read-only repeatable-read
// transaction so the verifier sees a single consistent state.
func LoadLedgerSnapshot(ctx context.Context) (LedgerSnapshot, error) {
	return LoadLedgerSnapshotTx(config.GetDB().WithContext(ctx))
}

func LoadLedgerSnapshotTx(db *gorm.DB) (LedgerSnapshot, error) {
	var snapshot LedgerSnapshot
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Order("id").Find(&snapshot.Materials).Error; err != nil {
			return err
		}
		if err := tx.Order("id").Find(&snapshot.Planning).Error; err != nil {
			return err
		}
		if err := tx.Order("id").Find(&snapshot.Receipts).Error; err != nil {
			return err
		}
		return tx.Order("id").Find(&snapshot.Allocations).Error
	}, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	return snapshot, err
}
