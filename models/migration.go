package models

import (
	"log"

	"github.com/mmdatafocus/supplymap_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Site{}, &Location{},
		&Material{},
		&PlanningRow{}, &ReceiptRow{}, &AllocationRow{},
		&History{},
		&IdempotencyKey{},
		&ReconciliationReport{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
