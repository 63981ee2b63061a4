package reports

import (
	"bytes"
	"testing"
	"time"

	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func TestWriteSupplyMapWorkbook(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	receipt := &models.ReceiptRow{ID: 10, SiteId: 1, MaterialId: 2, RequisitionNumber: "SC-1",
		SolicitedQty: decimal.NewFromInt(100), ReceivedQty: decimal.NewFromInt(100), PurchaseOrderNumber: "PC-1", DeliveryDueDate: &due}
	foundation := models.PlanningRow{ID: 1, SiteId: 1, MaterialId: 2, Category: models.CategoryFoundation,
		RequisitionNumber: "SC-1", PlannedQty: decimal.NewFromInt(100), Priority: models.PriorityHigh}
	survey := models.PlanningRow{ID: 2, SiteId: 1, MaterialId: 2, Category: models.CategoryUnclassified,
		PlannedQty: decimal.NewFromInt(5), DescriptionOverride: "extra bags"}
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	m := &models.SupplyMap{
		SiteId: 1,
		Entries: []models.SupplyMapEntry{
			{
				Row:      foundation,
				Material: &models.Material{ID: 2, Code: "CIM-01", Description: "Cement", Unit: "SC"},
				Receipt:  receipt,
				Status:   models.DeriveStatus(models.StatusInput{Row: foundation, Receipt: receipt, Allocated: decimal.NewFromInt(50), Today: today}),
			},
			{
				Row:    survey,
				Status: models.DeriveStatus(models.StatusInput{Row: survey, Today: today}),
			},
		},
		ByStage: map[models.Stage]int{models.StagePartiallyAllocated: 1, models.StageUnclassified: 1},
	}

	data, err := SupplyMapWorkbookBytes(m)
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SupplyMapSheet)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	// heading, group, row, group, row
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "Category" || rows[1][0] != "FOUNDATION (1 items)" {
		t.Fatalf("unexpected header rows %v / %v", rows[0], rows[1])
	}
	if rows[2][1] != "CIM-01" || rows[2][11] != "01/03/2026" || rows[2][17] != string(models.StagePartiallyAllocated) {
		t.Fatalf("unexpected data row %v", rows[2])
	}
	if rows[4][2] != "extra bags" {
		t.Fatalf("expected description override, got %v", rows[4])
	}

	summary, err := f.GetRows(SummarySheet)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if len(summary) != 10 || summary[1][0] != string(models.StageUnclassified) || summary[1][1] != "1" {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestWriteFindingsWorkbook(t *testing.T) {
	report := models.VerificationReport{
		Findings: []models.Finding{
			{Severity: models.SeverityError, Check: models.CheckReceiptBalance, EntityType: "ReceiptRow", EntityId: 12, Message: "too much"},
			{Severity: models.SeverityWarning, Check: models.CheckReceiptOverDelivered, EntityType: "ReceiptRow", EntityId: 13, Message: "over"},
		},
		Counts: models.VerificationCounts{Receipts: 2},
	}
	data, err := FindingsWorkbookBytes(report)
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(FindingsSheet)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 || rows[1][1] != string(models.CheckReceiptBalance) || rows[2][3] != "13" {
		t.Fatalf("unexpected findings rows %v", rows)
	}
	summary, _ := f.GetRows(SummarySheet)
	if summary[0][1] != "1" || summary[1][1] != "1" {
		t.Fatalf("expected one error and one warning, got %v", summary)
	}
}
