package reports

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/xuri/excelize/v2"
)

const (
	SupplyMapSheet = "SupplyMap"
	FindingsSheet  = "Findings"
	SummarySheet   = "Summary"
)

var supplyMapHeadings = []string{
	"Category", "Material Code", "Description", "Location", "Responsible", "Needed By",
	"Planned", "Unit", "Requisition", "Purchase Order", "Supplier", "Delivery Due",
	"Solicited", "Received", "Allocated", "Balance To Allocate", "% Allocated",
	"Stage", "Who To Chase", "Priority", "Late",
}

var findingHeadings = []string{"Severity", "Check", "Entity", "Entity Id", "Critical", "Message"}

var tierFill = map[models.Tier]string{
	models.TierWhite:  "FFFFFF",
	models.TierRed:    "FFC7CE",
	models.TierBlue:   "BDD7EE",
	models.TierYellow: "FFEB9C",
	models.TierOrange: "F8CBAD",
	models.TierGreen:  "C6EFCE",
}

// WriteSupplyMapWorkbook writes the map grouped by category, one header row per
// category, with each stage row filled in its tier colour.
func WriteSupplyMapWorkbook(w io.Writer, m *models.SupplyMap) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SupplyMapSheet); err != nil {
		return err
	}
	if err := writeHeadings(f, SupplyMapSheet, supplyMapHeadings); err != nil {
		return err
	}

	groupStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	tierStyles := make(map[models.Tier]int, len(tierFill))
	for tier, colour := range tierFill {
		id, err := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{colour}}})
		if err != nil {
			return err
		}
		tierStyles[tier] = id
	}

	counts := make(map[models.Category]int)
	for _, e := range m.Entries {
		counts[e.Row.Category]++
	}

	rowNo := 2
	var current models.Category
	lastCol, _ := excelize.ColumnNumberToName(len(supplyMapHeadings))
	for i, e := range m.Entries {
		if i == 0 || e.Row.Category != current {
			current = e.Row.Category
			cell, _ := excelize.CoordinatesToCellName(1, rowNo)
			if err := f.SetCellValue(SupplyMapSheet, cell, fmt.Sprintf("%s (%d items)", current, counts[current])); err != nil {
				return err
			}
			if err := f.SetCellStyle(SupplyMapSheet, cell, cell, groupStyle); err != nil {
				return err
			}
			rowNo++
		}

		if err := writeRow(f, SupplyMapSheet, rowNo, supplyMapValues(e)); err != nil {
			return err
		}
		if style, ok := tierStyles[e.Status.Tier]; ok {
			from, _ := excelize.CoordinatesToCellName(1, rowNo)
			if err := f.SetCellStyle(SupplyMapSheet, from, fmt.Sprintf("%s%d", lastCol, rowNo), style); err != nil {
				return err
			}
		}
		rowNo++
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return err
	}
	if err := writeHeadings(f, SummarySheet, []string{"Stage", "Rows"}); err != nil {
		return err
	}
	rowNo = 2
	for _, stage := range stageOrder {
		if err := writeRow(f, SummarySheet, rowNo, []interface{}{string(stage), m.ByStage[stage]}); err != nil {
			return err
		}
		rowNo++
	}

	return f.Write(w)
}

var stageOrder = []models.Stage{
	models.StageUnclassified, models.StageRequested, models.StageOrdered, models.StageAwaitingDelivery,
	models.StageOverdue, models.StagePartiallyReceived, models.StageAwaitingAllocation,
	models.StagePartiallyAllocated, models.StageDelivered,
}

func supplyMapValues(e models.SupplyMapEntry) []interface{} {
	code, unit, location := "", "", ""
	if e.Material != nil {
		code = e.Material.Code
		unit = e.Material.Unit
	}
	if e.Location != nil {
		location = e.Location.Name
	}
	supplier := e.Row.LegacySupplier
	if e.Receipt != nil {
		supplier = e.Receipt.Supplier
	}
	s := e.Status
	return []interface{}{
		string(e.Row.Category),
		code,
		e.Description(),
		location,
		e.Row.Responsible,
		formatDate(e.Row.NeededBy),
		e.Row.PlannedQty.InexactFloat64(),
		unit,
		e.Row.RequisitionNumber,
		s.PurchaseOrderNumber,
		supplier,
		formatDate(s.DeliveryDueDate),
		s.Solicited.InexactFloat64(),
		s.Received.InexactFloat64(),
		s.Allocated.InexactFloat64(),
		s.BalanceToAllocate.InexactFloat64(),
		s.PercentAllocated.InexactFloat64(),
		string(s.Stage),
		string(s.WhoToChase),
		string(e.Row.Priority),
		s.IsLate,
	}
}

// WriteFindingsWorkbook writes one verifier run.
func WriteFindingsWorkbook(w io.Writer, report models.VerificationReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", FindingsSheet); err != nil {
		return err
	}
	if err := writeHeadings(f, FindingsSheet, findingHeadings); err != nil {
		return err
	}
	for i, finding := range report.Findings {
		values := []interface{}{
			string(finding.Severity), string(finding.Check), finding.EntityType,
			finding.EntityId, finding.Critical, finding.Message,
		}
		if err := writeRow(f, FindingsSheet, i+2, values); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return err
	}
	c := report.Counts
	summary := [][]interface{}{
		{"Errors", len(report.Errors())},
		{"Warnings", len(report.Warnings())},
		{"Materials", c.Materials},
		{"Planning rows", c.PlanningRows},
		{"Planning rows with requisition", c.PlanningWithRequisition},
		{"Receipts", c.Receipts},
		{"Allocations", c.Allocations},
	}
	for i, values := range summary {
		if err := writeRow(f, SummarySheet, i+1, values); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func SupplyMapWorkbookBytes(m *models.SupplyMap) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteSupplyMapWorkbook(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func FindingsWorkbookBytes(report models.VerificationReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteFindingsWorkbook(&buf, report); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHeadings(f *excelize.File, sheet string, headings []string) error {
	values := make([]interface{}, len(headings))
	for i, h := range headings {
		values[i] = h
	}
	return writeRow(f, sheet, 1, values)
}

func writeRow(f *excelize.File, sheet string, rowNo int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNo)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return utils.TruncateToDate(*t).Format("02/01/2006")
}
