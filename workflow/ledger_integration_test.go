package workflow_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/mmdatafocus/supplymap_backend/workflow"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type ledgerFixture struct {
	site     *models.Site
	other    *models.Site
	block    *models.Location
	material *models.Material
	receipt  *models.ReceiptRow
	row      *models.PlanningRow
}

func seedLedger(t *testing.T, ctx context.Context, settings config.SupplySettings) ledgerFixture {
	t.Helper()
	var f ledgerFixture
	var err error
	if f.site, err = models.CreateSite(ctx, &models.NewSite{Code: "OB-01", Name: "Residencial Aurora"}); err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	if f.other, err = models.CreateSite(ctx, &models.NewSite{Code: "OB-02", Name: "Torre Norte"}); err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	if f.block, err = models.CreateLocation(ctx, &models.NewLocation{SiteId: f.site.ID, Name: "Bloco A", Type: models.LocationTypeBlock}); err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}
	if f.material, err = models.UpsertMaterial(ctx, &models.NewMaterial{Code: "CIM-01", Description: "Cimento CP II"}, settings.DefaultUnit); err != nil {
		t.Fatalf("UpsertMaterial: %v", err)
	}
	if f.receipt, err = models.UpsertReceipt(ctx, &models.NewReceipt{
		SiteId:              f.site.ID,
		MaterialId:          f.material.ID,
		RequisitionNumber:   "4521",
		SolicitedQty:        dec("500"),
		ReceivedQty:         dec("500"),
		PurchaseOrderNumber: "PC-9",
	}); err != nil {
		t.Fatalf("UpsertReceipt: %v", err)
	}
	if f.row, err = models.CreatePlanningRow(ctx, &models.NewPlanningRow{
		SiteId:            f.site.ID,
		MaterialId:        f.material.ID,
		Category:          models.CategoryStructure,
		LocationId:        &f.block.ID,
		PlannedQty:        dec("500"),
		RequisitionNumber: "4521",
	}); err != nil {
		t.Fatalf("CreatePlanningRow: %v", err)
	}
	return f
}

func TestSupplyLedgers_Integration(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
	startIntegrationDB(t)

	settings := config.DefaultSupplySettings()
	settings.AllocationRedisLock = false
	ctx := utils.SetUserNameInContext(context.Background(), "Test")
	ctx = utils.SetTodayInContext(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	f := seedLedger(t, ctx, settings)

	t.Run("concurrent allocations never exceed received", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = workflow.Allocate(ctx, workflow.NewAllocation{PlanningRowId: &f.row.ID, Quantity: dec("300")}, settings)
			}(i)
		}
		wg.Wait()

		var ok, rejected int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case utils.IsValidationError(err, utils.RuleExceedsReceived):
				rejected++
			default:
				t.Fatalf("unexpected allocation error: %v", err)
			}
		}
		if ok != 1 || rejected != 1 {
			t.Fatalf("expected one success and one rejection, got %d/%d", ok, rejected)
		}

		result, err := workflow.Allocate(ctx, workflow.NewAllocation{PlanningRowId: &f.row.ID, Quantity: dec("200")}, settings)
		if err != nil {
			t.Fatalf("allocating the remaining 200: %v", err)
		}
		if !result.Available.IsZero() || result.Status.Stage != models.StageDelivered {
			t.Fatalf("expected receipt exhausted and row delivered, got available %s stage %s", result.Available, result.Status.Stage)
		}

		_, err = workflow.Allocate(ctx, workflow.NewAllocation{PlanningRowId: &f.row.ID, Quantity: dec("0.01")}, settings)
		if !utils.IsValidationError(err, utils.RuleExceedsReceived) {
			t.Fatalf("expected 0.01 over received to be rejected, got %v", err)
		}
		_, err = workflow.Allocate(ctx, workflow.NewAllocation{PlanningRowId: &f.row.ID, Quantity: dec("0")}, settings)
		if !utils.IsValidationError(err, utils.RuleNonPositiveQuantity) {
			t.Fatalf("expected zero allocation to be rejected, got %v", err)
		}
	})

	t.Run("supply map and verifier agree", func(t *testing.T) {
		m, err := models.BuildSupplyMap(ctx, f.site.ID, utils.TodayFromContext(ctx), settings.Tolerance, models.SupplyMapFilter{})
		if err != nil {
			t.Fatalf("BuildSupplyMap: %v", err)
		}
		if len(m.Entries) != 1 || m.Entries[0].Receipt == nil || m.Entries[0].Receipt.ID != f.receipt.ID {
			t.Fatalf("expected the planning row resolved to its receipt, got %+v", m.Entries)
		}

		run, err := workflow.RunVerification(ctx, config.GetLogger(), settings, workflow.VerificationOptions{Persist: true})
		if err != nil {
			t.Fatalf("RunVerification: %v", err)
		}
		if errs, _ := run.Report.Messages(); len(errs) != 0 {
			t.Fatalf("expected consistent ledgers, got %v", errs)
		}
	})

	t.Run("verifier reports a bypassed guard", func(t *testing.T) {
		// write straight to the table, past Allocate
		bad := models.AllocationRow{
			SiteId: f.site.ID, MaterialId: f.material.ID, LocationId: f.block.ID,
			ReceiptId: &f.receipt.ID, Quantity: dec("50"),
		}
		if err := config.GetDB().Create(&bad).Error; err != nil {
			t.Fatalf("insert allocation: %v", err)
		}
		run, err := workflow.RunVerification(ctx, config.GetLogger(), settings, workflow.VerificationOptions{Persist: true})
		if err != nil {
			t.Fatalf("RunVerification: %v", err)
		}
		if run.Summary.Critical == 0 {
			t.Fatalf("expected a critical finding, got %+v", run.Summary)
		}
		stored, err := models.ListReconciliationReports(config.GetDB(), run.CorrelationId)
		if err != nil || len(stored) == 0 {
			t.Fatalf("expected persisted findings, got %d (%v)", len(stored), err)
		}
		if _, err := workflow.Deallocate(ctx, bad.ID); err != nil {
			t.Fatalf("Deallocate: %v", err)
		}
	})

	t.Run("references block deletes", func(t *testing.T) {
		if err := models.DeleteMaterial(ctx, f.material.ID); !utils.IsReferenceError(err) {
			t.Fatalf("expected ReferenceError deleting a used material, got %v", err)
		}
		if err := models.DeleteLocation(ctx, f.block.ID); !utils.IsReferenceError(err) {
			t.Fatalf("expected ReferenceError deleting an allocated location, got %v", err)
		}
	})

	t.Run("moving a row to another site unlinks its receipt", func(t *testing.T) {
		spare, err := models.CreatePlanningRow(ctx, &models.NewPlanningRow{
			SiteId: f.site.ID, MaterialId: f.material.ID, Category: models.CategoryMasonry,
			PlannedQty: dec("10"), RequisitionNumber: "4521",
		})
		if err != nil {
			t.Fatalf("CreatePlanningRow: %v", err)
		}
		moved, err := models.MovePlanningRowToSite(ctx, spare.ID, f.other.ID, nil)
		if err != nil {
			t.Fatalf("MovePlanningRowToSite: %v", err)
		}
		if !moved.ReceiptUnlinked || moved.PreviousReceiptId == nil || *moved.PreviousReceiptId != f.receipt.ID {
			t.Fatalf("expected receipt %d reported unlinked, got %+v", f.receipt.ID, moved)
		}
		receipt, err := models.GetReceipt(ctx, f.receipt.ID)
		if err != nil || receipt.SiteId != f.site.ID {
			t.Fatalf("receipt must stay on its site, got %+v (%v)", receipt, err)
		}
		if err := models.DeletePlanningRow(ctx, spare.ID); err != nil {
			t.Fatalf("DeletePlanningRow: %v", err)
		}
	})

	spareReceipt, err := models.UpsertReceipt(ctx, &models.NewReceipt{
		SiteId:            f.site.ID,
		MaterialId:        f.material.ID,
		RequisitionNumber: "4700",
		SolicitedQty:      dec("30"),
		ReceivedQty:       dec("30"),
	})
	if err != nil {
		t.Fatalf("UpsertReceipt: %v", err)
	}

	t.Run("deleting a planning row keeps its allocations", func(t *testing.T) {
		row, err := models.CreatePlanningRow(ctx, &models.NewPlanningRow{
			SiteId: f.site.ID, MaterialId: f.material.ID, Category: models.CategoryPainting,
			LocationId: &f.block.ID, PlannedQty: dec("5"),
		})
		if err != nil {
			t.Fatalf("CreatePlanningRow: %v", err)
		}
		result, err := workflow.Allocate(ctx, workflow.NewAllocation{PlanningRowId: &row.ID, ReceiptId: &spareReceipt.ID, Quantity: dec("5")}, settings)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if err := models.DeletePlanningRow(ctx, row.ID); err != nil {
			t.Fatalf("DeletePlanningRow: %v", err)
		}
		kept, err := models.GetAllocation(ctx, result.Allocation.ID)
		if err != nil {
			t.Fatalf("allocation must survive the planning row: %v", err)
		}
		if kept.PlanningRowId != nil || kept.ReceiptId == nil || *kept.ReceiptId != spareReceipt.ID {
			t.Fatalf("expected planning link cleared and receipt kept, got %+v", kept)
		}
	})

	t.Run("allocating without a planning row", func(t *testing.T) {
		result, err := workflow.Allocate(ctx, workflow.NewAllocation{ReceiptId: &spareReceipt.ID, LocationId: &f.block.ID, Quantity: dec("10")}, settings)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if result.Allocation.PlanningRowId != nil || result.Allocation.SiteId != f.site.ID || result.Allocation.MaterialId != f.material.ID {
			t.Fatalf("expected an unassigned allocation on the receipt's site, got %+v", result.Allocation)
		}
		if !result.Available.Equal(dec("15")) {
			t.Fatalf("expected 15 left on the receipt, got %s", result.Available)
		}

		_, err = workflow.Allocate(ctx, workflow.NewAllocation{ReceiptId: &spareReceipt.ID, Quantity: dec("1")}, settings)
		if !utils.IsValidationError(err, utils.RuleRequired) {
			t.Fatalf("expected a missing location to be rejected, got %v", err)
		}
		elsewhere, err := models.CreateLocation(ctx, &models.NewLocation{SiteId: f.other.ID, Name: "Bloco B", Type: models.LocationTypeBlock})
		if err != nil {
			t.Fatalf("CreateLocation: %v", err)
		}
		_, err = workflow.Allocate(ctx, workflow.NewAllocation{ReceiptId: &spareReceipt.ID, LocationId: &elsewhere.ID, Quantity: dec("1")}, settings)
		if !utils.IsValidationError(err, utils.RuleLocationSiteMismatch) {
			t.Fatalf("expected a location on another site to be rejected, got %v", err)
		}
	})

	t.Run("moving a row detaches its allocations", func(t *testing.T) {
		row, err := models.CreatePlanningRow(ctx, &models.NewPlanningRow{
			SiteId: f.site.ID, MaterialId: f.material.ID, Category: models.CategoryRoofing,
			LocationId: &f.block.ID, PlannedQty: dec("5"), RequisitionNumber: "4700",
		})
		if err != nil {
			t.Fatalf("CreatePlanningRow: %v", err)
		}
		result, err := workflow.Allocate(ctx, workflow.NewAllocation{PlanningRowId: &row.ID, Quantity: dec("5")}, settings)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		moved, err := models.MovePlanningRowToSite(ctx, row.ID, f.other.ID, nil)
		if err != nil {
			t.Fatalf("MovePlanningRowToSite: %v", err)
		}
		if moved.AllocationsDetached != 1 || !moved.ReceiptUnlinked {
			t.Fatalf("expected one detached allocation and the receipt unlinked, got %+v", moved)
		}
		kept, err := models.GetAllocation(ctx, result.Allocation.ID)
		if err != nil {
			t.Fatalf("GetAllocation: %v", err)
		}
		if kept.PlanningRowId != nil || kept.SiteId != f.site.ID {
			t.Fatalf("expected the allocation left on site %d without a planning row, got %+v", f.site.ID, kept)
		}
		if err := models.DeletePlanningRow(ctx, row.ID); err != nil {
			t.Fatalf("DeletePlanningRow: %v", err)
		}

		run, err := workflow.RunVerification(ctx, config.GetLogger(), settings, workflow.VerificationOptions{})
		if err != nil {
			t.Fatalf("RunVerification: %v", err)
		}
		for _, finding := range run.Report.Errors() {
			if finding.Check == models.CheckAllocationCrossReference {
				t.Fatalf("detached allocations must not cross sites, got %v", finding)
			}
		}
	})

	t.Run("receipt feed is idempotent", func(t *testing.T) {
		msg := workflow.ReceiptFeedMessage{
			MessageId:         "erp-1",
			SiteCode:          "OB-01",
			MaterialCode:      "ACO-10",
			RequisitionNumber: "4600",
			Solicited:         dec("200"),
			Received:          dec("50"),
		}
		first, err := workflow.ProcessReceiptFeedMessage(ctx, config.GetLogger(), settings, msg)
		if err != nil {
			t.Fatalf("ProcessReceiptFeedMessage: %v", err)
		}
		if !first.Created || first.PlanningAction != workflow.PlanningActionCreated {
			t.Fatalf("expected new receipt and unclassified row, got %+v", first)
		}
		again, err := workflow.ProcessReceiptFeedMessage(ctx, config.GetLogger(), settings, msg)
		if err != nil || !again.Skipped {
			t.Fatalf("expected redelivery to be skipped, got %+v (%v)", again, err)
		}

		msg.MessageId = "erp-2"
		msg.SiteCode = "OB-99"
		if _, err := workflow.ProcessReceiptFeedMessage(ctx, config.GetLogger(), settings, msg); !utils.IsValidationError(err, utils.RuleInvalidFeedMessage) {
			t.Fatalf("expected unknown site to be rejected, got %v", err)
		}
	})

	t.Run("deleting a receipt cascades its allocations", func(t *testing.T) {
		if err := models.DeleteReceipt(ctx, f.receipt.ID); err != nil {
			t.Fatalf("DeleteReceipt: %v", err)
		}
		allocations, err := models.ListAllocationsForPlanningRow(config.GetDB(), f.row.ID)
		if err != nil {
			t.Fatalf("ListAllocationsForPlanningRow: %v", err)
		}
		if len(allocations) != 0 {
			t.Fatalf("expected allocations removed with the receipt, got %d", len(allocations))
		}
	})

	t.Run("deleting a site removes its ledgers", func(t *testing.T) {
		countOnSite := func(model interface{}) int64 {
			var n int64
			if err := config.GetDB().Model(model).Where("site_id = ?", f.site.ID).Count(&n).Error; err != nil {
				t.Fatalf("count: %v", err)
			}
			return n
		}
		if countOnSite(&models.ReceiptRow{}) == 0 || countOnSite(&models.AllocationRow{}) == 0 {
			t.Fatalf("expected receipts and allocations on the site before deleting it")
		}
		if err := models.DeleteSite(ctx, f.site.ID); err != nil {
			t.Fatalf("DeleteSite: %v", err)
		}
		if n := countOnSite(&models.ReceiptRow{}); n != 0 {
			t.Fatalf("expected receipts removed with the site, got %d", n)
		}
		if n := countOnSite(&models.AllocationRow{}); n != 0 {
			t.Fatalf("expected allocations removed with the site, got %d", n)
		}
		rows, err := models.ListPlanningRows(config.GetDB(), f.site.ID)
		if err != nil {
			t.Fatalf("ListPlanningRows: %v", err)
		}
		if len(rows) != 0 {
			t.Fatalf("expected no planning rows left, got %d", len(rows))
		}
		if err := models.DeleteMaterial(ctx, f.material.ID); err != nil {
			t.Fatalf("material should be deletable once unreferenced: %v", err)
		}
	})
}
