package models

import (
	"strings"
	"testing"

	"github.com/mmdatafocus/supplymap_backend/utils"
)

var verifyCfg = VerifyConfig{Tolerance: utils.DefaultTolerance}

func cleanSnapshot() LedgerSnapshot {
	receiptId := 10
	planningId := 1
	return LedgerSnapshot{
		Materials: []Material{{ID: 2, Code: "CIM-01"}, {ID: 3, Code: "ACO-10"}},
		Planning: []PlanningRow{
			{ID: 1, SiteId: 1, MaterialId: 2, RequisitionNumber: "SC-1", PlannedQty: dec("100")},
			{ID: 2, SiteId: 1, MaterialId: 3, PlannedQty: dec("20")},
		},
		Receipts: []ReceiptRow{
			{ID: 10, SiteId: 1, MaterialId: 2, RequisitionNumber: "SC-1", SolicitedQty: dec("100"), ReceivedQty: dec("60"), BalanceQty: dec("40")},
			{ID: 11, SiteId: 1, MaterialId: 2, RequisitionNumber: "SC-1", SubItem: "1", SolicitedQty: dec("50"), ReceivedQty: dec("50")},
		},
		Allocations: []AllocationRow{
			{ID: 100, SiteId: 1, MaterialId: 2, LocationId: 5, ReceiptId: &receiptId, PlanningRowId: &planningId, Quantity: dec("60")},
		},
	}
}

func TestVerify_Empty(t *testing.T) {
	errs, warnings := Verify(LedgerSnapshot{}, verifyCfg).Messages()
	if len(errs) != 0 || len(warnings) != 0 {
		t.Fatalf("expected no findings, got errors=%v warnings=%v", errs, warnings)
	}
}

func TestVerify_CleanSnapshot(t *testing.T) {
	report := Verify(cleanSnapshot(), verifyCfg)
	if len(report.Findings) != 0 {
		t.Fatalf("expected clean report, got %+v", report.Findings)
	}
	if report.Counts.PlanningWithRequisition != 1 || report.Counts.Allocations != 1 {
		t.Fatalf("unexpected counts %+v", report.Counts)
	}
}

func TestVerify_ReceiptBalanceError(t *testing.T) {
	snapshot := cleanSnapshot()
	snapshot.Receipts = append(snapshot.Receipts, ReceiptRow{
		ID: 12, SiteId: 1, MaterialId: 3, RequisitionNumber: "SC-2",
		SolicitedQty: dec("100"), ReceivedQty: dec("60"), BalanceQty: dec("50"),
	})
	report := Verify(snapshot, verifyCfg)
	errs := report.Errors()
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error, got %+v", errs)
	}
	if errs[0].Check != CheckReceiptBalance || errs[0].EntityId != 12 {
		t.Fatalf("expected balance error on receipt 12, got %+v", errs[0])
	}
	if len(report.Warnings()) != 0 {
		t.Fatalf("error row must not also warn, got %+v", report.Warnings())
	}
}

func TestVerify_ReceiptBalanceWarning(t *testing.T) {
	snapshot := cleanSnapshot()
	snapshot.Receipts[0].BalanceQty = dec("30")
	report := Verify(snapshot, verifyCfg)
	if report.HasErrors() {
		t.Fatalf("expected no errors, got %+v", report.Errors())
	}
	warnings := report.Warnings()
	if len(warnings) != 1 || warnings[0].Check != CheckReceiptBalance {
		t.Fatalf("expected one balance warning, got %+v", warnings)
	}
}

func TestVerify_UnresolvedRequisition(t *testing.T) {
	snapshot := cleanSnapshot()
	snapshot.Planning = append(snapshot.Planning, PlanningRow{ID: 7, SiteId: 1, MaterialId: 2, RequisitionNumber: "SC-404"})
	errs := Verify(snapshot, verifyCfg).Errors()
	if len(errs) != 1 || errs[0].Check != CheckPlanningUnresolved || errs[0].EntityId != 7 {
		t.Fatalf("expected one unresolved error for row 7, got %+v", errs)
	}
}

func TestVerify_SubItemOnlyDoesNotResolve(t *testing.T) {
	snapshot := cleanSnapshot()
	snapshot.Receipts = append(snapshot.Receipts, ReceiptRow{
		ID: 20, SiteId: 1, MaterialId: 3, RequisitionNumber: "SC-9", SubItem: "1",
		SolicitedQty: dec("5"), ReceivedQty: dec("5"),
	})
	snapshot.Planning[1].RequisitionNumber = "SC-9"
	errs := Verify(snapshot, verifyCfg).Errors()
	if len(errs) != 1 || errs[0].Check != CheckPlanningUnresolved || errs[0].EntityId != 2 {
		t.Fatalf("expected planning row 2 unresolved, got %+v", errs)
	}
}

func TestVerify_AllocationExceedsReceived(t *testing.T) {
	snapshot := cleanSnapshot()
	snapshot.Allocations[0].Quantity = dec("75")
	errs := Verify(snapshot, verifyCfg).Errors()
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error, got %+v", errs)
	}
	if errs[0].Check != CheckAllocationExceedsReceived || errs[0].EntityId != 10 || !errs[0].Critical {
		t.Fatalf("expected critical exceeds-received error on receipt 10, got %+v", errs[0])
	}
}

func TestVerify_AllocationWithinTolerance(t *testing.T) {
	snapshot := cleanSnapshot()
	snapshot.Allocations[0].Quantity = dec("60.009")
	if report := Verify(snapshot, verifyCfg); report.HasErrors() {
		t.Fatalf("sub-tolerance excess must pass, got %+v", report.Errors())
	}
}

func TestVerify_ToleranceBoundary(t *testing.T) {
	snapshot := cleanSnapshot()
	snapshot.Receipts[0].BalanceQty = dec("40.01")
	snapshot.Allocations[0].Quantity = dec("60.01")
	report := Verify(snapshot, verifyCfg)
	if report.HasErrors() {
		t.Fatalf("a difference of exactly the tolerance must not be an error, got %+v", report.Errors())
	}
	warnings := report.Warnings()
	if len(warnings) != 1 || warnings[0].Check != CheckReceiptBalance || warnings[0].EntityId != 10 {
		t.Fatalf("expected one balance warning on receipt 10, got %+v", warnings)
	}

	snapshot.Receipts[0].BalanceQty = dec("40.02")
	snapshot.Allocations[0].Quantity = dec("60.02")
	errs := Verify(snapshot, verifyCfg).Errors()
	if len(errs) != 2 {
		t.Fatalf("expected balance and allocation errors, got %+v", errs)
	}
	if errs[0].Check != CheckReceiptBalance || errs[1].Check != CheckAllocationExceedsReceived {
		t.Fatalf("unexpected findings %+v", errs)
	}
}

func TestVerify_AllocationCrossReferenceAndNonPositive(t *testing.T) {
	snapshot := cleanSnapshot()
	receiptId := 10
	snapshot.Allocations = append(snapshot.Allocations,
		AllocationRow{ID: 101, SiteId: 1, MaterialId: 3, LocationId: 5, ReceiptId: &receiptId, Quantity: dec("0")},
	)
	errs := Verify(snapshot, verifyCfg).Errors()
	if len(errs) != 2 {
		t.Fatalf("expected two errors, got %+v", errs)
	}
	if errs[0].Check != CheckAllocationCrossReference || errs[1].Check != CheckAllocationNonPositive {
		t.Fatalf("unexpected order %+v", errs)
	}
}

func TestVerify_DuplicateMaterialCode(t *testing.T) {
	snapshot := cleanSnapshot()
	snapshot.Materials = append(snapshot.Materials, Material{ID: 9, Code: "CIM-01 "})
	errs := Verify(snapshot, verifyCfg).Errors()
	if len(errs) != 1 || errs[0].Check != CheckMaterialDuplicateCode {
		t.Fatalf("expected one duplicate code error, got %+v", errs)
	}
	if !strings.Contains(errs[0].Message, "2, 9") {
		t.Fatalf("expected both material ids named, got %q", errs[0].Message)
	}
}

func TestVerify_NegativeAndEmptyRequisition(t *testing.T) {
	snapshot := LedgerSnapshot{Receipts: []ReceiptRow{
		{ID: 3, SiteId: 1, MaterialId: 1, RequisitionNumber: "", SolicitedQty: dec("10"), ReceivedQty: dec("-1"), BalanceQty: dec("11")},
	}}
	report := Verify(snapshot, verifyCfg)
	var checks []VerifyCheck
	for _, f := range report.Errors() {
		checks = append(checks, f.Check)
	}
	want := []VerifyCheck{CheckReceiptNegative, CheckReceiptRequisition}
	if len(checks) != len(want) {
		t.Fatalf("expected %v, got %v", want, checks)
	}
	for i := range want {
		if checks[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, checks)
		}
	}
}

func TestVerify_Deterministic(t *testing.T) {
	snapshot := cleanSnapshot()
	snapshot.Planning = append(snapshot.Planning,
		PlanningRow{ID: 9, SiteId: 1, MaterialId: 2, RequisitionNumber: "SC-X"},
		PlanningRow{ID: 8, SiteId: 1, MaterialId: 2, RequisitionNumber: "SC-Y"},
	)
	first, _ := Verify(snapshot, verifyCfg).Messages()
	second, _ := Verify(snapshot, verifyCfg).Messages()
	if strings.Join(first, "|") != strings.Join(second, "|") {
		t.Fatalf("expected identical output, got %v and %v", first, second)
	}
	if !strings.Contains(first[0], "id=8") {
		t.Fatalf("expected findings ordered by id, got %v", first)
	}
}
