package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
)

type FindingSeverity string

const (
	SeverityError   FindingSeverity = "ERROR"
	SeverityWarning FindingSeverity = "WARNING"
)

type VerifyCheck string

// Checks are listed in report order.
const (
	CheckReceiptNegative           VerifyCheck = "RECEIPT_NEGATIVE"
	CheckReceiptBalance            VerifyCheck = "RECEIPT_BALANCE"
	CheckReceiptOverDelivered      VerifyCheck = "RECEIPT_OVER_DELIVERED"
	CheckReceiptRequisition        VerifyCheck = "RECEIPT_REQUISITION"
	CheckPlanningUnresolved        VerifyCheck = "PLANNING_UNRESOLVED"
	CheckAllocationExceedsReceived VerifyCheck = "ALLOCATION_EXCEEDS_RECEIVED"
	CheckAllocationCrossReference  VerifyCheck = "ALLOCATION_CROSS_REFERENCE"
	CheckAllocationNonPositive     VerifyCheck = "ALLOCATION_NON_POSITIVE"
	CheckMaterialDuplicateCode     VerifyCheck = "MATERIAL_DUPLICATE_CODE"
)

var checkOrder = map[VerifyCheck]int{
	CheckReceiptNegative:           1,
	CheckReceiptBalance:            2,
	CheckReceiptOverDelivered:      3,
	CheckReceiptRequisition:        4,
	CheckPlanningUnresolved:        5,
	CheckAllocationExceedsReceived: 6,
	CheckAllocationCrossReference:  7,
	CheckAllocationNonPositive:     8,
	CheckMaterialDuplicateCode:     9,
}

// LedgerSnapshot is the full ledger set read at one point in time.
type LedgerSnapshot struct {
	Materials   []Material
	Planning    []PlanningRow
	Receipts    []ReceiptRow
	Allocations []AllocationRow
}

type VerifyConfig struct {
	Tolerance decimal.Decimal
}

// Finding is reported data, not an error; the verifier never repairs anything.
type Finding struct {
	Severity   FindingSeverity `json:"severity"`
	Check      VerifyCheck     `json:"check"`
	EntityType string          `json:"entity_type"`
	EntityId   int             `json:"entity_id"`
	Message    string          `json:"message"`
	// Critical marks divergence that only a bypassed write guard can cause.
	Critical bool `json:"critical"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s id=%d: %s", f.EntityType, f.EntityId, f.Message)
}

type VerificationCounts struct {
	Materials               int `json:"materials"`
	PlanningRows            int `json:"planning_rows"`
	PlanningWithRequisition int `json:"planning_with_requisition"`
	Receipts                int `json:"receipts"`
	Allocations             int `json:"allocations"`
}

type VerificationReport struct {
	Findings []Finding          `json:"findings"`
	Counts   VerificationCounts `json:"counts"`
}

func (r VerificationReport) Errors() []Finding {
	return r.filter(SeverityError)
}

func (r VerificationReport) Warnings() []Finding {
	return r.filter(SeverityWarning)
}

func (r VerificationReport) HasErrors() bool {
	return len(r.Errors()) > 0
}

func (r VerificationReport) filter(severity FindingSeverity) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == severity {
			out = append(out, f)
		}
	}
	return out
}

// Messages renders the findings as the two ordered lists tooling consumes.
// An empty errors list means it is safe to proceed.
func (r VerificationReport) Messages() (errs []string, warnings []string) {
	errs = []string{}
	warnings = []string{}
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			errs = append(errs, f.String())
		} else {
			warnings = append(warnings, f.String())
		}
	}
	return errs, warnings
}

type consolidatedKey struct {
	siteId      int
	materialId  int
	requisition string
}

// Verify runs every check over the snapshot. It is pure: the same snapshot
// always yields the same report in the same order.
func Verify(snapshot LedgerSnapshot, cfg VerifyConfig) VerificationReport {
	tol := cfg.Tolerance
	var findings []Finding
	add := func(severity FindingSeverity, check VerifyCheck, entityType string, id int, format string, args ...interface{}) {
		findings = append(findings, Finding{
			Severity:   severity,
			Check:      check,
			EntityType: entityType,
			EntityId:   id,
			Message:    fmt.Sprintf(format, args...),
			Critical:   check == CheckAllocationExceedsReceived,
		})
	}

	receipts := make(map[int]ReceiptRow, len(snapshot.Receipts))
	consolidated := make(map[consolidatedKey]int)
	for _, r := range snapshot.Receipts {
		receipts[r.ID] = r
		if r.SubItem == "" {
			consolidated[consolidatedKey{r.SiteId, r.MaterialId, strings.TrimSpace(r.RequisitionNumber)}] = r.ID
		}

		for _, q := range []struct {
			field string
			value decimal.Decimal
		}{
			{"solicited_qty", r.SolicitedQty},
			{"received_qty", r.ReceivedQty},
			{"balance_qty", r.BalanceQty},
		} {
			if q.value.Sign() < 0 {
				add(SeverityError, CheckReceiptNegative, "ReceiptRow", r.ID,
					"requisition %s has negative %s %s", r.RequisitionNumber, q.field, fixed(q.value))
			}
		}

		total := r.ReceivedQty.Add(r.BalanceQty)
		if beyond(total, r.SolicitedQty, tol) {
			add(SeverityError, CheckReceiptBalance, "ReceiptRow", r.ID,
				"requisition %s received+balance (%s+%s) > solicited (%s)",
				r.RequisitionNumber, fixed(r.ReceivedQty), fixed(r.BalanceQty), fixed(r.SolicitedQty))
		} else if !total.Equal(r.SolicitedQty) {
			add(SeverityWarning, CheckReceiptBalance, "ReceiptRow", r.ID,
				"requisition %s received+balance (%s+%s) differs from solicited (%s)",
				r.RequisitionNumber, fixed(r.ReceivedQty), fixed(r.BalanceQty), fixed(r.SolicitedQty))
		}

		if beyond(r.ReceivedQty, r.SolicitedQty, tol) {
			add(SeverityWarning, CheckReceiptOverDelivered, "ReceiptRow", r.ID,
				"received (%s) > solicited (%s)", fixed(r.ReceivedQty), fixed(r.SolicitedQty))
		}

		if strings.TrimSpace(r.RequisitionNumber) == "" {
			add(SeverityError, CheckReceiptRequisition, "ReceiptRow", r.ID, "requisition number is empty")
		}
	}

	counts := VerificationCounts{
		Materials:    len(snapshot.Materials),
		PlanningRows: len(snapshot.Planning),
		Receipts:     len(snapshot.Receipts),
		Allocations:  len(snapshot.Allocations),
	}

	planning := make(map[int]PlanningRow, len(snapshot.Planning))
	for _, p := range snapshot.Planning {
		planning[p.ID] = p
		if !p.HasRequisition() {
			continue
		}
		counts.PlanningWithRequisition++
		key := consolidatedKey{p.SiteId, p.MaterialId, strings.TrimSpace(p.RequisitionNumber)}
		if _, ok := consolidated[key]; !ok {
			add(SeverityError, CheckPlanningUnresolved, "PlanningRow", p.ID,
				"site %d material %d requisition %s has no consolidated receipt",
				p.SiteId, p.MaterialId, strings.TrimSpace(p.RequisitionNumber))
		}
	}

	allocatedByReceipt := make(map[int]decimal.Decimal)
	for _, a := range snapshot.Allocations {
		if a.ReceiptId != nil {
			allocatedByReceipt[*a.ReceiptId] = utils.SumQuantities(allocatedByReceipt[*a.ReceiptId], a.Quantity)
		}

		if a.PlanningRowId != nil {
			if p, ok := planning[*a.PlanningRowId]; ok && (p.SiteId != a.SiteId || p.MaterialId != a.MaterialId) {
				add(SeverityError, CheckAllocationCrossReference, "AllocationRow", a.ID,
					"planning row %d (site %d, material %d) does not match allocation (site %d, material %d)",
					p.ID, p.SiteId, p.MaterialId, a.SiteId, a.MaterialId)
			}
		}
		if a.ReceiptId != nil {
			if r, ok := receipts[*a.ReceiptId]; ok && (r.SiteId != a.SiteId || r.MaterialId != a.MaterialId) {
				add(SeverityError, CheckAllocationCrossReference, "AllocationRow", a.ID,
					"receipt %d (site %d, material %d) does not match allocation (site %d, material %d)",
					r.ID, r.SiteId, r.MaterialId, a.SiteId, a.MaterialId)
			}
		}

		if a.Quantity.Sign() <= 0 {
			add(SeverityError, CheckAllocationNonPositive, "AllocationRow", a.ID,
				"quantity %s is not positive", fixed(a.Quantity))
		}
	}
	for receiptId, total := range allocatedByReceipt {
		r, ok := receipts[receiptId]
		if !ok {
			continue
		}
		if beyond(total, r.ReceivedQty, tol) {
			add(SeverityError, CheckAllocationExceedsReceived, "ReceiptRow", r.ID,
				"requisition %s allocations (%s) > received (%s)",
				r.RequisitionNumber, fixed(total), fixed(r.ReceivedQty))
		}
	}

	byCode := make(map[string][]int)
	for _, m := range snapshot.Materials {
		code := strings.TrimSpace(m.Code)
		byCode[code] = append(byCode[code], m.ID)
	}
	for code, ids := range byCode {
		if len(ids) < 2 {
			continue
		}
		sort.Ints(ids)
		add(SeverityError, CheckMaterialDuplicateCode, "Material", ids[0],
			"code %q is shared by materials %s", code, joinIds(ids))
	}

	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if checkOrder[a.Check] != checkOrder[b.Check] {
			return checkOrder[a.Check] < checkOrder[b.Check]
		}
		if a.EntityId != b.EntityId {
			return a.EntityId < b.EntityId
		}
		return a.Message < b.Message
	})
	return VerificationReport{Findings: findings, Counts: counts}
}

func fixed(d decimal.Decimal) string {
	return d.StringFixed(utils.QuantityScale)
}

func joinIds(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}

// beyond reports a > b by strictly more than tol. A difference of exactly
// tol is accepted here; the write guard in allocation uses utils.Exceeds.
func beyond(a, b, tol decimal.Decimal) bool {
	return a.GreaterThan(b) && !utils.WithinTolerance(a, b, tol)
}
