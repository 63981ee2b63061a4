package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReceiptRow is one line of the ERP-fed receipt ledger. SubItem "" is the
// consolidated line for (site, requisition, material).
type ReceiptRow struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	SiteId              int             `gorm:"not null;uniqueIndex:uniq_receipt_key,priority:1;index" json:"site_id"`
	RequisitionNumber   string          `gorm:"size:30;not null;uniqueIndex:uniq_receipt_key,priority:2" json:"requisition_number"`
	MaterialId          int             `gorm:"not null;uniqueIndex:uniq_receipt_key,priority:3;index" json:"material_id"`
	SubItem             string          `gorm:"size:30;not null;default:'';uniqueIndex:uniq_receipt_key,priority:4" json:"sub_item"`
	ItemDescription     string          `gorm:"size:500" json:"item_description"`
	SolicitedQty        decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"solicited_qty"`
	ReceivedQty         decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"received_qty"`
	BalanceQty          decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"balance_qty"`
	Supplier            string          `gorm:"size:200" json:"supplier"`
	RequisitionDate     *time.Time      `gorm:"type:date" json:"requisition_date"`
	PurchaseOrderNumber string          `gorm:"size:30;index" json:"purchase_order_number"`
	PurchaseOrderDate   *time.Time      `gorm:"type:date" json:"purchase_order_date"`
	DeliveryDueDate     *time.Time      `gorm:"type:date" json:"delivery_due_date"`
	InvoiceNumber       string          `gorm:"size:50" json:"invoice_number"`
	InvoiceDate         *time.Time      `gorm:"type:date" json:"invoice_date"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r ReceiptRow) HasPurchaseOrder() bool {
	return strings.TrimSpace(r.PurchaseOrderNumber) != ""
}

// State summarizes delivery progress of the receipt line itself.
func (r ReceiptRow) State() ReceiptState {
	switch {
	case !r.HasPurchaseOrder():
		return ReceiptAwaitingPurchaseOrder
	case r.ReceivedQty.Sign() <= 0:
		return ReceiptAwaitingDelivery
	case r.ReceivedQty.LessThan(r.SolicitedQty):
		return ReceiptPartial
	}
	return ReceiptComplete
}

// OverDelivered reports more received than solicited.
func (r ReceiptRow) OverDelivered() bool {
	return r.SolicitedQty.Sign() > 0 && r.ReceivedQty.GreaterThan(r.SolicitedQty)
}

// Available is received minus what is already allocated, floored at zero.
func (r ReceiptRow) Available(allocated decimal.Decimal) decimal.Decimal {
	return utils.ClampZero(r.ReceivedQty.Sub(allocated))
}

type NewReceipt struct {
	SiteId            int             `json:"site_id" validate:"required,gt=0"`
	MaterialId        int             `json:"material_id" validate:"required,gt=0"`
	RequisitionNumber string          `json:"requisition_number" validate:"max=30"`
	SubItem           string          `json:"sub_item" validate:"max=30"`
	ItemDescription   string          `json:"item_description" validate:"max=500"`
	SolicitedQty      decimal.Decimal `json:"solicited_qty"`
	ReceivedQty       decimal.Decimal `json:"received_qty"`
	// BalanceQty defaults to solicited minus received when absent.
	BalanceQty          *decimal.Decimal `json:"balance_qty"`
	Supplier            string           `json:"supplier" validate:"max=200"`
	RequisitionDate     *time.Time       `json:"requisition_date"`
	PurchaseOrderNumber string           `json:"purchase_order_number" validate:"max=30"`
	PurchaseOrderDate   *time.Time       `json:"purchase_order_date"`
	DeliveryDueDate     *time.Time       `json:"delivery_due_date"`
	InvoiceNumber       string           `json:"invoice_number" validate:"max=50"`
	InvoiceDate         *time.Time       `json:"invoice_date"`
}

func (input *NewReceipt) validate() error {
	input.RequisitionNumber = strings.TrimSpace(input.RequisitionNumber)
	input.SubItem = strings.TrimSpace(input.SubItem)
	input.PurchaseOrderNumber = strings.TrimSpace(input.PurchaseOrderNumber)
	input.SolicitedQty = utils.NormalizeQuantity(input.SolicitedQty)
	input.ReceivedQty = utils.NormalizeQuantity(input.ReceivedQty)
	balance := DefaultBalance(input.SolicitedQty, input.ReceivedQty)
	if input.BalanceQty != nil {
		balance = utils.NormalizeQuantity(*input.BalanceQty)
	}
	input.BalanceQty = &balance

	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.RequisitionNumber == "" {
		return utils.NewValidationError(utils.RuleRequired, "requisition_number", "must not be empty")
	}
	if err := utils.CheckQuantity("solicited_qty", input.SolicitedQty); err != nil {
		return err
	}
	if err := utils.CheckQuantity("received_qty", input.ReceivedQty); err != nil {
		return err
	}
	return utils.CheckQuantity("balance_qty", *input.BalanceQty)
}

// DefaultBalance is what is still to be delivered, never negative.
func DefaultBalance(solicited, received decimal.Decimal) decimal.Decimal {
	return utils.ClampZero(utils.NormalizeQuantity(solicited).Sub(utils.NormalizeQuantity(received)))
}

// UpsertReceipt writes the receipt line keyed by (site, requisition, material, sub-item).
func UpsertReceipt(ctx context.Context, input *NewReceipt) (*ReceiptRow, error) {
	var result *ReceiptRow
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, _, err := UpsertReceiptTx(tx, input)
		result = row
		return err
	})
	return result, err
}

// UpsertReceiptTx returns the stored row and whether it was created.
func UpsertReceiptTx(tx *gorm.DB, input *NewReceipt) (*ReceiptRow, bool, error) {
	if err := input.validate(); err != nil {
		return nil, false, err
	}

	var existing ReceiptRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("site_id = ? AND requisition_number = ? AND material_id = ? AND sub_item = ?",
			input.SiteId, input.RequisitionNumber, input.MaterialId, input.SubItem).
		First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	created := errors.Is(err, gorm.ErrRecordNotFound)

	before := existing
	row := existing
	row.SiteId = input.SiteId
	row.RequisitionNumber = input.RequisitionNumber
	row.MaterialId = input.MaterialId
	row.SubItem = input.SubItem
	row.ItemDescription = strings.TrimSpace(input.ItemDescription)
	row.SolicitedQty = input.SolicitedQty
	row.ReceivedQty = input.ReceivedQty
	row.BalanceQty = *input.BalanceQty
	row.Supplier = strings.TrimSpace(input.Supplier)
	row.RequisitionDate = input.RequisitionDate
	row.PurchaseOrderNumber = input.PurchaseOrderNumber
	row.PurchaseOrderDate = input.PurchaseOrderDate
	row.DeliveryDueDate = input.DeliveryDueDate
	row.InvoiceNumber = strings.TrimSpace(input.InvoiceNumber)
	row.InvoiceDate = input.InvoiceDate

	if created {
		if err := tx.Create(&row).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return nil, false, utils.NewValidationError(utils.RuleDuplicateKey, "requisition_number",
					"receipt %s/%s for material %d already exists", input.RequisitionNumber, input.SubItem, input.MaterialId)
			}
			return nil, false, err
		}
	} else if err := tx.Save(&row).Error; err != nil {
		return nil, false, err
	}

	entry := historyEntry{
		siteId:        row.SiteId,
		actionType:    HistoryTypeImport,
		referenceType: "receipt_rows",
		referenceId:   row.ID,
		after:         row,
		description: fmt.Sprintf("receipt %s item %q: solicited %s received %s",
			row.RequisitionNumber, row.SubItem,
			row.SolicitedQty.StringFixed(utils.QuantityScale), row.ReceivedQty.StringFixed(utils.QuantityScale)),
	}
	if !created {
		entry.before = before
	}
	if err := createHistory(tx, entry); err != nil {
		return nil, false, err
	}
	return &row, created, nil
}

// ResolveReceipt picks the consolidated receipt for a planning row among
// candidates. Sub-item rows are never chosen; no consolidated row means no receipt.
func ResolveReceipt(row PlanningRow, candidates []ReceiptRow) *ReceiptRow {
	if !row.HasRequisition() {
		return nil
	}
	requisition := strings.TrimSpace(row.RequisitionNumber)
	for i := range candidates {
		c := candidates[i]
		if c.SiteId == row.SiteId && c.MaterialId == row.MaterialId &&
			c.RequisitionNumber == requisition && c.SubItem == "" {
			return &candidates[i]
		}
	}
	return nil
}

func ResolveReceiptTx(tx *gorm.DB, row PlanningRow) (*ReceiptRow, error) {
	if !row.HasRequisition() {
		return nil, nil
	}
	var candidates []ReceiptRow
	err := tx.Where("site_id = ? AND material_id = ? AND requisition_number = ? AND sub_item = ?",
		row.SiteId, row.MaterialId, strings.TrimSpace(row.RequisitionNumber), "").
		Limit(1).Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	return ResolveReceipt(row, candidates), nil
}

// DeleteReceipt removes the receipt and every allocation drawn from it.
func DeleteReceipt(ctx context.Context, id int) error {
	return config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row ReceiptRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		res := tx.Where("receipt_id = ?", id).Delete(&AllocationRow{})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Delete(&row).Error; err != nil {
			return err
		}
		return createHistory(tx, historyEntry{
			siteId:        row.SiteId,
			actionType:    HistoryTypeDelete,
			referenceType: "receipt_rows",
			referenceId:   row.ID,
			before:        row,
			description:   fmt.Sprintf("receipt deleted with %d allocations", res.RowsAffected),
		})
	})
}

func GetReceipt(ctx context.Context, id int) (*ReceiptRow, error) {
	return utils.FetchModel[ReceiptRow](ctx, config.GetDB(), id)
}
