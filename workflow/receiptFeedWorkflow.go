package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/mmdatafocus/supplymap_backend/models/reports"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	FeedSource      = "erp"
	FeedHandlerName = "receipt-feed"
)

// ReceiptFeedMessage is one receipt line exported by the ERP. Dates accept
// ISO or day-first formats.
type ReceiptFeedMessage struct {
	MessageId           string           `json:"message_id" validate:"required,max=100"`
	SiteCode            string           `json:"site_code" validate:"required,max=50"`
	MaterialCode        string           `json:"material_code" validate:"required,max=50"`
	MaterialDescription string           `json:"material_description" validate:"max=500"`
	Unit                string           `json:"unit" validate:"max=20"`
	RequisitionNumber   string           `json:"requisition_number" validate:"required,max=30"`
	SubItem             string           `json:"sub_item" validate:"max=30"`
	ItemDescription     string           `json:"item_description" validate:"max=500"`
	Solicited           decimal.Decimal  `json:"solicited"`
	Received            decimal.Decimal  `json:"received"`
	Balance             *decimal.Decimal `json:"balance"`
	Supplier            string           `json:"supplier" validate:"max=200"`
	RequisitionDate     string           `json:"requisition_date"`
	PurchaseOrderNumber string           `json:"purchase_order_number" validate:"max=30"`
	PurchaseOrderDate   string           `json:"purchase_order_date"`
	DeliveryDueDate     string           `json:"delivery_due_date"`
	InvoiceNumber       string           `json:"invoice_number" validate:"max=50"`
	InvoiceDate         string           `json:"invoice_date"`
}

type ReceiptFeedResult struct {
	// Skipped is set when the message id was already processed.
	Skipped        bool               `json:"skipped"`
	Receipt        *models.ReceiptRow `json:"receipt,omitempty"`
	Created        bool               `json:"created"`
	PlanningRowId  *int               `json:"planning_row_id,omitempty"`
	PlanningAction string             `json:"planning_action,omitempty"`
}

const (
	PlanningActionLinked  = "LINKED"
	PlanningActionStamped = "STAMPED"
	PlanningActionCreated = "CREATED"
)

// Validate normalizes the message and checks what needs no database.
func (m *ReceiptFeedMessage) Validate() error {
	m.MessageId = strings.TrimSpace(m.MessageId)
	m.SiteCode = strings.TrimSpace(m.SiteCode)
	m.MaterialCode = strings.TrimSpace(m.MaterialCode)
	m.RequisitionNumber = strings.TrimSpace(m.RequisitionNumber)
	m.SubItem = strings.TrimSpace(m.SubItem)
	m.PurchaseOrderNumber = strings.TrimSpace(m.PurchaseOrderNumber)
	if err := utils.ValidateStruct(m); err != nil {
		var verr *utils.ValidationError
		if errors.As(err, &verr) {
			verr.Rule = utils.RuleInvalidFeedMessage
		}
		return err
	}
	for field, raw := range map[string]string{
		"requisition_date":    m.RequisitionDate,
		"purchase_order_date": m.PurchaseOrderDate,
		"delivery_due_date":   m.DeliveryDueDate,
		"invoice_date":        m.InvoiceDate,
	} {
		if _, err := utils.ParseDate(raw); err != nil {
			return utils.NewValidationError(utils.RuleInvalidFeedMessage, field, "%s", err.Error())
		}
	}
	return nil
}

// BalanceOrDefault is the ERP balance, or solicited minus received when absent.
func (m ReceiptFeedMessage) BalanceOrDefault() decimal.Decimal {
	if m.Balance != nil {
		return utils.NormalizeQuantity(*m.Balance)
	}
	return models.DefaultBalance(m.Solicited, m.Received)
}

func (m ReceiptFeedMessage) materialInput() *models.NewMaterial {
	description := strings.TrimSpace(m.MaterialDescription)
	if description == "" {
		description = strings.TrimSpace(m.ItemDescription)
	}
	if description == "" {
		description = m.MaterialCode
	}
	return &models.NewMaterial{Code: m.MaterialCode, Description: description, Unit: m.Unit}
}

func (m ReceiptFeedMessage) receiptInput(siteId, materialId int) *models.NewReceipt {
	// dates were checked in Validate
	requisitionDate, _ := utils.ParseDate(m.RequisitionDate)
	purchaseOrderDate, _ := utils.ParseDate(m.PurchaseOrderDate)
	dueDate, _ := utils.ParseDate(m.DeliveryDueDate)
	invoiceDate, _ := utils.ParseDate(m.InvoiceDate)
	balance := m.BalanceOrDefault()
	return &models.NewReceipt{
		SiteId:              siteId,
		MaterialId:          materialId,
		RequisitionNumber:   m.RequisitionNumber,
		SubItem:             m.SubItem,
		ItemDescription:     m.ItemDescription,
		SolicitedQty:        m.Solicited,
		ReceivedQty:         m.Received,
		BalanceQty:          &balance,
		Supplier:            m.Supplier,
		RequisitionDate:     requisitionDate,
		PurchaseOrderNumber: m.PurchaseOrderNumber,
		PurchaseOrderDate:   purchaseOrderDate,
		DeliveryDueDate:     dueDate,
		InvoiceNumber:       m.InvoiceNumber,
		InvoiceDate:         invoiceDate,
	}
}

// ProcessReceiptFeedMessage upserts the receipt line of one feed message.
// Redelivered message ids are skipped. A ValidationError means the message can
// never succeed and should be acknowledged.
func ProcessReceiptFeedMessage(ctx context.Context, logger *logrus.Logger, settings config.SupplySettings, msg ReceiptFeedMessage) (*ReceiptFeedResult, error) {
	ctx, span := tracer.Start(ctx, "workflow.ProcessReceiptFeedMessage")
	defer span.End()

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	var result ReceiptFeedResult
	db := config.GetDB().WithContext(ctx)
	err := WithSiteFeedLock(db, msg.SiteCode, func(tx *gorm.DB) error {
		skip, err := BeginIdempotency(tx, FeedSource, FeedHandlerName, msg.MessageId)
		if err != nil {
			return err
		}
		if skip {
			result.Skipped = true
			return nil
		}
		if err := applyReceiptFeed(tx, settings, msg, &result); err != nil {
			return err
		}
		return MarkIdempotencySucceeded(tx, FeedSource, FeedHandlerName, msg.MessageId)
	})
	if err != nil {
		span.RecordError(err)
		if utils.IsValidationError(err, "") {
			recordFeedRejection(ctx, logger, msg, err)
		} else {
			config.LogError(logger, "receiptFeedWorkflow.go", "ProcessReceiptFeedMessage", "processing feed message", msg, err)
		}
		return nil, err
	}

	if !result.Skipped {
		reports.InvalidateSupplyMaps(ctx)
	}

	fields := logrus.Fields{
		"field":       "ProcessReceiptFeedMessage",
		"message_id":  msg.MessageId,
		"site_code":   msg.SiteCode,
		"requisition": msg.RequisitionNumber,
		"material":    msg.MaterialCode,
		"skipped":     result.Skipped,
	}
	if result.Receipt != nil {
		fields["receipt_id"] = result.Receipt.ID
		fields["created"] = result.Created
		fields["planning_action"] = result.PlanningAction
	}
	logger.WithFields(fields).Info("receipt feed message processed")
	return &result, nil
}

func applyReceiptFeed(tx *gorm.DB, settings config.SupplySettings, msg ReceiptFeedMessage, result *ReceiptFeedResult) error {
	site, err := models.GetSiteByCode(tx, msg.SiteCode)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return utils.NewValidationError(utils.RuleInvalidFeedMessage, "site_code", "unknown site %q", msg.SiteCode)
		}
		return err
	}
	material, err := models.UpsertMaterialTx(tx, msg.materialInput(), settings.DefaultUnit)
	if err != nil {
		return err
	}
	receipt, created, err := models.UpsertReceiptTx(tx, msg.receiptInput(site.ID, material.ID))
	if err != nil {
		return err
	}
	result.Receipt = receipt
	result.Created = created

	// sub-item lines never resolve, only the consolidated line links planning
	if receipt.SubItem != "" {
		return nil
	}
	return linkPlanningRow(tx, settings, receipt, result)
}

// linkPlanningRow makes sure a planning row points at a consolidated receipt:
// an existing reference is left alone, otherwise the site's requisition-less
// unclassified row for the material is stamped, otherwise one is created.
func linkPlanningRow(tx *gorm.DB, settings config.SupplySettings, receipt *models.ReceiptRow, result *ReceiptFeedResult) error {
	var linked []models.PlanningRow
	if err := tx.Select("id").
		Where("site_id = ? AND material_id = ? AND requisition_number = ?", receipt.SiteId, receipt.MaterialId, receipt.RequisitionNumber).
		Order("id").Limit(1).Find(&linked).Error; err != nil {
		return err
	}
	if len(linked) > 0 {
		result.PlanningRowId = &linked[0].ID
		result.PlanningAction = PlanningActionLinked
		return nil
	}
	if !settings.CreateUnclassifiedRows {
		return nil
	}

	var placeholders []models.PlanningRow
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("site_id = ? AND material_id = ? AND category = ? AND location_id IS NULL AND (requisition_number = '' OR requisition_number IS NULL)",
			receipt.SiteId, receipt.MaterialId, models.CategoryUnclassified).
		Order("id").Limit(1).Find(&placeholders).Error; err != nil {
		return err
	}
	if len(placeholders) > 0 {
		row, err := models.AttachRequisitionTx(tx, placeholders[0].ID, receipt.RequisitionNumber)
		if err != nil {
			return err
		}
		result.PlanningRowId = &row.ID
		result.PlanningAction = PlanningActionStamped
		return nil
	}

	row, err := models.CreatePlanningRowTx(tx, &models.NewPlanningRow{
		SiteId:            receipt.SiteId,
		MaterialId:        receipt.MaterialId,
		Category:          models.CategoryUnclassified,
		PlannedQty:        receipt.SolicitedQty,
		RequisitionNumber: receipt.RequisitionNumber,
	})
	if err != nil {
		if utils.IsValidationError(err, utils.RuleDuplicatePlanningRow) {
			// the location-less unclassified slot is taken by a row of another requisition
			return nil
		}
		return fmt.Errorf("creating unclassified planning row: %w", err)
	}
	result.PlanningRowId = &row.ID
	result.PlanningAction = PlanningActionCreated
	return nil
}

// recordFeedRejection keeps the failed message id visible in idempotency_keys
// after the processing transaction rolled back.
func recordFeedRejection(ctx context.Context, logger *logrus.Logger, msg ReceiptFeedMessage, cause error) {
	if msg.MessageId == "" {
		return
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip, err := BeginIdempotency(tx, FeedSource, FeedHandlerName, msg.MessageId)
		if err != nil || skip {
			return err
		}
		return MarkIdempotencyFailed(tx, FeedSource, FeedHandlerName, msg.MessageId, cause)
	})
	logger.WithFields(logrus.Fields{
		"field":      "ProcessReceiptFeedMessage",
		"message_id": msg.MessageId,
		"site_code":  msg.SiteCode,
	}).Warn("receipt feed message rejected: " + cause.Error())
	if err != nil {
		logger.WithField("message_id", msg.MessageId).Warn("could not record rejection: " + err.Error())
	}
}
