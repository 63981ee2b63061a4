package workflow

import (
	"encoding/json"
	"testing"

	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func feedMessage() ReceiptFeedMessage {
	return ReceiptFeedMessage{
		MessageId:         "m-1",
		SiteCode:          " OB-01 ",
		MaterialCode:      "CIM-01",
		RequisitionNumber: " 4521 ",
		Solicited:         dec("100"),
		Received:          dec("40"),
		DeliveryDueDate:   "15/03/2026",
	}
}

func TestReceiptFeedMessage_ValidateNormalizes(t *testing.T) {
	msg := feedMessage()
	if err := msg.Validate(); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if msg.SiteCode != "OB-01" || msg.RequisitionNumber != "4521" {
		t.Fatalf("expected trimmed keys, got %q %q", msg.SiteCode, msg.RequisitionNumber)
	}
}

func TestReceiptFeedMessage_ValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ReceiptFeedMessage)
	}{
		{"missing message id", func(m *ReceiptFeedMessage) { m.MessageId = " " }},
		{"missing site", func(m *ReceiptFeedMessage) { m.SiteCode = "" }},
		{"missing requisition", func(m *ReceiptFeedMessage) { m.RequisitionNumber = "" }},
		{"missing material", func(m *ReceiptFeedMessage) { m.MaterialCode = "" }},
		{"bad date", func(m *ReceiptFeedMessage) { m.InvoiceDate = "next week" }},
	}
	for _, tc := range cases {
		msg := feedMessage()
		tc.mutate(&msg)
		err := msg.Validate()
		if !utils.IsValidationError(err, utils.RuleInvalidFeedMessage) {
			t.Fatalf("%s: expected invalid feed message error, got %v", tc.name, err)
		}
	}
}

func TestReceiptFeedMessage_BalanceDefault(t *testing.T) {
	msg := feedMessage()
	if got := msg.BalanceOrDefault(); !got.Equal(dec("60")) {
		t.Fatalf("expected solicited minus received 60, got %s", got)
	}

	msg.Received = dec("120")
	if got := msg.BalanceOrDefault(); !got.IsZero() {
		t.Fatalf("over-delivery must not produce a negative balance, got %s", got)
	}

	explicit := dec("7.005")
	msg.Balance = &explicit
	if got := msg.BalanceOrDefault(); !got.Equal(dec("7.01")) {
		t.Fatalf("expected explicit balance rounded to 7.01, got %s", got)
	}
}

func TestReceiptFeedMessage_DecodesNumbersAndStrings(t *testing.T) {
	raw := `{"message_id":"m-2","site_code":"OB-01","material_code":"ACO-10","requisition_number":"88",
		"solicited":"250.5","received":100,"balance":null}`
	var msg ReceiptFeedMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !msg.Solicited.Equal(dec("250.5")) || !msg.Received.Equal(dec("100")) {
		t.Fatalf("unexpected quantities %s / %s", msg.Solicited, msg.Received)
	}
	if msg.Balance != nil {
		t.Fatalf("expected absent balance, got %s", msg.Balance)
	}
}

func TestReceiptFeedMessage_ReceiptInput(t *testing.T) {
	msg := feedMessage()
	msg.SubItem = "2"
	if err := msg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	input := msg.receiptInput(3, 9)
	if input.SiteId != 3 || input.MaterialId != 9 || input.SubItem != "2" {
		t.Fatalf("unexpected receipt keys %+v", input)
	}
	if input.DeliveryDueDate == nil || input.DeliveryDueDate.Format("2006-01-02") != "2026-03-15" {
		t.Fatalf("expected due date 2026-03-15, got %v", input.DeliveryDueDate)
	}
	if input.BalanceQty == nil || !input.BalanceQty.Equal(dec("60")) {
		t.Fatalf("expected defaulted balance 60, got %v", input.BalanceQty)
	}

	material := msg.materialInput()
	if material.Description != "CIM-01" {
		t.Fatalf("expected code as description fallback, got %q", material.Description)
	}
}
