package workflow

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, sheets map[string][][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	first := true
	for name, rows := range sheets {
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatalf("rename sheet: %v", err)
			}
			first = false
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatalf("new sheet: %v", err)
		}
		for i, row := range rows {
			cell, _ := excelize.CoordinatesToCellName(1, i+1)
			values := row
			if err := f.SetSheetRow(name, cell, &values); err != nil {
				t.Fatalf("write row: %v", err)
			}
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

var erpHeading = []interface{}{
	"Cód. Obra", "Nº da SC", "Item", "Cód. Insumo", "Descrição do Insumo", "Qt. Solicitada",
	"Quant. Entregue", "Saldo", "Nº do PC", "Previsão de Entrega", "Fornecedor",
}

func TestParseReceiptWorkbook_ConsolidatesLines(t *testing.T) {
	data := buildWorkbook(t, map[string][][]interface{}{
		"Export": {
			{"Relatório de Entregas"},
			{},
			erpHeading,
			{"OB-01", "4521", "1", "CIM-01", "Cimento CP II", "1.000,00", "300,00", "", "PC-9", "20/03/2026", "Votoran"},
			{"", "", "2", "", "", "", "450,00", "550,00", "", "", ""},
			erpHeading,
			{"OB-01", "4522", "1", "ACO-10", "Aço CA-50", "200", "0", "", "", "", ""},
			{"OB-01", "4523", "1", "ARE-01", "Areia", "0", "0", "", "", "", ""},
		},
	})

	book, err := ParseReceiptWorkbook(bytes.NewReader(data), "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if book.Sheet != "Export" || book.HeaderRow != 3 {
		t.Fatalf("expected heading on row 3 of Export, got %s row %d", book.Sheet, book.HeaderRow)
	}
	if len(book.Messages) != 2 {
		t.Fatalf("expected 2 consolidated lines, got %+v", book.Messages)
	}

	cement := book.Messages[0]
	if cement.RequisitionNumber != "4521" || cement.MaterialCode != "CIM-01" || cement.SubItem != "" {
		t.Fatalf("unexpected key %+v", cement)
	}
	if !cement.Solicited.Equal(dec("1000")) || !cement.Received.Equal(dec("450")) {
		t.Fatalf("expected solicited 1000 and max received 450, got %s / %s", cement.Solicited, cement.Received)
	}
	if cement.Balance == nil || !cement.Balance.Equal(dec("550")) {
		t.Fatalf("expected balance 550, got %v", cement.Balance)
	}
	if cement.PurchaseOrderNumber != "PC-9" || cement.Supplier != "Votoran" || cement.DeliveryDueDate != "20/03/2026" {
		t.Fatalf("expected first non-empty text kept, got %+v", cement)
	}
	if err := cement.Validate(); err != nil {
		t.Fatalf("parsed line must be a valid feed message: %v", err)
	}
	if !strings.HasPrefix(cement.MessageId, "xlsx:"+book.Hash[:16]) {
		t.Fatalf("expected message id derived from file hash, got %q", cement.MessageId)
	}

	var skippedNothingSolicited bool
	for _, s := range book.Skipped {
		if strings.Contains(s, "4523") {
			skippedNothingSolicited = true
		}
	}
	if !skippedNothingSolicited {
		t.Fatalf("expected requisition 4523 skipped, got %v", book.Skipped)
	}
}

func TestParseReceiptWorkbook_SameFileSameIds(t *testing.T) {
	data := buildWorkbook(t, map[string][][]interface{}{
		"Export": {
			erpHeading,
			{"OB-01", "4521", "1", "CIM-01", "Cimento", "10", "5", "", "", "", ""},
		},
	})
	first, err := ParseReceiptWorkbook(bytes.NewReader(data), "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	second, err := ParseReceiptWorkbook(bytes.NewReader(data), "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if first.Messages[0].MessageId != second.Messages[0].MessageId {
		t.Fatalf("expected stable message ids, got %q and %q", first.Messages[0].MessageId, second.Messages[0].MessageId)
	}
}

func TestParseReceiptWorkbook_FallbackSite(t *testing.T) {
	data := buildWorkbook(t, map[string][][]interface{}{
		"Export": {
			{"Nº da SC", "Cód. Insumo", "Qt. Solicitada"},
			{"77", "TIJ-01", "500"},
		},
	})
	if _, err := ParseReceiptWorkbook(bytes.NewReader(data), ""); err != nil {
		t.Fatalf("parse: %v", err)
	}
	book, err := ParseReceiptWorkbook(bytes.NewReader(data), "OB-02")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(book.Messages) != 1 || book.Messages[0].SiteCode != "OB-02" {
		t.Fatalf("expected fallback site OB-02, got %+v", book.Messages)
	}
}

func TestParseReceiptWorkbook_NoHeading(t *testing.T) {
	data := buildWorkbook(t, map[string][][]interface{}{
		"Sheet": {{"a", "b"}, {"1", "2"}},
	})
	_, err := ParseReceiptWorkbook(bytes.NewReader(data), "OB-01")
	if !utils.IsValidationError(err, utils.RuleInvalidFeedMessage) {
		t.Fatalf("expected invalid file error, got %v", err)
	}
}

func TestNormalizeHeading(t *testing.T) {
	cases := [][2]string{
		{"Nº da SC", "N DA SC"},
		{"  Cód.   Insumo ", "COD. INSUMO"},
		{"Previsão de Entrega", "PREVISAO DE ENTREGA"},
		{"DESCRIÇÃO DO INSUMO", "DESCRICAO DO INSUMO"},
	}
	for _, tc := range cases {
		if got := normalizeHeading(tc[0]); got != tc[1] {
			t.Fatalf("normalizeHeading(%q) expected %q, got %q", tc[0], tc[1], got)
		}
	}
}
