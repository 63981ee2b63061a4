package workflow

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// header scan stops after this many rows of a sheet
const maxHeaderScan = 120

type importColumn string

const (
	colSiteCode          importColumn = "site_code"
	colRequisition       importColumn = "requisition_number"
	colMaterialCode      importColumn = "material_code"
	colMaterialDesc      importColumn = "material_description"
	colSolicited         importColumn = "solicited"
	colReceived          importColumn = "received"
	colBalance           importColumn = "balance"
	colRequisitionDate   importColumn = "requisition_date"
	colPurchaseOrder     importColumn = "purchase_order_number"
	colPurchaseOrderDate importColumn = "purchase_order_date"
	colDeliveryDue       importColumn = "delivery_due_date"
	colInvoice           importColumn = "invoice_number"
	colInvoiceDate       importColumn = "invoice_date"
	colSupplier          importColumn = "supplier"
	colUnit              importColumn = "unit"
)

// column headings of the ERP receipt export, matched after accent stripping
var importAliases = map[importColumn][]string{
	colSiteCode:          {"COD. OBRA", "COD OBRA", "CODIGO OBRA", "CODIGO_DA_OBRA", "COD_OBRA", "OBRA"},
	colRequisition:       {"Nº DA SC", "N DA SC", "NUMERO SC", "NUMERO_DA_SC", "SC", "NSC", "N. DA SC", "N. SC"},
	colMaterialCode:      {"COD. INSUMO", "COD INSUMO", "CODIGO INSUMO", "CODIGO_DO_INSUMO", "COD_INSUMO"},
	colMaterialDesc:      {"DESCRICAO DO INSUMO", "DESCRICAO", "DESC INSUMO", "DESC. INSUMO"},
	colSolicited:         {"QT. SOLICITADA", "QT SOLICITADA", "QUANTIDADE SOLICITADA", "QTD SOLICITADA", "QUANT SOLICITADA"},
	colReceived:          {"QUANT. ENTREGUE", "QUANT ENTREGUE", "QTD ENTREGUE", "QUANTIDADE ENTREGUE", "QTD_ENTREGUE", "QT. ENTREGUE"},
	colBalance:           {"SALDO", "SALDO A ENTREGAR", "SALDO_A_ENTREGAR", "SALDO ENTREGAR"},
	colRequisitionDate:   {"DATA DA SC", "DATA SC", "DATA_SOLICITACAO"},
	colPurchaseOrder:     {"Nº DO PC", "N DO PC", "NUMERO PC", "NUMERO_DO_PC", "PC", "NPC", "N. DO PC", "N. PC"},
	colPurchaseOrderDate: {"DATA EMISSAO DO PC", "DATA_PC", "DATA DO PC", "DATA EMISSAO PC"},
	colDeliveryDue:       {"PREVISAO DE ENTREGA", "PRAZO ENTREGA", "PRAZO_RECEBIMENTO", "PREVISAO ENTREGA"},
	colInvoice:           {"Nº DA NF", "N DA NF", "NUMERO NF", "NUMERO_DA_NF", "NF", "NNF", "N. DA NF", "N. NF"},
	colInvoiceDate:       {"DATA DA NF", "DATA NF", "DATA_NOTA_FISCAL"},
	colSupplier:          {"FORNECEDOR", "EMPRESA", "EMPRESA FORNECEDORA", "RAZAO SOCIAL"},
	colUnit:              {"UNIDADE", "UN", "UND", "UNID"},
}

var headerLookup = buildHeaderLookup()

func buildHeaderLookup() map[string]importColumn {
	lookup := make(map[string]importColumn)
	for col, aliases := range importAliases {
		for _, alias := range aliases {
			lookup[normalizeHeading(alias)] = col
		}
	}
	return lookup
}

// normalizeHeading upper-cases and strips accents and the ordinal sign.
func normalizeHeading(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.NewReplacer("º", "", "°", "", "ª", "").Replace(out)
	return strings.Join(strings.Fields(strings.ToUpper(out)), " ")
}

// ReceiptWorkbook is the parsed content of an ERP receipt export.
type ReceiptWorkbook struct {
	Sheet     string
	HeaderRow int
	Hash      string
	Messages  []ReceiptFeedMessage
	// Skipped lists rows that could not be read, as "row N: reason".
	Skipped []string
}

// ParseReceiptWorkbook picks the sheet with the most requisition lines, finds
// its heading row and folds all lines of one (site, requisition, material)
// into a single consolidated receipt message.
// fallbackSiteCode is used when the export has no site column.
func ParseReceiptWorkbook(r io.Reader, fallbackSiteCode string) (*ReceiptWorkbook, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %v", err)
	}
	defer f.Close()

	sum := sha256.Sum256(data)
	var best *ReceiptWorkbook
	bestScore := -1
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("unable to read sheet %q: %v", sheet, err)
		}
		parsed, score := parseReceiptSheet(rows, fallbackSiteCode)
		if parsed == nil || score <= bestScore {
			continue
		}
		parsed.Sheet = sheet
		best, bestScore = parsed, score
	}
	if best == nil {
		return nil, utils.NewValidationError(utils.RuleInvalidFeedMessage, "file",
			"no sheet has both a requisition and a material code heading")
	}
	best.Hash = hex.EncodeToString(sum[:])
	kept := best.Messages[:0]
	for _, m := range best.Messages {
		if m.Solicited.Sign() <= 0 && m.Received.Sign() <= 0 {
			best.Skipped = append(best.Skipped, fmt.Sprintf("%s/%s: nothing solicited", m.RequisitionNumber, m.MaterialCode))
			continue
		}
		m.MessageId = fmt.Sprintf("xlsx:%s:%s:%s:%s", best.Hash[:16], m.SiteCode, m.RequisitionNumber, m.MaterialCode)
		kept = append(kept, m)
	}
	best.Messages = kept
	return best, nil
}

func detectHeader(rows [][]string) (int, map[importColumn]int) {
	limit := len(rows)
	if limit > maxHeaderScan {
		limit = maxHeaderScan
	}
	for i := 0; i < limit; i++ {
		cols := make(map[importColumn]int)
		for j, cell := range rows[i] {
			if col, ok := headerLookup[normalizeHeading(cell)]; ok {
				if _, seen := cols[col]; !seen {
					cols[col] = j
				}
			}
		}
		_, hasRequisition := cols[colRequisition]
		_, hasMaterial := cols[colMaterialCode]
		if hasRequisition && hasMaterial {
			return i, cols
		}
	}
	return -1, nil
}

type receiptKey struct {
	site, requisition, material string
}

func parseReceiptSheet(rows [][]string, fallbackSiteCode string) (*ReceiptWorkbook, int) {
	headerRow, cols := detectHeader(rows)
	if headerRow < 0 {
		return nil, 0
	}
	cell := func(row []string, col importColumn) string {
		idx, ok := cols[col]
		if !ok || idx >= len(row) {
			return ""
		}
		v := strings.TrimSpace(row[idx])
		if strings.EqualFold(v, "nan") || v == "-" {
			return ""
		}
		return v
	}

	book := &ReceiptWorkbook{HeaderRow: headerRow + 1}
	index := make(map[receiptKey]int)
	var lastSite, lastRequisition, lastMaterial string
	score := 0
	for i := headerRow + 1; i < len(rows); i++ {
		row := rows[i]
		rowNo := i + 1
		requisition := cell(row, colRequisition)
		// repeated page headings
		if _, isHeading := headerLookup[normalizeHeading(requisition)]; isHeading && requisition != "" {
			continue
		}
		material := cell(row, colMaterialCode)
		if requisition == "" && material == "" && cell(row, colSolicited) == "" && cell(row, colReceived) == "" {
			continue
		}
		// merged cells leave key columns blank on continuation lines
		if requisition == "" {
			requisition = lastRequisition
		}
		if material == "" {
			material = lastMaterial
		}
		lastRequisition, lastMaterial = requisition, material
		if requisition == "" || material == "" {
			book.Skipped = append(book.Skipped, fmt.Sprintf("row %d: missing requisition or material code", rowNo))
			continue
		}
		score++

		site := cell(row, colSiteCode)
		if site == "" {
			site = lastSite
		}
		if site == "" {
			site = strings.TrimSpace(fallbackSiteCode)
		}
		lastSite = site
		if site == "" {
			book.Skipped = append(book.Skipped, fmt.Sprintf("row %d: no site code", rowNo))
			continue
		}

		solicited, err1 := utils.ParseQuantity(cell(row, colSolicited))
		received, err2 := utils.ParseQuantity(cell(row, colReceived))
		balanceRaw := cell(row, colBalance)
		balance, err3 := utils.ParseQuantity(balanceRaw)
		if err := firstError(err1, err2, err3); err != nil {
			book.Skipped = append(book.Skipped, fmt.Sprintf("row %d: %v", rowNo, err))
			continue
		}

		key := receiptKey{site, requisition, material}
		pos, seen := index[key]
		if !seen {
			book.Messages = append(book.Messages, ReceiptFeedMessage{
				SiteCode:          site,
				RequisitionNumber: requisition,
				MaterialCode:      material,
			})
			pos = len(book.Messages) - 1
			index[key] = pos
		}
		m := &book.Messages[pos]
		// first non-empty text wins; quantities keep the largest value seen
		fillString(&m.MaterialDescription, cell(row, colMaterialDesc))
		fillString(&m.Unit, cell(row, colUnit))
		fillString(&m.Supplier, cell(row, colSupplier))
		fillString(&m.PurchaseOrderNumber, cell(row, colPurchaseOrder))
		fillString(&m.InvoiceNumber, cell(row, colInvoice))
		fillString(&m.RequisitionDate, cell(row, colRequisitionDate))
		fillString(&m.PurchaseOrderDate, cell(row, colPurchaseOrderDate))
		fillString(&m.DeliveryDueDate, cell(row, colDeliveryDue))
		fillString(&m.InvoiceDate, cell(row, colInvoiceDate))
		if m.Solicited.IsZero() {
			m.Solicited = solicited
		}
		if received.GreaterThan(m.Received) {
			m.Received = received
		}
		if balanceRaw != "" && (m.Balance == nil || balance.GreaterThan(*m.Balance)) {
			b := balance
			m.Balance = &b
		}
	}
	return book, score
}

func fillString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

type ReceiptImportResult struct {
	Hash      string   `json:"hash"`
	Sheet     string   `json:"sheet"`
	HeaderRow int      `json:"header_row"`
	Lines     int      `json:"lines"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Rejected  []string `json:"rejected"`
	Skipped   []string `json:"skipped"`
}

// ImportReceiptWorkbook feeds every line of an ERP export through
// ProcessReceiptFeedMessage. Importing the same file twice changes nothing.
// When bucket is set the raw file is archived there first.
func ImportReceiptWorkbook(ctx context.Context, logger *logrus.Logger, settings config.SupplySettings, data []byte, fallbackSiteCode, bucket string) (*ReceiptImportResult, error) {
	ctx, span := tracer.Start(ctx, "workflow.ImportReceiptWorkbook")
	defer span.End()

	book, err := ParseReceiptWorkbook(bytes.NewReader(data), fallbackSiteCode)
	if err != nil {
		return nil, err
	}
	if bucket != "" {
		objectName := fmt.Sprintf("receiptImports/%s.xlsx", book.Hash)
		if err := utils.UploadBytesToGCS(ctx, bucket, objectName, data, utils.XlsxContentType); err != nil {
			config.LogError(logger, "receiptImport.go", "ImportReceiptWorkbook", "archiving workbook", objectName, err)
			return nil, err
		}
	}

	result := ReceiptImportResult{
		Hash:      book.Hash,
		Sheet:     book.Sheet,
		HeaderRow: book.HeaderRow,
		Lines:     len(book.Messages),
		Rejected:  []string{},
		Skipped:   book.Skipped,
	}
	if result.Skipped == nil {
		result.Skipped = []string{}
	}
	for _, msg := range book.Messages {
		res, err := ProcessReceiptFeedMessage(ctx, logger, settings, msg)
		if err != nil {
			if utils.IsValidationError(err, "") {
				result.Rejected = append(result.Rejected, fmt.Sprintf("%s/%s: %v", msg.RequisitionNumber, msg.MaterialCode, err))
				continue
			}
			return nil, err
		}
		switch {
		case res.Skipped:
			result.Unchanged++
		case res.Created:
			result.Created++
		default:
			result.Updated++
		}
	}

	logger.WithFields(logrus.Fields{
		"field":    "ImportReceiptWorkbook",
		"hash":     book.Hash,
		"sheet":    book.Sheet,
		"lines":    result.Lines,
		"created":  result.Created,
		"updated":  result.Updated,
		"rejected": len(result.Rejected),
		"skipped":  len(result.Skipped),
	}).Info("receipt workbook imported")
	return &result, nil
}
