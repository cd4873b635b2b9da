package reconcile

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Spreadsheet columns, first row is the header.
const (
	colVendor = iota
	colInvoice
	colDate
	colMemo
	colPart
	colQty
	colPrice
)

// IngestionError reports a spreadsheet that could not be read. Row is 1-based and
// zero when the failure is not tied to a row.
type IngestionError struct {
	Path string
	Row  int
	Err  error
}

func (e *IngestionError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("read bills from %s row %d: %v", e.Path, e.Row, e.Err)
	}
	return fmt.Sprintf("read bills from %s: %v", e.Path, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

var billDateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"01-02-06",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"02-Jan-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	time.RFC3339,
}

// ReadBillsFromExcel loads bills from the first worksheet of an .xlsx file.
func ReadBillsFromExcel(path string) ([]*models.ItemBill, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &IngestionError{Path: path, Err: err}
	}
	defer f.Close()
	return readBills(f, path)
}

// ReadBillsFromReader is ReadBillsFromExcel for workbooks that are not on local disk.
// name is only used in error messages.
func ReadBillsFromReader(r io.Reader, name string) ([]*models.ItemBill, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &IngestionError{Path: name, Err: err}
	}
	defer f.Close()
	return readBills(f, name)
}

func readBills(f *excelize.File, path string) ([]*models.ItemBill, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &IngestionError{Path: path, Err: fmt.Errorf("workbook has no worksheets")}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &IngestionError{Path: path, Err: err}
	}

	bills := make([]*models.ItemBill, 0, len(rows))
	var current *models.ItemBill
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if isBlankRow(row) {
			continue
		}

		line := models.ItemBillLine{
			PartName:  cell(row, colPart),
			Quantity:  parseQuantity(cell(row, colQty)),
			UnitPrice: parsePrice(cell(row, colPrice)),
		}

		vendor, invoice := cell(row, colVendor), cell(row, colInvoice)
		if vendor == "" && invoice == "" && current != nil {
			current.Lines = append(current.Lines, line)
			continue
		}

		current = models.NewItemBill(vendor, invoice, parseBillDate(cell(row, colDate)), cell(row, colMemo), line)
		bills = append(bills, current)
	}
	return bills, nil
}

func cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// parseBillDate returns the zero time when the cell holds no recognizable date.
func parseBillDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range billDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseQuantity(s string) int {
	qty, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0
	}
	return qty
}

func parsePrice(s string) decimal.Decimal {
	price, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero
	}
	return price
}
