package reconcile

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/xuri/excelize/v2"
)

const reportSheet = "Sheet1"

// Summary counts results per status name.
type Summary struct {
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
}

// Count returns the number of results with the given status.
func (s Summary) Count(status fmt.Stringer) int {
	return s.Counts[status.String()]
}

func (s Summary) String() string {
	keys := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s.Counts[k]))
	}
	return fmt.Sprintf("total=%d %s", s.Total, strings.Join(parts, " "))
}

func SummarizeSync(bills []*models.ItemBill) Summary {
	s := Summary{Counts: map[string]int{}}
	for _, b := range bills {
		if b == nil {
			continue
		}
		s.Total++
		s.Counts[b.Status.String()]++
	}
	return s
}

func SummarizeDiff(results []models.ComparisonResult) Summary {
	s := Summary{Counts: map[string]int{}}
	for _, r := range results {
		s.Total++
		s.Counts[r.Status.String()]++
	}
	return s
}

var syncReportHeadings = []string{"Status", "Vendor", "Invoice", "Date", "TxnId", "Lines"}

var diffReportHeadings = []string{"Status", "Vendor", "Invoice", "SpreadsheetDate", "RemoteDate", "TxnId", "SpreadsheetLines", "RemoteLines"}

func syncReportRow(b *models.ItemBill) []any {
	return []any{b.Status.String(), b.VendorName, b.InvoiceNum, formatDate(b), b.TxnId, len(b.Lines)}
}

func diffReportRow(r models.ComparisonResult) []any {
	txnId := ""
	remoteLines := 0
	if r.QuickBooksBill != nil {
		txnId = r.QuickBooksBill.TxnId
		remoteLines = len(r.QuickBooksBill.Lines)
	}
	excelLines := 0
	if r.ExcelBill != nil {
		excelLines = len(r.ExcelBill.Lines)
	}
	return []any{
		r.Status.String(), r.VendorName(), r.InvoiceNum(),
		formatDate(r.ExcelBill), formatDate(r.QuickBooksBill),
		txnId, excelLines, remoteLines,
	}
}

func formatDate(b *models.ItemBill) string {
	if b == nil || b.BillDate.IsZero() {
		return ""
	}
	return b.BillDate.Format("2006-01-02")
}

// WriteSyncReport prints one row per bill followed by the status totals.
func WriteSyncReport(w io.Writer, bills []*models.ItemBill) error {
	rows := make([][]any, 0, len(bills))
	for _, b := range bills {
		if b != nil {
			rows = append(rows, syncReportRow(b))
		}
	}
	return writeTable(w, syncReportHeadings, rows, SummarizeSync(bills))
}

// WriteDiffReport prints one row per comparison result followed by the status totals.
func WriteDiffReport(w io.Writer, results []models.ComparisonResult) error {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		rows = append(rows, diffReportRow(r))
	}
	return writeTable(w, diffReportHeadings, rows, SummarizeDiff(results))
}

func writeTable(w io.Writer, headings []string, rows [][]any, summary Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headings, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, summary.String())
	return err
}

func ExportSyncReportXlsx(w io.Writer, bills []*models.ItemBill) error {
	rows := make([][]any, 0, len(bills))
	for _, b := range bills {
		if b != nil {
			rows = append(rows, syncReportRow(b))
		}
	}
	return exportXlsx(w, syncReportHeadings, rows)
}

func ExportDiffReportXlsx(w io.Writer, results []models.ComparisonResult) error {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		rows = append(rows, diffReportRow(r))
	}
	return exportXlsx(w, diffReportHeadings, rows)
}

func exportXlsx(w io.Writer, headings []string, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(reportSheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(reportSheet, cell, v); err != nil {
				return err
			}
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write report workbook: %w", err)
	}
	return nil
}
