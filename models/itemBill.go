package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ItemBill is one vendor bill as seen by either the spreadsheet or the accounting system.
type ItemBill struct {
	TxnId      string         `json:"txn_id"`
	VendorName string         `json:"vendor_name"`
	BillDate   time.Time      `json:"bill_date"`
	InvoiceNum string         `json:"invoice_num"`
	Memo       string         `json:"memo"`
	ExternalId int            `json:"external_id"`
	Lines      []ItemBillLine `json:"lines"`
	Status     SyncStatus     `json:"status"`
}

type ItemBillLine struct {
	PartName  string          `json:"part_name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	// Status is reserved for per-line diffing; no flow assigns it yet.
	Status SyncStatus `json:"status,omitempty"`
}

// NewItemBill builds a bill that has not been written to the accounting system yet.
// ExternalId is derived from the memo when the memo is a plain integer.
func NewItemBill(vendorName, invoiceNum string, billDate time.Time, memo string, lines ...ItemBillLine) *ItemBill {
	if lines == nil {
		lines = []ItemBillLine{}
	}
	return &ItemBill{
		VendorName: vendorName,
		BillDate:   billDate,
		InvoiceNum: invoiceNum,
		Memo:       memo,
		ExternalId: ParseExternalId(memo),
		Lines:      lines,
		Status:     SyncStatusUnchanged,
	}
}

// ParseExternalId returns the memo as an integer, or 0 when it is not numeric.
func ParseExternalId(memo string) int {
	id, err := strconv.Atoi(strings.TrimSpace(memo))
	if err != nil {
		return 0
	}
	return id
}

// IsRemote reports whether the bill carries an accounting-system transaction id.
func (b *ItemBill) IsRemote() bool {
	return b != nil && strings.TrimSpace(b.TxnId) != ""
}

// BusinessKey is the case-folded (vendor, invoice) pair used for matching.
func (b *ItemBill) BusinessKey() string {
	return strings.ToLower(b.VendorName) + "\x00" + strings.ToLower(b.InvoiceNum)
}

type ComparisonResult struct {
	ExcelBill      *ItemBill  `json:"excel_bill"`
	QuickBooksBill *ItemBill  `json:"remote_bill"`
	Status         DiffStatus `json:"status"`
}

// InvoiceNum returns the invoice number of whichever side is present.
func (r ComparisonResult) InvoiceNum() string {
	if r.ExcelBill != nil {
		return r.ExcelBill.InvoiceNum
	}
	if r.QuickBooksBill != nil {
		return r.QuickBooksBill.InvoiceNum
	}
	return ""
}

// VendorName returns the vendor name of whichever side is present.
func (r ComparisonResult) VendorName() string {
	if r.ExcelBill != nil {
		return r.ExcelBill.VendorName
	}
	if r.QuickBooksBill != nil {
		return r.QuickBooksBill.VendorName
	}
	return ""
}

// AddOutcome is the per-record answer of a batch create. A zero StatusCode with a
// non-empty TxnId means the record was created.
type AddOutcome struct {
	TxnId         string `json:"txn_id"`
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

const (
	OutcomeCodeOK               = 0
	OutcomeCodeNoResponse       = -1
	OutcomeCodeInvalidReference = 3140
	OutcomeCodeDuplicate        = 3180
	OutcomeCodeInvalidRequest   = 3000
)

func (o AddOutcome) Succeeded() bool {
	return o.StatusCode == OutcomeCodeOK && strings.TrimSpace(o.TxnId) != ""
}

func FailedOutcome(code int, message string) AddOutcome {
	return AddOutcome{StatusCode: code, StatusMessage: message}
}
