package reconcile

import (
	"strings"

	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/shopspring/decimal"
)

// PriceTolerance absorbs rounding between the spreadsheet and the accounting system.
var PriceTolerance = decimal.NewFromFloat(0.01)

// BillsAreEqual compares two bills field by field and stops at the first difference.
// Lines are compared by position, so reordered lines count as a difference.
func BillsAreEqual(a, b *models.ItemBill) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !strings.EqualFold(a.VendorName, b.VendorName) {
		return false
	}
	if !strings.EqualFold(a.InvoiceNum, b.InvoiceNum) {
		return false
	}
	if !sameDay(a, b) {
		return false
	}
	if a.Memo != b.Memo {
		return false
	}
	if len(a.Lines) != len(b.Lines) {
		return false
	}
	for i := range a.Lines {
		lineA, lineB := a.Lines[i], b.Lines[i]
		if !strings.EqualFold(lineA.PartName, lineB.PartName) {
			return false
		}
		if lineA.Quantity != lineB.Quantity {
			return false
		}
		if lineA.UnitPrice.Sub(lineB.UnitPrice).Abs().GreaterThan(PriceTolerance) {
			return false
		}
	}
	return true
}

func sameDay(a, b *models.ItemBill) bool {
	ya, ma, da := a.BillDate.Date()
	yb, mb, db := b.BillDate.Date()
	return ya == yb && ma == mb && da == db
}

func sameInvoice(a, b *models.ItemBill) bool {
	return strings.EqualFold(a.InvoiceNum, b.InvoiceNum)
}

func sameBusinessKey(a, b *models.ItemBill) bool {
	return strings.EqualFold(a.VendorName, b.VendorName) && strings.EqualFold(a.InvoiceNum, b.InvoiceNum)
}
