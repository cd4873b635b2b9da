package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bill, BillLine, Vendor and Item are the ledger tables of the books back-end,
// one of the accounting systems bills can be synchronized into.
type Bill struct {
	ID        int        `gorm:"primary_key" json:"id"`
	TxnId     string     `gorm:"uniqueIndex;size:64;not null" json:"txn_id"`
	VendorId  int        `gorm:"index;not null" json:"vendor_id"`
	Vendor    Vendor     `gorm:"foreignKey:VendorId" json:"vendor"`
	RefNumber string     `gorm:"index;size:128;not null" json:"ref_number"`
	TxnDate   time.Time  `gorm:"type:date;not null" json:"txn_date"`
	Memo      string     `gorm:"size:255" json:"memo"`
	Lines     []BillLine `gorm:"foreignKey:BillId" json:"lines"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type BillLine struct {
	ID       int             `gorm:"primary_key" json:"id"`
	BillId   int             `gorm:"index;not null" json:"bill_id"`
	LineNo   int             `gorm:"not null" json:"line_no"`
	ItemId   int             `gorm:"index;not null" json:"item_id"`
	Item     Item            `gorm:"foreignKey:ItemId" json:"item"`
	Quantity int             `gorm:"not null;default:0" json:"quantity"`
	Cost     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost"`
}

type Vendor struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Item struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ToItemBill converts a ledger bill (with Vendor and Lines.Item preloaded).
func (b *Bill) ToItemBill() *ItemBill {
	lines := make([]ItemBillLine, 0, len(b.Lines))
	for _, l := range b.Lines {
		lines = append(lines, ItemBillLine{
			PartName:  l.Item.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.Cost,
		})
	}
	ib := NewItemBill(b.Vendor.Name, b.RefNumber, b.TxnDate, b.Memo, lines...)
	ib.TxnId = b.TxnId
	return ib
}
