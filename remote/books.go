package remote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/mmdatafocus/itembills_sync/reconcile"
	"gorm.io/gorm"
)

// BooksConnector reconciles against the books ledger tables in MySQL.
type BooksConnector struct {
	DB *gorm.DB
}

func NewBooksConnector(db *gorm.DB) *BooksConnector {
	return &BooksConnector{DB: db}
}

func (c *BooksConnector) Open(ctx context.Context, _ string) (reconcile.Session, error) {
	if c.DB == nil {
		return nil, errors.New("books database is not connected")
	}
	sqlDB, err := c.DB.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}
	return &booksSession{db: c.DB}, nil
}

type booksSession struct {
	db     *gorm.DB
	closed bool
}

func (s *booksSession) QueryAllBills(ctx context.Context) ([]*models.ItemBill, error) {
	if s.closed {
		return nil, reconcile.ErrSessionClosed
	}
	var bills []models.Bill
	err := s.db.WithContext(ctx).
		Preload("Vendor").
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		Preload("Lines.Item").
		Order("id ASC").
		Find(&bills).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.ItemBill, 0, len(bills))
	for i := range bills {
		out = append(out, bills[i].ToItemBill())
	}
	return out, nil
}

// AddBills writes each bill in its own transaction, so one rejected bill does not
// roll back the others.
func (s *booksSession) AddBills(ctx context.Context, bills []*models.ItemBill) ([]models.AddOutcome, error) {
	if s.closed {
		return nil, reconcile.ErrSessionClosed
	}
	outcomes := make([]models.AddOutcome, 0, len(bills))
	for _, bill := range bills {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, s.addBill(ctx, bill))
	}
	return outcomes, nil
}

type rejection struct {
	code int
	msg  string
}

func (r *rejection) Error() string { return r.msg }

func (s *booksSession) addBill(ctx context.Context, bill *models.ItemBill) models.AddOutcome {
	if strings.TrimSpace(bill.InvoiceNum) == "" {
		return models.FailedOutcome(models.OutcomeCodeInvalidRequest, "invoice number is required")
	}
	if bill.BillDate.IsZero() {
		return models.FailedOutcome(models.OutcomeCodeInvalidRequest, "bill date is required")
	}
	if len(bill.Lines) == 0 {
		return models.FailedOutcome(models.OutcomeCodeInvalidRequest, "bill has no lines")
	}

	txnId := uuid.NewString()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var vendor models.Vendor
		if err := tx.Where("name = ?", bill.VendorName).First(&vendor).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &rejection{models.OutcomeCodeInvalidReference, fmt.Sprintf("vendor %q not found", bill.VendorName)}
			}
			return err
		}

		var dup int64
		if err := tx.Model(&models.Bill{}).Where("vendor_id = ? AND ref_number = ?", vendor.ID, bill.InvoiceNum).Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return &rejection{models.OutcomeCodeDuplicate, fmt.Sprintf("bill %q already exists for vendor %q", bill.InvoiceNum, bill.VendorName)}
		}

		row := models.Bill{
			TxnId:     txnId,
			VendorId:  vendor.ID,
			RefNumber: bill.InvoiceNum,
			TxnDate:   bill.BillDate,
			Memo:      bill.Memo,
		}
		for i, l := range bill.Lines {
			var item models.Item
			if err := tx.Where("name = ?", l.PartName).First(&item).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return &rejection{models.OutcomeCodeInvalidReference, fmt.Sprintf("item %q not found", l.PartName)}
				}
				return err
			}
			row.Lines = append(row.Lines, models.BillLine{
				LineNo:   i + 1,
				ItemId:   item.ID,
				Quantity: l.Quantity,
				Cost:     l.UnitPrice,
			})
		}
		return tx.Create(&row).Error
	})

	var rej *rejection
	switch {
	case errors.As(err, &rej):
		return models.FailedOutcome(rej.code, rej.msg)
	case err != nil:
		return models.FailedOutcome(models.OutcomeCodeInvalidRequest, err.Error())
	}
	return models.AddOutcome{TxnId: txnId, StatusCode: models.OutcomeCodeOK, StatusMessage: "Status OK"}
}

func (s *booksSession) DeleteBill(ctx context.Context, txnId string) (models.AddOutcome, error) {
	if s.closed {
		return models.AddOutcome{}, reconcile.ErrSessionClosed
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bill models.Bill
		if err := tx.Where("txn_id = ?", txnId).First(&bill).Error; err != nil {
			return err
		}
		if err := tx.Where("bill_id = ?", bill.ID).Delete(&models.BillLine{}).Error; err != nil {
			return err
		}
		return tx.Delete(&bill).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.FailedOutcome(models.OutcomeCodeInvalidReference, fmt.Sprintf("bill %q not found", txnId)), nil
	}
	if err != nil {
		return models.AddOutcome{}, err
	}
	return models.AddOutcome{TxnId: txnId, StatusCode: models.OutcomeCodeOK, StatusMessage: "Status OK"}, nil
}

func (s *booksSession) AddVendors(ctx context.Context, names []string) ([]models.AddOutcome, error) {
	if s.closed {
		return nil, reconcile.ErrSessionClosed
	}
	db := s.db.WithContext(ctx)
	outcomes := make([]models.AddOutcome, 0, len(names))
	for _, name := range names {
		var count int64
		if err := db.Model(&models.Vendor{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return outcomes, err
		}
		if count > 0 {
			outcomes = append(outcomes, models.FailedOutcome(models.OutcomeCodeDuplicate, fmt.Sprintf("vendor %q already exists", name)))
			continue
		}
		active := true
		vendor := models.Vendor{Name: name, IsActive: &active}
		if err := db.Create(&vendor).Error; err != nil {
			outcomes = append(outcomes, models.FailedOutcome(models.OutcomeCodeInvalidRequest, err.Error()))
			continue
		}
		outcomes = append(outcomes, models.AddOutcome{TxnId: strconv.Itoa(vendor.ID), StatusMessage: "Status OK"})
	}
	return outcomes, nil
}

// Close releases nothing on the shared pool; it only invalidates the session.
func (s *booksSession) Close() error {
	s.closed = true
	return nil
}
