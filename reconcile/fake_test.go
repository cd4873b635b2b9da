package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/shopspring/decimal"
)

// fakeConnector is an in-memory accounting system.
type fakeConnector struct {
	mu sync.Mutex

	bills     []*models.ItemBill
	vendors   []string
	nextTxn   int
	opened    int
	closed    int
	addCalls  [][]string
	queryErr  error
	addErr    error
	openErr   error
	closeErr  error
	rejects   map[string]models.AddOutcome
	shortBy   int
	addAbort  error
	deleteErr map[string]error
	noDelete  bool
}

func newFakeConnector(bills ...*models.ItemBill) *fakeConnector {
	f := &fakeConnector{rejects: map[string]models.AddOutcome{}, deleteErr: map[string]error{}}
	for _, b := range bills {
		if b.TxnId == "" {
			f.nextTxn++
			b.TxnId = fmt.Sprintf("TXN-%d", f.nextTxn)
		}
		f.bills = append(f.bills, b)
	}
	return f
}

func (f *fakeConnector) Open(_ context.Context, _ string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	s := &fakeSession{conn: f}
	if f.noDelete {
		return &noDeleteSession{s}, nil
	}
	return s, nil
}

func (f *fakeConnector) openSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened - f.closed
}

type fakeSession struct {
	conn   *fakeConnector
	closed bool
}

type noDeleteSession struct {
	inner *fakeSession
}

func (s *noDeleteSession) QueryAllBills(ctx context.Context) ([]*models.ItemBill, error) {
	return s.inner.QueryAllBills(ctx)
}

func (s *noDeleteSession) AddBills(ctx context.Context, bills []*models.ItemBill) ([]models.AddOutcome, error) {
	return s.inner.AddBills(ctx, bills)
}

func (s *noDeleteSession) Close() error { return s.inner.Close() }

func (s *fakeSession) QueryAllBills(_ context.Context) ([]*models.ItemBill, error) {
	f := s.conn
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]*models.ItemBill, 0, len(f.bills))
	for _, b := range f.bills {
		cp := *b
		cp.Lines = append([]models.ItemBillLine(nil), b.Lines...)
		cp.Status = models.SyncStatusUnchanged
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeSession) AddBills(_ context.Context, bills []*models.ItemBill) ([]models.AddOutcome, error) {
	f := s.conn
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if f.addErr != nil {
		return nil, f.addErr
	}
	invoices := make([]string, 0, len(bills))
	outcomes := make([]models.AddOutcome, 0, len(bills))
	for _, b := range bills {
		invoices = append(invoices, b.InvoiceNum)
		if reject, ok := f.rejects[strings.ToLower(b.InvoiceNum)]; ok {
			outcomes = append(outcomes, reject)
			continue
		}
		f.nextTxn++
		cp := *b
		cp.TxnId = fmt.Sprintf("TXN-%d", f.nextTxn)
		cp.Lines = append([]models.ItemBillLine(nil), b.Lines...)
		f.bills = append(f.bills, &cp)
		outcomes = append(outcomes, models.AddOutcome{TxnId: cp.TxnId})
	}
	f.addCalls = append(f.addCalls, invoices)
	if f.shortBy > 0 && f.shortBy <= len(outcomes) {
		outcomes = outcomes[:len(outcomes)-f.shortBy]
	}
	return outcomes, f.addAbort
}

func (s *fakeSession) DeleteBill(_ context.Context, txnId string) (models.AddOutcome, error) {
	f := s.conn
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[txnId]; err != nil {
		return models.AddOutcome{}, err
	}
	for i, b := range f.bills {
		if b.TxnId == txnId {
			f.bills = append(f.bills[:i], f.bills[i+1:]...)
			return models.AddOutcome{TxnId: txnId}, nil
		}
	}
	return models.FailedOutcome(models.OutcomeCodeInvalidReference, "bill not found"), nil
}

func (s *fakeSession) AddVendors(_ context.Context, names []string) ([]models.AddOutcome, error) {
	f := s.conn
	f.mu.Lock()
	defer f.mu.Unlock()
	outcomes := make([]models.AddOutcome, 0, len(names))
	for _, name := range names {
		dup := false
		for _, v := range f.vendors {
			if strings.EqualFold(v, name) {
				dup = true
			}
		}
		if dup {
			outcomes = append(outcomes, models.FailedOutcome(models.OutcomeCodeDuplicate, "vendor exists"))
			continue
		}
		f.vendors = append(f.vendors, name)
		outcomes = append(outcomes, models.AddOutcome{TxnId: "V-" + name})
	}
	return outcomes, nil
}

func (s *fakeSession) Close() error {
	f := s.conn
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	f.closed++
	return f.closeErr
}

type fakeLocker struct {
	obtained []string
	released int
	err      error
}

func (l *fakeLocker) Obtain(_ context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.obtained = append(l.obtained, key)
	return func() { l.released++ }, nil
}

var errBoom = errors.New("boom")

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func line(part string, qty int, price string) models.ItemBillLine {
	return models.ItemBillLine{PartName: part, Quantity: qty, UnitPrice: decimal.RequireFromString(price)}
}

func bill(vendor, invoice string, date time.Time, memo string, lines ...models.ItemBillLine) *models.ItemBill {
	return models.NewItemBill(vendor, invoice, date, memo, lines...)
}
