package billsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/mmdatafocus/itembills_sync/reconcile"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type memStore struct {
	mu      sync.Mutex
	runs    map[uint]*models.BillSyncRun
	entries []models.BillSyncEntry
	nextId  uint
	marked  []uint
	failGet error
}

func newMemStore() *memStore {
	return &memStore{runs: map[uint]*models.BillSyncRun{}}
}

func (s *memStore) CreateRun(_ context.Context, run *models.BillSyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextId++
	run.ID = s.nextId
	run.CreatedAt = time.Now()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *memStore) GetRun(_ context.Context, id uint) (*models.BillSyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *memStore) ListRuns(_ context.Context, limit int) ([]models.BillSyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BillSyncRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkRunning(_ context.Context, id uint, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	run.Status = models.SyncRunStatusRunning
	run.StartedAt = &startedAt
	s.marked = append(s.marked, id)
	return nil
}

func (s *memStore) FinishRun(_ context.Context, id uint, result RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	run.Status = result.Status
	run.StatsJSON = result.StatsJSON
	run.RecordsTotal = result.RecordsTotal
	run.ErrorCount = result.ErrorCount
	run.ErrorMessage = result.ErrorMessage
	run.ReportURL = result.ReportURL
	finished := result.FinishedAt
	run.FinishedAt = &finished
	run.DurationMs = result.DurationMs
	return nil
}

func (s *memStore) SaveEntries(_ context.Context, entries []models.BillSyncEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		e.ID = uint(len(s.entries) + 1)
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *memStore) ListEntries(_ context.Context, runId uint) ([]models.BillSyncEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BillSyncEntry, 0)
	for _, e := range s.entries {
		if e.SyncRunId == runId {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) run(t *testing.T, id uint) models.BillSyncRun {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		t.Fatalf("run %d not found", id)
	}
	return *run
}

// fakeConnector accepts every bill except those from vendor "Unknown".
type fakeConnector struct {
	mu       sync.Mutex
	bills    []*models.ItemBill
	nextTxn  int
	queryErr error
	closeErr error
}

func (f *fakeConnector) Open(context.Context, string) (reconcile.Session, error) {
	return &fakeSession{conn: f}, nil
}

type fakeSession struct {
	conn *fakeConnector
}

func (s *fakeSession) QueryAllBills(context.Context) ([]*models.ItemBill, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.conn.queryErr != nil {
		return nil, s.conn.queryErr
	}
	out := make([]*models.ItemBill, 0, len(s.conn.bills))
	for _, b := range s.conn.bills {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeSession) AddBills(_ context.Context, bills []*models.ItemBill) ([]models.AddOutcome, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	outcomes := make([]models.AddOutcome, 0, len(bills))
	for _, b := range bills {
		if strings.EqualFold(b.VendorName, "Unknown") {
			outcomes = append(outcomes, models.FailedOutcome(models.OutcomeCodeInvalidReference, "Invalid reference to vendor"))
			continue
		}
		s.conn.nextTxn++
		cp := *b
		cp.TxnId = fmt.Sprintf("T%d", s.conn.nextTxn)
		s.conn.bills = append(s.conn.bills, &cp)
		outcomes = append(outcomes, models.AddOutcome{TxnId: cp.TxnId})
	}
	return outcomes, nil
}

func (s *fakeSession) Close() error { return s.conn.closeErr }

type recordingPublisher struct {
	mu  sync.Mutex
	ids []uint
	err error
}

func (p *recordingPublisher) PublishSyncRun(_ context.Context, runId uint, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, runId)
	return nil
}

var billsHeader = []any{"Vendor", "Invoice", "Date", "Memo", "Part", "Qty", "Price"}

func workbookBytes(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue("Sheet1", cell, v); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func sourceOf(data []byte) func(context.Context, string) (io.ReadCloser, error) {
	return func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

var errSourceMissing = errors.New("object not found")

func remoteBill(txn, vendor, invoice string) *models.ItemBill {
	b := models.NewItemBill(vendor, invoice, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "",
		models.ItemBillLine{PartName: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")})
	b.TxnId = txn
	return b
}

type uploadRecorder struct {
	bucket, object string
	size           int
}

func (u *uploadRecorder) upload(_ context.Context, bucket, object string, data []byte, _ string) (string, error) {
	u.bucket, u.object, u.size = bucket, object, len(data)
	return "gs://" + bucket + "/" + object, nil
}
