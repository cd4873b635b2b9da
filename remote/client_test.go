package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/mmdatafocus/itembills_sync/reconcile"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAccountingAPI serves the subset of the accounting API the connector uses.
type fakeAccountingAPI struct {
	mu         sync.Mutex
	bills      []billDTO
	sessions   map[string]bool
	closed     []string
	batchSizes []int
	nextTxn    int
	failBatch  bool
}

func newFakeAccountingAPI(bills ...billDTO) *fakeAccountingAPI {
	return &fakeAccountingAPI{bills: bills, sessions: map[string]bool{}}
}

func (f *fakeAccountingAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("X-API-Key") != "secret" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if r.URL.Path != "/v1/sessions" && !f.sessions[r.Header.Get(sessionHeader)] {
		http.Error(w, `{"error":"no session"}`, http.StatusForbidden)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions":
		id := "sess-1"
		f.sessions[id] = true
		writeJSON(w, openSessionResponse{SessionId: id})

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/sessions/"):
		id := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
		delete(f.sessions, id)
		f.closed = append(f.closed, id)
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && r.URL.Path == "/v1/bills":
		// two bills per page
		start := 0
		if c := r.URL.Query().Get("cursor"); c != "" {
			start = int(c[0] - '0')
		}
		end := start + 2
		if end > len(f.bills) {
			end = len(f.bills)
		}
		page := billsPage{Data: f.bills[start:end]}
		more := end < len(f.bills)
		page.HasMore = &more
		if more {
			page.NextCursor = string(rune('0' + end))
		}
		writeJSON(w, page)

	case r.Method == http.MethodPost && r.URL.Path == "/v1/bills/batch":
		if f.failBatch {
			http.Error(w, "backend down", http.StatusBadGateway)
			return
		}
		var req struct {
			Bills []billDTO `json:"bills"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.batchSizes = append(f.batchSizes, len(req.Bills))
		resp := outcomesResponse{}
		for _, b := range req.Bills {
			if b.VendorName == "Unknown" {
				resp.Results = append(resp.Results, models.FailedOutcome(models.OutcomeCodeInvalidReference, "Invalid reference to vendor"))
				continue
			}
			f.nextTxn++
			b.TxnId = "T" + string(rune('0'+f.nextTxn))
			f.bills = append(f.bills, b)
			resp.Results = append(resp.Results, models.AddOutcome{TxnId: b.TxnId})
		}
		writeJSON(w, resp)

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/bills/"):
		txn := strings.TrimPrefix(r.URL.Path, "/v1/bills/")
		for i, b := range f.bills {
			if b.TxnId == txn {
				f.bills = append(f.bills[:i], f.bills[i+1:]...)
				writeJSON(w, models.AddOutcome{TxnId: txn})
				return
			}
		}
		http.Error(w, "bill not found", http.StatusNotFound)

	case r.Method == http.MethodPost && r.URL.Path == "/v1/vendors/batch":
		var req struct {
			Vendors []struct {
				Name string `json:"name"`
			} `json:"vendors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := outcomesResponse{}
		for i := range req.Vendors {
			resp.Results = append(resp.Results, models.AddOutcome{TxnId: "V" + string(rune('1'+i))})
		}
		writeJSON(w, resp)

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestConnector(t *testing.T, api *fakeAccountingAPI) *HTTPConnector {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	conn, err := NewHTTPConnector(HTTPSettings{
		BaseURL:         srv.URL,
		APIKey:          "secret",
		APIKeyHeader:    "X-API-Key",
		RateLimitPerMin: 600000,
		Timeout:         5 * time.Second,
	}, srv.Client())
	require.NoError(t, err)
	return conn
}

func dto(txn, vendor, ref string) billDTO {
	return billDTO{
		TxnId: txn, VendorName: vendor, RefNumber: ref, TxnDate: "2024-01-15",
		Lines: []billLineDTO{{ItemName: "Widget", Quantity: 2, Cost: decimal.RequireFromString("10.00")}},
	}
}

func TestHTTPConnector_QueryAllBillsPaginates(t *testing.T) {
	api := newFakeAccountingAPI(dto("A1", "Acme", "INV1"), dto("A2", "Acme", "INV2"), dto("A3", "Globex", "INV3"))
	conn := newTestConnector(t, api)

	c := reconcile.NewComparator(conn)
	bills, err := c.QueryAllBills(context.Background())
	require.NoError(t, err)
	require.Len(t, bills, 3)
	assert.Equal(t, "A3", bills[2].TxnId)
	assert.Equal(t, "Globex", bills[2].VendorName)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), bills[0].BillDate)
	assert.True(t, bills[0].Lines[0].UnitPrice.Equal(decimal.NewFromInt(10)))

	assert.Equal(t, []string{"sess-1"}, api.closed)
	assert.Empty(t, api.sessions)
}

func TestHTTPConnector_SyncEndToEnd(t *testing.T) {
	api := newFakeAccountingAPI(dto("A1", "Acme", "INV1"))
	conn := newTestConnector(t, api)
	c := reconcile.NewComparator(conn)

	company := []*models.ItemBill{
		models.NewItemBill("Acme", "inv1", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), "",
			models.ItemBillLine{PartName: "widget", Quantity: 2, UnitPrice: decimal.RequireFromString("10.005")}),
		models.NewItemBill("Unknown", "INV7", time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), "",
			models.ItemBillLine{PartName: "Bolt", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}),
		models.NewItemBill("Acme", "INV8", time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC), "",
			models.ItemBillLine{PartName: "Bolt", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}),
	}
	results, err := c.CompareItemBills(context.Background(), company)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, models.SyncStatusUnchanged, results[0].Status)
	assert.Equal(t, "A1", results[0].TxnId)
	assert.Equal(t, models.SyncStatusFailedToAdd, results[1].Status)
	assert.Equal(t, "", results[1].TxnId)
	assert.Equal(t, models.SyncStatusAdded, results[2].Status)
	assert.Equal(t, "T1", results[2].TxnId)
	assert.Equal(t, []int{1, 1}, api.batchSizes)
}

func TestHTTPConnector_BatchTransportFailure(t *testing.T) {
	api := newFakeAccountingAPI()
	api.failBatch = true
	conn := newTestConnector(t, api)
	c := reconcile.NewComparator(conn)

	results := reconcile.CompareBothDirections([]*models.ItemBill{
		models.NewItemBill("Acme", "INV1", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), ""),
	}, nil)
	assert.Nil(t, c.AddMissingBills(context.Background(), results))
	assert.Empty(t, api.sessions)
}

func TestHTTPConnector_DeleteAndVendors(t *testing.T) {
	api := newFakeAccountingAPI(dto("A1", "Acme", "INV1"), dto("A2", "Acme", "INV2"))
	conn := newTestConnector(t, api)
	c := reconcile.NewComparator(conn)

	summary, err := c.DeleteAllBills(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Deleted)
	assert.Empty(t, api.bills)

	err = reconcile.WithSession(context.Background(), conn, "test", func(s reconcile.Session) error {
		outcome, err := s.(reconcile.BillDeleter).DeleteBill(context.Background(), "missing")
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeCodeInvalidReference, outcome.StatusCode)
		return nil
	})
	require.NoError(t, err)

	names, outcomes, err := c.AddVendors(context.Background(), []string{"Globex", "Initech"})
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.Equal(t, "V2", outcomes[1].TxnId)
}

func TestHTTPConnector_Unauthorized(t *testing.T) {
	api := newFakeAccountingAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()

	conn, err := NewHTTPConnector(HTTPSettings{
		BaseURL: srv.URL, APIKey: "wrong", APIKeyHeader: "X-API-Key",
		RateLimitPerMin: 600000, Timeout: time.Second,
	}, srv.Client())
	require.NoError(t, err)

	_, err = reconcile.NewComparator(conn).QueryAllBills(context.Background())
	var ge *reconcile.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "open", ge.Op)
	var ae *apiError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
}

func TestNewHTTPConnector_ValidatesSettings(t *testing.T) {
	cases := []HTTPSettings{
		{},
		{BaseURL: "not a url", APIKey: "k", APIKeyHeader: "h", RateLimitPerMin: 1, Timeout: time.Second},
		{BaseURL: "http://x", APIKeyHeader: "h", RateLimitPerMin: 1, Timeout: time.Second},
		{BaseURL: "http://x", APIKey: "k", APIKeyHeader: "h", RateLimitPerMin: 0, Timeout: time.Second},
	}
	for i, tc := range cases {
		if _, err := NewHTTPConnector(tc, nil); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestNewConnectorFromEnv(t *testing.T) {
	t.Setenv("BILLSYNC_GATEWAY", "carrier-pigeon")
	_, err := NewConnectorFromEnv()
	require.Error(t, err)

	t.Setenv("BILLSYNC_GATEWAY", "HTTP")
	t.Setenv("ACCOUNTING_API_BASE_URL", "https://accounting.example.com/")
	t.Setenv("ACCOUNTING_API_KEY", "k")
	conn, err := NewConnectorFromEnv()
	require.NoError(t, err)
	httpConn, ok := conn.(*HTTPConnector)
	require.True(t, ok)
	assert.Equal(t, "https://accounting.example.com", httpConn.settings.BaseURL)
	assert.Equal(t, "X-API-Key", httpConn.settings.APIKeyHeader)
}
