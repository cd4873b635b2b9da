package billsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/itembills_sync/middlewares"
	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/mmdatafocus/itembills_sync/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type testServer struct {
	router    *gin.Engine
	store     *memStore
	publisher *recordingPublisher
	handlers  *Handlers
}

func newTestServer(t *testing.T, secret []byte) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := newMemStore()
	publisher := &recordingPublisher{}
	h := &Handlers{
		Store:         store,
		Publisher:     publisher,
		Gateway:       "http",
		ReportLinkTTL: time.Minute,
		SignReport: func(_ context.Context, uri string, expires time.Duration) (*utils.SignedDownload, error) {
			return &utils.SignedDownload{URL: "https://signed.example/" + strings.TrimPrefix(uri, "gs://"), ExpiresAt: time.Unix(0, 0).Add(expires)}, nil
		},
	}
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	RegisterRoutes(r, h, &Worker{Store: store, Connector: &fakeConnector{}}, secret)
	return &testServer{router: r, store: store, publisher: publisher, handlers: h}
}

func (s *testServer) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := utils.JwtGenerate(testSecret, "alice", role, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestTriggerSyncHandler(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"sync run", `{"mode":"sync","source":"gs://in/bills.xlsx"}`, http.StatusAccepted},
		{"diff with add missing", `{"mode":"diff","source":"gs://in/bills.xlsx","addMissing":true}`, http.StatusAccepted},
		{"missing source", `{"mode":"sync"}`, http.StatusBadRequest},
		{"bad mode", `{"mode":"merge","source":"gs://in/bills.xlsx"}`, http.StatusBadRequest},
		{"add missing on sync", `{"mode":"sync","source":"gs://in/bills.xlsx","addMissing":true}`, http.StatusBadRequest},
		{"local source refused", `{"mode":"sync","source":"/etc/passwd"}`, http.StatusBadRequest},
		{"not json", `mode=sync`, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			w := s.do(t, http.MethodPost, "/api/bill-sync/runs", tc.body, "")
			require.Equal(t, tc.wantCode, w.Code, w.Body.String())
			if tc.wantCode != http.StatusAccepted {
				assert.Empty(t, s.publisher.ids)
				return
			}

			var resp struct {
				ID uint `json:"id"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, []uint{resp.ID}, s.publisher.ids)

			run := s.store.run(t, resp.ID)
			assert.Equal(t, models.SyncRunStatusQueued, run.Status)
			assert.Equal(t, models.SyncTriggeredManual, run.TriggeredBy)
			assert.Equal(t, "http", run.Gateway)
			assert.NotEmpty(t, run.CorrelationId)
			assert.Equal(t, w.Header().Get(middlewares.CorrelationHeader), run.CorrelationId)
		})
	}
}

func TestTriggerSyncHandler_PublishFailureFailsRun(t *testing.T) {
	s := newTestServer(t, nil)
	s.publisher.err = errors.New("pubsub down")

	w := s.do(t, http.MethodPost, "/api/bill-sync/runs", `{"mode":"sync","source":"gs://in/bills.xlsx"}`, "")
	require.Equal(t, http.StatusBadGateway, w.Code)

	run := s.store.run(t, 1)
	assert.Equal(t, models.SyncRunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "pubsub down")
}

func TestTriggerSyncHandler_AllowLocalSources(t *testing.T) {
	s := newTestServer(t, nil)
	s.handlers.AllowLocalSources = true

	w := s.do(t, http.MethodPost, "/api/bill-sync/runs", `{"mode":"diff","source":"./bills.xlsx"}`, "")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, testSecret)
	body := `{"mode":"sync","source":"gs://in/bills.xlsx"}`

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/bill-sync/runs", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/bill-sync/runs", "", "garbage").Code)

	other, err := utils.JwtGenerate([]byte("other-secret"), "mallory", utils.RoleOperator, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/bill-sync/runs", "", other).Code)

	viewer := token(t, utils.RoleViewer)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/bill-sync/runs", "", viewer).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/bill-sync/runs", body, viewer).Code)

	w := s.do(t, http.MethodPost, "/api/bill-sync/runs", body, token(t, utils.RoleOperator))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "alice", s.store.run(t, 1).RequestedBy)
}

func TestHistoryDetailAndRetry(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	parent := models.BillSyncRun{Mode: models.SyncModeDiff, Source: "gs://in/a.xlsx", AddMissing: true, Status: models.SyncRunStatusPartial}
	require.NoError(t, s.store.CreateRun(ctx, &parent))
	require.NoError(t, s.store.FinishRun(ctx, parent.ID, RunResult{
		Status:       models.SyncRunStatusPartial,
		StatsJSON:    []byte(`{"MATCHED":2,"add_failed":1}`),
		RecordsTotal: 3,
		ErrorCount:   1,
		ReportURL:    "gs://reports/bill-sync/run-1.xlsx",
		FinishedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, s.store.SaveEntries(ctx, []models.BillSyncEntry{
		{SyncRunId: parent.ID, Side: models.EntrySideExcel, InvoiceNum: "INV5", Status: "FailedToAdd", ErrorCode: 3140, Message: "Invalid reference to vendor"},
	}))
	running := models.BillSyncRun{Mode: models.SyncModeSync, Source: "gs://in/b.xlsx", Status: models.SyncRunStatusRunning}
	require.NoError(t, s.store.CreateRun(ctx, &running))

	w := s.do(t, http.MethodGet, "/api/bill-sync/runs?limit=1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var history SyncHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Items, 1)
	assert.Equal(t, running.ID, history.Items[0].ID)

	w = s.do(t, http.MethodGet, "/api/bill-sync/runs/1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail SyncRunDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "partial", detail.Status)
	assert.Equal(t, 2, detail.Stats["MATCHED"])
	assert.True(t, detail.HasReport)
	assert.Equal(t, "2024-05-01T12:00:00Z", *detail.FinishedAt)
	require.Len(t, detail.Entries, 1)
	assert.Equal(t, 3140, detail.Entries[0].ErrorCode)

	w = s.do(t, http.MethodGet, "/api/bill-sync/runs/1/report", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var link ReportLinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &link))
	assert.Equal(t, "https://signed.example/reports/bill-sync/run-1.xlsx", link.URL)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/bill-sync/runs/2/report", "", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/bill-sync/runs/42", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/bill-sync/runs/abc", "", "").Code)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/bill-sync/runs/2/retry", "", "").Code)

	w = s.do(t, http.MethodPost, "/api/bill-sync/runs/1/retry", "", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	retry := s.store.run(t, 3)
	assert.Equal(t, models.SyncTriggeredRetry, retry.TriggeredBy)
	assert.Equal(t, models.SyncModeDiff, retry.Mode)
	assert.True(t, retry.AddMissing)
	require.NotNil(t, retry.ParentRunId)
	assert.Equal(t, uint(1), *retry.ParentRunId)
	assert.Equal(t, []uint{3}, s.publisher.ids)
}
