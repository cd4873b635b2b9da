package billsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/itembills_sync/config"
	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/mmdatafocus/itembills_sync/utils"
)

// Handlers serves run history and run triggers. Runs are executed by whatever
// Publisher hands them to the Worker.
type Handlers struct {
	Store             RunStore
	Publisher         Publisher
	Gateway           string
	AllowLocalSources bool
	ReportLinkTTL     time.Duration

	SignReport func(ctx context.Context, gsURI string, expires time.Duration) (*utils.SignedDownload, error)
}

func NewHandlers(store RunStore, publisher Publisher, gateway string) *Handlers {
	return &Handlers{
		Store:             store,
		Publisher:         publisher,
		Gateway:           gateway,
		AllowLocalSources: config.EnvBoolDefault("BILLSYNC_ALLOW_LOCAL_SOURCES", false),
		ReportLinkTTL:     config.SecondsFromEnv("BILLSYNC_REPORT_LINK_TTL_SECONDS", 15*time.Minute),
		SignReport:        utils.SignDownload,
	}
}

func (h *Handlers) TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}
		req.Source = strings.TrimSpace(req.Source)
		if !req.Mode.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be sync or diff"})
			return
		}
		if req.AddMissing && req.Mode != models.SyncModeDiff {
			c.JSON(http.StatusBadRequest, gin.H{"error": "addMissing applies to diff runs only"})
			return
		}
		if _, _, ok := utils.ParseGCSURI(req.Source); !ok && !h.AllowLocalSources {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source must be a gs:// uri"})
			return
		}

		ctx := c.Request.Context()
		run := models.BillSyncRun{
			Mode:        req.Mode,
			Source:      req.Source,
			AddMissing:  req.AddMissing,
			Gateway:     h.Gateway,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredManual,
		}
		h.enqueue(ctx, c, &run)
	}
}

func (h *Handlers) SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		runs, err := h.Store.ListRuns(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func (h *Handlers) SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := h.loadRun(c)
		if !ok {
			return
		}

		entries, err := h.Store.ListEntries(c.Request.Context(), run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(*run),
			Entries:         mapEntries(entries),
		})
	}
}

func (h *Handlers) RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := h.loadRun(c)
		if !ok {
			return
		}
		if !isTerminal(run.Status) {
			c.JSON(http.StatusConflict, gin.H{"error": "run is still " + run.Status})
			return
		}

		newRun := models.BillSyncRun{
			Mode:        run.Mode,
			Source:      run.Source,
			AddMissing:  run.AddMissing,
			Gateway:     h.Gateway,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredRetry,
			ParentRunId: &run.ID,
		}
		h.enqueue(c.Request.Context(), c, &newRun)
	}
}

func (h *Handlers) ReportLinkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := h.loadRun(c)
		if !ok {
			return
		}
		if run.ReportURL == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "run has no report"})
			return
		}

		link, err := h.SignReport(c.Request.Context(), run.ReportURL, h.ReportLinkTTL)
		if err != nil {
			config.LogError(config.GetLogger(), "billsync", "ReportLinkHandler", "sign report", run.ReportURL, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not sign report link"})
			return
		}
		c.JSON(http.StatusOK, ReportLinkResponse{URL: link.URL, ExpiresAt: link.ExpiresAt})
	}
}

func (h *Handlers) enqueue(ctx context.Context, c *gin.Context, run *models.BillSyncRun) {
	ctx, cid := utils.EnsureCorrelationId(ctx)
	run.CorrelationId = cid
	if operator, ok := utils.GetOperatorFromContext(ctx); ok {
		run.RequestedBy = operator
	}

	if err := h.Store.CreateRun(ctx, run); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.Publisher.PublishSyncRun(ctx, run.ID, cid); err != nil {
		config.LogError(config.GetLogger(), "billsync", "enqueue", "publish run", run.ID, err)
		_ = h.Store.FinishRun(ctx, run.ID, RunResult{
			Status:       models.SyncRunStatusFailed,
			ErrorCount:   1,
			ErrorMessage: "publish: " + err.Error(),
			FinishedAt:   time.Now(),
		})
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not queue run", "id": run.ID})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": run.ID})
}

func (h *Handlers) loadRun(c *gin.Context) (*models.BillSyncRun, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return nil, false
	}
	run, err := h.Store.GetRun(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return run, true
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.BillSyncRun) SyncRunResponse {
	var stats map[string]int
	if len(run.StatsJSON) > 0 {
		_ = json.Unmarshal(run.StatsJSON, &stats)
	}
	return SyncRunResponse{
		ID:           run.ID,
		Mode:         string(run.Mode),
		Source:       run.Source,
		AddMissing:   run.AddMissing,
		Gateway:      run.Gateway,
		Status:       run.Status,
		StartedAt:    formatTime(run.StartedAt),
		FinishedAt:   formatTime(run.FinishedAt),
		DurationMs:   run.DurationMs,
		RecordsTotal: run.RecordsTotal,
		ErrorCount:   run.ErrorCount,
		ErrorMessage: run.ErrorMessage,
		TriggeredBy:  run.TriggeredBy,
		RequestedBy:  run.RequestedBy,
		ParentRunId:  run.ParentRunId,
		Stats:        stats,
		HasReport:    run.ReportURL != "",
	}
}

func mapEntries(entries []models.BillSyncEntry) []SyncEntryResponse {
	out := make([]SyncEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, SyncEntryResponse{
			ID:         e.ID,
			Side:       e.Side,
			VendorName: e.VendorName,
			InvoiceNum: e.InvoiceNum,
			TxnId:      e.TxnId,
			Status:     e.Status,
			ErrorCode:  e.ErrorCode,
			Message:    e.Message,
		})
	}
	return out
}
