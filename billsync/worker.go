package billsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmdatafocus/itembills_sync/config"
	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/mmdatafocus/itembills_sync/reconcile"
	"github.com/mmdatafocus/itembills_sync/utils"
	"github.com/sirupsen/logrus"
)

// Worker executes queued runs. A run is processed at most once: a run already in
// a terminal state is skipped, so Pub/Sub redeliveries are harmless.
type Worker struct {
	Store        RunStore
	Connector    reconcile.Connector
	Locker       reconcile.Locker
	AppName      string
	ReportBucket string
	Logger       *logrus.Logger

	// OpenSource and UploadReport default to the GCS helpers in utils.
	OpenSource   func(ctx context.Context, source string) (io.ReadCloser, error)
	UploadReport func(ctx context.Context, bucket, object string, data []byte, contentType string) (string, error)
}

func NewWorker(store RunStore, connector reconcile.Connector, locker reconcile.Locker) *Worker {
	return &Worker{
		Store:        store,
		Connector:    connector,
		Locker:       locker,
		AppName:      config.EnvString("BILLSYNC_APP_NAME", reconcile.DefaultAppName),
		ReportBucket: config.EnvString("BILLSYNC_REPORT_BUCKET", ""),
		Logger:       config.GetLogger(),
	}
}

type runOutcome struct {
	stats   map[string]int
	records int
	errors  int
	entries []models.BillSyncEntry
	report  []byte
}

func (w *Worker) ProcessRun(ctx context.Context, runId uint) error {
	run, err := w.Store.GetRun(ctx, runId)
	if err != nil {
		return err
	}
	if isTerminal(run.Status) {
		return nil
	}

	ctx = utils.SetRunIdInContext(ctx, run.ID)
	if run.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, run.CorrelationId)
	}

	startedAt := time.Now()
	if run.StartedAt != nil {
		startedAt = *run.StartedAt
	}
	if err := w.Store.MarkRunning(ctx, run.ID, startedAt); err != nil {
		return err
	}

	audit := &reconcile.MemoryAudit{}
	outcome, runErr := w.execute(ctx, run, audit)

	finishedAt := time.Now()
	result := RunResult{
		FinishedAt: finishedAt,
		DurationMs: finishedAt.Sub(startedAt).Milliseconds(),
	}
	switch {
	case runErr != nil && outcome.records == 0:
		w.logError("ProcessRun", fmt.Sprintf("run %d failed", run.ID), runErr)
		result.Status = models.SyncRunStatusFailed
		result.ErrorCount = 1
		result.ErrorMessage = runErr.Error()
	default:
		result.Status = runStatus(outcome.records, outcome.errors)
		result.RecordsTotal = outcome.records
		result.ErrorCount = outcome.errors
		result.StatsJSON, _ = json.Marshal(outcome.stats)
		result.ReportURL = w.uploadReport(ctx, run.ID, outcome.report)
		if runErr != nil {
			// Records were already classified and possibly written remotely.
			w.logError("ProcessRun", fmt.Sprintf("run %d finished with error", run.ID), runErr)
			result.ErrorMessage = runErr.Error()
			if result.Status == models.SyncRunStatusSuccess {
				result.Status = models.SyncRunStatusPartial
			}
		}
	}

	entries := entriesFromEvents(run.ID, audit.Events())
	entries = append(entries, outcome.entries...)
	if err := w.Store.SaveEntries(ctx, entries); err != nil {
		w.logError("ProcessRun", "save entries", err)
	}

	return w.Store.FinishRun(ctx, run.ID, result)
}

func (w *Worker) execute(ctx context.Context, run *models.BillSyncRun, audit *reconcile.MemoryAudit) (runOutcome, error) {
	bills, err := w.readSource(ctx, run.Source)
	if err != nil {
		return runOutcome{}, err
	}

	comparator := reconcile.NewComparator(w.Connector,
		reconcile.WithAppName(w.AppName),
		reconcile.WithAudit(reconcile.MultiAudit{audit, reconcile.NewLogrusAudit(w.logger())}),
		reconcile.WithLocker(w.Locker),
		reconcile.WithLogger(w.logger()),
	)

	var out runOutcome
	var report bytes.Buffer
	var runErr error
	switch run.Mode {
	case models.SyncModeSync:
		results, err := comparator.CompareItemBills(ctx, bills)
		if err != nil && len(results) == 0 {
			return runOutcome{}, err
		}
		runErr = err
		summary := reconcile.SummarizeSync(results)
		out.stats = summary.Counts
		out.records = summary.Total
		out.errors = summary.Count(models.SyncStatusFailedToAdd)
		if err := reconcile.ExportSyncReportXlsx(&report, results); err != nil {
			w.logError("execute", "export sync report", err)
		}

	case models.SyncModeDiff:
		results, err := comparator.CompareWithRemote(ctx, bills)
		if err != nil {
			return runOutcome{}, err
		}
		summary := reconcile.SummarizeDiff(results)
		out.stats = summary.Counts
		out.records = summary.Total
		if run.AddMissing {
			added, failed := w.addMissing(ctx, comparator, run.ID, results)
			out.stats["added"] = added
			out.stats["add_failed"] = len(failed)
			out.errors = len(failed)
			out.entries = failed
		}
		if err := reconcile.ExportDiffReportXlsx(&report, results); err != nil {
			w.logError("execute", "export diff report", err)
		}

	default:
		return runOutcome{}, fmt.Errorf("unknown sync mode %q", run.Mode)
	}

	out.report = report.Bytes()
	return out, runErr
}

// addMissing returns the number of bills created and one failure entry per bill
// the gateway rejected. A nil outcome slice means the batch never reached the
// gateway, so every submitted bill counts as failed.
func (w *Worker) addMissing(ctx context.Context, comparator *reconcile.Comparator, runId uint, results []models.ComparisonResult) (int, []models.BillSyncEntry) {
	submitted := make([]*models.ItemBill, 0)
	for _, r := range results {
		if r.Status == models.DiffStatusMissingInQB && r.ExcelBill != nil {
			submitted = append(submitted, r.ExcelBill)
		}
	}
	if len(submitted) == 0 {
		return 0, nil
	}

	outcomes := comparator.AddMissingBills(ctx, results)
	added := 0
	failed := make([]models.BillSyncEntry, 0)
	for i, bill := range submitted {
		var outcome models.AddOutcome
		if i < len(outcomes) {
			outcome = outcomes[i]
		} else {
			outcome = models.FailedOutcome(models.OutcomeCodeNoResponse, "no response for bill")
		}
		if outcome.Succeeded() {
			added++
			continue
		}
		failed = append(failed, models.BillSyncEntry{
			SyncRunId:  runId,
			Side:       models.EntrySideExcel,
			VendorName: bill.VendorName,
			InvoiceNum: bill.InvoiceNum,
			Status:     models.SyncStatusFailedToAdd.String(),
			ErrorCode:  outcome.StatusCode,
			Message:    outcome.StatusMessage,
		})
	}
	return added, failed
}

func (w *Worker) readSource(ctx context.Context, source string) ([]*models.ItemBill, error) {
	open := w.OpenSource
	if open == nil {
		open = utils.OpenSource
	}
	rc, err := open(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer rc.Close()
	return reconcile.ReadBillsFromReader(rc, source)
}

// uploadReport stores the xlsx report and returns its gs:// URI. Failures are
// logged and leave the run without a report.
func (w *Worker) uploadReport(ctx context.Context, runId uint, data []byte) string {
	if w.ReportBucket == "" || len(data) == 0 {
		return ""
	}
	upload := w.UploadReport
	if upload == nil {
		upload = utils.UploadBytesToGCS
	}
	object := fmt.Sprintf("bill-sync/run-%d-%s.xlsx", runId, utils.GenerateUniqueFilename())
	uri, err := upload(ctx, w.ReportBucket, object, data, utils.XlsxContentType)
	if err != nil {
		w.logError("uploadReport", object, err)
		return ""
	}
	return uri
}

func runStatus(records, errorCount int) string {
	switch {
	case errorCount == 0:
		return models.SyncRunStatusSuccess
	case errorCount >= records:
		return models.SyncRunStatusFailed
	default:
		return models.SyncRunStatusPartial
	}
}

// entriesFromEvents keeps the per-record classification events; start and
// completion events carry no invoice number.
func entriesFromEvents(runId uint, events []reconcile.AuditEvent) []models.BillSyncEntry {
	entries := make([]models.BillSyncEntry, 0, len(events))
	for _, ev := range events {
		if _, ok := ev.Fields["invoice_num"]; !ok {
			continue
		}
		status := fieldString(ev.Fields, "status")
		side := fieldString(ev.Fields, "side")
		if side == "" {
			side = models.EntrySideExcel
			if status == models.DiffStatusMissingInExcel.String() {
				side = models.EntrySideRemote
			}
		}
		message := fieldString(ev.Fields, "status_message")
		if message == "" {
			message = fieldString(ev.Fields, "error")
		}
		code, _ := ev.Fields["status_code"].(int)
		entries = append(entries, models.BillSyncEntry{
			SyncRunId:  runId,
			Side:       side,
			VendorName: fieldString(ev.Fields, "vendor_name"),
			InvoiceNum: fieldString(ev.Fields, "invoice_num"),
			TxnId:      fieldString(ev.Fields, "txn_id"),
			Status:     status,
			ErrorCode:  code,
			Message:    message,
		})
	}
	return entries
}

func fieldString(fields reconcile.Fields, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

func (w *Worker) logger() *logrus.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return config.GetLogger()
}

func (w *Worker) logError(funcName, msg string, err error) {
	config.LogError(w.logger(), "billsync", funcName, msg, nil, err)
}
