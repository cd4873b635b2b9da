package reconcile

import (
	"context"

	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/sirupsen/logrus"
)

const DefaultAppName = "ItemBills App"

// Comparator reconciles spreadsheet bills against the accounting system reached
// through Connector. It holds no session between calls; every public method opens
// its own and releases it before returning.
type Comparator struct {
	Connector Connector
	AppName   string
	Audit     AuditSink
	Locker    Locker
	Logger    *logrus.Logger
}

type Option func(*Comparator)

func WithAppName(name string) Option {
	return func(c *Comparator) {
		if name != "" {
			c.AppName = name
		}
	}
}

func WithAudit(sink AuditSink) Option {
	return func(c *Comparator) { c.Audit = sink }
}

func WithLocker(locker Locker) Option {
	return func(c *Comparator) { c.Locker = locker }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(c *Comparator) { c.Logger = logger }
}

func NewComparator(connector Connector, opts ...Option) *Comparator {
	c := &Comparator{
		Connector: connector,
		AppName:   DefaultAppName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompareItemBills matches each company bill to the first accounting-system bill with
// the same invoice number. Unmatched bills are created one by one; a failed create
// marks the bill FailedToAdd and the loop moves on. Accounting-system bills with no
// company counterpart are appended with status Missing.
func (c *Comparator) CompareItemBills(ctx context.Context, companyBills []*models.ItemBill) ([]*models.ItemBill, error) {
	audit := c.audit()
	audit.RecordEvent(ctx, EventRunStarted, Fields{"mode": string(models.SyncModeSync), "company_bills": len(companyBills)})

	release, err := c.lock(ctx)
	if err != nil {
		audit.RecordEvent(ctx, EventRunCompleted, Fields{"mode": string(models.SyncModeSync), "error": err.Error()})
		return nil, err
	}
	defer release()

	results := make([]*models.ItemBill, 0, len(companyBills))
	err = WithSession(ctx, c.Connector, c.AppName, func(sess Session) error {
		qbBills, err := sess.QueryAllBills(ctx)
		if err != nil {
			return gatewayErr("query bills", err)
		}

		for _, bill := range companyBills {
			fields := Fields{"invoice_num": bill.InvoiceNum, "vendor_name": bill.VendorName, "side": models.EntrySideExcel}

			match := firstMatch(qbBills, bill, sameInvoice)
			switch {
			case match == nil:
				c.addCompanyBill(ctx, sess, bill, fields)
			case BillsAreEqual(match, bill):
				bill.TxnId = match.TxnId
				bill.Status = models.SyncStatusUnchanged
			default:
				bill.TxnId = match.TxnId
				bill.Status = models.SyncStatusDifferent
			}

			fields["status"] = bill.Status.String()
			fields["txn_id"] = bill.TxnId
			audit.RecordEvent(ctx, classifiedMessage(bill.InvoiceNum, bill.Status), fields)
			results = append(results, bill)
		}

		for _, qbBill := range qbBills {
			if firstMatch(companyBills, qbBill, sameInvoice) != nil {
				continue
			}
			qbBill.Status = models.SyncStatusMissing
			audit.RecordEvent(ctx, classifiedMessage(qbBill.InvoiceNum, qbBill.Status), Fields{
				"invoice_num": qbBill.InvoiceNum,
				"vendor_name": qbBill.VendorName,
				"txn_id":      qbBill.TxnId,
				"status":      qbBill.Status.String(),
				"side":        models.EntrySideRemote,
			})
			results = append(results, qbBill)
		}
		return nil
	})

	done := Fields{"mode": string(models.SyncModeSync), "results": len(results)}
	for status, n := range SummarizeSync(results).Counts {
		done[status] = n
	}
	if err != nil {
		c.logError("CompareItemBills", "sync run failed", err)
		done["error"] = err.Error()
	}
	audit.RecordEvent(ctx, EventRunCompleted, done)
	return results, err
}

func (c *Comparator) addCompanyBill(ctx context.Context, sess Session, bill *models.ItemBill, fields Fields) {
	outcomes, err := addBills(ctx, sess, []*models.ItemBill{bill})
	if err != nil {
		c.logError("CompareItemBills", "add bill "+bill.InvoiceNum, err)
		fields["error"] = err.Error()
		if len(outcomes) == 0 {
			bill.Status = models.SyncStatusFailedToAdd
			return
		}
	}
	outcome := outcomes[0]
	if outcome.Succeeded() {
		bill.Status = models.SyncStatusAdded
		return
	}
	bill.Status = models.SyncStatusFailedToAdd
	fields["status_code"] = outcome.StatusCode
	fields["status_message"] = outcome.StatusMessage
}

// CompareBothDirections classifies every bill of both lists exactly once, matching
// on (vendor, invoice) case-insensitively. It performs no writes.
func CompareBothDirections(excelBills, qbBills []*models.ItemBill) []models.ComparisonResult {
	results := make([]models.ComparisonResult, 0, len(excelBills)+len(qbBills))

	for _, excelBill := range excelBills {
		match := firstMatch(qbBills, excelBill, sameBusinessKey)

		var status models.DiffStatus
		switch {
		case match == nil:
			status = models.DiffStatusMissingInQB
		case BillsAreEqual(match, excelBill):
			status = models.DiffStatusMatched
		default:
			status = models.DiffStatusConflict
		}
		results = append(results, models.ComparisonResult{
			ExcelBill:      excelBill,
			QuickBooksBill: match,
			Status:         status,
		})
	}

	for _, qbBill := range qbBills {
		if firstMatch(excelBills, qbBill, sameBusinessKey) == nil {
			results = append(results, models.ComparisonResult{
				QuickBooksBill: qbBill,
				Status:         models.DiffStatusMissingInExcel,
			})
		}
	}

	return results
}

// CompareWithRemote fetches the current accounting-system bills and runs
// CompareBothDirections against excelBills.
func (c *Comparator) CompareWithRemote(ctx context.Context, excelBills []*models.ItemBill) ([]models.ComparisonResult, error) {
	audit := c.audit()
	audit.RecordEvent(ctx, EventRunStarted, Fields{"mode": string(models.SyncModeDiff), "company_bills": len(excelBills)})

	qbBills, err := c.QueryAllBills(ctx)
	if err != nil {
		audit.RecordEvent(ctx, EventRunCompleted, Fields{"mode": string(models.SyncModeDiff), "error": err.Error()})
		return nil, err
	}

	results := CompareBothDirections(excelBills, qbBills)
	for _, r := range results {
		fields := Fields{"invoice_num": r.InvoiceNum(), "vendor_name": r.VendorName(), "status": r.Status.String()}
		if r.QuickBooksBill != nil {
			fields["txn_id"] = r.QuickBooksBill.TxnId
		}
		audit.RecordEvent(ctx, classifiedMessage(r.InvoiceNum(), r.Status), fields)
	}

	done := Fields{"mode": string(models.SyncModeDiff), "results": len(results)}
	for status, n := range SummarizeDiff(results).Counts {
		done[status] = n
	}
	audit.RecordEvent(ctx, EventRunCompleted, done)
	return results, nil
}

// AddMissingBills creates, in one batch, every excel bill classified MISSING_IN_QB.
// It never fails: gateway errors are logged. Outcomes the gateway returned before
// failing are kept, padded to one per submitted bill; with none the slice is nil.
func (c *Comparator) AddMissingBills(ctx context.Context, results []models.ComparisonResult) []models.AddOutcome {
	billsToAdd := make([]*models.ItemBill, 0)
	for _, r := range results {
		if r.Status == models.DiffStatusMissingInQB && r.ExcelBill != nil {
			billsToAdd = append(billsToAdd, r.ExcelBill)
		}
	}

	logger := c.logger()
	if len(billsToAdd) == 0 {
		logger.Info("No bills were added due to errors or missing vendor/items.")
		return nil
	}

	release, err := c.lock(ctx)
	if err != nil {
		c.logError("AddMissingBills", "lock", err)
		return nil
	}
	defer release()

	var outcomes []models.AddOutcome
	err = WithSession(ctx, c.Connector, c.AppName, func(sess Session) error {
		var addErr error
		outcomes, addErr = addBills(ctx, sess, billsToAdd)
		return addErr
	})
	if err != nil {
		c.logError("AddMissingBills", "Error while adding bills", err)
		if len(outcomes) == 0 {
			return nil
		}
	}

	added := 0
	for i, outcome := range outcomes {
		if outcome.Succeeded() {
			added++
			continue
		}
		logger.WithFields(logrus.Fields{
			"invoice_num": billsToAdd[i].InvoiceNum,
			"code":        outcome.StatusCode,
		}).Warn("Failed to add bill: " + outcome.StatusMessage)
	}
	logger.WithFields(logrus.Fields{"added": added, "submitted": len(billsToAdd)}).Info("Missing bills added to the accounting system.")
	return outcomes
}

func firstMatch(bills []*models.ItemBill, target *models.ItemBill, same func(a, b *models.ItemBill) bool) *models.ItemBill {
	for _, b := range bills {
		if same(b, target) {
			return b
		}
	}
	return nil
}

func (c *Comparator) audit() AuditSink {
	if c.Audit == nil {
		return noopAudit{}
	}
	return c.Audit
}

func (c *Comparator) logger() *logrus.Logger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

func (c *Comparator) logError(funcName, msg string, err error) {
	c.logger().WithFields(logrus.Fields{
		"module":   "reconcile",
		"funcName": funcName,
		"context":  msg,
	}).Error(err.Error())
}

func (c *Comparator) lock(ctx context.Context) (func(), error) {
	if c.Locker == nil {
		return func() {}, nil
	}
	return c.Locker.Obtain(ctx, "billsync:"+c.AppName)
}
