package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrDeleteUnsupported  = errors.New("gateway does not support deleting bills")
	ErrVendorsUnsupported = errors.New("gateway does not support adding vendors")
)

// QueryAllBills returns every bill currently held by the accounting system.
func (c *Comparator) QueryAllBills(ctx context.Context) ([]*models.ItemBill, error) {
	var bills []*models.ItemBill
	err := WithSession(ctx, c.Connector, c.AppName, func(sess Session) error {
		var err error
		bills, err = sess.QueryAllBills(ctx)
		return gatewayErr("query bills", err)
	})
	if err != nil {
		c.logError("QueryAllBills", "query bills", err)
		return nil, err
	}
	return bills, nil
}

type DeleteSummary struct {
	Requested int                 `json:"requested"`
	Deleted   int                 `json:"deleted"`
	Failures  map[string]string   `json:"failures,omitempty"`
	Outcomes  []models.AddOutcome `json:"-"`
}

// DeleteAllBills removes every bill from the accounting system one transaction id
// at a time. A failed delete is logged and the loop continues.
func (c *Comparator) DeleteAllBills(ctx context.Context) (DeleteSummary, error) {
	summary := DeleteSummary{Failures: map[string]string{}}

	release, err := c.lock(ctx)
	if err != nil {
		return summary, err
	}
	defer release()

	logger := c.logger()
	err = WithSession(ctx, c.Connector, c.AppName, func(sess Session) error {
		deleter, ok := sess.(BillDeleter)
		if !ok {
			return ErrDeleteUnsupported
		}
		bills, err := sess.QueryAllBills(ctx)
		if err != nil {
			return gatewayErr("query bills", err)
		}
		summary.Requested = len(bills)
		for _, bill := range bills {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcome, err := deleter.DeleteBill(ctx, bill.TxnId)
			if err != nil {
				outcome = models.FailedOutcome(models.OutcomeCodeNoResponse, err.Error())
			}
			summary.Outcomes = append(summary.Outcomes, outcome)
			if outcome.StatusCode == models.OutcomeCodeOK {
				summary.Deleted++
				continue
			}
			summary.Failures[bill.TxnId] = outcome.StatusMessage
			logger.WithFields(logrus.Fields{
				"txn_id":      bill.TxnId,
				"invoice_num": bill.InvoiceNum,
				"code":        outcome.StatusCode,
			}).Warn("Failed to delete bill: " + outcome.StatusMessage)
		}
		return nil
	})
	if err != nil {
		c.logError("DeleteAllBills", "delete bills", err)
		return summary, err
	}
	logger.WithFields(logrus.Fields{"deleted": summary.Deleted, "requested": summary.Requested}).Info("Bills deleted from the accounting system.")
	return summary, nil
}

// AddVendors creates the given vendor names in one batch. Blank and duplicate
// names (case-insensitive) are dropped before submitting.
func (c *Comparator) AddVendors(ctx context.Context, names []string) ([]string, []models.AddOutcome, error) {
	seen := map[string]bool{}
	unique := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, name)
	}
	if len(unique) == 0 {
		return unique, nil, nil
	}

	release, err := c.lock(ctx)
	if err != nil {
		return unique, nil, err
	}
	defer release()

	var outcomes []models.AddOutcome
	err = WithSession(ctx, c.Connector, c.AppName, func(sess Session) error {
		adder, ok := sess.(VendorAdder)
		if !ok {
			return ErrVendorsUnsupported
		}
		var err error
		outcomes, err = adder.AddVendors(ctx, unique)
		return gatewayErr("add vendors", err)
	})
	if err != nil {
		c.logError("AddVendors", "add vendors", err)
		return unique, nil, err
	}

	padded := make([]models.AddOutcome, len(unique))
	for i := range unique {
		if i < len(outcomes) {
			padded[i] = outcomes[i]
		} else {
			padded[i] = models.FailedOutcome(models.OutcomeCodeNoResponse, "no response for vendor")
		}
	}
	return unique, padded, nil
}
