package reconcile

import (
	"context"

	"github.com/mmdatafocus/itembills_sync/models"
)

// ApplyOutcomes assigns TxnId on each bill from the outcome at the same index.
// Bills without a corresponding outcome are treated as failed. The returned slice
// always has one outcome per bill.
func ApplyOutcomes(bills []*models.ItemBill, outcomes []models.AddOutcome) []models.AddOutcome {
	applied := make([]models.AddOutcome, len(bills))
	for i, bill := range bills {
		outcome := models.FailedOutcome(models.OutcomeCodeNoResponse, "no response for bill")
		if i < len(outcomes) {
			outcome = outcomes[i]
		}
		if outcome.Succeeded() {
			bill.TxnId = outcome.TxnId
		} else {
			bill.TxnId = ""
		}
		applied[i] = outcome
	}
	return applied
}

// addBills submits bills in one batch and maps the outcomes back onto them.
// A gateway may fail partway through a batch; the outcomes it did return are
// still applied and returned alongside the error.
func addBills(ctx context.Context, sess Session, bills []*models.ItemBill) ([]models.AddOutcome, error) {
	outcomes, err := sess.AddBills(ctx, bills)
	if err != nil {
		if len(outcomes) == 0 {
			for _, bill := range bills {
				bill.TxnId = ""
			}
			return nil, gatewayErr("add bills", err)
		}
		return ApplyOutcomes(bills, outcomes), gatewayErr("add bills", err)
	}
	return ApplyOutcomes(bills, outcomes), nil
}
