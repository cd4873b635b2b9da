package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/itembills_sync/models"
)

// Session is an open connection to the accounting system. Sessions are scoped:
// obtain one through WithSession and never keep it past the callback.
type Session interface {
	// QueryAllBills returns every bill with its line items. Each bill carries a TxnId.
	QueryAllBills(ctx context.Context) ([]*models.ItemBill, error)
	// AddBills creates the bills in one batch and returns one outcome per bill, in order.
	// An error is returned only when the batch could not be submitted at all.
	AddBills(ctx context.Context, bills []*models.ItemBill) ([]models.AddOutcome, error)
	Close() error
}

// BillDeleter is implemented by sessions that can delete bills by transaction id.
type BillDeleter interface {
	DeleteBill(ctx context.Context, txnId string) (models.AddOutcome, error)
}

// VendorAdder is implemented by sessions that can create vendors.
type VendorAdder interface {
	AddVendors(ctx context.Context, names []string) ([]models.AddOutcome, error)
}

// Connector opens sessions against one accounting system.
type Connector interface {
	Open(ctx context.Context, appName string) (Session, error)
}

var ErrSessionClosed = errors.New("gateway session is closed")

// GatewayError is a connection or transport level failure talking to the accounting system.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func gatewayErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return err
	}
	return &GatewayError{Op: op, Err: err}
}

// WithSession opens a session, runs fn and closes the session on every exit path.
// A close failure is reported only when fn itself succeeded.
func WithSession(ctx context.Context, connector Connector, appName string, fn func(Session) error) (err error) {
	if connector == nil {
		return gatewayErr("open", errors.New("no connector configured"))
	}
	sess, err := connector.Open(ctx, appName)
	if err != nil {
		return gatewayErr("open", err)
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil && err == nil {
			err = gatewayErr("close", closeErr)
		}
	}()
	return fn(sess)
}
