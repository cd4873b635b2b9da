package remote

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/itembills_sync/config"
	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/mmdatafocus/itembills_sync/reconcile"
)

const (
	GatewayHTTP  = "http"
	GatewayBooks = "books"
)

// GatewayFromEnv returns BILLSYNC_GATEWAY, defaulting to http.
func GatewayFromEnv() string {
	return strings.ToLower(config.EnvString("BILLSYNC_GATEWAY", GatewayHTTP))
}

// NewConnectorFromEnv builds the connector selected by BILLSYNC_GATEWAY. The books
// gateway uses the global database, which must be connected first.
func NewConnectorFromEnv() (reconcile.Connector, error) {
	switch gw := GatewayFromEnv(); gw {
	case GatewayHTTP:
		return NewHTTPConnector(HTTPSettingsFromEnv(), nil)
	case GatewayBooks:
		db := config.GetDB()
		if db == nil {
			return nil, fmt.Errorf("books gateway requires a database connection")
		}
		if config.EnvBoolDefault("BILLSYNC_BOOKS_MIGRATE", false) {
			if err := models.MigrateBooksLedger(db); err != nil {
				return nil, fmt.Errorf("migrate books ledger: %w", err)
			}
		}
		return NewBooksConnector(db), nil
	default:
		return nil, fmt.Errorf("unknown BILLSYNC_GATEWAY %q (want %s or %s)", gw, GatewayHTTP, GatewayBooks)
	}
}
