package models

import (
	"log"

	"gorm.io/gorm"
)

// MigrateTable creates or updates the run history tables.
func MigrateTable(db *gorm.DB) {
	if err := db.AutoMigrate(&BillSyncRun{}, &BillSyncEntry{}); err != nil {
		log.Fatal(err)
	}
}

// MigrateBooksLedger creates or updates the books ledger tables used by the books gateway.
func MigrateBooksLedger(db *gorm.DB) error {
	return db.AutoMigrate(&Vendor{}, &Item{}, &Bill{}, &BillLine{})
}
