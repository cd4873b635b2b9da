package models

import "time"

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

type BillSyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Mode          SyncMode   `gorm:"size:10;not null" json:"mode"`
	Source        string     `gorm:"type:text;not null" json:"source"`
	AddMissing    bool       `gorm:"default:false" json:"add_missing"`
	Gateway       string     `gorm:"size:20" json:"gateway"`
	Status        string     `gorm:"index;size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	RequestedBy   string     `gorm:"size:128" json:"requested_by"`
	CorrelationId string     `gorm:"size:64" json:"correlation_id"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	RecordsTotal  int        `json:"records_total"`
	ErrorCount    int        `json:"error_count"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message"`
	ReportURL     string     `gorm:"size:512" json:"report_url"`
	ParentRunId   *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BillSyncEntry is one classified record of a run.
type BillSyncEntry struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	SyncRunId  uint      `gorm:"index;not null" json:"sync_run_id"`
	Side       string    `gorm:"size:10" json:"side"`
	VendorName string    `gorm:"size:255" json:"vendor_name"`
	InvoiceNum string    `gorm:"index;size:128" json:"invoice_num"`
	TxnId      string    `gorm:"size:128" json:"txn_id"`
	Status     string    `gorm:"size:32;not null" json:"status"`
	ErrorCode  int       `json:"error_code"`
	Message    string    `gorm:"type:text" json:"message"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

const (
	EntrySideExcel  = "excel"
	EntrySideRemote = "remote"
)
