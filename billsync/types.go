package billsync

import (
	"time"

	"github.com/mmdatafocus/itembills_sync/models"
)

type TriggerSyncRequest struct {
	Mode       models.SyncMode `json:"mode" binding:"required"`
	Source     string          `json:"source" binding:"required"`
	AddMissing bool            `json:"addMissing"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunResponse struct {
	ID           uint           `json:"id"`
	Mode         string         `json:"mode"`
	Source       string         `json:"source"`
	AddMissing   bool           `json:"addMissing"`
	Gateway      string         `json:"gateway"`
	Status       string         `json:"status"`
	StartedAt    *string        `json:"startedAt"`
	FinishedAt   *string        `json:"finishedAt"`
	DurationMs   int64          `json:"durationMs"`
	RecordsTotal int            `json:"recordsTotal"`
	ErrorCount   int            `json:"errorCount"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	TriggeredBy  string         `json:"triggeredBy"`
	RequestedBy  string         `json:"requestedBy,omitempty"`
	ParentRunId  *uint          `json:"parentRunId,omitempty"`
	Stats        map[string]int `json:"stats,omitempty"`
	HasReport    bool           `json:"hasReport"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Entries []SyncEntryResponse `json:"entries"`
}

type SyncEntryResponse struct {
	ID         uint   `json:"id"`
	Side       string `json:"side"`
	VendorName string `json:"vendorName"`
	InvoiceNum string `json:"invoiceNum"`
	TxnId      string `json:"txnId"`
	Status     string `json:"status"`
	ErrorCode  int    `json:"errorCode,omitempty"`
	Message    string `json:"message,omitempty"`
}

type ReportLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		ID         string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId         uint   `json:"run_id"`
	CorrelationId string `json:"correlation_id"`
}
