package models

import (
	"errors"
	"strconv"
)

// SyncStatus is the classification produced by the one-directional sync.
type SyncStatus string

const (
	SyncStatusUnchanged   SyncStatus = "Unchanged"
	SyncStatusAdded       SyncStatus = "Added"
	SyncStatusFailedToAdd SyncStatus = "FailedToAdd"
	SyncStatusDifferent   SyncStatus = "Different"
	SyncStatusMissing     SyncStatus = "Missing"
)

// String treats the zero value as Unchanged.
func (s SyncStatus) String() string {
	if s == "" {
		return string(SyncStatusUnchanged)
	}
	return string(s)
}

func (s SyncStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SyncStatus) UnmarshalText(b []byte) error {
	switch str := string(b); str {
	case "", "Unchanged":
		*s = SyncStatusUnchanged
	case "Added":
		*s = SyncStatusAdded
	case "FailedToAdd":
		*s = SyncStatusFailedToAdd
	case "Different":
		*s = SyncStatusDifferent
	case "Missing":
		*s = SyncStatusMissing
	default:
		return errors.New("invalid sync status " + strconv.Quote(str))
	}
	return nil
}

// DiffStatus is the classification produced by the bidirectional comparison.
type DiffStatus string

const (
	DiffStatusMatched        DiffStatus = "MATCHED"
	DiffStatusMissingInQB    DiffStatus = "MISSING_IN_QB"
	DiffStatusMissingInExcel DiffStatus = "MISSING_IN_EXCEL"
	DiffStatusConflict       DiffStatus = "CONFLICT"
)

func (s DiffStatus) String() string {
	return string(s)
}

func (s *DiffStatus) UnmarshalText(b []byte) error {
	switch str := DiffStatus(b); str {
	case DiffStatusMatched, DiffStatusMissingInQB, DiffStatusMissingInExcel, DiffStatusConflict:
		*s = str
	default:
		return errors.New("invalid diff status " + strconv.Quote(string(b)))
	}
	return nil
}

type SyncMode string

const (
	SyncModeSync SyncMode = "sync"
	SyncModeDiff SyncMode = "diff"
)

func (m SyncMode) IsValid() bool {
	return m == SyncModeSync || m == SyncModeDiff
}
