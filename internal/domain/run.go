package domain

import "time"

// Audit run status constants.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusPartial   = "partial"
)

// RunMetadata is one record per audit execution. Created at run start and
// finalized at run end or on fatal abort.
type RunMetadata struct {
	RunID            string
	Status           string
	StartTime        time.Time
	EndTime          *time.Time
	TotalSites       int64
	TotalLibraries   int64
	TotalFolders     int64
	TotalFiles       int64
	TotalPermissions int64
	ErrorCount       int64
	ErrorSummary     string
	CreatedBy        string
}

// CheckpointRecord associates (run id, key) with an opaque state blob.
// The core never interprets State beyond the component that owns the key.
type CheckpointRecord struct {
	RunID     string
	Key       string
	State     []byte
	CreatedAt time.Time
}
