// Package ledger tracks translation tasks in an external row store. One row
// is one document. The pipeline only ever talks to the Manager, which wraps
// a Store with the rate-limit retry discipline and owns the task state
// machine (status transitions, timestamps, token accumulation, error
// capture).
package ledger

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state recorded in the status column.
type Status string

const (
	StatusWaiting         Status = "WAITING"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusCompleted       Status = "COMPLETED"
	StatusError           Status = "ERROR"
	StatusReviewCompleted Status = "REVIEW_COMPLETED"
)

// Task ledger columns, 1-indexed. The layout is a stable contract with the
// spreadsheet the rows are mirrored from.
const (
	ColSeq = iota + 1
	ColUpperPath
	ColSubPath
	ColFileName
	ColFileSize
	ColFileKind
	ColStatus
	ColStartTime
	ColEndTime
	ColError
	ColNote
	ColInputTokens
	ColOutputTokens
)

// Review ledger columns, 1-indexed.
const (
	RevColSeq = iota + 1
	RevColUpperPath
	RevColSubPath
	RevColOriginalFile
	RevColTranslatedFile
	RevColOriginalExists
	RevColTranslatedExists
	RevColOriginalOpens
	RevColTranslatedOpens
	RevColTranslationDone
	RevColReviewTime
)

// TimeFormat is how timestamps are rendered into the ledger cells.
const TimeFormat = "2006-01-02 15:04:05"

// ErrRateLimited marks a store call rejected by the remote API's quota. It
// is the only error class the Manager retries.
var ErrRateLimited = errors.New("ledger: rate limited")

// Row is one task row.
type Row struct {
	Index        int64 // stable row key, 1-based
	Seq          int64
	UpperPath    string
	SubPath      string
	FileName     string
	FileSize     int64
	FileKind     string
	Status       Status
	StartTime    string
	EndTime      string
	ErrorDetail  string
	Note         string
	InputTokens  int64
	OutputTokens int64
}

// ReviewRow is one row of the parallel review ledger.
type ReviewRow struct {
	Index            int64
	Seq              int64
	UpperPath        string
	SubPath          string
	OriginalFile     string
	TranslatedFile   string
	OriginalExists   bool
	TranslatedExists bool
	OriginalOpens    bool
	TranslatedOpens  bool
	TranslationDone  bool
	ReviewTime       string
}

// Store is the narrow contract with the row store transport. Every method
// may fail with ErrRateLimited; callers go through the Manager which retries
// those with backoff.
type Store interface {
	AllRows(ctx context.Context) ([]Row, error)
	Row(ctx context.Context, index int64) (Row, error)
	InsertRow(ctx context.Context, row Row) (int64, error)
	UpdateStatus(ctx context.Context, index int64, status Status) error
	UpdateFileName(ctx context.Context, index int64, name string) error
	UpdateNote(ctx context.Context, index int64, note string) error
	SetStartTime(ctx context.Context, index int64, value string) error
	SetEndTime(ctx context.Context, index int64, value string) error
	Tokens(ctx context.Context, index int64) (in, out int64, err error)
	SetTokens(ctx context.Context, index int64, in, out int64) error
	SetErrorDetail(ctx context.Context, index int64, detail string) error
	UpsertReviewRow(ctx context.Context, row ReviewRow) error
	ReviewRows(ctx context.Context) ([]ReviewRow, error)
	Close() error
}

// processable reports whether a row is eligible for the driver loop.
// COMPLETED and REVIEW_COMPLETED rows are never selected.
func processable(s Status) bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusError:
		return true
	}
	return false
}

// Now is the clock used for ledger timestamps, swappable in tests.
var Now = time.Now
