package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaimo012/hanwha-qcells-translation/internal/retry"
)

// Rate-limit handling for store calls. Every call sleeps a minimum interval
// first; a rate-limited response backs off linearly (5s, 10s, 15s) before
// the error propagates on the fourth attempt.
const (
	callMinInterval = 500 * time.Millisecond
	callMaxAttempts = 4
	callBaseDelay   = 5 * time.Second
)

// maxErrorDetail bounds the stack trace stored in the error column.
const maxErrorDetail = 1500

// Task is a processable ledger row plus the resume decision made when it was
// selected: a row picked up in IN_PROGRESS or ERROR continues where the last
// run stopped.
type Task struct {
	Row
	Resume bool
}

// Manager wraps a Store with the retry discipline and owns every status
// transition the pipeline performs.
type Manager struct {
	store  Store
	policy retry.Policy
	sleep  func(time.Duration)
}

// Option configures a Manager.
type Option func(*Manager)

// WithSleep replaces both the pre-call pacing sleep and the backoff sleep,
// for tests.
func WithSleep(fn func(time.Duration)) Option {
	return func(m *Manager) {
		m.sleep = fn
		m.policy.Sleep = fn
	}
}

// NewManager wires the retry policy around a Store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		policy: retry.Policy{
			MaxAttempts: callMaxAttempts,
			BaseDelay:   callBaseDelay,
			Grow:        retry.Linear,
			Retryable:   func(err error) bool { return errors.Is(err, ErrRateLimited) },
		},
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// call runs one store operation under the rate-limit policy.
func (m *Manager) call(ctx context.Context, fn func() error) error {
	return m.policy.Do(ctx, func() error {
		m.sleep(callMinInterval)
		return fn()
	})
}

// NextTask scans the ledger top to bottom and returns the first row whose
// status is WAITING, IN_PROGRESS or ERROR, or nil when no work remains.
// Processing order is therefore a deterministic function of row order.
func (m *Manager) NextTask(ctx context.Context) (*Task, error) {
	return m.NextTaskExcluding(ctx, nil)
}

// NextTaskExcluding is NextTask with a skip set, letting the run loop pass
// over rows it already attempted so a task failing into ERROR is not
// reselected within the same run.
func (m *Manager) NextTaskExcluding(ctx context.Context, exclude map[int64]bool) (*Task, error) {
	var rows []Row
	err := m.call(ctx, func() error {
		var err error
		rows, err = m.store.AllRows(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	for _, r := range rows {
		if exclude[r.Index] {
			continue
		}
		if processable(r.Status) {
			return &Task{Row: r, Resume: r.Status != StatusWaiting}, nil
		}
	}
	return nil, nil
}

// CompletedTasks returns every row in COMPLETED status, in row order. The
// verification pass drains this list.
func (m *Manager) CompletedTasks(ctx context.Context) ([]Row, error) {
	var rows []Row
	err := m.call(ctx, func() error {
		var err error
		rows, err = m.store.AllRows(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	var out []Row
	for _, r := range rows {
		if r.Status == StatusCompleted {
			out = append(out, r)
		}
	}
	return out, nil
}

// AllTasks returns every row, in row order.
func (m *Manager) AllTasks(ctx context.Context) ([]Row, error) {
	var rows []Row
	err := m.call(ctx, func() error {
		var err error
		rows, err = m.store.AllRows(ctx)
		return err
	})
	return rows, err
}

// StartTask moves a WAITING row into IN_PROGRESS: status, start timestamp,
// and token counters reset to zero.
func (m *Manager) StartTask(ctx context.Context, index int64) error {
	if err := m.UpdateStatus(ctx, index, StatusInProgress); err != nil {
		return err
	}
	now := Now().Format(TimeFormat)
	if err := m.call(ctx, func() error { return m.store.SetStartTime(ctx, index, now) }); err != nil {
		return fmt.Errorf("failed to record start time: %w", err)
	}
	if err := m.call(ctx, func() error { return m.store.SetTokens(ctx, index, 0, 0) }); err != nil {
		return fmt.Errorf("failed to reset token counters: %w", err)
	}
	return nil
}

// ResumeTask moves an interrupted row back into IN_PROGRESS. Token counters
// are left alone so usage keeps accumulating across the resume.
func (m *Manager) ResumeTask(ctx context.Context, index int64) error {
	return m.UpdateStatus(ctx, index, StatusInProgress)
}

// UpdateStatus writes the status column under the retry policy.
func (m *Manager) UpdateStatus(ctx context.Context, index int64, status Status) error {
	err := m.call(ctx, func() error { return m.store.UpdateStatus(ctx, index, status) })
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// UpdateFileName rewrites the file-name column after extension
// normalization.
func (m *Manager) UpdateFileName(ctx context.Context, index int64, name string) error {
	err := m.call(ctx, func() error { return m.store.UpdateFileName(ctx, index, name) })
	if err != nil {
		return fmt.Errorf("failed to update file name: %w", err)
	}
	return nil
}

// UpdateNote writes the note column.
func (m *Manager) UpdateNote(ctx context.Context, index int64, note string) error {
	return m.call(ctx, func() error { return m.store.UpdateNote(ctx, index, note) })
}

// AddTokens accumulates a usage delta onto the row's counters. The flush is
// additive: reading the current totals and writing back the sum means deltas
// partitioned across any number of checkpoints end up equal to their sum.
func (m *Manager) AddTokens(ctx context.Context, index int64, in, out int64) error {
	if in == 0 && out == 0 {
		return nil
	}
	var curIn, curOut int64
	err := m.call(ctx, func() error {
		var err error
		curIn, curOut, err = m.store.Tokens(ctx, index)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to read token counters: %w", err)
	}
	err = m.call(ctx, func() error {
		return m.store.SetTokens(ctx, index, curIn+in, curOut+out)
	})
	if err != nil {
		return fmt.Errorf("failed to flush token counters: %w", err)
	}
	return nil
}

// MarkCompleted records the terminal translation status plus the end
// timestamp, leaving token counters as accumulated.
func (m *Manager) MarkCompleted(ctx context.Context, index int64) error {
	if err := m.UpdateStatus(ctx, index, StatusCompleted); err != nil {
		return err
	}
	now := Now().Format(TimeFormat)
	err := m.call(ctx, func() error { return m.store.SetEndTime(ctx, index, now) })
	if err != nil {
		return fmt.Errorf("failed to record end time: %w", err)
	}
	return nil
}

// MarkReviewCompleted records the verified terminal status.
func (m *Manager) MarkReviewCompleted(ctx context.Context, index int64) error {
	return m.UpdateStatus(ctx, index, StatusReviewCompleted)
}

// Demote reopens a COMPLETED row for another translation cycle. Token
// counters are preserved; accumulation is monotonic across demotions.
func (m *Manager) Demote(ctx context.Context, index int64) error {
	return m.UpdateStatus(ctx, index, StatusInProgress)
}

// RecordError demotes the row to ERROR and stores the originating component,
// the message, and a truncated stack trace. The status stays non-terminal so
// a later run can pick the row up again.
func (m *Manager) RecordError(ctx context.Context, index int64, component string, taskErr error, stack []byte) error {
	if err := m.UpdateStatus(ctx, index, StatusError); err != nil {
		return err
	}
	detail := fmt.Sprintf("[%s] module: %s\nerror: %v", Now().Format(TimeFormat), component, taskErr)
	if len(stack) > 0 {
		detail += "\n\n" + string(stack)
	}
	if len(detail) > maxErrorDetail {
		detail = detail[:maxErrorDetail]
	}
	err := m.call(ctx, func() error { return m.store.SetErrorDetail(ctx, index, detail) })
	if err != nil {
		return fmt.Errorf("failed to record error detail: %w", err)
	}
	return nil
}

// InsertTask appends a new WAITING row, used by the seed command.
func (m *Manager) InsertTask(ctx context.Context, row Row) (int64, error) {
	var id int64
	err := m.call(ctx, func() error {
		var err error
		id, err = m.store.InsertRow(ctx, row)
		return err
	})
	return id, err
}

// WriteReviewRow upserts one review ledger row.
func (m *Manager) WriteReviewRow(ctx context.Context, row ReviewRow) error {
	return m.call(ctx, func() error { return m.store.UpsertReviewRow(ctx, row) })
}

// ReviewRows returns every review ledger row, in row order.
func (m *Manager) ReviewRows(ctx context.Context) ([]ReviewRow, error) {
	var rows []ReviewRow
	err := m.call(ctx, func() error {
		var err error
		rows, err = m.store.ReviewRows(ctx)
		return err
	})
	return rows, err
}

// TaskTimes returns the recorded start/end timestamps of a row.
func (m *Manager) TaskTimes(ctx context.Context, index int64) (start, end string, err error) {
	var row Row
	err = m.call(ctx, func() error {
		var err error
		row, err = m.store.Row(ctx, index)
		return err
	})
	if err != nil {
		return "", "", err
	}
	return row.StartTime, row.EndTime, nil
}

// Progress returns the percentage of non-empty rows in the given status.
func (m *Manager) Progress(ctx context.Context, status Status) (float64, error) {
	rows, err := m.AllTasks(ctx)
	if err != nil {
		return 0, err
	}
	total, matched := 0, 0
	for _, r := range rows {
		if r.Status == "" {
			continue
		}
		total++
		if r.Status == status {
			matched++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(matched) / float64(total) * 100, nil
}
