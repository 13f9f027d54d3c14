package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeStore is an in-memory Store for exercising the Manager without a
// database. rateLimitNext makes the next n calls fail with ErrRateLimited.
type fakeStore struct {
	rows          []Row
	reviews       map[int64]ReviewRow
	rateLimitNext int
	calls         int
}

func newFakeStore(rows ...Row) *fakeStore {
	return &fakeStore{rows: rows, reviews: make(map[int64]ReviewRow)}
}

func (f *fakeStore) gate() error {
	f.calls++
	if f.rateLimitNext > 0 {
		f.rateLimitNext--
		return fmt.Errorf("%w: quota exceeded", ErrRateLimited)
	}
	return nil
}

func (f *fakeStore) find(index int64) (*Row, error) {
	for i := range f.rows {
		if f.rows[i].Index == index {
			return &f.rows[i], nil
		}
	}
	return nil, fmt.Errorf("no task row %d", index)
}

func (f *fakeStore) AllRows(context.Context) ([]Row, error) {
	if err := f.gate(); err != nil {
		return nil, err
	}
	out := make([]Row, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeStore) Row(_ context.Context, index int64) (Row, error) {
	if err := f.gate(); err != nil {
		return Row{}, err
	}
	r, err := f.find(index)
	if err != nil {
		return Row{}, err
	}
	return *r, nil
}

func (f *fakeStore) InsertRow(_ context.Context, row Row) (int64, error) {
	if err := f.gate(); err != nil {
		return 0, err
	}
	row.Index = int64(len(f.rows) + 1)
	if row.Status == "" {
		row.Status = StatusWaiting
	}
	f.rows = append(f.rows, row)
	return row.Index, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, index int64, status Status) error {
	if err := f.gate(); err != nil {
		return err
	}
	r, err := f.find(index)
	if err != nil {
		return err
	}
	r.Status = status
	return nil
}

func (f *fakeStore) UpdateFileName(_ context.Context, index int64, name string) error {
	if err := f.gate(); err != nil {
		return err
	}
	r, err := f.find(index)
	if err != nil {
		return err
	}
	r.FileName = name
	return nil
}

func (f *fakeStore) UpdateNote(_ context.Context, index int64, note string) error {
	if err := f.gate(); err != nil {
		return err
	}
	r, err := f.find(index)
	if err != nil {
		return err
	}
	r.Note = note
	return nil
}

func (f *fakeStore) SetStartTime(_ context.Context, index int64, value string) error {
	if err := f.gate(); err != nil {
		return err
	}
	r, err := f.find(index)
	if err != nil {
		return err
	}
	r.StartTime = value
	return nil
}

func (f *fakeStore) SetEndTime(_ context.Context, index int64, value string) error {
	if err := f.gate(); err != nil {
		return err
	}
	r, err := f.find(index)
	if err != nil {
		return err
	}
	r.EndTime = value
	return nil
}

func (f *fakeStore) Tokens(_ context.Context, index int64) (int64, int64, error) {
	if err := f.gate(); err != nil {
		return 0, 0, err
	}
	r, err := f.find(index)
	if err != nil {
		return 0, 0, err
	}
	return r.InputTokens, r.OutputTokens, nil
}

func (f *fakeStore) SetTokens(_ context.Context, index int64, in, out int64) error {
	if err := f.gate(); err != nil {
		return err
	}
	r, err := f.find(index)
	if err != nil {
		return err
	}
	r.InputTokens, r.OutputTokens = in, out
	return nil
}

func (f *fakeStore) SetErrorDetail(_ context.Context, index int64, detail string) error {
	if err := f.gate(); err != nil {
		return err
	}
	r, err := f.find(index)
	if err != nil {
		return err
	}
	r.ErrorDetail = detail
	return nil
}

func (f *fakeStore) UpsertReviewRow(_ context.Context, row ReviewRow) error {
	if err := f.gate(); err != nil {
		return err
	}
	f.reviews[row.Index] = row
	return nil
}

func (f *fakeStore) ReviewRows(context.Context) ([]ReviewRow, error) {
	if err := f.gate(); err != nil {
		return nil, err
	}
	var out []ReviewRow
	for _, r := range f.reviews {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

func quietManager(store Store) *Manager {
	return NewManager(store, WithSleep(func(time.Duration) {}))
}

func TestNextTaskSelectionRule(t *testing.T) {
	store := newFakeStore(
		Row{Index: 1, Status: StatusCompleted},
		Row{Index: 2, Status: StatusReviewCompleted},
		Row{Index: 3, Status: StatusError, FileName: "a.docx"},
		Row{Index: 4, Status: StatusWaiting, FileName: "b.pptx"},
	)
	m := quietManager(store)

	task, err := m.NextTask(context.Background())
	if err != nil {
		t.Fatalf("NextTask failed: %v", err)
	}
	if task == nil {
		t.Fatal("Expected a task")
	}
	if task.Index != 3 {
		t.Errorf("Expected row 3 (first processable), got %d", task.Index)
	}
	if !task.Resume {
		t.Error("ERROR row should be selected in resume mode")
	}
}

func TestNextTaskNoneEligible(t *testing.T) {
	store := newFakeStore(
		Row{Index: 1, Status: StatusCompleted},
		Row{Index: 2, Status: StatusReviewCompleted},
	)
	m := quietManager(store)

	task, err := m.NextTask(context.Background())
	if err != nil {
		t.Fatalf("NextTask failed: %v", err)
	}
	if task != nil {
		t.Errorf("Expected no task, got row %d", task.Index)
	}
}

func TestStartTaskResetsTokens(t *testing.T) {
	store := newFakeStore(Row{Index: 1, Status: StatusWaiting, InputTokens: 500, OutputTokens: 300})
	m := quietManager(store)

	if err := m.StartTask(context.Background(), 1); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	r := store.rows[0]
	if r.Status != StatusInProgress {
		t.Errorf("Expected IN_PROGRESS, got %s", r.Status)
	}
	if r.StartTime == "" {
		t.Error("Expected start timestamp")
	}
	if r.InputTokens != 0 || r.OutputTokens != 0 {
		t.Errorf("Expected tokens reset, got %d/%d", r.InputTokens, r.OutputTokens)
	}
}

func TestResumeTaskKeepsTokens(t *testing.T) {
	store := newFakeStore(Row{Index: 1, Status: StatusError, InputTokens: 500, OutputTokens: 300})
	m := quietManager(store)

	if err := m.ResumeTask(context.Background(), 1); err != nil {
		t.Fatalf("ResumeTask failed: %v", err)
	}
	r := store.rows[0]
	if r.Status != StatusInProgress {
		t.Errorf("Expected IN_PROGRESS, got %s", r.Status)
	}
	if r.InputTokens != 500 || r.OutputTokens != 300 {
		t.Errorf("Resume must not reset tokens, got %d/%d", r.InputTokens, r.OutputTokens)
	}
}

func TestAddTokensAccumulates(t *testing.T) {
	store := newFakeStore(Row{Index: 1, Status: StatusInProgress})
	m := quietManager(store)
	ctx := context.Background()

	deltas := [][2]int64{{100, 50}, {200, 75}, {1, 1}}
	for _, d := range deltas {
		if err := m.AddTokens(ctx, 1, d[0], d[1]); err != nil {
			t.Fatalf("AddTokens failed: %v", err)
		}
	}
	r := store.rows[0]
	if r.InputTokens != 301 || r.OutputTokens != 126 {
		t.Errorf("Expected 301/126 accumulated, got %d/%d", r.InputTokens, r.OutputTokens)
	}
}

func TestAddTokensZeroDeltaSkipsCalls(t *testing.T) {
	store := newFakeStore(Row{Index: 1})
	m := quietManager(store)

	if err := m.AddTokens(context.Background(), 1, 0, 0); err != nil {
		t.Fatalf("AddTokens failed: %v", err)
	}
	if store.calls != 0 {
		t.Errorf("Zero delta should not hit the store, got %d calls", store.calls)
	}
}

func TestRateLimitBackoffIntervals(t *testing.T) {
	store := newFakeStore(Row{Index: 1, Status: StatusWaiting})
	store.rateLimitNext = 3

	var backoffs []time.Duration
	m := NewManager(store, WithSleep(func(d time.Duration) {
		if d > callMinInterval {
			backoffs = append(backoffs, d)
		}
	}))

	if err := m.UpdateStatus(context.Background(), 1, StatusInProgress); err != nil {
		t.Fatalf("Expected success on 4th attempt: %v", err)
	}
	expected := []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}
	if len(backoffs) != len(expected) {
		t.Fatalf("Expected %d backoffs, got %d", len(expected), len(backoffs))
	}
	for i, b := range backoffs {
		if b != expected[i] {
			t.Errorf("Backoff %d: expected %v, got %v", i, expected[i], b)
		}
	}
}

func TestRateLimitExhaustionPropagates(t *testing.T) {
	store := newFakeStore(Row{Index: 1, Status: StatusWaiting})
	store.rateLimitNext = 10
	m := quietManager(store)

	err := m.UpdateStatus(context.Background(), 1, StatusInProgress)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited after exhaustion, got %v", err)
	}
	if store.calls != callMaxAttempts {
		t.Errorf("Expected %d attempts, got %d", callMaxAttempts, store.calls)
	}
}

func TestRecordErrorKeepsRowRetryable(t *testing.T) {
	store := newFakeStore(Row{Index: 1, Status: StatusInProgress})
	m := quietManager(store)

	taskErr := errors.New("origin file missing")
	if err := m.RecordError(context.Background(), 1, "pipeline.ProcessTask", taskErr, []byte("stack trace here")); err != nil {
		t.Fatalf("RecordError failed: %v", err)
	}
	r := store.rows[0]
	if r.Status != StatusError {
		t.Errorf("Expected ERROR, got %s", r.Status)
	}
	if r.ErrorDetail == "" {
		t.Error("Expected error detail recorded")
	}
	if !processable(r.Status) {
		t.Error("ERROR rows must stay selectable for a later run")
	}
}

func TestRecordErrorTruncatesStack(t *testing.T) {
	store := newFakeStore(Row{Index: 1, Status: StatusInProgress})
	m := quietManager(store)

	big := make([]byte, 10000)
	for i := range big {
		big[i] = 'x'
	}
	if err := m.RecordError(context.Background(), 1, "checkpoint.Save", errors.New("boom"), big); err != nil {
		t.Fatalf("RecordError failed: %v", err)
	}
	if got := len(store.rows[0].ErrorDetail); got > maxErrorDetail {
		t.Errorf("Error detail not truncated: %d bytes", got)
	}
}

func TestMarkCompletedRecordsEndTime(t *testing.T) {
	store := newFakeStore(Row{Index: 1, Status: StatusInProgress, InputTokens: 42, OutputTokens: 7})
	m := quietManager(store)

	if err := m.MarkCompleted(context.Background(), 1); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	r := store.rows[0]
	if r.Status != StatusCompleted {
		t.Errorf("Expected COMPLETED, got %s", r.Status)
	}
	if r.EndTime == "" {
		t.Error("Expected end timestamp")
	}
	if r.InputTokens != 42 || r.OutputTokens != 7 {
		t.Error("Completion must leave token counters as accumulated")
	}
}

func TestDemotePreservesTokens(t *testing.T) {
	store := newFakeStore(Row{Index: 1, Status: StatusCompleted, InputTokens: 42, OutputTokens: 7})
	m := quietManager(store)

	if err := m.Demote(context.Background(), 1); err != nil {
		t.Fatalf("Demote failed: %v", err)
	}
	r := store.rows[0]
	if r.Status != StatusInProgress {
		t.Errorf("Expected IN_PROGRESS, got %s", r.Status)
	}
	if r.InputTokens != 42 || r.OutputTokens != 7 {
		t.Error("Demotion must preserve accumulated tokens")
	}
}

func TestTaskTimes(t *testing.T) {
	store := newFakeStore(Row{Index: 1, Status: StatusWaiting})
	m := quietManager(store)
	ctx := context.Background()

	if err := m.StartTask(ctx, 1); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	if err := m.MarkCompleted(ctx, 1); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	start, end, err := m.TaskTimes(ctx, 1)
	if err != nil {
		t.Fatalf("TaskTimes failed: %v", err)
	}
	if start == "" || end == "" {
		t.Errorf("Expected both timestamps, got %q / %q", start, end)
	}
	if _, err := time.Parse(TimeFormat, start); err != nil {
		t.Errorf("Start timestamp not in ledger format: %v", err)
	}
	if _, err := time.Parse(TimeFormat, end); err != nil {
		t.Errorf("End timestamp not in ledger format: %v", err)
	}
}

func TestProgress(t *testing.T) {
	store := newFakeStore(
		Row{Index: 1, Status: StatusCompleted},
		Row{Index: 2, Status: StatusCompleted},
		Row{Index: 3, Status: StatusWaiting},
		Row{Index: 4, Status: StatusError},
	)
	m := quietManager(store)

	p, err := m.Progress(context.Background(), StatusCompleted)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if p != 50 {
		t.Errorf("Expected 50%%, got %.1f", p)
	}
}
