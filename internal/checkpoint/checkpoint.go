// Package checkpoint persists translation progress at batch boundaries so
// an interrupted run loses at most one checkpoint interval of work.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/jaimo012/hanwha-qcells-translation/internal/document"
)

// Save discipline: a handful of attempts with a fixed pause. After the
// second failed attempt the zombie office processes that typically hold
// the file lock get killed, exactly once per document.
const (
	saveMaxAttempts = 5
	saveDelay       = 3 * time.Second
)

// FlushFunc pushes accumulated token deltas to the ledger.
type FlushFunc func(ctx context.Context, in, out int64) error

// Manager tracks batches and pending token usage for one document and
// writes both the file and the ledger counters when a checkpoint is due.
type Manager struct {
	acc      document.Accessor
	path     string
	interval int
	flush    FlushFunc

	batches  int
	pendIn   int64
	pendOut  int64
	killed   bool

	sleep func(time.Duration)
	kill  func() error
}

// Option configures a Manager.
type Option func(*Manager)

// WithSleep replaces the save-retry sleep, for tests.
func WithSleep(fn func(time.Duration)) Option {
	return func(m *Manager) { m.sleep = fn }
}

// WithKiller replaces the lock-holder escalation, for tests.
func WithKiller(fn func() error) Option {
	return func(m *Manager) { m.kill = fn }
}

// NewManager wires checkpointing for one open document. interval is the
// number of batches between automatic checkpoints; zero disables them and
// leaves only the final save.
func NewManager(acc document.Accessor, path string, interval int, flush FlushFunc, opts ...Option) *Manager {
	m := &Manager{
		acc:      acc,
		path:     path,
		interval: interval,
		flush:    flush,
		sleep:    time.Sleep,
		kill:     killOfficeProcesses,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record notes one finished batch and its token usage.
func (m *Manager) Record(in, out int64) {
	m.batches++
	m.pendIn += in
	m.pendOut += out
}

// AddUsage accumulates token usage that is not tied to a batch, like the
// per-document context call.
func (m *Manager) AddUsage(in, out int64) {
	m.pendIn += in
	m.pendOut += out
}

// Due reports whether the batch counter sits on a checkpoint boundary.
func (m *Manager) Due() bool {
	return m.interval > 0 && m.batches > 0 && m.batches%m.interval == 0
}

// Checkpoint saves the document and flushes the pending token deltas. The
// deltas only reset after both writes succeed, so a failed flush keeps the
// usage pending for the next checkpoint and nothing is lost; token
// accumulation stays equal to the sum of recorded batches no matter how
// the checkpoints partition them.
func (m *Manager) Checkpoint(ctx context.Context) error {
	if err := m.saveWithRetry(); err != nil {
		return err
	}
	if err := m.flush(ctx, m.pendIn, m.pendOut); err != nil {
		return fmt.Errorf("failed to flush token usage: %w", err)
	}
	m.pendIn, m.pendOut = 0, 0
	return nil
}

// Final performs the end-of-document checkpoint unconditionally.
func (m *Manager) Final(ctx context.Context) error {
	return m.Checkpoint(ctx)
}

func (m *Manager) saveWithRetry() error {
	var lastErr error
	for attempt := 1; attempt <= saveMaxAttempts; attempt++ {
		if lastErr = m.acc.Save(m.path); lastErr == nil {
			return nil
		}
		fmt.Printf("  Save attempt %d/%d failed: %v\n", attempt, saveMaxAttempts, lastErr)
		if attempt == 2 && !m.killed && lockError(lastErr) {
			m.killed = true
			if err := m.kill(); err != nil {
				fmt.Printf("  Lock-holder cleanup failed: %v\n", err)
			}
		}
		if attempt < saveMaxAttempts {
			m.sleep(saveDelay)
		}
	}
	return fmt.Errorf("failed to save document after %d attempts: %w", saveMaxAttempts, lastErr)
}

// lockError reports whether a save failure looks like another process
// holding the file open, the only failure class worth killing for.
func lockError(err error) bool {
	if errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "used by another process") ||
		strings.Contains(msg, "resource busy") ||
		strings.Contains(msg, "locked")
}

// killOfficeProcesses terminates office instances left over from document
// conversion; they are the usual holders of stale file locks.
func killOfficeProcesses() error {
	if runtime.GOOS == "windows" {
		return exec.Command("taskkill", "/F", "/IM", "soffice.exe").Run()
	}
	return exec.Command("pkill", "-f", "soffice").Run()
}
