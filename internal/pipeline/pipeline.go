// Package pipeline drives the translation run: it drains the ledger one
// task at a time, owning the full per-document cycle of working-copy
// resolution, context inference, batch translation, checkpointing and
// status transitions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/jaimo012/hanwha-qcells-translation/internal"
	"github.com/jaimo012/hanwha-qcells-translation/internal/checkpoint"
	"github.com/jaimo012/hanwha-qcells-translation/internal/config"
	"github.com/jaimo012/hanwha-qcells-translation/internal/convert"
	"github.com/jaimo012/hanwha-qcells-translation/internal/document"
	"github.com/jaimo012/hanwha-qcells-translation/internal/ledger"
	"github.com/jaimo012/hanwha-qcells-translation/internal/notify"
	"github.com/jaimo012/hanwha-qcells-translation/internal/translation"
)

// taskError tags a task failure with the component it came from, so the
// ledger's error column names where things went wrong.
type taskError struct {
	component string
	err       error
}

func (e *taskError) Error() string { return fmt.Sprintf("%s: %v", e.component, e.err) }
func (e *taskError) Unwrap() error { return e.err }

func fail(component string, err error) *taskError {
	return &taskError{component: component, err: err}
}

// errInterrupted marks a task stopped at a safe point by operator
// interrupt. The row stays IN_PROGRESS and resumes on the next run.
var errInterrupted = errors.New("interrupted")

// Summary is the aggregate outcome of one run.
type Summary struct {
	Completed int
	Failed    int
	Elapsed   time.Duration
}

// Driver processes ledger tasks sequentially. One task owns its document
// handle exclusively from open to close; nothing is shared across tasks.
type Driver struct {
	cfg        *config.Config
	ledger     *ledger.Manager
	translator *translation.Translator
	notifier   *notify.Slack
	converter  *convert.Converter

	sleep func(time.Duration)
	open  func(path string) (document.Accessor, error)
	ckpt  func(acc document.Accessor, path string, flush checkpoint.FlushFunc) *checkpoint.Manager
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithSleep replaces the inter-batch pacing sleep, for tests.
func WithSleep(fn func(time.Duration)) DriverOption {
	return func(d *Driver) { d.sleep = fn }
}

// WithOpener replaces the document opener, for tests.
func WithOpener(fn func(path string) (document.Accessor, error)) DriverOption {
	return func(d *Driver) { d.open = fn }
}

// WithCheckpointFactory replaces checkpoint construction, for tests.
func WithCheckpointFactory(fn func(acc document.Accessor, path string, flush checkpoint.FlushFunc) *checkpoint.Manager) DriverOption {
	return func(d *Driver) { d.ckpt = fn }
}

// NewDriver wires the run loop.
func NewDriver(cfg *config.Config, lm *ledger.Manager, tr *translation.Translator, notifier *notify.Slack, opts ...DriverOption) *Driver {
	d := &Driver{
		cfg:        cfg,
		ledger:     lm,
		translator: tr,
		notifier:   notifier,
		converter:  &convert.Converter{},
		sleep:      time.Sleep,
		open:       document.Open,
	}
	d.ckpt = func(acc document.Accessor, path string, flush checkpoint.FlushFunc) *checkpoint.Manager {
		return checkpoint.NewManager(acc, path, cfg.CheckpointInterval, flush)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drains the ledger until no processable task remains or the context
// is cancelled. Each task failure is recorded on its row and the loop
// moves on; only ledger unavailability stops the run.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var sum Summary

	attempted := make(map[int64]bool)
	for {
		if ctx.Err() != nil {
			break
		}
		task, err := d.ledger.NextTaskExcluding(ctx, attempted)
		if err != nil {
			return sum, fmt.Errorf("failed to select next task: %w", err)
		}
		if task == nil {
			break
		}
		attempted[task.Index] = true

		fmt.Printf("Processing [%d] %s/%s/%s\n", task.Seq, task.UpperPath, task.SubPath, task.FileName)
		if err := d.ProcessTask(ctx, task); err != nil {
			if errors.Is(err, errInterrupted) {
				fmt.Printf("  Interrupted, task left in progress for the next run\n")
				break
			}
			sum.Failed++
			component := "pipeline"
			var te *taskError
			if errors.As(err, &te) {
				component = te.component
			}
			if rerr := d.ledger.RecordError(ctx, task.Index, component, err, debug.Stack()); rerr != nil {
				fmt.Fprintf(os.Stderr, "Failed to record task error: %v\n", rerr)
			}
			if d.notifier != nil {
				if nerr := d.notifier.TaskFailed(ctx, task.FileName, err); nerr != nil {
					fmt.Fprintf(os.Stderr, "Notification failed: %v\n", nerr)
				}
			}
			fmt.Printf("  Failed: %v\n", err)
			continue
		}
		sum.Completed++
	}

	sum.Elapsed = time.Since(start)
	fmt.Printf("Run finished: %d completed, %d failed in %s\n",
		sum.Completed, sum.Failed, sum.Elapsed.Round(time.Second))
	if d.notifier != nil {
		if err := d.notifier.RunSummary(context.WithoutCancel(ctx), sum.Completed, sum.Failed, sum.Elapsed); err != nil {
			fmt.Fprintf(os.Stderr, "Notification failed: %v\n", err)
		}
	}
	return sum, nil
}

// ProcessTask runs one document through the full translation cycle. Any
// failure is returned exactly once; the caller records it and keeps going.
func (d *Driver) ProcessTask(ctx context.Context, task *ledger.Task) error {
	if task.Resume {
		if err := d.ledger.ResumeTask(ctx, task.Index); err != nil {
			return fail("ledger", err)
		}
	} else {
		if err := d.ledger.StartTask(ctx, task.Index); err != nil {
			return fail("ledger", err)
		}
	}

	originPath := filepath.Join(d.cfg.OriginFolder, task.UpperPath, task.SubPath, task.FileName)
	if _, err := os.Stat(originPath); err != nil {
		return fail("input", fmt.Errorf("origin file missing: %w", err))
	}
	if document.DetectKind(task.FileName) == document.KindUnknown {
		return fail("input", fmt.Errorf("unsupported file format: %s", filepath.Ext(task.FileName)))
	}

	if normalized, changed := document.NormalizeName(task.FileName); changed {
		if err := d.ledger.UpdateFileName(ctx, task.Index, normalized); err != nil {
			return fail("ledger", err)
		}
		task.FileName = normalized
	}

	outDir := filepath.Join(d.cfg.CompletedFolder, task.UpperPath, task.SubPath)
	wc, err := document.ResolveWorkingCopy(originPath, outDir, d.convertFunc(ctx))
	if err != nil {
		return fail("prepare", err)
	}
	if wc.Resumed {
		fmt.Printf("  Resuming existing working copy\n")
	}

	acc, err := d.open(wc.Path)
	if err != nil {
		return fail("open", err)
	}
	defer acc.Close()

	var units []document.TextUnit
	for unit := range acc.Enumerate() {
		if internal.HasKorean(unit.Text) {
			units = append(units, unit)
		}
	}
	if len(units) == 0 {
		fmt.Printf("  Nothing left to translate\n")
		if err := d.ledger.MarkCompleted(ctx, task.Index); err != nil {
			return fail("ledger", err)
		}
		return nil
	}
	fmt.Printf("  %d units to translate\n", len(units))

	cp := d.ckpt(acc, wc.Path, func(ctx context.Context, in, out int64) error {
		return d.ledger.AddTokens(ctx, task.Index, in, out)
	})

	docContext, ctxUsage := d.translator.GenerateContext(ctx, acc.Sample())
	cp.AddUsage(ctxUsage.InputTokens, ctxUsage.OutputTokens)

	batchSize := d.cfg.BatchSize(filepath.Ext(task.FileName))
	if batchSize < 1 {
		batchSize = 1
	}
	var totalUsage translation.Usage
	for i := 0; i < len(units); i += batchSize {
		if ctx.Err() != nil {
			// Stop at the batch boundary; the last checkpoint already
			// persisted everything before it.
			if err := cp.Final(context.WithoutCancel(ctx)); err != nil {
				return fail("save", err)
			}
			return errInterrupted
		}

		end := min(i+batchSize, len(units))
		batch := units[i:end]
		texts := make([]string, len(batch))
		for j, u := range batch {
			texts[j] = u.Text
		}

		translated, usage := d.translator.Translate(ctx, docContext, texts)
		for j, u := range batch {
			if translated[j] == u.Text {
				continue
			}
			if err := acc.Replace(u, translated[j]); err != nil {
				return fail("rewrite", err)
			}
		}
		totalUsage.Add(usage)

		cp.Record(usage.InputTokens, usage.OutputTokens)
		if cp.Due() {
			if err := cp.Checkpoint(ctx); err != nil {
				return fail("checkpoint", err)
			}
			fmt.Printf("  Checkpoint at %d/%d units\n", end, len(units))
		}
		if end < len(units) {
			d.sleep(d.cfg.APIDelay)
		}
	}

	if err := cp.Final(ctx); err != nil {
		return fail("save", err)
	}
	if err := d.ledger.MarkCompleted(ctx, task.Index); err != nil {
		return fail("ledger", err)
	}
	fmt.Printf("  Completed%s (tokens in %d / out %d)\n",
		d.taskElapsed(ctx, task.Index), totalUsage.InputTokens, totalUsage.OutputTokens)

	if d.notifier != nil {
		if err := d.notifier.TaskCompleted(ctx, task.FileName, totalUsage.InputTokens, totalUsage.OutputTokens); err != nil {
			fmt.Fprintf(os.Stderr, "Notification failed: %v\n", err)
		}
	}
	return nil
}

// taskElapsed renders the ledger-recorded duration of a finished task, or
// nothing when the timestamps are unavailable.
func (d *Driver) taskElapsed(ctx context.Context, index int64) string {
	start, end, err := d.ledger.TaskTimes(ctx, index)
	if err != nil {
		return ""
	}
	s, serr := time.Parse(ledger.TimeFormat, start)
	e, eerr := time.Parse(ledger.TimeFormat, end)
	if serr != nil || eerr != nil {
		return ""
	}
	return " in " + e.Sub(s).Round(time.Second).String()
}

// convertFunc adapts the LibreOffice converter to the working-copy
// resolver, or reports its absence up front.
func (d *Driver) convertFunc(ctx context.Context) document.ConvertFunc {
	return func(src, dst string) error {
		if !d.converter.Available() {
			return errors.New("LibreOffice (soffice) not found for .doc conversion")
		}
		return d.converter.DocToDocx(ctx, src, dst)
	}
}

// SupportedFile reports whether a directory entry is a translatable
// document: supported extension, not hidden, not itself a working copy.
func SupportedFile(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return false
	}
	if document.IsWorkCopy(name) {
		return false
	}
	return document.DetectKind(name) != document.KindUnknown
}
