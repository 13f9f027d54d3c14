// Package verify runs the post-translation verification pass: every
// COMPLETED task gets a residue scan, clean documents promote straight to
// REVIEW_COMPLETED, and documents with leftover Korean go through another
// translation cycle first.
package verify

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jaimo012/hanwha-qcells-translation/internal/config"
	"github.com/jaimo012/hanwha-qcells-translation/internal/document"
	"github.com/jaimo012/hanwha-qcells-translation/internal/ledger"
	"github.com/jaimo012/hanwha-qcells-translation/internal/scan"
)

// maxConsecutiveFailures aborts the pass when this many files in a row
// fail retranslation; at that point the problem is systemic, not per-file.
const maxConsecutiveFailures = 3

// RetranslateFunc runs one demoted task through the translation cycle
// again. The pipeline driver's ProcessTask satisfies it.
type RetranslateFunc func(ctx context.Context, task *ledger.Task) error

// Summary is the aggregate outcome of one verification pass.
type Summary struct {
	Promoted     int
	Retranslated int
	Failed       int
	// Savings counts documents promoted without any model call, each one
	// a context call plus at least one batch call avoided.
	Savings int
}

// Verifier drains the COMPLETED rows of the ledger.
type Verifier struct {
	cfg         *config.Config
	ledger      *ledger.Manager
	retranslate RetranslateFunc
	scan        func(path string) (scan.Result, error)
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithScanner replaces the residue scanner, for tests.
func WithScanner(fn func(path string) (scan.Result, error)) Option {
	return func(v *Verifier) { v.scan = fn }
}

// NewVerifier wires the verification pass.
func NewVerifier(cfg *config.Config, lm *ledger.Manager, retranslate RetranslateFunc, opts ...Option) *Verifier {
	v := &Verifier{
		cfg:         cfg,
		ledger:      lm,
		retranslate: retranslate,
		scan:        scan.File,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run verifies every COMPLETED row in row order.
func (v *Verifier) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	rows, err := v.ledger.CompletedTasks(ctx)
	if err != nil {
		return sum, err
	}
	fmt.Printf("Verifying %d completed tasks\n", len(rows))

	consecutive := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		workPath := filepath.Join(v.cfg.CompletedFolder, row.UpperPath, row.SubPath,
			document.WorkName(row.FileName))

		res, err := v.scan(workPath)
		if err != nil {
			// Inconclusive scans count as residue-present: retranslating a
			// clean file wastes a call, promoting a dirty one loses work.
			fmt.Printf("  [%d] %s: scan failed, treating as residue: %v\n", row.Seq, row.FileName, err)
			if nerr := v.ledger.UpdateNote(ctx, row.Index, fmt.Sprintf("verify scan failed: %v", err)); nerr != nil {
				return sum, nerr
			}
			res = scan.Result{Residue: true}
		}

		if !res.Residue {
			if err := v.ledger.MarkReviewCompleted(ctx, row.Index); err != nil {
				return sum, err
			}
			sum.Promoted++
			sum.Savings++
			consecutive = 0
			continue
		}

		fmt.Printf("  [%d] %s: %d Korean units remain, retranslating\n", row.Seq, row.FileName, res.Count)
		if err := v.ledger.Demote(ctx, row.Index); err != nil {
			return sum, err
		}
		task := &ledger.Task{Row: row, Resume: true}
		task.Status = ledger.StatusInProgress

		if err := v.retranslate(ctx, task); err != nil {
			sum.Failed++
			consecutive++
			// Leave the row COMPLETED rather than stranded in a verify
			// failure; the note records what happened.
			if serr := v.ledger.UpdateStatus(ctx, row.Index, ledger.StatusCompleted); serr != nil {
				return sum, serr
			}
			if nerr := v.ledger.UpdateNote(ctx, row.Index, fmt.Sprintf("verify retranslation failed: %v", err)); nerr != nil {
				return sum, nerr
			}
			if consecutive >= maxConsecutiveFailures {
				fmt.Printf("  %d consecutive failures, stopping the pass\n", consecutive)
				break
			}
			continue
		}
		consecutive = 0
		sum.Retranslated++

		after, err := v.scan(workPath)
		if err == nil && !after.Residue {
			if err := v.ledger.MarkReviewCompleted(ctx, row.Index); err != nil {
				return sum, err
			}
			sum.Promoted++
			continue
		}
		note := "residue remains after retranslation"
		if err == nil {
			note = fmt.Sprintf("residue remains after retranslation: %d units", after.Count)
		}
		if nerr := v.ledger.UpdateNote(ctx, row.Index, note); nerr != nil {
			return sum, nerr
		}
	}

	fmt.Printf("Verification finished: %d promoted, %d retranslated, %d failed (%d documents needed no model call)\n",
		sum.Promoted, sum.Retranslated, sum.Failed, sum.Savings)
	return sum, nil
}
