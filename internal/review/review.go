// Package review populates the final-review ledger: one row per task
// recording whether the original and translated files exist, open cleanly,
// and carry no leftover Korean — the checklist human reviewers start from.
package review

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jaimo012/hanwha-qcells-translation/internal/config"
	"github.com/jaimo012/hanwha-qcells-translation/internal/document"
	"github.com/jaimo012/hanwha-qcells-translation/internal/ledger"
	"github.com/jaimo012/hanwha-qcells-translation/internal/scan"
)

// Reviewer fills the review ledger from the task ledger and the completed
// folder tree.
type Reviewer struct {
	cfg    *config.Config
	ledger *ledger.Manager
}

// NewReviewer wires the review pass.
func NewReviewer(cfg *config.Config, lm *ledger.Manager) *Reviewer {
	return &Reviewer{cfg: cfg, ledger: lm}
}

// Run writes one review row per task row and returns how many were
// written. Rows without a file name are skipped.
func (r *Reviewer) Run(ctx context.Context) (int, error) {
	rows, err := r.ledger.AllTasks(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		if row.FileName == "" {
			continue
		}

		dir := filepath.Join(r.cfg.CompletedFolder, row.UpperPath, row.SubPath)
		origName, _ := document.NormalizeName(row.FileName)
		origPath := filepath.Join(dir, origName)
		transName := document.WorkName(row.FileName)
		transPath := filepath.Join(dir, transName)

		review := ledger.ReviewRow{
			Index:          row.Index,
			Seq:            row.Seq,
			UpperPath:      row.UpperPath,
			SubPath:        row.SubPath,
			OriginalFile:   origName,
			TranslatedFile: transName,
			ReviewTime:     ledger.Now().Format(ledger.TimeFormat),
		}
		review.OriginalExists = exists(origPath)
		review.TranslatedExists = exists(transPath)
		if review.OriginalExists {
			review.OriginalOpens = opens(origPath)
		}
		if review.TranslatedExists {
			review.TranslatedOpens = opens(transPath)
			if res, err := scan.File(transPath); err == nil {
				review.TranslationDone = !res.Residue
			}
		}

		if err := r.ledger.WriteReviewRow(ctx, review); err != nil {
			return count, fmt.Errorf("failed to write review row %d: %w", row.Index, err)
		}
		count++
	}

	fmt.Printf("Review ledger updated: %d rows\n", count)
	return count, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// opens verifies the file parses as its container kind, not just that the
// bytes are there. Legacy .doc originals predate the accessors' container
// format, so they only get a non-empty check.
func opens(path string) bool {
	if strings.ToLower(filepath.Ext(path)) == ".doc" {
		info, err := os.Stat(path)
		return err == nil && info.Size() > 0
	}
	acc, err := document.Open(path)
	if err != nil {
		return false
	}
	acc.Close()
	return true
}
