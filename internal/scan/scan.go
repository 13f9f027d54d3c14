// Package scan checks translated documents for leftover Korean text.
// Scanning is strictly read-only: the document is opened, enumerated and
// closed without a single write.
package scan

import (
	"fmt"

	"github.com/jaimo012/hanwha-qcells-translation/internal"
	"github.com/jaimo012/hanwha-qcells-translation/internal/document"
)

// Result is the outcome of scanning one document.
type Result struct {
	Residue bool
	Count   int
}

// File opens the document at path and counts text units still containing
// Korean. The handle is released on every path, error or not.
func File(path string) (Result, error) {
	acc, err := document.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open for scan: %w", err)
	}
	defer acc.Close()

	count := 0
	for unit := range acc.Enumerate() {
		if internal.HasKorean(unit.Text) {
			count++
		}
	}
	return Result{Residue: count > 0, Count: count}, nil
}
