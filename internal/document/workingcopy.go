package document

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// workMarker tags a translated working copy. The marker sits between the
// base name and the lowercased extension.
const workMarker = " - en"

// NormalizeName lowercases the extension of a file name, leaving the base
// untouched. The second return reports whether anything changed, so the
// caller knows the ledger column needs a rewrite.
func NormalizeName(name string) (string, bool) {
	ext := filepath.Ext(name)
	lower := strings.ToLower(ext)
	if ext == lower {
		return name, false
	}
	return strings.TrimSuffix(name, ext) + lower, true
}

// WorkName derives the working-copy name for an original file name: the
// marker is appended to the base and the extension is lowercased. Legacy
// .doc originals get a .docx working copy since the accessor only handles
// the modern container.
func WorkName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if ext == ".doc" {
		ext = ".docx"
	}
	return base + workMarker + ext
}

// IsWorkCopy reports whether a file name carries the working-copy marker.
func IsWorkCopy(name string) bool {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.HasSuffix(base, workMarker)
}

// WorkingCopy is the result of resolving where translation output lives for
// one task. Resumed means an earlier run already created the copy and it was
// reused as-is, so partially translated content survives.
type WorkingCopy struct {
	Path    string
	Resumed bool
}

// ConvertFunc upgrades a legacy .doc file into a .docx at the given
// destination path.
type ConvertFunc func(src, dst string) error

// ResolveWorkingCopy prepares the output directory for a task and returns
// the working copy to translate into.
//
// The original is backed up into the output directory first (never
// overwriting an existing backup). If a working copy already exists it is
// reused unmodified; otherwise a fresh one is created from the original,
// converting legacy .doc input when a converter is supplied.
func ResolveWorkingCopy(originPath, outDir string, convert ConvertFunc) (WorkingCopy, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return WorkingCopy{}, fmt.Errorf("failed to create output folder: %w", err)
	}

	name := filepath.Base(originPath)
	normalized, _ := NormalizeName(name)

	backup := filepath.Join(outDir, normalized)
	if _, err := os.Stat(backup); os.IsNotExist(err) {
		if err := copyFile(originPath, backup); err != nil {
			return WorkingCopy{}, fmt.Errorf("failed to back up original: %w", err)
		}
	}

	work := filepath.Join(outDir, WorkName(name))
	if _, err := os.Stat(work); err == nil {
		return WorkingCopy{Path: work, Resumed: true}, nil
	}

	if strings.ToLower(filepath.Ext(name)) == ".doc" {
		if convert == nil {
			return WorkingCopy{}, fmt.Errorf("no converter available for %s", name)
		}
		if err := convert(originPath, work); err != nil {
			return WorkingCopy{}, fmt.Errorf("failed to convert %s: %w", name, err)
		}
	} else {
		if err := copyFile(originPath, work); err != nil {
			return WorkingCopy{}, fmt.Errorf("failed to create working copy: %w", err)
		}
	}
	return WorkingCopy{Path: work}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
