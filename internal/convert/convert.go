// Package convert upgrades legacy .doc files to .docx through a headless
// LibreOffice run.
package convert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultBinary = "soffice"

// Converter shells out to LibreOffice for format conversion.
type Converter struct {
	// Binary is the LibreOffice executable; left empty it resolves from
	// PATH.
	Binary string
}

// Available reports whether the converter binary can be found.
func (c *Converter) Available() bool {
	_, err := exec.LookPath(c.binary())
	return err == nil
}

func (c *Converter) binary() string {
	if c.Binary != "" {
		return c.Binary
	}
	return defaultBinary
}

// DocToDocx converts src into a .docx at dst. LibreOffice only takes an
// output directory and derives the file name itself, so the conversion
// stages through a temporary directory and the result moves to dst.
func (c *Converter) DocToDocx(ctx context.Context, src, dst string) error {
	outDir, err := os.MkdirTemp("", "hqt-convert-")
	if err != nil {
		return fmt.Errorf("failed to create conversion folder: %w", err)
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(ctx, c.binary(),
		"--headless", "--convert-to", "docx", "--outdir", outDir, src)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("conversion failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	produced := filepath.Join(outDir, base+".docx")
	if _, err := os.Stat(produced); err != nil {
		return fmt.Errorf("conversion produced no output for %s", filepath.Base(src))
	}
	if err := os.Rename(produced, dst); err != nil {
		// Cross-filesystem move.
		data, rerr := os.ReadFile(produced)
		if rerr != nil {
			return fmt.Errorf("failed to collect converted file: %w", rerr)
		}
		if werr := os.WriteFile(dst, data, 0o644); werr != nil {
			return fmt.Errorf("failed to place converted file: %w", werr)
		}
	}
	return nil
}
