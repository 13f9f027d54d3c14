package document

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
)

// container holds an OOXML package in memory. Part order and untouched
// parts are preserved byte for byte, so everything a rewrite does not
// target survives a round trip.
type container struct {
	names []string
	parts map[string][]byte
}

func openContainer(path string) (*container, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open package %s: %w", path, err)
	}
	defer zr.Close()

	c := &container{parts: make(map[string][]byte)}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to read part %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read part %s: %w", f.Name, err)
		}
		c.names = append(c.names, f.Name)
		c.parts[f.Name] = data
	}
	return c, nil
}

func (c *container) part(name string) ([]byte, bool) {
	data, ok := c.parts[name]
	return data, ok
}

func (c *container) setPart(name string, data []byte) {
	if _, ok := c.parts[name]; !ok {
		c.names = append(c.names, name)
	}
	c.parts[name] = data
}

// save writes the package to path. The archive is assembled in memory and
// written in one pass, so a failure partway leaves no half-written file
// behind beyond the create itself.
func (c *container) save(path string) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range c.names {
		w, err := zw.Create(name)
		if err != nil {
			zw.Close()
			return fmt.Errorf("failed to write part %s: %w", name, err)
		}
		if _, err := w.Write(c.parts[name]); err != nil {
			zw.Close()
			return fmt.Errorf("failed to write part %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize package: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to save package %s: %w", path, err)
	}
	return nil
}
