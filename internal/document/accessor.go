// Package document provides style-preserving access to office documents.
// One Accessor contract covers the three container kinds: paragraph-based
// (Word), slide-based (PowerPoint) and grid-based (Excel). Accessors
// enumerate text units in a stable document order and rewrite unit text
// while reapplying the captured style snapshot.
package document

import (
	"fmt"
	"iter"
	"path/filepath"
	"strings"
)

// Kind is the container kind of a document.
type Kind int

const (
	KindUnknown Kind = iota
	KindParagraph
	KindSlide
	KindGrid
)

func (k Kind) String() string {
	switch k {
	case KindParagraph:
		return "paragraph"
	case KindSlide:
		return "slide"
	case KindGrid:
		return "grid"
	}
	return "unknown"
}

// DetectKind maps a file name to its container kind, case-insensitively.
// Legacy .doc counts as paragraph kind; it is upgraded to .docx before the
// accessor ever sees it.
func DetectKind(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx", ".doc":
		return KindParagraph
	case ".pptx":
		return KindSlide
	case ".xlsx":
		return KindGrid
	}
	return KindUnknown
}

// StyleSnapshot is the set of formatting attributes captured before a text
// replacement and reapplied after it. Each container kind fills the subset
// it supports; it is a plain value record so snapshots compare with ==.
type StyleSnapshot struct {
	FontName  string
	FontSize  float64 // points
	Bold      bool
	Italic    bool
	Underline bool
	Color     string
	Alignment string
	Indent    string
	Spacing   string
}

// TextUnit is one translatable span. Ref is a location handle meaningful
// only to the accessor that produced it; the driver treats it as opaque.
type TextUnit struct {
	Ref   any
	Text  string
	Style StyleSnapshot
}

// Accessor is the contract every container kind implements.
//
// Enumerate produces every in-scope text-bearing unit in a stable document
// order; units with empty text are skipped. The sequence is finite and not
// restartable mid-iteration; request a fresh one to iterate again.
//
// Replace rewrites a unit's text while reapplying its style snapshot.
// Sample returns a bounded excerpt used for context inference; its size is
// capped per kind so it never approaches the cost of a translation batch.
// Save durably writes the document; Close releases the underlying handle
// and must be called on every path, including errors.
type Accessor interface {
	Enumerate() iter.Seq[TextUnit]
	Replace(unit TextUnit, newText string) error
	Sample() string
	Save(path string) error
	Close() error
}

// sampleMaxChars caps the excerpt handed to context inference.
const sampleMaxChars = 10000

// Open opens the document at path with the accessor for its container kind.
func Open(path string) (Accessor, error) {
	switch DetectKind(path) {
	case KindParagraph:
		return OpenDocx(path)
	case KindSlide:
		return OpenPptx(path)
	case KindGrid:
		return OpenXlsx(path)
	}
	return nil, fmt.Errorf("unsupported file format: %s", filepath.Ext(path))
}
