// Package glossary loads the Korean/English term table that keeps
// terminology consistent across every translated batch.
package glossary

import (
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Term is one glossary pairing.
type Term struct {
	Korean  string
	English string
}

// Load reads terms from the first sheet of a workbook: column A Korean,
// column B English, first row treated as a header. A missing file is not
// an error; translation just runs without a glossary.
func Load(path string) ([]Term, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open glossary %s: %w", path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("failed to read glossary: %w", err)
	}

	var terms []Term
	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			continue
		}
		ko := strings.TrimSpace(row[0])
		en := strings.TrimSpace(row[1])
		if ko == "" || en == "" {
			continue
		}
		terms = append(terms, Term{Korean: ko, English: en})
	}
	return terms, nil
}

// PromptText renders up to max terms as a markdown table for prompt
// injection, escaping pipe characters inside terms. Zero or negative max
// means no cap.
func PromptText(terms []Term, max int) string {
	if len(terms) == 0 {
		return ""
	}
	if max > 0 && len(terms) > max {
		terms = terms[:max]
	}
	var sb strings.Builder
	sb.WriteString("| 한국어 | English |\n")
	sb.WriteString("|--------|---------|\n")
	for _, t := range terms {
		ko := strings.ReplaceAll(t.Korean, "|", "\\|")
		en := strings.ReplaceAll(t.English, "|", "\\|")
		fmt.Fprintf(&sb, "| %s | %s |\n", ko, en)
	}
	return sb.String()
}
