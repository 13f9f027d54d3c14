package translation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FallbackContext describes the corpus when no per-document context could
// be generated.
const FallbackContext = "MES Technical Document. Use standard terminology."

// contextPrompt asks the model to summarize what kind of document this is,
// so later batches translate with consistent terminology.
func contextPrompt(sample string) string {
	return fmt.Sprintf(`The following is sample text from a Korean technical document.
Describe in 2-3 English sentences what kind of document this is and what
terminology domain it belongs to. Reply with the description only.

Sample:
%s`, sample)
}

// batchPrompt builds the translation request for one batch. The texts
// travel as a JSON array and the reply must be a JSON array of the same
// length, which keeps positional alignment machine-checkable.
func batchPrompt(docContext, glossary string, texts []string) string {
	payload, _ := json.Marshal(texts)
	var sb strings.Builder
	sb.WriteString("You are a professional technical translator.\n")
	sb.WriteString("Translate each Korean string in the JSON array below into English.\n\n")
	sb.WriteString("Document context: ")
	sb.WriteString(docContext)
	sb.WriteString("\n")
	if glossary != "" {
		sb.WriteString("\nUse these term translations consistently:\n")
		sb.WriteString(glossary)
		sb.WriteString("\n")
	}
	sb.WriteString(`
Rules:
- Reply with ONLY a JSON array of strings, same length and order as the input.
- Keep numbers, codes, units and punctuation as they are.
- Text already in English stays unchanged.

Input:
`)
	sb.Write(payload)
	return sb.String()
}

// parseBatchResponse extracts the JSON array from a model reply, tolerating
// code fences and surrounding prose.
func parseBatchResponse(raw string, want int) ([]string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "["); i >= 0 {
		if j := strings.LastIndex(s, "]"); j > i {
			s = s[i : j+1]
		}
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("response is not a JSON string array: %w", err)
	}
	if len(out) != want {
		return nil, fmt.Errorf("response has %d items, expected %d", len(out), want)
	}
	return out, nil
}
