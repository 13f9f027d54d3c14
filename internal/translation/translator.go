package translation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jaimo012/hanwha-qcells-translation/internal/retry"
)

// Per-batch retry discipline: a few attempts with a linearly growing pause,
// each attempt under its own deadline. When every attempt fails the batch
// degrades to the original texts instead of failing the document.
const (
	batchMaxAttempts = 3
	batchBaseDelay   = 5 * time.Second
	batchTimeout     = 120 * time.Second
)

// Translator drives batch translation through a Client. A circuit breaker
// sits between the retry loop and the provider so a dead endpoint stops
// burning the retry budget on every batch.
type Translator struct {
	client   Client
	breaker  *gobreaker.CircuitBreaker
	policy   retry.Policy
	timeout  time.Duration
	glossary string
}

// TranslatorOption configures a Translator.
type TranslatorOption func(*Translator)

// WithRetrySleep replaces the backoff sleep, for tests.
func WithRetrySleep(fn func(time.Duration)) TranslatorOption {
	return func(t *Translator) { t.policy.Sleep = fn }
}

// WithAttemptTimeout overrides the per-attempt deadline.
func WithAttemptTimeout(d time.Duration) TranslatorOption {
	return func(t *Translator) { t.timeout = d }
}

// NewTranslator wraps a provider client with the batch retry discipline.
func NewTranslator(client Client, opts ...TranslatorOption) *Translator {
	t := &Translator{
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "translate",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		policy: retry.Policy{
			MaxAttempts: batchMaxAttempts,
			BaseDelay:   batchBaseDelay,
			Grow:        retry.Linear,
		},
		timeout: batchTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// generate performs one guarded provider call.
func (t *Translator) generate(ctx context.Context, prompt string) (string, Usage, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		text  string
		usage Usage
	}
	out, err := t.breaker.Execute(func() (interface{}, error) {
		text, usage, err := t.client.Generate(callCtx, prompt)
		if err != nil {
			return nil, err
		}
		return result{text: text, usage: usage}, nil
	})
	if err != nil {
		return "", Usage{}, err
	}
	r := out.(result)
	return r.text, r.usage, nil
}

// GenerateContext summarizes a document sample into a short context hint,
// under the same retry discipline as batch translation. Exhausting the
// attempts falls back to the generic corpus description; context is an
// aid, never a blocker.
func (t *Translator) GenerateContext(ctx context.Context, sample string) (string, Usage) {
	if strings.TrimSpace(sample) == "" {
		return FallbackContext, Usage{}
	}
	var text string
	var usage Usage
	err := t.policy.Do(ctx, func() error {
		raw, u, err := t.generate(ctx, contextPrompt(sample))
		if err != nil {
			return err
		}
		if strings.TrimSpace(raw) == "" {
			return fmt.Errorf("empty context response")
		}
		text = raw
		usage = u
		return nil
	})
	if err != nil {
		fmt.Printf("  Context generation failed, using fallback: %v\n", err)
		return FallbackContext, Usage{}
	}
	return strings.TrimSpace(text), usage
}

// Translate converts one batch of texts. The reply must be a JSON array
// positionally aligned with the input; a malformed or mis-sized reply
// counts as a failed attempt. After the last attempt the batch degrades:
// the original texts come back with zero usage and no error, so one bad
// batch costs its own translations and nothing else.
func (t *Translator) Translate(ctx context.Context, docContext string, texts []string) ([]string, Usage) {
	if len(texts) == 0 {
		return nil, Usage{}
	}
	prompt := batchPrompt(docContext, t.glossary, texts)

	var translated []string
	var usage Usage
	err := t.policy.Do(ctx, func() error {
		raw, u, err := t.generate(ctx, prompt)
		if err != nil {
			return err
		}
		parsed, err := parseBatchResponse(raw, len(texts))
		if err != nil {
			return err
		}
		translated = parsed
		usage = u
		return nil
	})
	if err != nil {
		fmt.Printf("  Batch translation failed, keeping original text: %v\n", err)
		return texts, Usage{}
	}
	return translated, usage
}

// SetGlossary installs the term table injected into every batch prompt.
func (t *Translator) SetGlossary(promptText string) {
	t.glossary = promptText
}
