package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jaimo012/hanwha-qcells-translation/internal/config"
	"github.com/jaimo012/hanwha-qcells-translation/internal/ledger"
	"github.com/jaimo012/hanwha-qcells-translation/internal/translation"
)

// echoClient answers context prompts with a fixed hint and translation
// prompts by tagging every input string, so batch alignment is trivially
// checkable. Every prompt is recorded.
type echoClient struct {
	prompts []string

	// onBatch, when set, runs after each answered translation batch with
	// the number of batches answered so far.
	onBatch func(n int)
}

func (c *echoClient) Generate(_ context.Context, prompt string) (string, translation.Usage, error) {
	c.prompts = append(c.prompts, prompt)
	idx := strings.LastIndex(prompt, "Input:\n")
	if idx < 0 {
		return "Technical manufacturing document.", translation.Usage{InputTokens: 10, OutputTokens: 5}, nil
	}
	var texts []string
	if err := json.Unmarshal([]byte(prompt[idx+len("Input:\n"):]), &texts); err != nil {
		return "", translation.Usage{}, err
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = "[EN] " + t
	}
	reply, _ := json.Marshal(out)
	if c.onBatch != nil {
		c.onBatch(c.batchCalls())
	}
	return string(reply), translation.Usage{InputTokens: 100, OutputTokens: 50}, nil
}

func (c *echoClient) Name() string { return "echo" }

// batchCalls counts translation prompts, excluding the context call.
func (c *echoClient) batchCalls() int {
	n := 0
	for _, p := range c.prompts {
		if strings.Contains(p, "Input:\n") {
			n++
		}
	}
	return n
}

func writeDocx(t *testing.T, path string, paragraphs ...string) {
	t.Helper()
	var body bytes.Buffer
	for _, p := range paragraphs {
		fmt.Fprintf(&body, "<w:p><w:r><w:t>%s</w:t></w:r></w:p>", p)
	}
	doc := `<?xml version="1.0"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:body>` + body.String() + `</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

// readDocPart extracts word/document.xml from a .docx package so content
// assertions see the XML text rather than deflate-compressed zip bytes.
func readDocPart(t *testing.T, path string) string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("Working copy unreadable: %v", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			t.Fatal(err)
		}
		return buf.String()
	}
	t.Fatalf("word/document.xml missing in %s", path)
	return ""
}

type harness struct {
	cfg    *config.Config
	ledger *ledger.Manager
	client *echoClient
	driver *Driver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		OriginFolder:       filepath.Join(t.TempDir(), "origin"),
		CompletedFolder:    filepath.Join(t.TempDir(), "completed"),
		BatchSizeDocx:      30,
		BatchSizePptx:      70,
		BatchSizeXlsx:      70,
		APIDelay:           500 * time.Millisecond,
		CheckpointInterval: 10,
	}
	if err := os.MkdirAll(cfg.OriginFolder, 0o755); err != nil {
		t.Fatal(err)
	}

	store, err := ledger.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	lm := ledger.NewManager(store, ledger.WithSleep(func(time.Duration) {}))

	client := &echoClient{}
	tr := translation.NewTranslator(client, translation.WithRetrySleep(func(time.Duration) {}))

	driver := NewDriver(cfg, lm, tr, nil, WithSleep(func(time.Duration) {}))
	return &harness{cfg: cfg, ledger: lm, client: client, driver: driver}
}

func (h *harness) seed(t *testing.T, upper, sub, name string) int64 {
	t.Helper()
	id, err := h.ledger.InsertTask(context.Background(), ledger.Row{
		Seq: 1, UpperPath: upper, SubPath: sub, FileName: name,
		FileKind: strings.TrimPrefix(filepath.Ext(name), "."),
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func (h *harness) status(t *testing.T, id int64) ledger.Status {
	t.Helper()
	rows, err := h.ledger.AllTasks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.Index == id {
			return r.Status
		}
	}
	t.Fatalf("row %d missing", id)
	return ""
}

func TestRunTranslatesSingleDocument(t *testing.T) {
	h := newHarness(t)
	writeDocx(t, filepath.Join(h.cfg.OriginFolder, "MES", "10.analysis", "spec.docx"),
		"Already English", "한국어 단락", "Another English")
	id := h.seed(t, "MES", "10.analysis", "spec.docx")

	sum, err := h.driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Completed != 1 || sum.Failed != 0 {
		t.Errorf("Summary = %+v", sum)
	}
	if got := h.status(t, id); got != ledger.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", got)
	}
	// One Korean paragraph under the batch size: exactly one batch call.
	if h.client.batchCalls() != 1 {
		t.Errorf("Expected 1 batch call, got %d", h.client.batchCalls())
	}

	work := filepath.Join(h.cfg.CompletedFolder, "MES", "10.analysis", "spec - en.docx")
	if _, err := os.Stat(work); err != nil {
		t.Fatalf("Working copy missing: %v", err)
	}
	// The backup of the original sits next to it.
	if _, err := os.Stat(filepath.Join(h.cfg.CompletedFolder, "MES", "10.analysis", "spec.docx")); err != nil {
		t.Errorf("Original backup missing: %v", err)
	}

	rows, _ := h.ledger.AllTasks(context.Background())
	if rows[0].InputTokens == 0 || rows[0].OutputTokens == 0 {
		t.Errorf("Token totals not flushed: %+v", rows[0])
	}
	if rows[0].StartTime == "" || rows[0].EndTime == "" {
		t.Errorf("Timestamps not recorded: %+v", rows[0])
	}
}

func TestRunSkipsFormulaCells(t *testing.T) {
	h := newHarness(t)

	dir := filepath.Join(h.cfg.OriginFolder, "MES", "20.design")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	f.SetCellStr(sheet, "A1", "한국어 값")
	f.SetCellFormula(sheet, "B2", "=A1+1")
	if err := f.SaveAs(filepath.Join(dir, "data.xlsx")); err != nil {
		t.Fatal(err)
	}
	f.Close()

	h.seed(t, "MES", "20.design", "data.xlsx")
	if _, err := h.driver.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, p := range h.client.prompts {
		if strings.Contains(p, "=A1+1") {
			t.Error("Formula leaked into a translation prompt")
		}
	}
}

func TestRunNormalizesExtension(t *testing.T) {
	h := newHarness(t)
	writeDocx(t, filepath.Join(h.cfg.OriginFolder, "MES", "30.dev", "Guide.DOCX"), "한국어")
	id := h.seed(t, "MES", "30.dev", "Guide.DOCX")

	if _, err := h.driver.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rows, _ := h.ledger.AllTasks(context.Background())
	for _, r := range rows {
		if r.Index == id && r.FileName != "Guide.docx" {
			t.Errorf("File name not normalized: %s", r.FileName)
		}
	}
	work := filepath.Join(h.cfg.CompletedFolder, "MES", "30.dev", "Guide - en.docx")
	if _, err := os.Stat(work); err != nil {
		t.Errorf("Working copy missing: %v", err)
	}
}

func TestRunRecordsInputError(t *testing.T) {
	h := newHarness(t)
	missing := h.seed(t, "MES", "40.test", "absent.docx")
	writeDocx(t, filepath.Join(h.cfg.OriginFolder, "MES", "40.test", "ok.docx"), "한국어")
	good := h.seed(t, "MES", "40.test", "ok.docx")

	sum, err := h.driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Completed != 1 || sum.Failed != 1 {
		t.Errorf("Summary = %+v", sum)
	}
	if got := h.status(t, missing); got != ledger.StatusError {
		t.Errorf("Missing-file task status = %s, want ERROR", got)
	}
	if got := h.status(t, good); got != ledger.StatusCompleted {
		t.Errorf("Good task status = %s, want COMPLETED", got)
	}

	rows, _ := h.ledger.AllTasks(context.Background())
	for _, r := range rows {
		if r.Index == missing && !strings.Contains(r.ErrorDetail, "input") {
			t.Errorf("Error detail missing component: %q", r.ErrorDetail)
		}
	}
}

func TestRunSkipsCleanResumedCopy(t *testing.T) {
	h := newHarness(t)
	writeDocx(t, filepath.Join(h.cfg.OriginFolder, "MES", "50.ops", "done.docx"), "한국어 원본")
	id := h.seed(t, "MES", "50.ops", "done.docx")

	// A previous run finished translating but died before the status write.
	work := filepath.Join(h.cfg.CompletedFolder, "MES", "50.ops", "done - en.docx")
	writeDocx(t, work, "Fully translated")
	if err := h.ledger.UpdateStatus(context.Background(), id, ledger.StatusInProgress); err != nil {
		t.Fatal(err)
	}

	if _, err := h.driver.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := h.status(t, id); got != ledger.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", got)
	}
	if len(h.client.prompts) != 0 {
		t.Errorf("Clean resume must not call the provider, saw %d prompts", len(h.client.prompts))
	}

	data := readDocPart(t, work)
	if !strings.Contains(data, "Fully translated") {
		t.Error("Resumed working copy content was overwritten")
	}
}

func TestRunInterruptStopsAtBatchBoundary(t *testing.T) {
	h := newHarness(t)
	h.cfg.BatchSizeDocx = 1
	writeDocx(t, filepath.Join(h.cfg.OriginFolder, "MES", "70.run", "long.docx"),
		"첫째 단락", "둘째 단락", "셋째 단락")
	id := h.seed(t, "MES", "70.run", "long.docx")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.client.onBatch = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	sum, err := h.driver.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Completed != 0 || sum.Failed != 0 {
		t.Errorf("Interrupted task must count neither way: %+v", sum)
	}
	if h.client.batchCalls() != 1 {
		t.Errorf("Expected the in-flight batch only, got %d calls", h.client.batchCalls())
	}
	if got := h.status(t, id); got != ledger.StatusInProgress {
		t.Errorf("Status = %s, want IN_PROGRESS for the next run", got)
	}

	// The final save ran, so the finished batch survives on disk.
	work := filepath.Join(h.cfg.CompletedFolder, "MES", "70.run", "long - en.docx")
	data := readDocPart(t, work)
	if !strings.Contains(data, "[EN] 첫째 단락") {
		t.Error("Completed batch lost on interrupt")
	}
	if !strings.Contains(data, "둘째 단락") {
		t.Error("Untranslated paragraphs must survive unchanged")
	}

	// The flushed token usage covers the context call and one batch.
	rows, _ := h.ledger.AllTasks(context.Background())
	for _, r := range rows {
		if r.Index == id && r.InputTokens != 110 {
			t.Errorf("Flushed input tokens = %d, want 110", r.InputTokens)
		}
	}
}

func TestRunUnsupportedExtension(t *testing.T) {
	h := newHarness(t)
	dir := filepath.Join(h.cfg.OriginFolder, "MES", "60.etc")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	id := h.seed(t, "MES", "60.etc", "notes.txt")

	sum, err := h.driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Failed != 1 {
		t.Errorf("Summary = %+v", sum)
	}
	if got := h.status(t, id); got != ledger.StatusError {
		t.Errorf("Status = %s, want ERROR", got)
	}
}

func TestSupportedFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"spec.docx", true},
		{"deck.pptx", true},
		{"data.XLSX", true},
		{"legacy.doc", true},
		{"spec - en.docx", false},
		{"~$spec.docx", false},
		{".hidden.docx", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		if got := SupportedFile(tt.name); got != tt.want {
			t.Errorf("SupportedFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
