package etl

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/scribe-sentinel/internal/privacy"
)

func newTestPipeline(cfg Config) *Pipeline {
	engine := privacy.NewEngine(privacy.DefaultCatalog())
	return NewPipeline(engine, cfg, zap.NewNop())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDetectFileFormat(t *testing.T) {
	tests := map[string]FileFormat{
		"data.csv":         FormatCSV,
		"data.CSV":         FormatCSV,
		"data.parquet":     FormatParquet,
		"data.jsonl":       FormatJSON,
		"data.ndjson":      FormatJSON,
		"data.json":        FormatJSON,
		"no-extension":     FormatCSV,
		"dir.v2/file.json": FormatJSON,
	}
	for name, want := range tests {
		if got := DetectFileFormat(name); got != want {
			t.Errorf("DetectFileFormat(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestProcessCSV(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "in.csv", "id,text\n"+
		"a1,Call 555-123-4567 today\n"+
		"a2,\n"+
		"a3,\"Email jane@example.com, then fax\"\n")
	output := filepath.Join(dir, "out.csv")

	result, err := newTestPipeline(Config{BatchSize: 2, WorkerCount: 2, SkipEmpty: true}).ProcessFile(context.Background(), input, output)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	if result.TotalRecords != 3 || result.ProcessedOK != 2 || result.Skipped != 1 {
		t.Errorf("unexpected result %+v", result)
	}
	if result.Counts["PHONE"] != 1 || result.Counts["EMAIL"] != 1 || result.TotalFindings != 2 {
		t.Errorf("unexpected counts %v (total %d)", result.Counts, result.TotalFindings)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %v", rows)
	}
	if strings.Join(rows[0], ",") != "id,redacted_text,entities_found,total_findings" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "a1" || rows[1][1] != "Call [PHONE] today" || rows[1][2] != `{"PHONE":1}` || rows[1][3] != "1" {
		t.Errorf("unexpected first row %v", rows[1])
	}
	if rows[2][0] != "a3" || rows[2][1] != "Email [EMAIL], then fax" {
		t.Errorf("unexpected second row %v", rows[2])
	}
}

func TestProcessCSVWithoutTextColumn(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "in.csv", "id,body\n1,hello\n")
	output := filepath.Join(dir, "out.csv")

	if _, err := newTestPipeline(DefaultConfig()).ProcessFile(context.Background(), input, output); err == nil {
		t.Fatal("expected error for missing text column")
	}
	if _, err := os.Stat(output); !errors.Is(err, os.ErrNotExist) {
		t.Error("output should not exist after a failed run")
	}
}

func TestProcessJSONLines(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "in.jsonl", `{"id":"n1","text":"SSN 123-45-6789"}`+"\n"+
		"\n"+
		`{"id":"n2","text":`+"\n"+
		`{"text":"Seen on 03/14/2024 by Dr. Smith"}`+"\n")
	output := filepath.Join(dir, "out.jsonl")

	result, err := newTestPipeline(DefaultConfig()).ProcessFile(context.Background(), input, output)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if result.ProcessedOK != 2 || result.Failed != 1 || len(result.Errors) != 1 {
		t.Errorf("unexpected result %+v", result)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	var got []OutputRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec OutputRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("bad output line %q: %v", scanner.Text(), err)
		}
		got = append(got, rec)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 output records, got %d", len(got))
	}
	if got[0].ID != "n1" || got[0].RedactedText != "SSN [SSN]" {
		t.Errorf("unexpected first record %+v", got[0])
	}
	if got[1].ID != "4" {
		t.Errorf("records without id get their line number, got %q", got[1].ID)
	}
	if got[1].RedactedText != "Seen on [DATE] by Dr. [PROVIDER_NAME]" {
		t.Errorf("unexpected second record %q", got[1].RedactedText)
	}
	if got[1].EntitiesFound[privacy.ContextCounter] != 1 {
		t.Errorf("expected context count, got %v", got[1].EntitiesFound)
	}
}

func TestProcessParquet(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.parquet")

	f, err := os.Create(input)
	if err != nil {
		t.Fatalf("create input: %v", err)
	}
	w := parquet.NewGenericWriter[InputRecord](f)
	if _, err := w.Write([]InputRecord{
		{ID: "p1", Text: "Dr. Smith reviewed labs"},
		{ID: "p2", Text: "No identifiers here"},
	}); err != nil {
		t.Fatalf("write input rows: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	f.Close()

	output := filepath.Join(dir, "out.parquet")
	result, err := newTestPipeline(DefaultConfig()).ProcessFile(context.Background(), input, output)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if result.ProcessedOK != 2 {
		t.Errorf("expected 2 processed, got %+v", result)
	}

	of, err := os.Open(output)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer of.Close()

	reader := parquet.NewGenericReader[parquetOutput](of)
	defer reader.Close()
	rows := make([]parquetOutput, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("read output rows: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
	if rows[0].ID != "p1" || rows[0].RedactedText != "Dr. [PROVIDER_NAME] reviewed labs" {
		t.Errorf("unexpected first row %+v", rows[0])
	}
	if rows[1].TotalFindings != 0 || rows[1].EntitiesFound != "{}" {
		t.Errorf("unexpected second row %+v", rows[1])
	}
}

func TestProcessPreservesOrder(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("id,text\n")
	for i := 0; i < 50; i++ {
		sb.WriteString("r")
		sb.WriteString(strings.Repeat("x", i%5))
		sb.WriteString(",note\n")
	}

	reader, err := newCSVReader(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("newCSVReader failed: %v", err)
	}
	sink := &collectWriter{}

	if _, err := newTestPipeline(Config{BatchSize: 7, WorkerCount: 8}).Process(context.Background(), reader, sink); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(sink.records) != 50 {
		t.Fatalf("expected 50 records, got %d", len(sink.records))
	}
	for i, rec := range sink.records {
		if want := "r" + strings.Repeat("x", i%5); rec.ID != want {
			t.Fatalf("record %d out of order: %s", i, rec.ID)
		}
	}
}

func TestProcessCanceled(t *testing.T) {
	reader, err := newCSVReader(strings.NewReader("text\nhello\n"))
	if err != nil {
		t.Fatalf("newCSVReader failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestPipeline(DefaultConfig()).Process(ctx, reader, &collectWriter{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type collectWriter struct {
	records []OutputRecord
}

func (c *collectWriter) Write(records []OutputRecord) error {
	c.records = append(c.records, records...)
	return nil
}

func (c *collectWriter) Close() error { return nil }
