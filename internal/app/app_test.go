package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tablerag/tablerag/internal/config"
)

func TestAppEndToEndWithFakeModels(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	application, err := New(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = application.Close() })
	application.UseEmbedder(bagOfWords{})
	application.UseLLM(&scriptedLLM{sql: "SELECT quantity FROM inventory WHERE item = 'Apple'"})

	csvPath := filepath.Join(dir, "inventory.csv")
	if err := os.WriteFile(csvPath, []byte("item;quantity\nApple;10\nPear;4\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	report, err := application.Ingest.ImportPath(ctx, csvPath)
	if err != nil || len(report.Failures) != 0 {
		t.Fatalf("ImportPath() report = %#v, error = %v", report, err)
	}

	loaded, err := application.LoadIndex(ctx)
	if err != nil {
		t.Fatalf("LoadIndex() error = %v", err)
	}
	if loaded {
		t.Fatal("LoadIndex() reported a snapshot before any build")
	}

	builder, err := application.Builder()
	if err != nil {
		t.Fatalf("Builder() error = %v", err)
	}
	result, err := builder.Build(ctx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if result.Record.EntityCount != 5 {
		t.Fatalf("EntityCount = %d, want 5", result.Record.EntityCount)
	}

	status, err := application.KBStatus(ctx)
	if err != nil {
		t.Fatalf("KBStatus() error = %v", err)
	}
	if status.Entities != 5 || status.IndexSize != 5 || !status.InSync || status.LastBuild == nil {
		t.Fatalf("KBStatus() = %#v", status)
	}

	orchestrator, err := application.Orchestrator()
	if err != nil {
		t.Fatalf("Orchestrator() error = %v", err)
	}
	session := application.Sessions.Create()
	answer, err := orchestrator.Turn(ctx, session, "How many apples do we have?")
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if answer.QueryFailed {
		t.Fatalf("QueryFailed = true for SQL %q", answer.SQL)
	}
	if !strings.Contains(answer.Text, "(10)") {
		t.Fatalf("answer = %q, want the query result echoed", answer.Text)
	}
	if err := application.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
}

func TestAppReloadsSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	first, err := New(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	first.UseEmbedder(bagOfWords{})
	csvPath := filepath.Join(dir, "inventory.csv")
	if err := os.WriteFile(csvPath, []byte("item;quantity\nApple;10\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := first.Ingest.ImportPath(ctx, csvPath); err != nil {
		t.Fatalf("ImportPath() error = %v", err)
	}
	builder, err := first.Builder()
	if err != nil {
		t.Fatalf("Builder() error = %v", err)
	}
	if _, err := builder.Build(ctx); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := New(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	loaded, err := second.LoadIndex(ctx)
	if err != nil {
		t.Fatalf("LoadIndex() error = %v", err)
	}
	if !loaded || second.Live.Len() != 4 {
		t.Fatalf("loaded = %v, Live.Len() = %d", loaded, second.Live.Len())
	}
}

func TestSameFile(t *testing.T) {
	if !sameFile("data.duckdb", "./data.duckdb") {
		t.Fatal("relative paths to one file should match")
	}
	if sameFile("", "") {
		t.Fatal("empty paths are in-memory databases and never shared")
	}
	if sameFile("a.duckdb", "b.duckdb") {
		t.Fatal("different files should not match")
	}
}

func testConfig(t *testing.T, dir string) config.Config {
	t.Helper()
	cfg, err := config.Load("tablerag-test", func(key string) (string, bool) {
		if key == "TABLERAG_PROFILE" {
			return "test", true
		}
		return "", false
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.DataStore.Path = filepath.Join(dir, "data.duckdb")
	cfg.Catalog.Driver = "duckdb"
	cfg.Catalog.DSN = filepath.Join(dir, "entities.duckdb")
	cfg.Index.Path = filepath.Join(dir, "index.bin")
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// bagOfWords hashes words into a small dense vector.
type bagOfWords struct{}

func (bagOfWords) vector(text string) []float32 {
	vector := make([]float32, 16)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		var h uint32
		for _, r := range word {
			h = h*31 + uint32(r)
		}
		vector[h%16]++
	}
	vector[0] += 0.01
	return vector
}

func (b bagOfWords) Embed(_ context.Context, text string, _ bool) ([]float32, error) {
	return b.vector(text), nil
}

func (b bagOfWords) EmbedBatch(_ context.Context, texts []string, _ bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = b.vector(text)
	}
	return out, nil
}

func (bagOfWords) Dimensions() int { return 16 }
func (bagOfWords) Model() string   { return "bag-of-words" }

// scriptedLLM answers the SQL prompt with sql and echoes the query result into
// the answer.
type scriptedLLM struct {
	sql string
}

func (s *scriptedLLM) Complete(_ context.Context, prompt string) (string, error) {
	switch {
	case strings.HasPrefix(prompt, "User has asked"):
		return s.sql, nil
	case strings.HasPrefix(prompt, "Context (if available)"):
		start := strings.Index(prompt, "Relevant information:\n")
		end := strings.Index(prompt, "\nInstructions:")
		if start < 0 || end < start {
			return "no result", nil
		}
		return prompt[start+len("Relevant information:\n") : end], nil
	default:
		return "1. How many pears?\n2. What items exist?\n3. What is the total?", nil
	}
}
