package tablerag

import (
	"bytes"
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tablerag/tablerag/internal/config"
)

func TestImportBuildAskFlow(t *testing.T) {
	dir := t.TempDir()
	env := testEnv(dir)
	writeFile(t, filepath.Join(dir, "inventory.csv"), "item;quantity\nApple;10\nPear;4\n")

	stdout, stderr, code := run(t, env, "", "import", filepath.Join(dir, "inventory.csv"))
	if code != 0 {
		t.Fatalf("import exit code = %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "imported inventory: 2 rows") {
		t.Fatalf("import stdout = %q", stdout)
	}

	stdout, stderr, code = run(t, env, "", "build")
	if code != 0 {
		t.Fatalf("build exit code = %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "5 entities (1 tables, 2 columns, 2 fields)") {
		t.Fatalf("build stdout = %q", stdout)
	}

	stdout, stderr, code = run(t, env, "", "ask", "--show-sql", "How many apples are in stock?")
	if code != 0 {
		t.Fatalf("ask exit code = %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "SQL: SELECT quantity FROM inventory WHERE item = 'Apple'") {
		t.Fatalf("ask stdout missing SQL: %q", stdout)
	}
	if !strings.Contains(stdout, "(10)") {
		t.Fatalf("ask stdout missing result: %q", stdout)
	}
	if !strings.Contains(stdout, "You could also ask:\n  1. How many pears are in stock?") {
		t.Fatalf("ask stdout missing follow-ups: %q", stdout)
	}

	stdout, _, code = run(t, env, "", "status")
	if code != 0 {
		t.Fatalf("status exit code = %d", code)
	}
	if !strings.Contains(stdout, `"in_sync": true`) || !strings.Contains(stdout, `"entity_count": 5`) {
		t.Fatalf("status stdout = %q", stdout)
	}

	stdout, _, code = run(t, env, "", "schema")
	if code != 0 || !strings.Contains(stdout, "Table inventory:") {
		t.Fatalf("schema exit code = %d stdout = %q", code, stdout)
	}

	exportPath := filepath.Join(dir, "exports", "entities.parquet")
	stdout, stderr, code = run(t, env, "", "export-entities", "--out", exportPath)
	if code != 0 {
		t.Fatalf("export exit code = %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "wrote 5 entities") {
		t.Fatalf("export stdout = %q", stdout)
	}
	if info, err := os.Stat(exportPath); err != nil || info.Size() == 0 {
		t.Fatalf("export file stat = %v, err = %v", info, err)
	}
}

func TestChatKeepsContextAndHandlesBlankLines(t *testing.T) {
	dir := t.TempDir()
	env := testEnv(dir)
	writeFile(t, filepath.Join(dir, "inventory.csv"), "item;quantity\nApple;10\nPear;4\n")
	if _, stderr, code := run(t, env, "", "import", "--build", dir); code != 0 {
		t.Fatalf("import --build exit code = %d, stderr=%s", code, stderr)
	}

	llm := &scriptedLLM{sql: "SELECT quantity FROM inventory WHERE item = 'Apple'"}
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"chat"}, Options{
		Stdin:    strings.NewReader("How many apples?\n\nAnd pears?\nexit\n"),
		Stdout:   &stdout,
		Stderr:   &stderr,
		Lookup:   mapLookup(env),
		Embedder: bagOfWords{},
		LLM:      llm,
	})
	if code != 0 {
		t.Fatalf("chat exit code = %d, stderr=%s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "Please enter a question.") {
		t.Fatalf("chat output missing blank-line prompt: %q", out)
	}
	if strings.Count(out, "(10)") != 2 {
		t.Fatalf("chat output = %q, want two answers", out)
	}
	last := llm.prompts[len(llm.prompts)-1]
	if !strings.Contains(last, "User: How many apples?") {
		t.Fatalf("second turn prompt missing history: %q", last)
	}
}

func TestAskBeforeBuildFails(t *testing.T) {
	dir := t.TempDir()
	_, stderr, code := run(t, testEnv(dir), "", "ask", "anything?")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "has not been built") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestImportReportsFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a table")

	_, stderr, code := run(t, testEnv(dir), "", "import", filepath.Join(dir, "notes.txt"))
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "failed "+filepath.Join(dir, "notes.txt")) {
		t.Fatalf("stderr = %q", stderr)
	}

	_, stderr, code = run(t, testEnv(dir), "", "import")
	if code != 1 || !strings.Contains(stderr, "at least one path") {
		t.Fatalf("no-arg import exit code = %d stderr = %q", code, stderr)
	}
}

func TestBuildEmptyStoreFails(t *testing.T) {
	_, stderr, code := run(t, testEnv(t.TempDir()), "", "build")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "error:") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestEnvFileFillsMissingSettings(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "tablerag.env")
	dataPath := filepath.Join(dir, "from-env-file.duckdb")
	writeFile(t, envFile, "TABLERAG_DATA_PATH="+dataPath+"\nTABLERAG_PROFILE=prod\n")

	env := testEnv(dir)
	delete(env, "TABLERAG_DATA_PATH")
	c := &cli{opts: Options{Lookup: mapLookup(env)}, envFiles: []string{envFile, filepath.Join(dir, "missing.env")}}
	if err := c.configure(); err != nil {
		t.Fatalf("configure() error = %v", err)
	}
	if c.cfg.DataStore.Path != dataPath {
		t.Fatalf("DataStore.Path = %q, want %q", c.cfg.DataStore.Path, dataPath)
	}
	if c.cfg.Profile != config.ProfileTest {
		t.Fatalf("Profile = %q, environment must win over env file", c.cfg.Profile)
	}
}

func TestUnknownCommandFails(t *testing.T) {
	_, stderr, code := run(t, testEnv(t.TempDir()), "", "frobnicate")
	if code != 1 || !strings.Contains(stderr, "unknown command") {
		t.Fatalf("exit code = %d stderr = %q", code, stderr)
	}
}

func run(t *testing.T, env map[string]string, stdin string, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, Options{
		Stdin:    strings.NewReader(stdin),
		Stdout:   &stdout,
		Stderr:   &stderr,
		Lookup:   mapLookup(env),
		Embedder: bagOfWords{},
		LLM:      &scriptedLLM{sql: "SELECT quantity FROM inventory WHERE item = 'Apple'"},
	})
	return stdout.String(), stderr.String(), code
}

func testEnv(dir string) map[string]string {
	return map[string]string{
		"TABLERAG_PROFILE":        "test",
		"TABLERAG_LOG_LEVEL":      "error",
		"TABLERAG_DATA_PATH":      filepath.Join(dir, "data.duckdb"),
		"TABLERAG_CATALOG_DRIVER": "duckdb",
		"TABLERAG_CATALOG_DSN":    filepath.Join(dir, "entities.duckdb"),
		"TABLERAG_INDEX_PATH":     filepath.Join(dir, "index.bin"),
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

// bagOfWords hashes words into a small dense vector.
type bagOfWords struct{}

func (bagOfWords) Embed(_ context.Context, text string, _ bool) ([]float32, error) {
	vector := make([]float32, 16)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(word, ".,?:;")))
		vector[h.Sum32()%16]++
	}
	vector[15] += 0.25
	return vector, nil
}

func (b bagOfWords) EmbedBatch(ctx context.Context, texts []string, normalize bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = b.Embed(ctx, text, normalize)
	}
	return out, nil
}

func (bagOfWords) Dimensions() int { return 16 }
func (bagOfWords) Model() string   { return "bag-of-words" }

type scriptedLLM struct {
	sql     string
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	switch {
	case strings.HasPrefix(prompt, "User has asked"):
		return "```sql\n" + s.sql + "\n```", nil
	case strings.HasPrefix(prompt, "Task Description"):
		return "1. How many pears are in stock?\n2. Which item has the most stock?\n3. What is the total stock?", nil
	default:
		if idx := strings.Index(prompt, "Relevant information:"); idx >= 0 {
			return prompt[idx:], nil
		}
		return "I do not know.", nil
	}
}
