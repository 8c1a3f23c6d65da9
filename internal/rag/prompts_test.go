package rag

import (
	"strings"
	"testing"
	"time"

	"github.com/tablerag/tablerag/internal/catalog"
	"github.com/tablerag/tablerag/internal/query"
)

func TestRenderContext(t *testing.T) {
	got := RenderContext([]Pair{{User: "q1", Assistant: "a1"}, {User: "q2", Assistant: "a2"}})
	want := "User: q1\nAssistant: a1\n\nUser: q2\nAssistant: a2\n\n"
	if got != want {
		t.Fatalf("RenderContext() = %q, want %q", got, want)
	}
	if RenderContext(nil) != "" {
		t.Fatal("RenderContext(nil) should be empty")
	}
}

func TestEmbeddingText(t *testing.T) {
	if got := EmbeddingText("", "how many?"); got != "how many?" {
		t.Fatalf("EmbeddingText() = %q", got)
	}
	if got := EmbeddingText("User: a\n", "how many?"); got != "User: a\n how many?" {
		t.Fatalf("EmbeddingText() = %q", got)
	}
}

func TestBuildQueryPromptIncludesSchemaAndEntities(t *testing.T) {
	prompt := BuildQueryPrompt("How many apples?", "Table inventory:\n  - item (VARCHAR)", []catalog.Entity{
		{ID: 1, Type: catalog.EntityField, Name: "Apple", Description: "Apple is a field of column item in table inventory."},
	})
	for _, want := range []string{
		"User has asked the following: How many apples?",
		"Table inventory:\n  - item (VARCHAR)",
		"- [field] Apple: Apple is a field of column item in table inventory.",
		"DuckDB",
		"Give ONLY the SQL query and nothing else.",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildAnswerAndFollowUpPrompts(t *testing.T) {
	answer := BuildAnswerPrompt("User: hi\nAssistant: hello\n\n", "How many apples?", "SELECT 1", QueryFailed)
	for _, want := range []string{"How many apples?", "SELECT 1", QueryFailed, "Do not refer to the query"} {
		if !strings.Contains(answer, want) {
			t.Fatalf("answer prompt missing %q", want)
		}
	}
	followUp := BuildFollowUpPrompt("", "How many apples?", "query prompt text")
	for _, want := range []string{"Generate a list of 3 questions", "How many apples?", "query prompt text", "1. Question A"} {
		if !strings.Contains(followUp, want) {
			t.Fatalf("follow-up prompt missing %q", want)
		}
	}
}

func TestStripMarkdownSQL(t *testing.T) {
	tests := map[string]string{
		"SELECT 1":                           "SELECT 1",
		"```sql\nSELECT 1\n```":              "SELECT 1",
		"```\nSELECT 2;\n```":                "SELECT 2;",
		"Here you go:\n```sql\nSELECT 3\n```": "SELECT 3",
		"```sql\nSELECT 4":                   "SELECT 4",
		"  SELECT 5  \n":                     "SELECT 5",
	}
	for input, want := range tests {
		if got := StripMarkdownSQL(input); got != want {
			t.Fatalf("StripMarkdownSQL(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestParseFollowUps(t *testing.T) {
	got := ParseFollowUps("1. First?\n2) Second?\n3. Third?\n4. Fourth?")
	if len(got) != 3 || got[0] != "First?" || got[1] != "Second?" || got[2] != "Third?" {
		t.Fatalf("ParseFollowUps() = %#v", got)
	}

	got = ParseFollowUps("Sure!\n1. Only one?\n")
	if len(got) != 1 || got[0] != "Only one?" {
		t.Fatalf("ParseFollowUps() = %#v", got)
	}

	got = ParseFollowUps("- What about pears?\n\n- What about plums?\n")
	if len(got) != 2 || got[0] != "What about pears?" || got[1] != "What about plums?" {
		t.Fatalf("ParseFollowUps() fallback = %#v", got)
	}

	if got := ParseFollowUps("   "); len(got) != 0 {
		t.Fatalf("ParseFollowUps(blank) = %#v", got)
	}
}

func TestRenderResult(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	got := RenderResult(query.Result{
		Columns: []string{"item", "quantity", "seen"},
		Rows:    [][]any{{"Apple", int64(10), ts}, {"Pear", nil, nil}},
	})
	want := "Columns: item, quantity, seen\nRows:\n(Apple, 10, 2024-03-01T12:00:00Z)\n(Pear, NULL, NULL)"
	if got != want {
		t.Fatalf("RenderResult() = %q, want %q", got, want)
	}

	empty := RenderResult(query.Result{Columns: []string{"n"}})
	if empty != "Columns: n\nRows: (none)" {
		t.Fatalf("RenderResult(empty) = %q", empty)
	}
}

func TestUserMessageHidesInternals(t *testing.T) {
	msg := UserMessage(&TurnError{Step: StepEmbed, Err: &DesyncError{IDs: []int64{7}}})
	if strings.Contains(msg, "7") || strings.Contains(msg, "embed") {
		t.Fatalf("UserMessage() leaked detail: %q", msg)
	}
	if UserMessage(ErrEmptyUtterance) == msg {
		t.Fatal("empty utterance should have its own message")
	}
}
