package rag

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tablerag/tablerag/internal/catalog"
	"github.com/tablerag/tablerag/internal/query"
)

// QueryFailed replaces the result text whenever the synthesized query could not
// be run.
const QueryFailed = "Query failed to execute."

const maxFollowUps = 3

// RenderContext renders completed pairs as "User: ...\nAssistant: ...\n\n".
func RenderContext(pairs []Pair) string {
	var b strings.Builder
	for _, pair := range pairs {
		b.WriteString("User: ")
		b.WriteString(pair.User)
		b.WriteString("\nAssistant: ")
		b.WriteString(pair.Assistant)
		b.WriteString("\n\n")
	}
	return b.String()
}

// EmbeddingText joins history and utterance. An empty history embeds the
// utterance alone.
func EmbeddingText(contextText, utterance string) string {
	if strings.TrimSpace(contextText) == "" {
		return utterance
	}
	return contextText + " " + utterance
}

func renderEntity(entity catalog.Entity) string {
	return fmt.Sprintf("- [%s] %s: %s", entity.Type, entity.Name, entity.Description)
}

func BuildQueryPrompt(utterance, schemaSummary string, entities []catalog.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User has asked the following: %s, and we have the following database schema:\n", utterance)
	b.WriteString(schemaSummary)
	b.WriteString("\nAlso we have fetched the following information that may or may not be relevant to the user's question:\n")
	for _, entity := range entities {
		b.WriteString(renderEntity(entity))
		b.WriteString("\n")
	}
	b.WriteString("Your task is to utilize all the above information that have been given to you, " +
		"to construct a DuckDB SQL query that fetches from the database the answer that the user requests. " +
		"Give ONLY the SQL query and nothing else.")
	return b.String()
}

func BuildAnswerPrompt(contextText, utterance, sqlText, resultText string) string {
	return fmt.Sprintf(`Context (if available):
%s
User's question: %s
The system ran the query: %s
Relevant information:
%s
Instructions:
If the provided information is relevant and sufficient, give a clear, concise, and direct answer to the user's question.
If the information is irrelevant or insufficient, politely inform the user that you don't have enough information to provide an answer.
Do not refer to the query or the information retrieval process in your response.
For greetings or trivial questions that don't require additional information, respond using your existing knowledge and without referring to context, relevant information etc.`,
		contextText, utterance, sqlText, resultText)
}

func BuildFollowUpPrompt(contextText, utterance, queryPrompt string) string {
	return fmt.Sprintf(`Task Description:
Generate a list of 3 questions. These questions should be directly answerable based on the provided context and should help the user explore potential inquiries related to the given information.

Provided Information:
Context: %s
User's Initial Question: %s
Additional SQL Query Context: %s

Instructions:
Utilize all the provided information to formulate three specific questions. These questions should be crafted in a way that they can be definitively answered using the given context and have a similar SQL query like the previous to ensure query execution.
Output the questions as a numbered list and ensure no additional text is included in the response.
Do NOT refer to the query or to technical jargon like sql tables in your questions.

Example of expected output:
1. Question A
2. Question B
3. Question C

Note: Replace the example questions with your generated questions based on the actual provided data.`,
		contextText, utterance, queryPrompt)
}

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// StripMarkdownSQL extracts the statement from a fenced code block when the
// model wrapped its answer in one.
func StripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if match := fencePattern.FindStringSubmatch(trimmed); match != nil {
		return strings.TrimSpace(match[1])
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

var numberedItem = regexp.MustCompile(`^\s*\d+\s*[.)]\s*(.+?)\s*$`)

// ParseFollowUps returns up to three numbered-list items, or the first
// non-empty lines when the model ignored the list format.
func ParseFollowUps(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	items := make([]string, 0, maxFollowUps)
	for _, line := range lines {
		if match := numberedItem.FindStringSubmatch(line); match != nil {
			items = append(items, match[1])
			if len(items) == maxFollowUps {
				return items
			}
		}
	}
	if len(items) > 0 {
		return items
	}

	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•#"))
		if line == "" {
			continue
		}
		items = append(items, line)
		if len(items) == maxFollowUps {
			break
		}
	}
	return items
}

// RenderResult prints the column header and one tuple per row.
func RenderResult(result query.Result) string {
	var b strings.Builder
	b.WriteString("Columns: ")
	b.WriteString(strings.Join(result.Columns, ", "))
	if len(result.Rows) == 0 {
		b.WriteString("\nRows: (none)")
		return b.String()
	}
	b.WriteString("\nRows:")
	for _, row := range result.Rows {
		values := make([]string, len(row))
		for i, value := range row {
			values[i] = formatValue(value)
		}
		b.WriteString("\n(")
		b.WriteString(strings.Join(values, ", "))
		b.WriteString(")")
	}
	return b.String()
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return typed.Format(time.RFC3339)
	case string:
		return typed
	default:
		return fmt.Sprint(typed)
	}
}
