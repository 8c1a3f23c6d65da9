package query

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrRejected = errors.New("query: statement rejected")

type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "query rejected: " + e.Reason
}

func (e *RejectionError) Unwrap() error {
	return ErrRejected
}

var forbiddenKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "merge": {}, "upsert": {},
	"create": {}, "drop": {}, "alter": {}, "truncate": {},
	"attach": {}, "detach": {}, "copy": {}, "export": {}, "import": {},
	"pragma": {}, "install": {}, "load": {}, "call": {}, "set": {}, "reset": {},
	"grant": {}, "revoke": {}, "vacuum": {}, "checkpoint": {}, "use": {},
	"begin": {}, "commit": {}, "rollback": {},
}

// Words that may follow a column name inside an expression.
var expressionWords = map[string]struct{}{
	"as": {}, "is": {}, "in": {}, "not": {}, "and": {}, "or": {}, "like": {}, "ilike": {},
	"between": {}, "collate": {}, "asc": {}, "desc": {}, "nulls": {}, "over": {}, "filter": {},
}

// Table and scalar functions that reach outside the database: files, URLs,
// other engines, secrets and settings, or dynamic SQL.
var forbiddenFunctions = map[string]struct{}{
	"glob": {}, "sniff_csv": {}, "query": {}, "query_table": {}, "getenv": {},
	"current_setting": {}, "which_secret": {}, "load_aws_credentials": {},
	"json_execute_serialized_sql": {}, "from_substrait": {}, "from_substrait_json": {},
	"st_read": {}, "st_read_meta": {}, "duckdb_secrets": {}, "duckdb_settings": {},
	"duckdb_extensions": {}, "duckdb_databases": {},
}

var forbiddenFunctionPrefixes = []string{
	"read_", "parquet_", "iceberg_", "delta_", "sqlite_", "postgres_", "mysql_",
}

// Clause words that end a FROM list at the same nesting depth.
var fromListTerminators = map[string]struct{}{
	"select": {}, "where": {}, "group": {}, "order": {}, "having": {}, "limit": {},
	"offset": {}, "on": {}, "using": {}, "qualify": {}, "window": {}, "values": {},
	"union": {}, "except": {}, "intersect": {},
}

// ReadOnlyValidator admits a single SELECT or WITH statement. It rejects
// mutating, DDL and session statements, functions that read files, URLs or
// engine settings, and string literals used as table sources.
type ReadOnlyValidator struct{}

func (ReadOnlyValidator) Validate(sqlText string) (string, error) {
	statement := StripTrailingSemicolons(stripLeadingComments(sqlText))
	if statement == "" {
		return "", &RejectionError{Reason: "empty statement"}
	}

	tokens, multiple := scanTokens(statement)
	if multiple {
		return "", &RejectionError{Reason: "multiple statements"}
	}
	if len(tokens) == 0 || tokens[0].kind != tokenWord || (tokens[0].text != "select" && tokens[0].text != "with") {
		return "", &RejectionError{Reason: "only SELECT or WITH statements are allowed"}
	}

	for i, tok := range tokens {
		switch tok.kind {
		case tokenWord, tokenQuotedIdent:
			if isCall(tokens, i) && forbiddenFunction(tok.text) {
				return "", &RejectionError{Reason: fmt.Sprintf("function %q is not allowed", tok.text)}
			}
			if tok.kind != tokenWord {
				continue
			}
			if _, bad := forbiddenKeywords[tok.text]; bad && statementPosition(tokens, i) {
				return "", &RejectionError{Reason: fmt.Sprintf("keyword %q is not allowed", strings.ToUpper(tok.text))}
			}
		case tokenString:
			if strings.Contains(tok.text, "://") {
				return "", &RejectionError{Reason: "URL literals are not allowed"}
			}
			if tableSource(tokens, i) {
				return "", &RejectionError{Reason: "string literals cannot be used as table sources"}
			}
		}
	}
	return statement, nil
}

func forbiddenFunction(name string) bool {
	if _, bad := forbiddenFunctions[name]; bad {
		return true
	}
	for _, prefix := range forbiddenFunctionPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func isCall(tokens []token, i int) bool {
	return i+1 < len(tokens) && tokens[i+1].is("(")
}

// statementPosition reports whether the word at i can start a statement: the
// head of the text, the word after a closed top-level CTE, or a word opening a
// parenthesized body that is followed by more of a clause.
func statementPosition(tokens []token, i int) bool {
	if i == 0 {
		return true
	}
	prev := tokens[i-1]
	if prev.is(")") && tokens[i].depth == 0 {
		return true
	}
	if !prev.is("(") || i+1 >= len(tokens) {
		return false
	}
	next := tokens[i+1]
	if next.kind != tokenWord && next.kind != tokenQuotedIdent {
		return false
	}
	_, continuesExpression := expressionWords[next.text]
	return !continuesExpression
}

// tableSource reports whether the string at i sits where a table name belongs.
func tableSource(tokens []token, i int) bool {
	if i == 0 {
		return false
	}
	prev := tokens[i-1]
	if prev.kind == tokenWord && (prev.text == "from" || prev.text == "join") {
		return true
	}
	if !prev.is(",") {
		return false
	}
	depth := tokens[i].depth
	for j := i - 2; j >= 0; j-- {
		tok := tokens[j]
		if tok.depth != depth || tok.kind != tokenWord {
			continue
		}
		if tok.text == "from" || tok.text == "join" {
			return true
		}
		if _, ends := fromListTerminators[tok.text]; ends {
			return false
		}
	}
	return false
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

func stripLeadingComments(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for {
		switch {
		case strings.HasPrefix(trimmed, "--"):
			newline := strings.IndexByte(trimmed, '\n')
			if newline < 0 {
				return ""
			}
			trimmed = strings.TrimSpace(trimmed[newline+1:])
		case strings.HasPrefix(trimmed, "/*"):
			end := strings.Index(trimmed, "*/")
			if end < 0 {
				return ""
			}
			trimmed = strings.TrimSpace(trimmed[end+2:])
		default:
			return trimmed
		}
	}
}

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenString
	tokenQuotedIdent
	tokenPunct
)

type token struct {
	kind tokenKind
	// text is lower-cased for words and quoted identifiers and raw for strings.
	text  string
	depth int
}

func (t token) is(punct string) bool {
	return t.kind == tokenPunct && t.text == punct
}

// scanTokens splits a statement into words, string literals, quoted identifiers
// and punctuation, dropping comments. multiple reports a statement separator.
func scanTokens(statement string) (tokens []token, multiple bool) {
	runes := []rune(statement)
	depth := 0
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, token{kind: tokenWord, text: strings.ToLower(current.String()), depth: depth})
			current.Reset()
		}
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' || r == '"':
			flush()
			quote := r
			var content strings.Builder
			for i++; i < len(runes); i++ {
				if runes[i] == quote {
					if i+1 < len(runes) && runes[i+1] == quote {
						content.WriteRune(quote)
						i++
						continue
					}
					break
				}
				content.WriteRune(runes[i])
			}
			if quote == '\'' {
				tokens = append(tokens, token{kind: tokenString, text: content.String(), depth: depth})
			} else {
				tokens = append(tokens, token{kind: tokenQuotedIdent, text: strings.ToLower(content.String()), depth: depth})
			}
		case r == '$' && current.Len() == 0:
			body, end, ok := dollarQuoted(runes, i)
			if !ok {
				tokens = append(tokens, token{kind: tokenPunct, text: "$", depth: depth})
				continue
			}
			tokens = append(tokens, token{kind: tokenString, text: body, depth: depth})
			i = end
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			flush()
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			flush()
			for i += 2; i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/'); i++ {
			}
			i++
		case r == ';':
			flush()
			multiple = true
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			current.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			if r == ')' && depth > 0 {
				depth--
			}
			tokens = append(tokens, token{kind: tokenPunct, text: string(r), depth: depth})
			if r == '(' {
				depth++
			}
		}
	}
	flush()
	return tokens, multiple
}

// dollarQuoted reads a $tag$...$tag$ literal starting at i and returns the index
// of its final rune.
func dollarQuoted(runes []rune, i int) (body string, end int, ok bool) {
	j := i + 1
	for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
		j++
	}
	if j >= len(runes) || runes[j] != '$' {
		return "", 0, false
	}
	delimiter := string(runes[i : j+1])
	rest := string(runes[j+1:])
	closing := strings.Index(rest, delimiter)
	if closing < 0 {
		return "", 0, false
	}
	body = rest[:closing]
	end = j + len([]rune(body)) + len([]rune(delimiter))
	return body, end, true
}
