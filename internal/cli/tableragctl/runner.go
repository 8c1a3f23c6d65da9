// Package tableragctl is a thin client for a running tablerag API server.
package tableragctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("tableragctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "tablerag API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	c := &caller{client: client, baseURL: strings.TrimRight(*baseURL, "/"), apiKey: strings.TrimSpace(*apiKey)}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	var (
		code int
		body []byte
		err  error
	)
	switch command {
	case "health":
		code, body, err = c.do(ctx, http.MethodGet, "/v1/health", nil)
	case "ready":
		code, body, err = c.do(ctx, http.MethodGet, "/v1/ready", nil)
	case "kb":
		code, body, err = c.do(ctx, http.MethodGet, "/v1/kb", nil)
	case "rebuild":
		code, body, err = c.do(ctx, http.MethodPost, "/v1/kb/rebuild", nil)
	case "schema":
		code, body, err = c.do(ctx, http.MethodGet, "/v1/schema", nil)
	case "entity":
		if len(rest) != 1 {
			_, _ = fmt.Fprintln(stderr, "usage: tableragctl entity <id>")
			return 2
		}
		code, body, err = c.do(ctx, http.MethodGet, "/v1/entities/"+url.PathEscape(rest[0]), nil)
	case "ask":
		question := strings.TrimSpace(strings.Join(rest, " "))
		if question == "" {
			_, _ = fmt.Fprintln(stderr, "usage: tableragctl ask <question>")
			return 2
		}
		code, body, err = c.ask(ctx, question)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(body)))
		return 1
	}

	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(body))
	}
	return 0
}

type caller struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// ask opens a fresh session and sends one turn to it.
func (c *caller) ask(ctx context.Context, question string) (int, []byte, error) {
	code, body, err := c.do(ctx, http.MethodPost, "/v1/sessions", nil)
	if err != nil || code >= 400 {
		return code, body, err
	}
	var session struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &session); err != nil || session.SessionID == "" {
		return 0, nil, fmt.Errorf("decode session response: %s", strings.TrimSpace(string(body)))
	}

	payload, err := json.Marshal(map[string]string{"utterance": question})
	if err != nil {
		return 0, nil, err
	}
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(session.SessionID)+"/turns", payload)
}

func (c *caller) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: tableragctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health           GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready            GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  kb               GET /v1/kb")
	_, _ = fmt.Fprintln(w, "  rebuild          POST /v1/kb/rebuild")
	_, _ = fmt.Fprintln(w, "  schema           GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  entity <id>      GET /v1/entities/{id}")
	_, _ = fmt.Fprintln(w, "  ask <question>   POST /v1/sessions, then POST /v1/sessions/{id}/turns")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
