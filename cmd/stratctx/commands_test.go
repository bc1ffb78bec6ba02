package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/stratctx/internal/sessionctx"
	"github.com/kalambet/stratctx/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		if resp, ok := responses[r.Method+" "+r.URL.Path]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"session missing not found","type":"not_found_error"}}`))
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

// run executes the CLI against ts and returns what it wrote to stdout.
func (ts *testServer) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	origClient, origOut, origFormat, origColor := newAPIClient, stdout, outputFormat, noColor
	t.Cleanup(func() {
		newAPIClient, stdout, outputFormat, noColor = origClient, origOut, origFormat, origColor
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	})

	newAPIClient = func() (*apiClient, error) {
		return &apiClient{baseURL: ts.server.URL, token: "test-token", httpClient: ts.server.Client()}, nil
	}
	var out bytes.Buffer
	stdout = &out
	noColor = true

	rootCmd.SetArgs(append([]string{"--no-color", "--output", "text"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag to its default so runs do not leak into each other.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestSessionStartCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions": `{"session_id":"abc","session_type":"planning"}`,
	})

	out, err := ts.run(t, "--output", "json", "session", "start", "--type", "planning")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}
	if !strings.Contains(r.Body, `"session_type":"planning"`) {
		t.Errorf("body = %s", r.Body)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %q", out)
	}
	if got["session_id"] != "abc" {
		t.Errorf("output = %v", got)
	}
}

func TestSessionBackupCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions/abc/backup": `{"status":"backed_up","context_quality_score":0.8}`,
	})
	if _, err := ts.run(t, "session", "backup", "abc"); err != nil {
		t.Fatal(err)
	}
	if ts.requests[0].Path != "/sessions/abc/backup" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestSessionCommandSurfacesAPIError(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := ts.run(t, "session", "end", "missing")
	if err == nil || !strings.Contains(err.Error(), "session missing not found") {
		t.Errorf("err = %v", err)
	}
}

func TestSessionRecentCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /sessions/recent": `[{"session_id":"abc","session_type":"strategic","session_start_timestamp":"2026-03-10T09:00:00Z","last_backup_timestamp":"2026-03-10T09:05:00Z","context_quality_score":0.65}]`,
	})
	out, err := ts.run(t, "--output", "yaml", "session", "recent", "--hours", "6")
	if err != nil {
		t.Fatal(err)
	}
	if ts.requests[0].Path != "/sessions/recent?hours=6" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
	if !strings.Contains(out, "session_id: abc") || !strings.Contains(out, "context_quality_score: 0.65") {
		t.Errorf("yaml output = %q", out)
	}
}

func TestSearchCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /search": `{"search_type":"stakeholder_intelligence","results":[{"content":"Dana, CFO","source_table":"stakeholder_profiles","source_id":"1","relevance_score":0.8,"context_type":"stakeholder_intelligence","highlighted_snippets":["Dana, CFO"]}]}`,
	})

	out, err := ts.run(t, "search", "--type", "stakeholder_intelligence", "--stakeholder", "cfo", "--days", "30", "cost", "concerns")
	if err != nil {
		t.Fatal(err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatal(err)
	}
	if body["query"] != "cost concerns" || body["search_type"] != "stakeholder_intelligence" {
		t.Errorf("body = %v", body)
	}
	filters, _ := body["filters"].(map[string]any)
	if filters["stakeholder_key"] != "cfo" || filters["time_range_days"] != float64(30) {
		t.Errorf("filters = %v", filters)
	}
	if !strings.Contains(out, "[0.80]") || !strings.Contains(out, "stakeholder_profiles#1") {
		t.Errorf("output = %q", out)
	}
}

func TestSearchCommandRejectsUnknownType(t *testing.T) {
	ts := newTestServer(t, nil)
	if _, err := ts.run(t, "search", "--type", "gossip", "anything"); err == nil {
		t.Fatal("expected error for unknown search type")
	}
	if len(ts.requests) != 0 {
		t.Error("no request should be sent for an invalid type")
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	ts := newTestServer(t, nil)
	if _, err := ts.run(t, "--output", "xml", "session", "recover"); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}

func TestWriteYAMLUsesJSONNames(t *testing.T) {
	var buf bytes.Buffer
	err := writeYAML(&buf, sessionctx.Recovery{SessionID: "s1", Recovered: true, Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"session_id: s1", "recovered: true", "prompt: hi"} {
		if !strings.Contains(out, want) {
			t.Errorf("yaml %q missing %q", out, want)
		}
	}
}

func TestStyledNoColor(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := styled(errorStyle, "boom"); got != "boom" {
		t.Errorf("styled with noColor = %q", got)
	}
}

func TestResumeOrStart(t *testing.T) {
	store, err := storage.Open(storage.Options{DataDir: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	m := sessionctx.NewManager(store, sessionctx.Options{})
	ctx := context.Background()

	first, rec, err := resumeOrStart(ctx, m, "strategic")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Recovered || first == "" {
		t.Fatalf("cold start: id=%q rec=%+v", first, rec)
	}

	// A fresh, high-quality open session is adopted on the next start.
	if _, err := store.UpdateSessionFields(ctx, first, storage.SessionFields{}, 0.9, time.Now()); err != nil {
		t.Fatal(err)
	}
	second, rec, err := resumeOrStart(ctx, m, "strategic")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Recovered || second != first {
		t.Errorf("resume: id=%q rec=%+v, want %q recovered", second, rec, first)
	}

	// A low-quality open session is closed before a new one starts.
	if _, err := store.UpdateSessionFields(ctx, first, storage.SessionFields{}, 0.1, time.Now()); err != nil {
		t.Fatal(err)
	}
	third, rec, err := resumeOrStart(ctx, m, "strategic")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Recovered || third == first {
		t.Fatalf("abandon: id=%q rec=%+v", third, rec)
	}
	prev, err := store.GetSession(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if prev.EndedAt == nil {
		t.Error("abandoned session left open")
	}
	latest, err := store.LatestOpenSession(ctx)
	if err != nil || latest.SessionID != third {
		t.Errorf("open session = %q, %v; want only %q", latest.SessionID, err, third)
	}
}
