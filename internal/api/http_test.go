package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/stratctx/internal/backup"
	"github.com/kalambet/stratctx/internal/search"
	"github.com/kalambet/stratctx/internal/sessionctx"
	"github.com/kalambet/stratctx/internal/storage"
)

const testToken = "test-token-12345"

type testEnv struct {
	store    *storage.Store
	sessions *sessionctx.Manager
	engine   *search.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(storage.Options{DataDir: ":memory:"})
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	today := time.Now().UTC().Format("2006-01-02")
	if _, err := store.DB().Exec(`INSERT INTO executive_sessions (session_id, session_type, stakeholder_key, session_date, agenda_topics, key_decisions) VALUES (?, ?, ?, ?, ?, ?)`,
		"es-1", "qbr", "cfo", today, "platform investment", "approved budget for platform migration"); err != nil {
		t.Fatalf("seeding executive session: %v", err)
	}

	return &testEnv{
		store:    store,
		sessions: sessionctx.NewManager(store, sessionctx.Options{}),
		engine:   search.NewEngine(store.DB(), search.Options{}),
	}
}

func (e *testEnv) handler(token string) http.Handler {
	return NewHandler(Deps{Sessions: e.sessions, Search: e.engine, Token: token})
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

type staticBackup struct{ st backup.Status }

func (s staticBackup) Status() backup.Status { return s.st }

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(Deps{
		Sessions: env.sessions,
		Search:   env.engine,
		Token:    testToken,
		Backup:   staticBackup{backup.Status{SessionID: "s1", Runs: 3}},
	})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	b, ok := body["backup"].(map[string]any)
	if !ok || b["session_id"] != "s1" {
		t.Errorf("backup = %v", body["backup"])
	}
}

func TestAuthRequired(t *testing.T) {
	h := newTestEnv(t).handler(testToken)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, authReq(http.MethodGet, "/sessions/recent", "", tt.token))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	h := env.handler(testToken)

	rec := serve(h, authReq(http.MethodPost, "/sessions", `{"session_type":"planning"}`, testToken))
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body)
	}
	started := decode[map[string]string](t, rec)
	id := started["session_id"]
	if id == "" || started["session_type"] != "planning" {
		t.Fatalf("start response = %v", started)
	}

	update := `{"active_personas":["diego"],"stakeholder_context":{"cfo":"supportive"},"scoring":"presence"}`
	rec = serve(h, authReq(http.MethodPut, "/sessions/"+id+"/context", update, testToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body)
	}
	updated := decode[map[string]any](t, rec)
	if q := updated["context_quality_score"].(float64); q != 0.35 {
		t.Errorf("presence quality = %v, want 0.35", q)
	}

	rec = serve(h, authReq(http.MethodGet, "/sessions/"+id, "", testToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decode[sessionResponse](t, rec)
	if len(got.Context.ActivePersonas) != 1 || got.Context.Stakeholder["cfo"] != "supportive" {
		t.Errorf("restored context = %+v", got.Context)
	}

	rec = serve(h, authReq(http.MethodPost, "/sessions/"+id+"/validate", "", testToken))
	validated := decode[map[string]any](t, rec)
	if gaps := validated["gaps"].([]any); len(gaps) != 3 {
		t.Errorf("got %d gaps, want 3", len(gaps))
	}

	rec = serve(h, authReq(http.MethodGet, "/sessions/"+id+"/gaps", "", testToken))
	if gaps := decode[[]sessionctx.Gap](t, rec); len(gaps) != 3 {
		t.Errorf("persisted gaps = %d, want 3", len(gaps))
	}

	rec = serve(h, authReq(http.MethodPost, "/sessions/"+id+"/end", "", testToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d", rec.Code)
	}

	rec = serve(h, authReq(http.MethodGet, "/sessions/recent?hours=1", "", testToken))
	recent := decode[[]sessionctx.SessionSummary](t, rec)
	if len(recent) != 1 || recent[0].SessionID != id || recent[0].EndedAt == nil {
		t.Errorf("recent = %+v", recent)
	}
}

func TestStartSessionDefaultType(t *testing.T) {
	h := newTestEnv(t).handler("")
	rec := serve(h, authReq(http.MethodPost, "/sessions", "", ""))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["session_type"]; got != "strategic_leadership" {
		t.Errorf("session_type = %q", got)
	}
}

func TestUpdatePreservesLargeIntegers(t *testing.T) {
	h := newTestEnv(t).handler("")
	rec := serve(h, authReq(http.MethodPost, "/sessions", "", ""))
	id := decode[map[string]string](t, rec)["session_id"]

	update := `{"stakeholder_context":{"cfo":{"id":9007199254740993,"meetings":3,"confidence":0.75}}}`
	rec = serve(h, authReq(http.MethodPut, "/sessions/"+id+"/context", update, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body)
	}

	rec = serve(h, authReq(http.MethodGet, "/sessions/"+id, "", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`"id":9007199254740993`, `"meetings":3`, `"confidence":0.75`} {
		if !strings.Contains(body, want) {
			t.Errorf("response %s missing %s", body, want)
		}
	}
}

func TestUnknownSession(t *testing.T) {
	h := newTestEnv(t).handler("")
	tests := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/sessions/missing", ""},
		{http.MethodPut, "/sessions/missing/context", `{"active_personas":["diego"]}`},
		{http.MethodPost, "/sessions/missing/backup", ""},
		{http.MethodPost, "/sessions/missing/end", ""},
		{http.MethodPost, "/sessions/missing/validate", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(h, authReq(tt.method, tt.path, tt.body, ""))
			if rec.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", rec.Code)
			}
		})
	}
}

func TestUpdateRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	h := env.handler("")
	id, _ := env.sessions.StartSession(context.Background(), "strategic")

	for _, body := range []string{`{`, `{"scoring":"vibes"}`} {
		rec := serve(h, authReq(http.MethodPut, "/sessions/"+id+"/context", body, ""))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestBackupEndpoint(t *testing.T) {
	env := newTestEnv(t)
	h := env.handler("")
	id, _ := env.sessions.StartSession(context.Background(), "strategic")

	rec := serve(h, authReq(http.MethodPost, "/sessions/"+id+"/backup", "", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got := decode[map[string]any](t, rec)["status"]; got != "backed_up" {
		t.Errorf("status field = %v", got)
	}
}

func TestRecoveryColdStart(t *testing.T) {
	h := newTestEnv(t).handler("")
	rec := serve(h, authReq(http.MethodPost, "/recovery", "", ""))
	got := decode[sessionctx.Recovery](t, rec)
	if got.Recovered || got.Prompt == "" {
		t.Errorf("recovery = %+v, want cold start with prompt", got)
	}
}

func TestSearchEndpoint(t *testing.T) {
	h := newTestEnv(t).handler("")

	rec := serve(h, authReq(http.MethodPost, "/search",
		`{"query":"platform migration budget","search_type":"decision_context","min_relevance":0,"include_metadata":true}`, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		SearchType string          `json:"search_type"`
		Results    []search.Result `json:"results"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.SearchType != "decision_context" {
		t.Errorf("search_type = %q", body.SearchType)
	}
	if len(body.Results) != 1 || body.Results[0].SourceTable != "executive_sessions" {
		t.Fatalf("results = %+v", body.Results)
	}
	if body.Results[0].Metadata["session_id"] != "es-1" {
		t.Errorf("metadata = %v", body.Results[0].Metadata)
	}

	rec = serve(h, authReq(http.MethodGet, "/search/cache", "", ""))
	if stats := decode[search.CacheStats](t, rec); stats.Size == 0 {
		t.Errorf("cache stats = %+v, want populated cache", stats)
	}
}

func TestSearchValidation(t *testing.T) {
	h := newTestEnv(t).handler("")
	tests := []string{
		`{"query":""}`,
		`{"query":"x","search_type":"gossip"}`,
		`not json`,
	}
	for _, body := range tests {
		rec := serve(h, authReq(http.MethodPost, "/search", body, ""))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}
