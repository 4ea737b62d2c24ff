package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adjutant-ops/adjutant/pkg/errors"
)

func newVCSServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/repos/search", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token tk-123" {
			t.Errorf("authorization = %q", got)
		}
		w.Write([]byte(`{"data":[
			{"full_name":"infra/deploy","description":"Deployment configs","private":true,"open_issues_count":3},
			{"full_name":"team/webapp","description":"Main app","private":false,"open_issues_count":12}
		]}`))
	})
	mux.HandleFunc("/api/v1/repos/team/webapp/issues", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("state"); got != "open" {
			t.Errorf("state = %q", got)
		}
		w.Write([]byte(`[{"number":42,"title":"Login broken","state":"open","user":{"login":"ops"}}]`))
	})
	mux.HandleFunc("/api/v1/repos/team/webapp/commits", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"sha":"abcdef1234567890","commit":{"message":"Fix login\n\nDetails here","author":{"name":"dev","date":"2026-08-20"}}}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVCSListRepos(t *testing.T) {
	srv := newVCSServer(t)
	e := NewVCSExecutor(srv.URL, "tk-123")

	res, err := e.ListRepos(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("ListRepos: %v", err)
	}
	if !strings.Contains(res.Output, "infra/deploy (private, 3 open issues)") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestVCSListIssues(t *testing.T) {
	srv := newVCSServer(t)
	e := NewVCSExecutor(srv.URL, "tk-123")

	res, err := e.ListIssues(context.Background(), map[string]any{"repo": "team/webapp"})
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if !strings.Contains(res.Output, "#42 [open] Login broken (ops)") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestVCSListCommitsUsesSubjectLine(t *testing.T) {
	srv := newVCSServer(t)
	e := NewVCSExecutor(srv.URL, "tk-123")

	res, err := e.ListCommits(context.Background(), map[string]any{"repo": "team/webapp"})
	if err != nil {
		t.Fatalf("ListCommits: %v", err)
	}
	if !strings.Contains(res.Output, "abcdef123456 Fix login") {
		t.Errorf("output = %q", res.Output)
	}
	if strings.Contains(res.Output, "Details here") {
		t.Errorf("commit body leaked: %q", res.Output)
	}
}

func TestVCSUnreachable(t *testing.T) {
	e := NewVCSExecutor("http://127.0.0.1:1", "")
	_, err := e.ListRepos(context.Background(), map[string]any{})
	if errors.CodeOf(err) != errors.CodeUpstreamUnavailable {
		t.Fatalf("expected UPSTREAM_UNAVAILABLE, got %v", err)
	}
}
