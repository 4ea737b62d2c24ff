package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adjutant-ops/adjutant/pkg/audit"
	"github.com/adjutant-ops/adjutant/pkg/catalog"
	"github.com/adjutant-ops/adjutant/pkg/executor"
	"github.com/adjutant-ops/adjutant/pkg/gateway"
	"github.com/adjutant-ops/adjutant/pkg/llm"
	"github.com/adjutant-ops/adjutant/pkg/router"
	"github.com/adjutant-ops/adjutant/pkg/safety"
	"github.com/adjutant-ops/adjutant/pkg/session"
)

const statusManifest = `---
name: system-status
description: System status for tests.
actions:
  - name: cpu
    description: CPU usage.
---
`

const logsManifest = `---
name: log-viewer
description: Log access for tests.
actions:
  - name: tail_logs
    description: Tail logs.
---
`

type harness struct {
	server   *Server
	ts       *httptest.Server
	gw       *gateway.Gateway
	sessions *session.MemoryStore
	audit    *audit.MemoryStore
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "system-status.skill.md"), []byte(statusManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	cat, report, err := catalog.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	validator, err := safety.NewValidator(safety.Config{})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	registry := executor.NewRegistry(map[string]executor.Executor{})
	auditStore := audit.NewMemoryStore()
	rt := router.New(cat, validator, registry, auditStore, router.Options{})
	sessions := session.NewMemoryStore()
	gw := gateway.New(&llm.MockProvider{}, cat, rt, sessions, nil, nil, nil, nil, gateway.Options{Model: "small-model"})

	agent := AgentConfig{
		Name:               "Adjutant",
		Model:              "small-model",
		WriteCapableModels: []string{"big-model*"},
	}
	srv := New(cat, dir, gw, sessions, auditStore, agent, report, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{server: srv, ts: ts, gw: gw, sessions: sessions, audit: auditStore, dir: dir}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	var body map[string]string
	if code := getJSON(t, h.ts.URL+"/healthz", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestGetAndPutAgentConfig(t *testing.T) {
	h := newHarness(t)

	var cfg AgentConfig
	if code := getJSON(t, h.ts.URL+"/api/v1/agent/config", &cfg); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if cfg.Name != "Adjutant" || cfg.Model != "small-model" {
		t.Errorf("config = %+v", cfg)
	}

	// Enabling write mode with a non-capable model must not arm the gateway.
	req, _ := http.NewRequest(http.MethodPut, h.ts.URL+"/api/v1/agent/config",
		bytes.NewBufferString(`{"write_mode": true}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if h.gw.Options().WriteMode {
		t.Error("gateway armed for writes with a non-capable model")
	}

	// Switching to a capable model arms it.
	req, _ = http.NewRequest(http.MethodPut, h.ts.URL+"/api/v1/agent/config",
		bytes.NewBufferString(`{"model": "big-model-v2"}`))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	var updated AgentConfig
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if !updated.WriteMode || updated.Model != "big-model-v2" {
		t.Errorf("updated = %+v", updated)
	}
	opts := h.gw.Options()
	if !opts.WriteMode || opts.Model != "big-model-v2" {
		t.Errorf("gateway options = %+v", opts)
	}
}

func TestPutAgentConfigRejectsBadBody(t *testing.T) {
	h := newHarness(t)
	req, _ := http.NewRequest(http.MethodPut, h.ts.URL+"/api/v1/agent/config",
		bytes.NewBufferString(`not json`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSkillsListAndReload(t *testing.T) {
	h := newHarness(t)

	var listing struct {
		Skills []json.RawMessage `json:"skills"`
		Loaded int               `json:"loaded"`
	}
	if code := getJSON(t, h.ts.URL+"/api/v1/skills", &listing); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(listing.Skills) != 1 || listing.Loaded != 1 {
		t.Fatalf("listing = %+v", listing)
	}

	// Drop a new manifest and reload.
	if err := os.WriteFile(filepath.Join(h.dir, "log-viewer.skill.md"), []byte(logsManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	resp, err := http.Post(h.ts.URL+"/api/v1/skills/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reload: %v", err)
	}
	var reloaded struct {
		Loaded int `json:"loaded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reloaded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if reloaded.Loaded != 2 {
		t.Errorf("loaded = %d", reloaded.Loaded)
	}

	if code := getJSON(t, h.ts.URL+"/api/v1/skills", &listing); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(listing.Skills) != 2 {
		t.Errorf("skills after reload = %d", len(listing.Skills))
	}
}

func TestSessionEndpoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess := session.New("alice")
	sess.Append(session.Turn{Role: llm.RoleUser, Content: "check disk space please"})
	if err := h.sessions.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var list []session.Summary
	if code := getJSON(t, h.ts.URL+"/api/v1/sessions", &list); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(list) != 1 || list[0].Title != "check disk space please" {
		t.Fatalf("list = %+v", list)
	}

	var got session.Session
	if code := getJSON(t, h.ts.URL+"/api/v1/sessions/"+sess.ID, &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.ID != sess.ID || len(got.Turns) != 1 {
		t.Errorf("session = %+v", got)
	}

	if code := getJSON(t, h.ts.URL+"/api/v1/sessions/missing", nil); code != http.StatusNotFound {
		t.Errorf("missing session status = %d", code)
	}

	req, _ := http.NewRequest(http.MethodDelete, h.ts.URL+"/api/v1/sessions/"+sess.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d", resp.StatusCode)
	}
}

func TestAuditQuery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	entries := []audit.Entry{
		{CorrelationID: "call_1", SessionID: "s1", Skill: "system-status", Action: "cpu", State: "completed", UpdatedAt: time.Now()},
		{CorrelationID: "call_2", SessionID: "s1", Skill: "system-status", Action: "cpu", State: "blocked", UpdatedAt: time.Now()},
		{CorrelationID: "call_3", SessionID: "s2", Skill: "system-status", Action: "cpu", State: "completed", UpdatedAt: time.Now()},
	}
	for _, e := range entries {
		if err := h.audit.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	var got []audit.Entry
	if code := getJSON(t, h.ts.URL+"/api/v1/audit?session=s1", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(got) != 2 {
		t.Errorf("session filter returned %d entries", len(got))
	}

	if code := getJSON(t, h.ts.URL+"/api/v1/audit?outcome=blocked", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(got) != 1 || got[0].CorrelationID != "call_2" {
		t.Errorf("outcome filter = %+v", got)
	}

	if code := getJSON(t, h.ts.URL+"/api/v1/audit?limit=1&offset=1", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(got) != 1 {
		t.Errorf("pagination returned %d entries", len(got))
	}

	if code := getJSON(t, h.ts.URL+"/api/v1/audit?since=not-a-time", nil); code != http.StatusBadRequest {
		t.Errorf("bad since status = %d", code)
	}
}
