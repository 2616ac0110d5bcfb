package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestRouterServer(t *testing.T) *Server {
	t.Helper()
	db := &countingSuspendClient{}
	return newTestServer(t, db)
}

func TestRouter_GetEntryRoundTrip(t *testing.T) {
	s := newTestRouterServer(t)
	loadTestManifest(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	srv := httptest.NewServer(NewRouter(s))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/command/get_entry", "application/json", strings.NewReader(`{"index":0}`))
	if err != nil {
		t.Fatalf("POST /command/get_entry: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.OK || body.Entry == nil || body.Entry.ProjectID != "M01" {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestRouter_StatusEndpoint(t *testing.T) {
	s := newTestRouterServer(t)
	loadTestManifest(t, s)

	srv := httptest.NewServer(NewRouter(s))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRouter_IndexWriteRejectsNonInteger(t *testing.T) {
	s := newTestRouterServer(t)

	srv := httptest.NewServer(NewRouter(s))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/index?value=not-a-number", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /index: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-integer index write, got %d", resp.StatusCode)
	}
}

func TestRouter_IndexWriteAccepted(t *testing.T) {
	s := newTestRouterServer(t)
	loadTestManifest(t, s)

	srv := httptest.NewServer(NewRouter(s))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/index?value=1", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /index: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	s.SetExternalIndex(1) // mirror the handler's own effect for a direct assertion
	s.reconcileExternalIndex()
	if s.queue.CurrentIndex != 1 {
		t.Fatalf("expected the external index write to be reconciled to 1, got %d", s.queue.CurrentIndex)
	}
}

func TestRouter_CommandAuthRejectsMissingToken(t *testing.T) {
	s := newTestRouterServer(t)
	s.cfg.CommandAuthSecret = "super-secret"
	loadTestManifest(t, s)

	srv := httptest.NewServer(NewRouter(s))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/command/get_entry", "application/json", strings.NewReader(`{"index":0}`))
	if err != nil {
		t.Fatalf("POST /command/get_entry: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a command token, got %d", resp.StatusCode)
	}
}

func TestRouter_CommandAuthAcceptsValidToken(t *testing.T) {
	s := newTestRouterServer(t)
	s.cfg.CommandAuthSecret = "super-secret"
	loadTestManifest(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	srv := httptest.NewServer(NewRouter(s))
	defer srv.Close()

	token, err := SignCommandToken("super-secret", http.MethodPost, "/command/get_entry")
	if err != nil {
		t.Fatalf("SignCommandToken: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/command/get_entry", strings.NewReader(`{"index":0}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Queue-Token", token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /command/get_entry: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with a valid command token, got %d", resp.StatusCode)
	}
}

func TestRouter_CommandAuthWrongTokenRejected(t *testing.T) {
	s := newTestRouterServer(t)
	s.cfg.CommandAuthSecret = "super-secret"
	loadTestManifest(t, s)

	srv := httptest.NewServer(NewRouter(s))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/command/get_entry", strings.NewReader(`{"index":0}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Queue-Token", "0000000000000000000000000000000000000000000000000000000000000000")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /command/get_entry: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a wrong command token, got %d", resp.StatusCode)
	}
}

func TestRouter_IndexAndStatusDoNotRequireCommandToken(t *testing.T) {
	s := newTestRouterServer(t)
	s.cfg.CommandAuthSecret = "super-secret"
	loadTestManifest(t, s)

	srv := httptest.NewServer(NewRouter(s))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected /status to remain open even with command auth configured, got %d", resp.StatusCode)
	}
}
