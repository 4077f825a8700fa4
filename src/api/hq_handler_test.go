package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaydeck/vtmux/src/config"
	"github.com/relaydeck/vtmux/src/hq"
)

func TestRegisterAndListRemotes(t *testing.T) {
	cfg := &config.Config{DefaultCols: 80, DefaultRows: 24, ControlDir: t.TempDir(), HQ: true}
	_, router := newTestServer(t, cfg)

	body, _ := json.Marshal(map[string]string{"name": "edge-1", "url": "http://edge-1:4020", "token": "tok"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/remotes/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 registering a remote, got %d: %s", rec.Code, rec.Body.String())
	}

	var rem hq.Remote
	json.Unmarshal(rec.Body.Bytes(), &rem)
	if rem.Name != "edge-1" {
		t.Fatalf("unexpected registered remote: %+v", rem)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/remotes", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing remotes, got %d", rec.Code)
	}
	var remotes []hq.Remote
	json.Unmarshal(rec.Body.Bytes(), &remotes)
	if len(remotes) != 1 || remotes[0].ID != rem.ID {
		t.Fatalf("expected the registered remote in the list, got %+v", remotes)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/remotes/"+rem.ID, nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 unregistering a remote, got %d", rec.Code)
	}
}

func TestRegisterRemoteRejectedOutsideHQMode(t *testing.T) {
	_, router := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]string{"name": "edge-1", "url": "http://edge-1:4020"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/remotes/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		t.Fatal("expected remote registration to be rejected when not running in HQ mode")
	}
}

func TestListSessionsAggregatesAcrossRemotes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{{"id": "remote-session-1", "status": "running"}})
	}))
	defer upstream.Close()

	cfg := &config.Config{DefaultCols: 80, DefaultRows: 24, ControlDir: t.TempDir(), HQ: true}
	srv, router := newTestServer(t, cfg)
	srv.registry.Register("", "edge-1", upstream.URL, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 aggregating sessions, got %d: %s", rec.Code, rec.Body.String())
	}

	var sessions []map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &sessions)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 aggregated session, got %d", len(sessions))
	}
	if sessions[0]["remoteName"] != "edge-1" {
		t.Fatalf("expected the session tagged with its remote's name, got %+v", sessions[0])
	}
}
