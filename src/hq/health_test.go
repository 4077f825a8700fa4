package hq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeRemoteHandler serves the real shapes a vtmux remote returns:
// /api/health a status object (spec §6), /api/sessions a session array.
func fakeRemoteHandler(ids ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/health":
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "timestamp": 0})
		case "/api/sessions":
			stubs := make([]sessionStub, len(ids))
			for i, id := range ids {
				stubs[i] = sessionStub{ID: id}
			}
			json.NewEncoder(w).Encode(stubs)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestFetchSessionsTolerates404FromHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Path == "/api/sessions" {
			json.NewEncoder(w).Encode([]sessionStub{{ID: "s1"}, {ID: "s2"}})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rem := &Remote{ID: "r1", Name: "alpha", URL: srv.URL}
	sessions, err := fetchSessions(context.Background(), srv.Client(), rem)
	if err != nil {
		t.Fatalf("fetchSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions from /api/sessions, got %d", len(sessions))
	}
}

func TestFetchSessionsUsesSessionsEndpointWhenHealthIsAStatusObject(t *testing.T) {
	srv := httptest.NewServer(fakeRemoteHandler("live-session"))
	defer srv.Close()

	rem := &Remote{ID: "r1", Name: "alpha", URL: srv.URL}
	sessions, err := fetchSessions(context.Background(), srv.Client(), rem)
	if err != nil {
		t.Fatalf("fetchSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "live-session" {
		t.Fatalf("expected session ids from /api/sessions despite /api/health returning a status object, got %v", sessions)
	}
}

func TestFetchSessionsSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path == "/api/health" {
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
			return
		}
		json.NewEncoder(w).Encode([]sessionStub{})
	}))
	defer srv.Close()

	rem := &Remote{ID: "r1", Name: "alpha", URL: srv.URL, Token: "secret-token"}
	if _, err := fetchSessions(context.Background(), srv.Client(), rem); err != nil {
		t.Fatalf("fetchSessions: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("expected Bearer auth header, got %q", gotAuth)
	}
}

func TestProbeOneMarksHealthyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(fakeRemoteHandler("live-session"))
	defer srv.Close()

	reg := NewRegistry()
	rem, _ := reg.Register("", "alpha", srv.URL, "")

	probeOne(context.Background(), reg, srv.Client(), rem)

	got, ok := reg.Get(rem.ID)
	if !ok {
		t.Fatal("expected remote still present after a successful probe")
	}
	if !got.Healthy {
		t.Fatal("expected remote marked healthy")
	}
	if len(got.SessionIDs) != 1 || got.SessionIDs[0] != "live-session" {
		t.Fatalf("expected session ids updated from probe, got %v", got.SessionIDs)
	}
}

func TestRunHealthLoopProbesImmediatelyOnStart(t *testing.T) {
	srv := httptest.NewServer(fakeRemoteHandler("live-session"))
	defer srv.Close()

	reg := NewRegistry()
	rem, _ := reg.Register("", "alpha", srv.URL, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunHealthLoop(ctx, reg, srv.Client())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := reg.Get(rem.ID); ok && len(got.SessionIDs) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected RunHealthLoop to probe the registered remote without waiting a full probeInterval")
}

func TestProbeOneEvictsAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable := srv.URL
	srv.Close() // closed immediately: every request now fails to connect

	reg := NewRegistry()
	rem, _ := reg.Register("", "alpha", unreachable, "")
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for i := 0; i < 3; i++ {
		probeOne(context.Background(), reg, client, rem)
	}

	if _, ok := reg.Get(rem.ID); ok {
		t.Fatal("expected remote to be evicted after three consecutive probe failures")
	}
}
