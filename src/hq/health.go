package hq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	probeInterval = 15 * time.Second
	probeTimeout  = 5 * time.Second
)

// sessionStub is the minimal shape needed out of a remote's /api/sessions
// response to learn which session ids it currently owns.
type sessionStub struct {
	ID string `json:"id"`
}

// RunHealthLoop probes every registered remote every probeInterval until
// ctx is canceled. Probes run concurrently and never hold the registry
// lock (spec §5).
func RunHealthLoop(ctx context.Context, reg *Registry, client *http.Client) {
	if client == nil {
		client = &http.Client{}
	}
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	// Probe once immediately so a freshly registered remote's session set
	// is known without waiting a full probeInterval.
	probeAll(ctx, reg, client)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeAll(ctx, reg, client)
		}
	}
}

func probeAll(ctx context.Context, reg *Registry, client *http.Client) {
	for _, rem := range reg.snapshot() {
		go probeOne(ctx, reg, client, rem)
	}
}

func probeOne(ctx context.Context, reg *Registry, client *http.Client, rem *Remote) {
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	sessions, err := fetchSessions(reqCtx, client, rem)
	if err != nil {
		if reg.markProbe(rem.ID, false, nil) {
			logrus.WithField("remote", rem.Name).Warn("hq: remote removed after repeated probe failures")
		}
		return
	}

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	reg.markProbe(rem.ID, true, ids)
}

// fetchSessions checks GET /api/health for liveness, then always queries
// GET /api/sessions for session discovery: /api/health's body is a status
// object per spec §6 ({"status":"ok","timestamp":...}), never an array of
// sessions, so it can confirm a remote is up but never supply SessionIDs.
// A 404 from /api/health is tolerated (an older/minimal remote that never
// implemented it) rather than treated as a liveness failure.
func fetchSessions(ctx context.Context, client *http.Client, rem *Remote) ([]sessionStub, error) {
	healthResp, err := doGet(ctx, client, rem, "/api/health")
	if err != nil {
		return nil, err
	}
	healthResp.Body.Close()
	if healthResp.StatusCode != http.StatusNotFound && healthResp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote health check failed with status %d", healthResp.StatusCode)
	}

	sessionsResp, err := doGet(ctx, client, rem, "/api/sessions")
	if err != nil {
		return nil, err
	}
	defer sessionsResp.Body.Close()
	if sessionsResp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote session list failed with status %d", sessionsResp.StatusCode)
	}

	var sessions []sessionStub
	if err := json.NewDecoder(sessionsResp.Body).Decode(&sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func doGet(ctx context.Context, client *http.Client, rem *Remote, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rem.URL+path, nil)
	if err != nil {
		return nil, err
	}
	if rem.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rem.Token)
	}
	return client.Do(req)
}
