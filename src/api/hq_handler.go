package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaydeck/vtmux/src/apperr"
	"github.com/relaydeck/vtmux/src/session"
)

type registerRemoteRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

func (s *Server) handleRegisterRemote(c *gin.Context) {
	if s.registry == nil {
		sendError(c, apperr.BadRequest("this server is not running in HQ mode"))
		return
	}

	var req registerRemoteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" || req.URL == "" {
		sendError(c, apperr.BadRequest("name and url are required"))
		return
	}

	rem, err := s.registry.Register(req.ID, req.Name, req.URL, req.Token)
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, rem)
}

func (s *Server) handleUnregisterRemote(c *gin.Context) {
	if s.registry == nil {
		sendError(c, apperr.BadRequest("this server is not running in HQ mode"))
		return
	}
	if err := s.registry.Unregister(c.Param("id")); err != nil {
		sendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListRemotes(c *gin.Context) {
	if s.registry == nil {
		sendError(c, apperr.BadRequest("this server is not running in HQ mode"))
		return
	}
	c.JSON(http.StatusOK, s.registry.List())
}

// aggregateSessions fans a GET /api/sessions out to every registered
// remote in parallel, tags each result with the remote's name, and
// returns the union sorted by start time descending. Individual
// remote failures are elided, per spec §4.7.
func (s *Server) aggregateSessions(ctx context.Context) []session.Info {
	remotes := s.registry.List()

	var mu sync.Mutex
	var all []session.Info
	var wg sync.WaitGroup

	for _, rem := range remotes {
		rem := rem
		wg.Add(1)
		go func() {
			defer wg.Done()
			sessions := fetchRemoteSessions(ctx, rem.URL, rem.Token)
			mu.Lock()
			for i := range sessions {
				sessions[i].RemoteName = rem.Name
			}
			all = append(all, sessions...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	return all
}

func fetchRemoteSessions(ctx context.Context, baseURL, token string) []session.Info {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL+"/api/sessions", nil)
	if err != nil {
		return nil
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	var sessions []session.Info
	_ = json.NewDecoder(resp.Body).Decode(&sessions)
	return sessions
}

// cleanupExitedOnRemotes applies POST /api/cleanup-exited to every
// registered remote and collects per-remote outcomes.
func (s *Server) cleanupExitedOnRemotes(ctx context.Context) []gin.H {
	remotes := s.registry.List()
	results := make([]gin.H, 0, len(remotes))

	for _, rem := range remotes {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, rem.URL+"/api/cleanup-exited", nil)
		if err != nil {
			cancel()
			results = append(results, gin.H{"remote": rem.Name, "error": err.Error()})
			continue
		}
		if rem.Token != "" {
			req.Header.Set("Authorization", "Bearer "+rem.Token)
		}
		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err != nil {
			results = append(results, gin.H{"remote": rem.Name, "error": err.Error()})
			continue
		}
		resp.Body.Close()
		results = append(results, gin.H{"remote": rem.Name, "status": resp.StatusCode})
	}
	return results
}
