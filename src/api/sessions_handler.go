package api

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaydeck/vtmux/src/apperr"
	"github.com/relaydeck/vtmux/src/broadcast"
	"github.com/relaydeck/vtmux/src/session"
	"github.com/relaydeck/vtmux/src/stream"
	"github.com/relaydeck/vtmux/src/termbuffer"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// withProxy wraps a session-scoped handler so that, in HQ mode, requests
// for a session this process doesn't know about are forwarded to the
// owning remote instead of returning 404 (spec §4.7 proxy contract).
func (s *Server) withProxy(local gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.registry == nil {
			local(c)
			return
		}
		id := c.Param("id")
		if _, err := s.manager.Get(id); err == nil {
			local(c)
			return
		}

		rp, _, err := s.proxy.ForSession(id)
		if err != nil {
			sendError(c, apperr.UpstreamUnavailable("no remote owns this session"))
			return
		}
		rp.ServeHTTP(c.Writer, c.Request)
	}
}

type createSessionRequest struct {
	Command       []string `json:"command"`
	WorkingDir    string   `json:"workingDir"`
	Name          string   `json:"name,omitempty"`
	Cols          int      `json:"cols,omitempty"`
	Rows          int      `json:"rows,omitempty"`
	SpawnTerminal bool     `json:"spawn_terminal,omitempty"`
	Term          string   `json:"term,omitempty"`
	RemoteID      string   `json:"remoteId,omitempty"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, apperr.BadRequest("invalid request body"))
		return
	}

	if s.registry != nil && req.RemoteID != "" {
		s.proxyCreate(c, req)
		return
	}

	env := map[string]string{}
	if req.Term != "" {
		env["TERM"] = req.Term
	}

	info, err := s.manager.Create(session.CreateConfig{
		Command:    req.Command,
		WorkingDir: req.WorkingDir,
		Name:       req.Name,
		Cols:       req.Cols,
		Rows:       req.Rows,
		Env:        env,
	})
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessionId": info.ID})
}

// proxyCreate forwards a creation request HQ received for an explicit
// remoteId to that remote verbatim.
func (s *Server) proxyCreate(c *gin.Context, req createSessionRequest) {
	rem, ok := s.registry.Get(req.RemoteID)
	if !ok {
		sendError(c, apperr.NotFound("unknown remote"))
		return
	}
	s.proxy.ForRemote(rem).ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleListSessions(c *gin.Context) {
	if s.registry == nil {
		infos, err := s.manager.List()
		if err != nil {
			sendError(c, err)
			return
		}
		c.JSON(http.StatusOK, infos)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	c.JSON(http.StatusOK, s.aggregateSessions(ctx))
}

func (s *Server) handleGetSession(c *gin.Context) {
	info, err := s.manager.Get(c.Param("id"))
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleKillSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.manager.Kill(id); err != nil {
		if apperr.Is(err, apperr.KindGone) {
			c.JSON(http.StatusGone, gin.H{"success": true})
			return
		}
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleCleanupSession(c *gin.Context) {
	if err := s.manager.Cleanup(c.Param("id")); err != nil {
		sendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCleanupExited(c *gin.Context) {
	count, err := s.manager.CleanupExited()
	if err != nil {
		sendError(c, err)
		return
	}

	if s.registry == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"localCleaned": count, "remoteResults": s.cleanupExitedOnRemotes(c.Request.Context())})
}

type sendInputRequest struct {
	Input string `json:"input,omitempty"`
	Text  string `json:"text,omitempty"`
}

func (s *Server) handleSendInput(c *gin.Context) {
	var req sendInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, apperr.BadRequest("invalid request body"))
		return
	}
	payload := req.Input
	if payload == "" {
		payload = req.Text
	}

	if err := s.manager.SendInput(c.Param("id"), payload); err != nil {
		sendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s *Server) handleResize(c *gin.Context) {
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if req.Cols <= 0 || req.Rows <= 0 {
		sendError(c, apperr.BadRequest("cols and rows must be strictly positive"))
		return
	}
	if err := s.manager.Resize(c.Param("id"), req.Cols, req.Rows); err != nil {
		sendError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// handleStream serves GET /api/sessions/{id}/stream as an SSE feed,
// replaying history then tailing live events, grounded on the teacher's
// SSE pattern (writeSSE + heartbeat ticker + context cancellation).
func (s *Server) handleStream(c *gin.Context) {
	id := c.Param("id")
	path, err := s.manager.StreamPath(id)
	if err != nil {
		sendError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	header, events, err := stream.SnapshotEvents(path, 0)
	if err != nil {
		sendError(c, err)
		return
	}
	_ = header

	for _, ev := range events {
		if !writeSSEEvent(c.Writer, ev) {
			return
		}
	}

	sub, unsubscribe := s.broadcaster.Subscribe(id)
	defer unsubscribe()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Type == broadcast.TypeExit {
				io.WriteString(c.Writer, "event: end\ndata: "+ev.Data+"\n\n")
				c.Writer.Flush()
				return
			}
			if !writeSSEEvent(c.Writer, ev) {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func writeSSEEvent(w gin.ResponseWriter, ev stream.Event) bool {
	body, err := streamEventJSON(ev)
	if err != nil {
		return false
	}
	if _, err := w.Write(append([]byte("data: "), append(body, '\n', '\n')...)); err != nil {
		return false
	}
	w.Flush()
	return true
}

func streamEventJSON(ev stream.Event) ([]byte, error) {
	return jsonMarshalArray(ev.T, ev.Type, ev.Data)
}

func (s *Server) handleSnapshot(c *gin.Context) {
	id := c.Param("id")
	path, err := s.manager.StreamPath(id)
	if err != nil {
		sendError(c, err)
		return
	}

	tail := 0
	if t := c.Query("tail"); t != "" {
		tail = parseIntOrZero(t)
	}

	header, events, err := stream.SnapshotEvents(path, tail)
	if err != nil {
		sendError(c, apperr.Wrap(apperr.KindInternal, "failed to read snapshot", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "header": header, "events": events})
}

func (s *Server) handleBuffer(c *gin.Context) {
	id := c.Param("id")
	path, err := s.manager.StreamPath(id)
	if err != nil {
		sendError(c, err)
		return
	}

	header, events, err := stream.SnapshotEvents(path, 0)
	if err != nil {
		sendError(c, apperr.Wrap(apperr.KindInternal, "failed to read stream", err))
		return
	}
	buf := termbuffer.Replay(header, events)

	if c.DefaultQuery("format", "binary") == "json" {
		c.JSON(http.StatusOK, buf)
		return
	}

	c.Header("Content-Type", "application/octet-stream")
	c.Writer.Write(termbuffer.EncodeSnapshot(buf))
}

func (s *Server) handleBufferStats(c *gin.Context) {
	id := c.Param("id")
	path, err := s.manager.StreamPath(id)
	if err != nil {
		sendError(c, err)
		return
	}

	header, events, err := stream.SnapshotEvents(path, 0)
	if err != nil {
		sendError(c, apperr.Wrap(apperr.KindInternal, "failed to read stream", err))
		return
	}
	buf := termbuffer.Replay(header, events)

	cells := 0
	for _, row := range buf.Grid {
		cells += len(row)
	}

	var lastModified time.Time
	if fi, err := statFile(path); err == nil {
		lastModified = fi
	}

	c.JSON(http.StatusOK, gin.H{
		"lines":           len(buf.Grid),
		"cells":           cells,
		"scrollbackLines": len(buf.Scrollback),
		"lastModified":    lastModified,
	})
}

func (s *Server) handleBroadcasterStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.broadcaster.Stats())
}

// handleSessionSubscribers reports the live subscriber count for a single
// session, the per-session sibling of the all-sessions broadcaster stats.
func (s *Server) handleSessionSubscribers(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.manager.Get(id); err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id, "subscribers": s.broadcaster.SubscriberCount(id)})
}

// handleConfig returns the non-secret parts of the server's configuration,
// letting a client bootstrap against an unfamiliar server without needing
// to probe individual behaviors.
func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"controlDir":  s.cfg.ControlDir,
		"hq":          s.cfg.HQ,
		"name":        s.cfg.Name,
		"defaultCols": s.cfg.DefaultCols,
		"defaultRows": s.cfg.DefaultRows,
		"authEnabled": s.cfg.AuthEnabled(),
	})
}

func parseIntOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func statFile(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
