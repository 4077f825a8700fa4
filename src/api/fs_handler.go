package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaydeck/vtmux/src/apperr"
	"github.com/relaydeck/vtmux/src/fsapi"
)

func (s *Server) handleBrowse(c *gin.Context) {
	path := c.Query("path")

	if c.Query("watch") == "true" {
		s.handleBrowseWatch(c, path)
		return
	}

	result, err := s.fs.Browse(path)
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleBrowseWatch upgrades GET /api/fs/browse?watch=true to an SSE feed of
// filesystem change notifications for path, reusing the same root-escape
// guard as plain browse. The path is validated with a plain Browse call
// before any SSE header is written, so an invalid path still gets a normal
// JSON error response.
func (s *Server) handleBrowseWatch(c *gin.Context, path string) {
	if _, err := s.fs.Browse(path); err != nil {
		sendError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()
	_ = s.fs.WatchDirectory(ctx, path, func(ev fsapi.WatchEvent) {
		if _, werr := io.WriteString(c.Writer, fmt.Sprintf("data: {\"name\":%q,\"op\":%q}\n\n", ev.Name, ev.Op)); werr != nil {
			return
		}
		c.Writer.Flush()
	})
}

type mkdirRequest struct {
	Parent string `json:"parent"`
	Name   string `json:"name"`
}

func (s *Server) handleMkdir(c *gin.Context) {
	var req mkdirRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, apperr.BadRequest("invalid request body"))
		return
	}

	path, err := s.fs.Mkdir(req.Parent, req.Name)
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}
