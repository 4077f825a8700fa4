// Package api wires the HTTP/WebSocket surface of spec §6 onto the
// session, broadcast, termbuffer, fsapi and hq packages, grounded on the
// teacher's gin router/middleware layout (src/api/router.go) and handler
// conventions (src/handler/base.go, handler/terminal.go, handler/process.go).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/relaydeck/vtmux/docs"
	"github.com/relaydeck/vtmux/src/broadcast"
	"github.com/relaydeck/vtmux/src/config"
	"github.com/relaydeck/vtmux/src/fsapi"
	"github.com/relaydeck/vtmux/src/hq"
	"github.com/relaydeck/vtmux/src/session"
)

// Server bundles every dependency the HTTP handlers need.
type Server struct {
	cfg         *config.Config
	manager     *session.Manager
	broadcaster *broadcast.Broadcaster
	fs          *fsapi.API

	// HQ-mode only; nil on a plain remote.
	registry *hq.Registry
	proxy    *hq.Proxy

	startedAt time.Time
}

func NewServer(cfg *config.Config, manager *session.Manager, broadcaster *broadcast.Broadcaster, fs *fsapi.API) *Server {
	s := &Server{cfg: cfg, manager: manager, broadcaster: broadcaster, fs: fs, startedAt: time.Now()}
	if cfg.HQ {
		s.registry = hq.NewRegistry()
		s.proxy = hq.NewProxy(s.registry)
	}
	return s
}

// StartHQHealthLoop launches the periodic remote health probe in the
// background when this server is running in HQ mode; it is a no-op
// otherwise. Returns immediately, running until ctx is canceled.
func (s *Server) StartHQHealthLoop(ctx context.Context) {
	if s.registry == nil {
		return
	}
	go hq.RunHealthLoop(ctx, s.registry, &http.Client{})
}

// Router builds the gin engine, matching the teacher's middleware chain
// (recovery, CORS, no-cache, timing, logging) ahead of route
// registration.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(noCacheMiddleware())
	r.Use(processingTimeMiddleware())
	r.Use(logrusMiddleware())

	r.GET("/swagger", func(c *gin.Context) { c.Redirect(http.StatusMovedPermanently, "/swagger/index.html") })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/config", s.handleConfig)

	// WS upgrade bypasses the auth middleware group; it authenticates for
	// itself in the upgrade handler, per spec §6.
	r.GET("/buffers", s.handleBuffersWS)

	api := r.Group("/api")
	api.Use(authMiddleware(s.cfg))
	{
		api.GET("/sessions", s.handleListSessions)
		api.POST("/sessions", s.handleCreateSession)
		api.GET("/sessions/:id", s.withProxy(s.handleGetSession))
		api.DELETE("/sessions/:id", s.withProxy(s.handleKillSession))
		api.DELETE("/sessions/:id/cleanup", s.withProxy(s.handleCleanupSession))
		api.POST("/cleanup-exited", s.handleCleanupExited)
		api.POST("/sessions/:id/input", s.withProxy(s.handleSendInput))
		api.POST("/sessions/:id/resize", s.withProxy(s.handleResize))
		api.GET("/sessions/:id/stream", s.withProxy(s.handleStream))
		api.GET("/sessions/:id/snapshot", s.withProxy(s.handleSnapshot))
		api.GET("/sessions/:id/buffer", s.withProxy(s.handleBuffer))
		api.GET("/sessions/:id/buffer/stats", s.withProxy(s.handleBufferStats))
		api.GET("/sessions/:id/subscribers", s.withProxy(s.handleSessionSubscribers))

		api.GET("/fs/browse", s.handleBrowse)
		api.POST("/mkdir", s.handleMkdir)

		api.POST("/remotes/register", s.handleRegisterRemote)
		api.DELETE("/remotes/:id", s.handleUnregisterRemote)
		api.GET("/remotes", s.handleListRemotes)

		api.GET("/debug/broadcaster", s.handleBroadcasterStats)
	}

	if s.cfg.StaticPath != "" {
		r.Static("/", s.cfg.StaticPath)
	}

	return r
}
