package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/relaydeck/vtmux/docs"
	"github.com/relaydeck/vtmux/src/api"
	"github.com/relaydeck/vtmux/src/broadcast"
	"github.com/relaydeck/vtmux/src/config"
	"github.com/relaydeck/vtmux/src/fsapi"
	"github.com/relaydeck/vtmux/src/session"
)

// @title           vtmux
// @version         0.1.0
// @description     Remote terminal-session multiplexer: spawns PTY sessions, records them as asciicast, and fans live output out over SSE/WebSocket.

// @host      localhost:4020
// @BasePath  /
func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found, continuing with process environment")
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	docs.SwaggerInfo.Host = fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)

	store := session.NewStore(cfg.ControlDir)
	broadcaster := broadcast.NewBroadcaster()
	manager := session.NewManager(store, broadcaster, cfg)

	fs, err := fsapi.New()
	if err != nil {
		logrus.WithError(err).Fatal("failed to resolve home directory for the filesystem API")
	}

	server := api.NewServer(cfg, manager, broadcaster, fs)
	router := server.Router()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.HQ {
		logrus.Info("running in HQ mode")
		server.StartHQHealthLoop(ctx)
	}
	if cfg.HQUrl != "" {
		go registerWithHQ(ctx, cfg)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: router}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("shutting down, marking running sessions as exited")
		manager.Shutdown(4 * time.Second)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		cancel()
	}()

	logrus.WithField("addr", addr).Info("vtmux listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.WithError(err).Fatal("server failed")
	}
}

// registerWithHQ registers this remote with the configured HQ and retries
// with exponential backoff (1s doubling, capped at 30s) until it succeeds
// or ctx is canceled, per spec §5's reconnect/backoff contract.
func registerWithHQ(ctx context.Context, cfg *config.Config) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := attemptRegister(cfg); err == nil {
			logrus.WithField("hq", cfg.HQUrl).Info("registered with HQ")
			return
		} else {
			logrus.WithError(err).Warn("failed to register with HQ, retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func attemptRegister(cfg *config.Config) error {
	body := fmt.Sprintf(`{"name":%q,"url":"http://%s:%d","token":%q}`, cfg.Name, cfg.Bind, cfg.Port, cfg.HQPassword)
	req, err := http.NewRequest(http.MethodPost, cfg.HQUrl+"/api/remotes/register", strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.HQUsername != "" {
		req.SetBasicAuth(cfg.HQUsername, cfg.HQPassword)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("HQ registration failed with status %d", resp.StatusCode)
	}
	return nil
}
