package session

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaydeck/vtmux/src/apperr"
	"github.com/relaydeck/vtmux/src/config"
	"github.com/relaydeck/vtmux/src/stream"
)

// Broadcaster is the subset of the Live Broadcaster's interface the
// Session Manager depends on. Defined here (rather than imported from the
// broadcast package) to keep the dependency one-way: broadcast never
// imports session, per §9's "cyclic references are avoided" design note.
type Broadcaster interface {
	Publish(sessionID string, ev stream.Event)
	NotifyExit(sessionID string, code int)
	Drop(sessionID string)
}

// CreateConfig is the input to Manager.Create, matching the body of
// POST /api/sessions (spec §6).
type CreateConfig struct {
	Command    []string
	WorkingDir string
	Name       string
	Cols       int
	Rows       int
	Env        map[string]string
}

// liveSession is the in-memory state for a session this process spawned
// and is still tracking (it may already have exited but not been cleaned
// up). Mutations go through mu, mirroring the teacher's per-session lock
// in ManagedSession.
type liveSession struct {
	mu   sync.Mutex
	info Info

	pty    *ptyProcess
	writer *stream.Writer
}

// Manager orchestrates PTY Manager + Stream Writer + on-disk Store for
// every session, and drives the Live Broadcaster as events are produced.
// It is the Session Manager of spec §4.6.
type Manager struct {
	store       *Store
	broadcaster Broadcaster
	cfg         *config.Config

	mu       sync.RWMutex
	sessions map[string]*liveSession
}

func NewManager(store *Store, broadcaster Broadcaster, cfg *config.Config) *Manager {
	return &Manager{
		store:       store,
		broadcaster: broadcaster,
		cfg:         cfg,
		sessions:    make(map[string]*liveSession),
	}
}

// Create picks an id, makes the session directory, writes info.json,
// spawns the PTY, and starts the output loop (stream writer + broadcaster),
// the exit watcher, and the ready-window transition to running.
func (m *Manager) Create(cfg CreateConfig) (*Info, error) {
	if len(cfg.Command) == 0 {
		return nil, apperr.BadRequest("command must be a non-empty array")
	}

	cwd, err := config.ExpandHome(cfg.WorkingDir)
	if err != nil {
		return nil, apperr.BadRequest(err.Error())
	}
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	if stat, err := os.Stat(cwd); err != nil || !stat.IsDir() {
		return nil, apperr.BadRequest(fmt.Sprintf("workingDir %q does not exist", cfg.WorkingDir))
	}

	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 {
		cols = m.cfg.DefaultCols
	}
	if rows <= 0 {
		rows = m.cfg.DefaultRows
	}

	id, err := newID()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to generate session id", err)
	}

	if err := m.store.CreateDir(id); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create session directory", err)
	}

	proc, err := spawnPTY(spawnOptions{Command: cfg.Command, Cwd: cwd, Env: cfg.Env, Cols: cols, Rows: rows})
	if err != nil {
		m.store.RemoveDir(id)
		return nil, err
	}

	writer, err := stream.NewWriter(m.store.StreamOutPath(id), cols, rows, envWithTerm(cfg.Env))
	if err != nil {
		proc.Kill()
		m.store.RemoveDir(id)
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create stream file", err)
	}

	name := cfg.Name
	if name == "" {
		name = baseName(cfg.Command[0])
	}

	info := Info{
		ID:         id,
		Name:       name,
		Command:    cfg.Command,
		WorkingDir: cwd,
		Env:        cfg.Env,
		Cols:       cols,
		Rows:       rows,
		StartedAt:  time.Now(),
		PID:        proc.pid(),
		Status:     StatusStarting,
		SpawnType:  "pty",
	}

	ls := &liveSession{info: info, pty: proc, writer: writer}

	if err := m.store.WriteInfo(&ls.info); err != nil {
		proc.Kill()
		writer.Close()
		m.store.RemoveDir(id)
		return nil, apperr.Wrap(apperr.KindInternal, "failed to write session info", err)
	}

	m.mu.Lock()
	m.sessions[id] = ls
	m.mu.Unlock()

	go m.runOutputLoop(ls)
	go m.runExitWatcher(ls)
	// A child that prints nothing (e.g. `sleep`) still becomes running
	// after a short ready window.
	go func() {
		time.Sleep(200 * time.Millisecond)
		m.markRunning(ls)
	}()

	infoCopy := ls.snapshot()
	return &infoCopy, nil
}

func envWithTerm(env map[string]string) map[string]string {
	out := make(map[string]string, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	if _, ok := out["TERM"]; !ok {
		out["TERM"] = "xterm-256color"
	}
	return out
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func (ls *liveSession) snapshot() Info {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	infoCopy := ls.info
	if ls.info.ExitCode != nil {
		code := *ls.info.ExitCode
		infoCopy.ExitCode = &code
	}
	return infoCopy
}

// runOutputLoop copies PTY output into the stream writer and the
// broadcaster until the PTY returns an error (child exited or I/O
// failure), transitioning starting->running on the first successful read
// if the ready window in Create has not already done so.
func (m *Manager) runOutputLoop(ls *liveSession) {
	buf := make([]byte, 4096)
	transitioned := false

	for {
		n, err := ls.pty.Read(buf)
		if n > 0 {
			data := string(buf[:n])
			if !transitioned {
				transitioned = true
				m.markRunning(ls)
			}
			if werr := ls.writer.AppendOutput(data); werr != nil {
				logrus.WithError(werr).WithField("session", ls.info.ID).Warn("session: failed to append output event")
			}
			m.broadcaster.Publish(ls.info.ID, stream.Event{Type: stream.TypeOutput, Data: data})
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) markRunning(ls *liveSession) {
	ls.mu.Lock()
	if ls.info.Status != StatusStarting {
		ls.mu.Unlock()
		return
	}
	ls.info.Status = StatusRunning
	infoCopy := ls.info
	ls.mu.Unlock()
	if err := m.store.WriteInfo(&infoCopy); err != nil {
		logrus.WithError(err).WithField("session", ls.info.ID).Warn("session: failed to persist running transition")
	}
}

// runExitWatcher waits for the child to be reaped, then finalizes status,
// the stream file and broadcaster notification.
func (m *Manager) runExitWatcher(ls *liveSession) {
	code := ls.pty.wait()

	ls.mu.Lock()
	ls.info.Status = StatusExited
	ls.info.ExitCode = &code
	infoCopy := ls.info
	ls.mu.Unlock()

	if err := m.store.WriteInfo(&infoCopy); err != nil {
		logrus.WithError(err).WithField("session", ls.info.ID).Warn("session: failed to persist exit")
	}

	ls.writer.Close()
	m.broadcaster.NotifyExit(ls.info.ID, code)
}

// Get returns a session by id, preferring the live in-memory copy (which
// may be more current than whatever was last flushed to disk).
func (m *Manager) Get(id string) (*Info, error) {
	m.mu.RLock()
	ls, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		info := ls.snapshot()
		return &info, nil
	}

	info, err := m.store.ReadInfo(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound(fmt.Sprintf("session %s not found", id))
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to read session info", err)
	}
	reconcile(info)
	return info, nil
}

// List scans the control directory and reconciles each info.json with the
// liveness of its recorded pid, per spec §4.6.
func (m *Manager) List() ([]Info, error) {
	ids, err := m.store.ListIDs()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list sessions", err)
	}

	result := make([]Info, 0, len(ids))
	for _, id := range ids {
		m.mu.RLock()
		ls, ok := m.sessions[id]
		m.mu.RUnlock()

		if ok {
			result = append(result, ls.snapshot())
			continue
		}

		info, err := m.store.ReadInfo(id)
		if err != nil {
			continue
		}
		if reconcile(info) {
			_ = m.store.WriteInfo(info)
		}
		result = append(result, *info)
	}
	return result, nil
}

// reconcile marks a disk-only (not in-memory) "running" entry as exited
// when its recorded pid is no longer alive. Returns true if it changed
// anything.
func reconcile(info *Info) bool {
	if info.Status != StatusRunning && info.Status != StatusStarting {
		return false
	}
	if pidAlive(info.PID) {
		return false
	}
	info.Status = StatusExited
	unknown := -1
	info.ExitCode = &unknown
	return true
}

// Kill delegates to the PTY Manager. Returns Gone if the session has
// already exited.
func (m *Manager) Kill(id string) error {
	m.mu.RLock()
	ls, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		info, err := m.store.ReadInfo(id)
		if err != nil {
			return apperr.NotFound(fmt.Sprintf("session %s not found", id))
		}
		if info.Status == StatusExited {
			return apperr.Gone("session already exited")
		}
		// A session with no live tracker but a "running" info.json belongs
		// to a process generation we no longer hold a handle for; treat it
		// as exited, since we cannot deliver a signal to a process we
		// never spawned in this run.
		return apperr.Gone("session already exited")
	}

	ls.mu.Lock()
	status := ls.info.Status
	ls.mu.Unlock()
	if status == StatusExited {
		return apperr.Gone("session already exited")
	}

	ls.pty.Kill()
	return nil
}

// Cleanup deletes a session's directory. Refuses if the session is still
// running.
func (m *Manager) Cleanup(id string) error {
	info, err := m.Get(id)
	if err != nil {
		return err
	}
	if info.Status != StatusExited {
		return apperr.Conflict("session is still running")
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	m.broadcaster.Drop(id)

	if err := m.store.RemoveDir(id); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to remove session directory", err)
	}
	return nil
}

// CleanupExited applies Cleanup to every exited session and returns how
// many were removed.
func (m *Manager) CleanupExited() (int, error) {
	infos, err := m.List()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, info := range infos {
		if info.Status != StatusExited {
			continue
		}
		if err := m.Cleanup(info.ID); err != nil {
			logrus.WithError(err).WithField("session", info.ID).Warn("session: cleanup-exited failed for one session")
			continue
		}
		count++
	}
	return count, nil
}

// specialKeys maps the tokens in spec §6's table to the literal bytes sent
// to the PTY. Tokens are recognized only when they match exactly; anything
// else is sent as literal text.
var specialKeys = map[string]string{
	"arrow_up":    "\x1b[A",
	"arrow_down":  "\x1b[B",
	"arrow_right": "\x1b[C",
	"arrow_left":  "\x1b[D",
	"escape":      "\x1b",
	"enter":       "\r",
	"ctrl_enter":  "\r",
	"shift_enter": "\x1b\r",
}

// SendInput resolves payload against the special-key table and forwards
// the resulting bytes to the PTY, optionally recording them per
// --record-input.
func (m *Manager) SendInput(id string, payload string) error {
	m.mu.RLock()
	ls, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return apperr.NotFound(fmt.Sprintf("session %s not found", id))
	}

	ls.mu.Lock()
	status := ls.info.Status
	ls.mu.Unlock()
	if status == StatusExited {
		return apperr.Gone("session already exited")
	}

	bytes := payload
	if mapped, ok := specialKeys[payload]; ok {
		bytes = mapped
	}

	if err := ls.pty.WriteInput([]byte(bytes)); err != nil {
		return err
	}

	if m.cfg.RecordInput {
		if err := ls.writer.AppendInput(payload); err != nil {
			logrus.WithError(err).WithField("session", id).Warn("session: failed to append input event")
		}
		m.mirrorStreamIn(id, bytes)
	}
	return nil
}

func (m *Manager) mirrorStreamIn(id, bytes string) {
	f, err := os.OpenFile(m.store.StreamInPath(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(bytes)
}

// Resize delegates to the PTY Manager and records a resize event.
func (m *Manager) Resize(id string, cols, rows int) error {
	m.mu.RLock()
	ls, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return apperr.NotFound(fmt.Sprintf("session %s not found", id))
	}

	ls.mu.Lock()
	status := ls.info.Status
	ls.mu.Unlock()
	if status == StatusExited {
		return apperr.Gone("session already exited")
	}

	if err := ls.pty.Resize(cols, rows); err != nil {
		return err
	}
	if err := ls.writer.AppendResize(cols, rows); err != nil {
		logrus.WithError(err).WithField("session", id).Warn("session: failed to append resize event")
	}
	m.broadcaster.Publish(id, stream.Event{Type: stream.TypeResize, Data: fmt.Sprintf("%dx%d", cols, rows)})

	ls.mu.Lock()
	ls.info.Cols = cols
	ls.info.Rows = rows
	infoCopy := ls.info
	ls.mu.Unlock()
	return m.store.WriteInfo(&infoCopy)
}

// Shutdown kills every still-live session's PTY child and waits (up to
// timeout) for runExitWatcher to reap it and persist StatusExited, so a
// process restart never finds a stale "running" info.json for a PTY that
// no longer exists.
func (m *Manager) Shutdown(timeout time.Duration) {
	m.mu.RLock()
	sessions := make([]*liveSession, 0, len(m.sessions))
	for _, ls := range m.sessions {
		sessions = append(sessions, ls)
	}
	m.mu.RUnlock()

	for _, ls := range sessions {
		ls.mu.Lock()
		exited := ls.info.Status == StatusExited
		ls.mu.Unlock()
		if !exited {
			ls.pty.Kill()
		}
	}

	deadline := time.Now().Add(timeout)
	for _, ls := range sessions {
		for {
			ls.mu.Lock()
			exited := ls.info.Status == StatusExited
			ls.mu.Unlock()
			if exited || time.Now().After(deadline) {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
}

// StreamPath returns the stream-out path for id, used by the stream and
// buffer HTTP handlers to read/tail the recording directly.
func (m *Manager) StreamPath(id string) (string, error) {
	if _, err := m.Get(id); err != nil {
		return "", err
	}
	return m.store.StreamOutPath(id), nil
}
