// Package fsapi implements the Filesystem API: directory browsing and
// directory creation, both rooted at the server user's home directory and
// guarded against path escape, per spec §4.8. Grounded on the teacher's
// filesystem/directory.go (Directory/File shape) and lib/path.go
// (FormatPath home-expansion), generalized into an explicit root-escape
// check the teacher's own FormatPath does not perform.
package fsapi

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/relaydeck/vtmux/src/apperr"
)

// Entry is one file or subdirectory returned by Browse.
type Entry struct {
	Name         string    `json:"name"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	Size         int64     `json:"size"`
	IsDir        bool      `json:"isDir"`
}

// BrowseResult is the response shape of GET /api/fs/browse.
type BrowseResult struct {
	AbsolutePath string  `json:"absolutePath"`
	Files        []Entry `json:"files"`
}

// API roots every path against the server user's home directory.
type API struct {
	root string
}

func New() (*API, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &API{root: home}, nil
}

// resolve expands "~", cleans the path, and rejects anything that
// escapes the configured root (PathEscape).
func (a *API) resolve(path string) (string, error) {
	if path == "" {
		path = a.root
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		path = a.root + path[1:]
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.root, path)
	}

	abs := filepath.Clean(path)
	rel, err := filepath.Rel(a.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperr.BadRequest("path escapes the allowed root")
	}
	return abs, nil
}

// Browse lists the contents of path, which MUST resolve within the root.
func (a *API) Browse(path string) (*BrowseResult, error) {
	abs, err := a.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound("path does not exist")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to stat path", err)
	}
	if !info.IsDir() {
		return nil, apperr.BadRequest("path is not a directory")
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to read directory", err)
	}

	files := make([]Entry, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, Entry{
			Name:         e.Name(),
			Created:      fi.ModTime(),
			LastModified: fi.ModTime(),
			Size:         fi.Size(),
			IsDir:        e.IsDir(),
		})
	}

	return &BrowseResult{AbsolutePath: abs, Files: files}, nil
}

// WatchEvent is one filesystem change observed by WatchDirectory.
type WatchEvent struct {
	Name string `json:"name"`
	Op   string `json:"op"`
}

// WatchDirectory resolves path within the root and streams create/remove/
// rename/write notifications to onEvent until ctx is canceled, matching the
// teacher's HandleWatchDirectory route for its own filesystem watcher.
func (a *API) WatchDirectory(ctx context.Context, path string, onEvent func(WatchEvent)) error {
	abs, err := a.resolve(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to start filesystem watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(abs); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to watch directory", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			onEvent(WatchEvent{Name: filepath.Base(ev.Name), Op: ev.Op.String()})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.WithError(err).WithField("path", abs).Warn("fsapi: watch error")
		}
	}
}

// Mkdir creates a new directory named name inside parent. name MUST NOT
// contain a path separator or "..".
func (a *API) Mkdir(parent, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", apperr.New(apperr.KindBadRequest, "invalid directory name")
	}

	absParent, err := a.resolve(parent)
	if err != nil {
		return "", err
	}

	target := filepath.Join(absParent, name)
	if err := os.Mkdir(target, 0755); err != nil {
		if os.IsExist(err) {
			return "", apperr.Conflict("directory already exists")
		}
		return "", apperr.Wrap(apperr.KindInternal, "failed to create directory", err)
	}
	return target, nil
}
