// Package hq implements the HQ Federation Layer: a registry of remote
// servers, a periodic health-probe loop, and a reverse-proxy that routes
// session-scoped requests to the remote that owns them. Modeled on the
// teacher's attach/detach/list REST convention for mounted drives
// (src/handler/drive.go), generalized from local mount bookkeeping to
// networked remote bookkeeping.
package hq

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaydeck/vtmux/src/apperr"
)

// Remote is the Remote Record of spec §3: identifier (UUID-shaped), a
// fleet-unique name, base URL, bearer token, last successful probe time,
// and the set of session ids currently believed to live on it.
type Remote struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Token      string    `json:"-"`
	LastProbe  time.Time `json:"lastProbeAt,omitempty"`
	Healthy    bool      `json:"healthy"`
	SessionIDs []string  `json:"sessionIds,omitempty"`

	strikes int
}

// Registry owns the remote set. The health loop takes a snapshot before
// probing so it never holds the lock during network I/O (spec §5).
type Registry struct {
	mu      sync.RWMutex
	remotes map[string]*Remote // by id
	names   map[string]string  // name -> id
}

func NewRegistry() *Registry {
	return &Registry{
		remotes: make(map[string]*Remote),
		names:   make(map[string]string),
	}
}

// Register adds a new remote. id may be empty, in which case a UUID is
// generated; an explicit id colliding with an existing record, or a name
// collision, is rejected with apperr.Conflict.
func (r *Registry) Register(id, name, url, token string) (*Remote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := r.remotes[id]; exists {
		return nil, apperr.Conflict("remote id already registered")
	}
	if _, exists := r.names[name]; exists {
		return nil, apperr.Conflict("remote name already registered")
	}

	rem := &Remote{ID: id, Name: name, URL: url, Token: token, Healthy: true}
	r.remotes[id] = rem
	r.names[name] = id
	return rem, nil
}

// Unregister removes a remote and forgets its session ids.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rem, ok := r.remotes[id]
	if !ok {
		return apperr.NotFound("remote not found")
	}
	delete(r.remotes, id)
	delete(r.names, rem.Name)
	return nil
}

// List returns every remote sorted by name.
func (r *Registry) List() []Remote {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Remote, 0, len(r.remotes))
	for _, rem := range r.remotes {
		out = append(out, *rem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a remote by id.
func (r *Registry) Get(id string) (*Remote, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rem, ok := r.remotes[id]
	if !ok {
		return nil, false
	}
	cp := *rem
	return &cp, true
}

// snapshot returns a defensive copy of every remote, used by the health
// loop so it can probe without holding the registry lock.
func (r *Registry) snapshot() []*Remote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Remote, 0, len(r.remotes))
	for _, rem := range r.remotes {
		cp := *rem
		out = append(out, &cp)
	}
	return out
}

// OwnerOf returns the remote id that currently claims sessionID, if any.
// Ownership is last-writer-wins: if two remotes ever report the same
// session id (spec §9 open question), the most recent successful probe
// to report it wins, since the registry is a routing cache, not a source
// of truth: markProbe drops a newly reported id from every other remote's
// set, so at most one remote claims it (§3, "Non-goals: no session
// migration").
func (r *Registry) OwnerOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, rem := range r.remotes {
		for _, sid := range rem.SessionIDs {
			if sid == sessionID {
				return id, true
			}
		}
	}
	return "", false
}

// markProbe records the outcome of a health probe against id. ok=true
// resets the strike counter and updates the session-id set; ok=false
// increments strikes and, on the third consecutive failure, removes the
// remote entirely (spec §4.7).
func (r *Registry) markProbe(id string, ok bool, sessionIDs []string) (removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rem, exists := r.remotes[id]
	if !exists {
		return false
	}

	if ok {
		rem.strikes = 0
		rem.Healthy = true
		rem.LastProbe = time.Now()
		rem.SessionIDs = sessionIDs
		// Last writer wins: ids this remote reports leave every other set.
		claimed := make(map[string]bool, len(sessionIDs))
		for _, sid := range sessionIDs {
			claimed[sid] = true
		}
		for otherID, other := range r.remotes {
			var kept []string
			for _, sid := range other.SessionIDs {
				if otherID == id || !claimed[sid] {
					kept = append(kept, sid)
				}
			}
			other.SessionIDs = kept
		}
		return false
	}

	rem.strikes++
	if rem.strikes >= 2 {
		rem.Healthy = false
	}
	if rem.strikes >= 3 {
		delete(r.remotes, id)
		delete(r.names, rem.Name)
		return true
	}
	return false
}
