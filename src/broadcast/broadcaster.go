// Package broadcast implements the Live Broadcaster: fanning a single
// session's output events out to any number of SSE and WebSocket
// subscribers, grounded on the teacher's SSE handler
// (src/handler/process.go) and its subscriber-channel pattern in
// src/handler/terminal/session_manager.go, generalized from a ring-buffer
// subscriber list to a per-session subscriber set.
package broadcast

import (
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/relaydeck/vtmux/src/stream"
)

// queueDepth bounds each subscriber's outbound event queue. A subscriber
// that cannot keep up is disconnected rather than allowed to apply
// backpressure to the session (spec §5, "slow consumers are disconnected,
// never allowed to block session output").
const queueDepth = 256

// subscriber is a single live listener (SSE or WS) for one session's
// output stream.
type subscriber struct {
	id   uint64
	ch   chan stream.Event
	done chan struct{}
}

// sessionHub holds every live subscriber for a single session.
type sessionHub struct {
	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextID  uint64
}

// Broadcaster fans out stream.Events per session and delivers an exit
// notification to the subscribers attached when a session exits. No exit
// state is kept afterwards: a subscriber attached after the exit gets a
// fresh, empty hub and receives no exit event.
type Broadcaster struct {
	mu   sync.Mutex
	hubs map[string]*sessionHub
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{hubs: make(map[string]*sessionHub)}
}

func (b *Broadcaster) hub(sessionID string) *sessionHub {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hubs[sessionID]
	if !ok {
		h = &sessionHub{subs: make(map[uint64]*subscriber)}
		b.hubs[sessionID] = h
	}
	return h
}

// Subscribe registers a new listener for sessionID and returns a channel
// of events plus an unsubscribe function the caller must invoke when done
// reading (normally via defer).
func (b *Broadcaster) Subscribe(sessionID string) (<-chan stream.Event, func()) {
	h := b.hub(sessionID)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	sub := &subscriber{id: id, ch: make(chan stream.Event, queueDepth), done: make(chan struct{})}
	h.subs[id] = sub
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Publish fans ev out to every current subscriber of sessionID. A
// subscriber whose queue is full is dropped, matching the teacher's
// stance that a wedged reader never blocks the writer loop.
func (b *Broadcaster) Publish(sessionID string, ev stream.Event) {
	h := b.hub(sessionID)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			logrus.WithField("session", sessionID).Warn("broadcast: subscriber queue full, disconnecting")
			delete(h.subs, id)
			close(sub.ch)
		}
	}
}

// TypeExit is a synthetic event type used only on the subscriber channel,
// never persisted to the stream file, signaling that the session has
// exited and no more output will follow.
const TypeExit = "__exit__"

// NotifyExit publishes a synthetic exit event and then tears the hub down,
// so every subscriber observes the exit exactly once and further
// Subscribe calls for this session start from a clean hub.
func (b *Broadcaster) NotifyExit(sessionID string, code int) {
	h := b.hub(sessionID)

	h.mu.Lock()
	defer h.mu.Unlock()
	ev := stream.Event{Type: TypeExit, Data: exitCodeString(code)}
	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
		}
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Drop discards a session's hub entirely, used when the session's
// directory is cleaned up.
func (b *Broadcaster) Drop(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.hubs, sessionID)
}

// Stats reports the current subscriber count per session, exposed by the
// debug endpoint SPEC_FULL.md adds alongside the core broadcaster.
func (b *Broadcaster) Stats() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int, len(b.hubs))
	for sessionID, h := range b.hubs {
		h.mu.Lock()
		out[sessionID] = len(h.subs)
		h.mu.Unlock()
	}
	return out
}

// SubscriberCount reports the live subscriber count for a single session,
// used by the per-session debug endpoint rather than the all-sessions Stats.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	h := b.hub(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func exitCodeString(code int) string {
	return strconv.Itoa(code)
}
