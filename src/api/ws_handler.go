package api

import (
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/relaydeck/vtmux/src/broadcast"
	"github.com/relaydeck/vtmux/src/stream"
)

const (
	wsReadDeadline  = 60 * time.Second
	wsPingPeriod    = 54 * time.Second
	wsWriteDeadline = 10 * time.Second
	wsMaxTextFrame  = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsControlMessage is the text-frame control protocol of spec §6.
type wsControlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// handleBuffersWS serves the /buffers endpoint: a single socket that can
// subscribe to many sessions' live events at once, relaying each as a
// framed binary message. Grounded on the teacher's terminal WS handler
// (ping/pong loop, one reader goroutine + one writer goroutine, done
// channel closed via sync.Once), generalized from one fixed session to a
// client-managed subscription set.
func (s *Server) handleBuffersWS(c *gin.Context) {
	if !s.authenticateWS(c) {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("ws: upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxTextFrame)
	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	var writeMu sync.Mutex
	writeBinary := func(b []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		return conn.WriteMessage(websocket.BinaryMessage, b)
	}
	writeJSON := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		return conn.WriteJSON(v)
	}

	subs := make(map[string]func())
	var subsMu sync.Mutex
	defer func() {
		subsMu.Lock()
		for _, unsubscribe := range subs {
			unsubscribe()
		}
		subsMu.Unlock()
	}()

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }

	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()
	go func() {
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					closeDone()
					return
				}
			}
		}
	}()

	subscribe := func(sessionID string) {
		subsMu.Lock()
		defer subsMu.Unlock()
		if _, ok := subs[sessionID]; ok {
			return
		}
		ch, unsubscribe := s.broadcaster.Subscribe(sessionID)
		subs[sessionID] = unsubscribe

		go func() {
			for {
				select {
				case <-done:
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					if err := writeBinary(frameEvent(sessionID, ev)); err != nil {
						closeDone()
						return
					}
				}
			}
		}()
	}

	unsubscribe := func(sessionID string) {
		subsMu.Lock()
		defer subsMu.Unlock()
		if fn, ok := subs[sessionID]; ok {
			fn()
			delete(subs, sessionID)
		}
	}

	for {
		select {
		case <-done:
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeDone()
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

		var msg wsControlMessage
		if err := ssejson.Unmarshal(raw, &msg); err != nil {
			_ = writeJSON(wsControlMessage{Type: "error", Message: "invalid control frame"})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = writeJSON(wsControlMessage{Type: "pong"})
		case "pong":
			// Client-initiated pong; nothing to do beyond the read deadline refresh above.
		case "subscribe":
			if _, err := s.manager.Get(msg.SessionID); err != nil {
				_ = writeJSON(wsControlMessage{Type: "error", Message: "unknown session"})
				continue
			}
			subscribe(msg.SessionID)
		case "unsubscribe":
			unsubscribe(msg.SessionID)
		default:
			_ = writeJSON(wsControlMessage{Type: "error", Message: "unknown message type"})
		}
	}
}

// frameEvent wraps ev for sessionID in the binary layout of spec §6:
// 0xBF magic, 4-byte little-endian session-id length, the session id,
// then the UTF-8 JSON event payload.
func frameEvent(sessionID string, ev stream.Event) []byte {
	var payload []byte
	if ev.Type == broadcast.TypeExit {
		payload, _ = ssejson.Marshal(wsControlMessage{Type: "error", Message: "session exited: " + ev.Data})
	} else {
		payload, _ = jsonMarshalArray(ev.T, ev.Type, ev.Data)
	}

	idBytes := []byte(sessionID)
	out := make([]byte, 1+4+len(idBytes)+len(payload))
	out[0] = 0xBF
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(idBytes)))
	copy(out[5:], idBytes)
	copy(out[5+len(idBytes):], payload)
	return out
}
