package api

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaydeck/vtmux/src/config"
	"github.com/relaydeck/vtmux/src/stream"
)

func TestFrameEventLayout(t *testing.T) {
	b := frameEvent("abc123", stream.Event{T: 1.5, Type: stream.TypeOutput, Data: "hi"})

	if b[0] != 0xBF {
		t.Fatalf("expected magic byte 0xBF, got %x", b[0])
	}
	idLen := binary.LittleEndian.Uint32(b[1:5])
	if int(idLen) != len("abc123") {
		t.Fatalf("expected id length %d, got %d", len("abc123"), idLen)
	}
	id := string(b[5 : 5+idLen])
	if id != "abc123" {
		t.Fatalf("expected session id %q, got %q", "abc123", id)
	}

	payload := b[5+idLen:]
	var arr [3]interface{}
	if err := json.Unmarshal(payload, &arr); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if arr[2] != "hi" {
		t.Fatalf("unexpected payload data: %+v", arr)
	}
}

func TestBuffersWSSubscribeAndReceive(t *testing.T) {
	srv, router := newTestServer(t, nil)

	ts := httptest.NewServer(router)
	defer ts.Close()

	id := createSession(t, router, []string{"sleep", "5"})
	waitForSessionStatus(t, router, id, "running")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/buffers"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub, _ := json.Marshal(map[string]string{"type": "subscribe", "sessionId": id})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// Give the subscribe handshake a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)
	srv.broadcaster.Publish(id, stream.Event{Type: stream.TypeOutput, Data: "streamed"})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("expected a binary frame, got type %d", msgType)
	}
	if data[0] != 0xBF {
		t.Fatalf("expected frame magic 0xBF, got %x", data[0])
	}

	killSession(t, router, id)
}

func TestBuffersWSRejectsMissingCredentials(t *testing.T) {
	cfg := &config.Config{DefaultCols: 80, DefaultRows: 24, ControlDir: t.TempDir(), Username: "admin", Password: "hunter2"}
	_, router := newTestServer(t, cfg)

	ts := httptest.NewServer(router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/buffers"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial without credentials to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header on 401")
	}
}

func TestBuffersWSAcceptsValidCredentials(t *testing.T) {
	cfg := &config.Config{DefaultCols: 80, DefaultRows: 24, ControlDir: t.TempDir(), Username: "admin", Password: "hunter2"}
	_, router := newTestServer(t, cfg)

	ts := httptest.NewServer(router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/buffers"
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:hunter2")))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial with valid credentials: %v", err)
	}
	conn.Close()
}
