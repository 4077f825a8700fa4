package stream

import (
	"fmt"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Writer appends asciicast v2 lines to a single stream file. There is
// exactly one Writer per session, constructed once the PTY is up, but its
// methods are safe to call from more than one goroutine (the PTY reader
// loop appends output while a resize request may land on another
// goroutine) since both ultimately share one *os.File.
type Writer struct {
	mu        sync.Mutex
	file      *os.File
	startTime time.Time
	closed    bool
}

// NewWriter creates path, writes the header line and flushes it before
// returning, matching spec §4.2: "On creation, writes exactly one header
// line and flushes."
func NewWriter(path string, width, height int, env map[string]string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	header := Header{
		Version:   2,
		Width:     width,
		Height:    height,
		Timestamp: float64(start.Unix()),
		Env:       env,
	}
	line, err := json.Marshal(header)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}

	return &Writer{file: f, startTime: start}, nil
}

func (w *Writer) elapsed() float64 {
	return time.Since(w.startTime).Seconds()
}

func (w *Writer) appendLine(t float64, typ, data string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("stream: writer closed")
	}

	event := [3]interface{}{t, typ, data}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = w.file.Write(line)
	return err
}

// AppendOutput writes [elapsed, "o", data].
func (w *Writer) AppendOutput(data string) error {
	return w.appendLine(w.elapsed(), TypeOutput, data)
}

// AppendInput writes [elapsed, "i", data]. Only called when the server was
// started with --record-input (spec.md §9 open question, resolved in
// SPEC_FULL.md as an optional diagnostic).
func (w *Writer) AppendInput(data string) error {
	return w.appendLine(w.elapsed(), TypeInput, data)
}

// AppendResize writes [elapsed, "r", "COLSxROWS"].
func (w *Writer) AppendResize(cols, rows int) error {
	return w.appendLine(w.elapsed(), TypeResize, fmt.Sprintf("%dx%d", cols, rows))
}

// Close flushes and closes the underlying file. The writer never truncates
// or seeks, per spec §4.2.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
