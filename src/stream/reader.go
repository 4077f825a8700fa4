package stream

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// headerRetryWindow bounds how long ReadHeader waits for the first
// newline-terminated header object to appear, per spec §4.3.
const headerRetryWindow = 500 * time.Millisecond

// ErrNotReady is returned by ReadHeader when the header line hasn't been
// fully written yet.
var ErrNotReady = fmt.Errorf("stream: header not ready")

// ReadHeader reads and parses the first line of path, retrying briefly if
// the file is still being created by a concurrent Writer. It returns the
// header and the byte offset immediately following the header's newline.
func ReadHeader(path string) (Header, int64, error) {
	deadline := time.Now().Add(headerRetryWindow)
	for {
		h, off, err := tryReadHeader(path)
		if err == nil {
			return h, off, nil
		}
		if err != ErrNotReady || time.Now().After(deadline) {
			return Header{}, 0, err
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func tryReadHeader(path string) (Header, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return Header{}, 0, ErrNotReady
		}
		return Header{}, 0, err
	}

	var h Header
	if err := json.Unmarshal([]byte(line), &h); err != nil {
		return Header{}, 0, fmt.Errorf("stream: invalid header: %w", err)
	}
	return h, int64(len(line)), nil
}

// ReadEventsFrom reads complete newline-terminated event lines starting at
// offset and returns them along with the offset immediately after the last
// complete line consumed. A partial trailing line (no terminating newline
// yet) is left unconsumed, per spec §4.3's "reader MUST handle the case
// where the last line of the file is partially written".
func ReadEventsFrom(path string, offset int64) ([]Event, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}

	r := bufio.NewReader(f)
	var events []Event
	pos := offset
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break // partial or empty trailing line; wait for more
			}
			return events, pos, err
		}
		pos += int64(len(line))

		ev, perr := parseEventLine(line)
		if perr != nil {
			return events, pos, perr
		}
		events = append(events, ev)
	}
	return events, pos, nil
}

func parseEventLine(line string) (Event, error) {
	var raw [3]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Event{}, fmt.Errorf("stream: invalid event line: %w", err)
	}
	t, ok := raw[0].(float64)
	if !ok {
		return Event{}, fmt.Errorf("stream: event timestamp is not a number")
	}
	typ, ok := raw[1].(string)
	if !ok {
		return Event{}, fmt.Errorf("stream: event type is not a string")
	}
	data, ok := raw[2].(string)
	if !ok {
		return Event{}, fmt.Errorf("stream: event data is not a string")
	}
	return Event{T: t, Type: typ, Data: data}, nil
}

// clearScreenSequences are the control sequences spec §4.3 treats as a full
// screen clear for the snapshot optimization.
var clearScreenSequences = []string{
	"\x1b[H\x1b[2J",
	"\x1b[2J",
	"\x1b[3J",
	"\x1bc",
}

// SnapshotEvents returns the full recording for path with the clear-screen
// optimization applied: events prior to the last output event containing a
// screen-clear sequence are elided, and the remaining events' timestamps
// are rebased so the first has t=0. tail, when > 0, additionally limits the
// result to the last N events after that elision (SPEC_FULL.md extension).
func SnapshotEvents(path string, tail int) (Header, []Event, error) {
	header, headerEnd, err := ReadHeader(path)
	if err != nil {
		return Header{}, nil, err
	}

	events, _, err := ReadEventsFrom(path, headerEnd)
	if err != nil && len(events) == 0 {
		return Header{}, nil, err
	}

	lastClear := -1
	for i, ev := range events {
		if ev.Type != TypeOutput {
			continue
		}
		for _, seq := range clearScreenSequences {
			if strings.Contains(ev.Data, seq) {
				lastClear = i
				break
			}
		}
	}

	if lastClear > 0 {
		events = events[lastClear:]
	}

	if len(events) > 0 {
		base := events[0].T
		rebased := make([]Event, len(events))
		for i, ev := range events {
			rebased[i] = Event{T: ev.T - base, Type: ev.Type, Data: ev.Data}
		}
		events = rebased
	}

	if tail > 0 && len(events) > tail {
		events = events[len(events)-tail:]
	}

	return header, events, nil
}
