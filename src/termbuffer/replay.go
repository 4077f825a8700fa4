package termbuffer

import (
	"strconv"

	"github.com/relaydeck/vtmux/src/stream"
)

// Replay builds a Buffer by applying every output/resize event in events
// in order, starting from a header-sized grid. Buffer snapshots are
// computed lazily on request rather than kept in sync on every append
// (spec §9 open question, resolved this way since the emulator is an
// optional path with no correctness bearing on the recording/streaming
// pipeline it sits beside).
func Replay(header stream.Header, events []stream.Event) *Buffer {
	cols, rows := header.Width, header.Height
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	buf := NewBuffer(cols, rows)
	parser := NewParser(buf)

	for _, ev := range events {
		switch ev.Type {
		case stream.TypeOutput:
			parser.Feed(ev.Data)
		case stream.TypeResize:
			c, r, ok := parseDims(ev.Data)
			if ok {
				buf.Resize(c, r)
			}
		}
	}
	return buf
}

func parseDims(s string) (int, int, bool) {
	i := 0
	for i < len(s) && s[i] != 'x' {
		i++
	}
	if i == 0 || i == len(s) {
		return 0, 0, false
	}
	cols, err1 := strconv.Atoi(s[:i])
	rows, err2 := strconv.Atoi(s[i+1:])
	return cols, rows, err1 == nil && err2 == nil
}
