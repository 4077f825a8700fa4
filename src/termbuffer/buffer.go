// Package termbuffer implements the optional Terminal Emulator: an ANSI
// parser that replays a session's output stream into an in-memory grid,
// and a binary snapshot codec for the low-bandwidth buffer-sync protocol.
// Grounded on the debounced-snapshot subscriber pattern in the vibetunnel
// termsocket manager reference, reimplemented as a pull-based emulator
// since no ANSI terminal library in the example pack is actually wired up
// anywhere (see the design ledger for why this is hand-rolled).
package termbuffer

// Style packs the display attributes of one cell, matching the bit layout
// of spec §6's binary snapshot: 0-7 fg, 8-15 bg, 16 bold, 17 italic,
// 18 underline, 19 blink, 20 inverse, 21 hidden, 22 strikethrough.
type Style uint32

const (
	flagBold Style = 1 << 16
	flagItalic Style = 1 << 17
	flagUnderline Style = 1 << 18
	flagBlink Style = 1 << 19
	flagInverse Style = 1 << 20
	flagHidden Style = 1 << 21
	flagStrikethrough Style = 1 << 22
)

func (s Style) FG() uint8 { return uint8(s) }
func (s Style) BG() uint8 { return uint8(s >> 8) }

func packStyle(fg, bg uint8, bold, italic, underline, blink, inverse, hidden, strike bool) Style {
	s := Style(fg) | Style(bg)<<8
	if bold {
		s |= flagBold
	}
	if italic {
		s |= flagItalic
	}
	if underline {
		s |= flagUnderline
	}
	if blink {
		s |= flagBlink
	}
	if inverse {
		s |= flagInverse
	}
	if hidden {
		s |= flagHidden
	}
	if strike {
		s |= flagStrikethrough
	}
	return s
}

// Cell is one grid position: a glyph (possibly empty, for an unwritten
// cell) and its packed style.
type Cell struct {
	Char  string
	Style Style
}

// ModeFlags bitset, matching spec §6's flags byte.
type ModeFlags uint8

const (
	ModeAppKeypad ModeFlags = 1 << iota
	ModeAppCursor
	ModeBracketedPaste
	ModeOrigin
	ModeReverseWrap
	ModeWrap
	ModeInsert
)

// Buffer is the live grid state plus the attributes carried in a
// snapshot: cursor, title and mode flags. Scrollback holds rows pushed
// off the top of the visible grid by a linefeed at the bottom row.
type Buffer struct {
	Cols, Rows int
	Grid       [][]Cell
	Scrollback [][]Cell

	CursorX, CursorY int
	CursorVisible    bool

	Title string
	Modes ModeFlags

	curFG, curBG               uint8
	bold, italic, underline    bool
	blink, inverse, hidden     bool
	strikethrough              bool
}

func NewBuffer(cols, rows int) *Buffer {
	b := &Buffer{
		Cols: cols, Rows: rows,
		CursorVisible: true,
		Modes:         ModeWrap,
	}
	b.Grid = make([][]Cell, rows)
	for i := range b.Grid {
		b.Grid[i] = make([]Cell, cols)
	}
	return b
}

func (b *Buffer) currentStyle() Style {
	return packStyle(b.curFG, b.curBG, b.bold, b.italic, b.underline, b.blink, b.inverse, b.hidden, b.strikethrough)
}

// Resize grows or shrinks the grid in place, padding new cells blank and
// truncating rows/cols that no longer fit. Cursor is clamped to the new
// bounds.
func (b *Buffer) Resize(cols, rows int) {
	newGrid := make([][]Cell, rows)
	for r := 0; r < rows; r++ {
		newGrid[r] = make([]Cell, cols)
		if r < len(b.Grid) {
			copy(newGrid[r], b.Grid[r])
		}
	}
	b.Grid = newGrid
	b.Cols, b.Rows = cols, rows
	if b.CursorX >= cols {
		b.CursorX = cols - 1
	}
	if b.CursorY >= rows {
		b.CursorY = rows - 1
	}
}

// scrollUp pushes row 0 into scrollback and shifts every row up by one,
// clearing the new bottom row.
func (b *Buffer) scrollUp() {
	b.Scrollback = append(b.Scrollback, b.Grid[0])
	copy(b.Grid, b.Grid[1:])
	blank := make([]Cell, b.Cols)
	b.Grid[b.Rows-1] = blank
}
