package termbuffer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var snapMagic = [4]byte{'S', 'N', 'A', 'P'}

const snapVersion uint32 = 1

// EncodeSnapshot serializes b into the binary layout of spec §6:
//
//	"SNAP" (4) | version u32
//	cols u32 | rows u32 | cursorX u32 | cursorY u32 | cursorVisible u8
//	scrollbackLen u32 | [line]*
//	bufferLen u32     | [line]*
//	titleLen u32 | title (UTF-8)
//	flags u8
//
// where line = lineByteLen u32 | cellCount u32 | cell*, and
// cell = charByteLen u32 | char UTF-8 | style u32.
func EncodeSnapshot(b *Buffer) []byte {
	var out bytes.Buffer
	out.Write(snapMagic[:])
	writeU32(&out, snapVersion)

	writeU32(&out, uint32(b.Cols))
	writeU32(&out, uint32(b.Rows))
	writeU32(&out, uint32(b.CursorX))
	writeU32(&out, uint32(b.CursorY))
	writeU8(&out, boolByte(b.CursorVisible))

	writeU32(&out, uint32(len(b.Scrollback)))
	for _, row := range b.Scrollback {
		writeLine(&out, row)
	}

	writeU32(&out, uint32(len(b.Grid)))
	for _, row := range b.Grid {
		writeLine(&out, row)
	}

	writeU32(&out, uint32(len(b.Title)))
	out.WriteString(b.Title)

	writeU8(&out, uint8(b.Modes))

	return out.Bytes()
}

func writeLine(out *bytes.Buffer, row []Cell) {
	var line bytes.Buffer
	writeU32(&line, uint32(len(row)))
	for _, cell := range row {
		writeU32(&line, uint32(len(cell.Char)))
		line.WriteString(cell.Char)
		writeU32(&line, uint32(cell.Style))
	}
	writeU32(out, uint32(line.Len()))
	out.Write(line.Bytes())
}

func writeU32(out *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	out.Write(b[:])
}

func writeU8(out *bytes.Buffer, v uint8) {
	out.WriteByte(v)
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// DecodeSnapshot parses the binary layout EncodeSnapshot produces.
func DecodeSnapshot(data []byte) (*Buffer, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil || magic != snapMagic {
		return nil, fmt.Errorf("termbuffer: bad snapshot magic")
	}

	version, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if version != snapVersion {
		return nil, fmt.Errorf("termbuffer: unsupported snapshot version %d", version)
	}

	cols, err := readU32(r)
	if err != nil {
		return nil, err
	}
	rows, err := readU32(r)
	if err != nil {
		return nil, err
	}
	cursorX, err := readU32(r)
	if err != nil {
		return nil, err
	}
	cursorY, err := readU32(r)
	if err != nil {
		return nil, err
	}
	cursorVisible, err := readU8(r)
	if err != nil {
		return nil, err
	}

	scrollbackLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	scrollback := make([][]Cell, scrollbackLen)
	for i := range scrollback {
		scrollback[i], err = readLine(r)
		if err != nil {
			return nil, err
		}
	}

	bufferLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	grid := make([][]Cell, bufferLen)
	for i := range grid {
		grid[i], err = readLine(r)
		if err != nil {
			return nil, err
		}
	}

	titleLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	titleBytes := make([]byte, titleLen)
	if _, err := r.Read(titleBytes); err != nil {
		return nil, err
	}

	flags, err := readU8(r)
	if err != nil {
		return nil, err
	}

	return &Buffer{
		Cols: int(cols), Rows: int(rows),
		Grid:          grid,
		Scrollback:    scrollback,
		CursorX:       int(cursorX),
		CursorY:       int(cursorY),
		CursorVisible: cursorVisible == 1,
		Title:         string(titleBytes),
		Modes:         ModeFlags(flags),
	}, nil
}

func readLine(r *bytes.Reader) ([]Cell, error) {
	lineLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	lineBytes := make([]byte, lineLen)
	if _, err := r.Read(lineBytes); err != nil {
		return nil, err
	}
	lr := bytes.NewReader(lineBytes)

	cellCount, err := readU32(lr)
	if err != nil {
		return nil, err
	}
	cells := make([]Cell, cellCount)
	for i := range cells {
		charLen, err := readU32(lr)
		if err != nil {
			return nil, err
		}
		charBytes := make([]byte, charLen)
		if _, err := lr.Read(charBytes); err != nil {
			return nil, err
		}
		style, err := readU32(lr)
		if err != nil {
			return nil, err
		}
		cells[i] = Cell{Char: string(charBytes), Style: Style(style)}
	}
	return cells, nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU8(r *bytes.Reader) (uint8, error) {
	return r.ReadByte()
}
