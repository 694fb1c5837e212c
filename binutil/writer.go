package binutil

import (
	"encoding/binary"
	"io"
)

var pad [8]byte

// Writer writes little-endian values, tracking the offset and keeping the
// first error. Later calls are no-ops once Err is set.
type Writer struct {
	W      io.Writer
	Offset uint32
	Err    error
}

func (w *Writer) WriteLE(v interface{}) {
	if w.Err != nil {
		return
	}
	w.Err = binary.Write(w.W, binary.LittleEndian, v)
	if w.Err != nil {
		return
	}
	w.Offset += uint32(binary.Size(v))
}

func (w *Writer) Write(p []byte) {
	if w.Err != nil {
		return
	}
	var n int
	n, w.Err = w.W.Write(p)
	w.Offset += uint32(n)
}

// Pad writes zero bytes until Offset reaches off. It does nothing if Offset
// is already at or past off.
func (w *Writer) Pad(off uint32) {
	for w.Err == nil && w.Offset < off {
		n := off - w.Offset
		if n > uint32(len(pad)) {
			n = uint32(len(pad))
		}
		w.Write(pad[:n])
	}
}
