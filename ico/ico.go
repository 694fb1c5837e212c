// Package ico describes Windows ICO file format.
package ico

// http://msdn.microsoft.com/en-us/library/ms997538.aspx

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrCorrupt is returned when an icon container or icon group blob is
// truncated, inconsistent with its own header, or not an icon at all.
var ErrCorrupt = errors.New("corrupt icon container")

const (
	TypeIcon = 1 // ICONDIR.Type for .ico files

	SizeOfICONDIR      = 6
	SizeOfICONDIRENTRY = 16
)

type ICONDIR struct {
	Reserved uint16 // must be 0
	Type     uint16 // Resource Type (1 for icons)
	Count    uint16 // How many images?
}

type ICONDIRENTRY struct {
	Width       byte   // Width, in pixels, of the image (0 means 256)
	Height      byte   // Height, in pixels, of the image (0 means 256)
	ColorCount  byte   // Number of colors in image (0 if >=8bpp)
	Reserved    byte   // Reserved (must be 0)
	Planes      uint16 // Color Planes
	BitCount    uint16 // Bits per pixel
	BytesInRes  uint32 // How many bytes in this resource?
	ImageOffset uint32 // Where in the file is this image? [from beginning of file]
}

// Container is a parsed .ico file. Entries are copies in file order. The
// container keeps the bytes given to Parse, and Image returns slices of
// them, so they must not be modified while the container is in use.
type Container struct {
	ICONDIR
	Entries []ICONDIRENTRY

	data []byte
}

// Parse decodes the directory of an .ico file held entirely in memory.
func Parse(data []byte) (*Container, error) {
	if len(data) < SizeOfICONDIR {
		return nil, errors.Wrapf(ErrCorrupt, "header needs %d bytes, got %d", SizeOfICONDIR, len(data))
	}

	c := &Container{data: data}
	c.Reserved = binary.LittleEndian.Uint16(data[0:])
	c.Type = binary.LittleEndian.Uint16(data[2:])
	c.Count = binary.LittleEndian.Uint16(data[4:])
	if c.Reserved != 0 || c.Type != TypeIcon {
		return nil, errors.Wrapf(ErrCorrupt, "bad magic number (reserved=%d, type=%d)", c.Reserved, c.Type)
	}

	required := SizeOfICONDIR + SizeOfICONDIRENTRY*int(c.Count)
	if required > len(data) {
		return nil, errors.Wrapf(ErrCorrupt, "expected %d bytes, got %d", required, len(data))
	}

	c.Entries = make([]ICONDIRENTRY, c.Count)
	for i := range c.Entries {
		c.Entries[i] = decodeEntry(data[SizeOfICONDIR+SizeOfICONDIRENTRY*i:])
	}
	return c, nil
}

func decodeEntry(b []byte) ICONDIRENTRY {
	return ICONDIRENTRY{
		Width:       b[0],
		Height:      b[1],
		ColorCount:  b[2],
		Reserved:    b[3],
		Planes:      binary.LittleEndian.Uint16(b[4:]),
		BitCount:    binary.LittleEndian.Uint16(b[6:]),
		BytesInRes:  binary.LittleEndian.Uint32(b[8:]),
		ImageOffset: binary.LittleEndian.Uint32(b[12:]),
	}
}

// Image returns the raw payload of the i-th entry. The returned slice aliases
// the container's bytes and must not be modified.
func (c *Container) Image(i int) ([]byte, error) {
	if i < 0 || i >= len(c.Entries) {
		return nil, errors.Errorf("ico: image index %d out of range [0,%d)", i, len(c.Entries))
	}
	e := c.Entries[i]
	end := uint64(e.ImageOffset) + uint64(e.BytesInRes)
	if end > uint64(len(c.data)) {
		return nil, errors.Wrapf(ErrCorrupt, "image %d spans [%d,%d) past end of %d-byte file",
			i, e.ImageOffset, end, len(c.data))
	}
	return c.data[e.ImageOffset:end:end], nil
}

// Len reports the size of the whole container in bytes.
func (c *Container) Len() int { return len(c.data) }
