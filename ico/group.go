package ico

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/dentalwings/icoswap/binutil"
)

// on storing icons, see: http://blogs.msdn.com/b/oldnewthing/archive/2012/07/20/10331787.aspx

const SizeOfGRPICONDIRENTRY = 14

// GRPICONDIR is the RT_GROUP_ICON resource: the ICO directory with each
// image's file offset replaced by the id of its RT_ICON resource.
type GRPICONDIR struct {
	ICONDIR
	Entries []GRPICONDIRENTRY
}

type GRPICONDIRENTRY struct {
	Width      uint16 // pixels, 1..256; stored as a byte with 256 as 0
	Height     uint16 // pixels, 1..256; stored as a byte with 256 as 0
	ColorCount byte
	Reserved   byte
	Planes     uint16
	BitCount   uint16
	BytesInRes uint32
	ID         uint16 // RT_ICON resource id
}

// on-disk layout of GRPICONDIRENTRY
type grpIconDirEntry struct {
	Width      byte
	Height     byte
	ColorCount byte
	Reserved   byte
	Planes     uint16
	BitCount   uint16
	BytesInRes uint32
	ID         uint16
}

func dimension(b byte) uint16 {
	if b == 0 {
		return 256
	}
	return uint16(b)
}

// BuildGroup derives the icon group for entries. Ids are assigned 1..N in
// entry order; the caller must store the i-th image under id i+1.
func BuildGroup(dir ICONDIR, entries []ICONDIRENTRY) GRPICONDIR {
	if int(dir.Count) != len(entries) {
		panic(fmt.Sprintf("ico: directory declares %d images, got %d entries", dir.Count, len(entries)))
	}
	group := GRPICONDIR{ICONDIR: ICONDIR{
		Reserved: dir.Reserved,
		Type:     dir.Type,
		Count:    uint16(len(entries)),
	}}
	for i, e := range entries {
		group.Entries = append(group.Entries, GRPICONDIRENTRY{
			Width:      dimension(e.Width),
			Height:     dimension(e.Height),
			ColorCount: e.ColorCount,
			Reserved:   e.Reserved,
			Planes:     e.Planes,
			BitCount:   e.BitCount,
			BytesInRes: e.BytesInRes,
			ID:         uint16(i + 1),
		})
	}
	return group
}

func (group GRPICONDIR) Size() int64 {
	return int64(SizeOfICONDIR + len(group.Entries)*SizeOfGRPICONDIRENTRY)
}

// Bytes serializes the group without padding between records.
func (group GRPICONDIR) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(int(group.Size()))
	w := binutil.Writer{W: &buf}
	w.WriteLE(group.ICONDIR)
	for _, e := range group.Entries {
		w.WriteLE(grpIconDirEntry{
			Width:      byte(e.Width),
			Height:     byte(e.Height),
			ColorCount: e.ColorCount,
			Reserved:   e.Reserved,
			Planes:     e.Planes,
			BitCount:   e.BitCount,
			BytesInRes: e.BytesInRes,
			ID:         e.ID,
		})
	}
	if w.Err != nil {
		// bytes.Buffer only fails by panicking
		panic(w.Err)
	}
	return buf.Bytes()
}

// ParseGroup decodes an RT_GROUP_ICON resource.
func ParseGroup(data []byte) (GRPICONDIR, error) {
	var group GRPICONDIR
	if len(data) < SizeOfICONDIR {
		return group, errors.Wrapf(ErrCorrupt, "group header needs %d bytes, got %d", SizeOfICONDIR, len(data))
	}
	group.Reserved = binary.LittleEndian.Uint16(data[0:])
	group.Type = binary.LittleEndian.Uint16(data[2:])
	group.Count = binary.LittleEndian.Uint16(data[4:])
	if group.Reserved != 0 || group.Type != TypeIcon {
		return group, errors.Wrapf(ErrCorrupt, "bad group magic number (reserved=%d, type=%d)", group.Reserved, group.Type)
	}
	required := SizeOfICONDIR + SizeOfGRPICONDIRENTRY*int(group.Count)
	if required > len(data) {
		return group, errors.Wrapf(ErrCorrupt, "group expected %d bytes, got %d", required, len(data))
	}
	group.Entries = make([]GRPICONDIRENTRY, group.Count)
	for i := range group.Entries {
		b := data[SizeOfICONDIR+SizeOfGRPICONDIRENTRY*i:]
		group.Entries[i] = GRPICONDIRENTRY{
			Width:      dimension(b[0]),
			Height:     dimension(b[1]),
			ColorCount: b[2],
			Reserved:   b[3],
			Planes:     binary.LittleEndian.Uint16(b[4:]),
			BitCount:   binary.LittleEndian.Uint16(b[6:]),
			BytesInRes: binary.LittleEndian.Uint32(b[8:]),
			ID:         binary.LittleEndian.Uint16(b[12:]),
		}
	}
	return group, nil
}
