// Package petest builds small PE images for tests.
package petest

import (
	"bytes"
	"debug/pe"
	"encoding/binary"

	"github.com/tc-hib/winres"

	"github.com/dentalwings/icoswap/binutil"
)

const (
	FileAlignment    = 0x200
	SectionAlignment = 0x1000
	SizeOfHeaders    = 0x400

	PEOffset = 0x40

	sizeOfSectionHeader = 40
)

// SymbolTable is an empty COFF string table followed by a marker, placed
// right after the sections when Layout.Symbols is set.
var SymbolTable = []byte{4, 0, 0, 0, 'S', 'Y', 'M', 'S'}

// RelocBlock is the content of every section added by Layout.Trailing.
var RelocBlock = []byte{0, 0x10, 0, 0, 8, 0, 0, 0}

// Layout describes the image to build. The zero value is a PE32 image with
// a single .text section and no resources.
type Layout struct {
	PE32Plus bool
	// Resources, if non-nil, are written by winres into a .rsrc section
	// after .text.
	Resources *winres.ResourceSet
	// Trailing names sections added after the others, in order. A ".reloc"
	// section also becomes the base relocation directory.
	Trailing []string
	// Tight leaves no room in the headers for another section header.
	Tight bool
	// Symbols places SymbolTable after the sections and points
	// PointerToSymbolTable at it.
	Symbols     bool
	Overlay     []byte
	Certificate []byte
	CheckSum    bool
}

type header struct {
	peOff   int
	optSize int
}

func (h header) opt() int     { return h.peOff + 4 + 20 }
func (h header) sectHdr() int { return h.opt() + h.optSize }

func (h header) dir(entry int) int {
	if h.optSize == binary.Size(pe.OptionalHeader64{}) {
		return h.opt() + 112 + 8*entry
	}
	return h.opt() + 96 + 8*entry
}

// Build returns the image bytes for l.
func Build(l Layout) []byte {
	nsec := 1
	if l.Resources != nil {
		nsec++
	}
	nsec += len(l.Trailing)
	h := header{peOff: PEOffset, optSize: binary.Size(pe.OptionalHeader32{})}
	if l.PE32Plus {
		h.optSize = binary.Size(pe.OptionalHeader64{})
	}
	if l.Tight {
		h.peOff = SizeOfHeaders - (h.sectHdr() - h.peOff) - sizeOfSectionHeader*nsec
	}

	b := base(l, h)
	if l.Resources != nil {
		var out bytes.Buffer
		if err := l.Resources.WriteToEXE(&out, bytes.NewReader(b)); err != nil {
			panic(err)
		}
		b = out.Bytes()
	}

	le := binary.LittleEndian
	for i, name := range l.Trailing {
		va := le.Uint32(b[h.opt()+56:])
		s := pe.SectionHeader32{
			VirtualSize:      uint32(len(RelocBlock)),
			VirtualAddress:   va,
			SizeOfRawData:    FileAlignment,
			PointerToRawData: uint32(len(b)),
			Characteristics:  0xc0000040,
		}
		copy(s.Name[:], name)
		if name == ".reloc" {
			s.Characteristics = 0x42000040
			le.PutUint32(b[h.dir(pe.IMAGE_DIRECTORY_ENTRY_BASERELOC):], va)
			le.PutUint32(b[h.dir(pe.IMAGE_DIRECTORY_ENTRY_BASERELOC)+4:], uint32(len(RelocBlock)))
		}
		n := nsec - len(l.Trailing) + i
		var hdr bytes.Buffer
		binary.Write(&hdr, le, s)
		copy(b[h.sectHdr()+sizeOfSectionHeader*n:], hdr.Bytes())
		le.PutUint16(b[h.peOff+4+2:], uint16(n+1))
		le.PutUint32(b[h.opt()+56:], va+SectionAlignment)
		b = append(b, RelocBlock...)
		b = append(b, make([]byte, FileAlignment-len(RelocBlock))...)
	}
	if l.Symbols {
		le.PutUint32(b[h.peOff+4+8:], uint32(len(b)))
		b = append(b, SymbolTable...)
	}
	b = append(b, l.Overlay...)
	if l.Certificate != nil {
		le.PutUint32(b[h.dir(pe.IMAGE_DIRECTORY_ENTRY_SECURITY):], uint32(len(b)))
		le.PutUint32(b[h.dir(pe.IMAGE_DIRECTORY_ENTRY_SECURITY)+4:], uint32(len(l.Certificate)))
		b = append(b, l.Certificate...)
	}
	if l.CheckSum {
		le.PutUint32(b[h.opt()+64:], Checksum(b, h.opt()+64))
	}
	return b
}

// base lays out .text and, when resources are wanted, an empty .rsrc
// section for winres to fill.
func base(l Layout, h header) []byte {
	text := append([]byte{0xc3}, bytes.Repeat([]byte{0xcc}, 0x3f)...)
	hdrs := []pe.SectionHeader32{{
		VirtualSize:      uint32(len(text)),
		VirtualAddress:   SectionAlignment,
		SizeOfRawData:    FileAlignment,
		PointerToRawData: SizeOfHeaders,
		Characteristics:  0x60000020,
	}}
	copy(hdrs[0].Name[:], ".text")
	var dirs [16]pe.DataDirectory
	if l.Resources != nil {
		s := pe.SectionHeader32{
			VirtualSize:      FileAlignment,
			VirtualAddress:   2 * SectionAlignment,
			SizeOfRawData:    FileAlignment,
			PointerToRawData: SizeOfHeaders + FileAlignment,
			Characteristics:  0x40000040,
		}
		copy(s.Name[:], ".rsrc")
		hdrs = append(hdrs, s)
		dirs[pe.IMAGE_DIRECTORY_ENTRY_RESOURCE] = pe.DataDirectory{VirtualAddress: s.VirtualAddress, Size: s.VirtualSize}
	}
	sizeOfImage := uint32(len(hdrs)+1) * SectionAlignment

	fh := pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_I386,
		NumberOfSections:     uint16(len(hdrs)),
		SizeOfOptionalHeader: uint16(h.optSize),
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_32BIT_MACHINE,
	}
	var opt interface{}
	if l.PE32Plus {
		fh.Machine = pe.IMAGE_FILE_MACHINE_AMD64
		fh.Characteristics = pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_LARGE_ADDRESS_AWARE
		opt = &pe.OptionalHeader64{
			Magic:                       0x20b,
			AddressOfEntryPoint:         SectionAlignment,
			BaseOfCode:                  SectionAlignment,
			ImageBase:                   0x140000000,
			SectionAlignment:            SectionAlignment,
			FileAlignment:               FileAlignment,
			MajorOperatingSystemVersion: 6,
			MajorSubsystemVersion:       6,
			SizeOfImage:                 sizeOfImage,
			SizeOfHeaders:               SizeOfHeaders,
			Subsystem:                   pe.IMAGE_SUBSYSTEM_WINDOWS_GUI,
			NumberOfRvaAndSizes:         16,
			DataDirectory:               dirs,
		}
	} else {
		opt = &pe.OptionalHeader32{
			Magic:                       0x10b,
			AddressOfEntryPoint:         SectionAlignment,
			BaseOfCode:                  SectionAlignment,
			ImageBase:                   0x400000,
			SectionAlignment:            SectionAlignment,
			FileAlignment:               FileAlignment,
			MajorOperatingSystemVersion: 4,
			MajorSubsystemVersion:       4,
			SizeOfImage:                 sizeOfImage,
			SizeOfHeaders:               SizeOfHeaders,
			Subsystem:                   pe.IMAGE_SUBSYSTEM_WINDOWS_GUI,
			NumberOfRvaAndSizes:         16,
			DataDirectory:               dirs,
		}
	}

	var buf bytes.Buffer
	w := binutil.Writer{W: &buf}
	w.Write([]byte{'M', 'Z'})
	w.Pad(0x3c)
	w.WriteLE(uint32(h.peOff))
	w.Pad(uint32(h.peOff))
	w.Write([]byte{'P', 'E', 0, 0})
	w.WriteLE(fh)
	w.WriteLE(opt)
	for _, s := range hdrs {
		w.WriteLE(s)
	}
	w.Pad(SizeOfHeaders)
	w.Write(text)
	w.Pad(SizeOfHeaders + FileAlignment*uint32(len(hdrs)))
	if w.Err != nil {
		panic(w.Err)
	}
	return buf.Bytes()
}

// CheckSumOffset returns the offset of the optional header CheckSum field.
func CheckSumOffset(b []byte) int {
	return int(binary.LittleEndian.Uint32(b[0x3c:])) + 4 + 20 + 64
}

// Checksum computes the optional header CheckSum of image b, skipping the
// four checksum bytes at off.
func Checksum(b []byte, off int) uint32 {
	var sum uint64
	for i := 0; i+1 < len(b); i += 2 {
		if i == off || i == off+2 {
			continue
		}
		sum += uint64(binary.LittleEndian.Uint16(b[i:]))
		sum = (sum & 0xffff) + (sum >> 16)
	}
	if len(b)%2 == 1 {
		sum += uint64(b[len(b)-1])
		sum = (sum & 0xffff) + (sum >> 16)
	}
	sum = (sum & 0xffff) + (sum >> 16)
	return uint32(sum) + uint32(len(b))
}
