// Package pefile loads the resources of PE32 and PE32+ images and writes
// them back. The resource tree itself is read and encoded by winres; this
// package decides where the new tree goes and keeps the bytes around it.
package pefile

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	log "github.com/schollz/logger"
	"github.com/tc-hib/winres"

	"github.com/dentalwings/icoswap/binutil"
)

var (
	// ErrFormat means the bytes are not a PE image able to carry resources.
	ErrFormat = errors.New("not a PE image")
	// ErrResourceFormat means the existing resource section is malformed.
	ErrResourceFormat = errors.New("malformed resource section")
	// ErrNoRoom means a new section is needed but the header has no space
	// for another section header.
	ErrNoRoom = errors.New("no room for another section header")

	// errNeedSection means the existing resource section cannot take the
	// new tree and a new section has to be appended.
	errNeedSection = errors.New("resource section cannot be rewritten in place")
)

const (
	SizeOfSectionHeader = 40

	offNumberOfSections     = 2  // in IMAGE_FILE_HEADER
	offPointerToSymbolTable = 8  // in IMAGE_FILE_HEADER
	offSizeOfRawData        = 16 // in IMAGE_SECTION_HEADER
	offDataDirectory32      = 96
	offDataDirectory64      = 112
)

// Image is a PE image held in memory together with its resources.
// It is never modified; Build produces a new image.
type Image struct {
	raw      []byte
	is64     bool
	fileHdr  int // offset of IMAGE_FILE_HEADER
	optHdr   int // offset of the optional header
	sectHdr  int // offset of the section table
	sections []pe.SectionHeader32
	dirs     []pe.DataDirectory

	fileAlign uint32
	sectAlign uint32
	checkSum  uint32

	// index of the section the resource directory points at, or -1
	rsrc int

	Resources *winres.ResourceSet
}

type options struct {
	checkSum bool
}

type Option func(*options)

// WithCheckSum makes Build compute the optional header checksum even when
// the image had none.
func WithCheckSum() Option {
	return func(o *options) { o.checkSum = true }
}

// Load parses raw as a PE32 or PE32+ image and reads its resources.
// raw is retained and must not be modified afterwards.
func Load(raw []byte) (*Image, error) {
	if len(raw) < 0x40 || raw[0] != 'M' || raw[1] != 'Z' {
		return nil, errors.Wrap(ErrFormat, "missing MZ signature")
	}
	f, err := pe.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(ErrFormat, err.Error())
	}
	defer f.Close()

	img := &Image{
		raw:  raw,
		rsrc: -1,
	}
	img.fileHdr = int(binary.LittleEndian.Uint32(raw[0x3c:])) + 4
	img.optHdr = img.fileHdr + binary.Size(pe.FileHeader{})
	img.sectHdr = img.optHdr + int(f.FileHeader.SizeOfOptionalHeader)

	var ndirs uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.fileAlign, img.sectAlign, img.checkSum = oh.FileAlignment, oh.SectionAlignment, oh.CheckSum
		ndirs, img.dirs = oh.NumberOfRvaAndSizes, oh.DataDirectory[:]
	case *pe.OptionalHeader64:
		img.is64 = true
		img.fileAlign, img.sectAlign, img.checkSum = oh.FileAlignment, oh.SectionAlignment, oh.CheckSum
		ndirs, img.dirs = oh.NumberOfRvaAndSizes, oh.DataDirectory[:]
	default:
		return nil, errors.Wrap(ErrFormat, "no optional header")
	}
	// The resource writer needs every directory up to the base relocations.
	if ndirs <= pe.IMAGE_DIRECTORY_ENTRY_BASERELOC {
		return nil, errors.Wrapf(ErrFormat, "only %d data directories", ndirs)
	}
	if int(ndirs) < len(img.dirs) {
		img.dirs = img.dirs[:ndirs]
	}
	if img.fileAlign == 0 || img.sectAlign == 0 {
		return nil, errors.Wrap(ErrFormat, "zero section or file alignment")
	}
	if len(f.Sections) == 0 {
		return nil, errors.Wrap(ErrFormat, "no sections")
	}

	img.sections = make([]pe.SectionHeader32, len(f.Sections))
	for i := range img.sections {
		off := img.sectHdr + SizeOfSectionHeader*i
		if off+SizeOfSectionHeader > len(raw) {
			return nil, errors.Wrapf(ErrFormat, "section header %d past end of file", i)
		}
		err := binary.Read(bytes.NewReader(raw[off:off+SizeOfSectionHeader]), binary.LittleEndian, &img.sections[i])
		if err != nil {
			return nil, errors.Wrap(ErrFormat, err.Error())
		}
	}
	if dir := img.dirs[pe.IMAGE_DIRECTORY_ENTRY_RESOURCE]; dir.VirtualAddress != 0 {
		img.rsrc = img.sectionAt(dir.VirtualAddress)
	}

	rs, err := winres.LoadFromEXE(bytes.NewReader(raw))
	if err != nil && !errors.Is(err, winres.ErrNoResources) {
		return nil, errors.Wrap(ErrResourceFormat, err.Error())
	}
	img.Resources = rs
	return img, nil
}

func (img *Image) Is64() bool { return img.is64 }

// Bytes returns the image as loaded.
func (img *Image) Bytes() []byte { return img.raw }

// Clone returns a set holding the same resources as rs, which later
// changes to either set leave alone. Data slices are shared.
func Clone(rs *winres.ResourceSet) *winres.ResourceSet {
	c := &winres.ResourceSet{}
	rs.Walk(func(typeID, resID winres.Identifier, langID uint16, data []byte) bool {
		c.Set(typeID, resID, langID, data)
		return true
	})
	return c
}

// sectionAt returns the index of the section starting at rva, or -1.
func (img *Image) sectionAt(rva uint32) int {
	for i, s := range img.sections {
		if s.VirtualAddress == rva {
			return i
		}
	}
	return -1
}

// dataEnd is the file offset just past the last section's raw data.
func (img *Image) dataEnd() uint32 {
	var end uint32
	for _, s := range img.sections {
		if s.Characteristics&pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0 {
			continue
		}
		if e := s.PointerToRawData + s.SizeOfRawData; e > end {
			end = e
		}
	}
	return end
}

func (img *Image) firstRawData() uint32 {
	first := uint32(math.MaxUint32)
	for _, s := range img.sections {
		if s.Characteristics&pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0 {
			continue
		}
		if s.PointerToRawData < first {
			first = s.PointerToRawData
		}
	}
	return first
}

// rsrcIsLast reports whether the resource section ends the image in memory.
func (img *Image) rsrcIsLast() bool {
	var end uint32
	for _, s := range img.sections {
		if e := s.VirtualAddress + s.VirtualSize; e > end {
			end = e
		}
	}
	s := img.sections[img.rsrc]
	return binutil.AlignTo(s.VirtualAddress+s.VirtualSize, img.sectAlign) >= binutil.AlignTo(end, img.sectAlign)
}

func (img *Image) symbolTable() uint32 {
	return binary.LittleEndian.Uint32(img.raw[img.fileHdr+offPointerToSymbolTable:])
}

func (img *Image) putDir(b []byte, entry int, d pe.DataDirectory) {
	off := img.optHdr + offDataDirectory32
	if img.is64 {
		off = img.optHdr + offDataDirectory64
	}
	off += 8 * entry
	binary.LittleEndian.PutUint32(b[off:], d.VirtualAddress)
	binary.LittleEndian.PutUint32(b[off+4:], d.Size)
}

// overlay returns the bytes after the last section, minus an attribute
// certificate table, which no longer matches once resources change.
func (img *Image) overlay(end uint32) []byte {
	overlay := img.raw[end:]
	cert := img.dirs[pe.IMAGE_DIRECTORY_ENTRY_SECURITY]
	certEnd := uint64(cert.VirtualAddress) + uint64(cert.Size)
	if cert.Size == 0 || cert.VirtualAddress < end || certEnd > uint64(len(img.raw)) {
		return overlay
	}
	kept := make([]byte, 0, len(overlay)-int(cert.Size))
	kept = append(kept, img.raw[end:cert.VirtualAddress]...)
	return append(kept, img.raw[certEnd:]...)
}

// Build returns a copy of the image whose resources are rs.
//
// The existing resource section is rewritten when it is the last one, when
// only the base relocations follow it, or when the new tree fits in its raw
// data. Otherwise the tree goes to a new .rsrc section after the last one
// and the old section is renamed old.rsrc. Data after the last section is
// kept and PointerToSymbolTable follows it; an attribute certificate table
// is dropped.
func (img *Image) Build(rs *winres.ResourceSet, opts ...Option) ([]byte, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if signed, _ := winres.IsSignedEXE(bytes.NewReader(img.raw)); signed {
		log.Warnf("dropping attribute certificate table, the signature no longer applies")
	}
	if img.rsrc >= 0 {
		out, err := img.rewrite(rs, o)
		if !errors.Is(err, errNeedSection) {
			return out, err
		}
		log.Debugf("%v, appending a new section", err)
	}
	return img.appendSection(rs, o)
}

// rewrite lets winres resize or refill the existing resource section.
func (img *Image) rewrite(rs *winres.ResourceSet, o options) ([]byte, error) {
	// winres looks up the base relocation section whenever the resource
	// section is not last, and dereferences it unchecked.
	if !img.rsrcIsLast() && img.sectionAt(img.dirs[pe.IMAGE_DIRECTORY_ENTRY_BASERELOC].VirtualAddress) < 0 {
		return nil, errors.Wrap(errNeedSection, "no base relocation section follows it")
	}
	out, err := write(rs, img.raw, o)
	if err != nil {
		return nil, err
	}
	// When winres falls back to a new section itself, it copies everything
	// after the old section a second time.
	if n := binary.LittleEndian.Uint16(out[img.fileHdr+offNumberOfSections:]); int(n) > len(img.sections) {
		return nil, errors.Wrap(errNeedSection, "the new tree outgrows it")
	}
	log.Debugf("rewrote section %d in place", img.rsrc)

	// winres moves the tail but not the symbol table pointer into it.
	sym := img.symbolTable()
	if sym == 0 || sym < img.dataEnd() {
		return out, nil
	}
	oldSize := binutil.AlignTo(img.sections[img.rsrc].SizeOfRawData, img.fileAlign)
	newSize := binary.LittleEndian.Uint32(out[img.sectHdr+SizeOfSectionHeader*img.rsrc+offSizeOfRawData:])
	if newSize == oldSize {
		return out, nil
	}
	src := append([]byte(nil), img.raw...)
	binary.LittleEndian.PutUint32(src[img.fileHdr+offPointerToSymbolTable:], sym+newSize-oldSize)
	return write(rs, src, o)
}

// appendSection places the tree in a new section after the last one.
// winres does the same for an image without resources, but drops the data
// after the last section when doing so.
func (img *Image) appendSection(rs *winres.ResourceSet, o options) ([]byte, error) {
	n := len(img.sections)
	hdrEnd := uint32(img.sectHdr + SizeOfSectionHeader*(n+1))
	if first := img.firstRawData(); hdrEnd > first || n == math.MaxUint16 {
		return nil, errors.Wrapf(ErrNoRoom, "section table would end at %#x, section data starts at %#x", hdrEnd, first)
	}
	end := img.dataEnd()
	if uint64(end) > uint64(len(img.raw)) {
		return nil, errors.Wrapf(ErrFormat, "section data ends at %#x, past end of file", end)
	}
	overlay := img.overlay(end)

	src := append([]byte(nil), img.raw[:end]...)
	img.putDir(src, pe.IMAGE_DIRECTORY_ENTRY_SECURITY, pe.DataDirectory{})
	if img.rsrc >= 0 {
		copy(src[img.sectHdr+SizeOfSectionHeader*img.rsrc:], "old.rsrc")
		img.putDir(src, pe.IMAGE_DIRECTORY_ENTRY_RESOURCE, pe.DataDirectory{})
	}
	out, err := write(rs, src, o)
	if err != nil {
		return nil, err
	}
	newEnd := uint32(len(out))
	log.Debugf("appended section %d at file offset %#x (%d bytes)", n, end, newEnd-end)

	out = append(out, overlay...)
	moved := false
	if sym := img.symbolTable(); sym != 0 && sym >= end {
		binary.LittleEndian.PutUint32(out[img.fileHdr+offPointerToSymbolTable:], sym+newEnd-end)
		moved = true
	}
	if (o.checkSum || img.checkSum != 0) && (len(overlay) > 0 || moved) {
		// The new section is last and keeps its size, so a second pass only
		// brings the checksum over the tail.
		return write(rs, out, o)
	}
	return out, nil
}

func write(rs *winres.ResourceSet, src []byte, o options) ([]byte, error) {
	var (
		out bytes.Buffer
		err error
	)
	if o.checkSum {
		err = rs.WriteToEXE(&out, bytes.NewReader(src), winres.WithAuthenticode(winres.RemoveSignature), winres.ForceCheckSum())
	} else {
		err = rs.WriteToEXE(&out, bytes.NewReader(src), winres.WithAuthenticode(winres.RemoveSignature))
	}
	if err != nil {
		return nil, errors.Wrap(err, "writing resource section")
	}
	return out.Bytes(), nil
}
