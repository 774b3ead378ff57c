package dump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

const (
	dosSignature    = 0x5A4D     // "MZ"
	ntSignature     = 0x00004550 // "PE\0\0"
	sectionHdrSize  = 40
	fixedVersionSig = 0xFEEF04BD
	rtVersion       = 16
)

// Section is one image section located by its in-image virtual range.
// Offsets are image-relative: the same space the Reader reads from.
type Section struct {
	Name          string
	VirtualOffset uint64
	VirtualSize   uint64
}

// Contains reports whether the image-relative offset lies inside the
// section.
func (s Section) Contains(offset uint64) bool {
	return offset >= s.VirtualOffset && offset < s.VirtualOffset+s.VirtualSize
}

// Export is one name exported by the image.
type Export struct {
	Name    string
	Ordinal uint32
	RVA     uint32
}

// PEInfo holds the parsed image layout. Sections are sorted ascending
// by virtual offset and start with the pseudo-section ".header"
// covering the DOS header, NT headers and section table.
type PEInfo struct {
	Machine          uint16
	NumberOfSections int
	Sections         []Section

	exportDirRVA  uint32
	exportDirSize uint32

	version     string
	versionDone bool
	exports     []Export
	exportsDone bool
}

// parsePE recovers the section layout from the dumped image. Missing
// DOS/NT signatures are fatal; anything past that degrades to whatever
// could be read.
func (r *Reader) parsePE() error {
	dos := r.ReadBytes(0, 0x40)
	if len(dos) < 0x40 || binary.LittleEndian.Uint16(dos) != dosSignature {
		return fmt.Errorf("missing DOS signature")
	}
	lfanew := uint64(binary.LittleEndian.Uint32(dos[0x3C:]))

	nt := r.ReadBytes(lfanew, 24)
	if len(nt) < 24 || binary.LittleEndian.Uint32(nt) != ntSignature {
		return fmt.Errorf("missing NT signature")
	}

	pe := &PEInfo{
		Machine:          binary.LittleEndian.Uint16(nt[4:]),
		NumberOfSections: int(binary.LittleEndian.Uint16(nt[6:])),
	}
	optSize := uint64(binary.LittleEndian.Uint16(nt[20:]))
	optOff := lfanew + 24
	tableOff := optOff + optSize

	// The pseudo-section covers everything up to and including the
	// section table.
	pe.Sections = append(pe.Sections, Section{
		Name:        ".header",
		VirtualSize: tableOff + uint64(pe.NumberOfSections)*sectionHdrSize,
	})

	if opt := r.ReadBytes(optOff, int(optSize)); len(opt) >= 4 {
		pe.readExportDirectory(opt)
	}

	table := r.ReadBytes(tableOff, pe.NumberOfSections*sectionHdrSize)
	if len(table) < pe.NumberOfSections*sectionHdrSize {
		// Section table unreachable; leave the image layout absent.
		r.log.Warn("section table unreadable", "sections", pe.NumberOfSections)
		return nil
	}
	for i := 0; i < pe.NumberOfSections; i++ {
		hdr := table[i*sectionHdrSize:]
		name := strings.TrimRight(string(hdr[:8]), "\x00")
		if name == "" {
			name = fmt.Sprintf(".section%d", i+1)
		}
		pe.Sections = append(pe.Sections, Section{
			Name:          name,
			VirtualOffset: uint64(binary.LittleEndian.Uint32(hdr[12:])),
			VirtualSize:   uint64(binary.LittleEndian.Uint32(hdr[8:])),
		})
	}
	sort.Slice(pe.Sections, func(i, j int) bool {
		return pe.Sections[i].VirtualOffset < pe.Sections[j].VirtualOffset
	})

	r.PE = pe
	return nil
}

// readExportDirectory records the export data directory location from
// the optional header, handling both PE32+ and PE32 layouts.
func (pe *PEInfo) readExportDirectory(opt []byte) {
	dirOff := 112 // PE32+
	if binary.LittleEndian.Uint16(opt) == 0x10B {
		dirOff = 96
	}
	if len(opt) < dirOff+8 {
		return
	}
	pe.exportDirRVA = binary.LittleEndian.Uint32(opt[dirOff:])
	pe.exportDirSize = binary.LittleEndian.Uint32(opt[dirOff+4:])
}

// Section looks up a section by name.
func (r *Reader) Section(name string) (Section, bool) {
	if r.PE == nil {
		return Section{}, false
	}
	for _, s := range r.PE.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// FileVersion extracts the image's file version from the version
// resource as a dotted quad. The walk is RT_VERSION, then the resource
// named 1 (falling back to the first), then the first language entry.
func (r *Reader) FileVersion() (string, bool) {
	if r.PE == nil {
		return "", false
	}
	if r.PE.versionDone {
		return r.PE.version, r.PE.version != ""
	}
	r.PE.versionDone = true

	rsrc, ok := r.Section(".rsrc")
	if !ok {
		return "", false
	}
	base := rsrc.VirtualOffset

	versionDir, ok := r.resourceSubdir(base, 0, rtVersion)
	if !ok {
		return "", false
	}
	nameDir, ok := r.resourceSubdir(base, versionDir, 1)
	if !ok {
		return "", false
	}
	dataOff, ok := r.resourceFirstData(base, nameDir)
	if !ok {
		return "", false
	}

	entry := r.ReadBytes(base+dataOff, 8)
	if len(entry) < 8 {
		return "", false
	}
	dataRVA := binary.LittleEndian.Uint32(entry)
	dataSize := binary.LittleEndian.Uint32(entry[4:])
	if dataSize == 0 || dataSize > 0x10000 {
		return "", false
	}

	data := r.ReadBytes(uint64(dataRVA), int(dataSize))
	sig := binary.LittleEndian.AppendUint32(nil, fixedVersionSig)
	idx := bytes.Index(data, sig)
	if idx < 0 || idx+16 > len(data) {
		return "", false
	}
	ms := binary.LittleEndian.Uint32(data[idx+8:])
	ls := binary.LittleEndian.Uint32(data[idx+12:])
	r.PE.version = fmt.Sprintf("%d.%d.%d.%d", ms>>16, ms&0xFFFF, ls>>16, ls&0xFFFF)
	return r.PE.version, true
}

// resourceSubdir finds the entry with the given ID in a resource
// directory and returns the subdirectory offset it points at. An ID of
// 1 falls back to the directory's first entry when absent.
func (r *Reader) resourceSubdir(base, dirOff uint64, id uint32) (uint64, bool) {
	entries, ok := r.resourceEntries(base, dirOff)
	if !ok {
		return 0, false
	}
	for _, e := range entries {
		if e.name == id && e.offset&0x80000000 != 0 {
			return uint64(e.offset &^ 0x80000000), true
		}
	}
	if id == 1 && len(entries) > 0 && entries[0].offset&0x80000000 != 0 {
		return uint64(entries[0].offset &^ 0x80000000), true
	}
	return 0, false
}

// resourceFirstData returns the first data-entry offset of a resource
// directory, descending further subdirectory levels if needed. The
// resource tree is three levels deep; the bound keeps corrupt dumps
// from recursing forever.
func (r *Reader) resourceFirstData(base, dirOff uint64) (uint64, bool) {
	for depth := 0; depth < 4; depth++ {
		entries, ok := r.resourceEntries(base, dirOff)
		if !ok || len(entries) == 0 {
			return 0, false
		}
		e := entries[0]
		if e.offset&0x80000000 == 0 {
			return uint64(e.offset), true
		}
		dirOff = uint64(e.offset &^ 0x80000000)
	}
	return 0, false
}

type resourceEntry struct {
	name   uint32
	offset uint32
}

func (r *Reader) resourceEntries(base, dirOff uint64) ([]resourceEntry, bool) {
	hdr := r.ReadBytes(base+dirOff, 16)
	if len(hdr) < 16 {
		return nil, false
	}
	named := int(binary.LittleEndian.Uint16(hdr[12:]))
	ids := int(binary.LittleEndian.Uint16(hdr[14:]))
	total := named + ids
	if total == 0 || total > 4096 {
		return nil, total == 0
	}
	raw := r.ReadBytes(base+dirOff+16, total*8)
	if len(raw) < total*8 {
		return nil, false
	}
	entries := make([]resourceEntry, total)
	for i := range entries {
		entries[i] = resourceEntry{
			name:   binary.LittleEndian.Uint32(raw[i*8:]),
			offset: binary.LittleEndian.Uint32(raw[i*8+4:]),
		}
	}
	return entries, true
}

// Exports lists the image's named exports. The list is parsed once and
// cached; an unreadable export directory yields an empty list.
func (r *Reader) Exports() []Export {
	if r.PE == nil {
		return nil
	}
	if r.PE.exportsDone {
		return r.PE.exports
	}
	r.PE.exportsDone = true

	if r.PE.exportDirRVA == 0 || r.PE.exportDirSize == 0 {
		return nil
	}
	dir := r.ReadBytes(uint64(r.PE.exportDirRVA), 40)
	if len(dir) < 40 {
		return nil
	}
	ordinalBase := binary.LittleEndian.Uint32(dir[16:])
	numFuncs := binary.LittleEndian.Uint32(dir[20:])
	numNames := binary.LittleEndian.Uint32(dir[24:])
	funcsRVA := binary.LittleEndian.Uint32(dir[28:])
	namesRVA := binary.LittleEndian.Uint32(dir[32:])
	ordsRVA := binary.LittleEndian.Uint32(dir[36:])
	if numNames == 0 || numNames > 0x10000 || numFuncs > 0x10000 {
		return nil
	}

	names := r.ReadBytes(uint64(namesRVA), int(numNames)*4)
	ords := r.ReadBytes(uint64(ordsRVA), int(numNames)*2)
	funcs := r.ReadBytes(uint64(funcsRVA), int(numFuncs)*4)
	if len(names) < int(numNames)*4 || len(ords) < int(numNames)*2 || len(funcs) < int(numFuncs)*4 {
		return nil
	}

	for i := 0; i < int(numNames); i++ {
		nameRVA := binary.LittleEndian.Uint32(names[i*4:])
		ord := binary.LittleEndian.Uint16(ords[i*2:])
		if int(ord) >= int(numFuncs) {
			continue
		}
		name, ok := r.readCString(uint64(nameRVA), 512)
		if !ok {
			continue
		}
		r.PE.exports = append(r.PE.exports, Export{
			Name:    name,
			Ordinal: ordinalBase + uint32(ord),
			RVA:     binary.LittleEndian.Uint32(funcs[int(ord)*4:]),
		})
	}
	return r.PE.exports
}

// readCString reads a NUL-terminated string of at most max bytes.
func (r *Reader) readCString(offset uint64, max int) (string, bool) {
	buf := r.ReadBytes(offset, max)
	if len(buf) == 0 {
		return "", false
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i]), true
	}
	return "", false
}
