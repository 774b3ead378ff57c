package dump

import (
	"encoding/binary"
	"fmt"
	"io"
)

// On-disk layout of a region-mode dump, little-endian throughout: a
// fixed metadata header, the region record array, then the raw region
// payloads concatenated in record order.
const (
	// MetadataSize is the byte size of the dump file header.
	MetadataSize = 24
	// RegionRecordSize is the byte size of one serialized region record.
	RegionRecordSize = 32
)

// Metadata is the dump file header.
type Metadata struct {
	RegionsSectionSize uint64
	DumpSectionSize    uint64
	BaseAddress        uint64
}

// Region describes one captured memory region. AddressEnd is inclusive.
type Region struct {
	AddressBegin       uint64
	AddressEnd         uint64
	Protection         uint64
	PrivateMemory      bool
	InitiallyCommitted bool
}

// Size returns the region's byte length.
func (r Region) Size() uint64 {
	return r.AddressEnd - r.AddressBegin + 1
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.AddressBegin && addr <= r.AddressEnd
}

func (m Metadata) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, m.RegionsSectionSize)
	b = binary.LittleEndian.AppendUint64(b, m.DumpSectionSize)
	b = binary.LittleEndian.AppendUint64(b, m.BaseAddress)
	return b
}

func parseMetadata(b []byte) Metadata {
	return Metadata{
		RegionsSectionSize: binary.LittleEndian.Uint64(b[0:]),
		DumpSectionSize:    binary.LittleEndian.Uint64(b[8:]),
		BaseAddress:        binary.LittleEndian.Uint64(b[16:]),
	}
}

func (r Region) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, r.AddressBegin)
	b = binary.LittleEndian.AppendUint64(b, r.AddressEnd)
	b = binary.LittleEndian.AppendUint64(b, r.Protection)
	var flags [8]byte
	if r.PrivateMemory {
		flags[0] = 1
	}
	if r.InitiallyCommitted {
		flags[1] = 1
	}
	return append(b, flags[:]...)
}

func parseRegion(b []byte) Region {
	return Region{
		AddressBegin:       binary.LittleEndian.Uint64(b[0:]),
		AddressEnd:         binary.LittleEndian.Uint64(b[8:]),
		Protection:         binary.LittleEndian.Uint64(b[16:]),
		PrivateMemory:      b[24] != 0,
		InitiallyCommitted: b[25] != 0,
	}
}

// Writer serializes a region-mode dump. Callers add every region record
// first, then stream each region's payload in the same order, and
// finally call Finalize to rewrite the header with the accumulated
// sizes.
type Writer struct {
	ws          io.WriteSeeker
	baseAddress uint64
	regionCount uint64
	dumpSize    uint64
	payload     bool
}

// NewWriter starts a dump at the writer's current beginning, reserving
// the header.
func NewWriter(ws io.WriteSeeker, baseAddress uint64) (*Writer, error) {
	var zero [MetadataSize]byte
	if _, err := ws.Write(zero[:]); err != nil {
		return nil, fmt.Errorf("reserve dump header: %w", err)
	}
	return &Writer{ws: ws, baseAddress: baseAddress}, nil
}

// AddRegion appends one region record and accounts its payload size.
func (w *Writer) AddRegion(r Region) error {
	if w.payload {
		return fmt.Errorf("region record after payload data")
	}
	if _, err := w.ws.Write(r.appendTo(nil)); err != nil {
		return fmt.Errorf("write region record: %w", err)
	}
	w.regionCount++
	w.dumpSize += r.Size()
	return nil
}

// WritePayload streams raw region bytes. Payloads must follow the region
// record order and total exactly the accounted sizes.
func (w *Writer) WritePayload(p []byte) error {
	w.payload = true
	if _, err := w.ws.Write(p); err != nil {
		return fmt.Errorf("write region payload: %w", err)
	}
	return nil
}

// Finalize seeks back and writes the real header.
func (w *Writer) Finalize() error {
	if _, err := w.ws.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek dump header: %w", err)
	}
	meta := Metadata{
		RegionsSectionSize: w.regionCount * RegionRecordSize,
		DumpSectionSize:    w.dumpSize,
		BaseAddress:        w.baseAddress,
	}
	if _, err := w.ws.Write(meta.appendTo(nil)); err != nil {
		return fmt.Errorf("write dump header: %w", err)
	}
	return nil
}

// RegionCount returns the number of records written so far.
func (w *Writer) RegionCount() int {
	return int(w.regionCount)
}

// WriteDump writes a complete region-mode dump in one call. payloads[i]
// backs regions[i] and must match its size exactly.
func WriteDump(ws io.WriteSeeker, baseAddress uint64, regions []Region, payloads [][]byte) error {
	if len(regions) != len(payloads) {
		return fmt.Errorf("want %d payloads, have %d", len(regions), len(payloads))
	}
	w, err := NewWriter(ws, baseAddress)
	if err != nil {
		return err
	}
	for i, rg := range regions {
		if uint64(len(payloads[i])) != rg.Size() {
			return fmt.Errorf("region %d payload is %d bytes, want %d", i, len(payloads[i]), rg.Size())
		}
		if err := w.AddRegion(rg); err != nil {
			return err
		}
	}
	for _, p := range payloads {
		if err := w.WritePayload(p); err != nil {
			return err
		}
	}
	return w.Finalize()
}
