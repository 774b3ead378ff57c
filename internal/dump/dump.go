// Package dump reads memory dumps of 64-bit Windows images: a region
// table maps image-relative offsets back to file offsets, and the PE
// header is parsed out of the dumped image itself. All byte access
// degrades gracefully so that scanning code can treat any window as
// possibly empty.
package dump

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

// Mode selects how the dump file is interpreted.
type Mode uint8

const (
	// ModeRegions interprets the file as a metadata header, region
	// records and concatenated region payloads; reads are translated
	// through the region table.
	ModeRegions Mode = iota
	// ModeSparse treats the file as the raw image; offsets pass through.
	ModeSparse
)

// BaseRegionInfo identifies the region holding the image base.
type BaseRegionInfo struct {
	Region Region
	// RegionOffset is the region's payload start relative to the dump
	// section.
	RegionOffset uint64
}

// Reader owns the dump file handle for the duration of one analysis.
// It is not safe for concurrent use.
type Reader struct {
	Path string
	f    *os.File
	log  *log.Logger

	Mode    Mode
	Meta    Metadata
	Regions []Region
	Base    BaseRegionInfo
	dumpOff uint64

	// PE is nil until Analyze succeeds, and stays nil when the image
	// layout cannot be recovered.
	PE *PEInfo
}

// Open opens the dump file for random reads. No validation happens
// until Analyze.
func Open(path string, logger *log.Logger) (*Reader, error) {
	if logger == nil {
		logger = log.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}
	return &Reader{Path: path, f: f, log: logger}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Analyze reads the dump structure for the given mode and parses the
// image's PE layout. It fails only when the file cannot serve as an
// image at all: an unreadable region table or missing DOS/NT
// signatures.
func (r *Reader) Analyze(mode Mode) error {
	r.Mode = mode
	if mode == ModeRegions {
		if err := r.readRegionTable(); err != nil {
			return err
		}
	}
	return r.parsePE()
}

func (r *Reader) readRegionTable() error {
	hdr := make([]byte, MetadataSize)
	if _, err := r.f.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("read dump metadata: %w", err)
	}
	r.Meta = parseMetadata(hdr)
	if r.Meta.RegionsSectionSize%RegionRecordSize != 0 {
		return fmt.Errorf("regions section size %#x is not a whole number of records", r.Meta.RegionsSectionSize)
	}

	count := int(r.Meta.RegionsSectionSize / RegionRecordSize)
	buf := make([]byte, r.Meta.RegionsSectionSize)
	if count > 0 {
		if _, err := r.f.ReadAt(buf, MetadataSize); err != nil {
			return fmt.Errorf("read region records: %w", err)
		}
	}
	r.Regions = make([]Region, count)
	for i := range r.Regions {
		r.Regions[i] = parseRegion(buf[i*RegionRecordSize:])
	}
	r.dumpOff = MetadataSize + r.Meta.RegionsSectionSize

	var cursor uint64
	for _, rg := range r.Regions {
		if rg.Contains(r.Meta.BaseAddress) {
			r.Base = BaseRegionInfo{Region: rg, RegionOffset: cursor}
			break
		}
		cursor += rg.Size()
	}

	r.log.Debug("region table loaded",
		"regions", count,
		"base", fmt.Sprintf("%#x", r.Meta.BaseAddress))
	return nil
}

// Translate maps an image-relative offset to its file offset through
// the region table. It fails when no region covers the address. Sparse
// mode passes offsets through unchanged.
func (r *Reader) Translate(offset uint64) (uint64, bool) {
	if r.Mode == ModeSparse {
		return offset, true
	}
	va := r.Meta.BaseAddress + offset
	var cursor uint64
	for _, rg := range r.Regions {
		if rg.Contains(va) {
			return r.dumpOff + cursor + (va - rg.AddressBegin), true
		}
		cursor += rg.Size()
	}
	return 0, false
}

// ReadBytes returns up to size bytes at the image-relative offset. A
// failed translation or read yields an empty slice, never an error;
// callers treat short windows as unanswerable.
func (r *Reader) ReadBytes(offset uint64, size int) []byte {
	if size <= 0 || r.f == nil {
		return nil
	}
	fo, ok := r.Translate(offset)
	if !ok {
		return nil
	}
	buf := make([]byte, size)
	n, err := r.f.ReadAt(buf, int64(fo))
	if n <= 0 && err != nil {
		return nil
	}
	return buf[:n]
}
