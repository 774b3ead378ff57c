package analysis

import (
	"bytes"
	"unicode/utf16"
)

// StringKind selects the in-memory encoding scanned for.
type StringKind uint8

const (
	// StringASCII matches one byte per character.
	StringASCII StringKind = iota
	// StringUTF16 matches UTF-16LE, the usual encoding of Windows
	// string literals.
	StringUTF16
)

// Encode returns the byte form the scanner looks for.
func (k StringKind) Encode(text string) []byte {
	if k != StringUTF16 {
		return []byte(text)
	}
	units := utf16.Encode([]rune(text))
	b := make([]byte, 0, len(units)*2)
	for _, u := range units {
		b = append(b, byte(u), byte(u>>8))
	}
	return b
}

// FindString returns the offsets of occurrences of text inside .rdata,
// in ascending order, capped at maxMatches when positive.
func (a *Analyzer) FindString(text string, kind StringKind, maxMatches int) []uint64 {
	rdata, ok := a.dump.Section(".rdata")
	if !ok {
		a.log.Warn("string search unavailable, no .rdata section")
		return nil
	}
	buf := a.dump.ReadBytes(rdata.VirtualOffset, int(rdata.VirtualSize))
	if len(buf) == 0 {
		return nil
	}
	needle := kind.Encode(text)
	if len(needle) == 0 {
		return nil
	}

	var offs []uint64
	for pos := 0; ; {
		idx := bytes.Index(buf[pos:], needle)
		if idx < 0 {
			break
		}
		offs = append(offs, rdata.VirtualOffset+uint64(pos+idx))
		pos += idx + len(needle)
		if maxMatches > 0 && len(offs) >= maxMatches {
			break
		}
	}
	return offs
}
