// Package pattern implements byte-pattern parsing and scanning with
// whole-byte and half-byte wildcards. Patterns use the textual form
// "48 8B ?5 ?? C3" where each token is a hex byte, a hex byte with one
// nibble replaced by '?', or a full wildcard '?' / '??'.
package pattern

import (
	"fmt"
	"strings"
)

// Element matches a single byte b when (b & Mask) == Value.
// The zero Element matches any byte.
type Element struct {
	Mask  byte
	Value byte
}

// Pattern is an ordered list of byte matchers.
type Pattern []Element

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Parse converts a whitespace-separated pattern string into a Pattern.
func Parse(text string) (Pattern, error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty pattern %q", text)
	}

	pat := make(Pattern, 0, len(tokens))
	for _, tok := range tokens {
		switch {
		case tok == "?" || tok == "??":
			pat = append(pat, Element{})
		case len(tok) == 2:
			var el Element
			for i := 0; i < 2; i++ {
				shift := uint(4 * (1 - i))
				if tok[i] == '?' {
					continue
				}
				n, ok := hexNibble(tok[i])
				if !ok {
					return nil, fmt.Errorf("bad pattern token %q", tok)
				}
				el.Mask |= 0xF << shift
				el.Value |= n << shift
			}
			pat = append(pat, el)
		case len(tok) == 1:
			n, ok := hexNibble(tok[0])
			if !ok {
				return nil, fmt.Errorf("bad pattern token %q", tok)
			}
			pat = append(pat, Element{Mask: 0xFF, Value: n})
		default:
			return nil, fmt.Errorf("bad pattern token %q", tok)
		}
	}
	return pat, nil
}

// String renders the pattern in canonical text form: "??" for a full
// wildcard, a '?' per wildcard nibble, uppercase hex otherwise.
func (p Pattern) String() string {
	var b strings.Builder
	for i, el := range p {
		if i > 0 {
			b.WriteByte(' ')
		}
		for _, shift := range []uint{4, 0} {
			m := (el.Mask >> shift) & 0xF
			if m == 0 {
				b.WriteByte('?')
				continue
			}
			fmt.Fprintf(&b, "%X", (el.Value>>shift)&0xF)
		}
	}
	return b.String()
}

// MatchAt reports whether the pattern matches buf starting at off.
func (p Pattern) MatchAt(buf []byte, off int) bool {
	if off < 0 || off+len(p) > len(buf) {
		return false
	}
	for i, el := range p {
		if buf[off+i]&el.Mask != el.Value {
			return false
		}
	}
	return true
}

// Find returns the offset of the first match in buf.
func (p Pattern) Find(buf []byte) (int, bool) {
	return p.FindFrom(buf, 0)
}

// FindFrom returns the offset of the first match at or after start.
func (p Pattern) FindFrom(buf []byte, start int) (int, bool) {
	if len(p) == 0 {
		return 0, false
	}
	if start < 0 {
		start = 0
	}
	for i := start; i+len(p) <= len(buf); i++ {
		if p.MatchAt(buf, i) {
			return i, true
		}
	}
	return 0, false
}
