package hook

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Pattern is a parsed byte signature. Wildcard positions match any byte.
type Pattern struct {
	raw   string
	bytes []byte
	mask  []bool // true = must match
}

// ParsePattern parses "E8 ?? ?? ?? ?? 80 BE". "?" and "??" are wildcards.
func ParsePattern(s string) (Pattern, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Pattern{}, fmt.Errorf("empty signature")
	}
	p := Pattern{
		raw:   s,
		bytes: make([]byte, len(fields)),
		mask:  make([]bool, len(fields)),
	}
	for i, f := range fields {
		if f == "?" || f == "??" {
			continue
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return Pattern{}, fmt.Errorf("signature %q: bad byte %q", s, f)
		}
		p.bytes[i] = byte(v)
		p.mask[i] = true
	}
	if !p.mask[0] {
		return Pattern{}, fmt.Errorf("signature %q: must not start with a wildcard", s)
	}
	return p, nil
}

func (p Pattern) String() string { return p.raw }

// Len returns the pattern length in bytes.
func (p Pattern) Len() int { return len(p.bytes) }

// Fill returns concrete bytes that match the pattern, with every wildcard
// set to wild.
func (p Pattern) Fill(wild byte) []byte {
	out := make([]byte, len(p.bytes))
	for i, b := range p.bytes {
		if p.mask[i] {
			out[i] = b
		} else {
			out[i] = wild
		}
	}
	return out
}

// MatchAt reports whether the pattern matches code at off.
func (p Pattern) MatchAt(code []byte, off int) bool {
	if off < 0 || off+len(p.bytes) > len(code) {
		return false
	}
	for i, b := range p.bytes {
		if p.mask[i] && code[off+i] != b {
			return false
		}
	}
	return true
}

// Scan returns the offset of the first match in code.
func (p Pattern) Scan(code []byte) (int, bool) {
	first := p.bytes[0]
	last := len(code) - len(p.bytes)
	for off := 0; off <= last; off++ {
		if code[off] != first {
			continue
		}
		if p.MatchAt(code, off) {
			return off, true
		}
	}
	return 0, false
}

// IsCallSite reports whether the pattern anchors on a rel32 call or jump.
// Such patterns resolve to the branch target rather than the match itself.
func (p Pattern) IsCallSite() bool {
	return len(p.bytes) >= 5 && (p.bytes[0] == 0xE8 || p.bytes[0] == 0xE9)
}

// Target returns the code offset a match at off resolves to.
func (p Pattern) Target(code []byte, off int) (int, error) {
	if !p.IsCallSite() {
		return off, nil
	}
	if off+5 > len(code) {
		return 0, fmt.Errorf("call site at 0x%X truncated", off)
	}
	rel := int32(binary.LittleEndian.Uint32(code[off+1:]))
	target := off + 5 + int(rel)
	if target < 0 || target >= len(code) {
		return 0, fmt.Errorf("call site at 0x%X branches outside the image", off)
	}
	return target, nil
}
