package host

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/posekit/overlay/internal/data"
	"github.com/posekit/overlay/internal/hook"
	"github.com/posekit/overlay/internal/native"
)

const (
	codeBase   native.Address = 0x1400_0000
	codeStride                = 0x40
	padByte                   = 0xCC
)

// routineBody is the prologue written at every routine entry the image
// reaches through a call site.
var routineBody = []byte{0x48, 0x83, 0xEC, 0x28, 0x48, 0x8B, 0xF9, 0xC3}

// buildImage lays out a code image in which every signature matches once.
// Call-site patterns get a separate body their rel32 branches to.
func buildImage(sigs *data.SignatureTable, names []string) ([]byte, map[string]int, error) {
	names = slices.Clone(names)
	slices.Sort(names)

	code := make([]byte, codeStride*2*(len(names)+1))
	for i := range code {
		code[i] = padByte
	}
	entries := make(map[string]int, len(names))
	off := codeStride
	for _, name := range names {
		sig, ok := sigs.Get(name)
		if !ok {
			continue
		}
		p, err := hook.ParsePattern(sig.Pattern)
		if err != nil {
			return nil, nil, err
		}
		if p.Len() > codeStride {
			return nil, nil, fmt.Errorf("signature %s longer than %d bytes", name, codeStride)
		}
		site := p.Fill(0x00)
		if p.IsCallSite() {
			body := off + codeStride
			copy(code[body:], routineBody)
			binary.LittleEndian.PutUint32(site[1:], uint32(int32(body-(off+5))))
			entries[name] = body
		} else {
			entries[name] = off
		}
		copy(code[off:], site)
		off += 2 * codeStride
	}
	return code, entries, nil
}
