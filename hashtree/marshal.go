package hashtree

import (
	"fmt"
	"strings"
	"unicode/utf8"

	fxcbor "github.com/fxamacker/cbor/v2"
)

// Encode returns the CBOR encoding of t.
func Encode(t Tree) ([]byte, error) {
	return fxcbor.Marshal(t)
}

func (Empty) MarshalCBOR() ([]byte, error) {
	return fxcbor.Marshal([]any{uint8(0)})
}

func (t Fork) MarshalCBOR() ([]byte, error) {
	return fxcbor.Marshal([]any{uint8(1), t.Left, t.Right})
}

func (t Labeled) MarshalCBOR() ([]byte, error) {
	return fxcbor.Marshal([]any{uint8(2), t.Label, t.Child})
}

func (t Leaf) MarshalCBOR() ([]byte, error) {
	return fxcbor.Marshal([]any{uint8(3), t.Value})
}

func (t Pruned) MarshalCBOR() ([]byte, error) {
	return fxcbor.Marshal([]any{uint8(4), t.Digest[:]})
}

// Format renders t as an indented outline, one node per line.
func Format(t Tree) string {
	var b strings.Builder
	format(&b, t, 0)
	return b.String()
}

func format(b *strings.Builder, t Tree, depth int) {
	indent := strings.Repeat("  ", depth)
	switch t := t.(type) {
	case Empty:
		fmt.Fprintf(b, "%sempty\n", indent)
	case Pruned:
		fmt.Fprintf(b, "%spruned %x\n", indent, t.Digest[:])
	case Leaf:
		fmt.Fprintf(b, "%sleaf %s\n", indent, formatBytes(t.Value))
	case Labeled:
		fmt.Fprintf(b, "%s%s\n", indent, formatBytes(t.Label))
		format(b, t.Child, depth+1)
	case Fork:
		format(b, t.Left, depth)
		format(b, t.Right, depth)
	}
}

func formatBytes(buf []byte) string {
	if utf8.Valid(buf) && !strings.ContainsFunc(string(buf), func(r rune) bool {
		return r < 0x20 || r == 0x7f
	}) {
		return fmt.Sprintf("%q", buf)
	}
	return fmt.Sprintf("0x%x", buf)
}
