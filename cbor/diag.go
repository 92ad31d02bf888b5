package cbor

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Diagnostic renders v in a notation close to RFC 8949 diagnostic
// notation. Hash tree tags are rendered as <empty>, <fork>, …
func Diagnostic(v Value) string {
	var b strings.Builder
	writeDiagnostic(&b, v)
	return b.String()
}

func writeDiagnostic(b *strings.Builder, v Value) {
	switch v := v.(type) {
	case Unsigned:
		fmt.Fprintf(b, "%d", v.Value)
	case Signed:
		if n, ok := v.Int64(); ok {
			fmt.Fprintf(b, "%d", n)
		} else {
			fmt.Fprintf(b, "-1-%d", v.Magnitude)
		}
	case ByteString:
		if utf8.Valid(v) && isPrintable(v) {
			fmt.Fprintf(b, "%q", string(v))
		} else {
			fmt.Fprintf(b, "h'%x'", []byte(v))
		}
	case Array:
		b.WriteString("[")
		for i, item := range v {
			if i != 0 {
				b.WriteString(", ")
			}
			writeDiagnostic(b, item)
		}
		b.WriteString("]")
	case Map:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for i, k := range keys {
			if i != 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "%q: ", k)
			writeDiagnostic(b, v[k])
		}
		b.WriteString("}")
	case HashTreeTag:
		fmt.Fprintf(b, "<%s>", v)
	default:
		b.WriteString("?")
	}
}

func isPrintable(buf []byte) bool {
	for _, c := range string(buf) {
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}
