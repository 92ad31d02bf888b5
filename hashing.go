package verification

import (
	"crypto/sha256"

	"golang.org/x/crypto/cryptobyte"
)

// DomainSeparator returns the length-prefixed tag that is hashed in front
// of the content of each kind of hashed object.
func DomainSeparator(tag string) []byte {
	var b cryptobyte.Builder
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(tag))
	})
	return b.BytesOrPanic()
}

// SumWithDomain returns the SHA-256 digest of the domain separator for
// tag followed by the concatenation of parts.
func SumWithDomain(tag string, parts ...[]byte) Hash {
	var ret Hash
	h := sha256.New()
	_, _ = h.Write(DomainSeparator(tag))
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	h.Sum(ret[:0])
	return ret
}
