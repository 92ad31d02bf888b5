// Package cbor decodes the subset of CBOR used to transport certificates
// and hash trees.
//
// The subset deviates from RFC 8949 in one respect: unsigned integers 0
// through 4 encoded inline are hash tree node tags, not integers. Encode
// the literal integers 0-4 with a one-byte argument (0x18 0x00, …) where
// they are meant as numbers.
package cbor

import (
	"math"
	"unicode/utf8"

	"github.com/jessiemongeon1/response-verification"
)

// Width is the number of bits used to encode an integer argument.
type Width uint8

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
	Width64 Width = 64
)

// Value is a decoded data item. It is one of Unsigned, Signed, ByteString,
// Array, Map or HashTreeTag.
type Value interface {
	isValue()
}

type Unsigned struct {
	Width Width
	Value uint64
}

// Signed is a negative integer with value -1 - Magnitude.
type Signed struct {
	Width     Width
	Magnitude uint64
}

// Int64 returns the value of s, and false if it doesn't fit an int64.
func (s Signed) Int64() (int64, bool) {
	if s.Magnitude > math.MaxInt64 {
		return 0, false
	}
	return -1 - int64(s.Magnitude), true
}

// ByteString holds both byte strings and text strings.
type ByteString []byte

type Array []Value

// Map from UTF-8 keys to values. Duplicate keys on the wire: last one wins.
type Map map[string]Value

// HashTreeTag marks the kind of the hash tree node in the array that
// contains it.
type HashTreeTag uint8

const (
	TagEmpty HashTreeTag = iota
	TagFork
	TagLabeled
	TagLeaf
	TagPruned
)

func (Unsigned) isValue()    {}
func (Signed) isValue()      {}
func (ByteString) isValue()  {}
func (Array) isValue()       {}
func (Map) isValue()         {}
func (HashTreeTag) isValue() {}

func (t HashTreeTag) String() string {
	switch t {
	case TagEmpty:
		return "empty"
	case TagFork:
		return "fork"
	case TagLabeled:
		return "labeled"
	case TagLeaf:
		return "leaf"
	case TagPruned:
		return "pruned"
	}
	return "unknown"
}

// StringArray interprets v as an array of UTF-8 strings.
//
// what names the field for the error message.
func StringArray(v Value, what string) ([]string, error) {
	arr, ok := v.(Array)
	if !ok {
		return nil, &verification.StructuralError{
			What:   what,
			Reason: "expected an array",
		}
	}
	ret := make([]string, 0, len(arr))
	for _, item := range arr {
		bs, ok := item.(ByteString)
		if !ok || !utf8.Valid(bs) {
			return nil, &verification.StructuralError{
				What:   what,
				Reason: "expected an array of strings",
			}
		}
		ret = append(ret, string(bs))
	}
	return ret, nil
}
