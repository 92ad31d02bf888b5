// Package rihash computes representation-independent hashes of structured
// values: the digest depends on the logical content only, never on how it
// was encoded on the wire.
package rihash

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/multiformats/go-varint"

	"github.com/jessiemongeon1/response-verification"
)

// Value is one of String, Bytes, Uint, Array or Map.
type Value interface {
	isValue()
}

type String string

type Bytes []byte

// Uint is hashed as its unsigned LEB128 encoding.
type Uint uint64

type Array []Value

// Map is an ordered list of named values. Order doesn't affect the hash,
// and duplicate names are kept.
type Map []Pair

type Pair struct {
	Name  string
	Value Value
}

func (String) isValue() {}
func (Bytes) isValue()  {}
func (Uint) isValue()   {}
func (Array) isValue()  {}
func (Map) isValue()    {}

// Hash returns the representation-independent hash of v.
func Hash(v Value) verification.Hash {
	switch v := v.(type) {
	case String:
		return verification.Sum([]byte(v))
	case Bytes:
		return verification.Sum(v)
	case Uint:
		return verification.Sum(varint.ToUvarint(uint64(v)))
	case Array:
		return HashArray(v)
	case Map:
		return HashMap(v)
	}
	panic(fmt.Sprintf("rihash: unsupported value %T", v))
}

// HashArray hashes the concatenation of the hashes of values, in order.
func HashArray(values []Value) verification.Hash {
	var ret verification.Hash
	h := sha256.New()
	for _, v := range values {
		d := Hash(v)
		_, _ = h.Write(d[:])
	}
	h.Sum(ret[:0])
	return ret
}

// HashMap hashes each pair as the hash of its name followed by the hash of
// its value, and then hashes the concatenation of those in ascending
// order.
func HashMap(pairs []Pair) verification.Hash {
	entries := make([][]byte, 0, len(pairs))
	for _, p := range pairs {
		name := verification.Sum([]byte(p.Name))
		value := Hash(p.Value)
		entry := make([]byte, 0, 2*verification.HashLen)
		entry = append(entry, name[:]...)
		entry = append(entry, value[:]...)
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i], entries[j]) < 0
	})

	var ret verification.Hash
	h := sha256.New()
	for _, e := range entries {
		_, _ = h.Write(e)
	}
	h.Sum(ret[:0])
	return ret
}
