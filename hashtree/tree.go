// Package hashtree implements the hash trees that back certificates: a
// Merkle tree of labeled nodes whose root digest is signed, and from which
// witnesses can be produced by pruning subtrees.
package hashtree

import (
	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/cbor"
)

// Tree is a hash tree node: one of Empty, Pruned, Leaf, Labeled or Fork.
type Tree interface {
	isTree()
}

type Empty struct{}

// Pruned stands in for a subtree of which only the digest is known.
type Pruned struct {
	Digest verification.Hash
}

type Leaf struct {
	Value []byte
}

type Labeled struct {
	Label []byte
	Child Tree
}

type Fork struct {
	Left  Tree
	Right Tree
}

func (Empty) isTree()   {}
func (Pruned) isTree()  {}
func (Leaf) isTree()    {}
func (Labeled) isTree() {}
func (Fork) isTree()    {}

// Decode decodes a CBOR encoded hash tree with the default decoder.
func Decode(data []byte) (Tree, error) {
	return DecodeWith(cbor.NewDecoder(cbor.DecoderOpts{}), data)
}

// DecodeWith decodes a CBOR encoded hash tree with the given decoder.
func DecodeWith(d *cbor.Decoder, data []byte) (Tree, error) {
	v, err := d.Decode(data)
	if err != nil {
		return nil, err
	}
	return FromValue(v)
}

func malformed(reason string) error {
	return &verification.StructuralError{
		What:   "hash tree",
		Reason: reason,
	}
}

// FromValue builds a tree from its decoded wire form: arrays whose
// first element is a node tag.
func FromValue(v cbor.Value) (Tree, error) {
	arr, ok := v.(cbor.Array)
	if !ok || len(arr) == 0 {
		return nil, malformed("expected a non-empty array")
	}
	tag, ok := arr[0].(cbor.HashTreeTag)
	if !ok {
		return nil, malformed("expected a node tag")
	}

	switch tag {
	case cbor.TagEmpty:
		if len(arr) != 1 {
			return nil, malformed("empty node with content")
		}
		return Empty{}, nil

	case cbor.TagFork:
		if len(arr) != 3 {
			return nil, malformed("fork must have two children")
		}
		left, err := FromValue(arr[1])
		if err != nil {
			return nil, err
		}
		right, err := FromValue(arr[2])
		if err != nil {
			return nil, err
		}
		return Fork{Left: left, Right: right}, nil

	case cbor.TagLabeled:
		if len(arr) != 3 {
			return nil, malformed("labeled node must have a label and a child")
		}
		label, ok := arr[1].(cbor.ByteString)
		if !ok {
			return nil, malformed("label must be a byte string")
		}
		child, err := FromValue(arr[2])
		if err != nil {
			return nil, err
		}
		return Labeled{Label: []byte(label), Child: child}, nil

	case cbor.TagLeaf:
		if len(arr) != 2 {
			return nil, malformed("leaf must have a single value")
		}
		value, ok := arr[1].(cbor.ByteString)
		if !ok {
			return nil, malformed("leaf value must be a byte string")
		}
		return Leaf{Value: []byte(value)}, nil

	case cbor.TagPruned:
		if len(arr) != 2 {
			return nil, malformed("pruned node must have a single digest")
		}
		digest, ok := arr[1].(cbor.ByteString)
		if !ok || len(digest) != verification.HashLen {
			return nil, malformed("pruned digest must be 32 bytes")
		}
		var ret Pruned
		copy(ret.Digest[:], digest)
		return ret, nil
	}

	return nil, malformed("unknown node tag")
}
