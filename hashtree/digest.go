package hashtree

import (
	"github.com/jessiemongeon1/response-verification"
)

const (
	emptyDomain   = "ic-hashtree-empty"
	leafDomain    = "ic-hashtree-leaf"
	labeledDomain = "ic-hashtree-labeled"
	forkDomain    = "ic-hashtree-fork"
)

// Digest reconstructs the root digest of t.
func Digest(t Tree) verification.Hash {
	switch t := t.(type) {
	case Empty:
		return verification.SumWithDomain(emptyDomain)
	case Pruned:
		return t.Digest
	case Leaf:
		return verification.SumWithDomain(leafDomain, t.Value)
	case Labeled:
		child := Digest(t.Child)
		return verification.SumWithDomain(labeledDomain, t.Label, child[:])
	case Fork:
		left := Digest(t.Left)
		right := Digest(t.Right)
		return verification.SumWithDomain(forkDomain, left[:], right[:])
	}
	panic("unknown hash tree node")
}
