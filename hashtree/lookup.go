package hashtree

import (
	"bytes"
	"fmt"
)

type LookupStatus uint8

const (
	// The path leads to a leaf.
	Found LookupStatus = iota

	// The tree proves there is nothing at the path.
	Absent

	// Part of the tree needed to decide was pruned.
	Unknown

	// The tree doesn't have the expected shape along the path.
	Error
)

func (s LookupStatus) String() string {
	switch s {
	case Found:
		return "found"
	case Absent:
		return "absent"
	case Unknown:
		return "unknown"
	case Error:
		return "error"
	}
	return fmt.Sprintf("LookupStatus(%d)", uint8(s))
}

type LookupResult struct {
	Status LookupStatus

	// Leaf value if Status is Found.
	Value []byte
}

// Lookup looks up the leaf at the given path of labels.
//
// Labels of siblings are expected to be in ascending byte order, as the
// certifying side produces them. This is not checked.
func Lookup(t Tree, path ...[]byte) LookupResult {
	node, status := LookupSubtree(t, path...)
	if status != Found {
		return LookupResult{Status: status}
	}
	switch node := node.(type) {
	case Leaf:
		return LookupResult{Status: Found, Value: node.Value}
	case Empty:
		return LookupResult{Status: Absent}
	case Pruned:
		return LookupResult{Status: Unknown}
	}
	return LookupResult{Status: Error}
}

// LookupSubtree returns the subtree at the given path of labels.
func LookupSubtree(t Tree, path ...[]byte) (Tree, LookupStatus) {
	for len(path) != 0 {
		res := findLabel(t, path[0])
		switch res.kind {
		case labelFound:
			t = res.tree
			path = path[1:]
		case labelUnknown:
			return nil, Unknown
		case labelError:
			return nil, Error
		default:
			return nil, Absent
		}
	}
	return t, Found
}

type labelKind uint8

const (
	labelFound labelKind = iota
	labelAbsent
	labelUnknown
	labelError

	// Label sorts before every label in the subtree.
	labelLess

	// Label sorts after every label in the subtree.
	labelGreater

	// The subtree holds no labels at all.
	labelNone
)

type labelResult struct {
	kind labelKind
	tree Tree
}

// Searches the labeled nodes directly below the forks of t for label.
func findLabel(t Tree, label []byte) labelResult {
	switch t := t.(type) {
	case Labeled:
		switch c := bytes.Compare(label, t.Label); {
		case c == 0:
			return labelResult{kind: labelFound, tree: t.Child}
		case c < 0:
			return labelResult{kind: labelLess}
		default:
			return labelResult{kind: labelGreater}
		}

	case Fork:
		left := findLabel(t.Left, label)
		switch left.kind {
		case labelNone:
			return findLabel(t.Right, label)
		case labelGreater:
			right := findLabel(t.Right, label)
			switch right.kind {
			case labelLess:
				// Falls between the two subtrees.
				return labelResult{kind: labelAbsent}
			case labelNone:
				return left
			}
			return right
		case labelUnknown:
			right := findLabel(t.Right, label)
			switch right.kind {
			case labelLess, labelNone:
				return left
			}
			return right
		}
		return left

	case Pruned:
		return labelResult{kind: labelUnknown}

	case Leaf:
		return labelResult{kind: labelError}
	}

	return labelResult{kind: labelNone}
}
