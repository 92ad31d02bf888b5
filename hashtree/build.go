package hashtree

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
)

// Branch returns a balanced tree of forks over the given children, each
// labeled with its key. Labels are sorted in ascending byte order, as
// Lookup expects. An empty map yields Empty.
func Branch(children map[string]Tree) Tree {
	labels := make([]string, 0, len(children))
	for label := range children {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	nodes := make([]Tree, 0, len(labels))
	for _, label := range labels {
		nodes = append(nodes, Labeled{
			Label: []byte(label),
			Child: children[label],
		})
	}
	return forks(nodes)
}

func forks(nodes []Tree) Tree {
	switch len(nodes) {
	case 0:
		return Empty{}
	case 1:
		return nodes[0]
	}
	mid := (len(nodes) + 1) / 2
	return Fork{
		Left:  forks(nodes[:mid]),
		Right: forks(nodes[mid:]),
	}
}

// Prune returns a witness of t: a tree with the same digest in which only
// the nodes along the given paths are kept. Everything else is replaced
// by Pruned nodes. A path that ends on a subtree keeps that subtree whole.
func Prune(t Tree, paths ...[][]byte) Tree {
	return prune(t, paths)
}

func prune(t Tree, paths [][][]byte) Tree {
	if len(paths) == 0 {
		return Pruned{Digest: Digest(t)}
	}
	for _, path := range paths {
		if len(path) == 0 {
			return t
		}
	}

	switch t := t.(type) {
	case Labeled:
		var rest [][][]byte
		for _, path := range paths {
			if bytes.Equal(path[0], t.Label) {
				rest = append(rest, path[1:])
			}
		}
		if len(rest) == 0 {
			return Pruned{Digest: Digest(t)}
		}
		return Labeled{Label: t.Label, Child: prune(t.Child, rest)}

	case Fork:
		left := prune(t.Left, paths)
		right := prune(t.Right, paths)
		_, leftPruned := left.(Pruned)
		_, rightPruned := right.(Pruned)
		if leftPruned && rightPruned {
			return Pruned{Digest: Digest(t)}
		}
		return Fork{Left: left, Right: right}

	case Empty, Pruned:
		return t
	}

	return Pruned{Digest: Digest(t)}
}

// Entry is a leaf value at the end of a path of labels.
type Entry struct {
	Path  [][]byte
	Value []byte
}

// Labels converts string labels into a path.
func Labels(labels ...string) [][]byte {
	ret := make([][]byte, len(labels))
	for i, l := range labels {
		ret[i] = []byte(l)
	}
	return ret
}

// FromEntries builds the tree holding exactly the given entries. Entries
// whose path is a strict prefix of another entry's path are rejected. If
// two entries share a path, the last one wins.
func FromEntries(entries ...Entry) (Tree, error) {
	if len(entries) == 0 {
		return Empty{}, nil
	}

	var leaf *Entry
	groups := make(map[string][]Entry)
	for i := range entries {
		e := entries[i]
		if len(e.Path) == 0 {
			leaf = &entries[i]
			continue
		}
		key := string(e.Path[0])
		groups[key] = append(groups[key], Entry{Path: e.Path[1:], Value: e.Value})
	}

	if leaf != nil {
		if len(groups) != 0 {
			return nil, errors.New("Leaf and subtree at the same path")
		}
		return Leaf{Value: leaf.Value}, nil
	}

	children := make(map[string]Tree, len(groups))
	for label, group := range groups {
		child, err := FromEntries(group...)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", label, err)
		}
		children[label] = child
	}
	return Branch(children), nil
}
