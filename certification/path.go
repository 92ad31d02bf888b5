package certification

import (
	"slices"
	"strings"
)

const (
	ExprPathRoot = "http_expr"

	// Terminates the expression path of a single URL path.
	ExactMatch = "<$>"

	// Terminates the expression path of every URL path below a prefix.
	PrefixMatch = "<*>"
)

func segments(urlPath string) []string {
	return strings.Split(strings.TrimPrefix(urlPath, "/"), "/")
}

// ExactPath returns the expression path certifying exactly urlPath.
func ExactPath(urlPath string) []string {
	ret := []string{ExprPathRoot}
	ret = append(ret, segments(urlPath)...)
	return append(ret, ExactMatch)
}

// PrefixPath returns the expression path certifying every URL path below
// prefix. The prefix "/" covers all paths.
func PrefixPath(prefix string) []string {
	ret := []string{ExprPathRoot}
	if trimmed := strings.Trim(prefix, "/"); trimmed != "" {
		ret = append(ret, strings.Split(trimmed, "/")...)
	}
	return append(ret, PrefixMatch)
}

// CandidatePaths returns the expression paths that may certify urlPath,
// most specific first: the exact path, then prefix paths of decreasing
// length.
func CandidatePaths(urlPath string) [][]string {
	segs := segments(urlPath)
	ret := [][]string{ExactPath(urlPath)}
	for i := len(segs); i >= 0; i-- {
		p := make([]string, 0, i+2)
		p = append(p, ExprPathRoot)
		p = append(p, segs[:i]...)
		ret = append(ret, append(p, PrefixMatch))
	}
	return ret
}

// CandidateIndex returns the position of exprPath in CandidatePaths of
// urlPath, or -1 if exprPath can't certify urlPath.
func CandidateIndex(exprPath []string, urlPath string) int {
	for i, candidate := range CandidatePaths(urlPath) {
		if slices.Equal(candidate, exprPath) {
			return i
		}
	}
	return -1
}
