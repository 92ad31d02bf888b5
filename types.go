// Package verification holds the value types shared by the response
// verification packages: requests, responses, results and errors.
//
// The verifier itself lives in the verifier subpackage.
package verification

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	HashLen = 32
)

// Hash is a SHA-256 digest.
type Hash [HashLen]byte

// Sum returns the SHA-256 digest of data.
func Sum(data []byte) Hash {
	return sha256.Sum256(data)
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

type HeaderField struct {
	Name  string
	Value string
}

type Request struct {
	Method  string
	URL     string
	Headers []HeaderField
	Body    []byte
}

type Response struct {
	StatusCode uint16
	Headers    []HeaderField
	Body       []byte
}

// Header returns the value of the first header with the given name,
// compared case-insensitively.
func (r *Response) Header(name string) (string, bool) {
	return lookupHeader(r.Headers, name)
}

// Header returns the value of the first header with the given name,
// compared case-insensitively.
func (r *Request) Header(name string) (string, bool) {
	return lookupHeader(r.Headers, name)
}

func lookupHeader(headers []HeaderField, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// CertificationResult is the outcome of verifying a response.
//
// Response is set only when some part of the response was certified: it
// contains exactly the certified parts. Reason explains why Passed is
// false; it's nil otherwise.
type CertificationResult struct {
	Passed   bool
	Response *Response
	Reason   error
}
