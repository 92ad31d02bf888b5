// Package http connects the verifier to net/http: it converts requests and
// responses, verifies responses in a RoundTripper, and serves certified
// assets for testing.
package http

import (
	"net/http"
	"sort"

	"github.com/jessiemongeon1/response-verification"
)

func headerFields(h http.Header) []verification.HeaderField {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var ret []verification.HeaderField
	for _, name := range names {
		for _, value := range h[name] {
			ret = append(ret, verification.HeaderField{Name: name, Value: value})
		}
	}
	return ret
}

// FromRequest converts r, whose body has been read into body.
func FromRequest(r *http.Request, body []byte) *verification.Request {
	return &verification.Request{
		Method:  r.Method,
		URL:     r.URL.String(),
		Headers: headerFields(r.Header),
		Body:    body,
	}
}

// FromResponse converts r, whose body has been read into body.
func FromResponse(r *http.Response, body []byte) *verification.Response {
	return &verification.Response{
		StatusCode: uint16(r.StatusCode),
		Headers:    headerFields(r.Header),
		Body:       body,
	}
}

// ToHeader converts header fields back into an http.Header.
func ToHeader(fields []verification.HeaderField) http.Header {
	ret := make(http.Header, len(fields))
	for _, f := range fields {
		ret.Add(f.Name, f.Value)
	}
	return ret
}
