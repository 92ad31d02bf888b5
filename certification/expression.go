// Package certification describes which parts of an HTTP request and
// response a service certified, and computes the hashes it certified.
//
// The description is a certification expression in the default grammar:
//
//	default_certification(ValidationArgs{
//	  certification: Certification{
//	    no_request_certification: Empty{},
//	    response_certification: ResponseCertification{
//	      certified_response_headers: ResponseHeaderList{headers: ["content-type"]}
//	    }
//	  }
//	})
package certification

import (
	"fmt"
	"strings"

	"github.com/jessiemongeon1/response-verification"
)

// Kind of certification.
type Kind uint8

const (
	// Neither request nor response is certified.
	KindSkip Kind = iota

	// The response is certified, the request isn't.
	KindResponseOnly

	// Both request and response are certified.
	KindFull
)

func (k Kind) String() string {
	switch k {
	case KindSkip:
		return "skip"
	case KindResponseOnly:
		return "response-only"
	case KindFull:
		return "full"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// RequestScope lists the parts of the request that are certified besides
// its method and body.
type RequestScope struct {
	Headers         []string
	QueryParameters []string
}

// ResponseScope lists the response headers that are certified. If Exclude
// is set, Headers lists those that are not, and all others are.
type ResponseScope struct {
	Headers []string
	Exclude bool
}

// Expression is a parsed certification expression.
type Expression struct {
	Kind     Kind
	Request  RequestScope
	Response ResponseScope

	// Text the expression was parsed from, if any.
	source string
}

func SkipExpression() *Expression {
	return &Expression{Kind: KindSkip}
}

func ResponseOnlyExpression(response ResponseScope) *Expression {
	return &Expression{
		Kind:     KindResponseOnly,
		Response: response,
	}
}

func FullExpression(request RequestScope, response ResponseScope) *Expression {
	return &Expression{
		Kind:     KindFull,
		Request:  request,
		Response: response,
	}
}

// String returns the text of the expression: the text it was parsed from,
// or the canonical rendering otherwise.
func (e *Expression) String() string {
	if e.source != "" {
		return e.source
	}
	return e.Canonical()
}

// Canonical renders the expression in the compact form the certifying
// side puts in the Ic-Certificate-Expression header.
func (e *Expression) Canonical() string {
	var b strings.Builder
	b.WriteString("default_certification(ValidationArgs{")
	if e.Kind == KindSkip {
		b.WriteString("no_certification:Empty{}")
	} else {
		b.WriteString("certification:Certification{")
		if e.Kind == KindFull {
			b.WriteString("request_certification:RequestCertification{")
			b.WriteString("certified_request_headers:")
			writeList(&b, e.Request.Headers)
			b.WriteString(",certified_query_parameters:")
			writeList(&b, e.Request.QueryParameters)
			b.WriteString("}")
		} else {
			b.WriteString("no_request_certification:Empty{}")
		}
		b.WriteString(",response_certification:ResponseCertification{")
		if e.Response.Exclude {
			b.WriteString("response_header_exclusions:")
		} else {
			b.WriteString("certified_response_headers:")
		}
		b.WriteString("ResponseHeaderList{headers:")
		writeList(&b, e.Response.Headers)
		b.WriteString("}}}")
	}
	b.WriteString("})")
	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	b.WriteByte('[')
	for i, item := range items {
		if i != 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(item)
		b.WriteByte('"')
	}
	b.WriteByte(']')
}

// Hash returns the hash of the expression text, which is what the
// certification commits to.
func (e *Expression) Hash() verification.Hash {
	return verification.Sum([]byte(e.String()))
}
