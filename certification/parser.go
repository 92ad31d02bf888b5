package certification

import (
	"fmt"
	"strings"
)

// Parser turns the text of an Ic-Certificate-Expression header into an
// Expression.
type Parser interface {
	ParseExpression(text string) (*Expression, error)
}

// DefaultParser parses the default certification grammar. It does not
// evaluate general CEL.
type DefaultParser struct{}

func (DefaultParser) ParseExpression(text string) (*Expression, error) {
	return ParseExpression(text)
}

// ParseError is returned for text that isn't a default certification
// expression.
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("certification expression at offset %d: %s", e.Offset, e.Reason)
}

// ParseExpression parses text in the default certification grammar.
// Whitespace between tokens is ignored; the hash of the returned
// expression is over text as given.
func ParseExpression(text string) (*Expression, error) {
	p := parser{s: text}
	e, err := p.expression()
	if err != nil {
		return nil, err
	}
	e.source = text
	return e, nil
}

type parser struct {
	s   string
	pos int
}

// A struct literal such as Empty{} or ResponseHeaderList{headers: [...]}.
// Field values are either *object or []string.
type object struct {
	offset int
	typ    string
	fields map[string]any
}

func (p *parser) fail(format string, args ...any) error {
	return &ParseError{Offset: p.pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) && strings.IndexByte(" \t\r\n", p.s[p.pos]) >= 0 {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) expect(c byte) error {
	if p.peek() != c {
		return p.fail("expected %q", c)
	}
	p.pos++
	return nil
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}

func (p *parser) ident() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && isIdentByte(p.s[p.pos]) {
		p.pos++
	}
	if start == p.pos {
		return "", p.fail("expected an identifier")
	}
	return p.s[start:p.pos], nil
}

func (p *parser) str() (string, error) {
	if err := p.expect('"'); err != nil {
		return "", err
	}
	end := strings.IndexByte(p.s[p.pos:], '"')
	if end < 0 {
		return "", p.fail("unterminated string")
	}
	ret := p.s[p.pos : p.pos+end]
	p.pos += end + 1
	return ret, nil
}

func (p *parser) list() ([]string, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}
	ret := []string{}
	for {
		if p.peek() == ']' {
			p.pos++
			return ret, nil
		}
		item, err := p.str()
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if err := p.expect(']'); err != nil {
			return nil, err
		}
		return ret, nil
	}
}

func (p *parser) value() (any, error) {
	if p.peek() == '[' {
		return p.list()
	}
	return p.object()
}

func (p *parser) object() (*object, error) {
	offset := p.pos
	typ, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	ret := &object{
		offset: offset,
		typ:    typ,
		fields: make(map[string]any),
	}
	for {
		if p.peek() == '}' {
			p.pos++
			return ret, nil
		}
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		if _, ok := ret.fields[name]; ok {
			return nil, p.fail("duplicate field %s", name)
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		ret.fields[name] = v
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if err := p.expect('}'); err != nil {
			return nil, err
		}
		return ret, nil
	}
}

func (p *parser) expression() (*Expression, error) {
	fn, err := p.ident()
	if err != nil {
		return nil, err
	}
	if fn != "default_certification" {
		return nil, &ParseError{Offset: 0, Reason: "unknown function " + fn}
	}
	if err := p.expect('('); err != nil {
		return nil, err
	}
	args, err := p.object()
	if err != nil {
		return nil, err
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	if p.peek() != 0 {
		return nil, p.fail("trailing characters")
	}
	return interpret(args)
}

func (o *object) fail(format string, args ...any) error {
	return &ParseError{Offset: o.offset, Reason: fmt.Sprintf(format, args...)}
}

// Checks the type of o and that it has no fields besides the given ones.
func (o *object) check(typ string, allowed ...string) error {
	if o.typ != typ {
		return o.fail("expected %s, got %s", typ, o.typ)
	}
	for name := range o.fields {
		found := false
		for _, a := range allowed {
			if a == name {
				found = true
				break
			}
		}
		if !found {
			return o.fail("unexpected field %s in %s", name, typ)
		}
	}
	return nil
}

func (o *object) child(name string) (*object, bool, error) {
	v, ok := o.fields[name]
	if !ok {
		return nil, false, nil
	}
	child, ok := v.(*object)
	if !ok {
		return nil, false, o.fail("field %s must be a struct", name)
	}
	return child, true, nil
}

func (o *object) list(name string) ([]string, error) {
	v, ok := o.fields[name]
	if !ok {
		return nil, o.fail("missing field %s", name)
	}
	ret, ok := v.([]string)
	if !ok {
		return nil, o.fail("field %s must be a list", name)
	}
	return ret, nil
}

// Exactly one of the two named fields must be present.
func (o *object) either(a, b string) (string, *object, error) {
	ca, okA, err := o.child(a)
	if err != nil {
		return "", nil, err
	}
	cb, okB, err := o.child(b)
	if err != nil {
		return "", nil, err
	}
	switch {
	case okA && !okB:
		return a, ca, nil
	case okB && !okA:
		return b, cb, nil
	}
	return "", nil, o.fail("expected exactly one of %s and %s", a, b)
}

func checkEmpty(o *object) error {
	return o.check("Empty")
}

func interpret(args *object) (*Expression, error) {
	if err := args.check("ValidationArgs", "no_certification", "certification"); err != nil {
		return nil, err
	}
	which, o, err := args.either("no_certification", "certification")
	if err != nil {
		return nil, err
	}
	if which == "no_certification" {
		if err := checkEmpty(o); err != nil {
			return nil, err
		}
		return SkipExpression(), nil
	}

	if err := o.check("Certification",
		"no_request_certification",
		"request_certification",
		"response_certification",
	); err != nil {
		return nil, err
	}

	var e Expression

	which, req, err := o.either("no_request_certification", "request_certification")
	if err != nil {
		return nil, err
	}
	if which == "no_request_certification" {
		if err := checkEmpty(req); err != nil {
			return nil, err
		}
		e.Kind = KindResponseOnly
	} else {
		if err := req.check("RequestCertification",
			"certified_request_headers",
			"certified_query_parameters",
		); err != nil {
			return nil, err
		}
		e.Kind = KindFull
		if e.Request.Headers, err = req.list("certified_request_headers"); err != nil {
			return nil, err
		}
		if e.Request.QueryParameters, err = req.list("certified_query_parameters"); err != nil {
			return nil, err
		}
	}

	resp, ok, err := o.child("response_certification")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, o.fail("missing field response_certification")
	}
	if err := resp.check("ResponseCertification",
		"certified_response_headers",
		"response_header_exclusions",
	); err != nil {
		return nil, err
	}
	which, headers, err := resp.either("certified_response_headers", "response_header_exclusions")
	if err != nil {
		return nil, err
	}
	if err := headers.check("ResponseHeaderList", "headers"); err != nil {
		return nil, err
	}
	e.Response.Exclude = which == "response_header_exclusions"
	if e.Response.Headers, err = headers.list("headers"); err != nil {
		return nil, err
	}
	return &e, nil
}
