package verifier

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/cbor"
	"github.com/jessiemongeon1/response-verification/certification"
	"github.com/jessiemongeon1/response-verification/hashtree"
)

// Version 2 certifies the parts of a request and response named by a
// certification expression, under an expression path.
type v2 struct{}

func (v2) verify(c *call) (*verification.CertificationResult, error) {
	// Without an expression nothing is certified, and the URL isn't looked at.
	exprText, ok := c.resp.Header(certification.ExpressionHeader)
	if !ok {
		c.log.Debug("no certification expression")
		return &verification.CertificationResult{Passed: true}, nil
	}
	expr, err := c.v.opts.Expressions.ParseExpression(exprText)
	if err != nil {
		c.log.Debug("unparseable certification expression", zap.Error(err))
		return &verification.CertificationResult{Passed: true}, nil
	}

	u, err := url.Parse(c.req.URL)
	if err != nil {
		return nil, &verification.MalformedURLError{URL: c.req.URL, Err: err}
	}

	if c.hdr.Certificate == nil || c.hdr.Tree == nil || c.hdr.ExprPath == nil {
		return c.fail(ErrMissingCertificate)
	}

	exprPathValue, err := c.v.decoder.Decode(c.hdr.ExprPath)
	if err != nil {
		return nil, fmt.Errorf("expr_path: %w", err)
	}
	exprPath, err := cbor.StringArray(exprPathValue, "expr_path")
	if err != nil {
		return nil, err
	}
	idx := certification.CandidateIndex(exprPath, u.Path)
	if idx < 0 {
		return c.fail(fmt.Errorf("%w: %s for %s", ErrInvalidExprPath,
			strings.Join(exprPath, "/"), u.Path))
	}

	cert, tree, err := c.decodeCertificate()
	if err != nil {
		return nil, err
	}
	if reason := c.checkCertificate(cert, tree); reason != nil {
		return c.fail(reason)
	}

	// A more specific expression path would take precedence, so the tree
	// must prove that none exists.
	for _, more := range certification.CandidatePaths(u.Path)[:idx] {
		_, status := hashtree.LookupSubtree(tree, hashtree.Labels(more...)...)
		if status != hashtree.Absent {
			return c.fail(fmt.Errorf("%w: more specific %s is %s", ErrInvalidExprPath,
				strings.Join(more, "/"), status))
		}
	}

	var bodyHash verification.Hash
	if expr.Kind != certification.KindSkip {
		body, err := c.decodeBody()
		if err != nil {
			return nil, err
		}
		bodyHash = verification.Sum(body)
	}
	computed, err := certification.Compute(expr, c.req, c.resp, bodyHash)
	if err != nil {
		return nil, err
	}

	res := hashtree.Lookup(tree, hashtree.Labels(exprPath...)...)
	if res.Status != hashtree.Found {
		return c.fail(fmt.Errorf("%w: expression path %s",
			verification.ErrVerificationFailed, res.Status))
	}
	digest := computed.Digest()
	if !bytes.Equal(res.Value, digest[:]) {
		return c.fail(fmt.Errorf("%w: %s certification doesn't match",
			verification.ErrVerificationFailed, expr.Kind))
	}

	if expr.Kind == certification.KindSkip {
		return &verification.CertificationResult{Passed: true}, nil
	}
	return &verification.CertificationResult{
		Passed: true,
		Response: &verification.Response{
			StatusCode: c.resp.StatusCode,
			Headers:    certification.CertifiedHeaders(c.resp, expr.Response),
			Body:       c.resp.Body,
		},
	}, nil
}
