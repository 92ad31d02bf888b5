package verifier

import (
	"bytes"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/hashtree"
)

// Version 1 certifies the decoded body of each asset, by URL path.
type v1 struct{}

func (v1) verify(c *call) (*verification.CertificationResult, error) {
	u, err := url.Parse(c.req.URL)
	if err != nil {
		return nil, &verification.MalformedURLError{URL: c.req.URL, Err: err}
	}

	if c.hdr.Certificate == nil || c.hdr.Tree == nil {
		return c.fail(ErrMissingCertificate)
	}

	body, err := c.decodeBody()
	if err != nil {
		return nil, err
	}
	bodyHash := verification.Sum(body)

	cert, tree, err := c.decodeCertificate()
	if err != nil {
		return nil, err
	}
	if reason := c.checkCertificate(cert, tree); reason != nil {
		return c.fail(reason)
	}

	res := hashtree.Lookup(tree, []byte("http_assets"), []byte(u.Path))
	if res.Status != hashtree.Found {
		c.log.Debug("asset not in tree, falling back to /index.html",
			zap.String("path", u.Path),
			zap.Stringer("status", res.Status))
		res = hashtree.Lookup(tree, []byte("http_assets"), []byte("/index.html"))
	}
	if res.Status != hashtree.Found {
		return c.fail(fmt.Errorf("%w: asset %s", verification.ErrVerificationFailed, res.Status))
	}
	if !bytes.Equal(res.Value, bodyHash[:]) {
		return c.fail(fmt.Errorf("%w: body hash doesn't match", verification.ErrVerificationFailed))
	}

	return &verification.CertificationResult{
		Passed: true,
		Response: &verification.Response{
			StatusCode: c.resp.StatusCode,
			Body:       c.resp.Body,
		},
	}, nil
}
