package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jessiemongeon1/response-verification/verifier"
)

// DefaultMaxCertTimeOffset is how far certificates may be off from the
// local clock.
const DefaultMaxCertTimeOffset = 5 * time.Minute

// ErrUncertified is the reason a response that verified without any of
// it being certified is rejected.
var ErrUncertified = errors.New("Response is not certified")

// VerificationError is returned by Transport for a response that didn't
// verify.
type VerificationError struct {
	URL    string
	Reason error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("response for %s failed verification: %v", e.URL, e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Reason }

// Transport verifies every response it receives. Verified responses are
// returned with only their certified headers; others result in an error.
// So does a response of which nothing is certified, such as a version 2
// response without a certification expression.
type Transport struct {
	ServiceID []byte

	// Fields below are optional.

	// Defaults to http.DefaultTransport.
	Base http.RoundTripper

	// Defaults to a verifier with default options.
	Verifier *verifier.Verifier

	// Defaults to DefaultMaxCertTimeOffset.
	MaxCertTimeOffset time.Duration

	// Defaults to time.Now.
	Now func() time.Time

	// Defaults to a no-op logger.
	Logger *zap.Logger
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var reqBody []byte
	if req.Body != nil && req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		reqBody, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	v := t.Verifier
	if v == nil {
		v, err = verifier.New(verifier.NewOpts{Logger: t.Logger})
		if err != nil {
			return nil, err
		}
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	maxOffset := t.MaxCertTimeOffset
	if maxOffset == 0 {
		maxOffset = DefaultMaxCertTimeOffset
	}

	res, err := v.Verify(
		FromRequest(req, reqBody),
		FromResponse(resp, body),
		t.ServiceID,
		uint64(now().UnixNano()),
		uint64(maxOffset.Nanoseconds()),
	)
	if err != nil {
		return nil, &VerificationError{URL: req.URL.String(), Reason: err}
	}
	if !res.Passed {
		return nil, &VerificationError{URL: req.URL.String(), Reason: res.Reason}
	}
	if res.Response == nil {
		t.logger().Debug("nothing certified", zap.String("url", req.URL.String()))
		return nil, &VerificationError{URL: req.URL.String(), Reason: ErrUncertified}
	}

	ret := &http.Response{
		Status:        resp.Status,
		StatusCode:    resp.StatusCode,
		Proto:         resp.Proto,
		ProtoMajor:    resp.ProtoMajor,
		ProtoMinor:    resp.ProtoMinor,
		Header:        ToHeader(res.Response.Headers),
		Body:          io.NopCloser(bytes.NewReader(res.Response.Body)),
		ContentLength: int64(len(res.Response.Body)),
		Request:       req,
	}
	return ret, nil
}

func (t *Transport) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}
