// Package verifier checks that an HTTP response is what a service
// certified, given the root of trust of the network and the current time.
package verifier

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/cbor"
	"github.com/jessiemongeon1/response-verification/certificate"
	"github.com/jessiemongeon1/response-verification/certification"
	"github.com/jessiemongeon1/response-verification/hashtree"
)

const (
	DefaultMinVersion = 1
	DefaultMaxVersion = 2
)

var (
	ErrMissingCertificate = errors.New("Missing certificate, tree or expression path")
	ErrInvalidExprPath    = errors.New("Expression path is not valid for the request path")
)

type NewOpts struct {
	// Fields below are optional.

	// Range of supported versions. Defaults to 1 through 2.
	MinVersion uint64
	MaxVersion uint64

	// Checks certificate signatures. Defaults to UnverifiedSignatures.
	Signatures SignatureVerifier

	// If set, a certificate whose signature wasn't verified fails.
	RequireSignature bool

	Expressions certification.Parser
	Headers     HeaderSplitter
	Bodies      BodyDecoder

	// Defaults to DefaultMaxBodySize.
	MaxBodySize int64

	// Maximum nesting of CBOR input. Defaults to cbor.DefaultMaxDepth.
	MaxDepth int

	// Defaults to a no-op logger.
	Logger *zap.Logger
}

// Verifier checks responses. It holds no state besides its configuration,
// and can be used concurrently.
type Verifier struct {
	opts    NewOpts
	decoder *cbor.Decoder
}

func New(opts NewOpts) (*Verifier, error) {
	// Set defaults
	if opts.MinVersion == 0 {
		opts.MinVersion = DefaultMinVersion
	}
	if opts.MaxVersion == 0 {
		opts.MaxVersion = DefaultMaxVersion
	}
	if opts.Signatures == nil {
		opts.Signatures = UnverifiedSignatures{}
	}
	if opts.Expressions == nil {
		opts.Expressions = certification.DefaultParser{}
	}
	if opts.Headers == nil {
		opts.Headers = DefaultHeaderSplitter{}
	}
	if opts.Bodies == nil {
		opts.Bodies = DefaultBodyDecoder{}
	}
	if opts.MaxBodySize == 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	// Check options
	if opts.MinVersion > opts.MaxVersion {
		return nil, errors.New("MinVersion has to be at most MaxVersion")
	}
	if opts.MaxBodySize < 0 {
		return nil, errors.New("MaxBodySize has to be positive")
	}

	return &Verifier{
		opts:    opts,
		decoder: cbor.NewDecoder(cbor.DecoderOpts{MaxDepth: opts.MaxDepth}),
	}, nil
}

var defaultVerifier, _ = New(NewOpts{})

// Verify checks resp with the default options.
func Verify(req *verification.Request, resp *verification.Response,
	serviceID []byte, now, maxCertTimeOffset uint64) (*verification.CertificationResult, error) {
	return defaultVerifier.Verify(req, resp, serviceID, now, maxCertTimeOffset)
}

// Verify checks that resp, as a response to req, was certified by the
// given service. Times are in nanoseconds since the Unix epoch.
//
// An error is returned for input that can't be parsed or a version that
// isn't supported. A response that parses but doesn't verify yields a
// result with Passed unset and a Reason.
func (v *Verifier) Verify(req *verification.Request, resp *verification.Response,
	serviceID []byte, now, maxCertTimeOffset uint64) (*verification.CertificationResult, error) {
	hdr := &CertificateHeader{}
	if value, ok := resp.Header(certification.CertificateHeader); ok {
		var err error
		hdr, err = v.opts.Headers.Split(value)
		if err != nil {
			return nil, err
		}
	}

	version := v.opts.MinVersion
	if hdr.Version != nil {
		version = *hdr.Version
	}

	c := &call{
		v:         v,
		req:       req,
		resp:      resp,
		serviceID: serviceID,
		now:       now,
		maxOffset: maxCertTimeOffset,
		hdr:       hdr,
		log: v.opts.Logger.With(
			zap.Uint64("version", version),
			zap.String("service", hex.EncodeToString(serviceID)),
			zap.String("url", req.URL),
		),
	}
	return v.protocol(version).verify(c)
}

// One verification protocol version.
type protocol interface {
	verify(c *call) (*verification.CertificationResult, error)
}

func (v *Verifier) protocol(version uint64) protocol {
	if version >= v.opts.MinVersion && version <= v.opts.MaxVersion {
		switch version {
		case 1:
			return v1{}
		case 2:
			return v2{}
		}
	}
	return unsupported{
		min:       v.opts.MinVersion,
		max:       v.opts.MaxVersion,
		requested: version,
	}
}

type unsupported struct {
	min, max, requested uint64
}

func (p unsupported) verify(*call) (*verification.CertificationResult, error) {
	return nil, &verification.UnsupportedVersionError{
		Min:       p.min,
		Max:       p.max,
		Requested: p.requested,
	}
}

// State of a single call to Verify.
type call struct {
	v         *Verifier
	req       *verification.Request
	resp      *verification.Response
	serviceID []byte
	now       uint64
	maxOffset uint64
	hdr       *CertificateHeader
	log       *zap.Logger
}

func (c *call) fail(reason error) (*verification.CertificationResult, error) {
	c.log.Debug("verification failed", zap.Error(reason))
	return &verification.CertificationResult{Reason: reason}, nil
}

func (c *call) decodeBody() ([]byte, error) {
	encoding, _ := c.resp.Header("Content-Encoding")
	body, err := c.v.opts.Bodies.DecodeBody(c.resp.Body, encoding, c.v.opts.MaxBodySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", verification.ErrBodyDecode, encoding, err)
	}
	return body, nil
}

func (c *call) decodeCertificate() (*certificate.Certificate, hashtree.Tree, error) {
	cert, err := certificate.DecodeWith(c.v.decoder, c.hdr.Certificate)
	if err != nil {
		return nil, nil, fmt.Errorf("certificate: %w", err)
	}
	tree, err := hashtree.DecodeWith(c.v.decoder, c.hdr.Tree)
	if err != nil {
		return nil, nil, fmt.Errorf("tree: %w", err)
	}
	return cert, tree, nil
}

// Checks the time and signature of cert, and that it certifies tree as the
// data of the service. Returns the reason it doesn't.
func (c *call) checkCertificate(cert *certificate.Certificate, tree hashtree.Tree) error {
	if err := certificate.ValidateTime(cert, c.now, c.maxOffset); err != nil {
		return err
	}

	outcome, err := c.v.opts.Signatures.VerifySignature(cert, c.serviceID)
	if err != nil {
		return err
	}
	if outcome != SignatureVerified {
		if c.v.opts.RequireSignature {
			return ErrSignatureUnverified
		}
		c.log.Debug("certificate signature not verified")
	}

	res := certificate.CertifiedData(cert, c.serviceID)
	if res.Status != hashtree.Found {
		return fmt.Errorf("%w: certified data %s", verification.ErrVerificationFailed, res.Status)
	}
	root := hashtree.Digest(tree)
	if !bytes.Equal(res.Value, root[:]) {
		return fmt.Errorf("%w: tree doesn't match certified data", verification.ErrVerificationFailed)
	}
	return nil
}
