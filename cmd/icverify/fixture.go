package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/ca"
	"github.com/jessiemongeon1/response-verification/certificate"
	"github.com/jessiemongeon1/response-verification/certification"
	"github.com/jessiemongeon1/response-verification/hashtree"
	"github.com/jessiemongeon1/response-verification/verifier"
)

// Fixture is a request and response pair together with what verifying
// it should yield.
type Fixture struct {
	Name      string `yaml:"name"`
	ServiceID string `yaml:"service_id"`

	// If set, certificate signatures are checked against this key.
	RootKey string `yaml:"root_key,omitempty"`

	// Nanoseconds since the Unix epoch.
	Now               uint64 `yaml:"now"`
	MaxCertTimeOffset uint64 `yaml:"max_cert_time_offset"`

	Request  FixtureRequest  `yaml:"request"`
	Response FixtureResponse `yaml:"response"`
	Expect   FixtureExpect   `yaml:"expect"`
}

type FixtureHeader struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type FixtureRequest struct {
	Method  string          `yaml:"method"`
	URL     string          `yaml:"url"`
	Headers []FixtureHeader `yaml:"headers,omitempty"`
	Body    string          `yaml:"body,omitempty"`
}

type FixtureResponse struct {
	Status  uint16          `yaml:"status"`
	Headers []FixtureHeader `yaml:"headers,omitempty"`
	Body    string          `yaml:"body,omitempty"`
}

type FixtureExpect struct {
	Passed bool `yaml:"passed"`

	// If set, verification must return an error instead of a result.
	Error bool `yaml:"error,omitempty"`
}

// Outcome of verifying a fixture.
type FixtureOutcome struct {
	Fixture *Fixture
	Result  *verification.CertificationResult
	Err     error
}

// Ok reports whether the outcome is the expected one.
func (o FixtureOutcome) Ok() bool {
	if o.Fixture.Expect.Error {
		return o.Err != nil
	}
	return o.Err == nil && o.Result.Passed == o.Fixture.Expect.Passed
}

func toFields(headers []FixtureHeader) []verification.HeaderField {
	ret := make([]verification.HeaderField, 0, len(headers))
	for _, h := range headers {
		ret = append(ret, verification.HeaderField{Name: h.Name, Value: h.Value})
	}
	return ret
}

func fromFields(fields []verification.HeaderField) []FixtureHeader {
	ret := make([]FixtureHeader, 0, len(fields))
	for _, f := range fields {
		ret = append(ret, FixtureHeader{Name: f.Name, Value: f.Value})
	}
	return ret
}

func (f *Fixture) request() *verification.Request {
	return &verification.Request{
		Method:  f.Request.Method,
		URL:     f.Request.URL,
		Headers: toFields(f.Request.Headers),
		Body:    []byte(f.Request.Body),
	}
}

func (f *Fixture) response() *verification.Response {
	return &verification.Response{
		StatusCode: f.Response.Status,
		Headers:    toFields(f.Response.Headers),
		Body:       []byte(f.Response.Body),
	}
}

// Verify checks the fixture with a verifier built from opts. If the
// fixture names a root key, signatures are required to verify against it.
func (f *Fixture) Verify(opts verifier.NewOpts) FixtureOutcome {
	ret := FixtureOutcome{Fixture: f}

	serviceID, err := hex.DecodeString(f.ServiceID)
	if err != nil {
		ret.Err = fmt.Errorf("parsing service_id: %w", err)
		return ret
	}
	if f.RootKey != "" {
		der, err := hex.DecodeString(f.RootKey)
		if err != nil {
			ret.Err = fmt.Errorf("parsing root_key: %w", err)
			return ret
		}
		rootKey, err := certificate.UnmarshalVerifier(der)
		if err != nil {
			ret.Err = fmt.Errorf("parsing root_key: %w", err)
			return ret
		}
		opts.Signatures = verifier.RootKeySignatures{RootKey: rootKey}
		opts.RequireSignature = true
	}

	v, err := verifier.New(opts)
	if err != nil {
		ret.Err = err
		return ret
	}
	ret.Result, ret.Err = v.Verify(f.request(), f.response(), serviceID,
		f.Now, f.MaxCertTimeOffset)
	return ret
}

// LoadFixtures reads a YAML file holding either a single fixture or a
// list of them.
func LoadFixtures(path string) ([]*Fixture, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(buf, &node); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("%s: no fixtures", path)
	}

	var ret []*Fixture
	if node.Content[0].Kind == yaml.SequenceNode {
		err = node.Content[0].Decode(&ret)
	} else {
		var f Fixture
		err = node.Content[0].Decode(&f)
		ret = append(ret, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for i, f := range ret {
		if f.Name == "" {
			f.Name = fmt.Sprintf("%s[%d]", path, i)
		}
	}
	return ret, nil
}

type IssueOpts struct {
	Name      string
	ServiceID []byte

	Request  *verification.Request
	Response *verification.Response

	// Defaults to 2.
	Version uint64

	// Certification expression for version 2. Defaults to certifying
	// the response with its Content-Type.
	Expression string

	Now               time.Time
	MaxCertTimeOffset time.Duration
}

func urlPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &verification.MalformedURLError{URL: rawURL, Err: err}
	}
	return u.Path, nil
}

// IssueFixture certifies the response with network and returns a
// fixture that verifies.
func IssueFixture(network *ca.Network, opts IssueOpts) (*Fixture, error) {
	if opts.Request == nil || opts.Response == nil {
		return nil, errors.New("Request and response are required")
	}
	if opts.Version == 0 {
		opts.Version = 2
	}
	path, err := urlPath(opts.Request.URL)
	if err != nil {
		return nil, err
	}

	resp := *opts.Response
	resp.Headers = append([]verification.HeaderField(nil), resp.Headers...)
	service := ca.NewService(opts.ServiceID)

	var exprPath []string
	if opts.Version == 1 {
		service.AddAsset(path, resp.Body)
	} else {
		text := opts.Expression
		if text == "" {
			text = certification.ResponseOnlyExpression(certification.ResponseScope{
				Headers: []string{"content-type"},
			}).String()
		}
		expr, err := certification.ParseExpression(text)
		if err != nil {
			return nil, fmt.Errorf("parsing expression: %w", err)
		}
		resp.Headers = append(resp.Headers, verification.HeaderField{
			Name:  "Ic-Certificate-Expression",
			Value: text,
		})
		c, err := certification.Compute(expr, opts.Request, &resp,
			verification.Sum(resp.Body))
		if err != nil {
			return nil, err
		}
		exprPath = certification.ExactPath(path)
		service.AddCertification(exprPath, c)
	}

	tree, err := service.Tree()
	if err != nil {
		return nil, err
	}
	cert, err := network.Certify(uint64(opts.Now.UnixNano()), service)
	if err != nil {
		return nil, err
	}
	hdrOpts := ca.HeaderOpts{
		Certificate: cert,
		Tree:        tree,
		ExprPath:    exprPath,
	}
	if opts.Version == 1 {
		hdrOpts.Tree = hashtree.Prune(tree,
			[][]byte{[]byte("http_assets"), []byte(path)})
	} else {
		hdrOpts.Version = opts.Version
	}
	hdr, err := ca.FormatHeader(hdrOpts)
	if err != nil {
		return nil, err
	}
	resp.Headers = append(resp.Headers, verification.HeaderField{
		Name:  "Ic-Certificate",
		Value: hdr,
	})

	return &Fixture{
		Name:              opts.Name,
		ServiceID:         hex.EncodeToString(opts.ServiceID),
		RootKey:           hex.EncodeToString(network.Root.PublicKey()),
		Now:               uint64(opts.Now.UnixNano()),
		MaxCertTimeOffset: uint64(opts.MaxCertTimeOffset.Nanoseconds()),
		Request: FixtureRequest{
			Method:  opts.Request.Method,
			URL:     opts.Request.URL,
			Headers: fromFields(opts.Request.Headers),
			Body:    string(opts.Request.Body),
		},
		Response: FixtureResponse{
			Status:  resp.StatusCode,
			Headers: fromFields(resp.Headers),
			Body:    string(resp.Body),
		},
		Expect: FixtureExpect{Passed: true},
	}, nil
}
