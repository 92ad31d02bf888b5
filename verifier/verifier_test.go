package verifier

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap/zaptest"

	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/ca"
	"github.com/jessiemongeon1/response-verification/certification"
	"github.com/jessiemongeon1/response-verification/hashtree"
)

const maxOffset = 300_000_000_000

var (
	now       = uint64(1_700_000_000_000_000_000)
	subnetID  = []byte{0xa, 0xb}
	serviceID = []byte{0, 0, 0, 0, 0, 0, 0, 7, 1, 1}
	ranges    = []ca.Range{{
		Low:  []byte{0, 0, 0, 0, 0, 0, 0, 0, 1, 1},
		High: []byte{0, 0, 0, 0, 0, 0, 0, 9, 1, 1},
	}}
)

func authority(t *testing.T, b byte) *ca.Authority {
	a, err := ca.NewAuthority(bytes.Repeat([]byte{b}, ca.MinSeedSize))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func testNetwork(t *testing.T) *ca.Network {
	return &ca.Network{Root: authority(t, 1)}
}

func delegatedNetwork(t *testing.T) *ca.Network {
	return &ca.Network{
		Root:     authority(t, 1),
		Subnet:   authority(t, 2),
		SubnetID: subnetID,
		Ranges:   ranges,
	}
}

func testVerifier(t *testing.T, opts NewOpts) *Verifier {
	opts.Logger = zaptest.NewLogger(t)
	v, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// Returns the Ic-Certificate header for the tree of svc.
func certify(t *testing.T, net *ca.Network, svc *ca.Service, certTime uint64,
	version uint64, exprPath []string) string {
	cert, err := net.Certify(certTime, svc)
	if err != nil {
		t.Fatal(err)
	}
	tree, err := svc.Tree()
	if err != nil {
		t.Fatal(err)
	}
	hdr, err := ca.FormatHeader(ca.HeaderOpts{
		Certificate: cert,
		Tree:        tree,
		Version:     version,
		ExprPath:    exprPath,
	})
	if err != nil {
		t.Fatal(err)
	}
	return hdr
}

func get(url string) *verification.Request {
	return &verification.Request{Method: "GET", URL: url}
}

// Returns a response for body certified as a version 1 asset at path.
func v1Response(t *testing.T, net *ca.Network, path string, body []byte,
	certTime uint64) *verification.Response {
	svc := ca.NewService(serviceID)
	svc.AddAsset(path, body)
	return &verification.Response{
		StatusCode: 200,
		Headers: []verification.HeaderField{
			{Name: "Ic-Certificate", Value: certify(t, net, svc, certTime, 0, nil)},
		},
		Body: body,
	}
}

// Adds the expression and certificate headers to resp, certifying it
// under expr at exprPath.
func certifyV2(t *testing.T, net *ca.Network, expr *certification.Expression,
	exprPath []string, req *verification.Request, resp *verification.Response) {
	resp.Headers = append(resp.Headers, verification.HeaderField{
		Name:  "Ic-Certificate-Expression",
		Value: expr.String(),
	})
	c, err := certification.Compute(expr, req, resp, verification.Sum(resp.Body))
	if err != nil {
		t.Fatal(err)
	}
	svc := ca.NewService(serviceID)
	svc.AddCertification(exprPath, c)
	resp.Headers = append(resp.Headers, verification.HeaderField{
		Name:  "Ic-Certificate",
		Value: certify(t, net, svc, now, 2, exprPath),
	})
}

func htmlResponse() *verification.Response {
	return &verification.Response{
		StatusCode: 200,
		Headers: []verification.HeaderField{
			{Name: "Content-Type", Value: "text/html"},
			{Name: "Cache-Control", Value: "no-cache"},
		},
		Body: []byte("<html>hello</html>"),
	}
}

func expectFailure(t *testing.T, res *verification.CertificationResult, err error, reason error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Passed || res.Response != nil {
		t.Fatalf("expected failure, got %+v", res)
	}
	if reason != nil && !errors.Is(res.Reason, reason) {
		t.Fatalf("expected reason %v, got %v", reason, res.Reason)
	}
}

func TestV1NoCertificate(t *testing.T) {
	res, err := Verify(get("/"), htmlResponse(), serviceID, now, maxOffset)
	expectFailure(t, res, err, ErrMissingCertificate)
}

func TestV1(t *testing.T) {
	body := []byte("console.log('hello')")
	resp := v1Response(t, testNetwork(t), "/app.js", body, now)

	res, err := testVerifier(t, NewOpts{}).Verify(get("https://example.com/app.js"),
		resp, serviceID, now, maxOffset)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || res.Reason != nil {
		t.Fatalf("expected success: %v", res.Reason)
	}
	if res.Response.StatusCode != 200 || !bytes.Equal(res.Response.Body, body) ||
		len(res.Response.Headers) != 0 {
		t.Fatalf("unexpected response %+v", res.Response)
	}
}

func TestV1IndexFallback(t *testing.T) {
	body := []byte("<html>app</html>")
	resp := v1Response(t, testNetwork(t), "/index.html", body, now)
	res, err := Verify(get("/some/route"), resp, serviceID, now, maxOffset)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Fatalf("expected fallback to /index.html: %v", res.Reason)
	}
}

func TestV1Gzip(t *testing.T) {
	body := bytes.Repeat([]byte("compressible "), 100)
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	resp := v1Response(t, testNetwork(t), "/text", body, now)
	resp.Body = buf.Bytes()
	resp.Headers = append(resp.Headers, verification.HeaderField{
		Name:  "Content-Encoding",
		Value: "gzip",
	})
	res, err := Verify(get("/text"), resp, serviceID, now, maxOffset)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || !bytes.Equal(res.Response.Body, buf.Bytes()) {
		t.Fatalf("expected success with the encoded body: %v", res.Reason)
	}

	resp.Body = []byte("not gzip")
	_, err = Verify(get("/text"), resp, serviceID, now, maxOffset)
	if !errors.Is(err, verification.ErrBodyDecode) {
		t.Fatalf("expected ErrBodyDecode, got %v", err)
	}
}

func TestV1Tampered(t *testing.T) {
	resp := v1Response(t, testNetwork(t), "/app.js", []byte("good"), now)
	resp.Body = []byte("evil")
	res, err := Verify(get("/app.js"), resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, verification.ErrVerificationFailed)

	// Certified for another service.
	resp = v1Response(t, testNetwork(t), "/app.js", []byte("good"), now)
	res, err = Verify(get("/app.js"), resp, []byte{1}, now, maxOffset)
	expectFailure(t, res, err, verification.ErrVerificationFailed)
}

func TestTimeBoundary(t *testing.T) {
	net := testNetwork(t)
	for _, tc := range []struct {
		certTime uint64
		passed   bool
	}{
		{now, true},
		{now - maxOffset, true},
		{now + maxOffset, true},
		{now - maxOffset - 1, false},
		{now + maxOffset + 1, false},
	} {
		resp := v1Response(t, net, "/", []byte("x"), tc.certTime)
		res, err := Verify(get("/"), resp, serviceID, now, maxOffset)
		if err != nil {
			t.Fatal(err)
		}
		if res.Passed != tc.passed {
			t.Fatalf("certificate time %d: passed=%v (%v)", tc.certTime, res.Passed, res.Reason)
		}
		if !tc.passed {
			var te *verification.TimeValidationError
			if !errors.As(res.Reason, &te) {
				t.Fatalf("expected a TimeValidationError, got %v", res.Reason)
			}
		}
	}
}

func TestIdempotent(t *testing.T) {
	resp := v1Response(t, testNetwork(t), "/a", []byte("a"), now)
	v := testVerifier(t, NewOpts{})
	res1, err1 := v.Verify(get("/a"), resp, serviceID, now, maxOffset)
	res2, err2 := v.Verify(get("/a"), resp, serviceID, now, maxOffset)
	if err1 != nil || err2 != nil {
		t.Fatal(err1, err2)
	}
	if res1.Passed != res2.Passed || !bytes.Equal(res1.Response.Body, res2.Response.Body) {
		t.Fatal("results differ")
	}
}

func TestUnsupportedVersion(t *testing.T) {
	resp := htmlResponse()
	resp.Headers = append(resp.Headers, verification.HeaderField{
		Name:  "Ic-Certificate",
		Value: "version=3",
	})
	_, err := Verify(get("/"), resp, serviceID, now, maxOffset)
	var ue *verification.UnsupportedVersionError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedVersionError, got %v", err)
	}
	if ue.Min != 1 || ue.Max != 2 || ue.Requested != 3 {
		t.Fatalf("unexpected %+v", ue)
	}

	// An absent version defaults to the minimum: here version 2, which
	// passes a response without an expression.
	v := testVerifier(t, NewOpts{MinVersion: 2})
	res, err := v.Verify(get("/"), htmlResponse(), serviceID, now, maxOffset)
	if err != nil || !res.Passed || res.Response != nil {
		t.Fatalf("absent version should default to the minimum: %v %+v", err, res)
	}
	resp.Headers[len(resp.Headers)-1].Value = "version=1"
	_, err = v.Verify(get("/"), resp, serviceID, now, maxOffset)
	if !errors.As(err, &ue) || ue.Requested != 1 {
		t.Fatalf("expected version 1 to be unsupported: %v", err)
	}

	if _, err := New(NewOpts{MinVersion: 3, MaxVersion: 2}); err == nil {
		t.Fatal("expected an error for MinVersion > MaxVersion")
	}
}

func TestMalformedURL(t *testing.T) {
	resp := v1Response(t, testNetwork(t), "/", []byte("x"), now)
	_, err := Verify(get("http://[::1"), resp, serviceID, now, maxOffset)
	var me *verification.MalformedURLError
	if !errors.As(err, &me) {
		t.Fatalf("expected MalformedURLError, got %v", err)
	}
}

func TestMalformedCertificate(t *testing.T) {
	resp := htmlResponse()
	resp.Headers = append(resp.Headers, verification.HeaderField{
		Name:  "Ic-Certificate",
		Value: "certificate=:2dn3:, tree=:gQA=:",
	})
	_, err := Verify(get("/"), resp, serviceID, now, maxOffset)
	var de *verification.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestV2NoExpression(t *testing.T) {
	resp := htmlResponse()
	resp.Headers = append(resp.Headers, verification.HeaderField{
		Name:  "Ic-Certificate",
		Value: "version=2",
	})
	res, err := Verify(get("/"), resp, serviceID, now, maxOffset)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || res.Response != nil {
		t.Fatalf("expected passed without response, got %+v", res)
	}

	resp.Headers = append(resp.Headers, verification.HeaderField{
		Name:  "Ic-Certificate-Expression",
		Value: "not an expression",
	})
	res, err = Verify(get("/"), resp, serviceID, now, maxOffset)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || res.Response != nil {
		t.Fatalf("expected passed without response, got %+v", res)
	}

	// The URL is only parsed once there is something to certify.
	res, err = Verify(get("http://[::1"), resp, serviceID, now, maxOffset)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || res.Response != nil {
		t.Fatalf("expected passed without response, got %+v", res)
	}
}

func TestV2ResponseOnly(t *testing.T) {
	expr := certification.ResponseOnlyExpression(certification.ResponseScope{
		Headers: []string{"content-type"},
	})
	req := get("https://example.com/")
	resp := htmlResponse()
	certifyV2(t, testNetwork(t), expr, certification.ExactPath("/"), req, resp)

	res, err := testVerifier(t, NewOpts{}).Verify(req, resp, serviceID, now, maxOffset)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Fatalf("expected success: %v", res.Reason)
	}
	var names []string
	for _, h := range res.Response.Headers {
		names = append(names, h.Name)
	}
	if len(names) != 2 || names[0] != "Content-Type" || names[1] != "Ic-Certificate-Expression" {
		t.Fatalf("unexpected certified headers %v", names)
	}
	if !bytes.Equal(res.Response.Body, resp.Body) || res.Response.StatusCode != 200 {
		t.Fatalf("unexpected response %+v", res.Response)
	}

	// Uncertified headers may change, certified ones may not.
	resp.Headers[1].Value = "max-age=60"
	res, err = Verify(req, resp, serviceID, now, maxOffset)
	if err != nil || !res.Passed {
		t.Fatalf("uncertified header change failed: %v %v", err, res.Reason)
	}
	resp.Headers[0].Value = "text/plain"
	res, err = Verify(req, resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, verification.ErrVerificationFailed)

	resp.Headers[0].Value = "text/html"
	resp.StatusCode = 404
	res, err = Verify(req, resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, verification.ErrVerificationFailed)

	resp.StatusCode = 200
	resp.Body = []byte("<html>evil</html>")
	res, err = Verify(req, resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, verification.ErrVerificationFailed)
}

func TestV2Full(t *testing.T) {
	expr := certification.FullExpression(
		certification.RequestScope{
			Headers:         []string{"accept"},
			QueryParameters: []string{"q"},
		},
		certification.ResponseScope{Exclude: true},
	)
	req := &verification.Request{
		Method:  "GET",
		URL:     "https://example.com/search?q=cats&utm=1",
		Headers: []verification.HeaderField{{Name: "Accept", Value: "text/html"}},
	}
	resp := htmlResponse()
	certifyV2(t, testNetwork(t), expr, certification.ExactPath("/search"), req, resp)

	res, err := Verify(req, resp, serviceID, now, maxOffset)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || len(res.Response.Headers) != 3 {
		t.Fatalf("expected success with three certified headers: %v %+v", res.Reason, res.Response)
	}

	req.URL = "https://example.com/search?q=cats&utm=2"
	res, err = Verify(req, resp, serviceID, now, maxOffset)
	if err != nil || !res.Passed {
		t.Fatalf("uncertified query parameter change failed: %v %v", err, res.Reason)
	}

	req.URL = "https://example.com/search?q=dogs&utm=1"
	res, err = Verify(req, resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, verification.ErrVerificationFailed)

	req.URL = "https://example.com/search?q=cats&utm=1"
	req.Headers[0].Value = "application/json"
	res, err = Verify(req, resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, verification.ErrVerificationFailed)
}

func TestV2Skip(t *testing.T) {
	req := get("/private")
	resp := htmlResponse()
	certifyV2(t, testNetwork(t), certification.SkipExpression(),
		certification.PrefixPath("/"), req, resp)

	res, err := Verify(req, resp, serviceID, now, maxOffset)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || res.Response != nil {
		t.Fatalf("expected passed without response, got %+v", res)
	}
}

func TestV2ExprPathMismatch(t *testing.T) {
	expr := certification.ResponseOnlyExpression(certification.ResponseScope{Exclude: true})
	req := get("/a")
	resp := htmlResponse()
	certifyV2(t, testNetwork(t), expr, certification.ExactPath("/a"), req, resp)

	res, err := Verify(get("/b"), resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, ErrInvalidExprPath)
}

func TestV2MoreSpecificPathWins(t *testing.T) {
	net := testNetwork(t)
	expr := certification.SkipExpression()
	req := get("/assets/app.js")
	resp := htmlResponse()
	resp.Headers = append(resp.Headers, verification.HeaderField{
		Name:  "Ic-Certificate-Expression",
		Value: expr.String(),
	})

	svc := ca.NewService(serviceID)
	svc.AddCertification(certification.PrefixPath("/assets"), certification.Skip(expr))
	svc.AddCertification(certification.ExactPath("/assets/app.js"), certification.Skip(expr))

	resp.Headers = append(resp.Headers, verification.HeaderField{
		Name:  "Ic-Certificate",
		Value: certify(t, net, svc, now, 2, certification.PrefixPath("/assets")),
	})
	res, err := Verify(req, resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, ErrInvalidExprPath)

	// Another file under the prefix has no exact path and may use it.
	res, err = Verify(get("/assets/style.css"), resp, serviceID, now, maxOffset)
	if err != nil || !res.Passed {
		t.Fatalf("expected the prefix to apply: %v %v", err, res.Reason)
	}
}

func TestV2MissingExprPath(t *testing.T) {
	expr := certification.SkipExpression()
	req := get("/")
	resp := htmlResponse()
	certifyV2(t, testNetwork(t), expr, certification.ExactPath("/"), req, resp)

	// Drop expr_path from the certificate header.
	hdr := resp.Headers[len(resp.Headers)-1].Value
	resp.Headers[len(resp.Headers)-1].Value = hdr[:strings.LastIndex(hdr, ", expr_path")]
	res, err := Verify(req, resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, ErrMissingCertificate)
}

func TestV2ExprPathNotFound(t *testing.T) {
	net := testNetwork(t)
	expr := certification.ResponseOnlyExpression(certification.ResponseScope{
		Headers: []string{"content-type"},
	})
	req := get("/")
	exprPath := certification.ExactPath("/")

	// respond returns resp certified with the tree of svc, transformed by
	// witness before it is sent.
	respond := func(svc *ca.Service, witness func(hashtree.Tree) hashtree.Tree) *verification.Response {
		resp := htmlResponse()
		resp.Headers = append(resp.Headers, verification.HeaderField{
			Name:  "Ic-Certificate-Expression",
			Value: expr.String(),
		})
		cert, err := net.Certify(now, svc)
		if err != nil {
			t.Fatal(err)
		}
		tree, err := svc.Tree()
		if err != nil {
			t.Fatal(err)
		}
		hdr, err := ca.FormatHeader(ca.HeaderOpts{
			Certificate: cert,
			Tree:        witness(tree),
			Version:     2,
			ExprPath:    exprPath,
		})
		if err != nil {
			t.Fatal(err)
		}
		resp.Headers = append(resp.Headers, verification.HeaderField{
			Name:  "Ic-Certificate",
			Value: hdr,
		})
		return resp
	}
	keep := func(tree hashtree.Tree) hashtree.Tree { return tree }

	// Certified, but the path was pruned from the tree sent along.
	svc := ca.NewService(serviceID)
	svc.AddCertification(exprPath, certification.ResponseOnly(expr, htmlResponse()))
	resp := respond(svc, func(tree hashtree.Tree) hashtree.Tree {
		return hashtree.Prune(tree)
	})
	res, err := Verify(req, resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, verification.ErrVerificationFailed)

	// Another path is certified, this one isn't.
	other := ca.NewService(serviceID)
	other.AddCertification(certification.ExactPath("/other"),
		certification.ResponseOnly(expr, htmlResponse()))
	resp = respond(other, keep)
	res, err = Verify(req, resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, verification.ErrVerificationFailed)
}

func TestSignatures(t *testing.T) {
	net := delegatedNetwork(t)
	resp := v1Response(t, net, "/", []byte("x"), now)

	v := testVerifier(t, NewOpts{
		Signatures:       RootKeySignatures{RootKey: net.Root.Verifier()},
		RequireSignature: true,
	})
	res, err := v.Verify(get("/"), resp, serviceID, now, maxOffset)
	if err != nil || !res.Passed {
		t.Fatalf("expected success: %v %v", err, res.Reason)
	}

	other := authority(t, 9)
	v = testVerifier(t, NewOpts{
		Signatures: RootKeySignatures{RootKey: other.Verifier()},
	})
	res, err = v.Verify(get("/"), resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, nil)

	// Without a signature check, the certificate is accepted unless a
	// verified signature is required.
	res, err = Verify(get("/"), resp, serviceID, now, maxOffset)
	if err != nil || !res.Passed {
		t.Fatalf("expected success: %v %v", err, res.Reason)
	}
	v = testVerifier(t, NewOpts{RequireSignature: true})
	res, err = v.Verify(get("/"), resp, serviceID, now, maxOffset)
	expectFailure(t, res, err, ErrSignatureUnverified)
}
