package http

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/ca"
	"github.com/jessiemongeon1/response-verification/certificate"
	"github.com/jessiemongeon1/response-verification/verifier"
)

var serviceID = []byte{0, 0, 0, 0, 0, 0, 0, 1, 1, 1}

// Creates a test network and a directory of assets, and returns a server
// for them along with the root key of the network.
func newTestServer(t *testing.T, version uint64) (*Server, certificate.Verifier) {
	caPath := t.TempDir()
	h, err := ca.New(caPath, ca.NewOpts{
		SubnetID: []byte{1},
		Ranges: []ca.Range{{
			Low:  []byte{0, 0, 0, 0, 0, 0, 0, 0, 1, 1},
			High: []byte{0, 0, 0, 0, 0, 0, 0, 9, 1, 1},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	der, err := hex.DecodeString(h.Params().RootKey)
	if err != nil {
		t.Fatal(err)
	}
	rootKey, err := certificate.UnmarshalVerifier(der)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	assets := t.TempDir()
	for name, content := range map[string]string{
		"index.html":    "<html>home</html>",
		"js/app.js":     "console.log('app')",
		"css/style.css": "body {}",
	} {
		p := filepath.Join(assets, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	s, err := NewServer(caPath, assets, "", ServerOpts{
		ServiceID: serviceID,
		Version:   version,
		Logger:    zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
	})
	return s, rootKey
}

func client(t *testing.T, rootKey certificate.Verifier, base http.RoundTripper) *http.Client {
	v, err := verifier.New(verifier.NewOpts{
		Signatures:       verifier.RootKeySignatures{RootKey: rootKey},
		RequireSignature: true,
		Logger:           zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{
		Transport: &Transport{
			ServiceID: serviceID,
			Base:      base,
			Verifier:  v,
		},
	}
}

func fetch(t *testing.T, c *http.Client, url string) (*http.Response, string, error) {
	resp, err := c.Get(url)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body), nil
}

func TestServeAndVerify(t *testing.T) {
	for _, version := range []uint64{1, 2} {
		s, rootKey := newTestServer(t, version)
		ts := httptest.NewServer(s.Handler())
		defer ts.Close()
		c := client(t, rootKey, nil)

		for path, want := range map[string]string{
			"/":              "<html>home</html>",
			"/index.html":    "<html>home</html>",
			"/js/app.js":     "console.log('app')",
			"/css/style.css": "body {}",
		} {
			resp, body, err := fetch(t, c, ts.URL+path)
			if err != nil {
				t.Fatalf("v%d %s: %v", version, path, err)
			}
			if body != want {
				t.Fatalf("v%d %s: got %q", version, path, body)
			}
			if version == 2 && resp.Header.Get("Content-Type") == "" {
				t.Fatalf("%s: certified Content-Type missing", path)
			}
			if resp.Header.Get("Date") != "" {
				t.Fatalf("%s: uncertified header returned", path)
			}
		}
	}
}

// Rewrites the body of every response.
type tamperingTransport struct{}

func (tamperingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(strings.NewReader("<html>evil</html>"))
	return resp, nil
}

func TestTamperedResponse(t *testing.T) {
	s, rootKey := newTestServer(t, 2)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, _, err := fetch(t, client(t, rootKey, tamperingTransport{}), ts.URL+"/")
	var ve *VerificationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected VerificationError, got %v", err)
	}
	if !errors.Is(err, verification.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestWrongRootKey(t *testing.T) {
	s, _ := newTestServer(t, 2)
	_, otherKey := newTestServer(t, 2)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, _, err := fetch(t, client(t, otherKey, nil), ts.URL+"/")
	if !errors.Is(err, certificate.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestNotFound(t *testing.T) {
	s, rootKey := newTestServer(t, 2)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	// Without a certificate header the minimum version applies, which
	// requires a certificate.
	_, _, err := fetch(t, client(t, rootKey, nil), ts.URL+"/missing")
	if !errors.Is(err, verifier.ErrMissingCertificate) {
		t.Fatalf("expected ErrMissingCertificate, got %v", err)
	}
}

// Answers every request with a body that carries no certification.
type uncertifiedTransport struct{}

func (uncertifiedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header: http.Header{
			"Ic-Certificate": []string{"version=2"},
			"Content-Type":   []string{"text/html"},
		},
		Body:    io.NopCloser(strings.NewReader("forged content")),
		Request: req,
	}, nil
}

func TestUncertifiedResponseRejected(t *testing.T) {
	_, rootKey := newTestServer(t, 2)
	resp, body, err := fetch(t, client(t, rootKey, uncertifiedTransport{}),
		"http://example.com/")
	if err == nil {
		t.Fatalf("accepted uncertified body %q (status %d)", body, resp.StatusCode)
	}
	var ve *VerificationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected VerificationError, got %v", err)
	}
	if !errors.Is(err, ErrUncertified) {
		t.Fatalf("expected ErrUncertified, got %v", err)
	}
}
