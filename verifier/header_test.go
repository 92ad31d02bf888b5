package verifier

import (
	"bytes"
	"testing"

	"github.com/jessiemongeon1/response-verification/ca"
	"github.com/jessiemongeon1/response-verification/cbor"
	"github.com/jessiemongeon1/response-verification/certification"
	"github.com/jessiemongeon1/response-verification/hashtree"
)

func TestSplitFormattedHeader(t *testing.T) {
	net := testNetwork(t)
	svc := ca.NewService(serviceID)
	svc.AddAsset("/", []byte("x"))
	cert, err := net.Certify(now, svc)
	if err != nil {
		t.Fatal(err)
	}
	tree, err := svc.Tree()
	if err != nil {
		t.Fatal(err)
	}
	exprPath := certification.PrefixPath("/assets")
	value, err := ca.FormatHeader(ca.HeaderOpts{
		Certificate: cert,
		Tree:        tree,
		Version:     2,
		ExprPath:    exprPath,
	})
	if err != nil {
		t.Fatal(err)
	}

	hdr, err := DefaultHeaderSplitter{}.Split(value)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Version == nil || *hdr.Version != 2 {
		t.Fatal("version lost")
	}
	certBuf, _ := cert.MarshalCBOR()
	if !bytes.Equal(hdr.Certificate, certBuf) {
		t.Fatal("certificate changed")
	}
	decoded, err := hashtree.Decode(hdr.Tree)
	if err != nil {
		t.Fatal(err)
	}
	if hashtree.Digest(decoded) != hashtree.Digest(tree) {
		t.Fatal("tree changed")
	}
	v, err := cbor.Decode(hdr.ExprPath)
	if err != nil {
		t.Fatal(err)
	}
	got, err := cbor.StringArray(v, "expr_path")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(exprPath) || got[0] != exprPath[0] || got[len(got)-1] != exprPath[len(exprPath)-1] {
		t.Fatalf("expr_path changed: %v", got)
	}
}

func TestSplitSkipsMalformedFields(t *testing.T) {
	hdr, err := DefaultHeaderSplitter{}.Split(
		"certificate=:not base64!:,tree=:AAEC:, unknown=:AA==:, version=x, garbage")
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Certificate != nil || hdr.ExprPath != nil || hdr.Version != nil {
		t.Fatalf("unexpected fields %+v", hdr)
	}
	if !bytes.Equal(hdr.Tree, []byte{0, 1, 2}) {
		t.Fatalf("tree %x", hdr.Tree)
	}

	hdr, err = DefaultHeaderSplitter{}.Split("")
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Certificate != nil || hdr.Tree != nil || hdr.Version != nil {
		t.Fatal("expected no fields")
	}
}
