package ca

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	fxcbor "github.com/fxamacker/cbor/v2"

	"github.com/jessiemongeon1/response-verification/certificate"
	"github.com/jessiemongeon1/response-verification/hashtree"
)

type HeaderOpts struct {
	Certificate *certificate.Certificate
	Tree        hashtree.Tree

	// Fields below are optional.

	// Omitted if zero.
	Version uint64

	ExprPath []string
}

// FormatHeader returns the value of the Ic-Certificate header.
func FormatHeader(opts HeaderOpts) (string, error) {
	if opts.Certificate == nil || opts.Tree == nil {
		return "", errors.New("Certificate and tree are required")
	}
	certBuf, err := opts.Certificate.MarshalCBOR()
	if err != nil {
		return "", fmt.Errorf("encoding certificate: %w", err)
	}
	treeBuf, err := hashtree.Encode(opts.Tree)
	if err != nil {
		return "", fmt.Errorf("encoding tree: %w", err)
	}

	fields := []string{
		"certificate=:" + base64.StdEncoding.EncodeToString(certBuf) + ":",
		"tree=:" + base64.StdEncoding.EncodeToString(treeBuf) + ":",
	}
	if opts.Version != 0 {
		fields = append(fields, fmt.Sprintf("version=%d", opts.Version))
	}
	if opts.ExprPath != nil {
		pathBuf, err := fxcbor.Marshal(opts.ExprPath)
		if err != nil {
			return "", fmt.Errorf("encoding expr_path: %w", err)
		}
		fields = append(fields,
			"expr_path=:"+base64.StdEncoding.EncodeToString(pathBuf)+":")
	}
	return strings.Join(fields, ", "), nil
}
