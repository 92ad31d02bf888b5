package verifier

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
)

// CertificateHeader holds the fields of an Ic-Certificate header. Absent
// fields are nil.
type CertificateHeader struct {
	Certificate []byte
	Tree        []byte
	ExprPath    []byte
	Version     *uint64
}

// HeaderSplitter extracts the fields of an Ic-Certificate header value.
type HeaderSplitter interface {
	Split(value string) (*CertificateHeader, error)
}

// DefaultHeaderSplitter parses comma separated name=:base64: fields and a
// version=N field. Unknown and malformed fields are left out.
type DefaultHeaderSplitter struct{}

var (
	bytesFieldRegex   = regexp.MustCompile(`^([a-z_]+)=:([A-Za-z0-9+/=]*):$`)
	versionFieldRegex = regexp.MustCompile(`^version=([0-9]+)$`)
)

func (DefaultHeaderSplitter) Split(value string) (*CertificateHeader, error) {
	var ret CertificateHeader
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)

		if m := versionFieldRegex.FindStringSubmatch(field); m != nil {
			version, err := strconv.ParseUint(m[1], 10, 64)
			if err != nil {
				continue
			}
			ret.Version = &version
			continue
		}

		m := bytesFieldRegex.FindStringSubmatch(field)
		if m == nil {
			continue
		}
		buf, err := base64.StdEncoding.DecodeString(m[2])
		if err != nil {
			continue
		}
		switch m[1] {
		case "certificate":
			ret.Certificate = buf
		case "tree":
			ret.Tree = buf
		case "expr_path":
			ret.ExprPath = buf
		}
	}
	return &ret, nil
}
