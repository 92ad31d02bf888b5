package certification

import (
	"crypto/sha256"
	"net/url"
	"strings"

	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/rihash"
)

const (
	CertificateHeader = "ic-certificate"
	ExpressionHeader  = "ic-certificate-expression"

	methodField = ":ic-cert-method"
	queryField  = ":ic-cert-query"
	statusField = ":ic-cert-status"
)

func containsFold(list []string, name string) bool {
	for _, item := range list {
		if strings.EqualFold(item, name) {
			return true
		}
	}
	return false
}

// Returns sha256(headersHash || bodyHash).
func combine(headersHash, bodyHash verification.Hash) verification.Hash {
	var buf [2 * verification.HashLen]byte
	copy(buf[:], headersHash[:])
	copy(buf[verification.HashLen:], bodyHash[:])
	return sha256.Sum256(buf[:])
}

// RequestHash hashes the method, body and the headers and query
// parameters named by scope. Everything else is left out of the hash
// entirely.
func RequestHash(req *verification.Request, scope RequestScope) (verification.Hash, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return verification.Hash{}, &verification.MalformedURLError{
			URL: req.URL,
			Err: err,
		}
	}

	var fields rihash.Map
	for _, h := range req.Headers {
		if containsFold(scope.Headers, h.Name) {
			fields = append(fields, rihash.Pair{
				Name:  strings.ToLower(h.Name),
				Value: rihash.String(h.Value),
			})
		}
	}
	fields = append(fields, rihash.Pair{
		Name:  methodField,
		Value: rihash.String(req.Method),
	})
	if query := filterQuery(u.RawQuery, scope.QueryParameters); query != "" {
		fields = append(fields, rihash.Pair{
			Name:  queryField,
			Value: rihash.String(query),
		})
	}

	return combine(rihash.HashMap(fields), verification.Sum(req.Body)), nil
}

// Keeps the parameters of the raw query string whose name is listed, in
// their original order and encoding.
func filterQuery(rawQuery string, names []string) string {
	var kept []string
	for _, param := range strings.Split(rawQuery, "&") {
		name, _, _ := strings.Cut(param, "=")
		for _, n := range names {
			if name == n {
				kept = append(kept, param)
				break
			}
		}
	}
	return strings.Join(kept, "&")
}

// CertifiedHeaders returns the headers of resp that scope certifies. The
// certificate header itself is never certified, and the expression header
// always is.
func CertifiedHeaders(resp *verification.Response, scope ResponseScope) []verification.HeaderField {
	var ret []verification.HeaderField
	for _, h := range resp.Headers {
		name := strings.ToLower(h.Name)
		switch {
		case name == CertificateHeader:
			continue
		case name == ExpressionHeader:
		case containsFold(scope.Headers, name) == scope.Exclude:
			continue
		}
		ret = append(ret, h)
	}
	return ret
}

// ResponseHeadersHash hashes the status code and the certified headers.
func ResponseHeadersHash(resp *verification.Response, scope ResponseScope) verification.Hash {
	certified := CertifiedHeaders(resp, scope)
	fields := make(rihash.Map, 0, len(certified)+1)
	for _, h := range certified {
		fields = append(fields, rihash.Pair{
			Name:  strings.ToLower(h.Name),
			Value: rihash.String(h.Value),
		})
	}
	fields = append(fields, rihash.Pair{
		Name:  statusField,
		Value: rihash.Uint(resp.StatusCode),
	})
	return rihash.HashMap(fields)
}

// ResponseHash hashes the certified headers, status code and body of resp.
func ResponseHash(resp *verification.Response, scope ResponseScope) verification.Hash {
	return ResponseHashWithBody(resp, scope, verification.Sum(resp.Body))
}

// ResponseHashWithBody is ResponseHash with the hash of the body supplied
// by the caller, such as the hash of the decompressed body.
func ResponseHashWithBody(resp *verification.Response, scope ResponseScope,
	bodyHash verification.Hash) verification.Hash {
	return combine(ResponseHeadersHash(resp, scope), bodyHash)
}
