package certification

import (
	"crypto/sha256"

	"github.com/jessiemongeon1/response-verification"
)

// Certification holds the hashes a service certifies for a request and
// response under an expression. Which hashes are set depends on Kind.
type Certification struct {
	Kind         Kind
	ExprHash     verification.Hash
	RequestHash  verification.Hash
	ResponseHash verification.Hash
}

func Skip(expr *Expression) Certification {
	return Certification{
		Kind:     KindSkip,
		ExprHash: expr.Hash(),
	}
}

func ResponseOnly(expr *Expression, resp *verification.Response) Certification {
	return Certification{
		Kind:         KindResponseOnly,
		ExprHash:     expr.Hash(),
		ResponseHash: ResponseHash(resp, expr.Response),
	}
}

func Full(expr *Expression, req *verification.Request,
	resp *verification.Response) (Certification, error) {
	return Compute(expr, req, resp, verification.Sum(resp.Body))
}

// Compute returns the certification of req and resp under expr, taking
// bodyHash as the hash of the response body.
func Compute(expr *Expression, req *verification.Request,
	resp *verification.Response, bodyHash verification.Hash) (Certification, error) {
	ret := Certification{
		Kind:     expr.Kind,
		ExprHash: expr.Hash(),
	}
	if expr.Kind == KindSkip {
		return ret, nil
	}
	if expr.Kind == KindFull {
		var err error
		ret.RequestHash, err = RequestHash(req, expr.Request)
		if err != nil {
			return Certification{}, err
		}
	}
	ret.ResponseHash = ResponseHashWithBody(resp, expr.Response, bodyHash)
	return ret, nil
}

// Digest returns the value certified at the expression path:
// the hash of the expression hash, followed by the request hash if the
// request is certified and the response hash if the response is.
func (c Certification) Digest() verification.Hash {
	h := sha256.New()
	_, _ = h.Write(c.ExprHash[:])
	if c.Kind == KindFull {
		_, _ = h.Write(c.RequestHash[:])
	}
	if c.Kind != KindSkip {
		_, _ = h.Write(c.ResponseHash[:])
	}
	var ret verification.Hash
	h.Sum(ret[:0])
	return ret
}
