package verifier

import (
	"errors"

	"github.com/jessiemongeon1/response-verification/certificate"
)

var ErrSignatureUnverified = errors.New("Certificate signature was not verified")

type SignatureOutcome uint8

const (
	SignatureUnverified SignatureOutcome = iota
	SignatureVerified
)

func (o SignatureOutcome) String() string {
	if o == SignatureVerified {
		return "verified"
	}
	return "unverified"
}

// SignatureVerifier checks the signature and delegation of a certificate.
//
// An error means the signature is known to be bad. SignatureUnverified
// without an error means it wasn't checked.
type SignatureVerifier interface {
	VerifySignature(cert *certificate.Certificate, serviceID []byte) (SignatureOutcome, error)
}

// UnverifiedSignatures doesn't check signatures at all.
type UnverifiedSignatures struct{}

func (UnverifiedSignatures) VerifySignature(*certificate.Certificate, []byte) (
	SignatureOutcome, error) {
	return SignatureUnverified, nil
}

// RootKeySignatures checks certificates against the root key of the
// network.
type RootKeySignatures struct {
	RootKey certificate.Verifier
}

func (s RootKeySignatures) VerifySignature(cert *certificate.Certificate,
	serviceID []byte) (SignatureOutcome, error) {
	if err := certificate.Verify(cert, s.RootKey, serviceID); err != nil {
		return SignatureUnverified, err
	}
	return SignatureVerified, nil
}
