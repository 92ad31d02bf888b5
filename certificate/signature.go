package certificate

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/bls"

	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/cbor"
	"github.com/jessiemongeon1/response-verification/hashtree"
)

const (
	stateRootDomain = "ic-state-root"

	blsPublicKeySize = 96
)

var (
	// DER prefix of a BLS12-381 G2 public key as used by the network.
	blsDERPrefix, _ = hex.DecodeString(
		"308182301d060d2b0601040182dc7c0503010201060c2b0601040182dc7c05030201036100",
	)

	ErrSignatureInvalid = errors.New("Invalid certificate signature")
	ErrNotInRange       = errors.New("Service is outside of the subnet's canister ranges")
)

// Verifier checks signatures over state roots.
type Verifier interface {
	Verify(message, signature []byte) error

	// DER encoded public key.
	Bytes() []byte
}

type blsVerifier struct {
	pk  *bls.PublicKey[bls.KeyG2SigG1]
	der []byte
}

func (v *blsVerifier) Bytes() []byte {
	ret := make([]byte, len(v.der))
	copy(ret, v.der)
	return ret
}

func (v *blsVerifier) Verify(msg, sig []byte) error {
	if bls.Verify(v.pk, msg, sig) {
		return nil
	}
	return ErrSignatureInvalid
}

// NewVerifier returns a Verifier for the given BLS public key.
func NewVerifier(pk *bls.PublicKey[bls.KeyG2SigG1]) (Verifier, error) {
	raw, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if len(raw) != blsPublicKeySize {
		return nil, fmt.Errorf(
			"expected %d byte public key; got %d",
			blsPublicKeySize,
			len(raw),
		)
	}
	der := make([]byte, 0, len(blsDERPrefix)+len(raw))
	der = append(der, blsDERPrefix...)
	der = append(der, raw...)
	return &blsVerifier{pk: pk, der: der}, nil
}

// UnmarshalVerifier parses a DER encoded BLS public key, such as the root
// key of the network or the key of a subnet.
func UnmarshalVerifier(der []byte) (Verifier, error) {
	if len(der) != len(blsDERPrefix)+blsPublicKeySize ||
		!bytes.HasPrefix(der, blsDERPrefix) {
		return nil, errors.New("Not a DER encoded BLS public key")
	}
	var pk bls.PublicKey[bls.KeyG2SigG1]
	if err := pk.UnmarshalBinary(der[len(blsDERPrefix):]); err != nil {
		return nil, fmt.Errorf("parsing BLS public key: %w", err)
	}
	ret := make([]byte, len(der))
	copy(ret, der)
	return &blsVerifier{pk: &pk, der: ret}, nil
}

// SignedMessage returns the message signed for a certificate with the
// given tree.
func SignedMessage(tree hashtree.Tree) []byte {
	root := hashtree.Digest(tree)
	return append(verification.DomainSeparator(stateRootDomain), root[:]...)
}

// Verify checks the signature on c against the root key of the network.
// If c is delegated, the delegation is checked against the root key, and
// c against the key of the subnet, which must be responsible for the
// given service.
func Verify(c *Certificate, rootKey Verifier, serviceID []byte) error {
	key := rootKey

	if d := c.Delegation; d != nil {
		if d.Certificate.Delegation != nil {
			return malformed("delegation of a delegation")
		}
		if err := rootKey.Verify(SignedMessage(d.Certificate.Tree),
			d.Certificate.Signature); err != nil {
			return fmt.Errorf("delegation: %w", err)
		}
		if err := checkCanisterRanges(d, serviceID); err != nil {
			return err
		}

		res := hashtree.Lookup(
			d.Certificate.Tree,
			[]byte("subnet"),
			d.SubnetID,
			[]byte("public_key"),
		)
		if res.Status != hashtree.Found {
			return fmt.Errorf("delegation: subnet public key %s", res.Status)
		}
		subnetKey, err := UnmarshalVerifier(res.Value)
		if err != nil {
			return fmt.Errorf("delegation: %w", err)
		}
		key = subnetKey
	}

	return key.Verify(SignedMessage(c.Tree), c.Signature)
}

func checkCanisterRanges(d *Delegation, serviceID []byte) error {
	res := hashtree.Lookup(
		d.Certificate.Tree,
		[]byte("subnet"),
		d.SubnetID,
		[]byte("canister_ranges"),
	)
	if res.Status != hashtree.Found {
		return fmt.Errorf("delegation: canister ranges %s", res.Status)
	}

	v, err := cbor.Decode(res.Value)
	if err != nil {
		return fmt.Errorf("delegation: canister ranges: %w", err)
	}
	ranges, ok := v.(cbor.Array)
	if !ok {
		return malformed("canister ranges must be an array")
	}
	for _, r := range ranges {
		pair, ok := r.(cbor.Array)
		if !ok || len(pair) != 2 {
			return malformed("canister range must be a pair")
		}
		lo, ok1 := pair[0].(cbor.ByteString)
		hi, ok2 := pair[1].(cbor.ByteString)
		if !ok1 || !ok2 {
			return malformed("canister range bounds must be byte strings")
		}
		if bytes.Compare(lo, serviceID) <= 0 && bytes.Compare(serviceID, hi) <= 0 {
			return nil
		}
	}
	return ErrNotInRange
}
