package ca

import (
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/bls"
	fxcbor "github.com/fxamacker/cbor/v2"

	"github.com/jessiemongeon1/response-verification/certificate"
	"github.com/jessiemongeon1/response-verification/hashtree"
)

// MinSeedSize is the minimum size of the seed a BLS key is derived from.
const MinSeedSize = 32

// Authority signs state trees with a BLS key, as the root of the network
// or one of its subnets does.
type Authority struct {
	sk       *bls.PrivateKey[bls.KeyG2SigG1]
	verifier certificate.Verifier
}

// Range of service IDs a subnet is responsible for, bounds included.
type Range struct {
	_    struct{} `cbor:",toarray"`
	Low  []byte
	High []byte
}

// NewAuthority derives a BLS key from seed.
func NewAuthority(seed []byte) (*Authority, error) {
	if len(seed) < MinSeedSize {
		return nil, fmt.Errorf("seed must be at least %d bytes", MinSeedSize)
	}
	sk, err := bls.KeyGen[bls.KeyG2SigG1](seed, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("bls.KeyGen: %w", err)
	}
	verifier, err := certificate.NewVerifier(sk.PublicKey())
	if err != nil {
		return nil, err
	}
	return &Authority{sk: sk, verifier: verifier}, nil
}

func (a *Authority) Verifier() certificate.Verifier {
	return a.verifier
}

// PublicKey returns the DER encoded public key.
func (a *Authority) PublicKey() []byte {
	return a.verifier.Bytes()
}

// Sign returns the signature over the root of tree.
func (a *Authority) Sign(tree hashtree.Tree) []byte {
	return bls.Sign(a.sk, certificate.SignedMessage(tree))
}

// Certify signs tree into a certificate.
func (a *Authority) Certify(tree hashtree.Tree,
	delegation *certificate.Delegation) *certificate.Certificate {
	return &certificate.Certificate{
		Tree:       tree,
		Signature:  a.Sign(tree),
		Delegation: delegation,
	}
}

// Delegate certifies that subnet, under the given ID, is responsible for
// the services in ranges.
func (a *Authority) Delegate(subnet *Authority, subnetID []byte,
	ranges []Range, time uint64) (*certificate.Delegation, error) {
	if len(ranges) == 0 {
		return nil, errors.New("Delegation without canister ranges")
	}
	rangesBuf, err := fxcbor.Marshal(ranges)
	if err != nil {
		return nil, fmt.Errorf("encoding canister ranges: %w", err)
	}

	subnetPath := func(field string) [][]byte {
		return [][]byte{[]byte("subnet"), subnetID, []byte(field)}
	}
	tree, err := hashtree.FromEntries(
		hashtree.Entry{
			Path:  hashtree.Labels("time"),
			Value: certificate.EncodeTime(time),
		},
		hashtree.Entry{
			Path:  subnetPath("public_key"),
			Value: subnet.PublicKey(),
		},
		hashtree.Entry{
			Path:  subnetPath("canister_ranges"),
			Value: rangesBuf,
		},
	)
	if err != nil {
		return nil, err
	}

	return &certificate.Delegation{
		SubnetID:    subnetID,
		Certificate: a.Certify(tree, nil),
	}, nil
}

// Network certifies state the way the network does. If Subnet is set,
// the subnet signs and the root delegates to it. Otherwise the root
// signs directly.
type Network struct {
	Root *Authority

	// Fields below are optional.

	Subnet   *Authority
	SubnetID []byte
	Ranges   []Range
}

// Certify issues a certificate for the state at the given time, in
// nanoseconds since the Unix epoch, in which each service certifies the
// root of its tree.
func (n *Network) Certify(time uint64, services ...*Service) (*certificate.Certificate, error) {
	entries := []hashtree.Entry{{
		Path:  hashtree.Labels("time"),
		Value: certificate.EncodeTime(time),
	}}
	for _, s := range services {
		tree, err := s.Tree()
		if err != nil {
			return nil, fmt.Errorf("service %x: %w", s.ID, err)
		}
		root := hashtree.Digest(tree)
		entries = append(entries, hashtree.Entry{
			Path:  [][]byte{[]byte("canister"), s.ID, []byte("certified_data")},
			Value: root[:],
		})
	}
	state, err := hashtree.FromEntries(entries...)
	if err != nil {
		return nil, err
	}

	if n.Subnet == nil {
		return n.Root.Certify(state, nil), nil
	}
	delegation, err := n.Root.Delegate(n.Subnet, n.SubnetID, n.Ranges, time)
	if err != nil {
		return nil, err
	}
	return n.Subnet.Certify(state, delegation), nil
}
