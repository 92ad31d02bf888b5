// Package certificate decodes certificates: a hash tree, a signature over
// its root digest, and optionally a delegation to the subnet that signed
// it.
package certificate

import (
	fxcbor "github.com/fxamacker/cbor/v2"

	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/cbor"
	"github.com/jessiemongeon1/response-verification/hashtree"
)

const (
	// The network delegates at most once: from the root to a subnet.
	MaxDelegationDepth = 1

	selfDescribingTag = 55799
)

type Certificate struct {
	Tree       hashtree.Tree
	Signature  []byte
	Delegation *Delegation
}

type Delegation struct {
	SubnetID    []byte
	Certificate *Certificate
}

func malformed(reason string) error {
	return &verification.StructuralError{
		What:   "certificate",
		Reason: reason,
	}
}

// Decode decodes a CBOR encoded certificate with the default decoder.
func Decode(data []byte) (*Certificate, error) {
	return DecodeWith(cbor.NewDecoder(cbor.DecoderOpts{}), data)
}

// DecodeWith decodes a CBOR encoded certificate, including the certificate
// of its delegation, with the given decoder.
func DecodeWith(d *cbor.Decoder, data []byte) (*Certificate, error) {
	return decode(d, data, 0)
}

func decode(d *cbor.Decoder, data []byte, depth int) (*Certificate, error) {
	v, err := d.Decode(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(cbor.Map)
	if !ok {
		return nil, malformed("expected a map")
	}

	var c Certificate

	treeValue, ok := m["tree"]
	if !ok {
		return nil, malformed("missing tree")
	}
	if c.Tree, err = hashtree.FromValue(treeValue); err != nil {
		return nil, err
	}

	signature, ok := m["signature"].(cbor.ByteString)
	if !ok {
		return nil, malformed("missing signature")
	}
	c.Signature = []byte(signature)

	delegationValue, ok := m["delegation"]
	if !ok {
		return &c, nil
	}
	if depth >= MaxDelegationDepth {
		return nil, malformed("delegation of a delegation")
	}
	dm, ok := delegationValue.(cbor.Map)
	if !ok {
		return nil, malformed("delegation must be a map")
	}
	subnetID, ok := dm["subnet_id"].(cbor.ByteString)
	if !ok {
		return nil, malformed("delegation without subnet_id")
	}
	inner, ok := dm["certificate"].(cbor.ByteString)
	if !ok {
		return nil, malformed("delegation without certificate")
	}
	innerCert, err := decode(d, inner, depth+1)
	if err != nil {
		return nil, err
	}
	c.Delegation = &Delegation{
		SubnetID:    []byte(subnetID),
		Certificate: innerCert,
	}
	return &c, nil
}

// MarshalCBOR encodes c the way the network does: as a map behind the
// self-describing CBOR tag.
func (c *Certificate) MarshalCBOR() ([]byte, error) {
	signature := c.Signature
	if signature == nil {
		signature = []byte{}
	}
	m := map[string]any{
		"tree":      c.Tree,
		"signature": signature,
	}
	if c.Delegation != nil {
		inner, err := c.Delegation.Certificate.MarshalCBOR()
		if err != nil {
			return nil, err
		}
		m["delegation"] = map[string]any{
			"subnet_id":   c.Delegation.SubnetID,
			"certificate": inner,
		}
	}
	return fxcbor.Marshal(fxcbor.Tag{Number: selfDescribingTag, Content: m})
}

// CertifiedData looks up the data certified by the given service.
func CertifiedData(c *Certificate, serviceID []byte) hashtree.LookupResult {
	return hashtree.Lookup(
		c.Tree,
		[]byte("canister"),
		serviceID,
		[]byte("certified_data"),
	)
}
