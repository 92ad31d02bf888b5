package certificate

import (
	"github.com/multiformats/go-varint"

	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/hashtree"
)

// Time returns the time at which c was issued, in nanoseconds since the
// Unix epoch, read from the "time" leaf.
func Time(c *Certificate) (uint64, error) {
	res := hashtree.Lookup(c.Tree, []byte("time"))
	if res.Status != hashtree.Found {
		return 0, &verification.TimeValidationError{
			Kind: verification.TimeMissing,
		}
	}
	t, n, err := varint.FromUvarint(res.Value)
	if err != nil || n != len(res.Value) {
		return 0, &verification.TimeValidationError{
			Kind: verification.TimeMalformed,
		}
	}
	return t, nil
}

// ValidateTime checks that c was issued within maxOffset nanoseconds of
// now, in either direction.
func ValidateTime(c *Certificate, now, maxOffset uint64) error {
	t, err := Time(c)
	if err != nil {
		return err
	}

	ret := &verification.TimeValidationError{
		CertificateTime: t,
		Now:             now,
		MaxOffset:       maxOffset,
	}
	switch {
	case t > now && t-now > maxOffset:
		ret.Kind = verification.TimeTooFarInFuture
		return ret
	case now > t && now-t > maxOffset:
		ret.Kind = verification.TimeTooFarInPast
		return ret
	}
	return nil
}

// EncodeTime returns the contents of the "time" leaf for t.
func EncodeTime(t uint64) []byte {
	return varint.ToUvarint(t)
}
