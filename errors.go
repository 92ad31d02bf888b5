package verification

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is a parsing error returned when the input seems to have
	// been truncated.
	ErrTruncated = errors.New("Input truncated")

	// ErrExtraBytes is a parsing error returned when there are extraneous
	// bytes at the end of, or within, the data.
	ErrExtraBytes = errors.New("Unexpected extra (internal) bytes")

	// ErrInvalidInfo is returned for a CBOR head with additional
	// information 28-31.
	ErrInvalidInfo = errors.New("Invalid additional information")

	// ErrInvalidMapKey is returned when a map key is not a UTF-8 string.
	ErrInvalidMapKey = errors.New("Map key is not a UTF-8 string")

	// ErrTooDeep is returned when nesting exceeds the configured depth.
	ErrTooDeep = errors.New("Maximum nesting depth exceeded")

	// ErrBodyDecode is returned when a response body can't be decoded
	// according to its Content-Encoding.
	ErrBodyDecode = errors.New("Failed to decode body")

	// ErrVerificationFailed is the catch-all for semantic mismatches:
	// digests or hashes that differ from what was certified.
	ErrVerificationFailed = errors.New("Verification failed")
)

// DecodeError reports malformed, truncated or over-long binary input.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StructuralError reports a decoded value that doesn't have the shape of
// a hash tree, certificate or header field.
type StructuralError struct {
	What   string
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("malformed %s: %s", e.What, e.Reason)
}

type TimeValidationKind uint8

const (
	TimeMissing TimeValidationKind = iota
	TimeMalformed
	TimeTooFarInPast
	TimeTooFarInFuture
)

func (k TimeValidationKind) String() string {
	switch k {
	case TimeMissing:
		return "missing"
	case TimeMalformed:
		return "malformed"
	case TimeTooFarInPast:
		return "too far in the past"
	case TimeTooFarInFuture:
		return "too far in the future"
	}
	return fmt.Sprintf("TimeValidationKind(%d)", uint8(k))
}

// TimeValidationError is returned when the certificate time is absent or
// outside of the allowed window around the current time.
type TimeValidationError struct {
	Kind            TimeValidationKind
	CertificateTime uint64
	Now             uint64
	MaxOffset       uint64
}

func (e *TimeValidationError) Error() string {
	switch e.Kind {
	case TimeMissing, TimeMalformed:
		return fmt.Sprintf("certificate time %s", e.Kind)
	}
	return fmt.Sprintf(
		"certificate time %d is %s (now %d, max offset %d)",
		e.CertificateTime, e.Kind, e.Now, e.MaxOffset,
	)
}

// UnsupportedVersionError is returned for a verification version outside
// of the supported range.
type UnsupportedVersionError struct {
	Min       uint64
	Max       uint64
	Requested uint64
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf(
		"unsupported verification version %d: supported are %d through %d",
		e.Requested, e.Min, e.Max,
	)
}

// MalformedURLError is returned when the request URL doesn't parse.
type MalformedURLError struct {
	URL string
	Err error
}

func (e *MalformedURLError) Error() string {
	return fmt.Sprintf("malformed url %q: %v", e.URL, e.Err)
}

func (e *MalformedURLError) Unwrap() error { return e.Err }
