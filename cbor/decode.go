package cbor

import (
	"unicode/utf8"

	"golang.org/x/crypto/cryptobyte"

	"github.com/jessiemongeon1/response-verification"
)

const (
	// DefaultMaxDepth bounds the nesting of arrays, maps and tags.
	DefaultMaxDepth = 256

	majorUnsigned   = 0
	majorNegative   = 1
	majorByteString = 2
	majorTextString = 3
	majorArray      = 4
	majorMap        = 5
	majorTag        = 6
	majorSimple     = 7
)

type DecoderOpts struct {
	// Fields below are optional.

	// Maximum nesting depth. Defaults to DefaultMaxDepth.
	MaxDepth int
}

// Decoder decodes single data items. It's safe for concurrent use.
type Decoder struct {
	maxDepth int
}

var defaultDecoder = NewDecoder(DecoderOpts{})

func NewDecoder(opts DecoderOpts) *Decoder {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Decoder{maxDepth: opts.MaxDepth}
}

// Decode decodes data with the default options.
func Decode(data []byte) (Value, error) {
	return defaultDecoder.Decode(data)
}

// Decode decodes a single data item, which must span all of data.
//
// Errors are of type *verification.DecodeError.
func (d *Decoder) Decode(data []byte) (Value, error) {
	st := decodeState{
		s:        cryptobyte.String(data),
		total:    len(data),
		maxDepth: d.maxDepth,
	}
	v, err := st.value(0)
	if err != nil {
		return nil, err
	}
	if !st.s.Empty() {
		return nil, st.fail(verification.ErrExtraBytes)
	}
	return v, nil
}

type decodeState struct {
	s        cryptobyte.String
	total    int
	maxDepth int
}

// Initial byte and argument of a data item.
type head struct {
	major uint8
	info  uint8
	arg   uint64
	width Width
}

func (d *decodeState) offset() int {
	return d.total - len(d.s)
}

func (d *decodeState) fail(err error) error {
	return &verification.DecodeError{Offset: d.offset(), Err: err}
}

func (d *decodeState) readHead() (h head, err error) {
	var initial uint8
	if !d.s.ReadUint8(&initial) {
		return h, d.fail(verification.ErrTruncated)
	}
	h.major = initial >> 5
	h.info = initial & 0x1f

	switch {
	case h.info < 24:
		h.arg = uint64(h.info)
		h.width = Width8
	case h.info == 24:
		var v uint8
		if !d.s.ReadUint8(&v) {
			return h, d.fail(verification.ErrTruncated)
		}
		h.arg = uint64(v)
		h.width = Width8
	case h.info == 25:
		var v uint16
		if !d.s.ReadUint16(&v) {
			return h, d.fail(verification.ErrTruncated)
		}
		h.arg = uint64(v)
		h.width = Width16
	case h.info == 26:
		var v uint32
		if !d.s.ReadUint32(&v) {
			return h, d.fail(verification.ErrTruncated)
		}
		h.arg = uint64(v)
		h.width = Width32
	case h.info == 27:
		if !d.s.ReadUint64(&h.arg) {
			return h, d.fail(verification.ErrTruncated)
		}
		h.width = Width64
	default:
		return h, d.fail(verification.ErrInvalidInfo)
	}
	return h, nil
}

func (d *decodeState) value(depth int) (Value, error) {
	if depth > d.maxDepth {
		return nil, d.fail(verification.ErrTooDeep)
	}

	h, err := d.readHead()
	if err != nil {
		return nil, err
	}

	switch h.major {
	case majorUnsigned:
		if h.info <= uint8(TagPruned) {
			return HashTreeTag(h.info), nil
		}
		return Unsigned{Width: h.width, Value: h.arg}, nil

	case majorNegative:
		return Signed{Width: h.width, Magnitude: h.arg}, nil

	case majorByteString, majorTextString:
		if h.arg > uint64(len(d.s)) {
			return nil, d.fail(verification.ErrTruncated)
		}
		var buf []byte
		if !d.s.ReadBytes(&buf, int(h.arg)) {
			return nil, d.fail(verification.ErrTruncated)
		}
		ret := make(ByteString, len(buf))
		copy(ret, buf)
		return ret, nil

	case majorArray:
		// Every item takes at least a byte.
		if h.arg > uint64(len(d.s)) {
			return nil, d.fail(verification.ErrTruncated)
		}
		ret := make(Array, 0, int(h.arg))
		for i := uint64(0); i < h.arg; i++ {
			item, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			ret = append(ret, item)
		}
		return ret, nil

	case majorMap:
		if h.arg > uint64(len(d.s))/2 {
			return nil, d.fail(verification.ErrTruncated)
		}
		ret := make(Map, int(h.arg))
		for i := uint64(0); i < h.arg; i++ {
			keyOffset := d.offset()
			key, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			bs, ok := key.(ByteString)
			if !ok || !utf8.Valid(bs) {
				return nil, &verification.DecodeError{
					Offset: keyOffset,
					Err:    verification.ErrInvalidMapKey,
				}
			}
			val, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			ret[string(bs)] = val
		}
		return ret, nil

	case majorTag, majorSimple:
		// Tags and simple values carry nothing we need: the head is
		// dropped and the next item takes its place.
		return d.value(depth + 1)
	}

	return nil, d.fail(verification.ErrInvalidInfo)
}
