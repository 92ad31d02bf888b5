package verifier

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxBodySize bounds the size of a decoded body.
const DefaultMaxBodySize = 10 << 20

// BodyDecoder undoes the Content-Encoding of a response body.
type BodyDecoder interface {
	DecodeBody(body []byte, encoding string, maxSize int64) ([]byte, error)
}

// DefaultBodyDecoder supports gzip, deflate, br and zstd. Bodies with no
// or any other encoding are returned as they are.
type DefaultBodyDecoder struct{}

func (DefaultBodyDecoder) DecodeBody(body []byte, encoding string,
	maxSize int64) ([]byte, error) {
	var r io.Reader

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		r = fr
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	default:
		return body, nil
	}

	ret, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(ret)) > maxSize {
		return nil, fmt.Errorf("decoded body exceeds %d bytes", maxSize)
	}
	return ret, nil
}
