package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"

	"github.com/andybalholm/brotli"
)

// encodeForTest compresses data with encoding, for use by this package's
// round-trip tests. Production code never needs to encode (the stack is
// a client), so this is test-only support, not part of the public API.
func encodeForTest(data []byte, encoding Encoding) ([]byte, error) {
	var buf bytes.Buffer
	switch encoding {
	case EncodingGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case EncodingDeflate:
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case EncodingBrotli:
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return data, nil
	}
	return buf.Bytes(), nil
}
