// Package codec implements spec.md §4.11: streaming gzip, deflate, and
// brotli content decoding with a decompression-bomb guard.
package codec

import (
	"compress/flate"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"

	"netstack/internal/nserr"
)

// Encoding identifies a Content-Encoding token.
type Encoding string

const (
	EncodingIdentity Encoding = "identity"
	EncodingGzip     Encoding = "gzip"
	EncodingDeflate  Encoding = "deflate"
	EncodingBrotli   Encoding = "br"
)

// ParseEncoding maps a Content-Encoding header token to an Encoding,
// defaulting to EncodingIdentity for unknown/empty values.
func ParseEncoding(token string) Encoding {
	switch Encoding(token) {
	case EncodingGzip, EncodingDeflate, EncodingBrotli:
		return Encoding(token)
	default:
		return EncodingIdentity
	}
}

// defaultRatio and defaultCeiling implement the bomb guard from spec.md
// §4.11: decoded bytes are capped at defaultRatio times the input size,
// or defaultCeiling absolute bytes, whichever is reached first.
const (
	defaultRatio   = 100
	defaultCeiling = 512 << 20 // 512 MiB
)

// Limits configures the bomb guard; zero values fall back to the
// package defaults.
type Limits struct {
	Ratio   int64
	Ceiling int64
}

func (l Limits) resolved() Limits {
	if l.Ratio <= 0 {
		l.Ratio = defaultRatio
	}
	if l.Ceiling <= 0 {
		l.Ceiling = defaultCeiling
	}
	return l
}

// Decode wraps r in a streaming decoder for encoding, bounding the
// decoded byte count per Limits. The returned ReadCloser must be closed
// by the caller to release the underlying decoder (spec.md §9: dropping
// the stream must be safe and release resources).
func Decode(r io.ReadCloser, encoding Encoding, limits Limits) (io.ReadCloser, error) {
	limits = limits.resolved()
	counted := &countingReader{r: r}
	switch encoding {
	case EncodingIdentity:
		return r, nil
	case EncodingGzip:
		gz, err := gzip.NewReader(counted)
		if err != nil {
			r.Close()
			return nil, nserr.Protocol(err)
		}
		return &guardedReader{inner: gz, src: r, counted: counted, limits: limits}, nil
	case EncodingDeflate:
		fr := flate.NewReader(counted)
		return &guardedReader{inner: fr, src: r, counted: counted, limits: limits}, nil
	case EncodingBrotli:
		br := brotli.NewReader(counted)
		return &guardedReader{inner: io.NopCloser(br), src: r, counted: counted, limits: limits}, nil
	default:
		r.Close()
		return nil, nserr.Protocol(errUnknownEncoding(string(encoding)))
	}
}

// countingReader tracks bytes read from the underlying compressed stream
// so the bomb guard can compare decoded output against input size.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type errUnknownEncoding string

func (e errUnknownEncoding) Error() string { return "unknown content encoding: " + string(e) }

// guardedReader enforces the decompression bomb guard by tracking bytes
// read from the source (compressed) stream and bytes produced
// (decompressed), failing once either the ratio or absolute ceiling is
// exceeded.
type guardedReader struct {
	inner   io.ReadCloser
	src     io.ReadCloser
	counted *countingReader
	limits  Limits
	decoded int64
}

func (g *guardedReader) Read(p []byte) (int, error) {
	n, err := g.inner.Read(p)
	if n > 0 {
		g.decoded += int64(n)
		if g.decoded > g.limits.Ceiling {
			return n, nserr.Protocol(errBombGuard("decoded size exceeded absolute ceiling"))
		}
		if g.counted.n > 0 && g.decoded > g.counted.n*g.limits.Ratio {
			return n, nserr.Protocol(errBombGuard("decoded/input ratio exceeded configured bound"))
		}
	}
	return n, err
}

func (g *guardedReader) Close() error {
	err1 := g.inner.Close()
	err2 := g.src.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

type errBombGuard string

func (e errBombGuard) Error() string { return string(e) }
