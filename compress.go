package httpengine

import (
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// Encoding is one of the content-codings the compression layer knows how to
// produce.
type Encoding string

const (
	EncodingIdentity Encoding = "identity"
	EncodingGzip     Encoding = "gzip"
	EncodingDeflate  Encoding = "deflate"
	EncodingBrotli   Encoding = "br"
)

type acceptEncoding struct {
	name string
	q    float64
}

// negotiateEncoding implements SPEC_FULL §4.4's algorithm: parse q-values
// from the client's Accept-Encoding header, drop zero-q candidates,
// intersect with whitelist (the server's acceptable encodings, in
// server-preferred order), and fall back to identity when nothing matches.
func negotiateEncoding(acceptEncodingHeader string, whitelist []Encoding) Encoding {
	if acceptEncodingHeader == "" {
		return EncodingIdentity
	}

	candidates := make(map[string]float64)
	for _, part := range strings.Split(acceptEncodingHeader, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := part
		q := 1.0
		if i := strings.IndexByte(part, ';'); i >= 0 {
			name = strings.TrimSpace(part[:i])
			params := part[i+1:]
			for _, p := range strings.Split(params, ";") {
				p = strings.TrimSpace(p)
				if strings.HasPrefix(p, "q=") {
					if v, err := strconv.ParseFloat(strings.TrimPrefix(p, "q="), 64); err == nil {
						q = v
					}
				}
			}
		}
		candidates[strings.ToLower(name)] = q
	}

	explicitIdentityZero := candidates["identity"] == 0
	if q, ok := candidates["*"]; ok && q == 0 {
		explicitIdentityZero = explicitIdentityZero || true
	}

	for _, enc := range whitelist {
		q, present := candidates[string(enc)]
		if enc == EncodingIdentity {
			if present && q == 0 {
				continue
			}
			return EncodingIdentity
		}
		if present && q > 0 {
			return enc
		}
		if wildcard, ok := candidates["*"]; ok && wildcard > 0 && !present {
			return enc
		}
	}

	if explicitIdentityZero {
		// No acceptable coding survived and identity itself was excluded;
		// the caller still gets bytes back uncompressed rather than an
		// error, matching the engine's "never fail a response over
		// encoding negotiation" policy.
		return EncodingIdentity
	}
	return EncodingIdentity
}

// sortedAcceptEncodings is exposed for tests that want to assert on the
// parsed, quality-ordered view of a raw header value.
func sortedAcceptEncodings(header string) []acceptEncoding {
	var out []acceptEncoding
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := part
		q := 1.0
		if i := strings.IndexByte(part, ';'); i >= 0 {
			name = strings.TrimSpace(part[:i])
			if v, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(part[i+1:]), "q="), 64); err == nil {
				q = v
			}
		}
		out = append(out, acceptEncoding{name: strings.ToLower(name), q: q})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].q > out[j].q })
	return out
}

var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return w
	},
}

var flateWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := flate.NewWriter(io.Discard, flate.DefaultCompression)
		return w
	},
}

var brotliWriterPool = sync.Pool{
	New: func() interface{} {
		return brotli.NewWriter(io.Discard)
	},
}

// compressWriter wraps w with the codec for enc. Callers must call Close to
// flush and release the pooled encoder; Close never closes the underlying
// w.
type compressWriter struct {
	enc  Encoding
	dst  io.Writer
	cw   io.WriteCloser
}

func newCompressWriter(enc Encoding, dst io.Writer) *compressWriter {
	cw := &compressWriter{enc: enc, dst: dst}
	switch enc {
	case EncodingGzip:
		gw := gzipWriterPool.Get().(*gzip.Writer)
		gw.Reset(dst)
		cw.cw = gw
	case EncodingDeflate:
		fw := flateWriterPool.Get().(*flate.Writer)
		fw.Reset(dst)
		cw.cw = fw
	case EncodingBrotli:
		bw := brotliWriterPool.Get().(*brotli.Writer)
		bw.Reset(dst)
		cw.cw = bw
	default:
		cw.cw = nopWriteCloser{dst}
	}
	return cw
}

func (c *compressWriter) Write(p []byte) (int, error) {
	return c.cw.Write(p)
}

// Close flushes the encoder and returns it to its pool. It does not close
// the destination writer, matching the teacher's "pristine state" reset
// idea in its gzip gas: the wrapped stream stays open for a subsequent
// split via splitCompressionStream.
func (c *compressWriter) Close() error {
	err := c.cw.Close()
	switch c.enc {
	case EncodingGzip:
		gzipWriterPool.Put(c.cw)
	case EncodingDeflate:
		flateWriterPool.Put(c.cw)
	case EncodingBrotli:
		brotliWriterPool.Put(c.cw)
	}
	return err
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressionStream owns the single active compressWriter for a response
// and supports being finalised and replaced mid-response.
type compressionStream struct {
	enc     Encoding
	dst     io.Writer
	current *compressWriter
}

func newCompressionStream(enc Encoding, dst io.Writer) *compressionStream {
	cs := &compressionStream{enc: enc, dst: dst}
	cs.current = newCompressWriter(enc, dst)
	return cs
}

func (cs *compressionStream) Write(p []byte) (int, error) {
	return cs.current.Write(p)
}

// Split flushes and finalises the current encoded stream then opens a new
// one of the same encoding, per SPEC_FULL §4.4's splitCompressionStream,
// used by chunked log/export endpoints that want independently-decodable
// segments within one HTTP response.
func (cs *compressionStream) Split() error {
	if err := cs.current.Close(); err != nil {
		return err
	}
	cs.current = newCompressWriter(cs.enc, cs.dst)
	return nil
}

// Close finalises the current encoded stream. It must be called exactly
// once at the end of a response body.
func (cs *compressionStream) Close() error {
	return cs.current.Close()
}

// beforeWriteHead reports the Content-Encoding header value to set (or ""
// for identity, in which case the header should be omitted) and whether any
// existing Content-Length should be removed because the body will be
// re-compressed.
func beforeWriteHead(enc Encoding) (headerValue string, dropContentLength bool) {
	if enc == EncodingIdentity {
		return "", false
	}
	return string(enc), true
}
