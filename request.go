package httpengine

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// BodyFormat tags how a matched route wants its request body prepared
// before its handler runs, per SPEC_FULL §3/§4.5 step 4.
type BodyFormat string

const (
	BodyFormatIgnore                       BodyFormat = "ignore"
	BodyFormatStream                       BodyFormat = "stream"
	BodyFormatBuffer                       BodyFormat = "buffer"
	BodyFormatString                       BodyFormat = "string"
	BodyFormatJSON                         BodyFormat = "json"
	BodyFormatFormURLEncoded               BodyFormat = "www-form-urlencoded"
	BodyFormatFormURLEncodedURLSearchParams BodyFormat = "www-form-urlencoded-urlsearchparams"
	BodyFormatMultipart                    BodyFormat = "multipart"
)

// DefaultMaxBodyBytes is the body-size ceiling applied when a listener does
// not configure its own, per SPEC_FULL §4.5 step 4 ("≈100 MiB").
const DefaultMaxBodyBytes int64 = 100 << 20

// StreamEnded is the concrete result variant every RequestState sender
// method returns, replacing the source runtime's "throw a unique symbol to
// unwind handlers" trick (SPEC_FULL §9) with a typed value a Handler must
// return. A zero StreamEnded is never produced by a sender; only
// newStreamEnded does, so its mere presence as a Handler's return value is
// proof the response was finalised.
type StreamEnded struct{ ended bool }

func newStreamEnded() StreamEnded { return StreamEnded{ended: true} }

// Ended reports whether this value actually came from a sender. A Handler
// returning the zero value (e.g. by mistake, `return StreamEnded{}, nil`)
// is indistinguishable from one that forgot to send a response, which is
// exactly the REQUEST_DROPPED case the router detects.
func (s StreamEnded) Ended() bool { return s.ended }

// RequestState is the per-request façade the router constructs once a
// request has been parsed and matched: the *Streamer* of SPEC_FULL §4.3.
// It is owned by the goroutine dispatching the request; no other goroutine
// may read its body or write its response (SPEC_FULL §5).
type RequestState struct {
	Method       string
	Host         string
	URL          string
	URLInfo      *url.URL
	PathPrefix   string
	Headers      Headers
	Cookies      map[string][]string
	PathParams   map[string]string
	QueryParams  url.Values
	BodyFormat   BodyFormat
	DataBuffer   []byte
	Data         interface{}
	RoutePath    string
	ExpectSecure bool
	User         interface{}

	// PendingHeaders are merged into every Send* call's headers argument,
	// ahead of whatever the call itself specifies. request.middleware
	// subscribers (e.g. a security-headers hook) use this to contribute
	// headers before the route's own handler has decided how to respond.
	PendingHeaders Headers

	bus          *EventBus
	logger       *Logger
	w            http.ResponseWriter
	r            *http.Request
	compress     []Encoding
	stream       *compressionStream
	maxBodyBytes int64

	mu          sync.Mutex
	headersSent bool
	firstSentAt string
}

// newRequestState builds a RequestState from a raw *http.Request/
// http.ResponseWriter pair, applying pseudo-header translation and
// path-prefix stripping. It does not read the body.
func newRequestState(w http.ResponseWriter, r *http.Request, bus *EventBus, pathPrefix string, compress []Encoding, maxBodyBytes int64) (*RequestState, *SendError) {
	headers := NewHeaders()
	for k, vs := range r.Header {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	normalizePseudoHeaders(headers)

	host := headers.Get("host")
	if host == "" {
		host = r.Host
	}

	rawPath := r.URL.Path
	strippedPath := rawPath

	if pathPrefix != "" {
		if rawPath == pathPrefix {
			return nil, &SendError{Reason: ReasonPathPrefixMismatch, Status: http.StatusFound, Details: pathPrefix + "/"}
		}
		if !strings.HasPrefix(rawPath, pathPrefix) {
			return nil, NewSendError(
				ReasonPathPrefixMismatch,
				http.StatusInternalServerError,
				fmt.Sprintf("The server is setup with a path prefix %s, but this request is outside of that prefix.", pathPrefix),
			)
		}
		strippedPath = strings.TrimPrefix(rawPath, pathPrefix)
		if strippedPath == "" {
			strippedPath = "/"
		}
	}

	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	rs := &RequestState{
		Method:       r.Method,
		Host:         host,
		URL:          strippedPath,
		URLInfo:      r.URL,
		PathPrefix:   pathPrefix,
		Headers:      headers,
		Cookies:      parseCookies(headers.Get("cookie")),
		PathParams:   map[string]string{},
		QueryParams:  r.URL.Query(),
		BodyFormat:   BodyFormatIgnore,
		ExpectSecure: r.TLS != nil || headers.Get("x-forwarded-proto") == "https",
		bus:          bus,
		w:            w,
		r:            r,
		compress:     compress,
		maxBodyBytes: maxBodyBytes,
	}
	return rs, nil
}

// HeadersSent reports whether a response has already begun.
func (rs *RequestState) HeadersSent() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.headersSent
}

// markHeadersSent enforces the "exactly one headers-sent event per
// response" invariant (SPEC_FULL §3, §4.3 "Header discipline"). A second
// attempt is logged (with the first call site) and ignored rather than
// panicking, since by the time this fires the first response is already on
// the wire.
func (rs *RequestState) markHeadersSent() (already bool, firstSite string) {
	rs.mu.Lock()
	if rs.headersSent {
		first := rs.firstSentAt
		rs.mu.Unlock()
		rs.logger.Warnf("headers for %s %s already sent at %s; ignoring second attempt", rs.Method, rs.URL, first)
		return true, first
	}
	_, file, line, _ := runtime.Caller(2)
	rs.firstSentAt = fmt.Sprintf("%s:%d", file, line)
	rs.headersSent = true
	rs.mu.Unlock()
	return false, ""
}

func (rs *RequestState) writeHead(status int, headers Headers) {
	hdr := rs.w.Header()
	for k, vs := range rs.PendingHeaders {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}
	for k, vs := range headers {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}
	rs.w.WriteHeader(status)
}

// SetResponseHeader stages a header to be merged into the response headers
// of whatever Send* call eventually finalises this request. Safe to call
// multiple times before headers are sent.
func (rs *RequestState) SetResponseHeader(key, value string) {
	if rs.PendingHeaders == nil {
		rs.PendingHeaders = NewHeaders()
	}
	rs.PendingHeaders.Set(key, value)
}

func (rs *RequestState) negotiatedEncoding() Encoding {
	if len(rs.compress) == 0 {
		return EncodingIdentity
	}
	return negotiateEncoding(rs.Headers.Get("accept-encoding"), rs.compress)
}

// ReadBuffer reads and returns the full request body, per SPEC_FULL §4.3.
func (rs *RequestState) ReadBuffer() ([]byte, error) {
	limited := io.LimitReader(rs.r.Body, rs.maxBodyBytes+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > rs.maxBodyBytes {
		return nil, NewSendError(ReasonPayloadTooLarge, http.StatusRequestEntityTooLarge, nil)
	}
	return buf, nil
}

// SendEmpty sends status with headers and no body.
func (rs *RequestState) SendEmpty(status int, headers Headers) (StreamEnded, error) {
	if already, _ := rs.markHeadersSent(); already {
		return newStreamEnded(), nil
	}
	if headers == nil {
		headers = NewHeaders()
	}
	rs.writeHead(status, headers)
	return newStreamEnded(), nil
}

// SendString sends data (already encoded by the caller) as the body, setting
// Content-Length and omitting the body entirely for HEAD requests. The
// encoding argument is accepted but not used.
func (rs *RequestState) SendString(status int, headers Headers, data []byte, encoding string) (StreamEnded, error) {
	return rs.sendBytes(status, headers, data)
}

// SendBuffer is SendString's binary-safe twin.
func (rs *RequestState) SendBuffer(status int, headers Headers, buf []byte) (StreamEnded, error) {
	return rs.sendBytes(status, headers, buf)
}

func (rs *RequestState) sendBytes(status int, headers Headers, data []byte) (StreamEnded, error) {
	if already, _ := rs.markHeadersSent(); already {
		return newStreamEnded(), nil
	}
	if headers == nil {
		headers = NewHeaders()
	}

	enc := rs.negotiatedEncoding()
	encHeader, dropLength := beforeWriteHead(enc)
	if encHeader != "" {
		headers.Set("content-encoding", encHeader)
	}
	if !dropLength {
		headers.Set("content-length", strconv.Itoa(len(data)))
	}

	rs.writeHead(status, headers)

	if rs.Method == http.MethodHead {
		return newStreamEnded(), nil
	}

	if enc == EncodingIdentity {
		_, err := rs.w.Write(data)
		return newStreamEnded(), err
	}

	cw := newCompressWriter(enc, rs.w)
	if _, err := cw.Write(data); err != nil {
		cw.Close()
		return newStreamEnded(), err
	}
	return newStreamEnded(), cw.Close()
}

// SendStream pipes readable as the response body. On HEAD it closes the
// source (when it is an io.Closer) without reading it or writing any bytes,
// per SPEC_FULL §4.3.
func (rs *RequestState) SendStream(status int, headers Headers, readable io.Reader) (StreamEnded, error) {
	if already, _ := rs.markHeadersSent(); already {
		return newStreamEnded(), nil
	}
	if headers == nil {
		headers = NewHeaders()
	}

	if closer, ok := readable.(io.Closer); ok && rs.Method == http.MethodHead {
		defer closer.Close()
	}

	enc := rs.negotiatedEncoding()
	encHeader, dropLength := beforeWriteHead(enc)
	if encHeader != "" {
		headers.Set("content-encoding", encHeader)
	}
	if dropLength {
		headers.Delete("content-length")
	}

	rs.writeHead(status, headers)

	if rs.Method == http.MethodHead {
		if closer, ok := readable.(io.Closer); ok {
			closer.Close()
		}
		return newStreamEnded(), nil
	}

	if enc == EncodingIdentity {
		_, err := io.Copy(rs.w, readable)
		if flusher, ok := rs.w.(http.Flusher); ok {
			flusher.Flush()
		}
		return newStreamEnded(), err
	}

	cw := newCompressWriter(enc, rs.w)
	if _, err := io.Copy(cw, readable); err != nil {
		cw.Close()
		return newStreamEnded(), err
	}
	err := cw.Close()
	if flusher, ok := rs.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return newStreamEnded(), err
}

// SendSimple sends a plain UTF-8 text/plain response.
func (rs *RequestState) SendSimple(status int, text string) (StreamEnded, error) {
	return rs.sendBytesWithContentType(status, NewHeaders(), []byte(text), "text/plain; charset=utf-8")
}

// SendJSON marshals value and sends it as application/json.
func (rs *RequestState) SendJSON(status int, value interface{}) (StreamEnded, error) {
	buf, err := json.Marshal(value)
	if err != nil {
		return StreamEnded{}, InternalServerError(err)
	}
	return rs.sendBytesWithContentType(status, NewHeaders(), buf, "application/json; charset=utf-8")
}

func (rs *RequestState) sendBytesWithContentType(status int, headers Headers, data []byte, contentType string) (StreamEnded, error) {
	if headers.Get("content-type") == "" {
		headers.Set("content-type", contentType)
	}
	return rs.sendBytes(status, headers, data)
}

// Redirect sends a 302 redirect to location, prepending the configured path
// prefix, per SPEC_FULL §4.3.
func (rs *RequestState) Redirect(location string) (StreamEnded, error) {
	if rs.PathPrefix != "" && strings.HasPrefix(location, "/") {
		location = rs.PathPrefix + location
	}
	headers := NewHeaders()
	headers.Set("location", location)
	return rs.SendEmpty(http.StatusFound, headers)
}

// SetCookie appends a Set-Cookie header for name=value with the given
// options, per SPEC_FULL §4.3.
func (rs *RequestState) SetCookie(name, value string, opts CookieOptions) {
	c := &cookie{name: name, value: url.QueryEscape(value), options: opts}
	s := c.String()
	if s == "" {
		return
	}
	rs.w.Header().Add("Set-Cookie", s)
}

// WriteEarlyHints sends a 103 Early Hints response carrying headers. It is
// a no-op outside HTTP/2, where net/http has no mechanism to emit an
// informational response before the final one.
func (rs *RequestState) WriteEarlyHints(headers Headers) {
	if rs.r.ProtoMajor < 2 {
		return
	}
	hdr := rs.w.Header()
	for k, vs := range headers {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}
	rs.w.WriteHeader(http.StatusEarlyHints)
}

// bodyReader exposes the raw request body for the multipart reader, which
// needs lower-level access than ReadBuffer.
func (rs *RequestState) bodyReader() io.ReadCloser { return rs.r.Body }

// decodeJSON is a thin wrapper kept for the router's json BodyFormat case
// so its error messages are consistent with SendJSON's.
func decodeJSON(buf []byte, v interface{}) error {
	return json.Unmarshal(buf, v)
}

// parseFormURLEncoded decodes an application/x-www-form-urlencoded body
// into a url.Values, the www-form-urlencoded BodyFormat case.
func parseFormURLEncoded(body string) (url.Values, error) {
	return url.ParseQuery(body)
}

