package httpengine

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"
)

// MultipartHandlers are the callbacks passed to ReadMultipartData, invoked
// in stream order as each part of a multipart body is read.
type MultipartHandlers struct {
	// OnPartStart is invoked once per part with its form field name and
	// filename (empty for non-file fields).
	OnPartStart func(fieldName, fileName string, header http.Header) error
	// OnPartChunk is invoked zero or more times per part with successive
	// chunks of its content. The next chunk (of this part or the next
	// part) is not read until this call returns, giving the caller
	// backpressure over the whole multipart stream.
	OnPartChunk func(chunk []byte) error
	// OnPartEnd is invoked once a part has been fully read.
	OnPartEnd func() error
}

const multipartChunkSize = 32 * 1024

// ReadMultipartData validates that the request declares a multipart body
// with a boundary, then iterates its parts in stream order, invoking h's
// callbacks with backpressure: the next chunk is not read until the prior
// callback's returned error has been observed, per SPEC_FULL §4.3.
func (rs *RequestState) ReadMultipartData(h MultipartHandlers) error {
	mediaType, params, err := mime.ParseMediaType(rs.Headers.Get("content-type"))
	if err != nil || mediaType != "multipart/form-data" {
		return NewSendError(ReasonMultipartInvalidType, http.StatusBadRequest, nil)
	}
	boundary, ok := params["boundary"]
	if !ok || boundary == "" {
		return NewSendError(ReasonMultipartMissingBound, http.StatusBadRequest, nil)
	}

	reader := multipart.NewReader(rs.bodyReader(), boundary)
	buf := make([]byte, multipartChunkSize)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return InternalServerError(err)
		}

		if h.OnPartStart != nil {
			if err := h.OnPartStart(part.FormName(), part.FileName(), http.Header(part.Header)); err != nil {
				part.Close()
				return err
			}
		}

		for {
			n, rerr := part.Read(buf)
			if n > 0 && h.OnPartChunk != nil {
				if cerr := h.OnPartChunk(buf[:n]); cerr != nil {
					part.Close()
					return cerr
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				part.Close()
				return InternalServerError(rerr)
			}
		}

		if h.OnPartEnd != nil {
			if err := h.OnPartEnd(); err != nil {
				part.Close()
				return err
			}
		}
		part.Close()
	}

	return nil
}
