package httpengine

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	full := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(full, content, 0o644))
	return full
}

func sendFileRS(t *testing.T, method, path string, headers map[string]string) (*RequestState, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rs, se := newRequestState(rec, req, NewEventBus(), "", nil, 0)
	require.Nil(t, se)
	return rs, rec
}

func TestSendFileServesContentWithType(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "hello.txt", []byte("hello world"))

	rs, rec := sendFileRS(t, http.MethodGet, "/hello.txt", nil)
	_, err := rs.SendFile(FileSenderOptions{Root: dir, RelativePath: "hello.txt"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "hello world", rec.Body.String())
}

func TestSendFileRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "secret.txt", []byte("top secret"))
	outside := t.TempDir()
	writeTempFile(t, outside, "escape.txt", []byte("should not be served"))

	rs, rec := sendFileRS(t, http.MethodGet, "/../escape.txt", nil)
	_, err := rs.SendFile(FileSenderOptions{Root: dir, RelativePath: "../escape.txt"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendFileRejectsDotfiles(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, ".env", []byte("SECRET=1"))

	rs, rec := sendFileRS(t, http.MethodGet, "/.env", nil)
	_, err := rs.SendFile(FileSenderOptions{Root: dir, RelativePath: ".env"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendFileMissingInvokesOnNotFound(t *testing.T) {
	dir := t.TempDir()
	rs, rec := sendFileRS(t, http.MethodGet, "/missing.txt", nil)
	called := false
	_, err := rs.SendFile(FileSenderOptions{
		Root:         dir,
		RelativePath: "missing.txt",
		OnNotFound: func(rs *RequestState) (StreamEnded, error) {
			called = true
			return rs.SendSimple(http.StatusNotFound, "custom not found")
		},
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "custom not found", rec.Body.String())
}

func TestSendFileDirectorySends404WithReasonHeader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	rs, rec := sendFileRS(t, http.MethodGet, "/sub", nil)
	_, err := rs.SendFile(FileSenderOptions{Root: dir, RelativePath: "sub"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Directory listing not allowed", rec.Header().Get("x-reason"))
}

func TestSendFileRangeRequest(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "range.txt", []byte("0123456789"))

	rs, rec := sendFileRS(t, http.MethodGet, "/range.txt", map[string]string{"Range": "bytes=2-5"})
	_, err := rs.SendFile(FileSenderOptions{Root: dir, RelativePath: "range.txt", AcceptRanges: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())
	assert.Equal(t, "bytes 2-5/10", rec.Header().Get("Content-Range"))
}

func TestSendFileRangeOutOfBoundsIs416(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "small.txt", []byte("0123456789"))

	rs, rec := sendFileRS(t, http.MethodGet, "/small.txt", map[string]string{"Range": "bytes=100-200"})
	_, err := rs.SendFile(FileSenderOptions{Root: dir, RelativePath: "small.txt", AcceptRanges: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
}

func TestSendFileConditionalGetReturns304(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "etagged.txt", []byte("content"))

	rs1, rec1 := sendFileRS(t, http.MethodGet, "/etagged.txt", nil)
	_, err := rs1.SendFile(FileSenderOptions{Root: dir, RelativePath: "etagged.txt", ETag: true})
	require.NoError(t, err)
	etag := rec1.Header().Get("Etag")
	require.NotEmpty(t, etag)

	rs2, rec2 := sendFileRS(t, http.MethodGet, "/etagged.txt", map[string]string{"If-None-Match": etag})
	_, err = rs2.SendFile(FileSenderOptions{Root: dir, RelativePath: "etagged.txt", ETag: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, rec2.Code)
}
