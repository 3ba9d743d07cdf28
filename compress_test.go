package httpengine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Testable property 6: when the client sends
// "Accept-Encoding: identity;q=0, gzip" responses use gzip.
func TestNegotiateEncodingPrefersGzipOverZeroQIdentity(t *testing.T) {
	got := negotiateEncoding("identity;q=0, gzip", []Encoding{EncodingBrotli, EncodingGzip, EncodingDeflate, EncodingIdentity})
	assert.Equal(t, EncodingGzip, got)
}

// When the whitelist excludes gzip, the engine returns identity and never a
// q=0 encoding.
func TestNegotiateEncodingFallsBackToIdentityWhenWhitelistExcludesMatch(t *testing.T) {
	got := negotiateEncoding("gzip;q=1.0", []Encoding{EncodingIdentity})
	assert.Equal(t, EncodingIdentity, got)
}

func TestNegotiateEncodingNoHeaderIsIdentity(t *testing.T) {
	got := negotiateEncoding("", []Encoding{EncodingGzip, EncodingIdentity})
	assert.Equal(t, EncodingIdentity, got)
}

func TestNegotiateEncodingHonoursServerPreferenceOrder(t *testing.T) {
	got := negotiateEncoding("gzip, br, deflate", []Encoding{EncodingBrotli, EncodingGzip, EncodingDeflate})
	assert.Equal(t, EncodingBrotli, got)
}

func TestNegotiateEncodingDropsZeroQCandidates(t *testing.T) {
	got := negotiateEncoding("br;q=0, gzip;q=0.5", []Encoding{EncodingBrotli, EncodingGzip, EncodingIdentity})
	assert.Equal(t, EncodingGzip, got)
}

func TestNegotiateEncodingWildcardMatchesUnlistedCoding(t *testing.T) {
	got := negotiateEncoding("*;q=1", []Encoding{EncodingGzip, EncodingIdentity})
	assert.Equal(t, EncodingGzip, got)
}

func TestCompressWriterRoundTripsGzip(t *testing.T) {
	var buf bytes.Buffer
	cw := newCompressWriter(EncodingGzip, &buf)
	_, err := cw.Write([]byte("hello world"))
	assert.NoError(t, err)
	assert.NoError(t, cw.Close())
	assert.NotEmpty(t, buf.Bytes())
}

func TestCompressionStreamSplitProducesIndependentSegments(t *testing.T) {
	var buf bytes.Buffer
	cs := newCompressionStream(EncodingGzip, &buf)
	_, err := cs.Write([]byte("segment one"))
	assert.NoError(t, err)
	assert.NoError(t, cs.Split())
	_, err = cs.Write([]byte("segment two"))
	assert.NoError(t, err)
	assert.NoError(t, cs.Close())
	assert.NotEmpty(t, buf.Bytes())
}

func TestBeforeWriteHeadIdentityKeepsContentLength(t *testing.T) {
	header, drop := beforeWriteHead(EncodingIdentity)
	assert.Equal(t, "", header)
	assert.False(t, drop)
}

func TestBeforeWriteHeadCompressedDropsContentLength(t *testing.T) {
	header, drop := beforeWriteHead(EncodingBrotli)
	assert.Equal(t, "br", header)
	assert.True(t, drop)
}
