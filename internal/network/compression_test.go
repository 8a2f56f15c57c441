// internal/network/compression_test.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = "<html><body>compressed payload compressed payload</body></html>"

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func brotliBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func rawDeflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newEncodedResponse(encoding string, body []byte) *http.Response {
	h := make(http.Header)
	if encoding != "" {
		h.Set("Content-Encoding", encoding)
	}
	h.Set("Content-Length", "123")
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: 123,
	}
}

func TestDecompressResponse(t *testing.T) {
	payload := []byte(samplePayload)

	testCases := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{"gzip", "gzip", gzipBytes(t, payload)},
		{"x-gzip", "x-gzip", gzipBytes(t, payload)},
		{"brotli", "br", brotliBytes(t, payload)},
		{"zlib deflate", "deflate", zlibBytes(t, payload)},
		{"raw deflate", "deflate", rawDeflateBytes(t, payload)},
		{"identity", "identity", payload},
		{"layered", "gzip, br", brotliBytes(t, gzipBytes(t, payload))},
		{"mixed case", "GZip", gzipBytes(t, payload)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := newEncodedResponse(tc.encoding, tc.body)
			require.NoError(t, DecompressResponse(resp))

			got, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.NoError(t, resp.Body.Close())

			assert.Equal(t, samplePayload, string(got))
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
			assert.Empty(t, resp.Header.Get("Content-Length"))
			assert.Equal(t, int64(-1), resp.ContentLength)
		})
	}
}

func TestDecompressResponse_NoEncoding(t *testing.T) {
	resp := newEncodedResponse("", []byte("plain"))
	require.NoError(t, DecompressResponse(resp))
	assert.Equal(t, int64(123), resp.ContentLength, "untouched when not encoded")

	require.NoError(t, DecompressResponse(nil))
}

func TestDecompressResponse_Errors(t *testing.T) {
	err := DecompressResponse(newEncodedResponse("compress", []byte("x")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")

	err = DecompressResponse(newEncodedResponse("gzip", []byte("definitely not gzip")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gzip")
}

func TestDecompressResponse_PoolReuse(t *testing.T) {
	// Readers come back from the pools after Close and must decode fresh input.
	for i := 0; i < 5; i++ {
		payload := strings.Repeat("x", i*100+1)
		resp := newEncodedResponse("br", brotliBytes(t, []byte(payload)))
		require.NoError(t, DecompressResponse(resp))
		got, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, payload, string(got))
	}
}
