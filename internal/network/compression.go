// internal/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// acceptEncoding is advertised on every request that does not set its own.
const acceptEncoding = "br, gzip, deflate"

var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
	// emptyReader is used to release pooled readers from their last source.
	emptyReader = strings.NewReader("")
)

// decodedBody closes the decoder, returns it to its pool and closes the body below it.
type decodedBody struct {
	io.ReadCloser
	underlying io.ReadCloser
	release    func()
}

func (b *decodedBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return errors.Join(b.ReadCloser.Close(), b.underlying.Close())
}

// decodeLayer wraps body with a decoder for one Content-Encoding token. A nil
// reader means the layer needs no decoding.
func decodeLayer(encoding string, body io.Reader) (io.ReadCloser, func(), error) {
	switch encoding {
	case "gzip", "x-gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(body); err != nil {
			gzipReaderPool.Put(zr)
			return nil, nil, fmt.Errorf("gzip initialization error: %w", err)
		}
		return zr, func() {
			_ = zr.Reset(emptyReader)
			gzipReaderPool.Put(zr)
		}, nil

	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(body); err != nil {
			brotliReaderPool.Put(br)
			return nil, nil, fmt.Errorf("brotli initialization error: %w", err)
		}
		return io.NopCloser(br), func() {
			_ = br.Reset(emptyReader)
			brotliReaderPool.Put(br)
		}, nil

	case "deflate":
		return tryDeflate(body), nil, nil

	case "identity", "":
		return nil, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
	}
}

// DecompressResponse replaces resp.Body with a reader that undoes every layer
// listed in Content-Encoding, last applied first. On error the body may be
// partially consumed and the response must be discarded.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}

	var encodings []string
	for _, v := range resp.Header.Values("Content-Encoding") {
		for _, token := range strings.Split(v, ",") {
			encodings = append(encodings, strings.ToLower(strings.TrimSpace(token)))
		}
	}
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		reader, release, err := decodeLayer(encodings[i], resp.Body)
		if err != nil {
			return err
		}
		if reader == nil {
			continue
		}
		resp.Body = &decodedBody{ReadCloser: reader, underlying: resp.Body, release: release}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// compressionTransport negotiates compression and decodes responses transparently.
type compressionTransport struct {
	next http.RoundTripper
}

func (t *compressionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := DecompressResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// replayReader records what is read so the stream can be replayed from the start.
type replayReader struct {
	r      io.Reader
	buf    *bytes.Buffer
	source io.Reader
}

func newReplayReader(r io.Reader) *replayReader {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	return &replayReader{r: io.TeeReader(r, buf), buf: buf, source: r}
}

func (rr *replayReader) Read(p []byte) (int, error) { return rr.r.Read(p) }

func (rr *replayReader) rewind() {
	rr.r = io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.source)
}

// commit stops recording once no rewind can happen.
func (rr *replayReader) commit() {
	rr.r = rr.source
	rr.buf = nil
}

// tryDeflate decodes zlib wrapped deflate, falling back to raw deflate, since
// servers send both under the same name.
func tryDeflate(r io.Reader) io.ReadCloser {
	rr := newReplayReader(r)
	if zr, err := zlib.NewReader(rr); err == nil {
		rr.commit()
		return zr
	}
	rr.rewind()
	return flate.NewReader(rr)
}
