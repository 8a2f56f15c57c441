// internal/network/fetcher.go
package network

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rulecheck/api/schemas"
	"github.com/xkilldash9x/rulecheck/internal/config"
)

// ErrTooManyRedirects is returned when a fetch exceeds the redirect budget.
var ErrTooManyRedirects = errors.New("too many redirects")

// Rewriter rewrites redirect targets. *ruleset.Index satisfies it.
type Rewriter interface {
	Rewrite(rawURL string) string
}

// FetcherOptions carries the optional collaborators of a Fetcher.
type FetcherOptions struct {
	// Rewriter, when set, is applied to every redirect target.
	Rewriter Rewriter
	// Limiter is shared between fetchers so that both sides of a pair are paced together.
	Limiter *HostLimiter
	Logger  *zap.Logger
}

// Fetcher issues GET requests trusting a single platform's roots. It is safe
// for concurrent use.
type Fetcher struct {
	platform     string
	client       *http.Client
	userAgent    string
	maxRedirects int
	maxBody      int64
	rewriter     Rewriter
	limiter      *HostLimiter
	logger       *zap.Logger
}

var _ schemas.Fetcher = (*Fetcher)(nil)

// NewFetcher builds a fetcher bound to platform. roots may be nil to use the
// system trust store.
func NewFetcher(cfg config.HTTPConfig, platform string, roots *x509.CertPool, opts FetcherOptions) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("fetcher").With(zap.String("platform", platform))

	clientCfg := NewDefaultClientConfig()
	clientCfg.RootCAs = roots
	clientCfg.IgnoreTLSErrors = cfg.IgnoreTLSErrors
	if cfg.Timeout > 0 {
		clientCfg.RequestTimeout = cfg.Timeout
	}
	clientCfg.Logger = logger

	return &Fetcher{
		platform:     platform,
		client:       NewHTTPClient(clientCfg),
		userAgent:    cfg.UserAgent,
		maxRedirects: cfg.MaxRedirects,
		maxBody:      cfg.MaxBodyBytes,
		rewriter:     opts.Rewriter,
		limiter:      opts.Limiter,
		logger:       logger,
	}
}

// Platform names the trust store the fetcher verifies against.
func (f *Fetcher) Platform() string { return f.platform }

// Fetch requests rawURL, following redirects itself. HTTP error statuses are
// returned as pages; only transport failures are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*schemas.Page, error) {
	current := rawURL
	for hops := 0; ; hops++ {
		resp, err := f.do(ctx, current)
		if err != nil {
			return nil, err
		}

		if next, ok := redirectTarget(resp); ok {
			drainAndClose(resp.Body)
			if hops >= f.maxRedirects {
				return nil, fmt.Errorf("%s: %w (%d)", rawURL, ErrTooManyRedirects, f.maxRedirects)
			}
			if f.rewriter != nil {
				rewritten := f.rewriter.Rewrite(next)
				if rewritten != next {
					f.logger.Debug("Rewrote redirect target", zap.String("from", next), zap.String("to", rewritten))
				}
				next = rewritten
			}
			current = next
			continue
		}

		body, err := f.readBody(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to read body of %s: %w", current, err)
		}
		return &schemas.Page{
			URL:        rawURL,
			FinalURL:   current,
			StatusCode: resp.StatusCode,
			Body:       body,
		}, nil
	}
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL %q: %w", rawURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if err := f.limiter.Wait(ctx, req.URL.Hostname()); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", req.URL.Host, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// readBody reads at most maxBody bytes and closes the body. Longer bodies are truncated.
func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	defer drainAndClose(resp.Body)
	if f.maxBody <= 0 {
		return io.ReadAll(resp.Body)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBody {
		f.logger.Debug("Truncated response body",
			zap.String("url", resp.Request.URL.String()),
			zap.Int64("max_body_bytes", f.maxBody))
		body = body[:f.maxBody]
	}
	return body, nil
}

// redirectTarget returns the absolute Location of a redirect response.
func redirectTarget(resp *http.Response) (string, bool) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return "", false
	}
	loc, err := resp.Location()
	if err != nil {
		return "", false
	}
	loc.Fragment = ""
	return loc.String(), true
}

// drainAndClose lets the connection be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
