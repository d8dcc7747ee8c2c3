// Package zuora implements the HTTP transport and data-center resolution
// shared by every driver and by catalog discovery: a single authenticated,
// retrying HTTP session per process (spec.md §4.1, §5).
package zuora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// LatestWSDLVersion is the fixed WSDL version header value injected on
// every REST call.
const LatestWSDLVersion = "91.0"

const (
	tokenExpiryMargin = 60 * time.Second
	retryAttempts      = 5 // 1 initial attempt + 4 retries
	retrySeedBackoff   = 30 * time.Second
)

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Response is the transport's normalised response: a decoded status/body
// pair for control-plane calls, or a line-iterable body for streaming
// CSV downloads.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	bodyReader io.ReadCloser // set only for stream_get; caller owns closing it
}

// Lines returns a scanner-style line iterator over a streamed response
// body. The caller must call Close when done.
func (r *Response) Lines() *LineReader {
	return newLineReader(r.bodyReader)
}

func (r *Response) Close() error {
	if r.bodyReader != nil {
		return r.bodyReader.Close()
	}
	return nil
}

// JSON decodes the buffered response body as JSON into v.
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Client is the single shared HTTP session used by discovery and both
// export drivers. It is safe for sequential use only — this system has
// no concurrent request fan-out (spec.md §5).
type Client struct {
	cfg     Config
	log     *logrus.Logger
	http    *http.Client
	limiter *rate.Limiter

	restBase string
	aquaBase string

	tokenMu     sync.Mutex
	cachedToken string
	tokenExpiry time.Time
	ccConfig    *clientcredentials.Config

	// retrySeed overrides retrySeedBackoff; tests shrink this so retry
	// coverage doesn't require waiting out the real 30s production seed.
	retrySeed time.Duration
}

// NewClient builds a transport for the given config. restBase/aquaBase
// are the resolved data-center base URLs (see resolver.go); for the batch
// driver they're typically the same host, for the sync driver they may
// differ because Zuora publishes separate REST hosts per API type.
func NewClient(cfg Config, restBase, aquaBase string, log *logrus.Logger) *Client {
	c := &Client{
		cfg:      cfg,
		log:      log,
		http:     &http.Client{Timeout: 0}, // streaming downloads must not be time-boxed
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		restBase:  restBase,
		aquaBase:  aquaBase,
		retrySeed: retrySeedBackoff,
	}
	if cfg.IsOAuth() {
		c.ccConfig = &clientcredentials.Config{
			ClientID:     cfg.Username,
			ClientSecret: cfg.Password,
			TokenURL:     restBase + "oauth/token",
			AuthStyle:    0, // oauth2.AuthStyleAutoDetect
		}
	}
	return c
}

// Get issues an authenticated GET against the REST (sync) API base.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, c.restBase+path, nil, false)
}

// Post issues an authenticated POST with a JSON body against the REST API base.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.restBase+path, buf, false)
}

// AquaGet/AquaPost/AquaDelete issue authenticated requests against the
// AQuA (batch) API base, which may live at a different host than the
// REST base (spec.md §4.2).
func (c *Client) AquaGet(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, c.aquaBase+path, nil, false)
}

func (c *Client) AquaPost(ctx context.Context, path string, body interface{}) (*Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.aquaBase+path, buf, false)
}

func (c *Client) AquaDelete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, c.aquaBase+path, nil, false)
}

// StreamGet issues a GET and returns the response with its body left open
// for line-by-line consumption (spec.md §4.5).
func (c *Client) StreamGet(ctx context.Context, aqua bool, path string) (*Response, error) {
	base := c.restBase
	if aqua {
		base = c.aquaBase
	}
	return c.do(ctx, http.MethodGet, base+path, nil, true)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, stream bool) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retrySeed
	b.Multiplier = 2
	b.RandomizationFactor = 0 // Zuora's documented guidance: no jitter
	b.MaxElapsedTime = 0      // bounded by MaxRetries below, not elapsed wall time
	bo := backoff.WithMaxRetries(b, retryAttempts-1)

	var resp *Response
	err := backoff.Retry(func() error {
		r, err := c.attempt(ctx, method, url, body, stream)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, bo)

	if err != nil {
		// 429/5xx responses are retried transparently inside this
		// function; once the retry budget above is exhausted they
		// surface to the caller as a plain ApiError (spec.md §7), same
		// as any other unclassified non-2xx response.
		return nil, err
	}
	return resp, nil
}

// attempt performs exactly one HTTP round trip and classifies the
// outcome. Retryable outcomes are returned as an error so backoff.Retry
// will re-invoke this; terminal outcomes return (resp, nil) or a
// non-retryable error.
func (c *Client) attempt(ctx context.Context, method, url string, body []byte, stream bool) (*Response, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.injectAuth(ctx, req); err != nil {
		return nil, backoff.Permanent(err)
	}

	c.log.WithFields(logrus.Fields{"method": method, "url": url}).Info("zuora request")
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() {
		if !stream {
			httpResp.Body.Close()
		}
	}()

	if stream {
		if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
			buf, _ := io.ReadAll(httpResp.Body)
			httpResp.Body.Close()
			apiErr := &ApiError{Method: method, URL: url, Status: httpResp.StatusCode, Body: string(buf)}
			if retryableStatus[apiErr.Status] {
				return nil, apiErr
			}
			return nil, backoff.Permanent(apiErr)
		}
		return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, bodyReader: httpResp.Body}, nil
	}

	buf, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: buf}, nil
	}

	apiErr := &ApiError{Method: method, URL: url, Status: httpResp.StatusCode, Body: string(buf)}

	if httpResp.StatusCode == http.StatusBadRequest && strings.Contains(string(buf), "noSuchDataSource") {
		return nil, backoff.Permanent(&NoSuchDataSourceError{apiErr})
	}

	if retryableStatus[apiErr.Status] {
		return nil, apiErr // let backoff.Retry re-attempt
	}
	return nil, backoff.Permanent(apiErr)
}

// injectAuth sets the Authorization/credential headers and the WSDL
// version header per spec.md §4.1.
func (c *Client) injectAuth(ctx context.Context, req *http.Request) error {
	req.Header.Set("X-Zuora-WSDL-Version", LatestWSDLVersion)

	if c.cfg.IsOAuth() {
		token, err := c.ensureValidToken(ctx)
		if err != nil {
			return fmt.Errorf("refreshing oauth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}

	req.Header.Set("apiAccessKeyId", c.cfg.Username)
	req.Header.Set("apiSecretAccessKey", c.cfg.Password)
	return nil
}

// ensureValidToken returns a cached bearer token, refreshing it if it is
// absent or within 60 seconds of expiry (spec.md §4.1).
func (c *Client) ensureValidToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.cachedToken != "" && time.Until(c.tokenExpiry) > tokenExpiryMargin {
		return c.cachedToken, nil
	}

	tok, err := c.ccConfig.Token(ctx)
	if err != nil {
		return "", err
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		// The token response carried no expires_in; fall back to decoding
		// the access token as a JWT and reading its exp claim.
		if exp, ok := jwtExpiry(tok.AccessToken); ok {
			expiry = exp
		} else {
			// Without any signal, assume a conservative one-hour lifetime.
			expiry = time.Now().Add(time.Hour)
		}
	}

	c.cachedToken = tok.AccessToken
	c.tokenExpiry = expiry
	return c.cachedToken, nil
}

// jwtExpiry parses tokenStr as a JWT and returns its exp claim, without
// verifying the signature: the bearer token was issued to us by the same
// Zuora tenant we are about to present it to, so there is nothing to
// verify against — only the expiry is of interest.
func jwtExpiry(tokenStr string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
