package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/benmeehan/vpn-core/internal/constants"
	"github.com/benmeehan/vpn-core/internal/endpoints"
	"github.com/benmeehan/vpn-core/internal/metrics"
	"github.com/benmeehan/vpn-core/internal/models"
	"github.com/benmeehan/vpn-core/pkg/errs"
	"github.com/benmeehan/vpn-core/pkg/jwt"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BodyDecrypter decrypts opaque-binary response bodies.
type BodyDecrypter interface {
	Decrypt(data []byte) ([]byte, error)
}

// SecureChannelClient performs authenticated requests for logical operations.
type SecureChannelClient interface {
	Request(ctx context.Context, operation string, params map[string]string) ([]byte, error)
}

// Options configures a Client.
type Options struct {
	BaseURL          string
	Timeout          time.Duration
	MaxResponseBytes int64
	UserAgent        string
}

// Client attaches bearer tokens to backend requests, retries once on a
// rejected token and decrypts octet-stream bodies.
type Client struct {
	baseURL   *url.URL
	timeout   time.Duration
	maxBody   int64
	userAgent string

	httpClient Doer
	resolver   endpoints.EndpointResolver
	issuer     jwt.CredentialIssuer
	decrypter  BodyDecrypter
	metrics    *metrics.Registry
	logger     zerolog.Logger
}

// NewClient initializes a new Client.
func NewClient(opts Options, httpClient Doer, resolver endpoints.EndpointResolver, issuer jwt.CredentialIssuer,
	decrypter BodyDecrypter, m *metrics.Registry, logger zerolog.Logger) (*Client, error) {

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return nil, fmt.Errorf("base url %q must be http(s)", opts.BaseURL)
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = constants.DefaultMaxResponseBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "vpncore/" + constants.Version
	}

	return &Client{
		baseURL:    base,
		timeout:    opts.Timeout,
		maxBody:    opts.MaxResponseBytes,
		userAgent:  opts.UserAgent,
		httpClient: httpClient,
		resolver:   resolver,
		issuer:     issuer,
		decrypter:  decrypter,
		metrics:    m,
		logger:     logger,
	}, nil
}

// NewHTTPClient returns an HTTP/2 capable client that refuses TLS below 1.2.
// Timeouts are applied per request through the context.
func NewHTTPClient() (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          16,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("failed to enable HTTP/2: %w", err)
	}
	return &http.Client{Transport: transport}, nil
}

// response is the part of an HTTP response the client acts on.
type response struct {
	status      int
	contentType string
	body        []byte
}

// Request resolves operation, sends it with a bearer token and returns the
// decrypted body. A 401 forces one token reissue and one retry; nothing else
// is retried.
func (c *Client) Request(ctx context.Context, operation string, params map[string]string) (body []byte, err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveRequest(operation, errs.Code(err), time.Since(start))
	}()

	endpoint, err := c.resolver.Resolve(operation)
	if err != nil {
		return nil, err
	}
	target, err := c.target(endpoint, params)
	if err != nil {
		return nil, errs.New(errs.ErrConfigCorrupt, operation, err)
	}

	logger := c.logger.With().Str("operation", operation).Logger()

	for attempt := 1; ; attempt++ {
		token, err := c.issuer.Current(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, endpoint.Method, target, token.Raw)
		if err != nil {
			logger.Error().Err(err).Int("attempt", attempt).Msg("Request failed")
			return nil, errs.New(classify(err), operation, err)
		}

		if resp.status == http.StatusUnauthorized {
			if attempt == 1 {
				logger.Warn().Str("jti", token.ID).Msg("Bearer token rejected, reissuing and retrying once")
				c.issuer.Invalidate(token.Raw)
				c.metrics.ObserveAuthRetry(operation)
				continue
			}
			logger.Error().Msg("Bearer token rejected after reissue")
			return nil, errs.New(errs.ErrCredentialIssuance, operation, errs.ErrAuthRejected)
		}

		return c.handle(operation, resp)
	}
}

func (c *Client) target(endpoint endpoints.Descriptor, params map[string]string) (string, error) {
	path, err := endpoint.Expand(params)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("endpoint %q expands to an invalid url: %w", endpoint.Operation, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}

	// Relative templates extend the base path rather than replacing it.
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	base.RawPath = ""
	if ref.RawPath != "" {
		base.RawPath = strings.TrimSuffix(c.baseURL.EscapedPath(), "/") + "/" + strings.TrimPrefix(ref.RawPath, "/")
	}
	base.RawQuery = ref.RawQuery
	return base.String(), nil
}

// do performs a single attempt bounded by the configured timeout.
func (c *Client) do(ctx context.Context, method, target, bearer string) (*response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", constants.ContentTypeJSON+", "+constants.ContentTypeBinary)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("response body exceeds %d bytes", c.maxBody)
	}

	return &response{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, nil
}

func (c *Client) handle(operation string, resp *response) ([]byte, error) {
	switch {
	case resp.status >= 200 && resp.status < 300:
	case resp.status == http.StatusNotFound:
		return nil, errs.New(errs.ErrNotFound, operation, &errs.StatusError{Code: resp.status, Message: errorMessage(resp.body)})
	default:
		return nil, errs.New(errs.ErrNetwork, operation, &errs.StatusError{Code: resp.status, Message: errorMessage(resp.body)})
	}

	mediaType, _, err := mime.ParseMediaType(resp.contentType)
	if err != nil || mediaType != constants.ContentTypeBinary {
		return resp.body, nil
	}

	plain, err := c.decrypter.Decrypt(unwrapBase64(resp.body))
	if err != nil {
		c.logger.Error().Err(err).Str("operation", operation).Int("bytes", len(resp.body)).Msg("Failed to decrypt response body")
		return nil, errs.New(errs.ErrConfigCorrupt, operation, fmt.Errorf("failed to decrypt response: %w", err))
	}
	return plain, nil
}

// unwrapBase64 returns the decoded body when the backend sent the ciphertext
// as base64 text, and the body unchanged otherwise.
func unwrapBase64(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(trimmed)))
	n, err := base64.StdEncoding.Decode(decoded, trimmed)
	if err != nil || n == 0 || n%16 != 0 {
		return body
	}
	return decoded[:n]
}

// errorMessage extracts the message of a {"error": "..."} body, if any.
func errorMessage(body []byte) string {
	var envelope models.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return ""
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.ErrTimeout
	}
	return errs.ErrNetwork
}
