package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rezonia/facturx-gateway/internal/logging"
	"github.com/rezonia/facturx-gateway/internal/model"
)

// DefaultTimeout bounds every provider call
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is read
const maxErrorBody = 64 << 10

// ErrorDecoder turns a non-2xx response body into a provider error
type ErrorDecoder func(provider model.Provider, status int, body []byte) *model.ProviderError

// HTTPClient is the transport shared by provider adapters: base URL
// resolution, timeout, rate limiting and error mapping.
type HTTPClient struct {
	provider model.Provider
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	decode   ErrorDecoder
	logger   *slog.Logger
}

// HTTPOption configures an HTTPClient
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.client = c
	}
}

// WithTimeout sets the per-request timeout on a copy of the client
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClient) {
		if d > 0 {
			c := *h.client
			c.Timeout = d
			h.client = &c
		}
	}
}

// WithRateLimit caps outgoing requests per second. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(h *HTTPClient) {
		if rps <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithErrorDecoder sets a provider-specific error body decoder
func WithErrorDecoder(d ErrorDecoder) HTTPOption {
	return func(h *HTTPClient) {
		h.decode = d
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTPClient) {
		h.logger = l
	}
}

// NewHTTPClient creates a client for baseURL
func NewHTTPClient(provider model.Provider, baseURL string, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: DefaultTimeout},
		limiter:  rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		decode:   DecodeJSONError,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrDefault(h.logger)
	return h
}

// BaseURL returns the base URL without trailing slash
func (h *HTTPClient) BaseURL() string {
	return h.baseURL
}

// Client returns the underlying *http.Client
func (h *HTTPClient) Client() *http.Client {
	return h.client
}

// URL resolves path against the base URL. Absolute URLs are returned as is.
func (h *HTTPClient) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return h.baseURL + path
}

// NewRequest builds a request for path
func (h *HTTPClient) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, h.URL(path), body)
}

// Do waits for the rate limiter and sends req. A non-2xx answer is returned
// as *model.ProviderError after the body has been consumed and closed.
func (h *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("provider request failed",
			"provider", h.provider, "method", req.Method, "url", req.URL.String(), "error", err)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}

	h.logger.Debug("provider request",
		"provider", h.provider, "method", req.Method, "url", req.URL.String(),
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, h.decode(h.provider, resp.StatusCode, body)
	}
	return resp, nil
}

// DoJSON sends in as a JSON body (when non-nil) and decodes the answer into
// out (when non-nil). Extra headers are added to the request.
func (h *HTTPClient) DoJSON(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := h.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// BearerHeader builds an Authorization header
func BearerHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

// jsonErrorBody covers the common error shapes: {code,message,field} and
// the OAuth {error,error_description}.
type jsonErrorBody struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Field            string `json:"field"`
	Severity         string `json:"severity"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// DecodeJSONError is the default ErrorDecoder
func DecodeJSONError(provider model.Provider, status int, body []byte) *model.ProviderError {
	perr := model.NewProviderError(provider, status, "", http.StatusText(status))

	var parsed jsonErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		if text := strings.TrimSpace(string(body)); text != "" {
			perr.Message = text
		}
		return perr
	}

	perr.Code = firstNonEmpty(parsed.Code, parsed.Error)
	perr.Message = firstNonEmpty(parsed.Message, parsed.ErrorDescription, perr.Message)
	perr.Field = parsed.Field
	if parsed.Severity == string(model.SeverityWarning) {
		perr.Severity = model.SeverityWarning
	}
	return perr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
