package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/model"
)

func TestHTTPClient_DoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1","status":"sent"}`))
	}))
	defer srv.Close()

	client := gateway.NewHTTPClient(model.ProviderPeppol, srv.URL+"/api/")

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	err := client.DoJSON(context.Background(), http.MethodPost, "messages", gateway.BearerHeader("tok"), map[string]string{"a": "b"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", out.ID)
	assert.Equal(t, "sent", out.Status)
}

func TestHTTPClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      string
		message   string
		field     string
		retryable bool
	}{
		{"json body", 422, `{"code":"E42","message":"invalid payload","field":"xml"}`, "E42", "invalid payload", "xml", false},
		{"oauth body", 401, `{"error":"invalid_client","error_description":"unknown client"}`, "invalid_client", "unknown client", "", false},
		{"plain text", 503, `maintenance`, "", "maintenance", "", true},
		{"empty", 500, ``, "", "Internal Server Error", "", true},
		{"too many requests", 429, `{}`, "", "Too Many Requests", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := gateway.NewHTTPClient(model.ProviderChorusPro, srv.URL)
			err := client.DoJSON(context.Background(), http.MethodGet, "/x", nil, nil, nil)

			var provErr *model.ProviderError
			require.True(t, errors.As(err, &provErr), "got %v", err)
			assert.Equal(t, tt.status, provErr.StatusCode)
			assert.Equal(t, tt.code, provErr.Code)
			assert.Equal(t, tt.message, provErr.Message)
			assert.Equal(t, tt.field, provErr.Field)
			assert.Equal(t, tt.retryable, provErr.Retryable())
		})
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := gateway.NewHTTPClient(model.ProviderPeppol, srv.URL, gateway.WithTimeout(20*time.Millisecond))
	err := client.DoJSON(context.Background(), http.MethodGet, "/slow", nil, nil, nil)
	require.Error(t, err)

	var provErr *model.ProviderError
	assert.False(t, errors.As(err, &provErr))
}

func TestHTTPClient_TimeoutLeavesCallerClientAlone(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		expected time.Duration
		shared   bool
	}{
		{"timeout set", 5 * time.Second, 5 * time.Second, false},
		{"no timeout", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &http.Client{}
			client := gateway.NewHTTPClient(model.ProviderChorusPro, "https://api.example.com",
				gateway.WithHTTPClient(caller),
				gateway.WithTimeout(tt.timeout),
			)

			assert.Zero(t, caller.Timeout)
			assert.Equal(t, tt.expected, client.Client().Timeout)
			assert.Equal(t, tt.shared, client.Client() == caller)
		})
	}
}

func TestHTTPClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := gateway.NewHTTPClient(model.ProviderPeppol, srv.URL, gateway.WithRateLimit(0.001, 1))
	require.NoError(t, client.DoJSON(context.Background(), http.MethodGet, "/", nil, nil, nil))

	// The single burst token is spent, the next call must wait far longer than the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.DoJSON(ctx, http.MethodGet, "/", nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestHTTPClient_URL(t *testing.T) {
	client := gateway.NewHTTPClient(model.ProviderChorusPro, "https://api.example.com/")
	assert.Equal(t, "https://api.example.com", client.BaseURL())
	assert.Equal(t, "https://api.example.com/cpro/factures", client.URL("cpro/factures"))
	assert.Equal(t, "https://smp.example.com/x", client.URL("https://smp.example.com/x"))
}
