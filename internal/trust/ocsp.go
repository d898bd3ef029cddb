package trust

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/ocsp"
)

// Default OCSP configuration
const (
	DefaultOCSPTimeout  = 10 * time.Second
	DefaultOCSPCacheTTL = 1 * time.Hour
)

// OCSPCache caches OCSP answers per issuer and serial number
type OCSPCache struct {
	entries *cache.Cache
}

// NewOCSPCache creates a new OCSP response cache
func NewOCSPCache(ttl time.Duration) *OCSPCache {
	return &OCSPCache{entries: cache.New(ttl, 2*ttl)}
}

// Get retrieves a cached OCSP result
func (c *OCSPCache) Get(cert *x509.Certificate) (notRevoked bool, found bool) {
	if cert == nil {
		return false, false
	}
	v, ok := c.entries.Get(certCacheKey(cert))
	if !ok {
		return false, false
	}
	return v.(bool), true
}

// Set caches an OCSP result
func (c *OCSPCache) Set(cert *x509.Certificate, notRevoked bool) {
	if cert == nil {
		return
	}
	c.entries.SetDefault(certCacheKey(cert), notRevoked)
}

// Clear removes all cached entries
func (c *OCSPCache) Clear() {
	c.entries.Flush()
}

// Size returns the number of cached entries
func (c *OCSPCache) Size() int {
	return c.entries.ItemCount()
}

func certCacheKey(cert *x509.Certificate) string {
	return cert.Issuer.String() + ":" + cert.SerialNumber.String()
}

// CheckOCSP queries each responder listed in cert until one answers
func CheckOCSP(ctx context.Context, client *http.Client, cert, issuer *x509.Certificate) (revoked bool, err error) {
	if len(cert.OCSPServer) == 0 {
		return false, fmt.Errorf("no OCSP server URL in certificate")
	}
	if client == nil {
		client = http.DefaultClient
	}

	request, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return false, fmt.Errorf("create OCSP request: %w", err)
	}

	var lastErr error
	for _, server := range cert.OCSPServer {
		revoked, err := queryOCSPServer(ctx, client, server, request, cert, issuer)
		if err == nil {
			return revoked, nil
		}
		lastErr = err
	}
	return false, fmt.Errorf("all OCSP servers failed: %w", lastErr)
}

func queryOCSPServer(ctx context.Context, client *http.Client, serverURL string, request []byte, cert, issuer *x509.Certificate) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(request))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("OCSP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("OCSP server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read OCSP response: %w", err)
	}

	parsed, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return false, fmt.Errorf("parse OCSP response: %w", err)
	}

	switch parsed.Status {
	case ocsp.Good:
		return false, nil
	case ocsp.Revoked:
		return true, nil
	case ocsp.Unknown:
		return false, fmt.Errorf("OCSP status unknown")
	default:
		return false, fmt.Errorf("unexpected OCSP status: %d", parsed.Status)
	}
}
