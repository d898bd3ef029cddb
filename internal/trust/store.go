// Package trust verifies PEPPOL access point certificates against a set of
// trusted CAs and checks their revocation status through OCSP.
package trust

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrRevoked is returned when OCSP reports a certificate as revoked
var ErrRevoked = errors.New("certificate revoked")

var certExtensions = map[string]bool{".pem": true, ".crt": true, ".cer": true}

// Store manages trusted CA certificates and revocation checking
type Store struct {
	mu          sync.RWMutex
	roots       *x509.CertPool
	rootCerts   []*x509.Certificate
	ocspCache   *OCSPCache
	ocspTimeout time.Duration
	softFail    bool
	client      *http.Client
	now         func() time.Time
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithSoftFail makes OCSP failures non-fatal
func WithSoftFail() StoreOption {
	return func(s *Store) {
		s.softFail = true
	}
}

// WithOCSPTimeout sets the timeout for OCSP requests
func WithOCSPTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.ocspTimeout = d
	}
}

// WithOCSPCacheTTL sets the TTL for OCSP cache entries
func WithOCSPCacheTTL(d time.Duration) StoreOption {
	return func(s *Store) {
		s.ocspCache = NewOCSPCache(d)
	}
}

// WithHTTPClient sets the client used for OCSP queries
func WithHTTPClient(c *http.Client) StoreOption {
	return func(s *Store) {
		s.client = c
	}
}

// WithClock sets the time used for chain validity checks
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty trust store
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		roots:       x509.NewCertPool(),
		ocspCache:   NewOCSPCache(DefaultOCSPCacheTTL),
		ocspTimeout: DefaultOCSPTimeout,
		client:      &http.Client{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadDir adds every .pem, .crt and .cer file found directly under dir
func (s *Store) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read trusted certs dir: %w", err)
	}

	var loaded int
	for _, e := range entries {
		if e.IsDir() || !certExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return loaded, err
		}
		n, err := s.addPEMOrDER(data)
		if err != nil {
			return loaded, fmt.Errorf("%s: %w", e.Name(), err)
		}
		loaded += n
	}
	return loaded, nil
}

func (s *Store) addPEMOrDER(data []byte) (int, error) {
	if n, err := s.AddCertificatesFromPEM(data); err == nil {
		return n, nil
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return 0, fmt.Errorf("no certificates found")
	}
	s.AddCertificate(cert)
	return 1, nil
}

// AddCertificate adds a single certificate to the trust store
func (s *Store) AddCertificate(cert *x509.Certificate) {
	if cert == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots.AddCert(cert)
	s.rootCerts = append(s.rootCerts, cert)
}

// AddCertificatesFromPEM parses and adds certificates from PEM data
func (s *Store) AddCertificatesFromPEM(pemData []byte) (int, error) {
	var added int
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return added, fmt.Errorf("parse certificate: %w", err)
			}
			s.AddCertificate(cert)
			added++
		}
		pemData = rest
	}
	if added == 0 {
		return 0, fmt.Errorf("no certificates found in PEM data")
	}
	return added, nil
}

// Len returns the number of trusted certificates
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rootCerts)
}

// RootCerts returns the trusted certificates
func (s *Store) RootCerts() []*x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*x509.Certificate(nil), s.rootCerts...)
}

// VerifyChain verifies the certificate chain against trusted roots
func (s *Store) VerifyChain(cert *x509.Certificate, intermediates []*x509.Certificate) ([]*x509.Certificate, error) {
	if cert == nil {
		return nil, fmt.Errorf("certificate is nil")
	}

	var interPool *x509.CertPool
	if len(intermediates) > 0 {
		interPool = x509.NewCertPool()
		for _, inter := range intermediates {
			interPool.AddCert(inter)
		}
	}

	s.mu.RLock()
	roots := s.roots
	s.mu.RUnlock()

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: interPool,
		CurrentTime:   s.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("chain verification failed: %w", err)
	}
	if len(chains) == 0 {
		return nil, fmt.Errorf("no valid certificate chains found")
	}
	return chains[0], nil
}

// CheckRevocation reports whether cert is still good according to OCSP.
// Certificates without an OCSP responder are treated as good.
func (s *Store) CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) (bool, error) {
	if cert == nil || issuer == nil {
		return false, fmt.Errorf("certificate or issuer is nil")
	}

	if good, found := s.ocspCache.Get(cert); found {
		return good, nil
	}
	if len(cert.OCSPServer) == 0 {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.ocspTimeout)
	defer cancel()

	revoked, err := CheckOCSP(ctx, s.client, cert, issuer)
	if err != nil {
		if s.softFail {
			return true, fmt.Errorf("OCSP check failed (soft-fail): %w", err)
		}
		return false, fmt.Errorf("OCSP check failed: %w", err)
	}

	s.ocspCache.Set(cert, !revoked)
	return !revoked, nil
}

// VerifyEndpoint checks an access point certificate: it must chain to a
// trusted CA and must not be revoked. In soft-fail mode OCSP errors are
// ignored.
func (s *Store) VerifyEndpoint(ctx context.Context, cert *x509.Certificate) error {
	chain, err := s.VerifyChain(cert, nil)
	if err != nil {
		return err
	}

	issuer := cert
	if len(chain) > 1 {
		issuer = chain[1]
	}
	good, err := s.CheckRevocation(ctx, cert, issuer)
	if err != nil && !(s.softFail && good) {
		return err
	}
	if !good {
		return fmt.Errorf("%s: %w", cert.Subject.CommonName, ErrRevoked)
	}
	return nil
}

// ParseCertificate accepts PEM, base64-encoded DER (as published in SMP
// metadata) or raw DER.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(data); block != nil {
		return x509.ParseCertificate(block.Bytes)
	}
	trimmed := strings.Join(strings.Fields(string(data)), "")
	if der, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		if cert, err := x509.ParseCertificate(der); err == nil {
			return cert, nil
		}
	}
	return x509.ParseCertificate(data)
}
