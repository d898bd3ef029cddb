package peppol_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/gateway/peppol"
	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/trust"
)

const (
	recipientSIRET = "54210765113030"
	senderSIRET    = "73282932000074"
	ciiInvoice     = `<?xml version="1.0" encoding="UTF-8"?><rsm:CrossIndustryInvoice xmlns:rsm="urn:un:unece:uncefact:data:standard:CrossIndustryInvoice:100"/>`
)

// fakeNetwork plays the OAuth server, the SMP and the access point
type fakeNetwork struct {
	srv      *httptest.Server
	mu       sync.Mutex
	hits     map[string]int
	docTypes []string
	endpoint string
	certB64  string
	apStatus int
	apBody   string
	lastBody []byte
	expired  bool
}

func newFakeNetwork(t *testing.T) *fakeNetwork {
	f := &fakeNetwork{
		hits:     make(map[string]int),
		docTypes: []string{peppol.CIIInvoiceDocument, peppol.UBLInvoiceDocument},
		endpoint: "https://ap.recipient.example/as4",
		apStatus: http.StatusAccepted,
		apBody:   `{"id":"msg-1","status":"sent"}`,
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeNetwork) record(kind string) {
	f.mu.Lock()
	f.hits[kind]++
	f.mu.Unlock()
}

func (f *fakeNetwork) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[kind]
}

func (f *fakeNetwork) submitted() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody
}

func (f *fakeNetwork) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.hits {
		n += c
	}
	return n
}

func (f *fakeNetwork) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/oauth/token":
		f.record("token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"ap-token","token_type":"Bearer","expires_in":3600}`)

	case strings.HasPrefix(path, "/smp/") && strings.Contains(path, "/services/"):
		f.record("metadata")
		docType := strings.TrimPrefix(path[strings.Index(path, "/services/")+len("/services/"):], peppol.DocumentScheme+"::")
		_, _ = io.WriteString(w, f.serviceMetadata(docType))

	case strings.HasPrefix(path, "/smp/"):
		f.record("group")
		participant := strings.TrimPrefix(path, "/smp/")
		if participant != peppol.ParticipantScheme+"::9956:"+recipientSIRET {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, f.serviceGroup(participant))

	case path == "/ap/messages":
		f.record("submit")
		if r.Header.Get("Authorization") != "Bearer ap-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lastBody = body
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.apStatus)
		_, _ = io.WriteString(w, f.apBody)

	case strings.HasPrefix(path, "/ap/messages/"):
		f.record(r.Method)
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":"NOT_FOUND","message":"unknown message"}`)
			return
		}
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = io.WriteString(w, `{
			"id": "msg-1",
			"status": "delivered",
			"updated_at": "2024-03-15T10:05:00Z",
			"history": [
				{"status": "sent", "timestamp": "2024-03-15T10:00:00Z"},
				{"status": "delivered", "timestamp": "2024-03-15T10:05:00Z", "message": "MDN received"}
			]
		}`)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeNetwork) serviceGroup(participant string) string {
	var refs strings.Builder
	for _, dt := range f.docTypes {
		href := fmt.Sprintf("%s/smp/%s/services/%s", f.srv.URL, participant, url.PathEscape(peppol.DocumentScheme+"::"+dt))
		fmt.Fprintf(&refs, `<smp:ServiceMetadataReference href="%s"/>`, href)
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<smp:ServiceGroup xmlns:smp="http://busdox.org/serviceMetadata/publishing/1.0/" xmlns:id="http://busdox.org/transport/identifiers/1.0/">
  <id:ParticipantIdentifier scheme="iso6523-actorid-upis">` + strings.TrimPrefix(participant, peppol.ParticipantScheme+"::") + `</id:ParticipantIdentifier>
  <smp:ServiceMetadataReferenceCollection>` + refs.String() + `</smp:ServiceMetadataReferenceCollection>
</smp:ServiceGroup>`
}

func (f *fakeNetwork) serviceMetadata(docType string) string {
	expiration := "2099-01-01T00:00:00Z"
	if f.expired {
		expiration = "2020-01-01T00:00:00Z"
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<smp:SignedServiceMetadata xmlns:smp="http://busdox.org/serviceMetadata/publishing/1.0/" xmlns:id="http://busdox.org/transport/identifiers/1.0/" xmlns:wsa="http://www.w3.org/2005/08/addressing">
  <smp:ServiceMetadata>
    <smp:ServiceInformation>
      <id:ParticipantIdentifier scheme="iso6523-actorid-upis">9956:` + recipientSIRET + `</id:ParticipantIdentifier>
      <id:DocumentIdentifier scheme="busdox-docid-qns">` + docType + `</id:DocumentIdentifier>
      <smp:ProcessList>
        <smp:Process>
          <id:ProcessIdentifier scheme="cenbii-procid-ubl">` + peppol.BillingProcess + `</id:ProcessIdentifier>
          <smp:ServiceEndpointList>
            <smp:Endpoint transportProfile="peppol-transport-as4-v2_0">
              <wsa:EndpointReference><wsa:Address>` + f.endpoint + `</wsa:Address></wsa:EndpointReference>
              <smp:RequireBusinessLevelSignature>false</smp:RequireBusinessLevelSignature>
              <smp:ServiceActivationDate>2020-01-01T00:00:00Z</smp:ServiceActivationDate>
              <smp:ServiceExpirationDate>` + expiration + `</smp:ServiceExpirationDate>
              <smp:Certificate>` + f.certB64 + `</smp:Certificate>
              <smp:ServiceDescription>Test access point</smp:ServiceDescription>
              <smp:TechnicalContactUrl>mailto:ops@recipient.example</smp:TechnicalContactUrl>
            </smp:Endpoint>
          </smp:ServiceEndpointList>
        </smp:Process>
      </smp:ProcessList>
    </smp:ServiceInformation>
  </smp:ServiceMetadata>
</smp:SignedServiceMetadata>`
}

func (f *fakeNetwork) gateway(opts ...peppol.Option) *peppol.Gateway {
	return f.gatewayWith(peppol.Config{}, opts...)
}

func (f *fakeNetwork) gatewayWith(cfg peppol.Config, opts ...peppol.Option) *peppol.Gateway {
	cfg.AccessPointURL = f.srv.URL + "/ap"
	cfg.TokenURL = f.srv.URL + "/oauth/token"
	cfg.SMPURL = f.srv.URL + "/smp"
	cfg.ClientID = "ap-client"
	cfg.ClientSecret = "ap-secret"
	opts = append([]peppol.Option{
		peppol.WithHTTPClient(f.srv.Client()),
		peppol.WithTokenOptions(gateway.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })),
	}, opts...)
	return peppol.New(cfg, opts...)
}

func validRequest() *model.TransmissionRequest {
	return &model.TransmissionRequest{
		InvoiceID:      "inv-1",
		RecipientSIRET: recipientSIRET,
		SenderSIRET:    senderSIRET,
		XMLContent:     ciiInvoice,
		Metadata: model.InvoiceMetadata{
			Number:   "FAC-2024-001234",
			Date:     "15/03/2024",
			Total:    decimal.RequireFromString("2220.00"),
			Currency: "EUR",
		},
		Options: model.DeliveryOptions{Priority: model.PriorityHigh, RequireAck: true},
	}
}

func selfSignedCert(t *testing.T, cn string) *x509.Certificate {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(7),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestTransmitInvoice_Success(t *testing.T) {
	f := newFakeNetwork(t)

	result, err := f.gateway().TransmitInvoice(context.Background(), validRequest())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "msg-1", result.TransmissionID)
	assert.Equal(t, model.TransmissionSubmitted, result.Status)
	assert.Equal(t, "9956:"+recipientSIRET, result.Recipient.ParticipantID)
	assert.Equal(t, f.endpoint, result.Recipient.Endpoint)
	assert.NotEmpty(t, result.Tracking.MessageID)
	assert.NotEmpty(t, result.Tracking.ConversationID)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(f.submitted(), &sent))
	assert.Equal(t, "9956:"+recipientSIRET, sent["receiver"])
	assert.Equal(t, "9956:"+senderSIRET, sent["sender"])
	assert.Equal(t, peppol.CIIInvoiceDocument, sent["document_type"])
	assert.Equal(t, "high", sent["priority"])

	raw, err := base64.StdEncoding.DecodeString(sent["envelope"].(string))
	require.NoError(t, err)
	env, err := peppol.ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, result.Tracking.MessageID, env.MessageID)
	assert.Equal(t, "9956:"+senderSIRET, env.From)
	assert.Equal(t, "9956:"+recipientSIRET, env.To)
	assert.Equal(t, peppol.BillingProcess, env.Service)
	assert.Equal(t, peppol.DocumentScheme+"::"+peppol.CIIInvoiceDocument, env.Action)
	assert.Equal(t, ciiInvoice, string(env.Payload))
	assert.False(t, env.Timestamp.IsZero())
}

func TestTransmitInvoice_SenderIDOverridesFromParty(t *testing.T) {
	f := newFakeNetwork(t)

	_, err := f.gatewayWith(peppol.Config{SenderID: "POP000123"}).TransmitInvoice(context.Background(), validRequest())
	require.NoError(t, err)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(f.submitted(), &sent))
	raw, _ := base64.StdEncoding.DecodeString(sent["envelope"].(string))
	env, err := peppol.ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "POP000123", env.From)
	assert.Equal(t, "9956:"+senderSIRET, env.OriginalSender)
}

func TestTransmitInvoice_UnsupportedDocumentType(t *testing.T) {
	f := newFakeNetwork(t)
	f.docTypes = []string{peppol.UBLInvoiceDocument}

	result, err := f.gateway().TransmitInvoice(context.Background(), validRequest())
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, model.ErrCodeRecipient, result.Errors[0].Code)
	assert.Zero(t, f.count("submit"))
	assert.Zero(t, f.count("metadata"))
}

func TestTransmitInvoice_UnknownParticipant(t *testing.T) {
	f := newFakeNetwork(t)
	req := validRequest()
	req.RecipientSIRET = "73282932000074"

	result, err := f.gateway().TransmitInvoice(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, model.ErrCodeRecipient, result.Errors[0].Code)
	assert.Zero(t, f.count("submit"))
}

func TestTransmitInvoice_NoActiveEndpoint(t *testing.T) {
	f := newFakeNetwork(t)
	f.expired = true

	result, err := f.gateway().TransmitInvoice(context.Background(), validRequest())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, model.ErrCodeRecipient, result.Errors[0].Code)
	assert.Zero(t, f.count("submit"))
}

func TestTransmitInvoice_InvalidRequestsMakeNoNetworkCalls(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.TransmissionRequest)
		field  string
	}{
		{"13 digit recipient", func(r *model.TransmissionRequest) { r.RecipientSIRET = "5421076511303" }, "recipient_siret"},
		{"no xml", func(r *model.TransmissionRequest) { r.XMLContent = ""; r.HybridDocument = []byte("%PDF") }, "xml_content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeNetwork(t)
			req := validRequest()
			tt.mutate(req)

			result, err := f.gateway().TransmitInvoice(context.Background(), req)

			assert.Nil(t, result)
			var vErr *model.ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)
			assert.Zero(t, f.total())
		})
	}
}

func TestTransmitInvoice_AccessPointError(t *testing.T) {
	f := newFakeNetwork(t)
	f.apStatus = http.StatusUnprocessableEntity
	f.apBody = `{"code":"PAYLOAD_INVALID","message":"schematron failure","field":"envelope"}`

	result, err := f.gateway().TransmitInvoice(context.Background(), validRequest())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, model.TransmissionFailed, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "PAYLOAD_INVALID", result.Errors[0].Code)
	assert.Equal(t, "envelope", result.Errors[0].Field)
}

func TestTransmitInvoice_EndpointCertificate(t *testing.T) {
	cert := selfSignedCert(t, "ap.recipient.example")

	t.Run("trusted", func(t *testing.T) {
		f := newFakeNetwork(t)
		f.certB64 = base64.StdEncoding.EncodeToString(cert.Raw)
		store := trust.NewStore()
		store.AddCertificate(cert)

		result, err := f.gatewayWith(peppol.Config{VerifyEndpointCertificate: true}, peppol.WithTrustStore(store)).
			TransmitInvoice(context.Background(), validRequest())
		require.NoError(t, err)
		assert.True(t, result.Success)
	})

	t.Run("untrusted", func(t *testing.T) {
		f := newFakeNetwork(t)
		f.certB64 = base64.StdEncoding.EncodeToString(cert.Raw)

		result, err := f.gatewayWith(peppol.Config{VerifyEndpointCertificate: true}, peppol.WithTrustStore(trust.NewStore())).
			TransmitInvoice(context.Background(), validRequest())
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, model.ErrCodeCertificate, result.Errors[0].Code)
		assert.Zero(t, f.count("submit"))
	})
}

func TestTransmitInvoice_AuthenticationFailure(t *testing.T) {
	f := newFakeNetwork(t)
	gw := peppol.New(peppol.Config{
		AccessPointURL: f.srv.URL + "/ap",
		TokenURL:       f.srv.URL + "/nowhere",
		SMPURL:         f.srv.URL + "/smp",
	},
		peppol.WithHTTPClient(f.srv.Client()),
		peppol.WithTokenOptions(gateway.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })),
	)

	result, err := gw.TransmitInvoice(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, model.ErrCodeAuthentication, result.Errors[0].Code)

	_, err = gw.TrackTransmission(context.Background(), "msg-1")
	var authErr *model.AuthenticationError
	assert.True(t, errors.As(err, &authErr))
}

func TestTrackTransmission(t *testing.T) {
	f := newFakeNetwork(t)

	info, err := f.gateway().TrackTransmission(context.Background(), "msg-1")
	require.NoError(t, err)

	assert.Equal(t, model.TransmissionDelivered, info.Status)
	assert.Equal(t, "delivered", info.ProviderStatus)
	require.Len(t, info.History, 2)
	assert.Equal(t, model.TransmissionSubmitted, info.History[0].Status)
	assert.Equal(t, "MDN received", info.History[1].Message)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 5, 0, 0, time.UTC), info.LastUpdated)

	_, err = f.gateway().TrackTransmission(context.Background(), "missing")
	var provErr *model.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, http.StatusNotFound, provErr.StatusCode)
}

func TestCancelTransmission(t *testing.T) {
	f := newFakeNetwork(t)
	gw := f.gateway()

	assert.True(t, gw.CancelTransmission(context.Background(), "msg-1"))
	assert.False(t, gw.CancelTransmission(context.Background(), "missing"))
}

func TestSMPClient_CachesLookups(t *testing.T) {
	f := newFakeNetwork(t)
	smp := f.gateway().SMP()
	participant := peppol.ParticipantID(recipientSIRET)

	for i := 0; i < 3; i++ {
		meta, err := smp.Lookup(context.Background(), participant, peppol.UBLInvoiceDocument)
		require.NoError(t, err)
		assert.Equal(t, peppol.UBLInvoiceDocument, meta.DocumentType)
		require.Len(t, meta.Processes, 1)
		assert.Equal(t, peppol.BillingProcess, meta.Processes[0].ID)
	}

	assert.Equal(t, 1, f.count("group"))
	assert.Equal(t, 1, f.count("metadata"))
}

func TestSMPClient_ServiceGroup(t *testing.T) {
	f := newFakeNetwork(t)
	smp := f.gateway().SMP()

	refs, err := smp.ServiceGroup(context.Background(), peppol.ParticipantID(recipientSIRET))
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Contains(t, refs, peppol.CIIInvoiceDocument)

	_, err = smp.ServiceGroup(context.Background(), peppol.ParticipantID("11111111111111"))
	assert.ErrorIs(t, err, peppol.ErrParticipantNotFound)
}

func TestServiceMetadata_Endpoint(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	meta := &peppol.ServiceMetadata{
		Processes: []peppol.Process{
			{ID: "other", Endpoints: []peppol.Endpoint{{TransportProfile: peppol.TransportAS4, Address: "https://other"}}},
			{ID: peppol.BillingProcess, Endpoints: []peppol.Endpoint{
				{TransportProfile: "busdox-transport-as2-ver1p0", Address: "https://as2"},
				{TransportProfile: peppol.TransportAS4, Address: "https://expired", ExpirationDate: now.Add(-time.Hour)},
				{TransportProfile: peppol.TransportAS4, Address: "https://as4"},
			}},
		},
	}

	e, ok := meta.Endpoint(peppol.BillingProcess, now)
	require.True(t, ok)
	assert.Equal(t, "https://as4", e.Address)

	_, ok = meta.Endpoint("unknown", now)
	assert.False(t, ok)
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		in       string
		expected model.TransmissionStatus
	}{
		{"sent", model.TransmissionSubmitted},
		{"delivered", model.TransmissionDelivered},
		{"failed", model.TransmissionFailed},
		{"acknowledged", model.TransmissionAcknowledged},
		{"DELIVERED", model.TransmissionDelivered},
		{"queued", model.TransmissionPending},
		{"", model.TransmissionPending},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, peppol.MapStatus(tt.in))
		})
	}
}

func TestIdentifiers(t *testing.T) {
	assert.Equal(t, "9956:73282932000074", peppol.ParticipantID("73282932000074"))
	assert.Equal(t, peppol.CIIInvoiceDocument, peppol.DocumentTypeFor(ciiInvoice))
	assert.Equal(t, peppol.UBLInvoiceDocument, peppol.DocumentTypeFor(`<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"/>`))
}
