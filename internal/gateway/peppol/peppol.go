// Package peppol implements the gateway contract for the PEPPOL network:
// SMP discovery, AS4 envelope construction and delivery through an access
// point REST API.
package peppol

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/logging"
	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/trust"
)

// Access point API paths
const (
	PathMessages = "/messages"
)

// Config holds PEPPOL connection settings
type Config struct {
	AccessPointURL string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	SMPURL         string
	// SenderID is the access point party id placed in eb:From. The sender
	// participant id is used when empty.
	SenderID string

	VerifyEndpointCertificate bool

	Timeout     time.Duration
	RateLimit   float64
	RateBurst   int
	AuthRetries int
	SMPCacheTTL time.Duration
}

// Gateway is the PEPPOL adapter
type Gateway struct {
	cfg        Config
	ap         *gateway.HTTPClient
	smp        *SMPClient
	tokens     *gateway.TokenManager
	signer     *Signer
	trust      *trust.Store
	logger     *slog.Logger
	now        func() time.Time
	httpClient *http.Client
	tokenOpts  []gateway.TokenOption
}

// Option configures the adapter
type Option func(*Gateway)

// WithHTTPClient sets the client used for OAuth, SMP and access point calls
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = c
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithTokenOptions passes options to the token manager
func WithTokenOptions(opts ...gateway.TokenOption) Option {
	return func(g *Gateway) {
		g.tokenOpts = append(g.tokenOpts, opts...)
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// WithSigner signs outgoing envelopes
func WithSigner(s *Signer) Option {
	return func(g *Gateway) {
		g.signer = s
	}
}

// WithTrustStore sets the CAs used to check endpoint certificates
func WithTrustStore(s *trust.Store) Option {
	return func(g *Gateway) {
		g.trust = s
	}
}

// New creates a PEPPOL gateway
func New(cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrDefault(g.logger).With("provider", model.ProviderPeppol)
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: gateway.DefaultTimeout}
	}

	httpOpts := []gateway.HTTPOption{
		gateway.WithHTTPClient(g.httpClient),
		gateway.WithTimeout(cfg.Timeout),
		gateway.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		gateway.WithLogger(g.logger),
	}
	g.ap = gateway.NewHTTPClient(model.ProviderPeppol, cfg.AccessPointURL, httpOpts...)
	g.smp = NewSMPClient(gateway.NewHTTPClient(model.ProviderPeppol, cfg.SMPURL, httpOpts...), cfg.SMPCacheTTL)

	tokenOpts := append([]gateway.TokenOption{
		gateway.WithAuthRetries(cfg.AuthRetries),
		gateway.WithTokenLogger(g.logger),
	}, g.tokenOpts...)
	g.tokens = gateway.NewTokenManager(model.ProviderPeppol, gateway.OAuth2Fetch(g.tokenSource), tokenOpts...)
	return g
}

func (g *Gateway) tokenSource(ctx context.Context) oauth2.TokenSource {
	cc := clientcredentials.Config{
		ClientID:     g.cfg.ClientID,
		ClientSecret: g.cfg.ClientSecret,
		TokenURL:     g.cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return cc.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, g.httpClient))
}

// Provider implements gateway.Gateway
func (g *Gateway) Provider() model.Provider {
	return model.ProviderPeppol
}

// Authenticate fetches a new access point token
func (g *Gateway) Authenticate(ctx context.Context) error {
	return g.tokens.Authenticate(ctx)
}

// SMP exposes the directory client
func (g *Gateway) SMP() *SMPClient {
	return g.smp
}

type submitMessage struct {
	MessageID        string `json:"message_id"`
	ConversationID   string `json:"conversation_id"`
	Sender           string `json:"sender"`
	Receiver         string `json:"receiver"`
	DocumentType     string `json:"document_type"`
	Process          string `json:"process"`
	Endpoint         string `json:"endpoint"`
	TransportProfile string `json:"transport_profile"`
	Envelope         string `json:"envelope"`
	Priority         string `json:"priority,omitempty"`
	Mode             string `json:"mode,omitempty"`
	RequireAck       bool   `json:"require_ack"`
	TestMode         bool   `json:"test_mode"`
}

type messageEvent struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

type messageResponse struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	ConversationID string         `json:"conversation_id"`
	UpdatedAt      time.Time      `json:"updated_at"`
	History        []messageEvent `json:"history"`
}

// TransmitInvoice resolves the recipient in the SMP, wraps the XML in an
// AS4 envelope and hands it to the access point.
func (g *Gateway) TransmitInvoice(ctx context.Context, req *model.TransmissionRequest) (*model.TransmissionResult, error) {
	if err := gateway.ValidateRequest(req); err != nil {
		return nil, err
	}
	if req.XMLContent == "" {
		return nil, model.NewValidationError("xml_content", nil, "required", "PEPPOL requires a structured XML invoice")
	}

	log := g.logger.With("invoice_id", req.InvoiceID)

	if _, err := g.tokens.EnsureAuthenticated(ctx); err != nil {
		log.Error("transmission aborted", "error", err)
		return gateway.FailedResult(model.ProviderPeppol, err), nil
	}

	receiver := ParticipantID(req.RecipientSIRET)
	sender := ParticipantID(req.SenderSIRET)
	docType := DocumentTypeFor(req.XMLContent)

	result := &model.TransmissionResult{
		Provider:  model.ProviderPeppol,
		Status:    model.TransmissionPending,
		Timestamp: g.now(),
		Recipient: model.RecipientInfo{SIRET: req.RecipientSIRET, ParticipantID: receiver},
	}

	meta, err := g.smp.Lookup(ctx, receiver, docType)
	switch {
	case errors.Is(err, ErrParticipantNotFound), errors.Is(err, ErrDocumentTypeNotSupported):
		log.Warn("recipient cannot receive document", "participant", receiver, "error", err)
		result.AddError(model.ErrCodeRecipient, err.Error(), "recipient_siret")
		return result, nil
	case err != nil:
		log.Error("SMP lookup failed", "participant", receiver, "error", err)
		return gateway.FailedResult(model.ProviderPeppol, err), nil
	}

	endpoint, ok := meta.Endpoint(BillingProcess, g.now())
	if !ok {
		result.AddError(model.ErrCodeRecipient, "no active endpoint for billing process", "recipient_siret")
		return result, nil
	}
	result.Recipient.Endpoint = endpoint.Address

	if err := g.checkEndpoint(ctx, endpoint); err != nil {
		log.Warn("endpoint certificate rejected", "endpoint", endpoint.Address, "error", err)
		result.AddError(model.ErrCodeCertificate, err.Error(), "")
		return result, nil
	}

	env := NewEnvelope(g.now())
	env.From = g.cfg.SenderID
	if env.From == "" {
		env.From = sender
	}
	env.To = receiver
	env.Service = BillingProcess
	env.Action = DocumentScheme + "::" + docType
	env.OriginalSender = sender
	env.FinalRecipient = receiver
	env.Payload = []byte(req.XMLContent)

	raw, err := env.Bytes(g.signer)
	if err != nil {
		return gateway.FailedResult(model.ProviderPeppol, err), nil
	}

	body := submitMessage{
		MessageID:        env.MessageID,
		ConversationID:   env.ConversationID,
		Sender:           sender,
		Receiver:         receiver,
		DocumentType:     docType,
		Process:          BillingProcess,
		Endpoint:         endpoint.Address,
		TransportProfile: endpoint.TransportProfile,
		Envelope:         base64.StdEncoding.EncodeToString(raw),
		Priority:         string(req.Options.Priority),
		Mode:             string(req.Options.Mode),
		RequireAck:       req.Options.RequireAck,
		TestMode:         req.Options.TestMode,
	}

	var resp messageResponse
	if err := g.doJSON(ctx, http.MethodPost, PathMessages, body, &resp); err != nil {
		log.Error("access point rejected message", "error", err)
		return gateway.FailedResult(model.ProviderPeppol, err), nil
	}

	status := resp.Status
	if status == "" {
		status = StatusSent
	}
	result.Success = true
	result.TransmissionID = resp.ID
	if result.TransmissionID == "" {
		result.TransmissionID = env.MessageID
	}
	result.Status = MapStatus(status)
	result.Tracking = model.TrackingIdentifiers{
		ProviderReference: resp.ID,
		MessageID:         env.MessageID,
		ConversationID:    env.ConversationID,
	}
	if g.cfg.VerifyEndpointCertificate && g.trust == nil {
		result.AddWarning("endpoint certificate not verified: no trust store configured")
	}

	log.Info("message handed to access point", "transmission_id", result.TransmissionID, "endpoint", endpoint.Address)
	return result, nil
}

func (g *Gateway) checkEndpoint(ctx context.Context, e Endpoint) error {
	if !g.cfg.VerifyEndpointCertificate || g.trust == nil {
		return nil
	}
	if e.Certificate == "" {
		return errors.New("endpoint publishes no certificate")
	}
	cert, err := trust.ParseCertificate([]byte(e.Certificate))
	if err != nil {
		return err
	}
	return g.trust.VerifyEndpoint(ctx, cert)
}

// TrackTransmission polls the access point for the message status
func (g *Gateway) TrackTransmission(ctx context.Context, transmissionID string) (*model.TrackingInfo, error) {
	if _, err := g.tokens.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	var resp messageResponse
	if err := g.doJSON(ctx, http.MethodGet, messagePath(transmissionID), nil, &resp); err != nil {
		return nil, err
	}

	info := &model.TrackingInfo{
		TransmissionID: transmissionID,
		Provider:       model.ProviderPeppol,
		Status:         MapStatus(resp.Status),
		ProviderStatus: resp.Status,
		LastUpdated:    resp.UpdatedAt,
		History:        make([]model.StatusEvent, 0, len(resp.History)),
	}
	if info.LastUpdated.IsZero() {
		info.LastUpdated = g.now()
	}
	for _, e := range resp.History {
		info.History = append(info.History, model.StatusEvent{
			Status:         MapStatus(e.Status),
			ProviderStatus: e.Status,
			Timestamp:      e.Timestamp,
			Message:        e.Message,
		})
	}
	return info, nil
}

// CancelTransmission withdraws a message the access point has not yet delivered
func (g *Gateway) CancelTransmission(ctx context.Context, transmissionID string) bool {
	if _, err := g.tokens.EnsureAuthenticated(ctx); err != nil {
		g.logger.Warn("cancel failed", "transmission_id", transmissionID, "error", err)
		return false
	}
	if err := g.doJSON(ctx, http.MethodDelete, messagePath(transmissionID), nil, nil); err != nil {
		g.logger.Warn("cancel refused", "transmission_id", transmissionID, "error", err)
		return false
	}
	return true
}

// doJSON retries once with a fresh token when the access point answers 401
func (g *Gateway) doJSON(ctx context.Context, method, path string, in, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := g.tokens.EnsureAuthenticated(ctx)
		if err != nil {
			return err
		}
		err = g.ap.DoJSON(ctx, method, path, gateway.BearerHeader(token), in, out)

		var provErr *model.ProviderError
		if attempt == 0 && errors.As(err, &provErr) && provErr.StatusCode == http.StatusUnauthorized {
			g.tokens.Invalidate()
			continue
		}
		return err
	}
}

func messagePath(id string) string {
	return PathMessages + "/" + url.PathEscape(id)
}
