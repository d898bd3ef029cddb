// Package choruspro implements the gateway contract for Chorus Pro, the
// French public-sector e-invoicing platform reached through PISTE.
package choruspro

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/logging"
	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/validator"
)

const (
	accountHeader = "cpro-account"
	rulesKey      = "rules"
	oauthScope    = "openid"
)

// Config holds Chorus Pro connection settings
type Config struct {
	BaseURL           string
	TokenURL          string
	ClientID          string
	ClientSecret      string
	TechnicalLogin    string
	TechnicalPassword string

	Timeout     time.Duration
	RateLimit   float64
	RateBurst   int
	AuthRetries int
	RulesTTL    time.Duration
}

var (
	_ gateway.Gateway      = (*Gateway)(nil)
	_ gateway.Acknowledger = (*Gateway)(nil)
)

// Gateway is the Chorus Pro adapter
type Gateway struct {
	cfg        Config
	http       *gateway.HTTPClient
	tokens     *gateway.TokenManager
	rules      *cache.Cache
	logger     *slog.Logger
	now        func() time.Time
	httpClient *http.Client
	tokenOpts  []gateway.TokenOption
}

// Option configures the adapter
type Option func(*Gateway)

// WithHTTPClient sets the client used for both PISTE OAuth and API calls
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

// WithClock overrides the time source used for result timestamps
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates a Chorus Pro gateway
func New(cfg Config, opts ...Option) *Gateway {
	if cfg.RulesTTL <= 0 {
		cfg.RulesTTL = time.Hour
	}
	g := &Gateway{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrDefault(g.logger).With("provider", model.ProviderChorusPro)
	g.httpClient = ownClient(g.httpClient, cfg.Timeout)

	g.http = gateway.NewHTTPClient(model.ProviderChorusPro, cfg.BaseURL,
		gateway.WithHTTPClient(g.httpClient),
		gateway.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		gateway.WithErrorDecoder(decodeError),
		gateway.WithLogger(g.logger),
	)

	tokenOpts := append([]gateway.TokenOption{
		gateway.WithAuthRetries(cfg.AuthRetries),
		gateway.WithTokenLogger(g.logger),
	}, g.tokenOpts...)
	g.tokens = gateway.NewTokenManager(model.ProviderChorusPro, g.fetchToken, tokenOpts...)
	g.rules = cache.New(cfg.RulesTTL, 2*cfg.RulesTTL)
	return g
}

// ownClient copies base so that the timeout never leaks into the caller's client
func ownClient(base *http.Client, timeout time.Duration) *http.Client {
	c := &http.Client{}
	if base != nil {
		*c = *base
	}
	switch {
	case timeout > 0:
		c.Timeout = timeout
	case c.Timeout == 0:
		c.Timeout = gateway.DefaultTimeout
	}
	return c
}

// Provider implements gateway.Gateway
func (g *Gateway) Provider() model.Provider {
	return model.ProviderChorusPro
}

// Authenticate fetches a new PISTE token
func (g *Gateway) Authenticate(ctx context.Context) error {
	return g.tokens.Authenticate(ctx)
}

func (g *Gateway) fetchToken(ctx context.Context) (gateway.Token, error) {
	cc := clientcredentials.Config{
		ClientID:     g.cfg.ClientID,
		ClientSecret: g.cfg.ClientSecret,
		TokenURL:     g.cfg.TokenURL,
		Scopes:       []string{oauthScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	tok, err := cc.Token(ctx)
	if err != nil {
		return gateway.Token{}, err
	}
	return gateway.Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
}

// TransmitInvoice validates req, checks it against the advertised rules and
// deposits it with soumettreFacture.
func (g *Gateway) TransmitInvoice(ctx context.Context, req *model.TransmissionRequest) (*model.TransmissionResult, error) {
	if err := gateway.ValidateRequest(req); err != nil {
		return nil, err
	}

	log := g.logger.With("invoice_id", req.InvoiceID)

	if _, err := g.tokens.EnsureAuthenticated(ctx); err != nil {
		log.Error("transmission aborted", "error", err)
		return gateway.FailedResult(model.ProviderChorusPro, err), nil
	}

	rules := g.Rules(ctx)
	if violations := CheckRules(req, rules); len(violations) > 0 {
		result := g.newResult(req)
		for _, v := range violations {
			result.AddError(model.ErrCodeRules, v.Message, v.Field)
		}
		log.Warn("rules violated", "violations", len(violations))
		return result, nil
	}

	var resp submitResponse
	err := g.call(ctx, &resp, func(token string) (*http.Request, error) {
		return g.submitRequest(ctx, token, req)
	})
	if err != nil {
		log.Error("deposit failed", "error", err)
		return gateway.FailedResult(model.ProviderChorusPro, err), nil
	}

	result := g.newResult(req)
	if rules.Fallback {
		result.AddWarning("règles de validation indisponibles, valeurs par défaut appliquées")
	}
	if resp.CodeRetour != 0 {
		result.AddError(strconv.Itoa(resp.CodeRetour), resp.Libelle, "")
		log.Warn("deposit refused", "code", resp.CodeRetour, "libelle", resp.Libelle)
		return result, nil
	}

	status := resp.StatutFacture
	if status == "" {
		status = StatusDeposited
	}
	result.Success = true
	result.TransmissionID = strconv.FormatInt(resp.IdentifiantFactureCPP, 10)
	result.Status = MapStatus(status)
	result.Recipient.Name = resp.DestinataireNom
	result.Tracking.ProviderReference = resp.NumeroFluxDepot

	log.Info("invoice deposited", "transmission_id", result.TransmissionID, "status", status)
	return result, nil
}

func (g *Gateway) newResult(req *model.TransmissionRequest) *model.TransmissionResult {
	return &model.TransmissionResult{
		Provider:  model.ProviderChorusPro,
		Status:    model.TransmissionPending,
		Timestamp: g.now(),
		Recipient: model.RecipientInfo{SIRET: req.RecipientSIRET},
	}
}

// submitRequest builds the multipart deposit: metadata fields, then the
// hybrid PDF and the XML as file parts.
func (g *Gateway) submitRequest(ctx context.Context, token string, req *model.TransmissionRequest) (*http.Request, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fields := [][2]string{
		{"idFournisseur", req.SenderSIRET},
		{"idDestinataire", req.RecipientSIRET},
		{"numeroFacture", req.Metadata.Number},
		{"dateFacture", isoDate(req.Metadata.Date)},
		{"montantTTC", req.Metadata.Total.StringFixed(2)},
		{"devise", currencyOf(req)},
		{"priorite", string(req.Options.Priority)},
		{"modeTest", strconv.FormatBool(req.Options.TestMode)},
		{"accuseReceptionRequis", strconv.FormatBool(req.Options.RequireAck)},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}

	if len(req.HybridDocument) > 0 {
		if err := writeFile(w, "fichierFacture", req.Metadata.Number+".pdf", "application/pdf", req.HybridDocument); err != nil {
			return nil, err
		}
	}
	if req.XMLContent != "" {
		if err := writeFile(w, "fichierXml", "factur-x.xml", "application/xml", []byte(req.XMLContent)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	httpReq, err := g.http.NewRequest(ctx, http.MethodPost, PathSubmit, &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	g.authorize(httpReq, token)
	return httpReq, nil
}

func writeFile(w *multipart.Writer, field, filename, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

// TrackTransmission polls consulterStatutFacture
func (g *Gateway) TrackTransmission(ctx context.Context, transmissionID string) (*model.TrackingInfo, error) {
	if _, err := g.tokens.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	var resp statusResponse
	err := g.call(ctx, &resp, func(token string) (*http.Request, error) {
		return g.jsonRequest(ctx, token, PathStatus, invoiceRef{IdentifiantFactureCPP: transmissionID})
	})
	if err != nil {
		return nil, err
	}
	if resp.CodeRetour != 0 {
		return nil, model.NewProviderError(model.ProviderChorusPro, http.StatusOK, strconv.Itoa(resp.CodeRetour), resp.Libelle)
	}

	info := &model.TrackingInfo{
		TransmissionID: transmissionID,
		Provider:       model.ProviderChorusPro,
		History:        make([]model.StatusEvent, 0, len(resp.HistoriqueStatuts)),
	}
	for _, e := range resp.HistoriqueStatuts {
		info.History = append(info.History, model.StatusEvent{
			Status:         MapStatus(e.Statut),
			ProviderStatus: e.Statut,
			Timestamp:      parseTimestamp(e.DateStatut, time.Time{}),
			Message:        e.Commentaire,
		})
	}

	current := resp.StatutCourant
	if current.Statut == "" && len(resp.HistoriqueStatuts) > 0 {
		current = resp.HistoriqueStatuts[len(resp.HistoriqueStatuts)-1]
	}
	info.ProviderStatus = current.Statut
	info.Status = MapStatus(current.Statut)
	info.LastUpdated = parseTimestamp(current.DateStatut, g.now())
	return info, nil
}

// DownloadAcknowledgement fetches the acknowledgement receipt. The boolean
// is false, with no error, while the receipt is not yet available.
func (g *Gateway) DownloadAcknowledgement(ctx context.Context, transmissionID string) ([]byte, bool, error) {
	if _, err := g.tokens.EnsureAuthenticated(ctx); err != nil {
		return nil, false, err
	}

	var data []byte
	err := g.callRaw(ctx, func(token string) (*http.Request, error) {
		r, err := g.http.NewRequest(ctx, http.MethodGet, PathReceipt+transmissionID, nil)
		if err != nil {
			return nil, err
		}
		g.authorize(r, token)
		return r, nil
	}, func(body io.Reader) error {
		var err error
		data, err = io.ReadAll(body)
		return err
	})

	var provErr *model.ProviderError
	if errors.As(err, &provErr) && provErr.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// CancelTransmission asks Chorus Pro to withdraw a deposited invoice
func (g *Gateway) CancelTransmission(ctx context.Context, transmissionID string) bool {
	if _, err := g.tokens.EnsureAuthenticated(ctx); err != nil {
		g.logger.Warn("cancel failed", "transmission_id", transmissionID, "error", err)
		return false
	}

	var resp basicResponse
	err := g.call(ctx, &resp, func(token string) (*http.Request, error) {
		return g.jsonRequest(ctx, token, PathCancel, invoiceRef{
			IdentifiantFactureCPP: transmissionID,
			Motif:                 "Annulation demandée par l'émetteur",
		})
	})
	if err != nil || resp.CodeRetour != 0 {
		g.logger.Warn("cancel refused", "transmission_id", transmissionID, "error", err, "code", resp.CodeRetour)
		return false
	}
	return true
}

// Rules returns the cached submission rules, fetching them when absent.
// An unreachable rules service yields DefaultRules, which are not cached.
func (g *Gateway) Rules(ctx context.Context) Rules {
	if cached, ok := g.rules.Get(rulesKey); ok {
		return cached.(Rules)
	}

	var resp rulesResponse
	err := g.call(ctx, &resp, func(token string) (*http.Request, error) {
		return g.jsonRequest(ctx, token, PathRules, struct{}{})
	})
	if err != nil || resp.CodeRetour != 0 {
		g.logger.Warn("validation rules unavailable, using defaults", "error", err, "code", resp.CodeRetour)
		return DefaultRules()
	}

	rules := DefaultRules()
	rules.Fallback = false
	if resp.MontantMaximum.IsPositive() {
		rules.MaxAmount = resp.MontantMaximum
	}
	if len(resp.DevisesAcceptees) > 0 {
		rules.Currencies = resp.DevisesAcceptees
	}
	if len(resp.FormatsAcceptes) > 0 {
		rules.Formats = resp.FormatsAcceptes
	}
	if resp.TailleMaximale > 0 {
		rules.MaxFileSize = resp.TailleMaximale
	}
	rules.MandatoryFields = resp.ChampsObligatoires

	g.rules.SetDefault(rulesKey, rules)
	return rules
}

func (g *Gateway) jsonRequest(ctx context.Context, token, path string, in any) (*http.Request, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	r, err := g.http.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
	g.authorize(r, token)
	return r, nil
}

func (g *Gateway) authorize(r *http.Request, token string) {
	r.Header.Set("Authorization", "Bearer "+token)
	if g.cfg.TechnicalLogin != "" {
		creds := g.cfg.TechnicalLogin + ":" + g.cfg.TechnicalPassword
		r.Header.Set(accountHeader, base64.StdEncoding.EncodeToString([]byte(creds)))
	}
}

// call sends the request built by build and decodes the JSON answer into out
func (g *Gateway) call(ctx context.Context, out any, build func(token string) (*http.Request, error)) error {
	return g.callRaw(ctx, build, func(body io.Reader) error {
		if err := json.NewDecoder(body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// callRaw retries once with a fresh token when PISTE answers 401
func (g *Gateway) callRaw(ctx context.Context, build func(token string) (*http.Request, error), read func(io.Reader) error) error {
	for attempt := 0; ; attempt++ {
		token, err := g.tokens.EnsureAuthenticated(ctx)
		if err != nil {
			return err
		}
		req, err := build(token)
		if err != nil {
			return err
		}
		resp, err := g.http.Do(req)

		var provErr *model.ProviderError
		if attempt == 0 && errors.As(err, &provErr) && provErr.StatusCode == http.StatusUnauthorized {
			g.tokens.Invalidate()
			continue
		}
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return read(resp.Body)
	}
}

func decodeError(provider model.Provider, status int, body []byte) *model.ProviderError {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err != nil || (parsed.Libelle == "" && parsed.CodeRetour == 0) {
		return gateway.DecodeJSONError(provider, status, body)
	}
	perr := model.NewProviderError(provider, status, strconv.Itoa(parsed.CodeRetour), parsed.Libelle)
	perr.Field = parsed.Champ
	return perr
}

func currencyOf(req *model.TransmissionRequest) string {
	if req.Metadata.Currency == "" {
		return model.DefaultCurrency
	}
	return strings.ToUpper(req.Metadata.Currency)
}

// isoDate converts DD/MM/YYYY into YYYY-MM-DD, leaving other values untouched
func isoDate(s string) string {
	if t, ok := validator.ParseFrenchDate(s); ok {
		return t.Format("2006-01-02")
	}
	return s
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string, fallback time.Time) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return fallback
}
