package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/store"
	"github.com/rezonia/facturx-gateway/internal/tracker"
	"github.com/rezonia/facturx-gateway/internal/validator"
)

var (
	ErrUnknownInvoice = errors.New("unknown invoice")
	ErrNotCompliant   = errors.New("invoice is not compliant")
	ErrNoRenderer     = errors.New("no renderer configured")
	ErrNotTransmitted = errors.New("invoice has not been transmitted")
	ErrInvoiceLocked  = errors.New("invoice is locked by its transmission")

	ErrAcknowledgementPending = errors.New("acknowledgement not yet available")
)

func newInvoiceID() string {
	return uuid.NewString()
}

// Ingestion is the outcome of reading and scoring one document
type Ingestion struct {
	InvoiceID  string                    `json:"invoice_id"`
	Extraction *Result                   `json:"-"`
	Verdict    *model.ComplianceVerdict  `json:"verdict,omitempty"`
	Tracking   model.InvoiceTrackingData `json:"tracking"`
}

// SubmitOptions selects the network and delivery settings of a transmission
type SubmitOptions struct {
	Provider       model.Provider
	RecipientSIRET string // defaults to the buyer SIRET
	Delivery       model.DeliveryOptions
}

// Ingest extracts a document, registers its lifecycle and scores it.
// Extraction failures move the invoice to error and are reported in
// Extraction.Error.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, mimeType string) *Ingestion {
	id := p.newID()
	t, _ := p.trackers.GetOrCreate(id)
	out := &Ingestion{InvoiceID: id, Extraction: p.Process(ctx, data, mimeType)}

	if err := out.Extraction.Error; err != nil {
		p.logger.WarnContext(ctx, "extraction failed", slog.String("invoice_id", id), slog.Any("error", err))
		_ = t.TransitionTo(model.StatusError, "Échec de l'extraction: "+err.Error(), map[string]string{
			"method": string(out.Extraction.Method),
		})
		p.save(ctx, store.KindTracking, id, t.Snapshot())
		out.Tracking = t.Snapshot()
		return out
	}

	_ = t.TransitionTo(model.StatusExtracted, "Données extraites", map[string]string{
		"method":     string(out.Extraction.Method),
		"confidence": strconv.FormatFloat(out.Extraction.Confidence, 'f', 2, 64),
	})

	verdict, err := p.Validate(ctx, id, out.Extraction.Invoice)
	if err == nil {
		out.Verdict = &verdict
	}
	out.Tracking = t.Snapshot()
	return out
}

// Validate scores inv, moves the invoice to validated and applies the
// score hook. The invoice and its verdict are persisted. Invoices that were
// exported or have a transmission in progress are refused with
// ErrInvoiceLocked.
func (p *Pipeline) Validate(ctx context.Context, id string, inv *model.ExtractedInvoiceData) (model.ComplianceVerdict, error) {
	verdict := p.engine.Score(inv)

	unlock := p.locks.lock(id)
	defer unlock()

	t, _ := p.trackers.GetOrCreate(id)
	if err := p.checkEditable(id, t.Status()); err != nil {
		return verdict, err
	}

	if t.Status() == model.StatusDraft {
		if err := t.TransitionTo(model.StatusExtracted, "Données saisies", nil); err != nil {
			return verdict, err
		}
	}
	if t.Status() != model.StatusValidated {
		if err := t.TransitionTo(model.StatusValidated, "Contrôle de conformité", map[string]string{
			"score": strconv.Itoa(verdict.Score),
		}); err != nil {
			return verdict, err
		}
	}
	t.RecordVerdict(verdict)

	p.logger.InfoContext(ctx, "invoice scored",
		slog.String("invoice_id", id),
		slog.Int("score", verdict.Score),
		slog.Bool("compliant", verdict.IsCompliant),
		slog.String("status", string(t.Status())),
	)

	p.save(ctx, store.KindInvoice, id, inv)
	p.save(ctx, store.KindVerdict, id, verdict)
	p.save(ctx, store.KindTracking, id, t.Snapshot())
	return verdict, nil
}

// checkEditable refuses changes to an invoice that is on the wire or
// already handed to a network. Callers hold the invoice lock.
func (p *Pipeline) checkEditable(id string, status model.InvoiceStatus) error {
	if p.locks.busy(id) {
		return fmt.Errorf("%w: %s has a transmission in progress", ErrInvoiceLocked, id)
	}
	if transmittedStatuses[status] {
		return fmt.Errorf("%w: %s is %s", ErrInvoiceLocked, id, status)
	}
	return nil
}

// Submit renders a compliant invoice and transmits it. Transmission
// failures come back as an unsuccessful result and send the invoice back to
// validated; the returned error covers what prevented an attempt at all, or
// an outcome that could not be recorded on the lifecycle.
func (p *Pipeline) Submit(ctx context.Context, id string, opts SubmitOptions) (*model.TransmissionResult, error) {
	t, g, req, err := p.export(ctx, id, opts)
	if err != nil {
		return nil, err
	}

	result, err := g.TransmitInvoice(ctx, req)
	if err != nil {
		result = gateway.FailedResult(opts.Provider, err)
	}
	return p.recordTransmission(ctx, t, id, opts.Provider, result)
}

// export renders the invoice and moves it to exported. The invoice stays
// marked in flight until recordTransmission runs.
func (p *Pipeline) export(ctx context.Context, id string, opts SubmitOptions) (*tracker.Tracker, gateway.Gateway, *model.TransmissionRequest, error) {
	unlock := p.locks.lock(id)
	defer unlock()

	t, ok := p.trackers.Get(id)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrUnknownInvoice, id)
	}
	if status := t.Status(); status != model.StatusCompliant {
		return nil, nil, nil, fmt.Errorf("%w: %s is %s", ErrNotCompliant, id, status)
	}

	g, err := p.router.Gateway(opts.Provider)
	if err != nil {
		return nil, nil, nil, err
	}
	if p.renderer == nil {
		return nil, nil, nil, ErrNoRenderer
	}

	inv, err := p.Invoice(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}

	hybrid, xml, err := p.renderer.Render(ctx, inv)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("render %s: %w", id, err)
	}

	req := BuildTransmissionRequest(id, inv, hybrid, xml, opts)
	if err := t.TransitionTo(model.StatusExported, "Document Factur-X généré", map[string]string{
		"provider": string(opts.Provider),
	}); err != nil {
		return nil, nil, nil, err
	}
	p.locks.begin(id)
	p.save(ctx, store.KindTracking, id, t.Snapshot())
	return t, g, req, nil
}

// recordTransmission moves an exported invoice to sent, or back to
// validated, and persists the result.
func (p *Pipeline) recordTransmission(ctx context.Context, t *tracker.Tracker, id string, provider model.Provider, result *model.TransmissionResult) (*model.TransmissionResult, error) {
	unlock := p.locks.lock(id)
	defer unlock()
	defer p.locks.end(id)

	var err error
	if result.Success {
		err = t.TransitionTo(model.StatusSent, "Transmis via "+string(provider), map[string]string{
			"provider":        string(provider),
			"transmission_id": result.TransmissionID,
		})
	} else {
		err = t.TransitionTo(model.StatusValidated, "Échec de transmission: "+firstError(result), map[string]string{
			"provider":   string(provider),
			"error_code": firstErrorCode(result),
		})
	}

	p.save(ctx, store.KindTransmission, id, result)
	p.save(ctx, store.KindTracking, id, t.Snapshot())

	if err != nil {
		p.logger.ErrorContext(ctx, "transmission outcome not recorded",
			slog.String("invoice_id", id),
			slog.String("provider", string(provider)),
			slog.Bool("success", result.Success),
			slog.String("transmission_id", result.TransmissionID),
			slog.Any("error", err),
		)
		return result, fmt.Errorf("record transmission of %s: %w", id, err)
	}

	p.logger.InfoContext(ctx, "invoice transmitted",
		slog.String("invoice_id", id),
		slog.String("provider", string(provider)),
		slog.Bool("success", result.Success),
		slog.String("transmission_id", result.TransmissionID),
	)
	return result, nil
}

// Track polls the network an invoice was sent through. A delivered or
// acknowledged transmission moves a sent invoice to received; a rejected
// or failed one moves it to error.
func (p *Pipeline) Track(ctx context.Context, id string) (*model.TrackingInfo, error) {
	sent, err := p.Transmission(ctx, id)
	if err != nil {
		return nil, err
	}

	info, err := p.router.Track(ctx, sent.Provider, sent.TransmissionID)
	if err != nil {
		return nil, err
	}

	unlock := p.locks.lock(id)
	defer unlock()

	t, ok := p.trackers.Get(id)
	if !ok || t.Status() != model.StatusSent {
		return info, nil
	}

	meta := map[string]string{"provider_status": info.ProviderStatus}
	var terr error
	switch info.Status {
	case model.TransmissionDelivered, model.TransmissionAcknowledged:
		terr = t.TransitionTo(model.StatusReceived, "Reçue par le destinataire", meta)
	case model.TransmissionRejected, model.TransmissionFailed:
		terr = t.TransitionTo(model.StatusError, "Rejetée par "+string(sent.Provider)+": "+info.ProviderStatus, meta)
	default:
		return info, nil
	}
	if terr != nil {
		p.logger.WarnContext(ctx, "tracking update not recorded", slog.String("invoice_id", id), slog.Any("error", terr))
		return info, nil
	}
	p.save(ctx, store.KindTracking, id, t.Snapshot())
	return info, nil
}

// Cancel asks the network to withdraw a transmission. True only means the
// request was accepted.
func (p *Pipeline) Cancel(ctx context.Context, id string) (bool, error) {
	sent, err := p.Transmission(ctx, id)
	if err != nil {
		return false, err
	}
	accepted := p.router.Cancel(ctx, sent.Provider, sent.TransmissionID)
	p.logger.InfoContext(ctx, "cancellation requested",
		slog.String("invoice_id", id),
		slog.String("transmission_id", sent.TransmissionID),
		slog.Bool("accepted", accepted),
	)
	return accepted, nil
}

// Acknowledgement downloads the network receipt of a transmitted invoice
func (p *Pipeline) Acknowledgement(ctx context.Context, id string) ([]byte, error) {
	sent, err := p.Transmission(ctx, id)
	if err != nil {
		return nil, err
	}
	data, ok, err := p.router.Acknowledgement(ctx, sent.Provider, sent.TransmissionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAcknowledgementPending, id)
	}
	return data, nil
}

// Transition applies a manual lifecycle change, e.g. received to paid
func (p *Pipeline) Transition(ctx context.Context, id string, status model.InvoiceStatus, message string) (model.InvoiceTrackingData, error) {
	unlock := p.locks.lock(id)
	defer unlock()

	t, ok := p.trackers.Get(id)
	if !ok {
		return model.InvoiceTrackingData{}, fmt.Errorf("%w: %s", ErrUnknownInvoice, id)
	}
	if p.locks.busy(id) {
		return t.Snapshot(), fmt.Errorf("%w: %s has a transmission in progress", ErrInvoiceLocked, id)
	}
	if err := t.TransitionTo(status, message, nil); err != nil {
		return t.Snapshot(), err
	}
	snap := t.Snapshot()
	p.save(ctx, store.KindTracking, id, snap)
	return snap, nil
}

// Tracking returns the lifecycle record of an invoice
func (p *Pipeline) Tracking(id string) (model.InvoiceTrackingData, bool) {
	t, ok := p.trackers.Get(id)
	if !ok {
		return model.InvoiceTrackingData{}, false
	}
	return t.Snapshot(), true
}

// Progress summarises where an invoice stands on its lifecycle
type Progress struct {
	Completion int           // 0 (draft) to 100 (archived)
	InStatus   time.Duration // time since the last transition
	Stalled    bool
}

// Progress reports the lifecycle progress of an invoice
func (p *Pipeline) Progress(id string) (Progress, bool) {
	t, ok := p.trackers.Get(id)
	if !ok {
		return Progress{}, false
	}
	return Progress{
		Completion: t.CompletionPercentage(),
		InStatus:   t.TimeInCurrentStatus(),
		Stalled:    t.IsStalled(p.stallAfter),
	}, true
}

// Invoice loads the persisted invoice record
func (p *Pipeline) Invoice(ctx context.Context, id string) (*model.ExtractedInvoiceData, error) {
	var inv model.ExtractedInvoiceData
	if err := p.store.Load(ctx, store.KindInvoice, id, &inv); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInvoice, id)
		}
		return nil, err
	}
	return &inv, nil
}

// Verdict loads the last compliance verdict of an invoice
func (p *Pipeline) Verdict(ctx context.Context, id string) (*model.ComplianceVerdict, error) {
	var verdict model.ComplianceVerdict
	if err := p.store.Load(ctx, store.KindVerdict, id, &verdict); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInvoice, id)
		}
		return nil, err
	}
	return &verdict, nil
}

// Transmission loads the last transmission result of an invoice
func (p *Pipeline) Transmission(ctx context.Context, id string) (*model.TransmissionResult, error) {
	var result model.TransmissionResult
	if err := p.store.Load(ctx, store.KindTransmission, id, &result); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotTransmitted, id)
		}
		return nil, err
	}
	if !result.Success || result.TransmissionID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotTransmitted, id)
	}
	return &result, nil
}

// Restore reloads persisted lifecycle records into the tracker registry
func (p *Pipeline) Restore(ctx context.Context) (int, error) {
	ids, err := p.store.List(ctx, store.KindTracking)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		var data model.InvoiceTrackingData
		if err := p.store.Load(ctx, store.KindTracking, id, &data); err != nil {
			return 0, err
		}
		p.trackers.Restore(data)
	}
	return len(ids), nil
}

// Trackers exposes the tracker registry
func (p *Pipeline) Trackers() *tracker.Registry {
	return p.trackers
}

// Router exposes the gateway router
func (p *Pipeline) Router() *gateway.Router {
	return p.router
}

// BuildTransmissionRequest assembles the immutable request handed to a gateway
func BuildTransmissionRequest(id string, inv *model.ExtractedInvoiceData, hybrid []byte, xml string, opts SubmitOptions) *model.TransmissionRequest {
	recipient := opts.RecipientSIRET
	if strings.TrimSpace(recipient) == "" {
		recipient = inv.Buyer.SIRET
	}

	total := decimal.Zero
	if inv.TotalInclVAT != nil {
		total = *inv.TotalInclVAT
	}

	delivery := opts.Delivery
	if delivery.Priority == "" {
		delivery.Priority = model.PriorityNormal
	}
	if delivery.Mode == "" {
		delivery.Mode = model.DeliveryPush
	}

	return &model.TransmissionRequest{
		InvoiceID:      id,
		RecipientSIRET: validator.NormalizeSIRET(recipient),
		SenderSIRET:    validator.NormalizeSIRET(inv.Supplier.SIRET),
		HybridDocument: hybrid,
		XMLContent:     xml,
		Metadata: model.InvoiceMetadata{
			Number:   inv.InvoiceNumber,
			Date:     inv.InvoiceDate,
			Total:    total,
			Currency: inv.CurrencyOrDefault(),
		},
		Options: delivery,
	}
}

func (p *Pipeline) save(ctx context.Context, kind store.Kind, id string, v any) {
	if err := p.store.Save(ctx, kind, id, v); err != nil {
		p.logger.ErrorContext(ctx, "persist failed",
			slog.String("kind", string(kind)),
			slog.String("invoice_id", id),
			slog.Any("error", err),
		)
	}
}

func firstError(r *model.TransmissionResult) string {
	if len(r.Errors) == 0 {
		return "unknown error"
	}
	return r.Errors[0].Message
}

func firstErrorCode(r *model.TransmissionResult) string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Code
}
