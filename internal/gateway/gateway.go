// Package gateway defines the provider-agnostic transmission contract and the
// helpers shared by the Chorus Pro and PEPPOL adapters.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rezonia/facturx-gateway/internal/model"
)

var (
	// ErrProviderNotRegistered is returned when no gateway serves a provider
	ErrProviderNotRegistered = errors.New("provider not registered")
	// ErrAcknowledgementUnsupported is returned for networks without receipt documents
	ErrAcknowledgementUnsupported = errors.New("provider does not deliver acknowledgements")
)

// Gateway transmits invoices through one network.
//
// TransmitInvoice returns a *model.ValidationError (and no result) when the
// request is malformed; every other failure is reported in the result with
// Success=false. TrackTransmission returns *model.AuthenticationError when
// no token can be obtained. CancelTransmission is best-effort: true means the
// cancellation request was accepted, not that delivery was prevented.
type Gateway interface {
	Provider() model.Provider
	Authenticate(ctx context.Context) error
	TransmitInvoice(ctx context.Context, req *model.TransmissionRequest) (*model.TransmissionResult, error)
	TrackTransmission(ctx context.Context, transmissionID string) (*model.TrackingInfo, error)
	CancelTransmission(ctx context.Context, transmissionID string) bool
}

// Acknowledger is implemented by gateways that return a receipt document.
// The boolean is false, with no error, while the receipt is not yet available.
type Acknowledger interface {
	DownloadAcknowledgement(ctx context.Context, transmissionID string) ([]byte, bool, error)
}

// StatusMap translates provider status codes into canonical statuses
type StatusMap map[string]model.TransmissionStatus

// Map returns the canonical status, pending for unknown values
func (m StatusMap) Map(providerStatus string) model.TransmissionStatus {
	if s, ok := m[providerStatus]; ok {
		return s
	}
	return model.TransmissionPending
}

// Router dispatches requests to the gateway registered for a provider
type Router struct {
	mu       sync.RWMutex
	gateways map[model.Provider]Gateway
}

// NewRouter creates a router with the given gateways
func NewRouter(gateways ...Gateway) *Router {
	r := &Router{gateways: make(map[model.Provider]Gateway)}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds or replaces the gateway of g.Provider()
func (r *Router) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Provider()] = g
}

// Gateway returns the gateway for provider
func (r *Router) Gateway(provider model.Provider) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotRegistered, provider)
	}
	return g, nil
}

// Providers lists the registered providers in sorted order
func (r *Router) Providers() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Transmit sends req through the gateway of provider
func (r *Router) Transmit(ctx context.Context, provider model.Provider, req *model.TransmissionRequest) (*model.TransmissionResult, error) {
	g, err := r.Gateway(provider)
	if err != nil {
		return nil, err
	}
	return g.TransmitInvoice(ctx, req)
}

// Track polls a transmission on provider
func (r *Router) Track(ctx context.Context, provider model.Provider, transmissionID string) (*model.TrackingInfo, error) {
	g, err := r.Gateway(provider)
	if err != nil {
		return nil, err
	}
	return g.TrackTransmission(ctx, transmissionID)
}

// Cancel requests cancellation on provider. Unknown providers return false.
func (r *Router) Cancel(ctx context.Context, provider model.Provider, transmissionID string) bool {
	g, err := r.Gateway(provider)
	if err != nil {
		return false
	}
	return g.CancelTransmission(ctx, transmissionID)
}

// Acknowledgement downloads the receipt of a transmission on provider
func (r *Router) Acknowledgement(ctx context.Context, provider model.Provider, transmissionID string) ([]byte, bool, error) {
	g, err := r.Gateway(provider)
	if err != nil {
		return nil, false, err
	}
	ack, ok := g.(Acknowledger)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrAcknowledgementUnsupported, provider)
	}
	return ack.DownloadAcknowledgement(ctx, transmissionID)
}

// FailedResult converts an error raised while transmitting into result data
func FailedResult(provider model.Provider, err error) *model.TransmissionResult {
	result := model.NewFailedResult(provider, model.ErrCodeNetwork, err.Error())

	var authErr *model.AuthenticationError
	var provErr *model.ProviderError
	var valErr *model.ValidationError
	switch {
	case errors.As(err, &authErr):
		result.Errors[0].Code = model.ErrCodeAuthentication
	case errors.As(err, &provErr):
		result.Errors[0] = provErr.TransmissionError()
	case errors.As(err, &valErr):
		result.Errors[0].Code = model.ErrCodeValidation
		result.Errors[0].Field = valErr.Field
	}
	return result
}
