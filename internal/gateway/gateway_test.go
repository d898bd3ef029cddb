package gateway_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/model"
)

func validRequest() *model.TransmissionRequest {
	return &model.TransmissionRequest{
		InvoiceID:      "inv-1",
		RecipientSIRET: "54210765113030",
		SenderSIRET:    "73282932000074",
		HybridDocument: []byte("%PDF-1.7"),
		XMLContent:     "<rsm:CrossIndustryInvoice/>",
		Metadata: model.InvoiceMetadata{
			Number:   "FAC-2024-001234",
			Date:     "15/03/2024",
			Total:    decimal.RequireFromString("2220.00"),
			Currency: "EUR",
		},
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.TransmissionRequest)
		field  string
	}{
		{"valid", func(*model.TransmissionRequest) {}, ""},
		{"missing invoice id", func(r *model.TransmissionRequest) { r.InvoiceID = "" }, "invoice_id"},
		{"recipient 13 digits", func(r *model.TransmissionRequest) { r.RecipientSIRET = "5421076511303" }, "recipient_siret"},
		{"recipient 15 digits", func(r *model.TransmissionRequest) { r.RecipientSIRET = "542107651130300" }, "recipient_siret"},
		{"recipient with spaces", func(r *model.TransmissionRequest) { r.RecipientSIRET = "542 107 651 13030" }, "recipient_siret"},
		{"recipient letters", func(r *model.TransmissionRequest) { r.RecipientSIRET = "5421076511303A" }, "recipient_siret"},
		{"missing sender", func(r *model.TransmissionRequest) { r.SenderSIRET = "" }, "sender_siret"},
		{"no document", func(r *model.TransmissionRequest) { r.HybridDocument = nil; r.XMLContent = "" }, "document"},
		{"xml only", func(r *model.TransmissionRequest) { r.HybridDocument = nil }, ""},
		{"missing number", func(r *model.TransmissionRequest) { r.Metadata.Number = "" }, "metadata.number"},
		{"negative total", func(r *model.TransmissionRequest) { r.Metadata.Total = decimal.NewFromInt(-1) }, "metadata.total"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			err := gateway.ValidateRequest(req)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var valErr *model.ValidationError
			require.True(t, errors.As(err, &valErr), "got %v", err)
			assert.Equal(t, tt.field, valErr.Field)
		})
	}
}

func TestValidateRequest_Nil(t *testing.T) {
	var valErr *model.ValidationError
	assert.True(t, errors.As(gateway.ValidateRequest(nil), &valErr))
}

func TestStatusMap_UnknownIsPending(t *testing.T) {
	m := gateway.StatusMap{"done": model.TransmissionDelivered}
	assert.Equal(t, model.TransmissionDelivered, m.Map("done"))
	assert.Equal(t, model.TransmissionPending, m.Map("NOUVEAU_STATUT"))
	assert.Equal(t, model.TransmissionPending, m.Map(""))
}

type stubGateway struct {
	provider  model.Provider
	transmits int
}

func (s *stubGateway) Provider() model.Provider               { return s.provider }
func (s *stubGateway) Authenticate(ctx context.Context) error { return nil }

func (s *stubGateway) TransmitInvoice(ctx context.Context, req *model.TransmissionRequest) (*model.TransmissionResult, error) {
	s.transmits++
	return &model.TransmissionResult{Success: true, Provider: s.provider, Status: model.TransmissionSubmitted}, nil
}

func (s *stubGateway) TrackTransmission(ctx context.Context, id string) (*model.TrackingInfo, error) {
	return &model.TrackingInfo{TransmissionID: id, Provider: s.provider, Status: model.TransmissionDelivered}, nil
}

func (s *stubGateway) CancelTransmission(ctx context.Context, id string) bool { return true }

func TestRouter(t *testing.T) {
	ctx := context.Background()
	chorus := &stubGateway{provider: model.ProviderChorusPro}
	router := gateway.NewRouter(chorus)

	result, err := router.Transmit(ctx, model.ProviderChorusPro, validRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, chorus.transmits)

	info, err := router.Track(ctx, model.ProviderChorusPro, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.TransmissionDelivered, info.Status)
	assert.True(t, router.Cancel(ctx, model.ProviderChorusPro, "tx-1"))

	_, err = router.Transmit(ctx, model.ProviderCustomPartner, validRequest())
	assert.ErrorIs(t, err, gateway.ErrProviderNotRegistered)
	_, err = router.Track(ctx, model.ProviderPeppol, "tx-1")
	assert.ErrorIs(t, err, gateway.ErrProviderNotRegistered)
	assert.False(t, router.Cancel(ctx, model.ProviderPeppol, "tx-1"))

	router.Register(&stubGateway{provider: model.ProviderCustomPartner})
	assert.Equal(t, []model.Provider{model.ProviderChorusPro, model.ProviderCustomPartner}, router.Providers())
}

type receiptGateway struct {
	stubGateway
	receipts map[string][]byte
}

func (g *receiptGateway) DownloadAcknowledgement(ctx context.Context, id string) ([]byte, bool, error) {
	data, ok := g.receipts[id]
	return data, ok, nil
}

func TestRouter_Acknowledgement(t *testing.T) {
	ctx := context.Background()
	chorus := &receiptGateway{
		stubGateway: stubGateway{provider: model.ProviderChorusPro},
		receipts:    map[string][]byte{"tx-1": []byte("%PDF-1.4 AR")},
	}
	router := gateway.NewRouter(chorus, &stubGateway{provider: model.ProviderPeppol})

	data, ok, err := router.Acknowledgement(ctx, model.ProviderChorusPro, "tx-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "%PDF-1.4 AR", string(data))

	_, ok, err = router.Acknowledgement(ctx, model.ProviderChorusPro, "tx-2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = router.Acknowledgement(ctx, model.ProviderPeppol, "tx-1")
	assert.ErrorIs(t, err, gateway.ErrAcknowledgementUnsupported)

	_, _, err = router.Acknowledgement(ctx, model.ProviderCustomPartner, "tx-1")
	assert.ErrorIs(t, err, gateway.ErrProviderNotRegistered)
}

func TestFailedResult(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  string
		field string
	}{
		{"authentication", model.NewAuthenticationError(model.ProviderPeppol, "denied", nil), model.ErrCodeAuthentication, ""},
		{"provider", &model.ProviderError{Provider: model.ProviderPeppol, StatusCode: 422, Code: "INVALID_DOC", Field: "payload", Message: "bad"}, "INVALID_DOC", "payload"},
		{"validation", model.NewValidationError("recipient_siret", "1", "length", "bad"), model.ErrCodeValidation, "recipient_siret"},
		{"network", errors.New("connection refused"), model.ErrCodeNetwork, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := gateway.FailedResult(model.ProviderPeppol, tt.err)
			assert.False(t, result.Success)
			assert.Equal(t, model.TransmissionFailed, result.Status)
			require.Len(t, result.Errors, 1)
			assert.Equal(t, tt.code, result.Errors[0].Code)
			assert.Equal(t, tt.field, result.Errors[0].Field)
		})
	}
}
