package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/logging"
	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/processor"
	"github.com/rezonia/facturx-gateway/internal/render"
	"github.com/rezonia/facturx-gateway/internal/server"
	"github.com/rezonia/facturx-gateway/internal/testutil"
)

const compliantJSON = `{
	"invoice_number": "FAC-2024-001234",
	"invoice_date": "15/03/2024",
	"supplier": {"name": "TECH SOLUTIONS SARL", "siret": "73282932000074", "vat_number": "FR44732829320"},
	"buyer": {"name": "CLIENT ENTREPRISE SAS", "siret": "54210765113030", "vat_number": "FR13542107651"},
	"total_excl_vat": "1850.00",
	"vat_amount": "370.00",
	"total_incl_vat": "2220.00",
	"currency": "EUR",
	"payment_terms": 45
}`

func newTestServer(t testing.TB, gws ...gateway.Gateway) *server.Server {
	t.Helper()
	pipeline := processor.NewPipeline(
		processor.WithRouter(gateway.NewRouter(gws...)),
		processor.WithRenderer(render.NewRenderer(render.WithPrinter(blankPrinter{}), render.WithTempDir(t.TempDir()))),
		processor.WithLogger(logging.Discard()),
	)
	config := &server.Config{
		Address: ":8080",
	}
	return server.NewServer(config, pipeline, server.WithLogger(logging.Discard()))
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, "ok", response["status"])
	assert.NotEmpty(t, response["time"])
}

func TestExtractEndpoint_CII(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodPost, "/api/v1/extract", "application/xml", readFixture(t, "facturx_en16931.xml"))

	assert.Equal(t, http.StatusOK, w.Code)

	var response server.ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

	assert.Equal(t, "xml", response.Method)
	assert.Equal(t, 1.0, response.Confidence)
	require.NotNil(t, response.Invoice)
	assert.Equal(t, "FAC-2024-001234", response.Invoice.InvoiceNumber)
	assert.Equal(t, "73282932000074", response.Invoice.Supplier.SIRET)
}

func TestExtractEndpoint_Errors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name        string
		contentType string
		body        []byte
		expected    int
	}{
		{"empty body", "", nil, http.StatusBadRequest},
		{"invalid XML", "application/xml", []byte("<Invoice><broken"), http.StatusUnprocessableEntity},
		{"text without LLM", "text/plain", []byte("FACTURE 12"), http.StatusServiceUnavailable},
		{"image without LLM", "image/png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, http.StatusServiceUnavailable},
		{"binary", "application/octet-stream", []byte{0x00, 0xFE, 0xFF}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(srv, http.MethodPost, "/api/v1/extract", tt.contentType, tt.body)
			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestValidateEndpoint_JSON(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodPost, "/api/v1/validate", "application/json", []byte(compliantJSON))
	require.Equal(t, http.StatusOK, w.Code)

	var response server.ValidationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

	assert.True(t, response.Valid)
	assert.Equal(t, 100, response.Score)
	assert.Equal(t, "strict", response.Profile)
	assert.Equal(t, "B2B", response.Category)
	assert.Empty(t, response.Errors)
}

func TestValidateEndpoint_Category(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodPost, "/api/v1/validate?category=b2g&profile=lenient", "application/json", []byte(compliantJSON))
	require.Equal(t, http.StatusOK, w.Code)

	var response server.ValidationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

	assert.False(t, response.Valid, "45 days exceeds the public-sector ceiling")
	assert.Equal(t, "lenient", response.Profile)
	assert.Equal(t, "B2G", response.Category)
	require.Len(t, response.Errors, 1)
	assert.Contains(t, response.Errors[0], "Délai de paiement")
}

func TestValidateEndpoint_Document(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodPost, "/api/v1/validate", "application/xml", readFixture(t, "ubl_peppol.xml"))
	require.Equal(t, http.StatusOK, w.Code)

	var response server.ValidationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.NotEmpty(t, response.Results)
}

func TestValidateEndpoint_BadRequest(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown profile", "/api/v1/validate?profile=paranoid", compliantJSON},
		{"unknown category", "/api/v1/validate?category=b2c", compliantJSON},
		{"malformed JSON", "/api/v1/validate", `{"invoice_number":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(srv, http.MethodPost, tt.path, "application/json", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestInfoEndpoint(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name     string
		data     []byte
		format   string
		mimeType string
	}{
		{"xml", []byte(`<?xml version="1.0"?><Invoice/>`), "xml", "application/xml"},
		{"pdf", testutil.MinimalPDF(), "pdf", "application/pdf"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, "image", "image/jpeg"},
		{"text", []byte("FACTURE"), "text", "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(srv, http.MethodPost, "/api/v1/info", "", tt.data)
			require.Equal(t, http.StatusOK, w.Code)

			var response server.InfoResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tt.format, response.Format)
			assert.Equal(t, tt.mimeType, response.MimeType)
			assert.Equal(t, len(tt.data), response.Size)
		})
	}
}

func TestProvidersEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeGateway(model.ProviderPeppol), newFakeGateway(model.ProviderChorusPro))

	w := do(srv, http.MethodGet, "/api/v1/providers", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Providers []string `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, []string{"chorus_pro", "peppol"}, response.Providers)
}

func TestInvoiceLifecycle(t *testing.T) {
	gw := newFakeGateway(model.ProviderChorusPro)
	srv := newTestServer(t, gw)

	w := do(srv, http.MethodPost, "/api/v1/invoices", "application/xml", readFixture(t, "facturx_en16931.xml"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created server.InvoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.NotNil(t, created.Extraction)
	assert.Equal(t, "xml", created.Extraction.Method)
	require.NotNil(t, created.Verdict)
	assert.Equal(t, 100, created.Verdict.Score)
	assert.Equal(t, model.StatusCompliant, created.Tracking.Status)

	base := "/api/v1/invoices/" + created.ID

	w = do(srv, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched server.InvoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	require.NotNil(t, fetched.Invoice)
	assert.Equal(t, "FAC-2024-001234", fetched.Invoice.InvoiceNumber)
	require.NotNil(t, fetched.Verdict)
	assert.Equal(t, 38, fetched.Completion)
	assert.False(t, fetched.Stalled)

	w = do(srv, http.MethodPost, base+"/transmission", "application/json", []byte(`{"provider":"chorus_pro","test_mode":true}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var transmitted server.TransmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &transmitted))
	assert.True(t, transmitted.Result.Success)
	assert.Equal(t, model.StatusSent, transmitted.Tracking.Status)
	assert.True(t, gw.lastRequest().Options.TestMode)

	w = do(srv, http.MethodPut, base, "application/json", []byte(compliantJSON))
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = do(srv, http.MethodGet, base+"/acknowledgement", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, testutil.MinimalPDF(), w.Body.Bytes())

	w = do(srv, http.MethodGet, base+"/transmission", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tracked server.TrackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tracked))
	assert.Equal(t, model.TransmissionDelivered, tracked.Transmission.Status)
	assert.Equal(t, model.StatusReceived, tracked.Tracking.Status)

	w = do(srv, http.MethodPost, base+"/transitions", "application/json", []byte(`{"status":"paid","message":"Virement reçu"}`))
	require.Equal(t, http.StatusOK, w.Code)
	var tracking model.InvoiceTrackingData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tracking))
	assert.Equal(t, model.StatusPaid, tracking.Status)

	w = do(srv, http.MethodPost, base+"/transitions", "application/json", []byte(`{"status":"draft"}`))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(srv, http.MethodDelete, base+"/transmission", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepted":true}`, w.Body.String())
}

func TestCreateInvoice_JSONAndCorrect(t *testing.T) {
	srv := newTestServer(t)

	var inv map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(compliantJSON), &inv))
	delete(inv, "invoice_date")
	body, err := json.Marshal(inv)
	require.NoError(t, err)

	w := do(srv, http.MethodPost, "/api/v1/invoices", "application/json", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var created server.InvoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotNil(t, created.Verdict)
	assert.False(t, created.Verdict.IsCompliant)
	assert.Equal(t, model.StatusValidated, created.Tracking.Status)

	w = do(srv, http.MethodPut, "/api/v1/invoices/"+created.ID, "application/json", []byte(compliantJSON))
	require.Equal(t, http.StatusOK, w.Code)

	var corrected server.InvoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &corrected))
	assert.True(t, corrected.Verdict.IsCompliant)
	assert.Equal(t, model.StatusCompliant, corrected.Tracking.Status)
}

func TestCreateInvoice_ExtractionFailure(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodPost, "/api/v1/invoices", "application/xml", []byte("<Invoice><broken"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var response server.InvoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.NotEmpty(t, response.Error)
	assert.Equal(t, model.StatusError, response.Tracking.Status)
}

func TestTransmit_Errors(t *testing.T) {
	gw := newFakeGateway(model.ProviderChorusPro)
	srv := newTestServer(t, gw)

	w := do(srv, http.MethodPost, "/api/v1/invoices", "application/json", []byte(compliantJSON))
	require.Equal(t, http.StatusCreated, w.Code)
	var created server.InvoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	path := "/api/v1/invoices/" + created.ID + "/transmission"

	tests := []struct {
		name     string
		path     string
		body     string
		expected int
	}{
		{"missing provider", path, `{}`, http.StatusBadRequest},
		{"unknown provider", path, `{"provider":"fax"}`, http.StatusBadRequest},
		{"unknown priority", path, `{"provider":"chorus_pro","priority":"asap"}`, http.StatusBadRequest},
		{"provider not registered", path, `{"provider":"peppol"}`, http.StatusBadRequest},
		{"unknown invoice", "/api/v1/invoices/nope/transmission", `{"provider":"chorus_pro"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(srv, http.MethodPost, tt.path, "application/json", []byte(tt.body))
			assert.Equal(t, tt.expected, w.Code)
		})
	}

	w = do(srv, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "nothing transmitted yet")
}

func TestTransmit_ProviderFailure(t *testing.T) {
	gw := newFakeGateway(model.ProviderChorusPro)
	gw.result = model.NewFailedResult(model.ProviderChorusPro, model.ErrCodeRules, "structure destinataire inconnue")
	srv := newTestServer(t, gw)

	w := do(srv, http.MethodPost, "/api/v1/invoices", "application/json", []byte(compliantJSON))
	require.Equal(t, http.StatusCreated, w.Code)
	var created server.InvoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = do(srv, http.MethodPost, "/api/v1/invoices/"+created.ID+"/transmission", "application/json", []byte(`{"provider":"chorus_pro"}`))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var response server.TransmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.False(t, response.Result.Success)
	assert.Equal(t, model.StatusValidated, response.Tracking.Status)

	w = do(srv, http.MethodPost, "/api/v1/invoices/"+created.ID+"/transmission", "application/json", []byte(`{"provider":"chorus_pro"}`))
	assert.Equal(t, http.StatusConflict, w.Code, "a failed invoice must be revalidated before resending")
}

func TestAcknowledgement_Errors(t *testing.T) {
	tests := []struct {
		name     string
		gateway  gateway.Gateway
		transmit bool
		expected int
	}{
		{"not transmitted", newFakeGateway(model.ProviderChorusPro), false, http.StatusNotFound},
		{"receipt pending", &fakeGateway{provider: model.ProviderChorusPro, noReceipt: true}, true, http.StatusNotFound},
		{"provider without receipts", receiptlessGateway{newFakeGateway(model.ProviderPeppol)}, true, http.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.gateway)

			w := do(srv, http.MethodPost, "/api/v1/invoices", "application/json", []byte(compliantJSON))
			require.Equal(t, http.StatusCreated, w.Code)
			var created server.InvoiceResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
			base := "/api/v1/invoices/" + created.ID

			if tt.transmit {
				body := `{"provider":"` + string(tt.gateway.Provider()) + `"}`
				w = do(srv, http.MethodPost, base+"/transmission", "application/json", []byte(body))
				require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			}

			w = do(srv, http.MethodGet, base+"/acknowledgement", "", nil)
			assert.Equal(t, tt.expected, w.Code, w.Body.String())
		})
	}
}

func TestGetInvoice_NotFound(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/api/v1/invoices/missing", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodPut, "/api/v1/invoices/missing", "application/json", []byte(compliantJSON)).Code)
	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodPost, "/api/v1/invoices/missing/transitions", "application/json", []byte(`{"status":"paid"}`)).Code)
}

// Helper functions

func do(srv *server.Server, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func readFixture(t testing.TB, name string) []byte {
	t.Helper()
	content, err := os.ReadFile(filepath.Join("..", "parser", "xml", "testdata", name))
	require.NoError(t, err)
	return content
}

type blankPrinter struct{}

func (blankPrinter) Print(ctx context.Context, html string) ([]byte, error) {
	return testutil.MinimalPDF(), nil
}

type fakeGateway struct {
	mu       sync.Mutex
	provider model.Provider
	requests []*model.TransmissionRequest
	result   *model.TransmissionResult

	noReceipt bool
}

func newFakeGateway(provider model.Provider) *fakeGateway {
	return &fakeGateway{provider: provider}
}

func (g *fakeGateway) Provider() model.Provider { return g.provider }

func (g *fakeGateway) Authenticate(ctx context.Context) error { return nil }

func (g *fakeGateway) TransmitInvoice(ctx context.Context, req *model.TransmissionRequest) (*model.TransmissionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.result != nil {
		return g.result, nil
	}
	return &model.TransmissionResult{
		Success:        true,
		TransmissionID: "CPP-42",
		Provider:       g.provider,
		Status:         model.TransmissionSubmitted,
	}, nil
}

func (g *fakeGateway) TrackTransmission(ctx context.Context, transmissionID string) (*model.TrackingInfo, error) {
	return &model.TrackingInfo{
		TransmissionID: transmissionID,
		Provider:       g.provider,
		Status:         model.TransmissionDelivered,
		ProviderStatus: "MISE_A_DISPOSITION",
	}, nil
}

func (g *fakeGateway) CancelTransmission(ctx context.Context, transmissionID string) bool {
	return true
}

func (g *fakeGateway) DownloadAcknowledgement(ctx context.Context, transmissionID string) ([]byte, bool, error) {
	if g.noReceipt {
		return nil, false, nil
	}
	return testutil.MinimalPDF(), true, nil
}

// receiptlessGateway hides the acknowledgement download of its gateway
type receiptlessGateway struct {
	gateway.Gateway
}

func (g *fakeGateway) lastRequest() *model.TransmissionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return nil
	}
	return g.requests[len(g.requests)-1]
}

// Benchmark tests

func BenchmarkExtractXML(b *testing.B) {
	srv := newTestServer(b)
	data := readFixture(b, "facturx_en16931.xml")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		do(srv, http.MethodPost, "/api/v1/extract", "application/xml", data)
	}
}

func BenchmarkHealth(b *testing.B) {
	srv := newTestServer(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		do(srv, http.MethodGet, "/health", "", nil)
	}
}
