package einvoice_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/facturx-gateway/pkg/einvoice"
)

func readFixture(t testing.TB, name string) []byte {
	t.Helper()
	content, err := os.ReadFile(filepath.Join("..", "..", "internal", "parser", "xml", "testdata", name))
	require.NoError(t, err)
	return content
}

func TestNewDefaultProcessor(t *testing.T) {
	proc := einvoice.NewDefaultProcessor()
	require.NotNil(t, proc)

	opts := proc.Options()
	assert.Equal(t, "strict", opts.Profile.Name())
	assert.Equal(t, einvoice.CategoryB2B, opts.Category)
	assert.Empty(t, opts.LLMAPIKey)
}

func TestNewProcessor_ZeroOptions(t *testing.T) {
	proc := einvoice.NewProcessor(einvoice.Options{})

	assert.Equal(t, "strict", proc.Options().Profile.Name())
	assert.Equal(t, einvoice.CategoryB2B, proc.Options().Category)
}

func TestProcessorExtract(t *testing.T) {
	proc := einvoice.NewDefaultProcessor()

	result, err := proc.Extract(context.Background(), bytes.NewReader(readFixture(t, "facturx_en16931.xml")))
	require.NoError(t, err)

	assert.Equal(t, "xml", result.Method)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, "FAC-2024-001234", result.Invoice.InvoiceNumber)
	assert.Equal(t, "TECH SOLUTIONS SARL", result.Invoice.Supplier.Name)
}

func TestProcessorExtract_TextWithoutLLM(t *testing.T) {
	proc := einvoice.NewDefaultProcessor()

	_, err := proc.Extract(context.Background(), strings.NewReader("FACTURE N 12"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM extractor not configured")
}

func TestProcessorValidate(t *testing.T) {
	proc := einvoice.NewDefaultProcessor()

	verdict, err := proc.Validate(context.Background(), bytes.NewReader(readFixture(t, "facturx_en16931.xml")))
	require.NoError(t, err)

	assert.True(t, verdict.IsCompliant)
	assert.Equal(t, 100, verdict.Score)
	assert.Empty(t, verdict.MissingFields)
}

func TestProcessorValidate_InvalidXML(t *testing.T) {
	proc := einvoice.NewDefaultProcessor()

	_, err := proc.Validate(context.Background(), strings.NewReader("<Invoice><broken"))
	require.Error(t, err)

	var parseErr *einvoice.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestProcessorScore_Category(t *testing.T) {
	inv := &einvoice.Invoice{
		InvoiceNumber: "F-1",
		InvoiceDate:   "15/03/2024",
		Supplier:      einvoice.Party{Name: "TECH SOLUTIONS SARL", SIRET: "73282932000074"},
	}
	days := 45
	inv.PaymentTerms = &days

	b2b := einvoice.NewProcessor(einvoice.Options{Category: einvoice.CategoryB2B})
	b2g := einvoice.NewProcessor(einvoice.Options{Category: einvoice.CategoryB2G})

	assert.Greater(t, b2b.Score(inv).Score, b2g.Score(inv).Score)
	assert.Contains(t, b2b.Score(inv).MissingFields, "Montant TTC")
}

func TestIdentifiers(t *testing.T) {
	assert.True(t, einvoice.IsValidSIRET("73282932000074"))
	assert.False(t, einvoice.IsValidSIRET("7328293200007"))
	assert.True(t, einvoice.IsValidVATNumber("FR44732829320"))
	assert.False(t, einvoice.IsValidVATNumber("FR00000000000"))

	vat, ok := einvoice.SuggestVATNumber("732829320")
	require.True(t, ok)
	assert.Equal(t, "FR44732829320", vat)
}

func TestTracker(t *testing.T) {
	tr := einvoice.NewTracker("inv-1")
	assert.Equal(t, einvoice.StatusDraft, tr.Status())

	require.NoError(t, tr.TransitionTo(einvoice.StatusExtracted, "", nil))

	err := tr.TransitionTo(einvoice.StatusPaid, "", nil)
	var invalid *einvoice.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	assert.True(t, einvoice.CanTransition(einvoice.StatusReceived, einvoice.StatusPaid))
	assert.False(t, einvoice.CanTransition(einvoice.StatusArchived, einvoice.StatusDraft))
}

func BenchmarkProcessorValidate(b *testing.B) {
	ctx := context.Background()
	proc := einvoice.NewDefaultProcessor()
	data := readFixture(b, "facturx_en16931.xml")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = proc.Validate(ctx, bytes.NewReader(data))
	}
}
