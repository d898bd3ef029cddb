package peppol_test

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/facturx-gateway/internal/gateway/peppol"
)

func testEnvelope() *peppol.Envelope {
	env := peppol.NewEnvelope(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	env.From = "9956:73282932000074"
	env.To = "9956:54210765113030"
	env.Service = peppol.BillingProcess
	env.Action = peppol.DocumentScheme + "::" + peppol.CIIInvoiceDocument
	env.OriginalSender = env.From
	env.FinalRecipient = env.To
	env.Payload = []byte("<Invoice/>")
	return env
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env := testEnvelope()

	data, err := env.Bytes(nil)
	require.NoError(t, err)

	parsed, err := peppol.ParseEnvelope(data)
	require.NoError(t, err)

	assert.Equal(t, env.MessageID, parsed.MessageID)
	assert.Equal(t, env.ConversationID, parsed.ConversationID)
	assert.True(t, env.Timestamp.Equal(parsed.Timestamp))
	assert.Equal(t, env.From, parsed.From)
	assert.Equal(t, env.To, parsed.To)
	assert.Equal(t, env.Service, parsed.Service)
	assert.Equal(t, peppol.ProcessScheme, parsed.ServiceType)
	assert.Equal(t, env.Action, parsed.Action)
	assert.Equal(t, env.OriginalSender, parsed.OriginalSender)
	assert.Equal(t, env.FinalRecipient, parsed.FinalRecipient)
	assert.Equal(t, "application/xml", parsed.PayloadMIME)
	assert.Equal(t, env.Payload, parsed.Payload)
}

func TestNewEnvelope_UniqueIDs(t *testing.T) {
	a := peppol.NewEnvelope(time.Now())
	b := peppol.NewEnvelope(time.Now())

	assert.NotEqual(t, a.MessageID, b.MessageID)
	assert.Contains(t, a.MessageID, "@")
}

func TestParseEnvelope_Invalid(t *testing.T) {
	_, err := peppol.ParseEnvelope([]byte("<not-an-envelope/>"))
	assert.Error(t, err)

	_, err = peppol.ParseEnvelope([]byte("garbage <"))
	assert.Error(t, err)
}

func TestSigner_SignedEnvelopeValidates(t *testing.T) {
	keys := dsig.RandomKeyStoreForTest()
	_, certDER, err := keys.GetKeyPair()
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	signed, err := peppol.NewSigner(keys).Sign(testEnvelope().Document().Root())
	require.NoError(t, err)
	require.NotNil(t, signed.FindElement("./Signature/SignatureValue"))

	validator := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	})
	_, err = validator.Validate(signed)
	assert.NoError(t, err)
}

func TestSigner_SignedBytesStillParse(t *testing.T) {
	env := testEnvelope()

	data, err := env.Bytes(peppol.NewSigner(dsig.RandomKeyStoreForTest()))
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(data))
	assert.NotNil(t, doc.FindElement("//Signature"))

	parsed, err := peppol.ParseEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, parsed.MessageID)
}

func BenchmarkEnvelope_Bytes(b *testing.B) {
	env := testEnvelope()
	for i := 0; i < b.N; i++ {
		_, _ = env.Bytes(nil)
	}
}
