// Package pdf extracts the structured invoice carried inside a hybrid
// Factur-X / ZUGFeRD PDF.
package pdf

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/rezonia/facturx-gateway/internal/model"
	xmlparser "github.com/rezonia/facturx-gateway/internal/parser/xml"
)

// MethodName identifies this extractor in errors
const MethodName = "pdf"

// Attachment names used by Factur-X and its siblings, in preference order
var embeddedNames = []string{
	"factur-x.xml",
	"zugferd-invoice.xml",
	"zugferd.xml",
	"xrechnung.xml",
}

var disableConfigDir sync.Once

// Config returns a pdfcpu configuration that never touches the user config dir
func Config() *pdfmodel.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	return pdfmodel.NewDefaultConfiguration()
}

// Option configures an Extractor
type Option func(*Extractor)

// WithRegistry sets the XML registry used for the embedded document
func WithRegistry(r *xmlparser.Registry) Option {
	return func(e *Extractor) {
		e.registry = r
	}
}

// Extractor reads invoices from hybrid PDFs
type Extractor struct {
	registry *xmlparser.Registry
}

// NewExtractor creates a new PDF extractor
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{registry: xmlparser.NewRegistry()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsPDF reports whether data carries the PDF magic bytes
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF"))
}

// EmbeddedXML returns the structured invoice attached to the PDF and its file name
func (e *Extractor) EmbeddedXML(data []byte) ([]byte, string, error) {
	if !IsPDF(data) {
		return nil, "", model.NewExtractionError(MethodName, "content is not a PDF", nil)
	}

	attachments, err := api.ExtractAttachmentsRaw(bytes.NewReader(data), "", nil, Config())
	if err != nil {
		return nil, "", model.NewExtractionError(MethodName, "failed to read attachments", err)
	}

	byName := make(map[string]pdfmodel.Attachment, len(attachments))
	var xmlFiles []pdfmodel.Attachment
	for _, a := range attachments {
		name := strings.ToLower(path.Base(a.FileName))
		byName[name] = a
		if strings.HasSuffix(name, ".xml") {
			xmlFiles = append(xmlFiles, a)
		}
	}

	pick := func(a pdfmodel.Attachment) ([]byte, string, error) {
		content, err := io.ReadAll(a)
		if err != nil {
			return nil, "", model.NewExtractionError(MethodName, "failed to read "+a.FileName, err)
		}
		return content, a.FileName, nil
	}

	for _, name := range embeddedNames {
		if a, ok := byName[name]; ok {
			return pick(a)
		}
	}
	// A single unnamed XML attachment is accepted as the invoice
	if len(xmlFiles) == 1 {
		return pick(xmlFiles[0])
	}
	return nil, "", model.NewExtractionError(MethodName, "no embedded Factur-X XML found", nil)
}

// Extract parses the embedded XML of a hybrid PDF
func (e *Extractor) Extract(ctx context.Context, data []byte) (*model.ExtractedInvoiceData, error) {
	content, _, err := e.EmbeddedXML(data)
	if err != nil {
		return nil, err
	}
	return e.registry.Parse(ctx, content)
}
