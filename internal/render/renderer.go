package render

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rezonia/facturx-gateway/internal/logging"
	"github.com/rezonia/facturx-gateway/internal/model"
)

// Option configures a Renderer
type Option func(*Renderer)

// WithPrinter replaces the HTML to PDF printer
func WithPrinter(p Printer) Option {
	return func(r *Renderer) {
		r.printer = p
	}
}

// WithTempDir sets where the XML is staged before embedding
func WithTempDir(dir string) Option {
	return func(r *Renderer) {
		r.tmpDir = dir
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) {
		r.logger = l
	}
}

// Renderer produces the hybrid Factur-X document of an invoice
type Renderer struct {
	printer Printer
	tmpDir  string
	logger  *slog.Logger
}

// NewRenderer creates a renderer printing through headless Chromium by default
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{printer: NewChromePrinter("", DefaultPrintTimeout)}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDefault(r.logger)
	return r
}

// Render returns the hybrid PDF and the CII XML it embeds
func (r *Renderer) Render(ctx context.Context, inv *model.ExtractedInvoiceData) ([]byte, string, error) {
	xml, err := CII(inv)
	if err != nil {
		return nil, "", err
	}

	html, err := HTML(inv)
	if err != nil {
		return nil, "", err
	}

	pdf, err := r.printer.Print(ctx, html)
	if err != nil {
		return nil, "", fmt.Errorf("print invoice %s: %w", inv.InvoiceNumber, err)
	}

	hybrid, err := embedXML(r.tmpDir, pdf, xml)
	if err != nil {
		return nil, "", err
	}

	r.logger.DebugContext(ctx, "invoice rendered",
		slog.String("invoice_number", inv.InvoiceNumber),
		slog.Int("pdf_bytes", len(hybrid)),
		slog.Int("xml_bytes", len(xml)),
	)
	return hybrid, string(xml), nil
}
