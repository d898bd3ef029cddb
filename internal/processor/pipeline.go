// Package processor wires extraction, compliance scoring, lifecycle tracking,
// rendering and transmission into per-invoice operations.
package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/rezonia/facturx-gateway/internal/compliance"
	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/logging"
	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/parser/pdf"
	xmlparser "github.com/rezonia/facturx-gateway/internal/parser/xml"
	"github.com/rezonia/facturx-gateway/internal/store"
	"github.com/rezonia/facturx-gateway/internal/tracker"
)

// ErrLLMNotConfigured is returned for text and image input without an LLM extractor
var ErrLLMNotConfigured = errors.New("LLM extractor not configured")

// Format is the detected input format
type Format int

const (
	FormatUnknown Format = iota
	FormatXML
	FormatPDF
	FormatImage
	FormatText
)

func (f Format) String() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatPDF:
		return "pdf"
	case FormatImage:
		return "image"
	case FormatText:
		return "text"
	}
	return "unknown"
}

// ExtractionMethod records how an invoice was obtained
type ExtractionMethod string

const (
	MethodXML         ExtractionMethod = "xml"
	MethodPDFEmbedded ExtractionMethod = "pdf_embedded"
	MethodLLMText     ExtractionMethod = "llm_text"
	MethodLLMVision   ExtractionMethod = "llm_vision"
)

// Result is the outcome of one extraction
type Result struct {
	Invoice    *model.ExtractedInvoiceData
	Method     ExtractionMethod
	Confidence float64
	Warnings   []string
	Error      error
}

// LLMExtractor reads invoices the structured parsers cannot
type LLMExtractor interface {
	ExtractText(ctx context.Context, text string) (*model.ExtractedInvoiceData, error)
	ExtractImage(ctx context.Context, data []byte, mimeType string) (*model.ExtractedInvoiceData, error)
}

// Renderer produces the hybrid document and its XML payload
type Renderer interface {
	Render(ctx context.Context, inv *model.ExtractedInvoiceData) ([]byte, string, error)
}

// Pipeline runs invoices from raw bytes to a transmitted document
type Pipeline struct {
	registry *xmlparser.Registry
	pdf      *pdf.Extractor
	llm      LLMExtractor
	engine   *compliance.Engine
	trackers *tracker.Registry
	renderer Renderer
	router   *gateway.Router
	store    store.Store
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	locks    *invoiceLocks

	stallAfter time.Duration
}

// PipelineOption configures the pipeline
type PipelineOption func(*Pipeline)

// WithLLMExtractor enables text and image extraction
func WithLLMExtractor(e LLMExtractor) PipelineOption {
	return func(p *Pipeline) {
		p.llm = e
	}
}

// WithRegistry replaces the XML adapter registry
func WithRegistry(r *xmlparser.Registry) PipelineOption {
	return func(p *Pipeline) {
		p.registry = r
	}
}

// WithEngine replaces the compliance engine
func WithEngine(e *compliance.Engine) PipelineOption {
	return func(p *Pipeline) {
		p.engine = e
	}
}

// WithTrackers shares a tracker registry with the pipeline
func WithTrackers(r *tracker.Registry) PipelineOption {
	return func(p *Pipeline) {
		p.trackers = r
	}
}

// WithRenderer sets the document renderer used before transmission
func WithRenderer(r Renderer) PipelineOption {
	return func(p *Pipeline) {
		p.renderer = r
	}
}

// WithRouter sets the gateways invoices are transmitted through
func WithRouter(r *gateway.Router) PipelineOption {
	return func(p *Pipeline) {
		p.router = r
	}
}

// WithStore sets where records are persisted
func WithStore(s store.Store) PipelineOption {
	return func(p *Pipeline) {
		p.store = s
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithIDGenerator overrides how invoice ids are minted
func WithIDGenerator(f func() string) PipelineOption {
	return func(p *Pipeline) {
		p.newID = f
	}
}

// WithStallThreshold sets how long an invoice may sit in one status before
// it is reported as stalled
func WithStallThreshold(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.stallAfter = d
	}
}

// NewPipeline creates a pipeline. Without a router or renderer only
// extraction, validation and tracking are available.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry: xmlparser.NewRegistry(),
		engine:   compliance.NewEngine(),
		trackers: tracker.NewRegistry(),
		router:   gateway.NewRouter(),
		store:    store.NewMemoryStore(0),
		now:      time.Now,
		newID:    newInvoiceID,
		locks:    newInvoiceLocks(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.pdf = pdf.NewExtractor(pdf.WithRegistry(p.registry))
	p.logger = logging.OrDefault(p.logger)
	return p
}

// DetectFormat sniffs the input format from magic bytes
func DetectFormat(data []byte) Format {
	if len(data) == 0 {
		return FormatUnknown
	}

	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, []byte("<")):
		return FormatXML
	case pdf.IsPDF(data):
		return FormatPDF
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}),
		bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}),
		bytes.HasPrefix(data, []byte{'I', 'I', 0x2A, 0x00}),
		bytes.HasPrefix(data, []byte{'M', 'M', 0x00, 0x2A}):
		return FormatImage
	case utf8.Valid(data) && len(trimmed) > 0:
		return FormatText
	}
	return FormatUnknown
}

// Process extracts an invoice from any supported input
func (p *Pipeline) Process(ctx context.Context, data []byte, mimeType string) *Result {
	switch DetectFormat(data) {
	case FormatXML:
		return p.ProcessXMLBytes(ctx, data)
	case FormatPDF:
		return p.ProcessPDF(ctx, data)
	case FormatImage:
		if mimeType == "" {
			mimeType = detectMimeType(data)
		}
		return p.ProcessImage(ctx, data, mimeType)
	case FormatText:
		return p.ProcessText(ctx, string(data))
	}
	return &Result{Error: errors.New("unsupported input format")}
}

// ProcessXML parses a CII or UBL document
func (p *Pipeline) ProcessXML(ctx context.Context, r io.Reader) *Result {
	data, err := io.ReadAll(r)
	if err != nil {
		return &Result{Method: MethodXML, Error: fmt.Errorf("XML parsing failed: %w", err)}
	}
	return p.ProcessXMLBytes(ctx, data)
}

// ProcessXMLBytes parses a CII or UBL document held in memory
func (p *Pipeline) ProcessXMLBytes(ctx context.Context, data []byte) *Result {
	inv, err := p.registry.Parse(ctx, data)
	if err != nil {
		return &Result{Method: MethodXML, Error: fmt.Errorf("XML parsing failed: %w", err)}
	}
	return newResult(inv, MethodXML)
}

// ProcessPDF reads the XML embedded in a Factur-X PDF
func (p *Pipeline) ProcessPDF(ctx context.Context, data []byte) *Result {
	inv, err := p.pdf.Extract(ctx, data)
	if err != nil {
		return &Result{Method: MethodPDFEmbedded, Error: fmt.Errorf("PDF parsing failed: %w", err)}
	}
	return newResult(inv, MethodPDFEmbedded)
}

// ProcessImage extracts a scanned invoice with the vision model
func (p *Pipeline) ProcessImage(ctx context.Context, data []byte, mimeType string) *Result {
	if p.llm == nil {
		return &Result{Method: MethodLLMVision, Error: ErrLLMNotConfigured}
	}
	inv, err := p.llm.ExtractImage(ctx, data, mimeType)
	if err != nil {
		return &Result{Method: MethodLLMVision, Error: err}
	}
	return newResult(inv, MethodLLMVision)
}

// ProcessText extracts an invoice from OCR or plain text
func (p *Pipeline) ProcessText(ctx context.Context, text string) *Result {
	if p.llm == nil {
		return &Result{Method: MethodLLMText, Error: ErrLLMNotConfigured}
	}
	inv, err := p.llm.ExtractText(ctx, text)
	if err != nil {
		return &Result{Method: MethodLLMText, Error: err}
	}
	return newResult(inv, MethodLLMText)
}

func newResult(inv *model.ExtractedInvoiceData, method ExtractionMethod) *Result {
	return &Result{
		Invoice:    inv,
		Method:     method,
		Confidence: inv.Confidence,
		Warnings:   append([]string(nil), inv.ExtractionIssues...),
	}
}

func detectMimeType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("II")), bytes.HasPrefix(data, []byte("MM")):
		return "image/tiff"
	}
	return "application/octet-stream"
}
