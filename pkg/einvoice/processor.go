package einvoice

import (
	"context"
	"fmt"
	"io"

	"github.com/rezonia/facturx-gateway/internal/compliance"
	"github.com/rezonia/facturx-gateway/internal/llm"
	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/processor"
)

// Options configures a Processor
type Options struct {
	Profile  Profile
	Category Category

	// LLM extraction of text and images is enabled when LLMAPIKey is set
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
}

// DefaultOptions returns strict B2B scoring without LLM extraction
func DefaultOptions() Options {
	return Options{
		Profile:    Strict(),
		Category:   CategoryB2B,
		LLMBaseURL: llm.DefaultBaseURL,
		LLMModel:   llm.ModelClaude35Sonnet,
	}
}

// ExtractionResult represents extraction result with metadata
type ExtractionResult struct {
	Invoice    *Invoice
	Confidence float64
	Method     string
	Warnings   []string
}

// Processor extracts and scores invoices
type Processor struct {
	pipeline *processor.Pipeline
	engine   *compliance.Engine
	options  Options
}

// NewProcessor creates a new invoice processor with the given options
func NewProcessor(opts Options) *Processor {
	if opts.Category == "" {
		opts.Category = CategoryB2B
	}
	engine := compliance.NewEngine(
		compliance.WithProfile(opts.Profile),
		compliance.WithCategory(opts.Category),
	)

	pipelineOpts := []processor.PipelineOption{processor.WithEngine(engine)}
	if opts.LLMAPIKey != "" {
		var clientOpts []llm.ClientOption
		if opts.LLMBaseURL != "" {
			clientOpts = append(clientOpts, llm.WithBaseURL(opts.LLMBaseURL))
		}
		if opts.LLMModel != "" {
			clientOpts = append(clientOpts, llm.WithDefaultModel(opts.LLMModel))
		}
		client := llm.NewClient(opts.LLMAPIKey, clientOpts...)
		pipelineOpts = append(pipelineOpts, processor.WithLLMExtractor(llm.NewExtractor(client)))
	}

	return &Processor{
		pipeline: processor.NewPipeline(pipelineOpts...),
		engine:   engine,
		options:  opts,
	}
}

// NewDefaultProcessor creates a processor with default options
func NewDefaultProcessor() *Processor {
	return NewProcessor(DefaultOptions())
}

// Extract reads a Factur-X PDF, CII or UBL XML, or with an LLM key plain
// text and images, into an invoice record
func (p *Processor) Extract(ctx context.Context, r io.Reader) (*ExtractionResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, model.NewExtractionError("read", "failed to read input", err)
	}

	result := p.pipeline.Process(ctx, data, "")
	if result.Error != nil {
		return nil, result.Error
	}

	return &ExtractionResult{
		Invoice:    result.Invoice,
		Confidence: result.Confidence,
		Method:     string(result.Method),
		Warnings:   result.Warnings,
	}, nil
}

// Score checks an invoice record. The invoice is not modified.
func (p *Processor) Score(inv *Invoice) ComplianceVerdict {
	return p.engine.Score(inv)
}

// Validate extracts and scores a document in one call
func (p *Processor) Validate(ctx context.Context, r io.Reader) (ComplianceVerdict, error) {
	extracted, err := p.Extract(ctx, r)
	if err != nil {
		return ComplianceVerdict{}, fmt.Errorf("extract: %w", err)
	}
	return p.Score(extracted.Invoice), nil
}

// Options returns the processor options
func (p *Processor) Options() Options {
	return p.options
}
