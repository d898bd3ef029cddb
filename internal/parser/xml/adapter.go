package xml

import (
	"bytes"
	"context"
	"io"

	"github.com/rezonia/facturx-gateway/internal/model"
)

// Syntax names a structured invoice syntax
type Syntax string

const (
	SyntaxCII     Syntax = "cii"
	SyntaxUBL     Syntax = "ubl"
	SyntaxUnknown Syntax = "unknown"
)

// Adapter parses one XML invoice syntax into ExtractedInvoiceData
type Adapter interface {
	// Parse parses XML content into the canonical record
	Parse(ctx context.Context, r io.Reader) (*model.ExtractedInvoiceData, error)

	// CanParse returns true if adapter can handle this content
	CanParse(content []byte) bool

	// Syntax returns the syntax handled
	Syntax() Syntax
}

// Registry holds all registered adapters
type Registry struct {
	adapters []Adapter
}

// NewRegistry creates registry with all adapters
func NewRegistry() *Registry {
	return &Registry{
		adapters: []Adapter{
			NewCIIAdapter(), // Factur-X / ZUGFeRD
			NewUBLAdapter(), // PEPPOL BIS Billing
		},
	}
}

// Detect identifies the syntax of XML content
func (r *Registry) Detect(content []byte) (Adapter, error) {
	for _, a := range r.adapters {
		if a.CanParse(content) {
			return a, nil
		}
	}
	return nil, model.NewParseError(string(SyntaxUnknown), "root", "unknown XML format, no matching adapter found", nil)
}

// Parse parses XML using appropriate adapter
func (r *Registry) Parse(ctx context.Context, content []byte) (*model.ExtractedInvoiceData, error) {
	adapter, err := r.Detect(content)
	if err != nil {
		return nil, err
	}
	return adapter.Parse(ctx, bytes.NewReader(content))
}

// RegisterAdapter adds a custom adapter to the registry
func (r *Registry) RegisterAdapter(a Adapter) {
	// Custom adapters take priority
	r.adapters = append([]Adapter{a}, r.adapters...)
}

// GetAdapter returns adapter for a specific syntax
func (r *Registry) GetAdapter(syntax Syntax) Adapter {
	for _, a := range r.adapters {
		if a.Syntax() == syntax {
			return a
		}
	}
	return nil
}
