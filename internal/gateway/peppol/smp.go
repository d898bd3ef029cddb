package peppol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/patrickmn/go-cache"

	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/model"
)

// DefaultSMPCacheTTL bounds how long directory answers are reused
const DefaultSMPCacheTTL = 30 * time.Minute

var (
	// ErrParticipantNotFound means the SMP does not know the participant
	ErrParticipantNotFound = errors.New("participant not registered in SMP")
	// ErrDocumentTypeNotSupported means the participant does not accept the document type
	ErrDocumentTypeNotSupported = errors.New("document type not supported by recipient")
)

// Endpoint is one access point advertised for a process
type Endpoint struct {
	TransportProfile string
	Address          string
	Certificate      string // base64 DER
	ActivationDate   time.Time
	ExpirationDate   time.Time
	Description      string
	TechnicalContact string
}

// Active reports whether the endpoint is usable at t
func (e Endpoint) Active(t time.Time) bool {
	if !e.ActivationDate.IsZero() && t.Before(e.ActivationDate) {
		return false
	}
	if !e.ExpirationDate.IsZero() && t.After(e.ExpirationDate) {
		return false
	}
	return true
}

// Process lists the endpoints of one business process
type Process struct {
	ID        string
	Endpoints []Endpoint
}

// ServiceMetadata is what a participant advertises for one document type
type ServiceMetadata struct {
	ParticipantID string
	DocumentType  string
	Processes     []Process
}

// Endpoint selects an active endpoint for processID, preferring AS4
func (m *ServiceMetadata) Endpoint(processID string, at time.Time) (Endpoint, bool) {
	var fallback *Endpoint
	for _, p := range m.Processes {
		if processID != "" && p.ID != processID {
			continue
		}
		for i := range p.Endpoints {
			e := p.Endpoints[i]
			if !e.Active(at) {
				continue
			}
			if e.TransportProfile == TransportAS4 {
				return e, true
			}
			if fallback == nil {
				fallback = &e
			}
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Endpoint{}, false
}

// SMPClient resolves participants through a Service Metadata Publisher
type SMPClient struct {
	http  *gateway.HTTPClient
	cache *cache.Cache
}

// NewSMPClient creates an SMP client on top of h
func NewSMPClient(h *gateway.HTTPClient, ttl time.Duration) *SMPClient {
	if ttl <= 0 {
		ttl = DefaultSMPCacheTTL
	}
	return &SMPClient{http: h, cache: cache.New(ttl, 2*ttl)}
}

// ServiceGroup returns the document types a participant advertises, keyed
// to the URL of their signed metadata.
func (c *SMPClient) ServiceGroup(ctx context.Context, participantID string) (map[string]string, error) {
	key := "sg|" + participantID
	if v, ok := c.cache.Get(key); ok {
		return v.(map[string]string), nil
	}

	doc, err := c.fetch(ctx, "/"+ParticipantScheme+"::"+participantID)
	if err != nil {
		return nil, err
	}

	refs := make(map[string]string)
	for _, ref := range doc.FindElements("//ServiceMetadataReference") {
		href := ref.SelectAttrValue("href", "")
		if docType := documentTypeFromHref(href); docType != "" {
			refs[docType] = href
		}
	}

	c.cache.SetDefault(key, refs)
	return refs, nil
}

// Lookup resolves the metadata of participantID for documentType
func (c *SMPClient) Lookup(ctx context.Context, participantID, documentType string) (*ServiceMetadata, error) {
	key := "sm|" + participantID + "|" + documentType
	if v, ok := c.cache.Get(key); ok {
		return v.(*ServiceMetadata), nil
	}

	refs, err := c.ServiceGroup(ctx, participantID)
	if err != nil {
		return nil, err
	}
	href, ok := refs[documentType]
	if !ok {
		return nil, fmt.Errorf("%s: %w", participantID, ErrDocumentTypeNotSupported)
	}

	doc, err := c.fetch(ctx, href)
	if err != nil {
		return nil, err
	}
	meta, err := parseServiceMetadata(doc)
	if err != nil {
		return nil, err
	}
	if meta.DocumentType != "" && meta.DocumentType != documentType {
		return nil, fmt.Errorf("%s: %w", participantID, ErrDocumentTypeNotSupported)
	}

	c.cache.SetDefault(key, meta)
	return meta, nil
}

func (c *SMPClient) fetch(ctx context.Context, path string) (*etree.Document, error) {
	req, err := c.http.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.http.Do(req)
	var provErr *model.ProviderError
	if errors.As(err, &provErr) && provErr.StatusCode == http.StatusNotFound {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, model.NewParseError("smp", path, "invalid SMP document", err)
	}
	return doc, nil
}

func parseServiceMetadata(doc *etree.Document) (*ServiceMetadata, error) {
	info := doc.FindElement("//ServiceInformation")
	if info == nil {
		if doc.FindElement("//Redirect") != nil {
			return nil, model.NewParseError("smp", "Redirect", "SMP redirects are not followed", nil)
		}
		return nil, model.NewParseError("smp", "ServiceInformation", "missing service information", nil)
	}

	meta := &ServiceMetadata{
		ParticipantID: textOf(info.FindElement("./ParticipantIdentifier")),
		DocumentType:  textOf(info.FindElement("./DocumentIdentifier")),
	}
	for _, p := range info.FindElements("./ProcessList/Process") {
		proc := Process{ID: textOf(p.FindElement("./ProcessIdentifier"))}
		for _, e := range p.FindElements("./ServiceEndpointList/Endpoint") {
			proc.Endpoints = append(proc.Endpoints, Endpoint{
				TransportProfile: e.SelectAttrValue("transportProfile", ""),
				Address:          textOf(e.FindElement(".//Address")),
				Certificate:      textOf(e.FindElement("./Certificate")),
				ActivationDate:   parseSMPTime(textOf(e.FindElement("./ServiceActivationDate"))),
				ExpirationDate:   parseSMPTime(textOf(e.FindElement("./ServiceExpirationDate"))),
				Description:      textOf(e.FindElement("./ServiceDescription")),
				TechnicalContact: textOf(e.FindElement("./TechnicalContactUrl")),
			})
		}
		meta.Processes = append(meta.Processes, proc)
	}
	return meta, nil
}

// documentTypeFromHref extracts the document identifier from
// .../services/busdox-docid-qns::<id>
func documentTypeFromHref(href string) string {
	idx := strings.LastIndex(href, "/services/")
	if idx < 0 {
		return ""
	}
	raw, err := url.PathUnescape(href[idx+len("/services/"):])
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(raw, DocumentScheme+"::")
}

func textOf(e *etree.Element) string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.Text())
}

func parseSMPTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
