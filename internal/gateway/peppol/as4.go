package peppol

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	dsig "github.com/russellhaering/goxmldsig"
)

// ebMS3 namespaces and fixed values
const (
	SOAPNamespace  = "http://www.w3.org/2003/05/soap-envelope"
	EbMSNamespace  = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/"
	PartyIDType    = "urn:fdc:peppol.eu:2017:identifiers:ap"
	RoleInitiator  = EbMSNamespace + "initiator"
	RoleResponder  = EbMSNamespace + "responder"
	payloadContent = "invoice@facturx-gateway"
	messageIDHost  = "@facturx-gateway"
)

// Envelope carries the ebMS3 user message fields that must survive any
// change of AS4 stack.
type Envelope struct {
	MessageID      string
	ConversationID string
	Timestamp      time.Time
	From           string
	To             string
	Service        string
	ServiceType    string
	Action         string
	OriginalSender string
	FinalRecipient string
	Payload        []byte
	PayloadMIME    string
}

// NewEnvelope fills a fresh message id, conversation id and timestamp
func NewEnvelope(now time.Time) *Envelope {
	return &Envelope{
		MessageID:      uuid.NewString() + messageIDHost,
		ConversationID: uuid.NewString(),
		Timestamp:      now.UTC(),
		ServiceType:    ProcessScheme,
		PayloadMIME:    "application/xml",
	}
}

// Document renders the envelope as a SOAP 1.2 document
func (e *Envelope) Document() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("env:Envelope")
	env.CreateAttr("xmlns:env", SOAPNamespace)
	env.CreateAttr("xmlns:eb", EbMSNamespace)
	env.CreateAttr("ID", "_"+strings.TrimSuffix(e.MessageID, messageIDHost))

	user := env.CreateElement("env:Header").
		CreateElement("eb:Messaging").
		CreateElement("eb:UserMessage")

	info := user.CreateElement("eb:MessageInfo")
	info.CreateElement("eb:Timestamp").SetText(e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"))
	info.CreateElement("eb:MessageId").SetText(e.MessageID)

	party := user.CreateElement("eb:PartyInfo")
	addParty(party.CreateElement("eb:From"), e.From, RoleInitiator)
	addParty(party.CreateElement("eb:To"), e.To, RoleResponder)

	collab := user.CreateElement("eb:CollaborationInfo")
	svc := collab.CreateElement("eb:Service")
	svc.CreateAttr("type", e.ServiceType)
	svc.SetText(e.Service)
	collab.CreateElement("eb:Action").SetText(e.Action)
	collab.CreateElement("eb:ConversationId").SetText(e.ConversationID)

	props := user.CreateElement("eb:MessageProperties")
	addProperty(props, "originalSender", ParticipantScheme, e.OriginalSender)
	addProperty(props, "finalRecipient", ParticipantScheme, e.FinalRecipient)

	part := user.CreateElement("eb:PayloadInfo").CreateElement("eb:PartInfo")
	part.CreateAttr("href", "cid:"+payloadContent)
	addProperty(part.CreateElement("eb:PartProperties"), "MimeType", "", e.PayloadMIME)

	payload := env.CreateElement("env:Body").CreateElement("eb:Payload")
	payload.CreateAttr("contentId", payloadContent)
	payload.CreateAttr("encoding", "base64")
	payload.SetText(base64.StdEncoding.EncodeToString(e.Payload))

	return doc
}

func addParty(el *etree.Element, id, role string) {
	p := el.CreateElement("eb:PartyId")
	p.CreateAttr("type", PartyIDType)
	p.SetText(id)
	el.CreateElement("eb:Role").SetText(role)
}

func addProperty(parent *etree.Element, name, typ, value string) {
	p := parent.CreateElement("eb:Property")
	p.CreateAttr("name", name)
	if typ != "" {
		p.CreateAttr("type", typ)
	}
	p.SetText(value)
}

// Bytes serialises the envelope, signing it first when signer is not nil
func (e *Envelope) Bytes(signer *Signer) ([]byte, error) {
	doc := e.Document()
	if signer != nil {
		signed, err := signer.Sign(doc.Root())
		if err != nil {
			return nil, fmt.Errorf("sign envelope: %w", err)
		}
		doc.SetRoot(signed)
	}
	return doc.WriteToBytes()
}

// ParseEnvelope reads back the user message fields of an envelope
func ParseEnvelope(data []byte) (*Envelope, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	user := doc.FindElement("//UserMessage")
	if user == nil {
		return nil, fmt.Errorf("parse envelope: no UserMessage")
	}

	e := &Envelope{
		MessageID:      textOf(user.FindElement("./MessageInfo/MessageId")),
		From:           textOf(user.FindElement("./PartyInfo/From/PartyId")),
		To:             textOf(user.FindElement("./PartyInfo/To/PartyId")),
		Service:        textOf(user.FindElement("./CollaborationInfo/Service")),
		Action:         textOf(user.FindElement("./CollaborationInfo/Action")),
		ConversationID: textOf(user.FindElement("./CollaborationInfo/ConversationId")),
	}
	if svc := user.FindElement("./CollaborationInfo/Service"); svc != nil {
		e.ServiceType = svc.SelectAttrValue("type", "")
	}
	if ts, err := time.Parse(time.RFC3339, textOf(user.FindElement("./MessageInfo/Timestamp"))); err == nil {
		e.Timestamp = ts
	}
	for _, p := range user.FindElements("./MessageProperties/Property") {
		switch p.SelectAttrValue("name", "") {
		case "originalSender":
			e.OriginalSender = textOf(p)
		case "finalRecipient":
			e.FinalRecipient = textOf(p)
		}
	}
	if mime := user.FindElement("./PayloadInfo/PartInfo/PartProperties/Property[@name='MimeType']"); mime != nil {
		e.PayloadMIME = textOf(mime)
	}
	if body := doc.FindElement("//Body/Payload"); body != nil {
		payload, err := base64.StdEncoding.DecodeString(textOf(body))
		if err != nil {
			return nil, fmt.Errorf("parse envelope payload: %w", err)
		}
		e.Payload = payload
	}
	return e, nil
}

// Signer adds an enveloped XMLDSig signature to outgoing envelopes
type Signer struct {
	keys dsig.X509KeyStore
}

// NewSigner creates a signer from a key store
func NewSigner(keys dsig.X509KeyStore) *Signer {
	return &Signer{keys: keys}
}

// LoadSigner reads an RSA certificate and key pair from PEM files
func LoadSigner(certFile, keyFile string) (*Signer, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load signing key pair: %w", err)
	}
	return NewSigner(dsig.TLSCertKeyStore(pair)), nil
}

// Sign returns a signed copy of el
func (s *Signer) Sign(el *etree.Element) (*etree.Element, error) {
	ctx := dsig.NewDefaultSigningContext(s.keys)
	return ctx.SignEnveloped(el)
}
