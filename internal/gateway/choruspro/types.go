package choruspro

import (
	"github.com/shopspring/decimal"

	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/model"
)

// API paths on the PISTE gateway
const (
	PathSubmit  = "/cpro/factures/v1/soumettreFacture"
	PathStatus  = "/cpro/factures/v1/consulterStatutFacture"
	PathRules   = "/cpro/factures/v1/obtenirReglesValidation"
	PathReceipt = "/cpro/factures/v1/telechargerAccuseReception/"
	PathCancel  = "/cpro/factures/v1/annulerFacture"
)

// Chorus Pro invoice statuses
const (
	StatusDeposited  = "DEPOSE"
	StatusProcessing = "EN_COURS_DE_TRAITEMENT"
	StatusValidated  = "VALIDE"
	StatusRejected   = "REJETE"
	StatusBooked     = "COMPTABILISE"
	StatusSettled    = "SOLDE"
)

// StatusMap maps Chorus Pro statuses to canonical ones. Unknown codes map to pending.
var StatusMap = gateway.StatusMap{
	StatusDeposited:  model.TransmissionSubmitted,
	StatusProcessing: model.TransmissionPending,
	StatusValidated:  model.TransmissionDelivered,
	StatusRejected:   model.TransmissionRejected,
	StatusBooked:     model.TransmissionAcknowledged,
	StatusSettled:    model.TransmissionAcknowledged,
}

// MapStatus converts a Chorus Pro status into the canonical vocabulary
func MapStatus(s string) model.TransmissionStatus {
	return StatusMap.Map(s)
}

// Rules are the server-advertised submission constraints
type Rules struct {
	MaxAmount       decimal.Decimal `json:"max_amount"`
	Currencies      []string        `json:"currencies"`
	Formats         []string        `json:"formats"`
	MaxFileSize     int64           `json:"max_file_size"`
	MandatoryFields []string        `json:"mandatory_fields,omitempty"`
	Fallback        bool            `json:"fallback"`
}

// DefaultRules is used when obtenirReglesValidation is unreachable
func DefaultRules() Rules {
	return Rules{
		MaxAmount:   decimal.NewFromInt(1_000_000),
		Currencies:  []string{"EUR"},
		Formats:     []string{"PDF", "XML"},
		MaxFileSize: 10 * 1024 * 1024,
		Fallback:    true,
	}
}

// Wire shapes. Chorus Pro answers with codeRetour 0 on success.

type rulesResponse struct {
	CodeRetour         int             `json:"codeRetour"`
	Libelle            string          `json:"libelle"`
	MontantMaximum     decimal.Decimal `json:"montantMaximum"`
	DevisesAcceptees   []string        `json:"devisesAcceptees"`
	FormatsAcceptes    []string        `json:"formatsAcceptes"`
	TailleMaximale     int64           `json:"tailleMaximaleFichier"`
	ChampsObligatoires []string        `json:"champsObligatoires"`
}

type submitResponse struct {
	CodeRetour            int    `json:"codeRetour"`
	Libelle               string `json:"libelle"`
	IdentifiantFactureCPP int64  `json:"identifiantFactureCPP"`
	NumeroFluxDepot       string `json:"numeroFluxDepot"`
	DateDepot             string `json:"dateDepot"`
	StatutFacture         string `json:"statutFacture"`
	DestinataireNom       string `json:"destinataireNom"`
}

type invoiceRef struct {
	IdentifiantFactureCPP string `json:"identifiantFactureCPP"`
	Motif                 string `json:"motif,omitempty"`
}

type statusEntry struct {
	Statut      string `json:"statut"`
	DateStatut  string `json:"dateStatut"`
	Commentaire string `json:"commentaire"`
}

type statusResponse struct {
	CodeRetour        int           `json:"codeRetour"`
	Libelle           string        `json:"libelle"`
	StatutCourant     statusEntry   `json:"statutCourant"`
	HistoriqueStatuts []statusEntry `json:"historiqueStatuts"`
}

type basicResponse struct {
	CodeRetour int    `json:"codeRetour"`
	Libelle    string `json:"libelle"`
}

// errorResponse is the body of non-2xx answers
type errorResponse struct {
	CodeRetour int    `json:"codeRetour"`
	Libelle    string `json:"libelle"`
	Champ      string `json:"champ"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}
