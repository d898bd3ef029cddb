package tracker

import "github.com/rezonia/facturx-gateway/internal/model"

// allowed is the legal transition table. Anything not listed is rejected.
var allowed = map[model.InvoiceStatus][]model.InvoiceStatus{
	model.StatusDraft:     {model.StatusExtracted, model.StatusError},
	model.StatusExtracted: {model.StatusValidated, model.StatusError, model.StatusRejected},
	model.StatusValidated: {model.StatusCompliant, model.StatusRejected, model.StatusError},
	model.StatusCompliant: {model.StatusExported, model.StatusValidated, model.StatusRejected},
	model.StatusExported:  {model.StatusSent, model.StatusValidated},
	model.StatusSent:      {model.StatusReceived, model.StatusError},
	model.StatusReceived:  {model.StatusPaid, model.StatusError},
	model.StatusPaid:      {model.StatusArchived},
	model.StatusArchived:  {},
	model.StatusError:     {model.StatusDraft, model.StatusExtracted, model.StatusValidated},
	model.StatusRejected:  {model.StatusDraft, model.StatusExtracted, model.StatusValidated},
}

// happyPath orders the states of an invoice that goes through without incident
var happyPath = []model.InvoiceStatus{
	model.StatusDraft,
	model.StatusExtracted,
	model.StatusValidated,
	model.StatusCompliant,
	model.StatusExported,
	model.StatusSent,
	model.StatusReceived,
	model.StatusPaid,
	model.StatusArchived,
}

// AllStatuses lists every lifecycle state
func AllStatuses() []model.InvoiceStatus {
	return []model.InvoiceStatus{
		model.StatusDraft,
		model.StatusExtracted,
		model.StatusValidated,
		model.StatusCompliant,
		model.StatusExported,
		model.StatusSent,
		model.StatusReceived,
		model.StatusPaid,
		model.StatusArchived,
		model.StatusError,
		model.StatusRejected,
	}
}

// IsKnownStatus reports whether s is a lifecycle state
func IsKnownStatus(s model.InvoiceStatus) bool {
	_, ok := allowed[s]
	return ok
}

// AllowedTransitions returns the states reachable from s
func AllowedTransitions(s model.InvoiceStatus) []model.InvoiceStatus {
	return append([]model.InvoiceStatus(nil), allowed[s]...)
}

// CanTransition reports whether from -> to is a legal transition
func CanTransition(from, to model.InvoiceStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions
func IsTerminal(s model.InvoiceStatus) bool {
	next, ok := allowed[s]
	return ok && len(next) == 0
}
