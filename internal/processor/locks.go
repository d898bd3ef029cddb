package processor

import (
	"sync"

	"github.com/rezonia/facturx-gateway/internal/model"
)

// invoiceLocks serialises lifecycle changes per invoice and remembers which
// invoices have a transmission on the wire. The per-id mutex is never held
// across a network call.
type invoiceLocks struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	inflight map[string]struct{}
}

func newInvoiceLocks() *invoiceLocks {
	return &invoiceLocks{
		locks:    make(map[string]*sync.Mutex),
		inflight: make(map[string]struct{}),
	}
}

// lock acquires the mutex of id and returns its release func
func (l *invoiceLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (l *invoiceLocks) begin(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight[id] = struct{}{}
}

func (l *invoiceLocks) end(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, id)
}

func (l *invoiceLocks) busy(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.inflight[id]
	return ok
}

// transmittedStatuses are the states in which the invoice content is frozen
var transmittedStatuses = map[model.InvoiceStatus]bool{
	model.StatusExported: true,
	model.StatusSent:     true,
	model.StatusReceived: true,
	model.StatusPaid:     true,
	model.StatusArchived: true,
}
