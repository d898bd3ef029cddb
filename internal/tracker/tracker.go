package tracker

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rezonia/facturx-gateway/internal/model"
)

// DefaultStallThreshold is used by IsStalled when no threshold is given
const DefaultStallThreshold = 24 * time.Hour

// Auto-transition thresholds applied by UpdateComplianceScore.
// Scores in [AutoReject, AutoCompliant) leave the status unchanged.
const (
	DefaultAutoCompliantScore = 90
	DefaultAutoRejectScore    = 50
)

// createdMessage is the history message of the initial entry
const createdMessage = "Facture créée"

// Thresholds for the compliance-score hook
type Thresholds struct {
	AutoCompliant int // score >= AutoCompliant moves validated -> compliant
	AutoReject    int // score < AutoReject moves validated -> rejected
}

// DefaultThresholds returns the standard auto-transition thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoCompliant: DefaultAutoCompliantScore,
		AutoReject:    DefaultAutoRejectScore,
	}
}

// Tracker owns the lifecycle of one invoice. All methods are safe for
// concurrent use; each transition check-and-append is atomic.
type Tracker struct {
	mu         sync.Mutex
	data       model.InvoiceTrackingData
	now        func() time.Time
	thresholds Thresholds
}

// TrackerOption configures a tracker
type TrackerOption func(*Tracker)

// WithClock overrides the time source
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithThresholds overrides the compliance-score thresholds
func WithThresholds(th Thresholds) TrackerOption {
	return func(t *Tracker) {
		t.thresholds = th
	}
}

func newTracker(opts []TrackerOption) *Tracker {
	t := &Tracker{
		now:        func() time.Time { return time.Now().UTC() },
		thresholds: DefaultThresholds(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// New creates a tracker in draft status with the creation history entry
func New(id string, opts ...TrackerOption) *Tracker {
	t := newTracker(opts)
	now := t.now()
	t.data = model.InvoiceTrackingData{
		ID:        id,
		Status:    model.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
		History: []model.StatusHistoryEntry{{
			Status:    model.StatusDraft,
			Timestamp: now,
			Message:   createdMessage,
		}},
	}
	return t
}

// Restore rebuilds a tracker from a persisted record
func Restore(data model.InvoiceTrackingData, opts ...TrackerOption) *Tracker {
	t := newTracker(opts)
	t.data = cloneData(data)
	return t
}

// ID returns the invoice id
func (t *Tracker) ID() string {
	return t.data.ID
}

// Status returns the current status
func (t *Tracker) Status() model.InvoiceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.Status
}

// TransitionTo moves the invoice to status and appends a history entry.
// An illegal transition returns *model.InvalidTransitionError and leaves
// the tracker untouched.
func (t *Tracker) TransitionTo(status model.InvoiceStatus, message string, metadata map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(status, message, metadata)
}

func (t *Tracker) transitionLocked(status model.InvoiceStatus, message string, metadata map[string]string) error {
	if !CanTransition(t.data.Status, status) {
		return model.NewInvalidTransitionError(t.data.ID, t.data.Status, status)
	}

	now := t.now()
	t.data.History = append(t.data.History, model.StatusHistoryEntry{
		Status:    status,
		Timestamp: now,
		Message:   message,
		Metadata:  cloneMetadata(metadata),
	})
	t.data.Status = status
	t.data.UpdatedAt = now
	return nil
}

// UpdateComplianceScore stores the score and, when the invoice is in
// validated, moves it to compliant (score >= 90) or rejected (score < 50).
// Returns true when a transition happened.
func (t *Tracker) UpdateComplianceScore(score int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyScoreLocked(score)
}

func (t *Tracker) applyScoreLocked(score int) bool {
	t.data.ComplianceScore = &score

	if t.data.Status != model.StatusValidated {
		return false
	}

	meta := map[string]string{"score": strconv.Itoa(score)}
	switch {
	case score >= t.thresholds.AutoCompliant:
		return t.transitionLocked(model.StatusCompliant, "Score de conformité suffisant", meta) == nil
	case score < t.thresholds.AutoReject:
		return t.transitionLocked(model.StatusRejected, "Score de conformité insuffisant", meta) == nil
	}
	return false
}

// RecordVerdict stores counters from a compliance verdict and applies the
// score hook. Returns true when a transition happened.
func (t *Tracker) RecordVerdict(v model.ComplianceVerdict) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.ErrorCount = v.ErrorCount()
	t.data.WarningCount = v.WarningCount()
	return t.applyScoreLocked(v.Score)
}

// AddTag attaches a free-form tag once
func (t *Tracker) AddTag(tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.data.Tags {
		if existing == tag {
			return
		}
	}
	t.data.Tags = append(t.data.Tags, tag)
}

// History returns a copy of the audit trail
func (t *Tracker) History() []model.StatusHistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneHistory(t.data.History)
}

// Snapshot returns a deep copy of the tracking record
func (t *Tracker) Snapshot() model.InvoiceTrackingData {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneData(t.data)
}

// CompletionPercentage is the position of the current status on the happy
// path, from 0 (draft) to 100 (archived). Error and rejected report 0.
func (t *Tracker) CompletionPercentage() int {
	status := t.Status()
	for i, s := range happyPath {
		if s == status {
			return int(math.Round(float64(i) * 100 / float64(len(happyPath)-1)))
		}
	}
	return 0
}

// TimeInCurrentStatus returns the time elapsed since the last transition
func (t *Tracker) TimeInCurrentStatus() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.data.UpdatedAt)
}

// IsStalled reports whether a non-terminal invoice has stayed in its status
// longer than threshold. A non-positive threshold uses DefaultStallThreshold.
func (t *Tracker) IsStalled(threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultStallThreshold
	}
	if IsTerminal(t.Status()) {
		return false
	}
	return t.TimeInCurrentStatus() > threshold
}

func cloneData(d model.InvoiceTrackingData) model.InvoiceTrackingData {
	out := d
	out.History = cloneHistory(d.History)
	if d.ComplianceScore != nil {
		score := *d.ComplianceScore
		out.ComplianceScore = &score
	}
	if d.Tags != nil {
		out.Tags = append([]string(nil), d.Tags...)
	}
	return out
}

func cloneHistory(h []model.StatusHistoryEntry) []model.StatusHistoryEntry {
	out := make([]model.StatusHistoryEntry, len(h))
	for i, e := range h {
		out[i] = e
		out[i].Metadata = cloneMetadata(e.Metadata)
	}
	return out
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
