package call

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/internal/store"
)

// Webhook event types delivered by the voice provider.
const (
	EventCallStarted         = "call.started"
	EventTranscriptUpdated   = "transcript.updated"
	EventTranscriptPartial   = "transcript.partial"
	EventTranscriptCompleted = "transcript.completed"
	EventCallEnded           = "call.ended"
	EventCallFailed          = "call.failed"
)

// CostPerMinuteUSD is the flat per-minute estimate applied on call.ended.
const CostPerMinuteUSD = 0.05

// Event is the provider's webhook payload.
type Event struct {
	Type       string           `json:"type"`
	Call       *EventCall       `json:"call,omitempty"`
	Transcript *EventTranscript `json:"transcript,omitempty"`
}

// EventCall identifies the provider call an event belongs to.
type EventCall struct {
	ID           string  `json:"id"`
	Duration     float64 `json:"duration,omitempty"` // seconds
	RecordingURL string  `json:"recordingUrl,omitempty"`
}

// EventTranscript carries transcript text for transcript events.
type EventTranscript struct {
	Text string `json:"text"`
}

// Machine applies provider events to stored call and lead state. Events are
// applied in delivery order; the provider is trusted to deliver in lifecycle
// order.
type Machine struct {
	store         store.Store
	classifier    Classifier
	costPerMinute float64
}

// MachineOption customizes a Machine.
type MachineOption func(*Machine)

// WithCostPerMinute overrides the flat per-minute rate used for cost
// estimates. Non-positive rates are ignored.
func WithCostPerMinute(rate float64) MachineOption {
	return func(m *Machine) {
		if rate > 0 {
			m.costPerMinute = rate
		}
	}
}

// NewMachine creates a state machine backed by the given store and classifier.
func NewMachine(s store.Store, c Classifier, opts ...MachineOption) *Machine {
	m := &Machine{store: s, classifier: c, costPerMinute: CostPerMinuteUSD}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply processes one webhook event. Events referencing a provider call id the
// store does not know return an error. Unrecognized event types are logged and
// ignored.
func (m *Machine) Apply(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventCallStarted:
		return m.applyStarted(ctx, ev)
	case EventTranscriptUpdated, EventTranscriptPartial:
		// Partial transcripts are informational only.
		zap.L().Debug("partial transcript",
			zap.String("provider_call_id", eventCallID(ev)),
		)
		return nil
	case EventTranscriptCompleted:
		return m.applyTranscriptCompleted(ctx, ev)
	case EventCallEnded:
		return m.applyEnded(ctx, ev)
	case EventCallFailed:
		return m.applyFailed(ctx, ev)
	default:
		zap.L().Info("unhandled webhook event type", zap.String("type", ev.Type))
		return nil
	}
}

func (m *Machine) applyStarted(ctx context.Context, ev Event) error {
	id := eventCallID(ev)
	if id == "" {
		return nil
	}
	patch := store.CallPatch{
		Status:    statusPtr(model.CallStatusInProgress),
		StartedAt: int64Ptr(time.Now().UnixMilli()),
	}
	if _, err := m.store.UpdateCallByProviderID(ctx, id, patch); err != nil {
		return eris.Wrapf(err, "call: apply started for %s", id)
	}
	return nil
}

func (m *Machine) applyTranscriptCompleted(ctx context.Context, ev Event) error {
	id := eventCallID(ev)
	if id == "" || ev.Transcript == nil || ev.Transcript.Text == "" {
		return nil
	}
	transcript := ev.Transcript.Text

	c, err := m.store.GetCallByProviderID(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "call: apply transcript for %s", id)
	}

	res := m.classifier.Classify(ctx, transcript)

	applied, err := m.store.SetCallOutcome(ctx, c.ID, res.Outcome, res.Summary, transcript)
	if err != nil {
		return eris.Wrapf(err, "call: set outcome for %s", id)
	}
	if !applied {
		zap.L().Info("outcome already recorded, skipping",
			zap.String("provider_call_id", id),
		)
		return nil
	}

	l, err := m.store.GetLead(ctx, c.LeadID)
	if err != nil {
		return eris.Wrapf(err, "call: load lead %s", c.LeadID)
	}
	status := model.LeadStatusForOutcome(res.Outcome)
	if !l.Status.CanTransition(status) {
		zap.L().Info("lead status unchanged, transition not allowed",
			zap.String("lead_id", c.LeadID),
			zap.String("from", string(l.Status)),
			zap.String("to", string(status)),
		)
		return nil
	}
	if err := m.store.UpdateLeadStatus(ctx, c.LeadID, status); err != nil {
		return eris.Wrapf(err, "call: update lead %s status", c.LeadID)
	}
	return nil
}

func (m *Machine) applyEnded(ctx context.Context, ev Event) error {
	id := eventCallID(ev)
	if id == "" {
		return nil
	}
	c, err := m.store.GetCallByProviderID(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "call: apply ended for %s", id)
	}
	if c.Status.Terminal() {
		zap.L().Info("call already terminal, ignoring ended event",
			zap.String("provider_call_id", id),
		)
		return nil
	}
	patch := store.CallPatch{
		Status:  statusPtr(model.CallStatusEnded),
		EndedAt: int64Ptr(time.Now().UnixMilli()),
	}
	if ev.Call.RecordingURL != "" {
		patch.RecordingURL = &ev.Call.RecordingURL
	}
	if ev.Call.Duration > 0 {
		cost := estimateCost(ev.Call.Duration, m.costPerMinute)
		patch.CostUSD = &cost
	}
	if _, err := m.store.UpdateCallByProviderID(ctx, id, patch); err != nil {
		return eris.Wrapf(err, "call: apply ended for %s", id)
	}
	return nil
}

func (m *Machine) applyFailed(ctx context.Context, ev Event) error {
	id := eventCallID(ev)
	if id == "" {
		return nil
	}
	c, err := m.store.GetCallByProviderID(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "call: apply failed for %s", id)
	}
	if c.Status.Terminal() {
		zap.L().Info("call already terminal, ignoring failed event",
			zap.String("provider_call_id", id),
		)
		return nil
	}
	patch := store.CallPatch{
		Status:  statusPtr(model.CallStatusFailed),
		EndedAt: int64Ptr(time.Now().UnixMilli()),
	}
	if _, err := m.store.UpdateCallByProviderID(ctx, id, patch); err != nil {
		return eris.Wrapf(err, "call: apply failed for %s", id)
	}
	return nil
}

// estimateCost converts a call duration in seconds to a flat-rate dollar cost
// rounded to cents.
func estimateCost(durationSecs, ratePerMinute float64) float64 {
	minutes := durationSecs / 60
	return math.Round(minutes*ratePerMinute*100) / 100
}

func eventCallID(ev Event) string {
	if ev.Call == nil {
		return ""
	}
	return ev.Call.ID
}

func statusPtr(s model.CallStatus) *model.CallStatus { return &s }
func int64Ptr(v int64) *int64                        { return &v }
