package call

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type fixture struct {
	business model.Business
	lead     model.Lead
	call     model.Call
}

func seedCall(t *testing.T, s store.Store) fixture {
	t.Helper()
	ctx := context.Background()

	b, err := s.CreateBusiness(ctx, model.Business{
		SourceURL:   "https://acmeplumbing.example",
		Name:        "Acme Plumbing",
		Category:    "Plumbing Services",
		ServiceArea: []string{"Brooklyn"},
		ICP:         "restaurant",
		USP:         "Same-day emergency repairs",
	})
	require.NoError(t, err)

	l, err := s.UpsertLead(ctx, model.Lead{
		BusinessID: b.ID,
		Provider:   "places",
		Name:       "Joe's Pizza",
		Category:   "restaurant",
		Phone:      "(718) 555-0100",
		Address:    "123 Main St",
		City:       "Brooklyn",
		State:      "NY",
		DedupKey:   "phone_7185550100",
		Status:     model.LeadStatusCalling,
		Score:      80,
	})
	require.NoError(t, err)

	c, err := s.CreateCall(ctx, model.Call{
		BusinessID:     b.ID,
		LeadID:         l.ID,
		ProviderCallID: "vapi_call_1",
		Status:         model.CallStatusInitiated,
	})
	require.NoError(t, err)

	return fixture{business: *b, lead: *l, call: *c}
}

func TestApplyCallStarted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	fx := seedCall(t, s)
	m := NewMachine(s, NewOutcomeClassifier(nil, ""))

	err := m.Apply(ctx, Event{Type: EventCallStarted, Call: &EventCall{ID: "vapi_call_1"}})
	require.NoError(t, err)

	got, err := s.GetCall(ctx, fx.call.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusInProgress, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestApplyUnknownProviderCallSurfacesNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	seedCall(t, s)
	m := NewMachine(s, NewOutcomeClassifier(nil, ""))

	err := m.Apply(ctx, Event{Type: EventCallStarted, Call: &EventCall{ID: "no_such_call"}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = m.Apply(ctx, Event{
		Type:       EventTranscriptCompleted,
		Call:       &EventCall{ID: "no_such_call"},
		Transcript: &EventTranscript{Text: "hello"},
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplyTranscriptCompletedSetsOutcomeAndLeadStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	fx := seedCall(t, s)
	m := NewMachine(s, NewOutcomeClassifier(nil, ""))

	err := m.Apply(ctx, Event{
		Type:       EventTranscriptCompleted,
		Call:       &EventCall{ID: "vapi_call_1"},
		Transcript: &EventTranscript{Text: "Sounds great, we are interested, tell me more."},
	})
	require.NoError(t, err)

	got, err := s.GetCall(ctx, fx.call.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInterested, got.Outcome)
	assert.Contains(t, got.Transcript, "tell me more")
	assert.NotEmpty(t, got.Summary)

	l, err := s.GetLead(ctx, fx.lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusReached, l.Status)
}

func TestApplyTranscriptCompletedDuplicateDeliveryIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	fx := seedCall(t, s)
	m := NewMachine(s, NewOutcomeClassifier(nil, ""))

	first := Event{
		Type:       EventTranscriptCompleted,
		Call:       &EventCall{ID: "vapi_call_1"},
		Transcript: &EventTranscript{Text: "we are interested"},
	}
	require.NoError(t, m.Apply(ctx, first))

	// Re-delivery with different text must not overwrite the recorded outcome.
	second := first
	second.Transcript = &EventTranscript{Text: "please remove us from your list"}
	require.NoError(t, m.Apply(ctx, second))

	got, err := s.GetCall(ctx, fx.call.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInterested, got.Outcome)
	assert.Equal(t, "we are interested", got.Transcript)

	l, err := s.GetLead(ctx, fx.lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusReached, l.Status)
}

func TestApplyOutcomeLeadStatusMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := []struct {
		transcript string
		wantStatus model.LeadStatus
	}{
		{"we are interested", model.LeadStatusReached},
		{"call back next week", model.LeadStatusReached},
		{"please remove us", model.LeadStatusDoNotCall},
		{"left a message on their voicemail", model.LeadStatusNoAnswer},
		{"dial tone only", model.LeadStatusNoAnswer},
	}

	for _, tc := range cases {
		t.Run(tc.transcript, func(t *testing.T) {
			t.Parallel()

			s := newTestStore(t)
			fx := seedCall(t, s)
			m := NewMachine(s, NewOutcomeClassifier(nil, ""))

			err := m.Apply(ctx, Event{
				Type:       EventTranscriptCompleted,
				Call:       &EventCall{ID: "vapi_call_1"},
				Transcript: &EventTranscript{Text: tc.transcript},
			})
			require.NoError(t, err)

			l, err := s.GetLead(ctx, fx.lead.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, l.Status)
		})
	}
}

func TestApplyTranscriptCompletedNeverRevivesDoNotCallLead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	fx := seedCall(t, s)
	m := NewMachine(s, NewOutcomeClassifier(nil, ""))

	err := m.Apply(ctx, Event{
		Type:       EventTranscriptCompleted,
		Call:       &EventCall{ID: "vapi_call_1"},
		Transcript: &EventTranscript{Text: "please remove us from your list"},
	})
	require.NoError(t, err)

	l, err := s.GetLead(ctx, fx.lead.ID)
	require.NoError(t, err)
	require.Equal(t, model.LeadStatusDoNotCall, l.Status)

	// A later call for the same lead classifies as interested; its outcome is
	// recorded but the lead stays off the call list.
	c2, err := s.CreateCall(ctx, model.Call{
		BusinessID:     fx.business.ID,
		LeadID:         fx.lead.ID,
		ProviderCallID: "vapi_call_2",
		Status:         model.CallStatusInitiated,
	})
	require.NoError(t, err)

	err = m.Apply(ctx, Event{
		Type:       EventTranscriptCompleted,
		Call:       &EventCall{ID: "vapi_call_2"},
		Transcript: &EventTranscript{Text: "we are interested, tell me more"},
	})
	require.NoError(t, err)

	got, err := s.GetCall(ctx, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInterested, got.Outcome)

	l, err = s.GetLead(ctx, fx.lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusDoNotCall, l.Status)
}

func TestApplyCallEndedComputesCost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	fx := seedCall(t, s)
	m := NewMachine(s, NewOutcomeClassifier(nil, ""))

	err := m.Apply(ctx, Event{
		Type: EventCallEnded,
		Call: &EventCall{
			ID:           "vapi_call_1",
			Duration:     90,
			RecordingURL: "https://recordings.example/1.mp3",
		},
	})
	require.NoError(t, err)

	got, err := s.GetCall(ctx, fx.call.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusEnded, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, "https://recordings.example/1.mp3", got.RecordingURL)
	assert.InDelta(t, 0.08, got.CostUSD, 1e-9)
}

func TestApplyCallFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	fx := seedCall(t, s)
	m := NewMachine(s, NewOutcomeClassifier(nil, ""))

	err := m.Apply(ctx, Event{Type: EventCallFailed, Call: &EventCall{ID: "vapi_call_1"}})
	require.NoError(t, err)

	got, err := s.GetCall(ctx, fx.call.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusFailed, got.Status)
	require.NotNil(t, got.EndedAt)
}

func TestApplyUnknownEventTypeIgnored(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	m := NewMachine(s, NewOutcomeClassifier(nil, ""))

	err := m.Apply(context.Background(), Event{Type: "speech.interrupted", Call: &EventCall{ID: "x"}})
	assert.NoError(t, err)
}

func TestApplyPartialTranscriptIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	fx := seedCall(t, s)
	m := NewMachine(s, NewOutcomeClassifier(nil, ""))

	err := m.Apply(ctx, Event{
		Type:       EventTranscriptPartial,
		Call:       &EventCall{ID: "vapi_call_1"},
		Transcript: &EventTranscript{Text: "hello is"},
	})
	require.NoError(t, err)

	got, err := s.GetCall(ctx, fx.call.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Transcript)
}

func TestApplyMissingCallIDIgnored(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	m := NewMachine(s, NewOutcomeClassifier(nil, ""))

	assert.NoError(t, m.Apply(context.Background(), Event{Type: EventCallStarted}))
	assert.NoError(t, m.Apply(context.Background(), Event{Type: EventCallEnded}))
}

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	cases := []struct {
		secs float64
		want float64
	}{
		{0, 0},
		{60, 0.05},
		{90, 0.08},
		{600, 0.5},
		{30, 0.03},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, estimateCost(tc.secs, CostPerMinuteUSD), 1e-9, "duration %v", tc.secs)
	}
}

func TestApplyCallEndedUsesConfiguredRate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	fx := seedCall(t, s)
	m := NewMachine(s, NewOutcomeClassifier(nil, ""), WithCostPerMinute(0.12))

	err := m.Apply(ctx, Event{
		Type: EventCallEnded,
		Call: &EventCall{ID: "vapi_call_1", Duration: 120},
	})
	require.NoError(t, err)

	got, err := s.GetCall(ctx, fx.call.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.24, got.CostUSD, 1e-9)
}

func TestApplyFailedAfterEndedIsIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	fx := seedCall(t, s)
	m := NewMachine(s, NewOutcomeClassifier(nil, ""))

	err := m.Apply(ctx, Event{
		Type: EventCallEnded,
		Call: &EventCall{ID: "vapi_call_1", Duration: 60},
	})
	require.NoError(t, err)

	// A late failed event must not overwrite the terminal state.
	err = m.Apply(ctx, Event{Type: EventCallFailed, Call: &EventCall{ID: "vapi_call_1"}})
	require.NoError(t, err)

	got, err := s.GetCall(ctx, fx.call.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusEnded, got.Status)
	assert.InDelta(t, 0.05, got.CostUSD, 1e-9)
}
