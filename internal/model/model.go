package model

import "time"

// LeadStatus represents where a lead sits in the outreach lifecycle.
// Transitions are forward-only: a do_not_call lead is never resurrected.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusQueued    LeadStatus = "queued"
	LeadStatusCalling   LeadStatus = "calling"
	LeadStatusReached   LeadStatus = "reached"
	LeadStatusNoAnswer  LeadStatus = "no_answer"
	LeadStatusDoNotCall LeadStatus = "do_not_call"
)

// leadStatusRank orders statuses for the forward-only transition check.
var leadStatusRank = map[LeadStatus]int{
	LeadStatusNew:       0,
	LeadStatusQueued:    1,
	LeadStatusCalling:   2,
	LeadStatusReached:   3,
	LeadStatusNoAnswer:  3,
	LeadStatusDoNotCall: 4,
}

// CanTransition reports whether a lead may move from its current status to
// next. Terminal do_not_call never transitions; equal-rank moves (e.g.
// reached -> no_answer) are rejected.
func (s LeadStatus) CanTransition(next LeadStatus) bool {
	if s == LeadStatusDoNotCall {
		return false
	}
	from, ok := leadStatusRank[s]
	if !ok {
		return false
	}
	to, ok := leadStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// CallStatus represents the provider-reported state of an outbound call.
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusEnded      CallStatus = "ended"
	CallStatusFailed     CallStatus = "failed"
)

// Terminal reports whether the call can no longer change status.
func (s CallStatus) Terminal() bool {
	return s == CallStatusEnded || s == CallStatusFailed
}

// CallOutcome is the classified result of an answered call. Empty until
// transcript analysis completes.
type CallOutcome string

const (
	OutcomeInterested    CallOutcome = "interested"
	OutcomeCallback      CallOutcome = "callback"
	OutcomeNotInterested CallOutcome = "not_interested"
	OutcomeVMLeft        CallOutcome = "vm_left"
	OutcomeNoAnswer      CallOutcome = "no_answer"
)

// LeadStatusForOutcome maps a call outcome onto the owning lead's status.
// Unknown outcomes default to no_answer so a provider surprise never strands
// a lead in queued/calling.
func LeadStatusForOutcome(o CallOutcome) LeadStatus {
	switch o {
	case OutcomeInterested, OutcomeCallback:
		return LeadStatusReached
	case OutcomeNotInterested:
		return LeadStatusDoNotCall
	case OutcomeNoAnswer, OutcomeVMLeft:
		return LeadStatusNoAnswer
	default:
		return LeadStatusNoAnswer
	}
}

// Business is the client business on whose behalf calls are placed.
type Business struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	ServiceArea []string  `json:"service_area"`
	ICP         string    `json:"icp"`
	USP         string    `json:"usp"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Lead is a discovered candidate business/contact for outreach.
type Lead struct {
	ID               string     `json:"id"`
	BusinessID       string     `json:"business_id"`
	ExtID            string     `json:"ext_id"`
	Provider         string     `json:"provider"`
	Name             string     `json:"name"`
	Category         string     `json:"category"`
	Website          string     `json:"website,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	Email            string     `json:"email,omitempty"`
	Address          string     `json:"address"`
	City             string     `json:"city"`
	State            string     `json:"state"`
	PostalCode       string     `json:"postal_code,omitempty"`
	Lat              *float64   `json:"lat,omitempty"`
	Lng              *float64   `json:"lng,omitempty"`
	Rating           *float64   `json:"rating,omitempty"`
	ReviewCount      *int       `json:"review_count,omitempty"`
	SourceConfidence float64    `json:"source_confidence"`
	Score            int        `json:"score"`
	DedupKey         string     `json:"dedup_key"`
	Status           LeadStatus `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Call is one attempted or completed outbound voice interaction with a lead.
type Call struct {
	ID               string      `json:"id"`
	BusinessID       string      `json:"business_id"`
	LeadID           string      `json:"lead_id"`
	ProviderCallID   string      `json:"provider_call_id"`
	Status           CallStatus  `json:"status"`
	Outcome          CallOutcome `json:"outcome,omitempty"`
	DispositionNotes string      `json:"disposition_notes,omitempty"`
	RecordingURL     string      `json:"recording_url,omitempty"`
	Transcript       string      `json:"transcript,omitempty"`
	Summary          string      `json:"summary,omitempty"`
	CostUSD          float64     `json:"cost_usd,omitempty"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	EndedAt          *time.Time  `json:"ended_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// CallWindow is the local time-of-day range during which outbound calls are
// permitted.
type CallWindow struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// Settings holds per-business calling policy.
type Settings struct {
	BusinessID         string     `json:"business_id"`
	CallWindow         CallWindow `json:"call_window"`
	DoNotCallPatterns  []string   `json:"do_not_call_patterns"`
	MaxConcurrentCalls int        `json:"max_concurrent_calls"`
	PerRunLeadCap      int        `json:"per_run_lead_cap"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// DefaultSettings returns the calling policy applied to a new business.
func DefaultSettings(businessID string) Settings {
	return Settings{
		BusinessID: businessID,
		CallWindow: CallWindow{
			Start:    "09:00",
			End:      "17:00",
			Timezone: "America/New_York",
		},
		DoNotCallPatterns:  []string{},
		MaxConcurrentCalls: 3,
		PerRunLeadCap:      20,
	}
}

// Objection pairs a common prospect objection with its scripted reply.
type Objection struct {
	Objection string `json:"objection"`
	Reply     string `json:"reply"`
}

// CallScript is the generated cold-call script for a business.
type CallScript struct {
	Opener     string      `json:"opener"`
	ValueProps []string    `json:"value_props"`
	Objections []Objection `json:"objections"`
	CTA        string      `json:"cta"`
	Closing    string      `json:"closing"`
}
