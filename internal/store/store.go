package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/danielliuzy/cold-call-machine/internal/model"
)

// ErrNotFound is returned when a record referenced by id or provider call id
// does not exist. Webhook handlers surface it rather than swallowing it so
// desynchronized provider state is visible.
var ErrNotFound = eris.New("store: not found")

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	BusinessID string           `json:"business_id,omitempty"`
	Status     model.LeadStatus `json:"status,omitempty"`
	HasPhone   bool             `json:"has_phone,omitempty"`
	MinScore   int              `json:"min_score,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Offset     int              `json:"offset,omitempty"`
}

// CallPatch holds the optional fields a provider event may update on a call.
// Nil fields are left untouched.
type CallPatch struct {
	Status       *model.CallStatus
	StartedAt    *int64 // unix millis
	EndedAt      *int64
	Transcript   *string
	RecordingURL *string
	CostUSD      *float64
}

// Store defines the persistence interface the calling pipeline consumes.
type Store interface {
	// Businesses
	CreateBusiness(ctx context.Context, b model.Business) (*model.Business, error)
	GetBusiness(ctx context.Context, id string) (*model.Business, error)

	// Settings
	PutSettings(ctx context.Context, s model.Settings) error
	GetSettings(ctx context.Context, businessID string) (*model.Settings, error)

	// Leads. UpsertLead treats dedup_key as a unique index: at most one
	// record per key, with field patch + updated_at bump on conflict.
	UpsertLead(ctx context.Context, lead model.Lead) (*model.Lead, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error
	UpdateLeadScore(ctx context.Context, id string, score int) error
	// UpdateLeadContact patches enriched contact details onto a lead. Empty
	// phone/email arguments leave the stored values untouched.
	UpdateLeadContact(ctx context.Context, id, phone, email string, confidence float64) error
	BatchUpdateLeadStatus(ctx context.Context, businessID string, from, to model.LeadStatus, limit int) ([]string, error)
	DeleteLead(ctx context.Context, id string) error

	// Calls
	CreateCall(ctx context.Context, call model.Call) (*model.Call, error)
	GetCall(ctx context.Context, id string) (*model.Call, error)
	GetCallByProviderID(ctx context.Context, providerCallID string) (*model.Call, error)
	UpdateCallByProviderID(ctx context.Context, providerCallID string, patch CallPatch) (*model.Call, error)
	// SetCallOutcome records outcome/summary/transcript only if the call's
	// outcome is still empty, and reports whether it was applied. Duplicate
	// webhook deliveries therefore cannot re-apply outcome side effects.
	SetCallOutcome(ctx context.Context, callID string, outcome model.CallOutcome, summary, transcript string) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
