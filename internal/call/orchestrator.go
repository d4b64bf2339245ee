package call

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/danielliuzy/cold-call-machine/internal/lead"
	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/internal/script"
	"github.com/danielliuzy/cold-call-machine/internal/store"
	"github.com/danielliuzy/cold-call-machine/pkg/vapi"
)

// OrchestratorConfig holds the provider-side knobs for a calling run.
type OrchestratorConfig struct {
	PhoneNumberID   string
	AssistantModel  string
	Voice           string
	PacingPerMinute int
}

// Orchestrator selects callable leads and places outbound calls through the
// voice provider.
type Orchestrator struct {
	store   store.Store
	vapi    vapi.Client
	scripts *script.Generator
	cfg     OrchestratorConfig
}

// NewOrchestrator creates a calling orchestrator.
func NewOrchestrator(s store.Store, v vapi.Client, g *script.Generator, cfg OrchestratorConfig) *Orchestrator {
	if cfg.PacingPerMinute <= 0 {
		cfg.PacingPerMinute = 10
	}
	return &Orchestrator{store: s, vapi: v, scripts: g, cfg: cfg}
}

// CallResult reports what happened to one lead during a run.
type CallResult struct {
	LeadID         string `json:"lead_id"`
	ProviderCallID string `json:"provider_call_id,omitempty"`
	Status         string `json:"status"`
}

const assistantFirstMessage = "Hello! I'm calling on behalf of a local business. Is now a good time to talk?"

// StartCalls promotes the business's top-scoring new leads to queued, builds a
// voice assistant from a freshly generated script, and places a call per lead
// under the settings' concurrency cap and the configured pacing rate. Leads
// outside the calling window abort the whole run; per-lead failures are
// recorded and do not.
func (o *Orchestrator) StartCalls(ctx context.Context, businessID string) ([]CallResult, error) {
	business, err := o.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, eris.Wrapf(err, "call: load business %s", businessID)
	}

	settings, err := o.store.GetSettings(ctx, businessID)
	if err != nil {
		if !eris.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(err, "call: load settings for %s", businessID)
		}
		s := model.DefaultSettings(businessID)
		settings = &s
	}

	ok, err := WithinCallWindow(settings.CallWindow, time.Now())
	if err != nil {
		return nil, eris.Wrap(err, "call: check call window")
	}
	if !ok {
		return nil, eris.Errorf("call: outside call window %s-%s %s",
			settings.CallWindow.Start, settings.CallWindow.End, settings.CallWindow.Timezone)
	}

	promoted, err := o.store.BatchUpdateLeadStatus(ctx, businessID,
		model.LeadStatusNew, model.LeadStatusQueued, settings.PerRunLeadCap)
	if err != nil {
		return nil, eris.Wrap(err, "call: promote leads")
	}
	if len(promoted) == 0 {
		return nil, nil
	}

	assistantID, err := o.ensureAssistant(ctx, business)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(o.cfg.PacingPerMinute)), 1)

	var (
		mu      sync.Mutex
		results []CallResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(settings.MaxConcurrentCalls)

	for _, leadID := range promoted {
		g.Go(func() error {
			res := o.callLead(gctx, limiter, business, settings, assistantID, leadID)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (o *Orchestrator) callLead(ctx context.Context, limiter *rate.Limiter,
	business *model.Business, settings *model.Settings, assistantID, leadID string) CallResult {

	l, err := o.store.GetLead(ctx, leadID)
	if err != nil {
		zap.L().Warn("skipping lead, load failed", zap.String("lead_id", leadID), zap.Error(err))
		return CallResult{LeadID: leadID, Status: "failed"}
	}
	if l.Phone == "" {
		zap.L().Warn("skipping lead, no phone number", zap.String("lead", l.Name))
		return CallResult{LeadID: leadID, Status: "skipped"}
	}
	if matchesDoNotCall(l.Phone, settings.DoNotCallPatterns) {
		zap.L().Info("skipping lead on do-not-call pattern", zap.String("lead", l.Name))
		if err := o.store.UpdateLeadStatus(ctx, leadID, model.LeadStatusDoNotCall); err != nil {
			zap.L().Warn("mark do_not_call failed", zap.String("lead_id", leadID), zap.Error(err))
		}
		return CallResult{LeadID: leadID, Status: "do_not_call"}
	}

	if err := limiter.Wait(ctx); err != nil {
		return CallResult{LeadID: leadID, Status: "failed"}
	}

	resp, err := o.vapi.CreateCall(ctx, vapi.CreateCallRequest{
		AssistantID:   assistantID,
		PhoneNumberID: o.cfg.PhoneNumberID,
		Customer: vapi.Customer{
			Number: lead.NormalizePhone(l.Phone),
			Name:   l.Name,
		},
		Metadata: map[string]string{
			"leadId":       l.ID,
			"leadName":     l.Name,
			"leadCity":     l.City,
			"businessName": business.Name,
		},
	})
	if err != nil {
		zap.L().Warn("create call failed", zap.String("lead", l.Name), zap.Error(err))
		o.recordCall(ctx, business.ID, leadID, "", model.CallStatusFailed, err.Error())
		return CallResult{LeadID: leadID, Status: "failed"}
	}

	o.recordCall(ctx, business.ID, leadID, resp.ID, model.CallStatusInitiated, "")
	if l.Status.CanTransition(model.LeadStatusCalling) {
		if err := o.store.UpdateLeadStatus(ctx, leadID, model.LeadStatusCalling); err != nil {
			zap.L().Warn("mark calling failed", zap.String("lead_id", leadID), zap.Error(err))
		}
	}
	return CallResult{LeadID: leadID, ProviderCallID: resp.ID, Status: "initiated"}
}

func (o *Orchestrator) recordCall(ctx context.Context, businessID, leadID, providerCallID string,
	status model.CallStatus, notes string) {
	_, err := o.store.CreateCall(ctx, model.Call{
		BusinessID:       businessID,
		LeadID:           leadID,
		ProviderCallID:   providerCallID,
		Status:           status,
		DispositionNotes: notes,
	})
	if err != nil {
		zap.L().Error("record call failed", zap.String("lead_id", leadID), zap.Error(err))
	}
}

// ensureAssistant generates a fresh script for the business and creates a
// voice assistant from it.
func (o *Orchestrator) ensureAssistant(ctx context.Context, business *model.Business) (string, error) {
	city := ""
	if len(business.ServiceArea) > 0 {
		city = business.ServiceArea[0]
	}
	s := o.scripts.Generate(ctx, script.Params{
		BusinessName:     business.Name,
		BusinessCategory: business.Category,
		BusinessUSP:      business.USP,
		LeadCategory:     business.ICP,
		LeadCity:         city,
		Tone:             "professional",
	})

	assistant, err := o.vapi.CreateAssistant(ctx, vapi.CreateAssistantRequest{
		Name:         business.Name + " Cold Call Assistant",
		FirstMessage: assistantFirstMessage,
		SystemPrompt: AssistantPrompt(business.Name, s),
		Model:        o.cfg.AssistantModel,
		Voice:        o.cfg.Voice,
	})
	if err != nil {
		return "", eris.Wrap(err, "call: create assistant")
	}
	return assistant.ID, nil
}

// AssistantPrompt renders the voice assistant's system prompt from a script.
func AssistantPrompt(businessName string, s model.CallScript) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a virtual sales assistant calling on behalf of %s.\n\n", businessName)
	fmt.Fprintf(&b, "COMPLIANCE FIRST:\n")
	fmt.Fprintf(&b, "- Always start with: %q\n", s.Opener)
	fmt.Fprintf(&b, "- If asked to be removed from lists, immediately comply and end the call\n")
	fmt.Fprintf(&b, "- Respect \"not interested\" responses\n")
	fmt.Fprintf(&b, "- Keep calls under 3 minutes unless prospect is actively engaged\n\n")
	fmt.Fprintf(&b, "SCRIPT GUIDANCE:\nOpener: %s\n\n", s.Opener)
	fmt.Fprintf(&b, "Value Propositions (use when appropriate):\n")
	for i, vp := range s.ValueProps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, vp)
	}
	fmt.Fprintf(&b, "\nCommon Objections and Responses:\n")
	for i, obj := range s.Objections {
		fmt.Fprintf(&b, "%d. Objection: %q\n   Response: %q\n", i+1, obj.Objection, obj.Reply)
	}
	fmt.Fprintf(&b, "\nCall-to-Action: %s\n\nClosing: %s\n\n", s.CTA, s.Closing)
	fmt.Fprintf(&b, "INSTRUCTIONS:\n")
	fmt.Fprintf(&b, "- Be conversational and natural, don't read the script word-for-word\n")
	fmt.Fprintf(&b, "- Listen actively and respond to what the prospect actually says\n")
	fmt.Fprintf(&b, "- If they seem interested, focus on scheduling a follow-up\n")
	fmt.Fprintf(&b, "- If they're not interested, politely end the call\n")
	fmt.Fprintf(&b, "- Always be respectful and professional")
	return b.String()
}

// WithinCallWindow reports whether now falls inside the window's local
// time-of-day range.
func WithinCallWindow(w model.CallWindow, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return false, eris.Wrapf(err, "load timezone %s", w.Timezone)
	}
	start, err := time.Parse("15:04", w.Start)
	if err != nil {
		return false, eris.Wrapf(err, "parse window start %s", w.Start)
	}
	end, err := time.Parse("15:04", w.End)
	if err != nil {
		return false, eris.Wrapf(err, "parse window end %s", w.End)
	}

	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	return minutes >= startMin && minutes < endMin, nil
}

// matchesDoNotCall reports whether the phone's digits contain any pattern's
// digits. Patterns with no digits are compared as lowercase substrings.
func matchesDoNotCall(phone string, patterns []string) bool {
	digits := onlyDigits(phone)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		pd := onlyDigits(p)
		if pd != "" {
			if strings.Contains(digits, pd) {
				return true
			}
			continue
		}
		if strings.Contains(strings.ToLower(phone), strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
