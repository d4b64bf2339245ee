// Package discovery finds candidate leads for a business through place search
// or browser automation, deduplicates them, and writes scored records.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/lead"
	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/internal/store"
	"github.com/danielliuzy/cold-call-machine/pkg/browseruse"
	"github.com/danielliuzy/cold-call-machine/pkg/places"
)

// Config bounds a discovery run.
type Config struct {
	TargetLeads   int // stop once this many leads have been stored
	BrowserTasks  int // browser-automation attempts per run
	PerQueryLimit int // places results per text query

	PollInterval time.Duration // browser task poll interval, 0 for default
	PollTimeout  time.Duration // browser task deadline, 0 for default
}

// Discoverer runs lead discovery against whichever provider is configured.
// Place search is preferred when both are available; browser automation is the
// fallback for businesses the search API covers poorly.
type Discoverer struct {
	store    store.Store
	places   places.Client
	browser  browseruse.Client
	scorer   *lead.Scorer
	enricher *Enricher
	cfg      Config
}

// Option adjusts a Discoverer beyond its required collaborators.
type Option func(*Discoverer)

// WithEnricher replaces the default website enricher.
func WithEnricher(e *Enricher) Option {
	return func(d *Discoverer) { d.enricher = e }
}

// New creates a Discoverer. Either provider client may be nil.
func New(s store.Store, p places.Client, b browseruse.Client, sc *lead.Scorer, cfg Config, opts ...Option) *Discoverer {
	if cfg.TargetLeads <= 0 {
		cfg.TargetLeads = 50
	}
	if cfg.BrowserTasks <= 0 {
		cfg.BrowserTasks = 10
	}
	if cfg.PerQueryLimit <= 0 {
		cfg.PerQueryLimit = 20
	}
	d := &Discoverer{store: s, places: p, browser: b, scorer: sc, cfg: cfg}
	d.enricher = NewEnricher(b, nil)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FailedItem records one provider query or lead that could not be processed.
type FailedItem struct {
	Provider string `json:"provider"`
	Query    string `json:"query"`
	Reason   string `json:"reason"`
}

// Result summarizes a discovery run.
type Result struct {
	Leads      []model.Lead `json:"leads"`
	Failed     []FailedItem `json:"failed,omitempty"`
	TotalFound int          `json:"total_found"`
}

// EmitFunc receives each stored lead as the run produces it.
type EmitFunc func(model.Lead)

// Discover finds, dedups, scores, and stores leads for the business. Per-item
// failures are collected in the result; only a missing provider fails the run.
func (d *Discoverer) Discover(ctx context.Context, business *model.Business, emit EmitFunc) (*Result, error) {
	res := &Result{}
	switch {
	case d.places != nil:
		d.discoverPlaces(ctx, business, emit, res)
	case d.browser != nil:
		d.discoverBrowser(ctx, business, emit, res)
	default:
		return nil, eris.New("discovery: no provider configured")
	}
	return res, nil
}

func (d *Discoverer) discoverPlaces(ctx context.Context, business *model.Business, emit EmitFunc, res *Result) {
	for _, area := range business.ServiceArea {
		if len(res.Leads) >= d.cfg.TargetLeads {
			return
		}
		query := fmt.Sprintf("%s in %s", business.ICP, area)

		found, err := d.places.SearchText(ctx, query, places.WithMaxResults(d.cfg.PerQueryLimit))
		if err != nil {
			zap.L().Warn("place search failed", zap.String("query", query), zap.Error(err))
			res.Failed = append(res.Failed, FailedItem{Provider: "places", Query: query, Reason: err.Error()})
			continue
		}

		for _, p := range found {
			res.TotalFound++
			saved, err := d.process(ctx, business, leadFromPlace(business, area, p), emit)
			if err != nil {
				zap.L().Warn("lead processing failed", zap.String("name", p.DisplayName.Text), zap.Error(err))
				res.Failed = append(res.Failed, FailedItem{Provider: "places", Query: p.DisplayName.Text, Reason: err.Error()})
				continue
			}
			res.Leads = append(res.Leads, *saved)
			if len(res.Leads) >= d.cfg.TargetLeads {
				return
			}
		}
	}
}

func (d *Discoverer) discoverBrowser(ctx context.Context, business *model.Business, emit EmitFunc, res *Result) {
	var exclusion []string

	for i := 0; i < d.cfg.BrowserTasks && len(res.Leads) < d.cfg.TargetLeads; i++ {
		name, ld, err := d.runBrowserTask(ctx, business, exclusion)
		if name != "" {
			// Later tasks must not re-pick what earlier tasks already found.
			exclusion = append(exclusion, name)
		}
		if err != nil {
			zap.L().Warn("browser task failed", zap.Int("attempt", i+1), zap.Error(err))
			res.Failed = append(res.Failed, FailedItem{Provider: "browser", Query: name, Reason: err.Error()})
			continue
		}

		res.TotalFound++
		saved, err := d.process(ctx, business, ld, emit)
		if err != nil {
			res.Failed = append(res.Failed, FailedItem{Provider: "browser", Query: name, Reason: err.Error()})
			continue
		}
		res.Leads = append(res.Leads, *saved)
	}
}

func (d *Discoverer) runBrowserTask(ctx context.Context, business *model.Business, exclusion []string) (string, model.Lead, error) {
	taskID, err := d.browser.RunTask(ctx, browserTaskInstructions(business, exclusion))
	if err != nil {
		return "", model.Lead{}, eris.Wrap(err, "run task")
	}

	task, err := browseruse.PollTask(ctx, d.browser, taskID, d.pollOptions()...)
	if err != nil {
		return "", model.Lead{}, eris.Wrapf(err, "poll task %s", taskID)
	}

	var out struct {
		Name        string `json:"name"`
		Address     string `json:"address"`
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := decodeTaskOutput(task.Output, &out); err != nil {
		return "", model.Lead{}, err
	}
	if out.Name == "" {
		return "", model.Lead{}, eris.New("task output missing business name")
	}

	city := ""
	if len(business.ServiceArea) > 0 {
		city = business.ServiceArea[0]
	}
	return out.Name, model.Lead{
		Provider:         "browser",
		Name:             lead.CleanName(out.Name),
		Category:         business.ICP,
		Phone:            out.PhoneNumber,
		Address:          out.Address,
		City:             city,
		SourceConfidence: 0.7,
	}, nil
}

// process stores one found lead: dedup key, upsert, score, score writeback,
// then the streaming callback.
func (d *Discoverer) process(ctx context.Context, business *model.Business, ld model.Lead, emit EmitFunc) (*model.Lead, error) {
	ld.BusinessID = business.ID
	ld.DedupKey = lead.DedupKey(ld.Phone, ld.Website, ld.Name, ld.Address)
	ld.Status = model.LeadStatusNew

	saved, err := d.store.UpsertLead(ctx, ld)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: upsert lead %s", ld.Name)
	}

	d.enrich(ctx, saved)

	sr := d.scorer.Score(ctx, *saved, lead.CityMatch(*saved, business.ServiceArea))
	if err := d.store.UpdateLeadScore(ctx, saved.ID, sr.Score); err != nil {
		return nil, eris.Wrapf(err, "discovery: write score for %s", saved.ID)
	}
	saved.Score = sr.Score

	if emit != nil {
		emit(*saved)
	}
	return saved, nil
}

// enrich fills in contact details for a stored lead that has a website but no
// phone. Enrichment is best effort; failures leave the lead as found.
func (d *Discoverer) enrich(ctx context.Context, saved *model.Lead) {
	if d.enricher == nil || saved.Phone != "" || saved.Website == "" {
		return
	}

	er := d.enricher.Enrich(ctx, saved.Website)
	if er.Phone == "" && er.Email == "" {
		return
	}

	if err := d.store.UpdateLeadContact(ctx, saved.ID, er.Phone, er.Email, er.Confidence); err != nil {
		zap.L().Warn("lead contact update failed", zap.String("lead_id", saved.ID), zap.Error(err))
		return
	}
	if er.Phone != "" {
		saved.Phone = er.Phone
	}
	if er.Email != "" {
		saved.Email = er.Email
	}
	saved.SourceConfidence = er.Confidence
}

func leadFromPlace(business *model.Business, area string, p places.Place) model.Lead {
	phone := p.NationalPhone
	if phone == "" {
		phone = p.InternationalPhone
	}

	ld := model.Lead{
		ExtID:            p.ID,
		Provider:         "places",
		Name:             lead.CleanName(p.DisplayName.Text),
		Category:         business.ICP,
		Website:          p.WebsiteURI,
		Phone:            phone,
		Address:          p.FormattedAddress,
		City:             area,
		SourceConfidence: 0.9,
	}
	if p.Rating > 0 {
		r := p.Rating
		ld.Rating = &r
	}
	if p.UserRatingCount > 0 {
		rc := p.UserRatingCount
		ld.ReviewCount = &rc
	}
	if p.Location.Latitude != 0 || p.Location.Longitude != 0 {
		lat, lng := p.Location.Latitude, p.Location.Longitude
		ld.Lat = &lat
		ld.Lng = &lng
	}
	return ld
}

func browserTaskInstructions(business *model.Business, exclusion []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `New task:
1. You are given a business on Google Maps. Find 1 potential customer nearby that matches the target customer profile and use the extract structured data tool to get the name, address and phone number of the business. Do not leave Google Maps, only use the information provided there.
2. Return the results as a JSON object with the fields name, address and phoneNumber. Return the phone number with country code, no spaces or dashes or parentheses.

NOTE: Make sure you only return one business, and your goal is to be fast. Return as soon as you have valid data. Think as little as possible.

===CONTEXT===
Business: %s (%s)
Target customer profile: %s
Service area: %s
`, business.Name, business.Category, business.ICP, strings.Join(business.ServiceArea, ", "))

	if len(exclusion) > 0 {
		fmt.Fprintf(&b, "\nAlready selected, do NOT pick any of these businesses:\n")
		for _, name := range exclusion {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}
	return b.String()
}

func (d *Discoverer) pollOptions() []browseruse.PollOption {
	var opts []browseruse.PollOption
	if d.cfg.PollInterval > 0 {
		opts = append(opts, browseruse.WithPollInterval(d.cfg.PollInterval))
	}
	if d.cfg.PollTimeout > 0 {
		opts = append(opts, browseruse.WithPollTimeout(d.cfg.PollTimeout))
	}
	return opts
}

// decodeTaskOutput parses agent output that may wrap its JSON in markdown
// fences or surrounding prose.
func decodeTaskOutput(output string, v any) error {
	text := strings.TrimSpace(output)
	if i := strings.Index(text, "{"); i >= 0 {
		if j := strings.LastIndex(text, "}"); j > i {
			text = text[i : j+1]
		}
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return eris.Wrap(err, "discovery: decode task output")
	}
	return nil
}
