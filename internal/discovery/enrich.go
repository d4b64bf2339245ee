package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/pkg/browseruse"
)

var (
	phoneRe = regexp.MustCompile(`[+]?\s?[(]?\d{1,3}[)]?\s?[-.]?[(]?\d{3}[)]?\s?[-.]?\d{3}\s?[-.]?\d{4}`)
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

// EnrichmentResult holds contact details extracted from a lead's website.
type EnrichmentResult struct {
	Phone          string   `json:"phone,omitempty"`
	Email          string   `json:"email,omitempty"`
	Confidence     float64  `json:"confidence"`
	SupportingURLs []string `json:"supporting_urls"`
}

// Enricher extracts contact information from lead websites, via browser
// automation with a raw-HTML regex fallback.
type Enricher struct {
	browser browseruse.Client
	http    *http.Client
}

// NewEnricher creates an Enricher. The browser client may be nil, in which
// case only the regex fallback runs.
func NewEnricher(b browseruse.Client, hc *http.Client) *Enricher {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Enricher{browser: b, http: hc}
}

// Enrich extracts a phone, email, and contact URLs from the website.
// Confidence is 0.5 for a phone, 0.3 for an email, and 0.2 for contact URLs,
// capped at 1.0; the regex fallback scores lower (0.3/0.2).
func (e *Enricher) Enrich(ctx context.Context, website string) EnrichmentResult {
	if website == "" {
		return EnrichmentResult{}
	}
	target := ensureScheme(website)

	if !e.RobotsAllowed(ctx, target) {
		zap.L().Info("enrichment skipped, robots.txt disallows crawling", zap.String("website", target))
		return EnrichmentResult{}
	}

	if e.browser != nil {
		res, err := e.enrichBrowser(ctx, target)
		if err == nil {
			return res
		}
		zap.L().Warn("browser enrichment failed, using regex fallback",
			zap.String("website", target), zap.Error(err))
	}
	return e.enrichRegex(ctx, target)
}

func (e *Enricher) enrichBrowser(ctx context.Context, target string) (EnrichmentResult, error) {
	instructions := fmt.Sprintf(`Visit %s and find phone number, email address, and contact page information for this business. Look in headers, footers, contact pages, and about pages.
Return a JSON object with the fields phone, email and contactUrls (a list of contact page URLs discovered).`, target)

	taskID, err := e.browser.RunTask(ctx, instructions)
	if err != nil {
		return EnrichmentResult{}, eris.Wrap(err, "run enrichment task")
	}
	task, err := browseruse.PollTask(ctx, e.browser, taskID)
	if err != nil {
		return EnrichmentResult{}, eris.Wrapf(err, "poll enrichment task %s", taskID)
	}

	var out struct {
		Phone       string   `json:"phone"`
		Email       string   `json:"email"`
		ContactURLs []string `json:"contactUrls"`
	}
	if err := decodeTaskOutput(task.Output, &out); err != nil {
		return EnrichmentResult{}, err
	}

	res := EnrichmentResult{SupportingURLs: []string{target}}
	if m := phoneRe.FindString(out.Phone); m != "" {
		res.Phone = formatUSPhone(m)
	}
	if m := emailRe.FindString(out.Email); m != "" {
		res.Email = m
	}
	res.SupportingURLs = append(res.SupportingURLs, out.ContactURLs...)

	if res.Phone != "" {
		res.Confidence += 0.5
	}
	if res.Email != "" {
		res.Confidence += 0.3
	}
	if len(out.ContactURLs) > 0 {
		res.Confidence += 0.2
	}
	if res.Confidence > 1.0 {
		res.Confidence = 1.0
	}
	return res, nil
}

// enrichRegex fetches the page and scans raw HTML for contact details.
func (e *Enricher) enrichRegex(ctx context.Context, target string) EnrichmentResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return EnrichmentResult{}
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return EnrichmentResult{}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return EnrichmentResult{}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return EnrichmentResult{}
	}
	html := string(body)

	res := EnrichmentResult{SupportingURLs: []string{target}}
	if m := phoneRe.FindString(html); m != "" {
		res.Phone = formatUSPhone(m)
		res.Confidence += 0.3
	}
	if m := emailRe.FindString(html); m != "" {
		res.Email = m
		res.Confidence += 0.2
	}
	return res
}

// formatUSPhone renders a matched phone as "(xxx) xxx-xxxx", dropping a
// leading country 1. Short matches are returned as their bare digits.
func formatUSPhone(match string) string {
	digits := onlyDigits(match)
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return digits
	}
	return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
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

func ensureScheme(website string) string {
	if strings.HasPrefix(website, "http://") || strings.HasPrefix(website, "https://") {
		return website
	}
	return "https://" + website
}

// RobotsAllowed checks the site's robots.txt for a blanket Disallow. Missing
// or unreadable robots.txt counts as allowed.
func (e *Enricher) RobotsAllowed(ctx context.Context, website string) bool {
	u, err := url.Parse(ensureScheme(website))
	if err != nil {
		return true
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return true
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return true
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return true
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true
	}

	agent := ""
	for _, line := range strings.Split(string(body), "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "user-agent:"):
			agent = strings.TrimSpace(trimmed[len("user-agent:"):])
		case strings.HasPrefix(lower, "disallow:"):
			if agent != "*" && !strings.Contains(strings.ToLower(agent), "bot") {
				continue
			}
			if strings.TrimSpace(trimmed[len("disallow:"):]) == "/" {
				return false
			}
		}
	}
	return true
}
