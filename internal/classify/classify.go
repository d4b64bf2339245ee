// Package classify turns a business website into a structured profile used to
// seed discovery queries and call scripts.
package classify

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/pkg/llm"
)

// maxContentChars caps how much page text is sent to the model.
const maxContentChars = 5000

// Classifier profiles a business from its homepage.
type Classifier struct {
	llm   llm.Client
	model string
	http  *http.Client
}

// Option configures the Classifier.
type Option func(*Classifier)

// WithHTTPClient sets a custom HTTP client for page fetches.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Classifier) {
		c.http = hc
	}
}

// New creates a Classifier.
func New(client llm.Client, model string, opts ...Option) *Classifier {
	c := &Classifier{
		llm:   client,
		model: model,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const classifySystemPrompt = `You are given a local business homepage content and URL.
Return JSON with these fields: {"name", "category", "serviceArea", "icp", "usp"}

- name: Business name
- category: Business category (e.g., "HVAC contractor", "dental practice", "law firm")
- serviceArea: Array of cities/regions served (e.g., ["San Jose, CA", "Santa Clara County"])
- icp: Ideal customer profile (e.g., "Residential HVAC, 1-20 employees")
- usp: Unique selling proposition (brief, 1-2 sentences)

If information is unclear, make reasonable inferences based on context.`

// Classify fetches the page at sourceURL and profiles the business. Failures
// anywhere in the pipeline degrade to a minimal profile derived from the URL.
func (c *Classifier) Classify(ctx context.Context, sourceURL string) model.Business {
	profile, err := c.classifyLLM(ctx, sourceURL)
	if err != nil {
		zap.L().Warn("classification failed, using url fallback",
			zap.String("source_url", sourceURL),
			zap.Error(err),
		)
		return FallbackProfile(sourceURL)
	}
	return profile
}

func (c *Classifier) classifyLLM(ctx context.Context, sourceURL string) (model.Business, error) {
	if c.llm == nil {
		return model.Business{}, eris.New("classify: no model client")
	}

	content, err := c.fetchPageText(ctx, sourceURL)
	if err != nil {
		return model.Business{}, err
	}

	temp := 0.1
	resp, err := c.llm.CreateMessage(ctx, llm.MessageRequest{
		Model:       c.model,
		MaxTokens:   1024,
		System:      classifySystemPrompt,
		Temperature: &temp,
		Messages: []llm.Message{{
			Role:    "user",
			Content: "URL: " + sourceURL + "\n\nWebpage content:\n" + content,
		}},
	})
	if err != nil {
		return model.Business{}, eris.Wrap(err, "classify: create message")
	}

	var out struct {
		Name        string   `json:"name"`
		Category    string   `json:"category"`
		ServiceArea []string `json:"serviceArea"`
		ICP         string   `json:"icp"`
		USP         string   `json:"usp"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return model.Business{}, err
	}

	b := model.Business{
		SourceURL:   sourceURL,
		Name:        defaultString(out.Name, "Unknown Business"),
		Category:    defaultString(out.Category, "General Business"),
		ServiceArea: out.ServiceArea,
		ICP:         defaultString(out.ICP, "General customers"),
		USP:         defaultString(out.USP, "Quality service provider"),
	}
	if len(b.ServiceArea) == 0 {
		b.ServiceArea = []string{"Unknown Area"}
	}
	return b, nil
}

// fetchPageText downloads the page and strips it down to visible text.
func (c *Classifier) fetchPageText(ctx context.Context, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "classify: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "classify: fetch page")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("classify: fetch page status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", eris.Wrap(err, "classify: read page")
	}

	return StripHTML(string(body)), nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	tagRe    = regexp.MustCompile(`<[^>]*>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// StripHTML reduces an HTML document to its visible text, capped for prompt
// budget.
func StripHTML(html string) string {
	text := scriptRe.ReplaceAllString(html, "")
	text = styleRe.ReplaceAllString(text, "")
	text = tagRe.ReplaceAllString(text, " ")
	text = spaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	if len(text) > maxContentChars {
		text = text[:maxContentChars]
	}
	return text
}

// FallbackProfile derives a minimal business profile from the URL alone.
func FallbackProfile(sourceURL string) model.Business {
	name := "Unknown Business"
	if u, err := url.Parse(sourceURL); err == nil && u.Hostname() != "" {
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if i := strings.Index(host, "."); i > 0 {
			name = host[:i]
		} else if host != "" {
			name = host
		}
	}
	return model.Business{
		SourceURL:   sourceURL,
		Name:        name,
		Category:    "General Business",
		ServiceArea: []string{"Unknown Area"},
		ICP:         "General customers",
		USP:         "Professional service provider",
	}
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
