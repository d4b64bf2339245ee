// Package script generates cold-call scripts for a business's voice agent.
package script

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/pkg/llm"
)

// Params describes the business and prospect a script is written for.
type Params struct {
	BusinessName     string
	BusinessCategory string
	BusinessUSP      string
	LeadCategory     string
	LeadCity         string
	LeadName         string
	Tone             string // "professional", "friendly", or "casual"
}

// Generator produces call scripts, asking the model first and falling back to
// a fixed template when the model output is unusable.
type Generator struct {
	llm   llm.Client
	model string
}

// NewGenerator creates a Generator. A nil client means template-only scripts.
func NewGenerator(client llm.Client, model string) *Generator {
	return &Generator{llm: client, model: model}
}

const scriptSystemPrompt = "You are an expert sales script writer specializing in B2B cold calls. " +
	"Create compliant, effective scripts that respect TCPA requirements and focus on value delivery."

// Generate writes a call script for the given params.
func (g *Generator) Generate(ctx context.Context, p Params) model.CallScript {
	if p.Tone == "" {
		p.Tone = "professional"
	}

	if g.llm != nil {
		script, err := g.generateLLM(ctx, p)
		if err == nil {
			return script
		}
		zap.L().Warn("script generation failed, using template",
			zap.String("business", p.BusinessName),
			zap.Error(err),
		)
	}
	return TemplateScript(p)
}

func (g *Generator) generateLLM(ctx context.Context, p Params) (model.CallScript, error) {
	prompt := fmt.Sprintf(`Generate a concise cold-call script for a %s business pitching to %s prospects in %s.

Business Details:
- Name: %s
- USP: %s
- Category: %s

Target Prospect:
- Category: %s
- Location: %s
`, p.BusinessCategory, p.LeadCategory, p.LeadCity,
		p.BusinessName, p.BusinessUSP, p.BusinessCategory,
		p.LeadCategory, p.LeadCity)
	if p.LeadName != "" {
		prompt += "- Name: " + p.LeadName + "\n"
	}
	prompt += fmt.Sprintf(`
Requirements:
- Opener: under 15 seconds, include compliance disclaimer
- 2 compelling value propositions specific to %s
- 2 common objections with professional rebuttals
- 1 clear call-to-action
- Professional closing
- Tone: %s

Return JSON with fields: opener, valueProps, objections:[{objection, reply}], cta, closing`,
		p.LeadCategory, p.Tone)

	temp := 0.1
	resp, err := g.llm.CreateMessage(ctx, llm.MessageRequest{
		Model:       g.model,
		MaxTokens:   2048,
		System:      scriptSystemPrompt,
		Temperature: &temp,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return model.CallScript{}, err
	}

	var out struct {
		Opener     string            `json:"opener"`
		ValueProps []string          `json:"valueProps"`
		Objections []model.Objection `json:"objections"`
		CTA        string            `json:"cta"`
		Closing    string            `json:"closing"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return model.CallScript{}, err
	}

	// Partial model output is fine; missing sections use template text.
	tpl := TemplateScript(p)
	script := model.CallScript{
		Opener:     defaultString(out.Opener, tpl.Opener),
		ValueProps: out.ValueProps,
		Objections: out.Objections,
		CTA:        defaultString(out.CTA, tpl.CTA),
		Closing:    defaultString(out.Closing, tpl.Closing),
	}
	if len(script.ValueProps) == 0 {
		script.ValueProps = tpl.ValueProps
	}
	if len(script.Objections) == 0 {
		script.Objections = tpl.Objections
	}
	return script, nil
}

// TemplateScript is the deterministic fallback script.
func TemplateScript(p Params) model.CallScript {
	greeting := "there"
	if p.LeadName != "" {
		greeting = p.LeadName
	}
	return model.CallScript{
		Opener: fmt.Sprintf(
			"Hi %s, this is a virtual assistant calling on behalf of %s, a %s in your area. This call may be recorded. Is now a bad time?",
			greeting, p.BusinessName, p.BusinessCategory,
		),
		ValueProps: []string{
			fmt.Sprintf("We specialize in helping %s businesses improve their operations", p.LeadCategory),
			"Our clients typically see measurable improvements in efficiency and cost savings",
		},
		Objections: []model.Objection{
			{
				Objection: "We're not interested",
				Reply:     "I completely understand. Would it be helpful if I sent you some information to review at your convenience?",
			},
			{
				Objection: "We're too busy right now",
				Reply:     "I appreciate that you're busy - that's exactly why our solution might be valuable. It's designed to save time for businesses like yours.",
			},
		},
		CTA:     "Would you be open to a brief 10-minute conversation to see if this might be a fit for your business?",
		Closing: "Thank you for your time. Have a wonderful day!",
	}
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
