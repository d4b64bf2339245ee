// Package call places outbound calls and applies provider lifecycle events to
// stored call and lead state.
package call

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/pkg/llm"
)

// OutcomeResult pairs a transcript summary with its classified outcome.
type OutcomeResult struct {
	Summary string
	Outcome model.CallOutcome
}

// Classifier maps a raw call transcript to a summary and outcome.
type Classifier interface {
	Classify(ctx context.Context, transcript string) OutcomeResult
}

// OutcomeClassifier asks the model first and falls back to keyword matching on
// any failure. It never returns an error: a classification always comes back.
type OutcomeClassifier struct {
	llm   llm.Client
	model string
}

// NewOutcomeClassifier creates a classifier. A nil client means keyword-only.
func NewOutcomeClassifier(client llm.Client, model string) *OutcomeClassifier {
	return &OutcomeClassifier{llm: client, model: model}
}

const outcomeSystemPrompt = `Analyze this cold call transcript and provide:
1. A brief summary (2-3 sentences)
2. Call outcome classification: interested|callback|not_interested|vm_left|no_answer

Return JSON: {"summary": "...", "outcome": "..."}

Guidelines:
- interested: Prospect showed genuine interest, wants to learn more
- callback: Prospect wants to be called back later or set up a meeting
- not_interested: Clear rejection, asked to be removed from lists
- vm_left: Reached voicemail and left a message
- no_answer: No one answered or call didn't connect properly`

// Classify produces a summary and outcome for the transcript.
func (c *OutcomeClassifier) Classify(ctx context.Context, transcript string) OutcomeResult {
	if c.llm != nil {
		res, err := c.classifyLLM(ctx, transcript)
		if err == nil {
			return res
		}
		zap.L().Warn("outcome classification failed, using keyword fallback", zap.Error(err))
	}
	return KeywordOutcome(transcript)
}

func (c *OutcomeClassifier) classifyLLM(ctx context.Context, transcript string) (OutcomeResult, error) {
	temp := 0.1
	resp, err := c.llm.CreateMessage(ctx, llm.MessageRequest{
		Model:       c.model,
		MaxTokens:   512,
		System:      outcomeSystemPrompt,
		Temperature: &temp,
		Messages:    []llm.Message{{Role: "user", Content: transcript}},
	})
	if err != nil {
		return OutcomeResult{}, err
	}

	var out struct {
		Summary string `json:"summary"`
		Outcome string `json:"outcome"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return OutcomeResult{}, err
	}

	res := OutcomeResult{
		Summary: out.Summary,
		Outcome: model.CallOutcome(out.Outcome),
	}
	if res.Summary == "" {
		res.Summary = "Call completed"
	}
	if !validOutcome(res.Outcome) {
		res.Outcome = model.OutcomeNoAnswer
	}
	return res, nil
}

// KeywordOutcome classifies a transcript by keyword matching, checked in fixed
// precedence order. Transcripts matching nothing are no_answer.
func KeywordOutcome(transcript string) OutcomeResult {
	t := strings.ToLower(transcript)

	outcome := model.OutcomeNoAnswer
	switch {
	case strings.Contains(t, "interested") || strings.Contains(t, "tell me more"):
		outcome = model.OutcomeInterested
	case strings.Contains(t, "call back") || strings.Contains(t, "meeting"):
		outcome = model.OutcomeCallback
	case strings.Contains(t, "not interested") || strings.Contains(t, "remove"):
		outcome = model.OutcomeNotInterested
	case strings.Contains(t, "voicemail") || strings.Contains(t, "message"):
		outcome = model.OutcomeVMLeft
	}

	return OutcomeResult{
		Summary: fmt.Sprintf("Call completed. Duration: %d characters.", len(transcript)),
		Outcome: outcome,
	}
}

func validOutcome(o model.CallOutcome) bool {
	switch o {
	case model.OutcomeInterested, model.OutcomeCallback, model.OutcomeNotInterested,
		model.OutcomeVMLeft, model.OutcomeNoAnswer:
		return true
	}
	return false
}
