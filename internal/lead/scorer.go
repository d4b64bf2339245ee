package lead

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/pkg/llm"
)

// ScoreResult is a 0-100 call-worthiness score with its reasoning.
type ScoreResult struct {
	Score  int
	Reason string
}

// Scorer ranks leads by call-worthiness. It asks the model first and falls
// back to a deterministic heuristic when the model is unavailable or returns
// something unusable.
type Scorer struct {
	llm   llm.Client
	model string
}

// NewScorer creates a Scorer. A nil client means heuristic-only scoring.
func NewScorer(client llm.Client, model string) *Scorer {
	return &Scorer{llm: client, model: model}
}

const scoreSystemPrompt = "Score business leads from 0-100 and provide brief reasoning."

// Score computes the lead's score. cityMatch reports whether the lead sits in
// the calling business's service area.
func (s *Scorer) Score(ctx context.Context, ld model.Lead, cityMatch bool) ScoreResult {
	if s.llm != nil {
		result, err := s.scoreLLM(ctx, ld, cityMatch)
		if err == nil {
			return result
		}
		zap.L().Warn("model scoring failed, using heuristic",
			zap.String("lead_id", ld.ID),
			zap.Error(err),
		)
	}
	return HeuristicScore(ld, cityMatch)
}

func (s *Scorer) scoreLLM(ctx context.Context, ld model.Lead, cityMatch bool) (ScoreResult, error) {
	var rating float64
	if ld.Rating != nil {
		rating = *ld.Rating
	}
	var reviews int
	if ld.ReviewCount != nil {
		reviews = *ld.ReviewCount
	}

	temp := 0.1
	resp, err := s.llm.CreateMessage(ctx, llm.MessageRequest{
		Model:       s.model,
		MaxTokens:   256,
		System:      scoreSystemPrompt,
		Temperature: &temp,
		Messages: []llm.Message{{
			Role: "user",
			Content: fmt.Sprintf(
				"Score this lead: rating=%g, reviews=%d, hasPhone=%t, hasWebsite=%t, cityMatch=%t. Return JSON: {\"score\", \"reason\"}",
				rating, reviews, ld.Phone != "", ld.Website != "", cityMatch,
			),
		}},
	})
	if err != nil {
		return ScoreResult{}, err
	}

	var out struct {
		Score  float64 `json:"score"`
		Reason string  `json:"reason"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return ScoreResult{}, err
	}

	return ScoreResult{
		Score:  clampScore(out.Score),
		Reason: defaultString(out.Reason, "AI generated score"),
	}, nil
}

// HeuristicScore is the deterministic fallback:
// rating contributes (rating-1)*15, reviews contribute log10(count)*8 capped
// at 20, a phone adds 15, a website adds 5, a service-area match adds 10.
func HeuristicScore(ld model.Lead, cityMatch bool) ScoreResult {
	var score float64
	var reasons []string

	if ld.Rating != nil && *ld.Rating > 0 {
		ratingScore := (*ld.Rating - 1) * 15
		score += ratingScore
		reasons = append(reasons, fmt.Sprintf("%g star rating (+%g)", *ld.Rating, ratingScore))
	}

	if ld.ReviewCount != nil && *ld.ReviewCount > 0 {
		reviewScore := math.Min(20, math.Log10(float64(*ld.ReviewCount))*8)
		score += reviewScore
		reasons = append(reasons, fmt.Sprintf("%d reviews (+%d)", *ld.ReviewCount, int(math.Round(reviewScore))))
	}

	if ld.Phone != "" {
		score += 15
		reasons = append(reasons, "Has phone (+15)")
	}

	if ld.Website != "" {
		score += 5
		reasons = append(reasons, "Has website (+5)")
	}

	if cityMatch {
		score += 10
		reasons = append(reasons, "Location match (+10)")
	}

	reason := strings.Join(reasons, ", ")
	if reason == "" {
		reason = "No scoring factors available"
	}

	return ScoreResult{Score: clampScore(score), Reason: reason}
}

// CityMatch reports whether the lead's city appears in the service area list
// (case-insensitive).
func CityMatch(ld model.Lead, serviceArea []string) bool {
	if ld.City == "" {
		return false
	}
	for _, area := range serviceArea {
		if strings.EqualFold(strings.TrimSpace(area), strings.TrimSpace(ld.City)) {
			return true
		}
	}
	return false
}

func clampScore(score float64) int {
	return int(math.Round(math.Max(0, math.Min(100, score))))
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
