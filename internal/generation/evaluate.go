package generation

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

const (
	evaluatorSystem   = "You are a story quality evaluator. Respond with JSON only."
	// neutralScore stands in for a single sub-score the response left out.
	neutralScore      = 5.0
	maxEvalChapterLen = 4000
)

type evaluationPayload struct {
	CoherenceScore  *float64 `json:"coherence_score" jsonschema:"0-10"`
	NoveltyScore    *float64 `json:"novelty_score" jsonschema:"0-10"`
	EngagementScore *float64 `json:"engagement_score" jsonschema:"0-10"`
	PacingScore     *float64 `json:"pacing_score" jsonschema:"0-10"`
	ShouldContinue  *bool    `json:"should_continue"`
	Reasoning       string   `json:"reasoning" jsonschema:"brief explanation of the decision"`
	Issues          []string `json:"issues"`
}

type EvaluateRequest struct {
	Title         string
	Premise       string
	Chapters      []PriorChapter
	ChapterNumber int
	// Window limits the prompt to the most recent chapters. Zero sends all.
	Window          int
	QualityScoreMin float64
}

// Verdict holds the collaborator's sub-scores on a 0-10 scale.
type Verdict struct {
	Coherence      float64
	Novelty        float64
	Engagement     float64
	Pacing         float64
	ShouldContinue bool
	Reasoning      string
	Issues         []string
	TokensUsed     int64
}

// Evaluate scores a story. Transport failures and responses that carry no
// scores return ErrUnavailable, so nothing is recorded for the story this
// tick. A sub-score missing from an otherwise usable response gets the
// middle of the scale.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*Verdict, error) {
	ct, err := contractFor[evaluationPayload]()
	if err != nil {
		return nil, err
	}
	model := c.models.Evaluation
	resp, err := c.complete(ctx, Request{
		Kind:        "evaluation",
		Model:       model.Model,
		System:      evaluatorSystem,
		Prompt:      evaluationPrompt(req),
		Schema:      ct.schema,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	payload, _, err := decodeChecked[evaluationPayload](c.logger, "evaluation", resp.Text)
	if err != nil {
		c.logger.Warn("evaluation response unusable", zap.Error(err))
		return nil, fmt.Errorf("%w: unusable evaluation response: %w", ErrUnavailable, err)
	}
	if payload.CoherenceScore == nil && payload.NoveltyScore == nil &&
		payload.EngagementScore == nil && payload.PacingScore == nil {
		c.logger.Warn("evaluation response carried no scores")
		return nil, fmt.Errorf("%w: evaluation response carried no scores", ErrUnavailable)
	}

	v := &Verdict{
		Coherence:      score(payload.CoherenceScore),
		Novelty:        score(payload.NoveltyScore),
		Engagement:     score(payload.EngagementScore),
		Pacing:         score(payload.PacingScore),
		ShouldContinue: true,
		Reasoning:      strings.TrimSpace(payload.Reasoning),
		Issues:         cleanList(payload.Issues),
		TokensUsed:     resp.TotalTokens,
	}
	if payload.ShouldContinue != nil {
		v.ShouldContinue = *payload.ShouldContinue
	}
	return v, nil
}

func score(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return neutralScore
	}
	return *v
}

func evaluationPrompt(req EvaluateRequest) string {
	chapters := req.Chapters
	if req.Window > 0 && len(chapters) > req.Window {
		chapters = chapters[len(chapters)-req.Window:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Story: %s\nPremise: %s\n", req.Title, req.Premise)
	fmt.Fprintf(&b, "Current chapter count: %d\n", req.ChapterNumber)
	b.WriteString("Recent chapters:\n")
	for i, ch := range chapters {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Chapter %d: %s\n", ch.Number, truncateRunes(ch.Content, maxEvalChapterLen))
	}

	b.WriteString("\nEvaluate this story's quality and viability.\n\n")
	b.WriteString("Score 0-10 on each dimension:\n")
	b.WriteString("- coherence: Is the plot logical and consistent? (0-3=incoherent, 4-6=some issues, 7-8=good, 9-10=excellent)\n")
	b.WriteString("- novelty: Is the story fresh and interesting? (0-3=derivative, 4-6=somewhat interesting, 7-8=creative, 9-10=highly original)\n")
	b.WriteString("- engagement: Would readers want to continue? (0-3=boring, 4-6=mildly interesting, 7-8=engaging, 9-10=captivating)\n")
	b.WriteString("- pacing: Does the story progress well? (0-3=stalled, 4-6=uneven, 7-8=good flow, 9-10=perfect pace)\n\n")
	fmt.Fprintf(&b, "Quality threshold: %.1f/10 (overall weighted score)\n\n", req.QualityScoreMin*10)
	b.WriteString("Set should_continue to false if any of these apply:\n")
	b.WriteString("- The story is severely repetitive or going in circles\n")
	b.WriteString("- The plot has stalled or become incoherent\n")
	b.WriteString("- The story has lost its original premise or direction\n")
	b.WriteString("- There are major continuity errors or severe logical inconsistencies\n")
	b.WriteString("- The story is fundamentally broken and cannot be salvaged\n\n")
	b.WriteString("Set should_continue to true if the story is still viable. Minor issues or uneven pacing are acceptable above the threshold.\n\n")
	b.WriteString("Respond with only a JSON object with the fields coherence_score, novelty_score, engagement_score, ")
	b.WriteString("pacing_score, should_continue, reasoning and issues (a list of short strings).\n")
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
