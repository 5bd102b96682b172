package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storypool/internal/config"
	"storypool/internal/generation"
	"storypool/internal/notify"
	"storypool/internal/store"
)

const ReasonQuality = "quality score below threshold"

type Evaluator interface {
	Evaluate(ctx context.Context, req generation.EvaluateRequest) (*generation.Verdict, error)
}

type Repository interface {
	store.Stories
	store.Chapters
	store.Evaluations
}

// Gate scores stories on a chapter cadence and retires the ones that fall
// below the quality threshold.
type Gate struct {
	repo      Repository
	evaluator Evaluator
	publisher notify.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func New(repo Repository, evaluator Evaluator, publisher notify.Publisher, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = notify.Discard{}
	}
	return &Gate{repo: repo, evaluator: evaluator, publisher: publisher, logger: logger, now: time.Now}
}

type Outcome struct {
	Evaluated  bool
	Completed  bool
	Evaluation *store.Evaluation
	Breakdown  Breakdown
}

// Due reports whether a story whose last chapter is lastChapter should be
// evaluated, given the chapter of its previous evaluation (0 when none).
func Due(rt config.RuntimeConfig, lastChapter, lastEvaluated int) bool {
	if lastChapter < rt.MinChaptersBeforeEval {
		return false
	}
	return lastChapter-lastEvaluated >= rt.EvaluationIntervalChapters
}

// Tick evaluates s if it is due. The returned error is a failed evaluation
// call or a storage failure; the story is left as it was and nothing is
// recorded, so the evaluation is attempted again on the next tick.
func (g *Gate) Tick(ctx context.Context, s store.Story, rt config.RuntimeConfig) (*Outcome, error) {
	logger := g.logger.With(zap.Int64("story_id", s.ID))

	last, err := g.repo.LastChapter(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("reading last chapter: %w", err)
	}
	if last == nil {
		return &Outcome{}, nil
	}

	lastEvaluated := 0
	prev, err := g.repo.LastEvaluation(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("reading last evaluation: %w", err)
	}
	if prev != nil {
		lastEvaluated = prev.ChapterNumber
	}
	if !Due(rt, last.ChapterNumber, lastEvaluated) {
		return &Outcome{}, nil
	}

	chapters, err := g.repo.ListChapters(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("listing chapters: %w", err)
	}
	if len(chapters) == 0 {
		logger.Error("story has a last chapter but no chapters to evaluate")
		return &Outcome{}, nil
	}

	prior := make([]generation.PriorChapter, len(chapters))
	for i, c := range chapters {
		prior[i] = generation.PriorChapter{Number: c.ChapterNumber, Content: c.Content}
	}
	verdict, err := g.evaluator.Evaluate(ctx, generation.EvaluateRequest{
		Title:           s.Title,
		Premise:         s.Premise,
		Chapters:        prior,
		ChapterNumber:   last.ChapterNumber,
		Window:          rt.ContextWindowChapters,
		QualityScoreMin: rt.QualityScoreMin,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating story: %w", err)
	}

	breakdown := Score(verdict, rt.Weights)
	ev := &store.Evaluation{
		StoryID:         s.ID,
		ChapterNumber:   last.ChapterNumber,
		CoherenceScore:  verdict.Coherence,
		NoveltyScore:    verdict.Novelty,
		EngagementScore: verdict.Engagement,
		PacingScore:     verdict.Pacing,
		OverallScore:    breakdown.Overall,
		ShouldContinue:  verdict.ShouldContinue,
		Reasoning:       verdict.Reasoning,
		Issues:          verdict.Issues,
		CreatedAt:       g.now().UTC(),
	}
	err = g.repo.CreateEvaluation(ctx, ev)
	if errors.Is(err, store.ErrConflict) {
		logger.Info("evaluation already recorded, skipping", zap.Int("chapter", last.ChapterNumber))
		return &Outcome{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storing evaluation: %w", err)
	}
	if verdict.TokensUsed > 0 {
		if err := g.repo.AddStoryTokens(ctx, s.ID, verdict.TokensUsed); err != nil {
			logger.Warn("recording evaluation tokens failed", zap.Error(err))
		}
	}

	logger.Info("story evaluated",
		zap.Int("chapter", last.ChapterNumber),
		zap.Float64("overall", breakdown.Overall),
		zap.Bool("should_continue", verdict.ShouldContinue))
	g.publisher.Publish(notify.StoryEvaluated, map[string]any{
		"story_id":        s.ID,
		"chapter_number":  last.ChapterNumber,
		"overall_score":   breakdown.Overall,
		"should_continue": verdict.ShouldContinue,
	})

	out := &Outcome{Evaluated: true, Evaluation: ev, Breakdown: breakdown}
	if verdict.ShouldContinue && breakdown.Overall >= rt.QualityScoreMin {
		return out, nil
	}

	err = g.repo.CompleteStory(ctx, s.ID, store.StatusCompleted, ReasonQuality, g.now().UTC())
	if errors.Is(err, store.ErrConflict) {
		logger.Info("story already left the pool, not retiring")
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("completing story: %w", err)
	}
	out.Completed = true
	logger.Info("story retired", zap.String("reason", ReasonQuality))
	g.publisher.Publish(notify.StoryCompleted, map[string]any{
		"story_id": s.ID,
		"reason":   ReasonQuality,
		"status":   string(store.StatusCompleted),
	})
	return out, nil
}
