package validate

import (
	"context"
	"fmt"

	"storypool/internal/config"
	"storypool/internal/store"
)

type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warning"
)

const (
	codeChapterGap          = "chapter_sequence_gap"
	codeChaosOutOfRange     = "chaos_reading_out_of_range"
	codeDuplicateEvaluation = "duplicate_evaluation"
	codeEvaluationAhead     = "evaluation_after_last_chapter"
	codeStatusMismatch      = "status_completion_mismatch"
	codeChapterLimit        = "chapter_limit_exceeded"
	codePoolBounds          = "pool_out_of_bounds"
)

type Issue struct {
	Severity Severity
	Code     string
	Message  string
	StoryID  int64
	Chapter  int
}

type Report struct {
	Issues []Issue
}

// Errors counts error-severity issues.
func (r *Report) Errors() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			n++
		}
	}
	return n
}

type Repository interface {
	ListStories(ctx context.Context, status store.StoryStatus) ([]store.Story, error)
	ListChapters(ctx context.Context, storyID int64) ([]store.Chapter, error)
	ListEvaluations(ctx context.Context, storyID int64) ([]store.Evaluation, error)
}

// Run audits every stored story against the pool invariants. Pool bounds are
// reported as warnings since the loop restores them on its next tick.
func Run(ctx context.Context, repo Repository, rt config.RuntimeConfig) (*Report, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}

	stories, err := repo.ListStories(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}

	issues := make([]Issue, 0)
	active := 0
	for _, s := range stories {
		if s.Status == store.StatusActive {
			active++
		}
		issues = append(issues, validateStatus(s)...)

		chapters, err := repo.ListChapters(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("list chapters of story %d: %w", s.ID, err)
		}
		issues = append(issues, validateChapters(s, chapters, rt)...)

		evaluations, err := repo.ListEvaluations(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("list evaluations of story %d: %w", s.ID, err)
		}
		issues = append(issues, validateEvaluations(s, len(chapters), evaluations)...)
	}

	if active < rt.MinActiveStories || active > rt.MaxActiveStories {
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Code:     codePoolBounds,
			Message:  fmt.Sprintf("%d active stories, expected between %d and %d", active, rt.MinActiveStories, rt.MaxActiveStories),
		})
	}

	return &Report{Issues: issues}, nil
}

func validateStatus(s store.Story) []Issue {
	switch {
	case s.Status == store.StatusActive && s.CompletedAt != nil:
		return []Issue{{
			Severity: SeverityError,
			Code:     codeStatusMismatch,
			Message:  "active story has a completion time",
			StoryID:  s.ID,
		}}
	case s.Status.Terminal() && s.CompletedAt == nil:
		return []Issue{{
			Severity: SeverityError,
			Code:     codeStatusMismatch,
			Message:  fmt.Sprintf("%s story has no completion time", s.Status),
			StoryID:  s.ID,
		}}
	case !s.Status.Valid():
		return []Issue{{
			Severity: SeverityError,
			Code:     codeStatusMismatch,
			Message:  fmt.Sprintf("unknown status %q", s.Status),
			StoryID:  s.ID,
		}}
	}
	return nil
}

// validateChapters expects chapters ordered by number.
func validateChapters(s store.Story, chapters []store.Chapter, rt config.RuntimeConfig) []Issue {
	var issues []Issue
	for i, ch := range chapters {
		if want := i + 1; ch.ChapterNumber != want {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Code:     codeChapterGap,
				Message:  fmt.Sprintf("expected chapter %d, found %d", want, ch.ChapterNumber),
				StoryID:  s.ID,
				Chapter:  ch.ChapterNumber,
			})
		}
		readings := map[string]float64{
			"absurdity":      ch.Chaos.Absurdity,
			"surrealism":     ch.Chaos.Surrealism,
			"ridiculousness": ch.Chaos.Ridiculousness,
			"insanity":       ch.Chaos.Insanity,
		}
		for axis, v := range readings {
			if v < 0 || v > 1 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Code:     codeChaosOutOfRange,
					Message:  fmt.Sprintf("%s reading %g outside [0, 1]", axis, v),
					StoryID:  s.ID,
					Chapter:  ch.ChapterNumber,
				})
			}
		}
	}
	if len(chapters) > rt.MaxChaptersPerStory {
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Code:     codeChapterLimit,
			Message:  fmt.Sprintf("%d chapters exceed the limit of %d", len(chapters), rt.MaxChaptersPerStory),
			StoryID:  s.ID,
		})
	}
	return issues
}

func validateEvaluations(s store.Story, chapterCount int, evaluations []store.Evaluation) []Issue {
	var issues []Issue
	seen := make(map[int]bool, len(evaluations))
	for _, ev := range evaluations {
		if seen[ev.ChapterNumber] {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Code:     codeDuplicateEvaluation,
				Message:  fmt.Sprintf("chapter %d evaluated more than once", ev.ChapterNumber),
				StoryID:  s.ID,
				Chapter:  ev.ChapterNumber,
			})
		}
		seen[ev.ChapterNumber] = true
		if ev.ChapterNumber > chapterCount {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Code:     codeEvaluationAhead,
				Message:  fmt.Sprintf("evaluation at chapter %d but story has %d chapters", ev.ChapterNumber, chapterCount),
				StoryID:  s.ID,
				Chapter:  ev.ChapterNumber,
			})
		}
	}
	return issues
}
