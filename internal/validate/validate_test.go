package validate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"storypool/internal/chaos"
	"storypool/internal/config"
	"storypool/internal/store"
)

type mockRepo struct {
	stories     []store.Story
	chapters    map[int64][]store.Chapter
	evaluations map[int64][]store.Evaluation
	err         error
}

func (m *mockRepo) ListStories(ctx context.Context, status store.StoryStatus) ([]store.Story, error) {
	return m.stories, m.err
}

func (m *mockRepo) ListChapters(ctx context.Context, storyID int64) ([]store.Chapter, error) {
	return m.chapters[storyID], nil
}

func (m *mockRepo) ListEvaluations(ctx context.Context, storyID int64) ([]store.Evaluation, error) {
	return m.evaluations[storyID], nil
}

func codes(report *Report) map[string]int {
	out := map[string]int{}
	for _, issue := range report.Issues {
		out[issue.Code]++
	}
	return out
}

func testRuntime() config.RuntimeConfig {
	rt := config.DefaultRuntime()
	rt.MinActiveStories = 1
	rt.MaxActiveStories = 2
	rt.MaxChaptersPerStory = 3
	return rt
}

func TestRunCleanPool(t *testing.T) {
	done := time.Now()
	repo := &mockRepo{
		stories: []store.Story{
			{ID: 1, Status: store.StatusActive},
			{ID: 2, Status: store.StatusKilled, CompletedAt: &done},
		},
		chapters: map[int64][]store.Chapter{
			1: {{ChapterNumber: 1}, {ChapterNumber: 2, Chaos: chaos.Readings{Absurdity: 1}}},
		},
		evaluations: map[int64][]store.Evaluation{
			1: {{ChapterNumber: 2}},
		},
	}

	report, err := Run(context.Background(), repo, testRuntime())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("expected no issues, got %+v", report.Issues)
	}
}

func TestRunFindsViolations(t *testing.T) {
	done := time.Now()
	repo := &mockRepo{
		stories: []store.Story{
			{ID: 1, Status: store.StatusActive, CompletedAt: &done},
			{ID: 2, Status: store.StatusActive},
			{ID: 3, Status: store.StatusActive},
			{ID: 4, Status: store.StatusCompleted},
		},
		chapters: map[int64][]store.Chapter{
			2: {{ChapterNumber: 1}, {ChapterNumber: 3, Chaos: chaos.Readings{Insanity: 1.2}}},
			3: {{ChapterNumber: 1}, {ChapterNumber: 2}, {ChapterNumber: 3}, {ChapterNumber: 4}},
		},
		evaluations: map[int64][]store.Evaluation{
			2: {{ChapterNumber: 1}, {ChapterNumber: 1}, {ChapterNumber: 5}},
		},
	}

	report, err := Run(context.Background(), repo, testRuntime())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := codes(report)
	want := map[string]int{
		codeStatusMismatch:      2,
		codeChapterGap:          1,
		codeChaosOutOfRange:     1,
		codeDuplicateEvaluation: 1,
		codeEvaluationAhead:     1,
		codeChapterLimit:        1,
		codePoolBounds:          1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("issue codes mismatch (-want +got):\n%s", diff)
	}
	if report.Errors() != 6 {
		t.Fatalf("expected 6 errors, got %d", report.Errors())
	}
}

func TestRunPropagatesStoreErrors(t *testing.T) {
	_, err := Run(context.Background(), &mockRepo{err: errors.New("db down")}, testRuntime())
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Run(context.Background(), nil, testRuntime()); err == nil {
		t.Fatalf("expected missing repository to fail")
	}
}
