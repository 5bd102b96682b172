package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"storypool/internal/admin"
	"storypool/internal/config"
	"storypool/internal/store"
)

type mockAdmin struct {
	stories  []store.Story
	detail   *admin.StoryDetail
	entities []store.Entity
	err      error
	resets   int

	lastStatus store.StoryStatus
	lastID     int64
	lastReason string
	lastForce  bool
	lastSource string
	lastTarget string
	lastLimit  int
}

func (m *mockAdmin) ListStories(ctx context.Context, status store.StoryStatus) ([]store.Story, error) {
	m.lastStatus = status
	return m.stories, m.err
}

func (m *mockAdmin) GetStory(ctx context.Context, id int64) (*admin.StoryDetail, error) {
	m.lastID = id
	return m.detail, m.err
}

func (m *mockAdmin) Spawn(ctx context.Context, force bool) (*store.Story, error) {
	m.lastForce = force
	return &store.Story{ID: 9, Title: "new", Status: store.StatusActive}, m.err
}

func (m *mockAdmin) Kill(ctx context.Context, id int64, reason string) (*store.Story, error) {
	m.lastID, m.lastReason = id, reason
	if m.err != nil {
		return nil, m.err
	}
	done := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &store.Story{ID: id, Status: store.StatusKilled, CompletedAt: &done, CompletionReason: reason}, nil
}

func (m *mockAdmin) Delete(ctx context.Context, id int64) error {
	m.lastID = id
	return m.err
}

func (m *mockAdmin) Reset(ctx context.Context) (int64, error) {
	m.resets++
	return 4, m.err
}

func (m *mockAdmin) Config(ctx context.Context) (config.RuntimeConfig, error) {
	return config.DefaultRuntime(), m.err
}

func (m *mockAdmin) Stats(ctx context.Context) (*store.Stats, error) {
	return &store.Stats{ActiveStories: 3, TotalChapters: 12}, m.err
}

func (m *mockAdmin) Entities(ctx context.Context, limit int) ([]store.Entity, error) {
	m.lastLimit = limit
	return m.entities, m.err
}

func (m *mockAdmin) MergeEntities(ctx context.Context, source, target string) (bool, error) {
	m.lastSource, m.lastTarget = source, target
	return true, m.err
}

func (m *mockAdmin) SuppressEntity(ctx context.Context, name string) error {
	m.lastSource = name
	return m.err
}

func TestListStories(t *testing.T) {
	adminMock := &mockAdmin{stories: []store.Story{{ID: 1, Title: "Tides", Status: store.StatusActive}}}
	server := NewServer(adminMock, "test")

	_, output, err := server.handleListStories(context.Background(), nil, ListStoriesInput{Status: "active"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(output.Stories) != 1 || output.Stories[0].Title != "Tides" {
		t.Fatalf("unexpected list output: %+v", output)
	}
	if output.Stories[0].GenreTags == nil {
		t.Fatalf("expected empty genre tags, not nil")
	}
	if adminMock.lastStatus != store.StatusActive {
		t.Fatalf("unexpected status filter %q", adminMock.lastStatus)
	}
}

func TestGetStory(t *testing.T) {
	adminMock := &mockAdmin{detail: &admin.StoryDetail{
		Story:       store.Story{ID: 2, Title: "Gulls"},
		Chapters:    []store.Chapter{{ChapterNumber: 1, Content: "Once."}},
		Evaluations: []store.Evaluation{{ChapterNumber: 1, OverallScore: 0.7, ShouldContinue: true}},
	}}
	server := NewServer(adminMock, "test")

	if _, _, err := server.handleGetStory(context.Background(), nil, StoryIDInput{}); err == nil {
		t.Fatalf("expected missing id to fail")
	}
	_, output, err := server.handleGetStory(context.Background(), nil, StoryIDInput{ID: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(output.Chapters) != 1 || output.Chapters[0].Content != "Once." {
		t.Fatalf("unexpected chapters: %+v", output.Chapters)
	}
	if len(output.Evaluations) != 1 || output.Evaluations[0].Issues == nil {
		t.Fatalf("unexpected evaluations: %+v", output.Evaluations)
	}
}

func TestKillStory(t *testing.T) {
	adminMock := &mockAdmin{}
	server := NewServer(adminMock, "test")

	_, output, err := server.handleKillStory(context.Background(), nil, KillStoryInput{ID: 5, Reason: "stale"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Status != "killed" || output.CompletedAt != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected kill output: %+v", output)
	}
	if adminMock.lastID != 5 || adminMock.lastReason != "stale" {
		t.Fatalf("unexpected kill params")
	}

	adminMock.err = store.ErrConflict
	if _, _, err := server.handleKillStory(context.Background(), nil, KillStoryInput{ID: 5}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestResetPoolRequiresConfirm(t *testing.T) {
	adminMock := &mockAdmin{}
	server := NewServer(adminMock, "test")

	if _, _, err := server.handleResetPool(context.Background(), nil, ResetPoolInput{}); err == nil {
		t.Fatalf("expected unconfirmed reset to fail")
	}
	if adminMock.resets != 0 {
		t.Fatalf("expected no reset")
	}
	_, output, err := server.handleResetPool(context.Background(), nil, ResetPoolInput{Confirm: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.DeletedStories != 4 || adminMock.resets != 1 {
		t.Fatalf("unexpected reset output: %+v", output)
	}
}

func TestEntityTools(t *testing.T) {
	adminMock := &mockAdmin{entities: []store.Entity{{Name: "Tom", EntityType: store.EntityCharacter, MentionCount: 3}}}
	server := NewServer(adminMock, "test")

	_, merged, err := server.handleMergeEntities(context.Background(), nil, MergeEntitiesInput{Source: "Tommy", Target: "Tom"})
	if err != nil || !merged.Merged {
		t.Fatalf("unexpected merge result %+v err=%v", merged, err)
	}
	if adminMock.lastSource != "Tommy" || adminMock.lastTarget != "Tom" {
		t.Fatalf("unexpected merge params")
	}

	_, list, err := server.handleListEntities(context.Background(), nil, ListEntitiesInput{Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Entities) != 1 || list.Entities[0].EntityType != "character" || adminMock.lastLimit != 10 {
		t.Fatalf("unexpected list output: %+v", list)
	}
}

func TestStats(t *testing.T) {
	server := NewServer(&mockAdmin{}, "test")

	_, output, err := server.handleStats(context.Background(), nil, StatsInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.ActiveStories != 3 || output.TotalChapters != 12 || output.QualityScoreMin != config.DefaultRuntime().QualityScoreMin {
		t.Fatalf("unexpected stats output: %+v", output)
	}
}
