package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storypool/internal/chaos"
	"storypool/internal/store"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()
	c, err := New(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	require.NoError(t, c.EnsureSchema(ctx))
	t.Cleanup(func() { c.Close(ctx) })
	return c
}

func createStory(t *testing.T, c *Client, title string) *store.Story {
	t.Helper()
	s := &store.Story{
		Title:   title,
		Premise: "A lighthouse keeper befriends a tide.",
		Seeds: chaos.Seeds{
			Absurdity:      chaos.Seed{Initial: 0.1, Increment: 0.05},
			Surrealism:     chaos.Seed{Initial: 0.2, Increment: 0.03},
			Ridiculousness: chaos.Seed{Initial: 0.05, Increment: 0.1},
			Insanity:       chaos.Seed{Initial: 0.15, Increment: 0.02},
		},
		ContentSettings: map[string]chaos.ContentSetting{"violence": {AverageLevel: 2, Momentum: 0.1}},
		GenreTags:       []string{"fable"},
		Tone:            "wry",
	}
	require.NoError(t, c.CreateStory(context.Background(), s))
	return s
}

func addChapter(t *testing.T, c *Client, storyID int64, n int) *store.Chapter {
	t.Helper()
	ch := &store.Chapter{
		StoryID:       storyID,
		ChapterNumber: n,
		Content:       fmt.Sprintf("chapter %d", n),
		Chaos:         chaos.Readings{Absurdity: 0.2, Surrealism: 0.4, Ridiculousness: 0.1, Insanity: 0.3},
		ContentLevels: map[string]float64{"violence": 2},
	}
	require.NoError(t, c.CreateChapter(context.Background(), ch))
	return ch
}

func TestParseDSN(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		dsn, memory, err := parseDSN("sqlite://:memory:")
		require.NoError(t, err)
		assert.True(t, memory)
		assert.True(t, strings.HasPrefix(dsn, ":memory:?"))
		assert.Contains(t, dsn, "foreign_keys%281%29")
	})

	t.Run("relative path", func(t *testing.T) {
		dsn, memory, err := parseDSN("sqlite://data/pool.db")
		require.NoError(t, err)
		assert.False(t, memory)
		assert.True(t, strings.HasPrefix(dsn, "./data/pool.db?"))
	})

	t.Run("absolute path keeps query", func(t *testing.T) {
		dsn, _, err := parseDSN("sqlite:///var/lib/pool.db?_txlock=immediate")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(dsn, "/var/lib/pool.db?"))
		assert.Contains(t, dsn, "_txlock=immediate")
	})

	t.Run("wrong scheme", func(t *testing.T) {
		_, _, err := parseDSN("postgres://localhost/db")
		assert.Error(t, err)
	})
}

func TestStoryLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	s := createStory(t, c, "The Tide Keeper")
	require.NotZero(t, s.ID)

	got, err := c.GetStory(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, got.Status)
	assert.Equal(t, s.Seeds, got.Seeds)
	assert.Equal(t, s.ContentSettings, got.ContentSettings)
	assert.Nil(t, got.CompletedAt)

	n, err := c.CountStories(ctx, store.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, c.AddStoryTokens(ctx, s.ID, 120))
	require.NoError(t, c.AddStoryTokens(ctx, s.ID, 30))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, c.CompleteStory(ctx, s.ID, store.StatusKilled, "Terminated manually", at))

	got, err = c.GetStory(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusKilled, got.Status)
	assert.Equal(t, int64(150), got.TotalTokens)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(at))

	err = c.CompleteStory(ctx, s.ID, store.StatusCompleted, "again", at)
	assert.True(t, errors.Is(err, store.ErrConflict), "expected conflict, got %v", err)

	err = c.CompleteStory(ctx, 9999, store.StatusCompleted, "missing", at)
	assert.True(t, errors.Is(err, store.ErrNotFound), "expected not found, got %v", err)
}

func TestListStoriesMissingCover(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	active := createStory(t, c, "active")
	done := createStory(t, c, "done")
	covered := createStory(t, c, "covered")
	_ = active

	now := time.Now()
	require.NoError(t, c.CompleteStory(ctx, done.ID, store.StatusCompleted, "quality score below threshold", now))
	require.NoError(t, c.CompleteStory(ctx, covered.ID, store.StatusKilled, "Terminated manually", now))
	require.NoError(t, c.SetCoverImage(ctx, covered.ID, "https://cdn.example/covers/x.png"))

	missing, err := c.ListStoriesMissingCover(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, done.ID, missing[0].ID)
}

func TestChapterUniqueness(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	s := createStory(t, c, "dupes")

	addChapter(t, c, s.ID, 1)
	err := c.CreateChapter(ctx, &store.Chapter{StoryID: s.ID, ChapterNumber: 1, Content: "again", TokensUsed: 500})
	assert.True(t, errors.Is(err, store.ErrConflict), "expected conflict, got %v", err)

	last, err := c.LastChapter(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "chapter 1", last.Content)

	got, err := c.GetStory(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TotalTokens, "a rejected chapter must not count its tokens")
}

func TestCreateChapterCountsTokens(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	s := createStory(t, c, "metered")

	require.NoError(t, c.CreateChapter(ctx, &store.Chapter{StoryID: s.ID, ChapterNumber: 1, Content: "one", TokensUsed: 120}))
	require.NoError(t, c.CreateChapter(ctx, &store.Chapter{StoryID: s.ID, ChapterNumber: 2, Content: "two", TokensUsed: 30}))

	got, err := c.GetStory(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.TotalTokens)
}

func TestRecentChaptersAscending(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	s := createStory(t, c, "window")
	for n := 1; n <= 5; n++ {
		addChapter(t, c, s.ID, n)
	}

	recent, err := c.RecentChapters(ctx, s.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []int{3, 4, 5}, []int{recent[0].ChapterNumber, recent[1].ChapterNumber, recent[2].ChapterNumber})

	empty := createStory(t, c, "empty")
	last, err := c.LastChapter(ctx, empty.ID)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestEvaluationUniqueness(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	s := createStory(t, c, "judged")

	e := &store.Evaluation{StoryID: s.ID, ChapterNumber: 3, OverallScore: 0.7, ShouldContinue: true, Issues: []string{"slow"}}
	require.NoError(t, c.CreateEvaluation(ctx, e))
	err := c.CreateEvaluation(ctx, &store.Evaluation{StoryID: s.ID, ChapterNumber: 3})
	assert.True(t, errors.Is(err, store.ErrConflict), "expected conflict, got %v", err)

	last, err := c.LastEvaluation(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, last.ShouldContinue)
	assert.Equal(t, []string{"slow"}, last.Issues)
}

func TestDeleteStoryCascades(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	s := createStory(t, c, "doomed")
	ch := addChapter(t, c, s.ID, 1)

	e, err := c.UpsertEntity(ctx, store.EntityUpsert{Name: "Mara", CanonicalName: "mara", EntityType: store.EntityCharacter, Importance: 0.5})
	require.NoError(t, err)
	require.NoError(t, c.UpsertMention(ctx, store.MentionUpsert{StoryID: s.ID, EntityID: e.ID, ChapterNumber: 1, Importance: 0.5}))
	require.NoError(t, c.UpsertFeature(ctx, store.FeatureUpsert{ChapterID: ch.ID, EntityID: e.ID, Importance: 0.5}))

	require.NoError(t, c.DeleteStory(ctx, s.ID))

	chapters, err := c.ListChapters(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, chapters)
	mentions, err := c.ListMentions(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, mentions)
	features, err := c.ListFeatures(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, features)

	// Entities outlive the stories that mention them.
	_, err = c.GetEntityByName(ctx, "mara")
	require.NoError(t, err)

	err = c.DeleteStory(ctx, s.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDeleteAllStories(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	createStory(t, c, "a")
	createStory(t, c, "b")

	n, err := c.DeleteAllStories(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := c.CountStories(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEntityUpsertBlends(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	s := createStory(t, c, "graph")

	first, err := c.UpsertEntity(ctx, store.EntityUpsert{Name: "Mara", CanonicalName: "mara", EntityType: store.EntityCharacter, Importance: 0.8})
	require.NoError(t, err)
	assert.Equal(t, 1, first.MentionCount)

	second, err := c.UpsertEntity(ctx, store.EntityUpsert{Name: "MARA", CanonicalName: "mara", EntityType: store.EntityPlace, Importance: 0.4})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.MentionCount)
	assert.InDelta(t, 0.6, second.Importance, 1e-9)
	assert.Equal(t, "Mara", second.Name)
	assert.Equal(t, store.EntityCharacter, second.EntityType)

	require.NoError(t, c.UpsertMention(ctx, store.MentionUpsert{StoryID: s.ID, EntityID: first.ID, ChapterNumber: 4, Importance: 0.2}))
	require.NoError(t, c.UpsertMention(ctx, store.MentionUpsert{StoryID: s.ID, EntityID: first.ID, ChapterNumber: 2, Importance: 0.6}))

	mentions, err := c.ListMentions(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, 2, mentions[0].FirstChapter)
	assert.Equal(t, 4, mentions[0].LastChapter)
	assert.Equal(t, 2, mentions[0].MentionCount)
	assert.InDelta(t, 0.4, mentions[0].Importance, 1e-9)
}

func TestCooccurrencesAndRelationships(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	mara, err := c.UpsertEntity(ctx, store.EntityUpsert{Name: "Mara", CanonicalName: "mara", EntityType: store.EntityCharacter, Importance: 0.5})
	require.NoError(t, err)
	tide, err := c.UpsertEntity(ctx, store.EntityUpsert{Name: "Tide", CanonicalName: "tide", EntityType: store.EntityConcept, Importance: 0.5})
	require.NoError(t, err)
	gull, err := c.UpsertEntity(ctx, store.EntityUpsert{Name: "Gull", CanonicalName: "gull", EntityType: store.EntityCharacter, Importance: 0.5})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		s := createStory(t, c, fmt.Sprintf("story %d", i))
		for _, id := range []int64{mara.ID, tide.ID} {
			require.NoError(t, c.UpsertMention(ctx, store.MentionUpsert{StoryID: s.ID, EntityID: id, ChapterNumber: 1}))
		}
		if i == 0 {
			require.NoError(t, c.UpsertMention(ctx, store.MentionUpsert{StoryID: s.ID, EntityID: gull.ID, ChapterNumber: 1}))
		}
	}

	pairs, err := c.Cooccurrences(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, store.Cooccurrence{EntityA: mara.ID, EntityB: tide.ID, Stories: 2}, pairs[0])

	require.NoError(t, c.UpsertRelationship(ctx, store.Relationship{EntityA: tide.ID, EntityB: mara.ID, CooccurrenceCount: 2, Strength: 0.2}))
	rels, err := c.ListRelationships(ctx, mara.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, mara.ID, rels[0].EntityA)
	assert.Equal(t, tide.ID, rels[0].EntityB)

	assert.Error(t, c.UpsertRelationship(ctx, store.Relationship{EntityA: mara.ID, EntityB: mara.ID}))
}

func TestMergeEntities(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	shared := createStory(t, c, "shared")
	solo := createStory(t, c, "solo")

	source, err := c.UpsertEntity(ctx, store.EntityUpsert{Name: "The Keeper", CanonicalName: "the keeper", EntityType: store.EntityCharacter, Importance: 0.4})
	require.NoError(t, err)
	target, err := c.UpsertEntity(ctx, store.EntityUpsert{Name: "Mara", CanonicalName: "mara", EntityType: store.EntityCharacter, Importance: 0.8})
	require.NoError(t, err)
	other, err := c.UpsertEntity(ctx, store.EntityUpsert{Name: "Tide", CanonicalName: "tide", EntityType: store.EntityConcept, Importance: 0.5})
	require.NoError(t, err)

	require.NoError(t, c.UpsertMention(ctx, store.MentionUpsert{StoryID: shared.ID, EntityID: source.ID, ChapterNumber: 1, Importance: 0.4}))
	require.NoError(t, c.UpsertMention(ctx, store.MentionUpsert{StoryID: shared.ID, EntityID: target.ID, ChapterNumber: 3, Importance: 0.8}))
	require.NoError(t, c.UpsertMention(ctx, store.MentionUpsert{StoryID: solo.ID, EntityID: source.ID, ChapterNumber: 2, Importance: 0.4}))
	require.NoError(t, c.UpsertRelationship(ctx, store.Relationship{EntityA: source.ID, EntityB: target.ID, CooccurrenceCount: 2, Strength: 0.2}))
	require.NoError(t, c.UpsertRelationship(ctx, store.Relationship{EntityA: source.ID, EntityB: other.ID, CooccurrenceCount: 3, Strength: 0.3}))

	require.NoError(t, c.MergeEntities(ctx, source.ID, target.ID))

	_, err = c.GetEntityByName(ctx, "the keeper")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	merged, err := c.GetEntityByName(ctx, "mara")
	require.NoError(t, err)
	assert.Equal(t, 2, merged.MentionCount)
	assert.InDelta(t, 0.6, merged.Importance, 1e-9)

	mentions, err := c.ListMentions(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, mentions, 2)
	assert.Equal(t, shared.ID, mentions[0].StoryID)
	assert.Equal(t, 1, mentions[0].FirstChapter)
	assert.Equal(t, 3, mentions[0].LastChapter)
	assert.Equal(t, 2, mentions[0].MentionCount)
	assert.Equal(t, solo.ID, mentions[1].StoryID)

	rels, err := c.ListRelationships(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1, "self-loop must be dropped")
	assert.Equal(t, 3, rels[0].CooccurrenceCount)

	assert.Error(t, c.MergeEntities(ctx, target.ID, target.ID))
}

func TestMergeEntitiesRollsBack(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	s := createStory(t, c, "atomic")

	source, err := c.UpsertEntity(ctx, store.EntityUpsert{Name: "Keeper", CanonicalName: "keeper", EntityType: store.EntityCharacter, Importance: 0.4})
	require.NoError(t, err)
	target, err := c.UpsertEntity(ctx, store.EntityUpsert{Name: "Mara", CanonicalName: "mara", EntityType: store.EntityCharacter, Importance: 0.8})
	require.NoError(t, err)
	require.NoError(t, c.UpsertMention(ctx, store.MentionUpsert{StoryID: s.ID, EntityID: source.ID, ChapterNumber: 1, Importance: 0.4}))

	_, err = c.db.ExecContext(ctx, fmt.Sprintf(`CREATE TRIGGER block_source_delete BEFORE DELETE ON entities
	WHEN old.id = %d BEGIN SELECT RAISE(ABORT, 'blocked'); END;`, source.ID))
	require.NoError(t, err)

	require.Error(t, c.MergeEntities(ctx, source.ID, target.ID))

	mentions, err := c.ListMentions(ctx, source.ID)
	require.NoError(t, err)
	assert.Len(t, mentions, 1, "source mentions must survive a failed merge")

	got, err := c.GetEntityByName(ctx, "mara")
	require.NoError(t, err)
	assert.Equal(t, 1, got.MentionCount)
}

func TestLeases(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	first, ok, err := c.AcquireLease(ctx, "orchestrator", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), first.Token)

	_, ok, err = c.AcquireLease(ctx, "orchestrator", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lease must not be taken over")

	require.NoError(t, c.ReleaseLease(ctx, "orchestrator", "a", first.Token))

	second, ok, err := c.AcquireLease(ctx, "orchestrator", "b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, second.Token, first.Token)

	// A stale release from the previous holder is ignored.
	require.NoError(t, c.ReleaseLease(ctx, "orchestrator", "a", first.Token))
	_, ok, err = c.AcquireLease(ctx, "orchestrator", "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("expired lease is taken over", func(t *testing.T) {
		_, ok, err := c.AcquireLease(ctx, "discovery", "a", time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)
		time.Sleep(5 * time.Millisecond)
		_, ok, err = c.AcquireLease(ctx, "discovery", "b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.GetSetting(ctx, "runtime")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, c.PutSetting(ctx, "runtime", []byte(`{"quality_score_min":0.7}`)))
	require.NoError(t, c.PutSetting(ctx, "runtime", []byte(`{"quality_score_min":0.8}`)))
	got, err := c.GetSetting(ctx, "runtime")
	require.NoError(t, err)
	assert.JSONEq(t, `{"quality_score_min":0.8}`, string(got))

	require.NoError(t, c.DeleteSetting(ctx, "runtime"))
	_, err = c.GetSetting(ctx, "runtime")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	s := createStory(t, c, "counted")
	addChapter(t, c, s.ID, 1)
	addChapter(t, c, s.ID, 2)
	require.NoError(t, c.AddStoryTokens(ctx, s.ID, 40))
	done := createStory(t, c, "finished")
	require.NoError(t, c.CompleteStory(ctx, done.ID, store.StatusCompleted, "max chapters", time.Now()))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveStories)
	assert.Equal(t, 1, stats.CompletedStories)
	assert.Equal(t, 2, stats.TotalChapters)
	assert.Equal(t, int64(40), stats.TotalTokens)
	assert.InDelta(t, 0.4, stats.AverageChaos.Surrealism, 1e-9)
}
