package graph

import (
	"context"
	"errors"
	"testing"

	"storypool/internal/generation"
	"storypool/internal/store"
	"storypool/internal/store/sqlite"
)

type fakeExtractor struct {
	entities []generation.Entity
	err      error
	texts    []string
}

func (f *fakeExtractor) ExtractEntities(ctx context.Context, text string) ([]generation.Entity, error) {
	f.texts = append(f.texts, text)
	return f.entities, f.err
}

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.New(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(ctx) })
	return db
}

// newChapter creates a story with one chapter and returns the enrichment job
// for it.
func newChapter(t *testing.T, db *sqlite.Client, title string) Job {
	t.Helper()
	ctx := context.Background()
	s := &store.Story{Title: title, Premise: "premise"}
	if err := db.CreateStory(ctx, s); err != nil {
		t.Fatalf("create story: %v", err)
	}
	ch := &store.Chapter{StoryID: s.ID, ChapterNumber: 1, Content: "content"}
	if err := db.CreateChapter(ctx, ch); err != nil {
		t.Fatalf("create chapter: %v", err)
	}
	return Job{StoryID: s.ID, ChapterID: ch.ID, ChapterNumber: 1, Content: ch.Content}
}

func TestExtractAndLink(t *testing.T) {
	ctx := context.Background()

	t.Run("creates then blends", func(t *testing.T) {
		db := newTestStore(t)
		ex := &fakeExtractor{entities: []generation.Entity{
			{Name: "Tom", Type: "character", Importance: 0.4},
		}}
		svc := New(db, ex, nil)
		job := newChapter(t, db, "first")

		if _, err := svc.ExtractAndLink(ctx, job); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		ex.entities = []generation.Entity{{Name: " TOM ", Type: "character", Importance: 0.8}}
		second := &store.Chapter{StoryID: job.StoryID, ChapterNumber: 2, Content: "more"}
		if err := db.CreateChapter(ctx, second); err != nil {
			t.Fatalf("create chapter: %v", err)
		}
		res, err := svc.ExtractAndLink(ctx, Job{StoryID: job.StoryID, ChapterID: second.ID, ChapterNumber: 2, Content: "more"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Linked != 1 || len(res.Errors) != 0 {
			t.Fatalf("expected one linked entity, got %+v", res)
		}

		tom, err := db.GetEntityByName(ctx, "tom")
		if err != nil {
			t.Fatalf("get entity: %v", err)
		}
		if tom.Name != "Tom" || tom.MentionCount != 2 {
			t.Fatalf("expected first display name and 2 mentions, got %+v", tom)
		}
		if tom.Importance < 0.5999 || tom.Importance > 0.6001 {
			t.Fatalf("expected blended importance 0.6, got %g", tom.Importance)
		}

		mentions, err := db.ListMentions(ctx, tom.ID)
		if err != nil {
			t.Fatalf("list mentions: %v", err)
		}
		if len(mentions) != 1 || mentions[0].FirstChapter != 1 || mentions[0].LastChapter != 2 || mentions[0].MentionCount != 2 {
			t.Fatalf("unexpected mention %+v", mentions)
		}
		features, err := db.ListFeatures(ctx, tom.ID)
		if err != nil {
			t.Fatalf("list features: %v", err)
		}
		if len(features) != 2 {
			t.Fatalf("expected one feature per chapter, got %d", len(features))
		}
	})

	t.Run("applies overrides and collapses duplicates", func(t *testing.T) {
		db := newTestStore(t)
		ex := &fakeExtractor{entities: []generation.Entity{
			{Name: "Tom", Type: "character", Importance: 0.3, Sentiment: 1},
			{Name: "tom", Type: "character", Importance: 0.9, Sentiment: 0},
			{Name: "The Lighthouse", Type: "place", Importance: 0.5},
			{Name: "Captain Gull", Type: "character", Importance: 0.5},
			{Name: "", Type: "object"},
		}}
		svc := New(db, ex, nil)
		if err := svc.Suppress(ctx, "the lighthouse"); err != nil {
			t.Fatalf("suppress: %v", err)
		}
		if merged, err := svc.AddMergeRule(ctx, "Captain Gull", "The Gull"); err != nil || merged {
			t.Fatalf("expected rule without merge, got merged=%v err=%v", merged, err)
		}

		res, err := svc.ExtractAndLink(ctx, newChapter(t, db, "overrides"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Suppressed != 1 || res.Linked != 2 {
			t.Fatalf("expected 1 suppressed and 2 linked, got %+v", res)
		}

		tom, err := db.GetEntityByName(ctx, "tom")
		if err != nil {
			t.Fatalf("get tom: %v", err)
		}
		if tom.MentionCount != 1 || tom.Importance != 0.9 {
			t.Fatalf("expected collapsed duplicate with max importance, got %+v", tom)
		}
		if _, err := db.GetEntityByName(ctx, "the lighthouse"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected suppressed entity to be absent, got %v", err)
		}
		gull, err := db.GetEntityByName(ctx, "the gull")
		if err != nil {
			t.Fatalf("expected merged name to be linked: %v", err)
		}
		if gull.Name != "The Gull" {
			t.Fatalf("expected target display name, got %q", gull.Name)
		}
	})

	t.Run("extraction failure is returned", func(t *testing.T) {
		db := newTestStore(t)
		svc := New(db, &fakeExtractor{err: generation.ErrUnavailable}, nil)

		_, err := svc.ExtractAndLink(ctx, newChapter(t, db, "broken"))
		if !errors.Is(err, generation.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	})
}

func TestDiscoverRelationships(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	ex := &fakeExtractor{entities: []generation.Entity{
		{Name: "Tom", Type: "character", Importance: 0.5},
		{Name: "Lighthouse", Type: "place", Importance: 0.5},
	}}
	svc := New(db, ex, nil)

	for _, title := range []string{"one", "two"} {
		if _, err := svc.ExtractAndLink(ctx, newChapter(t, db, title)); err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	ex.entities = []generation.Entity{{Name: "Gull", Type: "character", Importance: 0.5}, {Name: "Tom", Importance: 0.5}}
	if _, err := svc.ExtractAndLink(ctx, newChapter(t, db, "three")); err != nil {
		t.Fatalf("link: %v", err)
	}

	n, err := svc.DiscoverRelationships(ctx, 2)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 relationship, got %d", n)
	}

	tom, _ := db.GetEntityByName(ctx, "tom")
	rels, err := db.ListRelationships(ctx, tom.ID)
	if err != nil {
		t.Fatalf("list relationships: %v", err)
	}
	if len(rels) != 1 || rels[0].CooccurrenceCount != 2 || rels[0].Strength != 0.2 {
		t.Fatalf("expected one edge with count 2 and strength 0.2, got %+v", rels)
	}
}

func TestAddMergeRuleMergesExisting(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	ex := &fakeExtractor{entities: []generation.Entity{
		{Name: "Keeper", Type: "character", Importance: 0.4},
		{Name: "Mara", Type: "character", Importance: 0.6},
	}}
	svc := New(db, ex, nil)
	if _, err := svc.ExtractAndLink(ctx, newChapter(t, db, "keeper")); err != nil {
		t.Fatalf("link: %v", err)
	}

	merged, err := svc.AddMergeRule(ctx, "keeper", "Mara")
	if err != nil || !merged {
		t.Fatalf("expected merge, got merged=%v err=%v", merged, err)
	}
	if _, err := db.GetEntityByName(ctx, "keeper"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected source deleted, got %v", err)
	}
	mara, err := db.GetEntityByName(ctx, "mara")
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if mara.MentionCount != 2 {
		t.Fatalf("expected summed mention count 2, got %d", mara.MentionCount)
	}

	overrides, err := svc.ListOverrides(ctx)
	if err != nil || len(overrides) != 1 || overrides[0].Target != "Mara" {
		t.Fatalf("expected stored merge rule, got %+v err=%v", overrides, err)
	}
	if err := svc.DeleteOverride(ctx, " KEEPER "); err != nil {
		t.Fatalf("delete override: %v", err)
	}
}

func TestMergeEntitiesValidation(t *testing.T) {
	svc := New(newTestStore(t), &fakeExtractor{}, nil)
	if err := svc.MergeEntities(context.Background(), "Tom", " tom"); err == nil {
		t.Fatalf("expected self-merge to fail")
	}
	if err := svc.MergeEntities(context.Background(), "ghost", "tom"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
