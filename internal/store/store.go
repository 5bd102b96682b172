package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness violation or a conditional write that
	// found the row already transitioned. Callers treat it as already handled.
	ErrConflict = errors.New("conflict")
)

type Stories interface {
	CreateStory(ctx context.Context, s *Story) error
	GetStory(ctx context.Context, id int64) (*Story, error)
	ListStories(ctx context.Context, status StoryStatus) ([]Story, error)
	CountStories(ctx context.Context, status StoryStatus) (int, error)
	// CompleteStory moves an active story to a terminal status. It returns
	// ErrConflict when the story is no longer active.
	CompleteStory(ctx context.Context, id int64, status StoryStatus, reason string, at time.Time) error
	DeleteStory(ctx context.Context, id int64) error
	DeleteAllStories(ctx context.Context) (int64, error)
	AddStoryTokens(ctx context.Context, id int64, tokens int64) error
	SetCoverImage(ctx context.Context, id int64, url string) error
	ListStoriesMissingCover(ctx context.Context, limit int) ([]Story, error)
}

type Chapters interface {
	// CreateChapter also adds the chapter's tokens to the story total, in the
	// same write. It returns ErrConflict if (story, number) already exists.
	CreateChapter(ctx context.Context, c *Chapter) error
	// LastChapter returns nil, nil when the story has no chapters.
	LastChapter(ctx context.Context, storyID int64) (*Chapter, error)
	RecentChapters(ctx context.Context, storyID int64, limit int) ([]Chapter, error)
	ListChapters(ctx context.Context, storyID int64) ([]Chapter, error)
}

type Evaluations interface {
	// CreateEvaluation returns ErrConflict if (story, chapter) already exists.
	CreateEvaluation(ctx context.Context, e *Evaluation) error
	// LastEvaluation returns nil, nil when the story was never evaluated.
	LastEvaluation(ctx context.Context, storyID int64) (*Evaluation, error)
	ListEvaluations(ctx context.Context, storyID int64) ([]Evaluation, error)
}

type Graph interface {
	UpsertEntity(ctx context.Context, e EntityUpsert) (*Entity, error)
	UpsertMention(ctx context.Context, m MentionUpsert) error
	UpsertFeature(ctx context.Context, f FeatureUpsert) error
	GetEntityByName(ctx context.Context, canonicalName string) (*Entity, error)
	TopEntities(ctx context.Context, limit int) ([]Entity, error)
	ListMentions(ctx context.Context, entityID int64) ([]Mention, error)
	ListFeatures(ctx context.Context, entityID int64) ([]Feature, error)
	Cooccurrences(ctx context.Context, minStories int) ([]Cooccurrence, error)
	UpsertRelationship(ctx context.Context, r Relationship) error
	ListRelationships(ctx context.Context, entityID int64) ([]Relationship, error)
	// MergeEntities folds source into target and deletes source in one
	// transaction.
	MergeEntities(ctx context.Context, sourceID, targetID int64) error

	SaveOverride(ctx context.Context, o EntityOverride) error
	ListOverrides(ctx context.Context) ([]EntityOverride, error)
	DeleteOverride(ctx context.Context, canonicalName string) error
}

type Leases interface {
	// AcquireLease takes name for holder unless another holder owns an
	// unexpired lease. Every successful acquisition bumps the fencing token.
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (*Lease, bool, error)
	ReleaseLease(ctx context.Context, name, holder string, token int64) error
}

type Settings interface {
	GetSetting(ctx context.Context, key string) ([]byte, error)
	PutSetting(ctx context.Context, key string, value []byte) error
	DeleteSetting(ctx context.Context, key string) error
}

type Store interface {
	Stories
	Chapters
	Evaluations
	Graph
	Leases
	Settings

	Stats(ctx context.Context) (*Stats, error)
	EnsureSchema(ctx context.Context) error
	Close(ctx context.Context) error
}

// BlendImportance is the running-average rule applied whenever an entity,
// mention or feature is seen again.
func BlendImportance(old, new float64) float64 {
	return (old + new) / 2
}
