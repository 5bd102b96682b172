package store

import (
	"time"

	"storypool/internal/chaos"
)

type StoryStatus string

const (
	StatusActive    StoryStatus = "active"
	StatusCompleted StoryStatus = "completed"
	StatusKilled    StoryStatus = "killed"
)

func (s StoryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusKilled
}

func (s StoryStatus) Valid() bool {
	return s == StatusActive || s.Terminal()
}

type Story struct {
	ID                   int64                           `json:"id"`
	Title                string                          `json:"title"`
	Premise              string                          `json:"premise"`
	Status               StoryStatus                     `json:"status"`
	CreatedAt            time.Time                       `json:"created_at"`
	CompletedAt          *time.Time                      `json:"completed_at,omitempty"`
	CompletionReason     string                          `json:"completion_reason,omitempty"`
	Seeds                chaos.Seeds                     `json:"seeds"`
	ContentSettings      map[string]chaos.ContentSetting `json:"content_settings"`
	TotalTokens          int64                           `json:"total_tokens"`
	Tone                 string                          `json:"tone"`
	GenreTags            []string                        `json:"genre_tags"`
	StyleAuthors         []string                        `json:"style_authors"`
	NarrativePerspective string                          `json:"narrative_perspective"`
	CoverImageURL        string                          `json:"cover_image_url,omitempty"`
}

type Chapter struct {
	ID            int64              `json:"id"`
	StoryID       int64              `json:"story_id"`
	ChapterNumber int                `json:"chapter_number"`
	Content       string             `json:"content"`
	Chaos         chaos.Readings     `json:"chaos"`
	ContentLevels map[string]float64 `json:"content_levels"`
	LatencyMillis int64              `json:"latency_millis"`
	TokensUsed    int64              `json:"tokens_used"`
	CreatedAt     time.Time          `json:"created_at"`
}

type Evaluation struct {
	ID              int64     `json:"id"`
	StoryID         int64     `json:"story_id"`
	ChapterNumber   int       `json:"chapter_number"`
	CoherenceScore  float64   `json:"coherence_score"`
	NoveltyScore    float64   `json:"novelty_score"`
	EngagementScore float64   `json:"engagement_score"`
	PacingScore     float64   `json:"pacing_score"`
	OverallScore    float64   `json:"overall_score"`
	ShouldContinue  bool      `json:"should_continue"`
	Reasoning       string    `json:"reasoning"`
	Issues          []string  `json:"issues"`
	CreatedAt       time.Time `json:"created_at"`
}

type EntityType string

const (
	EntityCharacter    EntityType = "character"
	EntityPlace        EntityType = "place"
	EntityObject       EntityType = "object"
	EntityConcept      EntityType = "concept"
	EntityOrganization EntityType = "organization"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityCharacter, EntityPlace, EntityObject, EntityConcept, EntityOrganization:
		return true
	}
	return false
}

type Entity struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	CanonicalName string     `json:"canonical_name"`
	EntityType    EntityType `json:"entity_type"`
	MentionCount  int        `json:"mention_count"`
	Importance    float64    `json:"importance"`
	FirstSeenAt   time.Time  `json:"first_seen_at"`
}

// EntityUpsert is one extracted entity resolved to its canonical key.
type EntityUpsert struct {
	Name          string
	CanonicalName string
	EntityType    EntityType
	Importance    float64
}

type Mention struct {
	StoryID      int64   `json:"story_id"`
	EntityID     int64   `json:"entity_id"`
	FirstChapter int     `json:"first_chapter"`
	LastChapter  int     `json:"last_chapter"`
	MentionCount int     `json:"mention_count"`
	Importance   float64 `json:"importance"`
	Sentiment    float64 `json:"sentiment"`
}

type MentionUpsert struct {
	StoryID       int64
	EntityID      int64
	ChapterNumber int
	Importance    float64
	Sentiment     float64
}

type Feature struct {
	ChapterID    int64
	EntityID     int64
	MentionCount int
	Importance   float64
	Sentiment    float64
}

type FeatureUpsert struct {
	ChapterID  int64
	EntityID   int64
	Importance float64
	Sentiment  float64
}

type Relationship struct {
	EntityA           int64     `json:"entity_a"`
	EntityB           int64     `json:"entity_b"`
	CooccurrenceCount int       `json:"cooccurrence_count"`
	Strength          float64   `json:"strength"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Cooccurrence is an unordered entity pair (EntityA < EntityB) seen together
// in Stories distinct stories.
type Cooccurrence struct {
	EntityA int64
	EntityB int64
	Stories int
}

type OverrideAction string

const (
	OverrideSuppress OverrideAction = "suppress"
	OverrideMerge    OverrideAction = "merge"
)

type EntityOverride struct {
	CanonicalName string         `json:"canonical_name"`
	Action        OverrideAction `json:"action"`
	Target        string         `json:"target,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

type Lease struct {
	Name      string
	Holder    string
	Token     int64
	ExpiresAt time.Time
}

type Stats struct {
	ActiveStories    int            `json:"active_stories"`
	CompletedStories int            `json:"completed_stories"`
	KilledStories    int            `json:"killed_stories"`
	TotalChapters    int            `json:"total_chapters"`
	TotalTokens      int64          `json:"total_tokens"`
	AverageChaos     chaos.Readings `json:"average_chaos"`
	TotalEntities    int            `json:"total_entities"`
}
