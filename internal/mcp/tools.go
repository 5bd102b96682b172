package mcp

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"storypool/internal/chaos"
	"storypool/internal/store"
)

type ListStoriesInput struct {
	Status string `json:"status,omitempty" jsonschema:"active, completed or killed; empty lists all"`
}

type StoryIDInput struct {
	ID int64 `json:"id" jsonschema:"story id"`
}

type SpawnStoryInput struct {
	Force bool `json:"force,omitempty" jsonschema:"exceed the pool maximum instead of retiring the oldest story"`
}

type KillStoryInput struct {
	ID     int64  `json:"id" jsonschema:"story id"`
	Reason string `json:"reason,omitempty" jsonschema:"completion reason"`
}

type ResetPoolInput struct {
	Confirm bool `json:"confirm" jsonschema:"must be true; deletes every story"`
}

type MergeEntitiesInput struct {
	Source string `json:"source" jsonschema:"entity name to fold away"`
	Target string `json:"target" jsonschema:"entity name to keep"`
}

type SuppressEntityInput struct {
	Name string `json:"name" jsonschema:"entity name to stop linking"`
}

type ListEntitiesInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum entities returned"`
}

type StatsInput struct{}

type StoryOutput struct {
	ID               int64       `json:"id"`
	Title            string      `json:"title"`
	Premise          string      `json:"premise"`
	Status           string      `json:"status"`
	CreatedAt        string      `json:"created_at"`
	CompletedAt      string      `json:"completed_at,omitempty"`
	CompletionReason string      `json:"completion_reason,omitempty"`
	Seeds            chaos.Seeds `json:"seeds"`
	TotalTokens      int64       `json:"total_tokens"`
	Tone             string      `json:"tone"`
	GenreTags        []string    `json:"genre_tags"`
	CoverImageURL    string      `json:"cover_image_url,omitempty"`
}

type ChapterOutput struct {
	Number     int            `json:"number"`
	Content    string         `json:"content"`
	Chaos      chaos.Readings `json:"chaos"`
	TokensUsed int64          `json:"tokens_used"`
	CreatedAt  string         `json:"created_at"`
}

type EvaluationOutput struct {
	ChapterNumber  int      `json:"chapter_number"`
	OverallScore   float64  `json:"overall_score"`
	ShouldContinue bool     `json:"should_continue"`
	Reasoning      string   `json:"reasoning"`
	Issues         []string `json:"issues"`
}

type ListStoriesOutput struct {
	Stories []StoryOutput `json:"stories"`
}

type GetStoryOutput struct {
	Story       StoryOutput        `json:"story"`
	Chapters    []ChapterOutput    `json:"chapters"`
	Evaluations []EvaluationOutput `json:"evaluations"`
}

type DeleteStoryOutput struct {
	Deleted int64 `json:"deleted"`
}

type ResetPoolOutput struct {
	DeletedStories int64 `json:"deleted_stories"`
}

type MergeEntitiesOutput struct {
	Merged bool `json:"merged"`
}

type SuppressEntityOutput struct {
	Suppressed string `json:"suppressed"`
}

type EntityOutput struct {
	Name         string  `json:"name"`
	EntityType   string  `json:"type"`
	MentionCount int     `json:"mention_count"`
	Importance   float64 `json:"importance"`
}

type ListEntitiesOutput struct {
	Entities []EntityOutput `json:"entities"`
}

type StatsOutput struct {
	ActiveStories    int            `json:"active_stories"`
	CompletedStories int            `json:"completed_stories"`
	KilledStories    int            `json:"killed_stories"`
	TotalChapters    int            `json:"total_chapters"`
	TotalTokens      int64          `json:"total_tokens"`
	TotalEntities    int            `json:"total_entities"`
	AverageChaos     chaos.Readings `json:"average_chaos"`
	// QualityScoreMin is the retirement threshold currently in force.
	QualityScoreMin float64 `json:"quality_score_min"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_stories",
		Description: "List stories, newest first, optionally filtered by status",
	}, s.handleListStories)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_story",
		Description: "Retrieve a story with its chapters and evaluations",
	}, s.handleGetStory)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "spawn_story",
		Description: "Create a new story now",
	}, s.handleSpawnStory)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "kill_story",
		Description: "Terminate an active story",
	}, s.handleKillStory)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "delete_story",
		Description: "Delete a story and everything recorded for it",
	}, s.handleDeleteStory)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "reset_pool",
		Description: "Delete every story and the stored runtime overrides",
	}, s.handleResetPool)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "merge_entities",
		Description: "Fold one entity into another and route future mentions to it",
	}, s.handleMergeEntities)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "suppress_entity",
		Description: "Stop linking an entity name from future chapters",
	}, s.handleSuppressEntity)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_entities",
		Description: "List the most mentioned entities",
	}, s.handleListEntities)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "stats",
		Description: "Summarize the pool",
	}, s.handleStats)
}

func (s *Server) handleListStories(ctx context.Context, req *sdk.CallToolRequest, input ListStoriesInput) (*sdk.CallToolResult, ListStoriesOutput, error) {
	stories, err := s.admin.ListStories(ctx, store.StoryStatus(input.Status))
	if err != nil {
		return nil, ListStoriesOutput{}, err
	}
	output := make([]StoryOutput, 0, len(stories))
	for _, story := range stories {
		output = append(output, storyOutput(story))
	}
	return nil, ListStoriesOutput{Stories: output}, nil
}

func (s *Server) handleGetStory(ctx context.Context, req *sdk.CallToolRequest, input StoryIDInput) (*sdk.CallToolResult, GetStoryOutput, error) {
	if input.ID <= 0 {
		return nil, GetStoryOutput{}, fmt.Errorf("id is required")
	}
	detail, err := s.admin.GetStory(ctx, input.ID)
	if err != nil {
		return nil, GetStoryOutput{}, err
	}
	out := GetStoryOutput{
		Story:       storyOutput(detail.Story),
		Chapters:    make([]ChapterOutput, 0, len(detail.Chapters)),
		Evaluations: make([]EvaluationOutput, 0, len(detail.Evaluations)),
	}
	for _, ch := range detail.Chapters {
		out.Chapters = append(out.Chapters, ChapterOutput{
			Number:     ch.ChapterNumber,
			Content:    ch.Content,
			Chaos:      ch.Chaos,
			TokensUsed: ch.TokensUsed,
			CreatedAt:  timestamp(ch.CreatedAt),
		})
	}
	for _, ev := range detail.Evaluations {
		out.Evaluations = append(out.Evaluations, EvaluationOutput{
			ChapterNumber:  ev.ChapterNumber,
			OverallScore:   ev.OverallScore,
			ShouldContinue: ev.ShouldContinue,
			Reasoning:      ev.Reasoning,
			Issues:         append([]string{}, ev.Issues...),
		})
	}
	return nil, out, nil
}

func (s *Server) handleSpawnStory(ctx context.Context, req *sdk.CallToolRequest, input SpawnStoryInput) (*sdk.CallToolResult, StoryOutput, error) {
	story, err := s.admin.Spawn(ctx, input.Force)
	if err != nil {
		return nil, StoryOutput{}, err
	}
	return nil, storyOutput(*story), nil
}

func (s *Server) handleKillStory(ctx context.Context, req *sdk.CallToolRequest, input KillStoryInput) (*sdk.CallToolResult, StoryOutput, error) {
	if input.ID <= 0 {
		return nil, StoryOutput{}, fmt.Errorf("id is required")
	}
	story, err := s.admin.Kill(ctx, input.ID, input.Reason)
	if err != nil {
		return nil, StoryOutput{}, err
	}
	return nil, storyOutput(*story), nil
}

func (s *Server) handleDeleteStory(ctx context.Context, req *sdk.CallToolRequest, input StoryIDInput) (*sdk.CallToolResult, DeleteStoryOutput, error) {
	if input.ID <= 0 {
		return nil, DeleteStoryOutput{}, fmt.Errorf("id is required")
	}
	if err := s.admin.Delete(ctx, input.ID); err != nil {
		return nil, DeleteStoryOutput{}, err
	}
	return nil, DeleteStoryOutput{Deleted: input.ID}, nil
}

func (s *Server) handleResetPool(ctx context.Context, req *sdk.CallToolRequest, input ResetPoolInput) (*sdk.CallToolResult, ResetPoolOutput, error) {
	if !input.Confirm {
		return nil, ResetPoolOutput{}, fmt.Errorf("confirm must be true to reset the pool")
	}
	deleted, err := s.admin.Reset(ctx)
	if err != nil {
		return nil, ResetPoolOutput{}, err
	}
	return nil, ResetPoolOutput{DeletedStories: deleted}, nil
}

func (s *Server) handleMergeEntities(ctx context.Context, req *sdk.CallToolRequest, input MergeEntitiesInput) (*sdk.CallToolResult, MergeEntitiesOutput, error) {
	merged, err := s.admin.MergeEntities(ctx, input.Source, input.Target)
	if err != nil {
		return nil, MergeEntitiesOutput{}, err
	}
	return nil, MergeEntitiesOutput{Merged: merged}, nil
}

func (s *Server) handleSuppressEntity(ctx context.Context, req *sdk.CallToolRequest, input SuppressEntityInput) (*sdk.CallToolResult, SuppressEntityOutput, error) {
	if err := s.admin.SuppressEntity(ctx, input.Name); err != nil {
		return nil, SuppressEntityOutput{}, err
	}
	return nil, SuppressEntityOutput{Suppressed: input.Name}, nil
}

func (s *Server) handleListEntities(ctx context.Context, req *sdk.CallToolRequest, input ListEntitiesInput) (*sdk.CallToolResult, ListEntitiesOutput, error) {
	entities, err := s.admin.Entities(ctx, input.Limit)
	if err != nil {
		return nil, ListEntitiesOutput{}, err
	}
	output := make([]EntityOutput, 0, len(entities))
	for _, e := range entities {
		output = append(output, EntityOutput{
			Name:         e.Name,
			EntityType:   string(e.EntityType),
			MentionCount: e.MentionCount,
			Importance:   e.Importance,
		})
	}
	return nil, ListEntitiesOutput{Entities: output}, nil
}

func (s *Server) handleStats(ctx context.Context, req *sdk.CallToolRequest, input StatsInput) (*sdk.CallToolResult, StatsOutput, error) {
	stats, err := s.admin.Stats(ctx)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	rt, err := s.admin.Config(ctx)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	return nil, StatsOutput{
		ActiveStories:    stats.ActiveStories,
		CompletedStories: stats.CompletedStories,
		KilledStories:    stats.KilledStories,
		TotalChapters:    stats.TotalChapters,
		TotalTokens:      stats.TotalTokens,
		TotalEntities:    stats.TotalEntities,
		AverageChaos:     stats.AverageChaos,
		QualityScoreMin:  rt.QualityScoreMin,
	}, nil
}

func storyOutput(s store.Story) StoryOutput {
	out := StoryOutput{
		ID:               s.ID,
		Title:            s.Title,
		Premise:          s.Premise,
		Status:           string(s.Status),
		CreatedAt:        timestamp(s.CreatedAt),
		CompletionReason: s.CompletionReason,
		Seeds:            s.Seeds,
		TotalTokens:      s.TotalTokens,
		Tone:             s.Tone,
		GenreTags:        append([]string{}, s.GenreTags...),
		CoverImageURL:    s.CoverImageURL,
	}
	if s.CompletedAt != nil {
		out.CompletedAt = timestamp(*s.CompletedAt)
	}
	return out
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
