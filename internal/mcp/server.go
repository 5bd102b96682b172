package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"storypool/internal/admin"
	"storypool/internal/config"
	"storypool/internal/store"
)

// Admin is the operator surface the tools call into.
type Admin interface {
	ListStories(ctx context.Context, status store.StoryStatus) ([]store.Story, error)
	GetStory(ctx context.Context, id int64) (*admin.StoryDetail, error)
	Spawn(ctx context.Context, force bool) (*store.Story, error)
	Kill(ctx context.Context, id int64, reason string) (*store.Story, error)
	Delete(ctx context.Context, id int64) error
	Reset(ctx context.Context) (int64, error)
	Config(ctx context.Context) (config.RuntimeConfig, error)
	Stats(ctx context.Context) (*store.Stats, error)
	Entities(ctx context.Context, limit int) ([]store.Entity, error)
	MergeEntities(ctx context.Context, source, target string) (bool, error)
	SuppressEntity(ctx context.Context, name string) error
}

type Server struct {
	admin Admin
	mcp   *sdk.Server
}

func NewServer(svc Admin, version string) *Server {
	s := &Server{
		admin: svc,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "storypool",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}
