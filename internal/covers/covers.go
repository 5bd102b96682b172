package covers

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storypool/internal/generation"
	"storypool/internal/store"
)

// ErrDisabled is returned when no object storage is configured.
var ErrDisabled = errors.New("cover storage is not configured")

type Artist interface {
	CoverArt(ctx context.Context, req generation.CoverRequest) (*generation.Image, error)
}

type Uploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Service struct {
	stories  store.Stories
	artist   Artist
	uploader Uploader
	prefix   string
	logger   *zap.Logger
}

// New builds the cover service. A nil uploader disables cover art.
func New(stories store.Stories, artist Artist, uploader Uploader, prefix string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{stories: stories, artist: artist, uploader: uploader, prefix: prefix, logger: logger}
}

func (s *Service) Enabled() bool {
	return s.uploader != nil
}

// Ensure gives s a cover image unless it already has one and returns its
// URL. On failure the story keeps no cover and stays eligible for backfill.
func (s *Service) Ensure(ctx context.Context, story store.Story) (string, error) {
	if story.CoverImageURL != "" {
		return story.CoverImageURL, nil
	}
	if s.uploader == nil {
		return "", ErrDisabled
	}

	img, err := s.artist.CoverArt(ctx, generation.CoverRequest{
		Title:           story.Title,
		Premise:         story.Premise,
		Tone:            story.Tone,
		GenreTags:       story.GenreTags,
		ContentSettings: story.ContentSettings,
	})
	if err != nil {
		return "", fmt.Errorf("generating cover for story %d: %w", story.ID, err)
	}

	key := path.Join(s.prefix, fmt.Sprintf("%d-%s%s", story.ID, uuid.NewString(), extension(img.ContentType)))
	url, err := s.uploader.Put(ctx, key, img.Data, img.ContentType)
	if err != nil {
		return "", fmt.Errorf("storing cover for story %d: %w", story.ID, err)
	}
	if err := s.stories.SetCoverImage(ctx, story.ID, url); err != nil {
		return "", fmt.Errorf("saving cover url for story %d: %w", story.ID, err)
	}

	s.logger.Info("cover image stored", zap.Int64("story_id", story.ID), zap.String("url", url))
	return url, nil
}

// Backfill adds covers to up to limit finished stories that lack one. A
// failing story is logged and left for the next run.
func (s *Service) Backfill(ctx context.Context, limit int) (int, error) {
	if s.uploader == nil || limit <= 0 {
		return 0, nil
	}
	stories, err := s.stories.ListStoriesMissingCover(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("listing stories without covers: %w", err)
	}

	added := 0
	for _, story := range stories {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Ensure(ctx, story); err != nil {
			s.logger.Warn("cover backfill failed", zap.Int64("story_id", story.ID), zap.Error(err))
			continue
		}
		added++
	}
	return added, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
