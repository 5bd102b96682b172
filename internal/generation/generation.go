package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"storypool/internal/config"
)

// ErrUnavailable is returned once every attempt of a call has failed. The
// caller skips the story for this tick.
var ErrUnavailable = errors.New("generation unavailable")

// StatusError carries a non-2xx status from a backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}

// Request is one structured text completion.
type Request struct {
	Kind        string
	Model       string
	System      string
	Prompt      string
	Schema      *jsonschema.Schema
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Text        string
	TotalTokens int64
}

type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
}

type Image struct {
	Data        []byte
	ContentType string
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*Image, error)
}

// Client wraps a backend with per-attempt timeouts, retries and
// schema-checked decoding for every request kind.
type Client struct {
	completer   Completer
	images      ImageGenerator
	models      config.ModelsConfig
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
	sleep       func(context.Context, time.Duration) error
}

// New builds a Client. images may be nil, in which case cover art is
// reported as unavailable.
func New(completer Completer, images ImageGenerator, cfg config.GenerationConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		completer:   completer,
		images:      images,
		models:      cfg.Models,
		timeout:     cfg.Timeout,
		maxAttempts: attempts,
		backoff:     cfg.Backoff,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// NewBackend picks the backend named by cfg.Provider. The returned value
// implements both Completer and ImageGenerator.
func NewBackend(ctx context.Context, cfg config.GenerationConfig) (interface {
	Completer
	ImageGenerator
}, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIBackend(cfg), nil
	case "gemini":
		return NewGeminiBackend(ctx, cfg)
	}
	return nil, fmt.Errorf("unsupported generation provider: %q", cfg.Provider)
}

func (c *Client) complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := c.retry(ctx, req.Kind, func(ctx context.Context) error {
		var err error
		resp, err = c.completer.Complete(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
