package generation

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"storypool/internal/config"
)

// GeminiBackend serves completions and images through the Gemini API.
type GeminiBackend struct {
	client  *genai.Client
	limiter *rate.Limiter
}

var (
	_ Completer      = (*GeminiBackend)(nil)
	_ ImageGenerator = (*GeminiBackend)(nil)
)

func NewGeminiBackend(ctx context.Context, cfg config.GenerationConfig) (*GeminiBackend, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &GeminiBackend{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}, nil
}

func (b *GeminiBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = req.Schema
	}

	resp, err := b.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	out := &Response{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.TotalTokens = int64(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

func (b *GeminiBackend) GenerateImage(ctx context.Context, req ImageRequest) (*Image, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := b.client.Models.GenerateImages(ctx, req.Model, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return nil, fmt.Errorf("generating image: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, fmt.Errorf("no image in response")
	}
	img := resp.GeneratedImages[0].Image
	contentType := img.MIMEType
	if contentType == "" {
		contentType = "image/png"
	}
	return &Image{Data: img.ImageBytes, ContentType: contentType}, nil
}
