package generation

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"storypool/internal/chaos"
)

const (
	coverSize          = "1024x1024"
	maxCoverPremiseLen = 200
	coverRewriteSystem = "You rewrite book-cover image prompts so they are strictly PG-13 and avoid explicit, " +
		"graphic or policy-sensitive language. Return only the cleaned prompt text with no extra commentary."
)

var coverMoods = map[string]string{
	"sexual_content":         "romantic tension",
	"violence":               "dynamic action energy",
	"strong_language":        "gritty attitude",
	"drug_use":               "underground nightlife vibes",
	"horror_suspense":        "eerie suspense",
	"gore_graphic_imagery":   "shadowy intensity (no gore shown)",
	"romance_focus":          "heartfelt relationships",
	"crime_illicit_activity": "noir intrigue",
	"political_ideology":     "ideological debate",
	"supernatural_occult":    "mystical wonder",
}

type CoverRequest struct {
	Title           string
	Premise         string
	Tone            string
	GenreTags       []string
	ContentSettings map[string]chaos.ContentSetting
}

// CoverArt renders a cover image for a finished story. The prompt is
// softened locally, then rewritten by the text model when that succeeds.
func (c *Client) CoverArt(ctx context.Context, req CoverRequest) (*Image, error) {
	if c.images == nil {
		return nil, fmt.Errorf("cover: %w: no image backend configured", ErrUnavailable)
	}
	prompt := coverPrompt(req)
	if rewritten, err := c.rewriteCoverPrompt(ctx, prompt); err != nil {
		c.logger.Warn("cover prompt rewrite failed, using softened prompt", zap.Error(err))
	} else if rewritten != "" {
		prompt = rewritten
	}

	var img *Image
	err := c.retry(ctx, "cover", func(ctx context.Context) error {
		var err error
		img, err = c.images.GenerateImage(ctx, ImageRequest{
			Model:  c.models.Cover.Model,
			Prompt: prompt,
			Size:   coverSize,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("cover: %w: empty image", ErrUnavailable)
	}
	return img, nil
}

func (c *Client) rewriteCoverPrompt(ctx context.Context, prompt string) (string, error) {
	model := c.models.Extraction
	resp, err := c.complete(ctx, Request{
		Kind:   "cover_prompt",
		Model:  model.Model,
		System: coverRewriteSystem,
		Prompt: "Soften the following image prompt so it complies with image generation policies while " +
			"keeping its creative intent. Respond with the revised prompt only.\n\nPROMPT:\n" + prompt,
		Temperature: model.Temperature,
		MaxTokens:   600,
	})
	if err != nil {
		return "", err
	}
	return SoftenPrompt(resp.Text), nil
}

func coverPrompt(req CoverRequest) string {
	title := SoftenPrompt(req.Title)
	premise := SoftenPrompt(truncateRunes(req.Premise, maxCoverPremiseLen))

	var b strings.Builder
	fmt.Fprintf(&b, "Book cover art for a science fiction story titled '%s'. Story premise: %s. ", title, premise)
	if tone := SoftenPrompt(req.Tone); tone != "" {
		fmt.Fprintf(&b, "Tone: %s. ", tone)
	}
	if len(req.GenreTags) > 0 {
		fmt.Fprintf(&b, "Genres: %s. ", SoftenPrompt(strings.Join(req.GenreTags, ", ")))
	}
	if moods := coverMoodCues(req.ContentSettings); moods != "" {
		fmt.Fprintf(&b, "Mood cues: %s. ", moods)
	}
	b.WriteString("Create a striking, atmospheric cover image with a cinematic composition. ")
	b.WriteString("Style: modern sci-fi book cover, professional, dramatic lighting. ")
	b.WriteString("Keep the imagery PG-13: avoid nudity, explicit intimacy, graphic violence or gore. ")
	fmt.Fprintf(&b, "Render the title text '%s' clearly within the artwork with polished typography.", title)
	return b.String()
}

// coverMoodCues describes the three strongest content axes.
func coverMoodCues(settings map[string]chaos.ContentSetting) string {
	axes := orderedAxes(settings)
	slices.SortStableFunc(axes, func(a, b string) int {
		la, lb := settings[a].AverageLevel, settings[b].AverageLevel
		switch {
		case la > lb:
			return -1
		case la < lb:
			return 1
		}
		return 0
	})
	if len(axes) > 3 {
		axes = axes[:3]
	}

	cues := make([]string, 0, len(axes))
	for _, axis := range axes {
		s := settings[axis]
		mood, ok := coverMoods[axis]
		if !ok {
			mood = axisLabel(axis)
		}
		intensity := intensityDescriptor(s.AverageLevel)
		cues = append(cues, fmt.Sprintf("%s%s %s, %s across chapters",
			strings.ToUpper(intensity[:1]), intensity[1:], mood, momentumShort(s.Momentum)))
	}
	return strings.Join(cues, "; ")
}
