package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"storypool/internal/chaos"
	"storypool/internal/parser"
)

type chapterPayload struct {
	ChapterContent string             `json:"chapter_content" jsonschema:"the full chapter text"`
	Absurdity      *float64           `json:"absurdity"`
	Surrealism     *float64           `json:"surrealism"`
	Ridiculousness *float64           `json:"ridiculousness"`
	Insanity       *float64           `json:"insanity"`
	ContentLevels  map[string]float64 `json:"content_levels,omitempty" jsonschema:"intensity reached per content axis on a 0-10 scale"`
}

type PriorChapter struct {
	Number  int
	Content string
}

type ChapterRequest struct {
	Title                string
	Premise              string
	Tone                 string
	NarrativePerspective string
	StyleAuthors         []string
	Recent               []PriorChapter
	ChapterNumber        int
	ChaosTargets         chaos.Readings
	ContentTargets       map[string]float64
	ContentSettings      map[string]chaos.ContentSetting
}

type Chapter struct {
	Content       string
	Chaos         chaos.Readings
	ContentLevels map[string]float64
	TokensUsed    int64
	Latency       time.Duration
}

// Chapter writes the next chapter. Missing or out-of-range chaos readings
// fall back to req.ChaosTargets and missing content levels to
// req.ContentTargets. A response with no usable text is a failed call.
func (c *Client) Chapter(ctx context.Context, req ChapterRequest) (*Chapter, error) {
	ct, err := contractFor[chapterPayload]()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	model := c.models.Chapter
	resp, err := c.complete(ctx, Request{
		Kind:        "chapter",
		Model:       model.Model,
		Prompt:      chapterPrompt(req),
		Schema:      ct.schema,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	tokens := resp.TotalTokens

	readings := chaos.Readings{
		Absurdity:      math.NaN(),
		Surrealism:     math.NaN(),
		Ridiculousness: math.NaN(),
		Insanity:       math.NaN(),
	}
	var reported map[string]float64
	var content string

	payload, _, err := decodeChecked[chapterPayload](c.logger, "chapter", resp.Text)
	switch {
	case err == nil:
		content = cleanChapterText(payload.ChapterContent)
		setReading(&readings, chaos.Absurdity, payload.Absurdity)
		setReading(&readings, chaos.Surrealism, payload.Surrealism)
		setReading(&readings, chaos.Ridiculousness, payload.Ridiculousness)
		setReading(&readings, chaos.Insanity, payload.Insanity)
		reported = payload.ContentLevels
	case errors.Is(err, parser.ErrNoObject):
		c.logger.Warn("chapter response is not JSON, using text as-is",
			zap.Int("chapter", req.ChapterNumber))
		content = cleanChapterText(resp.Text)
	default:
		return nil, fmt.Errorf("chapter: %w: %v", ErrUnavailable, err)
	}
	if content == "" {
		return nil, fmt.Errorf("chapter: %w: response has no chapter text", ErrUnavailable)
	}

	if needsConclusion(content) {
		conclusion, extra, err := c.concludeChapter(ctx, req, content)
		if err != nil {
			c.logger.Warn("chapter ended mid-sentence and conclusion failed",
				zap.Int("chapter", req.ChapterNumber), zap.Error(err))
		} else {
			content = conclusion
			tokens += extra
		}
	}

	return &Chapter{
		Content:       content,
		Chaos:         chaos.Sanitize(readings, req.ChaosTargets),
		ContentLevels: chaos.SanitizeContent(reported, req.ContentTargets),
		TokensUsed:    tokens,
		Latency:       time.Since(start),
	}, nil
}

func setReading(r *chaos.Readings, axis chaos.Axis, v *float64) {
	if v != nil {
		r.Set(axis, *v)
	}
}

func (c *Client) concludeChapter(ctx context.Context, req ChapterRequest, draft string) (string, int64, error) {
	model := c.models.Chapter
	maxTokens := max(256, int(float64(model.MaxTokens)*0.35))
	prompt := fmt.Sprintf("Story: %s\nPremise: %s\n"+
		"The following chapter draft ended abruptly. Continue it with a concise concluding section (1-2 paragraphs) "+
		"that resolves the immediate scene while preserving tension for future chapters. "+
		"Maintain the same perspective, tone and pacing, and do not repeat existing text.\n\n"+
		"Chapter draft so far:\n%s\n\nWrite only the new concluding text.",
		req.Title, req.Premise, draft)

	resp, err := c.complete(ctx, Request{
		Kind:        "chapter_conclusion",
		Model:       model.Model,
		Prompt:      prompt,
		Temperature: model.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", 0, err
	}
	addition := strings.TrimSpace(resp.Text)
	if addition == "" {
		return "", 0, fmt.Errorf("empty conclusion")
	}
	return strings.TrimRight(draft, " \n") + "\n\n" + addition, resp.TotalTokens, nil
}

func chapterPrompt(req ChapterRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Story: %s\nPremise: %s\n", req.Title, req.Premise)
	if len(req.Recent) == 0 {
		b.WriteString("Previous chapters: None yet.\n")
	} else {
		b.WriteString("Previous chapters:\n")
		for i, ch := range req.Recent {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "Chapter %d: %s\n", ch.Number, ch.Content)
		}
	}
	switch len(req.StyleAuthors) {
	case 0:
	case 1:
		fmt.Fprintf(&b, "\nSTYLE GUIDE: Write in the style and sensibilities of %s. Do not mention this author by name in the text.\n", req.StyleAuthors[0])
	default:
		fmt.Fprintf(&b, "\nSTYLE GUIDE: Blend the writing styles and sensibilities of %s. Do not mention these authors by name in the text.\n", joinAuthors(req.StyleAuthors))
	}
	if req.NarrativePerspective != "" {
		fmt.Fprintf(&b, "Narrative perspective: %s\n", req.NarrativePerspective)
	}
	if req.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	}

	fmt.Fprintf(&b, "\nWrite Chapter %d. Continue naturally, develop characters and plot, introduce complications.\n", req.ChapterNumber)
	b.WriteString("Aim for 600-900 words and give the chapter a beginning, middle and end. ")
	b.WriteString("Do not end mid-sentence; conclude with a strong beat or hook.\n\n")

	t := req.ChaosTargets
	b.WriteString("CHAOS PARAMETERS for this chapter (scale 0.0-1.0):\n")
	fmt.Fprintf(&b, "- Absurdity: %.3f (logical inconsistencies, bizarre situations)\n", t.Absurdity)
	fmt.Fprintf(&b, "- Surrealism: %.3f (dreamlike, symbolic, reality-bending elements)\n", t.Surrealism)
	fmt.Fprintf(&b, "- Ridiculousness: %.3f (comedic absurdity, over-the-top scenarios)\n", t.Ridiculousness)
	fmt.Fprintf(&b, "- Insanity: %.3f (chaotic, unhinged, breaking conventions)\n\n", t.Insanity)

	if len(req.ContentTargets) > 0 {
		b.WriteString("CONTENT AXES for this chapter (scale 0-10; keep depictions implicit and policy-safe, no explicit scenes):\n")
		for _, axis := range orderedAxes(req.ContentTargets) {
			target := req.ContentTargets[axis]
			fmt.Fprintf(&b, "- %s: target intensity %.2f/10 (%s, %s)\n",
				axisLabel(axis), target, intensityDescriptor(target), momentumShort(req.ContentSettings[axis].Momentum))
		}
		b.WriteString("\n")
	}

	b.WriteString("Respond with only a JSON object with the fields chapter_content, absurdity, surrealism, ridiculousness, ")
	b.WriteString("insanity and content_levels. Return the exact chaos parameter values given above, and report in ")
	b.WriteString("content_levels how intense each content axis became in this chapter on a 0-10 scale.\n")
	return b.String()
}

// cleanChapterText unwraps a chapter that arrived as a quoted JSON string and
// drops a trailing block of chaos readings leaked into the prose.
func cleanChapterText(raw string) string {
	text := strings.TrimSpace(raw)
	if len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) {
		var decoded string
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			text = strings.TrimSpace(decoded)
		}
	}
	if strings.Contains(text, `"absurdity"`) && !strings.Contains(text, `"chapter_content"`) {
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), `"absurdity"`) {
				text = strings.TrimSpace(strings.Join(lines[:i], "\n"))
				break
			}
		}
	}
	return text
}

func needsConclusion(text string) bool {
	trimmed := strings.TrimRight(text, " \t\r\n")
	trimmed = strings.TrimRight(trimmed, "'\"”’])»")
	if trimmed == "" || strings.HasSuffix(trimmed, "...") {
		return false
	}
	last := []rune(trimmed)
	switch last[len(last)-1] {
	case '.', '!', '?', '…':
		return false
	}
	return true
}
