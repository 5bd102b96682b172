package generation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"storypool/internal/chaos"
)

const (
	DefaultTone        = "mysterious"
	DefaultPerspective = "third-person-limited"
)

var perspectives = map[string]bool{
	"first-person":            true,
	"third-person-limited":    true,
	"third-person-omniscient": true,
	"second-person":           true,
}

var genericTitles = map[string]bool{
	"untitled":             true,
	"untitled expedition":  true,
	"the unknown journey":  true,
	"unknown journey":      true,
	"unknown":              true,
	"untitled story":       true,
	"the untitled journey": true,
}

type premisePayload struct {
	Title                string   `json:"title" jsonschema:"a unique memorable story title"`
	Premise              string   `json:"premise" jsonschema:"two or three sentences describing the story concept"`
	Themes               []string `json:"themes,omitempty"`
	Setting              string   `json:"setting,omitempty"`
	CentralConflict      string   `json:"central_conflict,omitempty"`
	NarrativePerspective string   `json:"narrative_perspective" jsonschema:"first-person, third-person-limited, third-person-omniscient or second-person"`
	Tone                 string   `json:"tone"`
	GenreTags            []string `json:"genre_tags"`
}

type PremiseRequest struct {
	// StoryCount is the number of stories created so far. It numbers the
	// fallback title.
	StoryCount      int
	StyleAuthors    []string
	ContentSettings map[string]chaos.ContentSetting
}

type Premise struct {
	Title                string
	Premise              string
	Tone                 string
	NarrativePerspective string
	GenreTags            []string
	StyleAuthors         []string
	TokensUsed           int64
}

// Premise asks for a new story concept. A response without premise text is
// a failed call. Every other field has a fallback.
func (c *Client) Premise(ctx context.Context, req PremiseRequest) (*Premise, error) {
	ct, err := contractFor[premisePayload]()
	if err != nil {
		return nil, err
	}
	model := c.models.Premise
	resp, err := c.complete(ctx, Request{
		Kind:        "premise",
		Model:       model.Model,
		Prompt:      premisePrompt(req),
		Schema:      ct.schema,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	payload, _, err := decodeChecked[premisePayload](c.logger, "premise", resp.Text)
	if err != nil {
		return nil, fmt.Errorf("premise: %w: %v", ErrUnavailable, err)
	}
	text := strings.TrimSpace(payload.Premise)
	if text == "" {
		return nil, fmt.Errorf("premise: %w: response has no premise text", ErrUnavailable)
	}

	title := strings.TrimSpace(payload.Title)
	if title == "" || genericTitles[strings.ToLower(title)] {
		c.logger.Warn("premise title missing or generic, using fallback", zap.String("title", title))
		title = fmt.Sprintf("Story %d", req.StoryCount+1)
	}
	tone := strings.TrimSpace(payload.Tone)
	if tone == "" {
		tone = DefaultTone
	}
	perspective := strings.ToLower(strings.TrimSpace(payload.NarrativePerspective))
	if !perspectives[perspective] {
		perspective = DefaultPerspective
	}

	return &Premise{
		Title:                title,
		Premise:              text,
		Tone:                 tone,
		NarrativePerspective: perspective,
		GenreTags:            cleanList(payload.GenreTags),
		StyleAuthors:         req.StyleAuthors,
		TokensUsed:           resp.TotalTokens,
	}, nil
}

func premisePrompt(req PremiseRequest) string {
	var b strings.Builder
	b.WriteString("Generate a unique, creative science fiction story premise.\n\n")
	b.WriteString("Requirements:\n")
	b.WriteString("- Create a completely unique, memorable title (never a generic title like 'Untitled Expedition' or 'The Unknown Journey')\n")
	b.WriteString("- Explore unusual, surreal, disturbing or mind-bending science fiction concepts\n")
	b.WriteString("- Include a character named Tom who is an engineer (major or minor role)\n")
	b.WriteString("- The story must be somewhat absurd, ridiculous and surreal; choose how much of each at random\n")
	b.WriteString("- Write a detailed premise of at least two sentences\n")
	switch len(req.StyleAuthors) {
	case 0:
	case 1:
		fmt.Fprintf(&b, "- Adopt the writing style and sensibilities of %s\n", req.StyleAuthors[0])
	default:
		fmt.Fprintf(&b, "- Blend the writing styles and sensibilities of %s\n", joinAuthors(req.StyleAuthors))
	}
	if len(req.StyleAuthors) > 0 {
		b.WriteString("- Do not mention these authors by name in the title or premise\n")
		b.WriteString("- Let their influence guide the tone, perspective, themes and narrative approach\n")
	}
	if lines := contentSettingLines(req.ContentSettings); lines != "" {
		b.WriteString("\nContent intensity targets (scale 0-10). Keep every depiction implicit, allusive and policy-safe:\n")
		b.WriteString(lines)
	}
	b.WriteString("\nRespond with only a JSON object with the fields title, premise, themes, setting, central_conflict, ")
	b.WriteString("narrative_perspective (first-person, third-person-limited, third-person-omniscient or second-person), ")
	b.WriteString("tone and genre_tags.\n")
	return b.String()
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
