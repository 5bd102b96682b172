package generation

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultImportance  = 0.5
	maxExtractInputLen = 12000
	maxEntities        = 20
)

var entityTypes = map[string]bool{
	"character":    true,
	"place":        true,
	"object":       true,
	"concept":      true,
	"organization": true,
}

type extractedEntity struct {
	Name       string   `json:"name"`
	Type       string   `json:"type" jsonschema:"character, place, object, concept or organization"`
	Importance *float64 `json:"importance,omitempty" jsonschema:"0.0 to 1.0"`
	Sentiment  *float64 `json:"sentiment,omitempty" jsonschema:"-1.0 (hostile) to 1.0 (warm)"`
}

type extractionPayload struct {
	Entities []extractedEntity `json:"entities"`
}

// Entity is one named thing found in a chapter.
type Entity struct {
	Name       string
	Type       string
	Importance float64
	Sentiment  float64
}

// ExtractEntities lists the named entities in text. An unusable response
// yields an empty list.
func (c *Client) ExtractEntities(ctx context.Context, text string) ([]Entity, error) {
	ct, err := contractFor[extractionPayload]()
	if err != nil {
		return nil, err
	}
	model := c.models.Extraction
	resp, err := c.complete(ctx, Request{
		Kind:        "extraction",
		Model:       model.Model,
		Prompt:      extractionPrompt(text),
		Schema:      ct.schema,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	payload, _, err := decodeChecked[extractionPayload](c.logger, "extraction", resp.Text)
	if err != nil {
		c.logger.Warn("extraction response unusable, no entities recorded", zap.Error(err))
		return []Entity{}, nil
	}
	return normalizeEntities(payload.Entities), nil
}

func normalizeEntities(in []extractedEntity) []Entity {
	out := make([]Entity, 0, len(in))
	for _, e := range in {
		name := strings.Join(strings.Fields(e.Name), " ")
		if name == "" {
			continue
		}
		typ := strings.ToLower(strings.TrimSpace(e.Type))
		if !entityTypes[typ] {
			typ = "concept"
		}
		importance := DefaultImportance
		if e.Importance != nil && !math.IsNaN(*e.Importance) {
			importance = clamp(*e.Importance, 0, 1)
		}
		sentiment := 0.0
		if e.Sentiment != nil && !math.IsNaN(*e.Sentiment) {
			sentiment = clamp(*e.Sentiment, -1, 1)
		}
		out = append(out, Entity{Name: name, Type: typ, Importance: importance, Sentiment: sentiment})
		if len(out) == maxEntities {
			break
		}
	}
	return out
}

func extractionPrompt(text string) string {
	var b strings.Builder
	b.WriteString("List the named entities that matter in the following chapter.\n")
	b.WriteString("For each entity give its name as written, a type (character, place, object, concept or organization), ")
	b.WriteString("an importance from 0.0 (passing mention) to 1.0 (central to the chapter), and a sentiment from -1.0 ")
	fmt.Fprintf(&b, "(hostile) to 1.0 (warm) describing how the chapter treats it. Return at most %d entities.\n", maxEntities)
	b.WriteString("Respond with only a JSON object of the form {\"entities\": [{\"name\", \"type\", \"importance\", \"sentiment\"}]}.\n\n")
	b.WriteString("Chapter:\n")
	b.WriteString(truncateRunes(text, maxExtractInputLen))
	b.WriteString("\n")
	return b.String()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
