package generation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"storypool/internal/parser"
)

type contract struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

var contracts sync.Map // reflect.Type -> *contract

// contractFor infers and resolves the response schema for T once.
func contractFor[T any]() (*contract, error) {
	key := reflect.TypeFor[T]()
	if v, ok := contracts.Load(key); ok {
		return v.(*contract), nil
	}
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("inferring schema: %w", err)
	}
	allowExtraFields(schema)
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving schema: %w", err)
	}
	v, _ := contracts.LoadOrStore(key, &contract{schema: schema, resolved: resolved})
	return v.(*contract), nil
}

// allowExtraFields lifts the closed-object rule on struct schemas so a
// collaborator adding keys does not fail validation. Map schemas keep their
// element schema.
func allowExtraFields(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	if s.AdditionalProperties != nil && s.AdditionalProperties.Not != nil {
		s.AdditionalProperties = nil
	}
	for _, prop := range s.Properties {
		allowExtraFields(prop)
	}
	allowExtraFields(s.Items)
	allowExtraFields(s.AdditionalProperties)
}

// decodeChecked recovers the JSON object in text and validates it against
// T's schema. A valid object is decoded strictly and ok is true. An object
// that fails validation is decoded field by field, keeping every field that
// still fits its Go type, and ok is false. An error means no object could be
// recovered at all.
func decodeChecked[T any](logger *zap.Logger, kind, text string) (out T, ok bool, err error) {
	c, err := contractFor[T]()
	if err != nil {
		return out, false, err
	}
	raw, err := parser.ExtractObject(text)
	if err != nil {
		return out, false, err
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return out, false, fmt.Errorf("%w: %v", parser.ErrInvalidJSON, err)
	}
	verr := c.resolved.Validate(instance)
	if verr == nil {
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, true, nil
		}
	}

	logger.Warn("response failed schema validation, decoding leniently",
		zap.String("kind", kind),
		zap.NamedError("validation", verr))
	if err := decodeLenient(raw, &out); err != nil {
		return out, false, err
	}
	return out, false, nil
}

// decodeLenient decodes each top-level field of raw into the matching field
// of the struct v points to, skipping fields whose value does not fit.
func decodeLenient(raw []byte, v any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("%w: %v", parser.ErrInvalidJSON, err)
	}

	rv := reflect.ValueOf(v).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := jsonName(field)
		if name == "-" {
			continue
		}
		value, present := fields[name]
		if !present {
			continue
		}
		target := reflect.New(field.Type)
		if err := json.Unmarshal(value, target.Interface()); err != nil {
			continue
		}
		rv.Field(i).Set(target.Elem())
	}
	return nil
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}
