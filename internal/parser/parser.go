package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmpty       = errors.New("empty response")
	ErrNoObject    = errors.New("no JSON object found")
	ErrUnbalanced  = errors.New("unbalanced JSON object")
	ErrInvalidJSON = errors.New("invalid JSON object")
)

// ExtractObject recovers the first JSON object from model output. It accepts a
// bare object, an object wrapped in a ``` or ```json fence, or an object
// embedded in surrounding prose.
func ExtractObject(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(text, "\ufeff"))
	if trimmed == "" {
		return nil, ErrEmpty
	}

	if fenced, ok := stripFence(trimmed); ok {
		trimmed = fenced
	}

	start := strings.IndexByte(trimmed, '{')
	if start == -1 {
		return nil, ErrNoObject
	}

	end, err := matchBrace(trimmed[start:])
	if err != nil {
		return nil, err
	}
	candidate := []byte(trimmed[start : start+end+1])

	if !json.Valid(candidate) {
		return nil, ErrInvalidJSON
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, candidate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return compact.Bytes(), nil
}

// Decode extracts the first JSON object from text into v.
func Decode(text string, v any) error {
	raw, err := ExtractObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

func stripFence(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open == -1 {
		return "", false
	}
	rest := text[open+3:]
	// Drop the info string, e.g. "json".
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[nl+1:]
	}
	closing := strings.Index(rest, "```")
	if closing == -1 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:closing]), true
}

// matchBrace returns the index of the brace closing s[0], skipping braces
// inside string literals.
func matchBrace(s string) (int, error) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, ErrUnbalanced
}
