package config

import (
	"context"
	"errors"
	"fmt"

	"storypool/internal/store"
)

// OverridesKey is the settings row holding operator runtime overrides.
const OverridesKey = "runtime"

// ErrInvalidOverride reports a runtime patch that does not decode or does not
// validate against the file configuration.
var ErrInvalidOverride = errors.New("invalid runtime override")

// Source resolves the effective runtime configuration: the file's runtime
// section overlaid with the overrides stored by the admin surface.
type Source struct {
	live     *Live
	settings store.Settings
}

func NewSource(live *Live, settings store.Settings) *Source {
	return &Source{live: live, settings: settings}
}

// Effective returns the validated runtime configuration for this moment.
func (s *Source) Effective(ctx context.Context) (RuntimeConfig, error) {
	overrides, err := s.Overrides(ctx)
	if err != nil {
		return RuntimeConfig{}, err
	}
	rt, err := s.live.Get().Overlay(overrides)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("runtime config: %w", err)
	}
	return rt, nil
}

// Overrides returns the stored override document, or nil when there is none.
func (s *Source) Overrides(ctx context.Context) ([]byte, error) {
	raw, err := s.settings.GetSetting(ctx, OverridesKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading runtime overrides: %w", err)
	}
	return raw, nil
}

// Patch folds update into the stored overrides. Nothing is stored when the
// result does not validate.
func (s *Source) Patch(ctx context.Context, update []byte) (RuntimeConfig, error) {
	existing, err := s.Overrides(ctx)
	if err != nil {
		return RuntimeConfig{}, err
	}
	merged, err := MergeOverrides(existing, update)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("%w: %w", ErrInvalidOverride, err)
	}
	rt, err := s.live.Get().Overlay(merged)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("%w: %w", ErrInvalidOverride, err)
	}
	if err := s.settings.PutSetting(ctx, OverridesKey, merged); err != nil {
		return RuntimeConfig{}, fmt.Errorf("storing runtime overrides: %w", err)
	}
	return rt, nil
}

// Reset drops every stored override.
func (s *Source) Reset(ctx context.Context) error {
	if err := s.settings.DeleteSetting(ctx, OverridesKey); err != nil {
		return fmt.Errorf("deleting runtime overrides: %w", err)
	}
	return nil
}
