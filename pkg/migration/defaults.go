package migration

import (
	"context"
	"fmt"

	"github.com/platinummonkey/keepsake/pkg/schema"
	"github.com/platinummonkey/keepsake/pkg/storage"
)

// DefaultSettings are written by the 1.1.0 migration when no settings exist
func DefaultSettings() map[string]any {
	return map[string]any{
		"soundEnabled": true,
		"volume":       0.8,
		"difficulty":   "normal",
	}
}

// DefaultMigrations returns the built-in migration chain
func DefaultMigrations() []Migration {
	return []Migration{
		{
			// The baseline is what a store without a version already holds.
			Version:     "1.0.0",
			Description: "baseline",
			Migrate:     func(context.Context, *storage.Manager) error { return nil },
		},
		{
			Version:     "1.1.0",
			Description: "seed settings, extend game stats, normalise volume, add achievements",
			Migrate:     migrateTo110,
		},
	}
}

func migrateTo110(ctx context.Context, store *storage.Manager) error {
	if _, ok := store.GetRaw(ctx, schema.KeySettings); !ok {
		if err := store.Set(ctx, schema.KeySettings, DefaultSettings()); err != nil {
			return fmt.Errorf("failed to seed %s: %w", schema.KeySettings, err)
		}
	}

	if stats := storage.Get[map[string]any](ctx, store, schema.KeyGameStats, nil); stats != nil {
		changed := false
		for _, field := range []string{"bestStreak", "gamesWon"} {
			if _, ok := stats[field]; !ok {
				stats[field] = 0
				changed = true
			}
		}
		if changed {
			if err := store.Set(ctx, schema.KeyGameStats, stats); err != nil {
				return fmt.Errorf("failed to update %s: %w", schema.KeyGameStats, err)
			}
		}
	}

	// Volume used to be stored as a percentage.
	if settings := storage.Get[map[string]any](ctx, store, schema.KeySettings, nil); settings != nil {
		if vol, ok := settings["volume"].(float64); ok && vol > 1 {
			settings["volume"] = min(vol/100, 1)
			if err := store.Set(ctx, schema.KeySettings, settings); err != nil {
				return fmt.Errorf("failed to update %s: %w", schema.KeySettings, err)
			}
		}
	}

	if _, ok := store.GetRaw(ctx, schema.KeyAchievements); !ok {
		if err := store.Set(ctx, schema.KeyAchievements, []any{}); err != nil {
			return fmt.Errorf("failed to create %s: %w", schema.KeyAchievements, err)
		}
	}
	return nil
}
