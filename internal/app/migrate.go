package app

import (
	"fmt"

	"freight-procurement/internal/storage"
)

// Migrate applies pending schema migrations and returns the resulting version.
func (a *App) Migrate() (uint, error) {
	if a.Config.Database.DSN == "" {
		return 0, fmt.Errorf("cannot migrate: %w", ErrNoDatabase)
	}
	version, err := storage.Migrate(a.Config.Database.DSN, a.Config.Database.MigrationsPath)
	if err != nil {
		return 0, err
	}
	a.Logger.Info().Uint("version", version).Str("path", a.Config.Database.MigrationsPath).Msg("schema migrated")
	return version, nil
}
