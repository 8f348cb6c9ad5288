package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/pdfscan/internal/config"
	"github.com/phrazzld/pdfscan/internal/platform/postgres"
	"github.com/phrazzld/pdfscan/internal/platform/storage"
	"github.com/spf13/afero"
)

// application holds the dependencies shared by the serve and worker
// processes and releases them on cleanup.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	tasks   *postgres.TaskStore
	content *storage.ContentStore
	reports *storage.ArtifactStore
}

// newApplication opens the database and storage. Task changes are
// published through Postgres notifications so every process sees them.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, logger)
	if err != nil {
		return nil, err
	}

	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	fs := afero.NewOsFs()
	if app.content, err = storage.NewContentStore(fs, cfg.Storage.UploadDir); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to open upload storage: %w", err)
	}
	if app.reports, err = storage.NewArtifactStore(fs, cfg.Storage.ReportDir); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to open report storage: %w", err)
	}

	notifier := postgres.NewNotifier(db, cfg.Notify.Channel, logger)
	app.tasks = postgres.NewTaskStore(db, notifier, logger)

	return app, nil
}

func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", "error", err)
		}
	}
}
