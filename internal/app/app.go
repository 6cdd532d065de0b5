// Package app wires configuration into the components shared by the CLI and
// the API server.
package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/timmy/themescope/internal/checkpoint"
	"github.com/timmy/themescope/internal/classifier"
	"github.com/timmy/themescope/internal/config"
	"github.com/timmy/themescope/internal/credential"
	"github.com/timmy/themescope/internal/logger"
	"github.com/timmy/themescope/internal/prompts"
	"github.com/timmy/themescope/internal/repository"
	"github.com/timmy/themescope/internal/service"
	"github.com/timmy/themescope/internal/storage"
)

// Components holds the long-lived collaborators of a process.
type Components struct {
	DB          *gorm.DB              // nil without a database
	Storage     storage.ObjectStorage // nil without object storage
	Checkpoints checkpoint.Store      // nil when checkpoints are disabled
	Runs        *repository.RunRepository
	FailedRows  *repository.FailedRowRepository
	Exporter    *service.ObjectResultsExporter
	Pool        *credential.Pool
	Client      *classifier.Client
	Template    string
}

type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// Build validates cfg and initializes every configured component.
// Parameters:
//   - ctx: context for bucket setup.
//   - cfg: validated application configuration.
//
// Returns:
//   - *Components: initialized components.
//   - error: configuration errors or failing backends.
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	template, err := prompts.Load(cfg.Prompt.TemplatePath)
	if err != nil {
		return nil, err
	}

	c := &Components{
		Pool: credential.NewPool(cfg.Classifier.APIKeys, credential.Options{
			RequestsPerMinute: cfg.Classifier.RequestsPerMinute,
		}),
		Client: classifier.NewClient(&classifier.Config{
			Model:        cfg.Classifier.Model,
			BaseURL:      cfg.Classifier.BaseURL,
			Timeout:      cfg.Classifier.Timeout,
			MaxTokens:    cfg.Classifier.MaxTokens,
			Temperature:  cfg.Classifier.Temperature,
			MaxTextChars: cfg.Classifier.MaxTextChars,
		}),
		Template: template,
	}

	if cfg.Database.Enabled() {
		db, err := repository.InitDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		c.DB = db
		c.Runs = repository.NewRunRepository(db)
		c.FailedRows = repository.NewFailedRowRepository(db)
	}

	if cfg.Storage.Enabled() {
		store, err := storage.NewStorage(ctx, storage.FromConfig(&cfg.Storage))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		if b, ok := store.(bucketEnsurer); ok {
			if err := b.EnsureBucket(ctx); err != nil {
				return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
			}
		}
		c.Storage = store
		c.Exporter = service.NewObjectResultsExporter(store, cfg.Storage.Prefix+"/results")
	}

	switch cfg.Checkpoint.Backend {
	case "database":
		if c.DB == nil {
			return nil, fmt.Errorf("checkpoint backend %q needs a database", cfg.Checkpoint.Backend)
		}
		c.Checkpoints = checkpoint.NewDBStore(repository.NewCheckpointRepository(c.DB))
	case "storage":
		if c.Storage == nil {
			return nil, fmt.Errorf("checkpoint backend %q needs object storage", cfg.Checkpoint.Backend)
		}
		c.Checkpoints = checkpoint.NewObjectStore(c.Storage, cfg.Checkpoint.Prefix)
	}

	logger.CtxInfo(ctx, "Components ready: credentials=%d, model=%s, database=%v, storage=%v, checkpoints=%q",
		c.Pool.Size(), c.Client.GetModel(), c.DB != nil, c.Storage != nil, cfg.Checkpoint.Backend)
	return c, nil
}

// Orchestrator builds an orchestrator for one run from cfg. Options that are
// read here, such as pacing and the parallel toggle, apply to that run only.
func (c *Components) Orchestrator(cfg *config.Config) *service.Orchestrator {
	o := service.NewOrchestrator(c.Client, c.Pool, service.OptionsFromConfig(cfg, c.Template))
	if c.Checkpoints != nil {
		o.WithCheckpoints(c.Checkpoints)
	}
	if c.Runs != nil {
		o.WithRunRecorder(c.Runs, c.FailedRows)
	}
	if c.Exporter != nil {
		o.WithResultsConsumer(c.Exporter)
	}
	return o
}

// SyncCredentials makes the pool hold exactly keys. Credentials that stay keep
// their place in the rotation order.
func (c *Components) SyncCredentials(keys []string) (added, removed int) {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	have := make(map[string]bool)
	for _, cred := range c.Pool.Usable() {
		have[cred.Secret] = true
		if !want[cred.Secret] && c.Pool.Remove(cred.Secret) {
			removed++
		}
	}
	for _, k := range keys {
		if !have[k] {
			c.Pool.Add(k)
			added++
		}
	}
	return added, removed
}

// Close releases the database connection.
func (c *Components) Close() error {
	if c.DB == nil {
		return nil
	}
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
