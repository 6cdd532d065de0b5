package config

import (
	"github.com/timmy/themescope/internal/domain"
)

// Validate checks the settings a run cannot start without. Every failure wraps
// domain.ErrConfiguration.
func (c *Config) Validate() error {
	if len(c.Classifier.APIKeys) == 0 {
		return domain.ConfigErrorf("no usable classifier credentials")
	}
	if c.Classifier.Model == "" {
		return domain.ConfigErrorf("classifier model is required")
	}
	if err := c.Batching.Validate(); err != nil {
		return err
	}
	if c.Retry.TransientRetries < 0 || c.Retry.RateLimitRetries < 0 {
		return domain.ConfigErrorf("retry counts must not be negative")
	}
	if c.Retry.BackoffMultiplier < 1 {
		return domain.ConfigErrorf("retry.backoff_multiplier must be at least 1, got %v", c.Retry.BackoffMultiplier)
	}
	switch c.Checkpoint.Backend {
	case "", "none":
	case "database":
		if !c.Database.Enabled() {
			return domain.ConfigErrorf("checkpoint backend %q requires database.driver", c.Checkpoint.Backend)
		}
	case "storage":
		if !c.Storage.Enabled() {
			return domain.ConfigErrorf("checkpoint backend %q requires storage.endpoint and storage.bucket", c.Checkpoint.Backend)
		}
	default:
		return domain.ConfigErrorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return domain.ConfigErrorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}

// Validate checks the batch size bounds.
func (c *BatchingConfig) Validate() error {
	if c.BaseSize < MinBatchSize || c.BaseSize > MaxBatchSize {
		return domain.ConfigErrorf("batching.base_size must be between %d and %d, got %d", MinBatchSize, MaxBatchSize, c.BaseSize)
	}
	if c.TokenBudget <= c.PromptOverheadTokens {
		return domain.ConfigErrorf("batching.token_budget (%d) must exceed prompt_overhead_tokens (%d)", c.TokenBudget, c.PromptOverheadTokens)
	}
	return nil
}
