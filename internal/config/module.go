// Package config provides core configuration structures for chessync.
// This file defines Fx providers for configuration-related components.
package config

import "go.uber.org/fx"

// NewSyncConfigProvider extracts and provides *SyncConfig from *Config.
// This allows components to depend only on the pipeline configuration.
func NewSyncConfigProvider(cfg *Config) *SyncConfig {
	return &cfg.Chessync.Sync
}

// NewRetryConfigProvider extracts and provides *RetryConfig from *Config.
func NewRetryConfigProvider(cfg *Config) *RetryConfig {
	return &cfg.Chessync.Retry
}

// NewSourceConfigProvider extracts and provides *SourceConfig from *Config.
func NewSourceConfigProvider(cfg *Config) *SourceConfig {
	return &cfg.Chessync.Source
}

// Module provides the configuration extractors to Fx. The *Config itself is
// loaded once at startup and supplied by the application.
var Module = fx.Options(
	fx.Provide(NewSyncConfigProvider),
	fx.Provide(NewRetryConfigProvider),
	fx.Provide(NewSourceConfigProvider),
)
