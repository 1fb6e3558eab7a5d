package provider

import (
	"tasksync/internal/config"

	"github.com/rs/zerolog"
)

// New picks the provider for the sync mode: the hub in hub mode, GitHub otherwise.
// A disabled GitHub section still yields a provider that reports IsConfigured() == false.
func New(cfg *config.Config, logger *zerolog.Logger) (Provider, error) {
	if cfg.Sync.Mode == config.ModeHub {
		return NewHub(cfg.Sync.HubURL, cfg.Sync.HubAPIKey), nil
	}
	gh := cfg.Providers.GitHub
	if !gh.Enabled {
		gh.Token = ""
	}
	return NewGitHub(gh, logger)
}
