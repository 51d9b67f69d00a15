package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"seisreview/internal/config"
	seisreviewsdk "seisreview/sdk/go"
)

// Overrides are flag or environment values that win over seisreview.yml.
type Overrides struct {
	OperatorID string
	APIURL     string
	Token      string
	JWTSecret  string
}

// ResolveConfig loads the workspace config (or defaults when none exists),
// applies overrides and validates the result.
func ResolveConfig(workspace string, ov Overrides) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(ov.OperatorID); v != "" {
		cfg.Operator.ID = v
	}
	if v := strings.TrimSpace(ov.APIURL); v != "" {
		cfg.Service.BaseURL = v
	}
	if v := strings.TrimSpace(ov.Token); v != "" {
		cfg.Operator.Token = v
	}
	if v := strings.TrimSpace(ov.JWTSecret); v != "" {
		cfg.Server.JWTSecret = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewClient builds the catalog client for the configured operator.
func NewClient(cfg *config.Config) *seisreviewsdk.Client {
	c := seisreviewsdk.New(cfg.Service.BaseURL, cfg.Operator.ID)
	c.BearerToken = cfg.Operator.Token
	c.Timeout = cfg.Timeout()
	return c
}

// NewLogger returns a text logger at the named level.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
