// Package poker parses poker command flags and composes transport entrypoints.
package poker

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/louisbranch/pointing.space/internal/platform/cmd"
	server "github.com/louisbranch/pointing.space/internal/services/poker/app"
)

// Config holds poker command configuration.
type Config struct {
	HTTPAddr   string `env:"POINTING_SPACE_POKER_HTTP_ADDR" envDefault:":8090"`
	DBPath     string `env:"POINTING_SPACE_POKER_DB_PATH"   envDefault:"poker.db"`
	AuthSecret string `env:"POINTING_SPACE_AUTH_SECRET"`
	AuthIssuer string `env:"POINTING_SPACE_AUTH_ISSUER"     envDefault:"pointing.space"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "poker HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "poker sqlite database path")
	fs.StringVar(&cfg.AuthSecret, "auth-secret", cfg.AuthSecret, "HS256 token verification secret")
	fs.StringVar(&cfg.AuthIssuer, "auth-issuer", cfg.AuthIssuer, "expected token issuer")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the poker app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServicePoker, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:   cfg.HTTPAddr,
			DBPath:     cfg.DBPath,
			AuthSecret: cfg.AuthSecret,
			AuthIssuer: cfg.AuthIssuer,
		}); err != nil {
			return fmt.Errorf("serve poker: %w", err)
		}
		return nil
	})
}
