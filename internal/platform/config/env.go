// Package config reads service configuration from the environment and
// provides the shared fatal-exit helper for command mains. Service config
// structs declare POINTING_SPACE_* variables through env tags.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target's env-tagged fields from the process environment.
// Fields without a matching variable keep their envDefault value.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
