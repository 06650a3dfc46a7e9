package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

func String(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func Bool(key string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

// ParseEnv fills a struct tagged with `env:"..."` / `envDefault:"..."`.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseEnvPrefixed is ParseEnv restricted to variables carrying prefix.
func ParseEnvPrefixed(target any, prefix string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ValidateAddr checks a host:port pair used for local listeners.
func ValidateAddr(key, addr string) error {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return fmt.Errorf("%s must be host:port (got %q)", key, addr)
	}
	p, err := strconv.Atoi(addr[idx+1:])
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("%s must carry a valid TCP port (got %q)", key, addr)
	}
	return nil
}
