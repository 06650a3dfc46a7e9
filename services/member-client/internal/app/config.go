package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/md-rashed-zaman/fedsync/libs/config"
	"github.com/md-rashed-zaman/fedsync/libs/runtime"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/cache"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/connectivity"
)

// EnvPrefix is prepended to every variable read by LoadConfig.
const EnvPrefix = "FEDSYNC_"

const (
	DocstorePostgres = "postgres"
	DocstoreMemory   = "memory"
)

type Config struct {
	Home string `env:"HOME_DIR"`

	Docstore     string `env:"DOCSTORE" envDefault:"postgres"`
	DatabaseURL  string `env:"DATABASE_URL"`
	EnsureSchema bool   `env:"ENSURE_SCHEMA" envDefault:"false"`

	CacheDriver string `env:"CACHE_DRIVER" envDefault:"sqlite"`
	CachePath   string `env:"CACHE_PATH"`
	RedisURL    string `env:"REDIS_URL"`
	CachePrefix string `env:"CACHE_PREFIX" envDefault:"fedsync"`

	PrefsPath  string `env:"PREFS_PATH"`
	Passphrase string `env:"PASSPHRASE"`
	ScryptN    int    `env:"SCRYPT_N"`

	AuthURL string `env:"AUTH_URL" envDefault:"http://localhost:8081"`
	JWKSURL string `env:"JWKS_URL"`

	Probes            string        `env:"PROBES" envDefault:"db"`
	GRPCHealthAddr    string        `env:"GRPC_HEALTH_ADDR"`
	GRPCHealthService string        `env:"GRPC_HEALTH_SERVICE"`
	HealthURL         string        `env:"HEALTH_URL"`
	ProbeInterval     time.Duration `env:"PROBE_INTERVAL" envDefault:"10s"`
	ProbeTimeout      time.Duration `env:"PROBE_TIMEOUT" envDefault:"3s"`

	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"1m"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"5"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"federation.push.v1"`
	KafkaGroupID string `env:"KAFKA_GROUP_ID" envDefault:"member-client"`
	RoutesFile   string `env:"ROUTES_FILE"`

	StatusAddr  string   `env:"STATUS_ADDR" envDefault:"127.0.0.1:8790"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
}

// LoadConfig reads FEDSYNC_* variables and fills in per-user file paths.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnvPrefixed(&cfg, EnvPrefix); err != nil {
		return Config{}, err
	}
	if err := cfg.resolve(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) resolve() error {
	home, err := runtime.HomeDir(c.Home)
	if err != nil {
		return fmt.Errorf("state directory: %w", err)
	}
	c.Home = home
	if c.PrefsPath == "" {
		c.PrefsPath = filepath.Join(home, "prefs.sealed")
	}
	if c.CachePath == "" {
		c.CachePath = filepath.Join(home, "cache.db")
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Docstore {
	case DocstorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New(EnvPrefix+"DATABASE_URL is required for the postgres docstore"))
		}
	case DocstoreMemory:
	default:
		errs = append(errs, fmt.Errorf("%sDOCSTORE must be %q or %q (got %q)", EnvPrefix, DocstorePostgres, DocstoreMemory, c.Docstore))
	}
	switch c.CacheDriver {
	case cache.DriverSQLite, cache.DriverNone:
	case cache.DriverRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New(EnvPrefix+"REDIS_URL is required for the redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("%sCACHE_DRIVER must be sqlite, redis or none (got %q)", EnvPrefix, c.CacheDriver))
	}
	if c.Passphrase == "" {
		errs = append(errs, errors.New(EnvPrefix+"PASSPHRASE is required"))
	}
	kinds, err := connectivity.ParseKinds(c.Probes)
	if err != nil {
		errs = append(errs, err)
	}
	if slices.Contains(kinds, connectivity.ProbeGRPC) && c.GRPCHealthAddr == "" {
		errs = append(errs, errors.New(EnvPrefix+"GRPC_HEALTH_ADDR is required for the grpc probe"))
	}
	if slices.Contains(kinds, connectivity.ProbeHTTP) && c.HealthURL == "" {
		errs = append(errs, errors.New(EnvPrefix+"HEALTH_URL is required for the http probe"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("%sMAX_ATTEMPTS must be at least 1 (got %d)", EnvPrefix, c.MaxAttempts))
	}
	if c.StatusAddr != "" {
		if err := config.ValidateAddr(EnvPrefix+"STATUS_ADDR", c.StatusAddr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
