// Package config loads typed configuration for kvmesh's server and
// client binaries, generalizing the teacher's flat env-tagged Config
// struct (caarlos0/env + godotenv.Load, Validate, LogConfig) into the
// nested ServerConfig/ClientConfig shape spec.md §6 names.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/adred-codev/kvmesh/internal/logging"
)

// StorageKind selects a Storage backend (spec.md §6 Storage.Kind).
type StorageKind string

const (
	StorageMemory StorageKind = "memory"
	StorageDisk   StorageKind = "disk"
)

type generalConfig struct {
	Addr string `env:"GENERAL_ADDR" envDefault:":7000"`
}

type storageConfig struct {
	Kind     StorageKind `env:"STORAGE_KIND" envDefault:"memory"`
	DiskPath string      `env:"STORAGE_DISK_PATH" envDefault:"kvmesh.db"`
}

// serverTLSConfig fields hold raw PEM text, not file paths — loading
// certificate material from disk into the process environment (e.g. via
// a systemd EnvironmentFile or the .env file LoadServerConfig reads) is
// the caller's concern, out of scope for this core (spec.md §1).
type serverTLSConfig struct {
	CertPEM string `env:"TLS_CERT_PEM"`
	KeyPEM  string `env:"TLS_KEY_PEM"`
	CAPEM   string `env:"TLS_CA_PEM" envDefault:""`
}

type logConfig struct {
	Path           string        `env:"LOG_PATH" envDefault:"kvmesh.log"`
	Rotation       logging.Rotation `env:"LOG_ROTATION" envDefault:"daily"`
	Level          logging.Level    `env:"LOG_LEVEL" envDefault:"info"`
	EnableFile     bool          `env:"LOG_ENABLE_FILE" envDefault:"false"`
	EnableJaeger   bool          `env:"LOG_ENABLE_JAEGER" envDefault:"false"`
}

// ServerConfig is the typed configuration surface kv-server consumes
// (spec.md §6). Load populates it from environment variables, with an
// optional .env file loaded first via godotenv.
type ServerConfig struct {
	General generalConfig
	Storage storageConfig
	TLS     serverTLSConfig
	Log     logConfig
}

// LoadServerConfig loads a .env file at dotenvPath if present (a
// missing file is not an error — godotenv.Load's usual caller already
// tolerates that), then parses environment variables into ServerConfig
// via struct tags.
func LoadServerConfig(dotenvPath string) (*ServerConfig, error) {
	if dotenvPath != "" {
		_ = godotenv.Load(dotenvPath)
	}
	cfg := &ServerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse server config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would fail later in a more
// confusing way (an empty TLS cert, an unrecognized storage kind).
func (c *ServerConfig) Validate() error {
	if c.TLS.CertPEM == "" || c.TLS.KeyPEM == "" {
		return fmt.Errorf("config: tls cert and key are required")
	}
	switch c.Storage.Kind {
	case StorageMemory, StorageDisk:
	default:
		return fmt.Errorf("config: unrecognized storage kind %q", c.Storage.Kind)
	}
	return nil
}

// LogConfig logs the non-secret parts of c at startup, matching the
// teacher's config.go LogConfig(logger) habit of announcing effective
// configuration once at boot.
func (c *ServerConfig) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.General.Addr).
		Str("storage_kind", string(c.Storage.Kind)).
		Bool("mtls", c.TLS.CAPEM != "").
		Str("log_level", string(c.Log.Level)).
		Bool("log_enable_file", c.Log.EnableFile).
		Msg("server config loaded")
}

// Logging converts c.Log into the logging package's Config.
func (c *ServerConfig) Logging(serviceName string) logging.Config {
	return logging.Config{
		Path:        c.Log.Path,
		Rotation:    c.Log.Rotation,
		Level:       c.Log.Level,
		EnableFile:  c.Log.EnableFile,
		ServiceName: serviceName,
	}
}

type clientTLSConfig struct {
	Domain          string `env:"TLS_DOMAIN,required"`
	IdentityCertPEM string `env:"TLS_IDENTITY_CERT_PEM" envDefault:""`
	IdentityKeyPEM  string `env:"TLS_IDENTITY_KEY_PEM" envDefault:""`
	CAPEM           string `env:"TLS_CA_PEM" envDefault:""`
}

// ClientConfig is the typed configuration surface kv-cli consumes.
type ClientConfig struct {
	General generalConfig
	TLS     clientTLSConfig
}

// LoadClientConfig mirrors LoadServerConfig for the client binary.
func LoadClientConfig(dotenvPath string) (*ClientConfig, error) {
	if dotenvPath != "" {
		_ = godotenv.Load(dotenvPath)
	}
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse client config: %w", err)
	}
	return cfg, nil
}
