package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const envPrefix = "LEDGERLENS_"

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Catalog       CatalogConfig
	Database      DatabaseConfig
	Tenant        TenantConfig
	Parser        ParserConfig
	Feedback      FeedbackConfig
	ObjectStore   ObjectStoreConfig
	Archive       ArchiveConfig
	AI            AIConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CatalogConfig points at an optional TOML schema file. An empty path keeps
// the built-in ERP schema.
type CatalogConfig struct {
	SchemaFile string
	Watch      bool
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	Dialect         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type TenantConfig struct {
	Enabled            bool
	DefaultUserID      string
	DefaultCompanyName string
	UserColumn         string
	CompanyColumn      string
}

type ParserConfig struct {
	MaxLimit int
}

type FeedbackConfig struct {
	Backend      string
	FilePath     string
	DSN          string
	AutoRecord   bool
	RebuildEvery time.Duration
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// ArchiveConfig controls Parquet export of the feedback log. A zero
// Retention keeps archives forever.
type ArchiveConfig struct {
	Enabled   bool
	Interval  time.Duration
	Retention time.Duration
}

type AIConfig struct {
	JudgeEnabled bool
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	Timeout      time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup(envPrefix + "PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid %sPROFILE: %q", envPrefix, profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	b := &binder{lookup: lookup}
	b.str("SERVICE_NAME", &cfg.Service.Name)

	b.str("HTTP_ADDR", &cfg.HTTP.Address)
	b.duration("HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	b.duration("HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	b.duration("HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout)

	b.str("CATALOG_SCHEMA_FILE", &cfg.Catalog.SchemaFile)
	b.flag("CATALOG_WATCH", &cfg.Catalog.Watch)

	b.str("DB_DRIVER", &cfg.Database.Driver)
	b.str("DB_DSN", &cfg.Database.DSN)
	b.str("DB_DIALECT", &cfg.Database.Dialect)
	b.integer("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	b.integer("DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)
	b.duration("DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime)
	b.duration("DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)

	b.flag("TENANT_ENABLED", &cfg.Tenant.Enabled)
	b.str("TENANT_DEFAULT_USER", &cfg.Tenant.DefaultUserID)
	b.str("TENANT_DEFAULT_COMPANY", &cfg.Tenant.DefaultCompanyName)
	b.str("TENANT_USER_COLUMN", &cfg.Tenant.UserColumn)
	b.str("TENANT_COMPANY_COLUMN", &cfg.Tenant.CompanyColumn)

	b.integer("PARSER_MAX_LIMIT", &cfg.Parser.MaxLimit)

	b.str("FEEDBACK_BACKEND", &cfg.Feedback.Backend)
	b.str("FEEDBACK_FILE", &cfg.Feedback.FilePath)
	b.str("FEEDBACK_DSN", &cfg.Feedback.DSN)
	b.flag("FEEDBACK_AUTO_RECORD", &cfg.Feedback.AutoRecord)
	b.duration("FEEDBACK_REBUILD_INTERVAL", &cfg.Feedback.RebuildEvery)

	b.str("OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint)
	b.str("OBJECTSTORE_REGION", &cfg.ObjectStore.Region)
	b.str("OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket)
	b.str("OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID)
	b.str("OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
	b.flag("OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL)
	b.str("OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix)
	b.flag("OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)

	b.flag("ARCHIVE_ENABLED", &cfg.Archive.Enabled)
	b.duration("ARCHIVE_INTERVAL", &cfg.Archive.Interval)
	b.duration("ARCHIVE_RETENTION", &cfg.Archive.Retention)

	b.flag("AI_JUDGE_ENABLED", &cfg.AI.JudgeEnabled)
	b.str("AI_BASE_URL", &cfg.AI.BaseURL)
	b.str("AI_API_KEY", &cfg.AI.APIKey)
	b.str("AI_MODEL", &cfg.AI.Model)
	bind(b, "AI_TEMPERATURE", &cfg.AI.Temperature, func(raw string) (float64, error) { return strconv.ParseFloat(raw, 64) })
	b.duration("AI_TIMEOUT", &cfg.AI.Timeout)

	b.flag("LOG_JSON", &cfg.Observability.LogJSON)
	bind(b, "LOG_LEVEL", &cfg.Observability.LogLevel, parseLogLevel)

	b.flag("AUTH_REQUIRED", &cfg.Auth.Required)
	b.str("AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys)

	if err := errors.Join(b.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch c.Database.Driver {
	case "sqlite", "duckdb", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Feedback.Backend {
	case "memory", "file", "postgres":
	default:
		return fmt.Errorf("unsupported feedback backend %q", c.Feedback.Backend)
	}
	if c.Feedback.Backend == "file" && c.Feedback.FilePath == "" {
		return fmt.Errorf("feedback file path is required for the file backend")
	}
	if c.Feedback.Backend == "postgres" && c.Feedback.DSN == "" {
		return fmt.Errorf("feedback DSN is required for the postgres backend")
	}
	if c.Tenant.Enabled && (c.Tenant.UserColumn == "" || c.Tenant.CompanyColumn == "") {
		return fmt.Errorf("tenant columns are required when tenant isolation is enabled")
	}
	if c.Parser.MaxLimit <= 0 {
		return fmt.Errorf("parser max limit must be positive")
	}
	return nil
}

// DialectName falls back to the driver name when no dialect is set explicitly.
func (c DatabaseConfig) DialectName() string {
	if c.Dialect != "" {
		return c.Dialect
	}
	return c.Driver
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "ledgerlens-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Catalog: CatalogConfig{Watch: true},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:ledgerlens.db?_pragma=busy_timeout(5000)",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Tenant: TenantConfig{
			Enabled:            true,
			DefaultUserID:      "default",
			DefaultCompanyName: "default",
			UserColumn:         "user_id",
			CompanyColumn:      "company_name",
		},
		Parser: ParserConfig{MaxLimit: 1000},
		Feedback: FeedbackConfig{
			Backend:      "file",
			FilePath:     "ledgerlens-feedback.jsonl",
			AutoRecord:   true,
			RebuildEvery: 10 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "ledgerlens",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			AutoCreateBucket: true,
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: time.Hour,
		},
		AI: AIConfig{
			JudgeEnabled: false,
			BaseURL:      "https://api.openai.com",
			Model:        "gpt-4o-mini",
			Temperature:  0.1,
			Timeout:      5 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Database.DSN = "file::memory:?cache=shared"
		cfg.Feedback.Backend = "memory"
		cfg.Catalog.Watch = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

// binder overlays LEDGERLENS_* variables onto profile defaults and keeps
// every parse failure so one run reports all bad settings.
type binder struct {
	lookup LookupFunc
	errs   []error
}

func bind[T any](b *binder, name string, dst *T, parse func(string) (T, error)) {
	key := envPrefix + name
	raw, ok := b.lookup(key)
	if !ok {
		return
	}
	value, err := parse(strings.TrimSpace(raw))
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("invalid %s: %w", key, err))
		return
	}
	*dst = value
}

func (b *binder) str(name string, dst *string) {
	bind(b, name, dst, func(raw string) (string, error) { return raw, nil })
}

func (b *binder) flag(name string, dst *bool) { bind(b, name, dst, strconv.ParseBool) }

func (b *binder) integer(name string, dst *int) { bind(b, name, dst, strconv.Atoi) }

func (b *binder) duration(name string, dst *time.Duration) { bind(b, name, dst, time.ParseDuration) }

func parseLogLevel(raw string) (slog.Level, error) {
	if strings.EqualFold(raw, "warning") {
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, err
	}
	return level, nil
}
