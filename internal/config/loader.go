package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/importer/internal/core"
)

// Load reads configuration from environment variables, applies defaults and
// validates the result. Every missing or malformed variable is reported, not
// just the first.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadEnv fills the tagged fields of v, descending into nested sections.
//
// Tags: env names the variable, envAlt a fallback variable, default the value
// used when both are unset, and required:"true" rejects an unset variable.
func loadEnv(v reflect.Value) error {
	var errs []error
	t := v.Type()

	for i := range t.NumField() {
		sf, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if sf.Type.Kind() == reflect.Struct {
			errs = append(errs, loadEnv(fv))
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}

		raw := lookupEnv(name, sf.Tag.Get("envAlt"))
		if raw == "" {
			if sf.Tag.Get("required") == "true" {
				errs = append(errs, fmt.Errorf("required environment variable %s is not set", name))
				continue
			}
			raw = sf.Tag.Get("default")
		}
		if raw == "" {
			continue
		}

		parsed, err := parseValue(sf.Type, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", name, raw, err))
			continue
		}
		fv.Set(parsed)
	}

	return errors.Join(errs...)
}

func lookupEnv(name, alt string) string {
	if v := os.Getenv(name); v != "" || alt == "" {
		return v
	}
	return os.Getenv(alt)
}

var durationType = reflect.TypeOf(time.Duration(0))

// parseValue converts raw into a value of type t.
func parseValue(t reflect.Type, raw string) (reflect.Value, error) {
	if t == durationType {
		d, err := time.ParseDuration(raw)
		return reflect.ValueOf(d), err
	}

	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		out.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, t.Bits())
		if err != nil {
			return out, err
		}
		out.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return out, err
		}
		out.SetBool(b)
	case reflect.Slice:
		if t.Elem().Kind() != reflect.String {
			return out, fmt.Errorf("unsupported slice of %s", t.Elem().Kind())
		}
		out.Set(reflect.ValueOf(splitCSV(raw)))
	default:
		return out, fmt.Errorf("unsupported field type %s", t.Kind())
	}
	return out, nil
}

// splitCSV splits a comma-separated list, dropping empty items.
func splitCSV(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// problems collects validation failures.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var p problems

	db := c.Database
	p.check(db.URL != "", "DATABASE_URL is required")
	p.check(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
	p.check(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	p.check(db.MaxConns >= db.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)

	srv := c.Server
	p.check(srv.Port > 0 && srv.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", srv.Port)
	p.check(srv.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	p.check(srv.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	imp := c.Import
	p.check(imp.MaxFileSize > 0, "IMPORT_MAX_FILE_SIZE must be positive")
	p.check(imp.MaxConcurrent > 0, "IMPORT_MAX_CONCURRENT must be positive")
	p.check(imp.MaxWaitTime > 0, "IMPORT_MAX_WAIT_TIME must be positive")
	p.check(imp.JobRetention > 0, "IMPORT_JOB_RETENTION must be positive")
	if _, err := cron.ParseStandard(imp.SweepSchedule); err != nil {
		p.check(false, "IMPORT_SWEEP_SCHEDULE (%q) is not a valid schedule: %v", imp.SweepSchedule, err)
	}
	_, err := core.ParseEncoding(imp.LegacyEncoding)
	p.check(err == nil, "IMPORT_LEGACY_ENCODING (%q) must be one of: utf-8, windows-1251, windows-1252", imp.LegacyEncoding)

	if c.Rate.Enabled {
		p.check(c.Rate.RequestsPerMinute > 0, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
		p.check(c.Rate.UploadLimit > 0, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	p.check(c.Notify.NATSURL == "" || c.Notify.SubjectPrefix != "", "NATS_SUBJECT_PREFIX is required when NATS_URL is set")
	p.check(!c.Metrics.Enabled || strings.HasPrefix(c.Metrics.Path, "/"), "METRICS_PATH (%q) must start with /", c.Metrics.Path)
	p.check(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		p.check(false, "LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		p.check(false, "LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	if len(p) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
	}
	return nil
}

const masked = "[MASKED]"

// LogValue renders the configuration for structured logs. Connection URLs
// and API keys never appear.
func (c *Config) LogValue() slog.Value {
	nats := ""
	if c.Notify.NATSURL != "" {
		nats = masked
	}
	return slog.GroupValue(
		slog.Group("server", "host", c.Server.Host, "port", c.Server.Port),
		slog.Group("database", "url", masked, "max_conns", c.Database.MaxConns, "min_conns", c.Database.MinConns),
		slog.Group("import",
			"max_file_size", c.Import.MaxFileSize,
			"max_concurrent", c.Import.MaxConcurrent,
			"job_retention", c.Import.JobRetention,
			"sweep_schedule", c.Import.SweepSchedule,
		),
		slog.Group("rate", "enabled", c.Rate.Enabled, "requests_per_minute", c.Rate.RequestsPerMinute, "upload_limit", c.Rate.UploadLimit),
		slog.Group("security", "require_api_key", c.Security.RequireAPIKey, "api_keys", len(c.Security.APIKeys)),
		slog.Group("notify", "nats_url", nats, "subject_prefix", c.Notify.SubjectPrefix),
		slog.Group("metrics", "enabled", c.Metrics.Enabled, "path", c.Metrics.Path),
		slog.Group("logging", "level", c.Logging.Level, "format", c.Logging.Format),
	)
}
