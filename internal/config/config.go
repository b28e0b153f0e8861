package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"githubie.shikanime.studio/internal/types"
)

type Config struct{ v *viper.Viper }

func New() *Config {
	vv := viper.New()
	vv.AutomaticEnv()
	return &Config{v: vv}
}

// GetDsn resolves the final DSN using env vars.
// DSN wins; otherwise PGHOST selects Postgres, and a SQLite file under the
// user config directory is used as the local default.
func (c *Config) GetDsn() (*url.URL, error) {
	source := c.v.GetString("DSN")
	if source == "" && c.v.GetString("PGHOST") != "" {
		source = c.postgresDsn()
	}
	if source == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		source = "sqlite://" + filepath.ToSlash(filepath.Join(dir, "githubie", "githubie.db"))
	}

	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" {
		return nil, errors.New("invalid DSN: must be in format driver://dataSourceName")
	}
	return u, nil
}

func (c *Config) postgresDsn() string {
	user := c.v.GetString("PGUSER")
	if user == "" {
		user = c.v.GetString("USER")
	}
	if user == "" {
		user = "postgres"
	}

	dbName := c.v.GetString("PGDATABASE")
	if dbName == "" {
		dbName = "postgres"
	}

	host := c.v.GetString("PGHOST")
	port := c.v.GetString("PGPORT")
	hasPortEnv := port != ""
	if !hasPortEnv {
		port = "5432"
	}

	if strings.HasPrefix(host, "/") {
		socketDir := host

		// If PGHOST points to a file, derive directory and only infer port when PGPORT isn't set.
		if fi, err := os.Stat(host); err == nil && !fi.IsDir() {
			socketDir = filepath.Dir(host)
			if !hasPortEnv {
				base := filepath.Base(host)
				// Expected filename pattern: ".s.PGSQL.<port>"
				if inferred, ok := strings.CutPrefix(base, ".s.PGSQL."); ok && inferred != "" {
					if _, err := strconv.Atoi(inferred); err == nil {
						port = inferred
					}
				}
			}
		}

		q := url.Values{}
		q.Set("host", socketDir)
		q.Set("port", port)
		q.Set("sslmode", "disable")
		return "postgres://" + user + "@/" + dbName + "?" + q.Encode()
	}
	return "postgres://" + user + "@" + host + ":" + port + "/" + dbName + "?sslmode=disable"
}

func (c *Config) GetGitHubToken() string {
	if t := c.v.GetString("GITHUB_TOKEN"); t != "" {
		return t
	}
	return c.v.GetString("GH_TOKEN")
}

// GetCollectionCacheTTL returns the TTL for collection cache entries.
// Reads duration from env var COLLECTION_CACHE_TTL; defaults to 24h.
func (c *Config) GetCollectionCacheTTL() time.Duration {
	const def = 24 * time.Hour
	if v := c.v.GetString("COLLECTION_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// GetDefaultMinStars returns the collection default star threshold from DEFAULT_MIN_STARS.
func (c *Config) GetDefaultMinStars() int {
	if n := c.v.GetInt("DEFAULT_MIN_STARS"); n > 0 {
		return n
	}
	return types.DefaultMinStars
}

// GetPageSize returns how many repositories each page adds; defaults to 10.
func (c *Config) GetPageSize() int {
	if n := c.v.GetInt("PAGE_SIZE"); n > 0 {
		return n
	}
	return 10
}

func (c *Config) GetServiceName() string {
	if s := c.v.GetString("OTEL_SERVICE_NAME"); s != "" {
		return s
	}
	return "githubie"
}

// GetTraceSampleRatio returns the share of root traces kept, from
// TRACE_SAMPLE_RATIO clamped to [0, 1]; defaults to 1.
func (c *Config) GetTraceSampleRatio() float64 {
	r, err := strconv.ParseFloat(c.v.GetString("TRACE_SAMPLE_RATIO"), 64)
	if err != nil {
		return 1
	}
	return min(max(r, 0), 1)
}

// TelemetryEnabled reports whether an OTLP endpoint is configured.
func (c *Config) TelemetryEnabled() bool {
	return c.v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT") != "" ||
		c.v.GetString("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") != ""
}

func (c *Config) Set(key string, value any) { c.v.Set(key, value) }

// GetLogLevel returns the log level from env var LOG_LEVEL mapped to slog.Level.
// Recognized values: debug, info (default), warn|warning, error.
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToLower(c.v.GetString("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OnLogLevelChange calls fn with the slog.Level whenever it changes.
// The initial call is made immediately.
func (c *Config) OnLogLevelChange(fn func(slog.Level)) {
	apply := func() { fn(c.GetLogLevel()) }
	apply()
	c.v.OnConfigChange(func(e fsnotify.Event) { apply() })
}

// ReadFile loads an optional config file; a missing file is not an error.
func (c *Config) ReadFile(path string) error {
	if path == "" {
		return nil
	}
	c.v.SetConfigFile(path)
	if err := c.v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// Watch reloads the config file on change. Without a config file it does nothing.
func (c *Config) Watch() {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.WatchConfig()
}
