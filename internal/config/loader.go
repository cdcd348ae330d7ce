package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rpattn/phenobatch/internal/db"
	"github.com/rpattn/phenobatch/internal/uploads"
)

// EnvPrefix is prepended to every environment override, e.g. PHENOBATCH_DATABASE_HOST.
const EnvPrefix = "PHENOBATCH"

// Config is the full runtime configuration.
type Config struct {
	Database  db.Config
	Scheduler SchedulerConfig
	Uploads   uploads.Config
	HTTP      HTTPConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

type SchedulerConfig struct {
	Enabled      bool
	PollInterval time.Duration
	RowWorkers   int
	Views        []string
}

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// LoadEnvFiles loads whichever of files exist into the process environment.
// Variables already set are not overridden.
func LoadEnvFiles(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func setDefaults(v *viper.Viper) {
	defaults := db.DefaultConfig()
	v.SetDefault("database.host", defaults.Host)
	v.SetDefault("database.port", defaults.Port)
	v.SetDefault("database.user", defaults.User)
	v.SetDefault("database.password", defaults.Password)
	v.SetDefault("database.dbname", defaults.DBName)
	v.SetDefault("database.sslmode", defaults.SSLMode)
	v.SetDefault("database.max_conns", defaults.MaxConns)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.poll_interval", time.Minute)
	v.SetDefault("scheduler.row_workers", 8)
	v.SetDefault("scheduler.views", []string{})

	v.SetDefault("uploads.driver", string(uploads.DriverFilesystem))
	v.SetDefault("uploads.root", "./uploads")
	v.SetDefault("uploads.s3.bucket", "")
	v.SetDefault("uploads.s3.region", "us-east-1")
	v.SetDefault("uploads.s3.endpoint", "")
	v.SetDefault("uploads.s3.prefix", "")
	v.SetDefault("uploads.s3.path_style", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads config.yaml from configPath when present, then applies
// PHENOBATCH_* environment overrides on top of the defaults.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // allow environment overrides
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "failed to read config file")
		}
	}

	cfg := Config{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Scheduler: SchedulerConfig{
			Enabled:      v.GetBool("scheduler.enabled"),
			PollInterval: v.GetDuration("scheduler.poll_interval"),
			RowWorkers:   v.GetInt("scheduler.row_workers"),
			Views:        v.GetStringSlice("scheduler.views"),
		},
		Uploads: uploads.Config{
			Driver:    uploads.Driver(v.GetString("uploads.driver")),
			Root:      v.GetString("uploads.root"),
			Bucket:    v.GetString("uploads.s3.bucket"),
			Region:    v.GetString("uploads.s3.region"),
			Endpoint:  v.GetString("uploads.s3.endpoint"),
			Prefix:    v.GetString("uploads.s3.prefix"),
			PathStyle: v.GetBool("uploads.s3.path_style"),
		},
		HTTP: HTTPConfig{
			Addr:           v.GetString("http.addr"),
			AllowedOrigins: v.GetStringSlice("http.allowed_origins"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Path:    v.GetString("metrics.path"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.Scheduler.PollInterval <= 0 {
		return errors.Errorf("scheduler.poll_interval must be positive, got %s", c.Scheduler.PollInterval)
	}
	if c.Scheduler.RowWorkers <= 0 {
		return errors.Errorf("scheduler.row_workers must be positive, got %d", c.Scheduler.RowWorkers)
	}
	switch c.Uploads.Driver {
	case uploads.DriverFilesystem:
	case uploads.DriverS3:
		if c.Uploads.Bucket == "" {
			return errors.New("uploads.s3.bucket is required for the s3 driver")
		}
	default:
		return errors.Errorf("unknown uploads.driver %q", c.Uploads.Driver)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}
