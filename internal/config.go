package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultConfigPath = "files/config.yaml"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Upload     UploadConfig     `mapstructure:"upload"`
	GC         GCConfig         `mapstructure:"gc"`
	Thumbnails ThumbnailsConfig `mapstructure:"thumbnails"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Address             string   `mapstructure:"address"`
	AllowedOrigins      []string `mapstructure:"allowed_origins"`
	MaxRequestBodyBytes int      `mapstructure:"max_request_body_bytes"`
	Version             string   `mapstructure:"version"`
}

type StorageConfig struct {
	SharedRoot   string `mapstructure:"shared_root"`
	TempDir      string `mapstructure:"temp_dir"`
	ChunkBackend string `mapstructure:"chunk_backend"`
	S3Endpoint   string `mapstructure:"s3_endpoint"`
	S3Bucket     string `mapstructure:"s3_bucket"`
	S3AccessKey  string `mapstructure:"s3_access_key"`
	S3SecretKey  string `mapstructure:"s3_secret_key"`
	S3Region     string `mapstructure:"s3_region"`
	S3UseSSL     bool   `mapstructure:"s3_use_ssl"`
	S3Prefix     string `mapstructure:"s3_prefix"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type UploadConfig struct {
	ChunkSizeBytes      int64 `mapstructure:"chunk_size_bytes"`
	MaxActiveSessions   int   `mapstructure:"max_active_sessions"`
	EnforceSessionLimit bool  `mapstructure:"enforce_session_limit"`
}

type GCConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	ResumptionTimeout time.Duration `mapstructure:"resumption_timeout"`
	Retention         time.Duration `mapstructure:"retention"`
}

type ThumbnailsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Dir       string `mapstructure:"dir"`
	MaxWidth  int    `mapstructure:"max_width"`
	MaxHeight int    `mapstructure:"max_height"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_request_body_bytes", 64*1024*1024)
	v.SetDefault("server.version", "1.0.0")

	v.SetDefault("storage.shared_root", "./shared")
	v.SetDefault("storage.temp_dir", "./files/tmp")
	v.SetDefault("storage.chunk_backend", "local")
	v.SetDefault("storage.s3_prefix", "chunks")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "files/lanshare.db")

	v.SetDefault("upload.chunk_size_bytes", 2*1024*1024)
	v.SetDefault("upload.max_active_sessions", 3)
	v.SetDefault("upload.enforce_session_limit", true)

	v.SetDefault("gc.interval", time.Hour)
	v.SetDefault("gc.resumption_timeout", time.Hour)
	v.SetDefault("gc.retention", 24*time.Hour)

	v.SetDefault("thumbnails.enabled", true)
	v.SetDefault("thumbnails.dir", "./files/thumbnails")
	v.SetDefault("thumbnails.max_width", 300)
	v.SetDefault("thumbnails.max_height", 300)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// LoadConfig reads the YAML config at path (or the default location) and
// overlays LANSHARE_* environment variables. A missing file is not an error;
// defaults apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = defaultConfigPath
	}
	v.SetConfigFile(path)
	v.SetEnvPrefix("LANSHARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.Upload.MaxActiveSessions <= 0 {
		return fmt.Errorf("upload.max_active_sessions must be positive, got %d", c.Upload.MaxActiveSessions)
	}
	if c.GC.ResumptionTimeout <= 0 {
		return fmt.Errorf("gc.resumption_timeout must be positive")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Storage.ChunkBackend {
	case "local", "s3":
	default:
		return fmt.Errorf("unsupported chunk backend: %s", c.Storage.ChunkBackend)
	}
	return nil
}
