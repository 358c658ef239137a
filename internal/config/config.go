package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Auth        AuthConfig
	Recognition RecognitionConfig
	Camera      CameraConfig
	Settlement  SettlementConfig
	Storage     StorageConfig
}

type AppConfig struct {
	Name string
	Env  string
	Port string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	MaxBodySize      int64
	CORSAllowOrigins []string
}

type AuthConfig struct {
	Enabled bool
	Secret  string
	Issuer  string
}

// RecognitionConfig drives the OCR adapter and the confidence router.
type RecognitionConfig struct {
	OCRURL          string
	OCRToken        string
	MinConfidence   int
	DetectTimeout   time.Duration
	RetryFreshFrame bool
}

type CameraConfig struct {
	SnapshotPath  string
	ClipPath      string
	FrameTimeout  time.Duration
	ClipTimeout   time.Duration
	FrameAttempts int
	RetryDelay    time.Duration
	ClipBefore    time.Duration
	ClipAfter     time.Duration
}

type SettlementConfig struct {
	Enabled   bool
	BaseURL   string
	Timeout   time.Duration
	QueueSize int
	Workers   int
}

type StorageConfig struct {
	Root string
}

// Load reads config.yaml (if present) and PARKING_* environment variables.
// Environment variables win over the file; defaults fill whatever is left empty.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/parking")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("PARKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Auth: AuthConfig{
			Enabled: v.GetBool("auth.enabled"),
			Secret:  v.GetString("auth.secret"),
			Issuer:  v.GetString("auth.issuer"),
		},
		Recognition: RecognitionConfig{
			OCRURL:          v.GetString("recognition.ocr_url"),
			OCRToken:        v.GetString("recognition.ocr_token"),
			MinConfidence:   v.GetInt("recognition.min_confidence"),
			DetectTimeout:   v.GetDuration("recognition.detect_timeout"),
			RetryFreshFrame: !v.IsSet("recognition.retry_fresh_frame") || v.GetBool("recognition.retry_fresh_frame"),
		},
		Camera: CameraConfig{
			SnapshotPath:  v.GetString("camera.snapshot_path"),
			ClipPath:      v.GetString("camera.clip_path"),
			FrameTimeout:  v.GetDuration("camera.frame_timeout"),
			ClipTimeout:   v.GetDuration("camera.clip_timeout"),
			FrameAttempts: v.GetInt("camera.frame_attempts"),
			RetryDelay:    v.GetDuration("camera.retry_delay"),
			ClipBefore:    v.GetDuration("camera.clip_before"),
			ClipAfter:     v.GetDuration("camera.clip_after"),
		},
		Settlement: SettlementConfig{
			Enabled:   !v.IsSet("settlement.enabled") || v.GetBool("settlement.enabled"),
			BaseURL:   v.GetString("settlement.base_url"),
			Timeout:   v.GetDuration("settlement.timeout"),
			QueueSize: v.GetInt("settlement.queue_size"),
			Workers:   v.GetInt("settlement.workers"),
		},
		Storage: StorageConfig{
			Root: v.GetString("storage.root"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "parking-service"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "parking_management"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 30
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 15 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 20 << 20 // snapshots arrive base64-encoded
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "parking-service"
	}
	if cfg.Recognition.OCRURL == "" {
		cfg.Recognition.OCRURL = "https://parkonic.cloud/ParkonicJLT/anpr/engine/process"
	}
	if cfg.Recognition.MinConfidence == 0 {
		cfg.Recognition.MinConfidence = 70
	}
	if cfg.Recognition.DetectTimeout == 0 {
		cfg.Recognition.DetectTimeout = 10 * time.Second
	}
	if cfg.Camera.SnapshotPath == "" {
		cfg.Camera.SnapshotPath = "/cgi-bin/snapshot.cgi"
	}
	if cfg.Camera.ClipPath == "" {
		cfg.Camera.ClipPath = "/dataloader.cgi"
	}
	if cfg.Camera.FrameTimeout == 0 {
		cfg.Camera.FrameTimeout = 10 * time.Second
	}
	if cfg.Camera.ClipTimeout == 0 {
		cfg.Camera.ClipTimeout = 30 * time.Second
	}
	if cfg.Camera.FrameAttempts == 0 {
		cfg.Camera.FrameAttempts = 3
	}
	if cfg.Camera.RetryDelay == 0 {
		cfg.Camera.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Camera.ClipBefore == 0 {
		cfg.Camera.ClipBefore = 15 * time.Second
	}
	if cfg.Camera.ClipAfter == 0 {
		cfg.Camera.ClipAfter = 5 * time.Second
	}
	if cfg.Settlement.BaseURL == "" {
		cfg.Settlement.BaseURL = "https://dev.parkonic.com/api/street-parking/v2"
	}
	if cfg.Settlement.Timeout == 0 {
		cfg.Settlement.Timeout = 10 * time.Second
	}
	if cfg.Settlement.QueueSize == 0 {
		cfg.Settlement.QueueSize = 256
	}
	if cfg.Settlement.Workers == 0 {
		cfg.Settlement.Workers = 2
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "./data"
	}
}

func (c *Config) validate() error {
	if c.Recognition.MinConfidence < 0 || c.Recognition.MinConfidence > 100 {
		return fmt.Errorf("recognition.min_confidence must be within 0..100, got %d", c.Recognition.MinConfidence)
	}
	if c.Camera.FrameAttempts < 1 {
		return fmt.Errorf("camera.frame_attempts must be positive, got %d", c.Camera.FrameAttempts)
	}
	if c.Settlement.Workers < 1 {
		return fmt.Errorf("settlement.workers must be positive, got %d", c.Settlement.Workers)
	}
	if c.Auth.Enabled && len(c.Auth.Secret) < 32 {
		return errors.New("auth.secret must be at least 32 characters when auth is enabled")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
