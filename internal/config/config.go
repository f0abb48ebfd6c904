package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the single source of truth for every address and limit the
// server uses. Load it once at startup.
type Config struct {
	Port string `yaml:"port"`

	Backend  Backend  `yaml:"backend"`
	Auth     Auth     `yaml:"auth"`
	Upload   Upload   `yaml:"upload"`
	Sessions Sessions `yaml:"sessions"`
	Log      Log      `yaml:"log"`

	GinMode string `yaml:"gin_mode"`
}

// Backend describes the inference service.
type Backend struct {
	BaseURL string `yaml:"base_url"`
	// PredictPath may contain {model}; it is replaced with the model id.
	PredictPath    string        `yaml:"predict_path"`
	HealthPath     string        `yaml:"health_path"`
	ModelsPath     string        `yaml:"models_path"`
	LabelsPath     string        `yaml:"labels_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Auth struct {
	SupabaseURL string `yaml:"supabase_url"`
	AnonKey     string `yaml:"anon_key"`
	JWTSecret   string `yaml:"jwt_secret"`
	SignInURL   string `yaml:"sign_in_url"`
	CookieName  string `yaml:"cookie_name"`
}

type Upload struct {
	MaxBytes       int64 `yaml:"max_bytes"`
	PreviewMaxSide uint  `yaml:"preview_max_side"`
	// MaxPixels bounds width*height of an image the preview will decode.
	MaxPixels int64 `yaml:"max_pixels"`
}

// Sessions controls how long an untouched workflow session is kept.
type Sessions struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Port: "8080",
		Backend: Backend{
			BaseURL:        "http://localhost:8000",
			PredictPath:    "/predict/{model}",
			HealthPath:     "/health",
			ModelsPath:     "/models",
			LabelsPath:     "/labels/{model}",
			RequestTimeout: 30 * time.Second,
		},
		Auth: Auth{
			SignInURL:  "/auth",
			CookieName: "sb-access-token",
		},
		Upload: Upload{
			MaxBytes:       10 << 20,
			PreviewMaxSide: 512,
			MaxPixels:      40_000_000,
		},
		Sessions: Sessions{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
		GinMode: "release",
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.Backend.BaseURL, "BACKEND_URL")
	setString(&c.Backend.PredictPath, "PREDICT_PATH")
	setString(&c.Auth.SupabaseURL, "SUPABASE_URL")
	setString(&c.Auth.AnonKey, "SUPABASE_ANON_KEY")
	setString(&c.Auth.JWTSecret, "SUPABASE_JWT_SECRET")
	setString(&c.Auth.SignInURL, "SIGN_IN_URL")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.GinMode, "GIN_MODE")

	if v, ok := os.LookupEnv("REQUEST_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid REQUEST_TIMEOUT %q: %w", v, err)
		}
		c.Backend.RequestTimeout = d
	}
	if v, ok := os.LookupEnv("MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES %q: %w", v, err)
		}
		c.Upload.MaxBytes = n
	}
	if v, ok := os.LookupEnv("MAX_UPLOAD_PIXELS"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_PIXELS %q: %w", v, err)
		}
		c.Upload.MaxPixels = n
	}
	if v, ok := os.LookupEnv("SESSION_IDLE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_IDLE_TIMEOUT %q: %w", v, err)
		}
		c.Sessions.IdleTimeout = d
	}
	return nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend base_url must be an absolute http(s) URL, got %q", c.Backend.BaseURL)
	}
	for name, p := range map[string]string{
		"predict_path": c.Backend.PredictPath,
		"health_path":  c.Backend.HealthPath,
		"models_path":  c.Backend.ModelsPath,
		"labels_path":  c.Backend.LabelsPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("backend %s must start with '/', got %q", name, p)
		}
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend request_timeout must be positive")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max_bytes must be positive")
	}
	if c.Upload.PreviewMaxSide == 0 {
		return fmt.Errorf("upload preview_max_side must be positive")
	}
	if c.Upload.MaxPixels <= 0 {
		return fmt.Errorf("upload max_pixels must be positive")
	}
	if c.Sessions.IdleTimeout <= 0 || c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("sessions idle_timeout and sweep_interval must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}
	if c.Auth.SignInURL == "" {
		return fmt.Errorf("auth sign_in_url is required")
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("auth cookie_name is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log format must be json or console, got %q", c.Log.Format)
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("gin_mode must be debug, release or test, got %q", c.GinMode)
	}
	return nil
}

// URL joins the base URL with path, substituting {model}.
func (b Backend) URL(path, modelID string) string {
	path = strings.ReplaceAll(path, "{model}", url.PathEscape(modelID))
	return strings.TrimRight(b.BaseURL, "/") + path
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
