package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"geoattend/internal/report"
)

// ErrMissingDatabaseURL aborts startup: the service cannot run without storage.
var ErrMissingDatabaseURL = errors.New("config: DATABASE_URL is not set")

const devSecret = "dev-secret-change-me"

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env               string
	HTTPPort          string
	DatabaseURL       string
	RedisAddr         string
	SecretKey         string
	JWTIssuer         string
	SessionTTL        time.Duration
	CookieSecure      bool
	ControllerUser    string
	ControllerPass    string
	Debug             bool
	QueueBackend      string
	RateLimitBackend  string
	RateLimitPerMin   int
	StoreTimeout      time.Duration
	ShutdownTimeout   time.Duration
	CSVExcelBOM       bool
	WorkerMetricsPort string
	Class             Class
}

// Class describes the single class the deployment serves.
type Class struct {
	// Name is shown to users; LookupName is the row in the classes table.
	Name              string        `yaml:"class_name"`
	LookupName        string        `yaml:"class_lookup_name"`
	BatchCode         string        `yaml:"batch_code"`
	ControllerAccount string        `yaml:"controller_account"`
	GeofenceRadius    float64       `yaml:"geofence_radius_m"`
	SessionDuration   time.Duration `yaml:"session_duration"`
	CSV               report.Labels `yaml:"csv"`
	FilePrefix        string        `yaml:"file_prefix"`
}

// DefaultClass is the class served when no class file is configured.
func DefaultClass() Class {
	return Class{
		Name:              "B.A. - AIH",
		LookupName:        "BA - Anthropology",
		BatchCode:         "BA",
		ControllerAccount: "controller",
		GeofenceRadius:    50,
		SessionDuration:   5 * time.Minute,
		CSV: report.Labels{
			School:    "AIH Dept.",
			Course:    "AIH-DSM-311",
			Professor: "KRS Chandel",
		},
		FilePrefix: report.DefaultFilePrefix,
	}
}

// Production reports whether the deployment runs with production settings.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// Load returns application config populated from environment variables with
// defaults. A missing DATABASE_URL is an error.
func Load() (App, error) {
	cfg := App{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPPort:          getEnv("PORT", "5000"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		SecretKey:         getEnv("SECRET_KEY", devSecret),
		JWTIssuer:         getEnv("JWT_ISSUER", "geoattend"),
		SessionTTL:        durationEnv("SESSION_TTL", 12*time.Hour),
		CookieSecure:      boolEnv("COOKIE_SECURE", false),
		ControllerUser:    getEnv("CONTROLLER_USER", "aih_controller"),
		ControllerPass:    getEnv("CONTROLLER_PASS", "aih_pass_123"),
		Debug:             boolEnv("DEBUG", false),
		QueueBackend:      strings.ToLower(getEnv("QUEUE_BACKEND", "memory")),
		RateLimitBackend:  strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "memory")),
		RateLimitPerMin:   intEnv("RATE_LIMIT_PER_MIN", 30),
		StoreTimeout:      durationEnv("STORE_TIMEOUT", 5*time.Second),
		ShutdownTimeout:   durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second),
		CSVExcelBOM:       boolEnv("CSV_EXCEL_BOM", false),
		WorkerMetricsPort: getEnv("WORKER_METRICS_PORT", "9091"),
		Class:             DefaultClass(),
	}

	if path := os.Getenv("CLASS_CONFIG_FILE"); path != "" {
		class, err := LoadClass(path, cfg.Class)
		if err != nil {
			return App{}, err
		}
		cfg.Class = class
	}
	return cfg, cfg.validate()
}

// LoadClass overlays the YAML file at path onto base.
func LoadClass(path string, base Class) (Class, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Class{}, fmt.Errorf("config: read class file: %w", err)
	}
	class := base
	if err := yaml.Unmarshal(buf, &class); err != nil {
		return Class{}, fmt.Errorf("config: parse class file: %w", err)
	}
	return class, nil
}

func (a App) validate() error {
	if a.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if a.Production() && a.SecretKey == devSecret {
		return errors.New("config: SECRET_KEY must be set in production")
	}
	switch a.QueueBackend {
	case "memory", "none":
	case "redis":
		if a.RedisAddr == "" {
			return errors.New("config: QUEUE_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("config: unknown QUEUE_BACKEND %q", a.QueueBackend)
	}
	switch a.RateLimitBackend {
	case "memory":
	case "redis":
		if a.RedisAddr == "" {
			return errors.New("config: RATE_LIMIT_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("config: unknown RATE_LIMIT_BACKEND %q", a.RateLimitBackend)
	}
	if a.Class.BatchCode == "" || a.Class.LookupName == "" {
		return errors.New("config: class lookup name and batch code are required")
	}
	if a.Class.GeofenceRadius <= 0 || a.Class.SessionDuration <= 0 {
		return errors.New("config: geofence radius and session duration must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			slog.Warn("invalid duration, using fallback", "key", key, "error", err, "fallback", fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		slog.Warn("invalid bool, using fallback", "key", key, "fallback", fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		slog.Warn("invalid int, using fallback", "key", key, "fallback", fallback)
	}
	return fallback
}
