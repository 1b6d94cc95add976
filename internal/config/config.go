package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		Env  string `yaml:"env"`
	} `yaml:"server"`

	Database struct {
		DSN string `yaml:"url"`
	} `yaml:"database"`

	JWT struct {
		Secret string `yaml:"secret"`
		TTL    int    `yaml:"ttl"` // minutes
	} `yaml:"jwt"`

	Gateways struct {
		LemonSqueezy struct {
			APIKey        string `yaml:"api_key"`
			StoreID       string `yaml:"store_id"`
			SigningSecret string `yaml:"signing_secret"`
			TestMode      bool   `yaml:"test_mode"`
		} `yaml:"lemon_squeezy"`
	} `yaml:"gateways"`

	LMS struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"lms"`

	RateLimit struct {
		RequestsPerMinute int `yaml:"requests_per_minute"`
	} `yaml:"rate_limit"`

	Dispatcher struct {
		Workers       int `yaml:"workers"`
		MaxAttempts   int `yaml:"max_attempts"`
		BaseBackoff   int `yaml:"base_backoff_ms"`
		QueueSize     int `yaml:"queue_size"`
		SweepInterval int `yaml:"sweep_interval_seconds"`
	} `yaml:"dispatcher"`

	Renewal struct {
		ScanInterval int `yaml:"scan_interval_minutes"`
	} `yaml:"renewal"`

	FirstAdminEmail    string `yaml:"first_admin_email"`
	FirstAdminPassword string `yaml:"first_admin_password"`
}

var AppConfig *Config

// LoadConfig reads config.yaml, or falls back to environment variables when
// DATABASE_URL is set (tests and containerized deployments).
func LoadConfig() {
	var cfg Config

	dbURL := os.Getenv("DATABASE_URL")

	if dbURL == "" {
		configPath := os.Getenv("CONFIG_PATH")
		if configPath == "" {
			configPath = "config/config.yaml"
		}

		f, err := os.Open(configPath)
		if err != nil {
			log.Fatalf("Failed to open config file at %s: %v", configPath, err)
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			log.Fatalf("Failed to parse config file at %s: %v", configPath, err)
		}

		applyDefaults(&cfg)
		AppConfig = &cfg
		return
	}

	cfg.Database.DSN = dbURL
	cfg.Server.Env = os.Getenv("SERVER_ENV")
	cfg.Server.Port, _ = strconv.Atoi(os.Getenv("SERVER_PORT"))
	cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	cfg.JWT.TTL = 60

	cfg.Gateways.LemonSqueezy.APIKey = os.Getenv("LEMON_SQUEEZY_API_KEY")
	cfg.Gateways.LemonSqueezy.StoreID = os.Getenv("LEMON_SQUEEZY_STORE_ID")
	cfg.Gateways.LemonSqueezy.SigningSecret = os.Getenv("LEMON_SQUEEZY_SIGNING_SECRET")

	cfg.LMS.BaseURL = os.Getenv("LMS_BASE_URL")
	cfg.LMS.APIKey = os.Getenv("LMS_API_KEY")

	cfg.FirstAdminEmail = os.Getenv("FIRST_ADMIN_EMAIL")
	cfg.FirstAdminPassword = os.Getenv("FIRST_ADMIN_PASSWORD")

	applyDefaults(&cfg)
	AppConfig = &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.JWT.TTL == 0 {
		cfg.JWT.TTL = 60
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 100
	}
	if cfg.Dispatcher.Workers == 0 {
		cfg.Dispatcher.Workers = 4
	}
	if cfg.Dispatcher.MaxAttempts == 0 {
		cfg.Dispatcher.MaxAttempts = 5
	}
	if cfg.Dispatcher.BaseBackoff == 0 {
		cfg.Dispatcher.BaseBackoff = 1000
	}
	if cfg.Dispatcher.QueueSize == 0 {
		cfg.Dispatcher.QueueSize = 256
	}
	if cfg.Dispatcher.SweepInterval == 0 {
		cfg.Dispatcher.SweepInterval = 60
	}
	if cfg.LMS.TimeoutSeconds == 0 {
		cfg.LMS.TimeoutSeconds = 10
	}
	if cfg.Renewal.ScanInterval == 0 {
		cfg.Renewal.ScanInterval = 15
	}
}

func GetConfig() *Config {
	if AppConfig == nil {
		LoadConfig()
	}
	return AppConfig
}

// DispatcherBackoff returns the configured base backoff as a duration.
func (c *Config) DispatcherBackoff() time.Duration {
	return time.Duration(c.Dispatcher.BaseBackoff) * time.Millisecond
}
