package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// AuditConfig drives the async audit pipeline.
type AuditConfig struct {
	DBPath          string `yaml:"db_path"`
	QueueSize       int    `yaml:"queue_size" validate:"gte=0"`
	Workers         int    `yaml:"workers" validate:"gte=0,lte=64"`
	InsertResponses bool   `yaml:"insert_responses"`
}

// WebhookConfig drives the async security-event pipeline. URLs is a
// comma/semicolon separated endpoint list.
type WebhookConfig struct {
	Enabled               bool              `yaml:"enabled"`
	URLs                  string            `yaml:"urls"`
	Headers               map[string]string `yaml:"headers"`
	Authorization         string            `yaml:"authorization"`
	Application           string            `yaml:"application"`
	FailureLogPath        string            `yaml:"failure_log_path"`
	ThrottleWindowSeconds int               `yaml:"throttle_window_seconds" validate:"gte=0"`
}

// MainConfig is the process-wide configuration. Missing file or fields
// resolve to the documented defaults; an invalid file fails startup.
type MainConfig struct {
	Port                  string   `yaml:"port" validate:"required,numeric"`
	WebPath               string   `yaml:"web_path" validate:"required,startswith=/"`
	RulePath              string   `yaml:"rule_path" validate:"required"`
	ErrorPage             string   `yaml:"error_page"`
	LogPath               string   `yaml:"log_path"`
	NodeName              string   `yaml:"node_name"`
	GeoIPDBPath           string   `yaml:"geoip_db_path"`
	EncryptionKey         string   `yaml:"encryption_key" validate:"required,min=16"`
	RateLimit             string   `yaml:"rate_limit"`
	FailureWindowSeconds  int64    `yaml:"failure_window_seconds" validate:"gt=0"`
	RuleCacheTTLSeconds   int64    `yaml:"rule_cache_ttl_seconds" validate:"gt=0"`
	ConnectingHostHeaders []string `yaml:"connecting_host_headers"`
	ConnectingIPHeaders   []string `yaml:"connecting_ip_headers"`

	Audit   AuditConfig   `yaml:"audit"`
	Webhook WebhookConfig `yaml:"webhook"`
}

func defaultConfig() MainConfig {
	return MainConfig{
		Port:                  "25590",
		WebPath:               "/fgm",
		RulePath:              "/www/fortgate/config/rules",
		ErrorPage:             "/www/fortgate/config/error_page",
		LogPath:               "/www/fortgate/log/",
		NodeName:              "FortGate",
		EncryptionKey:         "change-me-this-is-not-a-secret",
		RateLimit:             "300/60s",
		FailureWindowSeconds:  600,
		RuleCacheTTLSeconds:   60,
		ConnectingHostHeaders: []string{"Fgm-Real-Host"},
		ConnectingIPHeaders:   []string{"Fgm-Real-IP"},
		Audit: AuditConfig{
			DBPath:          "/www/fortgate/data/audit.db",
			QueueSize:       2048,
			Workers:         2,
			InsertResponses: true,
		},
		Webhook: WebhookConfig{
			Application:           "fortgate",
			ThrottleWindowSeconds: 60,
		},
	}
}

// LoadMainConfig reads <basePath>/config/fortgate.yml over the defaults
// and validates the result. A missing file yields the defaults.
func LoadMainConfig(basePath string) (*MainConfig, error) {
	cfg := defaultConfig()

	if basePath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Dir(exePath)
	}
	configPath := filepath.Join(basePath, "config", "fortgate.yml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", configPath, err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return &cfg, nil
}
