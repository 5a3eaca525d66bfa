package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"inboxtriage/pkg/config"
)

// SyncConfig tunes the ingestion pipeline and the periodic scheduler.
type SyncConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxMessages int           `yaml:"max_messages"`
	Query       string        `yaml:"query"`
	BatchSize   int           `yaml:"batch_size"`
	BatchPause  time.Duration `yaml:"batch_pause"`
	PageSize    int           `yaml:"page_size"`
	ManualMax   int           `yaml:"manual_max"`
	ManualQuery string        `yaml:"manual_query"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

// BrowserConfig configures the headless browser used for unsubscribe automation.
type BrowserConfig struct {
	Headless          bool          `yaml:"headless"`
	ExecPath          string        `yaml:"exec_path"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

// OtelConfig configures trace export.
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type Config struct {
	DB          config.DBConfig     `yaml:"db"`
	Redis       config.RedisConfig  `yaml:"redis"`
	MQ          config.MQConfig     `yaml:"mq"`
	JWT         config.JWTConfig    `yaml:"jwt"`
	Server      config.ServerConfig `yaml:"server"`
	Google      config.GoogleConfig `yaml:"google"`
	OpenAI      config.OpenAIConfig `yaml:"openai"`
	Sync        SyncConfig          `yaml:"sync"`
	Browser     BrowserConfig       `yaml:"browser"`
	Otel        OtelConfig          `yaml:"otel"`
	FrontendURL string              `yaml:"frontend_url"`
}

// Load reads layered config from CONFIG_DIR (default "config") for CONFIG_ENV.
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := FromMap(cfgMap)
	if err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideGoogleFromEnv(&cfg.Google)
	config.OverrideOpenAIFromEnv(&cfg.OpenAI)
	if url := os.Getenv("FRONTEND_URL"); url != "" {
		cfg.FrontendURL = url
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Otel.Endpoint = endpoint
		cfg.Otel.Enabled = true
	}

	return cfg, nil
}

// FromMap converts a merged config map into a Config with defaults applied.
func FromMap(cfgMap map[string]interface{}) (*Config, error) {
	cfgData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	// 先填默认值，yaml 中出现的字段再覆盖
	cfg := Default()
	if err := yaml.Unmarshal(cfgData, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		DB: config.DBConfig{
			Host:               "localhost",
			Port:               5432,
			User:               "postgres",
			Name:               "inboxtriage",
			SlowQueryThreshold: 200 * time.Millisecond,
		},
		JWT:    config.JWTConfig{TTL: 7 * 24 * time.Hour},
		Server: config.ServerConfig{Port: ":8080", Mode: "release"},
		OpenAI: config.OpenAIConfig{
			Model:   "gpt-3.5-turbo",
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			Interval:    15 * time.Minute,
			MaxMessages: 20,
			Query:       "is:unread",
			BatchSize:   5,
			BatchPause:  time.Second,
			PageSize:    100,
			ManualMax:   50,
			ManualQuery: "in:inbox",
			LockTTL:     10 * time.Minute,
		},
		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: 30 * time.Second,
		},
		Otel:        OtelConfig{ServiceName: "inboxtriage"},
		FrontendURL: "http://localhost:3000",
	}
}
