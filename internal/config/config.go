package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	ElasticsearchAddresses []string `yaml:"elasticsearchAddresses"`
	ElasticsearchUsername  string   `yaml:"elasticsearchUsername"`
	ElasticsearchPassword  string   `yaml:"elasticsearchPassword"`
	SearchIndex            string   `yaml:"searchIndex"`

	RedisAddr          string `yaml:"redisAddr"`
	RedisPassword      string `yaml:"redisPassword"`
	ReindexStream      string `yaml:"reindexStream"`
	ReindexGroup       string `yaml:"reindexGroup"`
	ReindexMaxRetries  int    `yaml:"reindexMaxRetries"`
	ReindexConcurrency int    `yaml:"reindexConcurrency"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`

	SearchRateLimit         int  `yaml:"searchRateLimit"`
	SearchRateWindowSeconds int  `yaml:"searchRateWindowSeconds"`
	TrustForwardedFor       bool `yaml:"trustForwardedFor"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ELASTICSEARCH_ADDRESSES"); v != "" {
		cfg.ElasticsearchAddresses = splitCSV(v)
	}
	if v := os.Getenv("ELASTICSEARCH_USERNAME"); v != "" {
		cfg.ElasticsearchUsername = v
	}
	if v := os.Getenv("ELASTICSEARCH_PASSWORD"); v != "" {
		cfg.ElasticsearchPassword = v
	}
	if v := os.Getenv("SEARCH_INDEX"); v != "" {
		cfg.SearchIndex = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CATALOG_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("CATALOG_SEARCH_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SearchRateLimit = n
		}
	}
	if cfg.SearchIndex == "" {
		cfg.SearchIndex = "books"
	}
	if cfg.ReindexConcurrency <= 0 {
		cfg.ReindexConcurrency = 1
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(cfg.ElasticsearchAddresses) == 0 {
		return errors.New("config: elasticsearchAddresses is required (set in config.yaml or ELASTICSEARCH_ADDRESSES)")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or CATALOG_JWT_SECRET)")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
