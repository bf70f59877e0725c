// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DIRECTORY_POSTGRES_PASSWORD
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay, e.g. config.production.yaml
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig() // ignore error if not found

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from whichever location matches the working
// directory the process was started from.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders left in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig fills secrets straight from the environment when the
// YAML left them empty.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Directory.Postgres.Password == "" {
		if val := os.Getenv("DIRECTORY_POSTGRES_PASSWORD"); val != "" {
			cfg.Directory.Postgres.Password = val
		}
	}
	if cfg.Directory.Redis.Password == "" {
		if val := os.Getenv("DIRECTORY_REDIS_PASSWORD"); val != "" {
			cfg.Directory.Redis.Password = val
		}
	}
	if cfg.Directory.Elasticsearch.Password == "" {
		if val := os.Getenv("DIRECTORY_ELASTICSEARCH_PASSWORD"); val != "" {
			cfg.Directory.Elasticsearch.Password = val
		}
	}
	if cfg.Directory.HTTP.APIKey == "" {
		if val := os.Getenv("DIRECTORY_API_KEY"); val != "" {
			cfg.Directory.HTTP.APIKey = val
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "lending-queue"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8086"
	}
	if cfg.Server.MetricsAddress == "" {
		cfg.Server.MetricsAddress = ":9096"
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30000
	}

	if cfg.Directory.Backend == "" {
		cfg.Directory.Backend = "postgres"
	}
	if cfg.Directory.HTTP.Timeout == 0 {
		cfg.Directory.HTTP.Timeout = 15000
	}
	if cfg.Directory.Postgres.Host == "" {
		cfg.Directory.Postgres.Host = "localhost"
	}
	if cfg.Directory.Postgres.Port == 0 {
		cfg.Directory.Postgres.Port = 5432
	}
	if cfg.Directory.Postgres.MaxConnections == 0 {
		cfg.Directory.Postgres.MaxConnections = 10
	}
	if cfg.Directory.Postgres.MaxIdle == 0 {
		cfg.Directory.Postgres.MaxIdle = 5
	}
	if cfg.Directory.Postgres.SSLMode == "" {
		cfg.Directory.Postgres.SSLMode = "disable"
	}
	if cfg.Directory.Elasticsearch.Index == "" {
		cfg.Directory.Elasticsearch.Index = "loan_applications"
	}
	if cfg.Directory.Redis.Address == "" {
		cfg.Directory.Redis.Address = "localhost:6379"
	}
	if cfg.Directory.StatsCacheTTL == 0 {
		cfg.Directory.StatsCacheTTL = 60
	}

	// Queue policy defaults. 500ms pacing and 3s debounce are the values
	// agreed with the payment provider and the product team respectively.
	if cfg.Queue.PayoutPacing == 0 {
		cfg.Queue.PayoutPacing = 500
	}
	if cfg.Queue.DisburseTimeout == 0 {
		cfg.Queue.DisburseTimeout = 20000
	}
	if cfg.Queue.SearchDebounce == 0 {
		cfg.Queue.SearchDebounce = 3000
	}
	if cfg.Queue.DefaultPageSize == 0 {
		cfg.Queue.DefaultPageSize = 10
	}
	if cfg.Queue.MaxPageSize == 0 {
		cfg.Queue.MaxPageSize = 100
	}

	if cfg.Notifications.AWSRegion == "" {
		cfg.Notifications.AWSRegion = "ap-south-1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Directory.Backend {
	case "postgres":
		if cfg.Directory.Postgres.Database == "" {
			return fmt.Errorf("directory.postgres.database is required for the postgres backend")
		}
		if cfg.Directory.Postgres.User == "" {
			return fmt.Errorf("directory.postgres.user is required for the postgres backend")
		}
	case "http":
		if cfg.Directory.HTTP.BaseURL == "" {
			return fmt.Errorf("directory.http.base_url is required for the http backend")
		}
	default:
		return fmt.Errorf("unknown directory backend: %s", cfg.Directory.Backend)
	}

	if cfg.Queue.PayoutPacing < 0 {
		return fmt.Errorf("queue.payout_pacing must not be negative")
	}
	if cfg.Queue.DefaultPageSize > cfg.Queue.MaxPageSize {
		return fmt.Errorf("queue.default_page_size exceeds queue.max_page_size")
	}

	if cfg.Notifications.Enabled && cfg.Notifications.OpsAddress == "" && cfg.Notifications.OpsSMSNumber == "" {
		return fmt.Errorf("notifications enabled but no ops_address or ops_sms_number configured")
	}

	return nil
}
