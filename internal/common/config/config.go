// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Server        ServerConfig       `mapstructure:"server"`
	Directory     DirectoryConfig    `mapstructure:"directory"`
	Queue         QueueConfig        `mapstructure:"queue"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address        string `mapstructure:"address"`
	MetricsAddress string `mapstructure:"metrics_address"`
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

// DirectoryConfig selects and configures the application directory backend.
// Backend is "http" (remote admin API) or "postgres" (direct database access
// with optional Elasticsearch search).
type DirectoryConfig struct {
	Backend       string              `mapstructure:"backend"`
	HTTP          HTTPBackendConfig   `mapstructure:"http"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
	StatsCacheTTL int                 `mapstructure:"stats_cache_ttl"` // seconds
}

type HTTPBackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig holds the queue engine's policy constants. The pacing interval
// and search debounce are deliberate rate-limit choices agreed with the
// downstream payment provider; change them there first.
type QueueConfig struct {
	PayoutPacing    int `mapstructure:"payout_pacing"`    // milliseconds between disbursement calls
	DisburseTimeout int `mapstructure:"disburse_timeout"` // milliseconds per disbursement call
	SearchDebounce  int `mapstructure:"search_debounce"`  // milliseconds of keystroke quiet period
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// PayoutPacingDuration returns the inter-call pacing as a duration.
func (q QueueConfig) PayoutPacingDuration() time.Duration {
	return time.Duration(q.PayoutPacing) * time.Millisecond
}

// DisburseTimeoutDuration returns the per-call deadline as a duration.
func (q QueueConfig) DisburseTimeoutDuration() time.Duration {
	return time.Duration(q.DisburseTimeout) * time.Millisecond
}

// SearchDebounceDuration returns the search quiet period as a duration.
func (q QueueConfig) SearchDebounceDuration() time.Duration {
	return time.Duration(q.SearchDebounce) * time.Millisecond
}

// NotificationConfig drives the post-batch summary delivery.
type NotificationConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	AWSRegion    string `mapstructure:"aws_region"`
	FromAddress  string `mapstructure:"from_address"`
	OpsAddress   string `mapstructure:"ops_address"`
	OpsSMSNumber string `mapstructure:"ops_sms_number"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}
