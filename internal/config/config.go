package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Batching   BatchingConfig   `mapstructure:"batching"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Run        RunConfig        `mapstructure:"run"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Prompt     PromptConfig     `mapstructure:"prompt"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the gorm driver used for run records, failed rows and
// database-backed checkpoints. An empty driver disables persistence.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, or empty
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

// Enabled reports whether a database driver is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.Driver != ""
}

// DSN builds the connection string for the configured driver.
// Parameters: none.
// Returns:
//   - string: sqlite file path or postgres DSN.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		if c.URL != "" {
			return c.URL
		}
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
	}
	return c.Path
}

// StorageConfig points at an S3-compatible bucket. Checkpoints and exported
// results are written under Prefix.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // r2, s3, s3compatible; auto-detected when empty
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

// Enabled reports whether object storage is configured.
func (c *StorageConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type ClassifierConfig struct {
	Model             string        `mapstructure:"model"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKeys           []string      `mapstructure:"api_keys"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Temperature       float32       `mapstructure:"temperature"`
	MaxTextChars      int           `mapstructure:"max_text_chars"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
}

type BatchingConfig struct {
	BaseSize             int `mapstructure:"base_size"`
	TokenBudget          int `mapstructure:"token_budget"`
	PromptOverheadTokens int `mapstructure:"prompt_overhead_tokens"`
	RowOverheadTokens    int `mapstructure:"row_overhead_tokens"`
}

type RetryConfig struct {
	TransientRetries  int           `mapstructure:"transient_retries"`
	TransientDelay    time.Duration `mapstructure:"transient_delay"`
	RateLimitRetries  int           `mapstructure:"rate_limit_retries"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
}

type RunConfig struct {
	Parallel         bool          `mapstructure:"parallel"`
	InterBatchDelay  time.Duration `mapstructure:"inter_batch_delay"`
	InterColumnDelay time.Duration `mapstructure:"inter_column_delay"`
	// DataDir is where the API server resolves dataset paths.
	DataDir string `mapstructure:"data_dir"`
}

type CheckpointConfig struct {
	Backend string `mapstructure:"backend"` // database, storage, none
	Prefix  string `mapstructure:"prefix"`
}

type PromptConfig struct {
	TemplatePath string `mapstructure:"template_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

const (
	MinBatchSize = 1
	MaxBatchSize = 50
)

// Load reads configuration from configPath (or ./configs/config.yaml), applies
// defaults and environment overrides.
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(configPath string) (*viper.Viper, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("classifier.api_keys", "CLASSIFIER_API_KEYS")
	v.BindEnv("classifier.base_url", "OPENAI_BASE_URL")
	v.BindEnv("classifier.model", "CLASSIFIER_MODEL")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.bucket", "STORAGE_BUCKET")

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/themescope.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.prefix", "themescope")

	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.base_url", "https://api.openai.com/v1")
	v.SetDefault("classifier.timeout", 120*time.Second)
	v.SetDefault("classifier.max_tokens", 4096)
	v.SetDefault("classifier.temperature", 0.2)
	v.SetDefault("classifier.max_text_chars", 2000)
	v.SetDefault("classifier.requests_per_minute", 0)

	v.SetDefault("batching.base_size", 10)
	v.SetDefault("batching.token_budget", 12000)
	v.SetDefault("batching.prompt_overhead_tokens", 1500)
	v.SetDefault("batching.row_overhead_tokens", 20)

	v.SetDefault("retry.transient_retries", 3)
	v.SetDefault("retry.transient_delay", 2*time.Second)
	v.SetDefault("retry.rate_limit_retries", 5)
	v.SetDefault("retry.backoff_initial", 5*time.Second)
	v.SetDefault("retry.backoff_multiplier", 1.5)
	v.SetDefault("retry.backoff_max", 60*time.Second)

	v.SetDefault("run.parallel", false)
	v.SetDefault("run.inter_batch_delay", time.Second)
	v.SetDefault("run.inter_column_delay", 2*time.Second)
	v.SetDefault("run.data_dir", "./data")

	v.SetDefault("checkpoint.backend", "database")
	v.SetDefault("checkpoint.prefix", "checkpoints")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Classifier.APIKeys = ResolveAPIKeys(cfg.Classifier.APIKeys)
	return &cfg, nil
}
