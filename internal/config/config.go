package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

// Provider kinds
const (
	KindAnthropic        = "anthropic"
	KindOpenAICompatible = "openai-compatible"
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	OIDC       OIDCConfig
	Gateway    GatewayConfig
	RateLimit  RateLimitConfig
	Queue      QueueConfig
	Storage    StorageConfig
	Experiment ExperimentConfig
	Providers  map[string]ProviderConfig
	S3         S3Config
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string // text or json
	// AuthDisabled skips authentication; honoured in development only.
	AuthDisabled bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	ExperimentsPerHour int
	BatchesPerHour     int
}

type QueueConfig struct {
	MaxConcurrent int
	PollInterval  time.Duration
	ErrorBackoff  time.Duration
	StartTimeout  time.Duration
	StopTimeout   time.Duration
	AutoStart     bool
}

type StorageConfig struct {
	ResultsPath  string
	DatasetsPath string
}

type ExperimentConfig struct {
	MaxTurns           int
	DefaultTemperature float64
	EnableAdversarial  bool
	RowConcurrency     int
	MaxRows            int
	DisabledDomains    []string
}

type ProviderConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	RPMLimit int
	Kind     string
}

type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
}

// Configured reports whether uploads can be attempted.
func (c S3Config) Configured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// AuthEnabled reports whether API routes require authentication.
func (c *Config) AuthEnabled() bool {
	return !(c.Server.AuthDisabled && c.IsDevelopment())
}

type providerDefault struct {
	name    string
	envKey  string
	baseURL string
	model   string
	rpm     int
	kind    string
}

var providerDefaults = []providerDefault{
	{"claude", "ANTHROPIC_API_KEY", "https://api.anthropic.com/v1", "claude-sonnet-4-20250514", 20, KindAnthropic},
	{"openai", "OPENAI_API_KEY", "https://api.openai.com/v1", "gpt-4o-2024-08-06", 20, KindOpenAICompatible},
	{"gemini", "GOOGLE_API_KEY", "https://generativelanguage.googleapis.com/v1beta/openai", "gemini-2.5-flash", 10, KindOpenAICompatible},
	{"together", "TOGETHER_API_KEY", "https://api.together.xyz/v1", "lgai/exaone-3-5-32b-instruct", 60, KindOpenAICompatible},
	{"deepseek", "TOGETHER_API_KEY", "https://api.together.xyz/v1", "deepseek-ai/DeepSeek-R1-Distill-Llama-70B-free", 60, KindOpenAICompatible},
	{"gpt-oss", "GPT_OSS_API_KEY", "http://localhost:11434/v1", "gpt-oss:20b", 1000, KindOpenAICompatible},
}

// ProviderNames returns every provider the service knows, configured or not.
func ProviderNames() []string {
	names := make([]string, len(providerDefaults))
	for i, p := range providerDefaults {
		names[i] = p.name
	}
	return names
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("ANTHROPIC_API_KEY")
	readSecret("OPENAI_API_KEY")
	readSecret("GOOGLE_API_KEY")
	readSecret("TOGETHER_API_KEY")
	readSecret("GPT_OSS_API_KEY")
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("S3_ACCESS_KEY_ID")
	readSecret("S3_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.log_format", "LOG_FORMAT")
	_ = v.BindEnv("server.auth_disabled", "AUTH_DISABLED")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = v.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = v.BindEnv("ratelimit.experiments_per_hour", "RATELIMIT_EXPERIMENTS_PER_HOUR")
	_ = v.BindEnv("ratelimit.batches_per_hour", "RATELIMIT_BATCHES_PER_HOUR")
	_ = v.BindEnv("queue.max_concurrent", "MAX_CONCURRENT_EXPERIMENTS")
	_ = v.BindEnv("queue.poll_interval", "QUEUE_POLL_INTERVAL")
	_ = v.BindEnv("queue.error_backoff", "QUEUE_ERROR_BACKOFF")
	_ = v.BindEnv("queue.start_timeout", "QUEUE_START_TIMEOUT")
	_ = v.BindEnv("queue.stop_timeout", "QUEUE_STOP_TIMEOUT")
	_ = v.BindEnv("queue.auto_start", "QUEUE_AUTO_START")
	_ = v.BindEnv("storage.results_path", "RESULTS_STORAGE_PATH")
	_ = v.BindEnv("storage.datasets_path", "DATASETS_PATH")
	_ = v.BindEnv("experiment.max_turns", "MAX_TURNS")
	_ = v.BindEnv("experiment.default_temperature", "DEFAULT_TEMPERATURE")
	_ = v.BindEnv("experiment.enable_adversarial", "ENABLE_ADVERSARIAL")
	_ = v.BindEnv("experiment.row_concurrency", "ROW_CONCURRENCY")
	_ = v.BindEnv("experiment.max_rows", "MAX_DATASET_ROWS")
	_ = v.BindEnv("experiment.disabled_domains", "DISABLED_DOMAINS")
	_ = v.BindEnv("s3.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("s3.region", "S3_REGION")
	_ = v.BindEnv("s3.access_key_id", "S3_ACCESS_KEY_ID")
	_ = v.BindEnv("s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	_ = v.BindEnv("s3.bucket", "S3_BUCKET")
	_ = v.BindEnv("s3.public_url", "S3_PUBLIC_URL")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "text")
	v.SetDefault("server.auth_disabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.experiments_per_hour", 60)
	v.SetDefault("ratelimit.batches_per_hour", 20)

	// Queue defaults
	v.SetDefault("queue.max_concurrent", 3)
	v.SetDefault("queue.poll_interval", 5*time.Second)
	v.SetDefault("queue.error_backoff", 10*time.Second)
	v.SetDefault("queue.start_timeout", 3*time.Second)
	v.SetDefault("queue.stop_timeout", 5*time.Second)
	v.SetDefault("queue.auto_start", true)

	v.SetDefault("storage.results_path", "./data/results")
	v.SetDefault("storage.datasets_path", "./data/datasets")

	// Experiment defaults
	v.SetDefault("experiment.max_turns", 3)
	v.SetDefault("experiment.default_temperature", 0.7)
	v.SetDefault("experiment.enable_adversarial", true)
	v.SetDefault("experiment.row_concurrency", 1)
	v.SetDefault("experiment.max_rows", 1000)
	v.SetDefault("experiment.disabled_domains", []string{})

	v.SetDefault("s3.region", "auto")

	// Provider defaults
	for _, p := range providerDefaults {
		prefix := "providers." + p.name + "."
		envPrefix := strings.ToUpper(strings.ReplaceAll(p.name, "-", "_")) + "_"
		_ = v.BindEnv(prefix+"api_key", p.envKey)
		_ = v.BindEnv(prefix+"base_url", envPrefix+"BASE_URL")
		_ = v.BindEnv(prefix+"model", envPrefix+"MODEL")
		_ = v.BindEnv(prefix+"rpm_limit", envPrefix+"RPM_LIMIT")
		v.SetDefault(prefix+"base_url", p.baseURL)
		v.SetDefault(prefix+"model", p.model)
		v.SetDefault(prefix+"rpm_limit", p.rpm)
		v.SetDefault(prefix+"kind", p.kind)
	}
	// Local Ollama accepts any key.
	v.SetDefault("providers.gpt-oss.api_key", "ollama")

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("server.port"),
			Env:          v.GetString("server.env"),
			LogLevel:     v.GetString("server.log_level"),
			LogFormat:    v.GetString("server.log_format"),
			AuthDisabled: v.GetBool("server.auth_disabled"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		OIDC: OIDCConfig{
			Issuer:   v.GetString("oidc.issuer"),
			ClientID: v.GetString("oidc.client_id"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			ExperimentsPerHour: v.GetInt("ratelimit.experiments_per_hour"),
			BatchesPerHour:     v.GetInt("ratelimit.batches_per_hour"),
		},
		Queue: QueueConfig{
			MaxConcurrent: v.GetInt("queue.max_concurrent"),
			PollInterval:  v.GetDuration("queue.poll_interval"),
			ErrorBackoff:  v.GetDuration("queue.error_backoff"),
			StartTimeout:  v.GetDuration("queue.start_timeout"),
			StopTimeout:   v.GetDuration("queue.stop_timeout"),
			AutoStart:     v.GetBool("queue.auto_start"),
		},
		Storage: StorageConfig{
			ResultsPath:  v.GetString("storage.results_path"),
			DatasetsPath: v.GetString("storage.datasets_path"),
		},
		Experiment: ExperimentConfig{
			MaxTurns:           v.GetInt("experiment.max_turns"),
			DefaultTemperature: v.GetFloat64("experiment.default_temperature"),
			EnableAdversarial:  v.GetBool("experiment.enable_adversarial"),
			RowConcurrency:     v.GetInt("experiment.row_concurrency"),
			MaxRows:            v.GetInt("experiment.max_rows"),
			DisabledDomains:    splitList(v.GetStringSlice("experiment.disabled_domains")),
		},
		Providers: make(map[string]ProviderConfig, len(providerDefaults)),
		S3: S3Config{
			Endpoint:        v.GetString("s3.endpoint"),
			Region:          v.GetString("s3.region"),
			AccessKeyID:     v.GetString("s3.access_key_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
			Bucket:          v.GetString("s3.bucket"),
			PublicURL:       v.GetString("s3.public_url"),
		},
	}

	for _, p := range providerDefaults {
		prefix := "providers." + p.name + "."
		cfg.Providers[p.name] = ProviderConfig{
			APIKey:   v.GetString(prefix + "api_key"),
			BaseURL:  v.GetString(prefix + "base_url"),
			Model:    v.GetString(prefix + "model"),
			RPMLimit: v.GetInt(prefix + "rpm_limit"),
			Kind:     v.GetString(prefix + "kind"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Queue.MaxConcurrent < 1 {
		result = multierror.Append(result, fmt.Errorf("queue.max_concurrent must be at least 1, got %d", c.Queue.MaxConcurrent))
	}
	if c.Queue.PollInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("queue.poll_interval must be positive"))
	}
	if c.Experiment.MaxTurns < 1 {
		result = multierror.Append(result, fmt.Errorf("experiment.max_turns must be at least 1, got %d", c.Experiment.MaxTurns))
	}
	if c.Experiment.RowConcurrency < 1 {
		result = multierror.Append(result, fmt.Errorf("experiment.row_concurrency must be at least 1, got %d", c.Experiment.RowConcurrency))
	}
	switch c.Server.LogFormat {
	case "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("server.log_format must be text or json, got %q", c.Server.LogFormat))
	}
	return result.ErrorOrNil()
}

// splitList accepts both YAML lists and a comma separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
