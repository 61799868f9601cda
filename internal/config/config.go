package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ConfigPathEnv names the environment variable holding an optional config file path.
const ConfigPathEnv = "FINREPORT_CONFIG"

// Config represents runtime configuration for the service.
type Config struct {
	AppName       string `mapstructure:"app_name"`
	ServerAddress string `mapstructure:"server_address"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`

	DBDriver   string `mapstructure:"db_driver"`
	DBFilePath string `mapstructure:"db_file_path"`
	MySQLDSN   string `mapstructure:"mysql_dsn"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	FileBaseDir string `mapstructure:"file_base_dir"`

	CacheTTLSeconds           int `mapstructure:"cache_ttl_seconds"`
	CacheCleanIntervalMinutes int `mapstructure:"cache_clean_interval_minutes"`

	FredAPIKey      string `mapstructure:"fred_api_key"`
	FredBaseURL     string `mapstructure:"fred_base_url"`
	YFinanceBaseURL string `mapstructure:"yfinance_base_url"`

	MinWorkers        int `mapstructure:"min_workers"`
	MaxWorkers        int `mapstructure:"max_workers"`
	QueueSize         int `mapstructure:"queue_size"`
	WorkerIdleTimeout int `mapstructure:"worker_idle_timeout_seconds"`

	JWTSecretKey             string `mapstructure:"jwt_secret_key"`
	JWTAlgorithm             string `mapstructure:"jwt_algorithm"`
	AccessTokenExpireMinutes int    `mapstructure:"access_token_expire_minutes"`

	LLM LLMConfig `mapstructure:",squash"`

	SystemPrompt     string `mapstructure:"system_prompt"`
	SystemPromptFile string `mapstructure:"system_prompt_file"`
}

// LLMConfig groups the settings of the language model gateway.
type LLMConfig struct {
	Provider         string  `mapstructure:"llm_provider"`
	APIKey           string  `mapstructure:"llm_api_key"`
	BaseURL          string  `mapstructure:"llm_base_url"`
	ModelName        string  `mapstructure:"llm_model_name"`
	RPMLimit         int     `mapstructure:"llm_rpm_limit"`
	TPMLimit         int     `mapstructure:"llm_tpm_limit"`
	Temperature      float64 `mapstructure:"llm_temperature"`
	TopP             float64 `mapstructure:"llm_top_p"`
	TopK             int     `mapstructure:"llm_top_k"`
	MaxOutputTokens  int     `mapstructure:"llm_max_output_tokens"`
	TokenLimitFactor float64 `mapstructure:"token_limit_factor"`
	GoogleAPIKey     string  `mapstructure:"google_api_key"`
	GoogleEngineID   string  `mapstructure:"google_search_engine_id"`
}

var defaults = map[string]any{
	"app_name":                     "finreport",
	"server_address":               ":8090",
	"log_level":                    "info",
	"log_format":                   "json",
	"db_driver":                    "sqlite3",
	"db_file_path":                 "./data/cache.db",
	"mysql_dsn":                    "",
	"redis_addr":                   "",
	"redis_password":               "",
	"redis_db":                     0,
	"file_base_dir":                "./data",
	"cache_ttl_seconds":            3600,
	"cache_clean_interval_minutes": 30,
	"fred_api_key":                 "",
	"fred_base_url":                "https://api.stlouisfed.org",
	"yfinance_base_url":            "https://query1.finance.yahoo.com",
	"min_workers":                  1,
	"max_workers":                  4,
	"queue_size":                   64,
	"worker_idle_timeout_seconds":  60,
	"jwt_secret_key":               "",
	"jwt_algorithm":                "HS256",
	"access_token_expire_minutes":  60,
	"llm_provider":                 "gemini",
	"llm_api_key":                  "",
	"llm_base_url":                 "",
	"llm_model_name":               "gemini-1.5-pro-latest",
	"llm_rpm_limit":                0,
	"llm_tpm_limit":                0,
	"llm_temperature":              0.7,
	"llm_top_p":                    0.95,
	"llm_top_k":                    40,
	"llm_max_output_tokens":        8192,
	"token_limit_factor":           0.90,
	"google_api_key":               "",
	"google_search_engine_id":      "",
	"system_prompt":                "",
	"system_prompt_file":           "",
}

// Load reads configuration from the provided path (optional) and the environment.
// Environment variables use the upper-case key names, e.g. LLM_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	var baseDir string
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		v.SetConfigFile(absPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
		baseDir = filepath.Dir(absPath)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// relative paths in a config file are resolved against the file's directory
	if baseDir != "" {
		cfg.DBFilePath = resolvePath(baseDir, cfg.DBFilePath)
		cfg.FileBaseDir = resolvePath(baseDir, cfg.FileBaseDir)
		cfg.SystemPromptFile = resolvePath(baseDir, cfg.SystemPromptFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecretKey) == "" {
		return fmt.Errorf("JWT_SECRET_KEY must be configured")
	}
	switch strings.ToUpper(c.JWTAlgorithm) {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported JWT_ALGORITHM %q", c.JWTAlgorithm)
	}
	if c.AccessTokenExpireMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	switch strings.ToLower(c.DBDriver) {
	case "sqlite", "sqlite3":
		if c.DBFilePath == "" {
			return fmt.Errorf("DB_FILE_PATH must be configured")
		}
	case "mysql":
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN must be configured for the mysql driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.MaxWorkers < 1 || c.MinWorkers < 0 || c.MinWorkers > c.MaxWorkers {
		return fmt.Errorf("worker pool needs 0 <= MIN_WORKERS <= MAX_WORKERS and MAX_WORKERS >= 1")
	}
	if c.LLM.TokenLimitFactor <= 0 || c.LLM.TokenLimitFactor > 1 {
		return fmt.Errorf("TOKEN_LIMIT_FACTOR must be in (0, 1]")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("LLM_TEMPERATURE must be within 0..1")
	}
	if c.LLM.TopP < 0 || c.LLM.TopP > 1 {
		return fmt.Errorf("LLM_TOP_P must be within 0..1")
	}
	return nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	return filepath.Join(base, p)
}
