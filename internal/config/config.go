package config

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application. It is read once at
// startup and passed down explicitly.
type Config struct {
	AzureDeployment string `mapstructure:"AZURE_OPENAI_DEPLOYMENT"`
	AzureEndpoint   string `mapstructure:"AZURE_OPENAI_ENDPOINT"`
	AzureAPIKey     string `mapstructure:"AZURE_OPENAI_API_KEY"`
	APIVersion      string `mapstructure:"OPENAI_API_VERSION"`
	OpenAIAPIKey    string `mapstructure:"OPENAI_API_KEY"`

	LlamaServer string `mapstructure:"LLAMA_SERVER"`
	LlamaSeed   int    `mapstructure:"LLAMA_SEED"`

	ConfluenceURL      string `mapstructure:"CONFLUENCE_URL"`
	ConfluenceUsername string `mapstructure:"CONFLUENCE_USERNAME"`
	ConfluenceAPIToken string `mapstructure:"CONFLUENCE_API_TOKEN"`

	MaxImageBytes       int  `mapstructure:"MAX_IMAGE_BYTES"`
	RetryMaxAttempts    int  `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryMinBackoffSecs int  `mapstructure:"RETRY_MIN_BACKOFF_SECONDS"`
	RetryMaxBackoffSecs int  `mapstructure:"RETRY_MAX_BACKOFF_SECONDS"`
	RequestsPerMinute   int  `mapstructure:"REQUESTS_PER_MINUTE"`
	ImageConcurrency    int  `mapstructure:"IMAGE_CONCURRENCY"`
	RequireHTTPS        bool `mapstructure:"REQUIRE_HTTPS"`

	OriginalsDir       string `mapstructure:"ORIGINALS_DIR"`
	DBPath             string `mapstructure:"DB_PATH"`
	LogLevel           string `mapstructure:"LOG_LEVEL"`
	HTTPTimeoutSeconds int    `mapstructure:"HTTP_TIMEOUT_SECONDS"`
}

var defaults = map[string]any{
	"AZURE_OPENAI_DEPLOYMENT":   "gpt-4o",
	"AZURE_OPENAI_ENDPOINT":     "",
	"AZURE_OPENAI_API_KEY":      "",
	"OPENAI_API_VERSION":        "2024-06-01",
	"OPENAI_API_KEY":            "",
	"LLAMA_SERVER":              "",
	"LLAMA_SEED":                385480504,
	"CONFLUENCE_URL":            "",
	"CONFLUENCE_USERNAME":       "",
	"CONFLUENCE_API_TOKEN":      "",
	"MAX_IMAGE_BYTES":           20 * 1024 * 1024,
	"RETRY_MAX_ATTEMPTS":        6,
	"RETRY_MIN_BACKOFF_SECONDS": 1,
	"RETRY_MAX_BACKOFF_SECONDS": 60,
	"REQUESTS_PER_MINUTE":       0,
	"IMAGE_CONCURRENCY":         1,
	"REQUIRE_HTTPS":             false,
	"ORIGINALS_DIR":             "",
	"DB_PATH":                   "./imgsum.db",
	"LOG_LEVEL":                 "info",
	"HTTP_TIMEOUT_SECONDS":      30,
}

// Load reads configuration from the environment, optionally seeded from an
// env file at path. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that would otherwise fail deep in the pipeline.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("MAX_IMAGE_BYTES must be positive"))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RetryMinBackoffSecs <= 0 || c.RetryMaxBackoffSecs < c.RetryMinBackoffSecs {
		errs = append(errs, errors.New("retry backoff bounds must satisfy 0 < min <= max"))
	}
	if c.ImageConcurrency < 1 {
		errs = append(errs, errors.New("IMAGE_CONCURRENCY must be at least 1"))
	}
	return errors.Join(errs...)
}

func (c *Config) MinBackoff() time.Duration {
	return time.Duration(c.RetryMinBackoffSecs) * time.Second
}

func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.RetryMaxBackoffSecs) * time.Second
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}
