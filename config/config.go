package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/internal/domain"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Batch       BatchConfig
	Pricing     PricingConfig
	Retailers   []string
	History     HistoryConfig
	Images      ImagesConfig
	Basket      BasketConfig
	Matching    MatchingConfig
	Cache       CacheConfig
	Gemini      GeminiConfig
	Browser     BrowserConfig
	Storefronts map[string]StorefrontConfig
	Log         LogConfig
}

// ServerConfig holds status API configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig bounds concurrent external lookups and spaces their start times
type RateLimitConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	CallDelay     time.Duration `mapstructure:"call_delay"`
}

// BatchConfig controls how the basket is split to stay under the external call quota
type BatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Size     int           `mapstructure:"size"`
	Delay    time.Duration `mapstructure:"delay"`
	Parallel bool          `mapstructure:"parallel"`
}

// PricingConfig selects which current-retailer price savings are measured against
type PricingConfig struct {
	UseMembershipForCurrent bool `mapstructure:"use_membership_for_current"`
}

// HistoryConfig locates the per-retailer price archive
type HistoryConfig struct {
	Dir string `mapstructure:"dir"`
}

// ImagesConfig locates reference and candidate product images
type ImagesConfig struct {
	Dir string `mapstructure:"dir"`
}

// BasketConfig locates the basket CSV
type BasketConfig struct {
	Path string `mapstructure:"path"`
}

// MatchingConfig holds matcher tuning
type MatchingConfig struct {
	VisualConfidence float64 `mapstructure:"visual_confidence"`
	Debug            bool    `mapstructure:"debug"`
}

// CacheConfig holds search cache configuration
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// GeminiConfig holds the comparison model configuration
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// BrowserConfig holds headless browser configuration
type BrowserConfig struct {
	RemoteURL string        `mapstructure:"remote_url"`
	Headless  bool          `mapstructure:"headless"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StorefrontConfig describes how to search one retailer's storefront.
// Keys of Config.Storefronts are lower-cased retailer names.
type StorefrontConfig struct {
	SearchURL               string `mapstructure:"search_url"`
	ListingSelector         string `mapstructure:"listing_selector"`
	LabelSelector           string `mapstructure:"label_selector"`
	RegularPriceSelector    string `mapstructure:"regular_price_selector"`
	MembershipPriceSelector string `mapstructure:"membership_price_selector"`
	ImageSelector           string `mapstructure:"image_selector"`
	MaxListings             int    `mapstructure:"max_listings"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load loads configuration from .env, environment variables and config files
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, goerr.Wrap(err, "error reading .env file")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/shelfscout/")

	v.SetEnvPrefix("SHELFSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; env vars and defaults are enough
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, goerr.Wrap(err, "error reading config file")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, goerr.Wrap(err, "unable to decode config")
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadEnvFile loads a .env file from the working directory without overriding variables already set
func loadEnvFile() error {
	if err := godotenv.Load(".env"); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("rate_limit.max_concurrent", 1)
	v.SetDefault("rate_limit.call_delay", "5s")

	v.SetDefault("batch.enabled", false)
	v.SetDefault("batch.size", 1)
	v.SetDefault("batch.delay", "60s")
	v.SetDefault("batch.parallel", false)

	v.SetDefault("pricing.use_membership_for_current", false)

	v.SetDefault("retailers", []string{"Tesco", "Sainsburys", "Aldi", "Lidl", "Morrisons", "Waitrose"})

	v.SetDefault("history.dir", "data/history")
	v.SetDefault("images.dir", "data/product_images")
	v.SetDefault("basket.path", "data/products.csv")

	v.SetDefault("matching.visual_confidence", 0.75)
	v.SetDefault("matching.debug", false)

	v.SetDefault("cache.ttl", "1h")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")

	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", "45s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 3)
}

// validate rejects settings that would make a run meaningless. Every failure wraps domain.ErrConfiguration.
func validate(config *Config) error {
	if config.RateLimit.MaxConcurrent < 1 {
		return goerr.Wrap(domain.ErrConfiguration, "rate_limit.max_concurrent must be at least 1",
			goerr.V("max_concurrent", config.RateLimit.MaxConcurrent))
	}

	if config.RateLimit.CallDelay < 0 {
		return goerr.Wrap(domain.ErrConfiguration, "rate_limit.call_delay must not be negative",
			goerr.V("call_delay", config.RateLimit.CallDelay))
	}

	if config.Batch.Enabled && config.Batch.Size < 1 {
		return goerr.Wrap(domain.ErrConfiguration, "batch.size must be at least 1 when batching is enabled",
			goerr.V("size", config.Batch.Size))
	}

	if config.Batch.Delay < 0 {
		return goerr.Wrap(domain.ErrConfiguration, "batch.delay must not be negative",
			goerr.V("delay", config.Batch.Delay))
	}

	if len(config.Retailers) == 0 {
		return goerr.Wrap(domain.ErrConfiguration, "at least one retailer is required")
	}

	seen := make(map[string]bool, len(config.Retailers))
	for _, r := range config.Retailers {
		key := strings.ToLower(strings.TrimSpace(r))
		if key == "" {
			return goerr.Wrap(domain.ErrConfiguration, "retailer names must not be empty")
		}
		if seen[key] {
			return goerr.Wrap(domain.ErrConfiguration, "duplicate retailer", goerr.V("retailer", r))
		}
		seen[key] = true
	}

	if config.Matching.VisualConfidence < 0 || config.Matching.VisualConfidence > 1 {
		return goerr.Wrap(domain.ErrConfiguration, "matching.visual_confidence must be between 0 and 1",
			goerr.V("visual_confidence", config.Matching.VisualConfidence))
	}

	return nil
}

// Storefront returns the search profile for a retailer, matched case-insensitively
func (c *Config) Storefront(retailer string) (StorefrontConfig, bool) {
	sf, ok := c.Storefronts[strings.ToLower(retailer)]
	return sf, ok
}
