package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Config struct {
	Server   ServerConfig
	Browser  BrowserConfig
	Session  SessionConfig
	Link     LinkConfig
	Images   ImagesConfig
	Scraper  ScraperConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Addr is the listen address for the HTTP transport.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type BrowserConfig struct {
	ProfileDir     string
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	Locale         string
	ProxyServer    string
}

type SessionConfig struct {
	HomeURL           string
	LoginHosts        []string
	LoginMarker       string
	LoginCookies      []string
	QuickConfirmText  string
	LoginWait         time.Duration
	NavigationTimeout time.Duration
}

type LinkConfig struct {
	BrowserTimeout time.Duration
	HTTPTimeout    time.Duration
	InsecureTLS    bool
}

type ImagesConfig struct {
	MaxConcurrent     int
	Timeout           time.Duration
	WebPQuality       int
	Referer           string
	RequestsPerSecond float64
	InsecureTLS       bool
}

type ScraperConfig struct {
	PageTimeout     time.Duration
	SelectorTimeout time.Duration
	SettleDelay     time.Duration
	RateLimitMin    time.Duration
	RateLimitMax    time.Duration
	OutputDir       string
	SelectorsFile   string
	Platform        string
}

type CacheConfig struct {
	Backend string
	TTL     time.Duration
	Size    int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string

	// RequestStream carries scrape requests for the consume command.
	RequestStream string
	Group         string
	Consumer      string
}

type DatabaseConfig struct {
	Enabled      bool
	URL          string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	MaxConns     int32
	PollInterval time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Browser: BrowserConfig{
			ProfileDir:     getEnvOrDefault("BROWSER_PROFILE_DIR", "user_data/chrome_profile"),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", false),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1280),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 720),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", defaultUserAgent),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "zh-CN"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Session: SessionConfig{
			HomeURL:           getEnvOrDefault("SESSION_HOME_URL", "https://www.taobao.com"),
			LoginHosts:        getStringSliceOrDefault("SESSION_LOGIN_HOSTS", []string{"login.taobao.com", "login.tmall.com"}),
			LoginMarker:       getEnvOrDefault("SESSION_LOGIN_MARKER", ".site-nav-login-info-nick"),
			LoginCookies:      getStringSliceOrDefault("SESSION_LOGIN_COOKIES", []string{"dnk", "_tb_token_"}),
			QuickConfirmText:  getEnvOrDefault("SESSION_QUICK_CONFIRM_TEXT", "快速进入"),
			LoginWait:         getDurationOrDefault("SESSION_LOGIN_WAIT", 3*time.Minute),
			NavigationTimeout: getDurationOrDefault("SESSION_NAVIGATION_TIMEOUT", 30*time.Second),
		},
		Link: LinkConfig{
			BrowserTimeout: getDurationOrDefault("LINK_BROWSER_TIMEOUT", 15*time.Second),
			HTTPTimeout:    getDurationOrDefault("LINK_HTTP_TIMEOUT", 8*time.Second),
			InsecureTLS:    getBoolOrDefault("LINK_INSECURE_TLS", true),
		},
		Images: ImagesConfig{
			MaxConcurrent:     getIntOrDefault("IMAGES_MAX_CONCURRENT", 15),
			Timeout:           getDurationOrDefault("IMAGES_TIMEOUT", 10*time.Second),
			WebPQuality:       getIntOrDefault("IMAGES_WEBP_QUALITY", 85),
			Referer:           getEnvOrDefault("IMAGES_REFERER", "https://detail.tmall.com/"),
			RequestsPerSecond: getFloatOrDefault("IMAGES_REQUESTS_PER_SECOND", 20),
			InsecureTLS:       getBoolOrDefault("IMAGES_INSECURE_TLS", true),
		},
		Scraper: ScraperConfig{
			PageTimeout:     getDurationOrDefault("SCRAPER_PAGE_TIMEOUT", 60*time.Second),
			SelectorTimeout: getDurationOrDefault("SCRAPER_SELECTOR_TIMEOUT", 45*time.Second),
			SettleDelay:     getDurationOrDefault("SCRAPER_SETTLE_DELAY", 3*time.Second),
			RateLimitMin:    getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", time.Second),
			RateLimitMax:    getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 3*time.Second),
			OutputDir:       getEnvOrDefault("SCRAPER_OUTPUT_DIR", "product_info"),
			SelectorsFile:   getEnvOrDefault("SELECTORS_FILE", ""),
			Platform:        getEnvOrDefault("SCRAPER_PLATFORM", "tmall"),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(getEnvOrDefault("CACHE_BACKEND", "memory")),
			TTL:     getDurationOrDefault("CACHE_TTL", time.Hour),
			Size:    getIntOrDefault("CACHE_SIZE", 256),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:product_scraped"),

			RequestStream: getEnvOrDefault("REDIS_REQUEST_STREAM", "stream:scrape_requests"),
			Group:         getEnvOrDefault("REDIS_CONSUMER_GROUP", "taobao-scraper"),
			Consumer:      getEnvOrDefault("REDIS_CONSUMER_NAME", "consumer-1"),
		},
		Database: DatabaseConfig{
			Enabled:      getBoolOrDefault("DB_ENABLED", false),
			URL:          getEnvOrDefault("DATABASE_URL", ""),
			Host:         getEnvOrDefault("DB_HOST", "localhost"),
			Port:         getIntOrDefault("DB_PORT", 5432),
			User:         getEnvOrDefault("DB_USER", "postgres"),
			Password:     getEnvOrDefault("DB_PASSWORD", ""),
			Name:         getEnvOrDefault("DB_NAME", "taobao_scraper"),
			MaxConns:     int32(getIntOrDefault("DB_MAX_CONNS", 10)),
			PollInterval: getDurationOrDefault("OUTBOX_POLL_INTERVAL", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid SERVER_PORT: %d", c.Server.Port))
	}
	if c.Browser.ProfileDir == "" {
		errs = append(errs, errors.New("BROWSER_PROFILE_DIR must not be empty"))
	}
	if len(c.Session.LoginHosts) == 0 {
		errs = append(errs, errors.New("SESSION_LOGIN_HOSTS must list at least one host"))
	}
	if c.Images.MaxConcurrent < 1 {
		errs = append(errs, errors.New("IMAGES_MAX_CONCURRENT must be at least 1"))
	}
	if c.Images.WebPQuality < 1 || c.Images.WebPQuality > 100 {
		errs = append(errs, fmt.Errorf("IMAGES_WEBP_QUALITY must be between 1 and 100, got %d", c.Images.WebPQuality))
	}
	if c.Images.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("IMAGES_REQUESTS_PER_SECOND cannot be negative"))
	}
	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		errs = append(errs, errors.New("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX"))
	}
	if c.Scraper.Platform != "tmall" && c.Scraper.Platform != "taobao" {
		errs = append(errs, fmt.Errorf("SCRAPER_PLATFORM must be tmall or taobao, got %q", c.Scraper.Platform))
	}
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be memory, redis or none, got %q", c.Cache.Backend))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid LOG_FORMAT: %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
