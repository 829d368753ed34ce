package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mediawish/pkg/auth"
)

// ConfigPath is used when neither -config nor MEDIAWISH_CONFIG is given.
const ConfigPath = "config.yaml"

const minJWTSecretBytes = 32

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                     string   `yaml:"port"`
	Environment              string   `yaml:"environment"`
	LogLevel                 string   `yaml:"logLevel"`
	DatabaseURL              string   `yaml:"databaseURL"`
	RedisAddr                string   `yaml:"redisAddr"`
	RedisPassword            string   `yaml:"redisPassword"`
	JWTSecret                string   `yaml:"jwtSecret"`
	TokenTTL                 string   `yaml:"tokenTTL"`
	JWTIssuer                string   `yaml:"jwtIssuer"`
	JWTAudience              string   `yaml:"jwtAudience"`
	TMDbReadToken            string   `yaml:"tmdbReadToken"`
	TMDbBaseURL              string   `yaml:"tmdbBaseURL"`
	TMDbLanguage             string   `yaml:"tmdbLanguage"`
	TMDbMaxResults           int      `yaml:"tmdbMaxResults"`
	TMDbTimeout              string   `yaml:"tmdbTimeout"`
	DefaultAdminUsername     string   `yaml:"defaultAdminUsername"`
	DefaultAdminPassword     string   `yaml:"defaultAdminPassword"`
	AllowedOrigins           []string `yaml:"allowedOrigins"`
	TrustedProxies           []string `yaml:"trustedProxies"`
	SearchRateLimitPerMinute int      `yaml:"searchRateLimitPerMinute"`
	LoginRateLimitPerMinute  int      `yaml:"loginRateLimitPerMinute"`
	StaticDir                string   `yaml:"staticDir"`
}

// IsProduction reports whether internal error details must be hidden.
func (c FileConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// ResolvePath picks the config file from the flag value, then MEDIAWISH_CONFIG.
func ResolvePath(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("MEDIAWISH_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml). A missing file is
// tolerated so deployments can configure purely through the environment.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	// Override with environment variables
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Port, "PORT")
	setString(&cfg.Environment, "APP_ENV")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.TokenTTL, "TOKEN_TTL")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.TMDbReadToken, "TMDB_API_READ_TOKEN")
	setString(&cfg.TMDbBaseURL, "TMDB_BASE_URL")
	setString(&cfg.TMDbLanguage, "TMDB_LANGUAGE")
	setString(&cfg.TMDbTimeout, "TMDB_TIMEOUT")
	setString(&cfg.DefaultAdminUsername, "DEFAULT_ADMIN_USERNAME")
	setString(&cfg.DefaultAdminPassword, "DEFAULT_ADMIN_PASSWORD")
	setString(&cfg.StaticDir, "STATIC_DIR")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("TMDB_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TMDbMaxResults = n
		}
	}
	if v := os.Getenv("SEARCH_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SearchRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "3001"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.DefaultAdminUsername == "" {
		cfg.DefaultAdminUsername = "admin"
	}
	if cfg.SearchRateLimitPerMinute == 0 {
		cfg.SearchRateLimitPerMinute = 30
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = 10
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting (set REDIS_ADDR)")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set JWT_SECRET)")
	}
	if len(cfg.JWTSecret) < minJWTSecretBytes {
		return fmt.Errorf("config: jwtSecret must be at least %d bytes", minJWTSecretBytes)
	}
	if strings.TrimSpace(cfg.TMDbReadToken) == "" {
		return errors.New("config: tmdbReadToken is required (set TMDB_API_READ_TOKEN)")
	}
	if cfg.DefaultAdminPassword == "" {
		return errors.New("config: defaultAdminPassword is required (set DEFAULT_ADMIN_PASSWORD)")
	}
	if len(cfg.DefaultAdminPassword) > auth.MaxPasswordBytes {
		return fmt.Errorf("config: defaultAdminPassword must be at most %d bytes", auth.MaxPasswordBytes)
	}
	env := strings.ToLower(strings.TrimSpace(cfg.Environment))
	if env != "production" && env != "development" {
		return fmt.Errorf("config: environment must be production or development, got %q", cfg.Environment)
	}
	if _, err := ParseTokenTTL(cfg.TokenTTL); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseTMDbTimeout(cfg.TMDbTimeout); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.TMDbMaxResults < 0 {
		return errors.New("config: tmdbMaxResults must be >= 0")
	}
	if cfg.SearchRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

// ParseTokenTTL parses optional token TTL duration string.
func ParseTokenTTL(ttlStr string) (time.Duration, error) {
	return parseOptionalDuration("tokenTTL", ttlStr)
}

// ParseTMDbTimeout parses optional catalog timeout duration string.
func ParseTMDbTimeout(timeoutStr string) (time.Duration, error) {
	return parseOptionalDuration("tmdbTimeout", timeoutStr)
}

func parseOptionalDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
