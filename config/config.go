package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Providers     ProvidersConfig
	Enhancement   EnhancementConfig
	Alerts        AlertsConfig
	Stats         StatsConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration

	// AutoMigrate creates missing tables at startup (DB_AUTO_MIGRATE)
	AutoMigrate bool
}

// AuthConfig holds Supabase JWT verification settings
type AuthConfig struct {
	JWTSecret string // SUPABASE_JWT_SECRET, HS256 signing secret
	Issuer    string // optional expected "iss", e.g. https://<project>.supabase.co/auth/v1
	Audience  string // Supabase issues "authenticated"
	AdminRole string // value of app_metadata.role granting admin routes
}

// ProviderConfig holds the settings of one enhancement backend
type ProviderConfig struct {
	Name              string
	Enabled           bool
	APIKey            string
	BaseURL           string
	Model             string
	Priority          int
	CostPerRequestUSD float64
	Timeout           time.Duration
	HealthCacheTTL    time.Duration
	FailureCooldown   time.Duration
	PollInterval      time.Duration // task-based APIs only
}

// ProvidersConfig holds every enhancement backend the gateway knows about
type ProvidersConfig struct {
	NanoBanana   ProviderConfig
	FalAI        ProviderConfig
	KieAI        ProviderConfig
	GoogleDirect ProviderConfig
}

// All returns the provider configurations in declaration order
func (p ProvidersConfig) All() []ProviderConfig {
	return []ProviderConfig{p.NanoBanana, p.FalAI, p.KieAI, p.GoogleDirect}
}

// Enabled returns the enabled provider configurations
func (p ProvidersConfig) Enabled() []ProviderConfig {
	var enabled []ProviderConfig
	for _, pc := range p.All() {
		if pc.Enabled {
			enabled = append(enabled, pc)
		}
	}
	return enabled
}

// EnhancementConfig holds fallback chain settings
type EnhancementConfig struct {
	ProviderTimeout      time.Duration
	ChainTimeout         time.Duration
	CreditsPerRequest    int
	RefundFailedAttempts bool
	PlatformPoolProvider string
	TierAllowances       map[string]int
}

// AlertsConfig holds operational alert delivery settings
type AlertsConfig struct {
	PlunkAPIKey  string
	PlunkBaseURL string
	Recipient    string
	FromAddress  string
	BufferSize   int
	WorkerCount  int
}

// StatsConfig holds provider statistics storage settings.
// An empty RedisURL keeps statistics in process memory.
type StatsConfig struct {
	RedisURL string
	Window   time.Duration
}

// AuditConfig holds credit transaction recorder settings
type AuditConfig struct {
	BufferSize  int
	WorkerCount int
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 150*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			JWTSecret: getEnv("SUPABASE_JWT_SECRET", ""),
			Issuer:    getEnv("SUPABASE_JWT_ISSUER", ""),
			Audience:  getEnv("SUPABASE_JWT_AUDIENCE", "authenticated"),
			AdminRole: getEnv("ADMIN_ROLE", "admin"),
		},
		Providers: ProvidersConfig{
			NanoBanana:   loadProviderConfig("NANOBANANA", "nanobanana", "https://api.nanobananaapi.ai/api/v1", "", 1, 0.025),
			FalAI:        loadProviderConfig("FAL_AI", "fal_ai", "https://fal.run", "fal-ai/nano-banana/edit", 2, 0.039),
			KieAI:        loadProviderConfig("KIE_AI", "kie_ai", "https://api.kie.ai/api/v1", "google/nano-banana-edit", 3, 0.023),
			GoogleDirect: loadProviderConfig("GOOGLE_DIRECT", "google_direct", "https://generativelanguage.googleapis.com/v1beta", "gemini-2.5-flash-image", 4, 0.039),
		},
		Enhancement: EnhancementConfig{
			ProviderTimeout:      getEnvAsDuration("ENHANCE_PROVIDER_TIMEOUT", 45*time.Second),
			ChainTimeout:         getEnvAsDuration("ENHANCE_CHAIN_TIMEOUT", 120*time.Second),
			CreditsPerRequest:    getEnvAsInt("ENHANCE_CREDITS_PER_REQUEST", 1),
			RefundFailedAttempts: getEnvAsBool("ENHANCE_REFUND_FAILED_ATTEMPTS", true),
			PlatformPoolProvider: getEnv("PLATFORM_POOL_PROVIDER", "nanobanana"),
			TierAllowances:       getEnvAsIntMap("TIER_ALLOWANCES", map[string]int{"free": 0, "plus": 10, "pro": 25}),
		},
		Alerts: AlertsConfig{
			PlunkAPIKey:  getEnv("PLUNK_API_KEY", ""),
			PlunkBaseURL: getEnv("PLUNK_BASE_URL", "https://api.useplunk.com/v1"),
			Recipient:    getEnv("ALERT_EMAIL", ""),
			FromAddress:  getEnv("ALERT_FROM_EMAIL", ""),
			BufferSize:   getEnvAsInt("ALERT_BUFFER_SIZE", 256),
			WorkerCount:  getEnvAsInt("ALERT_WORKERS", 1),
		},
		Stats: StatsConfig{
			RedisURL: getEnv("REDIS_URL", ""),
			Window:   getEnvAsDuration("PROVIDER_STATS_WINDOW", 24*time.Hour),
		},
		Audit: AuditConfig{
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			WorkerCount: getEnvAsInt("AUDIT_WORKERS", 5),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.IsProduction() {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("supabase JWT secret is required in production")
		}
		if len(c.Providers.Enabled()) == 0 {
			return fmt.Errorf("at least one enhancement provider must be configured in production")
		}
	}

	if c.Enhancement.CreditsPerRequest < 1 {
		return fmt.Errorf("credits per request must be at least 1")
	}
	if c.Enhancement.ProviderTimeout <= 0 || c.Enhancement.ChainTimeout <= 0 {
		return fmt.Errorf("enhancement timeouts must be positive")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:      getEnvAsBool("DB_AUTO_MIGRATE", false),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", "postgres"),
		Database:        getEnv("DB_NAME", "preset"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", false),
	}
}

// loadProviderConfig reads <PREFIX>_API_KEY, <PREFIX>_BASE_URL and friends.
// A provider is enabled when it has an API key unless <PREFIX>_ENABLED says otherwise.
func loadProviderConfig(prefix, name, baseURL, model string, priority int, cost float64) ProviderConfig {
	apiKey := getEnv(prefix+"_API_KEY", "")
	return ProviderConfig{
		Name:              name,
		Enabled:           getEnvAsBool(prefix+"_ENABLED", apiKey != ""),
		APIKey:            apiKey,
		BaseURL:           getEnv(prefix+"_BASE_URL", baseURL),
		Model:             getEnv(prefix+"_MODEL", model),
		Priority:          getEnvAsInt(prefix+"_PRIORITY", priority),
		CostPerRequestUSD: getEnvAsFloat(prefix+"_COST_PER_REQUEST", cost),
		Timeout:           getEnvAsDuration(prefix+"_TIMEOUT", 60*time.Second),
		HealthCacheTTL:    getEnvAsDuration(prefix+"_HEALTH_CACHE_TTL", 30*time.Second),
		FailureCooldown:   getEnvAsDuration(prefix+"_FAILURE_COOLDOWN", time.Minute),
		PollInterval:      getEnvAsDuration(prefix+"_POLL_INTERVAL", 2*time.Second),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsIntMap parses "free=0,plus=10,pro=25". Any malformed pair falls back to the default.
func getEnvAsIntMap(key string, defaultValue map[string]int) map[string]int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	result := make(map[string]int)
	for _, pair := range strings.Split(valueStr, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return defaultValue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return defaultValue
		}
		result[strings.TrimSpace(k)] = n
	}
	return result
}
