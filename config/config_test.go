package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.False(t, cfg.Server.TLS.Enabled)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "postgres", cfg.Database.User)
				assert.False(t, cfg.Database.AutoMigrate)
				assert.Equal(t, 45*time.Second, cfg.Enhancement.ProviderTimeout)
				assert.Equal(t, 120*time.Second, cfg.Enhancement.ChainTimeout)
				assert.Equal(t, 1, cfg.Enhancement.CreditsPerRequest)
				assert.True(t, cfg.Enhancement.RefundFailedAttempts)
				assert.Equal(t, map[string]int{"free": 0, "plus": 10, "pro": 25}, cfg.Enhancement.TierAllowances)
				assert.Empty(t, cfg.Providers.Enabled())
			},
		},
		{
			name: "provider defaults in priority order",
			envVars: map[string]string{
				"NANOBANANA_API_KEY":    "nb-key",
				"FAL_AI_API_KEY":        "fal-key",
				"KIE_AI_API_KEY":        "kie-key",
				"GOOGLE_DIRECT_API_KEY": "g-key",
			},
			check: func(t *testing.T, cfg *Config) {
				enabled := cfg.Providers.Enabled()
				require.Len(t, enabled, 4)
				assert.Equal(t, "nanobanana", enabled[0].Name)
				assert.Equal(t, 1, enabled[0].Priority)
				assert.Equal(t, 0.025, enabled[0].CostPerRequestUSD)
				assert.Equal(t, "fal_ai", enabled[1].Name)
				assert.Equal(t, 2, enabled[1].Priority)
				assert.Equal(t, "kie_ai", enabled[2].Name)
				assert.Equal(t, 0.023, enabled[2].CostPerRequestUSD)
				assert.Equal(t, "google_direct", enabled[3].Name)
				assert.Equal(t, 4, enabled[3].Priority)
			},
		},
		{
			name: "provider explicitly disabled despite api key",
			envVars: map[string]string{
				"FAL_AI_API_KEY":  "fal-key",
				"FAL_AI_ENABLED":  "false",
				"FAL_AI_PRIORITY": "7",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Providers.FalAI.Enabled)
				assert.Equal(t, 7, cfg.Providers.FalAI.Priority)
				assert.Empty(t, cfg.Providers.Enabled())
			},
		},
		{
			name: "enhancement overrides",
			envVars: map[string]string{
				"ENHANCE_PROVIDER_TIMEOUT":       "10s",
				"ENHANCE_CHAIN_TIMEOUT":          "30s",
				"ENHANCE_REFUND_FAILED_ATTEMPTS": "false",
				"TIER_ALLOWANCES":                "free=1, plus=20,pro=50",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 10*time.Second, cfg.Enhancement.ProviderTimeout)
				assert.Equal(t, 30*time.Second, cfg.Enhancement.ChainTimeout)
				assert.False(t, cfg.Enhancement.RefundFailedAttempts)
				assert.Equal(t, map[string]int{"free": 1, "plus": 20, "pro": 50}, cfg.Enhancement.TierAllowances)
			},
		},
		{
			name: "custom timeouts and pool settings",
			envVars: map[string]string{
				"SERVER_READ_TIMEOUT":  "60s",
				"SERVER_WRITE_TIMEOUT": "90s",
				"DB_MAX_OPEN_CONNS":    "50",
				"DB_MAX_IDLE_CONNS":    "10",
				"DB_AUTO_MIGRATE":      "true",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 90*time.Second, cfg.Server.WriteTimeout)
				assert.Equal(t, 50, cfg.Database.MaxOpenConns)
				assert.Equal(t, 10, cfg.Database.MaxIdleConns)
				assert.True(t, cfg.Database.AutoMigrate)
			},
		},
		{
			name: "alerts and stats configuration",
			envVars: map[string]string{
				"PLUNK_API_KEY": "sk_test",
				"ALERT_EMAIL":   "ops@preset.me",
				"REDIS_URL":     "redis://localhost:6379/0",
				"LOG_LEVEL":     "debug",
				"LOG_FORMAT":    "text",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "sk_test", cfg.Alerts.PlunkAPIKey)
				assert.Equal(t, "https://api.useplunk.com/v1", cfg.Alerts.PlunkBaseURL)
				assert.Equal(t, "ops@preset.me", cfg.Alerts.Recipient)
				assert.Equal(t, "redis://localhost:6379/0", cfg.Stats.RedisURL)
				assert.Equal(t, 24*time.Hour, cfg.Stats.Window)
				assert.Equal(t, "debug", cfg.Observability.LogLevel)
				assert.Equal(t, "text", cfg.Observability.LogFormat)
			},
		},
		{
			name: "PORT env var takes precedence over SERVER_PORT",
			envVars: map[string]string{
				"PORT":        "9443",
				"SERVER_PORT": "9000",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9443, cfg.Server.Port)
			},
		},
		{
			name: "production without jwt secret",
			envVars: map[string]string{
				"ENVIRONMENT":        "production",
				"NANOBANANA_API_KEY": "nb-key",
			},
			wantErr: true,
		},
		{
			name: "production without any provider",
			envVars: map[string]string{
				"ENVIRONMENT":         "production",
				"SUPABASE_JWT_SECRET": "secret",
			},
			wantErr: true,
		},
		{
			name: "production fully configured",
			envVars: map[string]string{
				"ENVIRONMENT":         "production",
				"SUPABASE_JWT_SECRET": "secret",
				"NANOBANANA_API_KEY":  "nb-key",
				"DATABASE_URL":        "postgres://u:p@db.example.com:6543/preset",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsProduction())
				assert.Equal(t, "host=db.example.com port=6543 database=preset", cfg.Database.LogString())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg, err := New(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: "development",
			Database: DatabaseConfig{
				Host:     "localhost",
				User:     "user",
				Database: "db",
			},
			Enhancement: EnhancementConfig{
				ProviderTimeout:   time.Second,
				ChainTimeout:      time.Second,
				CreditsPerRequest: 1,
			},
			Observability: ObservabilityConfig{LogLevel: "info"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid development config", mutate: func(*Config) {}},
		{name: "missing database host", mutate: func(c *Config) { c.Database.Host = "" }, errMsg: "database configuration required"},
		{name: "missing database user", mutate: func(c *Config) { c.Database.User = "" }, errMsg: "database user is required"},
		{name: "zero credits per request", mutate: func(c *Config) { c.Enhancement.CreditsPerRequest = 0 }, errMsg: "credits per request"},
		{name: "zero chain timeout", mutate: func(c *Config) { c.Enhancement.ChainTimeout = 0 }, errMsg: "timeouts must be positive"},
		{name: "missing log level", mutate: func(c *Config) { c.Observability.LogLevel = "" }, errMsg: "log level is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		environment string
		want        bool
	}{
		{"production", true},
		{"prod", true},
		{"development", false},
		{"staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.environment, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsProduction())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	assert.Equal(t, expected, cfg.DSN())
	assert.NotContains(t, cfg.LogString(), "testpass")
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "0.0.0.0", Port: 8080}
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestGetEnvAsIntMap(t *testing.T) {
	def := map[string]int{"free": 0}

	tests := []struct {
		name  string
		value string
		want  map[string]int
	}{
		{"unset", "", def},
		{"valid", "free=2,pro=9", map[string]int{"free": 2, "pro": 9}},
		{"missing separator", "free2", def},
		{"bad number", "free=x", def},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv("TEST_MAP", tt.value)
			}
			assert.Equal(t, tt.want, getEnvAsIntMap("TEST_MAP", def))
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", "true", false, true},
		{"false", "false", true, false},
		{"empty value", "", true, true},
		{"invalid bool", "not-a-bool", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv("TEST_BOOL", tt.value)
			}
			assert.Equal(t, tt.want, getEnvAsBool("TEST_BOOL", tt.defaultValue))
		})
	}
}
