package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	AuthMode      string   `mapstructure:"AUTH_MODE"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	// SNGPC transmission settings. MaxAttempts caps the number of
	// transmission attempts per report; DeadlineDay is the day of the
	// following month by which ANVISA expects the report; the warning
	// window controls how early deadline alerts fire.
	SNGPCEndpointURL    string `mapstructure:"SNGPC_ENDPOINT_URL"`
	SNGPCMaxAttempts    int    `mapstructure:"SNGPC_MAX_ATTEMPTS"`
	SNGPCDeadlineDay    int    `mapstructure:"SNGPC_DEADLINE_DAY"`
	SNGPCWarningDays    int    `mapstructure:"SNGPC_DEADLINE_WARNING_DAYS"`
	SNGPCCertFile       string `mapstructure:"SNGPC_CERT_FILE"`
	SNGPCCertKeyFile    string `mapstructure:"SNGPC_CERT_KEY_FILE"`
	SNGPCTimeoutSeconds int    `mapstructure:"SNGPC_TIMEOUT_SECONDS"`
	ScanIntervalMinutes int    `mapstructure:"COMPLIANCE_SCAN_MINUTES"`

	// Compliance detection thresholds. ErrorDays escalates a deadline
	// alert from warning to error; the multipliers bound the anomaly
	// checks; the tolerance absorbs rounding in the balance formula.
	SNGPCErrorDays          int     `mapstructure:"SNGPC_DEADLINE_ERROR_DAYS"`
	SNGPCOutboundMultiplier float64 `mapstructure:"SNGPC_ANOMALY_OUTBOUND_MULTIPLIER"`
	SNGPCInboundMultiplier  float64 `mapstructure:"SNGPC_ANOMALY_INBOUND_MULTIPLIER"`
	SNGPCBalanceTolerance   float64 `mapstructure:"SNGPC_BALANCE_TOLERANCE"`

	// Pharmacy identity stamped into the report header.
	PharmacyCNPJ string `mapstructure:"PHARMACY_CNPJ"`
	PharmacyName string `mapstructure:"PHARMACY_NAME"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled     bool    `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string  `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string  `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SNGPC_MAX_ATTEMPTS", 5)
	v.SetDefault("SNGPC_DEADLINE_DAY", 15)
	v.SetDefault("SNGPC_DEADLINE_WARNING_DAYS", 5)
	v.SetDefault("SNGPC_TIMEOUT_SECONDS", 30)
	v.SetDefault("SNGPC_DEADLINE_ERROR_DAYS", 2)
	v.SetDefault("SNGPC_ANOMALY_OUTBOUND_MULTIPLIER", 5.0)
	v.SetDefault("SNGPC_ANOMALY_INBOUND_MULTIPLIER", 2.0)
	v.SetDefault("SNGPC_BALANCE_TOLERANCE", 0.01)
	v.SetDefault("COMPLIANCE_SCAN_MINUTES", 60)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("SNGPC_ENDPOINT_URL")
	v.BindEnv("SNGPC_MAX_ATTEMPTS")
	v.BindEnv("SNGPC_DEADLINE_DAY")
	v.BindEnv("SNGPC_DEADLINE_WARNING_DAYS")
	v.BindEnv("SNGPC_CERT_FILE")
	v.BindEnv("SNGPC_CERT_KEY_FILE")
	v.BindEnv("SNGPC_TIMEOUT_SECONDS")
	v.BindEnv("SNGPC_DEADLINE_ERROR_DAYS")
	v.BindEnv("SNGPC_ANOMALY_OUTBOUND_MULTIPLIER")
	v.BindEnv("SNGPC_ANOMALY_INBOUND_MULTIPLIER")
	v.BindEnv("SNGPC_BALANCE_TOLERANCE")
	v.BindEnv("COMPLIANCE_SCAN_MINUTES")
	v.BindEnv("PHARMACY_CNPJ")
	v.BindEnv("PHARMACY_NAME")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (no auth, all requests get admin)
//   - Otherwise       → "external" (Keycloak, Auth0, etc.)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Validate checks that the configuration is safe to run. In non-development
// modes AUTH_ISSUER or AUTH_JWKS_URL must be set so that real JWT
// authentication is enforced. The transmission settings must stay within
// their regulatory bounds.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode == "external" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is \"external\" (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}

	if c.SNGPCMaxAttempts < 1 {
		return fmt.Errorf("SNGPC_MAX_ATTEMPTS must be at least 1, got %d", c.SNGPCMaxAttempts)
	}
	if c.SNGPCDeadlineDay < 1 || c.SNGPCDeadlineDay > 28 {
		return fmt.Errorf("SNGPC_DEADLINE_DAY must be between 1 and 28, got %d", c.SNGPCDeadlineDay)
	}
	if c.SNGPCWarningDays < 0 {
		return fmt.Errorf("SNGPC_DEADLINE_WARNING_DAYS must not be negative, got %d", c.SNGPCWarningDays)
	}
	if c.SNGPCErrorDays < 0 || c.SNGPCErrorDays > c.SNGPCWarningDays {
		return fmt.Errorf("SNGPC_DEADLINE_ERROR_DAYS must be between 0 and SNGPC_DEADLINE_WARNING_DAYS (%d), got %d",
			c.SNGPCWarningDays, c.SNGPCErrorDays)
	}
	if c.SNGPCOutboundMultiplier <= 1 {
		return fmt.Errorf("SNGPC_ANOMALY_OUTBOUND_MULTIPLIER must be greater than 1, got %v", c.SNGPCOutboundMultiplier)
	}
	if c.SNGPCInboundMultiplier <= 1 {
		return fmt.Errorf("SNGPC_ANOMALY_INBOUND_MULTIPLIER must be greater than 1, got %v", c.SNGPCInboundMultiplier)
	}
	if c.SNGPCBalanceTolerance < 0 {
		return fmt.Errorf("SNGPC_BALANCE_TOLERANCE must not be negative, got %v", c.SNGPCBalanceTolerance)
	}
	if c.SNGPCTimeoutSeconds < 1 {
		return fmt.Errorf("SNGPC_TIMEOUT_SECONDS must be at least 1, got %d", c.SNGPCTimeoutSeconds)
	}
	if c.ScanIntervalMinutes < 1 {
		return fmt.Errorf("COMPLIANCE_SCAN_MINUTES must be at least 1, got %d", c.ScanIntervalMinutes)
	}

	// In production the ANVISA endpoint and client certificate are required
	// for real transmissions.
	if c.IsProduction() {
		if c.SNGPCEndpointURL == "" {
			return fmt.Errorf("SNGPC_ENDPOINT_URL is required in production")
		}
		if c.SNGPCCertFile == "" || c.SNGPCCertKeyFile == "" {
			return fmt.Errorf("SNGPC_CERT_FILE and SNGPC_CERT_KEY_FILE are required in production")
		}
		if c.PharmacyCNPJ == "" {
			return fmt.Errorf("PHARMACY_CNPJ is required in production")
		}
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
