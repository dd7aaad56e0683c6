package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"`
	AuthJWTSecret  string   `mapstructure:"AUTH_JWT_SECRET"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	ClinicName     string   `mapstructure:"CLINIC_NAME"`
	ClinicTimezone string   `mapstructure:"CLINIC_TIMEZONE"`
	ClinicServices []string `mapstructure:"CLINIC_SERVICES"`

	// SMS providers
	SMSProvider         string `mapstructure:"SMS_PROVIDER"`
	SemaphoreAPIKey     string `mapstructure:"SEMAPHORE_API_KEY"`
	SemaphoreSenderName string `mapstructure:"SEMAPHORE_SENDER_NAME"`
	SemaphoreBaseURL    string `mapstructure:"SEMAPHORE_BASE_URL"`
	TwilioAccountSID    string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken     string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber    string `mapstructure:"TWILIO_FROM_NUMBER"`
	TwilioBaseURL       string `mapstructure:"TWILIO_BASE_URL"`
	PublicBaseURL       string `mapstructure:"PUBLIC_BASE_URL"`

	// SMTP relay
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	// OTP
	OTPTTL            time.Duration `mapstructure:"OTP_TTL"`
	OTPMaxAttempts    int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	OTPResendInterval time.Duration `mapstructure:"OTP_RESEND_INTERVAL"`

	// File storage
	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	S3Bucket      string `mapstructure:"S3_BUCKET"`
	S3Region      string `mapstructure:"S3_REGION"`
	S3Endpoint    string `mapstructure:"S3_ENDPOINT"`
	S3PathStyle   bool   `mapstructure:"S3_PATH_STYLE"`
	// Static S3 credentials; empty falls back to the default AWS chain.
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`

	// Background jobs
	JobsEnabled            bool   `mapstructure:"JOBS_ENABLED"`
	ReminderSchedule       string `mapstructure:"REMINDER_SCHEDULE"`
	InventoryAlertSchedule string `mapstructure:"INVENTORY_ALERT_SCHEDULE"`
	OTPCleanupSchedule     string `mapstructure:"OTP_CLEANUP_SCHEDULE"`
	ExpiryWarningDays      int    `mapstructure:"EXPIRY_WARNING_DAYS"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"AUTH_JWT_SECRET", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"CLINIC_NAME", "CLINIC_TIMEZONE", "CLINIC_SERVICES",
	"SMS_PROVIDER", "SEMAPHORE_API_KEY", "SEMAPHORE_SENDER_NAME", "SEMAPHORE_BASE_URL",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_BASE_URL",
	"PUBLIC_BASE_URL",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"OTP_TTL", "OTP_MAX_ATTEMPTS", "OTP_RESEND_INTERVAL",
	"STORAGE_DRIVER", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PATH_STYLE",
	"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
	"JOBS_ENABLED", "REMINDER_SCHEDULE", "INVENTORY_ALERT_SCHEDULE", "OTP_CLEANUP_SCHEDULE",
	"EXPIRY_WARNING_DAYS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("CLINIC_NAME", "WeCare Clinic")
	v.SetDefault("CLINIC_TIMEZONE", "Asia/Manila")
	v.SetDefault("CLINIC_SERVICES", DefaultClinicServices)
	v.SetDefault("SMS_PROVIDER", "semaphore")
	v.SetDefault("SEMAPHORE_SENDER_NAME", "WeCare")
	v.SetDefault("SEMAPHORE_BASE_URL", "https://api.semaphore.co")
	v.SetDefault("TWILIO_BASE_URL", "https://api.twilio.com")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_RESEND_INTERVAL", "60s")
	v.SetDefault("STORAGE_DRIVER", "memory")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("JOBS_ENABLED", true)
	v.SetDefault("REMINDER_SCHEDULE", "0 8 * * *")
	v.SetDefault("INVENTORY_ALERT_SCHEDULE", "0 7 * * *")
	v.SetDefault("OTP_CLEANUP_SCHEDULE", "@hourly")
	v.SetDefault("EXPIRY_WARNING_DAYS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	cfg.ClinicServices = splitList(v.GetString("CLINIC_SERVICES"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: requests without a bearer token are treated as an admin user.")
	}

	return cfg, nil
}

// DefaultClinicServices is the bookable service list used when
// CLINIC_SERVICES is unset.
const DefaultClinicServices = "General Consultation,Vaccination,Prenatal Check-up,Pediatric Check-up,Family Planning,Laboratory"

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location returns the clinic timezone. Validate guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that the configuration is safe to run. Outside development a
// token verification method (shared secret or JWKS) is mandatory, and whichever
// SMS provider is selected must carry its credentials.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthJWTSecret == "" && c.AuthJWKSURL == "" && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_JWT_SECRET or AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}

	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}

	switch c.SMSProvider {
	case "semaphore":
		if !c.IsDev() && c.SemaphoreAPIKey == "" {
			return fmt.Errorf("SEMAPHORE_API_KEY is required when SMS_PROVIDER is \"semaphore\"")
		}
	case "twilio":
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required when SMS_PROVIDER is \"twilio\"")
		}
	case "":
	default:
		return fmt.Errorf("SMS_PROVIDER must be \"semaphore\" or \"twilio\", got %q", c.SMSProvider)
	}

	switch c.StorageDriver {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER is \"s3\"")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be \"memory\" or \"s3\", got %q", c.StorageDriver)
	}

	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.OTPMaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	return nil
}
