package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string `env:"APP_PORT" envDefault:"3000"`
	AppEnv  string `env:"APP_ENV" envDefault:"development"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	LogFile   string `env:"LOG_FILE"` // optional rotating file sink

	AWSRegion      string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpointURL string `env:"AWS_ENDPOINT_URL"` // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey   string `env:"AWS_SECRET_ACCESS_KEY"`
	SNSRegion      string `env:"SNS_REGION" envDefault:"us-east-1"`

	// StorageDriver selects the registration store: "dynamo" or "memory".
	StorageDriver      string `env:"STORAGE_DRIVER" envDefault:"dynamo"`
	RegistrationsTable string `env:"DYNAMO_TABLE_REGISTRATIONS" envDefault:"registrations"`

	RedisURL string        `env:"REDIS_URL"`
	LockTTL  time.Duration `env:"CONTACT_LOCK_TTL" envDefault:"10s"`

	JWTPublicKeyPath string `env:"JWT_PUBLIC_KEY_PATH" envDefault:"./public_key.pem"`

	SMTPHost     string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     string `env:"SMTP_PORT" envDefault:"1025"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"noreply@example.com"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	Registration Registration
	Chain        Chain
	Captcha      Captcha
}

// Registration holds the state machine tunables.
type Registration struct {
	EnabledOnStart bool `env:"REGISTRATION_ENABLED" envDefault:"true"`

	ResendCooldown  time.Duration `env:"RESEND_COOLDOWN" envDefault:"30s"`
	MaxResends      int           `env:"MAX_RESENDS" envDefault:"5"`
	SMSCodeLength   int           `env:"SMS_CODE_LENGTH" envDefault:"4"`
	EmailCodeLength int           `env:"EMAIL_CODE_LENGTH" envDefault:"6"`

	// TestingPassHash is a bcrypt hash. Empty disables testing-system records entirely.
	TestingPassHash string `env:"TESTING_PASS_HASH"`
	// IdentitySecureKeyHash is a bcrypt hash of the key identity providers present to createIdentity.
	IdentitySecureKeyHash string `env:"IDENTITY_SECURE_KEY_HASH"`

	ReferralRequired     bool     `env:"REFERRAL_REQUIRED" envDefault:"false"`
	SpecialReferrals     []string `env:"SPECIAL_REFERRALS" envSeparator:","`
	ReferralCacheSize    int      `env:"REFERRAL_CACHE_SIZE" envDefault:"4096"`
	ReferralBonusEnabled bool     `env:"REFERRAL_BONUS_ENABLED" envDefault:"false"`
	ReferralBonusAmount  string   `env:"REFERRAL_BONUS_AMOUNT" envDefault:"10.000 CMN"`

	OnboardingCommunities  int    `env:"ONBOARDING_COMMUNITIES" envDefault:"3"`
	OnboardingRewardAmount string `env:"ONBOARDING_REWARD_AMOUNT" envDefault:"1.000 CMN"`

	BackgroundMaxInflight int64 `env:"BACKGROUND_MAX_INFLIGHT" envDefault:"32"`
}

// Chain configures the blockchain gateway client.
type Chain struct {
	GatewayURL       string        `env:"CHAIN_GATEWAY_URL" envDefault:"http://localhost:8888"`
	Timeout          time.Duration `env:"CHAIN_TIMEOUT" envDefault:"15s"`
	AccountPrefix    string        `env:"ACCOUNT_NAME_PREFIX" envDefault:"c"`
	UserIDMaxAttempt int           `env:"USER_ID_MAX_ATTEMPTS" envDefault:"10"`
}

// Captcha configures the reCAPTCHA verifier; one secret per client type.
type Captcha struct {
	VerifyURL     string `env:"CAPTCHA_VERIFY_URL" envDefault:"https://www.google.com/recaptcha/api/siteverify"`
	WebSecret     string `env:"CAPTCHA_SECRET_WEB"`
	AndroidSecret string `env:"CAPTCHA_SECRET_ANDROID"`
	IOSSecret     string `env:"CAPTCHA_SECRET_IOS"`
}

// Load reads all configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// IsProduction reports whether the process runs with APP_ENV=production.
func (c *Config) IsProduction() bool { return c.AppEnv == "production" }
