package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Stripe        StripeConfig
	Shippo        ShippoConfig
	Checkout      CheckoutConfig
	TrackLimit    TrackRateLimitConfig
	Webhook       WebhookConfig
	FeatureFlags  FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"STOREFRONT_DB_HOST"`
	Port     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	User     string `envconfig:"STOREFRONT_DB_USER"`
	Password string `envconfig:"STOREFRONT_DB_PASSWORD"`
	Name     string `envconfig:"STOREFRONT_DB_NAME"`
	SSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey string `envconfig:"STOREFRONT_STRIPE_API_KEY"`
	Secret string `envconfig:"STOREFRONT_STRIPE_SECRET"`
	Env    string `envconfig:"STOREFRONT_STRIPE_ENV" default:"test"`

	SuccessURL string `envconfig:"STOREFRONT_STRIPE_SUCCESS_URL" required:"true"`
	CancelURL  string `envconfig:"STOREFRONT_STRIPE_CANCEL_URL" required:"true"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type ShippoConfig struct {
	APIKey           string `envconfig:"STOREFRONT_SHIPPO_API_KEY"`
	BaseURL          string `envconfig:"STOREFRONT_SHIPPO_BASE_URL"`
	PreferredCarrier string `envconfig:"STOREFRONT_SHIPPO_PREFERRED_CARRIER" default:"USPS"`

	// Warehouse origin used as address_from on every shipment.
	FromName    string `envconfig:"STOREFRONT_SHIPPO_FROM_NAME"`
	FromStreet1 string `envconfig:"STOREFRONT_SHIPPO_FROM_STREET1"`
	FromCity    string `envconfig:"STOREFRONT_SHIPPO_FROM_CITY"`
	FromState   string `envconfig:"STOREFRONT_SHIPPO_FROM_STATE"`
	FromZip     string `envconfig:"STOREFRONT_SHIPPO_FROM_ZIP"`
	FromCountry string `envconfig:"STOREFRONT_SHIPPO_FROM_COUNTRY" default:"US"`
}

type CheckoutConfig struct {
	Currency                   string `envconfig:"STOREFRONT_CHECKOUT_CURRENCY" default:"usd"`
	FreeShippingThresholdCents int    `envconfig:"STOREFRONT_CHECKOUT_FREE_SHIPPING_THRESHOLD_CENTS" default:"5000"`
	FlatShippingRateCents      int    `envconfig:"STOREFRONT_CHECKOUT_FLAT_SHIPPING_RATE_CENTS" default:"599"`
	MaxCartItems               int    `envconfig:"STOREFRONT_CHECKOUT_MAX_CART_ITEMS" default:"50"`
	MaxItemQuantity            int    `envconfig:"STOREFRONT_CHECKOUT_MAX_ITEM_QUANTITY" default:"1000"`
}

type TrackRateLimitConfig struct {
	Window time.Duration `envconfig:"STOREFRONT_TRACK_RATE_LIMIT_WINDOW" default:"1m"`
	Limit  int           `envconfig:"STOREFRONT_TRACK_RATE_LIMIT" default:"10"`
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"STOREFRONT_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	parts := map[string]string{
		"STOREFRONT_DB_HOST": db.Host,
		"STOREFRONT_DB_USER": db.User,
		"STOREFRONT_DB_NAME": db.Name,
	}
	for _, env := range []string{"STOREFRONT_DB_HOST", "STOREFRONT_DB_USER", "STOREFRONT_DB_NAME"} {
		if parts[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either STOREFRONT_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
