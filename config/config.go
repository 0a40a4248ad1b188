package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	extErrors "github.com/pkg/errors"
)

// Config is the process configuration, loaded from the environment after the
// dotenv file has been applied. Required keys fail startup instead of failing
// the first request that needs them.
type Config struct {
	Environment string `env:"API_ENV" envDefault:"development"`
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	SiteURL     string `env:"SITE_URL,required" validate:"url"`

	PostgresURI   string `env:"POSTGRES_URI,required"`
	MongoURI      string `env:"MONGO_URI,required"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"storefront"`
	RedisURI      string `env:"REDIS_URI,required"`
	RedisPassword string `env:"REDIS_PW"`

	StripeKey            string `env:"STRIPE_KEY,required"`
	StripeEndpointSecret string `env:"STRIPE_ENDPOINT_SECRET,required"`
	ContentSecret        string `env:"CONTENT_WEBHOOK_SECRET,required"`

	JWTSigningKey string `env:"JWT_SIGNING_KEY,required" validate:"min=16"`

	CRMEnabled    bool   `env:"CRM_ENABLED"`
	CRMBaseURL    string `env:"CRM_BASE_URL" validate:"omitempty,url"`
	CRMAPIKey     string `env:"CRM_API_KEY"`
	CRMLocationID string `env:"CRM_LOCATION_ID"`

	AdTrackEnabled     bool   `env:"ADTRACK_ENABLED"`
	AdTrackEndpoint    string `env:"ADTRACK_ENDPOINT" validate:"omitempty,url"`
	AdTrackPixelID     string `env:"ADTRACK_PIXEL_ID"`
	AdTrackAccessToken string `env:"ADTRACK_ACCESS_TOKEN"`

	PurchaseLimitMax    int64         `env:"PURCHASE_LIMIT_MAX" envDefault:"5"`
	PurchaseLimitWindow time.Duration `env:"PURCHASE_LIMIT_WINDOW" envDefault:"10m"`
	CancelLimitMax      int64         `env:"CANCEL_LIMIT_MAX" envDefault:"10"`
	CancelLimitWindow   time.Duration `env:"CANCEL_LIMIT_WINDOW" envDefault:"10m"`
	AdTrackBudgetMax    int64         `env:"ADTRACK_BUDGET_MAX" envDefault:"50"`
	AdTrackBudgetWindow time.Duration `env:"ADTRACK_BUDGET_WINDOW" envDefault:"5m"`
}

// Load parses and validates the configuration from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, extErrors.Wrap(err, "Cannot parse configuration from environment")
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, extErrors.Wrap(err, "Invalid configuration")
	}
	return &cfg, nil
}
