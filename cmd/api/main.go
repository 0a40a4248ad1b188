package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carebound/storefront/adtrack"
	"github.com/carebound/storefront/appointment"
	"github.com/carebound/storefront/auth"
	"github.com/carebound/storefront/config"
	"github.com/carebound/storefront/content"
	"github.com/carebound/storefront/coupon"
	"github.com/carebound/storefront/crm"
	"github.com/carebound/storefront/customer"
	"github.com/carebound/storefront/db"
	"github.com/carebound/storefront/external"
	"github.com/carebound/storefront/limiter"
	"github.com/carebound/storefront/order"
	"github.com/carebound/storefront/payment"
	"github.com/carebound/storefront/subscription"
	"github.com/carebound/storefront/webhook"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Cannot load configurations from environment",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	sentryCfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(sentryCfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Error("Cannot initialize zapsentry core",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	database, err := db.New(logger, cfg.PostgresURI)
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), time.Second*10)
	defer connectCancel()
	mongoClient, err := content.Connect(connectCtx, cfg.MongoURI)
	if err != nil {
		logger.Fatal("Cannot connect to MongoDB",
			zap.Error(err),
		)
	}
	defer mongoClient.Disconnect(context.Background())

	contentStore, err := content.NewMongoStore(content.MongoOptions{
		Client:   mongoClient,
		Database: cfg.MongoDatabase,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize content store",
			zap.Error(err),
		)
	}

	redisClient := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisURI},
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if _, err := redisClient.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer redisClient.Close()

	authManager, err := auth.New(auth.Options{
		Logger:        logger,
		JWTSigningKey: cfg.JWTSigningKey,
		Environment:   authEnvironment,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	processor, err := payment.NewStripeProcessor(payment.StripeOptions{
		StripeClient: external.NewStripeClient(cfg.StripeKey),
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize payment processor",
			zap.Error(err),
		)
	}

	customerManager, err := customer.NewManager(customer.ManagerOptions{
		Processor: processor,
		DB:        database,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize CustomerManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		DB:      database,
		Content: contentStore,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	orderManager, err := order.NewManager(order.ManagerOptions{
		DB:     database,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize OrderManager",
			zap.Error(err),
		)
	}

	appointmentManager, err := appointment.NewManager(appointment.ManagerOptions{
		DB:     database,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize AppointmentManager",
			zap.Error(err),
		)
	}

	couponValidator, err := coupon.NewValidator(coupon.Options{
		Lookup: contentStore,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize CouponValidator",
			zap.Error(err),
		)
	}

	purchaseLimiter, err := limiter.New(limiter.Options{
		Redis:  redisClient,
		Logger: logger,
		Prefix: "purchase",
		Max:    cfg.PurchaseLimitMax,
		Window: cfg.PurchaseLimitWindow,
	})
	if err != nil {
		logger.Fatal("Cannot initialize purchase limiter",
			zap.Error(err),
		)
	}

	cancelLimiter, err := limiter.New(limiter.Options{
		Redis:  redisClient,
		Logger: logger,
		Prefix: "cancel",
		Max:    cfg.CancelLimitMax,
		Window: cfg.CancelLimitWindow,
	})
	if err != nil {
		logger.Fatal("Cannot initialize cancel limiter",
			zap.Error(err),
		)
	}

	adTrackBudget, err := limiter.New(limiter.Options{
		Redis:  redisClient,
		Logger: logger,
		Prefix: "adtrack",
		Max:    cfg.AdTrackBudgetMax,
		Window: cfg.AdTrackBudgetWindow,
	})
	if err != nil {
		logger.Fatal("Cannot initialize ad event budget",
			zap.Error(err),
		)
	}

	crmClient, err := crm.New(crm.Options{
		Enabled:    cfg.CRMEnabled,
		BaseURL:    cfg.CRMBaseURL,
		APIKey:     cfg.CRMAPIKey,
		LocationID: cfg.CRMLocationID,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize CRM client",
			zap.Error(err),
		)
	}

	adTrackClient, err := adtrack.New(adtrack.Options{
		Enabled:     cfg.AdTrackEnabled,
		Endpoint:    cfg.AdTrackEndpoint,
		PixelID:     cfg.AdTrackPixelID,
		AccessToken: cfg.AdTrackAccessToken,
		Budget:      adTrackBudget,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize ad-attribution client",
			zap.Error(err),
		)
	}

	checkout, err := subscription.NewCheckout(subscription.CheckoutOptions{
		Records:   subscriptionManager,
		Content:   contentStore,
		Processor: processor,
		Coupons:   couponValidator,
		Customers: customerManager,
		Logger:    logger,
		SiteURL:   cfg.SiteURL,
	})
	if err != nil {
		logger.Fatal("Cannot initialize checkout workflow",
			zap.Error(err),
		)
	}

	canceller, err := subscription.NewCanceller(subscription.CancellerOptions{
		Records:   subscriptionManager,
		Processor: processor,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize cancellation workflow",
			zap.Error(err),
		)
	}

	subscriptionRouter, err := subscription.NewService(subscription.ServiceOptions{
		Auth:            authManager,
		Catalog:         contentStore,
		Checkout:        checkout,
		Canceller:       canceller,
		Records:         subscriptionManager,
		PurchaseLimiter: purchaseLimiter,
		CancelLimiter:   cancelLimiter,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Subscription Service Router",
			zap.Error(err),
		)
	}

	webhookRouter, err := webhook.NewService(webhook.ServiceOptions{
		Records:              subscriptionManager,
		Processor:            processor,
		Orders:               orderManager,
		Appointments:         appointmentManager,
		CRM:                  crmClient,
		AdTrack:              adTrackClient,
		Logger:               logger,
		StripeEndpointSecret: cfg.StripeEndpointSecret,
		ContentSecret:        cfg.ContentSecret,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()
	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.SiteURL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rootRouter.Mount("/subscriptions", subscriptionRouter.Router())
	rootRouter.Mount("/webhooks", webhookRouter.Router())

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    cfg.ListenAddr,
	}

	go func() {
		logger.Info("API listening",
			zap.String("Addr", cfg.ListenAddr),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Cannot start API server",
				zap.Error(err),
			)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*15)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed",
			zap.Error(err),
		)
	}
}
