package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/linklet-app/linklet/modules/subscription"
	"github.com/linklet-app/linklet/pkg/billing"
	"github.com/linklet-app/linklet/pkg/config"
	"github.com/linklet-app/linklet/pkg/entitlement"
	"github.com/linklet-app/linklet/pkg/httpserver"
	"github.com/linklet-app/linklet/pkg/logger"
	"github.com/linklet-app/linklet/pkg/pg"
	"github.com/linklet-app/linklet/pkg/plans"
	"github.com/linklet-app/linklet/pkg/redis"
	"github.com/linklet-app/linklet/pkg/session"
	"github.com/linklet-app/linklet/pkg/token"
)

type appConfig struct {
	Environment string `env:"ENVIRONMENT" envDefault:"production"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"linklet-subscriptions"`

	SubjectHeader string `env:"AUTH_SUBJECT_HEADER" envDefault:"X-User-Sub"`

	ConfirmSecret string        `env:"CONFIRM_TOKEN_SECRET,required"`
	ConfirmTTL    time.Duration `env:"CONFIRM_TOKEN_TTL" envDefault:"1h"`

	GateCacheTTL time.Duration `env:"GATE_CACHE_TTL" envDefault:"1m"`

	PriceBasic string `env:"PADDLE_PRICE_BASIC,required"`
	PricePlus  string `env:"PADDLE_PRICE_PLUS,required"`
	PricePro   string `env:"PADDLE_PRICE_PRO,required"`

	HTTP     httpserver.Config
	PG       pg.Config
	Redis    redis.Config
	Paddle   billing.PaddleConfig
	Checkout entitlement.CheckoutConfig
	Sweep    entitlement.SweepConfig
}

func main() {
	ctx := context.Background()

	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(logger.WithEnvironment(cfg.Environment, cfg.ServiceName))
	logger.SetAsDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		return err
	}

	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	provider, err := billing.NewPaddleProvider(cfg.Paddle)
	if err != nil {
		return err
	}

	catalog := buildCatalog(cfg)
	store := entitlement.NewPostgresStore(pool)
	engine := entitlement.NewEngine(catalog, store,
		entitlement.WithGateCache(entitlement.NewRedisGateCache(redisClient, cfg.GateCacheTTL)),
		entitlement.WithLogger(log),
	)

	confirm := token.NewConfirmService(cfg.ConfirmSecret, cfg.ConfirmTTL)
	sessions := session.NewRedisStore(redisClient)
	checkout := entitlement.NewCheckout(engine, provider, sessions, confirm, cfg.Checkout, log)
	reconciler := entitlement.NewReconciler(engine, provider, entitlement.NewPostgresParkedEvents(pool), log)

	sweep := entitlement.NewSweep(engine, store, cfg.Sweep, log)
	if err := sweep.Start(); err != nil {
		return err
	}
	defer func() { <-sweep.Stop().Done() }()

	svc := subscription.NewService(engine, checkout, reconciler, log)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", httpserver.HealthCheckHandler(ctx, log,
		pg.Healthcheck(pool),
		redis.Healthcheck(redisClient),
	))
	r.Mount("/", subscription.Router(svc, subscription.HeaderSubjectResolver(cfg.SubjectHeader)))

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
	return srv.Run(ctx, r)
}

// buildCatalog defines the tier ladder. Price ids come from the
// environment so sandbox and production map to their own Paddle objects.
func buildCatalog(cfg appConfig) *plans.Catalog {
	return plans.MustCatalog(
		plans.Plan{
			ID:          "free",
			Rank:        0,
			Name:        "Free",
			Description: "Get started with short links",
			Limits: map[plans.Resource]int64{
				plans.ResourceLinks:    25,
				plans.ResourceQRCodes:  5,
				plans.ResourceBioPages: 0,
			},
			Interval: plans.BillingIntervalNone,
		},
		plans.Plan{
			ID:          "basic",
			Rank:        1,
			Name:        "Basic",
			Description: "For creators who track their audience",
			Limits: map[plans.Resource]int64{
				plans.ResourceLinks:    500,
				plans.ResourceQRCodes:  100,
				plans.ResourceBioPages: 1,
			},
			Features: []plans.Feature{
				plans.FeatureLinkAnalytics,
				plans.FeatureUTMBuilder,
				plans.FeatureBioPage,
			},
			Price:           plans.Money{Amount: 900, Currency: "USD"},
			Interval:        plans.BillingIntervalMonthly,
			ProviderPriceID: cfg.PriceBasic,
		},
		plans.Plan{
			ID:          "plus",
			Rank:        2,
			Name:        "Plus",
			Description: "Custom branding on your own domain",
			Limits: map[plans.Resource]int64{
				plans.ResourceLinks:    5000,
				plans.ResourceQRCodes:  1000,
				plans.ResourceBioPages: 3,
			},
			Features: []plans.Feature{
				plans.FeatureLinkAnalytics,
				plans.FeatureUTMBuilder,
				plans.FeatureBioPage,
				plans.FeatureCustomDomain,
				plans.FeatureQRCustomColors,
				plans.FeatureNoBranding,
			},
			Price:           plans.Money{Amount: 2900, Currency: "USD"},
			Interval:        plans.BillingIntervalMonthly,
			ProviderPriceID: cfg.PricePlus,
		},
		plans.Plan{
			ID:          "pro",
			Rank:        3,
			Name:        "Pro",
			Description: "Full API access, no limits",
			Limits: map[plans.Resource]int64{
				plans.ResourceLinks:    plans.Unlimited,
				plans.ResourceQRCodes:  plans.Unlimited,
				plans.ResourceBioPages: 10,
			},
			Features: []plans.Feature{
				plans.FeatureLinkAnalytics,
				plans.FeatureUTMBuilder,
				plans.FeatureBioPage,
				plans.FeatureCustomDomain,
				plans.FeatureQRCustomColors,
				plans.FeatureNoBranding,
				plans.FeatureAPI,
			},
			Price:           plans.Money{Amount: 9900, Currency: "USD"},
			Interval:        plans.BillingIntervalMonthly,
			ProviderPriceID: cfg.PricePro,
		},
	)
}
