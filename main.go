package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"handytoknow/config"
	"handytoknow/database"
	adminapi "handytoknow/internal/api/admin"
	authapi "handytoknow/internal/api/auth"
	billingapi "handytoknow/internal/api/billing"
	plansapi "handytoknow/internal/api/plans"
	"handytoknow/internal/api/registration"
	stripewebhooks "handytoknow/internal/api/stripewebhook"
	tradeapi "handytoknow/internal/api/trade"
	routes "handytoknow/internal/app/http"
	"handytoknow/internal/domain/billing"
	"handytoknow/internal/domain/forms"
	"handytoknow/internal/domain/otp"
	"handytoknow/internal/domain/plans"
	"handytoknow/internal/domain/trades"
	"handytoknow/internal/infra/mailer"
	"handytoknow/internal/infra/recordstore"
	"handytoknow/internal/infra/stripe"
	"handytoknow/internal/logging"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			ProvideStore,
			ProvideSender,
			ProvideGateway,
			ProvideCatalog,
			trades.NewRepository,
			otp.NewStore,
			forms.NewService,
			ProvideBillingService,

			ProvideAuthHandler,
			ProvideRegistrationHandler,
			billingapi.NewHandler,
			stripewebhooks.NewHandler,
			tradeapi.NewHandler,
			adminapi.NewHandler,
			plansapi.NewHandler,

			ProvideRouter,
		),
		fx.Invoke(StartServer),
	)
	app.Run()
}

func ProvideStore(lc fx.Lifecycle, cfg *config.Config) (recordstore.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := database.Open(cfg.DBURL)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return database.Close(db) }})
		return recordstore.NewGorm(db, cfg.OutboundTimeout), nil

	case config.StoreSheets:
		creds, err := os.ReadFile(cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read google credentials: %w", err)
		}
		return recordstore.NewSheets(context.Background(), cfg.SheetsID, creds, cfg.OutboundTimeout)

	default:
		slog.Warn("using in-memory record store; data is lost on restart")
		return recordstore.NewMemory(), nil
	}
}

func ProvideSender(cfg *config.Config) mailer.Sender {
	if cfg.SMTPHost == "" {
		slog.Warn("SMTP_HOST not set; emails are logged instead of sent")
		return &mailer.LogSender{}
	}
	return mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		UseSSL:   cfg.SMTPUseSSL,
		Timeout:  cfg.OutboundTimeout,
	})
}

func ProvideGateway(cfg *config.Config) stripe.Gateway {
	var opts []stripe.Option
	if cfg.StripeAPIURL != "" {
		opts = append(opts, stripe.WithBackendURL(cfg.StripeAPIURL))
	}
	return stripe.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.OutboundTimeout, opts...)
}

func ProvideCatalog(cfg *config.Config) *plans.Catalog {
	return plans.NewCatalog(cfg.PriceIDs)
}

func ProvideBillingService(
	gateway stripe.Gateway,
	repo *trades.Repository,
	catalog *plans.Catalog,
	store recordstore.Store,
	sender mailer.Sender,
	cfg *config.Config,
) *billing.Service {
	return billing.NewService(gateway, repo, catalog, store, sender, billing.Config{
		AppURL:     cfg.AppURL,
		AdminEmail: cfg.AdminEmail,
		EventTTL:   cfg.EventDedupTTL,
	})
}

func ProvideAuthHandler(repo *trades.Repository, codes *otp.Store, sender mailer.Sender, cfg *config.Config) *authapi.Handler {
	return authapi.NewHandler(repo, codes, sender, authapi.Config{
		JWTSecret:              cfg.JWTSecret,
		AppURL:                 cfg.AppURL,
		AdminEmail:             cfg.AdminEmail,
		AdminPasswordHash:      cfg.AdminPasswordHash,
		AdminEmails:            cfg.AdminEmails,
		GoogleClientID:         cfg.GoogleClientID,
		GoogleClientSecret:     cfg.GoogleClientSecret,
		GoogleRedirectURL:      cfg.GoogleRedirectURL,
		GoogleFrontendRedirect: cfg.GoogleFrontendRedirect,
		SecureCookies:          cfg.IsProduction(),
	})
}

func ProvideRegistrationHandler(svc *forms.Service, repo *trades.Repository, cfg *config.Config) *registration.Handler {
	return registration.NewHandler(svc, repo, registration.Config{
		AdminEmail: cfg.AdminEmail,
		AppURL:     cfg.AppURL,
	})
}

type routerParams struct {
	fx.In

	Config       *config.Config
	Trades       *trades.Repository
	Auth         *authapi.Handler
	Billing      *billingapi.Handler
	Webhook      *stripewebhooks.Handler
	Registration *registration.Handler
	Trade        *tradeapi.Handler
	Admin        *adminapi.Handler
	Plans        *plansapi.Handler
}

func ProvideRouter(p routerParams) *gin.Engine {
	return routes.NewRouter(routes.Handlers{
		Auth:         p.Auth,
		Billing:      p.Billing,
		Webhook:      p.Webhook,
		Registration: p.Registration,
		Trade:        p.Trade,
		Admin:        p.Admin,
		Plans:        p.Plans,
	}, p.Trades, p.Config.JWTSecret)
}

func StartServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, engine *gin.Engine) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			slog.Info("starting HTTP server", "port", cfg.Port, "store", cfg.StoreDriver)
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("http server failed", "error", err)
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			slog.Info("stopping HTTP server")
			return srv.Shutdown(ctx)
		},
	})
}
