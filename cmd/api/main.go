// Package main is the entry point for the boost API.
//
// It loads configuration, connects to PostgreSQL, wires the boost, order
// and webhook handlers onto the core chassis and serves them.
//
// Inside AWS Lambda (AWS_LAMBDA_RUNTIME_API set) the router is driven by
// API Gateway HTTP API events through core.LambdaHandler. Anywhere else it
// runs as a standard HTTP server on the configured port with graceful
// shutdown on SIGINT and SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"classifieds/internal/api/handlers"
	"classifieds/internal/auth"
	"classifieds/internal/billing"
	"classifieds/internal/boost"
	"classifieds/internal/config"
	"classifieds/internal/core"
	"classifieds/internal/db"
	"classifieds/internal/external"
	"classifieds/internal/notifications/push"
	"classifieds/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// apiDeps are the stateful collaborators of the API. buildServer takes
// them already constructed so tests can substitute fakes.
type apiDeps struct {
	Listings boost.ListingStore
	Orders   billing.OrderStore
	Payments external.PaymentProvider
	// Notifier is nil when no push queue is configured.
	Notifier billing.Notifier
	Probes   []core.HealthProbe
	Closers  []func()
}

func run() error {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.RequireAPI(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("boost API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.Database.URL.Unmask(), cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	deps := apiDeps{
		Listings: db.NewListingStore(pool, logger),
		Orders:   db.NewOrderRepository(pool),
		Probes: []core.HealthProbe{
			core.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
		},
		Closers: []func(){pool.Close},
	}

	if cfg.RequireBilling() == nil {
		deps.Payments = external.NewStripeClient(
			&http.Client{Timeout: 15 * time.Second},
			external.StripeClientConfig{
				SecretKey: cfg.Billing.StripeSecretKey,
				BaseURL:   cfg.Billing.StripeBaseURL,
				Logger:    logger,
			},
		)
	}

	if cfg.AWS.PushQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			pool.Close()
			return fmt.Errorf("loading AWS config: %w", err)
		}
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		deps.Notifier = push.NewPublisher(sqsClient, cfg.AWS.PushQueueURL, &slogAdapter{logger: logger})
	}

	srv, err := buildServer(cfg, logger, deps)
	if err != nil {
		pool.Close()
		return err
	}

	if isLambdaEnvironment() {
		logger.Info("running under the Lambda runtime")
		lambda.Start(core.NewLambdaHandler(srv.Handler()).Handle)
		return nil
	}
	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires every handler onto a mounted core.Server. Order
// creation and the Stripe webhook are only mounted when deps.Payments is
// set.
func buildServer(cfg *config.Config, logger *slog.Logger, deps apiDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	srv.Tokens = auth.NewTokenVerifier(auth.TokenVerifierConfig{
		Secret:    cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.JWTIssuer,
		Audience:  cfg.Auth.JWTAudience,
		ClockSkew: cfg.Auth.ClockSkew,
	})
	if bypass := auth.NewBypassChecker(cfg.Auth.BypassKeyHash); bypass.Enabled() {
		srv.Bypass = bypass
	} else {
		logger.Warn("ADMIN_KEY_HASH not set, bypass credential disabled")
	}
	srv.HealthProbes = deps.Probes
	srv.Closers = deps.Closers

	boostSvc := boost.NewService(boost.ServiceConfig{
		Store:  deps.Listings,
		Logger: logger,
	})
	boostHandler := handlers.NewBoostHandler(boostSvc, srv.Validator, logger)
	srv.PublicRoutes = append(srv.PublicRoutes, boostHandler.RegisterPublicRoutes)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, boostHandler.RegisterRoutes)

	if deps.Payments != nil {
		orders := billing.NewService(billing.ServiceConfig{
			Orders:        deps.Orders,
			Listings:      deps.Listings,
			Payments:      deps.Payments,
			Activator:     boostSvc,
			Notifier:      deps.Notifier,
			Logger:        logger,
			Currency:      cfg.Billing.Currency,
			SuccessURL:    cfg.Billing.CheckoutSuccessURL,
			CancelURL:     cfg.Billing.CheckoutCancelURL,
			PublicBaseURL: cfg.Push.PublicBaseURL,
		})
		orderHandler := handlers.NewOrderHandler(orders, srv.Validator, logger)
		webhookHandler := handlers.NewStripeWebhookHandler(
			&external.StripeVerifier{},
			orders,
			cfg.Billing.StripeWebhookSecret.Unmask(),
			logger,
		)
		srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, orderHandler.RegisterRoutes)
		srv.PublicRoutes = append(srv.PublicRoutes, webhookHandler.RegisterRoutes)
	} else {
		logger.Warn("billing not configured, order routes disabled")
	}

	srv.MountRoutes()
	return srv, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger at the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// slogAdapter wraps *slog.Logger to implement types.Logger, whose With
// returns the interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)
