// Package main is the entrypoint for the boost sweep.
//
// Deployed, it is a Lambda function invoked by an EventBridge rule every few
// minutes with an optional scheduler.SweepPayload. Locally (APP_ENV=local and
// no Lambda runtime) it drives the same Sweeper from an in-process cron
// runner on SWEEP_SCHEDULE until interrupted.
//
// This file only wires dependencies; the sweep itself lives in
// internal/scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"classifieds/internal/config"
	"classifieds/internal/db"
	"classifieds/internal/notifications/push"
	"classifieds/internal/scheduler"
	"classifieds/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
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

	logger := newLogger(cfg.LogLevel)
	logger.Info("boost sweeper initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	ctx := context.Background()
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.Connect(connectCtx, cfg.Database.URL.Unmask(), cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	deps := scheduler.SweeperDeps{
		Store:  db.NewListingStore(pool, logger),
		Logger: logger,
	}

	if cfg.AWS.PushQueueURL != "" || cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		if cfg.AWS.PushQueueURL != "" {
			sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			deps.Notifier = push.NewPublisher(sqsClient, cfg.AWS.PushQueueURL, &slogAdapter{logger: logger})
		} else {
			logger.Warn("SQS_PUSH not set, sweep notifications disabled")
		}
		if cfg.Observability.EnableMetrics {
			cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			deps.Metrics = scheduler.NewCloudWatchSweepMetrics(cwClient, cfg.Observability.MetricNamespace, logger)
		}
	}

	sweeper := scheduler.NewSweeper(deps, sweepConfig(cfg))

	logger.Info("boost sweeper initialized",
		"page_size", cfg.Sweep.PageSize,
		"batch_limit", cfg.Sweep.BatchLimit,
		"max_pages", cfg.Sweep.MaxPages,
		"notifications", deps.Notifier != nil,
	)

	if cfg.IsLocal() && !isLambdaEnvironment() {
		return runLocal(sweeper, cfg, logger)
	}

	lambda.Start(newHandler(sweeper, cfg.Sweep.Timeout, logger))
	return nil
}

// sweepConfig maps the environment settings onto the scheduler's.
func sweepConfig(cfg *config.Config) scheduler.SweepConfig {
	return scheduler.SweepConfig{
		PageSize:       cfg.Sweep.PageSize,
		BatchLimit:     cfg.Sweep.BatchLimit,
		MaxPages:       cfg.Sweep.MaxPages,
		NotifyOnBump:   cfg.Sweep.NotifyOnBump,
		NotifyOnExpiry: cfg.Sweep.NotifyOnExpiry,
		PublicBaseURL:  cfg.Push.PublicBaseURL,
	}
}

// sweepRunner is the part of *scheduler.Sweeper the handler calls.
type sweepRunner interface {
	Run(ctx context.Context, payload scheduler.SweepPayload) (scheduler.SweepResult, error)
}

// newHandler creates the Lambda handler. A failed sweep returns an error so
// the invocation is reported as failed; the next scheduled run picks up
// whatever is still due.
func newHandler(sweeper sweepRunner, timeout time.Duration, logger *slog.Logger) func(ctx context.Context, payload scheduler.SweepPayload) (scheduler.SweepResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, payload scheduler.SweepPayload) (scheduler.SweepResult, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		logger.InfoContext(ctx, "sweep handler invoked",
			"reference_time", payload.ReferenceTime,
			"dry_run", payload.DryRun,
		)

		res, err := sweeper.Run(ctx, payload)
		if err != nil {
			logger.ErrorContext(ctx, "sweep failed",
				"error", err,
				"bumped_before_error", res.Bumped,
				"deactivated_before_error", res.Deactivated,
			)
			return res, fmt.Errorf("boost sweep failed: %w", err)
		}
		return res, nil
	}
}

// runLocal drives the sweep from an in-process cron schedule until SIGINT
// or SIGTERM.
func runLocal(sweeper *scheduler.Sweeper, cfg *config.Config, logger *slog.Logger) error {
	schedule, err := config.ParseSchedule(cfg.Sweep.Schedule)
	if err != nil {
		return fmt.Errorf("parsing SWEEP_SCHEDULE: %w", err)
	}

	runner := scheduler.NewLocalRunner(sweeper, schedule, cfg.Sweep.Timeout, logger)
	runner.Start()
	logger.Info("waiting for scheduled sweeps",
		"schedule", cfg.Sweep.Schedule,
		"next", runner.Next().Format(time.RFC3339),
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Sweep.Timeout)
	defer cancel()
	runner.Stop(ctx)
	return nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}

// newLogger creates a JSON slog.Logger at the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// slogAdapter wraps *slog.Logger to implement types.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}
