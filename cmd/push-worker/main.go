// Package main is the entrypoint for the Push Worker Lambda function.
//
// The Push Worker consumes boost notifications from the push SQS queue and
// delivers each to every device the recipient registered, through the web
// push service and the mobile relay.
//
// Handler flow, per SQS record:
//  1. Unmarshal types.PushMessage from the body. A malformed body is logged
//     and acknowledged; redelivery cannot fix it.
//  2. Dispatch to the recipient's devices.
//  3. push.ErrTransient (nothing delivered, something retryable failed)
//     reports the record in BatchItemFailures so SQS redelivers it. Any
//     other error is logged and acknowledged.
//
// With APP_ENV=local the worker reads one SQS event as JSON from stdin
// instead of starting the Lambda runtime.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"classifieds/internal/config"
	"classifieds/internal/db"
	"classifieds/internal/external"
	"classifieds/internal/notifications/push"
	"classifieds/internal/types"
)

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

// Handler holds the dependencies of the push worker.
type Handler struct {
	sender push.Sender
	logger types.Logger
}

// Handle processes an SQS event. Records that should be retried are
// returned in BatchItemFailures; everything else is acknowledged.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Warn("push delivery will be retried",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage returns an error only when the record should be retried.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.PushMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.Error("failed to unmarshal push message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}

	logger := h.logger.With(
		"message_id", msg.MessageID,
		"sqs_message_id", record.MessageId,
		"listing_id", msg.ListingID,
		"event", string(msg.Event),
		"trace_id", msg.TraceID,
	)

	if sentTimestamp, ok := record.Attributes["SentTimestamp"]; ok {
		if sent, err := parseMillisTimestamp(sentTimestamp); err == nil {
			logger = logger.With("queue_lag_ms", time.Since(sent).Milliseconds())
		}
	}

	res, err := h.sender.Send(ctx, msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, push.ErrTransient):
		return err
	default:
		logger.Error("push delivery failed permanently",
			"error", err.Error(),
			"devices", res.Devices,
		)
		return nil
	}
}

// parseMillisTimestamp parses a millisecond-epoch string such as the SQS
// SentTimestamp attribute.
func parseMillisTimestamp(ms string) (time.Time, error) {
	var millis int64
	if _, err := fmt.Sscanf(ms, "%d", &millis); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

// providers builds the push clients the configuration enables.
func providers(cfg *config.Config) map[types.DevicePlatform]external.PushProvider {
	out := make(map[types.DevicePlatform]external.PushProvider, 2)
	if cfg.Push.WebPushURL != "" {
		out[types.PlatformWeb] = external.NewWebPushClient(external.PushClientConfig{
			Endpoint: cfg.Push.WebPushURL,
			APIKey:   cfg.Push.WebPushKey,
			Timeout:  cfg.Push.Timeout,
		})
	}
	if cfg.Push.MobileRelayURL != "" {
		out[types.PlatformMobile] = external.NewMobileRelayClient(external.PushClientConfig{
			Endpoint: cfg.Push.MobileRelayURL,
			APIKey:   cfg.Push.MobileRelayToken,
			Timeout:  cfg.Push.Timeout,
		})
	}
	return out
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("Push Worker Lambda initializing (cold start)")

	typedLogger := &slogAdapter{logger: logger}

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequirePush(); err != nil {
		logger.Error("Push providers not configured", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.Connect(connectCtx, cfg.Database.URL.Unmask(), cfg.Database.MaxConns)
	cancel()
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var metrics push.Metrics = push.NoopMetrics{}
	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Error("Failed to load AWS SDK config", "error", err)
			os.Exit(1)
		}
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		metrics = push.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, typedLogger)
	}

	handler := &Handler{
		sender: push.NewDispatcher(push.DispatcherConfig{
			Devices:     db.NewDeviceRepository(pool),
			Providers:   providers(cfg),
			Metrics:     metrics,
			Logger:      typedLogger,
			Concurrency: cfg.Push.Concurrency,
		}),
		logger: typedLogger,
	}

	logger.Info("Push Worker Lambda initialized",
		"web_push", cfg.Push.WebPushURL != "",
		"mobile_relay", cfg.Push.MobileRelayURL != "",
		"concurrency", cfg.Push.Concurrency,
	)

	// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/push-worker
	if cfg.IsLocal() {
		logger.Info("APP_ENV=local: reading SQS event from stdin")
		if err := runOnce(ctx, handler, os.Stdin, os.Stderr); err != nil {
			logger.Error("Local run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

// runOnce feeds one JSON SQS event from r through the handler and writes
// any partial failure response to w.
func runOnce(ctx context.Context, h *Handler, r io.Reader, w io.Writer) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return errors.New("no input received on stdin")
	}

	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		return fmt.Errorf("parsing SQS event: %w", err)
	}

	response, err := h.Handle(ctx, sqsEvent)
	if err != nil {
		return err
	}
	if len(response.BatchItemFailures) > 0 {
		respJSON, _ := json.MarshalIndent(response, "", "  ")
		fmt.Fprintln(w, string(respJSON))
	}
	return nil
}
