// Package push fans boost notifications out to the devices a listing owner
// has registered, and enqueues them for the push worker.
package push

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"golang.org/x/sync/errgroup"

	"classifieds/internal/external"
	"classifieds/internal/types"
)

// ErrTransient marks a dispatch where no device received the message and
// at least one failure may succeed on retry.
var ErrTransient = errors.New("push: transient delivery failure")

// Sender delivers a push message to its recipient.
type Sender interface {
	Send(ctx context.Context, msg types.PushMessage) (Result, error)
}

// DeviceStore is the subset of db.DeviceRepository the dispatcher needs.
type DeviceStore interface {
	ListByUser(ctx context.Context, userID string) ([]types.PushDevice, error)
	Delete(ctx context.Context, id string) error
}

// Result counts per-device outcomes of one Send.
type Result struct {
	Devices   int
	Delivered int
	Pruned    int
	Failed    int
}

// DispatcherConfig wires a Dispatcher. Providers maps a device platform to
// the client that reaches it; platforms without a provider are skipped.
type DispatcherConfig struct {
	Devices     DeviceStore
	Providers   map[types.DevicePlatform]external.PushProvider
	Metrics     Metrics
	Logger      types.Logger
	Concurrency int
}

// Dispatcher implements Sender by delivering directly to every device of
// the recipient, concurrently.
type Dispatcher struct {
	devices     DeviceStore
	providers   map[types.DevicePlatform]external.PushProvider
	metrics     Metrics
	logger      types.Logger
	concurrency int
}

var _ Sender = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Dispatcher{
		devices:     cfg.Devices,
		providers:   maps.Clone(cfg.Providers),
		metrics:     metrics,
		logger:      cfg.Logger,
		concurrency: concurrency,
	}
}

// Send delivers msg to each registered device of msg.RecipientID. A device
// whose token the provider rejects as dead is deleted. Other per-device
// failures are logged and counted; Send returns ErrTransient only when
// nothing was delivered and something failed.
func (d *Dispatcher) Send(ctx context.Context, msg types.PushMessage) (Result, error) {
	if msg.RecipientID == "" {
		return Result{}, types.NewAppError(types.ErrCodeValidationMissingField, "push message has no recipient", nil)
	}

	devices, err := d.devices.ListByUser(ctx, msg.RecipientID)
	if err != nil {
		return Result{}, fmt.Errorf("listing devices for %s: %w", msg.RecipientID, err)
	}

	log := d.logger.With("message_id", msg.MessageID, "recipient_id", msg.RecipientID, "event", string(msg.Event))
	outcomes := make([]string, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, device := range devices {
		provider, ok := d.providers[device.Platform]
		if !ok {
			log.Warn("no push provider for platform", "device_id", device.ID, "platform", string(device.Platform))
			continue
		}
		g.Go(func() error {
			outcomes[i] = d.deliver(gctx, log, provider, device, msg)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Devices: len(devices)}
	for i, outcome := range outcomes {
		switch outcome {
		case ResultDelivered:
			res.Delivered++
		case ResultPruned:
			res.Pruned++
		case ResultFailed:
			res.Failed++
		default:
			continue
		}
		d.metrics.RecordDelivery(ctx, devices[i].Platform, outcome)
	}

	log.Info("push dispatched",
		"devices", res.Devices,
		"delivered", res.Delivered,
		"pruned", res.Pruned,
		"failed", res.Failed,
	)

	if res.Delivered == 0 && res.Failed > 0 {
		return res, ErrTransient
	}
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, log types.Logger, provider external.PushProvider, device types.PushDevice, msg types.PushMessage) string {
	err := provider.Deliver(ctx, external.PushDelivery{
		Token:    device.Token,
		Title:    msg.Title,
		Body:     msg.Body,
		ImageURL: msg.ImageURL,
		LinkURL:  msg.LinkURL,
		Data: map[string]string{
			"event":      string(msg.Event),
			"listing_id": msg.ListingID,
			"message_id": msg.MessageID,
		},
	})
	if err == nil {
		return ResultDelivered
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeUpstreamInvalidTarget {
		if delErr := d.devices.Delete(ctx, device.ID); delErr != nil {
			log.Error("failed to prune dead device", "device_id", device.ID, "error", delErr.Error())
		}
		return ResultPruned
	}

	log.Error("push delivery failed",
		"device_id", device.ID,
		"platform", string(device.Platform),
		"error", err.Error(),
	)
	return ResultFailed
}
