package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"classifieds/internal/boost"
	"classifieds/internal/notifications/push"
	"classifieds/internal/types"
)

// ErrBatchFailed is returned when at least one write batch failed to
// commit. Progress from batches that did commit stands.
var ErrBatchFailed = errors.New("sweep: write batch failed")

// SweepStore is the listing persistence the sweep needs.
type SweepStore interface {
	// QueryDue returns up to limit active boosts due at now, expiry or bump.
	QueryDue(ctx context.Context, now int64, limit int) ([]types.Listing, error)
	NewWriteBatch(limit int) boost.Batch
}

// Notifier enqueues push messages for the push worker.
type Notifier interface {
	PublishBatch(ctx context.Context, msgs []types.PushMessage) (int, error)
}

// SweepConfig tunes a Sweeper. Zero values take the defaults below.
type SweepConfig struct {
	PageSize       int
	BatchLimit     int
	MaxPages       int
	NotifyOnBump   bool
	NotifyOnExpiry bool
	PublicBaseURL  string
}

const (
	defaultPageSize   = 400
	defaultBatchLimit = 450
	defaultMaxPages   = 10
)

// SweeperDeps carries the collaborators of a Sweeper. Notifier and Metrics
// are optional.
type SweeperDeps struct {
	Store    SweepStore
	Notifier Notifier
	Metrics  SweepMetrics
	Clock    types.Clock
	Jitter   boost.JitterFunc
	Logger   *slog.Logger
}

// Sweeper runs the periodic boost sweep.
type Sweeper struct {
	store    SweepStore
	notifier Notifier
	metrics  SweepMetrics
	clock    types.Clock
	jitter   boost.JitterFunc
	logger   *slog.Logger
	cfg      SweepConfig
}

// NewSweeper creates a Sweeper.
func NewSweeper(deps SweeperDeps, cfg SweepConfig) *Sweeper {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}

	s := &Sweeper{
		store:    deps.Store,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		jitter:   deps.Jitter,
		logger:   deps.Logger,
		cfg:      cfg,
	}
	if s.metrics == nil {
		s.metrics = noopSweepMetrics{}
	}
	if s.clock == nil {
		s.clock = types.RealClock{}
	}
	if s.jitter == nil {
		s.jitter = boost.DefaultJitter
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Run executes one sweep as described by payload.
//
// Pages are re-queried from the top: committed transitions leave the due
// set, so the next page holds whatever is still due. Paging stops when a
// page comes back short, when nothing on a page was committed, when a batch
// fails, after MaxPages, or when ctx is done. A dry run reads one page.
func (s *Sweeper) Run(ctx context.Context, payload SweepPayload) (SweepResult, error) {
	now := s.clock.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}
	nowMs := boost.ToMillis(now)

	res := SweepResult{Now: now, DryRun: payload.DryRun}
	log := s.logger.With("sweep_at", now.Format(time.RFC3339), "dry_run", payload.DryRun)

	var notices []types.PushMessage
	for res.Pages < s.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			log.WarnContext(ctx, "sweep stopped early", "error", err, "pages", res.Pages)
			break
		}

		listings, err := s.store.QueryDue(ctx, nowMs, s.cfg.PageSize)
		if err != nil {
			s.finish(ctx, log, &res, notices)
			return res, fmt.Errorf("querying due boosts: %w", err)
		}
		res.Pages++
		res.Scanned += len(listings)

		committed, failed, pageNotices := s.processPage(ctx, log, listings, nowMs, payload.DryRun, &res)
		notices = append(notices, pageNotices...)

		if payload.DryRun || failed || committed == 0 || len(listings) < s.cfg.PageSize {
			break
		}
	}

	s.finish(ctx, log, &res, notices)
	if res.FailedBatches > 0 {
		return res, fmt.Errorf("%w: %d batch(es) not committed", ErrBatchFailed, res.FailedBatches)
	}
	return res, nil
}

// processPage decides every listing on the page and commits the resulting
// updates in batches of at most BatchLimit.
func (s *Sweeper) processPage(
	ctx context.Context,
	log *slog.Logger,
	listings []types.Listing,
	nowMs int64,
	dryRun bool,
	res *SweepResult,
) (committed int, failed bool, notices []types.PushMessage) {
	titles := make(map[string]string, len(listings))
	var pending []boost.Transition
	for i := range listings {
		t := boost.Advance(&listings[i], nowMs, s.jitter)
		if t.Outcome == boost.OutcomeSkip {
			continue
		}
		titles[t.ListingID] = listings[i].Title
		pending = append(pending, t)
	}

	if dryRun {
		for _, t := range pending {
			tally(res, t)
		}
		return 0, false, nil
	}

	for start := 0; start < len(pending); start += s.cfg.BatchLimit {
		end := min(start+s.cfg.BatchLimit, len(pending))
		batch := s.store.NewWriteBatch(s.cfg.BatchLimit)

		var addErr error
		for _, t := range pending[start:end] {
			if addErr = batch.Add(t); addErr != nil {
				break
			}
		}
		err := addErr
		if err == nil {
			err = batch.Commit(ctx)
		}
		if err != nil {
			res.FailedBatches++
			failed = true
			log.ErrorContext(ctx, "sweep batch failed",
				"error", err,
				"batch_size", end-start,
				"first_listing", pending[start].ListingID,
			)
			continue
		}

		for _, t := range batch.Items() {
			committed++
			tally(res, t)
			if msg, ok := s.notice(t, titles[t.ListingID]); ok {
				notices = append(notices, msg)
			}
		}
	}
	return committed, failed, notices
}

func tally(res *SweepResult, t boost.Transition) {
	switch t.Outcome {
	case boost.OutcomeBump:
		res.Bumped++
	case boost.OutcomeExpire:
		res.Deactivated++
	}
}

func (s *Sweeper) notice(t boost.Transition, title string) (types.PushMessage, bool) {
	switch {
	case t.Outcome == boost.OutcomeBump && s.cfg.NotifyOnBump:
		return push.NewMessage(types.PushEventBoostBumped, t.OwnerID, t.ListingID, title, s.cfg.PublicBaseURL), true
	case t.Outcome == boost.OutcomeExpire && s.cfg.NotifyOnExpiry:
		return push.NewMessage(types.PushEventBoostExpired, t.OwnerID, t.ListingID, title, s.cfg.PublicBaseURL), true
	default:
		return types.PushMessage{}, false
	}
}

// finish enqueues notifications for committed updates, publishes metrics
// and logs the summary. None of these can fail the sweep.
func (s *Sweeper) finish(ctx context.Context, log *slog.Logger, res *SweepResult, notices []types.PushMessage) {
	if len(notices) > 0 && s.notifier != nil {
		sent, err := s.notifier.PublishBatch(ctx, notices)
		res.Notified = sent
		if err != nil {
			log.ErrorContext(ctx, "failed to enqueue sweep notifications",
				"error", err,
				"queued", sent,
				"total", len(notices),
			)
		}
	}

	if !res.DryRun {
		s.metrics.RecordSweep(ctx, *res)
	}

	log.InfoContext(ctx, "boost sweep finished",
		"pages", res.Pages,
		"scanned", res.Scanned,
		"bumped", res.Bumped,
		"deactivated", res.Deactivated,
		"failed_batches", res.FailedBatches,
		"notified", res.Notified,
	)
}
