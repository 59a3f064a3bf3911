// Package broadcast delivers one media artifact to many groups: one shared
// upload followed by an isolated, bounded fan-out of content records.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vidfriends/groupcast/internal/logging"
	"github.com/vidfriends/groupcast/internal/models"
	"github.com/vidfriends/groupcast/internal/uploads"
)

const (
	DefaultWorkers         = 8
	DefaultDeliveryTimeout = 15 * time.Second
)

// UploadCoordinator hands out shared upload tasks.
type UploadCoordinator interface {
	Acquire(ctx context.Context, media models.MediaDescriptor) (*uploads.Task, error)
	Release(task *uploads.Task)
}

// ContentCreator creates the message carrying the uploaded media in a group.
// Implementations increment the group's content counter and should honour
// ctx. A call still running when its delivery deadline passes is reported as
// a timeout; if it commits afterwards, a retry of that target adds a second
// record.
type ContentCreator interface {
	CreateContentRecord(ctx context.Context, groupID, senderID, url, caption string) (string, error)
}

// Observer receives progress events. Calls are serialized.
type Observer func(Event)

// Request asks for media to be sent to every target group.
type Request struct {
	SenderID       string
	Media          models.MediaDescriptor
	Caption        string
	TargetGroupIDs []string
	Observer       Observer
}

// RetryRequest re-runs delivery for already uploaded media.
type RetryRequest struct {
	SenderID       string
	RemoteURL      string
	Caption        string
	TargetGroupIDs []string
	Observer       Observer
}

// Config controls fan-out behaviour.
type Config struct {
	Workers         int
	DeliveryTimeout time.Duration
	// RatePerSecond caps outbound submissions; zero disables the limit.
	RatePerSecond float64
	Burst         int
	Metrics       *Metrics
	NowFunc       func() time.Time
}

// Dispatcher orchestrates broadcasts.
type Dispatcher struct {
	uploads UploadCoordinator
	creator ContentCreator

	workers         int
	deliveryTimeout time.Duration
	limiter         *rate.Limiter
	metrics         *Metrics
	now             func() time.Time
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(coordinator UploadCoordinator, creator ContentCreator, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if cfg.NowFunc == nil {
		cfg.NowFunc = time.Now
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Workers
	}

	return &Dispatcher{
		uploads:         coordinator,
		creator:         creator,
		workers:         cfg.Workers,
		deliveryTimeout: cfg.DeliveryTimeout,
		limiter:         rate.NewLimiter(limit, cfg.Burst),
		metrics:         cfg.Metrics,
		now:             cfg.NowFunc,
	}
}

// Send uploads the request's media once and delivers it to every target.
// Per-target failures are reported in the outcome, never as the returned
// error. A failed upload yields an UploadFailed outcome and an *UploadError.
func (d *Dispatcher) Send(ctx context.Context, req Request) (Outcome, error) {
	ctx, span := logging.StartSpan(ctx, "broadcast.send")
	defer span.End()
	logger := logging.FromContext(ctx)

	targets, err := normalizeTargets(req.TargetGroupIDs)
	if err == nil {
		err = validateSend(req)
	}
	if err != nil {
		d.metrics.invalid()
		return Outcome{}, err
	}

	emit := serialize(req.Observer)

	task, err := d.uploads.Acquire(ctx, req.Media)
	if err != nil {
		if errors.Is(err, uploads.ErrInvalidMedia) {
			d.metrics.invalid()
			return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return d.uploadFailed(ctx, emit, err)
	}
	defer d.uploads.Release(task)

	remoteURL, err := d.awaitUpload(ctx, task, emit)
	if err != nil {
		return d.uploadFailed(ctx, emit, err)
	}
	emit(Event{Kind: EventUploadFinished, Progress: 100, RemoteURL: remoteURL})
	logger.Info("broadcast upload ready", "remoteUrl", remoteURL, "targets", len(targets))

	outcome := d.deliver(ctx, req.SenderID, remoteURL, req.Caption, targets, emit)
	d.metrics.outcome(outcome.Classification)
	logger.Info("broadcast finished",
		"classification", outcome.Classification,
		"delivered", outcome.Delivered(),
		"failed", len(outcome.Results)-outcome.Delivered(),
	)
	return outcome, nil
}

// Retry delivers already uploaded media to the given targets without
// touching the upload path.
func (d *Dispatcher) Retry(ctx context.Context, req RetryRequest) (Outcome, error) {
	ctx, span := logging.StartSpan(ctx, "broadcast.retry")
	defer span.End()

	targets, err := normalizeTargets(req.TargetGroupIDs)
	if err != nil {
		d.metrics.invalid()
		return Outcome{}, err
	}
	if strings.TrimSpace(req.SenderID) == "" || strings.TrimSpace(req.RemoteURL) == "" {
		d.metrics.invalid()
		return Outcome{}, fmt.Errorf("%w: sender and remote url are required", ErrInvalidRequest)
	}

	outcome := d.deliver(ctx, req.SenderID, req.RemoteURL, req.Caption, targets, serialize(req.Observer))
	d.metrics.outcome(outcome.Classification)
	logging.FromContext(ctx).Info("broadcast retry finished",
		"classification", outcome.Classification,
		"delivered", outcome.Delivered(),
	)
	return outcome, nil
}

func (d *Dispatcher) uploadFailed(ctx context.Context, emit Observer, cause error) (Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(cause, ctxErr) {
		cause = canceled(ctxErr)
	}
	err := &UploadError{Cause: cause}
	emit(Event{Kind: EventUploadFinished, Err: err})
	d.metrics.outcome(UploadFailed)
	logging.FromContext(ctx).Error("broadcast upload failed", "error", cause)
	return Outcome{Classification: UploadFailed}, err
}

func (d *Dispatcher) awaitUpload(ctx context.Context, task *uploads.Task, emit Observer) (string, error) {
	updates := task.Subscribe()
	last := -1
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return task.Wait(ctx)
			}
			switch {
			case snap.State == uploads.StateFailed:
				return "", snap.Err
			case snap.State == uploads.StateSucceeded:
				return snap.RemoteURL, nil
			case snap.Progress > last:
				last = snap.Progress
				emit(Event{Kind: EventUploadProgress, Progress: snap.Progress})
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, senderID, remoteURL, caption string, targets []string, emit Observer) Outcome {
	results := make([]TargetResult, len(targets))
	for i, id := range targets {
		results[i] = TargetResult{GroupID: id, Status: DeliveryPending}
	}

	var g errgroup.Group
	g.SetLimit(d.workers)
	for i, groupID := range targets {
		g.Go(func() error {
			res := d.deliverOne(ctx, groupID, senderID, remoteURL, caption)
			results[i] = res
			emit(Event{Kind: EventDelivery, RemoteURL: remoteURL, Result: res, Err: res.Err})
			return nil
		})
	}
	_ = g.Wait()

	return Outcome{
		Classification: classify(results),
		RemoteURL:      remoteURL,
		Results:        results,
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, groupID, senderID, remoteURL, caption string) TargetResult {
	start := d.now()
	result := TargetResult{GroupID: groupID, Status: DeliveryFailed, At: start}

	fail := func(cause error) TargetResult {
		result.Err = &DeliveryError{GroupID: groupID, Cause: cause}
		d.metrics.delivery(string(DeliveryFailed), d.now().Sub(start))
		logging.FromContext(ctx).Warn("delivery failed", "groupId", groupID, "error", cause)
		return result
	}

	if err := ctx.Err(); err != nil {
		return fail(canceled(err))
	}
	if err := d.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(canceled(ctxErr))
		}
		// The caller's deadline cannot fit the next submission token.
		return fail(fmt.Errorf("%w: %w", ErrTimeout, err))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
	defer cancel()

	recordID, err := d.createRecord(attemptCtx, groupID, senderID, remoteURL, caption)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return fail(canceled(ctx.Err()))
		case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			return fail(fmt.Errorf("%w: %w", ErrTimeout, err))
		default:
			return fail(err)
		}
	}

	result.Status = Delivered
	result.RecordID = recordID
	result.At = d.now()
	d.metrics.delivery(string(Delivered), result.At.Sub(start))
	return result
}

// createRecord bounds the creator call by ctx even when the creator ignores it.
func (d *Dispatcher) createRecord(ctx context.Context, groupID, senderID, remoteURL, caption string) (string, error) {
	type created struct {
		id  string
		err error
	}
	done := make(chan created, 1)
	go func() {
		id, err := d.creator.CreateContentRecord(ctx, groupID, senderID, remoteURL, caption)
		done <- created{id: id, err: err}
	}()

	select {
	case res := <-done:
		return res.id, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func canceled(err error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, err)
}

func validateSend(req Request) error {
	switch {
	case strings.TrimSpace(req.SenderID) == "":
		return fmt.Errorf("%w: sender is required", ErrInvalidRequest)
	case !req.Media.Present():
		return fmt.Errorf("%w: media is required", ErrInvalidRequest)
	case !req.Media.Kind.Valid():
		return fmt.Errorf("%w: unsupported media kind %q", ErrInvalidRequest, req.Media.Kind)
	}
	return nil
}

// normalizeTargets trims ids and collapses duplicates, keeping first occurrence order.
func normalizeTargets(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	targets := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: empty target group id", ErrInvalidRequest)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, id)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: at least one target group is required", ErrInvalidRequest)
	}
	return targets, nil
}

func serialize(observer Observer) Observer {
	if observer == nil {
		return func(Event) {}
	}
	var mu sync.Mutex
	return func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		observer(e)
	}
}
