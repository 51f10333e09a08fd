package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/allisson/outboxd/internal/backoff"
	"github.com/allisson/outboxd/internal/database"
	apperrors "github.com/allisson/outboxd/internal/errors"
	"github.com/allisson/outboxd/internal/metrics"
	"github.com/allisson/outboxd/internal/outbox/domain"
	"github.com/allisson/outboxd/internal/outbox/service"
)

// DispatcherConfig holds dispatcher configuration. Zero values fall back to defaults.
type DispatcherConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	ConsumerTimeout   time.Duration
	VisibilityTimeout time.Duration
	Concurrency       int
	// Backoff schedules delivery retries and the loop pause after infrastructure errors.
	Backoff backoff.Strategy
}

// Dispatcher defaults.
const (
	DefaultPollInterval      = time.Second
	DefaultBatchSize         = 50
	DefaultMaxAttempts       = 5
	DefaultConsumerTimeout   = 30 * time.Second
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultConcurrency       = 4
)

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ConsumerTimeout <= 0 {
		c.ConsumerTimeout = DefaultConsumerTimeout
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Backoff == nil {
		c.Backoff = backoff.DefaultStrategy()
	}
	return c
}

// DispatchResult summarizes one dispatch pass. Completed, Retrying and DeadLettered
// count entries by final status; Delivered, Skipped and Failed count consumer
// outcomes; Errors counts entries left for a later reclaim.
type DispatchResult struct {
	Claimed      int `json:"claimed"`
	Completed    int `json:"completed"`
	Retrying     int `json:"retrying"`
	DeadLettered int `json:"dead_lettered"`
	Delivered    int `json:"delivered"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	Errors       int `json:"errors"`
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherClock overrides the time source.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher delivers committed outbox entries to the consumers registered for their
// event name. Each (entry, consumer) pair keeps its own delivery state, so a retry
// only re-runs the consumers that have not finished.
type Dispatcher struct {
	config      DispatcherConfig
	txManager   database.TxManager
	repo        OutboxRepository
	registry    *domain.Registry
	deadLetters DeadLetterPublisher
	metrics     metrics.OutboxMetrics
	logger      *slog.Logger
	now         func() time.Time
	wake        chan struct{}
}

// NewDispatcher creates a Dispatcher. deadLetters and outboxMetrics may be nil.
func NewDispatcher(
	config DispatcherConfig,
	txManager database.TxManager,
	repo OutboxRepository,
	registry *domain.Registry,
	deadLetters DeadLetterPublisher,
	outboxMetrics metrics.OutboxMetrics,
	logger *slog.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	if deadLetters == nil {
		deadLetters = service.NewNoOpDeadLetterPublisher()
	}
	if outboxMetrics == nil {
		outboxMetrics = metrics.NewNoOpOutboxMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		config:      config.withDefaults(),
		txManager:   txManager,
		repo:        repo,
		registry:    registry,
		deadLetters: deadLetters,
		metrics:     outboxMetrics,
		logger:      logger,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.warnTimeoutsOverLease()
	return d
}

// warnTimeoutsOverLease reports consumer timeouts that invoke will cap at the
// visibility timeout.
func (d *Dispatcher) warnTimeoutsOverLease() {
	if d.config.ConsumerTimeout > d.config.VisibilityTimeout {
		d.logger.Warn("consumer timeout exceeds visibility timeout, handlers will be capped",
			slog.Duration("consumer_timeout", d.config.ConsumerTimeout),
			slog.Duration("visibility_timeout", d.config.VisibilityTimeout),
		)
	}
	for _, name := range d.registry.Names() {
		def, ok := d.registry.Lookup(name)
		if !ok || def.Timeout <= d.config.VisibilityTimeout {
			continue
		}
		d.logger.Warn("consumer timeout exceeds visibility timeout, handler will be capped",
			slog.String("consumer", def.Name),
			slog.Duration("timeout", def.Timeout),
			slog.Duration("visibility_timeout", d.config.VisibilityTimeout),
		)
	}
}

// Notify wakes a running Start loop. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start runs dispatch passes until ctx is cancelled. Passes run on every poll tick and
// on Notify; a full batch triggers the next pass immediately. An infrastructure error
// pauses the loop with the backoff strategy, reset after the next successful pass.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting outbox dispatcher",
		slog.Duration("poll_interval", d.config.PollInterval),
		slog.Int("batch_size", d.config.BatchSize),
		slog.Int("concurrency", d.config.Concurrency),
		slog.Int("max_attempts", d.config.MaxAttempts),
	)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		result, err := d.DispatchOnce(ctx)
		if ctx.Err() != nil {
			d.logger.Info("stopping outbox dispatcher")
			return ctx.Err()
		}

		if err != nil {
			failures++
			delay := d.config.Backoff.Delay(failures)
			d.logger.Error("dispatch pass failed",
				slog.Any("error", err),
				slog.Int("consecutive_failures", failures),
				slog.Duration("delay", delay),
			)
			if sleepErr := backoff.SleepWithContext(ctx, delay); sleepErr != nil {
				d.logger.Info("stopping outbox dispatcher")
				return ctx.Err()
			}
			continue
		}
		failures = 0

		if result.Claimed >= d.config.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Info("stopping outbox dispatcher")
			return ctx.Err()
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// DispatchOnce claims one batch of due entries and processes it. Consumer failures are
// recorded on the deliveries and never returned; the error reports infrastructure
// problems such as a failed claim or a delivery that could not be persisted.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	start := time.Now()
	result, err := d.dispatch(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}
	d.metrics.RecordDispatchPass(ctx, time.Since(start), status)

	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context) (DispatchResult, error) {
	var result DispatchResult

	token, err := uuid.NewV7()
	if err != nil {
		return result, apperrors.Wrap(err, "failed to generate claim token")
	}

	now := d.now().UTC()
	params := domain.ClaimParams{
		Token:      token,
		Now:        now,
		LeaseUntil: now.Add(d.config.VisibilityTimeout),
		Limit:      d.config.BatchSize,
	}

	var entries []*domain.Entry
	err = d.txManager.WithTx(ctx, func(txCtx context.Context) error {
		claimed, err := d.repo.Claim(txCtx, params)
		if err != nil {
			return err
		}
		entries = claimed
		return nil
	})
	if err != nil {
		return result, err
	}

	result.Claimed = len(entries)
	if len(entries) == 0 {
		return result, nil
	}
	d.metrics.RecordClaimed(ctx, len(entries))
	d.logger.Debug("claimed outbox entries",
		slog.Int("count", len(entries)),
		slog.String("claim_token", token.String()),
	)

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(d.config.Concurrency)
	for _, entry := range entries {
		g.Go(func() error {
			tally, err := d.processEntry(ctx, token, entry)

			mu.Lock()
			defer mu.Unlock()
			result.add(tally)
			if err != nil {
				result.Errors++
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return result, apperrors.Join(errs...)
}

func (r *DispatchResult) add(o DispatchResult) {
	r.Completed += o.Completed
	r.Retrying += o.Retrying
	r.DeadLettered += o.DeadLettered
	r.Delivered += o.Delivered
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Errors += o.Errors
}

// processEntry runs every registered consumer of the entry in registration order and
// finalizes the entry with the aggregate status. The lease is renewed before each
// consumer, so it only has to outlast one consumer rather than the whole entry, and a
// pass that lost the entry to another dispatcher stops without writing anything more.
func (d *Dispatcher) processEntry(
	ctx context.Context,
	token uuid.UUID,
	entry *domain.Entry,
) (DispatchResult, error) {
	var tally DispatchResult

	existing, err := d.repo.ListDeliveries(ctx, entry.ID)
	if err != nil {
		return tally, err
	}
	byConsumer := make(map[string]*domain.Delivery, len(existing))
	for _, delivery := range existing {
		byConsumer[delivery.ConsumerName] = delivery
	}

	payload, payloadErr := entry.DecodePayload()

	var (
		pendingRetry *time.Time
		deadLettered bool
		lastError    = entry.LastError
	)
	for _, def := range d.registry.For(entry.EventName) {
		now := d.now().UTC()
		delivery, ok := byConsumer[def.Name]
		if !ok {
			delivery = domain.NewDelivery(entry.ID, def.Name, now)
		}

		if !delivery.IsTerminal() && delivery.IsDue(now) {
			outcome, err := d.deliver(ctx, token, entry, def, delivery, payload, payloadErr)
			if apperrors.Is(err, domain.ErrClaimLost) {
				return d.claimLost(entry, tally, "outbox claim lost mid-entry"), nil
			}
			if err != nil {
				return tally, err
			}
			switch outcome {
			case metrics.OutcomeCompleted:
				tally.Delivered++
			case metrics.OutcomeSkipped:
				tally.Skipped++
			default:
				tally.Failed++
				lastError = delivery.LastError
			}
		}

		switch delivery.Status {
		case domain.DeliveryStatusDeadLettered:
			deadLettered = true
		case domain.DeliveryStatusPending, domain.DeliveryStatusFailed:
			retryAt := now
			if delivery.NextAttemptAt != nil {
				retryAt = *delivery.NextAttemptAt
			}
			if pendingRetry == nil || retryAt.Before(*pendingRetry) {
				pendingRetry = &retryAt
			}
		}
	}

	now := d.now().UTC()
	res := domain.EntryResult{
		Status:        domain.EntryStatusCompleted,
		NextAttemptAt: now,
	}
	switch {
	case pendingRetry != nil:
		res.Status = domain.EntryStatusFailed
		res.NextAttemptAt = *pendingRetry
		res.LastError = lastError
		tally.Retrying++
	case deadLettered:
		res.Status = domain.EntryStatusDeadLettered
		res.LastError = lastError
		tally.DeadLettered++
	default:
		tally.Completed++
	}

	if err := d.repo.Finalize(ctx, entry.ID, token, res, now); err != nil {
		if apperrors.Is(err, domain.ErrClaimLost) {
			return d.claimLost(entry, tally, "outbox claim lost before finalize"), nil
		}
		return tally, err
	}

	d.logger.Debug("outbox entry finalized",
		slog.String("entry_id", entry.ID.String()),
		slog.String("event_name", entry.EventName),
		slog.String("status", string(res.Status)),
		slog.Int("attempt", entry.Attempt),
	)
	return tally, nil
}

// claimLost drops the entry outcome of a pass whose lease another dispatcher took.
// Deliveries saved before the loss stay counted.
func (d *Dispatcher) claimLost(entry *domain.Entry, tally DispatchResult, msg string) DispatchResult {
	d.logger.Warn(msg,
		slog.String("entry_id", entry.ID.String()),
		slog.String("event_name", entry.EventName),
		slog.Int("attempt", entry.Attempt),
	)
	tally.Completed, tally.Retrying, tally.DeadLettered = 0, 0, 0
	tally.Errors++
	return tally
}

// renewLease restarts the visibility timeout of an entry the pass still holds.
func (d *Dispatcher) renewLease(ctx context.Context, token uuid.UUID, entry *domain.Entry) error {
	now := d.now().UTC()
	return d.repo.ExtendLease(ctx, entry.ID, token, now.Add(d.config.VisibilityTimeout), now)
}

// deliver runs one consumer attempt and persists the resulting delivery state. The
// returned error is an infrastructure failure or domain.ErrClaimLost; consumer failures
// only change the delivery.
func (d *Dispatcher) deliver(
	ctx context.Context,
	token uuid.UUID,
	entry *domain.Entry,
	def domain.Definition,
	delivery *domain.Delivery,
	payload domain.Payload,
	payloadErr error,
) (string, error) {
	logger := d.logger.With(
		slog.String("event_name", entry.EventName),
		slog.String("consumer", def.Name),
		slog.String("entry_id", entry.ID.String()),
		slog.Int("attempt", delivery.Attempt+1),
	)

	if err := d.renewLease(ctx, token, entry); err != nil {
		return "", err
	}

	start := time.Now()
	consumerErr := payloadErr
	matched := false
	if consumerErr == nil {
		matched, consumerErr = safeMatches(def.Consumer, payload)
	}

	if consumerErr == nil && !matched {
		delivery.MarkSkipped(d.now().UTC())
		if err := d.repo.SaveDelivery(ctx, delivery); err != nil {
			return "", err
		}
		d.metrics.RecordDelivery(ctx, entry.EventName, def.Name, metrics.OutcomeSkipped, 0)
		logger.Debug("consumer skipped event")
		return metrics.OutcomeSkipped, nil
	}

	if consumerErr == nil {
		params := domain.Params{
			EventName:    entry.EventName,
			EntryID:      entry.ID,
			ConsumerName: def.Name,
			Payload:      payload,
			Job: domain.Job{
				Attempt:        delivery.Attempt + 1,
				IdempotencyKey: service.IdempotencyKey(entry.ID, def.Name),
			},
		}
		var value any
		value, consumerErr = d.invoke(ctx, def, params)
		if ctx.Err() != nil {
			// Shutdown mid-handler: leave the entry to be reclaimed after its lease.
			return "", ctx.Err()
		}
		if consumerErr == nil {
			logger = logger.With(slog.Any("result", value))
		}
		// The handler may have run up to a full lease; its outcome is only kept if
		// the entry is still ours.
		if err := d.renewLease(ctx, token, entry); err != nil {
			if apperrors.Is(err, domain.ErrClaimLost) {
				logger.Warn("discarding consumer outcome, claim lost", slog.Any("consumer_error", consumerErr))
			}
			return "", err
		}
	}
	duration := time.Since(start)
	now := d.now().UTC()

	if consumerErr == nil {
		delivery.MarkCompleted(now)
		if err := d.repo.SaveDelivery(ctx, delivery); err != nil {
			return "", err
		}
		d.metrics.RecordDelivery(ctx, entry.EventName, def.Name, metrics.OutcomeCompleted, duration)
		logger.Info("consumer completed", slog.Duration("duration", duration))
		return metrics.OutcomeCompleted, nil
	}

	message := service.SanitizeError(consumerErr)
	attempt := delivery.Attempt + 1
	if attempt >= d.config.MaxAttempts {
		delivery.MarkDeadLettered(now, message)
		if err := d.repo.SaveDelivery(ctx, delivery); err != nil {
			return "", err
		}
		d.metrics.RecordDelivery(ctx, entry.EventName, def.Name, metrics.OutcomeDeadLettered, duration)
		logger.Error("consumer dead-lettered",
			slog.String("error", message),
			slog.Int("max_attempts", d.config.MaxAttempts),
		)

		dl := service.DeadLetter{
			EntryID:      entry.ID,
			EventName:    entry.EventName,
			ConsumerName: def.Name,
			Attempt:      delivery.Attempt,
			Error:        message,
			Payload:      entry.Payload,
			DeadAt:       now,
		}
		if err := d.deadLetters.Publish(ctx, dl); err != nil {
			logger.Error("failed to publish dead letter", slog.Any("error", err))
		}
		return metrics.OutcomeDeadLettered, nil
	}

	delay := d.config.Backoff.Delay(attempt)
	retryAt := now.Add(delay)
	delivery.MarkFailed(now, retryAt, message)
	if err := d.repo.SaveDelivery(ctx, delivery); err != nil {
		return "", err
	}
	d.metrics.RecordDelivery(ctx, entry.EventName, def.Name, metrics.OutcomeRetrying, duration)
	logger.Warn("consumer failed, retry scheduled",
		slog.String("error", message),
		slog.Duration("delay", delay),
		slog.Time("next_attempt_at", retryAt),
	)
	return metrics.OutcomeRetrying, nil
}

// consumerTimeout is the definition timeout, or the configured default, capped at the
// visibility timeout so a handler never outlives the lease renewed before it.
func (d *Dispatcher) consumerTimeout(def domain.Definition) time.Duration {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = d.config.ConsumerTimeout
	}
	return min(timeout, d.config.VisibilityTimeout)
}

// invoke runs the handler with the consumer timeout. A handler that ignores its context
// is abandoned when the timeout fires.
func (d *Dispatcher) invoke(ctx context.Context, def domain.Definition, params domain.Params) (any, error) {
	timeout := d.consumerTimeout(def)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type handlerResult struct {
		value any
		err   error
	}
	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: apperrors.Wrap(domain.ErrConsumerPanicked, fmt.Sprint(r))}
			}
		}()
		value, err := def.Consumer.Handle(callCtx, params)
		done <- handlerResult{value: value, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && callCtx.Err() != nil && ctx.Err() == nil {
			return nil, apperrors.Wrap(domain.ErrConsumerTimeout, timeout.String())
		}
		return r.value, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(domain.ErrConsumerTimeout, timeout.String())
	}
}

func safeMatches(consumer domain.Consumer, payload domain.Payload) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = apperrors.Wrap(domain.ErrConsumerPanicked, fmt.Sprint(r))
		}
	}()
	return consumer.Matches(payload)
}
