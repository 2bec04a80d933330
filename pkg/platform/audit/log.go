// Package audit records every access to protected records.
//
// Log is the only writer. It redacts free-text fields before anything is
// persisted, stamps ids and timestamps, and retries failed writes a bounded
// number of times. An append that still fails is reported as degraded: the
// caller gets its result anyway, operators get a distinct signal, and the
// event waits in a dead-letter buffer for replay.
package audit

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"phigate/pkg/platform/redact"

	"github.com/google/uuid"
)

// Store persists audit events. Append must be atomic and idempotent on
// EventID. List returns up to limit matching events that sort strictly
// after the cursor, ordered by (Timestamp, Seq) ascending.
type Store interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter, after Cursor, limit int) ([]Event, error)
}

// DeadLetter holds events whose append degraded.
type DeadLetter interface {
	Enqueue(event Event)
	DequeueBatch(n int) []Event
}

// DegradedFunc is called exactly once for every append that exhausted its
// attempts. The event is already redacted.
type DegradedFunc func(ctx context.Context, event Event, err error)

var (
	// ErrAppendFailed marks an append that exhausted its attempts. The
	// returned Ack is still valid and has Degraded set.
	ErrAppendFailed = errors.New("audit append failed")
	ErrInvalidEvent = errors.New("invalid audit event")
)

// Ack acknowledges an append. Degraded means the event was not persisted
// and has been handed to the dead-letter path.
type Ack struct {
	EventID  string
	Degraded bool
}

const (
	defaultAttempts = 3
	defaultBackoff  = 25 * time.Millisecond
	defaultPageSize = 256
	eventIDPrefix   = "evt_"
)

// Log is the append-only audit log.
type Log struct {
	store      Store
	redactor   *redact.Redactor
	logger     *slog.Logger
	metrics    *Metrics
	breaker    *CircuitBreaker
	deadLetter DeadLetter
	onDegraded DegradedFunc
	attempts   int
	backoff    time.Duration
	pageSize   int
	now        func() time.Time

	mu        sync.Mutex
	lastStamp time.Time
}

// Option configures the Log.
type Option func(*Log)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(l *Log) { l.metrics = m }
}

// WithRedactor sets the redactor used on event fields. Deployments pass the
// one carrying their approved identifiers.
func WithRedactor(r *redact.Redactor) Option {
	return func(l *Log) {
		if r != nil {
			l.redactor = r
		}
	}
}

// WithRetry bounds store attempts per append. Backoff grows linearly with
// the attempt number.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(l *Log) {
		if attempts > 0 {
			l.attempts = attempts
		}
		if backoff >= 0 {
			l.backoff = backoff
		}
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(l *Log) {
		if cb != nil {
			l.breaker = cb
		}
	}
}

func WithDeadLetter(dl DeadLetter) Option {
	return func(l *Log) { l.deadLetter = dl }
}

// WithDegradedHook registers an alerting hook for degraded appends.
func WithDegradedHook(fn DegradedFunc) Option {
	return func(l *Log) { l.onDegraded = fn }
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithPageSize sets how many events Query pulls from the store at a time.
func WithPageSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

// New creates a Log over store.
func New(store Store, opts ...Option) *Log {
	l := &Log{
		store:    store,
		redactor: redact.New(),
		breaker:  NewCircuitBreaker(0, 0),
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		pageSize: defaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append redacts and persists event. A store failure never loses the
// event silently: after the last attempt the degraded path runs and the
// returned error wraps ErrAppendFailed alongside an Ack with Degraded set.
func (l *Log) Append(ctx context.Context, event Event) (Ack, error) {
	if !event.EventType.IsValid() || !event.Outcome.IsValid() {
		return Ack{}, fmt.Errorf("%w: type %q outcome %q", ErrInvalidEvent, event.EventType, event.Outcome)
	}
	event = l.prepare(event)

	start := time.Now()
	err := l.persist(ctx, event)
	if l.metrics != nil {
		l.metrics.ObserveAppendDuration(time.Since(start).Seconds())
	}
	if err != nil {
		l.degrade(ctx, event, err)
		return Ack{EventID: event.EventID, Degraded: true}, fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}

	if l.metrics != nil {
		l.metrics.IncAppended(event.EventType, event.Outcome)
	}
	return Ack{EventID: event.EventID}, nil
}

// prepare keeps the principal verbatim: it is the authenticated actor the
// trail exists to record, and filters match it exactly.
func (l *Log) prepare(event Event) Event {
	event.ResourceID = l.redactor.String(event.ResourceID)
	event.SourceIP = l.redactor.String(event.SourceIP)
	event.UserAgent = l.redactor.String(event.UserAgent)
	if event.EventID == "" {
		event.EventID = newEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.stamp()
	} else {
		event.Timestamp = event.Timestamp.UTC()
	}
	event.Seq = 0
	return event
}

// stamp returns a UTC timestamp that never goes backwards, so an append
// that starts after another one finished always sorts after it.
func (l *Log) stamp() time.Time {
	now := l.now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Before(l.lastStamp) {
		now = l.lastStamp
	}
	l.lastStamp = now
	return now
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return eventIDPrefix + id.String()
}

func (l *Log) persist(ctx context.Context, event Event) error {
	var err error
	for attempt := 1; attempt <= l.attempts; attempt++ {
		if attempt > 1 {
			if !l.breaker.Allow() {
				break
			}
			if l.metrics != nil {
				l.metrics.IncRetries()
			}
			if waitErr := wait(ctx, l.backoff*time.Duration(attempt-1)); waitErr != nil {
				break
			}
		}

		if err = l.store.Append(ctx, event); err == nil {
			l.breaker.RecordSuccess()
			l.setCircuitState(false)
			return nil
		}

		if l.metrics != nil {
			l.metrics.IncAttemptFailures()
		}
		l.setCircuitState(l.breaker.RecordFailure())
		if l.logger != nil {
			l.logger.WarnContext(ctx, "audit append attempt failed",
				"event_id", event.EventID,
				"attempt", attempt,
				"error", err,
			)
		}
	}
	return err
}

// ErrStoreUnhealthy is reported by Health while the append circuit is open.
var ErrStoreUnhealthy = errors.New("audit store circuit open")

// Health reports ErrStoreUnhealthy while consecutive append failures hold
// the circuit open.
func (l *Log) Health(context.Context) error {
	if l.breaker.IsOpen() {
		return ErrStoreUnhealthy
	}
	return nil
}

func (l *Log) setCircuitState(open bool) {
	if l.metrics != nil {
		l.metrics.SetCircuitBreakerState(open)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Log) degrade(ctx context.Context, event Event, err error) {
	if l.metrics != nil {
		l.metrics.IncDegraded()
	}
	if l.deadLetter != nil {
		l.deadLetter.Enqueue(event)
	}
	if l.logger != nil {
		l.logger.ErrorContext(ctx, "CRITICAL: audit degraded, event dead-lettered",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"outcome", event.Outcome,
			"resource_id", event.ResourceID,
			"error", err,
		)
	}
	if l.onDegraded != nil {
		l.onDegraded(ctx, event, err)
	}
}

// Replay moves up to n dead-lettered events into the store. Events that
// still fail go back to the buffer. It returns how many were persisted.
func (l *Log) Replay(ctx context.Context, n int) (int, error) {
	if l.deadLetter == nil || n <= 0 || !l.breaker.Allow() {
		return 0, nil
	}
	batch := l.deadLetter.DequeueBatch(n)
	for i, event := range batch {
		if err := l.store.Append(ctx, event); err != nil {
			l.setCircuitState(l.breaker.RecordFailure())
			for _, rest := range batch[i:] {
				l.deadLetter.Enqueue(rest)
			}
			l.countReplayed(batch[:i])
			return i, fmt.Errorf("replay audit event: %w", err)
		}
		l.breaker.RecordSuccess()
		l.setCircuitState(false)
	}
	l.countReplayed(batch)
	return len(batch), nil
}

func (l *Log) countReplayed(events []Event) {
	if l.metrics == nil {
		return
	}
	l.metrics.AddReplayed(len(events))
	for _, event := range events {
		l.metrics.IncAppended(event.EventType, event.Outcome)
	}
}

// Query returns matching events in ascending timestamp order. The sequence
// is lazy: nothing is read until it is ranged over, and every range starts
// again from the beginning. The resource filter is redacted the same way
// stored resource ids are so that they compare equal; the principal filter
// is matched as given.
func (l *Log) Query(ctx context.Context, filter Filter) (iter.Seq2[Event, error], error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	filter.ResourceID = l.redactor.String(filter.ResourceID)

	pageSize := l.pageSize
	return func(yield func(Event, error) bool) {
		var after Cursor
		for {
			page, err := l.store.List(ctx, filter, after, pageSize)
			if err != nil {
				yield(Event{}, fmt.Errorf("list audit events: %w", err))
				return
			}
			for _, event := range page {
				if !yield(event, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			after = page[len(page)-1].Cursor()
		}
	}, nil
}
