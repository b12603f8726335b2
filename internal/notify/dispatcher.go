// Package notify delivers reservation events to external sinks after the
// reservation has been committed. Enqueueing never blocks the caller and
// delivery failures never reach it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gaia/internal/booking"
	"gaia/internal/metrics"
	"gaia/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type EventType string

const (
	EventCreated       EventType = "reservation.created"
	EventStatusChanged EventType = "reservation.status_changed"
)

// Event is a committed reservation change.
type Event struct {
	Type        EventType         `json:"type"`
	Reservation model.Reservation `json:"reservation"`
	From        model.Status      `json:"from,omitempty"`
	HallName    string            `json:"hall_name,omitempty"`
	At          time.Time         `json:"at"`
}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// PermanentError marks a delivery failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryAfterError asks the dispatcher to wait before the next attempt.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.After)
}
func (e *RetryAfterError) Unwrap() error { return e.Err }

// HallLookup resolves the hall of an event for message formatting.
type HallLookup func(ctx context.Context, id int64) (*model.Hall, error)

type Config struct {
	Workers     int
	QueueSize   int
	RetryDelays []time.Duration
	RatePerSec  float64
	Burst       int
}

func DefaultConfig() Config {
	return Config{
		Workers:     2,
		QueueSize:   256,
		RetryDelays: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
		RatePerSec:  20,
		Burst:       30,
	}
}

// Dispatcher is a booking.Notifier backed by a bounded queue and a worker
// pool. Events that do not fit in the queue are dropped and logged.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	limiter *rate.Limiter
	delays  []time.Duration
	workers int
	halls   HallLookup
	logger  zerolog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

var _ booking.Notifier = (*Dispatcher)(nil)

func NewDispatcher(cfg Config, halls HallLookup, logger *zerolog.Logger, sinks ...Sink) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = def.RetryDelays
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, cfg.QueueSize),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		delays:  cfg.RetryDelays,
		workers: cfg.Workers,
		halls:   halls,
		logger:  l.With().Str("component", "notify").Logger(),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the workers. They exit when ctx is done or after Close
// has drained the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info().Int("workers", d.workers).Int("sinks", len(d.sinks)).Msg("notification dispatcher started")
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to expire, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if d.cancel != nil {
			d.cancel()
		}
		<-done
	}
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) ReservationCreated(r model.Reservation) {
	d.enqueue(Event{Type: EventCreated, Reservation: r, At: d.now()})
}

func (d *Dispatcher) ReservationStatusChanged(r model.Reservation, from model.Status) {
	d.enqueue(Event{Type: EventStatusChanged, Reservation: r, From: from, At: d.now()})
}

func (d *Dispatcher) enqueue(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn().Int64("reservation_id", ev.Reservation.ID).Msg("dispatcher closed, event dropped")
		metrics.IncNotification("queue", "dropped")
		return
	}
	select {
	case d.queue <- ev:
		metrics.SetNotificationQueue(len(d.queue))
	default:
		d.logger.Error().
			Int64("reservation_id", ev.Reservation.ID).
			Str("type", string(ev.Type)).
			Msg("notification queue full, event dropped")
		metrics.IncNotification("queue", "dropped")
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.queue:
			if !ok {
				return
			}
			metrics.SetNotificationQueue(len(d.queue))
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) {
	if d.halls != nil && ev.HallName == "" {
		if h, err := d.halls(ctx, ev.Reservation.HallID); err == nil {
			ev.HallName = h.Name
		} else {
			d.logger.Warn().Err(err).Int64("hall_id", ev.Reservation.HallID).Msg("hall lookup failed")
		}
	}
	for _, s := range d.sinks {
		if err := d.deliver(ctx, s, ev); err != nil {
			d.logger.Error().
				Err(err).
				Str("sink", s.Name()).
				Int64("reservation_id", ev.Reservation.ID).
				Str("type", string(ev.Type)).
				Msg("notification failed")
			metrics.IncNotification(s.Name(), "failed")
			continue
		}
		metrics.IncNotification(s.Name(), "sent")
	}
}

// deliver makes one attempt plus one retry per configured delay.
func (d *Dispatcher) deliver(ctx context.Context, s Sink, ev Event) error {
	var lastErr error
	for attempt := 0; attempt <= len(d.delays); attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		err := s.Deliver(ctx, ev)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return err
		}
		if attempt == len(d.delays) {
			break
		}

		wait := d.delays[attempt]
		var ra *RetryAfterError
		if errors.As(err, &ra) && ra.After > 0 {
			wait = ra.After
		}
		d.logger.Info().
			Err(err).
			Str("sink", s.Name()).
			Int("attempt", attempt+1).
			Dur("delay", wait).
			Msg("retrying notification")
		metrics.IncNotificationRetry()
		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
