package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

var (
	ErrQueueFull = errors.New("settlement queue is full")
	ErrStopped   = errors.New("settlement dispatcher is stopped")
)

type Notifier interface {
	NotifySettlement(ctx context.Context, rec parking.SettlementRecord) (parking.SettlementReceipt, error)
}

// SettledFunc persists the receipt of a successful notification.
type SettledFunc func(ctx context.Context, ticketID int64, receipt parking.SettlementReceipt) error

type job struct {
	notifier Notifier
	record   parking.SettlementRecord
}

// Dispatcher hands closed tickets to notifiers on background workers.
// Every enqueued record gets exactly one delivery attempt.
type Dispatcher struct {
	queue     chan job
	workers   int
	timeout   time.Duration
	onSettled SettledFunc
	log       zerolog.Logger

	mu      sync.RWMutex
	stopped bool
	started bool
	wg      sync.WaitGroup
}

func NewDispatcher(queueSize, workers int, timeout time.Duration, onSettled SettledFunc, log zerolog.Logger) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		queue:     make(chan job, queueSize),
		workers:   workers,
		timeout:   timeout,
		onSettled: onSettled,
		log:       log.With().Str("component", "settlement").Logger(),
	}
}

func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	d.log.Info().Int("workers", d.workers).Msg("settlement dispatcher started")
}

// Enqueue never blocks. A full queue or a stopped dispatcher drops the record with an error.
func (d *Dispatcher) Enqueue(n Notifier, rec parking.SettlementRecord) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.queue <- job{notifier: n, record: rec}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop drains queued records and waits for workers until ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.log.Info().Msg("settlement dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	log := d.log.With().Int64("ticket_id", j.record.TicketID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("settlement notifier panicked")
		}
	}()

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	receipt, err := j.notifier.NotifySettlement(ctx, j.record)
	if err != nil {
		log.Error().Err(err).Msg("settlement notification failed")
		return
	}
	if d.onSettled != nil {
		if err := d.onSettled(ctx, j.record.TicketID, receipt); err != nil {
			log.Error().Err(err).Str("trip_id", receipt.TripID).Msg("failed to record settlement reference")
			return
		}
	}
	log.Info().Str("trip_id", receipt.TripID).Msg("ticket settled")
}
