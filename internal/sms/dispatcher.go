package sms

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/milad7akbari/sysense/internal/logging"
	"github.com/milad7akbari/sysense/internal/metrics"
)

// DispatcherConfig sizes the delivery pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds a single delivery.
	Timeout time.Duration
}

type delivery struct {
	phone string
	code  string
}

// Dispatcher decouples delivery from the request that issued the code. A
// bounded queue feeds a fixed set of workers; when the queue is full the
// delivery is dropped, since the user can simply request a new code.
type Dispatcher struct {
	sender  Sender
	cfg     DispatcherConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan delivery
	wg     sync.WaitGroup
}

// NewDispatcher starts cfg.Workers workers. Call Close to drain and stop them.
func NewDispatcher(sender Sender, cfg DispatcherConfig, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	d := &Dispatcher{
		sender:  sender,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		queue:   make(chan delivery, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Deliver queues a code for delivery without blocking.
func (d *Dispatcher) Deliver(phone, code string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(phone, "closed")
		return
	}
	select {
	case d.queue <- delivery{phone: phone, code: code}:
	default:
		d.drop(phone, "queue_full")
	}
}

func (d *Dispatcher) drop(phone, reason string) {
	d.metrics.SMSDeliveryFailed.WithLabelValues(reason).Inc()
	d.logger.Warn("otp delivery dropped", logging.Phone("phone", phone), zap.String("reason", reason))
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.send(job)
	}
}

func (d *Dispatcher) send(job delivery) {
	// Detached from the request: the client may be gone already.
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	if err := d.sender.Send(ctx, job.phone, job.code); err != nil {
		d.metrics.SMSDeliveryFailed.WithLabelValues("send_error").Inc()
		d.logger.Error("otp delivery failed", logging.Phone("phone", job.phone), zap.Error(err))
		return
	}
	d.logger.Debug("otp delivered", logging.Phone("phone", job.phone))
}

// Close stops accepting deliveries and waits until queued ones are sent.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}
