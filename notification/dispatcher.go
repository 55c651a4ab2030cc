package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// =============================================================================
// ASYNC DISPATCHER - worker queue in front of Ledger.Deliver
// =============================================================================

// DispatcherConfig configures the worker pool.
type DispatcherConfig struct {
	Workers    int
	BufferSize int
	Logger     *zap.Logger
}

// AsyncDispatcher hands messages to a fixed pool of workers. Notify never
// blocks: when the queue is full or stopped the message is recorded as a
// failure straight away.
type AsyncDispatcher struct {
	ledger     *Ledger
	logger     *zap.Logger
	workers    int
	bufferSize int

	queue   chan Message
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

func NewAsyncDispatcher(ledger *Ledger, cfg DispatcherConfig) *AsyncDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 16
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &AsyncDispatcher{
		ledger:     ledger,
		logger:     cfg.Logger,
		workers:    cfg.Workers,
		bufferSize: cfg.BufferSize,
	}
}

// Start launches the workers on a fresh queue. Calling it while running is a
// no-op; calling it after Stop restarts the dispatcher.
func (d *AsyncDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.queue = make(chan Message, d.bufferSize)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(d.ctx, d.queue)
	}
	d.started = true
	d.logger.Info("notification dispatcher started", zap.Int("workers", d.workers))
}

// Stop drains queued messages and waits for workers to exit.
func (d *AsyncDispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	close(d.queue)
	cancel := d.cancel
	d.mu.Unlock()

	d.wg.Wait()
	cancel()
	d.logger.Info("notification dispatcher stopped")
}

// Notify enqueues msg.
func (d *AsyncDispatcher) Notify(ctx context.Context, msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		d.recordUnqueued(ctx, msg, "notification dispatcher not running")
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.recordUnqueued(ctx, msg, fmt.Sprintf("notification queue full (%d)", cap(d.queue)))
	}
}

func (d *AsyncDispatcher) recordUnqueued(ctx context.Context, msg Message, cause string) {
	if _, err := d.ledger.RecordFailure(context.WithoutCancel(ctx), msg, cause); err != nil {
		d.logger.Error("failed to record undispatched notification", zap.String("recipient", msg.To), zap.Error(err))
	}
}

func (d *AsyncDispatcher) worker(ctx context.Context, queue <-chan Message) {
	defer d.wg.Done()
	for msg := range queue {
		// Deliver records its own failures.
		_ = d.ledger.Deliver(ctx, msg)
	}
}

// =============================================================================
// LOG SENDER - development transport
// =============================================================================

// LogSender writes messages to the log instead of sending email. Addresses
// that are not valid email addresses fail, which gives development setups a
// realistic stream of failed deliveries.
type LogSender struct {
	logger   *zap.Logger
	validate *validator.Validate
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger, validate: validator.New()}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.validate.Var(msg.To, "required,email"); err != nil {
		return fmt.Errorf("invalid recipient address %q", msg.To)
	}
	s.logger.Info("notification sent",
		zap.String("to", msg.To),
		zap.String("region", msg.Region),
		zap.String("template", string(msg.Template)),
		zap.String("subject", msg.Subject()),
	)
	return nil
}
