// Package integrity collects behavioral signals on the candidate side and
// ships them to the attempt's integrity endpoint in small batches.
package integrity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// Transport delivers batches. Beacon is fire-and-forget and used only on
// Close; it reports false when the batch could not be handed off.
type Transport interface {
	Send(ctx context.Context, events []model.IntegrityEventInput) error
	Beacon(events []model.IntegrityEventInput) bool
}

// Config tunes the collector. Zero values take the defaults.
type Config struct {
	BatchSize        int
	FlushInterval    time.Duration
	QueueLimit       int
	KeepaliveTimeout time.Duration
	DriftInterval    time.Duration
	DriftThreshold   time.Duration
}

func (c *Config) withDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 15 * time.Second
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = 200
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = 5 * time.Second
	}
	if c.DriftInterval <= 0 {
		c.DriftInterval = time.Second
	}
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = 1500 * time.Millisecond
	}
}

var defaultSeverity = map[string]model.Severity{
	model.EventVisibilityHidden:  model.SeverityWarning,
	model.EventVisibilityVisible: model.SeverityInfo,
	model.EventFullscreenExit:    model.SeverityWarning,
	model.EventFullscreenEnter:   model.SeverityInfo,
	model.EventWindowBlur:        model.SeverityInfo,
	model.EventWindowFocus:       model.SeverityInfo,
	model.EventTimerDrift:        model.SeverityWarning,
	model.EventPageHide:          model.SeverityWarning,
}

// SeverityOf returns the severity the collector reports for a well-known
// event type. Unknown types are info.
func SeverityOf(eventType string) model.Severity {
	if s, ok := defaultSeverity[eventType]; ok {
		return s
	}
	return model.SeverityInfo
}

// Collector buffers events in a bounded queue and flushes when the queue
// reaches BatchSize, every FlushInterval, and on Close. Failed flushes put the
// batch back at the head of the queue; when the queue is full the oldest
// events are dropped.
type Collector struct {
	transport Transport
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	queue   []model.IntegrityEventInput
	dropped int
	closed  bool

	flushMu sync.Mutex
	full    chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewCollector creates a collector. Call Start to run the background flush and
// drift loops, and Close on page teardown.
func NewCollector(transport Transport, cfg Config, log zerolog.Logger) *Collector {
	cfg.withDefaults()
	return &Collector{
		transport: transport,
		cfg:       cfg,
		log:       log.With().Str("component", "integrity_collector").Logger(),
		now:       time.Now,
		full:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Start launches the interval flush loop and the drift detector.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.flushLoop(ctx)
	go c.driftLoop(ctx)
}

// Record enqueues an event of the given type with its default severity.
func (c *Collector) Record(eventType string, metadata map[string]any) {
	c.RecordWithSeverity(eventType, SeverityOf(eventType), metadata)
}

// RecordWithSeverity enqueues an event with an explicit severity.
func (c *Collector) RecordWithSeverity(eventType string, severity model.Severity, metadata map[string]any) {
	ev := model.IntegrityEventInput{
		Type:       eventType,
		Severity:   severity,
		OccurredAt: c.now().UTC(),
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			ev.Metadata = raw
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, ev)
	c.trimLocked()
	ready := len(c.queue) >= c.cfg.BatchSize
	c.mu.Unlock()

	if ready {
		select {
		case c.full <- struct{}{}:
		default:
		}
	}
}

func (c *Collector) trimLocked() {
	if over := len(c.queue) - c.cfg.QueueLimit; over > 0 {
		c.queue = c.queue[over:]
		c.dropped += over
	}
}

// Len returns the number of queued events.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Dropped returns how many events were discarded because the queue was full.
func (c *Collector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Collector) take() []model.IntegrityEventInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.queue
	c.queue = nil
	return batch
}

func (c *Collector) requeue(batch []model.IntegrityEventInput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(batch, c.queue...)
	c.trimLocked()
}

// Flush sends everything queued. On failure the batch is requeued and the
// error returned.
func (c *Collector) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	batch := c.take()
	if len(batch) == 0 {
		return nil
	}
	if err := c.transport.Send(ctx, batch); err != nil {
		c.requeue(batch)
		c.log.Warn().Err(err).Int("events", len(batch)).Msg("Integrity flush failed, requeued")
		return err
	}
	return nil
}

func (c *Collector) flushLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.Flush(ctx)
		case <-c.full:
			c.Flush(ctx)
		}
	}
}

func (c *Collector) driftLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.DriftInterval)
	defer ticker.Stop()

	d := NewDriftDetector(c.cfg.DriftInterval, c.cfg.DriftThreshold, c.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if drift, ok := d.Observe(c.now()); ok {
				c.Record(model.EventTimerDrift, map[string]any{"driftMs": drift.Milliseconds()})
			}
		}
	}
}

// Close records a page_hide event, stops the loops and hands the remaining
// queue to the beacon transport, falling back to a bounded keep-alive send.
// Events that fail at this point are dropped.
func (c *Collector) Close() {
	c.Record(model.EventPageHide, nil)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	c.wg.Wait()

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	batch := c.take()
	if len(batch) == 0 || c.transport.Beacon(batch) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.KeepaliveTimeout)
	defer cancel()
	if err := c.transport.Send(ctx, batch); err != nil {
		c.log.Warn().Err(err).Int("events", len(batch)).Msg("Integrity events lost at close")
	}
}
