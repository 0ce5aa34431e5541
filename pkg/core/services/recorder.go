package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

const (
	DefaultRecordQueueSize = 1024
	DefaultRecordWorkers   = 4
	DefaultRecordTimeout   = 5 * time.Second
)

type RecorderOptions struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// Recorder persists scan events off the caller's path. Record never blocks
// and never fails; events that cannot be queued or written are logged and
// dropped.
type Recorder struct {
	gateway ports.LinkGateway
	queue   chan domain.ScanEvent
	timeout time.Duration
	now     func() time.Time
	log     logrus.FieldLogger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
	written atomic.Int64
}

func NewRecorder(gateway ports.LinkGateway, opts RecorderOptions, logger logrus.FieldLogger) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultRecordQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultRecordWorkers
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultRecordTimeout
	}

	r := &Recorder{
		gateway: gateway,
		queue:   make(chan domain.ScanEvent, opts.QueueSize),
		timeout: opts.WriteTimeout,
		now:     time.Now,
		log:     logger.WithField("component", "recorder"),
	}

	r.log.WithField("workers", opts.Workers).Info("Starting scan recorder workers")
	for i := 0; i < opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Record queues a scan of linkID.
func (r *Recorder) Record(linkID int64, client domain.ClientContext) {
	event := NewScanEvent(linkID, client, r.now())

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(event, "recorder closed")
		return
	}

	select {
	case r.queue <- event:
	default:
		r.drop(event, "queue full")
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.WithFields(logrus.Fields{
			"written": r.written.Load(),
			"dropped": r.dropped.Load(),
		}).Info("Scan recorder drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped is the number of events that were never written.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for event := range r.queue {
		r.persist(event)
	}
}

func (r *Recorder) persist(event domain.ScanEvent) {
	// Detached from any request; the visitor is already on their way.
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.gateway.InsertScanEvent(ctx, &event); err != nil {
		r.dropped.Add(1)
		r.log.WithError(err).WithFields(logrus.Fields{
			"link_id":  event.LinkID,
			"scan_id":  event.ID,
			"device":   event.Device,
			"browser":  event.Browser,
			"referrer": event.Referrer,
		}).Error("Failed to record scan")
		return
	}
	r.written.Add(1)
	r.log.WithField("link_id", event.LinkID).Debug("Scan recorded")
}

func (r *Recorder) drop(event domain.ScanEvent, reason string) {
	r.dropped.Add(1)
	r.log.WithFields(logrus.Fields{
		"link_id": event.LinkID,
		"reason":  reason,
	}).Warn("Dropping scan event")
}

var _ ports.ScanRecorder = (*Recorder)(nil)
