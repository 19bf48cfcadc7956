// Package deleter removes processed map bundles in the background.
//
// Paths are queued once their record is on disk. A single drain goroutine waits for a warm-up
// delay, so bursts of arrivals are removed together, then deletes paths in order. Failed
// deletions go back to the end of the queue after a short delay and are retried until they
// succeed.
package deleter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ubuntu/map-unpacker/internal/constants"
	"github.com/ubuntu/map-unpacker/internal/fileutils"
)

// State is the state of the queue.
type State int

const (
	// Idle means no drain goroutine is running.
	Idle State = iota
	// Draining means a drain goroutine is running.
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	default:
		return fmt.Sprintf("unknown state %d", int(s))
	}
}

// Queue is a queue of files pending deletion.
type Queue struct {
	ctx context.Context

	deleteDelay time.Duration
	retryDelay  time.Duration
	remove      func(string) error
	log         *slog.Logger

	mu      sync.Mutex
	pending []string
	state   State
	drainWG sync.WaitGroup

	queueLength prometheus.Gauge
	deletions   *prometheus.CounterVec
}

type options struct {
	deleteDelay time.Duration
	retryDelay  time.Duration
	remove      func(string) error
	logger      *slog.Logger
	registerer  prometheus.Registerer
}

// Options represents an optional function to override Queue default values.
type Options func(*options)

// WithDeleteDelay sets the delay between the start of a drain and the first deletion.
func WithDeleteDelay(d time.Duration) Options {
	return func(o *options) {
		o.deleteDelay = d
	}
}

// WithRetryDelay sets the delay before a failed deletion is queued again.
func WithRetryDelay(d time.Duration) Options {
	return func(o *options) {
		o.retryDelay = d
	}
}

// WithLogger sets the logger of the queue.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegisterer sets the registerer of the queue metrics.
func WithRegisterer(reg prometheus.Registerer) Options {
	return func(o *options) {
		o.registerer = reg
	}
}

// New creates an idle queue.
// The drain goroutines stop when ctx is done, leaving the remaining paths queued.
func New(ctx context.Context, args ...Options) (*Queue, error) {
	opts := options{
		deleteDelay: constants.DefaultDeleteDelay,
		retryDelay:  constants.DefaultRetryDelay,
		remove:      fileutils.RemoveFile,
		logger:      slog.Default(),
		registerer:  prometheus.NewRegistry(),
	}

	for _, opt := range args {
		opt(&opts)
	}

	if opts.deleteDelay < 0 || opts.retryDelay < 0 {
		return nil, fmt.Errorf("delays must not be negative")
	}

	queueLength := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "map_unpacker_delete_queue_length",
		Help: "Number of map bundles waiting to be deleted.",
	})
	if err := opts.registerer.Register(queueLength); err != nil {
		return nil, fmt.Errorf("failed to register delete queue length gauge: %v", err)
	}

	deletions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "map_unpacker_deletions_total",
		Help: "Number of map bundle deletion attempts, by result.",
	}, []string{"result"})
	if err := opts.registerer.Register(deletions); err != nil {
		return nil, fmt.Errorf("failed to register deletions counter: %v", err)
	}

	return &Queue{
		ctx:         ctx,
		deleteDelay: opts.deleteDelay,
		retryDelay:  opts.retryDelay,
		remove:      opts.remove,
		log:         opts.logger,
		queueLength: queueLength,
		deletions:   deletions,
	}, nil
}

// Enqueue adds path to the queue, starting a drain goroutine if none is running.
func (q *Queue) Enqueue(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, path)
	q.queueLength.Set(float64(len(q.pending)))
	q.log.Debug("Queued file for deletion", "file", path, "pending", len(q.pending))

	if q.state == Draining {
		return
	}
	if q.ctx.Err() != nil {
		q.log.Warn("Delete queue is stopped, file will not be deleted", "file", path)
		return
	}

	q.state = Draining
	q.drainWG.Add(1)
	go q.drain()
}

// State returns the current state of the queue.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Len returns the number of paths waiting to be deleted.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Wait blocks until no drain goroutine is running.
func (q *Queue) Wait() {
	q.drainWG.Wait()
}

func (q *Queue) drain() {
	defer q.drainWG.Done()

	q.log.Debug("Delete queue draining", "delay", q.deleteDelay)
	if !q.sleep(q.deleteDelay) {
		q.stop()
		return
	}

	for {
		path, ok := q.pop()
		if !ok {
			q.log.Debug("Delete queue is empty")
			return
		}

		if err := q.remove(path); err != nil {
			q.deletions.WithLabelValues("failure").Inc()
			q.log.Warn("Error deleting file, retrying later", "file", path, "err", err)

			slept := q.sleep(q.retryDelay)
			q.push(path)
			if !slept {
				q.stop()
				return
			}
			continue
		}

		q.deletions.WithLabelValues("success").Inc()
		q.log.Debug("Deleted file", "file", path)
	}
}

// pop removes the head of the queue. When the queue is empty, it switches to Idle.
func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		q.state = Idle
		return "", false
	}

	path := q.pending[0]
	q.pending = q.pending[1:]
	q.queueLength.Set(float64(len(q.pending)))
	return path, true
}

func (q *Queue) push(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, path)
	q.queueLength.Set(float64(len(q.pending)))
}

// stop switches to Idle after the context was canceled.
func (q *Queue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.state = Idle
	if len(q.pending) > 0 {
		q.log.Warn("Delete queue stopped with files left", "pending", len(q.pending), "files", q.pending)
	}
}

// sleep waits for d. It returns false if the context is done first.
func (q *Queue) sleep(d time.Duration) bool {
	if d == 0 {
		return q.ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-q.ctx.Done():
		return false
	}
}
