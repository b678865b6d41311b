// Package captor implements LogCaptor: the collaborator that turns a
// database's redo/transaction log into ordered TransactionLogLists, one
// stream per job, handed off to the capture streamer through a bounded
// channel.
package captor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ctcproto/ctcpd/internal/capture"
	"github.com/ctcproto/ctcpd/internal/logger"
)

// producerQueueSize is the capacity of a job's pending-transaction channel.
// Sized generously relative to JobCountPerGroupMax so a momentarily slow
// consumer (a dispatcher busy fragmenting a large transaction) doesn't stall
// the producer goroutine immediately.
const producerQueueSize = 64

// defaultPollInterval is how often a PollingSource is asked for new
// transactions when it reports none available.
const defaultPollInterval = 200 * time.Millisecond

// defaultMaxProducers bounds how many producer goroutines (and their
// buffered output channels) a Captor will allocate at once. Each producer
// holds a producerQueueSize-deep channel of *capture.TransactionLogList, so
// this is the resource Captor.Start can genuinely run out of — the analogue
// of the original's CTC_ERR_ALLOC_FAILED path in ctcp_do_start_capture.
const defaultMaxProducers = 4096

// ErrAlreadyCapturing is returned by Captor.Start when a producer is already
// running for the given job.
var ErrAlreadyCapturing = errors.New("captor: job already has a running producer")

// ErrNotCapturing is returned by Captor.Stop when no producer is running for
// the given job.
var ErrNotCapturing = errors.New("captor: job has no running producer")

// ErrResourceExhausted is returned by Captor.Start when the Captor is
// already running its configured maximum number of producers. The caller
// (START_CAPTURE's handler) reports this as RC_FAILED_INSUFFICIENT_SERVER_
// RESOURCE, distinct from the RC_FAILED a register-table allocation failure
// gets — see dispatch.resultCodeForCaptureStartErr.
var ErrResourceExhausted = errors.New("captor: max concurrent producers reached")

// ChangeSource is the pluggable data-change source a Producer polls. A
// concrete CDC backend (logical replication slot, binlog tailer, trigger
// table) implements this once; everything else in this package is generic
// over it.
type ChangeSource interface {
	// Poll returns the next batch of committed transactions visible since
	// the last call, in commit order. An empty slice with a nil error means
	// "nothing new yet" — the caller should wait and retry.
	Poll(ctx context.Context) ([]*capture.TransactionLogList, error)
}

// PollingSource adapts a plain poll function to ChangeSource, for backends
// whose only natural shape is "ask again later".
type PollingSource struct {
	Fn func(ctx context.Context) ([]*capture.TransactionLogList, error)
}

// Poll calls the wrapped function.
func (p PollingSource) Poll(ctx context.Context) ([]*capture.TransactionLogList, error) {
	return p.Fn(ctx)
}

// jobKey identifies a single job's capture stream across a session group.
type jobKey struct {
	sgid    uint32
	jobDesc uint16
}

// producer is the per-job goroutine state: it polls a ChangeSource and
// pushes ordered TransactionLogLists onto out until stopped.
type producer struct {
	key    jobKey
	source ChangeSource
	out    chan *capture.TransactionLogList
	stopCh chan struct{}
	doneCh chan struct{}
}

func newProducer(key jobKey, source ChangeSource) *producer {
	return &producer{
		key:    key,
		source: source,
		out:    make(chan *capture.TransactionLogList, producerQueueSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// run is the producer goroutine's main loop: poll, push, repeat, until
// stopCh closes or ctx is cancelled. A ChangeSource error is logged and
// retried after defaultPollInterval rather than killing the producer —
// a transient backend hiccup shouldn't silently stop a capture job.
func (p *producer) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		lists, err := p.source.Poll(ctx)
		if err != nil {
			logger.Warn("captor: change source poll failed",
				"sgid", p.key.sgid, "job_desc", p.key.jobDesc, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
			}
			continue
		}

		for _, tl := range lists {
			select {
			case p.out <- tl:
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			}
		}

		if len(lists) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
			}
		}
	}
}

func (p *producer) stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
}

// Captor is the concrete LogCaptor: a registry of per-job producers, each
// draining a ChangeSource into its own bounded output channel.
type Captor struct {
	mu           sync.Mutex
	producers    map[jobKey]*producer
	maxProducers int
}

// NewCaptor constructs an empty Captor with the default producer capacity.
func NewCaptor() *Captor {
	return NewCaptorWithCapacity(defaultMaxProducers)
}

// NewCaptorWithCapacity constructs an empty Captor that refuses to start
// more than maxProducers concurrent producers, returning ErrResourceExhausted
// once the limit is reached. maxProducers <= 0 means unbounded.
func NewCaptorWithCapacity(maxProducers int) *Captor {
	return &Captor{
		producers:    make(map[jobKey]*producer),
		maxProducers: maxProducers,
	}
}

// Start begins capturing for (sgid, jobDesc) from source, per §4.6's
// CREATED/PREPARED → RUNNING transition. The caller (the START_CAPTURE
// handler) is responsible for having already verified the job has at least
// one registered table. Fails with ErrResourceExhausted once maxProducers
// concurrent producers are already running.
func (c *Captor) Start(ctx context.Context, sgid uint32, jobDesc uint16, source ChangeSource) error {
	key := jobKey{sgid: sgid, jobDesc: jobDesc}

	c.mu.Lock()
	if _, exists := c.producers[key]; exists {
		c.mu.Unlock()
		return ErrAlreadyCapturing
	}
	if c.maxProducers > 0 && len(c.producers) >= c.maxProducers {
		c.mu.Unlock()
		return ErrResourceExhausted
	}
	p := newProducer(key, source)
	c.producers[key] = p
	c.mu.Unlock()

	go p.run(ctx)
	logger.Debug("captor: capture started", "sgid", sgid, "job_desc", jobDesc)
	return nil
}

// Stop halts the producer for (sgid, jobDesc) and removes it from the
// registry. Any TransactionLogLists already queued on its output channel
// remain there until Drain consumes them — stopping capture does not
// discard data already captured, matching STOP_AFTER_TRANS semantics being
// decided by the session layer, not here.
func (c *Captor) Stop(sgid uint32, jobDesc uint16) error {
	key := jobKey{sgid: sgid, jobDesc: jobDesc}

	c.mu.Lock()
	p, exists := c.producers[key]
	if exists {
		delete(c.producers, key)
	}
	c.mu.Unlock()

	if !exists {
		return ErrNotCapturing
	}

	p.stop()
	logger.Debug("captor: capture stopped", "sgid", sgid, "job_desc", jobDesc)
	return nil
}

// Drain returns the output channel a job's TransactionLogLists arrive on,
// or false if the job has no running producer. The dispatcher's capture
// handler selects on this channel (alongside link.recv's timeout) to decide
// when to invoke the streamer.
func (c *Captor) Drain(sgid uint32, jobDesc uint16) (<-chan *capture.TransactionLogList, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.producers[jobKey{sgid: sgid, jobDesc: jobDesc}]
	if !ok {
		return nil, false
	}
	return p.out, true
}

// StopAll stops every running producer, used on server shutdown.
func (c *Captor) StopAll() {
	c.mu.Lock()
	producers := make([]*producer, 0, len(c.producers))
	for _, p := range c.producers {
		producers = append(producers, p)
	}
	c.producers = make(map[jobKey]*producer)
	c.mu.Unlock()

	for _, p := range producers {
		p.stop()
	}
}

// ActiveCount returns how many jobs currently have a running producer, used
// by internal/metrics.
func (c *Captor) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.producers)
}

// FakeSource is a ChangeSource test double that replays a fixed, preloaded
// sequence of transactions, then reports "nothing new" forever. Tests
// construct one directly and push onto Queued before starting capture.
type FakeSource struct {
	mu     sync.Mutex
	Queued []*capture.TransactionLogList
}

// Poll returns and clears whatever is queued on the first call; subsequent
// calls return an empty slice. This matches how a real log reader behaves
// once it has caught up to the tail of the log.
func (f *FakeSource) Poll(_ context.Context) ([]*capture.TransactionLogList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Queued) == 0 {
		return nil, nil
	}
	out := f.Queued
	f.Queued = nil
	return out, nil
}

// Push appends transactions to the queue a running Producer will pick up on
// its next poll.
func (f *FakeSource) Push(lists ...*capture.TransactionLogList) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queued = append(f.Queued, lists...)
}
