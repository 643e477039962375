package httpbridge

import (
	"context"
	"errors"
	"sync"
	"time"
)

// frameBatcher coalesces WRITE calls into flush cycles, since
// gorilla/websocket allows only one concurrent writer per connection.
// Specialized from the teacher's generic microbatch.Batcher[Job any] down to
// the one job type httpbridge ever submits ([]byte frames) and the one
// processor every connDriver uses (conn.WriteMessage in submission order);
// the MaxConcurrency knob and the Shutdown/Close split are dropped as unused
// configurability, but the maxConcurrency=1 serialization semaphore that
// keeps flushes off each other's toes is kept verbatim, since that's the
// actual correctness property this type exists for.
type frameBatcher struct {
	flush         func(context.Context, [][]byte) error
	maxSize       int
	flushInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []frameJob
	timer   *time.Timer

	running  chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

type frameJob struct {
	buf    []byte
	result *frameResult
}

// frameResult is returned by submit and resolves once the frame's batch has
// been flushed (or the batcher shut down first).
type frameResult struct {
	done chan struct{}
	err  error
}

func (r *frameResult) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newFrameBatcher starts a batcher that flushes whenever maxSize frames have
// queued or flushInterval has elapsed since the first frame in a batch,
// whichever comes first.
func newFrameBatcher(maxSize int, flushInterval time.Duration, flush func(context.Context, [][]byte) error) *frameBatcher {
	ctx, cancel := context.WithCancel(context.Background())
	b := &frameBatcher{
		flush:         flush,
		maxSize:       maxSize,
		flushInterval: flushInterval,
		ctx:           ctx,
		cancel:        cancel,
		running:       make(chan struct{}, 1),
		stopped:       make(chan struct{}),
	}
	return b
}

// submit enqueues buf for the next flush and returns a frameResult the
// caller waits on for that flush's outcome.
func (b *frameBatcher) submit(ctx context.Context, buf []byte) (*frameResult, error) {
	select {
	case <-b.stopped:
		return nil, errors.New("httpbridge: frameBatcher closed")
	default:
	}

	result := &frameResult{done: make(chan struct{})}

	b.mu.Lock()
	b.pending = append(b.pending, frameJob{buf: buf, result: result})
	flushNow := len(b.pending) >= b.maxSize
	if len(b.pending) == 1 && !flushNow {
		b.timer = time.AfterFunc(b.flushInterval, b.flushDue)
	}
	b.mu.Unlock()

	if flushNow {
		b.flushDue()
	}

	return result, nil
}

// flushDue drains whatever is pending and runs it through flush, serialized
// by running so at most one flush ever touches the underlying connection at
// a time; a flush already in flight leaves the newly queued frames for that
// flush's trailing check to pick up.
func (b *frameBatcher) flushDue() {
	select {
	case b.running <- struct{}{}:
	default:
		return
	}
	defer func() { <-b.running }()

	for {
		b.mu.Lock()
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		batch := b.pending
		b.pending = nil
		b.mu.Unlock()

		if len(batch) == 0 {
			return
		}

		jobs := make([][]byte, len(batch))
		for i, j := range batch {
			jobs[i] = j.buf
		}
		err := b.flush(b.ctx, jobs)
		for _, j := range batch {
			j.result.err = err
			close(j.result.done)
		}
	}
}

// close stops the batcher, failing any frame still pending.
func (b *frameBatcher) close() error {
	b.stopOnce.Do(func() {
		close(b.stopped)
		b.cancel()

		b.mu.Lock()
		if b.timer != nil {
			b.timer.Stop()
		}
		batch := b.pending
		b.pending = nil
		b.mu.Unlock()

		for _, j := range batch {
			j.result.err = errors.New("httpbridge: frameBatcher closed")
			close(j.result.done)
		}
	})
	return nil
}
