package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Handle controls a running poll loop.
type Handle struct {
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	stopped  atomic.Bool
}

// Stop asks the loop to exit. A cycle already in flight runs to completion.
// Stop is safe to call more than once.
func (h *Handle) Stop() {
	h.once.Do(func() {
		h.stopped.Store(true)
		close(h.stop)
	})
}

// stopping reports whether Stop was called.
func (h *Handle) stopping() bool {
	return h.stopped.Load()
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Interval returns the pause between cycles.
func (h *Handle) Interval() time.Duration {
	return h.interval
}

// Start launches the poll loop. The first cycle runs immediately; later
// cycles run interval after the previous one finished. The loop exits when
// the handle is stopped or ctx is cancelled, but only between cycles: a
// cycle that has started runs to completion with ctx's values and without
// its cancellation.
func (p *Poller) Start(ctx context.Context, interval time.Duration) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h := p.handle; h != nil {
		if h.stopping() {
			return nil, ErrStopping
		}
		return nil, ErrAlreadyRunning
	}

	h := &Handle{
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.handle = h
	p.metrics.PollerRunning.Set(1)
	p.logger.Info("feed poller started", "interval", interval)

	go p.run(ctx, h)
	return h, nil
}

// Stop signals the running loop to exit without waiting for it. Until the
// loop has exited, Status reports it as stopping and Start returns
// ErrStopping.
func (p *Poller) Stop() error {
	p.mu.Lock()
	h := p.handle
	p.mu.Unlock()

	if h == nil || h.stopping() {
		return ErrNotRunning
	}
	h.Stop()
	return nil
}

// Handle returns the running loop's handle, or nil when idle.
func (p *Poller) Handle() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

func (p *Poller) run(ctx context.Context, h *Handle) {
	defer func() {
		p.mu.Lock()
		if p.handle == h {
			p.handle = nil
		}
		p.mu.Unlock()
		p.metrics.PollerRunning.Set(0)
		p.logger.Info("feed poller stopped")
		close(h.done)
	}()

	for {
		select {
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		p.cycle(context.WithoutCancel(ctx))

		select {
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		case <-p.clock.After(h.interval):
		}
	}
}
