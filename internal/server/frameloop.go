package server

import (
	"context"
	"sync"
	"time"
)

type frameStepper interface {
	stepFrame(ctx context.Context, delta time.Duration) error
}

type tickerFactory func(time.Duration) (<-chan time.Time, func())

type timeSource func() time.Time

// frameLoop drives a frameStepper once per tick. A step error stops the loop;
// frames never overlap because each step runs on the loop goroutine.
type frameLoop struct {
	target    frameStepper
	tick      time.Duration
	wg        sync.WaitGroup
	newTicker tickerFactory
	now       timeSource

	mu  sync.Mutex
	err error
}

func defaultTickerFactory() tickerFactory {
	return func(d time.Duration) (<-chan time.Time, func()) {
		ticker := time.NewTicker(d)
		return ticker.C, ticker.Stop
	}
}

func newFrameLoop(target frameStepper, tick time.Duration) *frameLoop {
	if tick <= 0 {
		tick = 33 * time.Millisecond
	}
	return &frameLoop{
		target:    target,
		tick:      tick,
		newTicker: defaultTickerFactory(),
		now:       time.Now,
	}
}

// Start runs the loop until ctx is done or a step fails. onStop, if set, is
// called once when the loop exits because of a step error.
func (f *frameLoop) Start(ctx context.Context, onStop func(error)) {
	if f == nil || f.target == nil {
		return
	}
	f.wg.Add(1)
	go f.run(ctx, onStop)
}

func (f *frameLoop) run(ctx context.Context, onStop func(error)) {
	defer f.wg.Done()
	if f.newTicker == nil {
		f.newTicker = defaultTickerFactory()
	}
	if f.now == nil {
		f.now = time.Now
	}

	tickerC, stop := f.newTicker(f.tick)
	defer stop()

	last := f.now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tickerC:
			delta := now.Sub(last)
			if delta <= 0 {
				delta = f.tick
			} else if delta > 10*f.tick {
				delta = f.tick
			}
			last = now
			if err := f.target.stepFrame(ctx, delta); err != nil {
				f.mu.Lock()
				f.err = err
				f.mu.Unlock()
				if onStop != nil {
					onStop(err)
				}
				return
			}
		}
	}
}

// Wait blocks until the loop exits and returns the step error that stopped
// it, if any.
func (f *frameLoop) Wait() error {
	if f == nil {
		return nil
	}
	f.wg.Wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
