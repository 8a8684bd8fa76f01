package sequencer

import (
	"sync"
	"time"
)

// TickSource delivers the periodic ticks that drive a Scheduler.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

type tickerSource struct{ t *time.Ticker }

func (s tickerSource) C() <-chan time.Time { return s.t.C }
func (s tickerSource) Stop()               { s.t.Stop() }

// NewTicker returns a TickSource backed by time.Ticker.
func NewTicker(interval time.Duration) TickSource {
	return tickerSource{t: time.NewTicker(interval)}
}

// repeater calls fn on every tick of its source until fn returns false or
// Cancel is called.
type repeater struct {
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func startRepeater(src TickSource, fn func() bool) *repeater {
	r := &repeater{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		defer src.Stop()
		for {
			select {
			case <-r.quit:
				return
			case <-src.C():
				// a tick that raced with Cancel is dropped
				select {
				case <-r.quit:
					return
				default:
				}
				if !fn() {
					return
				}
			}
		}
	}()
	return r
}

// Cancel stops the loop and returns once the loop goroutine has exited, so
// no call to fn starts after Cancel returns. It must not be called from fn.
func (r *repeater) Cancel() {
	r.once.Do(func() { close(r.quit) })
	<-r.done
}
