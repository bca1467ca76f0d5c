// Package util holds small concurrency helpers shared by the image pipeline.
package util

import (
	"context"
	"errors"
	"sync"
)

// ErrGateClosed is returned by Enter once the gate has been stopped.
var ErrGateClosed = errors.New("gate closed")

// A Gate limits concurrency. Every gate has a maximum number of goroutines
// to allow through at a time. Goroutines enter the gate by calling Enter(),
// and signal that they are done by calling Leave().
type Gate struct {
	slots chan struct{}
	stop  chan struct{}
	once  sync.Once
}

// NewGate returns a Gate which accepts at most n entries at a time. If n is
// not positive the gate admits one goroutine at a time.
func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{
		slots: make(chan struct{}, n),
		stop:  make(chan struct{}),
	}
}

// Enter blocks until there are fewer than n goroutines inside. It returns the
// context's error if ctx is done first, or ErrGateClosed if the gate is
// stopped while waiting. Only a nil return must be balanced by Leave.
func (g *Gate) Enter(ctx context.Context) error {
	select {
	case <-g.stop:
		return ErrGateClosed
	default:
	}
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-g.stop:
		return ErrGateClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave marks a goroutine outside the critical section. Enter and Leave do
// not need to be called from the same goroutine.
func (g *Gate) Leave() {
	<-g.slots
}

// Stop makes every waiting and future Enter fail. Goroutines already inside
// the gate are not affected.
func (g *Gate) Stop() {
	g.once.Do(func() { close(g.stop) })
}
