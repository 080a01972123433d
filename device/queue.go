package device

import (
	"context"
	"sync/atomic"

	"github.com/ardnew/usbcore/device/dcd"
)

// eventQueue is the bounded hand-off between the controller's interrupt
// context and the device task. push never blocks.
type eventQueue struct {
	ch      chan dcd.Event
	dropped atomic.Uint64
}

func newEventQueue(size int) *eventQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &eventQueue{ch: make(chan dcd.Event, size)}
}

// push enqueues a copy of ev. It returns false and counts the event as
// dropped when the queue is full.
func (q *eventQueue) push(ev *dcd.Event) bool {
	select {
	case q.ch <- *ev:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// pop dequeues one event without waiting.
func (q *eventQueue) pop() (dcd.Event, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	default:
		return dcd.Event{}, false
	}
}

// wait dequeues one event, blocking until one arrives or ctx ends.
func (q *eventQueue) wait(ctx context.Context) (dcd.Event, error) {
	select {
	case ev := <-q.ch:
		return ev, nil
	case <-ctx.Done():
		return dcd.Event{}, ctx.Err()
	}
}

func (q *eventQueue) pending() int { return len(q.ch) }

func (q *eventQueue) size() int { return cap(q.ch) }
