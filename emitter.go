// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"fmt"
	"strings"
	"sync"
)

// Delivery selects how events reach listeners. Both modes deliver one
// event to all of its listeners, in registration order, before the next
// event, and isolate listener panics.
type Delivery int

const (
	// DeliveryDirect calls listeners on the dispatch goroutine. Listeners
	// must not wait on requests from there: the response would never be
	// dispatched.
	DeliveryDirect Delivery = iota
	// DeliveryQueued hands events to a dedicated goroutine, so listeners may
	// issue requests and wait for them.
	DeliveryQueued
)

func (d Delivery) String() string {
	switch d {
	case DeliveryDirect:
		return "direct"
	case DeliveryQueued:
		return "queued"
	default:
		return fmt.Sprintf("Delivery(%d)", int(d))
	}
}

// ParseDelivery is the inverse of Delivery.String.
func ParseDelivery(s string) (Delivery, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct":
		return DeliveryDirect, nil
	case "queued":
		return DeliveryQueued, nil
	}
	return DeliveryDirect, fmt.Errorf("unknown delivery %q", s)
}

// event is one dispatched notification with its listener snapshot.
type event struct {
	channel   *Channel
	method    string
	params    map[string]any
	listeners []Listener
}

type deliverer interface {
	deliver(ev event)
	close()
}

// directDelivery runs listeners inline.
type directDelivery struct {
	invoke func(ev event, fn Listener)
}

func (d directDelivery) deliver(ev event) {
	for _, fn := range ev.listeners {
		d.invoke(ev, fn)
	}
}

func (directDelivery) close() {}

// queuedDelivery runs listeners on one worker goroutine fed by an
// unbounded FIFO, so dispatch never blocks on a listener.
type queuedDelivery struct {
	invoke func(ev event, fn Listener)

	mu     sync.Mutex
	queue  []event
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newQueuedDelivery(invoke func(ev event, fn Listener)) *queuedDelivery {
	q := &queuedDelivery{
		invoke: invoke,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *queuedDelivery) deliver(ev event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, ev)
	q.mu.Unlock()
	q.signal()
}

func (q *queuedDelivery) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queuedDelivery) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.queue
		q.queue = nil
		closed := q.closed
		q.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-q.wake
			continue
		}
		for _, ev := range batch {
			for _, fn := range ev.listeners {
				q.invoke(ev, fn)
			}
		}
	}
}

// close stops accepting events. Queued events are still delivered; close
// does not wait for them, since a listener may be the one closing.
func (q *queuedDelivery) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}
