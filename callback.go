// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import "sync"

// protocolCallback is the pending slot of one in-flight request.
type protocolCallback struct {
	id     int
	method string
	// frames is the issuing stack, outermost first.
	frames []StackFrame
	done   chan struct{}

	mu        sync.Mutex
	settled   bool
	cancelled bool
	result    any
	err       error
}

func newProtocolCallback(id int, method string, frames []StackFrame) *protocolCallback {
	return &protocolCallback{
		id:     id,
		method: method,
		frames: frames,
		done:   make(chan struct{}),
	}
}

// settle fulfills or rejects the slot. It reports false when the slot was
// already settled or the caller gave up on it.
func (cb *protocolCallback) settle(result any, err error) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.settled || cb.cancelled {
		return false
	}
	cb.settled = true
	cb.result, cb.err = result, err
	close(cb.done)
	return true
}

// cancel abandons an unsettled slot. It reports false if the slot had
// settled first, in which case its outcome stands.
func (cb *protocolCallback) cancel() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.settled {
		return false
	}
	cb.cancelled = true
	return true
}

func (cb *protocolCallback) isCancelled() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.cancelled
}

func (cb *protocolCallback) outcome() (any, error, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.result, cb.err, cb.settled
}

// callbackTable correlates request ids with their pending slots.
type callbackTable struct {
	mu      sync.Mutex
	lastID  int
	pending map[int]*protocolCallback
}

func newCallbackTable() *callbackTable {
	return &callbackTable{pending: make(map[int]*protocolCallback)}
}

// add allocates the next id and stores a slot for it.
func (t *callbackTable) add(method string, frames []StackFrame) *protocolCallback {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastID++
	cb := newProtocolCallback(t.lastID, method, frames)
	t.pending[cb.id] = cb
	return cb
}

func (t *callbackTable) pop(id int) (*protocolCallback, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return cb, ok
}

func (t *callbackTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
