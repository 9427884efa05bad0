// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"context"
	"fmt"
	"sync"
)

// Listener receives the decoded params of one event.
type Listener func(params map[string]any)

type listenerEntry struct {
	id   uint64
	fn   Listener
	once bool
}

// Channel sends requests to one remote object and fans its events out to
// local listeners. Its lifetime is that of its owning proxy.
type Channel struct {
	conn   *Connection
	guid   string
	object Object

	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]*listenerEntry
}

func newChannel(conn *Connection, guid string) *Channel {
	return &Channel{
		conn:      conn,
		guid:      guid,
		listeners: make(map[string][]*listenerEntry),
	}
}

func (c *Channel) GUID() string { return c.guid }

// Object returns the proxy this channel belongs to.
func (c *Channel) Object() Object { return c.object }

// Send calls method and returns the single value of the result mapping,
// or nil when the result is empty.
func (c *Channel) Send(ctx context.Context, method string, params map[string]any) (any, error) {
	return c.innerSend(ctx, method, params, false)
}

// SendReturnAsDict calls method and returns the whole result mapping.
func (c *Channel) SendReturnAsDict(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	result, err := c.innerSend(ctx, method, params, true)
	if err != nil || result == nil {
		return nil, err
	}
	return result.(map[string]any), nil
}

// SendNoReply writes the request and does not wait for the response.
func (c *Channel) SendNoReply(ctx context.Context, method string, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	_, err := c.conn.sendMessageToServer(ctx, c.guid, method, params)
	return err
}

func (c *Channel) innerSend(ctx context.Context, method string, params map[string]any, returnAsDict bool) (any, error) {
	if params == nil {
		params = map[string]any{}
	}
	cb, err := c.conn.sendMessageToServer(ctx, c.guid, method, params)
	if err != nil {
		return nil, err
	}
	result, err := c.conn.waitForResult(ctx, cb)
	if err != nil {
		return nil, err
	}
	return shapeResult(cb, result, returnAsDict)
}

// shapeResult unwraps the named return value. The protocol wraps every
// result in a mapping; unless the caller asks for the mapping, exactly one
// key is expected.
func shapeResult(cb *protocolCallback, result any, returnAsDict bool) (any, error) {
	if result == nil {
		return nil, nil
	}
	m, ok := result.(map[string]any)
	if !ok {
		return nil, &ProtocolError{Op: cb.method, ID: cb.id, Err: fmt.Errorf("%w: result is %T, want mapping", ErrAmbiguousResult, result)}
	}
	if len(m) == 0 {
		return nil, nil
	}
	if returnAsDict {
		return m, nil
	}
	if len(m) != 1 {
		return nil, &ProtocolError{Op: cb.method, ID: cb.id, Err: fmt.Errorf("%w: %d keys", ErrAmbiguousResult, len(m))}
	}
	for _, v := range m {
		return v, nil
	}
	return nil, nil
}

// On registers fn for events named method. Listeners run in registration
// order. The returned func removes the listener.
func (c *Channel) On(method string, fn Listener) func() {
	return c.addListener(method, fn, false)
}

// Once is On for a single delivery.
func (c *Channel) Once(method string, fn Listener) func() {
	return c.addListener(method, fn, true)
}

func (c *Channel) addListener(method string, fn Listener, once bool) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[method] = append(c.listeners[method], &listenerEntry{id: id, fn: fn, once: once})
	return func() { c.removeListener(method, id) }
}

func (c *Channel) removeListener(method string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.listeners[method]
	for i, e := range entries {
		if e.id == id {
			c.listeners[method] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(c.listeners[method]) == 0 {
		delete(c.listeners, method)
	}
}

// ListenerCount returns the number of listeners registered for method.
func (c *Channel) ListenerCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners[method])
}

// snapshot returns the listeners for one delivery and drops the Once ones.
func (c *Channel) snapshot(method string) []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.listeners[method]
	if len(entries) == 0 {
		return nil
	}
	out := make([]Listener, 0, len(entries))
	kept := entries[:0:0]
	for _, e := range entries {
		out = append(out, e.fn)
		if !e.once {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(c.listeners, method)
	} else {
		c.listeners[method] = kept
	}
	return out
}
