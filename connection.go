// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Connection mirrors the driver's object graph over one transport and
// correlates requests with responses.
//
// Inbound messages are dispatched one at a time on the transport's receive
// goroutine, which is the only writer of the object registry.
type Connection struct {
	id        string
	transport Transport
	opts      *options
	log       zerolog.Logger
	metrics   *Metrics
	boundary  stackBoundary

	objects   *registry
	callbacks *callbackTable
	// sendMu keeps ids in wire order.
	sendMu sync.Mutex

	waitingMu        sync.Mutex
	waitingForObject map[string]func(Object)

	running  atomic.Bool
	root     atomic.Pointer[ChannelOwner]
	delivery deliverer
	ready    chan struct{}
	readyOne sync.Once

	childMu  sync.Mutex
	children []*Connection
}

// NewConnection binds a connection to t. Nothing is exchanged until Run.
func NewConnection(t Transport, opts ...Option) *Connection {
	return newConnection(t, newOptions(opts))
}

func newConnection(t Transport, o *options) *Connection {
	id := uuid.NewString()
	c := &Connection{
		id:               id,
		transport:        t,
		opts:             o,
		log:              o.logger.With().Str("conn", id).Logger(),
		metrics:          o.metrics,
		boundary:         newStackBoundary(o.boundaries),
		objects:          newRegistry(),
		callbacks:        newCallbackTable(),
		waitingForObject: make(map[string]func(Object)),
		ready:            make(chan struct{}),
	}
	t.SetMessageHandler(c.onMessage)
	return c
}

// ID identifies the connection in logs.
func (c *Connection) ID() string { return c.id }

// Root returns the root object, or nil before Run.
func (c *Connection) Root() *ChannelOwner { return c.root.Load() }

// Ready is closed once the transport is live.
func (c *Connection) Ready() <-chan struct{} { return c.ready }

// Run creates the root object and receives until the transport stops.
func (c *Connection) Run(ctx context.Context) error {
	return c.run(ctx, c.opts.delivery)
}

// RunAsSync is Run with queued delivery, for callers that block inside
// listeners.
func (c *Connection) RunAsSync(ctx context.Context) error {
	return c.run(ctx, DeliveryQueued)
}

func (c *Connection) run(ctx context.Context, d Delivery) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if d == DeliveryQueued {
		c.delivery = newQueuedDelivery(c.invokeListener)
	} else {
		c.delivery = directDelivery{invoke: c.invokeListener}
	}
	root := newRootChannelOwner(c)
	if err := c.objects.register(root, "", false); err != nil {
		return err
	}
	c.root.Store(root)
	c.metrics.objects.Inc()

	c.log.Debug().Str("delivery", d.String()).Msg("connection running")
	err := c.transport.Run(ctx, func() { c.onTransportReady(ctx) })
	c.delivery.close()
	if err != nil {
		c.log.Warn().Err(err).Msg("transport stopped")
		return err
	}
	c.log.Debug().Msg("connection stopped")
	return nil
}

func (c *Connection) onTransportReady(ctx context.Context) {
	c.readyOne.Do(func() {
		close(c.ready)
		if c.opts.onReady != nil {
			go c.opts.onReady(ctx)
		}
	})
}

// Initialize performs the handshake and returns the driver's top-level
// object.
func (c *Connection) Initialize(ctx context.Context) (Object, error) {
	root := c.root.Load()
	if root == nil {
		return nil, ErrNotRunning
	}
	result, err := root.channel.SendReturnAsDict(ctx, methodInitialize, map[string]any{
		"language": c.opts.language,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	ch, ok := result["playwright"].(*Channel)
	if !ok {
		return nil, &ProtocolError{Op: methodInitialize, Err: fmt.Errorf("%w: result has no playwright handle", ErrObjectNotFound)}
	}
	return FromChannel(ch), nil
}

// Stop asks the transport to stop, waits for it, then disposes the
// transports of adopted child connections.
func (c *Connection) Stop(ctx context.Context) error {
	c.transport.RequestStop()
	err := c.transport.WaitUntilStopped(ctx)
	return multierr.Append(err, c.cleanup())
}

// StopAsync is Stop without blocking the caller.
func (c *Connection) StopAsync() <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.Stop(context.Background())
	}()
	return done
}

func (c *Connection) cleanup() error {
	c.childMu.Lock()
	children := c.children
	c.children = nil
	c.childMu.Unlock()

	var err error
	for _, child := range children {
		err = multierr.Append(err, child.transport.Dispose())
	}
	removed := c.objects.reset()
	for _, obj := range removed {
		obj.Owner().disposed.Store(true)
	}
	c.metrics.objects.Sub(float64(len(removed)))
	return err
}

// AdoptChild ties a secondary connection to c. Its transport is disposed
// when c stops.
func (c *Connection) AdoptChild(child *Connection) {
	c.childMu.Lock()
	defer c.childMu.Unlock()
	c.children = append(c.children, child)
}

// CallOnObjectWithKnownName runs fn once the object guid is created.
func (c *Connection) CallOnObjectWithKnownName(guid string, fn func(Object)) {
	c.waitingMu.Lock()
	defer c.waitingMu.Unlock()
	c.waitingForObject[guid] = fn
}

func (c *Connection) takeWaiting(guid string) func(Object) {
	c.waitingMu.Lock()
	defer c.waitingMu.Unlock()
	fn, ok := c.waitingForObject[guid]
	if ok {
		delete(c.waitingForObject, guid)
	}
	return fn
}

// Object returns the live object guid.
func (c *Connection) Object(guid string) (Object, error) {
	obj, ok := c.objects.lookup(guid)
	if !ok {
		return nil, &ProtocolError{Op: "lookup", GUID: guid, Err: ErrObjectNotFound}
	}
	return obj, nil
}

func (c *Connection) sendMessageToServer(ctx context.Context, guid, method string, params map[string]any) (*protocolCallback, error) {
	frames := stackTraceFrom(ctx)
	if frames == nil {
		frames = captureStack(2)
	}
	metadata := Metadata{Stack: serializeCallStack(frames, c.boundary)}
	if name := APIName(ctx); name != "" {
		metadata.APIName = name
	}
	wireParams := replaceChannelsInMap(params)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	// The slot is stored before the write so a fast response always finds it.
	cb := c.callbacks.add(method, frames)
	c.metrics.inflight.Inc()
	req := &Request{
		ID:       cb.id,
		GUID:     guid,
		Method:   method,
		Params:   wireParams,
		Metadata: metadata,
	}
	if err := c.transport.Send(req); err != nil {
		c.callbacks.pop(cb.id)
		c.metrics.inflight.Dec()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	c.metrics.requests.WithLabelValues(method).Inc()
	return cb, nil
}

// waitForResult races the response against the transport dying and ctx.
// A lost race cancels the slot; its late response is then dropped.
func (c *Connection) waitForResult(ctx context.Context, cb *protocolCallback) (any, error) {
	select {
	case <-cb.done:
	case <-c.transport.Errored():
	case <-ctx.Done():
	}
	if result, err, ok := cb.outcome(); ok {
		return result, err
	}
	if !cb.cancel() {
		result, err, _ := cb.outcome()
		return result, err
	}
	select {
	case <-c.transport.Errored():
		return nil, c.transportErr()
	default:
		return nil, ctx.Err()
	}
}

func (c *Connection) transportErr() error {
	err := c.transport.Err()
	if err == nil || errors.Is(err, ErrTransportClosed) {
		return ErrTransportClosed
	}
	return fmt.Errorf("%w: %w", ErrTransportClosed, err)
}

func (c *Connection) onMessage(msg *Message) {
	if err := c.dispatch(msg); err != nil {
		c.metrics.dispatchFailures.Inc()
		c.log.Error().Err(err).
			Int("id", msg.ID).
			Str("guid", msg.GUID).
			Str("method", msg.Method).
			Msg("dispatch failed")
	}
}

// dispatch routes one inbound message. A returned error concerns that
// message only.
func (c *Connection) dispatch(msg *Message) error {
	if msg.IsResponse() {
		return c.resolve(msg)
	}

	switch msg.Method {
	case methodCreate:
		parent, ok := c.objects.lookup(msg.GUID)
		if !ok {
			return &ProtocolError{Op: methodCreate, GUID: msg.GUID, Err: ErrObjectNotFound}
		}
		typ, _ := msg.Params["type"].(string)
		guid, _ := msg.Params["guid"].(string)
		initializer, _ := msg.Params["initializer"].(map[string]any)
		_, err := c.createRemoteObject(parent.Owner(), typ, guid, initializer)
		return err
	case methodDispose:
		return c.disposeObject(msg.GUID)
	}

	obj, ok := c.objects.lookup(msg.GUID)
	if !ok {
		return &ProtocolError{Op: msg.Method, GUID: msg.GUID, Err: ErrObjectNotFound}
	}
	ch := obj.Owner().channel
	c.metrics.events.WithLabelValues(msg.Method).Inc()
	listeners := ch.snapshot(msg.Method)
	if len(listeners) == 0 {
		return nil
	}
	c.delivery.deliver(event{
		channel:   ch,
		method:    msg.Method,
		params:    c.replaceGUIDsInMap(msg.Params),
		listeners: listeners,
	})
	return nil
}

// resolve settles the pending call msg answers. Responses to abandoned
// calls are dropped without a trace.
func (c *Connection) resolve(msg *Message) error {
	cb, ok := c.callbacks.pop(msg.ID)
	if !ok {
		return &ProtocolError{Op: "resolve", ID: msg.ID, Err: ErrUnknownCallback}
	}
	c.metrics.inflight.Dec()
	if cb.isCancelled() {
		c.metrics.responses.WithLabelValues(outcomeCancelled).Inc()
		return nil
	}

	if msg.Error != nil {
		err := c.opts.errorParser(msg.Error.Error)
		var remote *Error
		if errors.As(err, &remote) {
			remote.Trace = formatTrace(cb.frames, traceFrames)
		}
		cb.settle(nil, err)
		c.metrics.responses.WithLabelValues(outcomeError).Inc()
		return nil
	}

	var result any
	if msg.Result != nil {
		result = c.replaceGUIDsWithChannels(msg.Result)
	}
	cb.settle(result, nil)
	c.metrics.responses.WithLabelValues(outcomeOK).Inc()
	return nil
}

func (c *Connection) createRemoteObject(parent *ChannelOwner, typ, guid string, initializer map[string]any) (Object, error) {
	if guid == "" {
		return nil, &ProtocolError{Op: methodCreate, GUID: parent.guid, Err: fmt.Errorf("%w: %s without guid", ErrProtocol, typ)}
	}
	initializer = c.replaceGUIDsInMap(initializer)

	var obj Object
	if c.opts.factory != nil {
		err := c.guard(methodCreate, guid, "object factory", func() {
			obj = c.opts.factory(parent, typ, guid, initializer)
		})
		if err != nil {
			return nil, err
		}
	}
	if obj == nil || obj.Owner() == nil {
		obj = NewChannelOwner(parent, typ, guid, initializer)
	}
	obj.Owner().channel.object = obj

	if err := c.objects.register(obj, parent.guid, true); err != nil {
		return nil, err
	}
	c.metrics.objects.Inc()

	if fn := c.takeWaiting(guid); fn != nil {
		if err := c.guard(methodCreate, guid, "creation callback", func() { fn(obj) }); err != nil {
			return obj, err
		}
	}
	return obj, nil
}

// guard runs fn on the dispatch goroutine, turning a panic into a
// *ProtocolError for the message at hand.
func (c *Connection) guard(op, guid, what string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Debug().Str("guid", guid).Bytes("stack", debug.Stack()).Msgf("%s panicked", what)
			err = &ProtocolError{Op: op, GUID: guid, Err: fmt.Errorf("%s panicked: %v", what, r)}
		}
	}()
	fn()
	return nil
}

func (c *Connection) disposeObject(guid string) error {
	if guid == "" {
		return &ProtocolError{Op: methodDispose, Err: fmt.Errorf("%w: root cannot be disposed", ErrProtocol)}
	}
	removed, err := c.objects.dispose(guid)
	if err != nil {
		return err
	}
	for _, obj := range removed {
		obj.Owner().disposed.Store(true)
	}
	c.metrics.objects.Sub(float64(len(removed)))
	return nil
}

// invokeListener runs one listener, turning a panic into a log entry.
func (c *Connection) invokeListener(ev event, fn Listener) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.listenerFailures.Inc()
			c.log.Error().
				Str("guid", ev.channel.guid).
				Str("method", ev.method).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("error dispatching the event")
		}
	}()
	fn(ev.params)
}
