// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"context"
	"sync"
)

// Transport schemes understood by Dial.
const (
	TransportPipe      = "pipe" // Driver child process over stdio, default
	TransportWebSocket = "ws"   // Remote driver over websocket
	TransportWSS       = "wss"  // Same, over TLS
	TransportGRPC      = "grpc" // Driver stream over a gRPC bidi call
)

// DefaultTransport is used for endpoints without a scheme.
const DefaultTransport = TransportPipe

type dialFunc func(ctx context.Context, endpoint string, o *options) (Transport, error)

var (
	transportsMu sync.RWMutex
	transports   = map[string]dialFunc{
		TransportPipe:      dialPipe,
		TransportWebSocket: dialWebSocket,
		TransportWSS:       dialWebSocket,
		TransportGRPC:      dialGRPC,
	}
)

// registerTransport adds or replaces the transport for a scheme.
func registerTransport(scheme string, dial dialFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[scheme] = dial
}

func lookupTransport(scheme string) (dialFunc, bool) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	dial, ok := transports[scheme]
	return dial, ok
}

// AvailableTransports returns list of available transport types
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	return result
}

// HasTransport checks if a transport is available
func HasTransport(name string) bool {
	_, ok := lookupTransport(name)
	return ok
}

// transportBase carries the message callback and the error and stop
// signals every transport needs.
type transportBase struct {
	handlerMu sync.RWMutex
	handler   func(*Message)

	errMu   sync.Mutex
	err     error
	errored chan struct{}

	stopOnce    sync.Once
	stopping    chan struct{}
	stoppedOnce sync.Once
	stopped     chan struct{}
}

func newTransportBase() transportBase {
	return transportBase{
		errored:  make(chan struct{}),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (b *transportBase) SetMessageHandler(h func(*Message)) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.handler = h
}

func (b *transportBase) emit(msg *Message) {
	b.handlerMu.RLock()
	h := b.handler
	b.handlerMu.RUnlock()
	if h != nil {
		h(msg)
	}
}

// fail records the first fatal error and closes Errored.
func (b *transportBase) fail(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.err != nil {
		return
	}
	if err == nil {
		err = ErrTransportClosed
	}
	b.err = err
	close(b.errored)
}

func (b *transportBase) Errored() <-chan struct{} { return b.errored }

func (b *transportBase) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

func (b *transportBase) requestStop() {
	b.stopOnce.Do(func() { close(b.stopping) })
}

func (b *transportBase) stopRequested() bool {
	select {
	case <-b.stopping:
		return true
	default:
		return false
	}
}

func (b *transportBase) markStopped() {
	b.stoppedOnce.Do(func() { close(b.stopped) })
}

func (b *transportBase) WaitUntilStopped(ctx context.Context) error {
	select {
	case <-b.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish ends a Run: a stop that was asked for is not an error, anything
// else is fatal.
func (b *transportBase) finish(err error) error {
	defer b.markStopped()
	if b.stopRequested() {
		// Callers still waiting on a response must not hang.
		b.fail(ErrTransportClosed)
		return nil
	}
	b.fail(err)
	return b.Err()
}
