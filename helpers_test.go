// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testTimeout = 5 * time.Second

type inbound struct {
	msg  *Message
	done chan struct{}
}

// fakeTransport is an in-memory driver end. Messages handed to deliver are
// dispatched on the Run goroutine, like a real transport's read loop.
type fakeTransport struct {
	transportBase

	mu      sync.Mutex
	sent    []*Request
	sendErr error
	sentCh  chan *Request
	inbox   chan inbound

	disposed atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		transportBase: newTransportBase(),
		sentCh:        make(chan *Request, 256),
		inbox:         make(chan inbound),
	}
}

func (f *fakeTransport) Send(req *Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, req)
	f.sentCh <- req
	return nil
}

func (f *fakeTransport) Run(ctx context.Context, ready func()) error {
	ready()
	for {
		select {
		case in := <-f.inbox:
			f.emit(in.msg)
			close(in.done)
		case <-f.stopping:
			return f.finish(nil)
		case <-f.errored:
			return f.finish(f.Err())
		case <-ctx.Done():
			f.requestStop()
		}
	}
}

func (f *fakeTransport) RequestStop() { f.requestStop() }

func (f *fakeTransport) Dispose() error {
	f.disposed.Store(true)
	f.requestStop()
	return nil
}

func (f *fakeTransport) requests() []*Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Request, len(f.sent))
	copy(out, f.sent)
	return out
}

// deliver hands msg to the connection and waits until it is dispatched.
func (f *fakeTransport) deliver(t *testing.T, msg *Message) {
	t.Helper()
	done := make(chan struct{})
	select {
	case f.inbox <- inbound{msg: msg, done: done}:
	case <-time.After(testTimeout):
		t.Fatalf("deliver %+v: transport not running", msg)
	}
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatalf("deliver %+v: dispatch did not return", msg)
	}
}

func (f *fakeTransport) nextRequest(t *testing.T) *Request {
	t.Helper()
	select {
	case req := <-f.sentCh:
		return req
	case <-time.After(testTimeout):
		t.Fatal("no request sent")
		return nil
	}
}

func (f *fakeTransport) create(t *testing.T, parent, typ, guid string, initializer map[string]any) {
	t.Helper()
	f.deliver(t, &Message{
		GUID:   parent,
		Method: methodCreate,
		Params: map[string]any{"type": typ, "guid": guid, "initializer": initializer},
	})
}

func (f *fakeTransport) dispose(t *testing.T, guid string) {
	t.Helper()
	f.deliver(t, &Message{GUID: guid, Method: methodDispose})
}

func (f *fakeTransport) event(t *testing.T, guid, method string, params map[string]any) {
	t.Helper()
	f.deliver(t, &Message{GUID: guid, Method: method, Params: params})
}

type runMode int

const (
	runDirect runMode = iota
	runSync
)

// startConn runs a connection over a fake transport until the test ends.
func startConn(t *testing.T, mode runMode, opts ...Option) (*Connection, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	conn := NewConnection(ft, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		if mode == runSync {
			errc <- conn.RunAsSync(ctx)
			return
		}
		errc <- conn.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errc:
		case <-time.After(testTimeout):
			t.Error("connection did not stop")
		}
	})

	select {
	case <-conn.Ready():
	case <-time.After(testTimeout):
		t.Fatal("connection not ready")
	}
	return conn, ft
}

// newIdleConn returns a connection with a root object that is not running,
// for tests that drive the dispatcher directly.
func newIdleConn(t *testing.T, opts ...Option) *Connection {
	t.Helper()
	conn := NewConnection(newFakeTransport(), opts...)
	root := newRootChannelOwner(conn)
	if err := conn.objects.register(root, "", false); err != nil {
		t.Fatalf("register root: %v", err)
	}
	conn.root.Store(root)
	conn.delivery = directDelivery{invoke: conn.invokeListener}
	return conn
}

type callResult struct {
	value any
	err   error
}

func goSend(ctx context.Context, ch *Channel, method string, params map[string]any) <-chan callResult {
	out := make(chan callResult, 1)
	go func() {
		v, err := ch.Send(ctx, method, params)
		out <- callResult{value: v, err: err}
	}()
	return out
}

func awaitResult(t *testing.T, results <-chan callResult) callResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(testTimeout):
		t.Fatal("call did not complete")
		return callResult{}
	}
}

// syncBuffer is a log sink safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
