// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const wsCloseTimeout = time.Second

// WebSocketTransport talks to a remote driver, one JSON message per text
// frame.
type WebSocketTransport struct {
	transportBase

	conn    *websocket.Conn
	writeMu sync.Mutex
	codec   Codec
	log     zerolog.Logger
}

// DialWebSocket connects to a driver listening at endpoint (ws:// or wss://).
func DialWebSocket(ctx context.Context, endpoint string, opts ...Option) (*WebSocketTransport, error) {
	t, err := dialWebSocket(ctx, endpoint, newOptions(opts))
	if err != nil {
		return nil, err
	}
	return t.(*WebSocketTransport), nil
}

func dialWebSocket(ctx context.Context, endpoint string, o *options) (Transport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, o.headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(int64(o.maxMessageSize))
	o.logger.Debug().Str("endpoint", endpoint).Msg("websocket connected")
	return newWebSocketTransport(conn, o), nil
}

func newWebSocketTransport(conn *websocket.Conn, o *options) *WebSocketTransport {
	return &WebSocketTransport{
		transportBase: newTransportBase(),
		conn:          conn,
		codec:         o.codec,
		log:           o.logger,
	}
}

func (w *WebSocketTransport) Send(req *Request) error {
	data, err := w.codec.Encode(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (w *WebSocketTransport) Run(ctx context.Context, ready func()) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			w.RequestStop()
		case <-done:
		}
	}()

	ready()
	return w.finish(w.readLoop())
}

func (w *WebSocketTransport) readLoop() error {
	for {
		typ, data, err := w.conn.ReadMessage()
		if err != nil {
			if w.stopRequested() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				w.log.Debug().Msg("websocket closed by driver")
				w.requestStop()
				return nil
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		msg := new(Message)
		if err := w.codec.Decode(data, msg); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		w.emit(msg)
	}
}

// RequestStop sends a close frame and closes the socket, which ends Run.
func (w *WebSocketTransport) RequestStop() {
	w.requestStop()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsCloseTimeout))
	_ = w.conn.Close()
}

func (w *WebSocketTransport) Dispose() error {
	w.requestStop()
	if err := w.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
