// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// GRPCConnectMethod is the bidi streaming method a gRPC driver serves. Each
// stream message is one protocol message, JSON encoded.
const GRPCConnectMethod = "/driverconn.Driver/Connect"

var grpcStreamDesc = &grpc.StreamDesc{
	StreamName:    "Connect",
	ServerStreams: true,
	ClientStreams: true,
}

// GRPCCodec carries protocol messages over gRPC without generated protos.
type GRPCCodec struct{}

func (GRPCCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (GRPCCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (GRPCCodec) Name() string {
	return "json"
}

func init() {
	encoding.RegisterCodec(GRPCCodec{})
}

// GRPCTransport runs the message stream over one gRPC bidi call.
type GRPCTransport struct {
	transportBase

	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	sendMu sync.Mutex
	log    zerolog.Logger
}

// DialGRPC opens the Connect stream on target. Extra dial options come
// from WithGRPCDialOptions.
func DialGRPC(ctx context.Context, target string, opts ...Option) (*GRPCTransport, error) {
	t, err := dialGRPC(ctx, target, newOptions(opts))
	if err != nil {
		return nil, err
	}
	return t.(*GRPCTransport), nil
}

func dialGRPC(ctx context.Context, target string, o *options) (Transport, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(GRPCCodec{}),
			grpc.MaxCallRecvMsgSize(o.maxMessageSize),
		),
	}, o.grpcDialOptions...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}

	// The stream outlives ctx, which only bounds the dial.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	stream, err := conn.NewStream(streamCtx, grpcStreamDesc, GRPCConnectMethod)
	stop()
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("grpc connect stream: %w", err)
	}
	o.logger.Debug().Str("target", target).Msg("grpc stream open")

	return &GRPCTransport{
		transportBase: newTransportBase(),
		conn:          conn,
		stream:        stream,
		cancel:        cancel,
		log:           o.logger,
	}, nil
}

func (g *GRPCTransport) Send(req *Request) error {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	if err := g.stream.SendMsg(req); err != nil {
		return fmt.Errorf("grpc send: %w", err)
	}
	return nil
}

func (g *GRPCTransport) Run(ctx context.Context, ready func()) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			g.RequestStop()
		case <-done:
		}
	}()

	ready()
	return g.finish(g.readLoop())
}

func (g *GRPCTransport) readLoop() error {
	for {
		msg := new(Message)
		if err := g.stream.RecvMsg(msg); err != nil {
			if g.stopRequested() {
				return nil
			}
			if errors.Is(err, io.EOF) {
				g.log.Debug().Msg("grpc stream closed by driver")
				g.requestStop()
				return nil
			}
			return fmt.Errorf("grpc recv: %w", err)
		}
		g.emit(msg)
	}
}

// RequestStop half-closes the stream and cancels it.
func (g *GRPCTransport) RequestStop() {
	g.requestStop()
	g.sendMu.Lock()
	_ = g.stream.CloseSend()
	g.sendMu.Unlock()
	g.cancel()
}

func (g *GRPCTransport) Dispose() error {
	g.requestStop()
	g.cancel()
	return g.conn.Close()
}
