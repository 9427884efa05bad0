// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"context"
	"fmt"
	"strings"
)

// Dial opens a transport for endpoint and returns a connection over it.
// The scheme picks the transport:
//
//	/path/to/driver          pipe (default), also pipe:///path/to/driver
//	ws://host:port/path      websocket, wss:// for TLS
//	grpc://host:port         gRPC Connect stream
//
// An empty endpoint starts the driver set with WithDriver. The connection is
// not running yet; call Run.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Connection, error) {
	o := newOptions(opts)

	scheme, target := splitEndpoint(endpoint)
	dial, ok := lookupTransport(scheme)
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", scheme)
	}
	t, err := dial(ctx, target, o)
	if err != nil {
		return nil, err
	}
	return newConnection(t, o), nil
}

// DialChild dials a secondary connection that parent owns: stopping parent
// disposes the child's transport.
func DialChild(ctx context.Context, parent *Connection, endpoint string, opts ...Option) (*Connection, error) {
	child, err := Dial(ctx, endpoint, opts...)
	if err != nil {
		return nil, err
	}
	parent.AdoptChild(child)
	return child, nil
}

// splitEndpoint returns the transport scheme and what its dialer expects:
// the full URL for websockets, host:port for gRPC, a path for pipes.
func splitEndpoint(endpoint string) (string, string) {
	scheme, rest, ok := strings.Cut(endpoint, "://")
	if !ok {
		return DefaultTransport, endpoint
	}
	switch scheme {
	case TransportWebSocket, TransportWSS:
		return scheme, endpoint
	default:
		return scheme, rest
	}
}
