// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package driverconn is the client side of a driver connection: a single
// bidirectional message stream over which a local program drives a graph
// of objects that live in a driver process.
//
// # Object Graph
//
// The driver announces objects with __create__ and retires them with
// __dispose__. Each object is mirrored locally by a proxy embedding
// *ChannelOwner and is owned by a parent; disposing an object disposes its
// whole subtree. The root object has the empty guid and exists from Run
// until Stop.
//
// Handles travel on the wire as {"guid": "..."}. Outbound payloads have
// channels and proxies replaced by handles; inbound payloads have handles
// of live objects replaced by their *Channel.
//
// # Transport Selection
//
// Dial picks a transport by endpoint scheme:
//
//	/path/to/driver      driver child process, length-prefixed frames on stdio (default)
//	ws://host/path       remote driver over websocket, wss:// for TLS
//	grpc://host:port     remote driver over a gRPC bidi stream, JSON encoded
//
// # Usage
//
//	conn, err := driverconn.Dial(ctx, "/usr/lib/driver/cli", driverconn.WithDelivery(driverconn.DeliveryQueued))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go conn.Run(ctx)
//	<-conn.Ready()
//
//	top, err := conn.Initialize(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	off := top.Owner().Channel().On("console", func(params map[string]any) {
//	    fmt.Println(params["text"])
//	})
//	defer off()
//
//	v, err := top.Owner().Channel().Send(ctx, "version", nil)
//
//	_ = conn.Stop(ctx)
//
// # Architecture
//
//   - connection.go: lifecycle, dispatch loop, request/response correlation
//   - channel.go: per-object send and listener facade
//   - registry.go, owner.go: the mirrored object graph
//   - codec.go: handle <-> guid substitution and the frame codec
//   - emitter.go: direct and queued event delivery
//   - transport.go: Transport registry; pipe.go, websocket.go, dial_grpc.go
//   - config.go, log.go, metrics.go: TOML config, zerolog, Prometheus
package driverconn
