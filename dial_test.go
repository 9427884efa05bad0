// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		scheme   string
		target   string
	}{
		{endpoint: "/usr/lib/driver/cli", scheme: TransportPipe, target: "/usr/lib/driver/cli"},
		{endpoint: "", scheme: TransportPipe, target: ""},
		{endpoint: "pipe:///usr/lib/driver/cli", scheme: TransportPipe, target: "/usr/lib/driver/cli"},
		{endpoint: "ws://localhost:3000/driver", scheme: TransportWebSocket, target: "ws://localhost:3000/driver"},
		{endpoint: "wss://example.com/driver", scheme: TransportWSS, target: "wss://example.com/driver"},
		{endpoint: "grpc://localhost:4000", scheme: TransportGRPC, target: "localhost:4000"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			scheme, target := splitEndpoint(tt.endpoint)
			require.Equal(t, tt.scheme, scheme)
			require.Equal(t, tt.target, target)
		})
	}
}

func TestTransportRegistry(t *testing.T) {
	for _, name := range []string{TransportPipe, TransportWebSocket, TransportWSS, TransportGRPC} {
		require.True(t, HasTransport(name), name)
	}
	require.False(t, HasTransport("carrier-pigeon"))
	require.Subset(t, AvailableTransports(), []string{TransportPipe, TransportGRPC})
}

func TestDialRegisteredTransport(t *testing.T) {
	var gotTarget string
	var fake *fakeTransport
	registerTransport("fake", func(_ context.Context, target string, o *options) (Transport, error) {
		gotTarget = target
		require.Equal(t, "go", o.language)
		fake = newFakeTransport()
		return fake, nil
	})

	parent, err := Dial(context.Background(), "fake://driver-1", WithLanguage("go"))
	require.NoError(t, err)
	require.Equal(t, "driver-1", gotTarget)
	require.Same(t, fake, parent.transport)

	child, err := DialChild(context.Background(), parent, "fake://driver-2")
	require.NoError(t, err)
	require.Equal(t, "driver-2", gotTarget)
	childTransport := fake

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- parent.Run(ctx) }()
	<-parent.Ready()

	require.NoError(t, parent.Stop(ctx))
	require.NoError(t, <-errc)
	require.True(t, childTransport.disposed.Load())
	require.NotSame(t, parent, child)
}

func TestDialUnknownScheme(t *testing.T) {
	_, err := Dial(context.Background(), "smoke://signal")
	require.ErrorContains(t, err, "unknown transport: smoke")
}

func TestDialPipeWithoutDriver(t *testing.T) {
	_, err := Dial(context.Background(), "")
	require.ErrorContains(t, err, "no driver path")
}
