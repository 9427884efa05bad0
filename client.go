// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// Transport moves whole messages between the connection and the driver.
// The connection imposes no framing; that is the transport's business.
type Transport interface {
	// Send writes one request.
	Send(req *Request) error

	// SetMessageHandler installs the receive callback. Transports call it
	// from a single goroutine, once per inbound message, in arrival order.
	SetMessageHandler(h func(*Message))

	// Run starts receiving and blocks until the transport stops. ready is
	// called once the transport is live.
	Run(ctx context.Context, ready func()) error

	// Errored is closed once the transport can no longer exchange
	// messages; Err then returns the cause.
	Errored() <-chan struct{}
	Err() error

	// RequestStop asks Run to return. WaitUntilStopped blocks until it has.
	RequestStop()
	WaitUntilStopped(ctx context.Context) error

	// Dispose releases the transport's resources without waiting.
	Dispose() error
}

// Codec encodes/decodes frames
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

const (
	defaultLanguage       = "python"
	defaultMaxMessageSize = 64 * 1024 * 1024
)

// Option configures connections and the transports Dial creates for them.
type Option func(*options)

type options struct {
	codec       Codec
	factory     ObjectFactory
	logger      zerolog.Logger
	metrics     *Metrics
	errorParser ErrorParser
	language    string
	boundaries  []string
	delivery    Delivery
	onReady     func(context.Context)

	driverPath      string
	driverArgs      []string
	headers         http.Header
	maxMessageSize  int
	grpcDialOptions []grpc.DialOption
}

func newOptions(opts []Option) *options {
	o := &options{
		codec:          defaultCodec,
		logger:         zerolog.Nop(),
		errorParser:    ParseError,
		language:       defaultLanguage,
		driverArgs:     []string{"run-driver"},
		maxMessageSize: defaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	return o
}

// WithCodec sets the frame codec
func WithCodec(c Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithObjectFactory sets the constructor for remote objects.
func WithObjectFactory(f ObjectFactory) Option {
	return func(o *options) { o.factory = f }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithErrorParser replaces ParseError.
func WithErrorParser(p ErrorParser) Option {
	return func(o *options) { o.errorParser = p }
}

// WithLanguage sets the client identity sent in the initialize request.
func WithLanguage(lang string) Option {
	return func(o *options) { o.language = lang }
}

// WithStackBoundaries adds function-name prefixes whose frames, and every
// frame inside them, are left out of request stacks.
func WithStackBoundaries(prefixes ...string) Option {
	return func(o *options) { o.boundaries = append(o.boundaries, prefixes...) }
}

// WithDelivery picks how events reach listeners.
func WithDelivery(d Delivery) Option {
	return func(o *options) { o.delivery = d }
}

// WithOnReady runs fn on its own goroutine once the transport is live.
func WithOnReady(fn func(context.Context)) Option {
	return func(o *options) { o.onReady = fn }
}

// WithDriver sets the driver executable and its arguments for pipe
// endpoints.
func WithDriver(path string, args ...string) Option {
	return func(o *options) {
		o.driverPath = path
		if len(args) > 0 {
			o.driverArgs = args
		}
	}
}

// WithHeaders sets the websocket handshake headers.
func WithHeaders(h http.Header) Option {
	return func(o *options) { o.headers = h }
}

// WithMaxMessageSize bounds a single inbound message.
func WithMaxMessageSize(n int) Option {
	return func(o *options) { o.maxMessageSize = n }
}

// WithGRPCDialOptions passes extra options to grpc.NewClient.
func WithGRPCDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.grpcDialOptions = append(o.grpcDialOptions, opts...) }
}
