// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// PipeTransport exchanges messages with a driver over a pair of byte
// streams, normally the stdio of a driver child process.
//
// Frame: [4 len, little endian][JSON message]
type PipeTransport struct {
	transportBase

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	writeMu        sync.Mutex
	codec          Codec
	maxMessageSize uint32
	log            zerolog.Logger
}

// NewPipeTransport frames messages over r and w. Closing w must eventually
// end r; that is how a stop reaches the driver.
func NewPipeTransport(r io.Reader, w io.WriteCloser, opts ...Option) *PipeTransport {
	return newPipeTransport(r, w, newOptions(opts))
}

func newPipeTransport(r io.Reader, w io.WriteCloser, o *options) *PipeTransport {
	return &PipeTransport{
		transportBase:  newTransportBase(),
		stdin:          w,
		stdout:         r,
		codec:          o.codec,
		maxMessageSize: uint32(o.maxMessageSize),
		log:            o.logger,
	}
}

// StartDriver launches the driver executable and returns a transport over
// its stdio. The driver's stderr is passed through.
func StartDriver(path string, args []string, opts ...Option) (*PipeTransport, error) {
	return startDriver(path, args, newOptions(opts))
}

func startDriver(path string, args []string, o *options) (*PipeTransport, error) {
	cmd := exec.Command(path, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("driver stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("driver stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start driver %s: %w", path, err)
	}
	o.logger.Debug().Str("driver", path).Int("pid", cmd.Process.Pid).Msg("driver started")

	p := newPipeTransport(stdout, stdin, o)
	p.cmd = cmd
	return p, nil
}

func dialPipe(_ context.Context, endpoint string, o *options) (Transport, error) {
	path := endpoint
	if path == "" {
		path = o.driverPath
	}
	if path == "" {
		return nil, errors.New("pipe transport: no driver path")
	}
	return startDriver(path, o.driverArgs, o)
}

// Send writes one framed request
func (p *PipeTransport) Send(req *Request) error {
	data, err := p.codec.Encode(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(data)))
	copy(buf[4:], data)

	p.writeMu.Lock()
	_, err = p.stdin.Write(buf)
	p.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("pipe write: %w", err)
	}
	return nil
}

// Run reads frames until the driver closes its output. A requested stop
// closes the driver's input first.
func (p *PipeTransport) Run(ctx context.Context, ready func()) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := p.readLoop()
		if p.cmd != nil {
			if werr := p.cmd.Wait(); err == nil && !p.stopRequested() {
				err = werr
			}
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			if ctx.Err() != nil {
				p.requestStop()
			}
		case <-p.stopping:
		}
		_ = p.stdin.Close()
		return nil
	})
	ready()
	return p.finish(g.Wait())
}

func (p *PipeTransport) readLoop() error {
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(p.stdout, header); err != nil {
			return p.readErr(err)
		}

		msgLen := binary.LittleEndian.Uint32(header)
		if msgLen == 0 {
			return errors.New("pipe read: empty frame")
		}
		if msgLen > p.maxMessageSize {
			return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, msgLen)
		}

		buf := make([]byte, msgLen)
		if _, err := io.ReadFull(p.stdout, buf); err != nil {
			return p.readErr(err)
		}

		msg := new(Message)
		if err := p.codec.Decode(buf, msg); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		p.emit(msg)
	}
}

func (p *PipeTransport) readErr(err error) error {
	if p.stopRequested() {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: driver closed its output", ErrTransportClosed)
	}
	return fmt.Errorf("pipe read: %w", err)
}

func (p *PipeTransport) RequestStop() {
	p.requestStop()
}

// Dispose closes the driver's input and kills the driver if it is still
// running.
func (p *PipeTransport) Dispose() error {
	p.requestStop()
	var err error
	if cerr := p.stdin.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && !errors.Is(cerr, io.ErrClosedPipe) {
		err = multierr.Append(err, cerr)
	}
	if p.cmd != nil && p.cmd.Process != nil {
		if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = multierr.Append(err, kerr)
		}
	}
	return err
}
