// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ErrTransportClosed = errors.New("driverconn: transport closed")
	ErrFrameTooLarge   = errors.New("driverconn: frame too large")
	ErrAlreadyRunning  = errors.New("driverconn: connection already running")
	ErrNotRunning      = errors.New("driverconn: connection not running")

	// Contract violations between client and driver. They are always
	// wrapped in a *ProtocolError.
	ErrProtocol        = errors.New("driverconn: protocol violation")
	ErrObjectNotFound  = errors.New("driverconn: object not found")
	ErrDuplicateObject = errors.New("driverconn: duplicate object")
	ErrUnknownCallback = errors.New("driverconn: no pending call")
	ErrAmbiguousResult = errors.New("driverconn: ambiguous result")

	// Kinds of remote errors, matched with errors.Is against *Error.
	ErrTimeout      = errors.New("driverconn: timeout")
	ErrTargetClosed = errors.New("driverconn: target closed")
)

// ProtocolError reports a message the client cannot reconcile with its view
// of the object graph. It fails the operation at hand but never the
// connection.
type ProtocolError struct {
	Op   string
	GUID string
	ID   int
	Err  error
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	b.WriteString("driverconn: ")
	b.WriteString(e.Op)
	if e.ID != 0 {
		fmt.Fprintf(&b, " id=%d", e.ID)
	}
	if e.GUID != "" {
		fmt.Fprintf(&b, " guid=%q", e.GUID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(strings.TrimPrefix(e.Err.Error(), "driverconn: "))
	}
	return b.String()
}

func (e *ProtocolError) Unwrap() []error {
	return []error{ErrProtocol, e.Err}
}

// Error is an error reported by the driver in reply to a request.
type Error struct {
	Name    string
	Message string
	// Stack is the driver-side stack, as sent.
	Stack string
	// Trace holds the most recent client frames that issued the request.
	Trace string

	kind error
}

func (e *Error) Error() string {
	if e.Name == "" || e.Name == "Error" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.kind
}

// ErrorParser decodes the domain error payload of a failed response.
type ErrorParser func(payload json.RawMessage) error

// ParseError is the default ErrorParser. It understands the driver's
// {name, message, stack} error shape.
func ParseError(payload json.RawMessage) error {
	if !gjson.ValidBytes(payload) {
		return &Error{Message: strings.TrimSpace(string(payload))}
	}
	r := gjson.ParseBytes(payload)
	e := &Error{
		Name:    r.Get("name").String(),
		Message: r.Get("message").String(),
		Stack:   r.Get("stack").String(),
	}
	switch e.Name {
	case "TimeoutError":
		e.kind = ErrTimeout
	case "TargetClosedError":
		e.kind = ErrTargetClosed
	}
	return e
}
