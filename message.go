// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import "encoding/json"

// Reserved notification methods. They drive the object registry and are
// never surfaced as events.
const (
	methodCreate  = "__create__"
	methodDispose = "__dispose__"

	methodInitialize = "initialize"
)

// StackFrame is one entry of a request's diagnostic call stack.
type StackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Metadata travels with every request.
type Metadata struct {
	Stack   []StackFrame `json:"stack"`
	APIName string       `json:"apiName,omitempty"`
}

// Request is an outbound call addressed to one remote object.
// GUID is never omitted: the root object is addressed by the empty string.
type Request struct {
	ID       int            `json:"id"`
	GUID     string         `json:"guid"`
	Method   string         `json:"method"`
	Params   map[string]any `json:"params"`
	Metadata Metadata       `json:"metadata"`
}

// ErrorEnvelope wraps the domain error payload of a failed response.
type ErrorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

// Message is an inbound message: either a response (ID set) or a
// notification addressed to GUID.
type Message struct {
	ID     int            `json:"id,omitempty"`
	GUID   string         `json:"guid,omitempty"`
	Method string         `json:"method,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Error  *ErrorEnvelope `json:"error,omitempty"`
}

// IsResponse reports whether m answers a request.
func (m *Message) IsResponse() bool {
	return m.ID != 0
}
