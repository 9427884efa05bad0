// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

const (
	maxCapturedFrames = 64
	traceFrames       = 10
)

type ctxKey int

const (
	apiNameKey ctxKey = iota
	stackTraceKey
)

// pkgPath is the import path of this package, used to recognise its own
// request-issuing frames.
var pkgPath = reflect.TypeOf((*Channel)(nil)).Elem().PkgPath()

// WithAPIName tags requests issued with ctx with the public API name that
// caused them. The driver uses it for logs and traces.
func WithAPIName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, apiNameKey, name)
}

// APIName returns the API name attached to ctx, if any.
func APIName(ctx context.Context) string {
	name, _ := ctx.Value(apiNameKey).(string)
	return name
}

// WithStackTrace attaches a call stack, outermost frame first, to use
// instead of the stack of the goroutine that sends the request. Wrappers
// that hop goroutines use it to keep the user's stack.
func WithStackTrace(ctx context.Context, frames []StackFrame) context.Context {
	return context.WithValue(ctx, stackTraceKey, frames)
}

func stackTraceFrom(ctx context.Context) []StackFrame {
	frames, _ := ctx.Value(stackTraceKey).([]StackFrame)
	return frames
}

// captureStack returns the caller's stack, outermost frame first.
func captureStack(skip int) []StackFrame {
	pcs := make([]uintptr, maxCapturedFrames)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var out []StackFrame
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") {
			out = append(out, StackFrame{File: f.File, Line: f.Line, Function: f.Function})
		}
		if !more {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// stackBoundary reports whether a frame belongs to API plumbing rather than
// user code. Frames of this package's Channel and Connection always do;
// extra function-name prefixes can be configured for generated API layers.
type stackBoundary struct {
	prefixes []string
}

func newStackBoundary(extra []string) stackBoundary {
	prefixes := []string{
		pkgPath + ".(*Channel).",
		pkgPath + ".(*Connection).",
	}
	return stackBoundary{prefixes: append(prefixes, extra...)}
}

func (b stackBoundary) contains(f StackFrame) bool {
	for _, p := range b.prefixes {
		if strings.HasPrefix(f.Function, p) {
			return true
		}
	}
	return false
}

// serializeCallStack keeps the frames that precede the first boundary frame
// and returns them nearest call site first.
func serializeCallStack(frames []StackFrame, boundary stackBoundary) []StackFrame {
	stack := make([]StackFrame, 0, len(frames))
	for _, f := range frames {
		if boundary.contains(f) {
			break
		}
		stack = append(stack, f)
	}
	for i, j := 0, len(stack)-1; i < j; i, j = i+1, j-1 {
		stack[i], stack[j] = stack[j], stack[i]
	}
	return stack
}

// formatTrace renders the last n frames in traceback form.
func formatTrace(frames []StackFrame, n int) string {
	if len(frames) > n {
		frames = frames[len(frames)-n:]
	}
	var b strings.Builder
	for _, f := range frames {
		fmt.Fprintf(&b, "  File %q, line %d, in %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}
