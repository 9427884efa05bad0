// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import "sync/atomic"

const rootType = "Root"

// Object is a local proxy for a remote object. Concrete proxies embed
// *ChannelOwner and so satisfy Object through the promoted Owner method.
type Object interface {
	Owner() *ChannelOwner
}

// ObjectFactory builds the proxy for a newly created remote object. It must
// not register the object or issue requests; the connection registers the
// returned proxy once the factory returns. Returning nil falls back to a
// plain *ChannelOwner, which is also what unknown types should get.
type ObjectFactory func(parent *ChannelOwner, typ, guid string, initializer map[string]any) Object

// ChannelOwner holds the state every proxy shares: identity, the creation
// snapshot and the channel to the remote object.
type ChannelOwner struct {
	conn        *Connection
	typ         string
	guid        string
	initializer map[string]any
	channel     *Channel
	disposed    atomic.Bool
}

// NewChannelOwner returns the shared proxy state for a child of parent.
// Factories call it and embed the result.
func NewChannelOwner(parent *ChannelOwner, typ, guid string, initializer map[string]any) *ChannelOwner {
	return newChannelOwner(parent.conn, typ, guid, initializer)
}

func newChannelOwner(conn *Connection, typ, guid string, initializer map[string]any) *ChannelOwner {
	if initializer == nil {
		initializer = map[string]any{}
	}
	o := &ChannelOwner{
		conn:        conn,
		typ:         typ,
		guid:        guid,
		initializer: initializer,
	}
	o.channel = newChannel(conn, guid)
	o.channel.object = o
	return o
}

func newRootChannelOwner(conn *Connection) *ChannelOwner {
	return newChannelOwner(conn, rootType, "", nil)
}

// Owner implements Object.
func (o *ChannelOwner) Owner() *ChannelOwner { return o }

func (o *ChannelOwner) GUID() string { return o.guid }

func (o *ChannelOwner) Type() string { return o.typ }

// Initializer returns the decoded creation-time state. Handles inside it
// are already resolved to channels.
func (o *ChannelOwner) Initializer() map[string]any { return o.initializer }

func (o *ChannelOwner) Channel() *Channel { return o.channel }

func (o *ChannelOwner) Connection() *Connection { return o.conn }

// Parent returns the owning proxy, or nil for the root and for disposed
// objects.
func (o *ChannelOwner) Parent() Object {
	parent, ok := o.conn.objects.parentOf(o.guid)
	if !ok {
		return nil
	}
	return parent
}

// Children returns a snapshot of the objects this one owns.
func (o *ChannelOwner) Children() []Object {
	return o.conn.objects.childrenOf(o.guid)
}

// Disposed reports whether the remote object is gone.
func (o *ChannelOwner) Disposed() bool { return o.disposed.Load() }

// FromChannel returns the proxy a channel belongs to.
func FromChannel(ch *Channel) Object {
	return ch.object
}

// FromNullableChannel is FromChannel for optional handles.
func FromNullableChannel(ch *Channel) Object {
	if ch == nil {
		return nil
	}
	return ch.object
}
