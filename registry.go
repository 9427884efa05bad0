// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"slices"
	"sync"
)

// registry is the connection-wide object table. Parent/child ownership is
// kept as guid links next to the table so membership in both is updated
// under one lock.
//
// Writes happen on the dispatch goroutine only; the lock exists for
// readers on caller goroutines.
type registry struct {
	mu       sync.RWMutex
	objects  map[string]Object
	parents  map[string]string
	children map[string][]string
}

func newRegistry() *registry {
	return &registry{
		objects:  make(map[string]Object),
		parents:  make(map[string]string),
		children: make(map[string][]string),
	}
}

// register adds obj under parent. The root is registered with hasParent
// false and is the only object without a parent link.
func (r *registry) register(obj Object, parent string, hasParent bool) error {
	guid := obj.Owner().guid

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.objects[guid]; ok {
		return &ProtocolError{Op: "register", GUID: guid, Err: ErrDuplicateObject}
	}
	if hasParent {
		if _, ok := r.objects[parent]; !ok {
			return &ProtocolError{Op: "register", GUID: parent, Err: ErrObjectNotFound}
		}
		r.parents[guid] = parent
		r.children[parent] = append(r.children[parent], guid)
	}
	r.objects[guid] = obj
	return nil
}

func (r *registry) lookup(guid string) (Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[guid]
	return obj, ok
}

func (r *registry) parentOf(guid string) (Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	parent, ok := r.parents[guid]
	if !ok {
		return nil, false
	}
	obj, ok := r.objects[parent]
	return obj, ok
}

func (r *registry) childrenOf(guid string) []Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kids := r.children[guid]
	out := make([]Object, 0, len(kids))
	for _, k := range kids {
		out = append(out, r.objects[k])
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// dispose removes guid and its whole subtree. It returns the removed
// objects, the addressed one first.
func (r *registry) dispose(guid string) ([]Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.objects[guid]; !ok {
		return nil, &ProtocolError{Op: "dispose", GUID: guid, Err: ErrObjectNotFound}
	}
	var removed []Object
	r.disposeLocked(guid, &removed)
	return removed, nil
}

func (r *registry) disposeLocked(guid string, removed *[]Object) {
	obj, ok := r.objects[guid]
	if !ok {
		return
	}
	if parent, ok := r.parents[guid]; ok {
		r.children[parent] = slices.DeleteFunc(r.children[parent], func(k string) bool { return k == guid })
		delete(r.parents, guid)
	}
	delete(r.objects, guid)
	*removed = append(*removed, obj)

	// Children unlink themselves from r.children[guid] while we walk it.
	for _, k := range slices.Clone(r.children[guid]) {
		r.disposeLocked(k, removed)
	}
	delete(r.children, guid)
}

// reset drops every object, used on connection teardown.
func (r *registry) reset() []Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Object, 0, len(r.objects))
	for _, obj := range r.objects {
		out = append(out, obj)
	}
	r.objects = make(map[string]Object)
	r.parents = make(map[string]string)
	r.children = make(map[string][]string)
	return out
}
