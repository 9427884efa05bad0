// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"encoding/json"
	"reflect"
)

// JSONCodec is the frame codec every transport uses by default.
type JSONCodec struct{}

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// defaultCodec is used when no codec is specified
var defaultCodec Codec = JSONCodec{}

// Path is a filesystem path. It is sent as its string form and never comes
// back as a Path.
type Path string

// replaceChannelsWithGUIDs rewrites an outbound payload: handles become
// {"guid": ...} and paths become strings. Everything else keeps its shape.
func replaceChannelsWithGUIDs(payload any) any {
	switch v := payload.(type) {
	case nil:
		return nil
	case Path:
		return string(v)
	case *Channel:
		if v == nil {
			return nil
		}
		return map[string]any{"guid": v.guid}
	case Object:
		// A nil proxy pointer would panic inside the promoted Owner method.
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil
		}
		owner := v.Owner()
		if owner == nil {
			return nil
		}
		return map[string]any{"guid": owner.guid}
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = replaceChannelsWithGUIDs(item)
		}
		return out
	case map[string]any:
		return replaceChannelsInMap(v)
	}
	return replaceReflected(payload)
}

func replaceChannelsInMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, item := range m {
		out[k] = replaceChannelsWithGUIDs(item)
	}
	return out
}

// replaceReflected handles typed containers such as []*Channel or
// map[string]Object that can carry handles. Containers of plain values are
// returned untouched.
func replaceReflected(payload any) any {
	rv := reflect.ValueOf(payload)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return payload
		}
		if !mayHoldHandle(rv.Type().Elem()) {
			return payload
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = replaceChannelsWithGUIDs(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.IsNil() || rv.Type().Key().Kind() != reflect.String || !mayHoldHandle(rv.Type().Elem()) {
			return payload
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = replaceChannelsWithGUIDs(iter.Value().Interface())
		}
		return out
	}
	return payload
}

var pathType = reflect.TypeOf(Path(""))

func mayHoldHandle(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return t == pathType
}

// replaceGUIDsWithChannels rewrites an inbound payload: a mapping whose
// guid names a live object is replaced by that object's channel.
func (c *Connection) replaceGUIDsWithChannels(payload any) any {
	switch v := payload.(type) {
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = c.replaceGUIDsWithChannels(item)
		}
		return out
	case map[string]any:
		if guid, ok := v["guid"].(string); ok {
			if obj, ok := c.objects.lookup(guid); ok {
				return obj.Owner().channel
			}
		}
		return c.replaceGUIDsInMap(v)
	}
	return payload
}

// replaceGUIDsInMap transforms the values of m but never m itself, for
// payloads that must stay mappings (event params, initializers).
func (c *Connection) replaceGUIDsInMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, item := range m {
		out[k] = c.replaceGUIDsWithChannels(item)
	}
	return out
}
