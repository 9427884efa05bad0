// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func guidsOf(objs []Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Owner().GUID())
	}
	return out
}

func newTestRegistry(t require.TestingT) *registry {
	r := newRegistry()
	require.NoError(t, r.register(newChannelOwner(nil, rootType, "", nil), "", false))
	return r
}

func mustRegister(t require.TestingT, r *registry, parent, guid string) {
	require.NoError(t, r.register(newChannelOwner(nil, "Thing", guid, nil), parent, true))
}

func TestRegistryDisposeCascades(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "", "a")
	mustRegister(t, r, "a", "b")
	mustRegister(t, r, "b", "c")
	mustRegister(t, r, "a", "d")
	mustRegister(t, r, "", "e")

	removed, err := r.dispose("a")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d"}, guidsOf(removed))
	require.Equal(t, 2, r.len())
	require.Equal(t, []string{"e"}, guidsOf(r.childrenOf("")))

	for _, guid := range []string{"a", "b", "c", "d"} {
		_, ok := r.lookup(guid)
		require.False(t, ok, guid)
		_, ok = r.parentOf(guid)
		require.False(t, ok, guid)
	}
}

func TestRegistryChildOrder(t *testing.T) {
	r := newTestRegistry(t)
	for _, guid := range []string{"z", "y", "x"} {
		mustRegister(t, r, "", guid)
	}
	_, err := r.dispose("y")
	require.NoError(t, err)
	mustRegister(t, r, "", "w")
	require.Equal(t, []string{"z", "x", "w"}, guidsOf(r.childrenOf("")))

	parent, ok := r.parentOf("w")
	require.True(t, ok)
	require.Equal(t, "", parent.Owner().GUID())
	_, ok = r.parentOf("")
	require.False(t, ok)
}

func TestRegistryErrors(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "", "a")

	err := r.register(newChannelOwner(nil, "Thing", "a", nil), "", true)
	require.ErrorIs(t, err, ErrDuplicateObject)
	require.ErrorIs(t, err, ErrProtocol)

	err = r.register(newChannelOwner(nil, "Thing", "b", nil), "missing", true)
	require.ErrorIs(t, err, ErrObjectNotFound)
	_, ok := r.lookup("b")
	require.False(t, ok)

	_, err = r.dispose("missing")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestRegistryReset(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "", "a")
	mustRegister(t, r, "a", "b")

	require.ElementsMatch(t, []string{"", "a", "b"}, guidsOf(r.reset()))
	require.Zero(t, r.len())
	require.Empty(t, r.childrenOf(""))
}

// Disposing any node removes exactly its subtree and leaves every remaining
// parent link pointing at a live object.
func TestRegistryDisposeRemovesSubtree(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := newTestRegistry(rt)
		parentOf := map[string]string{}
		guids := []string{""}

		n := rapid.IntRange(1, 30).Draw(rt, "n")
		for i := 0; i < n; i++ {
			guid := fmt.Sprintf("obj@%d", i)
			parent := rapid.SampledFrom(guids).Draw(rt, "parent")
			mustRegister(rt, r, parent, guid)
			parentOf[guid] = parent
			guids = append(guids, guid)
		}

		target := rapid.SampledFrom(guids[1:]).Draw(rt, "target")
		inSubtree := func(guid string) bool {
			for g := guid; g != ""; g = parentOf[g] {
				if g == target {
					return true
				}
			}
			return false
		}
		var want []string
		for _, g := range guids[1:] {
			if inSubtree(g) {
				want = append(want, g)
			}
		}

		removed, err := r.dispose(target)
		require.NoError(rt, err)
		require.Equal(rt, target, removed[0].Owner().GUID())
		require.ElementsMatch(rt, want, guidsOf(removed))
		require.Equal(rt, len(guids)-len(want), r.len())

		for _, g := range guids[1:] {
			_, live := r.lookup(g)
			require.Equal(rt, !inSubtree(g), live, g)
			if !live {
				continue
			}
			parent, ok := r.parentOf(g)
			require.True(rt, ok, g)
			require.Equal(rt, parentOf[g], parent.Owner().GUID())
			for _, child := range r.childrenOf(g) {
				require.False(rt, inSubtree(child.Owner().GUID()))
			}
		}
	})
}
