package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lobj/internal/chunk"
	"github.com/roach88/lobj/internal/guard"
	"github.com/roach88/lobj/internal/kv"
	"github.com/roach88/lobj/internal/telemetry"
)

func TestUpgrade_RoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t)

	before := startHost(t, reg, WithIDGenerator(NewFixedGenerator("par", "seq")))
	par, err := before.Begin(ctx, caller)
	require.NoError(t, err)
	seq, err := before.Begin(ctx, caller)
	require.NoError(t, err)

	require.NoError(t, before.AppendParallelChunk(ctx, caller, par, 1, []byte("l")))
	require.NoError(t, before.AppendParallelChunk(ctx, caller, par, 2, []byte("lo")))
	require.NoError(t, before.AppendChunk(ctx, caller, seq, []byte("abc")))

	wantObjects, err := before.Objects(ctx, caller)
	require.NoError(t, err)

	require.NoError(t, before.PreUpgrade(ctx))
	before.Stop()

	after := startHost(t, reg)
	require.NoError(t, after.PostUpgrade(ctx))

	gotObjects, err := after.Objects(ctx, caller)
	require.NoError(t, err)
	assert.Equal(t, wantObjects, gotObjects)

	// The upload continues where it left off.
	require.NoError(t, after.AppendParallelChunk(ctx, caller, par, 0, []byte("He")))
	_, err = after.Consolidate(ctx, caller, par, 3)
	require.NoError(t, err)
	data, err := after.Finalize(ctx, caller, par)
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(data))

	data, err = after.Finalize(ctx, caller, seq)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestUpgrade_EmptyRegistry(t *testing.T) {
	ctx := context.Background()
	h := startHost(t, setupRegistry(t))

	require.NoError(t, h.PostUpgrade(ctx))

	objects, err := h.Objects(ctx, caller)
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestUpgrade_PreUpgradeRemovesDiscardedObjects(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t)
	h := startHost(t, reg, WithIDGenerator(NewFixedGenerator("keep", "drop")))

	keep, err := h.Begin(ctx, caller)
	require.NoError(t, err)
	drop, err := h.Begin(ctx, caller)
	require.NoError(t, err)
	require.NoError(t, h.PreUpgrade(ctx))

	require.NoError(t, h.Discard(ctx, caller, drop))
	require.NoError(t, h.PreUpgrade(ctx))

	keys, err := reg.Keys(ctx, KeyObjectPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{ObjectKey(keep)}, keys)

	index, err := reg.Get(ctx, KeyIndex)
	require.NoError(t, err)
	assert.Equal(t, `{"objects":["keep"],"version":1}`, string(index))
}

func TestUpgrade_CorruptObjectLeavesHostUntouched(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t)

	writer := startHost(t, reg, WithIDGenerator(NewFixedGenerator("obj")))
	id, err := writer.Begin(ctx, caller)
	require.NoError(t, err)
	require.NoError(t, writer.AppendChunk(ctx, caller, id, []byte("payload")))
	require.NoError(t, writer.PreUpgrade(ctx))
	writer.Stop()

	snapshot, err := reg.Get(ctx, ObjectKey(id))
	require.NoError(t, err)
	snapshot[len(snapshot)/2] ^= 0xFF
	require.NoError(t, reg.Set(ctx, ObjectKey(id), snapshot))

	reader := startHost(t, reg, WithIDGenerator(NewFixedGenerator("live")))
	live, err := reader.Begin(ctx, caller)
	require.NoError(t, err)

	err = reader.PostUpgrade(ctx)
	require.Error(t, err)
	assert.True(t, chunk.IsDeserialization(err))

	objects, err := reader.Objects(ctx, caller)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, live, objects[0].ID)

	require.NoError(t, reader.Reinitialize(ctx))
	require.NoError(t, reader.PostUpgrade(ctx))
	objects, err = reader.Objects(ctx, caller)
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestUpgrade_MalformedIndex(t *testing.T) {
	tests := map[string]string{
		"not json":        `{`,
		"unknown field":   `{"objects":[],"version":1,"extra":true}`,
		"wrong version":   `{"objects":[],"version":2}`,
		"duplicate ids":   `{"objects":["a","a"],"version":1}`,
		"invalid id":      `{"objects":["a/b"],"version":1}`,
		"trailing data":   `{"objects":[],"version":1} {}`,
		"listed not kept": `{"objects":["ghost"],"version":1}`,
	}

	for name, index := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reg := setupRegistry(t)
			require.NoError(t, reg.Set(ctx, KeyIndex, []byte(index)))

			h := startHost(t, reg)
			err := h.PostUpgrade(ctx)
			require.Error(t, err)
			assert.True(t, chunk.IsDeserialization(err), "got %v", err)
		})
	}
}

func TestUpgrade_OrphanSnapshotsAreReported(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t)
	require.NoError(t, reg.Set(ctx, ObjectKey("orphan"), chunk.New().Export()))

	capture := telemetry.NewCapture()
	h := startHost(t, reg, WithSink(capture))
	require.NoError(t, h.PostUpgrade(ctx))

	assert.Equal(t, 1, capture.Counted("orphan_snapshots"))
	objects, err := h.Objects(ctx, caller)
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestUpgrade_PrincipalsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t)

	allow, err := guard.NewAllowlist(caller)
	require.NoError(t, err)
	before := startHost(t, reg, WithAuthorizer(allow))
	require.NoError(t, before.AddPrincipal(ctx, caller, "bob"))
	require.NoError(t, before.PreUpgrade(ctx))
	before.Stop()

	stored, err := reg.Get(ctx, KeyPrincipals)
	require.NoError(t, err)
	assert.Equal(t, `["alice","bob"]`, string(stored))

	fresh, err := guard.NewAllowlist("seed")
	require.NoError(t, err)
	after := startHost(t, reg, WithAuthorizer(fresh))
	require.NoError(t, after.PostUpgrade(ctx))

	principals, err := after.Principals(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, principals)

	_, err = after.Objects(ctx, "seed")
	assert.True(t, IsUnauthorized(err), "restored allowlist replaces the seed")
}

func TestUpgrade_CorruptPrincipals(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t)
	require.NoError(t, reg.Set(ctx, KeyPrincipals, []byte(`not json`)))

	allow, err := guard.NewAllowlist(caller)
	require.NoError(t, err)
	h := startHost(t, reg, WithAuthorizer(allow))

	err = h.PostUpgrade(ctx)
	assert.True(t, chunk.IsDeserialization(err))
	assert.Equal(t, []string{caller}, allow.List())
}

func TestUpgrade_ReinitializeKeepsPrincipals(t *testing.T) {
	ctx := context.Background()
	reg := setupRegistry(t)
	require.NoError(t, reg.Set(ctx, KeyPrincipals, []byte(`["alice"]`)))
	require.NoError(t, reg.Set(ctx, KeyIndex, []byte(`garbage`)))

	h := startHost(t, reg)
	require.NoError(t, h.Reinitialize(ctx))

	_, err := reg.Get(ctx, KeyIndex)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	ok, err := reg.Exists(ctx, KeyPrincipals)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPrincipals_RequireManager(t *testing.T) {
	ctx := context.Background()
	h := startHost(t, setupRegistry(t))

	err := h.AddPrincipal(ctx, caller, "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not manage principals")
}

func TestPrincipals_AddRemove(t *testing.T) {
	ctx := context.Background()
	allow, err := guard.NewAllowlist(caller)
	require.NoError(t, err)
	h := startHost(t, setupRegistry(t), WithAuthorizer(allow))

	require.NoError(t, h.AddPrincipal(ctx, caller, "bob"))
	assert.Error(t, h.AddPrincipal(ctx, caller, ""))

	removed, err := h.RemovePrincipal(ctx, "bob", caller)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = h.Principals(ctx, caller)
	assert.True(t, IsUnauthorized(err))
}
