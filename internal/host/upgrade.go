package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/lobj/internal/canon"
	"github.com/roach88/lobj/internal/chunk"
	"github.com/roach88/lobj/internal/kv"
)

// Well-known registry keys.
const (
	KeyNamespace    = "large_objects/"
	KeyIndex        = KeyNamespace + "index"
	KeyObjectPrefix = KeyNamespace + "object/"
	KeyPrincipals   = "auth/principals"
)

const indexVersion = 1

// Snapshotter is implemented by authorizers whose state must survive a
// restart, such as *guard.Allowlist.
type Snapshotter interface {
	Export() ([]byte, error)
	Import(data []byte) error
}

// ObjectKey returns the registry key holding the snapshot of object id.
func ObjectKey(id string) string {
	return KeyObjectPrefix + id
}

type objectIndex struct {
	Version int      `json:"version"`
	Objects []string `json:"objects"`
}

// PreUpgrade writes every engine and the authorizer state to the registry in
// one atomic batch. Snapshots of objects that no longer exist are removed.
func (h *Host) PreUpgrade(ctx context.Context) error {
	_, err := submitSystem(ctx, h, "pre_upgrade", func(seq int64) (struct{}, error) {
		ids := h.objectIDs()

		var b kv.Batch
		b.DeletePrefix(KeyObjectPrefix)
		total := 0
		for _, id := range ids {
			snapshot := h.objects[id].Export()
			total += len(snapshot)
			b.Put(ObjectKey(id), snapshot)
		}

		index, err := canon.Marshal(objectIndex{Version: indexVersion, Objects: ids})
		if err != nil {
			return struct{}{}, fmt.Errorf("pre_upgrade: encode index: %w", err)
		}
		b.Put(KeyIndex, index)

		if s, ok := h.authorizer.(Snapshotter); ok {
			data, err := s.Export()
			if err != nil {
				return struct{}{}, fmt.Errorf("pre_upgrade: export principals: %w", err)
			}
			b.Put(KeyPrincipals, data)
		}

		if err := h.registry.Apply(ctx, &b); err != nil {
			return struct{}{}, fmt.Errorf("pre_upgrade: %w", err)
		}

		h.sink.Count("pre_upgrade", 1)
		h.sink.Log(slog.LevelInfo, "state exported", "seq", seq, "objects", len(ids), "bytes", total)
		return struct{}{}, nil
	})
	return err
}

// PostUpgrade restores engines and authorizer state from the registry.
//
// Absent keys mean empty state. If any entry is corrupt PostUpgrade returns an
// error wrapping *chunk.DeserializationError and the host keeps the state it
// had before the call; Reinitialize discards the unreadable state.
func (h *Host) PostUpgrade(ctx context.Context) error {
	_, err := submitSystem(ctx, h, "post_upgrade", func(seq int64) (struct{}, error) {
		ids, err := h.readIndex(ctx)
		if err != nil {
			return struct{}{}, err
		}

		restored := make(map[string]*chunk.Engine, len(ids))
		for _, id := range ids {
			data, err := h.registry.Get(ctx, ObjectKey(id))
			if errors.Is(err, kv.ErrNotFound) {
				return struct{}{}, fmt.Errorf("post_upgrade: %w", &chunk.DeserializationError{
					Reason: fmt.Sprintf("object %s listed in index but not stored", id),
				})
			}
			if err != nil {
				return struct{}{}, fmt.Errorf("post_upgrade: %w", err)
			}

			e := chunk.New()
			if err := e.Import(data); err != nil {
				return struct{}{}, fmt.Errorf("post_upgrade: object %s: %w", id, err)
			}
			restored[id] = e
		}

		h.warnOrphans(ctx, seq, restored)

		if s, ok := h.authorizer.(Snapshotter); ok {
			data, err := h.registry.Get(ctx, KeyPrincipals)
			switch {
			case errors.Is(err, kv.ErrNotFound):
			case err != nil:
				return struct{}{}, fmt.Errorf("post_upgrade: %w", err)
			default:
				if err := s.Import(data); err != nil {
					return struct{}{}, fmt.Errorf("post_upgrade: %w", &chunk.DeserializationError{
						Reason: "principals", Err: err,
					})
				}
			}
		}

		h.objects = restored
		h.sink.Count("post_upgrade", 1)
		h.sink.Log(slog.LevelInfo, "state restored", "seq", seq, "objects", len(restored))
		return struct{}{}, nil
	})
	return err
}

// Reinitialize drops every object in memory and in the registry. The
// authorizer state is kept.
func (h *Host) Reinitialize(ctx context.Context) error {
	_, err := submitSystem(ctx, h, "reinitialize", func(seq int64) (struct{}, error) {
		var b kv.Batch
		b.DeletePrefix(KeyNamespace)
		if err := h.registry.Apply(ctx, &b); err != nil {
			return struct{}{}, fmt.Errorf("reinitialize: %w", err)
		}

		dropped := len(h.objects)
		h.objects = make(map[string]*chunk.Engine)
		h.sink.Count("reinitialize", 1)
		h.sink.Log(slog.LevelWarn, "state reinitialized", "seq", seq, "objects_dropped", dropped)
		return struct{}{}, nil
	})
	return err
}

func (h *Host) readIndex(ctx context.Context) ([]string, error) {
	data, err := h.registry.Get(ctx, KeyIndex)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("post_upgrade: %w", err)
	}

	ids, err := decodeIndex(data)
	if err != nil {
		return nil, fmt.Errorf("post_upgrade: %w", &chunk.DeserializationError{Reason: "object index", Err: err})
	}
	return ids, nil
}

func decodeIndex(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var idx objectIndex
	if err := dec.Decode(&idx); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data")
	}
	if idx.Version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d", idx.Version)
	}

	seen := make(map[string]struct{}, len(idx.Objects))
	for _, id := range idx.Objects {
		if err := validateID(id); err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate object id %q", id)
		}
		seen[id] = struct{}{}
	}
	return idx.Objects, nil
}

// warnOrphans logs object snapshots the index does not list. They are left in
// place and removed by the next PreUpgrade.
func (h *Host) warnOrphans(ctx context.Context, seq int64, restored map[string]*chunk.Engine) {
	keys, err := h.registry.Keys(ctx, KeyObjectPrefix)
	if err != nil {
		h.sink.Log(slog.LevelWarn, "listing stored objects failed", "seq", seq, "error", err)
		return
	}
	for _, key := range keys {
		id := strings.TrimPrefix(key, KeyObjectPrefix)
		if _, ok := restored[id]; !ok {
			h.sink.Count("orphan_snapshots", 1)
			h.sink.Log(slog.LevelWarn, "stored object not in index", "seq", seq, "object", id)
		}
	}
}
