package kv

import (
	"context"
	"fmt"
)

type opKind uint8

const (
	opPut opKind = iota
	opDelete
	opDeletePrefix
)

type op struct {
	kind  opKind
	key   string
	value []byte
}

// Batch collects writes that Apply commits atomically, in the order they
// were added.
type Batch struct {
	ops []op
}

// Put stages a write of value at key.
func (b *Batch) Put(key string, value []byte) {
	b.ops = append(b.ops, op{kind: opPut, key: key, value: value})
}

// Delete stages removal of key. Deleting an absent key is not an error.
func (b *Batch) Delete(key string) {
	b.ops = append(b.ops, op{kind: opDelete, key: key})
}

// DeletePrefix stages removal of every key starting with prefix.
func (b *Batch) DeletePrefix(prefix string) {
	b.ops = append(b.ops, op{kind: opDeletePrefix, key: prefix})
}

// Len returns the number of staged operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Apply commits every staged operation in one transaction.
// On error nothing is written.
func (s *Store) Apply(ctx context.Context, b *Batch) error {
	if b == nil || len(b.ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply batch: begin: %w", err)
	}
	defer tx.Rollback()

	for i, o := range b.ops {
		switch o.kind {
		case opPut:
			err = put(ctx, tx, o.key, o.value)
		case opDelete:
			_, err = del(ctx, tx, o.key)
		case opDeletePrefix:
			_, err = tx.ExecContext(ctx,
				"DELETE FROM entries WHERE substr(key, 1, length(?1)) = ?1", o.key)
		}
		if err != nil {
			return fmt.Errorf("apply batch: op %d (%q): %w", i, o.key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply batch: commit: %w", err)
	}
	return nil
}
