package state

import (
	"fmt"
	"sync"

	"github.com/camarigor/minerdash/internal/jsonx"
)

// Record guards a single document that is replaced as a whole, like the
// prior-week summary or the miner-of-the-week result.
type Record[T any] struct {
	mu    sync.RWMutex
	store *Store
	kind  Kind
	val   T
	dirty bool
}

// LoadRecord restores kind from disk, leaving the zero value when neither
// the file nor its backup parses.
func LoadRecord[T any](store *Store, kind Kind) *Record[T] {
	r := &Record[T]{store: store, kind: kind}
	store.Load(kind, func(data []byte) error {
		var v T
		if err := jsonx.Unmarshal(data, &v); err != nil {
			return err
		}
		if err := checkObject(data); err != nil {
			return err
		}
		r.val = v
		return nil
	})
	return r
}

// Get returns the current value.
func (r *Record[T]) Get() T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.val
}

// Set replaces the value and persists it. The new value is kept in memory
// even if the write fails, and Flush retries it.
func (r *Record[T]) Set(v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.val = v
	return r.saveLocked()
}

// Flush retries a failed write, if any.
func (r *Record[T]) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil
	}
	return r.saveLocked()
}

func (r *Record[T]) saveLocked() error {
	if err := r.store.Save(r.kind, r.val); err != nil {
		r.dirty = true
		return err
	}
	r.dirty = false
	return nil
}

func checkObject(data []byte) error {
	var doc map[string]any
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("document is not an object")
	}
	return nil
}
