package optimistic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// List manages an ordered collection of items with stable keys, building pure
// slice transforms and delegating them to an underlying Manager.
type List[T any] struct {
	keyOf func(T) string
	mgr   *Manager[[]T]
}

// NewList creates a List over initial. keyOf must return a stable identifier
// for an item.
func NewList[T any](initial []T, keyOf func(T) string, opts ...Option) *List[T] {
	if keyOf == nil {
		panic("optimistic: NewList requires a keyOf function")
	}
	items := append([]T(nil), initial...)
	return &List[T]{
		keyOf: keyOf,
		mgr:   NewManager(items, opts...),
	}
}

// Manager exposes the underlying manager for subscriptions, stats, and undo.
func (l *List[T]) Manager() *Manager[[]T] {
	return l.mgr
}

// Items returns the current items including pending optimistic changes.
func (l *List[T]) Items() []T {
	return append([]T(nil), l.mgr.Value()...)
}

// ConfirmedItems returns the items with pending updates unwound.
func (l *List[T]) ConfirmedItems() []T {
	return append([]T(nil), l.mgr.ConfirmedValue()...)
}

// Add optimistically appends item.
func (l *List[T]) Add(ctx context.Context, item T, mutation MutationFunc[[]T]) (*Result[[]T], error) {
	return l.mgr.Apply(ctx, func(items []T) []T {
		out := make([]T, 0, len(items)+1)
		out = append(out, items...)
		return append(out, item)
	}, mutation)
}

// Remove optimistically deletes the item with the given key.
func (l *List[T]) Remove(ctx context.Context, key string, mutation MutationFunc[[]T]) (*Result[[]T], error) {
	return l.mgr.Apply(ctx, func(items []T) []T {
		out := make([]T, 0, len(items))
		for _, it := range items {
			if l.keyOf(it) != key {
				out = append(out, it)
			}
		}
		return out
	}, mutation)
}

// Update optimistically replaces the item with the given key by transform's
// result.
func (l *List[T]) Update(ctx context.Context, key string, transform func(T) T, mutation MutationFunc[[]T]) (*Result[[]T], error) {
	if transform == nil {
		return nil, errors.New("reprise: transform is required")
	}
	return l.mgr.Apply(ctx, func(items []T) []T {
		out := make([]T, len(items))
		for i, it := range items {
			if l.keyOf(it) == key {
				out[i] = transform(it)
			} else {
				out[i] = it
			}
		}
		return out
	}, mutation)
}

// Reorder optimistically moves the item at index from to index to. Indices
// out of range at apply time leave the list unchanged.
func (l *List[T]) Reorder(ctx context.Context, from, to int, mutation MutationFunc[[]T]) (*Result[[]T], error) {
	return l.mgr.Apply(ctx, func(items []T) []T {
		if from < 0 || from >= len(items) || to < 0 || to >= len(items) || from == to {
			return items
		}
		out := append([]T(nil), items...)
		item := out[from]
		out = append(out[:from], out[from+1:]...)

		rest := append([]T(nil), out[to:]...)
		out = append(out[:to], item)
		return append(out, rest...)
	}, mutation)
}

// PendingItems reports the items touched by in-flight updates: items whose
// serialized form differs between an update's previous and optimistic
// snapshots, or which only exist in the optimistic one.
func (l *List[T]) PendingItems() []T {
	var out []T
	seen := map[string]bool{}
	for _, u := range l.mgr.PendingUpdates() {
		before := l.indexByKey(u.PreviousValue)
		for _, it := range u.OptimisticValue {
			key := l.keyOf(it)
			if seen[key] {
				continue
			}
			prev, existed := before[key]
			if !existed || !sameSerialized(prev, it) {
				seen[key] = true
				out = append(out, it)
			}
		}
	}
	return out
}

// ItemPending reports whether any in-flight update changes the item with the
// given key, by serialized structural comparison rather than reference.
func (l *List[T]) ItemPending(key string) bool {
	for _, u := range l.mgr.PendingUpdates() {
		before := l.indexByKey(u.PreviousValue)
		after := l.indexByKey(u.OptimisticValue)

		prev, hadBefore := before[key]
		next, hasAfter := after[key]
		switch {
		case hadBefore != hasAfter:
			return true
		case hasAfter && !sameSerialized(prev, next):
			return true
		}
	}
	return false
}

func (l *List[T]) indexByKey(items []T) map[string]T {
	out := make(map[string]T, len(items))
	for _, it := range items {
		out[l.keyOf(it)] = it
	}
	return out
}

func sameSerialized[T any](a, b T) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		// Unserializable items fall back to their formatted representation.
		return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
	}
	return string(ab) == string(bb)
}
