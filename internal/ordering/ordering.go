// Package ordering maintains the zero-based integer order of items inside a
// sibling group: columns within a board, cards within a column.
//
// Ordering is best-effort dense. Appends take the current group size, deletes
// leave gaps, a cross-group move compacts only the source group, and a bulk
// reorder rewrites positions with independent concurrent writes. None of these
// run inside a store transaction, so partial application is possible and is
// reported through *BatchError rather than hidden.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrGroupNotFound   = errors.New("ordering: group not found")
	ErrInvalidArgument = errors.New("ordering: invalid argument")
	ErrForeignID       = fmt.Errorf("%w: id does not belong to group", ErrInvalidArgument)
	ErrDuplicateID     = fmt.Errorf("%w: id listed more than once", ErrInvalidArgument)
	ErrNegativeOrder   = fmt.Errorf("%w: order must be non-negative", ErrInvalidArgument)
	ErrTargetRequired  = fmt.Errorf("%w: target order is required within the same group", ErrInvalidArgument)
)

// Item is one member of a group with its stored order.
type Item struct {
	ID    string
	Order int
}

// Write assigns Order to the item ID.
type Write struct {
	ID    string
	Order int
}

// GroupStore is the persistence the engine needs. ListOrdered returns items
// ascending by order, ties broken by the store's secondary sort.
type GroupStore interface {
	GroupExists(ctx context.Context, group string) (bool, error)
	Count(ctx context.Context, group string) (int, error)
	ListOrdered(ctx context.Context, group string) ([]Item, error)
	SetOrder(ctx context.Context, id string, order int) error
	Place(ctx context.Context, id, group string, order int) error
}

// BatchError reports the writes of a batch that did not apply. Writes that are
// not listed in Failed were applied.
type BatchError struct {
	Total   int
	Applied int
	Failed  map[string]error
}

func (e *BatchError) Error() string {
	ids := e.FailedIDs()
	return fmt.Sprintf("ordering: %d of %d writes failed (%s)", len(ids), e.Total, strings.Join(ids, ", "))
}

// FailedIDs returns the ids whose write failed, sorted.
func (e *BatchError) FailedIDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, id := range e.FailedIDs() {
		errs = append(errs, e.Failed[id])
	}
	return errs
}

// MoveResult describes a completed move.
type MoveResult struct {
	Order     int
	Compacted []Write
}

type Option func(*Engine)

// WithSerializedGroups makes append, move and reorder hold an in-process lock
// per group for the duration of their read-then-write sequence. It does not
// coordinate across processes.
func WithSerializedGroups() Option {
	return func(e *Engine) {
		e.serialize = true
	}
}

// WithBatchConcurrency bounds the number of in-flight writes of one batch.
func WithBatchConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

type Engine struct {
	store       GroupStore
	serialize   bool
	concurrency int
	lockMu      sync.Mutex
	locks       map[string]*sync.Mutex
}

func New(store GroupStore, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		concurrency: 8,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Append computes the next order for group (its current size) and hands it to
// insert, which persists the new item.
func (e *Engine) Append(ctx context.Context, group string, insert func(ctx context.Context, order int) error) (int, error) {
	unlock := e.lockGroups(group)
	defer unlock()

	if err := e.requireGroup(ctx, group); err != nil {
		return 0, err
	}
	count, err := e.store.Count(ctx, group)
	if err != nil {
		return 0, fmt.Errorf("count group %s: %w", group, err)
	}
	if err := insert(ctx, count); err != nil {
		return 0, err
	}
	return count, nil
}

// Move places id into group to at target. When target is nil the item is
// appended at the end of to. A cross-group move compacts from afterwards; the
// destination is left as is, so a target inside the existing range produces a
// duplicate until the next reorder.
func (e *Engine) Move(ctx context.Context, id, from, to string, target *int) (MoveResult, error) {
	unlock := e.lockGroups(from, to)
	defer unlock()

	if err := e.requireGroup(ctx, to); err != nil {
		return MoveResult{}, err
	}

	order := 0
	switch {
	case target != nil:
		if *target < 0 {
			return MoveResult{}, ErrNegativeOrder
		}
		order = *target
	case from == to:
		return MoveResult{}, ErrTargetRequired
	default:
		count, err := e.store.Count(ctx, to)
		if err != nil {
			return MoveResult{}, fmt.Errorf("count group %s: %w", to, err)
		}
		order = count
	}

	if err := e.store.Place(ctx, id, to, order); err != nil {
		return MoveResult{}, fmt.Errorf("place %s: %w", id, err)
	}

	result := MoveResult{Order: order}
	if from == to {
		return result, nil
	}

	remaining, err := e.store.ListOrdered(ctx, from)
	if err != nil {
		return result, fmt.Errorf("list group %s: %w", from, err)
	}
	writes := compaction(remaining, id)
	if err := e.ApplyBatch(ctx, writes); err != nil {
		return result, err
	}
	result.Compacted = writes
	return result, nil
}

// Reorder assigns order = position to every id in ids. Every id must belong
// to group and appear once.
func (e *Engine) Reorder(ctx context.Context, group string, ids []string) ([]Write, error) {
	unlock := e.lockGroups(group)
	defer unlock()

	if err := e.requireGroup(ctx, group); err != nil {
		return nil, err
	}
	items, err := e.store.ListOrdered(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("list group %s: %w", group, err)
	}
	if err := validateSequence(items, ids); err != nil {
		return nil, err
	}

	writes := make([]Write, len(ids))
	for i, id := range ids {
		writes[i] = Write{ID: id, Order: i}
	}
	if err := e.ApplyBatch(ctx, writes); err != nil {
		return nil, err
	}
	return writes, nil
}

// ApplyBatch runs every write independently and concurrently. It returns a
// *BatchError naming each write that failed; the others stay applied.
func (e *Engine) ApplyBatch(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed = make(map[string]error)
		sem    = make(chan struct{}, e.concurrency)
	)
	for _, w := range writes {
		wg.Add(1)
		sem <- struct{}{}
		go func(w Write) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := e.store.SetOrder(ctx, w.ID, w.Order); err != nil {
				mu.Lock()
				failed[w.ID] = err
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if len(failed) == 0 {
		return nil
	}
	return &BatchError{Total: len(writes), Applied: len(writes) - len(failed), Failed: failed}
}

func (e *Engine) requireGroup(ctx context.Context, group string) error {
	ok, err := e.store.GroupExists(ctx, group)
	if err != nil {
		return fmt.Errorf("lookup group %s: %w", group, err)
	}
	if !ok {
		return ErrGroupNotFound
	}
	return nil
}

// lockGroups takes the per-group locks in a stable order. It is a no-op unless
// the engine serializes groups.
func (e *Engine) lockGroups(groups ...string) func() {
	if !e.serialize {
		return func() {}
	}
	names := make([]string, 0, len(groups))
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		if !seen[g] {
			seen[g] = true
			names = append(names, g)
		}
	}
	sort.Strings(names)

	held := make([]*sync.Mutex, 0, len(names))
	for _, name := range names {
		lock := e.groupLock(name)
		lock.Lock()
		held = append(held, lock)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (e *Engine) groupLock(group string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	lock, ok := e.locks[group]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[group] = lock
	}
	return lock
}

// compaction renumbers items 0..n-1 in their current relative order, skipping
// exclude, and returns only the writes that change a stored value.
func compaction(items []Item, exclude string) []Write {
	writes := make([]Write, 0, len(items))
	next := 0
	for _, item := range items {
		if item.ID == exclude {
			continue
		}
		if item.Order != next {
			writes = append(writes, Write{ID: item.ID, Order: next})
		}
		next++
	}
	return writes
}

func validateSequence(items []Item, ids []string) error {
	members := make(map[string]bool, len(items))
	for _, item := range items {
		members[item.ID] = true
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !members[id] {
			return fmt.Errorf("%w: %s", ErrForeignID, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = true
	}
	return nil
}
