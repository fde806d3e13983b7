package ordering

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memGroups struct {
	mu      sync.Mutex
	groups  map[string]bool
	group   map[string]string
	order   map[string]int
	seq     map[string]int
	failIDs map[string]bool
}

func newMemGroups(groups ...string) *memGroups {
	m := &memGroups{
		groups:  make(map[string]bool),
		group:   make(map[string]string),
		order:   make(map[string]int),
		seq:     make(map[string]int),
		failIDs: make(map[string]bool),
	}
	for _, g := range groups {
		m.groups[g] = true
	}
	return m
}

func (m *memGroups) insert(id, group string) func(context.Context, int) error {
	return func(_ context.Context, order int) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.group[id] = group
		m.order[id] = order
		m.seq[id] = len(m.seq)
		return nil
	}
}

func (m *memGroups) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.group, id)
	delete(m.order, id)
}

func (m *memGroups) GroupExists(_ context.Context, group string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[group], nil
}

func (m *memGroups) Count(_ context.Context, group string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, g := range m.group {
		if g == group {
			n++
		}
	}
	return n, nil
}

func (m *memGroups) ListOrdered(_ context.Context, group string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []Item
	for id, g := range m.group {
		if g == group {
			items = append(items, Item{ID: id, Order: m.order[id]})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return m.seq[items[i].ID] < m.seq[items[j].ID]
	})
	return items, nil
}

func (m *memGroups) SetOrder(_ context.Context, id string, order int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[id] {
		return errors.New("write refused")
	}
	m.order[id] = order
	return nil
}

func (m *memGroups) Place(_ context.Context, id, group string, order int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.group[id] = group
	m.order[id] = order
	return nil
}

func (m *memGroups) orders(group string) map[string]int {
	items, _ := m.ListOrdered(context.Background(), group)
	out := make(map[string]int, len(items))
	for _, item := range items {
		out[item.ID] = item.Order
	}
	return out
}

func TestAppendAssignsSequentialOrders(t *testing.T) {
	ctx := context.Background()
	store := newMemGroups("b1")
	engine := New(store)

	for i, id := range []string{"c1", "c2", "c3"} {
		order, err := engine.Append(ctx, "b1", store.insert(id, "b1"))
		require.NoError(t, err)
		assert.Equal(t, i, order)
	}
	assert.Equal(t, map[string]int{"c1": 0, "c2": 1, "c3": 2}, store.orders("b1"))
}

func TestAppendUnknownGroup(t *testing.T) {
	engine := New(newMemGroups())
	called := false
	_, err := engine.Append(context.Background(), "missing", func(context.Context, int) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrGroupNotFound)
	assert.False(t, called)
}

func TestAppendAfterDeleteLeavesGap(t *testing.T) {
	ctx := context.Background()
	store := newMemGroups("b1")
	engine := New(store)
	for _, id := range []string{"c1", "c2", "c3"} {
		_, err := engine.Append(ctx, "b1", store.insert(id, "b1"))
		require.NoError(t, err)
	}

	store.remove("c2")
	assert.Equal(t, map[string]int{"c1": 0, "c3": 2}, store.orders("b1"))

	order, err := engine.Append(ctx, "b1", store.insert("c4", "b1"))
	require.NoError(t, err)
	assert.Equal(t, 2, order)
}

func TestReorderRewritesPositions(t *testing.T) {
	ctx := context.Background()
	store := newMemGroups("b1")
	engine := New(store)
	for _, id := range []string{"c1", "c2", "c3"} {
		_, err := engine.Append(ctx, "b1", store.insert(id, "b1"))
		require.NoError(t, err)
	}

	writes, err := engine.Reorder(ctx, "b1", []string{"c3", "c1", "c2"})
	require.NoError(t, err)
	assert.Len(t, writes, 3)
	assert.Equal(t, map[string]int{"c3": 0, "c1": 1, "c2": 2}, store.orders("b1"))
}

func TestReorderRejectsForeignAndDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	store := newMemGroups("b1", "b2")
	engine := New(store)
	_, err := engine.Append(ctx, "b1", store.insert("c1", "b1"))
	require.NoError(t, err)
	_, err = engine.Append(ctx, "b2", store.insert("x1", "b2"))
	require.NoError(t, err)

	_, err = engine.Reorder(ctx, "b1", []string{"c1", "x1"})
	assert.ErrorIs(t, err, ErrForeignID)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = engine.Reorder(ctx, "b1", []string{"c1", "c1"})
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, map[string]int{"x1": 0}, store.orders("b2"))
}

func TestMoveAcrossGroupsCompactsSource(t *testing.T) {
	ctx := context.Background()
	store := newMemGroups("colA", "colB")
	engine := New(store)
	for _, id := range []string{"a1", "a2", "a3"} {
		_, err := engine.Append(ctx, "colA", store.insert(id, "colA"))
		require.NoError(t, err)
	}
	_, err := engine.Append(ctx, "colB", store.insert("b1", "colB"))
	require.NoError(t, err)

	target := 0
	result, err := engine.Move(ctx, "a1", "colA", "colB", &target)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Order)
	assert.Equal(t, map[string]int{"a2": 0, "a3": 1}, store.orders("colA"))
	assert.Len(t, result.Compacted, 2)

	dest := store.orders("colB")
	assert.Equal(t, 0, dest["a1"])
	assert.Equal(t, 0, dest["b1"])
}

func TestMoveWithoutTargetAppends(t *testing.T) {
	ctx := context.Background()
	store := newMemGroups("colA", "colB")
	engine := New(store)
	_, err := engine.Append(ctx, "colA", store.insert("a1", "colA"))
	require.NoError(t, err)
	_, err = engine.Append(ctx, "colB", store.insert("b1", "colB"))
	require.NoError(t, err)

	result, err := engine.Move(ctx, "a1", "colA", "colB", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Order)
	assert.Empty(t, result.Compacted)
	assert.Equal(t, map[string]int{"b1": 0, "a1": 1}, store.orders("colB"))
}

func TestMoveWithinGroupSetsTarget(t *testing.T) {
	ctx := context.Background()
	store := newMemGroups("colA")
	engine := New(store)
	for _, id := range []string{"a1", "a2"} {
		_, err := engine.Append(ctx, "colA", store.insert(id, "colA"))
		require.NoError(t, err)
	}

	target := 5
	result, err := engine.Move(ctx, "a1", "colA", "colA", &target)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Order)
	assert.Equal(t, map[string]int{"a2": 1, "a1": 5}, store.orders("colA"))
}

func TestMoveValidation(t *testing.T) {
	ctx := context.Background()
	store := newMemGroups("colA")
	engine := New(store)

	negative := -1
	_, err := engine.Move(ctx, "a1", "colA", "colA", &negative)
	assert.ErrorIs(t, err, ErrNegativeOrder)

	_, err = engine.Move(ctx, "a1", "colA", "colA", nil)
	assert.ErrorIs(t, err, ErrTargetRequired)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = engine.Move(ctx, "a1", "colA", "nowhere", nil)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestApplyBatchReportsPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemGroups("b1")
	engine := New(store, WithBatchConcurrency(2))
	for _, id := range []string{"c1", "c2", "c3"} {
		_, err := engine.Append(ctx, "b1", store.insert(id, "b1"))
		require.NoError(t, err)
	}
	store.failIDs["c2"] = true

	_, err := engine.Reorder(ctx, "b1", []string{"c3", "c2", "c1"})
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, []string{"c2"}, batchErr.FailedIDs())
	assert.Equal(t, 2, batchErr.Applied)
	assert.Equal(t, 3, batchErr.Total)

	got := store.orders("b1")
	assert.Equal(t, 0, got["c3"])
	assert.Equal(t, 1, got["c2"])
	assert.Equal(t, 2, got["c1"])
}

func TestSerializedAppendsStayDense(t *testing.T) {
	ctx := context.Background()
	store := newMemGroups("b1")
	engine := New(store, WithSerializedGroups())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_, err := engine.Append(ctx, "b1", store.insert(id, "b1"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, order := range store.orders("b1") {
		assert.False(t, seen[order], "duplicate order %d", order)
		seen[order] = true
	}
	assert.Len(t, seen, 20)
}

func TestCompactionSkipsUnchanged(t *testing.T) {
	writes := compaction([]Item{{ID: "a", Order: 0}, {ID: "x", Order: 1}, {ID: "b", Order: 2}, {ID: "c", Order: 2}}, "x")
	assert.Equal(t, []Write{{ID: "b", Order: 1}}, writes)
}
