package ingest

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingItem(id string) Item {
	return Item{ID: id, File: NewFile(id+".txt", id+".txt", 1, nil), Status: StatusPending}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusUploading, true},
		{StatusPending, StatusDone, false},
		{StatusPending, StatusError, false},
		{StatusUploading, StatusUploading, true},
		{StatusUploading, StatusProcessing, true},
		{StatusUploading, StatusError, true},
		{StatusUploading, StatusDone, false},
		{StatusUploading, StatusPending, false},
		{StatusProcessing, StatusDone, true},
		{StatusProcessing, StatusError, true},
		{StatusProcessing, StatusProcessing, false},
		{StatusDone, StatusError, false},
		{StatusError, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}

	assert.True(t, StatusDone.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
}

func TestQueue(t *testing.T) {
	t.Run("Should claim pending items once each", func(t *testing.T) {
		q := NewQueue()
		q.Append(pendingItem("a"), pendingItem("b"))

		first, ok := q.Claim()
		require.True(t, ok)
		assert.Equal(t, "a", first.ID)
		assert.Equal(t, StatusUploading, first.Status)

		second, ok := q.Claim()
		require.True(t, ok)
		assert.Equal(t, "b", second.ID)

		_, ok = q.Claim()
		assert.False(t, ok)
		assert.False(t, q.HasClaimable())
	})

	t.Run("Should never hand the same item to two concurrent claimers", func(t *testing.T) {
		q := NewQueue()
		for i := 0; i < 500; i++ {
			q.Append(pendingItem(fmt.Sprintf("item-%d", i)))
		}

		var (
			mu     sync.Mutex
			counts = make(map[string]int)
			wg     sync.WaitGroup
		)
		for w := 0; w < 16; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					it, ok := q.Claim()
					if !ok {
						return
					}
					mu.Lock()
					counts[it.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, counts, 500)
		for id, n := range counts {
			assert.Equal(t, 1, n, "item %s claimed more than once", id)
		}
	})

	t.Run("Should reject illegal transitions", func(t *testing.T) {
		q := NewQueue()
		q.Append(pendingItem("a"))

		_, err := q.Update("a", func(it Item) (Item, bool) {
			it.Status = StatusDone
			return it, true
		})
		assert.True(t, errors.Is(err, ErrInvalidTransition))
		assert.Equal(t, StatusPending, q.Snapshot()[0].Status)

		_, err = q.Update("missing", func(it Item) (Item, bool) { return it, true })
		assert.True(t, errors.Is(err, ErrItemNotFound))
	})

	t.Run("Should keep published snapshots immutable", func(t *testing.T) {
		q := NewQueue()
		q.Append(pendingItem("a"))
		before := q.Snapshot()

		_, ok := q.Claim()
		require.True(t, ok)

		assert.Equal(t, StatusPending, before[0].Status)
		assert.Equal(t, StatusUploading, q.Snapshot()[0].Status)
	})

	t.Run("Should not publish when the update reports no change", func(t *testing.T) {
		q := NewQueue()
		var published int
		q.OnChange(func([]Item) { published++ })

		q.Append(pendingItem("a"))
		_, err := q.Update("a", func(it Item) (Item, bool) { return it, false })
		require.NoError(t, err)

		assert.Equal(t, 1, published)
	})

	t.Run("Should drain listed terminal items and keep everything else", func(t *testing.T) {
		q := NewQueue()
		q.Append(pendingItem("a"), pendingItem("b"), pendingItem("c"))

		for _, id := range []string{"a", "b", "c"} {
			_, ok := q.Claim()
			require.True(t, ok)
			_, err := q.Update(id, func(it Item) (Item, bool) {
				it.Status = StatusError
				it.Error = "boom"
				return it, true
			})
			require.NoError(t, err)
		}
		q.Append(pendingItem("late"))

		removed := q.Drain([]string{"a", "b", "late"})
		assert.Equal(t, 2, removed)

		snap := q.Snapshot()
		require.Len(t, snap, 2)
		assert.Equal(t, "c", snap[0].ID, "terminal items outside the list stay")
		assert.Equal(t, "late", snap[1].ID, "pending items are never drained")
		assert.True(t, q.HasClaimable())

		assert.Zero(t, q.Drain(nil))
	})

	t.Run("Should deliver snapshots in mutation order", func(t *testing.T) {
		q := NewQueue()
		var lengths []int
		q.OnChange(func(items []Item) { lengths = append(lengths, len(items)) })

		q.Append(pendingItem("a"))
		q.Append(pendingItem("b"))
		q.Append(pendingItem("c"))

		assert.Equal(t, []int{1, 2, 3}, lengths)
	})
}

func TestSizeLimitError(t *testing.T) {
	tests := []struct {
		limit int64
		want  string
	}{
		{20 << 20, "a.pdf is too large (max 20 MB)"},
		{1500000, "a.pdf is too large (max 1.4 MB)"},
		{500000, "a.pdf is too large (max 488 KB)"},
		{900, "a.pdf is too large (max 900 bytes)"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit %d", tt.limit), func(t *testing.T) {
			err := &SizeLimitError{FileName: "a.pdf", Size: tt.limit + 1, Limit: tt.limit}
			assert.Equal(t, tt.want, err.Error())
			assert.True(t, errors.Is(err, ErrFileTooLarge))
		})
	}
}
