package engine

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_StartsAtZero(t *testing.T) {
	c := NewClock()

	assert.Zero(t, c.Current())
	first, second := c.Next(), c.Next()
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	assert.Equal(t, second, c.Current(), "Current must not advance the clock")
}

func TestClock_SeededResumesSequence(t *testing.T) {
	c := NewClockAt(41)

	require.Equal(t, int64(41), c.Current())
	assert.Equal(t, int64(42), c.Next(), "first claim continues past the seed")
	assert.Equal(t, int64(43), c.Next())
}

func TestClock_ConcurrentClaimsAreDistinct(t *testing.T) {
	c := NewClock()
	const workers, claims = 8, 250

	out := make([][]int64, workers)
	var wg sync.WaitGroup
	for w := range out {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < claims; i++ {
				out[w] = append(out[w], c.Next())
			}
		}(w)
	}
	wg.Wait()

	var all []int64
	for _, seqs := range out {
		all = append(all, seqs...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	require.Len(t, all, workers*claims)
	for i, seq := range all {
		require.Equal(t, int64(i+1), seq, "claims must be gap-free and distinct")
	}
	assert.Equal(t, int64(workers*claims), c.Current())
}
