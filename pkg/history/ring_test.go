package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	assert.Empty(t, r.Snapshot())

	for i := 1; i <= 5; i++ {
		r.Append(i)
	}

	assert.True(t, r.Full())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())

	latest, ok := r.Latest()
	assert.True(t, ok)
	assert.Equal(t, 5, latest)
}

func TestRing_PartialFill(t *testing.T) {
	r := NewRing[string](4)
	r.Append("a")
	r.Append("b")

	assert.False(t, r.Full())
	assert.Equal(t, []string{"a", "b"}, r.Snapshot())
}

func TestRing_SnapshotIsCopy(t *testing.T) {
	r := NewRing[int](2)
	r.Append(1)
	snap := r.Snapshot()
	snap[0] = 99

	assert.Equal(t, []int{1}, r.Snapshot())
}

func TestRing_LatestEmpty(t *testing.T) {
	r := NewRing[int](1)
	_, ok := r.Latest()
	assert.False(t, ok)
}

func TestNewRing_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { NewRing[int](0) })
}
