package buddy

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func treeConstructors() map[string]func() *TreeAllocator {
	return map[string]func() *TreeAllocator{
		"slice":  NewTreeAllocator,
		"linked": NewTreeAllocatorLinked,
	}
}

func TestTreeCreateTopLevel(t *testing.T) {
	for name, newAlloc := range treeConstructors() {
		t.Run(name, func(t *testing.T) {
			a := newAlloc()
			require.NoError(t, a.CreateTopLevel(0))
			require.NoError(t, a.CreateTopLevel(RegionSize()))
			assert.Equal(t, 2, a.Len())
			assert.Equal(t, []uint64{0, RegionSize()}, a.Addresses())
		})
	}
}

// Boundary scenario 5.
func TestTreeAllocateExactWholeRegion(t *testing.T) {
	for name, newAlloc := range treeConstructors() {
		t.Run(name, func(t *testing.T) {
			a := newAlloc()
			require.NoError(t, a.CreateTopLevel(0))

			addr, err := a.AllocateExact(MaxOrder)
			require.NoError(t, err)
			assert.Equal(t, uint64(0), addr)
			assert.True(t, a.recordAt(addr).word.used())

			_, err = a.AllocateExact(MaxOrder)
			assert.ErrorIs(t, err, ErrExhausted)
		})
	}
}

// Boundary scenario 6: after allocating order MaxOrder-2, the tree holds
// three records: the allocated block plus its two ancestor-splits' buddies.
func TestTreeAllocateExactSplitsRecursively(t *testing.T) {
	for name, newAlloc := range treeConstructors() {
		t.Run(name, func(t *testing.T) {
			a := newAlloc()
			require.NoError(t, a.CreateTopLevel(0))

			addr, err := a.AllocateExact(MaxOrder - 2)
			require.NoError(t, err)
			assert.Equal(t, uint64(0), addr)
			assert.Equal(t, 3, a.Len())

			rec := a.recordAt(addr)
			assert.Equal(t, MaxOrder-2, rec.word.order())
			assert.True(t, rec.word.used())
		})
	}
}

// P7: in-order traversal of the address-keyed tree always yields addresses
// in ascending order, since buddies have adjacent addresses.
func TestTreeAddressesAreAscending(t *testing.T) {
	a := NewTreeAllocator()
	require.NoError(t, a.CreateTopLevel(0))
	require.NoError(t, a.CreateTopLevel(RegionSize()))

	for i := 0; i < 10; i++ {
		_, err := a.AllocateExact(uint8(i % int(MaxOrder)))
		require.NoError(t, err)
	}

	addrs := a.Addresses()
	sorted := append([]uint64(nil), addrs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	assert.Equal(t, sorted, addrs)
}

func TestTreeAllocateExactOrderTooLarge(t *testing.T) {
	a := NewTreeAllocator()
	require.NoError(t, a.CreateTopLevel(0))

	_, err := a.AllocateExact(MaxOrder + 1)
	var tooLarge *OrderTooLargeError
	assert.ErrorAs(t, err, &tooLarge)
}

func TestTreeAllocateExactExhaustedWithNoRegions(t *testing.T) {
	a := NewTreeAllocator()
	_, err := a.AllocateExact(0)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestTreeAllocationsAreAlignedAndDistinct(t *testing.T) {
	a := NewTreeAllocator()
	require.NoError(t, a.CreateTopLevel(0))

	seen := map[uint64]bool{}
	for i := 0; i < 64; i++ {
		addr, err := a.AllocateExact(2)
		require.NoError(t, err)
		assert.Zero(t, addr%BlockSize(2))
		require.False(t, seen[addr])
		seen[addr] = true
	}
}

func TestTreeDeallocateNotImplemented(t *testing.T) {
	a := NewTreeAllocator()
	require.NoError(t, a.CreateTopLevel(0))
	addr, err := a.AllocateExact(MaxOrder)
	require.NoError(t, err)

	assert.Error(t, a.Deallocate(addr))
}

func TestTreeBlockPacking(t *testing.T) {
	w := makeTreeBlock(1<<40, 17, true)
	assert.Equal(t, uint64(1<<40), w.address())
	assert.Equal(t, uint8(17), w.order())
	assert.True(t, w.used())

	free := w.withUsed(false)
	assert.False(t, free.used())
	assert.Equal(t, w.address(), free.address())
	assert.Equal(t, w.order(), free.order())
}
