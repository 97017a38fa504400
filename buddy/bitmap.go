package buddy

import "math/bits"

// blocksInTree returns the number of nodes in a complete binary tree with
// the given number of levels: 2^levels - 1.
func blocksInTree(levels uint8) int {
	return (1 << levels) - 1
}

// BitmapTree is the C4 variant: a single top-level region represented as a
// flat, 1-indexed implicit binary tree. nodes[i] is the order_free byte for
// node i: 0 means the subtree rooted at i is fully allocated, otherwise the
// largest free order anywhere in that subtree is nodes[i]-1. nodes[0] is
// unused padding so that node indices match the 1-based math in §4.4.
type BitmapTree struct {
	base  uint64
	nodes []uint8
}

// NewBitmapTree returns a BitmapTree representing a single fully-free
// top-level region starting at address 0.
func NewBitmapTree() *BitmapTree {
	return newBitmapTreeAt(0)
}

func newBitmapTreeAt(base uint64) *BitmapTree {
	n := blocksInTree(LevelCount)
	// getArena's contents are not zeroed; every cell below is written
	// exactly once before any read, so the skipped zero-fill never shows.
	nodes := getArena(n + 1)

	for i := 1; i <= n; i++ {
		depth := uint8(bits.Len(uint(i))) - 1
		nodes[i] = (MaxOrder - depth) + 1
	}

	return &BitmapTree{base: base, nodes: nodes}
}

// Release returns the tree's backing array to the shared arena pool. The
// tree must not be used afterwards.
func (t *BitmapTree) Release() {
	putArena(t.nodes)
	t.nodes = nil
}

// AllocExact finds the leftmost free block of exactly the requested order,
// marks it used, and returns its address relative to the tree's base.
func (t *BitmapTree) AllocExact(desiredOrder uint8) (uint64, error) {
	if desiredOrder > MaxOrder {
		return 0, orderTooLarge(desiredOrder)
	}

	root := t.nodes[1]
	if root == 0 || root-1 < desiredOrder {
		return 0, ErrExhausted
	}

	index := 1
	var addr uint64
	steps := MaxOrder - desiredOrder

	for level := uint8(0); level < steps; level++ {
		left := index * 2
		// nodes[left] is the raw order_free byte (actual order + 1).
		// Comparing it directly against desiredOrder is equivalent to
		// checking "actual free order of the left subtree >= desiredOrder"
		// without decoding it first: the offset-by-one encoding exists
		// precisely so this comparison can skip the decode.
		if t.nodes[left] > desiredOrder {
			index = left
		} else {
			addr |= 1 << (uint64(BaseOrder) + uint64(MaxOrder) - uint64(level) - 1)
			index = left + 1
		}
	}

	t.nodes[index] = 0

	for level := uint8(0); level < steps; level++ {
		index /= 2
		l, r := t.nodes[index*2], t.nodes[index*2+1]
		if l > r {
			t.nodes[index] = l
		} else {
			t.nodes[index] = r
		}
	}

	return t.base + addr, nil
}

// BitmapAllocator is the Allocator-contract wrapper around one or more
// BitmapTree regions: CreateTopLevel adds a region, AllocateExact tries
// each registered region in turn (the first exhausted region is simply
// skipped in favor of the next one, per §4.4's "external loop").
type BitmapAllocator struct {
	regions []*BitmapTree
}

// NewBitmapAllocator returns a BitmapAllocator with no regions registered.
func NewBitmapAllocator() *BitmapAllocator {
	return &BitmapAllocator{}
}

// CreateTopLevel registers a fresh, fully-free top-level region at base.
func (a *BitmapAllocator) CreateTopLevel(base uint64) error {
	a.regions = append(a.regions, newBitmapTreeAt(base))
	return nil
}

// AllocateExact returns the address of a free block of the given order
// from the first registered region that can supply one.
func (a *BitmapAllocator) AllocateExact(order uint8) (uint64, error) {
	if order > MaxOrder {
		return 0, orderTooLarge(order)
	}
	for _, region := range a.regions {
		addr, err := region.AllocExact(order)
		if err == nil {
			return addr, nil
		}
		if err != ErrExhausted {
			return 0, err
		}
	}
	return 0, ErrExhausted
}

// Deallocate is declared for the external contract but not implemented.
func (a *BitmapAllocator) Deallocate(addr uint64) error {
	return errNotImplemented
}

// Close releases every registered region's backing array to the shared
// arena pool. The allocator must not be used afterwards.
func (a *BitmapAllocator) Close() {
	for _, region := range a.regions {
		region.Release()
	}
	a.regions = nil
}
