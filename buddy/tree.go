package buddy

import (
	"container/list"

	"github.com/google/btree"
)

const (
	treeUsedBit      = uint64(1)
	treeOrderShift   = 1
	treeOrderMask    = uint64(0x7F)
	treeAddressShift = 8
	treeAddressMask  = (uint64(1) << 56) - 1
)

// treeBlock is the packed 64-bit block record used by TreeAllocator:
// {used: 1 bit, order: 7 bits, address: 56 bits}. Packing the three fields
// into one word keeps a record (plus its tree link) to a single cache
// line; see original/buddy_allocator_tree.rs's bit_field-backed Block.
type treeBlock uint64

func makeTreeBlock(address uint64, order uint8, used bool) treeBlock {
	if address > treeAddressMask {
		panic("buddy: address exceeds the tree allocator's 56-bit limit")
	}
	w := address << treeAddressShift
	w |= uint64(order) << treeOrderShift
	if used {
		w |= treeUsedBit
	}
	return treeBlock(w)
}

func (b treeBlock) used() bool      { return uint64(b)&treeUsedBit != 0 }
func (b treeBlock) order() uint8    { return uint8((uint64(b) >> treeOrderShift) & treeOrderMask) }
func (b treeBlock) address() uint64 { return uint64(b) >> treeAddressShift }

func (b treeBlock) withUsed(used bool) treeBlock {
	if used {
		return treeBlock(uint64(b) | treeUsedBit)
	}
	return treeBlock(uint64(b) &^ treeUsedBit)
}

// treeRecord is the btree.Item wrapping a treeBlock. Records are kept
// behind a pointer so that flipping the used bit in place (AllocateExact,
// split) never requires removing and reinserting the item.
type treeRecord struct {
	word treeBlock
}

func (r *treeRecord) Less(than btree.Item) bool {
	return r.word.address() < than.(*treeRecord).word.address()
}

// freeList is the C3 free-list capability set: push, LIFO pop, and removal
// by handle (here, the block's address, a stable value unlike a raw
// pointer into a rebalancing tree). Two shapes are offered below, mirroring
// the ported source's Vec<*const Block> and SinglyLinkedList<BlockPtr>.
type freeList interface {
	push(addr uint64)
	pop() (uint64, bool)
	remove(addr uint64) bool
	len() int
}

// sliceFreeList is a slice-backed LIFO stack.
type sliceFreeList struct {
	items []uint64
}

func (s *sliceFreeList) push(a uint64) { s.items = append(s.items, a) }

func (s *sliceFreeList) pop() (uint64, bool) {
	n := len(s.items)
	if n == 0 {
		return 0, false
	}
	v := s.items[n-1]
	s.items = s.items[:n-1]
	return v, true
}

func (s *sliceFreeList) remove(a uint64) bool {
	for i, v := range s.items {
		if v == a {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

func (s *sliceFreeList) len() int { return len(s.items) }

// linkedFreeList is a singly-linked-list-shaped LIFO stack: push/pop both
// act on the front, exactly like the ported source's intrusive
// SinglyLinkedList push_front/pop_front free list.
type linkedFreeList struct {
	l *list.List
}

func newLinkedFreeList() *linkedFreeList {
	return &linkedFreeList{l: list.New()}
}

func (s *linkedFreeList) push(a uint64) { s.l.PushFront(a) }

func (s *linkedFreeList) pop() (uint64, bool) {
	e := s.l.Front()
	if e == nil {
		return 0, false
	}
	s.l.Remove(e)
	return e.Value.(uint64), true
}

func (s *linkedFreeList) remove(a uint64) bool {
	for e := s.l.Front(); e != nil; e = e.Next() {
		if e.Value.(uint64) == a {
			s.l.Remove(e)
			return true
		}
	}
	return false
}

func (s *linkedFreeList) len() int { return s.l.Len() }

// TreeAllocator is the C3 variant: an address-keyed ordered set of block
// records (a google/btree.BTree, standing in for the ported source's
// red-black tree) plus one LIFO free list per order.
type TreeAllocator struct {
	tree *btree.BTree
	free [LevelCount]freeList
}

// NewTreeAllocator returns a TreeAllocator whose free lists are slice-backed
// stacks.
func NewTreeAllocator() *TreeAllocator {
	return newTreeAllocator(func() freeList { return &sliceFreeList{} })
}

// NewTreeAllocatorLinked returns a TreeAllocator whose free lists are
// linked-list-backed stacks.
func NewTreeAllocatorLinked() *TreeAllocator {
	return newTreeAllocator(func() freeList { return newLinkedFreeList() })
}

func newTreeAllocator(newFreeList func() freeList) *TreeAllocator {
	a := &TreeAllocator{tree: btree.New(32)}
	for i := range a.free {
		a.free[i] = newFreeList()
	}
	return a
}

// CreateTopLevel inserts a new free order-MaxOrder record at base and makes
// it available on the order-MaxOrder free list.
func (a *TreeAllocator) CreateTopLevel(base uint64) error {
	a.tree.ReplaceOrInsert(&treeRecord{word: makeTreeBlock(base, MaxOrder, false)})
	a.free[MaxOrder].push(base)
	return nil
}

// AllocateExact returns the address of a free block of the given order,
// splitting a higher-order block as needed.
func (a *TreeAllocator) AllocateExact(order uint8) (uint64, error) {
	if order > MaxOrder {
		return 0, orderTooLarge(order)
	}
	addr, err := a.findOrSplit(order)
	if err != nil {
		return 0, err
	}
	a.free[order].remove(addr)
	rec := a.recordAt(addr)
	rec.word = rec.word.withUsed(true)
	return addr, nil
}

// Deallocate is declared for the external contract but not implemented.
func (a *TreeAllocator) Deallocate(addr uint64) error {
	return errNotImplemented
}

// Len returns the number of block records currently in the tree.
func (a *TreeAllocator) Len() int { return a.tree.Len() }

// Addresses returns every block's address in ascending order. Because the
// tree is keyed by address and buddies have adjacent addresses, this is
// always the in-order traversal of the tree.
func (a *TreeAllocator) Addresses() []uint64 {
	out := make([]uint64, 0, a.tree.Len())
	a.tree.Ascend(func(i btree.Item) bool {
		out = append(out, i.(*treeRecord).word.address())
		return true
	})
	return out
}

func (a *TreeAllocator) recordAt(addr uint64) *treeRecord {
	item := a.tree.Get(&treeRecord{word: makeTreeBlock(addr, 0, false)})
	if item == nil {
		panic("buddy: free-list handle points at a record missing from the tree")
	}
	return item.(*treeRecord)
}

// findOrSplit returns the address of a free block of the given order,
// recursively splitting a higher-order block if the order's free list is
// empty.
func (a *TreeAllocator) findOrSplit(order uint8) (uint64, error) {
	if addr, ok := a.free[order].pop(); ok {
		return addr, nil
	}
	if order == MaxOrder {
		return 0, ErrExhausted
	}
	parentAddr, err := a.findOrSplit(order + 1)
	if err != nil {
		return 0, err
	}
	return a.split(order+1, parentAddr)
}

// split replaces the record at addr (order k) with its first buddy (order
// k-1, same address), inserts the second buddy immediately after it in
// address order, and pushes both onto free[k-1]. It returns the first
// buddy's address.
func (a *TreeAllocator) split(order uint8, addr uint64) (uint64, error) {
	if order == 0 {
		panic("buddy: attempted to split an order-0 block")
	}

	rec := a.recordAt(addr)
	if rec.word.used() {
		panic("buddy: attempted to split a used block")
	}

	a.free[order].remove(addr)

	childOrder := order - 1
	secondAddr := addr + BlockSize(childOrder)

	rec.word = makeTreeBlock(addr, childOrder, false)
	a.tree.ReplaceOrInsert(&treeRecord{word: makeTreeBlock(secondAddr, childOrder, false)})

	a.free[childOrder].push(addr)
	a.free[childOrder].push(secondAddr)

	return addr, nil
}
