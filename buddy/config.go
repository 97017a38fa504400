package buddy

import "fmt"

const (
	// BaseOrder is the exponent of the smallest block size. A block of
	// order 0 occupies 2^BaseOrder bytes. Must be >= 12 so the smallest
	// block always covers a 4KiB page.
	BaseOrder uint8 = 12

	// LevelCount is the number of orders managed by a single top-level
	// region, including order 0. MaxOrder = LevelCount - 1.
	LevelCount uint8 = 19

	// MaxOrder is the exponent of the largest block size a region can
	// hand out. The top-level region itself is always a single order
	// MaxOrder block.
	MaxOrder uint8 = LevelCount - 1
)

// BlockSize returns the size in bytes of a block of the given order.
func BlockSize(order uint8) uint64 {
	return 1 << (uint64(BaseOrder) + uint64(order))
}

// RegionSize is the size in bytes of a single top-level region, i.e. the
// size of an order-MaxOrder block.
func RegionSize() uint64 {
	return BlockSize(MaxOrder)
}

// PageSize names one of the canonical page sizes a caller may request a
// block by, instead of specifying a raw order.
type PageSize uint8

const (
	Kib4 PageSize = iota
	Mib2
	Gib1
)

// PowerOfTwo returns the exponent such that the page size is 2^PowerOfTwo
// bytes.
func (p PageSize) PowerOfTwo() uint8 {
	switch p {
	case Kib4:
		return 12
	case Mib2:
		return 21
	case Gib1:
		return 30
	default:
		panic(fmt.Sprintf("buddy: unknown page size %d", p))
	}
}

// Order converts the page size to the order it corresponds to under this
// package's BaseOrder.
func (p PageSize) Order() uint8 {
	return p.PowerOfTwo() - BaseOrder
}

func (p PageSize) String() string {
	switch p {
	case Kib4:
		return "4KiB"
	case Mib2:
		return "2MiB"
	case Gib1:
		return "1GiB"
	default:
		return fmt.Sprintf("PageSize(%d)", uint8(p))
	}
}

// TopLevelBlocks returns how many top-level regions must be registered
// (via CreateTopLevel) to satisfy `blocks` allocations of the given order.
func TopLevelBlocks(blocks uint32, blockOrder uint8) uint64 {
	needed := float64(BlockSize(blockOrder)) * float64(blocks) / float64(RegionSize())
	whole := uint64(needed)
	if float64(whole) < needed {
		whole++
	}
	return whole
}
