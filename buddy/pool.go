package buddy

import (
	"sync"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// pools reuses the flat order_free arrays backing BitmapTree values,
// size-classed the same way cache/mempool buckets its buffers: one
// sync.Pool per distinct array size, guarded by poolsMu. Every tree is
// built at the package's LevelCount, so in practice a single size class
// is used.
var (
	poolsMu sync.Mutex
	pools   = map[int]*sync.Pool{}
)

const (
	minPoolSize = 1 << 9  // 512 cells
	maxPoolSize = 1 << 24 // 16Mi cells
)

func poolFor(size int) *sync.Pool {
	poolsMu.Lock()
	defer poolsMu.Unlock()

	p, ok := pools[size]
	if !ok {
		p = &sync.Pool{New: func() interface{} {
			return dirtmake.Bytes(size, size)
		}}
		pools[size] = p
	}
	return p
}

// getArena returns a []uint8 of exactly size bytes, reused from a pool
// when the size falls within the pooled range. The contents are not
// zeroed; callers must overwrite every cell before reading any of them.
func getArena(size int) []uint8 {
	if size < minPoolSize || size > maxPoolSize {
		return dirtmake.Bytes(size, size)
	}
	return poolFor(size).Get().([]byte)
}

// putArena returns a previously-obtained arena to its pool. It is a no-op
// for arenas outside the pooled size range.
func putArena(buf []uint8) {
	size := cap(buf)
	if size < minPoolSize || size > maxPoolSize {
		return
	}
	poolFor(size).Put(buf[:size])
}
