package corethread

import (
	"fmt"

	"github.com/petermattis/goid"
)

// defaultArenaSize is the initial capacity of each frame arena in bytes.
const defaultArenaSize = 1 << 20

// FrameArena is a bump allocator valid for exactly one frame.
//
// The core thread manager owns a pair of arenas and swaps the active one on
// every Update: the sim thread fills the active arena with per-frame data
// (typically serialized object diffs) while the core thread consumes the
// previous frame's arena. Memory is reclaimed wholesale by Reset; individual
// allocations are never freed.
//
// A FrameArena is not safe for concurrent use. Exclusive access moves between
// threads once per frame; when the owning Thread carries a DebugContext the
// arena tags its legitimate owner goroutine and panics on cross-goroutine
// allocation. The tag is a check, not an enforcement.
type FrameArena struct {
	blocks [][]byte // blocks[0] is the primary block, rest are overflow
	cur    int      // index of the block being bumped
	off    int      // bump offset within blocks[cur]

	// owner is the goroutine currently allowed to allocate. Checked only
	// when debug is true.
	owner int64
	debug bool
}

// NewFrameArena creates an arena with the given initial capacity in bytes.
// A size of 0 uses a default of one MiB.
func NewFrameArena(size int) *FrameArena {
	if size <= 0 {
		size = defaultArenaSize
	}
	return &FrameArena{
		blocks: [][]byte{make([]byte, size)},
		owner:  goid.Get(),
	}
}

// Alloc returns a zeroed n-byte slice carved out of the arena. The slice is
// valid until the arena is reset; callers must not retain it across frames.
//
// When the current block is exhausted a new block of at least the same size
// is appended, so Alloc never fails. Previously returned slices stay valid.
func (a *FrameArena) Alloc(n int) []byte {
	a.checkOwner()
	if n == 0 {
		return nil
	}
	blk := a.blocks[a.cur]
	if a.off+n > len(blk) {
		size := len(a.blocks[0])
		if n > size {
			size = n
		}
		a.blocks = append(a.blocks, make([]byte, size))
		a.cur++
		a.off = 0
		blk = a.blocks[a.cur]
	}
	out := blk[a.off : a.off+n : a.off+n]
	a.off += n
	clear(out)
	return out
}

// Used returns the number of bytes allocated since the last reset.
func (a *FrameArena) Used() int {
	total := a.off
	for i := 0; i < a.cur; i++ {
		total += len(a.blocks[i])
	}
	return total
}

// Reset discards every allocation. Overflow blocks are dropped so a frame
// with unusual allocation pressure does not pin memory forever; the primary
// block is kept.
func (a *FrameArena) Reset() {
	a.checkOwner()
	a.blocks = a.blocks[:1]
	a.cur = 0
	a.off = 0
}

// setOwner transfers the arena's legitimate owner. Called by the Thread when
// the active arena swaps.
func (a *FrameArena) setOwner(gid int64) {
	a.owner = gid
}

func (a *FrameArena) checkOwner() {
	if !a.debug {
		return
	}
	if g := goid.Get(); g != a.owner {
		panic(fmt.Sprintf("corethread: frame arena used from goroutine %d, owned by %d", g, a.owner))
	}
}
