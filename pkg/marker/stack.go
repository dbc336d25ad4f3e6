package marker

import (
	"sync"

	"vmcore/pkg/heap"
)

// BlockSize is the number of object pointers in one marking block
const BlockSize = 64

// Block is a fixed-capacity batch of objects. A block is owned by one
// worker at a time; stacks hand out and take back whole blocks only.
type Block struct {
	next *Block
	top  int
	ptrs [BlockSize]*heap.Object
}

func (b *Block) IsEmpty() bool { return b.top == 0 }
func (b *Block) IsFull() bool  { return b.top == BlockSize }
func (b *Block) Len() int      { return b.top }

func (b *Block) Push(o *heap.Object) {
	b.ptrs[b.top] = o
	b.top++
}

func (b *Block) Pop() *heap.Object {
	b.top--
	o := b.ptrs[b.top]
	b.ptrs[b.top] = nil
	return o
}

func (b *Block) reset() {
	for i := 0; i < b.top; i++ {
		b.ptrs[i] = nil
	}
	b.top = 0
	b.next = nil
}

var blockPool = sync.Pool{New: func() any { return new(Block) }}

func newBlock() *Block { return blockPool.Get().(*Block) }

func releaseBlock(b *Block) {
	b.reset()
	blockPool.Put(b)
}

// MarkingStack is a chain of blocks shared by the marking workers. Full
// and partial blocks are kept on separate lists so that stealing hands
// out a whole batch.
type MarkingStack struct {
	mu      sync.Mutex
	full    *Block
	partial *Block
}

// Push adds a single object. The mutator's barrier uses this; workers
// push through their WorkList.
func (s *MarkingStack) Push(o *heap.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.partial
	if b == nil {
		b = newBlock()
	} else {
		s.partial = b.next
	}
	b.Push(o)
	s.pushLocked(b)
}

// PushBlock gives a block to the stack. Empty blocks are recycled.
func (s *MarkingStack) PushBlock(b *Block) {
	if b.IsEmpty() {
		releaseBlock(b)
		return
	}
	s.mu.Lock()
	s.pushLocked(b)
	s.mu.Unlock()
}

func (s *MarkingStack) pushLocked(b *Block) {
	if b.IsFull() {
		b.next = s.full
		s.full = b
		return
	}
	b.next = s.partial
	s.partial = b
}

// StealBlock detaches a full block, or returns nil when there is none
func (s *MarkingStack) StealBlock() *Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.full
	if b != nil {
		s.full = b.next
		b.next = nil
	}
	return b
}

// PopNonEmptyBlock detaches a full block if there is one, then a partial
// one. It returns nil when the stack is empty.
func (s *MarkingStack) PopNonEmptyBlock() *Block {
	if b := s.StealBlock(); b != nil {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.partial
	if b != nil {
		s.partial = b.next
		b.next = nil
	}
	return b
}

func (s *MarkingStack) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full == nil && s.partial == nil
}

// Len counts the objects on the stack
func (s *MarkingStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, list := range [...]*Block{s.full, s.partial} {
		for b := list; b != nil; b = b.next {
			n += b.top
		}
	}
	return n
}

// Reset drops every block
func (s *MarkingStack) Reset() {
	s.mu.Lock()
	full, partial := s.full, s.partial
	s.full, s.partial = nil, nil
	s.mu.Unlock()
	for _, list := range [...]*Block{full, partial} {
		for b := list; b != nil; {
			next := b.next
			releaseBlock(b)
			b = next
		}
	}
}

// Filter rewrites every entry through fn, which returns the object to
// keep and the stack to keep it on. A nil object drops the entry.
func (s *MarkingStack) Filter(fn func(*heap.Object) (*heap.Object, *MarkingStack)) {
	s.mu.Lock()
	full, partial := s.full, s.partial
	s.full, s.partial = nil, nil
	s.mu.Unlock()

	var keep WorkList
	keep.Init(s)
	for _, list := range [...]*Block{full, partial} {
		for b := list; b != nil; {
			next := b.next
			for !b.IsEmpty() {
				o, dst := fn(b.Pop())
				switch {
				case o == nil:
				case dst == s || dst == nil:
					keep.Push(o)
				default:
					dst.Push(o)
				}
			}
			releaseBlock(b)
			b = next
		}
	}
	keep.Flush()
}

// WorkList is a worker's view of a MarkingStack: one local block for
// pushes and pops, exchanged with the shared stack when it fills up or
// runs dry
type WorkList struct {
	stack *MarkingStack
	local *Block
}

func (w *WorkList) Init(s *MarkingStack) {
	w.stack = s
	w.local = newBlock()
}

func (w *WorkList) Push(o *heap.Object) {
	if w.local.IsFull() {
		w.stack.PushBlock(w.local)
		w.local = newBlock()
	}
	w.local.Push(o)
}

// Pop returns the next object, taking a block from the shared stack when
// the local one is empty
func (w *WorkList) Pop() (*heap.Object, bool) {
	if w.local.IsEmpty() {
		b := w.stack.PopNonEmptyBlock()
		if b == nil {
			return nil, false
		}
		releaseBlock(w.local)
		w.local = b
	}
	return w.local.Pop(), true
}

func (w *WorkList) IsLocalEmpty() bool { return w.local.IsEmpty() }

// IsEmpty reports whether both the local block and the shared stack are
// empty
func (w *WorkList) IsEmpty() bool {
	return w.local.IsEmpty() && w.stack.IsEmpty()
}

// Flush publishes the local block to the shared stack
func (w *WorkList) Flush() {
	if w.local.IsEmpty() {
		return
	}
	w.stack.PushBlock(w.local)
	w.local = newBlock()
}
