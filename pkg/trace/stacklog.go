package trace

import (
	"sort"
	"sync"
)

// StackLogSize is the number of stack pointer values kept per stack.
const StackLogSize = 1024

type spRing struct {
	values [StackLogSize]uint32
	next   int
	n      int
}

func (r *spRing) last() (uint32, bool) {
	if r.n == 0 {
		return 0, false
	}
	return r.values[(r.next-1+StackLogSize)%StackLogSize], true
}

// StackLog records the history of stack pointer values per stack. A
// stack is identified by the id of the global symbol that contains the
// stack pointer.
type StackLog struct {
	mu     sync.Mutex
	stacks map[int]*spRing
}

// NewStackLog returns an empty log.
func NewStackLog() *StackLog {
	return &StackLog{stacks: make(map[int]*spRing)}
}

// Record appends sp to the history of stack if it differs from the last
// recorded value.
func (l *StackLog) Record(stack int, sp uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.stacks[stack]
	if r == nil {
		r = &spRing{}
		l.stacks[stack] = r
	}
	if v, ok := r.last(); ok && v == sp {
		return
	}
	r.values[r.next] = sp
	r.next = (r.next + 1) % StackLogSize
	if r.n < StackLogSize {
		r.n++
	}
}

// Stacks returns the ids of the stacks with a recorded history.
func (l *StackLog) Stacks() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := make([]int, 0, len(l.stacks))
	for id := range l.stacks {
		r = append(r, id)
	}
	sort.Ints(r)
	return r
}

// History returns the recorded values of stack, newest first.
func (l *StackLog) History(stack int) []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.stacks[stack]
	if r == nil {
		return nil
	}
	out := make([]uint32, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.values[(r.next-1-i+2*StackLogSize)%StackLogSize]
	}
	return out
}
