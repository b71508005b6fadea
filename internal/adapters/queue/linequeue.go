package queue

import (
	"sync"

	"github.com/ghalamif/telemdeck/internal/ports"
)

// LineQueue is an unbounded in-memory FIFO of raw lines. The reader goroutine
// pushes, the tick consumer drains everything at once.
type LineQueue struct {
	mu   sync.Mutex
	data []string
}

func NewLineQueue(initialCap int) *LineQueue {
	if initialCap < 0 {
		initialCap = 0
	}
	return &LineQueue{data: make([]string, 0, initialCap)}
}

func (q *LineQueue) Push(line string) {
	q.mu.Lock()
	q.data = append(q.data, line)
	q.mu.Unlock()
}

// TryPopAll never blocks on an empty queue; it returns nil instead.
func (q *LineQueue) TryPopAll() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	out := q.data
	q.data = make([]string, 0, cap(out))
	return out
}

func (q *LineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Discard drops everything buffered and reports how many lines were lost.
func (q *LineQueue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.data)
	q.data = q.data[:0]
	return n
}

var _ ports.LineQueue = (*LineQueue)(nil)
