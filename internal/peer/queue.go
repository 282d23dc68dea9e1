package peer

import (
	"context"
	"sync"
)

// opQueue is an unbounded FIFO of negotiation steps run by one worker
// goroutine, so steps for a session never overlap and keep submission order.
type opQueue struct {
	mu     sync.Mutex
	ops    []func(ctx context.Context)
	notify chan struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{notify: make(chan struct{}, 1)}
}

func (q *opQueue) push(op func(ctx context.Context)) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *opQueue) pop() (func(ctx context.Context), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return nil, false
	}
	op := q.ops[0]
	q.ops[0] = nil
	q.ops = q.ops[1:]
	return op, true
}

func (q *opQueue) clear() {
	q.mu.Lock()
	q.ops = nil
	q.mu.Unlock()
}

// run executes queued steps until ctx is cancelled.
func (q *opQueue) run(ctx context.Context) {
	for {
		for {
			if ctx.Err() != nil {
				return
			}
			op, ok := q.pop()
			if !ok {
				break
			}
			op(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		}
	}
}
