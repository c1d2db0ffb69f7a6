package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for single binary deployments and tests.
// Received messages stay in flight until deleted and are never redelivered.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []Message
	inFlight map[string]Message
	nextID   int
	notify   chan struct{}
}

func NewMemory() *MemoryQueue {
	return &MemoryQueue{
		inFlight: make(map[string]Message),
		notify:   make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Send(_ context.Context, body []byte) error {
	q.mu.Lock()
	q.nextID++
	q.ready = append(q.ready, Message{
		Body:   append([]byte(nil), body...),
		Handle: strconv.Itoa(q.nextID),
	})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if msgs := q.take(max); len(msgs) > 0 || wait <= 0 {
		return msgs, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return q.take(max), nil
		case <-q.notify:
			if msgs := q.take(max); len(msgs) > 0 {
				return msgs, nil
			}
		}
	}
}

func (q *MemoryQueue) take(max int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || max > len(q.ready) {
		max = len(q.ready)
	}
	msgs := q.ready[:max:max]
	q.ready = q.ready[max:]
	for _, m := range msgs {
		q.inFlight[m.Handle] = m
	}
	return msgs
}

func (q *MemoryQueue) Delete(_ context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inFlight[handle]; !ok {
		return fmt.Errorf("unknown handle %q", handle)
	}
	delete(q.inFlight, handle)
	return nil
}

// Len reports messages waiting to be received.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// InFlight reports messages received but not yet deleted.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}
