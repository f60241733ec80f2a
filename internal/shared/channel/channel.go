// Package channel provides the message channel between a host controller and
// an isolation boundary.
//
// An Endpoint moves opaque byte frames. Sends never block on the peer: frames
// are queued in FIFO order and delivered by a pump goroutine. Closing either
// end tears the channel down for both.
package channel

import (
	"errors"
	"sync"
)

// ErrClosed is returned when sending on a closed channel
var ErrClosed = errors.New("channel closed")

// Endpoint is one side of a message channel
type Endpoint interface {
	// Send queues a frame for the peer. It never waits for the peer to read.
	Send(data []byte) error
	// Receive yields frames from the peer in send order. The channel is
	// closed once the endpoint is torn down.
	Receive() <-chan []byte
	// Close tears down the channel. Safe to call more than once.
	Close() error
}

// queue is an unbounded FIFO drained into out by a single goroutine
type queue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	signal chan struct{}
	done   chan struct{}
	out    chan []byte
}

func newQueue() *queue {
	q := &queue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan []byte),
	}
	go q.pump()
	return q
}

func (q *queue) push(data []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, data)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

func (q *queue) pump() {
	defer close(q.out)

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.signal:
			case <-q.done:
				return
			}
			continue
		}
		item := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- item:
		case <-q.done:
			return
		}
	}
}

// pipeEnd is one side of an in-process pipe
type pipeEnd struct {
	send *queue
	recv *queue
}

// Pipe returns two connected in-process endpoints. Frames are copied on send
// so the sides never alias each other's buffers.
func Pipe() (Endpoint, Endpoint) {
	ab := newQueue()
	ba := newQueue()
	return &pipeEnd{send: ab, recv: ba}, &pipeEnd{send: ba, recv: ab}
}

func (p *pipeEnd) Send(data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)
	return p.send.push(frame)
}

func (p *pipeEnd) Receive() <-chan []byte {
	return p.recv.out
}

func (p *pipeEnd) Close() error {
	p.send.close()
	p.recv.close()
	return nil
}
