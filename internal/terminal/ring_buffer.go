package terminal

import "sync"

// RingBuffer is a fixed-capacity circular buffer of output chunks. It lets
// a client that connects late replay recent terminal output.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      [][]byte
	capacity int
	pos      int // next write position
	full     bool
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		buf:      make([][]byte, capacity),
		capacity: capacity,
	}
}

// Write adds a chunk to the ring buffer.
func (rb *RingBuffer) Write(chunk []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = chunk
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// ReadAll returns all chunks in the buffer in chronological order.
func (rb *RingBuffer) ReadAll() [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([][]byte, rb.pos)
		copy(result, rb.buf[:rb.pos])
		return result
	}

	result := make([][]byte, rb.capacity)
	copy(result, rb.buf[rb.pos:])
	copy(result[rb.capacity-rb.pos:], rb.buf[:rb.pos])
	return result
}
