package modules

import "sync"

// Counter hands out a strictly increasing sequence: start, start+step, ...
type Counter struct {
	mu   sync.Mutex
	next uint64
	step uint64
}

func NewCounter(start, step uint64) *Counter {
	if step == 0 {
		step = 1
	}
	return &Counter{next: start, step: step}
}

// Next returns the current value and advances the counter.
func (c *Counter) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next
	c.next += c.step
	return n
}

func (c *Counter) Peek() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Observe records an externally assigned value so later calls to Next never
// hand out n or anything below it.
func (c *Counter) Observe(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n+c.step > c.next {
		c.next = n + c.step
	}
}

// Release gives n back if it is the value most recently handed out.
func (c *Counter) Release(n uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n+c.step != c.next {
		return false
	}
	c.next = n
	return true
}
