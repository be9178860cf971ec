package imap

// processedCache remembers which remote messages were already delivered.
// Entries live in a ring in insertion order; once the cache grows past its
// capacity the oldest half is dropped, so recent ids always survive.
// It is not safe for concurrent use; the listener guards it with the
// session mutex.
type processedCache struct {
	capacity int
	ring     []string
	head     int // index of the oldest entry
	size     int
	index    map[string]struct{}
}

func newProcessedCache(capacity int) *processedCache {
	if capacity < 2 {
		capacity = 2
	}
	return &processedCache{
		capacity: capacity,
		ring:     make([]string, capacity+1),
		index:    make(map[string]struct{}, capacity+1),
	}
}

func (c *processedCache) Contains(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Add records id. It reports false when id was already present.
func (c *processedCache) Add(id string) bool {
	if c.Contains(id) {
		return false
	}

	c.ring[(c.head+c.size)%len(c.ring)] = id
	c.size++
	c.index[id] = struct{}{}

	if c.size > c.capacity {
		c.evictOldest(c.size / 2)
	}
	return true
}

func (c *processedCache) Len() int {
	return c.size
}

// Trim drops the oldest half once the cache is at least half full. The
// periodic cleanup calls it to keep a long-running listener's memory small.
func (c *processedCache) Trim() int {
	if c.size < c.capacity/2 {
		return 0
	}
	n := c.size / 2
	c.evictOldest(n)
	return n
}

func (c *processedCache) evictOldest(n int) {
	for i := 0; i < n && c.size > 0; i++ {
		delete(c.index, c.ring[c.head])
		c.ring[c.head] = ""
		c.head = (c.head + 1) % len(c.ring)
		c.size--
	}
}
