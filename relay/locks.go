package relay

import "sync"

// channelLocks hands out one mutex per channel id. Holding the channel's
// mutex across a mutation and its outbound notifications is what keeps
// join, publish and disconnect on the same channel serialized, so a
// producer observes consumer counts in order and a fan-out never
// interleaves with a teardown.
type channelLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newChannelLocks() *channelLocks {
	return &channelLocks{locks: make(map[string]*sync.Mutex)}
}

func (c *channelLocks) get(channelID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.locks[channelID]
	if !ok {
		m = &sync.Mutex{}
		c.locks[channelID] = m
	}
	return m
}

// drop forgets a deleted channel's mutex. A goroutine still blocked on the
// old mutex proceeds against the now-absent registry entry and gets a clean
// not-found.
func (c *channelLocks) drop(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, channelID)
}
