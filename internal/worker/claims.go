package worker

import "sync"

// Claims is the process-wide set of job ids currently being run. At most one
// worker holds a given id at a time.
type Claims struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewClaims returns an empty claim set.
func NewClaims() *Claims {
	return &Claims{ids: make(map[string]struct{})}
}

// TryClaim takes id if no other worker holds it.
func (c *Claims) TryClaim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.ids[id]; held {
		return false
	}
	c.ids[id] = struct{}{}
	return true
}

// Release gives id back.
func (c *Claims) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, id)
}
