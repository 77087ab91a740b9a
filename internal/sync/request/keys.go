package request

import (
	"github.com/cfx-go/cfxcore/internal/sync/message"
)

// KeyContainer records which request owns each inflight key. A key is
// present if and only if exactly one live request claims it.
//
// KeyContainer is not safe for concurrent use; the Manager guards it.
type KeyContainer struct {
	owners map[message.Key]uint64
}

func NewKeyContainer() *KeyContainer {
	return &KeyContainer{owners: make(map[message.Key]uint64)}
}

// Free returns the keys that no request claims, in order.
func (c *KeyContainer) Free(keys []message.Key) []message.Key {
	free := make([]message.Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := c.owners[k]; !ok {
			free = append(free, k)
		}
	}
	return free
}

// Claim assigns every free key to owner and returns the keys it got. Keys
// claimed by another request are skipped.
func (c *KeyContainer) Claim(keys []message.Key, owner uint64) []message.Key {
	claimed := make([]message.Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := c.owners[k]; ok {
			continue
		}
		c.owners[k] = owner
		claimed = append(claimed, k)
	}
	return claimed
}

// Release frees the keys owned by owner and returns how many were freed.
// Keys owned by other requests are left alone, so releasing twice is
// harmless.
func (c *KeyContainer) Release(keys []message.Key, owner uint64) int {
	released := 0
	for _, k := range keys {
		if id, ok := c.owners[k]; ok && id == owner {
			delete(c.owners, k)
			released++
		}
	}
	return released
}

// Owner returns the request that claims key.
func (c *KeyContainer) Owner(key message.Key) (owner uint64, ok bool) {
	owner, ok = c.owners[key]
	return owner, ok
}

func (c *KeyContainer) Contains(key message.Key) bool {
	_, ok := c.owners[key]
	return ok
}

func (c *KeyContainer) Len() int { return len(c.owners) }
