package payment

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ApprovalCache is a bounded keyed store of approvals by partner order id.
// Approvals never change once written, so entries are only evicted, never stale.
type ApprovalCache struct {
	cache *lru.Cache[string, *Approval]
}

// NewApprovalCache creates a cache holding at most size approvals
func NewApprovalCache(size int) (*ApprovalCache, error) {
	c, err := lru.New[string, *Approval](size)
	if err != nil {
		return nil, err
	}
	return &ApprovalCache{cache: c}, nil
}

func (c *ApprovalCache) Get(orderID string) (*Approval, bool) {
	return c.cache.Get(orderID)
}

func (c *ApprovalCache) Put(a *Approval) {
	c.cache.Add(a.PartnerOrderID, a)
}

func (c *ApprovalCache) Invalidate(orderID string) {
	c.cache.Remove(orderID)
}

func (c *ApprovalCache) Len() int {
	return c.cache.Len()
}

// keyedMutex serializes work per key within this process
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release func
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
