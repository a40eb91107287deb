package proxy

import (
	"reflect"
	"sync"
)

// DescriptorCache memoizes descriptors of contracts described without
// options. The owner clears it; there is no package-level instance.
type DescriptorCache struct {
	mu     sync.RWMutex
	max    int
	byType map[reflect.Type]*TypeDescriptor
}

// NewDescriptorCache creates a cache holding at most limit descriptors.
// A limit of zero or less means unbounded.
func NewDescriptorCache(limit int) *DescriptorCache {
	return &DescriptorCache{max: limit, byType: make(map[reflect.Type]*TypeDescriptor)}
}

// Describe returns the cached descriptor of t, building it on a miss.
// Failures are not cached.
func (c *DescriptorCache) Describe(t reflect.Type) (*TypeDescriptor, error) {
	c.mu.RLock()
	d, ok := c.byType[t]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	d, err := DescribeType(t)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byType[t]; ok {
		return existing, nil
	}
	if c.max > 0 && len(c.byType) >= c.max {
		for k := range c.byType {
			delete(c.byType, k)
			break
		}
	}
	c.byType[t] = d
	return d, nil
}

// Len returns the number of cached descriptors.
func (c *DescriptorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byType)
}

// Clear drops every cached descriptor.
func (c *DescriptorCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.byType)
}
