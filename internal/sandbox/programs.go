// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"container/list"
	"sync"

	"github.com/dop251/goja"
	"github.com/zeebo/blake3"
)

// DefaultProgramCacheSize is the number of compiled programs kept by default.
const DefaultProgramCacheSize = 256

type (
	// ProgramCache keeps compiled programs keyed by the BLAKE3 digest of their
	// name and source. Compiled programs are immutable and may run on many
	// runtimes at once.
	ProgramCache struct {
		mu       sync.Mutex
		capacity int
		items    map[[32]byte]*list.Element
		order    *list.List
	}

	programEntry struct {
		key     [32]byte
		program *goja.Program
	}
)

// NewProgramCache creates a cache holding at most capacity programs.
// A capacity below one uses DefaultProgramCacheSize.
func NewProgramCache(capacity int) *ProgramCache {
	if capacity < 1 {
		capacity = DefaultProgramCacheSize
	}
	return &ProgramCache{
		capacity: capacity,
		items:    make(map[[32]byte]*list.Element),
		order:    list.New(),
	}
}

// Compile returns the compiled program for src, compiling it on a miss.
// Syntax errors are not cached. A nil cache always compiles.
func (c *ProgramCache) Compile(name, src string) (*goja.Program, error) {
	if c == nil {
		return goja.Compile(name, src, false)
	}

	key := programKey(name, src)
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		prog := el.Value.(*programEntry).program
		c.mu.Unlock()
		return prog, nil
	}
	c.mu.Unlock()

	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*programEntry).program, nil
	}
	c.items[key] = c.order.PushFront(&programEntry{key: key, program: prog})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*programEntry).key)
	}
	return prog, nil
}

// Len returns the number of cached programs.
func (c *ProgramCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func programKey(name, src string) [32]byte {
	buf := make([]byte, 0, len(name)+1+len(src))
	buf = append(buf, name...)
	buf = append(buf, 0)
	buf = append(buf, src...)
	return blake3.Sum256(buf)
}
