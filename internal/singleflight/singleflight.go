// Package singleflight coalesces concurrent calls that share a key so only
// one execution is in flight at a time. Used for the token refresh guard and
// for de-duplicating background stale-while-revalidate fetches.
package singleflight

import (
	"sync"
	"time"
)

// Group manages a set of in-flight calls keyed by string.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

type call struct {
	wg  sync.WaitGroup
	val any
	err error
}

// New creates an empty Group.
func New() *Group {
	return &Group{m: make(map[string]*call)}
}

// Do executes fn, ensuring only one execution is in flight for key. A caller
// arriving while another execution is active waits for it and receives the
// same results.
func (g *Group) Do(key string, fn func() (any, error)) (any, error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}

	c := &call{}
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	c.wg.Done()

	// Keep the entry briefly so immediate duplicates still coalesce, then
	// drop it to avoid unbounded growth.
	go func() {
		time.Sleep(100 * time.Millisecond)
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
	}()

	return c.val, c.err
}

// TryDo executes fn only when no call with the same key is in progress.
// Returns started=false without blocking when one is.
func (g *Group) TryDo(key string, fn func() (any, error)) (val any, err error, started bool) {
	g.mu.Lock()
	if _, ok := g.m[key]; ok {
		g.mu.Unlock()
		return nil, ErrInProgress, false
	}

	c := &call{}
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	c.wg.Done()

	go func() {
		time.Sleep(100 * time.Millisecond)
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
	}()

	return c.val, c.err, true
}

// Forget removes key so future calls execute immediately even if a previous
// call is still running.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
