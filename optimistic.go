package energygrid

import (
	"strconv"
	"sync"
)

// KeyFunc extracts the identity key of a list item.
type KeyFunc func(item any) string

// DefaultKeyFunc reads a string or numeric "id" member from object items.
func DefaultKeyFunc(item any) string {
	obj, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	switch id := obj["id"].(type) {
	case string:
		return id
	case float64:
		return floatKey(id)
	default:
		return ""
	}
}

// floatKey renders whole-number JSON ids; fractional ids have no stable
// string form and yield no key.
func floatKey(f float64) string {
	n := int64(f)
	if f != float64(n) {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

// Optimistic maintains a client-side projected list mutated ahead of server
// confirmation: mutations apply to a working copy and mark the affected key
// pending; Confirm clears the mark; Revert restores the base list verbatim.
type Optimistic struct {
	mu      sync.Mutex
	keyFn   KeyFunc
	base    []any
	working []any
	pending map[string]struct{}
}

// NewOptimistic builds a tracker. A nil keyFn uses DefaultKeyFunc.
func NewOptimistic(keyFn KeyFunc) *Optimistic {
	if keyFn == nil {
		keyFn = DefaultKeyFunc
	}
	return &Optimistic{
		keyFn:   keyFn,
		pending: make(map[string]struct{}),
	}
}

// SetBase installs the externally-supplied source-of-truth list (typically
// the latest server publish), resets the working copy to it and clears all
// pending marks.
func (o *Optimistic) SetBase(list []any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.base = append([]any(nil), list...)
	o.working = append([]any(nil), list...)
	o.pending = make(map[string]struct{})
}

// Add appends the item to the working copy and marks its key pending.
func (o *Optimistic) Add(item any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.working = append(o.working, item)
	o.mark(item)
}

// Update replaces the working-copy item with the same key and marks it
// pending. Items without a matching key are left untouched.
func (o *Optimistic) Update(item any) {
	key := o.keyFn(item)
	if key == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.working {
		if o.keyFn(existing) == key {
			o.working[i] = item
			o.pending[key] = struct{}{}
			return
		}
	}
}

// Remove deletes the working-copy item with the given key and marks it
// pending so the UI can show the in-flight deletion.
func (o *Optimistic) Remove(key string) {
	if key == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.working {
		if o.keyFn(existing) == key {
			o.working = append(o.working[:i], o.working[i+1:]...)
			break
		}
	}
	o.pending[key] = struct{}{}
}

// Confirm clears the pending mark for key without touching data: the server
// response arriving through the normal request path is the source of truth
// for the next publish.
func (o *Optimistic) Confirm(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, key)
}

// Revert unconditionally restores the most recent base list and clears all
// pending marks. Used when the underlying write is known to have failed.
func (o *Optimistic) Revert() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.working = append([]any(nil), o.base...)
	o.pending = make(map[string]struct{})
}

// List returns a copy of the working list.
func (o *Optimistic) List() []any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]any(nil), o.working...)
}

// IsPending reports whether key has an unconfirmed mutation.
func (o *Optimistic) IsPending(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.pending[key]
	return ok
}

// PendingCount reports the number of unconfirmed keys.
func (o *Optimistic) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *Optimistic) mark(item any) {
	if key := o.keyFn(item); key != "" {
		o.pending[key] = struct{}{}
	}
}
