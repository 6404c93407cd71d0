package router

import (
	"container/list"
	"sync"
)

// stickyEntry is the value stored in the LRU list.
type stickyEntry struct {
	sessionID string
	decision  Decision
}

// StickyTable binds a session id to the last Decision made for it, bounded
// to a fixed capacity by LRU eviction. A binding is consulted before
// classification/selection runs and cleared the moment its target stops
// being ready, so a cooling-down or blacklisted provider never keeps a
// session pinned to it.
type StickyTable struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

// NewStickyTable returns a table holding at most capacity bindings.
func NewStickyTable(capacity int) *StickyTable {
	if capacity <= 0 {
		capacity = 1
	}
	return &StickyTable{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Lookup returns the sticky Decision for a session, if bound and ready. The
// caller passes quota/nowMs so an unready binding can be evicted in place
// rather than silently returned.
func (t *StickyTable) Lookup(sessionID string, quota QuotaView, nowMs int64) (Decision, bool) {
	if sessionID == "" {
		return Decision{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.index[sessionID]
	if !ok {
		return Decision{}, false
	}
	entry := el.Value.(*stickyEntry)

	view, found := quota.View(entry.decision.ProviderKey)
	if !found || !view.Ready(nowMs) {
		t.ll.Remove(el)
		delete(t.index, sessionID)
		return Decision{}, false
	}

	t.ll.MoveToFront(el)
	return entry.decision, true
}

// Bind records the Decision made for a session, evicting the
// least-recently-used binding if the table is at capacity.
func (t *StickyTable) Bind(sessionID string, decision Decision) {
	if sessionID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.index[sessionID]; ok {
		el.Value.(*stickyEntry).decision = decision
		t.ll.MoveToFront(el)
		return
	}

	el := t.ll.PushFront(&stickyEntry{sessionID: sessionID, decision: decision})
	t.index[sessionID] = el

	for t.ll.Len() > t.capacity {
		oldest := t.ll.Back()
		if oldest == nil {
			break
		}
		t.ll.Remove(oldest)
		delete(t.index, oldest.Value.(*stickyEntry).sessionID)
	}
}

// Clear removes any binding for a session, used when its target fails.
func (t *StickyTable) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.index[sessionID]; ok {
		t.ll.Remove(el)
		delete(t.index, sessionID)
	}
}
