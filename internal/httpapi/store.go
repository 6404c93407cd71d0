package httpapi

import (
	"container/list"
	"sync"
	"time"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/envelope"
)

const (
	responseStoreCapacity = 1024
	responseStoreTTL      = 30 * time.Minute
)

// pendingResponse is the conversation state parked while a Responses
// client runs the tool calls the model asked for.
type pendingResponse struct {
	id        string
	entry     envelope.Protocol
	chat      *canonical.Chat
	createdAt time.Time
}

// responseStore holds pending tool-loop conversations, bounded by LRU
// eviction and a TTL so an abandoned loop cannot pin memory forever.
type responseStore struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

func newResponseStore(capacity int) *responseStore {
	return &responseStore{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

func (s *responseStore) put(p *pendingResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.index[p.id]; ok {
		el.Value = p
		s.ll.MoveToFront(el)
		return
	}
	s.index[p.id] = s.ll.PushFront(p)

	for s.ll.Len() > s.capacity {
		oldest := s.ll.Back()
		if oldest == nil {
			break
		}
		s.ll.Remove(oldest)
		delete(s.index, oldest.Value.(*pendingResponse).id)
	}
}

// take removes and returns the pending conversation for id; a tool-output
// submission consumes it, and a repeat submission for the same id misses.
func (s *responseStore) take(id string) (*pendingResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[id]
	if !ok {
		return nil, false
	}
	s.ll.Remove(el)
	delete(s.index, id)

	p := el.Value.(*pendingResponse)
	if time.Since(p.createdAt) > responseStoreTTL {
		return nil, false
	}
	return p, true
}
