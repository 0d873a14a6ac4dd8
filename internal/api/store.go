package api

import "sync"

// DefaultStoreSize bounds how many caption responses are kept for lookup.
const DefaultStoreSize = 1024

// CaptionStore keeps the most recent caption responses by id. The oldest
// entry is dropped once the store is full.
type CaptionStore struct {
	mu    sync.Mutex
	limit int
	order []string
	byID  map[string]*CaptionResponse
}

func NewCaptionStore(limit int) *CaptionStore {
	if limit <= 0 {
		limit = DefaultStoreSize
	}
	return &CaptionStore{limit: limit, byID: make(map[string]*CaptionResponse)}
}

func (s *CaptionStore) Put(resp *CaptionResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[resp.ID]; !ok {
		s.order = append(s.order, resp.ID)
	}
	s.byID[resp.ID] = resp
	for len(s.order) > s.limit {
		delete(s.byID, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *CaptionStore) Get(id string) (*CaptionResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.byID[id]
	return resp, ok
}

func (s *CaptionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *CaptionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
