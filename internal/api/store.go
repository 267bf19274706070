package api

import (
	"sync"
)

// TranslationStore keeps completed translations in memory so clients can
// fetch them again by id. Oldest entries are evicted past the limit.
type TranslationStore struct {
	mu    sync.Mutex
	limit int
	order []string
	items map[string]TranslationResponse
}

const defaultStoreLimit = 1024

func NewTranslationStore(limit int) *TranslationStore {
	if limit <= 0 {
		limit = defaultStoreLimit
	}
	return &TranslationStore{
		limit: limit,
		items: make(map[string]TranslationResponse),
	}
}

func (s *TranslationStore) Save(resp TranslationResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[resp.ID]; !ok {
		s.order = append(s.order, resp.ID)
	}
	s.items[resp.ID] = resp
	for len(s.order) > s.limit {
		delete(s.items, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *TranslationStore) Get(id string) (TranslationResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.items[id]
	return resp, ok
}

func (s *TranslationStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *TranslationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
