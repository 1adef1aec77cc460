package discussion

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store implementation, safe for concurrent use.
type MemStore struct {
	mu          sync.RWMutex
	discussions map[string]*Discussion
	turns       map[string][]Turn
	order       []string
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		discussions: make(map[string]*Discussion),
		turns:       make(map[string][]Turn),
	}
}

// CreateDiscussion stores d, assigning an id and timestamps if unset.
func (s *MemStore) CreateDiscussion(d *Discussion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = StatusActive
	}
	cp := *d
	s.discussions[d.ID] = &cp
	s.order = append(s.order, d.ID)
	return nil
}

// GetDiscussion returns a copy of the discussion with the given id.
func (s *MemStore) GetDiscussion(id string) (*Discussion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.discussions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// UpdateDiscussion applies the non-nil fields of upd.
func (s *MemStore) UpdateDiscussion(id string, upd Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.discussions[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Status != nil {
		d.Status = *upd.Status
	}
	if upd.FinalVerdict != nil {
		d.FinalVerdict = *upd.FinalVerdict
	}
	if upd.ConfidenceScores != nil {
		d.ConfidenceScores = upd.ConfidenceScores
	}
	d.UpdatedAt = time.Now()
	return nil
}

// ListDiscussions returns all discussions in creation order.
func (s *MemStore) ListDiscussions() ([]*Discussion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Discussion, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.discussions[id]
		out = append(out, &cp)
	}
	return out, nil
}

// GetTurns returns the discussion's turns in creation order.
func (s *MemStore) GetTurns(discussionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.discussions[discussionID]; !ok {
		return nil, ErrNotFound
	}
	turns := s.turns[discussionID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// AppendTurn appends t to its discussion, assigning an id and timestamp.
func (s *MemStore) AppendTurn(t Turn) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.discussions[t.DiscussionID]; !ok {
		return Turn{}, ErrNotFound
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.turns[t.DiscussionID] = append(s.turns[t.DiscussionID], t)
	return t, nil
}
