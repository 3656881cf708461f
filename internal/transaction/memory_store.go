package transaction

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[int64]*Transaction
	byUser map[int64][]int64 // insertion order per user
}

// NewMemoryStore creates an in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[int64]*Transaction),
		byUser: make(map[int64][]int64),
	}
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID int64) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	result := make([]*Transaction, 0, len(ids))
	for _, id := range ids {
		if txn, ok := s.byID[id]; ok {
			copied := *txn
			result = append(result, &copied)
		}
	}
	// Timestamp ascending; stable so insertion order breaks ties.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) Append(ctx context.Context, txn *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[txn.ID]; exists {
		return ErrDuplicateID
	}

	copied := *txn
	if txn.IsFraud != nil {
		f := *txn.IsFraud
		copied.IsFraud = &f
	}
	s.byID[txn.ID] = &copied
	s.byUser[txn.UserID] = append(s.byUser[txn.UserID], txn.ID)
	return nil
}

func (s *MemoryStore) SetFraudFlag(ctx context.Context, id int64, isFraud bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	txn.IsFraud = &isFraud
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)

	ids := s.byUser[txn.UserID]
	for i, tid := range ids {
		if tid == id {
			s.byUser[txn.UserID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Len reports the number of stored transactions (test helper).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
