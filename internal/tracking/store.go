package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/cleanstep/internal/steperr"
	"github.com/vk/cleanstep/internal/store"
	"go.etcd.io/bbolt"
)

// Store persists run records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context) ([]Record, error)
}

// BoltStore keeps runs in the registry database.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore wraps an open database.
func NewBoltStore(db *bbolt.DB) *BoltStore {
	return &BoltStore{db: db}
}

// Save implements Store.
func (s *BoltStore) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return steperr.New(steperr.KindIO, "save run", "failed to marshal run", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(store.RunsBucket).Put([]byte(rec.ID), data); err != nil {
			return steperr.New(steperr.KindIO, "save run", "failed to store run", err)
		}
		return nil
	})
}

// Get implements Store.
func (s *BoltStore) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(store.RunsBucket).Get([]byte(id))
		if data == nil {
			return steperr.Newf(steperr.KindNotFound, "get run", "run %s not found", id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List implements Store. Runs are ordered by start time.
func (s *BoltStore) List(ctx context.Context) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(store.RunsBucket).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding run %s: %w", k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByStart(out)
	return out, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]Record)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[rec.ID] = rec
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[id]
	if !ok {
		return Record{}, steperr.Newf(steperr.KindNotFound, "get run", "run %s not found", id)
	}
	return rec, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.runs))
	for _, rec := range m.runs {
		out = append(out, rec)
	}
	sortByStart(out)
	return out, nil
}

func sortByStart(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].StartedAt.Before(recs[j].StartedAt)
	})
}
