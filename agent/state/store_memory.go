package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It backs local development
// and tests; durability comes from the Upstash or Postgres stores.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	payload   []byte
	contactID string
	writtenAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func memoryKey(ns Namespace, contactID string) string {
	return string(ns) + ":" + contactID
}

func (m *MemoryStore) Load(ctx context.Context, ns Namespace, contactID string, out any) error {
	if strings.TrimSpace(contactID) == "" {
		return ErrInvalidContact
	}

	m.mu.RLock()
	rec, ok := m.records[memoryKey(ns, contactID)]
	m.mu.RUnlock()
	if !ok {
		return ErrMemoryNotFound
	}
	if err := json.Unmarshal(rec.payload, out); err != nil {
		return fmt.Errorf("unmarshal memory record: %w", err)
	}
	return nil
}

func (m *MemoryStore) Save(ctx context.Context, ns Namespace, contactID string, v any) error {
	if strings.TrimSpace(contactID) == "" {
		return ErrInvalidContact
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal memory record: %w", err)
	}

	m.mu.Lock()
	m.records[memoryKey(ns, contactID)] = memoryRecord{
		payload:   payload,
		contactID: contactID,
		writtenAt: time.Now().UTC(),
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, ns Namespace, contactID string) error {
	if strings.TrimSpace(contactID) == "" {
		return ErrInvalidContact
	}
	m.mu.Lock()
	delete(m.records, memoryKey(ns, contactID))
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(ctx context.Context, ns Namespace, limit int) ([]string, error) {
	prefix := string(ns) + ":"

	m.mu.RLock()
	type entry struct {
		contactID string
		writtenAt time.Time
	}
	entries := make([]entry, 0, len(m.records))
	for key, rec := range m.records {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, entry{contactID: rec.contactID, writtenAt: rec.writtenAt})
		}
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].writtenAt.After(entries[j].writtenAt)
	})

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, e.contactID)
	}
	return ids, nil
}
