// Package memory is a slice-backed ledger for tests and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"romana/internal/ledger"
)

type record struct {
	entry   ledger.Entry
	ref     string
	removed bool
}

type Store struct {
	mu      sync.Mutex
	records []record
}

var _ ledger.Ledger = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// Append stores the entry and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, entry ledger.Entry) (string, error) {
	if err := entry.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := fmt.Sprintf("mem:%d", len(s.records)+1)
	s.records = append(s.records, record{entry: entry, ref: ref})
	return ref, nil
}

// Remove marks the row for the given ref as gone.
func (s *Store) Remove(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ref == ref && !s.records[i].removed {
			s.records[i].removed = true
			return nil
		}
	}
	return fmt.Errorf("remove %s: %w", ref, ledger.ErrRefNotFound)
}

// Refs returns the expense id to ref map of live rows.
func (s *Store) Refs(_ context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make(map[string]string, len(s.records))
	for _, rec := range s.records {
		if !rec.removed {
			refs[rec.entry.ExpenseID] = rec.ref
		}
	}
	return refs, nil
}

// Entries returns a snapshot of live entries in append order.
func (s *Store) Entries() []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Entry, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.removed {
			out = append(out, rec.entry)
		}
	}
	return out
}
