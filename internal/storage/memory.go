package storage

import (
	"context"
	"sort"
	"sync"

	"romana/internal/core"
)

// MemoryStore keeps everything in process memory. It backs tests and
// BACKEND=memory dev runs and implements the same ports as the SQL
// repositories, sync tracking included.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[string]core.User
	emails    map[string]string
	friends   map[string][]core.Friend
	expenses  map[string]memExpense
	recurring map[string]memRecurring
}

type memExpense struct {
	userID  string
	expense core.Expense
	sync    SyncState
}

type memRecurring struct {
	userID string
	rule   core.RecurringExpense
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]core.User),
		emails:    make(map[string]string),
		friends:   make(map[string][]core.Friend),
		expenses:  make(map[string]memExpense),
		recurring: make(map[string]memRecurring),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Ping(context.Context) error { return nil }

// --- users ---

func (s *MemoryStore) CreateUser(_ context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[u.Email]; ok {
		return ErrDuplicate
	}
	if _, ok := s.users[u.ID]; ok {
		return ErrDuplicate
	}
	s.users[u.ID] = u
	s.emails[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[email]
	if !ok {
		return core.User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) UserByID(_ context.Context, id string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return core.User{}, ErrNotFound
	}
	return u, nil
}

// --- friends ---

func (s *MemoryStore) CreateFriend(_ context.Context, userID string, f core.Friend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.friends[userID] {
		if existing.Name == f.Name || existing.ID == f.ID {
			return ErrDuplicate
		}
	}
	s.friends[userID] = append(s.friends[userID], f)
	return nil
}

func (s *MemoryStore) ListFriends(_ context.Context, userID string) ([]core.Friend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]core.Friend(nil), s.friends[userID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) FriendByName(_ context.Context, userID, name string) (core.Friend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.friends[userID] {
		if f.Name == name {
			return f, nil
		}
	}
	return core.Friend{}, ErrNotFound
}

func (s *MemoryStore) DeleteFriend(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.friends[userID]
	for i, f := range list {
		if f.ID == id {
			s.friends[userID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// --- expenses ---

func (s *MemoryStore) CreateExpense(_ context.Context, userID string, e core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.expenses[e.ID]; ok {
		return ErrDuplicate
	}
	s.expenses[e.ID] = memExpense{userID: userID, expense: cloneExpense(e)}
	return nil
}

func (s *MemoryStore) ListExpenses(_ context.Context, userID string) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Expense
	for _, item := range s.expenses {
		if item.userID == userID {
			out = append(out, cloneExpense(item.expense))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Time.Equal(out[j].Date.Time) {
			return out[i].Date.Time.After(out[j].Date.Time)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ExpenseByID(_ context.Context, userID, id string) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.expenses[id]
	if !ok || item.userID != userID {
		return core.Expense{}, ErrNotFound
	}
	return cloneExpense(item.expense), nil
}

func (s *MemoryStore) DeleteExpense(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.expenses[id]
	if !ok || item.userID != userID {
		return ErrNotFound
	}
	delete(s.expenses, id)
	return nil
}

// --- sync tracking ---

func (s *MemoryStore) MarkSynced(_ context.Context, expenseID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.expenses[expenseID]
	if !ok {
		return ErrNotFound
	}
	item.sync = SyncState{Synced: true, LedgerRef: ref}
	s.expenses[expenseID] = item
	return nil
}

func (s *MemoryStore) MarkSyncError(_ context.Context, expenseID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.expenses[expenseID]
	if !ok {
		return ErrNotFound
	}
	item.sync.SyncError = message
	s.expenses[expenseID] = item
	return nil
}

func (s *MemoryStore) ExpenseSync(_ context.Context, expenseID string) (SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.expenses[expenseID]
	if !ok {
		return SyncState{}, ErrNotFound
	}
	return item.sync, nil
}

func (s *MemoryStore) ListPendingSync(_ context.Context, limit int) ([]OwnedExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var pending []OwnedExpense
	for _, item := range s.expenses {
		if !item.sync.Synced {
			pending = append(pending, OwnedExpense{UserID: item.userID, Expense: cloneExpense(item.expense)})
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Expense.CreatedAt.Before(pending[j].Expense.CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// --- recurring rules ---

func (s *MemoryStore) CreateRecurring(_ context.Context, userID string, re core.RecurringExpense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recurring[re.ID]; ok {
		return ErrDuplicate
	}
	s.recurring[re.ID] = memRecurring{userID: userID, rule: cloneRecurring(re)}
	return nil
}

func (s *MemoryStore) ListRecurring(_ context.Context, userID string) ([]core.RecurringExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurringExpense
	for _, item := range s.recurring {
		if item.userID == userID {
			out = append(out, cloneRecurring(item.rule))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfMonth != out[j].DayOfMonth {
			return out[i].DayOfMonth < out[j].DayOfMonth
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListActiveRecurring(context.Context) ([]OwnedRecurring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OwnedRecurring
	for _, item := range s.recurring {
		if item.rule.Active {
			out = append(out, OwnedRecurring{UserID: item.userID, Rule: cloneRecurring(item.rule)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Rule.CreatedAt.Before(out[j].Rule.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeleteRecurring(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.recurring[id]
	if !ok || item.userID != userID {
		return ErrNotFound
	}
	delete(s.recurring, id)
	return nil
}

func (s *MemoryStore) MarkRecurringRun(_ context.Context, id string, run core.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.recurring[id]
	if !ok {
		return ErrNotFound
	}
	item.rule.LastRun = run
	s.recurring[id] = item
	return nil
}

func cloneExpense(e core.Expense) core.Expense {
	e.SplitWith = append([]core.Participant(nil), e.SplitWith...)
	return e
}

func cloneRecurring(re core.RecurringExpense) core.RecurringExpense {
	re.SplitWith = append([]core.Participant(nil), re.SplitWith...)
	return re
}
