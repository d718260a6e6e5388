package backend

import (
	"context"

	"romana/internal/core"
	"romana/internal/storage"
)

// Ports over the persistence layer. Services depend on these, never on a
// concrete repository.
type (
	UserStore interface {
		CreateUser(ctx context.Context, u core.User) error
		UserByEmail(ctx context.Context, email string) (core.User, error)
		UserByID(ctx context.Context, id string) (core.User, error)
	}

	FriendStore interface {
		CreateFriend(ctx context.Context, userID string, f core.Friend) error
		ListFriends(ctx context.Context, userID string) ([]core.Friend, error)
		FriendByName(ctx context.Context, userID, name string) (core.Friend, error)
		DeleteFriend(ctx context.Context, userID, id string) error
	}

	ExpenseStore interface {
		CreateExpense(ctx context.Context, userID string, e core.Expense) error
		ListExpenses(ctx context.Context, userID string) ([]core.Expense, error)
		ExpenseByID(ctx context.Context, userID, id string) (core.Expense, error)
		DeleteExpense(ctx context.Context, userID, id string) error
	}

	// SyncTracker records ledger mirroring progress per expense.
	SyncTracker interface {
		MarkSynced(ctx context.Context, expenseID, ref string) error
		MarkSyncError(ctx context.Context, expenseID, message string) error
		ExpenseSync(ctx context.Context, expenseID string) (storage.SyncState, error)
		ListPendingSync(ctx context.Context, limit int) ([]storage.OwnedExpense, error)
	}

	RecurringStore interface {
		CreateRecurring(ctx context.Context, userID string, re core.RecurringExpense) error
		ListRecurring(ctx context.Context, userID string) ([]core.RecurringExpense, error)
		ListActiveRecurring(ctx context.Context) ([]storage.OwnedRecurring, error)
		DeleteRecurring(ctx context.Context, userID, id string) error
		MarkRecurringRun(ctx context.Context, id string, run core.Date) error
	}
)

// Backend is the full persistence surface a server or worker needs.
type Backend interface {
	UserStore
	FriendStore
	ExpenseStore
	SyncTracker
	RecurringStore

	Ping(ctx context.Context) error
	Close() error
}

// CleanupFunc releases backend resources on shutdown.
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function.
type BackendResult struct {
	Backend Backend
	Cleanup CleanupFunc
}

// BackendType selects the persistence implementation.
type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	MemoryBackend   BackendType = "memory"
)

// String implements fmt.Stringer.
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid.
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, PostgresBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// Config holds configuration for backend creation.
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Postgres specific
	PostgresDSN      string
	PostgresMaxConns int32
}
