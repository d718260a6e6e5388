package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"romana/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the default persistence backend. All queries are
// scoped by user id; nothing ever reads across accounts except the worker
// entry points that are explicitly cross-user.
type SQLiteRepository struct {
	db *sql.DB
}

func sqliteDSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// mapConstraint turns sqlite unique-constraint failures into ErrDuplicate
// so callers don't parse driver messages.
func mapConstraint(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

// --- users ---

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, display_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", mapConstraint(err))
	}
	slog.InfoContext(ctx, "User created", "user_id", u.ID)
	return nil
}

func (r *SQLiteRepository) UserByEmail(ctx context.Context, email string) (core.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, display_name, created_at FROM users WHERE email = ?`, email))
}

func (r *SQLiteRepository) UserByID(ctx context.Context, id string) (core.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, display_name, created_at FROM users WHERE id = ?`, id))
}

func (r *SQLiteRepository) scanUser(row *sql.Row) (core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// --- friends ---

func (r *SQLiteRepository) CreateFriend(ctx context.Context, userID string, f core.Friend) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO friends (id, user_id, name, handle, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, userID, f.Name, f.Handle, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create friend: %w", mapConstraint(err))
	}
	return nil
}

func (r *SQLiteRepository) ListFriends(ctx context.Context, userID string) ([]core.Friend, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, handle, created_at FROM friends WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	var friends []core.Friend
	for rows.Next() {
		var f core.Friend
		if err := rows.Scan(&f.ID, &f.Name, &f.Handle, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

func (r *SQLiteRepository) FriendByName(ctx context.Context, userID, name string) (core.Friend, error) {
	var f core.Friend
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, handle, created_at FROM friends WHERE user_id = ? AND name = ?`, userID, name).
		Scan(&f.ID, &f.Name, &f.Handle, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Friend{}, ErrNotFound
	}
	if err != nil {
		return core.Friend{}, fmt.Errorf("friend by name: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) DeleteFriend(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM friends WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete friend: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- expenses ---

func (r *SQLiteRepository) CreateExpense(ctx context.Context, userID string, e core.Expense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO expenses (id, user_id, title, amount_cents, expense_date, paid_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, userID, e.Title, e.Amount.Cents, e.Date.String(), e.PaidBy.String(), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert expense: %w", mapConstraint(err))
	}

	for i, p := range e.SplitWith {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO expense_splits (expense_id, position, participant) VALUES (?, ?, ?)`,
			e.ID, i, p.String())
		if err != nil {
			return fmt.Errorf("insert split %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"expense_id", e.ID,
		"amount_cents", e.Amount.Cents,
		"participants", len(e.SplitWith))
	return nil
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, amount_cents, expense_date, paid_by, created_at
		 FROM expenses WHERE user_id = ?
		 ORDER BY expense_date DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	index := make(map[string]int)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		index[e.ID] = len(expenses)
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}

	splits, err := r.db.QueryContext(ctx,
		`SELECT es.expense_id, es.participant
		 FROM expense_splits es JOIN expenses e ON e.id = es.expense_id
		 WHERE e.user_id = ?
		 ORDER BY es.expense_id, es.position`, userID)
	if err != nil {
		return nil, fmt.Errorf("list splits: %w", err)
	}
	defer splits.Close()

	for splits.Next() {
		var expenseID, participant string
		if err := splits.Scan(&expenseID, &participant); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		if i, ok := index[expenseID]; ok {
			expenses[i].SplitWith = append(expenses[i].SplitWith, core.ParseParticipant(participant))
		}
	}
	return expenses, splits.Err()
}

func (r *SQLiteRepository) ExpenseByID(ctx context.Context, userID, id string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, title, amount_cents, expense_date, paid_by, created_at
		 FROM expenses WHERE user_id = ? AND id = ?`, userID, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT participant FROM expense_splits WHERE expense_id = ? ORDER BY position`, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("load splits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var participant string
		if err := rows.Scan(&participant); err != nil {
			return core.Expense{}, fmt.Errorf("scan split: %w", err)
		}
		e.SplitWith = append(e.SplitWith, core.ParseParticipant(participant))
	}
	return e, rows.Err()
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, userID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM expense_splits WHERE expense_id IN (SELECT id FROM expenses WHERE user_id = ? AND id = ?)`,
		userID, id); err != nil {
		return fmt.Errorf("delete splits: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM expenses WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	slog.InfoContext(ctx, "Expense deleted", "expense_id", id)
	return nil
}

// scanExpense reads the fixed expense columns from a row scanner; splits
// are loaded separately.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e       core.Expense
		dateStr string
		paidBy  string
	)
	if err := row.Scan(&e.ID, &e.Title, &e.Amount.Cents, &dateStr, &paidBy, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Expense{}, sql.ErrNoRows
		}
		return core.Expense{}, fmt.Errorf("scan expense: %w", err)
	}
	date, err := core.ParseDate(dateStr)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse stored date %q: %w", dateStr, err)
	}
	e.Date = date
	e.PaidBy = core.ParseParticipant(paidBy)
	return e, nil
}

// --- sync tracking ---

func (r *SQLiteRepository) MarkSynced(ctx context.Context, expenseID, ref string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET synced = 1, ledger_ref = ?, sync_error = '' WHERE id = ?`, ref, expenseID)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkSyncError(ctx context.Context, expenseID, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET sync_error = ? WHERE id = ?`, message, expenseID)
	if err != nil {
		return fmt.Errorf("mark sync error: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ExpenseSync(ctx context.Context, expenseID string) (SyncState, error) {
	var (
		state  SyncState
		synced int
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT synced, ledger_ref, sync_error FROM expenses WHERE id = ?`, expenseID).
		Scan(&synced, &state.LedgerRef, &state.SyncError)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncState{}, ErrNotFound
	}
	if err != nil {
		return SyncState{}, fmt.Errorf("expense sync state: %w", err)
	}
	state.Synced = synced != 0
	return state, nil
}

// ListPendingSync returns expenses not yet mirrored to the ledger, oldest
// first, across all users. Rows with a recorded sync error are included so
// the repair loop retries them.
func (r *SQLiteRepository) ListPendingSync(ctx context.Context, limit int) ([]OwnedExpense, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, amount_cents, expense_date, paid_by, created_at
		 FROM expenses WHERE synced = 0
		 ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending sync: %w", err)
	}
	defer rows.Close()

	var pending []OwnedExpense
	for rows.Next() {
		var (
			item    OwnedExpense
			dateStr string
			paidBy  string
		)
		err := rows.Scan(&item.Expense.ID, &item.UserID, &item.Expense.Title,
			&item.Expense.Amount.Cents, &dateStr, &paidBy, &item.Expense.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan pending expense: %w", err)
		}
		date, err := core.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("parse stored date %q: %w", dateStr, err)
		}
		item.Expense.Date = date
		item.Expense.PaidBy = core.ParseParticipant(paidBy)
		pending = append(pending, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range pending {
		if err := r.loadSplits(ctx, &pending[i].Expense); err != nil {
			return nil, err
		}
	}
	return pending, nil
}

func (r *SQLiteRepository) loadSplits(ctx context.Context, e *core.Expense) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT participant FROM expense_splits WHERE expense_id = ? ORDER BY position`, e.ID)
	if err != nil {
		return fmt.Errorf("load splits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var participant string
		if err := rows.Scan(&participant); err != nil {
			return fmt.Errorf("scan split: %w", err)
		}
		e.SplitWith = append(e.SplitWith, core.ParseParticipant(participant))
	}
	return rows.Err()
}

// --- recurring rules ---

func (r *SQLiteRepository) CreateRecurring(ctx context.Context, userID string, re core.RecurringExpense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	active := 0
	if re.Active {
		active = 1
	}
	lastRun := ""
	if !re.LastRun.IsZero() {
		lastRun = re.LastRun.String()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO recurring_expenses (id, user_id, title, amount_cents, paid_by, day_of_month, active, last_run, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		re.ID, userID, re.Title, re.Amount.Cents, re.PaidBy.String(), re.DayOfMonth, active, lastRun, re.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert recurring: %w", mapConstraint(err))
	}

	for i, p := range re.SplitWith {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO recurring_splits (recurring_id, position, participant) VALUES (?, ?, ?)`,
			re.ID, i, p.String())
		if err != nil {
			return fmt.Errorf("insert recurring split %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recurring: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListRecurring(ctx context.Context, userID string) ([]core.RecurringExpense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, amount_cents, paid_by, day_of_month, active, last_run, created_at
		 FROM recurring_expenses WHERE user_id = ? ORDER BY day_of_month, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list recurring: %w", err)
	}
	defer rows.Close()

	var rules []core.RecurringExpense
	for rows.Next() {
		re, err := scanRecurring(rows, nil)
		if err != nil {
			return nil, err
		}
		rules = append(rules, re)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range rules {
		if err := r.loadRecurringSplits(ctx, &rules[i]); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// ListActiveRecurring returns every active rule across users; the recurring
// worker decides which are due.
func (r *SQLiteRepository) ListActiveRecurring(ctx context.Context) ([]OwnedRecurring, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, id, title, amount_cents, paid_by, day_of_month, active, last_run, created_at
		 FROM recurring_expenses WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active recurring: %w", err)
	}
	defer rows.Close()

	var items []OwnedRecurring
	for rows.Next() {
		var item OwnedRecurring
		re, err := scanRecurring(rows, &item.UserID)
		if err != nil {
			return nil, err
		}
		item.Rule = re
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		if err := r.loadRecurringSplits(ctx, &items[i].Rule); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (r *SQLiteRepository) DeleteRecurring(ctx context.Context, userID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recurring_splits WHERE recurring_id IN (SELECT id FROM recurring_expenses WHERE user_id = ? AND id = ?)`,
		userID, id); err != nil {
		return fmt.Errorf("delete recurring splits: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM recurring_expenses WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete recurring: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (r *SQLiteRepository) MarkRecurringRun(ctx context.Context, id string, run core.Date) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recurring_expenses SET last_run = ? WHERE id = ?`, run.String(), id)
	if err != nil {
		return fmt.Errorf("mark recurring run: %w", err)
	}
	return nil
}

// scanRecurring reads one recurring rule row; userID is non-nil for the
// cross-user query which selects user_id first.
func scanRecurring(rows *sql.Rows, userID *string) (core.RecurringExpense, error) {
	var (
		re      core.RecurringExpense
		paidBy  string
		active  int
		lastRun string
	)
	dest := []any{&re.ID, &re.Title, &re.Amount.Cents, &paidBy, &re.DayOfMonth, &active, &lastRun, &re.CreatedAt}
	if userID != nil {
		dest = append([]any{userID}, dest...)
	}
	if err := rows.Scan(dest...); err != nil {
		return core.RecurringExpense{}, fmt.Errorf("scan recurring: %w", err)
	}
	re.PaidBy = core.ParseParticipant(paidBy)
	re.Active = active != 0
	if lastRun != "" {
		d, err := core.ParseDate(lastRun)
		if err != nil {
			return core.RecurringExpense{}, fmt.Errorf("parse last run %q: %w", lastRun, err)
		}
		re.LastRun = d
	}
	return re, nil
}

func (r *SQLiteRepository) loadRecurringSplits(ctx context.Context, re *core.RecurringExpense) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT participant FROM recurring_splits WHERE recurring_id = ? ORDER BY position`, re.ID)
	if err != nil {
		return fmt.Errorf("load recurring splits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var participant string
		if err := rows.Scan(&participant); err != nil {
			return fmt.Errorf("scan recurring split: %w", err)
		}
		re.SplitWith = append(re.SplitWith, core.ParseParticipant(participant))
	}
	return rows.Err()
}
