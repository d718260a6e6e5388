package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"romana/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresSchema is applied at startup. Every statement is idempotent so
// repeated boots are safe without a migration tool.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    display_name  TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS friends (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    name       TEXT NOT NULL,
    handle     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (user_id, name)
);

CREATE TABLE IF NOT EXISTS expenses (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title        TEXT NOT NULL,
    amount_cents BIGINT NOT NULL,
    expense_date TEXT NOT NULL,
    paid_by      TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    synced       BOOLEAN NOT NULL DEFAULT FALSE,
    ledger_ref   TEXT NOT NULL DEFAULT '',
    sync_error   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_expenses_user_date ON expenses(user_id, expense_date);
CREATE INDEX IF NOT EXISTS idx_expenses_pending ON expenses(synced) WHERE synced = FALSE;

CREATE TABLE IF NOT EXISTS expense_splits (
    expense_id  TEXT NOT NULL REFERENCES expenses(id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    participant TEXT NOT NULL,
    PRIMARY KEY (expense_id, position)
);

CREATE TABLE IF NOT EXISTS recurring_expenses (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title        TEXT NOT NULL,
    amount_cents BIGINT NOT NULL,
    paid_by      TEXT NOT NULL,
    day_of_month INTEGER NOT NULL,
    active       BOOLEAN NOT NULL DEFAULT TRUE,
    last_run     TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS recurring_splits (
    recurring_id TEXT NOT NULL REFERENCES recurring_expenses(id) ON DELETE CASCADE,
    position     INTEGER NOT NULL,
    participant  TEXT NOT NULL,
    PRIMARY KEY (recurring_id, position)
);
`

// PostgresRepository mirrors SQLiteRepository over a pgx connection pool.
// Deployments that outgrow a single-file database switch backends through
// configuration alone.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, dsn string, maxConns int32) (*PostgresRepository, error) {
	conf, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		conf.MaxConns = maxConns
	}
	conf.HealthCheckPeriod = 15 * time.Second
	conf.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// mapPgError translates unique violations into ErrDuplicate.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

// --- users ---

func (r *PostgresRepository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, display_name, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", mapPgError(err))
	}
	return nil
}

func (r *PostgresRepository) UserByEmail(ctx context.Context, email string) (core.User, error) {
	return r.scanUser(r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, display_name, created_at FROM users WHERE email = $1`, email))
}

func (r *PostgresRepository) UserByID(ctx context.Context, id string) (core.User, error) {
	return r.scanUser(r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, display_name, created_at FROM users WHERE id = $1`, id))
}

func (r *PostgresRepository) scanUser(row pgx.Row) (core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// --- friends ---

func (r *PostgresRepository) CreateFriend(ctx context.Context, userID string, f core.Friend) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO friends (id, user_id, name, handle, created_at) VALUES ($1, $2, $3, $4, $5)`,
		f.ID, userID, f.Name, f.Handle, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create friend: %w", mapPgError(err))
	}
	return nil
}

func (r *PostgresRepository) ListFriends(ctx context.Context, userID string) ([]core.Friend, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, handle, created_at FROM friends WHERE user_id = $1 ORDER BY name`, userID)
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

func (r *PostgresRepository) FriendByName(ctx context.Context, userID, name string) (core.Friend, error) {
	var f core.Friend
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, handle, created_at FROM friends WHERE user_id = $1 AND name = $2`, userID, name).
		Scan(&f.ID, &f.Name, &f.Handle, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Friend{}, ErrNotFound
	}
	if err != nil {
		return core.Friend{}, fmt.Errorf("friend by name: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) DeleteFriend(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM friends WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete friend: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- expenses ---

func (r *PostgresRepository) CreateExpense(ctx context.Context, userID string, e core.Expense) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO expenses (id, user_id, title, amount_cents, expense_date, paid_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, userID, e.Title, e.Amount.Cents, e.Date.String(), e.PaidBy.String(), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert expense: %w", mapPgError(err))
	}
	for i, p := range e.SplitWith {
		_, err = tx.Exec(ctx,
			`INSERT INTO expense_splits (expense_id, position, participant) VALUES ($1, $2, $3)`,
			e.ID, i, p.String())
		if err != nil {
			return fmt.Errorf("insert split %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit expense: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, amount_cents, expense_date, paid_by, created_at
		 FROM expenses WHERE user_id = $1
		 ORDER BY expense_date DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	index := make(map[string]int)
	for rows.Next() {
		e, err := scanPgExpense(rows)
		if err != nil {
			return nil, err
		}
		index[e.ID] = len(expenses)
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	rows.Close()

	splits, err := r.pool.Query(ctx,
		`SELECT es.expense_id, es.participant
		 FROM expense_splits es JOIN expenses e ON e.id = es.expense_id
		 WHERE e.user_id = $1
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

func (r *PostgresRepository) ExpenseByID(ctx context.Context, userID, id string) (core.Expense, error) {
	var (
		e       core.Expense
		dateStr string
		paidBy  string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, amount_cents, expense_date, paid_by, created_at
		 FROM expenses WHERE user_id = $1 AND id = $2`, userID, id).
		Scan(&e.ID, &e.Title, &e.Amount.Cents, &dateStr, &paidBy, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense by id: %w", err)
	}
	date, err := core.ParseDate(dateStr)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse stored date %q: %w", dateStr, err)
	}
	e.Date = date
	e.PaidBy = core.ParseParticipant(paidBy)

	if err := r.loadPgSplits(ctx, &e); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func (r *PostgresRepository) DeleteExpense(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM expenses WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPgExpense(rows pgx.Rows) (core.Expense, error) {
	var (
		e       core.Expense
		dateStr string
		paidBy  string
	)
	if err := rows.Scan(&e.ID, &e.Title, &e.Amount.Cents, &dateStr, &paidBy, &e.CreatedAt); err != nil {
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

func (r *PostgresRepository) loadPgSplits(ctx context.Context, e *core.Expense) error {
	rows, err := r.pool.Query(ctx,
		`SELECT participant FROM expense_splits WHERE expense_id = $1 ORDER BY position`, e.ID)
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

// --- sync tracking ---

func (r *PostgresRepository) MarkSynced(ctx context.Context, expenseID, ref string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE expenses SET synced = TRUE, ledger_ref = $1, sync_error = '' WHERE id = $2`, ref, expenseID)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkSyncError(ctx context.Context, expenseID, message string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE expenses SET sync_error = $1 WHERE id = $2`, message, expenseID)
	if err != nil {
		return fmt.Errorf("mark sync error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ExpenseSync(ctx context.Context, expenseID string) (SyncState, error) {
	var state SyncState
	err := r.pool.QueryRow(ctx,
		`SELECT synced, ledger_ref, sync_error FROM expenses WHERE id = $1`, expenseID).
		Scan(&state.Synced, &state.LedgerRef, &state.SyncError)
	if errors.Is(err, pgx.ErrNoRows) {
		return SyncState{}, ErrNotFound
	}
	if err != nil {
		return SyncState{}, fmt.Errorf("expense sync state: %w", err)
	}
	return state, nil
}

func (r *PostgresRepository) ListPendingSync(ctx context.Context, limit int) ([]OwnedExpense, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, title, amount_cents, expense_date, paid_by, created_at
		 FROM expenses WHERE synced = FALSE
		 ORDER BY created_at LIMIT $1`, limit)
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
	rows.Close()

	for i := range pending {
		if err := r.loadPgSplits(ctx, &pending[i].Expense); err != nil {
			return nil, err
		}
	}
	return pending, nil
}

// --- recurring rules ---

func (r *PostgresRepository) CreateRecurring(ctx context.Context, userID string, re core.RecurringExpense) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	lastRun := ""
	if !re.LastRun.IsZero() {
		lastRun = re.LastRun.String()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO recurring_expenses (id, user_id, title, amount_cents, paid_by, day_of_month, active, last_run, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		re.ID, userID, re.Title, re.Amount.Cents, re.PaidBy.String(), re.DayOfMonth, re.Active, lastRun, re.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert recurring: %w", mapPgError(err))
	}
	for i, p := range re.SplitWith {
		_, err = tx.Exec(ctx,
			`INSERT INTO recurring_splits (recurring_id, position, participant) VALUES ($1, $2, $3)`,
			re.ID, i, p.String())
		if err != nil {
			return fmt.Errorf("insert recurring split %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit recurring: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRecurring(ctx context.Context, userID string) ([]core.RecurringExpense, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, amount_cents, paid_by, day_of_month, active, last_run, created_at
		 FROM recurring_expenses WHERE user_id = $1 ORDER BY day_of_month, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list recurring: %w", err)
	}
	defer rows.Close()

	var rules []core.RecurringExpense
	for rows.Next() {
		re, err := scanPgRecurring(rows, nil)
		if err != nil {
			return nil, err
		}
		rules = append(rules, re)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range rules {
		if err := r.loadPgRecurringSplits(ctx, &rules[i]); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func (r *PostgresRepository) ListActiveRecurring(ctx context.Context) ([]OwnedRecurring, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, id, title, amount_cents, paid_by, day_of_month, active, last_run, created_at
		 FROM recurring_expenses WHERE active = TRUE ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active recurring: %w", err)
	}
	defer rows.Close()

	var items []OwnedRecurring
	for rows.Next() {
		var item OwnedRecurring
		re, err := scanPgRecurring(rows, &item.UserID)
		if err != nil {
			return nil, err
		}
		item.Rule = re
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range items {
		if err := r.loadPgRecurringSplits(ctx, &items[i].Rule); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (r *PostgresRepository) DeleteRecurring(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM recurring_expenses WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete recurring: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) MarkRecurringRun(ctx context.Context, id string, run core.Date) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE recurring_expenses SET last_run = $1 WHERE id = $2`, run.String(), id)
	if err != nil {
		return fmt.Errorf("mark recurring run: %w", err)
	}
	return nil
}

func scanPgRecurring(rows pgx.Rows, userID *string) (core.RecurringExpense, error) {
	var (
		re      core.RecurringExpense
		paidBy  string
		lastRun string
	)
	dest := []any{&re.ID, &re.Title, &re.Amount.Cents, &paidBy, &re.DayOfMonth, &re.Active, &lastRun, &re.CreatedAt}
	if userID != nil {
		dest = append([]any{userID}, dest...)
	}
	if err := rows.Scan(dest...); err != nil {
		return core.RecurringExpense{}, fmt.Errorf("scan recurring: %w", err)
	}
	re.PaidBy = core.ParseParticipant(paidBy)
	if lastRun != "" {
		d, err := core.ParseDate(lastRun)
		if err != nil {
			return core.RecurringExpense{}, fmt.Errorf("parse last run %q: %w", lastRun, err)
		}
		re.LastRun = d
	}
	return re, nil
}

func (r *PostgresRepository) loadPgRecurringSplits(ctx context.Context, re *core.RecurringExpense) error {
	rows, err := r.pool.Query(ctx,
		`SELECT participant FROM recurring_splits WHERE recurring_id = $1 ORDER BY position`, re.ID)
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
