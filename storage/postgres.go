package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"prism-board/domain"
)

// dbtx is satisfied by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a PostgreSQL-backed board store. Each Update runs in one
// serializable transaction holding the board row lock.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the board tables if they don't exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS boards (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			column_ids TEXT[] NOT NULL DEFAULT '{}',
			version    BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_boards_owner ON boards(owner_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS board_columns (
			id         TEXT PRIMARY KEY,
			board_id   TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
			title      TEXT NOT NULL DEFAULT '',
			task_ids   TEXT[] NOT NULL DEFAULT '{}',
			position   INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_board_columns_board ON board_columns(board_id)`,
		`CREATE TABLE IF NOT EXISTS board_tasks (
			id          TEXT PRIMARY KEY,
			board_id    TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
			column_id   TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			position    INTEGER NOT NULL DEFAULT 0,
			labels      TEXT[] NOT NULL DEFAULT '{}',
			priority    TEXT NOT NULL DEFAULT '',
			subtasks    JSONB NOT NULL DEFAULT '[]',
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_board_tasks_board ON board_tasks(board_id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) CreateBoard(ctx context.Context, b domain.Board) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO boards (id, owner_id, name, column_ids, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.OwnerID, b.Name, nonNil(b.ColumnIDs), b.Version, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: board %s already exists", domain.ErrTransaction, b.ID)
		}
		return fmt.Errorf("create board: %w", err)
	}
	return nil
}

func (p *Postgres) LoadBoard(ctx context.Context, boardID string) (*Snapshot, error) {
	return loadSnapshot(ctx, p.pool, boardID, false)
}

func (p *Postgres) ListBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, owner_id, name, column_ids, version, created_at, updated_at
		FROM boards WHERE owner_id = $1 ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	boards := []domain.Board{}
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

func (p *Postgres) Locate(ctx context.Context, kind RefKind, id string) (string, error) {
	table := "board_tasks"
	if kind == RefColumn {
		table = "board_columns"
	}
	var boardID string
	err := p.pool.QueryRow(ctx, "SELECT board_id FROM "+table+" WHERE id = $1", id).Scan(&boardID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.NotFoundf("%s %s", kind, id)
	}
	if err != nil {
		return "", fmt.Errorf("locate %s %s: %w", kind, id, err)
	}
	return boardID, nil
}

func (p *Postgres) Update(ctx context.Context, boardID string, fn func(*Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrTransaction, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	snap, err := loadSnapshot(ctx, tx, boardID, true)
	if err != nil {
		return classifyPgError(err)
	}
	staged := NewTx(snap)
	if err := fn(staged); err != nil {
		return err
	}
	ch := staged.Changes()
	if ch.Empty() {
		return nil
	}
	if err := writeChanges(ctx, tx, boardID, snap.Board.Version, ch); err != nil {
		return classifyPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyPgError(err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db dbtx, boardID string, lock bool) (*Snapshot, error) {
	query := `SELECT id, owner_id, name, column_ids, version, created_at, updated_at FROM boards WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	}
	b, err := scanBoard(db.QueryRow(ctx, query, boardID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundf("board %s", boardID)
	}
	if err != nil {
		return nil, fmt.Errorf("load board %s: %w", boardID, err)
	}
	snap := newSnapshot(b)

	rows, err := db.Query(ctx, `
		SELECT id, board_id, title, task_ids, position, updated_at
		FROM board_columns WHERE board_id = $1`, boardID)
	if err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}
	for rows.Next() {
		var c domain.Column
		if err := rows.Scan(&c.ID, &c.BoardID, &c.Title, &c.TaskIDs, &c.Position, &c.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.UpdatedAt = c.UpdatedAt.UTC()
		snap.Columns[c.ID] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.Query(ctx, `
		SELECT id, column_id, title, description, position, labels, priority, subtasks, updated_at
		FROM board_tasks WHERE board_id = $1`, boardID)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.Task
		var priority string
		var subtasks []byte
		if err := rows.Scan(&t.ID, &t.ColumnID, &t.Title, &t.Description, &t.Position, &t.Labels, &priority, &subtasks, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Priority = domain.Priority(priority)
		t.UpdatedAt = t.UpdatedAt.UTC()
		if len(subtasks) > 0 {
			if err := json.Unmarshal(subtasks, &t.Subtasks); err != nil {
				return nil, fmt.Errorf("decode subtasks of %s: %w", t.ID, err)
			}
		}
		snap.Tasks[t.ID] = t
	}
	return snap, rows.Err()
}

func scanBoard(row pgx.Row) (domain.Board, error) {
	var b domain.Board
	if err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.ColumnIDs, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return domain.Board{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

// writeChanges applies ch inside the open transaction. The board update is
// conditional on the version read under the row lock.
func writeChanges(ctx context.Context, db dbtx, boardID string, version int64, ch Changes) error {
	if ch.DeleteBoard {
		tag, err := db.Exec(ctx, `DELETE FROM boards WHERE id = $1 AND version = $2`, boardID, version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return domain.ErrConcurrencyConflict
		}
		return nil
	}
	for _, id := range ch.DeleteTasks {
		if _, err := db.Exec(ctx, `DELETE FROM board_tasks WHERE id = $1 AND board_id = $2`, id, boardID); err != nil {
			return err
		}
	}
	for _, id := range ch.DeleteColumns {
		if _, err := db.Exec(ctx, `DELETE FROM board_columns WHERE id = $1 AND board_id = $2`, id, boardID); err != nil {
			return err
		}
	}
	for _, c := range ch.PutColumns {
		_, err := db.Exec(ctx, `
			INSERT INTO board_columns (id, board_id, title, task_ids, position, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, task_ids = EXCLUDED.task_ids,
				position = EXCLUDED.position, updated_at = EXCLUDED.updated_at`,
			c.ID, boardID, c.Title, nonNil(c.TaskIDs), c.Position, c.UpdatedAt)
		if err != nil {
			return err
		}
	}
	for _, t := range ch.PutTasks {
		subtasks := t.Subtasks
		if subtasks == nil {
			subtasks = []domain.Subtask{}
		}
		raw, err := json.Marshal(subtasks)
		if err != nil {
			return fmt.Errorf("marshal subtasks: %w", err)
		}
		_, err = db.Exec(ctx, `
			INSERT INTO board_tasks (id, board_id, column_id, title, description, position, labels, priority, subtasks, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
			ON CONFLICT (id) DO UPDATE SET column_id = EXCLUDED.column_id, title = EXCLUDED.title,
				description = EXCLUDED.description, position = EXCLUDED.position, labels = EXCLUDED.labels,
				priority = EXCLUDED.priority, subtasks = EXCLUDED.subtasks, updated_at = EXCLUDED.updated_at`,
			t.ID, boardID, t.ColumnID, t.Title, t.Description, t.Position, nonNil(t.Labels), string(t.Priority), string(raw), t.UpdatedAt)
		if err != nil {
			return err
		}
	}
	if ch.BoardChanged {
		tag, err := db.Exec(ctx, `
			UPDATE boards SET name = $1, column_ids = $2, version = $3, updated_at = $4
			WHERE id = $5 AND version = $6`,
			ch.Board.Name, nonNil(ch.Board.ColumnIDs), ch.Board.Version, ch.Board.UpdatedAt, boardID, version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return domain.ErrConcurrencyConflict
		}
	}
	return nil
}

// classifyPgError maps serialization failures and deadlocks to a conflict
// so callers retry; any other failure is a failed transaction.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrConcurrencyConflict) || domain.KindOf(err) == domain.KindNotFound {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return domain.ErrConcurrencyConflict
	}
	return fmt.Errorf("%w: %v", domain.ErrTransaction, err)
}
