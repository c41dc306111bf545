package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/flowgraph/pregelflow/internal/adapters/repository/sqlstore"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/pkg/serialization"
	_ "modernc.org/sqlite"
)

// Store implements checkpoint.Store for SQLite
type Store struct {
	db         *sql.DB
	serializer *serialization.Serializer
	tables     sqlstore.Tables
	locks      checkpoint.ThreadLocks
}

// NewStore creates a new SQLite checkpoint store over db. Call CreateTables
// before first use.
func NewStore(db *sql.DB, serializer *serialization.Serializer) *Store {
	if serializer == nil {
		serializer = serialization.DefaultSerializer()
	}
	return &Store{
		db:         db,
		serializer: serializer,
		tables:     sqlstore.DefaultTables,
	}
}

// Open opens dsn with the modernc driver, limits the pool to one connection
// so in-memory databases stay shared, and creates the tables.
func Open(ctx context.Context, dsn string, serializer *serialization.Serializer) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}
	s := NewStore(db, serializer)
	if err := s.CreateTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// WithTableName overrides the default table names. The writes table is
// named <name>_writes. Unsafe identifiers are ignored.
func (s *Store) WithTableName(name string) *Store {
	if sqlstore.IsSafeIdent(name) {
		s.tables = sqlstore.TablesFor(name)
	}
	return s
}

// CreateTables creates the necessary database tables
func (s *Store) CreateTables(ctx context.Context) error {
	cp, w := s.tables.Checkpoints, s.tables.Writes
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			step INTEGER NOT NULL,
			node TEXT NOT NULL DEFAULT '',
			digest TEXT NOT NULL,
			checkpoint BLOB NOT NULL,
			metadata BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE (thread_id, checkpoint_ns, checkpoint_id)
		)`, cp),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_thread_step ON %s (thread_id, checkpoint_ns, step)`, cp, cp),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			writer_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			channel TEXT NOT NULL,
			value BLOB
		)`, w),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_checkpoint ON %s (thread_id, checkpoint_ns, checkpoint_id)`, w, w),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// Put stores a checkpoint in SQLite
func (s *Store) Put(ctx context.Context, cfg checkpoint.Config, cp *checkpoint.Checkpoint, md checkpoint.Metadata) (checkpoint.Config, error) {
	if err := cfg.Validate(); err != nil {
		return checkpoint.Config{}, err
	}
	if err := cp.Validate(); err != nil {
		return checkpoint.Config{}, fmt.Errorf("checkpoint validation failed: %w", err)
	}
	row, err := sqlstore.EncodeRow(s.serializer, cfg, cp, md)
	if err != nil {
		return checkpoint.Config{}, err
	}

	unlock := s.locks.Lock(cfg.ThreadID)
	defer unlock()

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var digest string
		err := tx.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT digest FROM %s WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?`, s.tables.Checkpoints),
			cfg.ThreadID, cfg.Namespace, row.Checkpoint.ID).Scan(&digest)
		switch {
		case err == nil:
			if digest != row.Digest {
				return fmt.Errorf("%w: %s", checkpoint.ErrCheckpointConflict, row.Checkpoint.ID)
			}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check checkpoint: %w", err)
		}

		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (thread_id, checkpoint_ns, checkpoint_id, parent_id, source, step, node, digest, checkpoint, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.tables.Checkpoints),
			cfg.ThreadID, cfg.Namespace, row.Checkpoint.ID, row.Checkpoint.ParentID,
			string(md.Source), md.Step, md.Node, row.Digest, row.Data, row.MetaData,
			row.Checkpoint.Timestamp.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return checkpoint.Config{}, err
	}
	return cfg.At(row.Checkpoint.ID), nil
}

// GetTuple retrieves the named checkpoint, or the newest of the namespace
func (s *Store) GetTuple(ctx context.Context, cfg checkpoint.Config) (*checkpoint.Tuple, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	q := sqlstore.NewQuery(sqlstore.Question, "SELECT %s FROM %s WHERE 1=1", sqlstore.CheckpointColumns, s.tables.Checkpoints).
		Where("thread_id = %s", cfg.ThreadID).
		Where("checkpoint_ns = %s", cfg.Namespace)
	if cfg.CheckpointID != "" {
		q.Where("checkpoint_id = %s", cfg.CheckpointID)
	}
	q.Append(" ORDER BY seq DESC LIMIT 1")

	var id string
	var data, mdData []byte
	err := s.db.QueryRowContext(ctx, q.SQL(), q.Args()...).Scan(&id, &data, &mdData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	row, err := sqlstore.DecodeRow(s.serializer, id, data, mdData)
	if err != nil {
		return nil, err
	}
	writes, err := s.loadWrites(ctx, cfg, id)
	if err != nil {
		return nil, err
	}
	return row.Tuple(cfg, writes), nil
}

type rawRow struct {
	id           string
	data, mdData []byte
}

// List yields checkpoints newest-first. Rows are read completely before the
// first yield so the consumer may call back into the store.
func (s *Store) List(ctx context.Context, cfg checkpoint.Config, filter *checkpoint.Filter, limit int) iter.Seq2[*checkpoint.Tuple, error] {
	if err := checkpoint.ValidateList(cfg, filter, limit); err != nil {
		return checkpoint.ErrSeq(err)
	}
	return func(yield func(*checkpoint.Tuple, error) bool) {
		q := sqlstore.ListQuery(s.tables, sqlstore.Question, cfg, filter, limit)
		raws, err := s.queryRows(ctx, q)
		if err != nil {
			yield(nil, err)
			return
		}

		yielded := 0
		for _, raw := range raws {
			row, err := sqlstore.DecodeRow(s.serializer, raw.id, raw.data, raw.mdData)
			if err != nil {
				yield(nil, err)
				return
			}
			if !filter.Matches(row.ID, row.Metadata) {
				continue
			}
			writes, err := s.loadWrites(ctx, cfg, row.ID)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(row.Tuple(cfg, writes), nil) {
				return
			}
			yielded++
			if limit > 0 && yielded >= limit {
				return
			}
		}
	}
}

func (s *Store) queryRows(ctx context.Context, q *sqlstore.Query) ([]rawRow, error) {
	rows, err := s.db.QueryContext(ctx, q.SQL(), q.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []rawRow
	for rows.Next() {
		var r rawRow
		if err := rows.Scan(&r.id, &r.data, &r.mdData); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return out, nil
}

// PutWrites records pending writes, replacing earlier writes of writerID
func (s *Store) PutWrites(ctx context.Context, cfg checkpoint.Config, writes []checkpoint.PendingWrite, writerID string) error {
	writes, err := checkpoint.ValidateWrites(cfg, writes, writerID)
	if err != nil {
		return err
	}
	values := make([][]byte, len(writes))
	for i, w := range writes {
		if values[i], err = sqlstore.EncodeValue(s.serializer, w.Value); err != nil {
			return err
		}
	}

	unlock := s.locks.Lock(cfg.ThreadID)
	defer unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? AND writer_id = ?`, s.tables.Writes),
			cfg.ThreadID, cfg.Namespace, cfg.CheckpointID, writerID)
		if err != nil {
			return fmt.Errorf("failed to replace pending writes: %w", err)
		}
		insert := fmt.Sprintf(`
			INSERT INTO %s (thread_id, checkpoint_ns, checkpoint_id, writer_id, idx, channel, value)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, s.tables.Writes)
		for i, w := range writes {
			if _, err := tx.ExecContext(ctx, insert,
				cfg.ThreadID, cfg.Namespace, cfg.CheckpointID, writerID, w.Seq, w.Channel, values[i]); err != nil {
				return fmt.Errorf("failed to save pending write: %w", err)
			}
		}
		return nil
	})
}

// loadWrites returns the writes of one checkpoint. Each writer's rows are
// inserted together, so row order is latest put per writer, then index.
func (s *Store) loadWrites(ctx context.Context, cfg checkpoint.Config, id string) ([]checkpoint.PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT writer_id, idx, channel, value FROM %s WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? ORDER BY seq`, s.tables.Writes),
		cfg.ThreadID, cfg.Namespace, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending writes: %w", err)
	}
	defer rows.Close()

	var out []checkpoint.PendingWrite
	for rows.Next() {
		var w checkpoint.PendingWrite
		var data []byte
		if err := rows.Scan(&w.WriterID, &w.Seq, &w.Channel, &data); err != nil {
			return nil, fmt.Errorf("failed to scan pending write: %w", err)
		}
		if w.Value, err = sqlstore.DecodeValue(s.serializer, data); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteThread removes every checkpoint and write of a thread
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return checkpoint.ErrInvalidThreadID
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{s.tables.Writes, s.tables.Checkpoints} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE thread_id = ?", table), threadID); err != nil {
				return fmt.Errorf("failed to delete thread: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ checkpoint.Store = (*Store)(nil)
