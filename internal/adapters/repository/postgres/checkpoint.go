package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/flowgraph/pregelflow/internal/adapters/repository/sqlstore"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/pkg/serialization"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoPool is returned when the store was built without a connection pool.
var ErrNoPool = errors.New("postgres: no connection pool")

// Store implements checkpoint.Store for PostgreSQL. Mutations of one thread
// are serialized with a transaction-scoped advisory lock, so several
// processes may share the tables.
type Store struct {
	pool       *pgxpool.Pool
	serializer *serialization.Serializer
	tables     sqlstore.Tables
}

// NewStore creates a new PostgreSQL checkpoint store
func NewStore(pool *pgxpool.Pool, serializer *serialization.Serializer) *Store {
	if serializer == nil {
		serializer = serialization.DefaultSerializer()
	}
	return &Store{
		pool:       pool,
		serializer: serializer,
		tables:     sqlstore.DefaultTables,
	}
}

// Connect creates a pool for dsn, verifies it and creates the tables.
func Connect(ctx context.Context, dsn string, serializer *serialization.Serializer) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	s := NewStore(pool, serializer)
	if err := s.CreateTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// WithTableName overrides the default table names; unsafe identifiers are
// ignored.
func (s *Store) WithTableName(name string) *Store {
	if sqlstore.IsSafeIdent(name) {
		s.tables = sqlstore.TablesFor(name)
	}
	return s
}

// CreateTables creates the necessary database tables
func (s *Store) CreateTables(ctx context.Context) error {
	if s.pool == nil {
		return ErrNoPool
	}
	cp, w := s.tables.Checkpoints, s.tables.Writes
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL PRIMARY KEY,
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			step INTEGER NOT NULL,
			node TEXT NOT NULL DEFAULT '',
			digest TEXT NOT NULL,
			checkpoint BYTEA NOT NULL,
			metadata BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (thread_id, checkpoint_ns, checkpoint_id)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_thread_step ON %s (thread_id, checkpoint_ns, step);

		CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL PRIMARY KEY,
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			writer_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			channel TEXT NOT NULL,
			value BYTEA
		);
		CREATE INDEX IF NOT EXISTS idx_%s_checkpoint ON %s (thread_id, checkpoint_ns, checkpoint_id);
	`, cp, cp, cp, w, w, w)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Put stores a checkpoint in PostgreSQL
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

	err = s.inThreadTx(ctx, cfg.ThreadID, func(tx pgx.Tx) error {
		var digest string
		err := tx.QueryRow(ctx, fmt.Sprintf(
			`SELECT digest FROM %s WHERE thread_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3`, s.tables.Checkpoints),
			cfg.ThreadID, cfg.Namespace, row.Checkpoint.ID).Scan(&digest)
		switch {
		case err == nil:
			if digest != row.Digest {
				return fmt.Errorf("%w: %s", checkpoint.ErrCheckpointConflict, row.Checkpoint.ID)
			}
			return nil
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("failed to check checkpoint: %w", err)
		}

		_, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (thread_id, checkpoint_ns, checkpoint_id, parent_id, source, step, node, digest, checkpoint, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, s.tables.Checkpoints),
			cfg.ThreadID, cfg.Namespace, row.Checkpoint.ID, row.Checkpoint.ParentID,
			string(md.Source), md.Step, md.Node, row.Digest, row.Data, row.MetaData, row.Checkpoint.Timestamp)
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
	if s.pool == nil {
		return nil, ErrNoPool
	}
	q := sqlstore.NewQuery(sqlstore.Dollar, "SELECT %s FROM %s WHERE 1=1", sqlstore.CheckpointColumns, s.tables.Checkpoints).
		Where("thread_id = %s", cfg.ThreadID).
		Where("checkpoint_ns = %s", cfg.Namespace)
	if cfg.CheckpointID != "" {
		q.Where("checkpoint_id = %s", cfg.CheckpointID)
	}
	q.Append(" ORDER BY seq DESC LIMIT 1")

	var id string
	var data, mdData []byte
	err := s.pool.QueryRow(ctx, q.SQL(), q.Args()...).Scan(&id, &data, &mdData)
	if errors.Is(err, pgx.ErrNoRows) {
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

// List yields checkpoints newest-first
func (s *Store) List(ctx context.Context, cfg checkpoint.Config, filter *checkpoint.Filter, limit int) iter.Seq2[*checkpoint.Tuple, error] {
	if err := checkpoint.ValidateList(cfg, filter, limit); err != nil {
		return checkpoint.ErrSeq(err)
	}
	if s.pool == nil {
		return checkpoint.ErrSeq(ErrNoPool)
	}
	return func(yield func(*checkpoint.Tuple, error) bool) {
		q := sqlstore.ListQuery(s.tables, sqlstore.Dollar, cfg, filter, limit)
		rows, err := s.pool.Query(ctx, q.SQL(), q.Args()...)
		if err != nil {
			yield(nil, fmt.Errorf("failed to list checkpoints: %w", err))
			return
		}
		decoded, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*sqlstore.DecodedRow, error) {
			var id string
			var data, mdData []byte
			if err := r.Scan(&id, &data, &mdData); err != nil {
				return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
			}
			return sqlstore.DecodeRow(s.serializer, id, data, mdData)
		})
		if err != nil {
			yield(nil, err)
			return
		}

		yielded := 0
		for _, row := range decoded {
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

// PutWrites records pending writes, replacing earlier writes of writerID
func (s *Store) PutWrites(ctx context.Context, cfg checkpoint.Config, writes []checkpoint.PendingWrite, writerID string) error {
	writes, err := checkpoint.ValidateWrites(cfg, writes, writerID)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	batch.Queue(fmt.Sprintf(
		`DELETE FROM %s WHERE thread_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3 AND writer_id = $4`, s.tables.Writes),
		cfg.ThreadID, cfg.Namespace, cfg.CheckpointID, writerID)
	insert := fmt.Sprintf(`
		INSERT INTO %s (thread_id, checkpoint_ns, checkpoint_id, writer_id, idx, channel, value)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.tables.Writes)
	for _, w := range writes {
		value, err := sqlstore.EncodeValue(s.serializer, w.Value)
		if err != nil {
			return err
		}
		batch.Queue(insert, cfg.ThreadID, cfg.Namespace, cfg.CheckpointID, writerID, w.Seq, w.Channel, value)
	}

	return s.inThreadTx(ctx, cfg.ThreadID, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save pending writes: %w", err)
		}
		return nil
	})
}

func (s *Store) loadWrites(ctx context.Context, cfg checkpoint.Config, id string) ([]checkpoint.PendingWrite, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT writer_id, idx, channel, value FROM %s WHERE thread_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3 ORDER BY seq`, s.tables.Writes),
		cfg.ThreadID, cfg.Namespace, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending writes: %w", err)
	}
	writes, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (checkpoint.PendingWrite, error) {
		var w checkpoint.PendingWrite
		var data []byte
		if err := r.Scan(&w.WriterID, &w.Seq, &w.Channel, &data); err != nil {
			return w, fmt.Errorf("failed to scan pending write: %w", err)
		}
		var err error
		w.Value, err = sqlstore.DecodeValue(s.serializer, data)
		return w, err
	})
	if err != nil {
		return nil, err
	}
	if len(writes) == 0 {
		return nil, nil
	}
	return writes, nil
}

// DeleteThread removes every checkpoint and write of a thread
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return checkpoint.ErrInvalidThreadID
	}
	return s.inThreadTx(ctx, threadID, func(tx pgx.Tx) error {
		for _, table := range []string{s.tables.Writes, s.tables.Checkpoints} {
			if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE thread_id = $1", table), threadID); err != nil {
				return fmt.Errorf("failed to delete thread: %w", err)
			}
		}
		return nil
	})
}

// inThreadTx runs fn in a transaction holding the thread's advisory lock.
func (s *Store) inThreadTx(ctx context.Context, threadID string, fn func(tx pgx.Tx) error) error {
	if s.pool == nil {
		return ErrNoPool
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", threadID); err != nil {
			return fmt.Errorf("failed to lock thread: %w", err)
		}
		return fn(tx)
	})
}

// Close closes the connection pool
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

var _ checkpoint.Store = (*Store)(nil)
