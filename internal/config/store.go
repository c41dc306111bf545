package config

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowgraph/pregelflow/internal/adapters/repository/file"
	"github.com/flowgraph/pregelflow/internal/adapters/repository/memory"
	"github.com/flowgraph/pregelflow/internal/adapters/repository/postgres"
	"github.com/flowgraph/pregelflow/internal/adapters/repository/sqlite"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/pkg/serialization"
)

// Store is a checkpoint store that holds resources until closed.
type Store interface {
	checkpoint.Store
	Close() error
}

// Serializer builds the blob serializer the section describes.
func (c StoreConfig) Serializer() (*serialization.Serializer, error) {
	codec, err := serialization.CodecByName(c.Codec)
	if err != nil {
		return nil, err
	}
	compression, err := serialization.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	var key []byte
	if c.EncryptKey != "" {
		if key, err = hex.DecodeString(c.EncryptKey); err != nil {
			return nil, fmt.Errorf("%w: %w", serialization.ErrInvalidKey, err)
		}
	}
	return serialization.NewSerializer(serialization.SerializationConfig{
		Codec:       codec,
		Compression: compression,
		EncryptKey:  key,
	})
}

// OpenStore opens the configured store and creates its tables or directory.
func OpenStore(ctx context.Context, c StoreConfig) (Store, error) {
	ser, err := c.Serializer()
	if err != nil {
		return nil, fmt.Errorf("store serializer: %w", err)
	}
	switch c.Driver {
	case "", DriverMemory:
		return memory.NewStore(memory.Config{MaxMemoryMB: c.MaxMemoryMB, Serializer: ser}), nil
	case DriverFile:
		s, err := file.NewStore(file.Config{Dir: c.Dir, SyncWrites: c.SyncWrites, Serializer: ser})
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		if c.Table == "" {
			s, err := sqlite.Open(ctx, c.DSN, ser)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
		db, err := sql.Open("sqlite", c.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		s := sqlite.NewStore(db, ser).WithTableName(c.Table)
		if err := s.CreateTables(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		if c.Table == "" {
			s, err := postgres.Connect(ctx, c.DSN, ser)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
		pool, err := pgxpool.New(ctx, c.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool: %w", err)
		}
		s := postgres.NewStore(pool, ser).WithTableName(c.Table)
		if err := s.CreateTables(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
}
