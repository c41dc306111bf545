// Package file provides a disk-backed checkpoint store
package file

import (
	"context"
	"encoding/hex"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/pkg/serialization"
)

// Store keeps each thread in its own directory
// PRINCIPLES:
// - KISS: One immutable file per checkpoint or writer put, plus an index
// - Thread-safe: Per-thread locking, unrelated threads never contend
// - Crash-safe: Files are written to a temp name and renamed into place
//
// Layout:
//
//	<dir>/<hex(thread)>/index.json
//	<dir>/<hex(thread)>/cp_<seq>.bin
//	<dir>/<hex(thread)>/w_<seq>.bin
type Store struct {
	dir        string
	syncWrites bool
	serializer *serialization.Serializer
	locks      checkpoint.ThreadLocks

	mu      sync.Mutex
	indexes map[string]*index
}

// Config holds configuration for Store
type Config struct {
	Dir        string                    // Root directory (required)
	SyncWrites bool                      // fsync files and directories
	Serializer *serialization.Serializer // Custom serializer (optional)
}

// NewStore creates the root directory if needed.
func NewStore(config Config) (*Store, error) {
	if config.Dir == "" {
		return nil, ErrDirRequired
	}
	if config.Serializer == nil {
		config.Serializer = serialization.DefaultSerializer()
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{
		dir:        config.Dir,
		syncWrites: config.SyncWrites,
		serializer: config.Serializer,
		indexes:    make(map[string]*index),
	}, nil
}

// DefaultStore creates a store under dir with durable writes.
func DefaultStore(dir string) (*Store, error) {
	return NewStore(Config{Dir: dir, SyncWrites: true})
}

// checkpointRecord is the content of a cp_<seq>.bin file.
type checkpointRecord struct {
	Namespace  string                 `json:"ns"`
	Digest     string                 `json:"digest"`
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint"`
	Metadata   checkpoint.Metadata    `json:"metadata"`
}

// writesRecord is the content of a w_<seq>.bin file.
type writesRecord struct {
	Namespace    string                    `json:"ns"`
	CheckpointID string                    `json:"checkpoint_id"`
	WriterID     string                    `json:"writer_id"`
	Writes       []checkpoint.PendingWrite `json:"writes"`
}

func (s *Store) threadDir(threadID string) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(threadID)))
}

// loadIndex returns the cached index of a thread, reading it from disk on
// first use. The caller holds the thread lock.
func (s *Store) loadIndex(threadID string) (*index, error) {
	s.mu.Lock()
	idx, ok := s.indexes[threadID]
	s.mu.Unlock()
	if ok {
		return idx, nil
	}
	idx, err := readIndex(s.threadDir(threadID), s.serializer)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.indexes[threadID] = idx
	s.mu.Unlock()
	return idx, nil
}

// Put writes the checkpoint file, then the index
func (s *Store) Put(_ context.Context, cfg checkpoint.Config, cp *checkpoint.Checkpoint, md checkpoint.Metadata) (checkpoint.Config, error) {
	if err := cfg.Validate(); err != nil {
		return checkpoint.Config{}, err
	}
	if err := cp.Validate(); err != nil {
		return checkpoint.Config{}, fmt.Errorf("checkpoint validation failed: %w", err)
	}
	stored := checkpoint.Stamp(cfg, cp)
	digest, err := checkpoint.Digest(stored, md)
	if err != nil {
		return checkpoint.Config{}, fmt.Errorf("checkpoint digest failed: %w", err)
	}
	data, err := s.serializer.Serialize(checkpointRecord{Namespace: cfg.Namespace, Digest: digest, Checkpoint: stored, Metadata: md})
	if err != nil {
		return checkpoint.Config{}, fmt.Errorf("checkpoint serialization failed: %w", err)
	}

	unlock := s.locks.Lock(cfg.ThreadID)
	defer unlock()

	idx, err := s.loadIndex(cfg.ThreadID)
	if err != nil {
		return checkpoint.Config{}, err
	}
	out := cfg.At(stored.ID)
	if existing := idx.find(cfg.Namespace, stored.ID); existing != nil {
		if existing.Digest != digest {
			return checkpoint.Config{}, fmt.Errorf("%w: %s", checkpoint.ErrCheckpointConflict, stored.ID)
		}
		return out, nil
	}

	dir := s.threadDir(cfg.ThreadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return checkpoint.Config{}, fmt.Errorf("failed to create thread directory: %w", err)
	}
	next := idx.clone()
	next.NextSeq++
	name := fmt.Sprintf("cp_%d.bin", next.NextSeq)
	if err := writeAtomic(filepath.Join(dir, name), data, s.syncWrites); err != nil {
		return checkpoint.Config{}, fmt.Errorf("failed to write checkpoint: %w", err)
	}
	next.Checkpoints = append(next.Checkpoints, indexEntry{
		Seq: next.NextSeq, Namespace: cfg.Namespace, ID: stored.ID, Digest: digest, File: name,
	})
	if err := s.commit(cfg.ThreadID, dir, next); err != nil {
		_ = os.Remove(filepath.Join(dir, name))
		return checkpoint.Config{}, err
	}
	return out, nil
}

// commit persists idx and makes it the cached index.
func (s *Store) commit(threadID, dir string, idx *index) error {
	if err := idx.save(dir, s.syncWrites); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	s.mu.Lock()
	s.indexes[threadID] = idx
	s.mu.Unlock()
	return nil
}

// GetTuple returns the named checkpoint, or the newest one in the namespace
func (s *Store) GetTuple(_ context.Context, cfg checkpoint.Config) (*checkpoint.Tuple, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(cfg.ThreadID)
	defer unlock()

	idx, err := s.loadIndex(cfg.ThreadID)
	if err != nil {
		return nil, err
	}
	var e *indexEntry
	if cfg.CheckpointID != "" {
		e = idx.find(cfg.Namespace, cfg.CheckpointID)
	} else {
		e = idx.latest(cfg.Namespace)
	}
	if e == nil {
		return nil, nil
	}
	rec, err := s.readCheckpoint(cfg.ThreadID, e.File)
	if err != nil {
		return nil, err
	}
	return s.tuple(cfg, idx, rec)
}

// List yields checkpoints newest-first. Matching tuples are loaded under the
// thread lock and yielded after it is released.
func (s *Store) List(_ context.Context, cfg checkpoint.Config, filter *checkpoint.Filter, limit int) iter.Seq2[*checkpoint.Tuple, error] {
	if err := checkpoint.ValidateList(cfg, filter, limit); err != nil {
		return checkpoint.ErrSeq(err)
	}
	return func(yield func(*checkpoint.Tuple, error) bool) {
		tuples, err := s.collect(cfg, filter, limit)
		for _, t := range tuples {
			if !yield(t, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

func (s *Store) collect(cfg checkpoint.Config, filter *checkpoint.Filter, limit int) ([]*checkpoint.Tuple, error) {
	unlock := s.locks.Lock(cfg.ThreadID)
	defer unlock()

	idx, err := s.loadIndex(cfg.ThreadID)
	if err != nil {
		return nil, err
	}
	var out []*checkpoint.Tuple
	for _, e := range slices.Backward(idx.Checkpoints) {
		if e.Namespace != cfg.Namespace || (cfg.CheckpointID != "" && e.ID != cfg.CheckpointID) {
			continue
		}
		rec, err := s.readCheckpoint(cfg.ThreadID, e.File)
		if err != nil {
			return out, err
		}
		if !filter.Matches(e.ID, rec.Metadata) {
			continue
		}
		t, err := s.tuple(cfg, idx, rec)
		if err != nil {
			return out, err
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PutWrites stores the writer's batch in a new file and drops its previous
// one from the index.
func (s *Store) PutWrites(_ context.Context, cfg checkpoint.Config, writes []checkpoint.PendingWrite, writerID string) error {
	writes, err := checkpoint.ValidateWrites(cfg, writes, writerID)
	if err != nil {
		return err
	}
	data, err := s.serializer.Serialize(writesRecord{
		Namespace: cfg.Namespace, CheckpointID: cfg.CheckpointID, WriterID: writerID, Writes: writes,
	})
	if err != nil {
		return fmt.Errorf("pending writes serialization failed: %w", err)
	}

	unlock := s.locks.Lock(cfg.ThreadID)
	defer unlock()

	idx, err := s.loadIndex(cfg.ThreadID)
	if err != nil {
		return err
	}
	dir := s.threadDir(cfg.ThreadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create thread directory: %w", err)
	}
	next := idx.clone()
	next.NextSeq++
	name := fmt.Sprintf("w_%d.bin", next.NextSeq)
	if err := writeAtomic(filepath.Join(dir, name), data, s.syncWrites); err != nil {
		return fmt.Errorf("failed to write pending writes: %w", err)
	}
	replaced := next.replaceWriter(writeEntry{
		Seq: next.NextSeq, Namespace: cfg.Namespace, CheckpointID: cfg.CheckpointID, WriterID: writerID, File: name,
	})
	if err := s.commit(cfg.ThreadID, dir, next); err != nil {
		_ = os.Remove(filepath.Join(dir, name))
		return err
	}
	if replaced != "" {
		_ = os.Remove(filepath.Join(dir, replaced))
	}
	return nil
}

// DeleteThread removes the thread directory
func (s *Store) DeleteThread(_ context.Context, threadID string) error {
	if threadID == "" {
		return checkpoint.ErrInvalidThreadID
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()

	if err := os.RemoveAll(s.threadDir(threadID)); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	s.mu.Lock()
	delete(s.indexes, threadID)
	s.mu.Unlock()
	if s.syncWrites {
		_ = syncDir(s.threadDir(threadID))
	}
	return nil
}

func (s *Store) readCheckpoint(threadID, name string) (*checkpointRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.threadDir(threadID), name))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var rec checkpointRecord
	if err := s.serializer.Deserialize(data, &rec); err != nil {
		return nil, fmt.Errorf("checkpoint deserialization failed: %w", err)
	}
	if rec.Checkpoint == nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptFile, name)
	}
	return &rec, nil
}

func (s *Store) readWrites(threadID, name string) (*writesRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.threadDir(threadID), name))
	if err != nil {
		return nil, fmt.Errorf("failed to read pending writes: %w", err)
	}
	var rec writesRecord
	if err := s.serializer.Deserialize(data, &rec); err != nil {
		return nil, fmt.Errorf("pending writes deserialization failed: %w", err)
	}
	return &rec, nil
}

func (s *Store) tuple(cfg checkpoint.Config, idx *index, rec *checkpointRecord) (*checkpoint.Tuple, error) {
	t := &checkpoint.Tuple{
		Config:       cfg.At(rec.Checkpoint.ID),
		Checkpoint:   rec.Checkpoint,
		Metadata:     rec.Metadata,
		ParentConfig: checkpoint.ParentOf(cfg, rec.Checkpoint),
	}
	for _, w := range idx.Writes {
		if w.Namespace != cfg.Namespace || w.CheckpointID != rec.Checkpoint.ID {
			continue
		}
		wr, err := s.readWrites(cfg.ThreadID, w.File)
		if err != nil {
			return nil, err
		}
		t.PendingWrites = append(t.PendingWrites, wr.Writes...)
	}
	return t, nil
}

// Close drops cached indexes.
func (s *Store) Close() error {
	s.mu.Lock()
	clear(s.indexes)
	s.mu.Unlock()
	return nil
}

var _ checkpoint.Store = (*Store)(nil)
