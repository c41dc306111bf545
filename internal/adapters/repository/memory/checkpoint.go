// Package memory provides an in-process checkpoint store
package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/pkg/serialization"
)

// Store implements checkpoint.Store with thread-safe in-memory storage
// PRINCIPLES:
// - KISS: One map per thread, guarded by that thread's lock
// - SRP: Single responsibility for in-memory checkpoint storage
// - Checkpoints live until DeleteThread; nothing is evicted
// Values are kept serialized so callers never share memory with the store.
type Store struct {
	mu       sync.RWMutex
	threads  map[string]*thread
	maxBytes int64

	sizeMu sync.Mutex
	size   int64

	serializer *serialization.Serializer
}

// Config holds configuration for Store
type Config struct {
	MaxMemoryMB int64                     // Puts beyond this fail; 0 means unlimited
	Serializer  *serialization.Serializer // Custom serializer (optional)
}

type key struct {
	ns string
	id string
}

type thread struct {
	mu      sync.RWMutex
	deleted bool
	order   []*entry // insertion order, all namespaces
	byID    map[key]*entry
	writes  map[key][]*writerEntry
}

// entry is immutable once stored.
type entry struct {
	ns       string
	id       string
	digest   string
	data     []byte // serialized checkpoint
	metadata []byte // serialized metadata
	size     int64
}

type writerEntry struct {
	writer string
	data   []byte // serialized []checkpoint.PendingWrite
	size   int64
}

// NewStore creates a new in-memory checkpoint store
func NewStore(config Config) *Store {
	if config.Serializer == nil {
		config.Serializer = serialization.DefaultSerializer()
	}
	return &Store{
		threads:    make(map[string]*thread),
		maxBytes:   config.MaxMemoryMB * 1024 * 1024,
		serializer: config.Serializer,
	}
}

// DefaultStore creates a Store with default configuration
func DefaultStore() *Store {
	return NewStore(Config{})
}

// lockThread returns the live thread record locked for writing, creating it
// when create is set. It returns nil when the thread does not exist.
func (s *Store) lockThread(id string, create bool) *thread {
	for {
		s.mu.RLock()
		t, ok := s.threads[id]
		s.mu.RUnlock()
		if !ok {
			if !create {
				return nil
			}
			s.mu.Lock()
			if t, ok = s.threads[id]; !ok {
				t = &thread{byID: make(map[key]*entry), writes: make(map[key][]*writerEntry)}
				s.threads[id] = t
			}
			s.mu.Unlock()
		}
		t.mu.Lock()
		if !t.deleted {
			return t
		}
		// Deleted between lookup and lock; retry against the new record.
		t.mu.Unlock()
	}
}

func (s *Store) readThread(id string) *thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threads[id]
}

// Put stores a checkpoint in memory
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
	data, err := s.serializer.Serialize(stored)
	if err != nil {
		return checkpoint.Config{}, fmt.Errorf("checkpoint serialization failed: %w", err)
	}
	mdData, err := s.serializer.Serialize(md)
	if err != nil {
		return checkpoint.Config{}, fmt.Errorf("metadata serialization failed: %w", err)
	}

	out := cfg.At(stored.ID)
	k := key{ns: cfg.Namespace, id: stored.ID}
	t := s.lockThread(cfg.ThreadID, true)
	defer t.mu.Unlock()

	if existing, ok := t.byID[k]; ok {
		if existing.digest != digest {
			return checkpoint.Config{}, fmt.Errorf("%w: %s", checkpoint.ErrCheckpointConflict, stored.ID)
		}
		return out, nil
	}

	e := &entry{ns: cfg.Namespace, id: stored.ID, digest: digest, data: data, metadata: mdData}
	e.size = int64(len(data) + len(mdData))
	if err := s.reserve(e.size); err != nil {
		return checkpoint.Config{}, err
	}
	t.order = append(t.order, e)
	t.byID[k] = e
	return out, nil
}

// GetTuple returns the named checkpoint or the newest one in the namespace.
func (s *Store) GetTuple(_ context.Context, cfg checkpoint.Config) (*checkpoint.Tuple, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := s.readThread(cfg.ThreadID)
	if t == nil {
		return nil, nil
	}

	t.mu.RLock()
	var e *entry
	switch {
	case t.deleted:
	case cfg.CheckpointID != "":
		e = t.byID[key{ns: cfg.Namespace, id: cfg.CheckpointID}]
	default:
		for _, cand := range slices.Backward(t.order) {
			if cand.ns == cfg.Namespace {
				e = cand
				break
			}
		}
	}
	var writers []*writerEntry
	if e != nil {
		writers = slices.Clone(t.writes[key{ns: e.ns, id: e.id}])
	}
	t.mu.RUnlock()

	if e == nil {
		return nil, nil
	}
	return s.tuple(cfg, e, writers)
}

// List returns checkpoints newest-first
func (s *Store) List(_ context.Context, cfg checkpoint.Config, filter *checkpoint.Filter, limit int) iter.Seq2[*checkpoint.Tuple, error] {
	if err := checkpoint.ValidateList(cfg, filter, limit); err != nil {
		return checkpoint.ErrSeq(err)
	}
	return func(yield func(*checkpoint.Tuple, error) bool) {
		t := s.readThread(cfg.ThreadID)
		if t == nil {
			return
		}

		type candidate struct {
			e       *entry
			writers []*writerEntry
		}
		t.mu.RLock()
		var candidates []candidate
		order := t.order
		if t.deleted {
			order = nil
		}
		for _, e := range slices.Backward(order) {
			if e.ns != cfg.Namespace || (cfg.CheckpointID != "" && e.id != cfg.CheckpointID) {
				continue
			}
			candidates = append(candidates, candidate{e: e, writers: slices.Clone(t.writes[key{ns: e.ns, id: e.id}])})
		}
		t.mu.RUnlock()

		yielded := 0
		for _, c := range candidates {
			var md checkpoint.Metadata
			if err := s.serializer.Deserialize(c.e.metadata, &md); err != nil {
				yield(nil, fmt.Errorf("metadata deserialization failed: %w", err))
				return
			}
			if !filter.Matches(c.e.id, md) {
				continue
			}
			tuple, err := s.tuple(cfg, c.e, c.writers)
			if !yield(tuple, err) || err != nil {
				return
			}
			yielded++
			if limit > 0 && yielded >= limit {
				return
			}
		}
	}
}

// PutWrites records pending writes for a checkpoint, replacing earlier writes
// from the same writer.
func (s *Store) PutWrites(_ context.Context, cfg checkpoint.Config, writes []checkpoint.PendingWrite, writerID string) error {
	writes, err := checkpoint.ValidateWrites(cfg, writes, writerID)
	if err != nil {
		return err
	}
	data, err := s.serializer.Serialize(writes)
	if err != nil {
		return fmt.Errorf("pending writes serialization failed: %w", err)
	}
	we := &writerEntry{writer: writerID, data: data, size: int64(len(data))}

	t := s.lockThread(cfg.ThreadID, true)
	defer t.mu.Unlock()

	if err := s.reserve(we.size); err != nil {
		return err
	}
	k := key{ns: cfg.Namespace, id: cfg.CheckpointID}
	current := t.writes[k]
	if i := slices.IndexFunc(current, func(w *writerEntry) bool { return w.writer == writerID }); i >= 0 {
		s.release(current[i].size)
		current = slices.Delete(slices.Clone(current), i, i+1)
	}
	t.writes[k] = append(current, we)
	return nil
}

// DeleteThread removes every checkpoint and write of a thread.
func (s *Store) DeleteThread(_ context.Context, threadID string) error {
	s.mu.Lock()
	t, ok := s.threads[threadID]
	delete(s.threads, threadID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted = true
	var freed int64
	for _, e := range t.order {
		freed += e.size
	}
	for _, ws := range t.writes {
		for _, w := range ws {
			freed += w.size
		}
	}
	s.release(freed)
	return nil
}

func (s *Store) tuple(cfg checkpoint.Config, e *entry, writers []*writerEntry) (*checkpoint.Tuple, error) {
	var cp checkpoint.Checkpoint
	if err := s.serializer.Deserialize(e.data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint deserialization failed: %w", err)
	}
	var md checkpoint.Metadata
	if err := s.serializer.Deserialize(e.metadata, &md); err != nil {
		return nil, fmt.Errorf("metadata deserialization failed: %w", err)
	}
	tuple := &checkpoint.Tuple{
		Config:       cfg.At(e.id),
		Checkpoint:   &cp,
		Metadata:     md,
		ParentConfig: checkpoint.ParentOf(cfg, &cp),
	}
	for _, w := range writers {
		var writes []checkpoint.PendingWrite
		if err := s.serializer.Deserialize(w.data, &writes); err != nil {
			return nil, fmt.Errorf("pending writes deserialization failed: %w", err)
		}
		tuple.PendingWrites = append(tuple.PendingWrites, writes...)
	}
	return tuple, nil
}

// Stats reports memory usage.
type Stats struct {
	Threads     int   `json:"threads"`
	Checkpoints int   `json:"checkpoints"`
	SizeBytes   int64 `json:"size_bytes"`
	MaxBytes    int64 `json:"max_bytes"`
}

// GetStats returns memory usage statistics
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	threads := make([]*thread, 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, t)
	}
	s.mu.RUnlock()

	stats := Stats{Threads: len(threads), MaxBytes: s.maxBytes}
	for _, t := range threads {
		t.mu.RLock()
		stats.Checkpoints += len(t.order)
		t.mu.RUnlock()
	}
	s.sizeMu.Lock()
	stats.SizeBytes = s.size
	s.sizeMu.Unlock()
	return stats
}

// reserve accounts for n new bytes, failing when the limit would be exceeded.
func (s *Store) reserve(n int64) error {
	s.sizeMu.Lock()
	defer s.sizeMu.Unlock()
	if s.maxBytes > 0 && s.size+n > s.maxBytes {
		return fmt.Errorf("%w: current=%dB, max=%dB", ErrMemoryLimit, s.size, s.maxBytes)
	}
	s.size += n
	return nil
}

func (s *Store) release(n int64) {
	s.sizeMu.Lock()
	s.size -= n
	s.sizeMu.Unlock()
}

// Close releases resources. The store holds none beyond memory.
func (s *Store) Close() error { return nil }

var _ checkpoint.Store = (*Store)(nil)
