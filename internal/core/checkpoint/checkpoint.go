// Package checkpoint provides the checkpoint domain entities and the store
// contract every persistence adapter implements.
package checkpoint

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph/pregelflow/pkg/serialization"
)

// FormatVersion is written into every checkpoint.
const FormatVersion = 1

// ControlChannel carries node control signals as pending writes. Every node
// that finished a superstep records exactly one write on it, so a recovered
// step knows which nodes already completed.
const ControlChannel = "__control__"

// Source records what produced a checkpoint.
type Source string

const (
	SourceInput  Source = "input"
	SourceLoop   Source = "loop"
	SourceUpdate Source = "update"
	SourceFork   Source = "fork"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceInput, SourceLoop, SourceUpdate, SourceFork:
		return true
	}
	return false
}

// Checkpoint represents a saved state in the graph execution
// PRINCIPLES:
// - KISS: Simple struct with clear fields
// - Immutable once stored; history grows only by new checkpoints
type Checkpoint struct {
	ID              string           `json:"id"`
	ParentID        string           `json:"parent_id,omitempty"`
	Timestamp       time.Time        `json:"ts"`
	ChannelValues   map[string]any   `json:"channel_values"`
	ChannelVersions map[string]int64 `json:"channel_versions"`
	UpdatedChannels []string         `json:"updated_channels,omitempty"`
	NextNodes       []string         `json:"next_nodes,omitempty"`
	Version         int              `json:"v"`
}

// NewID returns a time-ordered checkpoint id.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// New creates a checkpoint with a fresh id and the current time.
func New(values map[string]any, versions map[string]int64) *Checkpoint {
	return &Checkpoint{
		ID:              NewID(),
		Timestamp:       time.Now().UTC(),
		ChannelValues:   values,
		ChannelVersions: versions,
		Version:         FormatVersion,
	}
}

// Validate ensures checkpoint integrity
func (c *Checkpoint) Validate() error {
	if c == nil {
		return ErrNilCheckpoint
	}
	if c.ID == "" {
		return ErrInvalidCheckpointID
	}
	return nil
}

// Copy returns a shallow copy with its own maps and slices. Channel values are
// shared; stores isolate them through serialization.
func (c *Checkpoint) Copy() *Checkpoint {
	out := *c
	out.ChannelValues = maps.Clone(c.ChannelValues)
	out.ChannelVersions = maps.Clone(c.ChannelVersions)
	out.UpdatedChannels = append([]string(nil), c.UpdatedChannels...)
	out.NextNodes = append([]string(nil), c.NextNodes...)
	return &out
}

// Metadata contains additional information about a checkpoint
type Metadata struct {
	Source Source         `json:"source"`
	Step   int            `json:"step"`
	Node   string         `json:"node,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// PendingWrite is a write produced by a node in a superstep whose checkpoint
// has not been written yet.
type PendingWrite struct {
	WriterID string `json:"writer_id"`
	Channel  string `json:"channel"`
	Value    any    `json:"value"`
	Seq      int    `json:"seq"`
}

// Config addresses a checkpoint chain, or one checkpoint in it.
type Config struct {
	ThreadID     string `json:"thread_id"`
	Namespace    string `json:"checkpoint_ns,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// Validate requires a thread id.
func (c Config) Validate() error {
	if c.ThreadID == "" {
		return ErrInvalidThreadID
	}
	return nil
}

// At returns c addressing checkpoint id.
func (c Config) At(id string) Config {
	c.CheckpointID = id
	return c
}

// Latest returns c without a checkpoint id.
func (c Config) Latest() Config { return c.At("") }

// Tuple is a checkpoint with its addressing, metadata and pending writes.
type Tuple struct {
	Config        Config
	Checkpoint    *Checkpoint
	Metadata      Metadata
	ParentConfig  *Config
	PendingWrites []PendingWrite
}

// record is the unit the stores persist for one checkpoint.
type record struct {
	Checkpoint *Checkpoint `json:"checkpoint"`
	Metadata   Metadata    `json:"metadata"`
}

// Digest returns a fingerprint of the checkpoint and its metadata. Two puts of
// the same id are the same put when their digests match.
func Digest(cp *Checkpoint, md Metadata) (string, error) {
	return serialization.Fingerprint(record{Checkpoint: cp, Metadata: md})
}

// Stamp returns a copy of cp whose parent is the checkpoint cfg addresses.
// Stores call it before persisting.
func Stamp(cfg Config, cp *Checkpoint) *Checkpoint {
	out := cp.Copy()
	out.ParentID = cfg.CheckpointID
	if out.Version == 0 {
		out.Version = FormatVersion
	}
	return out
}

// ParentOf returns the config of the parent of a stored checkpoint.
func ParentOf(cfg Config, cp *Checkpoint) *Config {
	if cp.ParentID == "" {
		return nil
	}
	p := cfg.At(cp.ParentID)
	return &p
}
