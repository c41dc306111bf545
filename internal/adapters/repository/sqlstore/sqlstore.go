// Package sqlstore holds the query building and row encoding shared by the
// relational checkpoint stores.
package sqlstore

import (
	"fmt"
	"strings"

	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/pkg/serialization"
)

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// Question renders "?" placeholders (sqlite).
func Question(int) string { return "?" }

// Dollar renders "$n" placeholders (postgres).
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Tables names the checkpoint and write tables.
type Tables struct {
	Checkpoints string
	Writes      string
}

// DefaultTables are used unless a store is given a prefix.
var DefaultTables = Tables{Checkpoints: "checkpoints", Writes: "checkpoint_writes"}

// TablesFor derives both table names from a base name. Unsafe names yield
// the defaults.
func TablesFor(base string) Tables {
	if !IsSafeIdent(base) {
		return DefaultTables
	}
	return Tables{Checkpoints: base, Writes: base + "_writes"}
}

// IsSafeIdent reports whether s is a plain identifier. Only alphanumeric and
// underscore are permitted to prevent SQL injection via identifiers.
func IsSafeIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return false
	}
	return true
}

// CheckpointColumns is the select list every query decodes with DecodeRow.
const CheckpointColumns = "checkpoint_id, checkpoint, metadata"

// Query accumulates a statement and its arguments.
type Query struct {
	ph   Placeholder
	sb   strings.Builder
	args []any
}

// NewQuery starts a statement.
func NewQuery(ph Placeholder, format string, a ...any) *Query {
	q := &Query{ph: ph}
	fmt.Fprintf(&q.sb, format, a...)
	return q
}

// Where appends " AND <cond>" binding arg to the "%s" in cond.
func (q *Query) Where(cond string, arg any) *Query {
	q.args = append(q.args, arg)
	q.sb.WriteString(" AND ")
	q.sb.WriteString(fmt.Sprintf(cond, q.ph(len(q.args))))
	return q
}

// Append adds raw SQL.
func (q *Query) Append(sql string) *Query {
	q.sb.WriteString(sql)
	return q
}

// Limit appends a LIMIT clause when n is positive.
func (q *Query) Limit(n int) *Query {
	if n > 0 {
		q.args = append(q.args, n)
		q.sb.WriteString(" LIMIT " + q.ph(len(q.args)))
	}
	return q
}

// SQL returns the statement text.
func (q *Query) SQL() string { return q.sb.String() }

// Args returns the bound arguments.
func (q *Query) Args() []any { return q.args }

// ListQuery selects the checkpoints of cfg matching the top-level filter
// fields, newest-first. Before and Extra are left to Filter.Matches since
// database collations need not order ids bytewise; the limit is pushed down
// only when neither is set.
func ListQuery(t Tables, ph Placeholder, cfg checkpoint.Config, f *checkpoint.Filter, limit int) *Query {
	q := NewQuery(ph, "SELECT %s FROM %s WHERE 1=1", CheckpointColumns, t.Checkpoints).
		Where("thread_id = %s", cfg.ThreadID).
		Where("checkpoint_ns = %s", cfg.Namespace)
	if cfg.CheckpointID != "" {
		q.Where("checkpoint_id = %s", cfg.CheckpointID)
	}
	if f != nil {
		if f.Source != "" {
			q.Where("source = %s", string(f.Source))
		}
		if f.Step != nil {
			q.Where("step = %s", *f.Step)
		}
		if f.MinStep != nil {
			q.Where("step >= %s", *f.MinStep)
		}
		if f.MaxStep != nil {
			q.Where("step <= %s", *f.MaxStep)
		}
		if f.Node != "" {
			q.Where("node = %s", f.Node)
		}
	}
	q.Append(" ORDER BY seq DESC")
	if f == nil || (len(f.Extra) == 0 && f.Before == "") {
		q.Limit(limit)
	}
	return q
}

// Row is one encoded checkpoint ready for insertion.
type Row struct {
	Checkpoint *checkpoint.Checkpoint
	Metadata   checkpoint.Metadata
	Digest     string
	Data       []byte
	MetaData   []byte
}

// EncodeRow stamps cp with its parent and serializes it with md.
func EncodeRow(s *serialization.Serializer, cfg checkpoint.Config, cp *checkpoint.Checkpoint, md checkpoint.Metadata) (*Row, error) {
	stored := checkpoint.Stamp(cfg, cp)
	digest, err := checkpoint.Digest(stored, md)
	if err != nil {
		return nil, fmt.Errorf("checkpoint digest failed: %w", err)
	}
	data, err := s.Serialize(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	mdData, err := s.Serialize(md)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize metadata: %w", err)
	}
	return &Row{Checkpoint: stored, Metadata: md, Digest: digest, Data: data, MetaData: mdData}, nil
}

// DecodedRow is a checkpoint read back from a table.
type DecodedRow struct {
	ID         string
	Checkpoint *checkpoint.Checkpoint
	Metadata   checkpoint.Metadata
}

// DecodeRow deserializes the blobs selected by CheckpointColumns.
func DecodeRow(s *serialization.Serializer, id string, data, mdData []byte) (*DecodedRow, error) {
	var cp checkpoint.Checkpoint
	if err := s.Deserialize(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint %s: %w", id, err)
	}
	var md checkpoint.Metadata
	if err := s.Deserialize(mdData, &md); err != nil {
		return nil, fmt.Errorf("failed to deserialize metadata %s: %w", id, err)
	}
	return &DecodedRow{ID: id, Checkpoint: &cp, Metadata: md}, nil
}

// Tuple assembles a checkpoint tuple from a decoded row.
func (r *DecodedRow) Tuple(cfg checkpoint.Config, writes []checkpoint.PendingWrite) *checkpoint.Tuple {
	return &checkpoint.Tuple{
		Config:        cfg.At(r.ID),
		Checkpoint:    r.Checkpoint,
		Metadata:      r.Metadata,
		ParentConfig:  checkpoint.ParentOf(cfg, r.Checkpoint),
		PendingWrites: writes,
	}
}

// EncodeValue serializes a pending write value.
func EncodeValue(s *serialization.Serializer, v any) ([]byte, error) {
	data, err := s.Serialize(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize pending write: %w", err)
	}
	return data, nil
}

// DecodeValue deserializes a pending write value.
func DecodeValue(s *serialization.Serializer, data []byte) (any, error) {
	var v any
	if err := s.Deserialize(data, &v); err != nil {
		return nil, fmt.Errorf("failed to deserialize pending write: %w", err)
	}
	return v, nil
}
