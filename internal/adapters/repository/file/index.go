package file

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/flowgraph/pregelflow/pkg/serialization"
)

const indexFile = "index.json"

// index lists a thread's files in insertion order. It is replaced, never
// mutated, once cached.
type index struct {
	NextSeq     int64        `json:"next_seq"`
	Checkpoints []indexEntry `json:"checkpoints"`
	Writes      []writeEntry `json:"writes"` // ordered by put, oldest first
}

type indexEntry struct {
	Seq       int64  `json:"seq"`
	Namespace string `json:"ns"`
	ID        string `json:"id"`
	Digest    string `json:"digest"`
	File      string `json:"file"`
}

type writeEntry struct {
	Seq          int64  `json:"seq"`
	Namespace    string `json:"ns"`
	CheckpointID string `json:"checkpoint_id"`
	WriterID     string `json:"writer_id"`
	File         string `json:"file"`
}

func (idx *index) clone() *index {
	return &index{
		NextSeq:     idx.NextSeq,
		Checkpoints: slices.Clone(idx.Checkpoints),
		Writes:      slices.Clone(idx.Writes),
	}
}

func (idx *index) find(ns, id string) *indexEntry {
	for i := range idx.Checkpoints {
		if e := &idx.Checkpoints[i]; e.Namespace == ns && e.ID == id {
			return e
		}
	}
	return nil
}

func (idx *index) latest(ns string) *indexEntry {
	for i := len(idx.Checkpoints) - 1; i >= 0; i-- {
		if e := &idx.Checkpoints[i]; e.Namespace == ns {
			return e
		}
	}
	return nil
}

// replaceWriter appends w and removes the writer's previous entry for the
// same checkpoint, returning the file that entry referenced.
func (idx *index) replaceWriter(w writeEntry) string {
	var old string
	idx.Writes = slices.DeleteFunc(idx.Writes, func(e writeEntry) bool {
		if e.Namespace == w.Namespace && e.CheckpointID == w.CheckpointID && e.WriterID == w.WriterID {
			old = e.File
			return true
		}
		return false
	})
	idx.Writes = append(idx.Writes, w)
	return old
}

// save writes the index atomically.
func (idx *index) save(dir string, syncWrites bool) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, indexFile), data, syncWrites)
}

// readIndex loads the index of dir. A missing directory is an empty thread;
// an unreadable index is rebuilt from the data files.
func readIndex(dir string, serializer *serialization.Serializer) (*index, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if errors.Is(err, fs.ErrNotExist) {
		if _, statErr := os.Stat(dir); errors.Is(statErr, fs.ErrNotExist) {
			return &index{}, nil
		}
		return recoverIndex(dir, serializer)
	}
	if err != nil {
		return recoverIndex(dir, serializer)
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return recoverIndex(dir, serializer)
	}
	return &idx, nil
}

// recoverIndex rebuilds the index by scanning data files. File sequence
// numbers preserve insertion order; for writes the highest sequence of each
// writer wins.
func recoverIndex(dir string, serializer *serialization.Serializer) (*index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to recover index: %w", err)
	}
	idx := &index{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var seq int64
		var ok bool
		switch {
		case !strings.HasSuffix(name, ".bin"):
			continue
		case strings.HasPrefix(name, "cp_"):
			if seq, ok = parseName(name, "cp_"); !ok {
				continue
			}
			var rec checkpointRecord
			if serializer.Deserialize(data, &rec) != nil || rec.Checkpoint == nil {
				continue // skip unreadable files
			}
			idx.Checkpoints = append(idx.Checkpoints, indexEntry{
				Seq: seq, Namespace: rec.Namespace, ID: rec.Checkpoint.ID, Digest: rec.Digest, File: name,
			})
		case strings.HasPrefix(name, "w_"):
			if seq, ok = parseName(name, "w_"); !ok {
				continue
			}
			var rec writesRecord
			if serializer.Deserialize(data, &rec) != nil {
				continue
			}
			idx.Writes = append(idx.Writes, writeEntry{
				Seq: seq, Namespace: rec.Namespace, CheckpointID: rec.CheckpointID, WriterID: rec.WriterID, File: name,
			})
		default:
			continue
		}
		idx.NextSeq = max(idx.NextSeq, seq)
	}

	slices.SortFunc(idx.Checkpoints, func(a, b indexEntry) int { return cmp.Compare(a.Seq, b.Seq) })
	slices.SortFunc(idx.Writes, func(a, b writeEntry) int { return cmp.Compare(a.Seq, b.Seq) })
	writes := idx.Writes
	idx.Writes = nil
	for _, w := range writes {
		idx.replaceWriter(w)
	}
	return idx, nil
}

// parseName extracts the sequence from names like cp_12.bin.
func parseName(name, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".bin")
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseInt(rest, 10, 64)
	return seq, err == nil && seq > 0
}

// writeAtomic writes to a temp file then renames it into place.
func writeAtomic(path string, data []byte, syncWrites bool) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if syncWrites {
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if syncWrites {
		// Sync the directory entry after rename
		_ = syncDir(path)
	}
	return nil
}

// syncDir fsyncs the parent directory of the given file path.
func syncDir(path string) error {
	df, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer df.Close()
	return df.Sync()
}
