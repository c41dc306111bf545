// Package loader reads graph definitions from YAML and binds their node and
// route names to Go implementations.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flowgraph/pregelflow/pkg/validation"
)

// Definition is the declarative form of a graph.
type Definition struct {
	Name            string         `yaml:"name" validate:"required"`
	Description     string         `yaml:"description,omitempty"`
	Entry           string         `yaml:"entry" validate:"required,identifier"`
	MaxIterations   int            `yaml:"max_iterations,omitempty" validate:"gte=0"`
	InterruptBefore []string       `yaml:"interrupt_before,omitempty" validate:"dive,identifier"`
	InterruptAfter  []string       `yaml:"interrupt_after,omitempty" validate:"dive,identifier"`
	Channels        []ChannelDef   `yaml:"channels,omitempty" validate:"dive"`
	Nodes           []NodeDef      `yaml:"nodes" validate:"required,min=1,dive"`
	Edges           []EdgeDef      `yaml:"edges,omitempty" validate:"dive"`
	Branches        []BranchDef    `yaml:"branches,omitempty" validate:"dive"`
	Metadata        map[string]any `yaml:"metadata,omitempty"`
}

// ChannelDef declares a channel.
type ChannelDef struct {
	Name     string `yaml:"name" validate:"required,identifier"`
	Kind     string `yaml:"kind" validate:"required,channel_kind"`
	Type     string `yaml:"type,omitempty" validate:"channel_type"`
	Operator string `yaml:"operator,omitempty" validate:"operator"`
	Reset    bool   `yaml:"reset_each_step,omitempty"`
}

// NodeDef declares a node. Run names the registered implementation and With
// carries its parameters.
type NodeDef struct {
	ID       string         `yaml:"id" validate:"required,identifier"`
	Run      string         `yaml:"run" validate:"required"`
	With     map[string]any `yaml:"with,omitempty"`
	Reads    []string       `yaml:"reads,omitempty" validate:"dive,identifier"`
	Writes   []string       `yaml:"writes,omitempty" validate:"dive,identifier"`
	Triggers []string       `yaml:"triggers,omitempty" validate:"dive,identifier"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// EdgeDef is a fixed edge.
type EdgeDef struct {
	From string `yaml:"from" validate:"required,identifier"`
	To   string `yaml:"to" validate:"required,node_ref"`
}

// BranchDef is a conditional edge resolved by a registered route.
type BranchDef struct {
	Name    string         `yaml:"name,omitempty"`
	From    string         `yaml:"from" validate:"required,identifier"`
	Route   string         `yaml:"route" validate:"required"`
	With    map[string]any `yaml:"with,omitempty"`
	Targets []string       `yaml:"targets" validate:"required,min=1,dive,node_ref"`
}

// Validate checks the rules tags cannot express.
func (d *Definition) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(d.Channels))
	for _, c := range d.Channels {
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("%w: channel %q", ErrDuplicateID, c.Name))
		}
		seen[c.Name] = true
	}
	seen = make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if seen[n.ID] {
			errs = append(errs, fmt.Errorf("%w: node %q", ErrDuplicateID, n.ID))
		}
		seen[n.ID] = true
	}
	return errors.Join(errs...)
}

// Parse decodes a YAML definition. Unknown keys are rejected.
func Parse(data []byte) (*Definition, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads one YAML definition from r.
func Decode(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	if err := validation.Struct(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Load reads a definition file.
func Load(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	def, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Marshal encodes d as YAML.
func (d *Definition) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
