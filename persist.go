package cellgraph

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Snapshot is the serialized form of a Session: the node records plus
// whatever the engine needs to rebuild formulas without the original
// workbook. A loaded Snapshot reproduces every Resolve result of the
// session that saved it.
type Snapshot struct {
	Cycles        bool              `json:"cycles,omitempty" yaml:"cycles,omitempty"`
	MaxIterations int               `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Tolerance     float64           `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Names         map[string]string `json:"names,omitempty" yaml:"names,omitempty"`
	Tables        map[string]string `json:"tables,omitempty" yaml:"tables,omitempty"`
	Nodes         []NodeRecord      `json:"nodes" yaml:"nodes"`
}

// Snapshot captures the session's current graph and solver configuration.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Cycles:        s.cycles,
		MaxIterations: s.maxIterations,
		Tolerance:     s.tolerance,
		Nodes:         s.Nodes(),
	}
	if s.source != nil {
		for _, dn := range s.source.DefinedNames() {
			if snap.Names == nil {
				snap.Names = make(map[string]string)
			}
			if dn.Formula != "" {
				snap.Names[dn.Name] = "=" + dn.Formula
			} else {
				snap.Names[dn.Name] = dn.RefersTo.String()
			}
		}
		for _, t := range s.source.Tables() {
			if snap.Tables == nil {
				snap.Tables = make(map[string]string)
			}
			snap.Tables[t.Name] = t.Data.String()
		}
	}
	return snap
}

// Save writes the session snapshot to w in the given format ("json" or
// "yaml").
func (s *Session) Save(w io.Writer, format string) error {
	snap := s.Snapshot()
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
	case "yaml":
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported snapshot format %q", format)
	}
	return nil
}

// SaveFile writes the snapshot to path, picking the format from the
// extension (.json, .yml, .yaml).
func (s *Session) SaveFile(path string) error {
	format, err := formatForPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	if err := s.Save(f, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a snapshot from r and rebuilds a Session over an in-memory
// source assembled from the records: constants (including folded and buried
// ones) become literals, formula nodes keep their formula text and are
// recompiled on first resolve. Options are applied after the snapshot's
// solver settings, so callers can override them.
func Load(r io.Reader, format string, opts ...Option) (*Session, error) {
	var snap Snapshot
	switch format {
	case "json":
		if err := json.NewDecoder(r).Decode(&snap); err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w", err)
		}
	case "yaml":
		if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}
	return snap.Session(opts...)
}

// LoadFile reads a snapshot from path, picking the format from the extension.
func LoadFile(path string, opts ...Option) (*Session, error) {
	snap, err := ReadSnapshotFile(path)
	if err != nil {
		return nil, err
	}
	return snap.Session(opts...)
}

// ReadSnapshotFile reads a snapshot from path without rebuilding a session.
func ReadSnapshotFile(path string) (Snapshot, error) {
	format, err := formatForPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()

	var snap Snapshot
	switch format {
	case "json":
		err = json.NewDecoder(f).Decode(&snap)
	case "yaml":
		err = yaml.NewDecoder(f).Decode(&snap)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

// Session rebuilds a live session from the snapshot.
func (snap Snapshot) Session(opts ...Option) (*Session, error) {
	src := NewMapSource()
	for name, refersTo := range snap.Names {
		if strings.HasPrefix(refersTo, "=") {
			src.AddNamedFormula(name, refersTo)
			continue
		}
		areas, err := ParseMultiRange(refersTo)
		if err != nil {
			return nil, fmt.Errorf("snapshot name %s: %w", name, err)
		}
		src.names[strings.ToUpper(name)] = areas
	}
	for name, data := range snap.Tables {
		r, err := ParseRangeRef(data)
		if err != nil {
			return nil, fmt.Errorf("snapshot table %s: %w", name, err)
		}
		src.tables[strings.ToUpper(name)] = r
	}
	for _, rec := range snap.Nodes {
		if strings.ContainsAny(rec.Address, ",:") {
			continue // range aggregates rebuild on demand
		}
		ref, err := ParseCellRef(rec.Address)
		if err != nil {
			return nil, fmt.Errorf("snapshot node %s: %w", rec.Address, err)
		}
		switch {
		case rec.Formula != "":
			src.cells[ref.String()] = SourceCell{Formula: rec.Formula}
		case rec.Value != nil:
			src.cells[ref.String()] = SourceCell{Value: importValue(rec.Value)}
		default:
			continue // empty cell, nothing to restore
		}
		src.sheets[ref.Sheet] = struct{}{}
	}

	all := make([]Option, 0, len(opts)+1)
	if snap.Cycles {
		all = append(all, WithCycles(snap.MaxIterations, snap.Tolerance))
	}
	all = append(all, opts...)
	return NewSession(src, all...), nil
}

// importValue undoes the serialization-friendly encodings: error tokens come
// back as ErrorValues, integral decoder output becomes float64.
func importValue(v Value) Value {
	switch n := v.(type) {
	case string:
		if ev, ok := ParseErrorValue(n); ok {
			return ev
		}
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return v
	}
}

func formatForPath(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return "json", nil
	case ".yml", ".yaml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("unsupported snapshot extension %q (want .json, .yml or .yaml)", ext)
	}
}
