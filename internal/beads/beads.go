// Package beads reads the read-only bead store at <repo>/.beads/issues.jsonl
// (spec §6 "Bead store"): one JSON object per line describing an external
// unit-of-work. The core never mutates this file; ZJJ only links a Session
// to a bead id and surfaces bead metadata for observability. Grounded on
// steveyegge-gastown's internal/beads/backend.go (metadata.json detection,
// os.ReadFile + json.Unmarshal idiom) and internal/beads/beads_ops.go's
// BeadInfo/BeadsOps interface shape, adapted from the "bd CLI subprocess"
// query surface to a plain JSONL line reader since spec §6 specifies the
// bead store as a flat file, not a queryable backend.
package beads

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Bead is one line of the issues.jsonl bead store (spec §6 field list).
type Bead struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority,omitempty"`
	Type        string     `json:"type,omitempty"`
	Description string     `json:"description,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	BlockedBy   []string   `json:"blocked_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Store is a read-only view over one repository's .beads/issues.jsonl file.
type Store struct {
	path string
}

// New constructs a Store reading from <repoRoot>/.beads/issues.jsonl.
func New(repoRoot string) *Store {
	return &Store{path: filepath.Join(repoRoot, ".beads", "issues.jsonl")}
}

// NewFromPath constructs a Store reading directly from path, for tests.
func NewFromPath(path string) *Store {
	return &Store{path: path}
}

// Load reads every bead line from the store. A missing file is treated as
// "no beads" per spec §6, returning an empty slice rather than an error.
func (s *Store) Load() ([]Bead, error) {
	f, err := os.Open(s.path) //nolint:gosec // path is derived from repo root, not user input
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open bead store %q: %w", s.path, err)
	}
	defer func() { _ = f.Close() }()

	var beads []Bead
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var b Bead
		if err := json.Unmarshal(line, &b); err != nil {
			return nil, fmt.Errorf("parse bead store %q line %d: %w", s.path, lineNo, err)
		}
		beads = append(beads, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read bead store %q: %w", s.path, err)
	}
	return beads, nil
}

// Get loads the full store and returns the bead with id, if present.
func (s *Store) Get(id string) (*Bead, bool, error) {
	beads, err := s.Load()
	if err != nil {
		return nil, false, err
	}
	for i := range beads {
		if beads[i].ID == id {
			return &beads[i], true, nil
		}
	}
	return nil, false, nil
}
