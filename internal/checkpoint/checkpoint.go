// Package checkpoint persists each adapter's last_source_block to a
// single file, atomically, so an attester restart can resume discovery
// close to where it left off (§6.4: memory-only except for this one
// file). Grounded on the teacher's absence of this exact pattern (its
// message state lives in Postgres) but written the way the rest of the
// module writes single-file state: write to a temp file in the same
// directory, then os.Rename, which is atomic on every platform this
// module targets.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/etrid-network/attest-core/internal/domain"
)

// Store persists a last_source_block per domain to one JSON file.
type Store struct {
	path string

	mu    sync.Mutex
	state map[domain.Domain]uint64
}

// Open loads path if it exists, or starts empty if it does not (a
// fresh attester has no checkpoint and simply discovers from
// FromCursor).
func Open(path string) (*Store, error) {
	s := &Store{path: path, state: make(map[domain.Domain]uint64)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}

	var onDisk map[string]uint64
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", path, err)
	}
	for name, block := range onDisk {
		if d, ok := domain.Parse(name); ok {
			s.state[d] = block
		}
	}
	return s, nil
}

// Get returns the last checkpointed block for d, or (0, false) if none
// has been recorded yet.
func (s *Store) Get(d domain.Domain) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.state[d]
	return block, ok
}

// Set records block as the last observed source block for d and
// persists the whole table atomically.
func (s *Store) Set(d domain.Domain, block uint64) error {
	s.mu.Lock()
	s.state[d] = block
	onDisk := make(map[string]uint64, len(s.state))
	for dom, b := range s.state {
		onDisk[dom.String()] = b
	}
	s.mu.Unlock()

	raw, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("checkpoint: rename into place: %w", err)
	}
	return nil
}
