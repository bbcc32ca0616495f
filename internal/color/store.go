package color

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Store is the persistent hex-to-name cache. The file is a flat JSON object
// that operators may hand-edit, so existing non-empty entries are never
// overwritten and writes are atomic (write-temp-then-rename).
type Store struct {
	path string

	mu     sync.Mutex
	names  map[string]string
	extras map[string]string // hand-edited entries with unrecognized keys, kept verbatim
	dirty  bool
	loaded bool
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Get returns the cached name for a normalized hex, if any.
func (s *Store) Get(hex string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	name, ok := s.names[hex]
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// RegisterIfAbsent records a name for hex unless an entry already exists.
func (s *Store) RegisterIfAbsent(hex, name string) {
	if hex == "" || name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()
	if existing, ok := s.names[hex]; ok && existing != "" {
		return
	}
	s.names[hex] = name
	s.dirty = true
}

// FlushIfDirty rewrites the cache file when in-memory entries changed since
// the last load or flush. A clean store does not touch the disk.
func (s *Store) FlushIfDirty() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	merged := make(map[string]string, len(s.names)+len(s.extras))
	for hex, name := range s.extras {
		merged[hex] = name
	}
	for hex, name := range s.names {
		merged[hex] = name
	}
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal color name cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create color cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".color_names_*.json")
	if err != nil {
		return fmt.Errorf("create color cache temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write color cache temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close color cache temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace color cache file: %w", err)
	}

	s.dirty = false
	return nil
}

// ensureLoaded reads the cache file once. Callers must hold s.mu. A missing
// file means an empty cache; an unreadable or corrupt file also degrades to
// empty, since the cache is a pure optimization.
func (s *Store) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.names = make(map[string]string)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("color cache: read %s: %v", s.path, err)
		}
		return
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Printf("color cache: %s is not a valid JSON object, starting empty: %v", s.path, err)
		return
	}
	for hex, name := range entries {
		normalized := NormalizeHex(hex)
		if normalized != "" && name != "" {
			s.names[normalized] = name
			continue
		}
		// Operators hand-edit this file; entries we cannot interpret must
		// survive the round trip, not vanish on the next flush.
		if s.extras == nil {
			s.extras = make(map[string]string)
		}
		s.extras[hex] = name
	}
}
