package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mzhadan/chatforge/internal/store"
	"github.com/mzhadan/chatforge/internal/template"
)

// Store is a JSON-file-backed template store with a write-through
// in-memory index. Every mutation rewrites the whole file atomically and
// verifies the result before the index is updated; a failed verification
// restores the previous file from its .bak copy.
type Store struct {
	path   string
	mode   os.FileMode
	logger *slog.Logger

	mu    sync.RWMutex
	index map[int64][]template.Template
}

// NewStore creates a store over the given file path and loads any
// existing data. A missing file is an empty store, not an error.
func NewStore(path string, mode os.FileMode, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		mode:   mode,
		logger: logger,
		index:  map[int64][]template.Template{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load rebuilds the in-memory index from disk.
func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("file: reading %s: %w", s.path, err)
	}
	index, err := decodeDataset(raw)
	if err != nil {
		return fmt.Errorf("file: parsing %s: %w", s.path, err)
	}
	s.index = index
	return nil
}

// decodeDataset parses the persisted layout: a JSON object keyed by
// decimal owner ID, each value an ordered array of templates.
func decodeDataset(raw []byte) (map[int64][]template.Template, error) {
	var byOwner map[string][]template.Template
	if err := json.Unmarshal(raw, &byOwner); err != nil {
		return nil, err
	}
	index := make(map[int64][]template.Template, len(byOwner))
	for key, tpls := range byOwner {
		ownerID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid owner key %q: %w", key, err)
		}
		for i := range tpls {
			tpls[i].OwnerID = ownerID
		}
		index[ownerID] = tpls
	}
	return index, nil
}

func encodeDataset(index map[int64][]template.Template) ([]byte, error) {
	byOwner := make(map[string][]template.Template, len(index))
	for ownerID, tpls := range index {
		byOwner[strconv.FormatInt(ownerID, 10)] = tpls
	}
	return json.MarshalIndent(byOwner, "", "  ")
}

func countRecords(index map[int64][]template.Template) int {
	n := 0
	for _, tpls := range index {
		n += len(tpls)
	}
	return n
}

// Upsert implements store.Store.
func (s *Store) Upsert(ownerID int64, tpl template.Template, prevName string) error {
	tpl.OwnerID = ownerID
	if err := tpl.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.index[ownerID]
	next := make([]template.Template, 0, len(existing)+1)

	replaceIdx := -1
	for i, cur := range existing {
		switch {
		case prevName != "" && cur.Name == prevName:
			// Rename target: replaced in place, CreatedAt preserved.
			replaceIdx = i
			if !cur.CreatedAt.IsZero() {
				tpl.CreatedAt = cur.CreatedAt
			}
		case cur.Name == tpl.Name:
			// Same name on another template is always a conflict, and a
			// plain upsert conflicts even with itself.
			return store.ErrNameConflict
		}
		next = append(next, cur)
	}

	if prevName != "" && replaceIdx < 0 {
		return store.ErrNotFound
	}

	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}

	if replaceIdx >= 0 {
		next[replaceIdx] = tpl
	} else {
		if len(existing) >= template.MaxTemplatesPerOwner {
			return store.ErrOwnerQuota
		}
		next = append(next, tpl)
	}

	return s.persist(ownerID, next)
}

// Get implements store.Store. The returned template is a clone.
func (s *Store) Get(ownerID int64, name string) (template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tpl := range s.index[ownerID] {
		if tpl.Name == name {
			return tpl.Clone(), nil
		}
	}
	return template.Template{}, store.ErrNotFound
}

// GetAll implements store.Store. Templates keep their insertion order.
func (s *Store) GetAll(ownerID int64) []template.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpls := s.index[ownerID]
	out := make([]template.Template, len(tpls))
	for i, tpl := range tpls {
		out[i] = tpl.Clone()
	}
	return out
}

// Delete implements store.Store. Returns false when no template matched.
func (s *Store) Delete(ownerID int64, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.index[ownerID]
	next := make([]template.Template, 0, len(existing))
	found := false
	for _, tpl := range existing {
		if tpl.Name == name {
			found = true
			continue
		}
		next = append(next, tpl)
	}
	if !found {
		return false
	}
	if err := s.persist(ownerID, next); err != nil {
		s.logger.Error("delete not persisted", "owner", ownerID, "name", name, "error", err)
		return false
	}
	return true
}

// Owners returns all owner IDs with at least one template, sorted.
func (s *Store) Owners() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// persist writes the full dataset with ownerID's templates replaced by
// next, verifies the write, and only then updates the in-memory index.
// Caller must hold s.mu.
func (s *Store) persist(ownerID int64, next []template.Template) error {
	candidate := make(map[int64][]template.Template, len(s.index)+1)
	for id, tpls := range s.index {
		if id != ownerID {
			candidate[id] = tpls
		}
	}
	if len(next) > 0 {
		candidate[ownerID] = next
	}

	if err := s.writeVerified(candidate); err != nil {
		return err
	}
	s.index = candidate
	return nil
}

// writeVerified performs the atomic write sequence: temp file, backup of
// the current file, rename, re-read and count check, rollback on mismatch.
func (s *Store) writeVerified(candidate map[int64][]template.Template) error {
	data, err := encodeDataset(candidate)
	if err != nil {
		return fmt.Errorf("file: encoding dataset: %w", err)
	}

	tmpPath := s.path + ".tmp"
	bakPath := s.path + ".bak"

	if err := os.WriteFile(tmpPath, data, s.mode); err != nil {
		return fmt.Errorf("file: writing %s: %w", tmpPath, err)
	}

	hadPrevious, err := copyFile(s.path, bakPath, s.mode)
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("file: backing up %s: %w", s.path, err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("file: replacing %s: %w", s.path, err)
	}

	if err := s.verify(candidate); err != nil {
		if hadPrevious {
			if rerr := os.Rename(bakPath, s.path); rerr != nil {
				s.logger.Error("rollback failed", "path", s.path, "error", rerr)
			}
		} else {
			_ = os.Remove(s.path)
		}
		return err
	}

	if hadPrevious {
		_ = os.Remove(bakPath)
	}
	return nil
}

// verify re-reads the store file and checks the record count matches what
// was just written.
func (s *Store) verify(candidate map[int64][]template.Template) error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: re-read failed: %v", store.ErrIntegrity, err)
	}
	reread, err := decodeDataset(raw)
	if err != nil {
		return fmt.Errorf("%w: re-parse failed: %v", store.ErrIntegrity, err)
	}
	if got, want := countRecords(reread), countRecords(candidate); got != want {
		return fmt.Errorf("%w: %d records on disk, expected %d", store.ErrIntegrity, got, want)
	}
	return nil
}

// copyFile copies src to dst. Returns false without error when src does
// not exist.
func copyFile(src, dst string, mode os.FileMode) (bool, error) {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return false, err
	}
	return true, out.Close()
}
