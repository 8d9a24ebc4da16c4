package admins

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const adminIDsKey = "admin_ids"

// CachedFileSet is the static admin list backed by a JSON file of the form
// {"admin_ids": [1, 2, 3]}.
//
// Reads are served from an immutable snapshot and trigger a reload only when the
// file's modification time or size changes; concurrent reloads are coalesced.
// Writers serialize on writeMu and replace the file atomically (temp file +
// rename), then publish the new snapshot, so readers never wait on a write.
type CachedFileSet struct {
	path    string
	snap    atomic.Pointer[fileSnapshot]
	version atomic.Uint64
	group   singleflight.Group
	writeMu sync.Mutex

	// writes counts published writes; a reload that raced a write is not stored.
	writes atomic.Uint64
}

type fileSnapshot struct {
	ids     []int64
	set     map[int64]struct{}
	exists  bool
	modTime time.Time
	size    int64
	version uint64

	// extra holds top-level keys other than admin_ids, preserved on write.
	extra map[string]json.RawMessage
}

func NewCachedFileSet(path string) *CachedFileSet {
	return &CachedFileSet{path: path}
}

func (s *CachedFileSet) Path() string { return s.path }

// Contains reports whether id is listed. A file that cannot be parsed yields an
// error and is treated by callers as "not listed".
func (s *CachedFileSet) Contains(id int64) (bool, error) {
	snap, err := s.current()
	if err != nil {
		return false, err
	}
	_, ok := snap.set[id]
	return ok, nil
}

// IDs returns the listed ids in file order.
func (s *CachedFileSet) IDs() ([]int64, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(snap.ids))
	copy(out, snap.ids)
	return out, nil
}

// Refresh brings the snapshot up to date with the file and returns its version.
// The version changes whenever the served contents may have changed.
func (s *CachedFileSet) Refresh() (uint64, error) {
	snap, err := s.current()
	if err != nil {
		return 0, err
	}
	return snap.version, nil
}

// Invalidate drops the cached snapshot; the next read reloads from disk.
func (s *CachedFileSet) Invalidate() {
	s.snap.Store(nil)
	s.version.Add(1)
}

// Add appends id to the file. It reports false when id was already listed.
func (s *CachedFileSet) Add(id int64) (bool, error) {
	return s.mutate(func(ids []int64) ([]int64, bool) {
		for _, v := range ids {
			if v == id {
				return ids, false
			}
		}
		return append(ids, id), true
	})
}

// Remove deletes id from the file. It reports false when id was not listed.
func (s *CachedFileSet) Remove(id int64) (bool, error) {
	return s.mutate(func(ids []int64) ([]int64, bool) {
		out := ids[:0:0]
		for _, v := range ids {
			if v != id {
				out = append(out, v)
			}
		}
		return out, len(out) != len(ids)
	})
}

// Clear empties the list and returns how many ids were removed.
func (s *CachedFileSet) Clear() (int, error) {
	var removed int
	_, err := s.mutate(func(ids []int64) ([]int64, bool) {
		removed = len(ids)
		return []int64{}, removed > 0
	})
	return removed, err
}

// Replace overwrites the list with ids, even when the current file cannot be
// parsed. Used to undo a write whose paired database change did not commit.
func (s *CachedFileSet) Replace(ids []int64) error {
	next := append([]int64{}, ids...)
	_, err := s.write(func([]int64) ([]int64, bool) { return next, true }, true)
	return err
}

func (s *CachedFileSet) current() (*fileSnapshot, error) {
	cur := s.snap.Load()
	fi, err := os.Stat(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if cur != nil && !cur.exists {
			return cur, nil
		}
	case err != nil:
		return nil, fmt.Errorf("stat admin ids file: %w", err)
	default:
		if cur != nil && cur.exists && cur.modTime.Equal(fi.ModTime()) && cur.size == fi.Size() {
			return cur, nil
		}
	}

	v, err, _ := s.group.Do("reload", func() (any, error) {
		writes := s.writes.Load()
		snap, err := s.load()
		if err != nil {
			return nil, err
		}
		if s.writes.Load() == writes {
			s.snap.Store(snap)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*fileSnapshot), nil
}

// load reads the file into a new snapshot. A missing file is an empty list.
func (s *CachedFileSet) load() (*fileSnapshot, error) {
	fi, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.newSnapshot(nil, nil, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat admin ids file: %w", err)
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read admin ids file: %w", err)
	}
	ids, extra, err := decodeAdminFile(b)
	if err != nil {
		return nil, fmt.Errorf("parse admin ids file %s: %w", s.path, err)
	}
	return s.newSnapshot(ids, extra, fi), nil
}

func (s *CachedFileSet) newSnapshot(ids []int64, extra map[string]json.RawMessage, fi os.FileInfo) *fileSnapshot {
	snap := &fileSnapshot{
		ids:     ids,
		set:     make(map[int64]struct{}, len(ids)),
		extra:   extra,
		version: s.version.Add(1),
	}
	for _, id := range ids {
		snap.set[id] = struct{}{}
	}
	if fi != nil {
		snap.exists = true
		snap.modTime = fi.ModTime()
		snap.size = fi.Size()
	}
	return snap
}

func (s *CachedFileSet) mutate(fn func(ids []int64) ([]int64, bool)) (bool, error) {
	return s.write(fn, false)
}

// write applies fn to the ids on disk and publishes the result. With overwrite
// set, a file that cannot be parsed is replaced instead of reported.
func (s *CachedFileSet) write(fn func(ids []int64) ([]int64, bool), overwrite bool) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Always start from disk so an operator's edit since the last read is kept.
	base, err := s.load()
	if err != nil {
		if !overwrite {
			return false, err
		}
		base = &fileSnapshot{}
	}
	next, changed := fn(append([]int64{}, base.ids...))
	if !changed {
		s.snap.Store(base)
		return false, nil
	}

	b, err := encodeAdminFile(next, base.extra)
	if err != nil {
		return false, err
	}
	s.writes.Add(1)
	if err := writeFileAtomic(s.path, b); err != nil {
		return false, err
	}
	fi, err := os.Stat(s.path)
	if err != nil {
		s.Invalidate()
		return true, fmt.Errorf("stat admin ids file: %w", err)
	}
	s.snap.Store(s.newSnapshot(next, base.extra, fi))
	return true, nil
}

func decodeAdminFile(b []byte) ([]int64, map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, nil, err
	}
	raw, ok := doc[adminIDsKey]
	delete(doc, adminIDsKey)
	if !ok || string(raw) == "null" {
		return nil, doc, nil
	}

	var nums []json.Number
	if err := json.Unmarshal(raw, &nums); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", adminIDsKey, err)
	}
	ids := make([]int64, 0, len(nums))
	seen := make(map[int64]struct{}, len(nums))
	for _, n := range nums {
		id, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil || id <= 0 {
			return nil, nil, fmt.Errorf("%s: %q is not a user id", adminIDsKey, n.String())
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, doc, nil
}

func encodeAdminFile(ids []int64, extra map[string]json.RawMessage) ([]byte, error) {
	doc := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		doc[k] = v
	}
	if ids == nil {
		ids = []int64{}
	}
	doc[adminIDsKey] = ids
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func writeFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create admin ids dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".admins-*.json")
	if err != nil {
		return fmt.Errorf("create temp admin ids file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write admin ids file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync admin ids file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close admin ids file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod admin ids file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace admin ids file: %w", err)
	}
	return nil
}
