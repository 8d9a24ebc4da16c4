package admins

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeAdminFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Make the change visible regardless of filesystem timestamp granularity.
	future := time.Now().Add(time.Duration(len(body)) * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestCachedFileSet_MissingFileIsEmpty(t *testing.T) {
	s := NewCachedFileSet(filepath.Join(t.TempDir(), "admins.json"))
	ok, err := s.Contains(1)
	if err != nil || ok {
		t.Fatalf("expected empty set, got ok=%v err=%v", ok, err)
	}
	ids, err := s.IDs()
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no ids, got %v err=%v", ids, err)
	}
}

func TestCachedFileSet_ReloadsOnExternalChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admins.json")
	writeAdminFile(t, path, `{"admin_ids":[1,2]}`)
	s := NewCachedFileSet(path)

	if ok, _ := s.Contains(2); !ok {
		t.Fatalf("expected 2 to be listed")
	}
	v1, _ := s.Refresh()
	v2, _ := s.Refresh()
	if v1 != v2 {
		t.Fatalf("version changed without a file change: %d != %d", v1, v2)
	}

	writeAdminFile(t, path, `{"admin_ids":[3, 1, 3]}`)
	if ok, _ := s.Contains(2); ok {
		t.Fatalf("expected 2 to be gone after edit")
	}
	ids, _ := s.IDs()
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 1 {
		t.Fatalf("expected deduplicated file order [3 1], got %v", ids)
	}
	if v3, _ := s.Refresh(); v3 == v2 {
		t.Fatalf("expected version to change after reload")
	}
}

func TestCachedFileSet_AddRemovePreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "admins.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeAdminFile(t, path, `{"comment":"managed by ops","admin_ids":[10]}`)
	s := NewCachedFileSet(path)

	if changed, err := s.Add(20); err != nil || !changed {
		t.Fatalf("add: changed=%v err=%v", changed, err)
	}
	if changed, err := s.Add(20); err != nil || changed {
		t.Fatalf("second add should be a no-op: changed=%v err=%v", changed, err)
	}
	if changed, err := s.Remove(10); err != nil || !changed {
		t.Fatalf("remove: changed=%v err=%v", changed, err)
	}
	if changed, err := s.Remove(99); err != nil || changed {
		t.Fatalf("removing an absent id should be a no-op: changed=%v err=%v", changed, err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc struct {
		Comment  string  `json:"comment"`
		AdminIDs []int64 `json:"admin_ids"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Comment != "managed by ops" {
		t.Fatalf("expected comment to survive, got %q", doc.Comment)
	}
	if len(doc.AdminIDs) != 1 || doc.AdminIDs[0] != 20 {
		t.Fatalf("expected [20], got %v", doc.AdminIDs)
	}

	// A fresh reader sees the same state.
	if ok, _ := NewCachedFileSet(path).Contains(20); !ok {
		t.Fatalf("expected 20 on disk")
	}
}

func TestCachedFileSet_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admins.json")
	writeAdminFile(t, path, `{"admin_ids":[1,"x"]}`)
	s := NewCachedFileSet(path)

	if ok, err := s.Contains(1); err == nil || ok {
		t.Fatalf("expected error and no match for malformed file, got ok=%v err=%v", ok, err)
	}
	if _, err := s.Add(2); err == nil {
		t.Fatalf("expected add to refuse a malformed file")
	}
	if err := s.Replace([]int64{5}); err != nil {
		t.Fatalf("replace should overwrite a malformed file: %v", err)
	}
	if ok, err := s.Contains(5); err != nil || !ok {
		t.Fatalf("expected 5 after replace, got ok=%v err=%v", ok, err)
	}
}

func TestCachedFileSet_ClearAndInvalidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admins.json")
	writeAdminFile(t, path, `{"admin_ids":[1,2,3]}`)
	s := NewCachedFileSet(path)

	n, err := s.Clear()
	if err != nil || n != 3 {
		t.Fatalf("clear: n=%d err=%v", n, err)
	}
	if ids, _ := s.IDs(); len(ids) != 0 {
		t.Fatalf("expected empty list, got %v", ids)
	}

	v1, _ := s.Refresh()
	s.Invalidate()
	v2, _ := s.Refresh()
	if v1 == v2 {
		t.Fatalf("expected invalidate to force a new snapshot")
	}
}

func TestCachedFileSet_ConcurrentReadersAndWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admins.json")
	s := NewCachedFileSet(path)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if _, err := s.Contains(1); err != nil {
					t.Errorf("contains: %v", err)
					return
				}
			}
		}()
	}
	for i := int64(1); i <= 20; i++ {
		if _, err := s.Add(i); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	wg.Wait()

	ids, err := s.IDs()
	if err != nil || len(ids) != 20 {
		t.Fatalf("expected 20 ids, got %d err=%v", len(ids), err)
	}
}
