package depcache

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/toolchest-labs/toolchest/internal/domain/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *FileCacheStore {
	t.Helper()
	s, err := NewFileCacheStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewFileCacheStore() error: %v", err)
	}
	return s
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t)

	entry := &Entry{
		Name:    "lodash",
		Version: "4.17.21",
		Type:    tool.DependencyTypeNPMPackage,
		Manager: "npm",
	}
	if err := s.Put(entry); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, ok, err := s.Get("lodash", "4.17.21")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if got.Manager != "npm" {
		t.Errorf("Manager = %q, want %q", got.Manager, "npm")
	}
	if got.InstalledAt.IsZero() {
		t.Error("expected InstalledAt to be set")
	}
}

func TestGetMiss(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get("ghost", "1.0.0")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Error("Get() hit, want miss")
	}
}

func TestGetRefreshesLastUsed(t *testing.T) {
	s := newTestStore(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	entry := &Entry{
		Name:        "lodash",
		Version:     "4.17.21",
		Type:        tool.DependencyTypeNPMPackage,
		InstalledAt: old,
		LastUsedAt:  old,
	}
	if err := s.Put(entry); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, ok, err := s.Get("lodash", "4.17.21")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if !got.LastUsedAt.After(old) {
		t.Errorf("LastUsedAt = %v, want refreshed past %v", got.LastUsedAt, old)
	}
	if !got.InstalledAt.Equal(old) {
		t.Errorf("InstalledAt = %v, want unchanged %v", got.InstalledAt, old)
	}
}

func TestGetCorruptEntryIsMiss(t *testing.T) {
	s := newTestStore(t)

	entry := &Entry{Name: "lodash", Version: "4.17.21", Type: tool.DependencyTypeNPMPackage}
	if err := s.Put(entry); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	// Corrupt the entry file in place.
	path := s.entryPath("lodash", "4.17.21")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("corrupt entry: %v", err)
	}

	_, ok, err := s.Get("lodash", "4.17.21")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Error("Get() hit on corrupt entry, want miss")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("corrupt entry file should have been removed")
	}
}

func TestDistinctNamesDoNotCollide(t *testing.T) {
	s := newTestStore(t)

	// The slug alone cannot tell these apart; the key hash must.
	a := &Entry{Name: "word count", Version: "1.0.0", Type: tool.DependencyTypeOtherTool}
	b := &Entry{Name: "word-count", Version: "1.0.0", Type: tool.DependencyTypeOtherTool}
	if err := s.Put(a); err != nil {
		t.Fatalf("Put(a) error: %v", err)
	}
	if err := s.Put(b); err != nil {
		t.Fatalf("Put(b) error: %v", err)
	}

	gotA, okA, _ := s.Get("word count", "1.0.0")
	gotB, okB, _ := s.Get("word-count", "1.0.0")
	if !okA || !okB {
		t.Fatalf("expected both entries cached, got %v and %v", okA, okB)
	}
	if gotA.Name != "word count" || gotB.Name != "word-count" {
		t.Errorf("entries collided: %q / %q", gotA.Name, gotB.Name)
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)

	envDir, err := s.EnvDir("lodash", "4.17.21")
	if err != nil {
		t.Fatalf("EnvDir() error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(envDir, "package.json"), []byte("{}"), 0600); err != nil {
		t.Fatalf("seed env dir: %v", err)
	}

	entry := &Entry{Name: "lodash", Version: "4.17.21", Type: tool.DependencyTypeNPMPackage, WorkDir: envDir}
	if err := s.Put(entry); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	if err := s.Remove("lodash", "4.17.21"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, ok, _ := s.Get("lodash", "4.17.21"); ok {
		t.Error("Get() hit after Remove()")
	}
	if _, err := os.Stat(envDir); !os.IsNotExist(err) {
		t.Error("Remove() should delete the environment directory")
	}

	// Removing a missing entry is a no-op.
	if err := s.Remove("lodash", "4.17.21"); err != nil {
		t.Errorf("Remove() on missing entry error: %v", err)
	}
}

func TestSweep(t *testing.T) {
	s := newTestStore(t)

	stale := &Entry{
		Name:        "old-package",
		Version:     "1.0.0",
		Type:        tool.DependencyTypeNPMPackage,
		InstalledAt: time.Now().UTC().Add(-10 * 24 * time.Hour),
		LastUsedAt:  time.Now().UTC().Add(-10 * 24 * time.Hour),
	}
	fresh := &Entry{Name: "new-package", Version: "1.0.0", Type: tool.DependencyTypeNPMPackage}
	if err := s.Put(stale); err != nil {
		t.Fatalf("Put(stale) error: %v", err)
	}
	if err := s.Put(fresh); err != nil {
		t.Fatalf("Put(fresh) error: %v", err)
	}

	removed, err := s.Sweep(DefaultRetention)
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep() removed = %d, want 1", removed)
	}

	if _, ok, _ := s.Get("old-package", "1.0.0"); ok {
		t.Error("stale entry survived Sweep()")
	}
	if _, ok, _ := s.Get("new-package", "1.0.0"); !ok {
		t.Error("fresh entry removed by Sweep()")
	}
}

func TestSweepKeepsRecentlyUsed(t *testing.T) {
	s := newTestStore(t)

	// Installed long ago but used recently: idleness, not age, decides.
	entry := &Entry{
		Name:        "lodash",
		Version:     "4.17.21",
		Type:        tool.DependencyTypeNPMPackage,
		InstalledAt: time.Now().UTC().Add(-30 * 24 * time.Hour),
		LastUsedAt:  time.Now().UTC().Add(-time.Hour),
	}
	if err := s.Put(entry); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	removed, err := s.Sweep(DefaultRetention)
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if removed != 0 {
		t.Errorf("Sweep() removed = %d, want 0", removed)
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"a", "b", "c"} {
		if err := s.Put(&Entry{Name: name, Version: "1.0.0", Type: tool.DependencyTypeNPMPackage}); err != nil {
			t.Fatalf("Put(%s) error: %v", name, err)
		}
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("List() = %d entries, want 3", len(entries))
	}
}

func TestConcurrentPuts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency test in short mode")
	}

	s := newTestStore(t)
	var wg sync.WaitGroup
	errCh := make(chan error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry := &Entry{Name: "shared", Version: "1.0.0", Type: tool.DependencyTypeNPMPackage}
			if err := s.Put(entry); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent Put() error: %v", err)
	}
	if _, ok, _ := s.Get("shared", "1.0.0"); !ok {
		t.Error("entry missing after concurrent puts")
	}
}
