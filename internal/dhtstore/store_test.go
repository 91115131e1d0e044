package dhtstore

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "candidates.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_NoteSuccessThenCandidates(t *testing.T) {
	s := openTestStore(t)

	s.NoteSuccess("aa", "127.0.0.1:6881")
	s.NoteSuccess("bb", "127.0.0.1:6882")

	got := s.Candidates(10)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
}

func TestStore_CandidatesRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		s.NoteSuccess("id", "127.0.0.1:680"+string(rune('0'+i)))
	}
	if got := s.Candidates(2); len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
}

func TestStore_NoteFailureEvictsAfterThreshold(t *testing.T) {
	s := openTestStore(t)
	s.NoteSuccess("id", "127.0.0.1:6881")

	for i := 0; i < maxConsecutiveFailures; i++ {
		s.NoteFailure("127.0.0.1:6881")
	}

	got := s.Candidates(10)
	if len(got) != 0 {
		t.Fatalf("expected candidate to be evicted after repeated failures, got %v", got)
	}
}

func TestStore_NoteFailureOnUnknownAddrIsNoop(t *testing.T) {
	s := openTestStore(t)
	s.NoteFailure("127.0.0.1:9999") // must not panic or create an entry
	if got := s.Candidates(10); len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "candidates.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s1.NoteSuccess("aa", "127.0.0.1:6881")
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if got := s2.Candidates(10); len(got) != 1 {
		t.Fatalf("expected candidate to survive reopen, got %v", got)
	}
}
