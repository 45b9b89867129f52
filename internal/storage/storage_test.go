package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// newTestStorage creates a temporary storage for testing.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dir, err := os.MkdirTemp("", "storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := New(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func TestSetAndGet(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("m:cursor")
	value := []byte{0, 0, 0, 0, 0, 0, 0, 7}

	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %v, want %v", got, value)
	}
}

func TestGetNonExistent(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.Get([]byte("non-existent"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get returned %q, want nil", got)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("f:to-delete")

	if err := s.SetSync(key, []byte("value")); err != nil {
		t.Fatalf("SetSync failed: %v", err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get after Delete returned %q, want nil", got)
	}
}

func TestBatchSetAndDelete(t *testing.T) {
	s := newTestStorage(t)

	if err := s.Set([]byte("old"), []byte("x")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	b := s.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("b"), []byte("2"))
	b.Delete([]byte("old"))

	if err := b.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		got, _ := s.Get([]byte(key))
		if string(got) != want {
			t.Errorf("Get(%q) = %q, want %q", key, got, want)
		}
	}

	if got, _ := s.Get([]byte("old")); got != nil {
		t.Errorf("deleted key still present: %q", got)
	}
}

func TestIteratePrefixOrdersNumerically(t *testing.T) {
	s := newTestStorage(t)

	prefix := []byte("t:")
	for _, id := range []uint64{300, 2, 10} {
		if err := s.Set(Key(prefix, id), []byte("task")); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	// Outside the prefix
	if err := s.Set([]byte("u:"), []byte("other")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var keys [][]byte
	err := s.IteratePrefix(prefix, func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix failed: %v", err)
	}

	want := [][]byte{Key(prefix, uint64(2)), Key(prefix, uint64(10)), Key(prefix, uint64(300))}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}

	for i := range want {
		if !bytes.Equal(keys[i], want[i]) {
			t.Errorf("key %d = %x, want %x", i, keys[i], want[i])
		}
	}
}

func TestDeletePrefix(t *testing.T) {
	s := newTestStorage(t)

	_ = s.Set([]byte("f:1"), []byte("a"))
	_ = s.Set([]byte("f:2"), []byte("b"))
	_ = s.Set([]byte("g:1"), []byte("c"))

	if err := s.DeletePrefix([]byte("f:")); err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}

	count := 0
	_ = s.Iterate(func(key, _ []byte) error {
		count++
		if bytes.HasPrefix(key, []byte("f:")) {
			t.Errorf("key %q survived DeletePrefix", key)
		}
		return nil
	})

	if count != 1 {
		t.Errorf("expected 1 remaining key, got %d", count)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	cases := []struct {
		in, want []byte
	}{
		{[]byte("t:"), []byte("t;")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}

	for _, c := range cases {
		if got := prefixUpperBound(c.in); !bytes.Equal(got, c.want) {
			t.Errorf("prefixUpperBound(%x) = %x, want %x", c.in, got, c.want)
		}
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := s.Set([]byte("m:cursor"), []byte("5")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	got, _ := s.Get([]byte("m:cursor"))
	if string(got) != "5" {
		t.Errorf("after reopen got %q, want %q", got, "5")
	}
}
