package kv

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPutGetDelete_NoTTL(t *testing.T) {
	s := NewStore(1 << 20)

	type row struct {
		k string
		v []byte
	}
	data := []row{
		{"[a1|2]/1", []byte("digest-one")},
		{"[a1|2]/2", []byte("digest-two")},
		{"[a1|3]/1", []byte("digest-three")},
	}

	for _, r := range data {
		s.Put(r.k, r.v, 0) // ttl=0 → no expiry
	}

	if got := s.Len(); got != len(data) {
		t.Fatalf("Len = %d, want %d", got, len(data))
	}

	for _, r := range data {
		got, ok := s.Get(r.k)
		if !ok {
			t.Fatalf("Get(%q) !ok", r.k)
		}
		if !bytes.Equal(got, r.v) {
			t.Fatalf("Get(%q) = %q, want %q", r.k, got, r.v)
		}
	}

	if ok := s.Delete("[a1|2]/2"); !ok {
		t.Fatalf("Delete = false, want true")
	}
	if ok := s.Delete("[a1|2]/2"); ok {
		t.Fatalf("second Delete = true, want false")
	}
	if _, ok := s.Get("[a1|2]/2"); ok {
		t.Fatalf("Get ok after delete")
	}
}

func TestPutCopiesValue(t *testing.T) {
	s := NewStore(1 << 20)
	v := []byte("abc")
	s.Put("k", v, 0)
	v[0] = 'x'
	got, _ := s.Get("k")
	got[1] = 'y'
	if again, _ := s.Get("k"); string(again) != "abc" {
		t.Fatalf("stored value aliased caller memory: %q", again)
	}
}

func TestOverwriteKeepsLenAndUsed(t *testing.T) {
	s := NewStore(1 << 20)
	s.Put("x", []byte("one"), 0)
	s.Put("x", []byte("three"), 0)
	if got := s.Len(); got != 1 {
		t.Fatalf("Len after overwrite = %d, want 1", got)
	}
	if got := s.Used(); got != 5 {
		t.Fatalf("Used after overwrite = %d, want 5", got)
	}
	v, ok := s.Get("x")
	if !ok || string(v) != "three" {
		t.Fatalf("Get(x) = %q,%v want three,true", v, ok)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := NewStore(1 << 20)

	s.Put("short", []byte("v"), 40*time.Millisecond)
	if _, ok := s.Get("short"); !ok {
		t.Fatalf("fresh key with TTL should be readable")
	}
	s.Put("noTTL", []byte("v2"), 0)
	// Small buffer beyond TTL to avoid flakiness in CI
	time.Sleep(90 * time.Millisecond)

	if _, ok := s.Get("short"); ok {
		t.Fatalf("expected key to expire")
	}
	if _, ok := s.Get("noTTL"); !ok {
		t.Fatalf("noTTL key unexpectedly missing")
	}
	if got := s.Used(); got != 2 {
		t.Fatalf("Used = %d, want 2 after expired key is dropped", got)
	}
}

func TestEvictionByCapacity_LRU(t *testing.T) {
	s := NewStore(100)

	a := bytes.Repeat([]byte("a"), 40)
	b := bytes.Repeat([]byte("b"), 40)
	c := bytes.Repeat([]byte("c"), 40)

	s.Put("a", a, 0)
	s.Put("b", b, 0)
	if _, ok := s.Get("a"); !ok { // touch a → should be MRU now
		t.Fatalf("precondition: a missing")
	}
	s.Put("c", c, 0) // 120 bytes → must evict LRU "b" (not "a")

	if _, ok := s.Get("a"); !ok {
		t.Fatalf("expected a to remain after eviction (Get must update recency)")
	}
	if _, ok := s.Get("c"); !ok {
		t.Fatalf("expected c present")
	}
	if _, ok := s.Get("b"); ok {
		t.Fatalf("expected b to be evicted (LRU victim)")
	}
}

func TestDrainPrefix(t *testing.T) {
	s := NewStore(1 << 20)
	s.Put("[a1|2]/1", []byte("first"), 0)
	s.Put("[a1|3]/1", []byte("other view"), 0)
	s.Put("[a1|2]/2", []byte("second"), 0)
	s.Put("[a1|2]/3", []byte("expired"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	got := s.DrainPrefix("[a1|2]/")
	if len(got) != 2 || string(got[0]) != "first" || string(got[1]) != "second" {
		t.Fatalf("DrainPrefix = %q, want [first second]", got)
	}
	if s.Len() != 1 {
		t.Fatalf("Len after drain = %d, want 1", s.Len())
	}
	if _, ok := s.Get("[a1|3]/1"); !ok {
		t.Fatalf("entry for another view was drained")
	}
	if got := s.DrainPrefix("[a1|2]/"); len(got) != 0 {
		t.Fatalf("second drain = %q, want nothing", got)
	}
}

func TestConcurrentAccess_NoRaces(t *testing.T) {
	s := NewStore(1 << 20)

	var wg sync.WaitGroup
	const G = 32
	const N = 500

	errCh := make(chan error, G)
	var stop atomic.Bool

	for gid := range G {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			prefix := fmt.Sprintf("[n%d|1]/", gid)
			for i := range N {
				if stop.Load() {
					return
				}
				k := fmt.Sprintf("%s%d", prefix, i)
				v := fmt.Appendf(nil, "v-%d", i)

				s.Put(k, v, 0)

				got, ok := s.Get(k)
				if !ok {
					errCh <- fmt.Errorf("missing key=%s right after Put", k)
					stop.Store(true)
					return
				}
				if !bytes.Equal(got, v) {
					errCh <- fmt.Errorf("mismatch for key=%s", k)
					stop.Store(true)
					return
				}

				if i%7 == 0 {
					s.DrainPrefix(prefix)
				}
			}
		}(gid)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrency test failed: %v", err)
	}
}
