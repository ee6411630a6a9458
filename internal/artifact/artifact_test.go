package artifact

import (
	"os"
	"sync"
	"testing"
)

func TestTracker_ReleaseRemovesUnkept(t *testing.T) {
	tr := NewTracker(t.TempDir())
	a, err := tr.Create([]byte("a"), ".jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := tr.Create([]byte("b"), ".jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	tr.Keep(b)
	if err := tr.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
		t.Fatalf("expected unkept artifact removed")
	}
	if _, err := os.Stat(b.Path); err != nil {
		t.Fatalf("expected kept artifact to survive: %v", err)
	}
	if err := b.Remove(); err != nil {
		t.Fatalf("remove kept: %v", err)
	}
}

func TestTracker_ReleaseIsIdempotent(t *testing.T) {
	tr := NewTracker(t.TempDir())
	if _, err := tr.Create([]byte("x"), ".bin", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tr.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := tr.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, err := tr.Create([]byte("y"), ".bin", ""); err == nil {
		t.Fatalf("expected create after release to fail")
	}
}

func TestTracker_ConcurrentCreate(t *testing.T) {
	tr := NewTracker(t.TempDir())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.Create([]byte("z"), ".jpg", "image/jpeg"); err != nil {
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()
	if tr.Len() != 16 {
		t.Fatalf("Len=%d, want 16", tr.Len())
	}
	if err := tr.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if tr.Len() != 0 {
		t.Fatalf("Len after release=%d", tr.Len())
	}
}
