package imagestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/tagvm/vm"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "images.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func snapshot(t *testing.T) (*vm.Runtime, *vm.Snapshot) {
	t.Helper()
	rt, err := vm.New(vm.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	return rt, rt.Snapshot()
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, snap := snapshot(t)

	id, err := s.Put(ctx, "boot", snap)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id != snap.ID {
		t.Errorf("Put returned %q, want %q", id, snap.ID)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != snap.ID || len(got.Entries) != len(snap.Entries) {
		t.Errorf("Get returned snapshot %s with %d entries, want %s with %d", got.ID, len(got.Entries), snap.ID, len(snap.Entries))
	}

	rt, err := vm.Restore(got, vm.DefaultOptions())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if sum, err := rt.SendString("+", vm.FromInt(2), vm.FromInt(3)); err != nil || sum != vm.FromInt(5) {
		t.Errorf("2 + 3 in restored runtime = %v, %v", sum, err)
	}
}

func TestLatestAndList(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	rt, first := snapshot(t)
	second := rt.Snapshot()
	second.Created = first.Created + 1
	_, other := snapshot(t)

	for _, p := range []struct {
		name string
		snap *vm.Snapshot
	}{{"work", first}, {"work", second}, {"scratch", other}} {
		if _, err := s.Put(ctx, p.name, p.snap); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := s.Latest(ctx, "work")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != second.ID {
		t.Errorf("Latest(work) = %s, want %s", latest.ID, second.ID)
	}

	infos, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 3 {
		t.Fatalf("List returned %d images, want 3", len(infos))
	}
	for _, info := range infos {
		if info.Size == 0 || info.Name == "" {
			t.Errorf("incomplete info %+v", info)
		}
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(nope): err = %v, want ErrNotFound", err)
	}
	if _, err := s.Latest(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest(nope): err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(nope): err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, snap := snapshot(t)
	id, _ := s.Put(ctx, "gone", snap)
	if err := s.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: err = %v, want ErrNotFound", err)
	}
}
