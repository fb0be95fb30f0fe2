package vm

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSnapshotRestore(t *testing.T) {
	rt := newTestRuntime(t)
	p, _ := rt.NewInstance(definePoint(t, rt), 0)
	mustSend(t, rt, "x", p, FromInt(3))
	mustSend(t, rt, "y", p, FromInt(4))

	s := rt.Snapshot()
	if _, err := uuid.Parse(s.ID); err != nil {
		t.Errorf("snapshot ID %q: %v", s.ID, err)
	}
	if s.CreatedAt().IsZero() {
		t.Error("snapshot has no creation time")
	}

	restored, err := Restore(s, DefaultOptions())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := mustSend(t, restored, "x", p); got != FromInt(3) {
		t.Errorf("restored p x = %v, want 3", got)
	}
	if got := mustSend(t, restored, "+", FromInt(5), FromInt(6)); got != FromInt(11) {
		t.Errorf("restored 5 + 6 = %v, want 11", got)
	}

	// The copies are independent.
	mustSend(t, restored, "y", p, FromInt(40))
	if got := mustSend(t, rt, "y", p); got != FromInt(4) {
		t.Errorf("source p y = %v after writing the restored copy, want 4", got)
	}
	if restored.TableSize() != rt.TableSize() {
		t.Errorf("restored table has %d entries, source %d", restored.TableSize(), rt.TableSize())
	}
	if _, err := restored.FreeList(); err != nil {
		t.Errorf("restored free list: %v", err)
	}
}

func TestRestoreCollects(t *testing.T) {
	rt := newTestRuntime(t)
	name := mustIntern(t, rt, "survivor")
	restored, err := Restore(rt.Snapshot(), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	restored.Collect()
	if s, err := restored.GoString(name); err != nil || s != "survivor" {
		t.Errorf("interned string after restore and collect = %q, %v", s, err)
	}
	if got := mustIntern(t, restored, "survivor"); got != name {
		t.Errorf("re-intern in restored runtime = %v, want %v", got, name)
	}
}

func TestRestoreRejects(t *testing.T) {
	withNative := DefaultOptions()
	withNative.Natives = []Native{{Name: "addTwo", Fn: addTwo}}
	src, err := New(withNative)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*Snapshot)
		opts   Options
		want   string
	}{
		{"primitive mismatch", func(*Snapshot) {}, DefaultOptions(), "primitives"},
		{"version", func(s *Snapshot) { s.Version = SnapshotVersion + 1 }, withNative, "version"},
		{"dangling slot", func(s *Snapshot) {
			for i := range s.Entries {
				if !s.Entries[i].Free && len(s.Entries[i].Slots) > 0 {
					s.Entries[i].Slots[0] = FromIndex(len(s.Entries) + 5)
					return
				}
			}
		}, withNative, "beyond the table"},
		{"entry 0", func(s *Snapshot) { s.Entries[0].Slots = []Value{Nil} }, withNative, "entry 0"},
		{"missing classes", func(s *Snapshot) { s.Classes = s.Classes[:2] }, withNative, "classes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := src.Snapshot()
			tt.mutate(s)
			_, err := Restore(s, tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Restore err = %v, want mention of %q", err, tt.want)
			}
		})
	}
	if _, err := Restore(nil, withNative); err == nil {
		t.Error("Restore(nil) succeeded")
	}
}
