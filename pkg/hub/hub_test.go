package hub

import (
	"reflect"
	"testing"
	"time"
)

func TestHookSetKeepsInsertionOrder(t *testing.T) {
	h := &Hook{Target: "alice"}
	h.Set("3", "c")
	h.Set("1", "a")
	h.Set("2", "b")
	h.Set("1", "a2") // overwrite keeps the original position

	keys, vals := h.Snapshot(false)
	if want := []string{"3", "1", "2"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	if vals["1"] != "a2" {
		t.Fatalf("overwrite lost: %v", vals)
	}
	if h.Len() != 3 {
		t.Fatalf("len = %d", h.Len())
	}
}

func TestHookSnapshotDrain(t *testing.T) {
	h := &Hook{}
	h.Set("1", "a")
	if keys, _ := h.Snapshot(true); len(keys) != 1 {
		t.Fatalf("first snapshot keys = %v", keys)
	}
	if keys, vals := h.Snapshot(true); keys != nil || vals != nil {
		t.Fatalf("drained hook still has entries: %v %v", keys, vals)
	}
}

func TestHookDelete(t *testing.T) {
	h := &Hook{}
	h.Set("1", "a")
	h.Set("2", "b")
	h.Delete("1")
	h.Delete("missing")
	keys, _ := h.Snapshot(false)
	if want := []string{"2"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
}

func TestHooksCollect(t *testing.T) {
	s := NewHooks("tok")
	s.Hook(Key(KindChat, "g1"), "alice").Set("5", "msg")
	s.Hook(Key(KindGroup, "g1"), "alice") // empty, must not appear

	out := s.Collect(false)
	if len(out) != 1 {
		t.Fatalf("collect = %v", out)
	}
	if out["chat:g1"]["5"] != "msg" {
		t.Fatalf("collect = %v", out)
	}
	// the first collect did not drain, so the entry is still pending
	if again := s.Collect(true); len(again) != 1 {
		t.Fatalf("second collect = %v", again)
	}
	if final := s.Collect(false); len(final) != 0 {
		t.Fatalf("drain left entries: %v", final)
	}
}

func TestHooksWaitWakesOnSet(t *testing.T) {
	s := NewHooks("tok")
	h := s.Hook(Key(KindChat, "g1"), "alice")

	done := make(chan map[string]map[string]interface{}, 1)
	go func() { done <- s.Wait(5*time.Second, true) }()

	time.Sleep(20 * time.Millisecond)
	h.Set("7", "msg")

	select {
	case out := <-done:
		if out["chat:g1"]["7"] != "msg" {
			t.Fatalf("wait = %v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("wait did not wake")
	}
}

func TestHooksWaitTimesOutEmpty(t *testing.T) {
	s := NewHooks("tok")
	start := time.Now()
	out := s.Wait(30*time.Millisecond, false)
	if len(out) != 0 {
		t.Fatalf("wait = %v", out)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("wait returned before the deadline")
	}
}

func TestForgetKeepsLaterEntries(t *testing.T) {
	s := NewHooks("tok")
	h := s.Hook(Key(KindChat, "g1"), "alice")
	h.Set("1", "a")

	pending := s.Collect(false)
	h.Set("2", "b") // arrives between collection and delivery
	s.Forget(pending)

	keys, _ := h.Snapshot(false)
	if want := []string{"2"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys after forget = %v, want %v", keys, want)
	}
}

func TestClearAll(t *testing.T) {
	s := NewHooks("tok")
	s.Hook("chat:g1", "alice").Set("1", "a")
	s.Hook("chat:g2", "alice").Set("2", "b")
	s.ClearAll()
	if out := s.Collect(false); len(out) != 0 {
		t.Fatalf("clear left entries: %v", out)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	s := r.Get("tok")
	if again := r.Get("tok"); again != s {
		t.Fatalf("Get minted a second set for the same token")
	}
	if _, ok := r.Existing("other"); ok {
		t.Fatalf("Existing invented a set")
	}
	r.Drop("tok")
	if _, ok := r.Existing("tok"); ok {
		t.Fatalf("Drop left the set behind")
	}
}
