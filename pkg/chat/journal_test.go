package chat

import (
	"testing"

	"flock/pkg/models"
)

func TestJournalMintMonotonic(t *testing.T) {
	j := newJournal()
	var prev int64
	for i := 0; i < 100; i++ {
		id := j.Append(models.UpdateEvent{Kind: models.UpdateNewMessage, MessageID: "m"})
		if id <= prev {
			t.Fatalf("cursor %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestJournalNextIDReusedUntilConsumed(t *testing.T) {
	j := newJournal()
	a := j.NextID()
	b := j.NextID()
	if a != b {
		t.Fatalf("unconsumed id changed: %d then %d", a, b)
	}
	got := j.Append(models.UpdateEvent{Kind: models.UpdateNewMessage, MessageID: "m"})
	if got != a {
		t.Fatalf("append used %d, reserved id was %d", got, a)
	}
	if j.NextID() == a {
		t.Fatal("consumed id handed out again")
	}
}

func TestJournalCompactDeleted(t *testing.T) {
	j := newJournal()
	j.Append(models.UpdateEvent{Kind: models.UpdateNewMessage, MessageID: "m1"})
	j.Append(models.UpdateEvent{Kind: models.UpdateReacted, MessageID: "m1", UserID: "u", Reaction: "x"})
	keep := j.Append(models.UpdateEvent{Kind: models.UpdateNewMessage, MessageID: "m2"})
	j.Append(models.UpdateEvent{Kind: models.UpdateDeleted, MessageID: "m1"})

	if j.Len() != 2 {
		t.Fatalf("want 2 live entries after delete compaction, got %d", j.Len())
	}
	ids, events := j.Since(0)
	if len(events) != 2 {
		t.Fatalf("since: got %d events", len(events))
	}
	if ids[0] != keep || events[0].MessageID != "m2" {
		t.Fatalf("surviving entry wrong: %v %v", ids[0], events[0])
	}
	if events[1].Kind != models.UpdateDeleted {
		t.Fatalf("delete entry missing, got %v", events[1])
	}
}

func TestJournalCompactOpposingPairs(t *testing.T) {
	j := newJournal()
	j.Append(models.UpdateEvent{Kind: models.UpdateReacted, MessageID: "m", UserID: "u", Reaction: "x"})
	j.Append(models.UpdateEvent{Kind: models.UpdateUnreacted, MessageID: "m", UserID: "u", Reaction: "x"})
	// the unreact drops the react but stays itself
	if j.Len() != 1 {
		t.Fatalf("want 1 entry, got %d", j.Len())
	}

	// a different reaction must survive
	j.Append(models.UpdateEvent{Kind: models.UpdateReacted, MessageID: "m", UserID: "u", Reaction: "y"})
	j.Append(models.UpdateEvent{Kind: models.UpdateUnreacted, MessageID: "m", UserID: "v", Reaction: "y"})
	if j.Len() != 3 {
		t.Fatalf("mismatched pair compacted, got %d entries", j.Len())
	}

	j.Append(models.UpdateEvent{Kind: models.UpdatePinned, MessageID: "m", UserID: "u"})
	j.Append(models.UpdateEvent{Kind: models.UpdateUnpinned, MessageID: "m", UserID: "v"})
	// pin pairs match on message id alone
	if j.Len() != 4 {
		t.Fatalf("pin pair not compacted, got %d entries", j.Len())
	}
}

func TestJournalSinceSemantics(t *testing.T) {
	j := newJournal()
	first := j.Append(models.UpdateEvent{Kind: models.UpdateNewMessage, MessageID: "m1"})
	j.Append(models.UpdateEvent{Kind: models.UpdateNewMessage, MessageID: "m2"})
	last := j.Append(models.UpdateEvent{Kind: models.UpdateNewMessage, MessageID: "m3"})

	if ids, _ := j.Since(last); ids != nil {
		t.Fatalf("cursor at newest must yield nothing, got %v", ids)
	}
	if ids, _ := j.Since(last + 1000); ids != nil {
		t.Fatalf("cursor past newest must yield nothing, got %v", ids)
	}
	ids, events := j.Since(-1)
	if len(ids) != 1 || events[0].MessageID != "m3" {
		t.Fatalf("cursor -1 must yield only the latest, got %v", ids)
	}
	ids, _ = j.Since(first - 1000)
	if len(ids) != 3 {
		t.Fatalf("cursor before oldest must yield everything, got %v", ids)
	}
	ids, _ = j.Since(first)
	if len(ids) != 2 {
		t.Fatalf("cursor at first must yield the rest, got %v", ids)
	}
}

func TestJournalSnapshotRestore(t *testing.T) {
	j := newJournal()
	j.Append(models.UpdateEvent{Kind: models.UpdateNewMessage, MessageID: "m1"})
	last := j.Append(models.UpdateEvent{Kind: models.UpdateReacted, MessageID: "m1", UserID: "u", Reaction: "x"})

	snap := j.snapshot()
	r := newJournal()
	r.restore(snap)

	if r.Len() != j.Len() {
		t.Fatalf("restored %d entries, want %d", r.Len(), j.Len())
	}
	if next := r.NextID(); next <= last {
		t.Fatalf("restored journal minted %d, not after %d", next, last)
	}
}
