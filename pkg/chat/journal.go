package chat

import (
	"time"

	"flock/pkg/models"
	"flock/pkg/telemetry"
)

// Journal is a chat's compacting update log. Cursor ids are nanosecond
// ticks; the id minted for a message doubles as the cursor its NEWMESSAGE
// entry lands under, because an unconsumed id is handed out again.
// Callers synchronize through the owning chat's lock.
type Journal struct {
	ids      []int64
	entries  map[int64]models.UpdateEvent
	lastID   int64
	lastUsed bool
}

func newJournal() *Journal {
	return &Journal{entries: map[int64]models.UpdateEvent{}, lastUsed: true}
}

// NextID returns the pending cursor id, minting a fresh one only when the
// previous mint was consumed by an append. Fresh ids are strictly greater
// than every id handed out before.
func (j *Journal) NextID() int64 {
	if j.lastUsed {
		now := time.Now().UnixNano()
		if now <= j.lastID {
			now = j.lastID + 1
		}
		j.lastID = now
		j.lastUsed = false
	}
	return j.lastID
}

// Append compacts the log against the incoming event, then stores it under
// the pending cursor id and marks the id consumed.
func (j *Journal) Append(ev models.UpdateEvent) int64 {
	j.compact(ev)
	id := j.NextID()
	j.lastUsed = true
	j.ids = append(j.ids, id)
	j.entries[id] = ev
	return id
}

// compact removes history the new event supersedes: everything about a
// deleted message, and the opposing half of react/unreact and pin/unpin
// pairs.
func (j *Journal) compact(ev models.UpdateEvent) {
	var drop func(old models.UpdateEvent) bool
	switch ev.Kind {
	case models.UpdateDeleted:
		drop = func(old models.UpdateEvent) bool { return old.References(ev.MessageID) }
	case models.UpdateReacted, models.UpdateUnreacted, models.UpdatePinned, models.UpdateUnpinned:
		drop = ev.Cancels
	default:
		return
	}

	kept := j.ids[:0]
	for _, id := range j.ids {
		if drop(j.entries[id]) {
			delete(j.entries, id)
			telemetry.UpdatesCompacted.Inc()
			continue
		}
		kept = append(kept, id)
	}
	j.ids = kept
}

// Len reports the number of live entries.
func (j *Journal) Len() int { return len(j.ids) }

// Bounds returns the smallest and largest live cursor ids.
func (j *Journal) Bounds() (min, max int64, ok bool) {
	if len(j.ids) == 0 {
		return 0, 0, false
	}
	min, max = j.ids[0], j.ids[0]
	for _, id := range j.ids {
		if id < min {
			min = id
		}
		if id > max {
			max = id
		}
	}
	return min, max, true
}

// Since returns the entries after the cursor, in journal order. A cursor
// of -1 yields only the latest entry; a cursor before the oldest entry
// yields everything; a cursor past the newest yields nothing.
func (j *Journal) Since(since int64) (ids []int64, events []models.UpdateEvent) {
	min, max, ok := j.Bounds()
	if !ok {
		return nil, nil
	}
	if since > max {
		return nil, nil
	}
	if since == -1 {
		since = max - 1
	} else if since < min {
		since = min - 1
	}
	for _, id := range j.ids {
		if id > since {
			ids = append(ids, id)
			events = append(events, j.entries[id])
		}
	}
	return ids, events
}

// snapshot/restore are the persistence faces of the journal.

type journalSnapshot struct {
	Version int                          `json:"version"`
	IDs     []int64                      `json:"ids"`
	Events  map[int64]models.UpdateEvent `json:"events"`
	LastID  int64                        `json:"lastID"`
}

func (j *Journal) snapshot() journalSnapshot {
	ids := make([]int64, len(j.ids))
	copy(ids, j.ids)
	events := make(map[int64]models.UpdateEvent, len(j.entries))
	for k, v := range j.entries {
		events[k] = v
	}
	return journalSnapshot{Version: formatVersion, IDs: ids, Events: events, LastID: j.lastID}
}

func (j *Journal) restore(s journalSnapshot) {
	j.ids = s.IDs
	j.entries = s.Events
	if j.entries == nil {
		j.entries = map[int64]models.UpdateEvent{}
	}
	j.lastID = s.LastID
	for _, id := range j.ids {
		if id > j.lastID {
			j.lastID = id
		}
	}
	j.lastUsed = true
}
