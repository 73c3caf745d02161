package federation

import (
	"reflect"
	"testing"

	"flock/pkg/models"
)

// newFixHarness builds a manager named home.example with one link to
// peer.example, without touching the store or the network.
func newFixHarness() (*Manager, *Link) {
	m := &Manager{
		publicName: "home.example",
		links:      map[string]*Link{},
		known:      map[string]models.KnownServer{},
	}
	l := newLink(m, "peer.example", "https://peer.example/", "")
	m.links["peer.example"] = l
	return m, l
}

func TestFixUserID(t *testing.T) {
	m, l := newFixHarness()
	cases := []struct{ in, want string }{
		{"", ""},
		{"0", "0"},
		{"alice", "alice@peer.example"},
		{"bob@home.example", "bob"},
		{"carol@third.example", "carol@third.example"},
	}
	for _, c := range cases {
		if got := m.fixUserID(l, c.in); got != c.want {
			t.Fatalf("fixUserID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFixChatID(t *testing.T) {
	m, l := newFixHarness()
	cases := []struct{ in, want string }{
		{"g1", "g1@peer.example"},
		{"g1@home.example", "g1"},
		{"g1@third.example", "g1@third.example"},
		{"alice-bob", "alice@peer.example-bob@peer.example"},
		{"alice-alice", "alice@peer.example-alice@peer.example"},
	}
	for _, c := range cases {
		if got := m.fixChatID(l, c.in); got != c.want {
			t.Fatalf("fixChatID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFixMessageRewritesUserReferences(t *testing.T) {
	m, l := newFixHarness()
	msg := &models.Message{
		SenderID:        "alice",
		Content:         "hey @bob",
		ForwardedFromID: "carol@home.example",
		MentionIDs:      []string{"bob", "[CHAT]"},
		ReadByIDs:       []models.ReadReceipt{{UserID: "bob", ReadTime: "1"}},
		Reactions: models.ReactionTable{
			"👍": {"bob": {Reaction: "👍", SenderID: "bob", SendTime: "1"}},
		},
	}
	m.fixMessage(l, msg)

	if msg.SenderID != "alice@peer.example" {
		t.Fatalf("sender = %q", msg.SenderID)
	}
	if msg.ForwardedFromID != "carol" {
		t.Fatalf("forwarded = %q", msg.ForwardedFromID)
	}
	if want := []string{"bob@peer.example", "[CHAT]"}; !reflect.DeepEqual(msg.MentionIDs, want) {
		t.Fatalf("mentions = %v, want %v", msg.MentionIDs, want)
	}
	if msg.ReadByIDs[0].UserID != "bob@peer.example" {
		t.Fatalf("read receipt = %q", msg.ReadByIDs[0].UserID)
	}
	bucket, ok := msg.Reactions["👍"]
	if !ok {
		t.Fatalf("reaction bucket missing after rewrite")
	}
	r, ok := bucket["bob@peer.example"]
	if !ok {
		t.Fatalf("reaction key not rewritten: %v", bucket)
	}
	if r.SenderID != "bob@peer.example" {
		t.Fatalf("reaction sender = %q", r.SenderID)
	}
}

func TestFixMessageSystemVerbs(t *testing.T) {
	m, l := newFixHarness()

	msg := &models.Message{SenderID: "0", Content: "JOINGROUP|bob"}
	m.fixMessage(l, msg)
	if msg.Content != "JOINGROUP|bob@peer.example" {
		t.Fatalf("join content = %q", msg.Content)
	}

	// unknown verbs and non-system senders keep their content untouched
	msg = &models.Message{SenderID: "0", Content: "SOMETHINGELSE|bob"}
	m.fixMessage(l, msg)
	if msg.Content != "SOMETHINGELSE|bob" {
		t.Fatalf("unknown verb rewritten: %q", msg.Content)
	}
	msg = &models.Message{SenderID: "alice", Content: "JOINGROUP|bob"}
	m.fixMessage(l, msg)
	if msg.Content != "JOINGROUP|bob" {
		t.Fatalf("user message rewritten: %q", msg.Content)
	}
}

func TestFixMessageFileURLs(t *testing.T) {
	m, l := newFixHarness()
	msg := &models.Message{
		SenderID: "alice",
		Files:    []string{"%SERVER%/file/abc", "https://elsewhere.example/file/def"},
	}
	m.fixMessage(l, msg)
	if msg.Files[0] != "https://peer.example/file/abc" {
		t.Fatalf("placeholder file = %q", msg.Files[0])
	}
	if msg.Files[1] != "https://elsewhere.example/file/def" {
		t.Fatalf("absolute file rewritten: %q", msg.Files[1])
	}
}

func TestFixGroup(t *testing.T) {
	m, l := newFixHarness()
	in := models.Group{
		Name:      "room",
		CreatorID: "alice",
		Members: map[string]models.GroupMember{
			"alice":            {UserID: "alice", Role: "Owner"},
			"bob@home.example": {UserID: "bob@home.example", Role: "Normal"},
		},
		BannedMembers: []string{"mallory"},
	}
	out := m.fixGroup(l, in)

	if out.CreatorID != "alice@peer.example" {
		t.Fatalf("creator = %q", out.CreatorID)
	}
	if len(out.Members) != 2 {
		t.Fatalf("members = %v", out.Members)
	}
	owner, ok := out.Members["alice@peer.example"]
	if !ok || owner.UserID != "alice@peer.example" || owner.Role != "Owner" {
		t.Fatalf("remote member = %+v ok=%v", owner, ok)
	}
	local, ok := out.Members["bob"]
	if !ok || local.UserID != "bob" {
		t.Fatalf("local member = %+v ok=%v", local, ok)
	}
	if out.BannedMembers[0] != "mallory@peer.example" {
		t.Fatalf("banned = %v", out.BannedMembers)
	}
}
