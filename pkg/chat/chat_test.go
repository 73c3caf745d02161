package chat

import (
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"flock/pkg/models"
	"flock/pkg/store"
	"flock/pkg/user"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "flock-chat-test-")
	if err != nil {
		panic(err)
	}
	if err := store.Open(dir); err != nil {
		panic(err)
	}
	code := m.Run()
	store.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

var groupSeq atomic.Int64

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	profiles := user.NewProfiles()
	e := NewEngine(profiles, user.NewChatsLists(), user.NewNotificationCenter(), "http://localhost:4268")
	for _, uid := range []string{"alice", "bob", "carol", "mallory"} {
		if _, err := profiles.Create(uid, models.Profile{Name: uid}); err != nil {
			t.Fatalf("create profile %s: %v", uid, err)
		}
	}
	return e
}

// newTestGroup builds a group with alice as owner plus the given members
// and returns it with its chat.
func newTestGroup(t *testing.T, e *Engine, members map[string]string) (*Group, *Chat) {
	t.Helper()
	id := fmt.Sprintf("g%d", groupSeq.Add(1))
	g, err := e.Groups.Create(id, models.Group{
		Name:         "room",
		CreatorID:    "alice",
		CreationTime: models.Now(),
		Members:      map[string]models.GroupMember{},
		Roles:        models.DefaultRoles(),
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := g.AddUser("alice", "Owner"); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	for uid, role := range members {
		if err := g.AddUser(uid, role); err != nil {
			t.Fatalf("add %s: %v", uid, err)
		}
	}
	c, err := e.Chats.Get(id)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	return g, c
}

func send(t *testing.T, c *Chat, uid, content string) string {
	t.Helper()
	id := c.SendMessage(&models.Message{
		SenderID: uid,
		Content:  content,
		SendTime: models.Now(),
	}, false, "")
	if id == "" {
		t.Fatalf("send returned empty id")
	}
	return id
}

func TestSendAndFormat(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, map[string]string{"bob": "Normal"})

	// AddUser minted two JOINGROUP system messages already
	base := c.Len()
	id1 := send(t, c, "alice", "hello")
	id2 := send(t, c, "bob", "hi there")

	if c.Len() != base+2 {
		t.Fatalf("len = %d, want %d", c.Len(), base+2)
	}
	all := c.FormatAll()
	fm, ok := all[id1]
	if !ok {
		t.Fatalf("message %s missing from FormatAll", id1)
	}
	if fm.ID != id1 || fm.Content != "hello" || fm.SenderID != "alice" {
		t.Fatalf("formatted message wrong: %+v", fm)
	}
	if all[id2].Content != "hi there" {
		t.Fatalf("second message wrong: %+v", all[id2])
	}
	if last := c.LastMessage(); last == nil || last.ID != id2 {
		t.Fatalf("last message = %+v, want id %s", last, id2)
	}
}

func TestReplyPreview(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, map[string]string{"bob": "Normal"})

	orig := send(t, c, "alice", "original text")
	reply := c.SendMessage(&models.Message{
		SenderID:       "bob",
		Content:        "replying",
		SendTime:       models.Now(),
		ReplyMessageID: orig,
	}, false, "")

	fm := c.FormatMessage(reply)
	if fm == nil {
		t.Fatal("reply not formatted")
	}
	if fm.ReplyMessageContent != "original text" || fm.ReplyMessageSenderID != "alice" {
		t.Fatalf("reply preview wrong: %+v", fm)
	}
	// replying mentions the replied-to sender
	if !fm.Mentions("alice") {
		t.Fatalf("reply did not mention original sender: %v", fm.MentionIDs)
	}
}

func TestMentionScan(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, map[string]string{"bob": "Normal"})

	id := send(t, c, "alice", "ping @bob about this")
	msg, _ := c.Message(id)
	if !msg.Mentions("bob") {
		t.Fatalf("direct mention missed: %v", msg.MentionIDs)
	}

	id = send(t, c, "alice", "hey @everyone")
	msg, _ = c.Message(id)
	if !msg.Mentions("[CHAT]") {
		t.Fatalf("whole-chat mention missed: %v", msg.MentionIDs)
	}
}

func TestPrefixAddressing(t *testing.T) {
	e := newTestEngine(t)
	g, c := newTestGroup(t, e, nil)
	_ = g

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, send(t, c, "alice", fmt.Sprintf("msg %d", i)))
	}
	// one JOINGROUP precedes the five sends
	newest := ids[len(ids)-1]

	if got, ok := c.MessageIDFromPrefix("#0"); !ok || got != newest {
		t.Fatalf("#0 = %q, want newest %q", got, newest)
	}
	if got, ok := c.MessageIDFromPrefix("#^" + fmt.Sprint(c.Len()-1)); !ok || got != newest {
		t.Fatalf("#^last = %q, want %q", got, newest)
	}
	// out-of-range counts clamp to the far end
	if got, ok := c.MessageIDFromPrefix("#9999"); !ok {
		t.Fatal("clamped prefix did not resolve")
	} else if idx, _ := c.MessageIDFromPrefix("#^0"); got != idx {
		t.Fatalf("#9999 = %q, want oldest %q", got, idx)
	}
	if got, ok := c.MessageIDFromPrefix(newest); !ok || got != newest {
		t.Fatalf("literal id lookup failed: %q %v", got, ok)
	}
	if _, ok := c.MessageIDFromPrefix("nosuchid"); ok {
		t.Fatal("unknown id resolved")
	}
	if _, ok := c.MessageIDFromPrefix("#-1"); ok {
		t.Fatal("negative prefix resolved")
	}
}

func TestGetMessagesRanges(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, nil)
	for i := 0; i < 6; i++ {
		send(t, c, "alice", fmt.Sprintf("msg %d", i))
	}

	one := c.GetMessages("#0")
	if len(one) != 1 {
		t.Fatalf("single ref returned %d messages", len(one))
	}
	// both ends inclusive, order of the refs irrelevant
	three := c.GetMessages("#0-#2")
	if len(three) != 3 {
		t.Fatalf("#0-#2 returned %d messages, want 3", len(three))
	}
	rev := c.GetMessages("#2-#0")
	if len(rev) != 3 {
		t.Fatalf("#2-#0 returned %d messages, want 3", len(rev))
	}
	if c.GetMessages("#0-nosuchid") != nil {
		t.Fatal("range with unresolvable end did not return nil")
	}

	page := c.GetMessages(PageSpec(0, 3))
	if len(page) != 4 {
		// page spec is "#0-#3": inclusive ends overlap pages by one
		t.Fatalf("page 0 returned %d messages, want 4", len(page))
	}
}

func TestEditMessage(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, map[string]string{"bob": "Normal"})

	id := send(t, c, "alice", "tpyo")
	if !c.EditMessage(id, "typo") {
		t.Fatal("edit rejected")
	}
	msg, _ := c.Message(id)
	if msg.Content != "typo" || !msg.IsEdited || msg.EditTime == "" {
		t.Fatalf("edit not applied: %+v", msg)
	}
	// same content is a no-op
	if c.EditMessage(id, "typo") {
		t.Fatal("no-op edit reported as applied")
	}

	// forwarded messages are not editable
	fid := c.SendMessage(&models.Message{
		SenderID:        "bob",
		Content:         "forwarded",
		SendTime:        models.Now(),
		ForwardedFromID: "alice",
	}, false, "")
	if c.EditMessage(fid, "changed") {
		t.Fatal("forwarded message edited")
	}
}

func TestDeleteMessage(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, nil)

	id := send(t, c, "alice", "gone soon")
	before := c.Len()
	if !c.DeleteMessage(id) {
		t.Fatal("delete rejected")
	}
	if c.Len() != before-1 {
		t.Fatalf("len after delete = %d, want %d", c.Len(), before-1)
	}
	if _, ok := c.Message(id); ok {
		t.Fatal("deleted message still present")
	}
	if c.DeleteMessage(id) {
		t.Fatal("double delete reported as applied")
	}
}

func TestReactToggle(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, map[string]string{"bob": "Normal"})

	id := send(t, c, "alice", "react to me")
	table := c.ReactMessage(id, "bob", "x", nil, models.Now())
	if table == nil || len(table["x"]) != 1 {
		t.Fatalf("reaction not recorded: %v", table)
	}
	// nil toggle flips
	table = c.ReactMessage(id, "bob", "x", nil, models.Now())
	if len(table["x"]) != 0 {
		t.Fatalf("reaction not removed on toggle: %v", table)
	}

	on := true
	c.ReactMessage(id, "bob", "y", &on, models.Now())
	table = c.ReactMessage(id, "bob", "y", &on, models.Now())
	if len(table["y"]) != 1 {
		t.Fatalf("explicit add not idempotent: %v", table)
	}
	if c.ReactMessage("nosuchid", "bob", "x", nil, models.Now()) != nil {
		t.Fatal("react on missing message returned a table")
	}
}

func TestReadReceipts(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, map[string]string{"bob": "Normal"})

	id := send(t, c, "alice", "read me")
	c.ReadMessage(id, "bob", models.Now())
	c.ReadMessage(id, "bob", models.Now())
	msg, _ := c.Message(id)
	if len(msg.ReadByIDs) != 1 || msg.ReadByIDs[0].UserID != "bob" {
		t.Fatalf("read receipts wrong: %v", msg.ReadByIDs)
	}
}

func TestPinMessage(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, map[string]string{"bob": "Normal"})

	id := send(t, c, "alice", "important")
	if !c.PinMessage(id, "alice", nil) {
		t.Fatal("pin rejected")
	}
	pinned := c.GetPinnedMessages()
	if len(pinned) != 1 {
		t.Fatalf("pinned set size %d, want 1", len(pinned))
	}
	if _, ok := pinned[id]; !ok {
		t.Fatalf("pinned set missing %s", id)
	}
	// the pin is announced in-chat
	if last := c.LastMessage(); last == nil || last.SenderID != "0" {
		t.Fatalf("pin announcement missing, last = %+v", last)
	}

	off := false
	c.PinMessage(id, "alice", &off)
	if len(c.GetPinnedMessages()) != 0 {
		t.Fatal("unpin left message pinned")
	}
}

func TestGetUpdatesSince(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, nil)

	send(t, c, "alice", "one")
	updates := c.GetUpdates(0)
	if len(updates) == 0 {
		t.Fatal("no updates since 0")
	}
	var latest int64
	for k, ev := range updates {
		var cur int64
		fmt.Sscanf(k, "%d", &cur)
		if cur > latest {
			latest = cur
		}
		if ev.Kind == models.UpdateNewMessage && ev.Message == nil {
			t.Fatal("NEWMESSAGE update not expanded with the message")
		}
	}
	if got := c.GetUpdates(latest); len(got) != 0 {
		t.Fatalf("updates past newest cursor: %v", got)
	}
}

func TestWaitForUpdatesWakes(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, nil)
	send(t, c, "alice", "seed")

	var latest int64
	for k := range c.GetUpdates(0) {
		var cur int64
		fmt.Sscanf(k, "%d", &cur)
		if cur > latest {
			latest = cur
		}
	}

	done := make(chan map[string]models.UpdateEvent, 1)
	go func() {
		done <- c.WaitForUpdates(latest, 5*time.Second)
	}()
	time.Sleep(50 * time.Millisecond)
	send(t, c, "alice", "wake up")

	select {
	case got := <-done:
		if len(got) == 0 {
			t.Fatal("waiter woke with no updates")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("waiter did not wake on new message")
	}
}

func TestTyping(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, map[string]string{"bob": "Normal"})

	c.SetTyping("bob", true)
	users := c.TypingUsers()
	if len(users) != 1 || users[0] != "bob" {
		t.Fatalf("typing users = %v", users)
	}
	c.SetTyping("bob", false)
	if len(c.TypingUsers()) != 0 {
		t.Fatal("typing not cleared")
	}
}

func TestRemoteIdempotency(t *testing.T) {
	e := newTestEngine(t)
	_, c := newTestGroup(t, e, nil)

	msg := &models.Message{SenderID: "bob@peer.net", Content: "from afar", SendTime: models.Now(), MentionIDs: []string{}}
	id1 := c.SendMessage(msg, false, "1234567890")
	id2 := c.SendMessage(msg, false, "1234567890")
	if id1 != "1234567890" || id2 != id1 {
		t.Fatalf("remote id dedup broken: %q %q", id1, id2)
	}
	count := 0
	for _, fm := range c.FormatAll() {
		if fm.Content == "from afar" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("remote message stored %d times", count)
	}
}

func TestChatPersistence(t *testing.T) {
	e := newTestEngine(t)
	g, c := newTestGroup(t, e, map[string]string{"bob": "Normal"})
	id := send(t, c, "alice", "durable")
	if err := c.Save(); err != nil {
		t.Fatalf("chat save: %v", err)
	}
	if err := g.Save(); err != nil {
		t.Fatalf("group save: %v", err)
	}

	// fresh engine, same store
	e2 := newTestEngine(t)
	c2, err := e2.Chats.Get(c.ID)
	if err != nil {
		t.Fatalf("reload chat: %v", err)
	}
	msg, ok := c2.Message(id)
	if !ok || msg.Content != "durable" {
		t.Fatalf("message lost across reload: %v %v", msg, ok)
	}
	if c2.Len() != c.Len() {
		t.Fatalf("reloaded len %d, want %d", c2.Len(), c.Len())
	}

	// journal cursor survives too: new sends mint past the old ones
	fresh := send(t, c2, "alice", "after reload")
	oldN, _ := strconv.ParseInt(id, 10, 64)
	freshN, _ := strconv.ParseInt(fresh, 10, 64)
	if freshN <= oldN {
		t.Fatalf("cursor regressed after reload: %s then %s", id, fresh)
	}
}

// stubResolver serves remote chats from a canned history, standing in
// for the federation manager.
type stubResolver struct{}

func (stubResolver) PopulateChat(c *Chat) error {
	c.ReplaceHistory(map[string]*models.Message{
		"100": {SenderID: "zoe@peer.example", Content: "hi", SendTime: models.Now()},
	})
	return nil
}

func (stubResolver) ResolveGroup(string) (*models.Group, bool, error) {
	return nil, false, ErrNoGroup
}

func (stubResolver) SubscribeGroup(*Group) {}

func TestRemoteDMSpellingsShareOneReplica(t *testing.T) {
	e := newTestEngine(t)
	e.SetResolver(stubResolver{})

	suffix, err := e.Chats.Get("zoe-yuri@peer.example")
	if err != nil {
		t.Fatalf("suffix spelling: %v", err)
	}
	perUser, err := e.Chats.Get("zoe@peer.example-yuri@peer.example")
	if err != nil {
		t.Fatalf("per-user spelling: %v", err)
	}
	if suffix != perUser {
		t.Fatal("two replicas loaded for one remote direct chat")
	}
	if suffix.ID != "zoe-yuri@peer.example" {
		t.Fatalf("replica id = %q", suffix.ID)
	}
	if _, ok := suffix.Message("100"); !ok {
		t.Fatal("replica history missing")
	}
}

func TestDMChat(t *testing.T) {
	e := newTestEngine(t)
	c, err := e.Chats.Get("alice-bob")
	if err != nil {
		t.Fatalf("dm chat: %v", err)
	}
	// both sides may act, nobody else
	if !c.CanDo("alice", ActionSend, "") || !c.CanDo("bob", ActionSend, "") {
		t.Fatal("dm members cannot send")
	}
	if c.CanDo("carol", ActionRead, "") {
		t.Fatal("outsider can read dm")
	}
	if _, err := e.Chats.Get("alice-nosuchuser"); err == nil {
		t.Fatal("dm with unknown user resolved")
	}

	// self chat is single-member
	sc, err := e.Chats.Get("carol-carol")
	if err != nil {
		t.Fatalf("self chat: %v", err)
	}
	if !sc.CanDo("carol", ActionSend, "") {
		t.Fatal("owner cannot use self chat")
	}
	if sc.CanDo("alice", ActionRead, "") {
		t.Fatal("outsider can read self chat")
	}
}
