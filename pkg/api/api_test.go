package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"flock/pkg/chat"
	"flock/pkg/hub"
	"flock/pkg/store"
	"flock/pkg/user"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "flock-api-test-")
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

func newTestServer(t *testing.T, allowSignups bool) *httptest.Server {
	t.Helper()
	profiles := user.NewProfiles()
	lists := user.NewChatsLists()
	notifs := user.NewNotificationCenter()
	engine := chat.NewEngine(profiles, lists, notifs, "http://localhost:4268")
	srv := NewServer(engine, profiles, lists, notifs, hub.NewRegistry(), nil, 1<<20, allowSignups)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

// post sends one action request and returns the HTTP status with the
// decoded JSON body.
func post(t *testing.T, ts *httptest.Server, path string, body interface{}) (int, []byte) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return resp.StatusCode, out.Bytes()
}

func postMap(t *testing.T, ts *httptest.Server, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	status, raw := post(t, ts, path, body)
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, raw)
	}
	return status, m
}

// signup registers a fresh account and returns its token and uid. The
// store is shared across the package, so callers pick distinct names.
func signup(t *testing.T, ts *httptest.Server, name string) (token, uid string) {
	t.Helper()
	email := name + "@example.com"
	status, m := postMap(t, ts, "/signup", map[string]string{
		"name": name, "email": email, "password": "hunter2hunter2",
	})
	if status != http.StatusOK {
		t.Fatalf("signup %s: status %d body %v", name, status, m)
	}
	token, _ = m["token"].(string)
	uid, _ = m["uid"].(string)
	if token == "" || uid == "" {
		t.Fatalf("signup %s: missing token or uid in %v", name, m)
	}
	return token, uid
}

func TestSignupValidation(t *testing.T) {
	ts := newTestServer(t, true)

	status, m := postMap(t, ts, "/signup", map[string]string{
		"email": "not-an-email", "password": "hunter2hunter2",
	})
	if status != http.StatusLengthRequired || m["code"] != "WEFORMAT" {
		t.Fatalf("bad email: status %d body %v", status, m)
	}

	status, m = postMap(t, ts, "/signup", map[string]string{
		"email": "short@example.com", "password": "short",
	})
	if status != http.StatusLengthRequired || m["code"] != "WPFORMAT" {
		t.Fatalf("short password: status %d body %v", status, m)
	}

	signup(t, ts, "dupe")
	status, m = postMap(t, ts, "/signup", map[string]string{
		"email": "dupe@example.com", "password": "hunter2hunter2",
	})
	if status != http.StatusForbidden || m["code"] != "USEREXISTS" {
		t.Fatalf("duplicate email: status %d body %v", status, m)
	}
}

func TestSignupsDisabled(t *testing.T) {
	ts := newTestServer(t, false)
	status, m := postMap(t, ts, "/signup", map[string]string{
		"email": "nobody@example.com", "password": "hunter2hunter2",
	})
	if status != http.StatusUnauthorized || m["code"] != "ADENIED" {
		t.Fatalf("status %d body %v", status, m)
	}
}

func TestLoginFlow(t *testing.T) {
	ts := newTestServer(t, true)
	_, uid := signup(t, ts, "login")

	status, m := postMap(t, ts, "/login", map[string]string{
		"email": "login@example.com", "password": "wrongwrongwrong",
	})
	if status != http.StatusUnauthorized || m["code"] != "WRONGLOGIN" {
		t.Fatalf("wrong password: status %d body %v", status, m)
	}

	status, m = postMap(t, ts, "/login", map[string]string{
		"email": "login@example.com", "password": "hunter2hunter2",
	})
	if status != http.StatusOK || m["uid"] != uid {
		t.Fatalf("login: status %d body %v", status, m)
	}
	token, _ := m["token"].(string)

	status, m = postMap(t, ts, "/getsessioninfo", map[string]string{"token": token})
	if status != http.StatusOK || m["uid"] != uid {
		t.Fatalf("session info: status %d body %v", status, m)
	}

	status, _ = post(t, ts, "/logout", map[string]string{"token": token})
	if status != http.StatusOK {
		t.Fatalf("logout: status %d", status)
	}
	status, m = postMap(t, ts, "/getsessioninfo", map[string]string{"token": token})
	if status != http.StatusUnauthorized || m["code"] != "ADENIED" {
		t.Fatalf("stale token: status %d body %v", status, m)
	}
}

func TestGroupMessagingScenario(t *testing.T) {
	ts := newTestServer(t, true)
	aliceTok, _ := signup(t, ts, "galice")
	bobTok, bobUID := signup(t, ts, "gbob")

	// empty name is rejected before the group exists
	status, m := postMap(t, ts, "/creategroup", map[string]string{
		"token": aliceTok, "name": "   ",
	})
	if status != http.StatusLengthRequired || m["code"] != "INVALID" {
		t.Fatalf("blank name: status %d body %v", status, m)
	}

	status, m = postMap(t, ts, "/creategroup", map[string]interface{}{
		"token": aliceTok, "name": "general", "info": "the one channel",
	})
	if status != http.StatusOK {
		t.Fatalf("creategroup: status %d body %v", status, m)
	}
	gid, _ := m["groupid"].(string)
	if gid == "" {
		t.Fatalf("creategroup: no groupid in %v", m)
	}

	// the group is private, so an outsider can neither read nor join
	status, m = postMap(t, ts, "/getgroup", map[string]string{"token": bobTok, "groupid": gid})
	if status != http.StatusUnauthorized || m["code"] != "ADENIED" {
		t.Fatalf("outsider getgroup: status %d body %v", status, m)
	}
	status, m = postMap(t, ts, "/joingroup", map[string]string{"token": bobTok, "groupid": gid})
	if status != http.StatusUnauthorized || m["code"] != "ADENIED" {
		t.Fatalf("outsider joingroup: status %d body %v", status, m)
	}

	// the owner invites bob through editmember
	status, m = postMap(t, ts, "/editmember", map[string]string{
		"token": aliceTok, "groupid": gid, "uid": bobUID, "role": "Normal",
	})
	if status != http.StatusOK {
		t.Fatalf("invite: status %d body %v", status, m)
	}

	status, m = postMap(t, ts, "/sendmessage", map[string]interface{}{
		"token": bobTok, "chatid": gid,
		"message": map[string]string{"content": "hello everyone"},
	})
	if status != http.StatusOK {
		t.Fatalf("sendmessage: status %d body %v", status, m)
	}
	msgID, _ := m["id"].(string)
	if msgID == "" {
		t.Fatalf("sendmessage: no id in %v", m)
	}

	// full history holds the two join announcements plus the message
	status, raw := post(t, ts, "/getmessages", map[string]string{"token": aliceTok, "chatid": gid})
	if status != http.StatusOK {
		t.Fatalf("getmessages: status %d body %s", status, raw)
	}
	var history map[string]struct {
		SenderID string `json:"senderUID"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(raw, &history); err != nil {
		t.Fatalf("decode history: %v (%s)", err, raw)
	}
	if len(history) != 3 {
		t.Fatalf("history = %d messages, want 3", len(history))
	}
	sent, okSent := history[msgID]
	if !okSent || sent.SenderID != bobUID || sent.Content != "hello everyone" {
		t.Fatalf("sent message = %+v ok=%v", sent, okSent)
	}

	// chat long poll with since just before the newest returns only it
	status, m = postMap(t, ts, "/getupdates", map[string]interface{}{
		"token": aliceTok, "chatid": gid, "since": -1,
	})
	if status != http.StatusOK {
		t.Fatalf("getupdates: status %d body %v", status, m)
	}
	ev, okEv := m[msgID].(map[string]interface{})
	if !okEv || ev["event"] != "NEWMESSAGE" {
		t.Fatalf("getupdates = %v", m)
	}

	status, m = postMap(t, ts, "/getupdates", map[string]interface{}{
		"token": aliceTok, "chatid": gid,
	})
	if status != http.StatusLengthRequired || m["code"] != "NOSINCE" {
		t.Fatalf("missing since: status %d body %v", status, m)
	}

	// non-sender cannot edit, sender can
	status, m = postMap(t, ts, "/editmessage", map[string]string{
		"token": aliceTok, "chatid": gid, "msgid": msgID, "content": "hijacked",
	})
	if status != http.StatusUnauthorized || m["code"] != "ADENIED" {
		t.Fatalf("foreign edit: status %d body %v", status, m)
	}
	status, _ = post(t, ts, "/editmessage", map[string]string{
		"token": bobTok, "chatid": gid, "msgid": msgID, "content": "hello all",
	})
	if status != http.StatusOK {
		t.Fatalf("self edit: status %d", status)
	}

	// bob leaves; alice, as the remaining owner, reads the LEFTGROUP entry
	status, _ = post(t, ts, "/leavegroup", map[string]string{"token": bobTok, "groupid": gid})
	if status != http.StatusOK {
		t.Fatalf("leavegroup: status %d", status)
	}
	status, m = postMap(t, ts, "/getmessages", map[string]string{"token": bobTok, "chatid": gid})
	if status != http.StatusUnauthorized || m["code"] != "ADENIED" {
		t.Fatalf("read after leave: status %d body %v", status, m)
	}
}

func TestHookUpdatesFlow(t *testing.T) {
	ts := newTestServer(t, true)
	aliceTok, _ := signup(t, ts, "halice")

	status, m := postMap(t, ts, "/creategroup", map[string]string{"token": aliceTok, "name": "hooks"})
	if status != http.StatusOK {
		t.Fatalf("creategroup: status %d body %v", status, m)
	}
	gid, _ := m["groupid"].(string)

	status, m = postMap(t, ts, "/addhook", map[string]interface{}{
		"token": aliceTok, "hooks": []string{"chat:" + gid, "bogus", "chat:missing"},
	})
	if status != http.StatusOK {
		t.Fatalf("addhook: status %d body %v", status, m)
	}
	attached, _ := m["hooks"].([]interface{})
	if len(attached) != 1 || attached[0] != "chat:"+gid {
		t.Fatalf("attached = %v", attached)
	}

	status, m = postMap(t, ts, "/sendmessage", map[string]interface{}{
		"token": aliceTok, "chatid": gid,
		"message": map[string]string{"content": "ping"},
	})
	if status != http.StatusOK {
		t.Fatalf("sendmessage: status %d body %v", status, m)
	}

	status, m = postMap(t, ts, "/getupdates", map[string]string{"token": aliceTok})
	if status != http.StatusOK {
		t.Fatalf("getupdates: status %d body %v", status, m)
	}
	pending, okPending := m["chat:"+gid].(map[string]interface{})
	if !okPending || len(pending) == 0 {
		t.Fatalf("hook drain = %v", m)
	}

	// a token that never registered hooks has nothing to drain
	otherTok, _ := signup(t, ts, "hcarol")
	status, m = postMap(t, ts, "/getupdates", map[string]string{"token": otherTok})
	if status != http.StatusNotFound || m["code"] != "NOUPDATES" {
		t.Fatalf("no hooks: status %d body %v", status, m)
	}
}

func TestDirectChatFlow(t *testing.T) {
	ts := newTestServer(t, true)
	aliceTok, aliceUID := signup(t, ts, "dalice")
	bobTok, bobUID := signup(t, ts, "dbob")

	status, m := postMap(t, ts, "/adduserchat", map[string]string{"token": aliceTok, "uid": bobUID})
	if status != http.StatusOK {
		t.Fatalf("adduserchat: status %d body %v", status, m)
	}
	chatID, _ := m["chatid"].(string)
	if chatID != aliceUID+"-"+bobUID {
		t.Fatalf("chatid = %q", chatID)
	}

	status, m = postMap(t, ts, "/sendmessage", map[string]interface{}{
		"token": bobTok, "chatid": chatID,
		"message": map[string]string{"content": "hey"},
	})
	if status != http.StatusOK {
		t.Fatalf("dm send: status %d body %v", status, m)
	}

	// both ends see the chat row
	status, raw := post(t, ts, "/getchatslist", map[string]string{"token": aliceTok})
	if status != http.StatusOK {
		t.Fatalf("chats list: status %d body %s", status, raw)
	}
	var list []struct {
		ChatID      string `json:"chatid"`
		LastMessage *struct {
			Content string `json:"content"`
		} `json:"lastmessage"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("decode list: %v (%s)", err, raw)
	}
	if len(list) != 1 || list[0].ChatID != chatID {
		t.Fatalf("list = %+v", list)
	}
	if list[0].LastMessage == nil || list[0].LastMessage.Content != "hey" {
		t.Fatalf("last message = %+v", list[0].LastMessage)
	}

	status, m = postMap(t, ts, "/adduserchat", map[string]string{"token": aliceTok, "uid": "ghost"})
	if status != http.StatusNotFound || m["code"] != "NOUSER" {
		t.Fatalf("unknown dm peer: status %d body %v", status, m)
	}
}

func TestMultiBatch(t *testing.T) {
	ts := newTestServer(t, true)
	tok, uid := signup(t, ts, "multi")

	sub := func(path string, body interface{}) map[string]interface{} {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal sub body: %v", err)
		}
		return map[string]interface{}{"path": path, "body": json.RawMessage(raw)}
	}
	status, raw := post(t, ts, "/multi", map[string]interface{}{
		"requests": []map[string]interface{}{
			sub("/getsessioninfo", map[string]string{"token": tok}),
			sub("/getuser", map[string]string{"token": tok, "uid": uid}),
			sub("/multi", map[string]string{}),
		},
	})
	if status != http.StatusOK {
		t.Fatalf("multi: status %d body %s", status, raw)
	}
	var out []struct {
		Path   string          `json:"path"`
		Status int             `json:"httpStatus"`
		Body   json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode multi: %v (%s)", err, raw)
	}
	if len(out) != 3 {
		t.Fatalf("multi = %d responses", len(out))
	}
	if out[0].Status != http.StatusOK || out[1].Status != http.StatusOK {
		t.Fatalf("sub statuses = %d %d", out[0].Status, out[1].Status)
	}
	var info struct {
		UID string `json:"uid"`
	}
	if err := json.Unmarshal(out[0].Body, &info); err != nil || info.UID != uid {
		t.Fatalf("session sub = %s", out[0].Body)
	}
	// batches do not nest
	if out[2].Status != http.StatusLengthRequired {
		t.Fatalf("nested multi status = %d", out[2].Status)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, true)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}
