package identity

import "testing"

func TestSplitAndQualify(t *testing.T) {
	local, server := Split("alice@pamukky.net")
	if local != "alice" || server != "pamukky.net" {
		t.Fatalf("split: got %q %q", local, server)
	}
	if got := Qualify("alice", "pamukky.net"); got != "alice@pamukky.net" {
		t.Fatalf("qualify: got %q", got)
	}
	if got := Qualify("alice", ""); got != "alice" {
		t.Fatalf("qualify empty server: got %q", got)
	}
	if got := Qualify(System, "pamukky.net"); got != System {
		t.Fatalf("system actor must never be qualified, got %q", got)
	}
}

func TestIsRemote(t *testing.T) {
	if IsRemote("alice") {
		t.Fatal("local id flagged remote")
	}
	if !IsRemote("alice@pamukky.net") {
		t.Fatal("qualified id not flagged remote")
	}
}

func TestIsServerToken(t *testing.T) {
	cases := map[string]bool{
		"pamukky.net":       true,
		"localhost:4268":    true,
		"sometoken":         false,
		"alice@pamukky.net": false,
		"":                  false,
	}
	for tok, want := range cases {
		if got := IsServerToken(tok); got != want {
			t.Errorf("IsServerToken(%q) = %v, want %v", tok, got, want)
		}
	}
}

func TestCanonicalChatID(t *testing.T) {
	cases := map[string]string{
		"a-b":                           "a-b",
		"g1":                            "g1",
		"g1@pamukky.net":                "g1@pamukky.net",
		"a-b@pamukky.net":               "a-b@pamukky.net",
		"a@pamukky.net-b@pamukky.net":   "a-b@pamukky.net",
		"a@pamukky.net-a@pamukky.net":   "a-a@pamukky.net",
		"a@pamukky.net-b@elsewhere.net": "a@pamukky.net-b@elsewhere.net",
		"a@pamukky.net-b":               "a@pamukky.net-b",
	}
	for in, want := range cases {
		if got := CanonicalChatID(in); got != want {
			t.Errorf("CanonicalChatID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDMIDs(t *testing.T) {
	id := DMID("a", "b")
	if !IsDM(id) {
		t.Fatal("dm id not recognized")
	}
	x, y := DMUsers(id)
	if x != "a" || y != "b" {
		t.Fatalf("dm users: got %q %q", x, y)
	}
	if SelfChat("u") != "u-u" {
		t.Fatalf("self chat: got %q", SelfChat("u"))
	}
}
