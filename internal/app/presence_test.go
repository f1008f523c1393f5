package app

import (
	"testing"

	"github.com/dkeye/Callbridge/internal/domain"
)

func TestPresenceAnnounceOnlineSkipsRegistrant(t *testing.T) {
	reg, r := newRouter(SimplePolicy{})
	p := &Presence{Registry: reg, Router: r}
	a := attach(reg, "c1")
	anon := attach(reg, "c0")
	b := attach(reg, "c2")
	_, _, _ = reg.Register("c1", user("A"))
	_, _, _ = reg.Register("c2", user("B"))

	p.AnnounceOnline(user("B"), "c2")

	if n := len(b.messages(t)); n != 0 {
		t.Fatalf("registrant got %d messages", n)
	}
	if n := len(anon.messages(t)); n != 0 {
		t.Fatalf("unregistered connection got %d messages", n)
	}
	got := a.messages(t)
	if len(got) != 1 || got[0]["type"] != "presence-online" || got[0]["userId"] != "B" {
		t.Fatalf("registered connection got %v", got)
	}
}

func TestPresenceSkipsSupersededConnection(t *testing.T) {
	reg, r := newRouter(SimplePolicy{})
	p := &Presence{Registry: reg, Router: r}
	stale := attach(reg, "c1")
	fresh := attach(reg, "c3")
	_, _, _ = reg.Register("c1", user("A"))
	_, _, _ = reg.Register("c3", user("A"))

	p.AnnounceOffline(user("Z"))

	if n := len(stale.messages(t)); n != 0 {
		t.Fatalf("superseded connection got %d messages", n)
	}
	if got := fresh.types(t); len(got) != 1 || got[0] != "presence-offline" {
		t.Fatalf("current connection got %v", got)
	}
}

func TestPresenceAnnounceOfflineReachesEveryone(t *testing.T) {
	reg, r := newRouter(SimplePolicy{})
	p := &Presence{Registry: reg, Router: r}
	a := attach(reg, "c1")
	b := attach(reg, "c2")
	_, _, _ = reg.Register("c1", user("A"))
	_, _, _ = reg.Register("c2", user("B"))

	p.AnnounceOffline(user("Z"))

	for _, c := range []*fakeConn{a, b} {
		if got := c.types(t); len(got) != 1 || got[0] != "presence-offline" {
			t.Fatalf("got %v", got)
		}
	}
}

func TestPresenceSnapshotExcludesSelf(t *testing.T) {
	reg, r := newRouter(SimplePolicy{})
	p := &Presence{Registry: reg, Router: r}
	for _, id := range []string{"A", "B", "C"} {
		cid := "c-" + id
		attach(reg, domain.ConnectionID(cid))
		_, _, _ = reg.Register(domain.ConnectionID(cid), user(id))
	}

	snap := p.Snapshot("B")
	if len(snap) != 2 || snap[0].UserID != "A" || snap[1].UserID != "C" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if all := p.Snapshot(""); len(all) != 3 {
		t.Fatalf("full snapshot = %+v", all)
	}
}
