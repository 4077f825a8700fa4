package hq

import (
	"testing"

	"github.com/relaydeck/vtmux/src/apperr"
)

func TestRegisterGeneratesIDWhenEmpty(t *testing.T) {
	r := NewRegistry()
	rem, err := r.Register("", "alpha", "http://alpha:4020", "tok")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if rem.ID == "" {
		t.Fatal("expected a generated id")
	}
}

func TestRegisterRejectsDuplicateIDAndName(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("fixed-id", "alpha", "http://a", "tok"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := r.Register("fixed-id", "beta", "http://b", "tok"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict on duplicate id, got %v", err)
	}
	if _, err := r.Register("other-id", "alpha", "http://c", "tok"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict on duplicate name, got %v", err)
	}
}

func TestUnregisterRemovesRemote(t *testing.T) {
	r := NewRegistry()
	rem, _ := r.Register("", "alpha", "http://a", "tok")

	if err := r.Unregister(rem.ID); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, ok := r.Get(rem.ID); ok {
		t.Fatal("expected remote to be gone after Unregister")
	}
	if err := r.Unregister(rem.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound on double unregister, got %v", err)
	}
}

func TestListIsSortedByName(t *testing.T) {
	r := NewRegistry()
	r.Register("", "zeta", "http://z", "")
	r.Register("", "alpha", "http://a", "")
	r.Register("", "mu", "http://m", "")

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 remotes, got %d", len(list))
	}
	if list[0].Name != "alpha" || list[1].Name != "mu" || list[2].Name != "zeta" {
		t.Fatalf("expected alphabetical order, got %v, %v, %v", list[0].Name, list[1].Name, list[2].Name)
	}
}

func TestOwnerOfFindsRemoteClaimingSession(t *testing.T) {
	r := NewRegistry()
	rem, _ := r.Register("", "alpha", "http://a", "")
	r.markProbe(rem.ID, true, []string{"sess-1", "sess-2"})

	owner, ok := r.OwnerOf("sess-2")
	if !ok || owner != rem.ID {
		t.Fatalf("expected %s to own sess-2, got %q ok=%v", rem.ID, owner, ok)
	}

	if _, ok := r.OwnerOf("sess-unknown"); ok {
		t.Fatal("expected no owner for an unclaimed session id")
	}
}

func TestMarkProbeLastWriterWins(t *testing.T) {
	r := NewRegistry()
	remA, _ := r.Register("", "alpha", "http://a", "")
	remB, _ := r.Register("", "beta", "http://b", "")

	r.markProbe(remA.ID, true, []string{"shared"})
	owner, _ := r.OwnerOf("shared")
	if owner != remA.ID {
		t.Fatalf("expected alpha to own shared, got %q", owner)
	}

	// beta's next successful probe also reports "shared"; alpha's next
	// probe (without it) should evict it from alpha's claim set.
	r.markProbe(remB.ID, true, []string{"shared"})
	r.markProbe(remA.ID, true, []string{})

	owner, ok := r.OwnerOf("shared")
	if !ok || owner != remB.ID {
		t.Fatalf("expected beta to be the sole owner after alpha's probe dropped it, got %q ok=%v", owner, ok)
	}
}

func TestMarkProbeStrikesAndEviction(t *testing.T) {
	r := NewRegistry()
	rem, _ := r.Register("", "alpha", "http://a", "")

	if removed := r.markProbe(rem.ID, false, nil); removed {
		t.Fatal("should not be removed on first failure")
	}
	got, _ := r.Get(rem.ID)
	if !got.Healthy {
		t.Fatal("should still be healthy after a single failed probe")
	}

	if removed := r.markProbe(rem.ID, false, nil); removed {
		t.Fatal("should not be removed on second failure")
	}
	got, _ = r.Get(rem.ID)
	if got.Healthy {
		t.Fatal("should be marked unhealthy after two consecutive failures")
	}

	if removed := r.markProbe(rem.ID, false, nil); !removed {
		t.Fatal("should be removed on third consecutive failure")
	}
	if _, ok := r.Get(rem.ID); ok {
		t.Fatal("expected remote to be gone after third strike")
	}
}

func TestMarkProbeSuccessResetsStrikes(t *testing.T) {
	r := NewRegistry()
	rem, _ := r.Register("", "alpha", "http://a", "")

	r.markProbe(rem.ID, false, nil)
	r.markProbe(rem.ID, true, []string{"s1"})
	r.markProbe(rem.ID, false, nil)

	got, _ := r.Get(rem.ID)
	if !got.Healthy {
		t.Fatal("expected the strike counter to have reset after a successful probe")
	}
}
