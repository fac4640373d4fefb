package snapshotstore

import (
	"testing"
	"time"

	"github.com/soccerops/alertcore/internal/sportdata"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	defer s.Close()

	snap := sportdata.Snapshot{FixtureID: "fx1", Status: sportdata.StatusLive1H, ElapsedMinute: 10}
	s.Put(snap)

	got, ok := s.Get("fx1")
	if !ok {
		t.Fatal("expected snapshot to be present")
	}
	if got.ElapsedMinute != 10 {
		t.Fatalf("unexpected elapsed: %d", got.ElapsedMinute)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New()
	defer s.Close()

	s.mu.Lock()
	s.entries["fx2"] = entry{
		snapshot:  sportdata.Snapshot{FixtureID: "fx2"},
		expiresAt: time.Now().Add(-time.Second),
	}
	s.mu.Unlock()

	if _, ok := s.Get("fx2"); ok {
		t.Fatal("expected expired snapshot to be invisible to Get")
	}
	if _, ok := s.GetStale("fx2"); !ok {
		t.Fatal("expected GetStale to still return an expired entry")
	}
}

func TestTTLForStatus(t *testing.T) {
	cases := map[sportdata.FixtureStatus]time.Duration{
		sportdata.StatusLive1H:    60 * time.Second,
		sportdata.StatusHalfTime:  60 * time.Second,
		sportdata.StatusFinished:  300 * time.Second,
		sportdata.StatusPostponed: 300 * time.Second,
		sportdata.StatusScheduled: 600 * time.Second,
	}
	for status, want := range cases {
		if got := ttlForStatus(status); got != want {
			t.Errorf("status %s: expected TTL %v, got %v", status, want, got)
		}
	}
}
