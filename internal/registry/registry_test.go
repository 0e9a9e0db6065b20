package registry

import (
	"testing"
	"time"

	"github.com/sdibella/scalp-engine/internal/model"
)

func TestRegister_RejectsAlreadyPastMarket(t *testing.T) {
	r := New()
	now := time.Now()
	m := model.Market{ID: "m1", EndTime: now.Add(-time.Minute)}

	if err := r.Register(m, now); err == nil {
		t.Errorf("Register() accepted a market whose end_time is already past")
	}
}

func TestRegister_AcceptsFutureMarket(t *testing.T) {
	r := New()
	now := time.Now()
	m := model.Market{ID: "m1", EndTime: now.Add(15 * time.Minute)}

	if err := r.Register(m, now); err != nil {
		t.Fatalf("Register() = %v, want nil", err)
	}
	if got, ok := r.Get("m1"); !ok || got.ID != "m1" {
		t.Errorf("Get(m1) = %+v, %v", got, ok)
	}
}

func TestPrune_KeepsMarketsWithinGrace(t *testing.T) {
	r := New()
	now := time.Now()
	m := model.Market{ID: "m1", EndTime: now.Add(time.Minute)}
	_ = r.Register(m, now)

	removed := r.Prune(now.Add(time.Minute + 100*time.Second)) // inside 600s grace
	if len(removed) != 0 {
		t.Errorf("Prune() removed %v within the grace window", removed)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestPrune_RemovesAfterGrace(t *testing.T) {
	r := New()
	now := time.Now()
	m := model.Market{ID: "m1", EndTime: now.Add(time.Minute)}
	_ = r.Register(m, now)

	removed := r.Prune(now.Add(time.Minute + Grace + time.Second))
	if len(removed) != 1 || removed[0] != "m1" {
		t.Fatalf("Prune() = %v, want [m1]", removed)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after prune", r.Count())
	}
	if _, ok := r.Get("m1"); ok {
		t.Errorf("Get(m1) still found after prune")
	}
}

func TestForEachActive_VisitsAllRegistered(t *testing.T) {
	r := New()
	now := time.Now()
	_ = r.Register(model.Market{ID: "m1", EndTime: now.Add(time.Minute)}, now)
	_ = r.Register(model.Market{ID: "m2", EndTime: now.Add(time.Minute)}, now)

	seen := make(map[string]bool)
	r.ForEachActive(func(m model.Market) { seen[m.ID] = true })

	if !seen["m1"] || !seen["m2"] {
		t.Errorf("ForEachActive() visited %v, want both m1 and m2", seen)
	}
}
