package parking

import (
	"testing"
	"time"
)

func TestBillableMinutes(t *testing.T) {
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    int64
	}{
		{"zero", 0, 0},
		{"negative clock skew", -time.Minute, 0},
		{"one second", time.Second, 1},
		{"under a minute", 59 * time.Second, 1},
		{"exactly one minute", time.Minute, 1},
		{"just over a minute", time.Minute + time.Millisecond, 2},
		{"twelve minutes", 12 * time.Minute, 12},
		{"twelve and a bit", 12*time.Minute + time.Second, 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BillableMinutes(base, base.Add(tt.elapsed))
			if got != tt.want {
				t.Fatalf("BillableMinutes(%v) = %d, want %d", tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	if !StatusActive.CanTransitionTo(StatusCompleted) {
		t.Fatal("active -> completed must be legal")
	}
	if !StatusActive.CanTransitionTo(StatusCancelled) {
		t.Fatal("active -> cancelled must be legal")
	}
	if StatusCompleted.CanTransitionTo(StatusCancelled) {
		t.Fatal("completed -> cancelled must be illegal")
	}
	if StatusCancelled.CanTransitionTo(StatusCompleted) {
		t.Fatal("cancelled -> completed must be illegal")
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Fatal("completed and cancelled are terminal")
	}
	if StatusActive.Terminal() {
		t.Fatal("active is not terminal")
	}
}
