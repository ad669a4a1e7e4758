package payment

import "testing"

func TestStatusTransitions(t *testing.T) {
	for _, to := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !StatusPending.CanTransitionTo(to) {
			t.Fatalf("pending -> %s must be legal", to)
		}
	}
	for _, from := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		for _, to := range []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusPending} {
			if from.CanTransitionTo(to) {
				t.Fatalf("%s -> %s must be illegal", from, to)
			}
		}
		if !from.Terminal() {
			t.Fatalf("%s must be terminal", from)
		}
	}
	if StatusPending.Terminal() {
		t.Fatal("pending is not terminal")
	}
}
