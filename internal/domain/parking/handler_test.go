package parking

import (
	"testing"

	"github.com/parkpay/parkpay-api/internal/pkg/jwt"
)

func TestEndedByFollowsCallerRole(t *testing.T) {
	tests := []struct {
		name      string
		role      string
		requested string
		want      EndedBy
	}{
		{"driver defaults to user", jwt.RoleDriver, "", EndedByUser},
		{"driver cannot claim guard", jwt.RoleDriver, "guard", EndedByUser},
		{"driver cannot claim system", jwt.RoleDriver, "system", EndedByUser},
		{"guard is always attributed as guard", jwt.RoleGuard, "user", EndedByGuard},
		{"admin may attribute to system", jwt.RoleAdmin, "system", EndedBySystem},
		{"admin defaults to user", jwt.RoleAdmin, "", EndedByUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := endedByFor(tt.role, tt.requested); got != tt.want {
				t.Fatalf("endedByFor(%q, %q) = %q, want %q", tt.role, tt.requested, got, tt.want)
			}
		})
	}
}
