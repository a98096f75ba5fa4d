package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrRateLimit,
		ErrNoHost,
		ErrBadRequest,
		ErrNoPermission,
		ErrNotFound,
		ErrConflict,
		ErrInternal,
		ErrMaxTerritories,
		ErrTooClose,
		ErrOverlap,
		ErrOccupied,
		ErrBadTier,
		ErrMaxTier,
		ErrInsufficientFunds,
		ErrFeatureLocked,
		ErrUnknownFeature,
		ErrSelfTrust,
		ErrProtected,
		ErrBorderBlock,
		ErrPvPDisabled,
		ErrMobsBlocked,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}
