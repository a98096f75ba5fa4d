package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrNoHost          = "E_NO_HOST"

	// Generic rule layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNoPermission = "E_NO_PERMISSION"
	ErrNotFound     = "E_NOT_FOUND"
	ErrConflict     = "E_CONFLICT"
	ErrInternal     = "E_INTERNAL"

	// Claim placement.
	ErrMaxTerritories = "E_MAX_TERRITORIES"
	ErrTooClose       = "E_TOO_CLOSE"
	ErrOverlap        = "E_OVERLAP"
	ErrOccupied       = "E_OCCUPIED"

	// Upgrade and payment.
	ErrBadTier           = "E_BAD_TIER"
	ErrMaxTier           = "E_MAX_TIER"
	ErrInsufficientFunds = "E_INSUFFICIENT_FUNDS"

	// Management.
	ErrFeatureLocked  = "E_FEATURE_LOCKED"
	ErrUnknownFeature = "E_UNKNOWN_FEATURE"
	ErrSelfTrust      = "E_SELF_TRUST"

	// Protection.
	ErrProtected   = "E_PROTECTED"
	ErrBorderBlock = "E_BORDER_BLOCK"
	ErrPvPDisabled = "E_PVP_DISABLED"
	ErrMobsBlocked = "E_MOBS_BLOCKED"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrRateLimit:         {},
	ErrNoHost:            {},
	ErrBadRequest:        {},
	ErrNoPermission:      {},
	ErrNotFound:          {},
	ErrConflict:          {},
	ErrInternal:          {},
	ErrMaxTerritories:    {},
	ErrTooClose:          {},
	ErrOverlap:           {},
	ErrOccupied:          {},
	ErrBadTier:           {},
	ErrMaxTier:           {},
	ErrInsufficientFunds: {},
	ErrFeatureLocked:     {},
	ErrUnknownFeature:    {},
	ErrSelfTrust:         {},
	ErrProtected:         {},
	ErrBorderBlock:       {},
	ErrPvPDisabled:       {},
	ErrMobsBlocked:       {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
