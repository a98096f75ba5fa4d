package ws

import (
	"context"

	"territorybeacons.dev/internal/protocol"
	"territorybeacons.dev/internal/sim/border"
	"territorybeacons.dev/internal/sim/lifecycle"
	"territorybeacons.dev/internal/sim/territory"
)

// Remote reaches the world and the economy of the primary host through
// CALL frames.
type Remote struct{ hub *Hub }

var (
	_ border.World       = (*Remote)(nil)
	_ lifecycle.Payments = (*Remote)(nil)
)

func (hb *Hub) Remote() *Remote { return &Remote{hub: hb} }

func (r *Remote) TopmostSurface(ctx context.Context, world string, x, z int) (territory.Location, error) {
	var l territory.Location
	err := r.hub.call(ctx, protocol.MethodTopmostSurface, protocol.ColumnParams{World: world, X: x, Z: z}, &l)
	return l, err
}

func (r *Remote) IsSolidSupport(ctx context.Context, l territory.Location) (bool, error) {
	var ok bool
	err := r.hub.call(ctx, protocol.MethodIsSolidSupport, protocol.BlockParams{At: l}, &ok)
	return ok, err
}

func (r *Remote) IsEmpty(ctx context.Context, l territory.Location) (bool, error) {
	var ok bool
	err := r.hub.call(ctx, protocol.MethodIsEmpty, protocol.BlockParams{At: l}, &ok)
	return ok, err
}

func (r *Remote) PlaceMarker(ctx context.Context, l territory.Location) error {
	return r.hub.call(ctx, protocol.MethodPlaceMarker, protocol.BlockParams{At: l}, nil)
}

func (r *Remote) ClearMarker(ctx context.Context, l territory.Location) error {
	return r.hub.call(ctx, protocol.MethodClearMarker, protocol.BlockParams{At: l}, nil)
}

func (r *Remote) RemoveBlock(ctx context.Context, l territory.Location) error {
	return r.hub.call(ctx, protocol.MethodRemoveBlock, protocol.BlockParams{At: l}, nil)
}

func (r *Remote) DropItem(ctx context.Context, l territory.Location, item string) error {
	return r.hub.call(ctx, protocol.MethodDropItem, protocol.DropParams{At: l, Item: item}, nil)
}

func (r *Remote) HasFunds(ctx context.Context, player territory.PlayerID, amount float64, c lifecycle.Currency) (bool, error) {
	var ok bool
	err := r.hub.call(ctx, protocol.MethodHasFunds, protocol.FundsParams{Player: player, Amount: amount, Currency: string(c)}, &ok)
	return ok, err
}

func (r *Remote) Withdraw(ctx context.Context, player territory.PlayerID, amount float64, c lifecycle.Currency) (bool, error) {
	var ok bool
	err := r.hub.call(ctx, protocol.MethodWithdraw, protocol.FundsParams{Player: player, Amount: amount, Currency: string(c)}, &ok)
	return ok, err
}
