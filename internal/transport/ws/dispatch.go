package ws

import (
	"context"

	"go.uber.org/zap"

	"territorybeacons.dev/internal/protocol"
	"territorybeacons.dev/internal/sim/lifecycle"
	"territorybeacons.dev/internal/sim/territory"
)

// TerritoryView is the RESULT payload for a territory.
type TerritoryView struct {
	territory.Record
	BorderSize int `json:"border_size"`
}

func ViewOf(t *territory.Territory) TerritoryView {
	return TerritoryView{Record: t.Snapshot(), BorderSize: t.BorderSize()}
}

func viewsOf(ts []*territory.Territory) []TerritoryView {
	out := make([]TerritoryView, 0, len(ts))
	for _, t := range ts {
		out = append(out, ViewOf(t))
	}
	return out
}

type decisionView struct {
	Allowed   bool           `json:"allowed"`
	Code      string         `json:"code,omitempty"`
	Territory *TerritoryView `json:"territory,omitempty"`
}

// explosionView lists the blocks the explosion may destroy.
type explosionView struct {
	Blocks []territory.Location `json:"blocks"`
}

func inline(op string) bool {
	switch op {
	case protocol.OpPlaceBeacon, protocol.OpBuild, protocol.OpBreak, protocol.OpInteract,
		protocol.OpExplode, protocol.OpPvP, protocol.OpMobSpawn,
		protocol.OpJoin, protocol.OpQuit, protocol.OpMove, protocol.OpInfo, protocol.OpList:
		return true
	}
	return false
}

func failure(id, code, detail string) protocol.ResultMsg {
	return protocol.ResultMsg{Type: protocol.TypeResult, ID: id, OK: false, Code: code, Detail: detail}
}

func success(id string, data any) protocol.ResultMsg {
	return protocol.ResultMsg{Type: protocol.TypeResult, ID: id, OK: true, Data: data}
}

func fromResult(id string, r lifecycle.Result) protocol.ResultMsg {
	out := protocol.ResultMsg{Type: protocol.TypeResult, ID: id, OK: r.OK, Code: r.Code, Detail: r.Detail}
	if r.Territory != nil {
		out.Data = ViewOf(r.Territory)
	}
	return out
}

func fromDecision(id string, d lifecycle.Decision) protocol.ResultMsg {
	v := decisionView{Allowed: d.Allowed, Code: d.Code}
	if d.Territory != nil {
		tv := ViewOf(d.Territory)
		v.Territory = &tv
	}
	return success(id, v)
}

func (s *Server) execute(ctx context.Context, cmd protocol.CmdMsg) protocol.ResultMsg {
	a := cmd.Args
	need := func(ok bool, what string) *protocol.ResultMsg {
		if ok {
			return nil
		}
		f := failure(cmd.ID, protocol.ErrBadRequest, "missing="+what)
		return &f
	}

	switch cmd.Op {
	case protocol.OpPlaceBeacon, protocol.OpCreate:
		if f := need(a.At != nil, "at"); f != nil {
			return *f
		}
		req := lifecycle.CreateRequest{Owner: a.Player, OwnerName: a.PlayerName, Center: *a.At}
		if cmd.Op == protocol.OpPlaceBeacon {
			return fromResult(cmd.ID, s.eng.CheckPlacement(req))
		}
		return fromResult(cmd.ID, s.eng.Create(ctx, req))

	case protocol.OpUpgrade:
		center, f := s.ownCenter(cmd)
		if f != nil {
			return *f
		}
		tier := a.Tier
		if tier == 0 {
			t, ok := s.eng.Registry().Get(center)
			if !ok {
				return failure(cmd.ID, protocol.ErrNotFound, "center="+center.String())
			}
			tier = t.Tier() + 1
		}
		return fromResult(cmd.ID, s.eng.Upgrade(ctx, lifecycle.UpgradeRequest{Actor: a.Player, Admin: a.Admin, Center: center, Tier: tier}))

	case protocol.OpDelete:
		center, f := s.ownCenter(cmd)
		if f != nil {
			return *f
		}
		return fromResult(cmd.ID, s.eng.Delete(ctx, lifecycle.DeleteRequest{Actor: a.Player, Admin: a.Admin, Center: center}))

	case protocol.OpBreakBeacon:
		if f := need(a.At != nil, "at"); f != nil {
			return *f
		}
		return fromResult(cmd.ID, s.eng.BreakBeacon(ctx, lifecycle.DeleteRequest{Actor: a.Player, Admin: a.Admin, Center: *a.At}))

	case protocol.OpBuild, protocol.OpBreak, protocol.OpInteract:
		if f := need(a.At != nil, "at"); f != nil {
			return *f
		}
		switch cmd.Op {
		case protocol.OpBuild:
			return fromDecision(cmd.ID, s.eng.CanBuildAt(a.Player, a.Admin, *a.At))
		case protocol.OpBreak:
			return fromDecision(cmd.ID, s.eng.CanBreakAt(a.Player, a.Admin, *a.At))
		default:
			return fromDecision(cmd.ID, s.eng.CanInteractAt(a.Player, a.Admin, *a.At, a.Container))
		}

	case protocol.OpExplode:
		return success(cmd.ID, explosionView{Blocks: s.eng.FilterExplosion(a.Blocks)})

	case protocol.OpPvP, protocol.OpMobSpawn:
		if f := need(a.Pos != nil, "pos"); f != nil {
			return *f
		}
		if cmd.Op == protocol.OpPvP {
			return fromDecision(cmd.ID, s.eng.AllowPvP(*a.Pos))
		}
		return fromDecision(cmd.ID, s.eng.AllowMobSpawn(*a.Pos))

	case protocol.OpTrust, protocol.OpUntrust:
		if f := need(a.Target != nil, "target"); f != nil {
			return *f
		}
		m := manageOf(a)
		if cmd.Op == protocol.OpTrust {
			return fromResult(cmd.ID, s.eng.Trust(ctx, m, *a.Target))
		}
		return fromResult(cmd.ID, s.eng.Untrust(ctx, m, *a.Target))

	case protocol.OpRename:
		return fromResult(cmd.ID, s.eng.Rename(ctx, manageOf(a), a.Name))

	case protocol.OpUnlockFeature, protocol.OpToggleFeature:
		f, err := territory.ParseFeature(a.Feature)
		if err != nil {
			return failure(cmd.ID, protocol.ErrUnknownFeature, err.Error())
		}
		if cmd.Op == protocol.OpUnlockFeature {
			return fromResult(cmd.ID, s.eng.UnlockFeature(ctx, manageOf(a), f))
		}
		return fromResult(cmd.ID, s.eng.ToggleFeature(ctx, manageOf(a), f))

	case protocol.OpSetPvP, protocol.OpSetMobs:
		if f := need(a.Enabled != nil, "enabled"); f != nil {
			return *f
		}
		if cmd.Op == protocol.OpSetPvP {
			return fromResult(cmd.ID, s.eng.SetPvP(ctx, manageOf(a), *a.Enabled))
		}
		return fromResult(cmd.ID, s.eng.SetMobSpawning(ctx, manageOf(a), *a.Enabled))

	case protocol.OpJoin:
		s.eng.PlayerJoin(a.Player, a.PlayerName)
		return success(cmd.ID, nil)

	case protocol.OpQuit:
		s.eng.PlayerQuit(a.Player)
		return success(cmd.ID, nil)

	case protocol.OpMove:
		if f := need(a.Pos != nil, "pos"); f != nil {
			return *f
		}
		if !s.eng.PlayerMove(a.Player, *a.Pos) {
			return failure(cmd.ID, protocol.ErrNotFound, "online=false")
		}
		return success(cmd.ID, nil)

	case protocol.OpInfo:
		t, ok := s.eng.Info(a.At, a.Pos)
		if !ok {
			return failure(cmd.ID, protocol.ErrNotFound, "territory=none")
		}
		return success(cmd.ID, ViewOf(t))

	case protocol.OpList:
		return success(cmd.ID, viewsOf(s.eng.List(a.Player, a.TargetName)))

	case protocol.OpReload:
		if !a.Admin {
			return failure(cmd.ID, protocol.ErrNoPermission, "admin=false")
		}
		if s.opts.Reload == nil {
			return success(cmd.ID, nil)
		}
		if err := s.opts.Reload(ctx); err != nil {
			s.log.Error("reload", zap.Error(err))
			return failure(cmd.ID, protocol.ErrInternal, err.Error())
		}
		return success(cmd.ID, nil)
	}
	return failure(cmd.ID, protocol.ErrProtoBadRequest, "op="+cmd.Op)
}

// ownCenter resolves the explicit center, or the actor's own territory.
func (s *Server) ownCenter(cmd protocol.CmdMsg) (territory.Location, *protocol.ResultMsg) {
	if cmd.Args.At != nil {
		return *cmd.Args.At, nil
	}
	t, ok := s.eng.Registry().FindByOwner(cmd.Args.Player)
	if !ok {
		f := failure(cmd.ID, protocol.ErrNotFound, "territory=none")
		return territory.Location{}, &f
	}
	return t.Center(), nil
}

func manageOf(a protocol.CmdArgs) lifecycle.Manage {
	return lifecycle.Manage{Actor: a.Player, Admin: a.Admin, Center: a.At}
}
