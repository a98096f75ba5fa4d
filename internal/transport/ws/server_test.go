package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"territorybeacons.dev/internal/persistence/store"
	"territorybeacons.dev/internal/protocol"
	"territorybeacons.dev/internal/sim/effects"
	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/lifecycle"
	"territorybeacons.dev/internal/sim/terrain"
	"territorybeacons.dev/internal/sim/territory"
	"territorybeacons.dev/internal/sim/tuning"
)

type inboundCall struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// fakeHost answers CALL frames from a flat in-memory world and collects
// RESULT and EVENT frames.
type fakeHost struct {
	t     *testing.T
	conn  *websocket.Conn
	world *terrain.Store

	wmu     sync.Mutex
	results chan protocol.ResultMsg
	events  chan events.Event
}

func startServer(t *testing.T, opts Options) (*httptest.Server, *Hub, *lifecycle.Engine) {
	t.Helper()
	hub := NewHub(nil, 2*time.Second)
	anim := effects.NewAnimator(hub, 1, time.Millisecond)
	t.Cleanup(anim.StopAll)
	tu := tuning.Defaults()
	eng := lifecycle.New(lifecycle.Deps{
		World:    hub.Remote(),
		Payments: hub.Remote(),
		Store:    store.NewMemory(),
		Sink:     hub,
		Animator: anim,
	}, tu)
	srv := NewServer(eng, hub, nil, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, hub, eng
}

func dial(t *testing.T, ts *httptest.Server, token string) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, HostName: "test-host", Token: token}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, err
	}
	if welcome.Type != protocol.TypeWelcome || welcome.HostID == "" {
		t.Fatalf("welcome=%+v", welcome)
	}
	return conn, nil
}

func connectHost(t *testing.T, ts *httptest.Server, world *terrain.Store) *fakeHost {
	t.Helper()
	conn, err := dial(t, ts, "")
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	f := &fakeHost{
		t:       t,
		conn:    conn,
		world:   world,
		results: make(chan protocol.ResultMsg, 64),
		events:  make(chan events.Event, 1024),
	}
	t.Cleanup(func() { conn.Close() })
	go f.loop()
	return f
}

func (f *fakeHost) write(v any) {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	_ = f.conn.WriteJSON(v)
}

func (f *fakeHost) loop() {
	for {
		_ = f.conn.SetReadDeadline(time.Time{})
		_, msg, err := f.conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeCall:
			var c inboundCall
			if err := json.Unmarshal(msg, &c); err != nil {
				continue
			}
			f.write(f.serve(c))
		case protocol.TypeResult:
			var r protocol.ResultMsg
			if err := json.Unmarshal(msg, &r); err == nil {
				f.results <- r
			}
		case protocol.TypeEvent:
			var e struct {
				Event events.Event `json:"event"`
			}
			if err := json.Unmarshal(msg, &e); err == nil {
				select {
				case f.events <- e.Event:
				default:
				}
			}
		}
	}
}

func (f *fakeHost) serve(c inboundCall) protocol.ReplyMsg {
	ctx := context.Background()
	var (
		result any
		err    error
	)
	switch c.Method {
	case protocol.MethodTopmostSurface:
		var p protocol.ColumnParams
		_ = json.Unmarshal(c.Params, &p)
		result, err = f.world.TopmostSurface(ctx, p.World, p.X, p.Z)
	case protocol.MethodIsSolidSupport, protocol.MethodIsEmpty, protocol.MethodPlaceMarker,
		protocol.MethodClearMarker, protocol.MethodRemoveBlock:
		var p protocol.BlockParams
		_ = json.Unmarshal(c.Params, &p)
		switch c.Method {
		case protocol.MethodIsSolidSupport:
			result, err = f.world.IsSolidSupport(ctx, p.At)
		case protocol.MethodIsEmpty:
			result, err = f.world.IsEmpty(ctx, p.At)
		case protocol.MethodPlaceMarker:
			err = f.world.PlaceMarker(ctx, p.At)
		case protocol.MethodClearMarker:
			err = f.world.ClearMarker(ctx, p.At)
		default:
			err = f.world.RemoveBlock(ctx, p.At)
		}
	case protocol.MethodDropItem:
		var p protocol.DropParams
		_ = json.Unmarshal(c.Params, &p)
		err = f.world.DropItem(ctx, p.At, p.Item)
	case protocol.MethodHasFunds, protocol.MethodWithdraw:
		result = true
	default:
		err = errors.New("unknown method")
	}
	rep := protocol.ReplyMsg{Type: protocol.TypeReply, ID: c.ID, OK: err == nil}
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	if result != nil {
		rep.Result, _ = json.Marshal(result)
	}
	return rep
}

func (f *fakeHost) cmd(id, op string, args protocol.CmdArgs) protocol.ResultMsg {
	f.t.Helper()
	f.write(protocol.CmdMsg{Type: protocol.TypeCmd, ID: id, Op: op, Args: args})
	return f.await(id)
}

func (f *fakeHost) await(id string) protocol.ResultMsg {
	f.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r := <-f.results:
			if r.ID == id {
				return r
			}
		case <-timeout:
			f.t.Fatalf("no result for %s", id)
		}
	}
}

func (f *fakeHost) waitEvent(kind events.Kind) events.Event {
	f.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-f.events:
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			f.t.Fatalf("no %s event", kind)
		}
	}
}

func decodeData(t *testing.T, r protocol.ResultMsg, v any) {
	t.Helper()
	b, err := json.Marshal(r.Data)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func loc(x, z int) *territory.Location {
	return &territory.Location{World: "world", X: x, Y: 64, Z: z}
}

func TestHostCreatesTerritoryThroughRemoteWorld(t *testing.T) {
	ts, hub, eng := startServer(t, Options{Workers: 2})
	world := terrain.NewFlat(63, "world")
	host := connectHost(t, ts, world)

	owner, stranger := uuid.New(), uuid.New()
	if r := host.cmd("1", protocol.OpJoin, protocol.CmdArgs{Player: owner, PlayerName: "alice"}); !r.OK {
		t.Fatalf("join: %+v", r)
	}
	r := host.cmd("2", protocol.OpCreate, protocol.CmdArgs{Player: owner, PlayerName: "alice", At: loc(0, 0)})
	if !r.OK {
		t.Fatalf("create: %+v", r)
	}
	var view TerritoryView
	decodeData(t, r, &view)
	if view.Tier != 1 || view.Radius != 16 || view.BorderSize == 0 {
		t.Fatalf("view=%+v", view)
	}
	if got := world.Count(terrain.Marker); got != view.BorderSize {
		t.Fatalf("markers=%d border=%d", got, view.BorderSize)
	}
	if ev := host.waitEvent(events.TerritoryCreated); ev.Owner != owner {
		t.Fatalf("event=%+v", ev)
	}
	if hub.HostCount() != 1 || eng.Registry().Len() != 1 {
		t.Fatalf("hosts=%d territories=%d", hub.HostCount(), eng.Registry().Len())
	}

	r = host.cmd("3", protocol.OpBuild, protocol.CmdArgs{Player: stranger, At: loc(3, 3)})
	var d decisionView
	decodeData(t, r, &d)
	if !r.OK || d.Allowed || d.Code != protocol.ErrProtected {
		t.Fatalf("stranger build: %+v %+v", r, d)
	}

	r = host.cmd("4", protocol.OpUpgrade, protocol.CmdArgs{Player: stranger, At: loc(0, 0)})
	if r.OK || r.Code != protocol.ErrNoPermission {
		t.Fatalf("stranger upgrade: %+v", r)
	}

	r = host.cmd("5", protocol.OpToggleFeature, protocol.CmdArgs{Player: owner, Feature: "flight"})
	if r.OK || r.Code != protocol.ErrUnknownFeature {
		t.Fatalf("unknown feature: %+v", r)
	}

	r = host.cmd("6", protocol.OpDelete, protocol.CmdArgs{Player: owner})
	if !r.OK {
		t.Fatalf("delete: %+v", r)
	}
	if world.Count(terrain.Marker) != 0 || eng.Registry().Len() != 0 {
		t.Fatalf("delete left markers=%d territories=%d", world.Count(terrain.Marker), eng.Registry().Len())
	}

	r = host.cmd("7", protocol.OpInfo, protocol.CmdArgs{At: loc(0, 0)})
	if r.OK || r.Code != protocol.ErrNotFound {
		t.Fatalf("info after delete: %+v", r)
	}
}

func TestCommandValidationAndRateLimit(t *testing.T) {
	ts, _, _ := startServer(t, Options{CommandsPerSecond: 0.001, Burst: 1})
	host := connectHost(t, ts, terrain.NewFlat(63, "world"))

	host.write(map[string]any{"type": "CMD", "id": "bad", "op": "NOPE", "args": map[string]any{}})
	if r := host.await("bad"); r.OK || r.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("bad op: %+v", r)
	}

	if r := host.cmd("a", protocol.OpList, protocol.CmdArgs{Player: uuid.New()}); !r.OK {
		t.Fatalf("first command: %+v", r)
	}
	if r := host.cmd("b", protocol.OpList, protocol.CmdArgs{Player: uuid.New()}); r.OK || r.Code != protocol.ErrRateLimit {
		t.Fatalf("second command: %+v", r)
	}
}

func TestHandshakeChecksToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ts, hub, _ := startServer(t, Options{TokenHash: string(hash)})

	if conn, err := dial(t, ts, "wrong"); err == nil {
		conn.Close()
		t.Fatalf("wrong token accepted")
	}
	conn, err := dial(t, ts, "secret")
	if err != nil {
		t.Fatalf("good token: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.HostCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.HostCount() != 1 {
		t.Fatalf("hosts=%d", hub.HostCount())
	}
}

func TestRemoteWithoutHost(t *testing.T) {
	hub := NewHub(nil, time.Second)
	if _, err := hub.Remote().IsEmpty(context.Background(), *loc(0, 0)); !errors.Is(err, ErrNoHost) {
		t.Fatalf("err=%v", err)
	}
}

func TestNotifyDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(nil, time.Second)
	h := newHostConn(context.Background(), "h1", "host", 1, nil)
	if !hub.add(h) {
		t.Fatalf("first host should be primary")
	}
	hub.Notify(events.Event{Kind: events.TerritoryCreated})
	hub.Notify(events.Event{Kind: events.TerritoryDeleted})
	if hub.Dropped() != 1 {
		t.Fatalf("dropped=%d", hub.Dropped())
	}
	hub.remove(h)
	if hub.HostCount() != 0 {
		t.Fatalf("host not removed")
	}
}

func TestCallFailsWhenHostLeaves(t *testing.T) {
	h := newHostConn(context.Background(), "h1", "host", 4, nil)
	errc := make(chan error, 1)
	go func() {
		errc <- h.call(context.Background(), 0, protocol.MethodIsEmpty, protocol.BlockParams{}, nil)
	}()
	<-h.out
	h.failPending()
	if err := <-errc; !errors.Is(err, ErrHostGone) {
		t.Fatalf("err=%v", err)
	}
}

func TestCallDeliversReply(t *testing.T) {
	h := newHostConn(context.Background(), "h1", "host", 4, nil)
	errc := make(chan error, 1)
	var got bool
	go func() {
		errc <- h.call(context.Background(), time.Second, protocol.MethodIsEmpty, protocol.BlockParams{}, &got)
	}()
	var c inboundCall
	if err := json.Unmarshal(<-h.out, &c); err != nil {
		t.Fatal(err)
	}
	if !h.resolve(protocol.ReplyMsg{Type: protocol.TypeReply, ID: c.ID, OK: true, Result: json.RawMessage("true")}) {
		t.Fatalf("reply not matched")
	}
	if err := <-errc; err != nil || !got {
		t.Fatalf("err=%v got=%v", err, got)
	}
	if h.resolve(protocol.ReplyMsg{ID: c.ID, OK: true}) {
		t.Fatalf("late reply matched")
	}
}
