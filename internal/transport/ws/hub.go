package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"territorybeacons.dev/internal/protocol"
	"territorybeacons.dev/internal/sim/events"
)

var (
	ErrNoHost   = errors.New("ws: no host connected")
	ErrHostGone = errors.New("ws: host disconnected")
)

// CallError is a CALL the host answered with ok=false.
type CallError struct {
	Method string
	Msg    string
}

func (e *CallError) Error() string { return fmt.Sprintf("ws: %s: %s", e.Method, e.Msg) }

// Hub tracks connected hosts in connection order. The oldest live host
// serves world and payment calls; every host receives events.
type Hub struct {
	log         *zap.Logger
	callTimeout time.Duration

	mu    sync.Mutex
	hosts []*hostConn

	dropped atomic.Uint64
}

func NewHub(log *zap.Logger, callTimeout time.Duration) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, callTimeout: callTimeout}
}

// add registers h and reports whether it became the primary host.
func (hb *Hub) add(h *hostConn) bool {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.hosts = append(hb.hosts, h)
	return len(hb.hosts) == 1
}

func (hb *Hub) remove(h *hostConn) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	for i, c := range hb.hosts {
		if c == h {
			hb.hosts = append(hb.hosts[:i], hb.hosts[i+1:]...)
			return
		}
	}
}

func (hb *Hub) primary() *hostConn {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if len(hb.hosts) == 0 {
		return nil
	}
	return hb.hosts[0]
}

func (hb *Hub) HostCount() int {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return len(hb.hosts)
}

// Dropped counts events not delivered because a host queue was full.
func (hb *Hub) Dropped() uint64 { return hb.dropped.Load() }

// Notify broadcasts ev to every host without blocking. It is called with the
// engine lock held.
func (hb *Hub) Notify(ev events.Event) {
	b, err := json.Marshal(protocol.EventMsg{Type: protocol.TypeEvent, Event: ev})
	if err != nil {
		hb.log.Error("marshal event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}
	hb.mu.Lock()
	hosts := append([]*hostConn(nil), hb.hosts...)
	hb.mu.Unlock()
	for _, h := range hosts {
		if !h.trySend(b) {
			hb.dropped.Add(1)
		}
	}
}

// call runs method on the primary host.
func (hb *Hub) call(ctx context.Context, method string, params, result any) error {
	h := hb.primary()
	if h == nil {
		return ErrNoHost
	}
	return h.call(ctx, hb.callTimeout, method, params, result)
}

type hostConn struct {
	id   string
	name string
	ctx  context.Context
	out  chan []byte
	lim  *rate.Limiter

	nextCall atomic.Uint64

	mu      sync.Mutex
	closed  bool
	pending map[string]chan protocol.ReplyMsg
}

func newHostConn(ctx context.Context, id, name string, queue int, lim *rate.Limiter) *hostConn {
	if queue <= 0 {
		queue = 64
	}
	return &hostConn{
		id:      id,
		name:    name,
		ctx:     ctx,
		out:     make(chan []byte, queue),
		lim:     lim,
		pending: map[string]chan protocol.ReplyMsg{},
	}
}

// send queues v, waiting for room until the connection ends.
func (h *hostConn) send(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case h.out <- b:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *hostConn) trySend(b []byte) bool {
	select {
	case h.out <- b:
		return true
	default:
		return false
	}
}

func (h *hostConn) call(ctx context.Context, timeout time.Duration, method string, params, result any) error {
	id := "c" + strconv.FormatUint(h.nextCall.Add(1), 10)
	ch := make(chan protocol.ReplyMsg, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHostGone
	}
	h.pending[id] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	b, err := json.Marshal(protocol.CallMsg{Type: protocol.TypeCall, ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	select {
	case h.out <- b:
	case <-ctx.Done():
		return fmt.Errorf("ws: %s: %w", method, ctx.Err())
	case <-h.ctx.Done():
		return ErrHostGone
	}

	select {
	case rep, ok := <-ch:
		if !ok {
			return ErrHostGone
		}
		if !rep.OK {
			return &CallError{Method: method, Msg: rep.Error}
		}
		if result != nil && len(rep.Result) > 0 {
			if err := json.Unmarshal(rep.Result, result); err != nil {
				return fmt.Errorf("ws: %s: decode result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ws: %s: %w", method, ctx.Err())
	}
}

// resolve hands a REPLY to the waiting call. Unknown ids are late replies
// to calls that already timed out.
func (h *hostConn) resolve(rep protocol.ReplyMsg) bool {
	h.mu.Lock()
	ch, ok := h.pending[rep.ID]
	if ok {
		delete(h.pending, rep.ID)
	}
	h.mu.Unlock()
	if ok {
		ch <- rep
	}
	return ok
}

func (h *hostConn) failPending() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.pending {
		close(ch)
		delete(h.pending, id)
	}
}
