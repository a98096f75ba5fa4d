package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"territorybeacons.dev/internal/protocol"
	"territorybeacons.dev/internal/sim/lifecycle"
)

type Options struct {
	// TokenHash is a bcrypt hash; empty accepts any token.
	TokenHash         string
	CommandsPerSecond float64
	Burst             int
	Workers           int
	OutQueueSize      int
	// OnConnect runs in its own goroutine when a host becomes primary.
	OnConnect func(ctx context.Context)
	// Reload backs the RELOAD command.
	Reload func(ctx context.Context) error
}

type Server struct {
	eng  *lifecycle.Engine
	hub  *Hub
	log  *zap.Logger
	opts Options

	upgrader websocket.Upgrader
}

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
	pingEvery    = 25 * time.Second
)

func NewServer(eng *lifecycle.Engine, hub *Hub, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.CommandsPerSecond <= 0 {
		opts.CommandsPerSecond = float64(rate.Inf)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Server{
		eng:  eng,
		hub:  hub,
		log:  log,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // hosts are not browsers
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, ok := s.handshake(conn)
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		lim := rate.NewLimiter(rate.Limit(s.opts.CommandsPerSecond), s.opts.Burst)
		h := newHostConn(ctx, uuid.NewString(), hello.HostName, s.opts.OutQueueSize, lim)
		if err := writeJSON(conn, protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			HostID:          h.id,
			ServerTimeMs:    time.Now().UnixMilli(),
		}); err != nil {
			return
		}
		log := s.log.With(zap.String("host_id", h.id), zap.String("host", h.name))
		log.Info("host connected")

		// Writer goroutine.
		go func() {
			ping := time.NewTicker(pingEvery)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
						cancel()
						return
					}
				case b := <-h.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		jobs := make(chan protocol.CmdMsg, s.opts.Workers)
		var wg sync.WaitGroup
		for i := 0; i < s.opts.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for cmd := range jobs {
					h.send(s.execute(ctx, cmd))
				}
			}()
		}

		if s.hub.add(h) && s.opts.OnConnect != nil {
			go s.opts.OnConnect(ctx)
		}

		s.readLoop(ctx, conn, h, jobs, log)

		// Cleanup.
		cancel()
		s.hub.remove(h)
		h.failPending()
		close(jobs)
		wg.Wait()
		log.Info("host disconnected")
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, h *hostConn, jobs chan<- protocol.CmdMsg, log *zap.Logger) {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			log.Debug("undecodable frame", zap.Error(err))
			continue
		}
		switch base.Type {
		case protocol.TypeReply:
			if err := protocol.Validate(protocol.TypeReply, msg); err != nil {
				log.Warn("invalid reply", zap.Error(err))
				continue
			}
			var rep protocol.ReplyMsg
			if err := json.Unmarshal(msg, &rep); err != nil {
				continue
			}
			if !h.resolve(rep) {
				log.Debug("late reply", zap.String("id", rep.ID))
			}

		case protocol.TypeCmd:
			var cmd protocol.CmdMsg
			if err := protocol.Validate(protocol.TypeCmd, msg); err != nil {
				_ = json.Unmarshal(msg, &cmd)
				h.send(failure(cmd.ID, protocol.ErrProtoBadRequest, err.Error()))
				continue
			}
			if err := json.Unmarshal(msg, &cmd); err != nil {
				h.send(failure("", protocol.ErrProtoBadRequest, err.Error()))
				continue
			}
			if !h.lim.Allow() {
				h.send(failure(cmd.ID, protocol.ErrRateLimit, "limit=exceeded"))
				continue
			}
			// Queries and presence never wait on the engine lock, which a
			// worker may hold while its own CALL waits on this reader.
			if inline(cmd.Op) {
				h.send(s.execute(ctx, cmd))
				continue
			}
			select {
			case jobs <- cmd:
			case <-ctx.Done():
				return
			}

		default:
			log.Debug("ignored frame", zap.String("type", base.Type))
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return hello, false
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return hello, false
	}
	if s.opts.TokenHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(s.opts.TokenHash), []byte(hello.Token)); err != nil {
			s.log.Warn("host rejected", zap.String("host", hello.HostName), zap.String("remote", conn.RemoteAddr().String()))
			closeWith(conn, websocket.ClosePolicyViolation, "bad token")
			return hello, false
		}
	}
	return hello, true
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
