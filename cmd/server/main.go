package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"territorybeacons.dev/internal/config"
	persistlog "territorybeacons.dev/internal/persistence/log"
	"territorybeacons.dev/internal/scripting"
	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/lifecycle"
	"territorybeacons.dev/internal/sim/schedule"
	"territorybeacons.dev/internal/sim/tuning"
	"territorybeacons.dev/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.toml", "server config (toml)")
		envFile    = flag.String("env", ".env", "dotenv file read before the config (optional)")
		pprofHTTP  = flag.Bool("pprof", false, "serve /debug/pprof on the main listener")
	)
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	err = run(cfg, *pprofHTTP, log)
	if err != nil {
		log.Error("server stopped", zap.Error(err))
	}
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, enablePprof bool, log *zap.Logger) error {
	tune, err := tuning.Load(cfg.Game.Tuning)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load tuning: %w", err)
		}
		log.Warn("tuning not found; using defaults", zap.String("path", cfg.Game.Tuning))
		tune = tuning.Defaults()
	}

	pricing, err := scripting.NewPricing(cfg.Game.Scripts, log.Named("scripting"))
	if err != nil {
		return fmt.Errorf("load scripts: %w", err)
	}
	defer pricing.Close()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, cfg.Store, log.Named("store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	hub := ws.NewHub(log.Named("hub"), cfg.Host.CallTimeout)
	world, pay := openWorld(cfg.Server, hub)

	sinks := events.Multi{hub}
	if cfg.Audit.Enabled {
		audit := persistlog.NewAuditLog(cfg.Audit.Dir, log.Named("audit"))
		defer audit.Close()
		sinks = append(sinks, audit)
	}

	eng := lifecycle.New(lifecycle.Deps{
		World:    world,
		Store:    st,
		Payments: pay,
		Pricer:   pricing,
		Sink:     sinks,
		Log:      log.Named("engine"),
	}, tune)
	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("load territories: %w", err)
	}

	reload := func(ctx context.Context) error {
		next, err := tuning.Load(cfg.Game.Tuning)
		if err != nil {
			return fmt.Errorf("reload tuning: %w", err)
		}
		if err := pricing.Reload(); err != nil {
			return fmt.Errorf("reload scripts: %w", err)
		}
		eng.SetTuning(next)
		log.Info("configuration reloaded")
		return nil
	}

	hosts := ws.NewServer(eng, hub, log.Named("ws"), ws.Options{
		TokenHash:         cfg.Auth.TokenHash,
		CommandsPerSecond: cfg.Host.CommandsPerSecond,
		Burst:             cfg.Host.Burst,
		Workers:           cfg.Host.Workers,
		OutQueueSize:      cfg.Host.OutQueueSize,
		OnConnect: func(ctx context.Context) {
			n := eng.RebuildBorders(ctx)
			log.Info("borders rebuilt", zap.Int("territories", n))
		},
		Reload: reload,
	})
	if cfg.Server.World == "memory" {
		n := eng.RebuildBorders(ctx)
		log.Info("borders rebuilt", zap.Int("territories", n))
	}

	sched := schedule.New(log.Named("schedule"), tasks(cfg.Tasks, eng, log)...)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(eng, hub))
	if cfg.Server.AdminHTTP {
		mux.HandleFunc("/admin/v1/territories", territoriesHandler(eng))
	} else {
		log.Info("admin endpoints disabled")
	}
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/host", hosts.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("world", cfg.Server.World), zap.String("store", cfg.Store.Backend))
	serveErr := srv.ListenAndServe()
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	cancel()

	// Host connections outlive srv.Shutdown, so borders can still be cleared
	// through them.
	sched.Stop()
	ctx3, cancel3 := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel3()
	if err := eng.Shutdown(ctx3); err != nil {
		log.Error("final save incomplete", zap.Error(err))
	}
	return serveErr
}

func tasks(cfg config.TasksConfig, eng *lifecycle.Engine, log *zap.Logger) []schedule.Task {
	return []schedule.Task{
		{Name: "decay", Every: cfg.Decay, Run: func(ctx context.Context) {
			st := eng.DecayTick(ctx)
			log.Info("decay tick", zap.Int("restored", st.Restored), zap.Int("decayed", st.Decayed), zap.Int("removed", st.Removed))
		}},
		{Name: "save", Every: cfg.Save, Run: func(ctx context.Context) {
			st := eng.SaveAll(ctx)
			if st.Failed > 0 {
				log.Warn("save incomplete", zap.Int("failed", st.Failed), zap.Int("territories", st.Territories))
				return
			}
			log.Debug("saved", zap.Int("territories", st.Territories), zap.Int("last_seen", st.LastSeen), zap.Int("deletes", st.Deletes))
		}},
		{Name: "presence", Every: cfg.Presence, Run: func(context.Context) { eng.CheckPresence() }},
		{Name: "effects", Every: cfg.Effects, Run: func(context.Context) { eng.ApplyEffects() }},
		{Name: "cleanup", Every: cfg.Cleanup, Delay: time.Minute, Run: func(ctx context.Context) {
			n, err := eng.CleanupLastSeen(ctx)
			if err != nil {
				log.Warn("last-seen cleanup", zap.Error(err))
				return
			}
			log.Info("last-seen cleanup", zap.Int("removed", n))
		}},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
