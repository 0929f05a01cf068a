package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-stream/internal/bus"
	"github.com/loqalabs/loqa-stream/internal/config"
	"github.com/loqalabs/loqa-stream/internal/eventstore"
	"github.com/loqalabs/loqa-stream/internal/gateway"
	"github.com/loqalabs/loqa-stream/internal/natsserver"
	"github.com/loqalabs/loqa-stream/internal/relay"
	"github.com/loqalabs/loqa-stream/internal/session"
	"github.com/loqalabs/loqa-stream/internal/stt"
	"github.com/loqalabs/loqa-stream/internal/vad"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool

	bus      *bus.Client
	relay    *relay.Relay
	sessions *session.Registry
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves until ctx is cancelled and then shuts down
// in reverse dependency order.
func (r *Runtime) Start(ctx context.Context) error {
	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		embedded, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return err
		}
		defer embedded.Shutdown()
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		r.bus, err = bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger)
		if err != nil {
			return err
		}
		defer r.bus.Close()
	}

	detector, err := vad.New(r.cfg.VAD, r.cfg.Stream)
	if err != nil {
		return fmt.Errorf("create vad detector: %w", err)
	}
	recognizer, err := stt.New(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("create recognizer: %w", err)
	}

	recorder := eventstore.NewRecorder(store, 256)
	defer recorder.Close()
	hub := gateway.NewHub(r.logger)
	sinks := session.Fanout{hub, recorder}
	if r.cfg.Relay.Enabled {
		r.relay = relay.New(ctx, r.cfg.Relay, r.cfg.Stream, r.bus, r.logger)
		sinks = append(sinks, r.relay)
	}

	r.sessions, err = session.NewRegistry(session.Options{
		Stream:     r.cfg.Stream,
		Detector:   detector,
		Recognizer: recognizer,
		Sink:       sinks,
		Logger:     r.logger,
	})
	if err != nil {
		return fmt.Errorf("create session registry: %w", err)
	}
	defer r.sessions.Close()

	if r.relay != nil {
		r.relay.Attach(r.sessions)
		if err := r.relay.Start(); err != nil {
			return err
		}
		defer r.relay.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.cfg.Gateway.Enabled {
		mux.Handle(r.cfg.Gateway.Path, gateway.NewHandler(r.cfg.Gateway, r.sessions, hub, r.logger))
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	servers := []*http.Server{{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if tel.metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", tel.metrics)
		servers = append(servers, &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				r.logger.Error("http shutdown error", slog.String("addr", srv.Addr), slog.String("error", err.Error()))
			}
		}
		return nil
	})

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("policy", r.cfg.Stream.Policy),
		slog.String("vad", r.cfg.VAD.Mode),
		slog.String("stt", r.cfg.STT.Mode),
		slog.Bool("gateway", r.cfg.Gateway.Enabled),
		slog.Bool("relay", r.cfg.Relay.Enabled))

	return g.Wait()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		return false
	}
	if r.relay != nil && !r.relay.Healthy() {
		return false
	}
	return true
}
