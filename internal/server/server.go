// Package server orchestrates all components: NATS client, optional DB, schema registry,
// dispatcher, metrics and the HTTP health surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/umicp/internal/config"
	"github.com/morezero/umicp/pkg/commsutil"
	"github.com/morezero/umicp/pkg/db"
	"github.com/morezero/umicp/pkg/dispatcher"
	"github.com/morezero/umicp/pkg/envelope"
	"github.com/morezero/umicp/pkg/kernel"
	"github.com/morezero/umicp/pkg/metrics"
	"github.com/morezero/umicp/pkg/protoerr"
	"github.com/morezero/umicp/pkg/schema"
	"github.com/morezero/umicp/pkg/transport"
	"github.com/morezero/umicp/pkg/types"
)

const logPrefix = "server:server"

// Server is the umicp node orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	repo       *db.Repository
	sub        *comms.Subscription
	httpServer *http.Server
	schemas    *schema.Registry
	disp       *dispatcher.Dispatcher
	publisher  *transport.CommsPublisher
	metrics    *metrics.Prometheus
}

// Run loads configuration, starts the node, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting umicp-node %s", logPrefix, cfg.NodeID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		s.Shutdown(ctx)
		return err
	}

	slog.Info(fmt.Sprintf("%s - umicp-node is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
	defer shutdownCancel()
	s.Shutdown(shutdownCtx)

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// New connects to NATS and, when configured, the database, then builds the schema registry,
// dispatcher and publisher. Nothing is subscribed until Start.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg, metrics: metrics.NewPrometheus()}

	alg, err := cfg.CompressionAlgorithm()
	if err != nil {
		return nil, fmt.Errorf("%s - invalid compression: %w", logPrefix, err)
	}

	// Step 1: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	s.nc = nc

	// Step 2: Connect to database (optional)
	var store schema.Store
	var journal dispatcher.Journal
	if cfg.JournalEnabled() {
		if err := s.openDatabase(ctx); err != nil {
			nc.Close()
			return nil, err
		}
		store = s.repo
		journal = s.repo
	} else {
		slog.Info(fmt.Sprintf("%s - DATABASE_URL not set, journal disabled", logPrefix))
	}

	// Step 3: Schema registry, loaded from the store then seeded from the bootstrap file
	s.schemas = schema.NewRegistry(schema.NewRegistryParams{Store: store})
	if err := s.schemas.Load(ctx); err != nil {
		s.closeResources()
		return nil, fmt.Errorf("%s - failed to load schemas: %w", logPrefix, err)
	}
	bootstrapCfg, err := schema.LoadBootstrap(cfg.SchemaBootstrapFile)
	if err != nil {
		s.closeResources()
		return nil, fmt.Errorf("%s - failed to load schema bootstrap: %w", logPrefix, err)
	}
	if _, err := schema.Seed(ctx, s.schemas, bootstrapCfg); err != nil {
		s.closeResources()
		return nil, fmt.Errorf("%s - failed to seed schemas: %w", logPrefix, err)
	}

	// Step 4: Publisher and dispatcher. Kernel results must fit in one reply message.
	s.publisher = transport.NewCommsPublisher(nc, &transport.CommsPublisherOpts{
		Compression:          alg,
		CompressionThreshold: cfg.CompressionThreshold,
		MaxPayloadSize:       cfg.MaxPayloadSize,
		EventFanout:          cfg.EventFanout,
	})
	s.disp = dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		NodeID:   cfg.NodeID,
		Kernel:   kernel.New(kernel.WithParallelThreshold(cfg.ParallelThreshold)),
		Schemas:  s.schemas,
		Journal:  journal,
		Observer: s.metrics,
		Limits: dispatcher.Limits{
			MaxElements: s.publisher.MaxPayloadSize() / 4,
			MaxWork:     cfg.KernelMaxWork,
		},
	})

	return s, nil
}

func (s *Server) openDatabase(ctx context.Context) error {
	pool, err := db.NewPool(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool

	if s.cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(s.cfg.MigrationPath)
		if err != nil {
			pool.Close()
			return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			pool.Close()
			return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}

	s.repo = db.NewRepository(pool)
	return nil
}

// Dispatcher exposes the dispatcher so callers can register extra handlers before Start.
func (s *Server) Dispatcher() *dispatcher.Dispatcher { return s.disp }

// Publisher returns the publisher used for replies.
func (s *Server) Publisher() *transport.CommsPublisher { return s.publisher }

// Start subscribes to the node inbox and, when HTTPPort is positive, serves HTTP.
func (s *Server) Start(ctx context.Context) error {
	subject := commsutil.NodeSubject(s.cfg.NodeID)

	var err error
	if s.cfg.QueueGroup != "" {
		s.sub, err = s.nc.QueueSubscribe(subject, s.cfg.QueueGroup, s.handleMsg(ctx))
	} else {
		s.sub, err = s.nc.Subscribe(subject, s.handleMsg(ctx))
	}
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
	}
	if err := s.nc.Flush(); err != nil {
		return fmt.Errorf("%s - failed to flush subscription: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, subject))

	if s.cfg.HTTPPort > 0 {
		httpAddr := fmt.Sprintf(":%d", s.cfg.HTTPPort)
		s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Handler()}
		go func() {
			slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
			if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
			}
		}()
	}
	return nil
}

// handleMsg decodes one message, dispatches it with a per-message deadline and sends the reply.
// A panic while handling is logged and answered with an Error envelope when a reply is possible.
func (s *Server) handleMsg(ctx context.Context) comms.MsgHandler {
	return func(msg *comms.Msg) {
		var e *envelope.Envelope
		defer func() {
			if r := recover(); r != nil {
				slog.Error(fmt.Sprintf("%s - panic handling message on %s: %v\n%s", logPrefix, msg.Subject, r, debug.Stack()))
				s.metrics.EnvelopeReceived("unknown", metrics.StatusError)
				s.replyToPanic(msg, e)
			}
		}()

		e, raw, err := s.publisher.Decode(msg)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to decode envelope on %s: %v", logPrefix, msg.Subject, err))
			s.metrics.EnvelopeReceived("unknown", metrics.StatusError)
			if msg.Reply != "" {
				if reply := s.disp.UndecodableReply(err); reply != nil {
					s.send(msg, reply)
				}
			}
			return
		}

		reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()

		if reply := s.disp.Dispatch(reqCtx, e, raw); reply != nil {
			s.send(msg, reply)
		}
	}
}

// replyToPanic sends an internal Error reply for a message whose handling panicked.
func (s *Server) replyToPanic(msg *comms.Msg, e *envelope.Envelope) {
	err := protoerr.Generic("Internal error")
	var reply *envelope.Envelope
	switch {
	case e != nil && e.Operation() != types.OperationAck && e.Operation() != types.OperationError &&
		e.Operation() != types.OperationResponse:
		reply = s.disp.ErrorReply(e, err)
	case e == nil && msg.Reply != "":
		reply = s.disp.UndecodableReply(err)
	}
	if reply != nil {
		s.send(msg, reply)
	}
}

func (s *Server) send(msg *comms.Msg, reply *envelope.Envelope) {
	if err := s.publisher.Reply(msg, reply); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to send %s to %s: %v", logPrefix, reply.Operation(), reply.To(), err))
		return
	}
	s.metrics.EnvelopeSent(reply.Operation().String())
}

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status    string       `json:"status"`
	NodeID    string       `json:"nodeId"`
	Timestamp string       `json:"timestamp"`
	Checks    HealthChecks `json:"checks"`
}

// HealthChecks reports each dependency. Database is nil when the journal is disabled.
type HealthChecks struct {
	Comms    bool  `json:"comms"`
	Database *bool `json:"database,omitempty"`
}

// Health checks NATS and, when configured, the database.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	h := &HealthOutput{
		NodeID:    s.cfg.NodeID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    HealthChecks{Comms: s.nc != nil && s.nc.IsConnected()},
	}
	healthy := h.Checks.Comms
	if s.repo != nil {
		ok := s.repo.Ping(ctx) == nil
		h.Checks.Database = &ok
		healthy = healthy && ok
	}
	h.Status = "healthy"
	if !healthy {
		h.Status = "unhealthy"
	}
	return h
}

// Handler returns the HTTP mux: /health, /ready, /schemas, /schemas/{id}, /stats, /metrics.
func (s *Server) Handler() http.Handler {
	healthTimeout := s.cfg.HealthCheckTimeout
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthCtx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		h := s.Health(healthCtx)
		status := http.StatusOK
		if h.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/schemas", s.handleSchemas)
	mux.HandleFunc("/schemas/", s.handleSchemaDetail)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.schemas.Stats())
	})
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// handleSchemas lists schemas, optionally filtered by ?name= (substring) or ?type=.
func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var defs []schema.Definition
	switch {
	case q.Get("name") != "":
		defs = s.schemas.FindByName(q.Get("name"))
	case q.Get("type") != "":
		t, err := schema.ParseType(q.Get("type"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, schema.NewError(schema.CodeInvalidArgument, "%v", err))
			return
		}
		defs = s.schemas.FindByType(t)
	default:
		defs = s.schemas.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": defs, "total": len(defs)})
}

// handleSchemaDetail serves /schemas/{ref}, where ref is an id or name@range.
func (s *Server) handleSchemaDetail(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimPrefix(r.URL.Path, "/schemas/")
	if ref == "" {
		http.Redirect(w, r, "/schemas", http.StatusFound)
		return
	}
	def, err := s.schemas.Lookup(ref)
	if err != nil {
		var se *schema.Error
		if errors.As(err, &se) && se.Code == schema.CodeInvalidArgument {
			writeJSON(w, http.StatusBadRequest, se)
			return
		}
		writeJSON(w, http.StatusNotFound, schema.NewError(schema.CodeNotFound, "schema not found: %s", ref))
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - response encode: %v", logPrefix, err))
	}
}

// Shutdown stops accepting envelopes, then drains NATS and closes the database.
func (s *Server) Shutdown(ctx context.Context) {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			slog.Warn(fmt.Sprintf("%s - subscription drain: %v", logPrefix, err))
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
		}
	}
	timeout := s.cfg.HealthCheckTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	commsutil.Drain(s.nc, timeout)
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Server) closeResources() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
