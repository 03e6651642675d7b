// Package server exposes the webhook receiver and the Control API.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ssd-technologies/gitagent/internal/orchestrator"
	"github.com/ssd-technologies/gitagent/internal/ratelimit"
	"github.com/ssd-technologies/gitagent/internal/storage"
)

const maxBodyBytes = 5 << 20

// Deployer schedules and runs agent pipelines.
type Deployer interface {
	Enqueue(repoURL, branch string) (orchestrator.Job, error)
	Restart(ctx context.Context, branchHash string) (*storage.Agent, error)
}

// SecretWriter encrypts and stores agent secrets.
type SecretWriter interface {
	Save(agentID, key, value string) error
}

// LogSource maps an identity to its process log files.
type LogSource interface {
	LogPaths(branchHash string) (out, errLog string)
}

// Options configures a Server. Zero values disable the matching feature.
type Options struct {
	// WebhookSecret enables X-Hub-Signature-256 verification.
	WebhookSecret string
	// APIToken protects secret writes, restarts and secret listing.
	APIToken string
	// WebhookRate and MetricsRate are per-client-IP requests per minute.
	WebhookRate int
	MetricsRate int
	// FollowInterval is the poll period of the log follow stream.
	FollowInterval time.Duration
	Logger         *slog.Logger
}

// Server is the HTTP surface of the orchestrator.
type Server struct {
	db       *storage.DB
	deployer Deployer
	secrets  SecretWriter
	logs     LogSource
	opts     Options
	logger   *slog.Logger
	mux      *http.ServeMux

	webhookLimiter *ratelimit.Keyed
	metricsLimiter *ratelimit.Keyed
	deliveries     *deliveryCache
}

// New creates a Server with all routes registered.
func New(db *storage.DB, deployer Deployer, secrets SecretWriter, logs LogSource, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FollowInterval <= 0 {
		opts.FollowInterval = 500 * time.Millisecond
	}
	s := &Server{
		db:             db,
		deployer:       deployer,
		secrets:        secrets,
		logs:           logs,
		opts:           opts,
		logger:         opts.Logger,
		mux:            http.NewServeMux(),
		webhookLimiter: ratelimit.NewKeyed(opts.WebhookRate, time.Minute),
		metricsLimiter: ratelimit.NewKeyed(opts.MetricsRate, time.Minute),
		deliveries:     newDeliveryCache(time.Hour),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /webhook/github", s.handleWebhook)

	s.mux.HandleFunc("POST /api/secrets", s.handleSaveSecret)
	s.mux.HandleFunc("GET /api/agents", s.handleListAgents)
	s.mux.HandleFunc("GET /api/agents/{hash}", s.handleGetAgent)
	s.mux.HandleFunc("POST /api/agents/{hash}/restart", s.handleRestartAgent)
	s.mux.HandleFunc("GET /api/agents/{hash}/secrets", s.handleListSecretKeys)

	s.mux.HandleFunc("POST /api/metrics", s.handleSaveMetric)
	s.mux.HandleFunc("GET /api/metrics/{hash}", s.handleListMetrics)
	s.mux.HandleFunc("GET /api/stats/{hash}", s.handleStats)

	s.mux.HandleFunc("GET /api/logs/{hash}", s.handleLogs)
	s.mux.HandleFunc("GET /api/logs/{hash}/follow", s.handleFollowLogs)
}

// StartWorkers launches the housekeeping goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	go s.runHousekeeping(ctx)
}

// runHousekeeping drops expired rate-limit windows and webhook deliveries
// every minute.
func (s *Server) runHousekeeping(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
			n := s.webhookLimiter.Sweep() + s.metricsLimiter.Sweep()
			d := s.deliveries.prune()
			if n+d > 0 {
				s.logger.Debug("housekeeping", "limiters", n, "deliveries", d)
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// authorized checks the bearer token when one is configured. Returns false
// (writing a 401) if the token is missing or incorrect.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.APIToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.APIToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
		return false
	}
	return true
}

// lookupAgent resolves the {hash} path value, writing a 404 or 500 when the
// agent cannot be loaded.
func (s *Server) lookupAgent(w http.ResponseWriter, r *http.Request) (*storage.Agent, bool) {
	return s.agentByHash(w, r.PathValue("hash"))
}

func (s *Server) agentByHash(w http.ResponseWriter, hash string) (*storage.Agent, bool) {
	a, err := s.db.GetAgentByBranchHash(hash)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Agent not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("load agent", "branch_hash", hash, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return a, true
}

// decodeBody reads a bounded JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
