package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitrinehq/vitrine/pkg/events"
	"github.com/vitrinehq/vitrine/pkg/log"
	"github.com/vitrinehq/vitrine/pkg/metrics"
	"github.com/vitrinehq/vitrine/pkg/pool"
	"github.com/vitrinehq/vitrine/pkg/storage"
	"github.com/vitrinehq/vitrine/pkg/types"
)

// Pool is the surface of the device pool the API serves
type Pool interface {
	StartCast(ctx context.Context, req pool.CastRequest) (*types.Cast, error)
	ReleaseDevice(ctx context.Context, address string) error
	RecordActivity(address string) bool
	RecordError(address string) (int, bool)
	Cast(address string) (*types.Cast, bool)
	Status() types.PoolStatus
	Devices() []*types.Device
}

// Server exposes the pool over HTTP/JSON
type Server struct {
	pool    Pool
	store   storage.Store
	broker  *events.Broker
	logger  zerolog.Logger
	mux     *http.ServeMux
	httpSrv *http.Server
}

// NewServer creates the API server. store and broker may be nil; the
// history and event-stream endpoints then answer 404 and 501.
func NewServer(p Pool, store storage.Store, broker *events.Broker) *Server {
	s := &Server{
		pool:   p,
		store:  store,
		broker: broker,
		logger: log.WithComponent("api"),
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /v1/pool/status", s.instrument("pool_status", s.handleStatus))
	s.mux.HandleFunc("GET /v1/devices", s.instrument("devices", s.handleDevices))
	s.mux.HandleFunc("POST /v1/casts", s.instrument("cast_start", s.handleStartCast))
	s.mux.HandleFunc("GET /v1/casts/{addr}", s.instrument("cast_get", s.handleGetCast))
	s.mux.HandleFunc("DELETE /v1/casts/{addr}", s.instrument("cast_release", s.handleReleaseCast))
	s.mux.HandleFunc("POST /v1/casts/{addr}/activity", s.instrument("cast_activity", s.handleActivity))
	s.mux.HandleFunc("POST /v1/casts/{addr}/errors", s.instrument("cast_errors", s.handleCastError))
	s.mux.HandleFunc("GET /v1/history/casts", s.instrument("history_casts", s.handleCastHistory))
	s.mux.HandleFunc("GET /v1/history/recoveries", s.instrument("history_recoveries", s.handleRecoveryHistory))

	// The stream is long-lived; it carries no duration metric
	s.mux.HandleFunc("GET /v1/events", s.handleEvents)

	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /healthz", metrics.HealthHandler())
	s.mux.HandleFunc("GET /readyz", metrics.ReadyHandler())
	s.mux.HandleFunc("GET /livez", metrics.LivenessHandler())
}

// Handler returns the routing handler, mainly for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves the API on addr and blocks until Stop is called
func (s *Server) Start(addr string) error {
	// No WriteTimeout: /v1/events streams for the life of the client
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("API listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// StartCastRequest is the body of POST /v1/casts
type StartCastRequest struct {
	Target          string `json:"target"`
	Device          string `json:"device,omitempty"`
	SkipHealthCheck bool   `json:"skip_health_check,omitempty"`
}

// ErrorResponse carries a machine-readable failure
type ErrorResponse struct {
	Error string `json:"error"`
}

// CastErrorResponse reports the cast's error count after an increment
type CastErrorResponse struct {
	ErrorCount int `json:"error_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Status())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]*types.Device{"devices": s.pool.Devices()})
}

func (s *Server) handleStartCast(w http.ResponseWriter, r *http.Request) {
	var req StartCastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	cast, err := s.pool.StartCast(r.Context(), pool.CastRequest{
		Target:          req.Target,
		DeviceAddr:      req.Device,
		SkipHealthCheck: req.SkipHealthCheck,
	})
	if err != nil {
		status := castErrorStatus(err)
		s.logger.Warn().Err(err).Str("target", req.Target).Msg("Cast start rejected")
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, cast)
}

func (s *Server) handleGetCast(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("addr")
	cast, ok := s.pool.Cast(address)
	if !ok {
		writeError(w, http.StatusNotFound, "no active cast on device")
		return
	}
	writeJSON(w, http.StatusOK, cast)
}

func (s *Server) handleReleaseCast(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("addr")

	if err := s.pool.ReleaseDevice(r.Context(), address); err != nil {
		switch {
		case errors.Is(err, pool.ErrUnknownDevice):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, pool.ErrNotActive):
			writeError(w, http.StatusConflict, err.Error())
		default:
			// The cast ended but the device failed to re-pool; the caller's
			// release still succeeded
			s.logger.Warn().Err(err).Str("device", address).Msg("Release completed with degraded device")
			writeJSON(w, http.StatusOK, map[string]string{
				"status":  "released",
				"warning": err.Error(),
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("addr")
	if !s.pool.RecordActivity(address) {
		writeError(w, http.StatusNotFound, "no active cast on device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCastError(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("addr")
	count, ok := s.pool.RecordError(address)
	if !ok {
		writeError(w, http.StatusNotFound, "no active cast on device")
		return
	}
	writeJSON(w, http.StatusOK, CastErrorResponse{ErrorCount: count})
}

func (s *Server) handleCastHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}

	var (
		records []*types.CastRecord
		err     error
	)
	if device := r.URL.Query().Get("device"); device != "" {
		records, err = s.store.ListCastRecordsByDevice(device)
	} else {
		records, err = s.store.ListCastRecords()
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read cast history")
		writeError(w, http.StatusInternalServerError, "failed to read cast history")
		return
	}

	writeJSON(w, http.StatusOK, map[string][]*types.CastRecord{"casts": records})
}

func (s *Server) handleRecoveryHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}

	var (
		records []*types.RecoveryRecord
		err     error
	)
	if device := r.URL.Query().Get("device"); device != "" {
		records, err = s.store.ListRecoveryRecordsByDevice(device)
	} else {
		records, err = s.store.ListRecoveryRecords()
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read recovery history")
		writeError(w, http.StatusInternalServerError, "failed to read recovery history")
		return
	}

	writeJSON(w, http.StatusOK, map[string][]*types.RecoveryRecord{"recoveries": records})
}

// castErrorStatus maps pool admission errors onto HTTP statuses
func castErrorStatus(err error) int {
	switch {
	case errors.Is(err, pool.ErrNoIdleDevice):
		return http.StatusServiceUnavailable
	case errors.Is(err, pool.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrDeviceBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
