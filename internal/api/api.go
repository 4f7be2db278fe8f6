package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/db"
	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
	"github.com/thatsimonsguy/sprinkler-controller/internal/router"
	"github.com/thatsimonsguy/sprinkler-controller/internal/sequencer"
	"github.com/thatsimonsguy/sprinkler-controller/internal/supervisor"
)

// Dispatcher runs commands exactly as if they had arrived over MQTT.
type Dispatcher interface {
	Dispatch(cmd router.Command) (supervisor.RunInfo, error)
}

type RunStatus interface {
	Active() (supervisor.RunInfo, bool)
}

type Register interface {
	State() []bool
}

type Server struct {
	db       *sql.DB
	config   config.Config
	commands Dispatcher
	runs     RunStatus
	register Register
	metrics  http.Handler
}

type WaterZoneRequest struct {
	Duration uint16 `json:"duration"`
}

type StopResponse struct {
	Status string              `json:"status"`
	Run    *supervisor.RunInfo `json:"run,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(database *sql.DB, cfg config.Config, commands Dispatcher, runs RunStatus, register Register) *Server {
	return &Server{
		db:       database,
		config:   cfg.Clone(),
		commands: commands,
		runs:     runs,
		register: register,
		metrics:  promhttp.Handler(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/outputs", s.getOutputs)
	mux.HandleFunc("GET /api/run", s.getActiveRun)
	mux.HandleFunc("GET /api/runs", s.getRuns)
	mux.HandleFunc("POST /api/plans/{name}/start", s.startPlan)
	mux.HandleFunc("POST /api/zones/{name}/water", s.waterZone)
	mux.HandleFunc("POST /api/stop", s.stop)
	mux.Handle("GET /metrics", s.metrics)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", srv.Addr).Msg("Starting REST API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) getOutputs(w http.ResponseWriter, r *http.Request) {
	state := s.register.State()
	outputs := make([]model.Output, len(state))
	for pin, on := range state {
		outputs[pin] = model.Output{Pin: pin, On: on}
	}

	if p := s.config.Pump.Pin; p >= 0 && p < len(outputs) {
		outputs[p].Role = "pump"
		outputs[p].Label = "pump"
	}
	for _, z := range s.config.Zones {
		if z.Pin >= 0 && z.Pin < len(outputs) {
			outputs[z.Pin].Role = "zone"
			outputs[z.Pin].Label = z.Name
		}
	}

	s.writeJSON(w, http.StatusOK, outputs)
}

func (s *Server) getActiveRun(w http.ResponseWriter, r *http.Request) {
	info, ok := s.runs.Active()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) getRuns(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Run journal not available")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := db.GetRecentRuns(s.db, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get runs")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) startPlan(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.dispatch(w, router.Command{Kind: router.StartPlan, PlanName: name})
}

func (s *Server) waterZone(w http.ResponseWriter, r *http.Request) {
	var req WaterZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Duration == 0 {
		s.writeError(w, http.StatusBadRequest, "duration must be a positive number of minutes")
		return
	}

	s.dispatch(w, router.Command{Kind: router.WaterZone, ZoneName: r.PathValue("name"), DurationMinutes: req.Duration})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	info, err := s.commands.Dispatch(router.Command{Kind: router.Stop})
	switch {
	case errors.Is(err, supervisor.ErrNoActiveRun):
		s.writeJSON(w, http.StatusOK, StopResponse{Status: "idle"})
	case err != nil:
		log.Error().Err(err).Msg("Stop via API failed")
		s.writeError(w, statusFor(err), err.Error())
	default:
		log.Info().Str("run_id", info.ID).Msg("Run stopped via API")
		s.writeJSON(w, http.StatusOK, StopResponse{Status: "stopped", Run: &info})
	}
}

func (s *Server) dispatch(w http.ResponseWriter, cmd router.Command) {
	info, err := s.commands.Dispatch(cmd)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("command", string(cmd.Kind)).Msg("Command via API failed")
		} else {
			log.Warn().Err(err).Str("command", string(cmd.Kind)).Msg("Rejected command via API")
		}
		s.writeError(w, status, err.Error())
		return
	}

	log.Info().Str("command", string(cmd.Kind)).Str("run_id", info.ID).Msg("Run started via API")
	s.writeJSON(w, http.StatusOK, info)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, router.ErrUnknownPlan), errors.Is(err, router.ErrUnknownZone):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrRunActive):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrFaulted):
		return http.StatusServiceUnavailable
	case errors.Is(err, router.ErrBadPayload),
		errors.Is(err, router.ErrDurationTooShort),
		errors.Is(err, sequencer.ErrDurationTooShort):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
