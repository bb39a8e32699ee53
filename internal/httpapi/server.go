package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/cors"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/kernel"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/simconfig"
	"github.com/kpernyer/living-twin-simulation-sub000/simerr"
	"github.com/kpernyer/living-twin-simulation-sub000/simlog"
)

// Server is the External Interface Adapter (C11): a net/http translation
// of the §6 control protocol onto Kernel operations, grounded on gomind's
// core/agent.go BaseAgent HTTP server (http.ServeMux plus a middleware
// stack built outside-in) generalized from agent-capability routes to the
// simulation kernel's fixed endpoint set.
type Server struct {
	k      *kernel.Kernel
	cfg    *simconfig.Config
	log    simlog.ComponentLogger
	server *http.Server
}

// New builds a Server around an unstarted or running Kernel. The Kernel's
// own Start/Stop lifecycle is independent of the HTTP server's — a caller
// may serve /status against a stopped Kernel, then POST /simulation/start
// to bring it up.
func New(k *kernel.Kernel, cfg *simconfig.Config, log simlog.ComponentLogger) *Server {
	if log == nil {
		log = simlog.NoOp{}
	}
	return &Server{k: k, cfg: cfg, log: log.WithComponent("httpapi")}
}

// Handler builds the full middleware-wrapped http.Handler: CORS (when
// enabled) around the route mux, matching the teacher's outside-in
// ordering (CORS outermost, so preflight requests never reach a route).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	if s.cfg.HTTP.CORSEnabled {
		handler = cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler(handler)
	}
	return handler
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /organizations", s.handleListOrganizations)
	mux.HandleFunc("GET /organizations/{id}", s.handleGetOrganization)
	mux.HandleFunc("GET /organizations/{id}/employees", s.handleOrgEmployees)
	mux.HandleFunc("POST /simulation/start", s.handleStart)
	mux.HandleFunc("POST /simulation/stop", s.handleStop)
	mux.HandleFunc("POST /simulation/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /communications", s.handleSendCommunication)
	mux.HandleFunc("GET /wisdom", s.handleWisdom)
	mux.HandleFunc("GET /employees", s.handleEmployees)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// within the configured ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         addr(s.cfg),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("httpapi listening", map[string]interface{}{"address": s.server.Addr})
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func addr(cfg *simconfig.Config) string {
	if cfg.HTTP.Address == "" {
		return ":" + strconv.Itoa(cfg.HTTP.Port)
	}
	return cfg.HTTP.Address + ":" + strconv.Itoa(cfg.HTTP.Port)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.k.MetricsHandler().ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.k.GetStatus())
}

func (s *Server) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	status := s.k.GetStatus()
	if !status.Running {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, []string{status.OrganizationID})
}

func (s *Server) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status := s.k.GetStatus()
	if !status.Running || status.OrganizationID != id {
		writeError(w, http.StatusNotFound, "not_found", "organization not found")
		return
	}
	writeJSON(w, http.StatusOK, OrganizationInfo{
		ID:         status.OrganizationID,
		Running:    status.Running,
		StartedAt:  status.StartedAt,
		AgentCount: status.AgentCount,
	})
}

func (s *Server) handleOrgEmployees(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status := s.k.GetStatus()
	if !status.Running || status.OrganizationID != id {
		writeError(w, http.StatusNotFound, "not_found", "organization not found")
		return
	}
	writeJSON(w, http.StatusOK, s.listEmployees())
}

func (s *Server) handleEmployees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.listEmployees())
}

func (s *Server) listEmployees() []AgentView {
	reg := s.k.Registry()
	if reg == nil {
		return []AgentView{}
	}
	ids := reg.All()
	out := make([]AgentView, 0, len(ids))
	for _, id := range ids {
		a, err := reg.Get(id)
		if err != nil {
			continue
		}
		snap := a.Snapshot()
		out = append(out, AgentView{
			ID:              snap.ID,
			Department:      snap.Profile.Department,
			Role:            snap.Profile.Role,
			SeniorityRank:   snap.Profile.SeniorityRank,
			ExpertiseTags:   snap.Profile.ExpertiseTags,
			DirectReportIDs: snap.Profile.DirectReportIDs,
			CurrentWorkload: snap.CurrentWorkload,
			StressLevel:     snap.StressLevel,
			Satisfaction:    snap.Satisfaction,
		})
	}
	return out
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "malformed request body")
		return
	}
	if req.OrgID == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "org_id is required")
		return
	}

	agents := AgentsFromSpecs(req.Agents, s.cfg.Simulation.MemoryWindowSize)

	if req.TimeAccelerationFactor != nil {
		s.cfg.Simulation.TimeAccelerationFactor = *req.TimeAccelerationFactor
	}
	if req.RandomSeed != nil {
		s.cfg.Simulation.RandomSeed = *req.RandomSeed
		s.cfg.Simulation.SeedSet = true
	}

	if err := s.k.Start(r.Context(), req.OrgID, agents); err != nil {
		s.writeKernelError(w, err)
		return
	}
	status := s.k.GetStatus()
	writeJSON(w, http.StatusOK, StartResponse{Organization: status.OrganizationID, StartedAt: status.StartedAt})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.k.GetStatus().Running {
		writeError(w, http.StatusConflict, "conflict", "kernel is not running")
		return
	}
	if err := s.k.Stop(); err != nil {
		s.writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StopResponse{StoppedAt: time.Now().UTC()})
}

// handleSnapshot persists the running organization's Agent Registry state
// via the optional Redis-backed persistence.Store. When persistence was
// not enabled for this run the Kernel returns an invalid_argument error
// (simerr.ErrPersistenceDisabled), which is written as 400.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.k.SaveSnapshot(r.Context()); err != nil {
		s.writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotResponse{SavedAt: time.Now().UTC()})
}

var priorityByWire = map[string]model.Priority{
	"low":      model.PriorityLow,
	"medium":   model.PriorityMedium,
	"high":     model.PriorityHigh,
	"critical": model.PriorityHighest,
}

var kindByWire = map[string]model.CommunicationKind{
	"nudge":          model.KindNudge,
	"recommendation": model.KindRecommendation,
	"direct_order":   model.KindDirectOrder,
	"consultation":   model.KindConsultation,
	"catchball":      model.KindCatchball,
}

func (s *Server) handleSendCommunication(w http.ResponseWriter, r *http.Request) {
	var req CommunicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "malformed request body")
		return
	}

	kind, ok := kindByWire[req.CommunicationType]
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_argument", "unrecognized communication_type")
		return
	}
	priority, ok := priorityByWire[req.Priority]
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_argument", "unrecognized priority")
		return
	}

	comm, err := s.k.SendCommunication(r.Context(), req.SenderID, req.RecipientIDs, kind, "", req.Content, req.StrategicGoal, priority)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CommunicationResponse{
		ID:            comm.ID,
		ThreadID:      comm.ThreadID,
		SenderID:      comm.SenderID,
		RecipientIDs:  comm.RecipientIDs,
		Kind:          string(comm.Kind),
		Priority:      int(comm.Priority),
		StrategicGoal: comm.StrategicGoal,
	})
}

func (s *Server) handleWisdom(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("topic")
	if key == "" {
		key = r.URL.Query().Get("communication_id")
	}
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "topic or communication_id is required")
		return
	}

	wisdom, err := s.k.GetWisdom(key)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}

	hesitation := make(map[string]int, len(wisdom.HesitationCounts))
	for k, v := range wisdom.HesitationCounts {
		hesitation[string(k)] = v
	}
	confidence := make(map[string]int, len(wisdom.ConfidenceDistribution))
	for k, v := range wisdom.ConfidenceDistribution {
		confidence[string(k)] = v
	}
	conflicts := make([]string, len(wisdom.PriorityConflicts))
	for i, c := range wisdom.PriorityConflicts {
		conflicts[i] = string(c)
	}
	actions := make([]string, len(wisdom.RecommendedActions))
	for i, a := range wisdom.RecommendedActions {
		actions[i] = string(a)
	}

	writeJSON(w, http.StatusOK, WisdomResponse{
		Key:                wisdom.Key,
		ConsensusLevel:     wisdom.ConsensusLevel,
		HesitationCounts:   hesitation,
		ConfidenceBuckets:  confidence,
		PriorityConflicts:  conflicts,
		RecommendedActions: actions,
		ResponseCount:      wisdom.ResponseCount,
	})
}

// writeKernelError implements §7's error-kind-to-HTTP-status mapping.
func (s *Server) writeKernelError(w http.ResponseWriter, err error) {
	switch simerr.KindOf(err) {
	case simerr.KindInvalidArgument:
		writeError(w, http.StatusBadRequest, string(simerr.KindInvalidArgument), err.Error())
	case simerr.KindConflict:
		writeError(w, http.StatusConflict, string(simerr.KindConflict), err.Error())
	case simerr.KindOverloaded:
		writeError(w, http.StatusServiceUnavailable, string(simerr.KindOverloaded), err.Error())
	case simerr.KindBackendUnavailable:
		writeError(w, http.StatusServiceUnavailable, string(simerr.KindBackendUnavailable), err.Error())
	default:
		writeError(w, http.StatusInternalServerError, string(simerr.KindInternal), err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
