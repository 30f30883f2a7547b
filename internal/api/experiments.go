package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/epitome-sim/reverie-core/internal/audit"
	"github.com/epitome-sim/reverie-core/internal/experiment"
	"github.com/epitome-sim/reverie-core/internal/storage"
)

// Messages the simulation UI matches on.
const (
	msgSimCodeRequired   = "sim_code is required."
	msgCharactersList    = "characters must be a list."
	msgCreated           = "Experiment created successfully."
	msgIDsRequired       = "sim_code and target are required."
	msgIDsSame           = "sim_code and target are the same."
	msgStepsInteger      = "steps must be an integer."
	msgScriptNotFound    = "Bash script not found."
	msgStarted           = "Experiment started successfully."
	msgShuttingDown      = "Server is shutting down."
	msgListed            = "成功获取实验列表"
	msgStorageMissing    = "实验存储目录不存在"
	msgStorageDenied     = "目录访问权限不足"
	msgStatus            = "成功获取实验状态"
	msgDetail            = "Scratch data retrieved successfully."
	msgNotFound          = "Experiment not found."
	msgNoRunning         = "No running experiment found with the given sim_code."
	msgNotRunning        = "The process is not running."
	msgStopped           = "Experiment stopped successfully."
	msgDeleted           = "Experiment deleted successfully."
	msgIsTemplate        = "该目录是实验模板"
	msgIsHistory         = "该目录不是实验模板，是模拟历史"
	msgReplay            = "成功获取游戏界面"
	msgValidationFailed  = "参数校验失败"
	msgRequestTimedOut   = "Request timed out."
	msgInvalidJSONBody   = "invalid JSON body"
	defaultRunsListLimit = 50
)

// handleListExperiments returns public templates and the caller's private
// experiments.
//
// Query parameters:
//   - username: owner whose private experiments are listed
func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	listing, err := s.store.List(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			s.failure(w, err, msgStorageDenied)
		case errors.Is(err, storage.ErrUnavailable):
			s.failure(w, err, msgStorageMissing)
		default:
			s.logger.Error("failed to list experiments", "error", err)
			s.failure(w, err, err.Error())
		}
		return
	}
	writeSuccess(w, msgListed, listing)
}

// createBody accepts characters as raw JSON so a non-list value can be
// reported instead of failing the whole decode.
type createBody struct {
	storage.CreateRequest
	Characters json.RawMessage `json:"characters"`
}

// handleCreateExperiment assembles a new experiment from the templates.
func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFailure(w, msgInvalidJSONBody)
		return
	}

	req := body.CreateRequest
	if req.SimCode == "" {
		writeFailure(w, msgSimCodeRequired)
		return
	}
	if len(body.Characters) == 0 || body.Characters[0] != '[' {
		writeFailure(w, msgCharactersList)
		return
	}
	if err := json.Unmarshal(body.Characters, &req.Characters); err != nil || len(req.Characters) == 0 {
		writeFailure(w, msgCharactersList)
		return
	}

	if err := s.store.Create(r.Context(), req); err != nil {
		s.logger.Warn("creating experiment failed", "sim_code", req.SimCode, "error", err)
		s.failure(w, err, trimPrefix(err, storage.ErrInvalidRequest))
		return
	}

	s.audit.Experiment(r.Context(), audit.ActionCreate, req.SimCode, userID(r.Context()), map[string]any{
		"characters": len(req.Characters),
		"owner":      req.Owner,
	})
	writeSuccess(w, msgCreated, emptyData)
}

// handleStartExperiment forks sim_code into target and runs the simulation.
//
// Query parameters:
//   - sim_code: origin experiment
//   - target: new experiment id
//   - steps: simulation steps (default 0)
func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin, target := q.Get("sim_code"), q.Get("target")
	if origin == "" || target == "" {
		writeFailure(w, msgIDsRequired)
		return
	}
	if origin == target {
		writeFailure(w, msgIDsSame)
		return
	}

	steps := 0
	if v := q.Get("steps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeFailure(w, msgStepsInteger)
			return
		}
		steps = n
	}

	task, err := s.launcher.Launch(r.Context(), experiment.LaunchRequest{
		Origin: origin,
		Target: target,
		Steps:  steps,
	})
	if err != nil {
		switch {
		case errors.Is(err, experiment.ErrScriptNotFound):
			s.logger.Error("simulation script missing", "error", err)
			writeFailure(w, msgScriptNotFound)
		case errors.Is(err, experiment.ErrShuttingDown):
			writeFailure(w, msgShuttingDown)
		case errors.Is(err, experiment.ErrInvalidRequest):
			writeFailure(w, trimPrefix(err, experiment.ErrInvalidRequest))
		default:
			s.logger.Error("launching experiment failed", "target", target, "error", err)
			s.failure(w, err, err.Error())
		}
		return
	}

	s.audit.Experiment(r.Context(), audit.ActionLaunch, target, userID(r.Context()), map[string]any{
		"origin": origin,
		"steps":  steps,
		"run_id": task.RunID,
	})

	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	writeSuccess(w, msgStarted, map[string]string{
		"webSocket": fmt.Sprintf("%s://%s/%s", scheme, r.Host, task.WebSocketPath),
	})
}

// handleExperimentStatus reports not started, running or finished.
func (s *Server) handleExperimentStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sim_code")
	if id == "" {
		writeFailure(w, msgSimCodeRequired)
		return
	}

	state, err := s.lifecycle.Status(r.Context(), id)
	if err != nil {
		s.logger.Error("querying experiment status failed", "sim_code", id, "error", err)
		s.failure(w, err, err.Error())
		return
	}
	writeSuccess(w, msgStatus, map[string]experiment.State{"status": state})
}

// handleExperimentDetail returns every persona's scratch data and the
// experiment's meta.
func (s *Server) handleExperimentDetail(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sim_code")
	if id == "" {
		writeFailure(w, msgSimCodeRequired)
		return
	}

	detail, err := s.store.Detail(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidRequest) {
			writeFailure(w, msgNotFound)
			return
		}
		s.failure(w, err, err.Error())
		return
	}
	writeSuccess(w, msgDetail, detail)
}

// handleStopExperiment sends SIGTERM to the experiment's process.
func (s *Server) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sim_code")
	if id == "" {
		writeFailure(w, msgSimCodeRequired)
		return
	}

	err := s.lifecycle.Stop(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, experiment.ErrNotFound):
		writeFailure(w, msgNoRunning)
		return
	case errors.Is(err, experiment.ErrNotRunning):
		writeFailure(w, msgNotRunning)
		return
	default:
		s.logger.Error("stopping experiment failed", "sim_code", id, "error", err)
		s.failure(w, err, fmt.Sprintf("Error stopping the process: %v", err))
		return
	}

	s.audit.Experiment(r.Context(), audit.ActionStop, id, userID(r.Context()), nil)
	writeSuccess(w, msgStopped, emptyData)
}

// handleDeleteExperiment removes an experiment directory.
func (s *Server) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sim_code")
	if id == "" {
		writeFailure(w, msgSimCodeRequired)
		return
	}

	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidRequest) {
			writeFailure(w, msgNotFound)
			return
		}
		s.logger.Error("deleting experiment failed", "sim_code", id, "error", err)
		s.failure(w, err, fmt.Sprintf("Error deleting experiment: %v", err))
		return
	}

	s.audit.Experiment(r.Context(), audit.ActionDelete, id, userID(r.Context()), nil)
	writeSuccess(w, msgDeleted, emptyData)
}

// handleParentCheck reports whether an experiment is a template or a
// simulation history forked from one.
func (s *Server) handleParentCheck(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sim_code")
	if id == "" {
		writeFailure(w, msgSimCodeRequired)
		return
	}

	info, err := s.store.ParentCheck(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidRequest) {
			writeFailure(w, msgNotFound)
			return
		}
		s.failure(w, err, err.Error())
		return
	}

	message := msgIsHistory
	if info.IsTemplate {
		message = msgIsTemplate
	}
	writeSuccess(w, message, info)
}

// handleReplay returns what the replay viewer needs to render an experiment.
//
// Query parameters:
//   - sim_code: experiment id
//   - step: first step to render (default 0)
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("sim_code")

	details := make(map[string]string)
	if id == "" {
		details["sim_code"] = "Invalid sim_code value"
	}
	step := 0
	if v := q.Get("step"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			details["step"] = "Invalid step value"
		}
		step = n
	}
	if len(details) > 0 {
		writeEnvelope(w, CodeError, msgValidationFailed, map[string]any{"details": details})
		return
	}

	replay, err := s.store.Replay(r.Context(), id, step)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidRequest) {
			writeFailure(w, msgNotFound)
			return
		}
		s.failure(w, err, err.Error())
		return
	}
	writeSuccess(w, msgReplay, replay)
}

// handleListRunning returns the runs in flight in this instance.
func (s *Server) handleListRunning(w http.ResponseWriter, _ *http.Request) {
	tasks := s.launcher.Running()
	runs := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		runs = append(runs, map[string]any{
			"run_id": t.RunID,
			"origin": t.Request.Origin,
			"target": t.Request.Target,
			"steps":  t.Request.Steps,
			"pid":    t.PID(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleListRuns returns recorded runs of a target, newest first.
//
// Query parameters:
//   - limit: max results (default 50)
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "run history not configured")
		return
	}

	target := chi.URLParam(r, "target")
	if err := experiment.ValidateID(target); err != nil {
		writeBadRequest(w, "invalid target")
		return
	}

	limit := defaultRunsListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.history.ListRuns(r.Context(), target, limit)
	if err != nil {
		s.logger.Error("failed to list runs", "target", target, "error", err)
		writeInternalError(w, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []experiment.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// failure writes a failure envelope, using the timeout code when the
// request deadline was exceeded.
func (s *Server) failure(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeEnvelope(w, CodeTimeout, msgRequestTimedOut, emptyData)
		return
	}
	writeFailure(w, message)
}

// trimPrefix renders err without the sentinel's own text.
func trimPrefix(err, sentinel error) string {
	if msg, ok := strings.CutPrefix(err.Error(), sentinel.Error()+": "); ok {
		return msg
	}
	return err.Error()
}
