package webapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/norns/internal/capture"
	"github.com/rafaeljc/norns/internal/experiment"
	"github.com/rafaeljc/norns/internal/logger"
	"github.com/rafaeljc/norns/internal/session"
)

// cycleFrom returns the request's cycle. withCycle guarantees it on visitor routes.
func cycleFrom(r *http.Request) *session.Cycle {
	c, ok := session.FromContext(r.Context())
	if !ok {
		panic("webapi: visitor route mounted without the cycle middleware")
	}
	return c
}

// handleDecide processes POST /api/v1/decisions.
//
// Every condition's content is captured, the engine picks one, the cycle is flushed
// so a concurrent winner is honored, and only the chosen content is returned.
func (a *API) handleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req DecideRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		writeInvalid(w, r, errResp)
		return
	}

	regions := capture.New()
	for _, c := range req.Conditions {
		_, _ = io.WriteString(regions.Begin(c.Key), c.Content)
	}
	regions.End()

	cycle := cycleFrom(r)
	d, err := a.engine.Decide(ctx, cycle, experiment.Request{
		Experiment: req.Experiment,
		Goal:       req.Goal,
		Conditions: regions.Keys(),
	})
	if err != nil {
		writeError(w, r, err, "decide experiment")
		return
	}

	res, err := a.commit(ctx, cycle)
	if err != nil {
		// Already counted and logged; keep the header-time flush from retrying.
		cycle.Discard()
		writeError(w, r, err, "persist decision")
		return
	}
	for _, adopted := range res.Adopted {
		if adopted.Experiment == d.Experiment {
			d = adopted
		}
	}

	content, err := regions.Resolve(d.Value)
	if errors.Is(err, capture.ErrUnknownCondition) {
		// A replayed value that is no longer offered renders nothing.
		log.Warn("decided condition has no content",
			slog.String("experiment", d.Experiment),
			slog.String("condition", d.Value),
		)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, DecideResponse{
		Experiment: d.Experiment,
		Condition:  d.Value,
		Content:    content,
		Source:     d.Source,
	})
}

// handleRecordGoal processes POST /api/v1/goals.
func (a *API) handleRecordGoal(w http.ResponseWriter, r *http.Request) {
	var req GoalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		writeInvalid(w, r, errResp)
		return
	}

	g, err := a.engine.RecordGoal(r.Context(), cycleFrom(r), req.Goal, req.Value)
	if err != nil {
		writeError(w, r, err, "record goal")
		return
	}

	logger.FromContext(r.Context()).Info("goal recorded", slog.String("goal", g.Goal), slog.Int64("instance_id", g.InstanceID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapStoreGoal(g))
}

// handleGetSession processes GET /api/v1/session.
func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	cycle := cycleFrom(r)

	events, goals, err := a.engine.History(r.Context(), cycle)
	if err != nil {
		writeError(w, r, err, "load session")
		return
	}

	resp := SessionResponse{
		Token:  cycle.Token(),
		Events: make([]Event, len(events)),
		Goals:  make([]Goal, len(goals)),
	}
	for i, e := range events {
		resp.Events[i] = mapStoreEvent(e)
	}
	for i, g := range goals {
		resp.Goals[i] = mapStoreGoal(g)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// handleResetSession processes POST /api/v1/session/reset.
// Pending decisions are dropped and the response carries a new identity cookie.
func (a *API) handleResetSession(w http.ResponseWriter, r *http.Request) {
	inst, err := a.engine.Reset(r.Context(), cycleFrom(r))
	if err != nil {
		writeError(w, r, err, "reset session")
		return
	}

	logger.FromContext(r.Context()).Info("session reset", slog.Int64("instance_id", inst.ID))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, ResetResponse{Token: inst.Token})
}

// handleSetupSession processes POST /api/v1/session/setup.
func (a *API) handleSetupSession(w http.ResponseWriter, r *http.Request) {
	var req SetupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errResp := req.Validate(); errResp != nil {
		writeInvalid(w, r, errResp)
		return
	}

	seeded, err := a.engine.Setup(r.Context(), cycleFrom(r), req.Values)
	if err != nil {
		writeError(w, r, err, "seed session")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SetupResponse{Decisions: seeded})
}

// handleCounts processes GET /api/v1/experiments/{name}/counts?goal=.
func (a *API) handleCounts(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	goal := r.URL.Query().Get("goal")

	counts, found, err := a.engine.Counts(r.Context(), name, goal)
	if err != nil {
		writeError(w, r, err, "count experiment values")
		return
	}
	if !found {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: "Experiment not found",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, CountsResponse{Experiment: name, Goal: goal, Counts: counts})
}

// handleTag processes POST /api/v1/admin/tags.
func (a *API) handleTag(w http.ResponseWriter, r *http.Request) {
	var req TagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errResp := req.Validate(); errResp != nil {
		writeInvalid(w, r, errResp)
		return
	}

	if err := a.admin.Tag(r.Context(), req.Token, req.Tag); err != nil {
		writeError(w, r, err, "tag identity")
		return
	}

	logger.FromContext(r.Context()).Info("identity tagged", slog.String("tag", req.Tag))
	w.WriteHeader(http.StatusNoContent)
}

// handleUntag processes DELETE /api/v1/admin/tags. Removing an absent tag succeeds.
func (a *API) handleUntag(w http.ResponseWriter, r *http.Request) {
	var req TagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errResp := req.Validate(); errResp != nil {
		writeInvalid(w, r, errResp)
		return
	}

	if err := a.admin.Untag(r.Context(), req.Token, req.Tag); err != nil {
		writeError(w, r, err, "untag identity")
		return
	}

	logger.FromContext(r.Context()).Info("identity untagged", slog.String("tag", req.Tag))
	w.WriteHeader(http.StatusNoContent)
}

// handleBindPrincipal processes PUT /api/v1/admin/principals/{id}.
func (a *API) handleBindPrincipal(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "id")

	var req BindRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errResp := validateToken(req.Token); errResp != nil {
		writeInvalid(w, r, errResp)
		return
	}

	if err := a.admin.Bind(r.Context(), principalID, req.Token); err != nil {
		writeError(w, r, err, "bind principal")
		return
	}

	logger.FromContext(r.Context()).Info("principal bound", slog.String("principal_id", principalID))
	w.WriteHeader(http.StatusNoContent)
}
