package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/execution"
	"github.com/ggonzalez94/crossroute/internal/logging"
	"github.com/ggonzalez94/crossroute/internal/route"
)

const maxBodyBytes = 1 << 20

type createExecutionRequest struct {
	PlanID string `json:"planId"`
}

// statusRequest optionally carries a client report for one step. With a
// txHash and no explicit state the report is SUBMITTED.
type statusRequest struct {
	ExecutionID string `json:"executionId"`
	StepID      string `json:"stepId,omitempty"`
	TxHash      string `json:"txHash,omitempty"`
	State       string `json:"state,omitempty"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{OK: true, Providers: s.providers.List()})
}

func (s *Server) handleRoutePlan(w http.ResponseWriter, r *http.Request) {
	var req route.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	plan, err := s.planner.ComputeRoutePlan(r.Context(), req)
	if err != nil {
		s.requestLog(r).WithError(err).Info("route plan rejected")
		writeError(w, err, nil)
		return
	}
	if err := s.plans.Put(plan, 0); err != nil {
		writeError(w, clierr.Wrap(clierr.CodeInternal, "store plan", err), nil)
		return
	}
	writeJSON(w, http.StatusOK, response{OK: true, Plan: &plan})
}

func (s *Server) handleCreateExecution(w http.ResponseWriter, r *http.Request) {
	var req createExecutionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		writeError(w, clierr.New(clierr.CodeUsage, "planId is required"), nil)
		return
	}
	plan, err := s.plans.Get(planID)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	exec, err := s.orchestrator.CreateExecution(r.Context(), plan)
	if err != nil && exec.ID == "" {
		writeError(w, err, nil)
		return
	}
	s.requestLog(r).WithFields(logrus.Fields{
		logging.FieldExecutionID: exec.ID,
		logging.FieldPlanID:      planID,
	}).Info("execution started")
	writeExecution(w, http.StatusCreated, exec, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req = statusRequest{
			ExecutionID: q.Get("executionId"),
			StepID:      q.Get("stepId"),
			TxHash:      q.Get("txHash"),
			State:       q.Get("state"),
		}
	} else if err := decodeBody(w, r, &req); err != nil && !emptyBody(err) {
		writeError(w, err, nil)
		return
	}

	if strings.TrimSpace(req.ExecutionID) == "" {
		writeError(w, clierr.New(clierr.CodeUsage, "executionId is required").WithReason(execution.ReasonMissingExecutionID), nil)
		return
	}

	reporting := strings.TrimSpace(req.StepID) != "" || strings.TrimSpace(req.TxHash) != "" || strings.TrimSpace(req.State) != ""
	if reporting {
		if strings.TrimSpace(req.StepID) == "" {
			writeError(w, clierr.New(clierr.CodeUsage, "stepId is required when reporting a step"), nil)
			return
		}
		reported := execution.StepSubmitted
		if strings.TrimSpace(req.State) != "" {
			parsed, err := execution.ParseStepState(req.State)
			if err != nil {
				writeError(w, err, nil)
				return
			}
			reported = parsed
		}
		exec, err := s.orchestrator.UpdateStepState(r.Context(), req.ExecutionID, req.StepID, reported, req.TxHash)
		if err != nil {
			writeExecution(w, http.StatusOK, exec, err)
			return
		}
	}

	exec, err := s.orchestrator.PollExecutionStatus(r.Context(), req.ExecutionID)
	writeExecution(w, http.StatusOK, exec, err)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.orchestrator.GetExecution(chi.URLParam(r, "executionID"))
	writeExecution(w, http.StatusOK, exec, err)
}

func (s *Server) requestLog(r *http.Request) logrus.FieldLogger {
	return s.log.WithField(logging.FieldRequestID, middleware.GetReqID(r.Context()))
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return clierr.Wrap(clierr.CodeUsage, "decode request body", err)
	}
	return nil
}

var errEmptyBody = clierr.New(clierr.CodeUsage, "request body is required")

func emptyBody(err error) bool {
	return errors.Is(err, errEmptyBody)
}
