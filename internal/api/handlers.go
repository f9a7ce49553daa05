// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/boreal/internal/logging"
	"github.com/tomtom215/boreal/internal/models"
	"github.com/tomtom215/boreal/internal/queue"
	"github.com/tomtom215/boreal/internal/store"
)

// maxSubmitBody bounds the request body of a query submission.
const maxSubmitBody = 1 << 20

type submitRequest struct {
	Submitter string                `json:"submitter"`
	Operation models.QueryOperation `json:"operation"`
	Params    models.QueryParams    `json:"params"`
}

// submitResponse is the acknowledgment body; the result arrives later via
// the job endpoint.
type submitResponse struct {
	ID    uuid.UUID       `json:"id"`
	State models.JobState `json:"state"`
}

func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	body := http.MaxBytesReader(w, r.Body, maxSubmitBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errCodeBadRequest, "malformed request body")
		return
	}

	job := &models.QueryJob{
		Submitter: req.Submitter,
		Operation: req.Operation,
		Params:    req.Params,
	}
	if err := s.queue.Submit(r.Context(), job); err != nil {
		if errors.Is(err, queue.ErrInvalidJob) {
			writeError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
			return
		}
		logging.Error().Err(err).Str("submitter", req.Submitter).Msg("Query submission failed")
		writeError(w, http.StatusInternalServerError, errCodeInternalError, "failed to enqueue query")
		return
	}

	writeData(w, http.StatusAccepted, submitResponse{ID: job.ID, State: job.State})
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errCodeBadRequest, "invalid job id")
		return
	}

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, errCodeNotFound, "no such job")
			return
		}
		logging.Error().Err(err).Str("job_id", id.String()).Msg("Job lookup failed")
		writeError(w, http.StatusInternalServerError, errCodeInternalError, "failed to load job")
		return
	}

	writeData(w, http.StatusOK, job)
}

type healthResponse struct {
	Status     string `json:"status"`
	QueueDepth int    `json:"queue_depth"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, errCodeServiceUnavailable, "store unreachable")
		return
	}
	writeData(w, http.StatusOK, healthResponse{Status: "ok", QueueDepth: s.queue.Depth()})
}
