// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/boreal/internal/config"
	"github.com/tomtom215/boreal/internal/models"
	"github.com/tomtom215/boreal/internal/queue"
	"github.com/tomtom215/boreal/internal/store"
)

type fakeJobQueue struct {
	submitted []*models.QueryJob
	err       error
}

func (q *fakeJobQueue) Submit(_ context.Context, job *models.QueryJob) error {
	if q.err != nil {
		return q.err
	}
	job.ID = uuid.New()
	job.State = models.JobQueued
	q.submitted = append(q.submitted, job)
	return nil
}

func (q *fakeJobQueue) Depth() int {
	return len(q.submitted)
}

type fakeJobStore struct {
	jobs    map[uuid.UUID]*models.QueryJob
	pingErr error
	getErr  error
}

func (s *fakeJobStore) GetJob(_ context.Context, id uuid.UUID) (*models.QueryJob, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", store.ErrNotFound, id)
	}
	return job, nil
}

func (s *fakeJobStore) Ping(context.Context) error {
	return s.pingErr
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:        "127.0.0.1",
		Port:        4000,
		Timeout:     30 * time.Second,
		CORSOrigins: []string{"*"},
	}
}

func newTestServer(t *testing.T, q JobQueue, st JobStore) *httptest.Server {
	t.Helper()
	s, err := NewServer(q, st, serverConfig())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func decodeResponse(t *testing.T, resp *http.Response) apiResponse {
	t.Helper()
	defer resp.Body.Close()
	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestSubmitQuery(t *testing.T) {
	t.Parallel()

	q := &fakeJobQueue{}
	srv := newTestServer(t, q, &fakeJobStore{})

	payload := `{"submitter":"alice","operation":"count","params":{"catalog":"alerts"}}`
	resp, err := http.Post(srv.URL+"/api/v1/queries", "application/json",
		bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	body := decodeResponse(t, resp)
	if !body.Success {
		t.Fatalf("response = %+v", body)
	}
	data := body.Data.(map[string]any)
	if data["state"] != string(models.JobQueued) {
		t.Errorf("state = %v, want queued", data["state"])
	}
	if _, err := uuid.Parse(data["id"].(string)); err != nil {
		t.Errorf("id = %v: %v", data["id"], err)
	}

	if len(q.submitted) != 1 || q.submitted[0].Submitter != "alice" {
		t.Fatalf("submitted = %+v", q.submitted)
	}
}

func TestSubmitQueryRejectsInvalid(t *testing.T) {
	t.Parallel()

	q := &fakeJobQueue{err: fmt.Errorf("%w: missing catalog", queue.ErrInvalidJob)}
	srv := newTestServer(t, q, &fakeJobStore{})

	resp, err := http.Post(srv.URL+"/api/v1/queries", "application/json",
		bytes.NewBufferString(`{"submitter":"alice","operation":"count"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeResponse(t, resp)
	if body.Success || body.Error == nil || body.Error.Code != errCodeBadRequest {
		t.Fatalf("response = %+v", body)
	}
}

func TestSubmitQueryMalformedBody(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeJobQueue{}, &fakeJobStore{})

	resp, err := http.Post(srv.URL+"/api/v1/queries", "application/json",
		bytes.NewBufferString(`{"submitter":`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitQueryQueueFailure(t *testing.T) {
	t.Parallel()

	q := &fakeJobQueue{err: errors.New("store down")}
	srv := newTestServer(t, q, &fakeJobStore{})

	resp, err := http.Post(srv.URL+"/api/v1/queries", "application/json",
		bytes.NewBufferString(`{"submitter":"alice","operation":"count","params":{"catalog":"alerts"}}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestGetQuery(t *testing.T) {
	t.Parallel()

	finished := time.Date(2026, 8, 29, 12, 0, 1, 0, time.UTC)
	job := &models.QueryJob{
		ID:         uuid.New(),
		Submitter:  "alice",
		Operation:  models.OpCount,
		Params:     models.QueryParams{Catalog: "alerts"},
		State:      models.JobSucceeded,
		Attempts:   1,
		Result:     []map[string]any{{"count": 42}},
		FinishedAt: &finished,
	}
	st := &fakeJobStore{jobs: map[uuid.UUID]*models.QueryJob{job.ID: job}}
	srv := newTestServer(t, &fakeJobQueue{}, st)

	resp, err := http.Get(srv.URL + "/api/v1/queries/" + job.ID.String())
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body := decodeResponse(t, resp)
	data := body.Data.(map[string]any)
	if data["state"] != string(models.JobSucceeded) {
		t.Errorf("state = %v, want succeeded", data["state"])
	}
	result := data["result"].([]any)
	if len(result) != 1 {
		t.Errorf("result = %v", result)
	}
}

func TestGetQueryNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeJobQueue{}, &fakeJobStore{jobs: map[uuid.UUID]*models.QueryJob{}})

	resp, err := http.Get(srv.URL + "/api/v1/queries/" + uuid.NewString())
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeResponse(t, resp)
	if body.Error == nil || body.Error.Code != errCodeNotFound {
		t.Fatalf("response = %+v", body)
	}
}

func TestGetQueryInvalidID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeJobQueue{}, &fakeJobStore{})

	resp, err := http.Get(srv.URL + "/api/v1/queries/not-a-uuid")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeJobQueue{}, &fakeJobStore{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeResponse(t, resp)
	data := body.Data.(map[string]any)
	if data["status"] != "ok" {
		t.Errorf("status = %v", data["status"])
	}
}

func TestHealthStoreDown(t *testing.T) {
	t.Parallel()

	st := &fakeJobStore{pingErr: errors.New("connection refused")}
	srv := newTestServer(t, &fakeJobQueue{}, st)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeJobQueue{}, &fakeJobStore{})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(nil, &fakeJobStore{}, serverConfig()); err == nil {
		t.Error("NewServer(nil queue) = nil error")
	}
	if _, err := NewServer(&fakeJobQueue{}, nil, serverConfig()); err == nil {
		t.Error("NewServer(nil store) = nil error")
	}
	cfg := serverConfig()
	cfg.Port = 0
	if _, err := NewServer(&fakeJobQueue{}, &fakeJobStore{}, cfg); err == nil {
		t.Error("NewServer(port 0) = nil error")
	}
}
