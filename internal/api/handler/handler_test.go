package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/vidqueue/internal/jobs"
	"github.com/kiranshivaraju/vidqueue/internal/scheduler"
	"github.com/kiranshivaraju/vidqueue/internal/store"
	"github.com/kiranshivaraju/vidqueue/pkg/models"
)

// --- fakes ---

type stubScheduler struct {
	running map[string]bool
	limit   int
}

func (s *stubScheduler) Cancel(id string) error {
	if !s.running[id] {
		return scheduler.ErrNotRunning
	}
	return nil
}
func (s *stubScheduler) IsRunning(id string) bool { return s.running[id] }
func (s *stubScheduler) SetLimit(n int) int       { s.limit = n; return n }
func (s *stubScheduler) Limit() int               { return s.limit }
func (s *stubScheduler) Active() int              { return len(s.running) }

type stubTarget struct{}

func (stubTarget) SetDownloadTarget(string, string) {}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

// --- helpers ---

type testEnv struct {
	router http.Handler
	jobs   *store.JobStore
	sched  *stubScheduler
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := store.NewMemory()
	projects, err := store.LoadProjects(context.Background(), backend)
	if err != nil {
		t.Fatalf("loading projects: %v", err)
	}
	js := store.NewJobStore()
	sched := &stubScheduler{running: map[string]bool{}, limit: 2}
	svc := jobs.NewService(js, projects, sched, stubTarget{}, backend,
		models.Settings{Concurrency: 2, SavePath: "./downloads", DownloadPrefix: "sora"})

	r := chi.NewRouter()
	r.Post("/api/v1/jobs", NewSubmitJobHandler(svc))
	r.Get("/api/v1/jobs", NewListJobsHandler(svc))
	r.Delete("/api/v1/jobs", NewClearJobsHandler(svc))
	r.Get("/api/v1/jobs/{jobID}", NewGetJobHandler(svc))
	r.Post("/api/v1/jobs/{jobID}/retry", NewRetryJobHandler(svc))
	r.Post("/api/v1/jobs/{jobID}/cancel", NewCancelJobHandler(svc))
	r.Delete("/api/v1/jobs/{jobID}", NewDeleteJobHandler(svc))
	r.Get("/api/v1/projects", NewListProjectsHandler(svc))
	r.Post("/api/v1/projects", NewCreateProjectHandler(svc))
	r.Delete("/api/v1/projects/{projectID}", NewDeleteProjectHandler(svc))
	r.Get("/api/v1/settings", NewGetSettingsHandler(svc))
	r.Put("/api/v1/settings", NewUpdateSettingsHandler(svc))

	return &testEnv{router: r, jobs: js, sched: sched}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return env.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding error %q: %v", rec.Body.String(), err)
	}
	return env.Error.Code
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func (e *testEnv) submit(t *testing.T, prompt string) models.Job {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"prompt": prompt})
	expectStatus(t, rec, http.StatusAccepted)
	return decodeData[models.Job](t, rec)
}

// --- jobs ---

func TestSubmitJob_Accepted(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{
		"prompt":   "a cat surfing",
		"ratio":    "9:16",
		"duration": "15s",
	})
	expectStatus(t, rec, http.StatusAccepted)

	job := decodeData[models.Job](t, rec)
	if job.Status != models.JobStatusPending {
		t.Errorf("expected pending, got %s", job.Status)
	}
	if job.Model != "sora-video-portrait-15s" {
		t.Errorf("unexpected model: %s", job.Model)
	}
	if job.ProjectID != models.DefaultProjectID {
		t.Errorf("unexpected project: %s", job.ProjectID)
	}
}

func TestSubmitJob_InvalidBody(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/jobs", "{not json")
	expectStatus(t, rec, http.StatusBadRequest)
	if code := errorCode(t, rec); code != "INVALID_REQUEST" {
		t.Errorf("unexpected code: %s", code)
	}
}

func TestSubmitJob_Validation(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"prompt": ""})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"prompt": "x", "projectId": "nope"})
	expectStatus(t, rec, http.StatusBadRequest)
	if code := errorCode(t, rec); code != "UNKNOWN_PROJECT" {
		t.Errorf("unexpected code: %s", code)
	}
}

func TestListAndGetJobs(t *testing.T) {
	env := newEnv(t)
	first := env.submit(t, "one")
	second := env.submit(t, "two")

	rec := env.do(t, http.MethodGet, "/api/v1/jobs?projectId=default", nil)
	expectStatus(t, rec, http.StatusOK)
	list := decodeData[[]models.Job](t, rec)
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/jobs/"+first.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeData[models.Job](t, rec); got.Prompt != "one" {
		t.Errorf("unexpected job: %+v", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/jobs/missing", nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestListJobs_EmptyIsArray(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/jobs?projectId=default", nil)
	expectStatus(t, rec, http.StatusOK)
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"data":[]`)) {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestRetryJob(t *testing.T) {
	env := newEnv(t)
	job := env.submit(t, "x")

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/retry", nil)
	expectStatus(t, rec, http.StatusConflict)

	env.jobs.AdmitNext()
	if _, err := env.jobs.Update(job.ID, store.WithStatus(models.JobStatusFailed)); err != nil {
		t.Fatalf("failing job: %v", err)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/retry", nil)
	expectStatus(t, rec, http.StatusAccepted)
	if got := decodeData[models.Job](t, rec); got.Status != models.JobStatusPending || got.RetryCount != 1 {
		t.Errorf("unexpected retried job: %+v", got)
	}
}

func TestCancelJob(t *testing.T) {
	env := newEnv(t)
	job := env.submit(t, "x")

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	expectStatus(t, rec, http.StatusConflict)
	if code := errorCode(t, rec); code != "NOT_RUNNING" {
		t.Errorf("unexpected code: %s", code)
	}

	env.jobs.AdmitNext()
	env.sched.running[job.ID] = true
	rec = env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	expectStatus(t, rec, http.StatusAccepted)
}

func TestDeleteAndClearJobs(t *testing.T) {
	env := newEnv(t)
	a := env.submit(t, "a")
	env.submit(t, "b")
	env.submit(t, "c")

	rec := env.do(t, http.MethodDelete, "/api/v1/jobs/"+a.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	rec = env.do(t, http.MethodDelete, "/api/v1/jobs/"+a.ID, nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = env.do(t, http.MethodDelete, "/api/v1/jobs?projectId=default", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeData[map[string]int](t, rec); got["removed"] != 2 {
		t.Errorf("expected 2 removed, got %v", got)
	}
}

// --- projects ---

func TestProjects(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"name": "Trailers"})
	expectStatus(t, rec, http.StatusCreated)
	p := decodeData[models.Project](t, rec)

	rec = env.do(t, http.MethodGet, "/api/v1/projects", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeData[[]models.Project](t, rec); len(got) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(got))
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/projects/"+models.DefaultProjectID, nil)
	expectStatus(t, rec, http.StatusConflict)

	rec = env.do(t, http.MethodDelete, "/api/v1/projects/"+p.ID, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"name": ""})
	expectStatus(t, rec, http.StatusBadRequest)
}

// --- settings ---

func TestSettings_PartialUpdate(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/settings", map[string]any{"maxConcurrent": 4})
	expectStatus(t, rec, http.StatusOK)
	got := decodeData[models.Settings](t, rec)
	if got.Concurrency != 4 || got.SavePath != "./downloads" || got.DownloadPrefix != "sora" {
		t.Errorf("unexpected settings: %+v", got)
	}
	if env.sched.limit != 4 {
		t.Errorf("limit not applied: %d", env.sched.limit)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/settings", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeData[models.Settings](t, rec); got.Concurrency != 4 {
		t.Errorf("unexpected settings: %+v", got)
	}

	rec = env.do(t, http.MethodPut, "/api/v1/settings", map[string]any{"maxConcurrent": 99})
	expectStatus(t, rec, http.StatusBadRequest)
}

// --- health ---

func TestHealth(t *testing.T) {
	sched := &stubScheduler{limit: 2}

	rec := httptest.NewRecorder()
	NewHealthHandler(pinger{}, nil, sched).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	expectStatus(t, rec, http.StatusOK)

	rec = httptest.NewRecorder()
	NewHealthHandler(pinger{}, pinger{err: errors.New("down")}, sched).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	expectStatus(t, rec, http.StatusServiceUnavailable)
	if code := errorCode(t, rec); code != "DEGRADED" {
		t.Errorf("unexpected code: %s", code)
	}
}
