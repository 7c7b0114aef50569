package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/apperr"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/service"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// Handler is a thin adapter over JobService/QueueService: every route
// calls the same methods the worker loop calls, never the repository
// layer directly.
type Handler struct {
	jobs   *service.JobService
	queues *service.QueueService
}

func NewHandler(jobs *service.JobService, queues *service.QueueService) *Handler {
	return &Handler{jobs: jobs, queues: queues}
}

type createJobDTO struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Options entity.JobOptions `json:"options"`
}

type createJobResp struct {
	ID int64 `json:"id"`
}

type jobResp struct {
	ID           int64            `json:"id"`
	CustomID     *string          `json:"custom_id,omitempty"`
	Name         string           `json:"name"`
	Command      string           `json:"command"`
	Args         []string         `json:"args"`
	Status       entity.JobStatus `json:"status"`
	Priority     int              `json:"priority"`
	AttemptsMade int              `json:"attempts_made"`
	MaxAttempts  int              `json:"max_attempts"`
	ExitCode     *int             `json:"exit_code,omitempty"`
	FailedReason *string          `json:"failed_reason,omitempty"`
	CreatedAt    string           `json:"created_at"`
	UpdatedAt    string           `json:"updated_at"`
}

func toJobResp(j *entity.Job) jobResp {
	return jobResp{
		ID:           j.ID,
		CustomID:     j.CustomID,
		Name:         j.Name,
		Command:      j.Command,
		Args:         j.Args,
		Status:       j.Status,
		Priority:     j.Priority,
		AttemptsMade: j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts,
		ExitCode:     j.ExitCode,
		FailedReason: j.FailedReason,
		CreatedAt:    j.CreatedAt.Format(rfc3339),
		UpdatedAt:    j.UpdatedAt.Format(rfc3339),
	}
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// AddJob godoc
// @Summary Add a job to a queue
// @Description Creates the queue on first use, then enqueues the job.
// @Tags jobs
// @Accept json
// @Produce json
// @Param name path string true "queue name"
// @Param request body createJobDTO true "job payload"
// @Success 201 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 409 {object} apiError
// @Router /queues/{name}/jobs [post]
func (h *Handler) AddJob(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "name")

	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if dto.Name == "" || dto.Command == "" {
		writeErr(w, http.StatusBadRequest, "name and command are required")
		return
	}

	if _, err := h.queues.WaitUntilReady(r.Context(), queueName, entity.JobOptions{}); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	job, err := h.queues.Add(r.Context(), queueName, dto.Name, dto.Command, dto.Args, dto.Options)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrQueuePaused), errors.Is(err, apperr.ErrCustomIDConflict):
			writeErr(w, http.StatusConflict, err.Error())
		case errors.Is(err, apperr.ErrInvalidOptions):
			writeErr(w, http.StatusBadRequest, err.Error())
		default:
			writeErr(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, createJobResp{ID: job.ID})
}

// GetJob godoc
// @Summary Get a job by id
// @Tags jobs
// @Produce json
// @Param name path string true "queue name"
// @Param id path int true "job id"
// @Success 200 {object} jobResp
// @Failure 404 {object} apiError
// @Router /queues/{name}/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrJobNotFound) {
			writeErr(w, http.StatusNotFound, "job not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toJobResp(job))
}

type logResp struct {
	Sequence  int    `json:"sequence"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// GetJobLogs godoc
// @Summary Get a job's captured output, in sequence order
// @Tags jobs
// @Produce json
// @Param name path string true "queue name"
// @Param id path int true "job id"
// @Success 200 {array} logResp
// @Failure 404 {object} apiError
// @Router /queues/{name}/jobs/{id}/logs [get]
func (h *Handler) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	if _, err := h.jobs.Get(r.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrJobNotFound) {
			writeErr(w, http.StatusNotFound, "job not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	logs, err := h.jobs.GetLogs(r.Context(), id, 0)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]logResp, len(logs))
	for i, l := range logs {
		resp[i] = logResp{Sequence: l.Sequence, Message: l.Message, CreatedAt: l.CreatedAt.Format(rfc3339)}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetQueueStats godoc
// @Summary Get a queue's job counts by status
// @Tags queues
// @Produce json
// @Param name path string true "queue name"
// @Success 200 {object} entity.QueueStats
// @Failure 404 {object} apiError
// @Router /queues/{name}/stats [get]
func (h *Handler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	stats, err := h.queues.GetStats(r.Context(), name)
	if err != nil {
		if errors.Is(err, apperr.ErrQueueNotFound) {
			writeErr(w, http.StatusNotFound, "queue not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// PauseQueue godoc
// @Summary Pause a queue
// @Tags queues
// @Param name path string true "queue name"
// @Success 204
// @Failure 404 {object} apiError
// @Router /queues/{name}/pause [post]
func (h *Handler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.queues.Pause(r.Context(), name); err != nil {
		if errors.Is(err, apperr.ErrQueueNotFound) {
			writeErr(w, http.StatusNotFound, "queue not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeQueue godoc
// @Summary Resume a queue
// @Tags queues
// @Param name path string true "queue name"
// @Success 204
// @Failure 404 {object} apiError
// @Router /queues/{name}/resume [post]
func (h *Handler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.queues.Resume(r.Context(), name); err != nil {
		if errors.Is(err, apperr.ErrQueueNotFound) {
			writeErr(w, http.StatusNotFound, "queue not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
