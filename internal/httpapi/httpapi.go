package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/repoqa/repoqa/internal/fetcher"
	"github.com/repoqa/repoqa/internal/queue"
	"github.com/repoqa/repoqa/internal/search"
	"github.com/repoqa/repoqa/pkg/models"
)

// JobQueue is the queue surface the API uses.
type JobQueue interface {
	Enqueue(ctx context.Context, data models.IndexJobData) (*models.Job, error)
	Status(ctx context.Context, id string) (*models.Job, error)
	RequestCancel(ctx context.Context, id string) error
}

// Answerer produces grounded answers for repository questions.
type Answerer interface {
	Answer(ctx context.Context, req search.QueryRequest) (*search.QueryResponse, error)
}

// RepoStore is the store surface for repository listing and deletion.
type RepoStore interface {
	ListRepos(ctx context.Context) ([]models.RepoIndex, error)
	DeleteRepo(ctx context.Context, repoID string) (int, error)
}

// Handler serves the public HTTP API.
type Handler struct {
	Queue   JobQueue
	Search  Answerer
	Store   RepoStore
	started time.Time
}

// NewHandler creates a new API handler.
func NewHandler(q JobQueue, svc Answerer, st RepoStore) *Handler {
	return &Handler{
		Queue:   q,
		Search:  svc,
		Store:   st,
		started: time.Now(),
	}
}

// RegisterRoutes registers all API routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.health)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/index", h.enqueueIndex)
	mux.HandleFunc("/api/index/status/", h.jobStatus)
	mux.HandleFunc("/api/index/cancel/", h.cancelJob)
	mux.HandleFunc("/api/rag/query", h.ragQuery)
	mux.HandleFunc("/api/repos", h.listRepos)
	mux.HandleFunc("/api/repos/", h.deleteRepo)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": int64(time.Since(h.started).Seconds()),
	})
}

// enqueueIndex accepts POST /api/index {githubUrl} and queues an index job.
func (h *Handler) enqueueIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		GithubURL string `json:"githubUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, _, err := fetcher.ParseGitHubURL(req.GithubURL); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid GitHub URL")
		return
	}

	job, err := h.Queue.Enqueue(r.Context(), models.IndexJobData{GithubURL: req.GithubURL})
	if err != nil {
		respondServerError(w, "Failed to enqueue job", err)
		return
	}

	hlog.FromRequest(r).Info().Str("jobId", job.ID).Str("githubUrl", req.GithubURL).Msg("index job queued")
	respondJSON(w, http.StatusAccepted, map[string]any{
		"message":   "Repository queued for indexing",
		"jobId":     job.ID,
		"githubUrl": req.GithubURL,
	})
}

// statusResponse is the job snapshot exposed to clients. Job data stays
// internal; it can carry a caller-supplied GitHub token.
type statusResponse struct {
	JobID      string                 `json:"jobId"`
	State      models.JobState        `json:"state"`
	Progress   int                    `json:"progress"`
	Result     *models.IndexJobResult `json:"result,omitempty"`
	FailReason string                 `json:"failReason,omitempty"`
}

func (h *Handler) jobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/index/status/")
	job, err := h.Queue.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "Job not found")
			return
		}
		respondServerError(w, "Failed to load job", err)
		return
	}

	respondJSON(w, http.StatusOK, statusResponse{
		JobID:      job.ID,
		State:      job.State,
		Progress:   job.Progress,
		Result:     job.Result,
		FailReason: job.FailReason,
	})
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/index/cancel/")
	if err := h.Queue.RequestCancel(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "Job not found")
			return
		}
		respondServerError(w, "Failed to cancel job", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"message": "Cancellation requested",
		"jobId":   id,
	})
}

func (h *Handler) ragQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req search.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := h.Search.Answer(ctx, req)
	if err != nil {
		if errors.Is(err, search.ErrMissingRepoID) || errors.Is(err, search.ErrQueryTooShort) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondServerError(w, "Failed to answer query", err)
		return
	}

	hlog.FromRequest(r).Info().
		Str("repoId", req.RepoID).
		Int("retrieved", resp.Meta.Retrieved).
		Dur("dur", time.Since(start)).
		Msg("served query")
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) listRepos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	repos, err := h.Store.ListRepos(ctx)
	if err != nil {
		respondServerError(w, "Failed to list repositories", err)
		return
	}
	if repos == nil {
		repos = []models.RepoIndex{}
	}
	respondJSON(w, http.StatusOK, repos)
}

// deleteRepo handles DELETE /api/repos/{owner}/{repo}. The repo id contains
// a slash, so everything after the prefix is the id; the frontend may also
// send it percent-encoded.
func (h *Handler) deleteRepo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	rel := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/repos/"), "/")
	repoID, err := url.PathUnescape(rel)
	if err != nil || repoID == "" {
		respondError(w, http.StatusBadRequest, "Invalid repository path")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	deleted, err := h.Store.DeleteRepo(ctx, repoID)
	if err != nil {
		respondServerError(w, "Failed to delete repository", err)
		return
	}

	hlog.FromRequest(r).Info().Str("repoId", repoID).Int("chunksDeleted", deleted).Msg("repository deleted")
	respondJSON(w, http.StatusOK, map[string]any{
		"repoId":        repoID,
		"chunksDeleted": deleted,
	})
}

// CORS allows browser calls from the configured origins. An empty list
// disables cross-origin access; "*" allows any origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			allowed[o] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondServerError(w http.ResponseWriter, message string, err error) {
	respondJSON(w, http.StatusInternalServerError, map[string]string{
		"error":  message,
		"detail": err.Error(),
	})
}
