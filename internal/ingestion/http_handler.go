package ingestion

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/phenobatch/internal/auth"
	"github.com/rpattn/phenobatch/internal/catalog"
	"github.com/rpattn/phenobatch/internal/domain"
	"github.com/rpattn/phenobatch/internal/repository"
	"github.com/rpattn/phenobatch/internal/uploads"
)

const (
	maxUploadMemory  = 32 << 20
	uploadFormField  = "fileBatch"
	defaultPageLimit = 100
)

// HandlerDependencies wires the batch_upload endpoints. Views and IngestionLog
// may be nil, in which case their endpoints answer 501.
type HandlerDependencies struct {
	Jobs         repository.BatchJobRepository
	Uploads      uploads.Store
	Snapshots    *catalog.Provider
	Scheduler    *Scheduler
	Views        repository.ViewRefresher
	IngestionLog repository.IngestionLogRepository
	Logger       *logrus.Entry
}

// Handler exposes job submission and control over HTTP.
type Handler struct {
	deps HandlerDependencies
	mux  *http.ServeMux
}

// NewHTTPHandler registers the /batch_upload routes.
func NewHTTPHandler(deps HandlerDependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logrusNop()
	}
	h := &Handler{deps: deps, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /batch_upload", h.submit)
	h.mux.HandleFunc("GET /batch_upload", h.list)
	h.mux.HandleFunc("GET /batch_upload/{id}", h.get)
	h.mux.HandleFunc("GET /batch_upload/{id}/errors", h.rowErrors)
	h.mux.HandleFunc("PUT /batch_upload/start", h.start)
	h.mux.HandleFunc("POST /batch_upload/catalog/reload", h.reloadCatalog)
	h.mux.HandleFunc("POST /batch_upload/refresh", h.refreshViews)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if _, err := DetectFormat(header.Filename); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	batchType, err := strconv.Atoi(strings.TrimSpace(r.FormValue("batch_type_id")))
	if err != nil || !domain.BatchType(batchType).Valid() {
		http.Error(w, "batch_type_id must be 1 (upload) or 2 (delete)", http.StatusBadRequest)
		return
	}

	personID, err := submitterID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := auth.EnforcePersonScope(r.Context(), personID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	var parameters json.RawMessage
	if raw := strings.TrimSpace(r.FormValue("parameters")); raw != "" {
		if !json.Valid([]byte(raw)) {
			http.Error(w, "parameters must be valid JSON", http.StatusBadRequest)
			return
		}
		parameters = json.RawMessage(raw)
	}

	store, err := ResolveUploadStore(h.deps.Uploads, h.deps.Snapshots.Current())
	if err != nil {
		h.internalError(w, err)
		return
	}

	storedName := uploadFormField + "-" + uuid.NewString() + filepath.Ext(header.Filename)
	if err := store.Put(r.Context(), storedName, file); err != nil {
		if errors.Is(err, uploads.ErrExists) {
			http.Error(w, "batch file already exists", http.StatusConflict)
			return
		}
		h.internalError(w, err)
		return
	}

	job := domain.NewBatchJob(
		header.Filename,
		storedName,
		domain.BatchType(batchType),
		personID,
		strings.TrimSpace(r.FormValue("batch_name")),
		parameters,
	)
	created, err := h.deps.Jobs.Create(r.Context(), job)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.internalError(w, err)
		return
	}

	h.deps.Logger.WithFields(logrus.Fields{"job_id": created.ID, "file": storedName}).Info("ingestion: batch job submitted")
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	jobs, err := h.deps.Jobs.List(r.Context(), limit, offset)
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.deps.Jobs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) rowErrors(w http.ResponseWriter, r *http.Request) {
	if h.deps.IngestionLog == nil {
		http.Error(w, "row error log is not configured", http.StatusNotImplemented)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.deps.IngestionLog.List(r.Context(), id, limit, offset)
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scheduler == nil {
		http.Error(w, "scheduler is not configured", http.StatusNotImplemented)
		return
	}
	job, err := h.deps.Scheduler.Tick(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processed": job != nil, "job": job})
}

func (h *Handler) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.deps.Snapshots.Reload(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"species":   snapshot.SpeciesCount(),
		"loaded_at": snapshot.LoadedAt(),
	})
}

func (h *Handler) refreshViews(w http.ResponseWriter, r *http.Request) {
	if h.deps.Views == nil {
		http.Error(w, "view refresh is not configured", http.StatusNotImplemented)
		return
	}
	if err := h.deps.Views.RefreshViews(r.Context()); err != nil {
		h.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	h.deps.Logger.WithError(err).Error("ingestion: request failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// submitterID reads person_id from the form, falling back to the
// authenticated person.
func submitterID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.FormValue("person_id"))
	if raw == "" {
		if id, ok := auth.PersonIDFromContext(r.Context()); ok {
			return id, nil
		}
		return 0, errors.New("person_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("person_id must be a positive integer")
	}
	return id, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid batch id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func pagination(r *http.Request) (int, int, error) {
	limit, offset := defaultPageLimit, 0
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, errors.Errorf("invalid limit %q", raw)
		}
		limit = v
	}
	if raw := query.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, errors.Errorf("invalid offset %q", raw)
		}
		offset = v
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
