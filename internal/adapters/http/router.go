package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/docpipe/internal/config"
	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
	"github.com/kirillkom/docpipe/internal/observability/metrics"
)

const (
	serviceName       = "api"
	multipartMemory   = 32 << 20
	multipartOverhead = 1 << 20
	maxQueueLimit     = 500
)

type Router struct {
	cfg         config.Config
	ingest      ports.DocumentIngestor
	reader      ports.DocumentReader
	restarter   ports.PipelineRestarter
	diagnostics ports.DiagnosticsRunner
	models      ports.ModelCatalog
	metrics     *metrics.HTTPServerMetrics
	logger      *slog.Logger
	now         func() time.Time
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

// WithModelCatalog enables GET /v1/models.
func WithModelCatalog(models ports.ModelCatalog) RouterOption {
	return func(rt *Router) {
		rt.models = models
	}
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func NewRouter(
	cfg config.Config,
	ingest ports.DocumentIngestor,
	reader ports.DocumentReader,
	restarter ports.PipelineRestarter,
	diagnostics ports.DiagnosticsRunner,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:         cfg,
		ingest:      ingest,
		reader:      reader,
		restarter:   restarter,
		diagnostics: diagnostics,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("GET /v1/documents/{id}/response", rt.getResponse)
	mux.HandleFunc("POST /v1/documents/{id}/restart", rt.restartDocument)
	mux.HandleFunc("GET /v1/queue", rt.listQueue)
	mux.HandleFunc("GET /v1/diagnostics", rt.runDiagnostics)
	if rt.models != nil {
		mux.HandleFunc("GET /v1/models", rt.listModels)
	}
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = apiKeyMiddleware(rt.cfg.APIKey, handler)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, 100*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if limit := rt.cfg.MaxUploadBytes(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			rt.writeDomainError(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, "multipart form is required")
		return
	}
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	doc, err := rt.ingest.Upload(r.Context(), domain.UploadRequest{
		Filename:       fileHeader.Filename,
		Body:           file,
		Size:           fileHeader.Size,
		Prompt:         r.FormValue("prompt"),
		FormatResponse: r.FormValue("format_response"),
		Example:        r.FormValue("example"),
		Model:          r.FormValue("model"),
		Provider:       r.FormValue("provider"),
		Credential:     r.FormValue("provider_key"),
	})
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName, doc.FileKind, doc.Provider, fileHeader.Size)
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.reader.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) getResponse(w http.ResponseWriter, r *http.Request) {
	view, err := rt.reader.Response(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) restartDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stage, err := rt.restarter.Restart(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"document_id": id, "stage": string(stage)})
}

func (rt *Router) listQueue(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxQueueLimit)
	}
	docs, err := rt.reader.ListQueue(r.Context(), limit)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(docs), "documents": docs})
}

func (rt *Router) runDiagnostics(w http.ResponseWriter, r *http.Request) {
	report, err := rt.diagnostics.Run(r.Context(), rt.now())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": rt.models.ListModels(r.Context())})
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
