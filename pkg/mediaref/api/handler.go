// Package api exposes the reorganize trigger over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/reorganize"
)

// PartialWarning is returned when some media of a reorganized artifact stay
// where they were. The artifact remains usable and a rerun retries them.
const PartialWarning = "some media could not be moved to permanent storage; retry later"

// Reorganizer is the operation behind the reorganize endpoint.
type Reorganizer interface {
	Reorganize(ctx context.Context, artifactID, callerID uuid.UUID) (*reorganize.Result, error)
}

// ReorganizeResponse is the response body of the reorganize endpoint
type ReorganizeResponse struct {
	MovedCount int                 `json:"moved_count"`
	Errors     []mediaref.URLError `json:"errors"`
	Warning    string              `json:"warning,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a machine readable code and a message
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ReorganizeHandler handles reorganize requests
type ReorganizeHandler struct {
	reorganizer Reorganizer
	logger      *slog.Logger
	auth        func(http.Handler) http.Handler
}

// NewReorganizeHandler creates a new reorganize handler
func NewReorganizeHandler(reorganizer Reorganizer, logger *slog.Logger) *ReorganizeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReorganizeHandler{reorganizer: reorganizer, logger: logger, auth: UserMiddleware}
}

// WithAuth replaces the X-User-ID header lookup, e.g. with JWTMiddleware.
func (h *ReorganizeHandler) WithAuth(mw func(http.Handler) http.Handler) *ReorganizeHandler {
	if mw != nil {
		h.auth = mw
	}
	return h
}

// Routes returns the artifact routes. Callers are identified by the
// X-User-ID header unless WithAuth installed another identity source.
func (h *ReorganizeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.auth)
	r.Post("/{id}/reorganize", h.Reorganize)
	return r
}

// Reorganize moves the artifact's temporary media to permanent storage.
func (h *ReorganizeHandler) Reorganize(w http.ResponseWriter, r *http.Request) {
	artifactID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_id", "Invalid artifact ID")
		return
	}
	callerID, ok := r.Context().Value(UserIDKey).(uuid.UUID)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	result, err := h.reorganizer.Reorganize(r.Context(), artifactID, callerID)
	if err != nil {
		status, code := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("reorganize failed", "artifact_id", artifactID, "err", err)
		}
		writeError(w, r, status, code, err.Error())
		return
	}

	resp := ReorganizeResponse{
		MovedCount: result.MovedCount,
		Errors:     result.Errors,
	}
	if resp.Errors == nil {
		resp.Errors = []mediaref.URLError{}
	}
	if len(result.Errors) > 0 {
		resp.Warning = PartialWarning
		h.logger.Warn("reorganize incomplete",
			"artifact_id", artifactID,
			"moved", result.MovedCount,
			"errors", len(result.Errors))
	}
	render.JSON(w, r, resp)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, mediaref.ErrUnauthorized):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, mediaref.ErrArtifactNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, mediaref.ErrLocked):
		return http.StatusConflict, "locked"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: code, Message: message, RequestID: middleware.GetReqID(r.Context())}})
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}
