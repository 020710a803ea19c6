// Package authzhttp exposes the permission resolver over JSON endpoints for
// request-handling middleware and UI permission gates.
package authzhttp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/praetor-io/praetor/internal/authz"
	"github.com/praetor-io/praetor/internal/platform/httpx"
)

const maxBatchSize = 256

// Handler serves the check, batch and invalidation endpoints.
type Handler struct {
	logger   *slog.Logger
	resolver *authz.Resolver
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, resolver *authz.Resolver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		resolver: resolver,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers the authz routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
	r.Post("/check-batch", h.checkBatch)
	r.Post("/invalidate", h.invalidate)
}

type checkPayload struct {
	PrincipalID string `json:"principal_id" validate:"required"`
	TenantID    string `json:"tenant_id" validate:"required"`
	Action      string `json:"action" validate:"required"`
	Resource    string `json:"resource" validate:"required"`
	ResourceID  string `json:"resource_id"`
}

func (p checkPayload) request() authz.CheckRequest {
	return authz.CheckRequest{
		PrincipalID: p.PrincipalID,
		TenantID:    p.TenantID,
		Action:      authz.Action(p.Action),
		Resource:    authz.ResourceType(p.Resource),
		ResourceID:  p.ResourceID,
	}
}

type checkResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var payload checkPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	decision, err := h.resolver.Check(r.Context(), payload.request())
	if err != nil {
		h.respondCheckError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: decision.Allowed, Reason: string(decision.Reason)})
}

type batchPayload struct {
	Checks []checkPayload `json:"checks" validate:"required,min=1,dive"`
}

type batchItemResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) checkBatch(w http.ResponseWriter, r *http.Request) {
	var payload batchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if len(payload.Checks) > maxBatchSize {
		httpx.Problem(w, http.StatusBadRequest, "Batch Too Large", "at most 256 checks per batch")
		return
	}
	reqs := make([]authz.CheckRequest, len(payload.Checks))
	for i, item := range payload.Checks {
		reqs[i] = item.request()
	}
	results := h.resolver.CheckBatch(r.Context(), reqs)
	items := make([]batchItemResponse, len(results))
	for i, result := range results {
		items[i] = batchItemResponse{
			Allowed: result.Decision.Allowed,
			Reason:  string(result.Decision.Reason),
		}
		if result.Err != nil {
			items[i].Error = result.Err.Error()
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": items})
}

type invalidatePayload struct {
	PrincipalID string `json:"principal_id" validate:"required"`
	TenantID    string `json:"tenant_id" validate:"required"`
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	var payload invalidatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.resolver.Invalidate(r.Context(), payload.PrincipalID, payload.TenantID); err != nil {
		h.logger.Error("authz invalidate", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Invalidation Incomplete",
			"local cache invalidated; shared layer unreachable")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) respondCheckError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrUnknownPermission):
		httpx.Problem(w, http.StatusBadRequest, "Unknown Permission", err.Error())
	case errors.Is(err, authz.ErrInvalidRequest):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	default:
		h.logger.Error("authz check", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
