package scan

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pulsecheck/sift/pkg/handlers"
	"github.com/pulsecheck/sift/pkg/middleware"
	"github.com/pulsecheck/sift/pkg/routes"
)

// Handler provides the HTTP endpoint for scan orchestration.
type Handler struct {
	sys    System
	logger *slog.Logger
}

// NewHandler creates a Handler with the given system and logger.
func NewHandler(sys System, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "scan"),
	}
}

// Routes returns the route group definition for scan endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/scan",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "", Handler: h.Scan},
		},
	}
}

// Scan runs one orchestrator invocation. Insufficient credits and
// duplicate submissions are success-shaped responses; only authentication,
// validation, and infrastructure failures produce error statuses.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		handlers.RespondError(w, h.logger, http.StatusUnauthorized, ErrNotAuthenticated)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidRequest)
		return
	}

	res, err := h.sys.Execute(r.Context(), identity, req)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, res)
}
