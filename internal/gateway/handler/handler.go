package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"phigate/internal/encounter/models"
	"phigate/internal/gateway"
	"phigate/internal/policy"
	"phigate/pkg/platform/audit"
	"phigate/pkg/platform/httputil"
	"phigate/pkg/requestcontext"
)

// Service is the gateway surface the handler drives; *gateway.Service
// implements it.
type Service interface {
	CreateEncounter(ctx context.Context, p policy.Principal, in models.NewEncounterInput) (*gateway.CreateResult, error)
	ReadEncounter(ctx context.Context, p policy.Principal, id string, filter models.Filter) (*gateway.ReadResult, error)
	ListAudit(ctx context.Context, p policy.Principal, filter audit.Filter) (*gateway.ListAuditResult, error)
}

// Handler adapts HTTP requests to gateway calls.
type Handler struct {
	gateway Service
	logger  *slog.Logger
}

// New creates a Handler. Authentication and client metadata middleware must
// run before the registered routes.
func New(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{gateway: svc, logger: logger}
}

// Register registers the gateway routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/encounters", h.handleCreateEncounter)
		r.Get("/encounters/{id}", h.handleGetEncounter)
		r.Get("/audit/encounters", h.handleListAudit)
	})
}

func (h *Handler) handleCreateEncounter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req CreateEncounterRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid create encounter request",
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.logger.WarnContext(ctx, "create encounter request failed validation",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	res, err := h.gateway.CreateEncounter(ctx, principalFrom(ctx), req.ToInput())
	if res != nil {
		setAuditHeaders(w, res.AuditOutcome)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toEncounterResponse(res.Encounter))
}

func (h *Handler) handleGetEncounter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := ParseEncounterFilter(r.URL.Query())
	if err != nil {
		h.logger.WarnContext(ctx, "invalid encounter filter",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	res, err := h.gateway.ReadEncounter(ctx, principalFrom(ctx), chi.URLParam(r, "id"), filter)
	if res != nil {
		setAuditHeaders(w, res.AuditOutcome)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEncounterResponse(res.Encounter))
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := ParseAuditFilter(r.URL.Query())
	if err != nil {
		h.logger.WarnContext(ctx, "invalid audit filter",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	res, err := h.gateway.ListAudit(ctx, principalFrom(ctx), filter)
	if res != nil {
		setAuditHeaders(w, res.AuditOutcome)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAuditRecords(res.Events))
}

// principalFrom builds the gateway principal from middleware-populated
// context. An unknown role is passed through so the gateway rejects it.
func principalFrom(ctx context.Context) policy.Principal {
	role, _ := policy.ParseRole(requestcontext.PrincipalRole(ctx))
	return policy.Principal{
		ID:        requestcontext.PrincipalID(ctx),
		Role:      role,
		SourceIP:  requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	}
}
