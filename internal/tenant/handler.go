package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tradecall/platform/pkg/logging"
)

// ConversationStats reports per-tenant conversation counters for the
// dashboard. Implemented by the conversation store.
type ConversationStats interface {
	ActiveConversations(ctx context.Context, tenantID string) (int64, error)
	ConversationsStarted(ctx context.Context, tenantID string) (int64, error)
}

// CallStarter places an outbound call, used by the test-call endpoint to
// verify a tenant's routing without waiting for a real customer.
type CallStarter interface {
	StartCall(ctx context.Context, from, to, twiml string) (string, error)
}

// Handler serves the admin tenant API.
type Handler struct {
	registry *Registry
	stats    ConversationStats
	caller   CallStarter
	logger   *logging.Logger
}

// NewHandler creates an admin tenant handler. stats and caller may be nil;
// the corresponding fields and endpoints degrade gracefully.
func NewHandler(registry *Registry, stats ConversationStats, caller CallStarter, logger *logging.Logger) *Handler {
	if registry == nil {
		panic("tenant: registry cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		registry: registry,
		stats:    stats,
		caller:   caller,
		logger:   logger,
	}
}

// Routes mounts the handler under the admin subtree.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/tenants", h.ListTenants)
	r.Post("/tenants", h.CreateTenant)
	r.Get("/tenants/{tenantID}", h.GetTenant)
	r.Post("/tenants/{tenantID}/test-call", h.TestCall)
}

type tenantResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	RoutingNumber string `json:"routing_number"`
	ForwardNumber string `json:"forward_number"`
	OperatorEmail string `json:"operator_email,omitempty"`

	ActiveConversations  int64 `json:"active_conversations"`
	ConversationsStarted int64 `json:"conversations_started"`
}

// ListTenants handles GET /admin/tenants.
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants := h.registry.List()
	out := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, h.describe(r.Context(), t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": out})
}

// GetTenant handles GET /admin/tenants/{tenantID}.
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, ok := h.findByID(chi.URLParam(r, "tenantID"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, h.describe(r.Context(), t))
}

type createTenantRequest struct {
	Name          string `json:"name"`
	Category      string `json:"category"`
	RoutingNumber string `json:"routing_number"`
	ForwardNumber string `json:"forward_number"`
	OperatorEmail string `json:"operator_email"`
}

// CreateTenant handles POST /admin/tenants.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t := &Tenant{
		Name:          strings.TrimSpace(req.Name),
		Category:      strings.ToLower(strings.TrimSpace(req.Category)),
		RoutingNumber: req.RoutingNumber,
		ForwardNumber: req.ForwardNumber,
		OperatorEmail: strings.TrimSpace(req.OperatorEmail),
	}
	if err := h.registry.Add(t); err != nil {
		switch {
		case errors.Is(err, ErrDuplicate):
			writeJSONError(w, http.StatusConflict, "routing number already registered")
		default:
			writeJSONError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	h.logger.Info("tenant registered", "tenant_id", t.ID, "routing_number", t.RoutingNumber)
	writeJSON(w, http.StatusCreated, h.describe(r.Context(), t))
}

type testCallRequest struct {
	To string `json:"to"`
}

// TestCall handles POST /admin/tenants/{tenantID}/test-call: places a short
// announcement call from the tenant's routing number to verify carrier
// configuration end to end.
func (h *Handler) TestCall(w http.ResponseWriter, r *http.Request) {
	if h.caller == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "outbound calling not configured")
		return
	}
	t, ok := h.findByID(chi.URLParam(r, "tenantID"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "tenant not found")
		return
	}

	var req testCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	to := NormalizeE164(req.To)
	if to == "" {
		writeJSONError(w, http.StatusBadRequest, "valid 'to' number required")
		return
	}

	sid, err := h.caller.StartCall(r.Context(), t.RoutingNumber, to, "")
	if err != nil {
		h.logger.Error("test call failed", "error", err, "tenant_id", t.ID, "to", to)
		writeJSONError(w, http.StatusBadGateway, "call could not be placed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"call_sid": sid})
}

func (h *Handler) describe(ctx context.Context, t *Tenant) tenantResponse {
	resp := tenantResponse{
		ID:            t.ID,
		Name:          t.Name,
		Category:      t.Category,
		RoutingNumber: t.RoutingNumber,
		ForwardNumber: t.ForwardNumber,
		OperatorEmail: t.OperatorEmail,
	}
	if h.stats == nil {
		return resp
	}
	if active, err := h.stats.ActiveConversations(ctx, t.ID); err == nil {
		resp.ActiveConversations = active
	} else {
		h.logger.Warn("active conversation count unavailable", "error", err, "tenant_id", t.ID)
	}
	if started, err := h.stats.ConversationsStarted(ctx, t.ID); err == nil {
		resp.ConversationsStarted = started
	}
	return resp
}

func (h *Handler) findByID(id string) (*Tenant, bool) {
	for _, t := range h.registry.List() {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
