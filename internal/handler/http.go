package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/domain"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/service"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/websocket"
)

// Handler provides HTTP handlers for the XP ledger API
type Handler struct {
	service *service.RewardService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.RewardService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Reward operations
		r.Route("/rewards", func(r chi.Router) {
			r.Post("/", h.Award)
			r.Post("/purchase", h.AwardPurchase)
			r.Get("/preview", h.PreviewPurchase)
			r.Put("/tiers", h.SaveTiers)
		})

		// Leaderboard
		r.Get("/leaderboard", h.GetLeaderboard)

		// Profile progress
		r.Get("/profiles/{profileID}/progress", h.GetProgress)

		// Referrals
		r.Route("/referrals", func(r chi.Router) {
			r.Post("/code", h.GetOrCreateCode)
			r.Post("/apply", h.ApplyReferral)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps service errors to HTTP statuses. Soft outcomes
// (duplicate, not eligible) never reach here; they are success payloads.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// Award handles a generic reward submission
func (h *Handler) Award(w http.ResponseWriter, r *http.Request) {
	var sub domain.RewardSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.service.Award(r.Context(), sub)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, result)
}

// PurchaseAwardRequest is the order-completion producer's payload.
type PurchaseAwardRequest struct {
	ProfileID   string  `json:"profile_id"`
	OrderID     string  `json:"order_id"`
	Subtotal    float64 `json:"subtotal"`
	DisplayName string  `json:"display_name,omitempty"`
}

// AwardPurchase handles an order-completion award. XP is resolved from
// the subtotal by the same resolver the preview endpoint uses.
func (h *Handler) AwardPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseAwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.ProfileID == "" || req.OrderID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.service.Award(r.Context(), domain.RewardSubmission{
		ProfileID:   req.ProfileID,
		Source:      domain.SourcePurchase,
		SourceRef:   req.OrderID,
		Subtotal:    req.Subtotal,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, result)
}

// PreviewPurchase returns the XP a subtotal would earn, without awarding
func (h *Handler) PreviewPurchase(w http.ResponseWriter, r *http.Request) {
	subtotalStr := r.URL.Query().Get("subtotal")
	subtotal, err := strconv.ParseFloat(subtotalStr, 64)
	if err != nil || subtotal < 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	xp, err := h.service.PreviewPurchase(r.Context(), subtotal)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"subtotal": subtotal,
		"xp":       xp,
	})
}

// SaveTiersRequest carries a new purchase tier schedule version.
type SaveTiersRequest struct {
	Tiers []domain.PurchaseTier `json:"tiers"`
}

// SaveTiers stores a new purchase tier schedule version
func (h *Handler) SaveTiers(w http.ResponseWriter, r *http.Request) {
	var req SaveTiersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	snapshot, err := h.service.SaveTierSchedule(r.Context(), req.Tiers)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    snapshot,
	})
}

// GetLeaderboard returns the ranked top profiles
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.service.TopN(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, entries)
}

// GetProgress returns a profile's XP progress summary
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	if profileID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	view, err := h.service.Progress(r.Context(), profileID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, view)
}

// CodeRequest identifies the profile requesting a referral code.
type CodeRequest struct {
	ProfileID string `json:"profile_id"`
}

// GetOrCreateCode returns the profile's referral code, creating it on
// first request
func (h *Handler) GetOrCreateCode(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	issue, err := h.service.GetOrCreateCode(r.Context(), req.ProfileID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if issue.Created {
		h.writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: issue})
		return
	}
	h.writeSuccess(w, issue)
}

// ApplyReferralRequest is the referral attribution payload.
type ApplyReferralRequest struct {
	Code      string                   `json:"code"`
	RefereeID string                   `json:"referee_id"`
	EventType domain.ReferralEventType `json:"event_type"`
}

// ApplyReferral attributes a referral milestone to a code's owner
func (h *Handler) ApplyReferral(w http.ResponseWriter, r *http.Request) {
	var req ApplyReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.service.ApplyReferral(r.Context(), req.Code, req.RefereeID, req.EventType)
	if err != nil {
		if errors.Is(err, domain.ErrSelfReferral) {
			h.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, result)
}
