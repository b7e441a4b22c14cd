// Package handlers contains the HTTP handlers of the boost API.
//
// This file covers the listing-owner endpoints:
//   - POST /v1/boosts/activate starts a boost period
//   - POST /v1/boosts/bump refreshes a listing's rank outside the schedule
//   - GET /v1/boosts/{itemId} returns the stored boost record
//   - GET /v1/boosts/plans lists the plan catalog (public)
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"classifieds/internal/boost"
	"classifieds/internal/core"
	"classifieds/internal/types"
)

// BoostService is the subset of boost.Service used by BoostHandler.
type BoostService interface {
	Activate(ctx context.Context, actor types.Actor, listingID, planCode string) (*boost.ActivateResult, error)
	ManualBump(ctx context.Context, actor types.Actor, listingID string) (*boost.BumpResult, error)
	Status(ctx context.Context, actor types.Actor, listingID string) (*types.Listing, error)
}

// --- Request/Response Models ---

// ActivateBoostRequest is the body of POST /v1/boosts/activate.
type ActivateBoostRequest struct {
	ItemID   string `json:"itemId" validate:"required,max=128"`
	PlanCode string `json:"planCode" validate:"required,plancode"`
}

// BumpRequest is the body of POST /v1/boosts/bump.
type BumpRequest struct {
	ItemID string `json:"itemId" validate:"required,max=128"`
}

// BoostAckResponse answers activation and manual bump. NextBumpAt is epoch
// milliseconds, or null when no scheduled bump remains.
type BoostAckResponse struct {
	OK         bool   `json:"ok"`
	NextBumpAt *int64 `json:"nextBumpAt"`
}

// BoostStatusResponse renders a listing's boost record. The *Time fields
// repeat the epoch-millisecond instants as RFC3339.
type BoostStatusResponse struct {
	OK            bool          `json:"ok"`
	ItemID        string        `json:"itemId"`
	Status        string        `json:"status"`
	PriorityScore int64         `json:"priorityScore"`
	Boost         *BoostSummary `json:"boost"`
}

// BoostSummary is the JSON view of types.BoostRecord.
type BoostSummary struct {
	types.BoostRecord
	StartTime      string   `json:"startTime"`
	EndTime        string   `json:"endTime"`
	LastBumpedTime string   `json:"lastBumpedTime"`
	NextBumpTime   *string  `json:"nextBumpTime"`
	ScheduleTimes  []string `json:"scheduleTimes,omitempty"`
}

// PlansResponse lists the catalog.
type PlansResponse struct {
	OK    bool         `json:"ok"`
	Plans []boost.Plan `json:"plans"`
}

// --- Handler ---

// BoostHandler serves the boost endpoints.
type BoostHandler struct {
	svc       BoostService
	validator *core.Validator
	logger    *slog.Logger
}

// NewBoostHandler creates a BoostHandler.
func NewBoostHandler(svc BoostService, v *core.Validator, l *slog.Logger) *BoostHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BoostHandler{svc: svc, validator: v, logger: l}
}

// RegisterRoutes mounts the authenticated boost routes. They share the /v1
// tree with RegisterPublicRoutes, where the static /boosts/plans wins over
// /boosts/{itemId}.
func (h *BoostHandler) RegisterRoutes(r chi.Router) {
	r.Post("/boosts/activate", h.Activate)
	r.Post("/boosts/bump", h.Bump)
	r.Get("/boosts/{itemId}", h.Get)
}

// RegisterPublicRoutes mounts the routes that need no credential.
func (h *BoostHandler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/boosts/plans", h.ListPlans)
}

// Activate handles POST /v1/boosts/activate.
func (h *BoostHandler) Activate(w http.ResponseWriter, r *http.Request) {
	actor, err := core.ActorFrom(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req ActivateBoostRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.svc.Activate(r.Context(), actor, req.ItemID, req.PlanCode)
	if err != nil {
		h.logFailure(r, "boost activation failed", req.ItemID, err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, BoostAckResponse{OK: true, NextBumpAt: res.Record.NextBumpAt})
}

// Bump handles POST /v1/boosts/bump.
func (h *BoostHandler) Bump(w http.ResponseWriter, r *http.Request) {
	actor, err := core.ActorFrom(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req BumpRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.svc.ManualBump(r.Context(), actor, req.ItemID)
	if err != nil {
		h.logFailure(r, "manual bump failed", req.ItemID, err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, BoostAckResponse{OK: true, NextBumpAt: res.NextBumpAt})
}

// Get handles GET /v1/boosts/{itemId}.
func (h *BoostHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, err := core.ActorFrom(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	itemID := chi.URLParam(r, "itemId")
	listing, err := h.svc.Status(r.Context(), actor, itemID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, BoostStatusResponse{
		OK:            true,
		ItemID:        listing.ID,
		Status:        string(listing.Status),
		PriorityScore: listing.PriorityScore,
		Boost:         summarize(listing.Boost),
	})
}

// ListPlans handles GET /v1/boosts/plans.
func (h *BoostHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, PlansResponse{OK: true, Plans: boost.Plans()})
}

func (h *BoostHandler) logFailure(r *http.Request, msg, itemID string, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code.IsClientFault() {
		h.logger.InfoContext(r.Context(), msg, "item_id", itemID, "code", appErr.Code)
		return
	}
	h.logger.ErrorContext(r.Context(), msg, "item_id", itemID, "error", err)
}

func summarize(rec *types.BoostRecord) *BoostSummary {
	if rec == nil {
		return nil
	}
	s := &BoostSummary{
		BoostRecord:    *rec,
		StartTime:      rfc3339(rec.StartAt),
		EndTime:        rfc3339(rec.EndAt),
		LastBumpedTime: rfc3339(rec.LastBumpedAt),
	}
	if rec.NextBumpAt != nil {
		next := rfc3339(*rec.NextBumpAt)
		s.NextBumpTime = &next
	}
	for _, slot := range rec.BumpSchedule {
		s.ScheduleTimes = append(s.ScheduleTimes, rfc3339(slot))
	}
	return s
}

func rfc3339(ms int64) string {
	return boost.FromMillis(ms).Format(time.RFC3339)
}
