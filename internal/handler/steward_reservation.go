package handler

// This file defines the handlers stewards use at the counter: confirming
// requests, handing items out, taking them back and settling extension
// requests.  Hub scoping is enforced by the coordinator from the token's
// hub_id claim.

import (
    "context"
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/hub-lending/internal/access"
    "github.com/iliyamo/hub-lending/internal/coordinator"
    "github.com/iliyamo/hub-lending/internal/extension"
    "github.com/iliyamo/hub-lending/internal/model"
)

// StewardHandler groups the steward and admin reservation endpoints.
type StewardHandler struct {
    Coord      *coordinator.Coordinator
    Extensions *extension.Negotiator
    Log        *zap.Logger
}

// NewStewardHandler constructs a StewardHandler.
func NewStewardHandler(coord *coordinator.Coordinator, ext *extension.Negotiator, log *zap.Logger) *StewardHandler {
    if coord == nil || ext == nil {
        panic("nil dependency passed to NewStewardHandler")
    }
    return &StewardHandler{Coord: coord, Extensions: ext, Log: log}
}

// ListHubReservations handles GET /v1/hubs/:id/reservations?state=.
func (h *StewardHandler) ListHubReservations(c echo.Context) error {
    actor, err := actorFrom(c)
    if err != nil {
        return unauthorized(c)
    }
    hubID, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid hub id")
    }
    var state *model.ReservationState
    if raw := c.QueryParam("state"); raw != "" {
        s, err := model.ParseReservationState(raw)
        if err != nil {
            return badRequest(c, "unknown state")
        }
        state = &s
    }
    list, err := h.Coord.ListForHub(c.Request().Context(), actor, hubID, state)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": list})
}

type transitionFunc func(ctx context.Context, actor access.Actor, id uint64) (*model.Reservation, error)

// transition adapts one coordinator lifecycle call to a handler.
func (h *StewardHandler) transition(op transitionFunc) echo.HandlerFunc {
    return func(c echo.Context) error {
        actor, err := actorFrom(c)
        if err != nil {
            return unauthorized(c)
        }
        id, ok := pathID(c, "id")
        if !ok {
            return badRequest(c, "invalid reservation id")
        }
        res, err := op(c.Request().Context(), actor, id)
        if err != nil {
            return writeError(c, h.Log, err)
        }
        return c.JSON(http.StatusOK, res)
    }
}

// Confirm handles POST /v1/steward/reservations/:id/confirm.
func (h *StewardHandler) Confirm(c echo.Context) error { return h.transition(h.Coord.Confirm)(c) }

// Pickup handles POST /v1/steward/reservations/:id/pickup.
func (h *StewardHandler) Pickup(c echo.Context) error { return h.transition(h.Coord.RecordPickup)(c) }

// Return handles POST /v1/steward/reservations/:id/return.
func (h *StewardHandler) Return(c echo.Context) error { return h.transition(h.Coord.Return)(c) }

// Cancel handles POST /v1/steward/reservations/:id/cancel.
func (h *StewardHandler) Cancel(c echo.Context) error { return h.transition(h.Coord.Cancel)(c) }

// GetReservation handles GET /v1/steward/reservations/:id.
func (h *StewardHandler) GetReservation(c echo.Context) error { return h.transition(h.Coord.Get)(c) }

// ResolveExtension handles POST /v1/steward/extensions/:id/resolve with
// body {"approve": bool, "reason": "..."}.
func (h *StewardHandler) ResolveExtension(c echo.Context) error {
    actor, err := actorFrom(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid extension id")
    }
    var body struct {
        Approve *bool  `json:"approve"`
        Reason  string `json:"reason"`
    }
    if err := c.Bind(&body); err != nil || body.Approve == nil {
        return badRequest(c, "approve is required")
    }
    ext, err := h.Extensions.Resolve(c.Request().Context(), actor, id, *body.Approve, body.Reason)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, ext)
}

// AdjustItem handles POST /v1/steward/items/:id/adjust with body
// {"delta": n}.  Positive deltas record donations, negative ones retire
// available units.
func (h *StewardHandler) AdjustItem(c echo.Context) error {
    actor, err := actorFrom(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid item id")
    }
    var body struct {
        Delta int `json:"delta"`
    }
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    item, err := h.Coord.AdjustTotal(c.Request().Context(), actor, id, body.Delta)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, item)
}

// SetItemActive handles POST /v1/steward/items/:id/active with body
// {"active": bool}.
func (h *StewardHandler) SetItemActive(c echo.Context) error {
    actor, err := actorFrom(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid item id")
    }
    var body struct {
        Active *bool `json:"active"`
    }
    if err := c.Bind(&body); err != nil || body.Active == nil {
        return badRequest(c, "active is required")
    }
    if err := h.Coord.SetItemActive(c.Request().Context(), actor, id, *body.Active); err != nil {
        return writeError(c, h.Log, err)
    }
    return c.NoContent(http.StatusNoContent)
}
