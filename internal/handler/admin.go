package handler

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/hub-lending/internal/clock"
    "github.com/iliyamo/hub-lending/internal/coordinator"
    "github.com/iliyamo/hub-lending/internal/model"
    "github.com/iliyamo/hub-lending/internal/repository"
    "github.com/iliyamo/hub-lending/internal/standing"
)

// AdminHandler manages hubs, item intake and borrower restrictions.
type AdminHandler struct {
    HubRepo  *repository.HubRepo
    Coord    *coordinator.Coordinator
    Standing *standing.Service
    Clock    clock.Clock
    Log      *zap.Logger
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(hubs *repository.HubRepo, coord *coordinator.Coordinator, st *standing.Service, clk clock.Clock, log *zap.Logger) *AdminHandler {
    if hubs == nil || coord == nil || st == nil {
        panic("nil dependency passed to NewAdminHandler")
    }
    return &AdminHandler{HubRepo: hubs, Coord: coord, Standing: st, Clock: clk, Log: log}
}

// CreateHub handles POST /v1/admin/hubs with body {"name", "address"}.
func (h *AdminHandler) CreateHub(c echo.Context) error {
    var body struct {
        Name    string `json:"name"`
        Address string `json:"address"`
    }
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    name := strings.TrimSpace(body.Name)
    if name == "" {
        return badRequest(c, "name is required")
    }
    hub := &model.Hub{Name: name, Address: strings.TrimSpace(body.Address), IsActive: true}
    if err := h.HubRepo.Create(c.Request().Context(), hub, h.Clock.Now()); err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusCreated, hub)
}

// CreateItem handles POST /v1/admin/items.  Stewards may register items at
// their own hub.
func (h *AdminHandler) CreateItem(c echo.Context) error {
    actor, err := actorFrom(c)
    if err != nil {
        return unauthorized(c)
    }
    var body struct {
        HubID     uint64 `json:"hub_id"`
        Name      string `json:"name"`
        Category  string `json:"category"`
        Condition string `json:"condition"`
        Quantity  int    `json:"quantity"`
    }
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    if body.HubID == 0 || strings.TrimSpace(body.Name) == "" {
        return badRequest(c, "hub_id and name are required")
    }
    if body.Condition != "" && !model.ValidCondition(body.Condition) {
        return badRequest(c, "unknown condition")
    }
    item, err := h.Coord.CreateItem(c.Request().Context(), actor, coordinator.NewItem{
        HubID:     body.HubID,
        Name:      body.Name,
        Category:  body.Category,
        Condition: body.Condition,
        Quantity:  body.Quantity,
    })
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusCreated, item)
}

// GetStanding handles GET /v1/admin/standings/:borrower_id.
func (h *AdminHandler) GetStanding(c echo.Context) error {
    id, ok := pathID(c, "borrower_id")
    if !ok {
        return badRequest(c, "invalid borrower id")
    }
    st, err := h.Standing.Get(c.Request().Context(), id)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, st)
}

// LiftStanding handles POST /v1/admin/standings/:borrower_id/lift.  It
// returns 404 when the borrower is not restricted.
func (h *AdminHandler) LiftStanding(c echo.Context) error {
    id, ok := pathID(c, "borrower_id")
    if !ok {
        return badRequest(c, "invalid borrower id")
    }
    lifted, err := h.Standing.Lift(c.Request().Context(), id, h.Clock.Now())
    if err != nil {
        return writeError(c, h.Log, err)
    }
    if !lifted {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "borrower is not restricted", "code": "not_found"})
    }
    return c.NoContent(http.StatusNoContent)
}
