package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/hub-lending/internal/coordinator"
    "github.com/iliyamo/hub-lending/internal/extension"
    "github.com/iliyamo/hub-lending/internal/standing"
)

// BorrowerHandler serves the endpoints a borrower uses to reserve, follow
// and cancel reservations and to ask for more time.  JWTAuth and
// RequireRole("BORROWER") run before every method.
type BorrowerHandler struct {
    Coord      *coordinator.Coordinator
    Extensions *extension.Negotiator
    Standing   *standing.Service
    Log        *zap.Logger
}

// NewBorrowerHandler constructs a BorrowerHandler.  All dependencies must
// be non-nil.
func NewBorrowerHandler(coord *coordinator.Coordinator, ext *extension.Negotiator, st *standing.Service, log *zap.Logger) *BorrowerHandler {
    if coord == nil || ext == nil || st == nil {
        panic("nil dependency passed to NewBorrowerHandler")
    }
    return &BorrowerHandler{Coord: coord, Extensions: ext, Standing: st, Log: log}
}

type createReservationBody struct {
    ItemVariantID      uint64 `json:"item_variant_id"`
    Quantity           int    `json:"quantity"`
    PickupDate         string `json:"pickup_date"`
    ExpectedReturnDate string `json:"expected_return_date"`
}

// CreateReservation handles POST /v1/reservations.  It returns 201 with the
// new reservation, or 409 insufficient_stock when the hub cannot cover the
// quantity.
func (h *BorrowerHandler) CreateReservation(c echo.Context) error {
    actor, err := actorFrom(c)
    if err != nil {
        return unauthorized(c)
    }
    var body createReservationBody
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    if body.ItemVariantID == 0 {
        return badRequest(c, "item_variant_id is required")
    }
    pickup, err := parseDate(body.PickupDate)
    if err != nil {
        return badRequest(c, "pickup_date must be YYYY-MM-DD or RFC 3339")
    }
    due, err := parseDate(body.ExpectedReturnDate)
    if err != nil {
        return badRequest(c, "expected_return_date must be YYYY-MM-DD or RFC 3339")
    }
    res, err := h.Coord.Reserve(c.Request().Context(), actor, coordinator.ReserveRequest{
        BorrowerID:         actor.UserID,
        ItemVariantID:      body.ItemVariantID,
        Quantity:           body.Quantity,
        PickupDate:         pickup,
        ExpectedReturnDate: due,
    })
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusCreated, res)
}

// ListReservations handles GET /v1/my-reservations.
func (h *BorrowerHandler) ListReservations(c echo.Context) error {
    actor, err := actorFrom(c)
    if err != nil {
        return unauthorized(c)
    }
    list, err := h.Coord.ListForBorrower(c.Request().Context(), actor.UserID)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": list})
}

// GetReservation handles GET /v1/reservations/:id.  A pending extension
// request is attached when there is one.
func (h *BorrowerHandler) GetReservation(c echo.Context) error {
    actor, err := actorFrom(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid reservation id")
    }
    res, err := h.Coord.Get(c.Request().Context(), actor, id)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, res)
}

// CancelReservation handles POST /v1/reservations/:id/cancel.
func (h *BorrowerHandler) CancelReservation(c echo.Context) error {
    actor, err := actorFrom(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid reservation id")
    }
    res, err := h.Coord.Cancel(c.Request().Context(), actor, id)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, res)
}

// RequestExtension handles POST /v1/reservations/:id/extensions with body
// {"new_return_date": "..."}.
func (h *BorrowerHandler) RequestExtension(c echo.Context) error {
    actor, err := actorFrom(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid reservation id")
    }
    var body struct {
        NewReturnDate string `json:"new_return_date"`
    }
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    date, err := parseDate(body.NewReturnDate)
    if err != nil {
        return badRequest(c, "new_return_date must be YYYY-MM-DD or RFC 3339")
    }
    req, err := h.Extensions.Request(c.Request().Context(), actor, id, date)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusCreated, req)
}

// ListExtensions handles GET /v1/reservations/:id/extensions.
func (h *BorrowerHandler) ListExtensions(c echo.Context) error {
    actor, err := actorFrom(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid reservation id")
    }
    list, err := h.Extensions.History(c.Request().Context(), actor, id)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": list})
}

// MyStanding handles GET /v1/my-standing.
func (h *BorrowerHandler) MyStanding(c echo.Context) error {
    actor, err := actorFrom(c)
    if err != nil {
        return unauthorized(c)
    }
    st, err := h.Standing.Get(c.Request().Context(), actor.UserID)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, st)
}
