package handler // handler defines the HTTP handlers of the lending API

import (
    "errors"   // errors.Is against the engine's sentinels
    "net/http" // status codes
    "strconv"  // path parameter parsing
    "strings"  // trimming date input
    "time"     // request date parsing

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/hub-lending/internal/access"
    "github.com/iliyamo/hub-lending/internal/coordinator"
    "github.com/iliyamo/hub-lending/internal/extension"
    "github.com/iliyamo/hub-lending/internal/ledger"
    "github.com/iliyamo/hub-lending/internal/repository"
    "github.com/iliyamo/hub-lending/internal/reservation"
    "github.com/iliyamo/hub-lending/internal/standing"
)

// getUserID extracts the user_id stored by JWTAuth and converts it to uint64.
func getUserID(c echo.Context) (uint64, error) {
    v := c.Get("user_id")
    switch t := v.(type) {
    case uint64:
        return t, nil
    case int:
        return uint64(t), nil
    case int64:
        return uint64(t), nil
    case float64:
        return uint64(t), nil
    case string:
        if n, err := strconv.ParseUint(t, 10, 64); err == nil {
            return n, nil
        }
    }
    return 0, errors.New("invalid user_id in context")
}

// actorFrom builds the caller's identity from the values JWTAuth stored.
func actorFrom(c echo.Context) (access.Actor, error) {
    id, err := getUserID(c)
    if err != nil {
        return access.Actor{}, err
    }
    role, _ := c.Get("role").(string)
    a := access.Actor{UserID: id, Role: role}
    if hub, ok := c.Get("hub_id").(uint64); ok {
        a.HubID = &hub
    }
    return a, nil
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
    id, err := strconv.ParseUint(c.Param(name), 10, 64)
    return id, err == nil && id > 0
}

// parseDate accepts either a calendar date (2006-01-02, taken as midnight
// UTC) or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
    s = strings.TrimSpace(s)
    if t, err := time.Parse(time.DateOnly, s); err == nil {
        return t.UTC(), nil
    }
    t, err := time.Parse(time.RFC3339, s)
    if err != nil {
        return time.Time{}, err
    }
    return t.UTC(), nil
}

func badRequest(c echo.Context, msg string) error {
    return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": "bad_request"})
}

func unauthorized(c echo.Context) error {
    return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// errorStatus pairs an engine error with its HTTP rendering.
type errorStatus struct {
    target error
    status int
    code   string
}

// errorTable is checked in order; the first matching sentinel wins.
var errorTable = []errorStatus{
    {ledger.ErrLockTimeout, http.StatusServiceUnavailable, "lock_timeout"},
    {repository.ErrNotFound, http.StatusNotFound, "not_found"},
    {repository.ErrForbidden, http.StatusForbidden, "forbidden"},
    {repository.ErrConflict, http.StatusConflict, "conflict"},
    {ledger.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
    {ledger.ErrItemInactive, http.StatusConflict, "item_inactive"},
    {ledger.ErrInvalidQuantity, http.StatusUnprocessableEntity, "invalid_quantity"},
    {standing.ErrBorrowerRestricted, http.StatusConflict, "borrower_restricted"},
    {coordinator.ErrInvalidDates, http.StatusUnprocessableEntity, "invalid_dates"},
    {extension.ErrInvalidDate, http.StatusUnprocessableEntity, "invalid_date"},
    {extension.ErrNotActive, http.StatusConflict, "not_active"},
    {extension.ErrRequestClosed, http.StatusConflict, "request_closed"},
    {reservation.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
    {reservation.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
    {reservation.ErrStaleState, http.StatusConflict, "stale_state"},
}

// retryAfterSeconds is advertised with lock timeouts.
const retryAfterSeconds = "1"

// writeError renders err as {"error", "code"}.  Invariant violations and
// unknown errors become 500 and are logged; their detail never reaches the
// client.
func writeError(c echo.Context, log *zap.Logger, err error) error {
    if ledger.IsInvariantViolation(err) {
        log.Error("invariant violation in request",
            zap.String("path", c.Path()), zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "code": "invariant_violation"})
    }
    for _, e := range errorTable {
        if errors.Is(err, e.target) {
            if e.status == http.StatusServiceUnavailable {
                c.Response().Header().Set("Retry-After", retryAfterSeconds)
            }
            return c.JSON(e.status, echo.Map{"error": err.Error(), "code": e.code})
        }
    }
    log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "code": "internal"})
}
