// Package handler exposes HTTP handlers for both authenticated and public endpoints.
// This file defines the public catalogue: hubs and the item variants they
// lend.  Availability shown here is informational; a reservation is the only
// way to commit quantity.
package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/hub-lending/internal/model"
    "github.com/iliyamo/hub-lending/internal/repository"
)

// PublicHandler aggregates repositories needed for unauthenticated browsing.
type PublicHandler struct {
    HubRepo  *repository.HubRepo  // provides access to hubs
    ItemRepo *repository.ItemRepo // provides access to item variants
    Log      *zap.Logger
}

// NewPublicHandler constructs a PublicHandler.
func NewPublicHandler(hubs *repository.HubRepo, items *repository.ItemRepo, log *zap.Logger) *PublicHandler {
    if hubs == nil || items == nil {
        panic("nil repository passed to NewPublicHandler")
    }
    return &PublicHandler{HubRepo: hubs, ItemRepo: items, Log: log}
}

// PublicHub is a hub as shown to guests.
type PublicHub struct {
    ID      uint64 `json:"id"`
    Name    string `json:"name"`
    Address string `json:"address"`
}

// PublicItem is an item variant as shown to guests.
type PublicItem struct {
    ID                uint64 `json:"id"`
    HubID             uint64 `json:"hub_id"`
    Name              string `json:"name"`
    Category          string `json:"category"`
    Condition         string `json:"condition"`
    QuantityTotal     int    `json:"quantity_total"`
    QuantityAvailable int    `json:"quantity_available"`
}

func publicItem(it model.ItemVariant) PublicItem {
    return PublicItem{
        ID:                it.ID,
        HubID:             it.HubID,
        Name:              it.Name,
        Category:          it.Category,
        Condition:         it.Condition,
        QuantityTotal:     it.QuantityTotal,
        QuantityAvailable: it.QuantityAvailable,
    }
}

// ListHubs handles GET /v1/hubs.
func (h *PublicHandler) ListHubs(c echo.Context) error {
    hubs, err := h.HubRepo.ListActive(c.Request().Context())
    if err != nil {
        return writeError(c, h.Log, err)
    }
    out := make([]PublicHub, 0, len(hubs))
    for _, hub := range hubs {
        out = append(out, PublicHub{ID: hub.ID, Name: hub.Name, Address: hub.Address})
    }
    return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// ListHubItems handles GET /v1/hubs/:id/items?q=.  The optional q filters
// by name or category.
func (h *PublicHandler) ListHubItems(c echo.Context) error {
    ctx := c.Request().Context()
    hubID, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid hub id")
    }
    if _, err := h.HubRepo.GetByID(ctx, hubID); err != nil {
        return writeError(c, h.Log, err)
    }
    items, err := h.ItemRepo.ListByHub(ctx, hubID, c.QueryParam("q"))
    if err != nil {
        return writeError(c, h.Log, err)
    }
    out := make([]PublicItem, 0, len(items))
    for _, it := range items {
        out = append(out, publicItem(it))
    }
    return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// GetItem handles GET /v1/items/:id.  Inactive variants are hidden.
func (h *PublicHandler) GetItem(c echo.Context) error {
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid item id")
    }
    it, err := h.ItemRepo.GetByID(c.Request().Context(), id)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    if !it.IsActive {
        return writeError(c, h.Log, repository.ErrNotFound)
    }
    return c.JSON(http.StatusOK, publicItem(*it))
}
