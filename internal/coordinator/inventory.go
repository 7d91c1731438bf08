package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/access"
	"github.com/iliyamo/hub-lending/internal/ledger"
	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/repository"
)

// AdjustTotal records donated units (delta > 0) or decommissions
// available units (delta < 0) of an item variant.  Stewards of the item's
// hub and admins may adjust.
func (c *Coordinator) AdjustTotal(ctx context.Context, actor access.Actor, itemVariantID uint64, delta int) (item *model.ItemVariant, err error) {
	ctx, span := c.span(ctx, "AdjustTotal",
		attribute.Int64("item_variant.id", int64(itemVariantID)),
		attribute.Int("delta", delta))
	defer func() { c.finish(span, "AdjustTotal", err, zap.Uint64("item_variant_id", itemVariantID)) }()

	err = c.unit(ctx, func(tx *sql.Tx) error {
		it, err := c.items.GetByIDTx(ctx, tx, itemVariantID)
		if err != nil {
			return err
		}
		if err := actor.RequireHub(it.HubID); err != nil {
			return err
		}
		if err := c.ledger.AdjustTotal(ctx, tx, itemVariantID, delta); err != nil {
			return err
		}
		item, err = c.items.GetByIDTx(ctx, tx, itemVariantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("item quantity adjusted",
		zap.Uint64("item_variant_id", itemVariantID),
		zap.Int("delta", delta),
		zap.Int("quantity_total", item.QuantityTotal),
		zap.Int("quantity_available", item.QuantityAvailable))
	return item, nil
}

// NewItem describes a donated item variant.
type NewItem struct {
	HubID     uint64
	Name      string
	Category  string
	Condition string
	Quantity  int
}

// CreateItem registers a new item variant at a hub and takes in its
// initial stock through the ledger in the same unit of work.
func (c *Coordinator) CreateItem(ctx context.Context, actor access.Actor, in NewItem) (item *model.ItemVariant, err error) {
	ctx, span := c.span(ctx, "CreateItem", attribute.Int64("hub.id", int64(in.HubID)))
	defer func() { c.finish(span, "CreateItem", err) }()

	if err := actor.RequireHub(in.HubID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" || in.Quantity < 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	err = c.unit(ctx, func(tx *sql.Tx) error {
		it := &model.ItemVariant{
			HubID:     in.HubID,
			Name:      strings.TrimSpace(in.Name),
			Category:  in.Category,
			Condition: in.Condition,
			IsActive:  true,
		}
		if err := c.items.CreateTx(ctx, tx, it, c.clock.Now()); err != nil {
			return err
		}
		if in.Quantity > 0 {
			if err := c.ledger.AdjustTotal(ctx, tx, it.ID, in.Quantity); err != nil {
				return err
			}
		}
		var err error
		item, err = c.items.GetByIDTx(ctx, tx, it.ID)
		return err
	})
	return item, err
}

// Donate adds quantity units of a named variant at a hub, creating the
// variant when the hub has none by that name.
func (c *Coordinator) Donate(ctx context.Context, actor access.Actor, in NewItem) (item *model.ItemVariant, err error) {
	ctx, span := c.span(ctx, "Donate", attribute.Int64("hub.id", int64(in.HubID)))
	defer func() { c.finish(span, "Donate", err) }()

	if err := actor.RequireHub(in.HubID); err != nil {
		return nil, err
	}
	if in.Quantity <= 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	err = c.unit(ctx, func(tx *sql.Tx) error {
		it, err := c.items.FindByNameTx(ctx, tx, in.HubID, strings.TrimSpace(in.Name))
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrNotFound):
			it = &model.ItemVariant{HubID: in.HubID, Name: strings.TrimSpace(in.Name),
				Category: in.Category, Condition: in.Condition, IsActive: true}
			if err := c.items.CreateTx(ctx, tx, it, c.clock.Now()); err != nil {
				return err
			}
		default:
			return err
		}
		if err := c.ledger.AdjustTotal(ctx, tx, it.ID, in.Quantity); err != nil {
			return err
		}
		item, err = c.items.GetByIDTx(ctx, tx, it.ID)
		return err
	})
	return item, err
}

// SetItemActive includes or excludes an item variant from new
// reservations.  Existing reservations keep their quantity.
func (c *Coordinator) SetItemActive(ctx context.Context, actor access.Actor, itemVariantID uint64, active bool) error {
	return c.unit(ctx, func(tx *sql.Tx) error {
		it, err := c.items.GetByIDTx(ctx, tx, itemVariantID)
		if err != nil {
			return err
		}
		if err := actor.RequireHub(it.HubID); err != nil {
			return err
		}
		return c.items.SetActiveTx(ctx, tx, itemVariantID, active, c.clock.Now())
	})
}
