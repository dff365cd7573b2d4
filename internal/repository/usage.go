package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cartkit/promo-engine/internal/domain/checkout"
	"github.com/cartkit/promo-engine/internal/domain/promotion"
)

const insertUsageSQL = `INSERT INTO promotion_usages (id, promotion_id, user_id, order_id, discount_minor)
	VALUES ($1, $2, $3, $4, $5)`

var _ checkout.UsageRepository = (*PromotionRepository)(nil)

// CommitUsage records the applied promotions for a completed order inside a
// single transaction. Every entry both advances the promotion's conditional
// uses_total counter and inserts a usage row; if any promotion reached its
// global cap, the whole commit rolls back with
// promotion.ErrUsageLimitReached.
func (r *PromotionRepository) CommitUsage(ctx context.Context, orderID, userID string, applied []promotion.SelectedPromotion) error {
	if len(applied) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning usage commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, sp := range applied {
		if err := registerUse(ctx, tx, sp.PromotionID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, insertUsageSQL,
			uuid.NewString(), sp.PromotionID, userID, orderID, sp.DiscountMinor,
		)
		if err != nil {
			return fmt.Errorf("recording usage of promotion %q for order %q: %w", sp.PromotionID, orderID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing usage for order %q: %w", orderID, err)
	}
	return nil
}
