package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartkit/promo-engine/internal/domain/checkout"
	"github.com/cartkit/promo-engine/internal/domain/promotion"
)

const (
	getPromotionByBatchCodeSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE id = (SELECT promotion_id FROM promotion_codes WHERE code = $1 AND NOT used)`

	markBatchCodeUsedSQL = `UPDATE promotion_codes SET used = TRUE WHERE code = $1 AND NOT used`
)

var _ checkout.BatchCodeResolver = (*BatchCodeRepository)(nil)

// BatchCodeRepository resolves bulk-imported single-use codes, backed by
// PostgreSQL.
type BatchCodeRepository struct {
	pool *pgxpool.Pool
}

// NewBatchCodeRepository returns a BatchCodeRepository that uses the given pool.
func NewBatchCodeRepository(pool *pgxpool.Pool) *BatchCodeRepository {
	return &BatchCodeRepository{pool: pool}
}

// PromotionByBatchCode maps an unused single-use code to its parent
// promotion. Unknown and already-consumed codes both return
// promotion.ErrNotFound.
func (r *BatchCodeRepository) PromotionByBatchCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionByBatchCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("resolving batch code %q: %w", code, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("resolving batch code %q: %w", code, err)
	}
	return &p, nil
}

// MarkBatchCodeUsed consumes a single-use code. Consuming an unknown or
// already-used code returns promotion.ErrNotFound.
func (r *BatchCodeRepository) MarkBatchCodeUsed(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, markBatchCodeUsedSQL, code)
	if err != nil {
		return fmt.Errorf("consuming batch code %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

// InsertCodes bulk-loads batch codes for a promotion via COPY. Used by the
// ingest tool; duplicate codes fail the whole copy.
func (r *BatchCodeRepository) InsertCodes(ctx context.Context, promotionID string, codes []string) (int64, error) {
	rows := make([][]any, len(codes))
	for i, code := range codes {
		rows[i] = []any{code, promotionID}
	}

	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"promotion_codes"},
		[]string{"code", "promotion_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk inserting batch codes for promotion %q: %w", promotionID, err)
	}
	return n, nil
}
