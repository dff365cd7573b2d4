package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartkit/promo-engine/internal/domain/promotion"
)

const (
	promotionColumns = `id, name, description, type, value, code, auto_apply,
		starts_at, ends_at, is_active, priority, stacking_policy,
		scope, targeting, min_subtotal_minor, max_discount_minor, cities,
		max_uses_total, max_uses_per_user, uses_total, created_at, updated_at`

	insertPromotionSQL = `INSERT INTO promotions (id, name, description, type, value, code, auto_apply,
		starts_at, ends_at, is_active, priority, stacking_policy,
		scope, targeting, min_subtotal_minor, max_discount_minor, cities,
		max_uses_total, max_uses_per_user)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	updatePromotionSQL = `UPDATE promotions SET
		name = $2, description = $3, type = $4, value = $5, code = $6, auto_apply = $7,
		starts_at = $8, ends_at = $9, is_active = $10, priority = $11, stacking_policy = $12,
		scope = $13, targeting = $14, min_subtotal_minor = $15, max_discount_minor = $16,
		cities = $17, max_uses_total = $18, max_uses_per_user = $19, updated_at = now()
		WHERE id = $1`

	deletePromotionSQL = `DELETE FROM promotions WHERE id = $1`

	listActivePromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE is_active
		  AND (starts_at IS NULL OR starts_at <= $1)
		  AND (ends_at IS NULL OR ends_at > $1)
		ORDER BY priority DESC, id`

	userUsageCountsSQL = `SELECT promotion_id, COUNT(*) FROM promotion_usages
		WHERE user_id = $1 GROUP BY promotion_id`

	// The increment is conditional so concurrent checkouts cannot push
	// uses_total past max_uses_total.
	registerUseSQL = `UPDATE promotions SET uses_total = uses_total + 1
		WHERE id = $1 AND (max_uses_total IS NULL OR uses_total < max_uses_total)`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// Create persists a new promotion. A unique-violation on the active-code
// index surfaces as promotion.ErrCodeConflict.
func (r *PromotionRepository) Create(ctx context.Context, p *promotion.Promotion) error {
	args, err := promotionArgs(p)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, insertPromotionSQL, args...); err != nil {
		if isUniqueViolation(err) {
			return promotion.ErrCodeConflict
		}
		return fmt.Errorf("creating promotion %q: %w", p.ID, err)
	}
	return nil
}

// Update rewrites all admin-writable columns of an existing promotion.
// uses_total is deliberately absent from the statement.
func (r *PromotionRepository) Update(ctx context.Context, p *promotion.Promotion) error {
	args, err := promotionArgs(p)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, updatePromotionSQL, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return promotion.ErrCodeConflict
		}
		return fmt.Errorf("updating promotion %q: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

// Delete removes a promotion and, via cascade, its usage rows and batch codes.
func (r *PromotionRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deletePromotionSQL, id)
	if err != nil {
		return fmt.Errorf("deleting promotion %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

// GetByID fetches a single promotion, returning promotion.ErrNotFound when
// the id is unknown.
func (r *PromotionRepository) GetByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("finding promotion %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("finding promotion %q: %w", id, err)
	}
	return &p, nil
}

// List returns every promotion, newest first.
func (r *PromotionRepository) List(ctx context.Context) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+promotionColumns+` FROM promotions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing promotions: %w", err)
	}
	promos, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, fmt.Errorf("listing promotions: %w", err)
	}
	return promos, nil
}

// ListActive returns active promotions whose validity window contains now.
func (r *PromotionRepository) ListActive(ctx context.Context, now time.Time) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, listActivePromotionsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing active promotions: %w", err)
	}
	promos, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, fmt.Errorf("listing active promotions: %w", err)
	}
	return promos, nil
}

// ActivePromotions adapts ListActive to the checkout pricing source.
func (r *PromotionRepository) ActivePromotions(ctx context.Context, now time.Time) ([]promotion.Promotion, error) {
	return r.ListActive(ctx, now)
}

// UserUsageCounts returns promotion id -> times the user applied it,
// derived from recorded order usages.
func (r *PromotionRepository) UserUsageCounts(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, userUsageCountsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("counting usages for user %q: %w", userID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int64
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("counting usages for user %q: %w", userID, err)
		}
		counts[id] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting usages for user %q: %w", userID, err)
	}
	return counts, nil
}

// RegisterUse advances uses_total while it stays within max_uses_total.
func (r *PromotionRepository) RegisterUse(ctx context.Context, promotionID string) error {
	return registerUse(ctx, r.pool, promotionID)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func registerUse(ctx context.Context, db execer, promotionID string) error {
	tag, err := db.Exec(ctx, registerUseSQL, promotionID)
	if err != nil {
		return fmt.Errorf("registering use of promotion %q: %w", promotionID, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrUsageLimitReached
	}
	return nil
}

func promotionArgs(p *promotion.Promotion) ([]any, error) {
	scopeJSON, err := json.Marshal(p.Scope)
	if err != nil {
		return nil, fmt.Errorf("marshaling promotion scope: %w", err)
	}
	targetingJSON, err := json.Marshal(p.Targeting)
	if err != nil {
		return nil, fmt.Errorf("marshaling promotion targeting: %w", err)
	}

	var code *string
	if p.Code != "" {
		code = &p.Code
	}

	return []any{
		p.ID, p.Name, p.Description, string(p.Type), p.Value, code, p.AutoApply,
		p.StartsAt, p.EndsAt, p.IsActive, p.Priority, string(p.Stacking),
		scopeJSON, targetingJSON, p.Eligibility.MinSubtotalMinor, p.Eligibility.MaxDiscountMinor,
		p.Eligibility.Cities, p.Limits.MaxUsesTotal, p.Limits.MaxUsesPerUser,
	}, nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p             promotion.Promotion
		code          *string
		scopeJSON     []byte
		targetingJSON []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Type, &p.Value, &code, &p.AutoApply,
		&p.StartsAt, &p.EndsAt, &p.IsActive, &p.Priority, &p.Stacking,
		&scopeJSON, &targetingJSON, &p.Eligibility.MinSubtotalMinor, &p.Eligibility.MaxDiscountMinor,
		&p.Eligibility.Cities, &p.Limits.MaxUsesTotal, &p.Limits.MaxUsesPerUser,
		&p.Limits.UsesTotal, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	if code != nil {
		p.Code = *code
	}
	if err := json.Unmarshal(scopeJSON, &p.Scope); err != nil {
		return p, fmt.Errorf("unmarshaling promotion scope: %w", err)
	}
	if err := json.Unmarshal(targetingJSON, &p.Targeting); err != nil {
		return p, fmt.Errorf("unmarshaling promotion targeting: %w", err)
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
