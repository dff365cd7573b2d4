// Package checkout implements the pricing pipeline that consumes the
// promotion engine: it assembles the order context, runs evaluation and
// selection, clamps the aggregate discount against order totals, and commits
// promotion usage when an order completes.
package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/cartkit/promo-engine/internal/domain/promotion"
	"github.com/cartkit/promo-engine/pkg/money"
)

// PromotionSource supplies the point-in-time snapshot of promotions to price
// against. Implemented by the Postgres repository, optionally wrapped by the
// Redis snapshot cache.
type PromotionSource interface {
	ActivePromotions(ctx context.Context, now time.Time) ([]promotion.Promotion, error)
}

// UsageRepository resolves per-user usage counts and commits completed-order
// usage. CommitUsage must be transactional: every entry registers (with the
// conditional uses_total increment) or none do.
type UsageRepository interface {
	UserUsageCounts(ctx context.Context, userID string) (map[string]int, error)
	CommitUsage(ctx context.Context, orderID, userID string, applied []promotion.SelectedPromotion) error
}

// BatchCodeResolver maps bulk-imported single-use codes to their parent
// promotion. Implementations return promotion.ErrNotFound for unknown or
// already-used codes.
type BatchCodeResolver interface {
	PromotionByBatchCode(ctx context.Context, code string) (*promotion.Promotion, error)
	MarkBatchCodeUsed(ctx context.Context, code string) error
}

// EventPublisher emits best-effort domain events. Implementations must not
// fail the pricing path; publish errors are logged by the producer itself.
type EventPublisher interface {
	PromotionsApplied(ctx context.Context, orderID, userID string, applied []promotion.SelectedPromotion)
}

// QuoteRequest describes a checkout to price.
type QuoteRequest struct {
	User          promotion.User
	Items         []promotion.Item
	ShippingMinor int64
	City          string
	Code          string
}

// AppliedPromotion is one promotion in a priced quote.
type AppliedPromotion struct {
	PromotionID     string             `json:"promotion_id"`
	Name            string             `json:"name"`
	DiscountMinor   int64              `json:"discount_minor"`
	DiscountDisplay string             `json:"discount_display"`
	Reasons         []promotion.Reason `json:"reasons,omitempty"`
}

// Quote is a fully priced checkout.
type Quote struct {
	SubtotalMinor   int64              `json:"subtotal_minor"`
	ShippingMinor   int64              `json:"shipping_minor"`
	DiscountMinor   int64              `json:"discount_minor"`
	TotalMinor      int64              `json:"total_minor"`
	TotalDisplay    string             `json:"total_display"`
	Applied         []AppliedPromotion `json:"applied"`
	// Evaluated carries the full diagnostics set in preview mode only.
	Evaluated []promotion.EvaluationResult `json:"evaluated,omitempty"`
}

// Service prices checkouts against the active promotion snapshot.
type Service struct {
	source     PromotionSource
	usage      UsageRepository
	batchCodes BatchCodeResolver
	events     EventPublisher
	now        func() time.Time
}

// NewService creates a checkout Service. batchCodes and events may be nil
// when those features are not deployed.
func NewService(
	source PromotionSource,
	usage UsageRepository,
	batchCodes BatchCodeResolver,
	events EventPublisher,
) *Service {
	return &Service{
		source:     source,
		usage:      usage,
		batchCodes: batchCodes,
		events:     events,
		now:        time.Now,
	}
}

// Quote prices a checkout for real application: ineligible promotions are
// dropped and zero-discount winners are not recorded.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	return s.price(ctx, req, false)
}

// Preview prices a checkout in diagnostics mode: every candidate promotion
// is returned with its full failure reasons, and zero-discount winners stay
// visible. Preview never mutates anything and is safe to call repeatedly.
func (s *Service) Preview(ctx context.Context, req QuoteRequest) (*Quote, error) {
	return s.price(ctx, req, true)
}

func (s *Service) price(ctx context.Context, req QuoteRequest, preview bool) (*Quote, error) {
	now := s.now()

	candidates, err := s.source.ActivePromotions(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "load active promotions")
	}
	candidates, code, err := s.resolveBatchCode(ctx, candidates, req.Code)
	if err != nil {
		return nil, err
	}

	items := normalizeItems(req.Items)
	octx := promotion.OrderContext{
		User:          req.User,
		Items:         items,
		SubtotalMinor: subtotal(items),
		ShippingMinor: req.ShippingMinor,
		City:          req.City,
		Code:          code,
	}
	if req.User.UserID != "" {
		counts, err := s.usage.UserUsageCounts(ctx, req.User.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "load user usage counts")
		}
		octx.UserUsageCount = counts
	}

	evaluator := promotion.NewEvaluatorAt(func() time.Time { return now })
	evaluated := evaluator.Evaluate(candidates, octx, preview)
	selected := promotion.Select(evaluated, promotion.SelectOptions{AllowZero: preview})

	q := s.buildQuote(octx, evaluated, selected)
	if !preview {
		q.Evaluated = nil
	}
	return q, nil
}

// resolveBatchCode checks whether the submitted code is a single-use batch
// code; if so, its parent promotion joins the candidate set with the code
// grafted on so the evaluator's code check matches. Unknown codes are not an
// error here; the evaluator reports CODE_MISMATCH through normal scoring.
func (s *Service) resolveBatchCode(ctx context.Context, candidates []promotion.Promotion, rawCode string) ([]promotion.Promotion, string, error) {
	code := strings.ToUpper(strings.TrimSpace(rawCode))
	if code == "" || s.batchCodes == nil {
		return candidates, code, nil
	}
	for i := range candidates {
		if candidates[i].Code == code {
			return candidates, code, nil
		}
	}

	parent, err := s.batchCodes.PromotionByBatchCode(ctx, code)
	if err != nil {
		if errors.Is(err, promotion.ErrNotFound) {
			return candidates, code, nil
		}
		return nil, "", errors.Wrap(err, "resolve batch code")
	}
	grafted := *parent
	grafted.Code = code
	grafted.AutoApply = false
	return append(candidates, grafted), code, nil
}

// buildQuote clamps the aggregate discount against what it can actually be
// applied to: shipping-type discounts against shipping, everything else
// against the subtotal. The engine guarantees per-promotion bounds; the
// clamp here guards the sums.
func (s *Service) buildQuote(octx promotion.OrderContext, evaluated []promotion.EvaluationResult, sel promotion.SelectionResult) *Quote {
	byID := make(map[string]*promotion.EvaluationResult, len(evaluated))
	for i := range evaluated {
		byID[evaluated[i].Promotion.ID] = &evaluated[i]
	}

	var goodsDiscount, shippingDiscount int64
	applied := make([]AppliedPromotion, 0, len(sel.Selected))
	for _, sp := range sel.Selected {
		res := byID[sp.PromotionID]
		name := ""
		shippingType := false
		if res != nil {
			name = res.Promotion.Name
			shippingType = res.Promotion.Type == promotion.TypeFreeShipping
		}
		if shippingType {
			shippingDiscount += sp.DiscountMinor
		} else {
			goodsDiscount += sp.DiscountMinor
		}
		applied = append(applied, AppliedPromotion{
			PromotionID:     sp.PromotionID,
			Name:            name,
			DiscountMinor:   sp.DiscountMinor,
			DiscountDisplay: money.FormatMinor(sp.DiscountMinor),
			Reasons:         sp.Reasons,
		})
	}

	goodsDiscount = min(goodsDiscount, octx.SubtotalMinor)
	shippingDiscount = min(shippingDiscount, octx.ShippingMinor)
	discount := goodsDiscount + shippingDiscount
	total := octx.SubtotalMinor + octx.ShippingMinor - discount

	return &Quote{
		SubtotalMinor: octx.SubtotalMinor,
		ShippingMinor: octx.ShippingMinor,
		DiscountMinor: discount,
		TotalMinor:    total,
		TotalDisplay:  money.FormatMinor(total),
		Applied:       applied,
		Evaluated:     evaluated,
	}
}

// ApplyRequest commits promotion usage for a completed order.
type ApplyRequest struct {
	OrderID string
	UserID  string
	// Applied is the selection the order completed with, as previously
	// returned by Quote.
	Applied []promotion.SelectedPromotion
	// BatchCode, when set, is consumed (marked used) with the commit.
	BatchCode string
}

// Apply records the applied promotions for a completed order and advances
// usage counters. The commit is all-or-nothing: if any promotion hit its
// global cap in the meantime, promotion.ErrUsageLimitReached is returned and
// nothing is recorded and the caller must reprice.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) error {
	if req.OrderID == "" {
		return errors.New("order id required")
	}
	if len(req.Applied) == 0 {
		return nil
	}

	if err := s.usage.CommitUsage(ctx, req.OrderID, req.UserID, req.Applied); err != nil {
		return errors.Wrap(err, "commit promotion usage")
	}

	if code := strings.ToUpper(strings.TrimSpace(req.BatchCode)); code != "" && s.batchCodes != nil {
		if err := s.batchCodes.MarkBatchCodeUsed(ctx, code); err != nil {
			return errors.Wrap(err, "mark batch code used")
		}
	}

	if s.events != nil {
		s.events.PromotionsApplied(ctx, req.OrderID, req.UserID, req.Applied)
	}
	return nil
}

// normalizeItems derives missing line subtotals from quantity * unit price
// so scope matching and subtotal sums agree.
func normalizeItems(in []promotion.Item) []promotion.Item {
	items := make([]promotion.Item, len(in))
	copy(items, in)
	for i := range items {
		if items[i].LineSubtotalMinor == 0 && items[i].Quantity > 0 {
			items[i].LineSubtotalMinor = int64(items[i].Quantity) * items[i].UnitPriceMinor
		}
	}
	return items
}

func subtotal(items []promotion.Item) int64 {
	var sum int64
	for i := range items {
		sum += items[i].LineSubtotalMinor
	}
	return sum
}
