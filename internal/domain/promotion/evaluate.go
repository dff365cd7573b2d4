package promotion

import (
	"slices"
	"strings"
	"time"
)

// User identifies the shopper for targeting checks.
type User struct {
	UserID   string
	Roles    []string
	Segments []string
}

// Item is one checkout line with its catalog attribution resolved.
type Item struct {
	ProductID         string
	CategoryIDs       []string
	Brand             string
	Quantity          int
	UnitPriceMinor    int64
	LineSubtotalMinor int64
}

// OrderContext is the point-in-time snapshot of a checkout that promotions
// are evaluated against. It is assembled entirely by the caller; the engine
// performs no lookups of its own.
type OrderContext struct {
	User          User
	Items         []Item
	SubtotalMinor int64
	ShippingMinor int64
	City          string
	// Code is the shopper-submitted promotion code, if any. Matching is
	// case-insensitive.
	Code string
	// UserUsageCount maps promotion id to how many times this user has
	// already applied it. Leave nil when per-user limits are not in play;
	// promotions that carry a per-user limit then fail closed.
	UserUsageCount map[string]int
}

// EvaluationResult scores one promotion against one order context.
type EvaluationResult struct {
	Promotion            Promotion `json:"promotion"`
	Eligible             bool      `json:"eligible"`
	MatchedSubtotalMinor int64     `json:"matched_subtotal_minor"`
	DiscountMinor        int64     `json:"discount_minor"`
	Reasons              []Reason  `json:"reasons,omitempty"`
}

// Evaluator scores candidate promotions against an order context. It is
// stateless apart from an injectable clock.
type Evaluator struct {
	now func() time.Time
}

// NewEvaluator returns an Evaluator using the wall clock.
func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// NewEvaluatorAt returns an Evaluator with a fixed clock, for deterministic
// previews and tests.
func NewEvaluatorAt(now func() time.Time) *Evaluator {
	return &Evaluator{now: now}
}

// Evaluate scores every candidate promotion against ctx.
//
// With includeIneligible false (the default checkout path) ineligible
// promotions are dropped and each remaining check short-circuits on its
// first failure. With includeIneligible true (diagnostics/preview) every
// candidate is returned, aligned with the input order, carrying the full set
// of failing reasons rather than just the first.
func (e *Evaluator) Evaluate(promotions []Promotion, ctx OrderContext, includeIneligible bool) []EvaluationResult {
	now := e.now()
	results := make([]EvaluationResult, 0, len(promotions))
	for i := range promotions {
		res := e.evaluateOne(&promotions[i], ctx, now, includeIneligible)
		if !res.Eligible && !includeIneligible {
			continue
		}
		results = append(results, res)
	}
	return results
}

func (e *Evaluator) evaluateOne(p *Promotion, ctx OrderContext, now time.Time, collectAll bool) EvaluationResult {
	res := EvaluationResult{Promotion: *p}

	fail := func(r Reason) bool {
		res.Reasons = append(res.Reasons, r)
		return !collectAll
	}

	// Checks run in a fixed order; every failure is a hard failure. In
	// diagnostics mode all checks still run so the reasons are complete.
	if !p.IsActive {
		if fail(ReasonInactive) {
			return res
		}
	}
	if !p.InWindow(now) {
		if fail(ReasonOutOfWindow) {
			return res
		}
	}
	if !targeted(p, ctx.User) {
		if fail(ReasonNotTargeted) {
			return res
		}
	}
	if ctx.SubtotalMinor < p.Eligibility.MinSubtotalMinor {
		if fail(ReasonBelowMinSubtotal) {
			return res
		}
	}
	if !cityEligible(p, ctx.City) {
		if fail(ReasonCityNotEligible) {
			return res
		}
	}
	if p.HasCode() && !strings.EqualFold(p.Code, strings.TrimSpace(ctx.Code)) {
		if fail(ReasonCodeMismatch) {
			return res
		}
	}
	if p.Limits.MaxUsesTotal != nil && p.Limits.UsesTotal >= *p.Limits.MaxUsesTotal {
		if fail(ReasonGlobalLimitReached) {
			return res
		}
	}
	if !underUserLimit(p, ctx.UserUsageCount) {
		if fail(ReasonUserLimitReached) {
			return res
		}
	}

	var matchedLines int
	res.MatchedSubtotalMinor, matchedLines = matchedSubtotal(p, ctx.Items)
	if matchedLines == 0 && p.Type != TypeFreeShipping {
		if fail(ReasonScopeNoMatch) {
			return res
		}
	}

	if len(res.Reasons) > 0 {
		// Diagnostics mode reached the end with recorded failures.
		return res
	}

	discount, reason := calculate(p, res.MatchedSubtotalMinor, ctx.ShippingMinor)
	if reason != "" {
		res.Reasons = append(res.Reasons, reason)
	}
	res.Eligible = true
	res.DiscountMinor = discount
	return res
}

// targeted applies the promotion's targeting mode. Unrecognized modes fail
// closed: a record authored for a future mode must never widen eligibility.
func targeted(p *Promotion, u User) bool {
	switch p.Targeting.Mode {
	case TargetAll, "":
		return true
	case TargetAllowlist:
		return u.UserID != "" && slices.Contains(p.Targeting.AllowedUserIDs, u.UserID)
	case TargetSegment:
		return intersectsFold(u.Segments, p.Targeting.AllowedSegments)
	case TargetRole:
		return intersectsFold(u.Roles, p.Targeting.AllowedRoles)
	default:
		return false
	}
}

func intersectsFold(have, allowed []string) bool {
	for _, h := range have {
		for _, a := range allowed {
			if strings.EqualFold(h, a) {
				return true
			}
		}
	}
	return false
}

func cityEligible(p *Promotion, city string) bool {
	if len(p.Eligibility.Cities) == 0 {
		return true
	}
	city = strings.TrimSpace(city)
	for _, c := range p.Eligibility.Cities {
		if strings.EqualFold(c, city) {
			return true
		}
	}
	return false
}

func underUserLimit(p *Promotion, counts map[string]int) bool {
	if p.Limits.MaxUsesPerUser == nil {
		return true
	}
	if counts == nil {
		// The caller did not resolve per-user usage at all; fail closed.
		return false
	}
	return counts[p.ID] < *p.Limits.MaxUsesPerUser
}

// matchedSubtotal sums line subtotals for items inside the promotion's
// scope: (storewide or matches include) and not matches exclude.
func matchedSubtotal(p *Promotion, items []Item) (sum int64, lines int) {
	for i := range items {
		it := &items[i]
		if !p.Scope.Storewide && !selectorMatches(p.Scope.Include, it) {
			continue
		}
		if selectorMatches(p.Scope.Exclude, it) {
			continue
		}
		sum += it.LineSubtotalMinor
		lines++
	}
	return sum, lines
}

func selectorMatches(s Selector, it *Item) bool {
	if s.IsEmpty() {
		return false
	}
	if slices.Contains(s.Products, it.ProductID) {
		return true
	}
	for _, cat := range it.CategoryIDs {
		if slices.Contains(s.Categories, cat) {
			return true
		}
	}
	for _, b := range s.Brands {
		if strings.EqualFold(b, it.Brand) {
			return true
		}
	}
	return false
}
