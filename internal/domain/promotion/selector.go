package promotion

// SelectedPromotion is one applied entry in a selection.
type SelectedPromotion struct {
	PromotionID   string   `json:"promotion_id"`
	DiscountMinor int64    `json:"discount_minor"`
	Reasons       []Reason `json:"reasons,omitempty"`
}

// SelectionResult is the final, non-overlapping set of applied promotions.
// The aggregate discount is not clamped against order totals here; the
// caller owns that, since only it knows the full order pricing.
type SelectionResult struct {
	Selected           []SelectedPromotion `json:"selected"`
	TotalDiscountMinor int64               `json:"total_discount_minor"`
}

// SelectOptions tunes selection behaviour.
type SelectOptions struct {
	// AllowZero retains zero-discount eligible promotions in the result.
	// Preview surfaces use it for visibility; real application drops them,
	// since recording a no-op promotion has no effect worth persisting.
	AllowZero bool
}

// Select resolves the winning promotion set from evaluation results. Any
// ineligible diagnostics entries passed through are ignored.
//
// Eligible results are partitioned by stacking policy. The best single
// EXCLUSIVE promotion (priority desc, then discount desc, then id asc, so
// fully deterministic) competes against the sum of all COMBINABLE discounts;
// the larger total wins, and a numeric tie goes to the combinable set.
func Select(evaluated []EvaluationResult, opts SelectOptions) SelectionResult {
	var (
		exclusive   []*EvaluationResult
		combinable  []*EvaluationResult
		combinedSum int64
	)
	for i := range evaluated {
		res := &evaluated[i]
		if !res.Eligible {
			continue
		}
		if res.Promotion.Stacking == StackingExclusive {
			exclusive = append(exclusive, res)
		} else {
			combinable = append(combinable, res)
			combinedSum += res.DiscountMinor
		}
	}

	best := bestExclusive(exclusive)
	if best != nil && best.DiscountMinor > combinedSum {
		return buildResult([]*EvaluationResult{best}, opts)
	}
	return buildResult(combinable, opts)
}

// bestExclusive picks the winning EXCLUSIVE candidate, or nil when there are
// none. Priority beats raw discount amount; the id tie-break guarantees the
// same winner for identical inputs regardless of input order.
func bestExclusive(candidates []*EvaluationResult) *EvaluationResult {
	var best *EvaluationResult
	for _, c := range candidates {
		if best == nil || exclusiveLess(best, c) {
			best = c
		}
	}
	return best
}

// exclusiveLess reports whether b beats a.
func exclusiveLess(a, b *EvaluationResult) bool {
	if a.Promotion.Priority != b.Promotion.Priority {
		return b.Promotion.Priority > a.Promotion.Priority
	}
	if a.DiscountMinor != b.DiscountMinor {
		return b.DiscountMinor > a.DiscountMinor
	}
	return b.Promotion.ID < a.Promotion.ID
}

func buildResult(winners []*EvaluationResult, opts SelectOptions) SelectionResult {
	out := SelectionResult{Selected: make([]SelectedPromotion, 0, len(winners))}
	for _, w := range winners {
		if w.DiscountMinor == 0 && !opts.AllowZero {
			continue
		}
		out.Selected = append(out.Selected, SelectedPromotion{
			PromotionID:   w.Promotion.ID,
			DiscountMinor: w.DiscountMinor,
			Reasons:       w.Reasons,
		})
		out.TotalDiscountMinor += w.DiscountMinor
	}
	return out
}
