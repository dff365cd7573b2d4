package promotion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var evalNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func fixedEvaluator() *Evaluator {
	return NewEvaluatorAt(func() time.Time { return evalNow })
}

// storewide percent promotion that passes every check by default.
func basePromo(id string) Promotion {
	return Promotion{
		ID:        id,
		Name:      "promo " + id,
		Type:      TypePercent,
		Value:     10,
		IsActive:  true,
		Stacking:  StackingCombinable,
		Scope:     Scope{Storewide: true},
		Targeting: Targeting{Mode: TargetAll},
	}
}

func baseContext() OrderContext {
	return OrderContext{
		User: User{UserID: "u1", Roles: []string{"customer"}, Segments: []string{"vip"}},
		Items: []Item{
			{ProductID: "p1", CategoryIDs: []string{"c1"}, Brand: "acme", Quantity: 1, UnitPriceMinor: 6000, LineSubtotalMinor: 6000},
			{ProductID: "p2", CategoryIDs: []string{"c2"}, Brand: "globex", Quantity: 2, UnitPriceMinor: 2000, LineSubtotalMinor: 4000},
		},
		SubtotalMinor: 10000,
		ShippingMinor: 500,
		City:          "Lisbon",
	}
}

func TestEvaluate_SingleReasonPerFailure(t *testing.T) {
	past := evalNow.Add(-48 * time.Hour)
	future := evalNow.Add(48 * time.Hour)
	uses := 10
	perUser := 1

	tests := []struct {
		name   string
		mutate func(*Promotion)
		ctx    func(*OrderContext)
		want   Reason
	}{
		{
			name:   "inactive",
			mutate: func(p *Promotion) { p.IsActive = false },
			want:   ReasonInactive,
		},
		{
			name:   "not started",
			mutate: func(p *Promotion) { p.StartsAt = &future },
			want:   ReasonOutOfWindow,
		},
		{
			name:   "ended",
			mutate: func(p *Promotion) { p.EndsAt = &past },
			want:   ReasonOutOfWindow,
		},
		{
			name: "ends_at is exclusive",
			mutate: func(p *Promotion) {
				t := evalNow
				p.EndsAt = &t
			},
			want: ReasonOutOfWindow,
		},
		{
			name: "allowlist miss",
			mutate: func(p *Promotion) {
				p.Targeting = Targeting{Mode: TargetAllowlist, AllowedUserIDs: []string{"someone-else"}}
			},
			want: ReasonNotTargeted,
		},
		{
			name: "segment miss",
			mutate: func(p *Promotion) {
				p.Targeting = Targeting{Mode: TargetSegment, AllowedSegments: []string{"wholesale"}}
			},
			want: ReasonNotTargeted,
		},
		{
			name: "role miss",
			mutate: func(p *Promotion) {
				p.Targeting = Targeting{Mode: TargetRole, AllowedRoles: []string{"staff"}}
			},
			want: ReasonNotTargeted,
		},
		{
			name: "unknown mode fails closed",
			mutate: func(p *Promotion) {
				p.Targeting = Targeting{Mode: TargetMode("COHORT")}
			},
			want: ReasonNotTargeted,
		},
		{
			name:   "below min subtotal",
			mutate: func(p *Promotion) { p.Eligibility.MinSubtotalMinor = 20000 },
			want:   ReasonBelowMinSubtotal,
		},
		{
			name:   "city not eligible",
			mutate: func(p *Promotion) { p.Eligibility.Cities = []string{"porto"} },
			want:   ReasonCityNotEligible,
		},
		{
			name:   "code required but absent",
			mutate: func(p *Promotion) { p.Code = "SAVE10" },
			want:   ReasonCodeMismatch,
		},
		{
			name:   "code mismatch",
			mutate: func(p *Promotion) { p.Code = "SAVE10" },
			ctx:    func(c *OrderContext) { c.Code = "OTHER" },
			want:   ReasonCodeMismatch,
		},
		{
			name: "global limit reached",
			mutate: func(p *Promotion) {
				p.Limits = Limits{MaxUsesTotal: &uses, UsesTotal: 10}
			},
			want: ReasonGlobalLimitReached,
		},
		{
			name: "per-user limit reached",
			mutate: func(p *Promotion) {
				p.Limits = Limits{MaxUsesPerUser: &perUser}
			},
			ctx: func(c *OrderContext) {
				c.UserUsageCount = map[string]int{"p": 1}
			},
			want: ReasonUserLimitReached,
		},
		{
			name: "per-user limit with nil counts fails closed",
			mutate: func(p *Promotion) {
				p.Limits = Limits{MaxUsesPerUser: &perUser}
			},
			want: ReasonUserLimitReached,
		},
		{
			name: "scope matches nothing",
			mutate: func(p *Promotion) {
				p.Scope = Scope{Include: Selector{Products: []string{"p99"}}}
			},
			want: ReasonScopeNoMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			promo := basePromo("p")
			tt.mutate(&promo)
			ctx := baseContext()
			if tt.ctx != nil {
				tt.ctx(&ctx)
			}

			// Default mode drops the entry entirely.
			require.Empty(t, fixedEvaluator().Evaluate([]Promotion{promo}, ctx, false))

			// Diagnostics mode keeps it with the failing reason.
			got := fixedEvaluator().Evaluate([]Promotion{promo}, ctx, true)
			require.Len(t, got, 1)
			assert.False(t, got[0].Eligible)
			assert.Contains(t, got[0].Reasons, tt.want)
		})
	}
}

func TestEvaluate_EligibleStorewidePercent(t *testing.T) {
	got := fixedEvaluator().Evaluate([]Promotion{basePromo("p1")}, baseContext(), false)
	require.Len(t, got, 1)
	assert.True(t, got[0].Eligible)
	assert.Empty(t, got[0].Reasons)
	assert.Equal(t, int64(10000), got[0].MatchedSubtotalMinor)
	assert.Equal(t, int64(1000), got[0].DiscountMinor)
}

func TestEvaluate_DateWindow(t *testing.T) {
	starts := evalNow.Add(-24 * time.Hour)
	ends := evalNow.Add(24 * time.Hour)
	promo := basePromo("windowed")
	promo.StartsAt = &starts
	promo.EndsAt = &ends

	within := fixedEvaluator().Evaluate([]Promotion{promo}, baseContext(), false)
	require.Len(t, within, 1)
	assert.True(t, within[0].Eligible)

	later := NewEvaluatorAt(func() time.Time { return evalNow.Add(48 * time.Hour) })
	after := later.Evaluate([]Promotion{promo}, baseContext(), true)
	require.Len(t, after, 1)
	assert.False(t, after[0].Eligible)
	assert.Contains(t, after[0].Reasons, ReasonOutOfWindow)
}

func TestEvaluate_CodeSemantics(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		autoApply bool
		submitted string
		eligible  bool
	}{
		{"matching code", "SAVE10", false, "SAVE10", true},
		{"case-insensitive match", "SAVE10", false, "save10", true},
		{"whitespace trimmed", "SAVE10", false, "  SAVE10 ", true},
		{"auto-apply without code", "", true, "", true},
		{"auto-apply ignores different submitted code", "SAVE10", true, "OTHER", true},
		{"no code configured", "", false, "IGNORED", true},
		{"required code absent", "SAVE10", false, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			promo := basePromo("p")
			promo.Code = tt.code
			promo.AutoApply = tt.autoApply
			ctx := baseContext()
			ctx.Code = tt.submitted

			got := fixedEvaluator().Evaluate([]Promotion{promo}, ctx, false)
			if tt.eligible {
				require.Len(t, got, 1)
				assert.True(t, got[0].Eligible)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestEvaluate_ScopeMatchedSubtotal(t *testing.T) {
	tests := []struct {
		name        string
		scope       Scope
		wantMatched int64
	}{
		{
			name:        "storewide matches all lines",
			scope:       Scope{Storewide: true},
			wantMatched: 10000,
		},
		{
			name:        "include by product",
			scope:       Scope{Include: Selector{Products: []string{"p1"}}},
			wantMatched: 6000,
		},
		{
			name:        "include by category",
			scope:       Scope{Include: Selector{Categories: []string{"c2"}}},
			wantMatched: 4000,
		},
		{
			name:        "include by brand case-insensitive",
			scope:       Scope{Include: Selector{Brands: []string{"ACME"}}},
			wantMatched: 6000,
		},
		{
			name:        "storewide with exclude",
			scope:       Scope{Storewide: true, Exclude: Selector{Products: []string{"p2"}}},
			wantMatched: 6000,
		},
		{
			name: "exclude overrides include",
			scope: Scope{
				Include: Selector{Products: []string{"p1", "p2"}},
				Exclude: Selector{Products: []string{"p1"}},
			},
			wantMatched: 4000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			promo := basePromo("p")
			promo.Scope = tt.scope

			got := fixedEvaluator().Evaluate([]Promotion{promo}, baseContext(), false)
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantMatched, got[0].MatchedSubtotalMinor)
		})
	}
}

func TestEvaluate_PerUserLimitUnderCount(t *testing.T) {
	perUser := 3
	promo := basePromo("p")
	promo.Limits.MaxUsesPerUser = &perUser

	ctx := baseContext()
	ctx.UserUsageCount = map[string]int{"p": 2}

	got := fixedEvaluator().Evaluate([]Promotion{promo}, ctx, false)
	require.Len(t, got, 1)
	assert.True(t, got[0].Eligible)

	// An empty (non-nil) map means "resolved, never used".
	ctx.UserUsageCount = map[string]int{}
	got = fixedEvaluator().Evaluate([]Promotion{promo}, ctx, false)
	require.Len(t, got, 1)
	assert.True(t, got[0].Eligible)
}

func TestEvaluate_DiagnosticsCollectsAllReasons(t *testing.T) {
	uses := 5
	promo := basePromo("p")
	promo.IsActive = false
	promo.Code = "SAVE10"
	promo.Eligibility.MinSubtotalMinor = 99999
	promo.Limits = Limits{MaxUsesTotal: &uses, UsesTotal: 5}
	promo.Scope = Scope{Include: Selector{Products: []string{"nope"}}}

	got := fixedEvaluator().Evaluate([]Promotion{promo}, baseContext(), true)
	require.Len(t, got, 1)
	assert.False(t, got[0].Eligible)
	assert.ElementsMatch(t, []Reason{
		ReasonInactive,
		ReasonBelowMinSubtotal,
		ReasonCodeMismatch,
		ReasonGlobalLimitReached,
		ReasonScopeNoMatch,
	}, got[0].Reasons)
}

func TestEvaluate_OutputAlignedWithInput(t *testing.T) {
	bad := basePromo("b")
	bad.IsActive = false
	promos := []Promotion{basePromo("a"), bad, basePromo("c")}

	got := fixedEvaluator().Evaluate(promos, baseContext(), true)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Promotion.ID)
	assert.Equal(t, "b", got[1].Promotion.ID)
	assert.Equal(t, "c", got[2].Promotion.ID)
}

func TestEvaluate_Idempotent(t *testing.T) {
	promos := []Promotion{basePromo("a"), basePromo("b")}
	ctx := baseContext()

	first := fixedEvaluator().Evaluate(promos, ctx, true)
	second := fixedEvaluator().Evaluate(promos, ctx, true)
	assert.Equal(t, first, second)

	sel1 := Select(first, SelectOptions{})
	sel2 := Select(second, SelectOptions{})
	assert.Equal(t, sel1, sel2)
}

func TestEvaluate_FreeShippingIgnoresScopeOnItems(t *testing.T) {
	promo := basePromo("ship")
	promo.Type = TypeFreeShipping
	promo.Value = 0
	promo.Scope = Scope{Include: Selector{Products: []string{"not-in-cart"}}}

	got := fixedEvaluator().Evaluate([]Promotion{promo}, baseContext(), false)
	require.Len(t, got, 1)
	assert.True(t, got[0].Eligible)
	assert.Equal(t, int64(500), got[0].DiscountMinor)
}

func TestEvaluate_UnknownTypeZeroDiscount(t *testing.T) {
	promo := basePromo("future")
	promo.Type = Type("BUY_X_GET_Y")

	got := fixedEvaluator().Evaluate([]Promotion{promo}, baseContext(), false)
	require.Len(t, got, 1)
	assert.True(t, got[0].Eligible)
	assert.Zero(t, got[0].DiscountMinor)
	assert.Contains(t, got[0].Reasons, ReasonUnknownType)
}
