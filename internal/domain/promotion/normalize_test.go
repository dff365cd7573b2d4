package promotion

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_CreateRequiresNameAndType(t *testing.T) {
	tests := []struct {
		name     string
		patch    Patch
		wantAttr string
	}{
		{
			name:     "missing name",
			patch:    Patch{Type: NewField(TypePercent)},
			wantAttr: "name",
		},
		{
			name:     "blank name",
			patch:    Patch{Name: NewField("   "), Type: NewField(TypePercent)},
			wantAttr: "name",
		},
		{
			name:     "missing type",
			patch:    Patch{Name: NewField("Summer Sale")},
			wantAttr: "type",
		},
		{
			name: "unsupported type",
			patch: Patch{
				Name: NewField("Summer Sale"),
				Type: NewField(Type("BOGOF")),
			},
			wantAttr: "type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.patch, nil)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantAttr, verr.Attr)
		})
	}
}

func TestNormalize_CreateDefaults(t *testing.T) {
	p, err := Normalize(Patch{
		Name:  NewField("Summer Sale"),
		Type:  NewField(TypePercent),
		Value: NewField[int64](20),
	}, nil)
	require.NoError(t, err)

	assert.True(t, p.IsActive)
	assert.True(t, p.Scope.Storewide)
	assert.Equal(t, TargetAll, p.Targeting.Mode)
	assert.Equal(t, StackingCombinable, p.Stacking)
	assert.Equal(t, int64(20), p.Value)
	assert.Zero(t, p.Limits.UsesTotal)
}

func TestNormalize_PatchFallsBackToExisting(t *testing.T) {
	existing := &Promotion{
		ID:       "promo-1",
		Name:     "Summer Sale",
		Type:     TypePercent,
		Value:    20,
		Code:     "SUMMER20",
		IsActive: true,
		Priority: 5,
		Stacking: StackingExclusive,
		Scope:    Scope{Storewide: true},
		Limits:   Limits{UsesTotal: 42},
	}

	p, err := Normalize(Patch{Description: NewField("twenty percent off")}, existing)
	require.NoError(t, err)

	assert.Equal(t, "promo-1", p.ID)
	assert.Equal(t, "Summer Sale", p.Name)
	assert.Equal(t, "twenty percent off", p.Description)
	assert.Equal(t, "SUMMER20", p.Code)
	assert.Equal(t, 5, p.Priority)
	assert.Equal(t, StackingExclusive, p.Stacking)
	assert.Equal(t, 42, p.Limits.UsesTotal)
}

func TestNormalize_ExplicitNullClears(t *testing.T) {
	ends := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	cap := int64(500)
	maxUses := 100
	existing := &Promotion{
		Name:        "Clearance",
		Type:        TypeFixedAmount,
		Value:       250,
		Code:        "CLEAR",
		EndsAt:      &ends,
		Eligibility: Eligibility{MaxDiscountMinor: &cap, Cities: []string{"lisbon"}},
		Limits:      Limits{MaxUsesTotal: &maxUses, UsesTotal: 7},
	}

	p, err := Normalize(Patch{
		Code:        Null[string](),
		EndsAt:      Null[time.Time](),
		Eligibility: &EligibilityPatch{MaxDiscountMinor: Null[int64](), Cities: Null[[]string]()},
		Limits:      &LimitsPatch{MaxUsesTotal: Null[int]()},
	}, existing)
	require.NoError(t, err)

	assert.Empty(t, p.Code)
	assert.Nil(t, p.EndsAt)
	assert.Nil(t, p.Eligibility.MaxDiscountMinor)
	assert.Nil(t, p.Eligibility.Cities)
	assert.Nil(t, p.Limits.MaxUsesTotal)
	assert.Equal(t, 7, p.Limits.UsesTotal, "uses_total survives every patch")
}

func TestNormalize_UsesTotalNeverFromPatch(t *testing.T) {
	existing := &Promotion{
		Name:   "Loyalty",
		Type:   TypePercent,
		Value:  10,
		Limits: Limits{UsesTotal: 13},
	}

	p, err := Normalize(Patch{Limits: &LimitsPatch{MaxUsesTotal: NewNullable(50)}}, existing)
	require.NoError(t, err)

	require.NotNil(t, p.Limits.MaxUsesTotal)
	assert.Equal(t, 50, *p.Limits.MaxUsesTotal)
	assert.Equal(t, 13, p.Limits.UsesTotal)
}

func TestNormalize_CodeCanonicalized(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"trimmed and uppercased", "  summer20 ", "SUMMER20"},
		{"already canonical", "SAVE5", "SAVE5"},
		{"whitespace only clears", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Normalize(Patch{
				Name: NewField("X"),
				Type: NewField(TypePercent),
				Code: NewNullable(tt.code),
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Code)
		})
	}
}

func TestNormalize_FreeShippingForcesZeroValue(t *testing.T) {
	p, err := Normalize(Patch{
		Name:  NewField("Free delivery"),
		Type:  NewField(TypeFreeShipping),
		Value: NewField[int64](999),
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, p.Value)
}

func TestNormalize_NegativeValueClamped(t *testing.T) {
	p, err := Normalize(Patch{
		Name:  NewField("X"),
		Type:  NewField(TypeFixedAmount),
		Value: NewField[int64](-100),
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, p.Value)
}

func TestNormalize_ListSanitation(t *testing.T) {
	p, err := Normalize(Patch{
		Name: NewField("Scoped"),
		Type: NewField(TypePercent),
		Scope: &ScopePatch{
			Storewide: NewField(false),
			Include: &SelectorPatch{
				Products: NewField([]string{" p1 ", "p2", "p1", "", "p2"}),
				Brands:   NewField([]string{"Acme", " ACME ", "Globex"}),
			},
		},
		Targeting: &TargetingPatch{
			Mode:            NewField(TargetSegment),
			AllowedSegments: NewField([]string{"VIP", "vip", " Gold "}),
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p2"}, p.Scope.Include.Products)
	assert.Equal(t, []string{"acme", "globex"}, p.Scope.Include.Brands)
	assert.Equal(t, []string{"vip", "gold"}, p.Targeting.AllowedSegments)
}

func TestNormalize_ListCap(t *testing.T) {
	ids := make([]string, maxListEntries+50)
	for i := range ids {
		ids[i] = "p" + strconv.Itoa(i)
	}

	p, err := Normalize(Patch{
		Name:  NewField("Big scope"),
		Type:  NewField(TypePercent),
		Scope: &ScopePatch{Include: &SelectorPatch{Products: NewField(ids)}},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, p.Scope.Include.Products, maxListEntries)
}

func TestNormalize_UnknownStackingPolicyKeepsStored(t *testing.T) {
	existing := &Promotion{Name: "X", Type: TypePercent, Stacking: StackingExclusive}
	p, err := Normalize(Patch{Stacking: NewField(StackingPolicy("SOMETIMES"))}, existing)
	require.NoError(t, err)
	assert.Equal(t, StackingExclusive, p.Stacking)
}

func TestNormalize_ScopePatchMergesSelectorsIndependently(t *testing.T) {
	existing := &Promotion{
		Name: "Scoped",
		Type: TypePercent,
		Scope: Scope{
			Include: Selector{Products: []string{"p1"}},
			Exclude: Selector{Products: []string{"p9"}},
		},
	}

	p, err := Normalize(Patch{
		Scope: &ScopePatch{Include: &SelectorPatch{Categories: NewField([]string{"c1"})}},
	}, existing)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1"}, p.Scope.Include.Products, "untouched list survives")
	assert.Equal(t, []string{"c1"}, p.Scope.Include.Categories)
	assert.Equal(t, []string{"p9"}, p.Scope.Exclude.Products)
}
