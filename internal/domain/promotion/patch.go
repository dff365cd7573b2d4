package promotion

import (
	"bytes"
	"encoding/json"
	"time"
)

// Field is a patch attribute that distinguishes "absent from the patch" from
// "present". A JSON null on a Field is treated as absent, since the attribute
// is not clearable.
type Field[T any] struct {
	Value T
	Set   bool
}

// NewField returns a set Field carrying v.
func NewField[T any](v T) Field[T] {
	return Field[T]{Value: v, Set: true}
}

// Or returns the patched value when set, otherwise fallback.
func (f Field[T]) Or(fallback T) T {
	if f.Set {
		return f.Value
	}
	return fallback
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, jsonNull) {
		*f = Field[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Field[T]{Value: v, Set: true}
	return nil
}

// Nullable is a patch attribute with three states: absent, explicit null
// (clear the stored value), or a replacement value.
type Nullable[T any] struct {
	Value T
	Set   bool
	Null  bool
}

// NewNullable returns a set, non-null Nullable carrying v.
func NewNullable[T any](v T) Nullable[T] {
	return Nullable[T]{Value: v, Set: true}
}

// Null returns an explicit-null Nullable for T.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true, Null: true}
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, jsonNull) {
		*n = Nullable[T]{Set: true, Null: true}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Nullable[T]{Value: v, Set: true}
	return nil
}

var jsonNull = []byte("null")

// Patch is a partial promotion definition as authored by an administrator.
// Absent attributes fall back to the existing canonical record; explicit
// nulls clear nullable attributes. The zero Patch changes nothing.
type Patch struct {
	Name        Field[string] `json:"name"`
	Description Field[string] `json:"description"`

	Type  Field[Type]  `json:"type"`
	Value Field[int64] `json:"value"`

	Code      Nullable[string] `json:"code"`
	AutoApply Field[bool]      `json:"auto_apply"`

	StartsAt Nullable[time.Time] `json:"starts_at"`
	EndsAt   Nullable[time.Time] `json:"ends_at"`

	IsActive Field[bool]           `json:"is_active"`
	Priority Field[int]            `json:"priority"`
	Stacking Field[StackingPolicy] `json:"stacking_policy"`

	Scope       *ScopePatch       `json:"scope"`
	Targeting   *TargetingPatch   `json:"targeting"`
	Eligibility *EligibilityPatch `json:"eligibility"`
	Limits      *LimitsPatch      `json:"limits"`
}

// ScopePatch partially updates a promotion's scope.
type ScopePatch struct {
	Storewide Field[bool]    `json:"storewide"`
	Include   *SelectorPatch `json:"include"`
	Exclude   *SelectorPatch `json:"exclude"`
}

// SelectorPatch partially updates one scope selector. Each list is replaced
// wholesale when present; there is no per-element merge.
type SelectorPatch struct {
	Products   Field[[]string] `json:"products"`
	Categories Field[[]string] `json:"categories"`
	Brands     Field[[]string] `json:"brands"`
}

// TargetingPatch partially updates a promotion's targeting.
type TargetingPatch struct {
	Mode            Field[TargetMode] `json:"mode"`
	AllowedUserIDs  Field[[]string]   `json:"allowed_user_ids"`
	AllowedSegments Field[[]string]   `json:"allowed_segments"`
	AllowedRoles    Field[[]string]   `json:"allowed_roles"`
}

// EligibilityPatch partially updates a promotion's order-level constraints.
type EligibilityPatch struct {
	MinSubtotalMinor Field[int64]       `json:"min_subtotal_minor"`
	MaxDiscountMinor Nullable[int64]    `json:"max_discount_minor"`
	Cities           Nullable[[]string] `json:"cities"`
}

// LimitsPatch partially updates a promotion's usage limits. The uses_total
// counter is deliberately absent: it is server-owned.
type LimitsPatch struct {
	MaxUsesTotal   Nullable[int] `json:"max_uses_total"`
	MaxUsesPerUser Nullable[int] `json:"max_uses_per_user"`
}
