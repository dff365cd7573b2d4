// Package promotion implements the discount rule engine: canonical rule
// records, merge-on-patch normalization, per-checkout eligibility evaluation,
// exact minor-unit discount calculation, and stacking-aware selection.
//
// All four stages are pure and stateless: identical inputs produce identical
// outputs, which keeps preview endpoints side-effect free and makes the
// package safe to call concurrently without locking.
package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a promotion id or code resolves to nothing.
	ErrNotFound = errors.New("promotion not found")
	// ErrCodeConflict is returned when another active promotion already owns
	// the code being written.
	ErrCodeConflict = errors.New("promotion code already in use")
	// ErrUsageLimitReached is returned by RegisterUse when the conditional
	// increment would exceed max_uses_total.
	ErrUsageLimitReached = errors.New("promotion usage limit reached")
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercent discounts a percentage of the matched subtotal.
	TypePercent Type = "PERCENT"
	// TypeFixedAmount discounts a fixed minor-unit amount, capped at the
	// matched subtotal.
	TypeFixedAmount Type = "FIXED_AMOUNT"
	// TypeFreeShipping waives the order's shipping cost in full.
	TypeFreeShipping Type = "FREE_SHIPPING"
)

// KnownTypes returns the closed set of promotion types accepted on write.
// The evaluator still degrades gracefully on records carrying a type outside
// this set (see Reason UNKNOWN_TYPE).
func KnownTypes() []Type {
	return []Type{TypePercent, TypeFixedAmount, TypeFreeShipping}
}

// StackingPolicy controls whether a promotion combines with others.
type StackingPolicy string

const (
	// StackingExclusive promotions must win alone against all others.
	StackingExclusive StackingPolicy = "EXCLUSIVE"
	// StackingCombinable promotions may apply together.
	StackingCombinable StackingPolicy = "COMBINABLE"
)

// TargetMode controls which users a promotion applies to.
type TargetMode string

const (
	TargetAll       TargetMode = "ALL"
	TargetAllowlist TargetMode = "ALLOWLIST"
	TargetSegment   TargetMode = "SEGMENT"
	TargetRole      TargetMode = "ROLE"
)

// Selector names catalog entities by product id, category id, or brand.
type Selector struct {
	Products   []string `json:"products,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Brands     []string `json:"brands,omitempty"`
}

// IsEmpty reports whether the selector names nothing.
func (s Selector) IsEmpty() bool {
	return len(s.Products) == 0 && len(s.Categories) == 0 && len(s.Brands) == 0
}

// Scope restricts a promotion to a subset of catalog items.
// Exclude always overrides Include.
type Scope struct {
	Storewide bool     `json:"storewide"`
	Include   Selector `json:"include"`
	Exclude   Selector `json:"exclude"`
}

// Targeting restricts a promotion to a subset of users.
type Targeting struct {
	Mode            TargetMode `json:"mode"`
	AllowedUserIDs  []string   `json:"allowed_user_ids,omitempty"`
	AllowedSegments []string   `json:"allowed_segments,omitempty"`
	AllowedRoles    []string   `json:"allowed_roles,omitempty"`
}

// Eligibility holds order-level constraints.
type Eligibility struct {
	MinSubtotalMinor int64    `json:"min_subtotal_minor"`
	MaxDiscountMinor *int64   `json:"max_discount_minor,omitempty"`
	Cities           []string `json:"cities,omitempty"`
}

// Limits holds usage constraints. UsesTotal is server-owned: it is only
// advanced by the order-completion step (Repository.RegisterUse) and is never
// writable through a patch.
type Limits struct {
	MaxUsesTotal   *int `json:"max_uses_total,omitempty"`
	MaxUsesPerUser *int `json:"max_uses_per_user,omitempty"`
	UsesTotal      int  `json:"uses_total"`
}

// Promotion is the canonical, admin-authored discount rule.
type Promotion struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Type  Type  `json:"type"`
	Value int64 `json:"value"`

	// Code is the canonical (trimmed, upper-cased) checkout code, empty when
	// the promotion has none. AutoApply promotions are considered regardless
	// of any submitted code.
	Code      string `json:"code,omitempty"`
	AutoApply bool   `json:"auto_apply"`

	// Validity window: StartsAt <= now < EndsAt, open-ended when nil.
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`

	IsActive bool           `json:"is_active"`
	Priority int            `json:"priority"`
	Stacking StackingPolicy `json:"stacking_policy"`

	Scope       Scope       `json:"scope"`
	Targeting   Targeting   `json:"targeting"`
	Eligibility Eligibility `json:"eligibility"`
	Limits      Limits      `json:"limits"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCode reports whether a checkout must submit a code for this promotion
// to apply. AutoApply makes the rule eligible on its own.
func (p *Promotion) HasCode() bool {
	return p.Code != "" && !p.AutoApply
}

// InWindow reports whether now falls inside the promotion's validity window.
func (p *Promotion) InWindow(now time.Time) bool {
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false
	}
	if p.EndsAt != nil && !now.Before(*p.EndsAt) {
		return false
	}
	return true
}

// Reason is a stable machine-readable token explaining why a promotion was
// rejected (or degraded) during evaluation. Tokens are part of the API
// contract: clients match on them, never on free text.
type Reason string

const (
	ReasonInactive           Reason = "INACTIVE"
	ReasonOutOfWindow        Reason = "OUT_OF_WINDOW"
	ReasonNotTargeted        Reason = "NOT_TARGETED"
	ReasonBelowMinSubtotal   Reason = "BELOW_MIN_SUBTOTAL"
	ReasonCityNotEligible    Reason = "CITY_NOT_ELIGIBLE"
	ReasonCodeMismatch       Reason = "CODE_MISMATCH"
	ReasonGlobalLimitReached Reason = "GLOBAL_LIMIT_REACHED"
	ReasonUserLimitReached   Reason = "USER_LIMIT_REACHED"
	ReasonScopeNoMatch       Reason = "SCOPE_NO_MATCH"
	ReasonUnknownType        Reason = "UNKNOWN_TYPE"
)

// Repository provides persistence for promotion rules. Implementations own
// the uses_total counter: RegisterUse must be an atomic conditional
// increment so concurrent checkouts cannot oversell a capped promotion.
type Repository interface {
	Create(ctx context.Context, p *Promotion) error
	Update(ctx context.Context, p *Promotion) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*Promotion, error)
	List(ctx context.Context) ([]Promotion, error)
	// ListActive returns active promotions whose window contains now.
	ListActive(ctx context.Context, now time.Time) ([]Promotion, error)
	// UserUsageCounts returns promotion id -> times the user applied it.
	UserUsageCounts(ctx context.Context, userID string) (map[string]int, error)
	// RegisterUse increments uses_total only while it stays within
	// max_uses_total, returning ErrUsageLimitReached otherwise.
	RegisterUse(ctx context.Context, promotionID string) error
}
