package promotion

import (
	"fmt"
	"slices"
	"strings"
)

// maxListEntries caps every list-valued attribute after de-duplication.
const maxListEntries = 200

// ValidationError reports a structurally invalid patch: a required top-level
// attribute is missing or carries an unusable value. Optional malformed input
// never produces a ValidationError; it is sanitized instead.
type ValidationError struct {
	Attr   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid promotion: %s %s", e.Attr, e.Detail)
}

// Normalize merges a partial definition into the existing canonical record
// and returns the new canonical promotion. Pass existing == nil on create.
//
// Merge semantics per attribute: present in the patch overrides, absent falls
// back to existing, explicit null clears a nullable attribute. Lists are
// sanitized independently: ids are trimmed, strings trimmed and lower-cased,
// both de-duplicated preserving first occurrence and capped at 200 entries.
// Limits.UsesTotal is always sourced from existing, never from the patch.
func Normalize(patch Patch, existing *Promotion) (Promotion, error) {
	var out Promotion
	if existing != nil {
		out = *existing
	} else {
		out.IsActive = true
		out.Stacking = StackingCombinable
		out.Scope.Storewide = true
		out.Targeting.Mode = TargetAll
	}

	out.Name = strings.TrimSpace(patch.Name.Or(out.Name))
	if out.Name == "" {
		return Promotion{}, &ValidationError{Attr: "name", Detail: "is required"}
	}
	out.Description = strings.TrimSpace(patch.Description.Or(out.Description))

	out.Type = Type(strings.ToUpper(strings.TrimSpace(string(patch.Type.Or(out.Type)))))
	if out.Type == "" {
		return Promotion{}, &ValidationError{Attr: "type", Detail: "is required"}
	}
	if !slices.Contains(KnownTypes(), out.Type) {
		return Promotion{}, &ValidationError{Attr: "type", Detail: fmt.Sprintf("%q is not supported", out.Type)}
	}

	out.Value = max(patch.Value.Or(out.Value), 0)
	if out.Type == TypeFreeShipping {
		// Free shipping always waives the full amount; a stray value would
		// silently change meaning if a later edit switched the type.
		out.Value = 0
	}

	if patch.Code.Set {
		if patch.Code.Null {
			out.Code = ""
		} else {
			out.Code = strings.ToUpper(strings.TrimSpace(patch.Code.Value))
		}
	}
	out.AutoApply = patch.AutoApply.Or(out.AutoApply)

	if patch.StartsAt.Set {
		out.StartsAt = nil
		if !patch.StartsAt.Null {
			t := patch.StartsAt.Value
			out.StartsAt = &t
		}
	}
	if patch.EndsAt.Set {
		out.EndsAt = nil
		if !patch.EndsAt.Null {
			t := patch.EndsAt.Value
			out.EndsAt = &t
		}
	}

	out.IsActive = patch.IsActive.Or(out.IsActive)
	out.Priority = patch.Priority.Or(out.Priority)
	if patch.Stacking.Set {
		switch s := StackingPolicy(strings.ToUpper(string(patch.Stacking.Value))); s {
		case StackingExclusive, StackingCombinable:
			out.Stacking = s
		}
		// Unknown policies are dropped, keeping the stored value.
	}

	out.Scope = mergeScope(patch.Scope, out.Scope)
	out.Targeting = mergeTargeting(patch.Targeting, out.Targeting)
	out.Eligibility = mergeEligibility(patch.Eligibility, out.Eligibility)

	usesTotal := out.Limits.UsesTotal
	out.Limits = mergeLimits(patch.Limits, out.Limits)
	out.Limits.UsesTotal = usesTotal

	return out, nil
}

func mergeScope(p *ScopePatch, cur Scope) Scope {
	cur.Include = sanitizeSelector(cur.Include)
	cur.Exclude = sanitizeSelector(cur.Exclude)
	if p == nil {
		return cur
	}
	cur.Storewide = p.Storewide.Or(cur.Storewide)
	cur.Include = mergeSelector(p.Include, cur.Include)
	cur.Exclude = mergeSelector(p.Exclude, cur.Exclude)
	return cur
}

func mergeSelector(p *SelectorPatch, cur Selector) Selector {
	if p == nil {
		return cur
	}
	if p.Products.Set {
		cur.Products = normalizeIDs(p.Products.Value)
	}
	if p.Categories.Set {
		cur.Categories = normalizeIDs(p.Categories.Value)
	}
	if p.Brands.Set {
		cur.Brands = normalizeTokens(p.Brands.Value)
	}
	return cur
}

func sanitizeSelector(s Selector) Selector {
	s.Products = normalizeIDs(s.Products)
	s.Categories = normalizeIDs(s.Categories)
	s.Brands = normalizeTokens(s.Brands)
	return s
}

func mergeTargeting(p *TargetingPatch, cur Targeting) Targeting {
	cur.AllowedUserIDs = normalizeIDs(cur.AllowedUserIDs)
	cur.AllowedSegments = normalizeTokens(cur.AllowedSegments)
	cur.AllowedRoles = normalizeTokens(cur.AllowedRoles)
	if p == nil {
		return cur
	}
	if p.Mode.Set {
		// Unknown modes are stored as-is; the evaluator fails them closed.
		cur.Mode = TargetMode(strings.ToUpper(strings.TrimSpace(string(p.Mode.Value))))
	}
	if p.AllowedUserIDs.Set {
		cur.AllowedUserIDs = normalizeIDs(p.AllowedUserIDs.Value)
	}
	if p.AllowedSegments.Set {
		cur.AllowedSegments = normalizeTokens(p.AllowedSegments.Value)
	}
	if p.AllowedRoles.Set {
		cur.AllowedRoles = normalizeTokens(p.AllowedRoles.Value)
	}
	return cur
}

func mergeEligibility(p *EligibilityPatch, cur Eligibility) Eligibility {
	cur.Cities = normalizeTokens(cur.Cities)
	if p == nil {
		return cur
	}
	if p.MinSubtotalMinor.Set {
		cur.MinSubtotalMinor = max(p.MinSubtotalMinor.Value, 0)
	}
	if p.MaxDiscountMinor.Set {
		cur.MaxDiscountMinor = nil
		if !p.MaxDiscountMinor.Null && p.MaxDiscountMinor.Value >= 0 {
			v := p.MaxDiscountMinor.Value
			cur.MaxDiscountMinor = &v
		}
	}
	if p.Cities.Set {
		cur.Cities = nil
		if !p.Cities.Null {
			cur.Cities = normalizeTokens(p.Cities.Value)
		}
	}
	return cur
}

func mergeLimits(p *LimitsPatch, cur Limits) Limits {
	if p == nil {
		return cur
	}
	if p.MaxUsesTotal.Set {
		cur.MaxUsesTotal = positiveOrNil(p.MaxUsesTotal)
	}
	if p.MaxUsesPerUser.Set {
		cur.MaxUsesPerUser = positiveOrNil(p.MaxUsesPerUser)
	}
	return cur
}

// positiveOrNil treats explicit null and non-positive values as "unlimited".
func positiveOrNil(n Nullable[int]) *int {
	if n.Null || n.Value <= 0 {
		return nil
	}
	v := n.Value
	return &v
}

// normalizeIDs trims each id, drops empties, de-duplicates preserving first
// occurrence, and caps the result at maxListEntries.
func normalizeIDs(in []string) []string {
	return normalizeList(in, strings.TrimSpace)
}

// normalizeTokens is normalizeIDs plus lower-casing, for case-insensitive
// values such as brands, segments, roles, and cities.
func normalizeTokens(in []string) []string {
	return normalizeList(in, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

func normalizeList(in []string, canon func(string) string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, min(len(in), maxListEntries))
	for _, raw := range in {
		s := canon(raw)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if len(out) == maxListEntries {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
