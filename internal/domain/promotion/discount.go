package promotion

// calculate computes the exact discount for one eligible promotion, in minor
// currency units. The base is the matched subtotal, or the shipping amount
// for shipping-type rules. Rounding is truncation toward zero; the result
// never exceeds its base and is never negative.
//
// The type switch is the single dispatch point for discount semantics:
// adding a promotion type means extending it here, not registering a string
// key somewhere. Types outside the switch yield a zero discount with
// UNKNOWN_TYPE so a record authored for a newer engine release degrades to a
// no-op instead of breaking checkout.
func calculate(p *Promotion, matchedSubtotalMinor, shippingMinor int64) (int64, Reason) {
	var discount int64
	switch p.Type {
	case TypePercent:
		// Integer division truncates: 10% of 12345 is 1234, not 1235.
		discount = clamp(matchedSubtotalMinor*p.Value/100, matchedSubtotalMinor)
	case TypeFixedAmount:
		discount = clamp(p.Value, matchedSubtotalMinor)
	case TypeFreeShipping:
		// Value is forced to zero at write time; the waiver is always the
		// full shipping amount, applied against shipping rather than the
		// subtotal.
		discount = clamp(shippingMinor, shippingMinor)
	default:
		return 0, ReasonUnknownType
	}

	if limit := p.Eligibility.MaxDiscountMinor; limit != nil && discount > *limit {
		discount = *limit
	}
	return discount, ""
}

// clamp bounds v to [0, ceil].
func clamp(v, ceil int64) int64 {
	if v < 0 {
		return 0
	}
	if v > ceil {
		return ceil
	}
	return v
}
