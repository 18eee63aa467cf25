package replane

// Context is the flat attribute bag a condition is evaluated against.
// Values are scalars: string, number (float64/int), bool, or nil.
type Context map[string]any

// Merge returns a new Context that is the receiver overlaid with over;
// keys in over win. Either side may be nil. Used to combine client-scope
// context with a per-call context before evaluation.
func (c Context) Merge(over Context) Context {
	out := make(Context, len(c)+len(over))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Evaluate is the pure evaluation function: given an entry and a merged
// context, it walks the override list in priority order and returns the
// value of the first override whose condition list holds, or the base
// value if none match. It never panics and never returns an error:
// condition evaluation is total, so a malformed override can't break
// unrelated reads.
func Evaluate(e Entry, ctx Context) any {
	for _, o := range e.Overrides {
		if conditionsHold(o.Conditions, ctx) {
			return o.Value
		}
	}
	return e.Value
}

// conditionsHold tests a list of conditions as a conjunction: all must
// hold. An empty list holds vacuously (an override with no conditions
// always matches, ranking purely by list position).
func conditionsHold(conds []Condition, ctx Context) bool {
	for _, c := range conds {
		if !conditionHolds(c, ctx) {
			return false
		}
	}
	return true
}

func conditionHolds(c Condition, ctx Context) bool {
	switch c.Kind {
	case CondEquals:
		if c.Value == nil {
			return false
		}
		v, ok := ctx[c.Property]
		return ok && deepEqual(v, c.Value.Value)

	case CondIn:
		v, ok := ctx[c.Property]
		if !ok {
			return false
		}
		for _, lit := range c.Values {
			if deepEqual(v, lit.Value) {
				return true
			}
		}
		return false

	case CondNotIn:
		v, ok := ctx[c.Property]
		if !ok {
			// not_in is the negation of in; in(absent) is false, so
			// not_in(absent) is true. An attribute that isn't present
			// at all naturally satisfies "not in this list."
			return true
		}
		for _, lit := range c.Values {
			if deepEqual(v, lit.Value) {
				return false
			}
		}
		return true

	case CondLessThan:
		return numericCompare(ctx, c, func(a, b float64) bool { return a < b })
	case CondLessThanOrEqual:
		return numericCompare(ctx, c, func(a, b float64) bool { return a <= b })
	case CondGreaterThan:
		return numericCompare(ctx, c, func(a, b float64) bool { return a > b })
	case CondGreaterThanOrEqual:
		return numericCompare(ctx, c, func(a, b float64) bool { return a >= b })

	case CondAnd:
		for _, sub := range c.Conditions {
			if !conditionHolds(sub, ctx) {
				return false
			}
		}
		return true

	case CondOr:
		for _, sub := range c.Conditions {
			if conditionHolds(sub, ctx) {
				return true
			}
		}
		return false

	case CondNot:
		if c.Inner == nil {
			return false
		}
		return !conditionHolds(*c.Inner, ctx)

	default:
		// Unknown condition kind: total evaluation means we return
		// false rather than panic, consistent with missing-attribute
		// and type-mismatch handling below.
		return false
	}
}

// numericCompare implements the four numeric ordering operators.
// Non-numeric attributes, non-numeric literals, and non-finite numbers
// make the condition false rather than erroring: ordering is total
// only over finite numbers.
func numericCompare(ctx Context, c Condition, cmp func(a, b float64) bool) bool {
	if c.Value == nil {
		return false
	}
	v, ok := ctx[c.Property]
	if !ok {
		return false
	}
	a, ok := asFiniteFloat(v)
	if !ok {
		return false
	}
	b, ok := asFiniteFloat(c.Value.Value)
	if !ok {
		return false
	}
	return cmp(a, b)
}

// maxFiniteFloat is math.MaxFloat64, inlined to avoid importing math
// for a single bounds check.
const maxFiniteFloat = 1.7976931348623157e+308

// asFiniteFloat converts a JSON-shaped scalar to float64, rejecting
// non-numeric types and non-finite values (NaN, +/-Inf).
func asFiniteFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, false
	}
	if f != f || f > maxFiniteFloat || f < -maxFiniteFloat {
		return 0, false
	}
	return f, true
}

// deepEqual is a strict equality check over the JSON value domain
// (nil, bool, string, numbers, []any, map[string]any). Numerically
// equal values of different Go numeric types compare equal (e.g.
// int64(10) vs float64(10)), since one side may come from
// json.Unmarshal and the other from a literal Go value in a caller's
// context map.
func deepEqual(a, b any) bool {
	if af, aok := asFiniteFloat(a); aok {
		if bf, bok := asFiniteFloat(b); bok {
			return af == bf
		}
	}

	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, ok := bv[k]
			if !ok || !deepEqual(v, bval) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
