package evaluator

import (
	"context"

	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
)

// matchClause reports whether a context satisfies a single clause,
// honoring Negate and the special-cased segmentMatch operator (which
// recurses into segment evaluation rather than comparing an attribute
// value).
func matchClause(ctx context.Context, data DataProvider, mc flagmodel.MultiContext, clause flagmodel.Clause) (bool, error) {
	if clause.Op == flagmodel.OpSegmentMatch {
		matched, err := matchAnySegment(ctx, data, mc, clause.Values)
		if err != nil {
			return false, err
		}
		if clause.Negate {
			return !matched, nil
		}
		return matched, nil
	}

	kind := clause.ContextKind
	if kind == "" {
		kind = flagmodel.DefaultContextKind
	}
	c, ok := mc.Get(kind)
	if !ok {
		// No context of the referenced kind was supplied at all: the
		// clause cannot be evaluated one way or the other, so it does
		// not match, negated or not.
		return false, nil
	}

	ref := flagmodel.NewAttrRef(clause.Attribute)
	attrValue, ok := ref.Get(c)
	if !ok {
		// The attribute failed to resolve: negate inverts the outcome
		// only when the attribute resolved successfully, so an
		// unresolved attribute is unconditionally a non-match.
		return false, nil
	}

	handler, ok := clauseHandlers[clause.Op]
	if !ok {
		if clause.Negate {
			return true, nil
		}
		return false, nil
	}

	matched := handler(attrValue, clause.Values)
	if clause.Negate {
		return !matched, nil
	}
	return matched, nil
}

func matchAnySegment(ctx context.Context, data DataProvider, mc flagmodel.MultiContext, values []any) (bool, error) {
	for _, v := range values {
		key, ok := v.(string)
		if !ok {
			continue
		}
		matched, err := matchSegment(ctx, data, mc, key)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func matchAllClauses(ctx context.Context, data DataProvider, mc flagmodel.MultiContext, clauses []flagmodel.Clause) (bool, error) {
	for _, clause := range clauses {
		matched, err := matchClause(ctx, data, mc, clause)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}
