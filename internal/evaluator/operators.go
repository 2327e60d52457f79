package evaluator

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
)

// clauseHandler evaluates a non-negated clause operator against one
// context attribute value and the clause's configured values list,
// matching true if the attribute matches ANY of them (standard
// targeting-rule "OR within a clause" semantics).
type clauseHandler func(attrValue any, clauseValues []any) bool

var (
	clauseHandlers = map[flagmodel.Operator]clauseHandler{
		flagmodel.OpIn:                  matchAny(equalsOperand),
		flagmodel.OpStartsWith:          matchAny(stringCompare(strings.HasPrefix)),
		flagmodel.OpEndsWith:            matchAny(stringCompare(strings.HasSuffix)),
		flagmodel.OpContains:            matchAny(stringCompare(strings.Contains)),
		flagmodel.OpMatches:             matchAny(regexOperand),
		flagmodel.OpLessThan:            matchAny(numericCompare(func(a, b float64) bool { return a < b })),
		flagmodel.OpLessThanOrEqual:     matchAny(numericCompare(func(a, b float64) bool { return a <= b })),
		flagmodel.OpGreaterThan:         matchAny(numericCompare(func(a, b float64) bool { return a > b })),
		flagmodel.OpGreaterThanOrEqual:  matchAny(numericCompare(func(a, b float64) bool { return a >= b })),
		flagmodel.OpBefore:              matchAny(timeCompare(func(a, b time.Time) bool { return a.Before(b) })),
		flagmodel.OpAfter:               matchAny(timeCompare(func(a, b time.Time) bool { return a.After(b) })),
		flagmodel.OpSemVerEqual:         matchAny(semverCompare(func(a, b *semver.Version) bool { return a.Equal(b) })),
		flagmodel.OpSemVerLessThan:      matchAny(semverCompare(func(a, b *semver.Version) bool { return a.LessThan(b) })),
		flagmodel.OpSemVerGreaterThan:   matchAny(semverCompare(func(a, b *semver.Version) bool { return a.GreaterThan(b) })),
	}

	// regexCache holds compiled patterns for the hot evaluation path;
	// keyed by pattern string, values are *regexp.Regexp.
	regexCache sync.Map
)

func matchAny(cmp func(attrValue, operand any) bool) clauseHandler {
	return func(attrValue any, clauseValues []any) bool {
		for _, operand := range clauseValues {
			if cmp(attrValue, operand) {
				return true
			}
		}
		return false
	}
}

func equalsOperand(attrValue, operand any) bool {
	if as, ok := toString(attrValue); ok {
		os, ok := toString(operand)
		return ok && as == os
	}
	if af, ok := toFloat64(attrValue); ok {
		of, ok := toFloat64(operand)
		return ok && af == of
	}
	if ab, ok := attrValue.(bool); ok {
		ob, ok := operand.(bool)
		return ok && ab == ob
	}
	return false
}

func stringCompare(cmp func(s, substr string) bool) func(attrValue, operand any) bool {
	return func(attrValue, operand any) bool {
		as, ok := toString(attrValue)
		if !ok {
			return false
		}
		os, ok := toString(operand)
		if !ok {
			return false
		}
		return cmp(as, os)
	}
}

func regexOperand(attrValue, operand any) bool {
	as, ok := toString(attrValue)
	if !ok {
		return false
	}
	pattern, ok := toString(operand)
	if !ok {
		return false
	}
	rx, ok := compiledRegex(pattern)
	if !ok {
		return false
	}
	return rx.MatchString(as)
}

func numericCompare(cmp func(a, b float64) bool) func(attrValue, operand any) bool {
	return func(attrValue, operand any) bool {
		af, ok := toFloat64(attrValue)
		if !ok {
			return false
		}
		of, ok := toFloat64(operand)
		if !ok {
			return false
		}
		return cmp(af, of)
	}
}

func timeCompare(cmp func(a, b time.Time) bool) func(attrValue, operand any) bool {
	return func(attrValue, operand any) bool {
		at, ok := toTime(attrValue)
		if !ok {
			return false
		}
		ot, ok := toTime(operand)
		if !ok {
			return false
		}
		return cmp(at, ot)
	}
}

func semverCompare(cmp func(a, b *semver.Version) bool) func(attrValue, operand any) bool {
	return func(attrValue, operand any) bool {
		as, ok := toString(attrValue)
		if !ok {
			return false
		}
		os, ok := toString(operand)
		if !ok {
			return false
		}
		av, err := semver.NewVersion(as)
		if err != nil {
			return false
		}
		ov, err := semver.NewVersion(os)
		if err != nil {
			return false
		}
		return cmp(av, ov)
	}
}

func compiledRegex(pattern string) (*regexp.Regexp, bool) {
	if cached, ok := regexCache.Load(pattern); ok {
		rx, ok := cached.(*regexp.Regexp)
		return rx, ok
	}
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false
	}
	regexCache.Store(pattern, rx)
	return rx, true
}

func toString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	case float64:
		return time.UnixMilli(int64(t)), true
	default:
		return time.Time{}, false
	}
}
