package evaluator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
)

// matchSegment reports whether a context is a member of the segment
// identified by key. Evaluation order: explicit exclusion, explicit
// inclusion, then membership matching, matching the precedence a
// targeting rule's "is/is not in segment" clause implies (explicit
// lists always win over computed rules). An unbounded segment's
// "rules" step is replaced entirely by a big-segment store lookup,
// since its membership is too large to ship inline.
func matchSegment(ctx context.Context, data DataProvider, mc flagmodel.MultiContext, key string) (bool, error) {
	desc, ok, err := data.Get(ctx, flagmodel.Segments, key)
	if err != nil {
		return false, err
	}
	if !ok || desc.Item == nil {
		return false, nil
	}
	seg, ok := desc.Item.(*flagmodel.Segment)
	if !ok {
		return false, nil
	}

	defaultCtx, hasDefault := mc.Get(flagmodel.DefaultContextKind)

	if hasDefault && containsString(seg.Excluded, defaultCtx.Key) {
		return false, nil
	}
	for _, t := range seg.ExcludedContexts {
		if segmentTargetMatches(mc, t) {
			return false, nil
		}
	}

	if hasDefault && containsString(seg.Included, defaultCtx.Key) {
		return true, nil
	}
	for _, t := range seg.IncludedContexts {
		if segmentTargetMatches(mc, t) {
			return true, nil
		}
	}

	if seg.Unbounded {
		return matchBigSegment(ctx, mc, seg)
	}

	for _, rule := range seg.Rules {
		matched, err := matchAllClauses(ctx, data, mc, rule.Clauses)
		if err != nil {
			return false, err
		}
		if !matched {
			continue
		}
		if rule.Weight == nil {
			return true, nil
		}
		kind := rule.RolloutContextKind
		if kind == "" {
			kind = flagmodel.DefaultContextKind
		}
		c, ok := mc.Get(kind)
		if !ok {
			continue
		}
		bucketKey := bucketingKey(c, rule.BucketBy)
		bucket := bucketUser(bucketKey+":"+seg.Salt, key, "", nil)
		if bucket < float64(*rule.Weight) {
			return true, nil
		}
	}
	return false, nil
}

// matchBigSegment resolves membership in an unbounded segment against
// the out-of-band big segment store. Segments without a generation can
// never match; the store is queried at most once per unique context
// key across the whole evaluation (see bigSegmentSession).
func matchBigSegment(ctx context.Context, mc flagmodel.MultiContext, seg *flagmodel.Segment) (bool, error) {
	if seg.Generation == nil {
		return false, nil
	}
	kind := seg.UnboundedContextKind
	if kind == "" {
		kind = flagmodel.DefaultContextKind
	}
	c, ok := mc.Get(kind)
	if !ok {
		return false, nil
	}

	session := bigSegmentSessionFromContext(ctx)
	membership, _ := session.membershipFor(ctx, c.Key)
	if membership == nil {
		return false, nil
	}

	ref := fmt.Sprintf("%s.g%s", seg.Key, strconv.Itoa(*seg.Generation))
	included, explicit := membership.IncludedIn(ref)
	if !explicit {
		return false, nil
	}
	return included, nil
}

func segmentTargetMatches(mc flagmodel.MultiContext, t flagmodel.SegmentTarget) bool {
	kind := t.ContextKind
	if kind == "" {
		kind = flagmodel.DefaultContextKind
	}
	c, ok := mc.Get(kind)
	if !ok {
		return false
	}
	return containsString(t.Values, c.Key)
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
