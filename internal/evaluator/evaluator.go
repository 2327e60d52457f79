package evaluator

import (
	"context"

	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
)

// Evaluator computes evaluation results for flags against contexts,
// chasing prerequisites and segment references through a DataProvider
// as needed.
//
// Generalized from the teacher's single-flag, flat Evaluate function
// into a full prerequisite -> target -> rule -> fallthrough pipeline
// over the richer flag model, while keeping the teacher's "always
// return a usable result, never panic on malformed input" posture.
type Evaluator struct {
	data        DataProvider
	bigSegments BigSegmentProvider
}

// New constructs an Evaluator reading flags and segments from data.
func New(data DataProvider) *Evaluator {
	return &Evaluator{data: data}
}

// WithBigSegments attaches a big-segment membership provider, enabling
// segmentMatch clauses against unbounded segments. Returns the same
// *Evaluator for convenient chaining after New.
func (e *Evaluator) WithBigSegments(p BigSegmentProvider) *Evaluator {
	e.bigSegments = p
	return e
}

// Evaluate computes the result of evaluating flag for context mc,
// reporting every prerequisite it walks to prereqSink (which may be
// nil) regardless of whether that prerequisite's required variation
// was satisfied.
func (e *Evaluator) Evaluate(ctx context.Context, flag *flagmodel.Flag, mc flagmodel.MultiContext, prereqSink PrereqSink) Result {
	ctx = withBigSegmentSession(ctx, e.bigSegments)
	if flag == nil {
		return errorResult(flagmodel.ErrorFlagNotFound)
	}
	if _, hasDefault := mc.Get(flagmodel.DefaultContextKind); !hasDefault && len(mc.Contexts) == 0 {
		return errorResult(flagmodel.ErrorUserNotSpecified)
	}

	if !flag.On {
		return e.offResult(flag)
	}

	if failedKey, ok := e.checkPrerequisites(ctx, flag, mc, prereqSink); !ok {
		return Result{
			Value:          variationValue(flag, flag.OffVariation),
			VariationIndex: flag.OffVariation,
			Reason:         Reason{Kind: ReasonPrerequisiteFail, PrerequisiteKey: failedKey},
		}
	}

	if res, matched := e.matchTargets(flag, mc); matched {
		return res
	}

	if res, matched, err := e.matchRules(ctx, flag, mc); err != nil {
		return errorResult(flagmodel.ErrorExceptionThrown)
	} else if matched {
		return res
	}

	return e.fallthroughResult(flag, mc)
}

func (e *Evaluator) offResult(flag *flagmodel.Flag) Result {
	return Result{
		Value:          variationValue(flag, flag.OffVariation),
		VariationIndex: flag.OffVariation,
		Reason:         Reason{Kind: ReasonOff},
	}
}

// checkPrerequisites walks flag.Prerequisites depth-first, reporting
// every one walked (including nested prerequisites-of-prerequisites)
// to prereqSink regardless of outcome, and returning the key of the
// first one that fails to satisfy its required variation (either
// because it's off, missing, or resolves to a different variation)
// along with ok=false. ok=true means every prerequisite was satisfied.
func (e *Evaluator) checkPrerequisites(ctx context.Context, flag *flagmodel.Flag, mc flagmodel.MultiContext, prereqSink PrereqSink) (string, bool) {
	for _, p := range flag.Prerequisites {
		desc, ok, err := e.data.Get(ctx, flagmodel.Flags, p.Key)
		if err != nil || !ok || desc.Item == nil {
			if prereqSink != nil {
				prereqSink(PrereqRecord{
					Flag:   &flagmodel.Flag{Key: p.Key},
					Parent: flag.Key,
					Result: errorResult(flagmodel.ErrorFlagNotFound),
				})
			}
			return p.Key, false
		}
		prereqFlag, ok := desc.Item.(*flagmodel.Flag)
		if !ok {
			if prereqSink != nil {
				prereqSink(PrereqRecord{
					Flag:   &flagmodel.Flag{Key: p.Key},
					Parent: flag.Key,
					Result: errorResult(flagmodel.ErrorMalformedFlag),
				})
			}
			return p.Key, false
		}
		result := e.Evaluate(ctx, prereqFlag, mc, prereqSink)
		if prereqSink != nil {
			prereqSink(PrereqRecord{Flag: prereqFlag, Parent: flag.Key, Result: result})
		}
		if !prereqFlag.On {
			return p.Key, false
		}
		if result.VariationIndex == nil || *result.VariationIndex != p.Variation {
			return p.Key, false
		}
	}
	return "", true
}

func (e *Evaluator) matchTargets(flag *flagmodel.Flag, mc flagmodel.MultiContext) (Result, bool) {
	for _, ct := range flag.ContextTargets {
		kind := ct.ContextKind
		if kind == "" {
			kind = flagmodel.DefaultContextKind
		}
		c, ok := mc.Get(kind)
		if !ok {
			continue
		}
		if containsString(ct.Values, c.Key) {
			idx := ct.Variation
			return Result{
				Value:          variationValue(flag, &idx),
				VariationIndex: &idx,
				Reason:         Reason{Kind: ReasonTargetMatch},
			}, true
		}
	}
	for _, t := range flag.Targets {
		c, ok := mc.Get(flagmodel.DefaultContextKind)
		if !ok {
			continue
		}
		if containsString(t.Values, c.Key) {
			idx := t.Variation
			return Result{
				Value:          variationValue(flag, &idx),
				VariationIndex: &idx,
				Reason:         Reason{Kind: ReasonTargetMatch},
			}, true
		}
	}
	return Result{}, false
}

func (e *Evaluator) matchRules(ctx context.Context, flag *flagmodel.Flag, mc flagmodel.MultiContext) (Result, bool, error) {
	for i, rule := range flag.Rules {
		matched, err := matchAllClauses(ctx, e.data, mc, rule.Clauses)
		if err != nil {
			return Result{}, false, err
		}
		if !matched {
			continue
		}

		variation, inExperiment, ok := e.resolveVariationOrRollout(mc, flag.Key, flag.Salt, flagmodel.VariationOrRollout{
			Variation: rule.Variation,
			Rollout:   rule.Rollout,
		})
		if !ok {
			continue
		}
		return Result{
			Value:          variationValue(flag, &variation),
			VariationIndex: &variation,
			Reason: Reason{
				Kind:         ReasonRuleMatch,
				RuleIndex:    i,
				RuleID:       rule.ID,
				InExperiment: inExperiment,
			},
		}, true, nil
	}
	return Result{}, false, nil
}

func (e *Evaluator) fallthroughResult(flag *flagmodel.Flag, mc flagmodel.MultiContext) Result {
	variation, inExperiment, ok := e.resolveVariationOrRollout(mc, flag.Key, flag.Salt, flag.Fallthrough)
	if !ok {
		return errorResult(flagmodel.ErrorMalformedFlag)
	}
	return Result{
		Value:          variationValue(flag, &variation),
		VariationIndex: &variation,
		Reason:         Reason{Kind: ReasonFallthrough, InExperiment: inExperiment},
	}
}

func (e *Evaluator) resolveVariationOrRollout(mc flagmodel.MultiContext, flagKey, salt string, vr flagmodel.VariationOrRollout) (variation int, inExperiment bool, ok bool) {
	if vr.Variation != nil {
		return *vr.Variation, false, true
	}
	return selectWeightedVariation(mc, flagKey, salt, vr.Rollout)
}

func variationValue(flag *flagmodel.Flag, idx *int) any {
	if idx == nil || *idx < 0 || *idx >= len(flag.Variations) {
		return nil
	}
	return flag.Variations[*idx]
}
