package evaluator

import (
	"context"
	"testing"

	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
)

type fakeData struct {
	flags    map[string]*flagmodel.Flag
	segments map[string]*flagmodel.Segment
}

func newFakeData() *fakeData {
	return &fakeData{flags: map[string]*flagmodel.Flag{}, segments: map[string]*flagmodel.Segment{}}
}

func (f *fakeData) Get(ctx context.Context, kind flagmodel.DataKind, key string) (flagmodel.ItemDescriptor, bool, error) {
	switch kind {
	case flagmodel.Flags:
		fl, ok := f.flags[key]
		if !ok {
			return flagmodel.ItemDescriptor{}, false, nil
		}
		return flagmodel.ItemDescriptor{Version: fl.Version, Item: fl}, true, nil
	case flagmodel.Segments:
		seg, ok := f.segments[key]
		if !ok {
			return flagmodel.ItemDescriptor{}, false, nil
		}
		return flagmodel.ItemDescriptor{Version: seg.Version, Item: seg}, true, nil
	default:
		return flagmodel.ItemDescriptor{}, false, nil
	}
}

func intPtr(i int) *int { return &i }

func ctxFor(key string) flagmodel.MultiContext {
	return flagmodel.Single(flagmodel.Context{Kind: flagmodel.DefaultContextKind, Key: key})
}

func TestEvaluator_OffReturnsOffVariation(t *testing.T) {
	flag := &flagmodel.Flag{
		Key: "f1", On: false,
		Variations:   []any{"a", "b"},
		OffVariation: intPtr(1),
	}
	e := New(newFakeData())
	res := e.Evaluate(context.Background(), flag, ctxFor("user-1"), nil)
	if res.Reason.Kind != ReasonOff {
		t.Fatalf("expected OFF, got %s", res.Reason.Kind)
	}
	if res.Value != "b" {
		t.Fatalf("expected off-variation value 'b', got %v", res.Value)
	}
}

func TestEvaluator_TargetMatchTakesPrecedenceOverRules(t *testing.T) {
	flag := &flagmodel.Flag{
		Key: "f1", On: true,
		Variations: []any{"a", "b"},
		Targets: []flagmodel.Target{
			{Variation: 1, Values: []string{"user-1"}},
		},
		Rules: []flagmodel.Rule{
			{ID: "r1", Clauses: []flagmodel.Clause{{Attribute: "/key", Op: flagmodel.OpIn, Values: []any{"user-1"}}}, Variation: intPtr(0)},
		},
		Fallthrough: flagmodel.VariationOrRollout{Variation: intPtr(0)},
	}
	e := New(newFakeData())
	res := e.Evaluate(context.Background(), flag, ctxFor("user-1"), nil)
	if res.Reason.Kind != ReasonTargetMatch {
		t.Fatalf("expected TARGET_MATCH, got %s", res.Reason.Kind)
	}
	if res.Value != "b" {
		t.Fatalf("expected target variation 'b', got %v", res.Value)
	}
}

func TestEvaluator_RuleMatchByClause(t *testing.T) {
	flag := &flagmodel.Flag{
		Key: "f1", On: true,
		Variations: []any{"control", "treatment"},
		Rules: []flagmodel.Rule{
			{
				ID: "beta-users",
				Clauses: []flagmodel.Clause{
					{Attribute: "/plan", Op: flagmodel.OpIn, Values: []any{"premium", "enterprise"}},
				},
				Variation: intPtr(1),
			},
		},
		Fallthrough: flagmodel.VariationOrRollout{Variation: intPtr(0)},
	}
	e := New(newFakeData())
	mc := flagmodel.Single(flagmodel.Context{
		Kind: flagmodel.DefaultContextKind, Key: "user-1",
		Attributes: map[string]any{"plan": "premium"},
	})
	res := e.Evaluate(context.Background(), flag, mc, nil)
	if res.Reason.Kind != ReasonRuleMatch || res.Reason.RuleID != "beta-users" {
		t.Fatalf("expected RULE_MATCH on beta-users, got %+v", res.Reason)
	}
	if res.Value != "treatment" {
		t.Fatalf("expected 'treatment', got %v", res.Value)
	}
}

func TestEvaluator_PrerequisiteFailureBlocksEvaluation(t *testing.T) {
	data := newFakeData()
	data.flags["base"] = &flagmodel.Flag{
		Key: "base", On: true,
		Variations:  []any{"off", "on"},
		Fallthrough: flagmodel.VariationOrRollout{Variation: intPtr(0)}, // resolves to "off" (index 0)
	}
	flag := &flagmodel.Flag{
		Key: "dependent", On: true,
		Variations:    []any{"a", "b"},
		OffVariation:  intPtr(0),
		Prerequisites: []flagmodel.Prerequisite{{Key: "base", Variation: 1}}, // requires "on"
		Fallthrough:   flagmodel.VariationOrRollout{Variation: intPtr(1)},
	}
	e := New(data)
	res := e.Evaluate(context.Background(), flag, ctxFor("user-1"), nil)
	if res.Reason.Kind != ReasonPrerequisiteFail {
		t.Fatalf("expected PREREQUISITE_FAILED, got %s", res.Reason.Kind)
	}
	if res.Reason.PrerequisiteKey != "base" {
		t.Fatalf("expected failing prerequisite key 'base', got %q", res.Reason.PrerequisiteKey)
	}
}

func TestEvaluator_PrereqSinkRecordsEveryPrerequisiteRegardlessOfResult(t *testing.T) {
	data := newFakeData()
	data.flags["grandparent"] = &flagmodel.Flag{
		Key: "grandparent", On: true,
		Variations:  []any{"off", "on"},
		Fallthrough: flagmodel.VariationOrRollout{Variation: intPtr(1)}, // satisfies "base"'s requirement
	}
	data.flags["base"] = &flagmodel.Flag{
		Key: "base", On: true,
		Variations:    []any{"off", "on"},
		Prerequisites: []flagmodel.Prerequisite{{Key: "grandparent", Variation: 1}},
		Fallthrough:   flagmodel.VariationOrRollout{Variation: intPtr(0)}, // resolves to "off", fails "dependent"'s requirement
	}
	flag := &flagmodel.Flag{
		Key: "dependent", On: true,
		Variations:    []any{"a", "b"},
		OffVariation:  intPtr(0),
		Prerequisites: []flagmodel.Prerequisite{{Key: "base", Variation: 1}},
		Fallthrough:   flagmodel.VariationOrRollout{Variation: intPtr(1)},
	}
	e := New(data)

	var records []PrereqRecord
	res := e.Evaluate(context.Background(), flag, ctxFor("user-1"), func(r PrereqRecord) {
		records = append(records, r)
	})
	if res.Reason.Kind != ReasonPrerequisiteFail {
		t.Fatalf("expected PREREQUISITE_FAILED, got %s", res.Reason.Kind)
	}

	if len(records) != 2 {
		t.Fatalf("expected a record for both 'base' and 'grandparent', got %d: %+v", len(records), records)
	}
	// Depth-first: grandparent (nested prerequisite of base) is walked
	// and recorded before base itself is recorded.
	if records[0].Flag.Key != "grandparent" || records[0].Parent != "base" {
		t.Fatalf("expected first record for grandparent (parent base), got %+v", records[0])
	}
	if records[1].Flag.Key != "base" || records[1].Parent != "dependent" {
		t.Fatalf("expected second record for base (parent dependent), got %+v", records[1])
	}
	// base failed to satisfy dependent's required variation, but it
	// must still be reported: "regardless of result".
	if records[1].Result.VariationIndex == nil || *records[1].Result.VariationIndex != 0 {
		t.Fatalf("expected base to resolve to variation 0, got %+v", records[1].Result.VariationIndex)
	}
}

func TestEvaluator_FallthroughRolloutIsDeterministic(t *testing.T) {
	flag := &flagmodel.Flag{
		Key: "f1", On: true,
		Variations: []any{"a", "b"},
		Fallthrough: flagmodel.VariationOrRollout{
			Rollout: &flagmodel.Rollout{
				Variations: []flagmodel.WeightedVariation{
					{Variation: 0, Weight: 50000},
					{Variation: 1, Weight: 50000},
				},
			},
		},
	}
	e := New(newFakeData())
	mc := ctxFor("stable-user-key")
	first := e.Evaluate(context.Background(), flag, mc, nil)
	for i := 0; i < 20; i++ {
		again := e.Evaluate(context.Background(), flag, mc, nil)
		if *again.VariationIndex != *first.VariationIndex {
			t.Fatalf("expected deterministic bucketing, got %d then %d", *first.VariationIndex, *again.VariationIndex)
		}
	}
}

func TestEvaluator_SegmentMatchClause(t *testing.T) {
	data := newFakeData()
	data.segments["beta"] = &flagmodel.Segment{Key: "beta", Included: []string{"user-1"}}
	flag := &flagmodel.Flag{
		Key: "f1", On: true,
		Variations: []any{"a", "b"},
		Rules: []flagmodel.Rule{
			{ID: "in-beta", Clauses: []flagmodel.Clause{{Op: flagmodel.OpSegmentMatch, Values: []any{"beta"}}}, Variation: intPtr(1)},
		},
		Fallthrough: flagmodel.VariationOrRollout{Variation: intPtr(0)},
	}
	e := New(data)
	res := e.Evaluate(context.Background(), flag, ctxFor("user-1"), nil)
	if res.Reason.Kind != ReasonRuleMatch {
		t.Fatalf("expected segment-backed rule to match, got %s", res.Reason.Kind)
	}

	nonMember := e.Evaluate(context.Background(), flag, ctxFor("user-2"), nil)
	if nonMember.Reason.Kind != ReasonFallthrough {
		t.Fatalf("expected non-member to fall through, got %s", nonMember.Reason.Kind)
	}
}

type fakeMembership struct {
	included map[string]bool
}

func (m fakeMembership) IncludedIn(ref string) (bool, bool) {
	if m.included == nil {
		return false, false
	}
	included, ok := m.included[ref]
	return included, ok
}

type fakeBigSegments struct {
	calls      int
	membership BigSegmentMembership
	status     BigSegmentStatus
}

func (f *fakeBigSegments) GetMembership(ctx context.Context, contextKey string) (BigSegmentMembership, error) {
	f.calls++
	return f.membership, nil
}

func (f *fakeBigSegments) Status() BigSegmentStatus { return f.status }

func TestEvaluator_BigSegmentMatchPinnedToGeneration(t *testing.T) {
	data := newFakeData()
	gen := 2
	data.segments["s"] = &flagmodel.Segment{Key: "s", Unbounded: true, Generation: &gen}
	flag := &flagmodel.Flag{
		Key: "f1", On: true,
		Variations: []any{"a", "b"},
		Rules: []flagmodel.Rule{
			{ID: "in-s", Clauses: []flagmodel.Clause{{Op: flagmodel.OpSegmentMatch, Values: []any{"s"}}}, Variation: intPtr(1)},
		},
		Fallthrough: flagmodel.VariationOrRollout{Variation: intPtr(0)},
	}
	bs := &fakeBigSegments{
		membership: fakeMembership{included: map[string]bool{"s.g2": true}},
		status:     BigSegmentHealthy,
	}
	e := New(data).WithBigSegments(bs)

	res := e.Evaluate(context.Background(), flag, ctxFor("u"), nil)
	if res.Reason.Kind != ReasonRuleMatch {
		t.Fatalf("expected membership in s.g2 to match, got %s", res.Reason.Kind)
	}

	// A segment pinned to a different generation must not match the
	// same membership record.
	gen3 := 3
	data.segments["s"] = &flagmodel.Segment{Key: "s", Unbounded: true, Generation: &gen3}
	res = e.Evaluate(context.Background(), flag, ctxFor("u"), nil)
	if res.Reason.Kind != ReasonFallthrough {
		t.Fatalf("expected generation mismatch to not match, got %s", res.Reason.Kind)
	}
}

func TestEvaluator_BigSegmentQueriedOncePerContextKey(t *testing.T) {
	data := newFakeData()
	gen := 1
	data.segments["s1"] = &flagmodel.Segment{Key: "s1", Unbounded: true, Generation: &gen}
	data.segments["s2"] = &flagmodel.Segment{Key: "s2", Unbounded: true, Generation: &gen}
	flag := &flagmodel.Flag{
		Key: "f1", On: true,
		Variations: []any{"a", "b"},
		Rules: []flagmodel.Rule{
			{ID: "r1", Clauses: []flagmodel.Clause{{Op: flagmodel.OpSegmentMatch, Values: []any{"s1", "s2"}}}, Variation: intPtr(1)},
		},
		Fallthrough: flagmodel.VariationOrRollout{Variation: intPtr(0)},
	}
	bs := &fakeBigSegments{membership: fakeMembership{}, status: BigSegmentHealthy}
	e := New(data).WithBigSegments(bs)

	e.Evaluate(context.Background(), flag, ctxFor("u"), nil)
	if bs.calls != 1 {
		t.Fatalf("expected exactly 1 store call across both segment clauses, got %d", bs.calls)
	}
}

func TestEvaluator_MissingContextIsError(t *testing.T) {
	flag := &flagmodel.Flag{Key: "f1", On: true, Variations: []any{"a"}}
	e := New(newFakeData())
	res := e.Evaluate(context.Background(), flag, flagmodel.MultiContext{}, nil)
	if res.Reason.Kind != ReasonError || res.Reason.ErrorKind != flagmodel.ErrorUserNotSpecified {
		t.Fatalf("expected USER_NOT_SPECIFIED error, got %+v", res.Reason)
	}
}
