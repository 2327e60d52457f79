// Package flagmodel defines the data model shared by every other package
// in this module: flags, segments, their targeting rules, and the
// dependency graph that links them together.
package flagmodel

// DataKind identifies a class of versioned item the store can hold.
// The store is kind-agnostic; kinds are how callers partition it.
type DataKind string

const (
	// Flags holds Flag items.
	Flags DataKind = "flags"
	// Segments holds Segment items.
	Segments DataKind = "segments"
)

// ItemDescriptor wraps a versioned item (or a tombstone) for storage.
// A nil Item with Version set represents a deletion marker: the key is
// known to have existed at that version but has since been removed.
type ItemDescriptor struct {
	Version int
	Item    any
}

// Deleted reports whether this descriptor is a tombstone.
func (d ItemDescriptor) Deleted() bool {
	return d.Item == nil
}

// Operator identifies how a Clause's Values are compared against a
// context attribute.
type Operator string

const (
	OpIn                 Operator = "in"
	OpEndsWith           Operator = "endsWith"
	OpStartsWith         Operator = "startsWith"
	OpMatches            Operator = "matches"
	OpContains           Operator = "contains"
	OpLessThan           Operator = "lessThan"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
	OpGreaterThan        Operator = "greaterThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpBefore             Operator = "before"
	OpAfter              Operator = "after"
	OpSemVerEqual        Operator = "semVerEqual"
	OpSemVerLessThan     Operator = "semVerLessThan"
	OpSemVerGreaterThan  Operator = "semVerGreaterThan"
	OpSegmentMatch       Operator = "segmentMatch"
)

// Clause is a single predicate within a Rule: does the context's
// Attribute, compared with Op against Values, hold (subject to Negate)?
type Clause struct {
	Attribute   string
	ContextKind string // empty means the default ("user") kind
	Op          Operator
	Values      []any
	Negate      bool
}

// Rollout describes a weighted bucketing of matching contexts across a
// flag's variations, optionally scoped to an experiment.
type Rollout struct {
	Variations   []WeightedVariation
	BucketBy     string // attribute used for bucketing; empty means the context key
	ContextKind  string
	IsExperiment bool
	Seed         *int64
}

// WeightedVariation assigns a slice of the bucketing space [0,100000) to
// one variation index.
type WeightedVariation struct {
	Variation int
	Weight    int // out of 100000
	Untracked bool
}

// Rule is an ordered list of clauses (AND-ed together) that, if all
// match, selects a variation directly or via a Rollout.
type Rule struct {
	ID         string
	Clauses    []Clause
	Variation  *int
	Rollout    *Rollout
	TrackEvent bool
}

// Target pins specific context keys (of ContextKind) to a variation,
// independent of rule evaluation.
type Target struct {
	ContextKind string
	Variation   int
	Values      []string
}

// Prerequisite names another flag (by key) that must evaluate to a
// specific variation for this flag to proceed past the prerequisite
// check.
type Prerequisite struct {
	Key       string
	Variation int
}

// Flag is a single feature flag: its variations and the rules that
// select among them.
type Flag struct {
	Key           string
	Version       int
	Deleted       bool
	On            bool
	Variations    []any
	OffVariation  *int
	Fallthrough   VariationOrRollout
	Targets       []Target
	ContextTargets []Target
	Rules         []Rule
	Prerequisites []Prerequisite
	Salt          string
	TrackEvents   bool
	TrackEventsFallthrough bool
	DebugEventsUntilDate *int64
	ClientSideAvailability bool
}

// VariationOrRollout is a Variation index, a Rollout, or neither
// (malformed flag).
type VariationOrRollout struct {
	Variation *int
	Rollout   *Rollout
}

// Segment is a named set of contexts used by OpSegmentMatch clauses.
type Segment struct {
	Key          string
	Version      int
	Deleted      bool
	Included     []string
	Excluded     []string
	IncludedContexts []SegmentTarget
	ExcludedContexts []SegmentTarget
	Rules        []SegmentRule
	Salt         string
	Unbounded    bool
	UnboundedContextKind string
	Generation   *int
}

// SegmentTarget scopes Included/Excluded to a non-default context kind.
type SegmentTarget struct {
	ContextKind string
	Values      []string
}

// SegmentRule is a segment's analogue of Rule: clauses plus an optional
// weighted rollout that determines whether a matching context is a
// member.
type SegmentRule struct {
	ID          string
	Clauses     []Clause
	Weight      *int // out of 100000; nil means always-member on match
	BucketBy    string
	RolloutContextKind string
}
