// Package evaluator computes flag evaluation results against a
// context: prerequisite checks, individual/context targets, rule
// matching, and the default fallthrough, each step capable of
// producing an experiment-eligible rollout bucket assignment.
package evaluator

import (
	"context"

	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
)

// ReasonKind identifies why an evaluation produced the variation it did.
type ReasonKind string

const (
	ReasonOff              ReasonKind = "OFF"
	ReasonFallthrough      ReasonKind = "FALLTHROUGH"
	ReasonTargetMatch      ReasonKind = "TARGET_MATCH"
	ReasonRuleMatch        ReasonKind = "RULE_MATCH"
	ReasonPrerequisiteFail ReasonKind = "PREREQUISITE_FAILED"
	ReasonError            ReasonKind = "ERROR"
)

// Reason explains how a Result's variation was selected.
type Reason struct {
	Kind            ReasonKind
	RuleIndex       int
	RuleID          string
	PrerequisiteKey string
	ErrorKind       flagmodel.ErrorKind
	InExperiment    bool
}

// Result is the outcome of evaluating one flag against one context.
type Result struct {
	Value          any
	VariationIndex *int
	Reason         Reason
}

// PrereqRecord describes one prerequisite flag walked during Evaluate,
// carrying the prerequisite's own evaluation Result regardless of
// whether it satisfied the declaring flag's required variation.
type PrereqRecord struct {
	Flag   *flagmodel.Flag
	Parent string
	Result Result
}

// PrereqSink receives a PrereqRecord for every prerequisite walked
// during Evaluate, deepest-first, before Evaluate returns its own
// top-level Result. A nil sink is valid and simply discards records.
type PrereqSink func(PrereqRecord)

// DataProvider is the minimal read surface the evaluator needs from
// the data store: single-item lookups by kind and key, used to chase
// prerequisites and segment references without pulling in the full
// DataStore interface (and its write methods) as a dependency.
type DataProvider interface {
	Get(ctx context.Context, kind flagmodel.DataKind, key string) (flagmodel.ItemDescriptor, bool, error)
}

// BigSegmentStatus mirrors bigsegment.Status, declared locally (rather
// than imported) so this package does not depend on internal/bigsegment
// just to describe "no store configured" vs. the store's health.
type BigSegmentStatus string

const (
	BigSegmentNotConfigured BigSegmentStatus = "NOT_CONFIGURED"
	BigSegmentHealthy       BigSegmentStatus = "HEALTHY"
	BigSegmentStale         BigSegmentStatus = "STALE"
	BigSegmentStoreError    BigSegmentStatus = "STORE_ERROR"
)

// BigSegmentMembership is the subset of bigsegment.Membership the
// evaluator needs: given a big-segment reference ("<key>.g<gen>"),
// report whether the context is explicitly included or excluded.
type BigSegmentMembership interface {
	IncludedIn(ref string) (included, explicit bool)
}

// BigSegmentProvider is the minimal read surface the evaluator needs
// from bigsegment.Wrapper, declared locally per the same
// dependency-inversion convention as DataProvider.
type BigSegmentProvider interface {
	GetMembership(ctx context.Context, contextKey string) (BigSegmentMembership, error)
	Status() BigSegmentStatus
}

func errorResult(kind flagmodel.ErrorKind) Result {
	return Result{Reason: Reason{Kind: ReasonError, ErrorKind: kind}}
}
