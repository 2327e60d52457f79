package flagcore

import (
	"context"

	"github.com/flagcore-io/flagcore-go/internal/bigsegment"
	"github.com/flagcore-io/flagcore-go/internal/evaluator"
)

// bigSegmentProviderAdapter satisfies evaluator.BigSegmentProvider on
// top of a *bigsegment.Wrapper. A Go interface can only be satisfied by
// an exact method-signature match, and bigsegment.Status/*Membership
// are concrete types distinct from evaluator's locally-declared
// mirrors (kept separate so neither package imports the other), so
// this adapter exists purely to translate between the two.
type bigSegmentProviderAdapter struct {
	wrapper *bigsegment.Wrapper
}

func newBigSegmentProviderAdapter(w *bigsegment.Wrapper) *bigSegmentProviderAdapter {
	return &bigSegmentProviderAdapter{wrapper: w}
}

func (a *bigSegmentProviderAdapter) GetMembership(ctx context.Context, contextKey string) (evaluator.BigSegmentMembership, error) {
	m, err := a.wrapper.GetMembership(ctx, contextKey)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	return membershipAdapter{m}, nil
}

func (a *bigSegmentProviderAdapter) Status() evaluator.BigSegmentStatus {
	switch a.wrapper.Status() {
	case bigsegment.StatusHealthy:
		return evaluator.BigSegmentHealthy
	case bigsegment.StatusStale:
		return evaluator.BigSegmentStale
	case bigsegment.StatusStoreError:
		return evaluator.BigSegmentStoreError
	default:
		return evaluator.BigSegmentNotConfigured
	}
}

type membershipAdapter struct {
	m *bigsegment.Membership
}

func (m membershipAdapter) IncludedIn(ref string) (included, explicit bool) {
	return m.m.IncludedIn(ref)
}
