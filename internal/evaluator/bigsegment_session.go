package evaluator

import "context"

// bigSegmentSessionKey is the context.Context key under which a single
// evaluation's big-segment membership cache is stored, so that every
// segmentMatch clause encountered while evaluating one flag (including
// while chasing its prerequisites) queries the big segment store at
// most once per unique context key, per spec.
type bigSegmentSessionKey struct{}

type bigSegmentSession struct {
	provider BigSegmentProvider
	cache    map[string]BigSegmentMembership
	status   BigSegmentStatus
}

// withBigSegmentSession attaches a fresh session to ctx, unless ctx
// already carries one (so a prerequisite's recursive Evaluate call
// shares its parent's cache instead of starting a new one).
func withBigSegmentSession(ctx context.Context, provider BigSegmentProvider) context.Context {
	if _, ok := ctx.Value(bigSegmentSessionKey{}).(*bigSegmentSession); ok {
		return ctx
	}
	return context.WithValue(ctx, bigSegmentSessionKey{}, &bigSegmentSession{provider: provider})
}

func bigSegmentSessionFromContext(ctx context.Context) *bigSegmentSession {
	s, _ := ctx.Value(bigSegmentSessionKey{}).(*bigSegmentSession)
	return s
}

// membershipFor returns the cached (or freshly fetched) membership for
// contextKey, plus the provider's current status. A nil provider (no
// big segment store configured) reports BigSegmentNotConfigured and a
// nil membership, which callers treat as "never matches."
func (s *bigSegmentSession) membershipFor(ctx context.Context, contextKey string) (BigSegmentMembership, BigSegmentStatus) {
	if s == nil || s.provider == nil {
		return nil, BigSegmentNotConfigured
	}
	if m, ok := s.cache[contextKey]; ok {
		return m, s.status
	}

	m, err := s.provider.GetMembership(ctx, contextKey)
	s.status = s.provider.Status()
	if err != nil {
		return nil, s.status
	}
	if s.cache == nil {
		s.cache = make(map[string]BigSegmentMembership)
	}
	s.cache[contextKey] = m
	return m, s.status
}
