package flagmodel

// FullDataSet is a complete snapshot of every item of every kind, as
// delivered by a data source's Init event or a persistent store's
// initial load.
type FullDataSet map[DataKind]map[string]ItemDescriptor

// KeyedItem is a single addressable item within a FullDataSet.
type KeyedItem struct {
	Kind DataKind
	Key  string
	Item ItemDescriptor
}

// DependencyGraph tracks which flags/segments reference which other
// flags/segments (via Prerequisites and OpSegmentMatch clauses), so
// that a change to one item can be expanded into the full set of items
// whose evaluation result might have changed.
//
// The graph is rebuilt wholesale on Init and patched incrementally on
// Upsert, mirroring how a real control-plane payload is both
// periodically re-synced in full and streamed as deltas.
type DependencyGraph struct {
	// from[kind][key] = set of (kind,key) this item depends on.
	from map[DataKind]map[string]map[KeyRef]struct{}
	// to[kind][key] = set of (kind,key) that depend on this item.
	to map[DataKind]map[string]map[KeyRef]struct{}
}

// KeyRef addresses a single item by kind and key.
type KeyRef struct {
	Kind DataKind
	Key  string
}

// NewDependencyGraph returns an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		from: make(map[DataKind]map[string]map[KeyRef]struct{}),
		to:   make(map[DataKind]map[string]map[KeyRef]struct{}),
	}
}

// Reset rebuilds the graph from scratch given a full data set.
func (g *DependencyGraph) Reset(data FullDataSet) {
	g.from = make(map[DataKind]map[string]map[KeyRef]struct{})
	g.to = make(map[DataKind]map[string]map[KeyRef]struct{})
	for kind, items := range data {
		for key, desc := range items {
			g.setDependencies(kind, key, dependenciesOf(desc))
		}
	}
}

// UpdateDependencies recomputes the dependency edges for a single
// updated item, after an Upsert.
func (g *DependencyGraph) UpdateDependencies(kind DataKind, key string, desc ItemDescriptor) {
	g.setDependencies(kind, key, dependenciesOf(desc))
}

func (g *DependencyGraph) setDependencies(kind DataKind, key string, deps []KeyRef) {
	self := KeyRef{Kind: kind, Key: key}

	if existing := g.from[kind][key]; existing != nil {
		for ref := range existing {
			if toMap := g.to[ref.Kind]; toMap != nil {
				delete(toMap[ref.Key], self)
			}
		}
	}

	if g.from[kind] == nil {
		g.from[kind] = make(map[string]map[KeyRef]struct{})
	}
	set := make(map[KeyRef]struct{}, len(deps))
	for _, ref := range deps {
		set[ref] = struct{}{}
		if g.to[ref.Kind] == nil {
			g.to[ref.Kind] = make(map[string]map[KeyRef]struct{})
		}
		if g.to[ref.Kind][ref.Key] == nil {
			g.to[ref.Kind][ref.Key] = make(map[KeyRef]struct{})
		}
		g.to[ref.Kind][ref.Key][self] = struct{}{}
	}
	g.from[kind][key] = set
}

// AffectedBy returns every item (including the seed itself) whose
// evaluation could change as a result of a change to (kind,key),
// walking the reverse-dependency edges transitively.
func (g *DependencyGraph) AffectedBy(kind DataKind, key string) []KeyRef {
	seed := KeyRef{Kind: kind, Key: key}
	seen := map[KeyRef]struct{}{seed: {}}
	queue := []KeyRef{seed}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for dependent := range g.to[cur.Kind][cur.Key] {
			if _, ok := seen[dependent]; !ok {
				seen[dependent] = struct{}{}
				queue = append(queue, dependent)
			}
		}
	}
	out := make([]KeyRef, 0, len(seen))
	for ref := range seen {
		out = append(out, ref)
	}
	return out
}

func dependenciesOf(desc ItemDescriptor) []KeyRef {
	if desc.Deleted() {
		return nil
	}
	switch v := desc.Item.(type) {
	case *Flag:
		deps := make([]KeyRef, 0, len(v.Prerequisites)+2)
		for _, p := range v.Prerequisites {
			deps = append(deps, KeyRef{Kind: Flags, Key: p.Key})
		}
		deps = append(deps, segmentRefsFromRules(v.Rules)...)
		return deps
	case *Segment:
		var deps []KeyRef
		for _, r := range v.Rules {
			deps = append(deps, segmentRefsFromClauses(r.Clauses)...)
		}
		return deps
	default:
		return nil
	}
}

func segmentRefsFromRules(rules []Rule) []KeyRef {
	var out []KeyRef
	for _, r := range rules {
		out = append(out, segmentRefsFromClauses(r.Clauses)...)
	}
	return out
}

func segmentRefsFromClauses(clauses []Clause) []KeyRef {
	var out []KeyRef
	for _, c := range clauses {
		if c.Op != OpSegmentMatch {
			continue
		}
		for _, v := range c.Values {
			if s, ok := v.(string); ok {
				out = append(out, KeyRef{Kind: Segments, Key: s})
			}
		}
	}
	return out
}
