package flagmodel

import "testing"

func TestDependencyGraph_AffectedByPrerequisite(t *testing.T) {
	base := Flags
	data := FullDataSet{
		base: {
			"parent": {Version: 1, Item: &Flag{Key: "parent", Prerequisites: []Prerequisite{{Key: "child"}}}},
			"child":  {Version: 1, Item: &Flag{Key: "child"}},
		},
	}
	g := NewDependencyGraph()
	g.Reset(data)

	affected := g.AffectedBy(Flags, "child")
	if !containsRef(affected, KeyRef{Kind: Flags, Key: "child"}) {
		t.Fatalf("expected seed key in affected set: %v", affected)
	}
	if !containsRef(affected, KeyRef{Kind: Flags, Key: "parent"}) {
		t.Fatalf("expected parent in affected set: %v", affected)
	}
}

func TestDependencyGraph_AffectedBySegment(t *testing.T) {
	data := FullDataSet{
		Flags: {
			"uses_segment": {Version: 1, Item: &Flag{
				Key: "uses_segment",
				Rules: []Rule{{Clauses: []Clause{{Op: OpSegmentMatch, Values: []any{"beta-users"}}}}},
			}},
		},
		Segments: {
			"beta-users": {Version: 1, Item: &Segment{Key: "beta-users"}},
		},
	}
	g := NewDependencyGraph()
	g.Reset(data)

	affected := g.AffectedBy(Segments, "beta-users")
	if !containsRef(affected, KeyRef{Kind: Flags, Key: "uses_segment"}) {
		t.Fatalf("expected dependent flag in affected set: %v", affected)
	}
}

func TestDependencyGraph_UpdateDependenciesRemovesStaleEdges(t *testing.T) {
	g := NewDependencyGraph()
	g.Reset(FullDataSet{
		Flags: {
			"a": {Version: 1, Item: &Flag{Key: "a", Prerequisites: []Prerequisite{{Key: "b"}}}},
			"b": {Version: 1, Item: &Flag{Key: "b"}},
		},
	})

	// "a" no longer depends on "b".
	g.UpdateDependencies(Flags, "a", ItemDescriptor{Version: 2, Item: &Flag{Key: "a"}})

	affected := g.AffectedBy(Flags, "b")
	if containsRef(affected, KeyRef{Kind: Flags, Key: "a"}) {
		t.Fatalf("expected stale edge to be removed, got: %v", affected)
	}
}

func containsRef(refs []KeyRef, target KeyRef) bool {
	for _, r := range refs {
		if r == target {
			return true
		}
	}
	return false
}

func TestAttrRef_LiteralAndPointer(t *testing.T) {
	ctx := Context{Kind: "user", Key: "u1", Attributes: map[string]any{
		"plan": "pro",
		"address": map[string]any{
			"country": "DE",
		},
	}}

	if v, ok := NewAttrRef("plan").Get(ctx); !ok || v != "pro" {
		t.Fatalf("literal attribute lookup failed: %v %v", v, ok)
	}
	if v, ok := NewAttrRef("/address/country").Get(ctx); !ok || v != "DE" {
		t.Fatalf("nested pointer lookup failed: %v %v", v, ok)
	}
	if _, ok := NewAttrRef("/address/zip").Get(ctx); ok {
		t.Fatal("expected missing nested attribute to report not-found")
	}
	if v, ok := NewAttrRef("key").Get(ctx); !ok || v != "u1" {
		t.Fatalf("well-known key lookup failed: %v %v", v, ok)
	}
}
