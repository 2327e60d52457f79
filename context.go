package flagcore

import "github.com/flagcore-io/flagcore-go/internal/flagmodel"

// Context is an evaluation subject: a key, a kind, and arbitrary
// attributes. Build one with NewContext for the common single-kind
// case, or ContextBuilder/MultiContextBuilder for anything richer.
type Context struct {
	mc flagmodel.MultiContext
}

// NewContext builds a single default-kind ("user") Context with no
// attributes beyond its key - the common case for simple callers.
func NewContext(key string) Context {
	return NewContextBuilder(key).Build()
}

// Key returns the key of this Context's default-kind subject, or (for
// a multi-kind Context with no default kind) the key of an arbitrary
// constituent subject.
func (c Context) Key() string {
	if single, ok := c.mc.Get(flagmodel.DefaultContextKind); ok {
		return single.Key
	}
	for _, single := range c.mc.Contexts {
		return single.Key
	}
	return ""
}

// Valid reports whether this Context carries at least one subject.
// The zero Context is invalid; evaluation calls made with it resolve
// to USER_NOT_SPECIFIED.
func (c Context) Valid() bool {
	return len(c.mc.Contexts) > 0
}

// ContextBuilder constructs a single-kind Context. The zero value is
// not usable; start from NewContextBuilder.
type ContextBuilder struct {
	kind      string
	key       string
	anonymous bool
	attrs     map[string]any
}

// NewContextBuilder starts building a Context with the given key and
// the default ("user") kind.
func NewContextBuilder(key string) *ContextBuilder {
	return &ContextBuilder{kind: flagmodel.DefaultContextKind, key: key}
}

// Kind sets this Context's kind (e.g. "device", "organization").
func (b *ContextBuilder) Kind(kind string) *ContextBuilder {
	if kind != "" {
		b.kind = kind
	}
	return b
}

// Anonymous marks this Context as anonymous: present in evaluations
// but excluded from the event pipeline's index/identify events.
func (b *ContextBuilder) Anonymous(anonymous bool) *ContextBuilder {
	b.anonymous = anonymous
	return b
}

// SetAttribute attaches a custom attribute, available to targeting
// rule clauses via its name or, for nested values, a "/a/b" pointer.
func (b *ContextBuilder) SetAttribute(name string, value any) *ContextBuilder {
	if b.attrs == nil {
		b.attrs = make(map[string]any)
	}
	b.attrs[name] = value
	return b
}

// Build finalizes this builder into a Context.
func (b *ContextBuilder) Build() Context {
	c := flagmodel.Context{
		Kind:       b.kind,
		Key:        b.key,
		Anonymous:  b.anonymous,
		Attributes: b.attrs,
	}
	return Context{mc: flagmodel.Single(c)}
}

// MultiContextBuilder composes several single-kind Contexts into one
// multi-kind Context, for evaluations that target more than one kind
// of subject at once (e.g. a user acting through a particular device).
type MultiContextBuilder struct {
	contexts []Context
}

// NewMultiContextBuilder starts building a multi-kind Context.
func NewMultiContextBuilder() *MultiContextBuilder {
	return &MultiContextBuilder{}
}

// Add includes one single-kind Context as a constituent of the
// resulting multi-kind Context. Adding two Contexts of the same kind
// keeps the later one.
func (b *MultiContextBuilder) Add(c Context) *MultiContextBuilder {
	b.contexts = append(b.contexts, c)
	return b
}

// Build finalizes this builder into a single multi-kind Context.
func (b *MultiContextBuilder) Build() Context {
	mc := flagmodel.MultiContext{Contexts: make(map[string]flagmodel.Context, len(b.contexts))}
	for _, c := range b.contexts {
		for kind, single := range c.mc.Contexts {
			mc.Contexts[kind] = single
		}
	}
	return Context{mc: mc}
}

// contextEventPayload builds the attribute map the event pipeline
// attaches to index/identify events: a flattened single-kind shape for
// the common case, or a "kind":"multi" envelope with one sub-object
// per constituent kind, matching the wire shape real event ingestion
// endpoints expect.
func contextEventPayload(mc flagmodel.MultiContext) map[string]any {
	if len(mc.Contexts) == 1 {
		for kind, c := range mc.Contexts {
			return singleContextPayload(kind, c)
		}
	}
	out := map[string]any{"kind": "multi"}
	for kind, c := range mc.Contexts {
		out[kind] = singleContextPayload(kind, c)
	}
	return out
}

func singleContextPayload(kind string, c flagmodel.Context) map[string]any {
	out := map[string]any{"key": c.Key, "kind": kind}
	if c.Anonymous {
		out["anonymous"] = true
	}
	for k, v := range c.Attributes {
		out[k] = v
	}
	return out
}
