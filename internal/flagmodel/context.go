package flagmodel

import "strings"

// DefaultContextKind is used when a clause or target does not specify
// ContextKind.
const DefaultContextKind = "user"

// Context is a single-kind evaluation subject: a key plus arbitrary
// attributes. Kind, Key and Anonymous are top-level fields (AttrRef
// resolves "kind", "key" and "anonymous" to them); every other
// attribute, "name" included, lives in Attributes.
type Context struct {
	Kind       string
	Key        string
	Anonymous  bool
	Attributes map[string]any
}

// MultiContext bundles several single-kind Contexts keyed by kind, for
// evaluations that span more than one kind of subject (user + device,
// user + organization, etc.).
type MultiContext struct {
	Contexts map[string]Context
}

// Single builds a MultiContext containing exactly one Context of the
// default kind.
func Single(c Context) MultiContext {
	if c.Kind == "" {
		c.Kind = DefaultContextKind
	}
	return MultiContext{Contexts: map[string]Context{c.Kind: c}}
}

// Get returns the Context of the given kind, or the zero Context and
// false if this MultiContext has none of that kind.
func (m MultiContext) Get(kind string) (Context, bool) {
	if kind == "" {
		kind = DefaultContextKind
	}
	c, ok := m.Contexts[kind]
	return c, ok
}

// FullyQualifiedKey returns a key unique across kinds, used by the
// event pipeline's context deduplicator. A single context of the
// default ("user") kind uses the bare key (matching legacy "user"
// event shape); a single context of any other kind is "kind:key", and
// a multi-kind context joins its "kind:key" pairs sorted by kind.
func (m MultiContext) FullyQualifiedKey() string {
	if len(m.Contexts) == 1 {
		for kind, c := range m.Contexts {
			if kind == DefaultContextKind {
				return c.Key
			}
			return kind + ":" + c.Key
		}
	}
	kinds := make([]string, 0, len(m.Contexts))
	for kind := range m.Contexts {
		kinds = append(kinds, kind)
	}
	sortStrings(kinds)
	var b strings.Builder
	for i, kind := range kinds {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(kind)
		b.WriteByte(':')
		b.WriteString(m.Contexts[kind].Key)
	}
	return b.String()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// AttrRef is a parsed attribute reference. A reference beginning with
// "/" is an RFC-6901-flavoured JSON pointer into nested attributes
// (with "~1" and "~0" escapes); otherwise the whole string is treated
// as a single literal top-level attribute name.
type AttrRef struct {
	components []string
	valid      bool
}

// NewAttrRef parses a raw attribute reference.
func NewAttrRef(raw string) AttrRef {
	if raw == "" {
		return AttrRef{valid: false}
	}
	if raw[0] != '/' {
		return AttrRef{components: []string{raw}, valid: true}
	}
	parts := strings.Split(raw[1:], "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		p = strings.ReplaceAll(p, "~0", "~")
		parts[i] = p
	}
	return AttrRef{components: parts, valid: len(parts) > 0}
}

// Get resolves the reference against a context, walking well-known
// top-level fields first and falling back to Attributes for anything
// else, then descending into nested maps for multi-component
// references.
func (r AttrRef) Get(c Context) (any, bool) {
	if !r.valid || len(r.components) == 0 {
		return nil, false
	}
	head := r.components[0]
	var cur any
	switch head {
	case "key":
		cur = c.Key
	case "kind":
		cur = c.Kind
	case "anonymous":
		cur = c.Anonymous
	default:
		v, ok := c.Attributes[head]
		if !ok {
			return nil, false
		}
		cur = v
	}
	for _, seg := range r.components[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
