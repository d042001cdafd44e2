// Package namespace owns the reserved table-name prefix that marks internal
// virtual tables, and decides how requests for such names are treated.
//
// Classification is purely syntactic: any identifier beginning with the
// prefix is internal, whether or not a virtual table of that name exists.
// Callers without elevated privilege cannot distinguish an internal table
// from a missing one.
package namespace

import (
	"sort"
	"strings"
)

// DefaultPrefix is the reserved prefix of internal table names.
const DefaultPrefix = ".scylla.alternator."

// Classification is the result of Classify.
type Classification int

const (
	// External names belong to user tables.
	External Classification = iota
	// InternalKnown names resolve to a registered virtual table.
	InternalKnown
	// InternalUnknown names carry the prefix but resolve to nothing.
	InternalUnknown
)

func (c Classification) String() string {
	switch c {
	case External:
		return "external"
	case InternalKnown:
		return "internal_known"
	case InternalUnknown:
		return "internal_unknown"
	default:
		return "unknown"
	}
}

// Decision is the result of an authorization check.
type Decision int

const (
	Allow Decision = iota
	Deny
	NotFound
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Option configures a Guard.
type Option func(*Guard)

// WithPrefix overrides the reserved prefix. An empty prefix is ignored.
func WithPrefix(prefix string) Option {
	return func(g *Guard) {
		if prefix != "" {
			g.prefix = prefix
		}
	}
}

// WithVirtualTablesDisabled makes registered virtual tables unreachable.
// Privileged callers are then denied instead of allowed.
func WithVirtualTablesDisabled() Option {
	return func(g *Guard) { g.enabled = false }
}

// Guard classifies and authorizes table identifiers. It is immutable after
// construction and safe for concurrent use.
type Guard struct {
	prefix   string
	enabled  bool
	registry map[string]struct{}
}

// NewGuard builds a guard that recognizes the given virtual table names.
// Names are given without the prefix, e.g. "system_schema.tables".
func NewGuard(known []string, opts ...Option) *Guard {
	g := &Guard{
		prefix:   DefaultPrefix,
		enabled:  true,
		registry: make(map[string]struct{}, len(known)),
	}
	for _, name := range known {
		g.registry[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Prefix returns the reserved prefix.
func (g *Guard) Prefix() string {
	return g.prefix
}

// IsInternal reports whether id carries the reserved prefix.
func (g *Guard) IsInternal(id string) bool {
	return strings.HasPrefix(id, g.prefix)
}

// Classify returns the classification of id. For InternalKnown it also
// returns the registered virtual table name with the prefix stripped.
func (g *Guard) Classify(id string) (Classification, string) {
	rest, ok := strings.CutPrefix(id, g.prefix)
	if !ok {
		return External, ""
	}
	if _, known := g.registry[rest]; known {
		return InternalKnown, rest
	}
	return InternalUnknown, ""
}

// AuthorizeCreate denies every identifier that is not External.
func (g *Guard) AuthorizeCreate(id string) Decision {
	if c, _ := g.Classify(id); c != External {
		return Deny
	}
	return Allow
}

// AuthorizeAccess decides whether a read of id may proceed. External names
// are always allowed; whether the table exists is up to the caller.
func (g *Guard) AuthorizeAccess(id string, privileged bool) Decision {
	c, _ := g.Classify(id)
	switch c {
	case External:
		return Allow
	case InternalKnown:
		if !privileged {
			return NotFound
		}
		if !g.enabled {
			return Deny
		}
		return Allow
	default:
		return NotFound
	}
}

// Known returns the registered virtual table names with the prefix applied,
// in sorted order.
func (g *Guard) Known() []string {
	names := make([]string, 0, len(g.registry))
	for name := range g.registry {
		names = append(names, g.prefix+name)
	}
	sort.Strings(names)
	return names
}
