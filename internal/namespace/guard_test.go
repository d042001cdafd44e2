package namespace

import (
	"strings"
	"testing"
)

var testKnown = []string{"system_schema.tables", "system_schema.columns", "system_schema.keyspaces"}

func TestGuard_Classify(t *testing.T) {
	g := NewGuard(testKnown)

	tests := []struct {
		id       string
		want     Classification
		wantName string
	}{
		{"mytable", External, ""},
		{"", External, ""},
		{"scylla.alternator.system_schema.tables", External, ""},
		{".scylla.alternator", External, ""},
		{".scylla.alternator.", InternalUnknown, ""},
		{".scylla.alternator.garbage!!", InternalUnknown, ""},
		{".scylla.alternator.alternator_mytable.mytable", InternalUnknown, ""},
		{".scylla.alternator.system_schema.tables", InternalKnown, "system_schema.tables"},
		{".scylla.alternator.system_schema.columns", InternalKnown, "system_schema.columns"},
		{".scylla.alternator.system_schema.keyspaces", InternalKnown, "system_schema.keyspaces"},
		{".scylla.alternator.system_schema.tables.", InternalUnknown, ""},
		{".scylla.alternator.SYSTEM_SCHEMA.TABLES", InternalUnknown, ""},
	}

	for _, tt := range tests {
		got, name := g.Classify(tt.id)
		if got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.id, got, tt.want)
		}
		if name != tt.wantName {
			t.Errorf("Classify(%q) name = %q, want %q", tt.id, name, tt.wantName)
		}
	}
}

func TestGuard_AuthorizeCreate(t *testing.T) {
	g := NewGuard(testKnown)

	tests := []struct {
		id   string
		want Decision
	}{
		{"mytable", Allow},
		{"orders.v2", Allow},
		{".scylla.alternator.", Deny},
		{".scylla.alternator.x", Deny},
		{".scylla.alternator.alternator_mytable.mytable", Deny},
		{".scylla.alternator.system_schema.tables", Deny},
	}
	for _, tt := range tests {
		if got := g.AuthorizeCreate(tt.id); got != tt.want {
			t.Errorf("AuthorizeCreate(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestGuard_AuthorizeAccess(t *testing.T) {
	enabled := NewGuard(testKnown)
	disabled := NewGuard(testKnown, WithVirtualTablesDisabled())

	tests := []struct {
		name       string
		guard      *Guard
		id         string
		privileged bool
		want       Decision
	}{
		{"external unprivileged", enabled, "mytable", false, Allow},
		{"external privileged", enabled, "mytable", true, Allow},
		{"known unprivileged", enabled, ".scylla.alternator.system_schema.tables", false, NotFound},
		{"unknown unprivileged", enabled, ".scylla.alternator.alternator_mytable.mytable", false, NotFound},
		{"bare prefix unprivileged", enabled, ".scylla.alternator.", false, NotFound},
		{"known privileged", enabled, ".scylla.alternator.system_schema.tables", true, Allow},
		{"unknown privileged", enabled, ".scylla.alternator.nope", true, NotFound},
		{"disabled known privileged", disabled, ".scylla.alternator.system_schema.columns", true, Deny},
		{"disabled known unprivileged", disabled, ".scylla.alternator.system_schema.columns", false, NotFound},
		{"disabled unknown privileged", disabled, ".scylla.alternator.nope", true, NotFound},
		{"disabled external", disabled, "mytable", false, Allow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.guard.AuthorizeAccess(tt.id, tt.privileged); got != tt.want {
				t.Errorf("AuthorizeAccess(%q, %v) = %v, want %v", tt.id, tt.privileged, got, tt.want)
			}
		})
	}
}

func TestGuard_CustomPrefix(t *testing.T) {
	g := NewGuard(testKnown, WithPrefix("__internal__"))
	if g.Prefix() != "__internal__" {
		t.Fatalf("prefix = %q", g.Prefix())
	}
	if c, _ := g.Classify(".scylla.alternator.system_schema.tables"); c != External {
		t.Errorf("default prefix should be external under a custom prefix, got %v", c)
	}
	if c, name := g.Classify("__internal__system_schema.tables"); c != InternalKnown || name != "system_schema.tables" {
		t.Errorf("got %v %q", c, name)
	}

	// Empty prefix keeps the default
	if NewGuard(nil, WithPrefix("")).Prefix() != DefaultPrefix {
		t.Error("empty prefix should be ignored")
	}
}

func TestGuard_Known(t *testing.T) {
	g := NewGuard(testKnown)
	known := g.Known()
	if len(known) != len(testKnown) {
		t.Fatalf("expected %d names, got %d", len(testKnown), len(known))
	}
	for i, name := range known {
		if !strings.HasPrefix(name, DefaultPrefix) {
			t.Errorf("%q lacks prefix", name)
		}
		if i > 0 && known[i-1] >= name {
			t.Errorf("names not sorted: %q before %q", known[i-1], name)
		}
		if c, _ := g.Classify(name); c != InternalKnown {
			t.Errorf("Classify(%q) = %v", name, c)
		}
	}
}

func TestDecisionAndClassificationStrings(t *testing.T) {
	if Allow.String() != "allow" || Deny.String() != "deny" || NotFound.String() != "not_found" {
		t.Error("unexpected decision strings")
	}
	if External.String() != "external" || InternalKnown.String() != "internal_known" || InternalUnknown.String() != "internal_unknown" {
		t.Error("unexpected classification strings")
	}
}
