package graph

import (
	"errors"
	"testing"

	"github.com/skriptd/modload/internal/testutil/testlog"
)

func mustEnsure(t *testing.T, g *Graph, name string) *Node {
	t.Helper()
	n, err := g.Ensure(name)
	if err != nil {
		t.Fatalf("ensure %s: %v", name, err)
	}
	return n
}

func TestEnsureCreatesKnownOnce(t *testing.T) {
	testlog.Start(t)
	g := New(0)

	a := mustEnsure(t, g, "a.b.Foo")
	if a.Status != StatusKnown {
		t.Fatalf("expected known, got %v", a.Status)
	}
	again := mustEnsure(t, g, "a.b.Foo")
	if again != a {
		t.Fatalf("expected same node on second ensure")
	}
	if _, err := g.Ensure("  "); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestSetEdgesOnceAndParents(t *testing.T) {
	testlog.Start(t)
	g := New(0)

	top := mustEnsure(t, g, "app.Top")
	if err := g.SetEdges(top, []string{"app.Mid"}, []string{"app.Extra"}); err != nil {
		t.Fatalf("set edges: %v", err)
	}
	if top.Status != StatusContentLoaded {
		t.Fatalf("expected content_loaded, got %v", top.Status)
	}
	mid, ok := g.Get("app.Mid")
	if !ok {
		t.Fatalf("must dep not created")
	}
	if len(mid.Parents) != 1 || mid.Parents[0] != top {
		t.Fatalf("expected back-reference to top, got %v", mid.Parents)
	}
	extra, _ := g.Get("app.Extra")
	if len(extra.Parents) != 0 {
		t.Fatalf("optional deps must not record parents")
	}
	if err := g.SetEdges(top, nil, nil); !errors.Is(err, ErrEdgesAlreadySet) {
		t.Fatalf("expected ErrEdgesAlreadySet, got %v", err)
	}
}

func TestNextEligibleRespectsMustOrder(t *testing.T) {
	testlog.Start(t)
	g := New(0)

	top := mustEnsure(t, g, "app.Top")
	if err := g.SetEdges(top, []string{"app.Base"}, nil); err != nil {
		t.Fatalf("set edges: %v", err)
	}

	if got := g.NextEligible(); got != nil {
		t.Fatalf("top should be blocked on base, got %q", got.Name)
	}

	base, _ := g.Get("app.Base")
	if err := g.SetEdges(base, nil, nil); err != nil {
		t.Fatalf("set edges: %v", err)
	}

	if got := g.NextEligible(); got != base {
		t.Fatalf("expected base eligible first, got %v", got)
	}
	g.MarkDeclared(base)
	if got := g.NextEligible(); got != top {
		t.Fatalf("expected top after base declared, got %v", got)
	}
}

func TestCycleSatisfiedBreaksTwoNodeCycle(t *testing.T) {
	testlog.Start(t)
	g := New(0)

	a := mustEnsure(t, g, "cyc.A")
	b := mustEnsure(t, g, "cyc.B")
	if err := g.SetEdges(a, []string{"cyc.B"}, nil); err != nil {
		t.Fatalf("edges a: %v", err)
	}

	// B's content has not arrived yet; the cycle must not resolve early.
	if g.NextEligible() != nil {
		t.Fatalf("cycle resolved before both sides were content-loaded")
	}

	if err := g.SetEdges(b, []string{"cyc.A"}, nil); err != nil {
		t.Fatalf("edges b: %v", err)
	}

	first := g.NextEligible()
	if first != a {
		t.Fatalf("expected first content-loaded node (A) first, got %v", first)
	}
	g.MarkDeclared(first)
	second := g.NextEligible()
	if second != b {
		t.Fatalf("expected B second, got %v", second)
	}
}

func TestCycleDepthBound(t *testing.T) {
	testlog.Start(t)
	g := New(2)

	// ring.0 -> ring.1 -> ring.2 -> ring.3 -> ring.0 is longer than the
	// walk bound of 2, so nothing may become eligible.
	names := []string{"ring.0", "ring.1", "ring.2", "ring.3"}
	for i, name := range names {
		n := mustEnsure(t, g, name)
		next := names[(i+1)%len(names)]
		if err := g.SetEdges(n, []string{next}, nil); err != nil {
			t.Fatalf("edges %s: %v", name, err)
		}
	}

	if got := g.NextEligible(); got != nil {
		t.Fatalf("expected deadlock under depth bound, got %q", got.Name)
	}
	blocked := g.Blocked()
	if len(blocked) != len(names) {
		t.Fatalf("expected %d blocked nodes, got %d", len(names), len(blocked))
	}
	chain := g.MustChain(blocked[0])
	if len(chain) != len(names)+1 || chain[0] != chain[len(chain)-1] {
		t.Fatalf("expected closed chain over the ring, got %v", chain)
	}
}

func TestMustDependentsTransitive(t *testing.T) {
	testlog.Start(t)
	g := New(0)

	top := mustEnsure(t, g, "app.Top")
	if err := g.SetEdges(top, []string{"app.Mid"}, nil); err != nil {
		t.Fatalf("edges top: %v", err)
	}
	mid, _ := g.Get("app.Mid")
	if err := g.SetEdges(mid, []string{"app.Base"}, nil); err != nil {
		t.Fatalf("edges mid: %v", err)
	}
	base, _ := g.Get("app.Base")

	affected := g.MustDependents([]*Node{base})
	seen := make(map[string]bool, len(affected))
	for _, n := range affected {
		seen[n.Name] = true
	}
	for _, want := range []string{"app.Base", "app.Mid", "app.Top"} {
		if !seen[want] {
			t.Fatalf("expected %s in dependent set %v", want, affected)
		}
	}
}

func TestResetToKnownKeepsPath(t *testing.T) {
	testlog.Start(t)
	g := New(0)

	n := mustEnsure(t, g, "app.Flaky")
	n.Path = "http://repo/units/app/Flaky.unit.toml"
	n.Fetching = true
	n.ResetToKnown()
	if n.Status != StatusKnown || n.Fetching {
		t.Fatalf("reset left status=%v fetching=%v", n.Status, n.Fetching)
	}
	if n.Path == "" {
		t.Fatalf("reset must keep the resolved path for retry")
	}
}
