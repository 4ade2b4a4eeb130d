package luasampler

import "testing"

func TestSymbolLookupOrFillCachesByIdentity(t *testing.T) {
	c := newSymbolCache()
	fn := fakeFunction{id: 1, name: "foo", source: "a.lua", line: 3}

	a := c.lookupOrFill(fn, nil)
	b := c.lookupOrFill(fn, nil)
	if a != b {
		t.Fatalf("expected the same cached entry for the same identity")
	}
	if a.Name != "foo" || a.Source != "a.lua" || a.Line != 3 {
		t.Fatalf("unexpected entry contents: %+v", a)
	}
}

func TestSymbolLookupFallsBackToCallerSource(t *testing.T) {
	c := newSymbolCache()
	caller := fakeFunction{id: 1, name: "scripted", source: "a.lua", line: 10}
	callerInfo := newCall(fakeCoroutine{id: 1}, Call, caller, nil)

	native := fakeFunction{id: 2, name: "c_func"} // no source: a native function
	info := newCall(fakeCoroutine{id: 1}, Call, native, callerInfo)

	e := c.lookupOrFill(native, info)
	if e.Source != "a.lua" {
		t.Fatalf("expected native frame to borrow nearest scripted source, got %q", e.Source)
	}
	if e.Line != 10 {
		t.Fatalf("expected borrowed line 10, got %d", e.Line)
	}
}

func TestSymbolUpgradeReplacesPlaceholder(t *testing.T) {
	c := newSymbolCache()
	e := c.placeholder(1, "native", 0)
	if !e.isPlaceholder() {
		t.Fatalf("expected a fresh placeholder entry")
	}

	c.upgrade(1, "resolved_name")
	got, ok := c.get(1)
	if !ok || got.Name != "resolved_name" {
		t.Fatalf("expected placeholder upgraded to resolved_name, got %+v", got)
	}

	// A second upgrade must be a no-op once the entry is no longer a
	// placeholder.
	c.upgrade(1, "something_else")
	if got.Name != "resolved_name" {
		t.Fatalf("expected upgrade to be a no-op on an already-resolved entry")
	}
}
