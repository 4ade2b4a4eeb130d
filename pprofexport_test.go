package luasampler

import "testing"

func TestToPProfBuildsOneSamplePerChain(t *testing.T) {
	weights := map[string]uint64{
		"root;a;b": 3,
		"root;a;c": 1,
	}
	p := ToPProf(weights, 250)

	if len(p.Sample) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(p.Sample))
	}
	// "a" is shared between both chains and must resolve to the same
	// Location/Function rather than being duplicated.
	seenA := 0
	for _, fn := range p.Function {
		if fn.Name == "a" {
			seenA++
		}
	}
	if seenA != 1 {
		t.Fatalf("expected function \"a\" deduplicated across chains, found %d entries", seenA)
	}
}

func TestSplitFoldedChain(t *testing.T) {
	got := splitFoldedChain("root;a;b")
	want := []string{"root", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
