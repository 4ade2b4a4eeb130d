package luasampler

import "testing"

func TestGapGeneratorProducesPositiveGaps(t *testing.T) {
	g := newGapGenerator(42, 250)
	for i := 0; i < 1000; i++ {
		gap := g.nextGap()
		if gap < 1 {
			t.Fatalf("expected gap >= 1, got %d", gap)
		}
	}
}

func TestGapGeneratorDeterministicForSameSeed(t *testing.T) {
	a := newGapGenerator(7, 100)
	b := newGapGenerator(7, 100)
	for i := 0; i < 50; i++ {
		if a.nextGap() != b.nextGap() {
			t.Fatalf("expected identical sequences from identical seeds")
		}
	}
}

func TestGapGeneratorZeroSeedFallsBackToFixedSeed(t *testing.T) {
	a := newGapGenerator(0, 100)
	b := newGapGenerator(xorshift64Seed, 100)
	if a.nextGap() != b.nextGap() {
		t.Fatalf("expected zero seed to fall back to the fixed xorshift64 seed")
	}
}
