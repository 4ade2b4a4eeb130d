package luasampler

import "math"

// xorshift64Seed is the fallback seed used when the RNG state is zero,
// matching the original's xorshift64 guard against a zero seed producing
// an all-zero stream forever.
const xorshift64Seed uint64 = 88172645463393265

// gapGenerator produces a geometrically (exponentially, in instruction-count
// terms) distributed gap between samples, for the "future mode" §4.4
// describes as an alternative to timer-based sampling: sampling every Nth
// VM instruction with N itself random keeps sampling from aliasing with
// periodic loop structure in the profiled script. Grounded on the
// original's xorshift64/next_exponential_gap; not wired to a live sampling
// path since the adapter has no guest instruction counter to hook (see
// SPEC_FULL.md).
type gapGenerator struct {
	state    uint64
	meanGap  int
}

func newGapGenerator(seed uint64, meanGap int) *gapGenerator {
	if seed == 0 {
		seed = xorshift64Seed
	}
	if meanGap <= 0 {
		meanGap = defaultCPUSampleHz
	}
	return &gapGenerator{state: seed, meanGap: meanGap}
}

// next returns the next xorshift64 draw, advancing the generator's state.
func (g *gapGenerator) next() uint64 {
	x := g.state
	if x == 0 {
		x = xorshift64Seed
	}
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	g.state = x
	return x
}

// nextGap returns the next sample gap: floor(-ln(u) * meanGap), clamped to
// a minimum of 1, with u drawn uniformly from the 53-bit mantissa of a
// xorshift64 word exactly as the original derives its double.
func (g *gapGenerator) nextGap() int {
	r := g.next()
	u := float64(r>>11) * (1.0 / 9007199254740992.0)
	if u <= 0 {
		u = 1e-12
	}
	gap := int(math.Floor(-math.Log(u) * float64(g.meanGap)))
	if gap < 1 {
		gap = 1
	}
	return gap
}
