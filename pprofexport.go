package luasampler

import (
	"time"

	"github.com/google/pprof/profile"
)

// ToPProf converts the sampler's accumulated folded Lua-chain weights into
// a standard pprof protobuf profile, additional to the legacy binary format
// spec.md §6 mandates. Grounded on the teacher's buildProfile/
// locationForCall pattern (wzprof's pprof.go): one Location per distinct
// function name, one Function per Location, and a Sample per distinct
// chain with its weight as the single "samples" value.
func ToPProf(weights map[string]uint64, hz int) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		TimeNanos:  0,
	}
	if hz > 0 {
		p.Period = int64(time.Second) / int64(hz)
	}

	locs := make(map[string]*profile.Location)
	funcs := make(map[string]*profile.Function)
	var nextID uint64

	locationFor := func(name string) *profile.Location {
		if l, ok := locs[name]; ok {
			return l
		}
		nextID++
		fn := &profile.Function{ID: nextID, Name: name, SystemName: name}
		funcs[name] = fn
		p.Function = append(p.Function, fn)

		nextID++
		loc := &profile.Location{
			ID:   nextID,
			Line: []profile.Line{{Function: fn}},
		}
		locs[name] = loc
		p.Location = append(p.Location, loc)
		return loc
	}

	for chain, count := range weights {
		names := splitFoldedChain(chain)
		locations := make([]*profile.Location, 0, len(names))
		for i := len(names) - 1; i >= 0; i-- {
			locations = append(locations, locationFor(names[i]))
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: locations,
			Value:    []int64{int64(count)},
		})
	}

	return p
}

func splitFoldedChain(chain string) []string {
	var names []string
	start := 0
	for i := 0; i < len(chain); i++ {
		if chain[i] == ';' {
			names = append(names, chain[start:i])
			start = i + 1
		}
	}
	names = append(names, chain[start:])
	return names
}
