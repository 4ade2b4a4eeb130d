package luasampler

// inuseUnderflowSentinel is reported for inuse_bytes when a node's inclusive
// free bytes exceed its inclusive alloc bytes. This happens legitimately
// when profiling starts mid-run and observes frees for allocations made
// before Start was called — the original reports a sentinel
// (9999999999) rather than clamping to zero, so a dump reader can tell
// "we don't know" apart from "genuinely zero bytes live". Carried forward
// unchanged rather than silently switched to max(0, ...): see DESIGN.md.
const inuseUnderflowSentinel = 9999999999

// DumpNode is the structured, dump-time view of a Node: self counters plus
// every counter's inclusive (self + all descendants) aggregate, computed by
// a single post-order walk rather than maintained incrementally.
type DumpNode struct {
	Name     string
	Source   string
	Line     int
	Children []*DumpNode

	CallCount  uint64
	RealCost   int64 // inclusive self+descendant nanoseconds
	LastReturn int64

	// CPUCostPercent is RealCost relative to the parent's RealCost, 0-100.
	// The root's own CPUCostPercent is always 100.
	CPUCostPercent float64

	AllocBytes   uint64
	FreeBytes    uint64
	AllocTimes   uint64
	FreeTimes    uint64
	ReallocTimes uint64
	InuseBytes   uint64

	// ProfileCostNanos is only ever set on the root: the tracer's own
	// self-instrumentation overhead accumulated across the whole run.
	ProfileCostNanos int64
}

// DumpTree produces the structured tracing-tree dump described in spec.md
// §4.6: inclusive aggregation via post-order walk, cpu_cost_percent
// relative to each node's parent, and the root's RealCost set to the sum of
// its immediate children's inclusive cost (the root itself is never
// "called" so it has no self cost of its own to report).
func DumpTree(tree *Tree, profileCostNanos int64) *DumpNode {
	root := dumpNode(tree.Root)
	root.ProfileCostNanos = profileCostNanos
	root.CPUCostPercent = 100

	var rootSelf int64
	for _, c := range root.Children {
		rootSelf += c.RealCost
	}
	root.RealCost = rootSelf

	assignPercent(root)
	return root
}

func dumpNode(n *Node) *DumpNode {
	d := &DumpNode{
		Name:         n.Name,
		Source:       n.Source,
		Line:         n.Line,
		CallCount:    n.CallCount,
		RealCost:     n.RealCostNanos,
		LastReturn:   n.LastReturn,
		AllocBytes:   n.AllocBytes,
		FreeBytes:    n.FreeBytes,
		AllocTimes:   n.AllocTimes,
		FreeTimes:    n.FreeTimes,
		ReallocTimes: n.ReallocTimes,
	}

	for _, child := range n.children {
		cd := dumpNode(child)
		d.Children = append(d.Children, cd)

		d.RealCost += cd.RealCost
		d.AllocBytes += cd.AllocBytes
		d.FreeBytes += cd.FreeBytes
		d.AllocTimes += cd.AllocTimes
		d.FreeTimes += cd.FreeTimes
		d.ReallocTimes += cd.ReallocTimes
	}

	if d.AllocBytes >= d.FreeBytes {
		d.InuseBytes = d.AllocBytes - d.FreeBytes
	} else {
		d.InuseBytes = inuseUnderflowSentinel
	}

	return d
}

// assignPercent fills CPUCostPercent on every descendant of d relative to
// d's own (already-inclusive) RealCost; d's own percent must already be set
// by the caller.
func assignPercent(d *DumpNode) {
	for _, c := range d.Children {
		if d.RealCost > 0 {
			c.CPUCostPercent = 100 * float64(c.RealCost) / float64(d.RealCost)
		}
		assignPercent(c)
	}
}
