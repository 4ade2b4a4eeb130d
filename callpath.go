package luasampler

// Node is a vertex of the call-path prefix trie. It is identified by its
// position in the tree, not by function identity alone: two frames that
// call the same function from different call sites produce two distinct
// nodes, which is the entire rationale for keying children on
// (parent, function identity) rather than on function identity alone
// (merging at function identity would conflate unrelated call sites of a
// common callee, e.g. two different closures sharing a C function, S3 in
// spec.md §8).
//
// A Node's counters are self counters: they record only cost attributed
// directly to this node, never to its descendants. Inclusive metrics
// (self + descendants) are computed on demand by the dump layer via a
// post-order walk, never maintained incrementally.
type Node struct {
	Parent *Node
	Depth  int

	// Name/Source/Line are shared immutable strings owned by the symbol
	// cache; empty until the first symbol lookup fills them in (see
	// tracer.onEnter in trace.go).
	Name   string
	Source string
	Line   int

	CallCount     uint64
	LastReturn    int64
	RealCostNanos int64

	CPUSamples uint64

	AllocBytes   uint64
	FreeBytes    uint64
	AllocTimes   uint64
	FreeTimes    uint64
	ReallocTimes uint64

	children map[uintptr]*Node
}

// Tree is a prefix trie of call paths rooted at a sentinel "root" node.
// Children are created lazily on first visit and all live until the tree
// is discarded wholesale; there is no partial eviction. Profiler.Stop
// leaves the tree in place for Dump, and the next Profiler.Start replaces
// it with a fresh one.
type Tree struct {
	Root *Node
}

// NewTree creates a tree with a freshly initialized root node.
func NewTree() *Tree {
	return &Tree{
		Root: &Node{
			Name:     "root",
			Source:   "root",
			children: make(map[uintptr]*Node),
		},
	}
}

// GetOrCreateChild looks up the child of parent keyed by fnIdentity,
// creating it with zeroed counters if absent. Child lookup is O(1)
// average, backed by Go's built-in map — the opaque integer-keyed
// associative container spec.md treats as out of scope to reimplement.
func (t *Tree) GetOrCreateChild(parent *Node, fnIdentity uintptr) *Node {
	if parent.children == nil {
		parent.children = make(map[uintptr]*Node)
	}
	if child, ok := parent.children[fnIdentity]; ok {
		return child
	}
	child := &Node{
		Parent: parent,
		Depth:  parent.Depth + 1,
	}
	parent.children[fnIdentity] = child
	return child
}

// WalkChildren visits the direct children of node in unspecified order.
func (t *Tree) WalkChildren(node *Node, visit func(*Node)) {
	for _, child := range node.children {
		visit(child)
	}
}

// Free releases the tree. Go's garbage collector reclaims Node memory once
// unreferenced; Free exists to sever the Parent back-links explicitly (they
// are non-owning but would otherwise keep every node in a connected
// component alive as long as any single node is retained by a caller) and
// to match the explicit free_tree lifecycle spec.md §4.1 and the original
// profile_free describe.
func (t *Tree) Free() {
	if t.Root == nil {
		return
	}
	freeSubtree(t.Root)
	t.Root = nil
}

func freeSubtree(n *Node) {
	for _, child := range n.children {
		freeSubtree(child)
		child.Parent = nil
	}
	n.children = nil
}
