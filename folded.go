package luasampler

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// FoldedLuaChains renders the sampler's accumulated script-call-chain
// weights as collapsed-stack text: one "frame;frame;...;frame count" line
// per distinct chain, sorted for deterministic output. This is
// cpu-c-samples.txt's script-chain counterpart in spec.md §6 — the
// "Lua-chain" folded text.
func FoldedLuaChains(weights map[string]uint64) string {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s %d\n", k, weights[k])
	}
	return b.String()
}

// nativeFrameSymbol resolves one native PC to "module!symbol+0xoffset",
// the Go analogue of dladdr used by the original's symbolization, and the
// only granularity spec.md's Non-goals permit for native frames (no
// source-line symbolization).
func nativeFrameSymbol(pc uintptr) string {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return fmt.Sprintf("??!0x%x", pc)
	}
	name := fn.Name()
	entry := fn.Entry()
	module := moduleOf(name)
	return fmt.Sprintf("%s!%s+0x%x", module, name, pc-entry)
}

// moduleOf extracts the leading package path component of a runtime
// function name, standing in for the shared-object basename dladdr would
// report in the original (the host binary's own module in a Go build).
func moduleOf(fullName string) string {
	if i := strings.LastIndex(fullName, "/"); i >= 0 {
		rest := fullName[i+1:]
		if j := strings.Index(rest, "."); j >= 0 {
			return fullName[:i+1] + rest[:j]
		}
		return fullName
	}
	if j := strings.Index(fullName, "."); j >= 0 {
		return fullName[:j]
	}
	return fullName
}

// FoldedNativeChains renders captured native samples as resolved
// collapsed-stack text (cpu-c-samples.txt), one line per distinct resolved
// chain.
func FoldedNativeChains(samples []nativeSample) string {
	counts := make(map[string]uint64)
	for _, s := range samples {
		frames := make([]string, s.depth)
		for i := 0; i < s.depth; i++ {
			// Leaf-first in the sample; reverse to root-first for the
			// folded-stack convention.
			frames[s.depth-1-i] = nativeFrameSymbol(s.pcs[i])
		}
		counts[strings.Join(frames, ";")]++
	}
	return foldedCountsText(counts)
}

// RawNativeChains renders captured native samples as unresolved chains
// (cpu-c-samples.raw), for callers that want to symbolize later against a
// separate binary/symbol table. Every frame is written as "main!0x<pc>":
// the module is always the literal "main" and the value is the absolute
// PC, not an offset within a module. Identical chains share one line
// followed by their count, as in the folded formats.
func RawNativeChains(samples []nativeSample) string {
	counts := make(map[string]uint64)
	for _, s := range samples {
		frames := make([]string, s.depth)
		for i := 0; i < s.depth; i++ {
			frames[s.depth-1-i] = fmt.Sprintf("main!0x%x", s.pcs[i])
		}
		counts[strings.Join(frames, ";")]++
	}
	return foldedCountsText(counts)
}

func foldedCountsText(counts map[string]uint64) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s %d\n", k, counts[k])
	}
	return b.String()
}
