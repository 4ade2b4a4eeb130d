// Command luasampler-run drives the luasampler profiler against a wazero
// WebAssembly guest module, mirroring the teacher's cmd/wzprof demo driver:
// parse flags, instantiate a guest, run it to completion, write out
// whatever dump artifacts the selected mode produces.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/antsmallant/luasampler"
)

func main() {
	var (
		wasmPath  = pflag.StringP("wasm", "w", "", "path to the wasm module to run")
		entry     = pflag.StringP("entry", "e", "_start", "exported function to invoke")
		sampleHz  = pflag.IntP("hz", "z", 0, "cpu sample rate in Hz (sample mode only)")
		sampleCPU = pflag.BoolP("sample", "s", false, "use statistical sampling instead of tracing")
		outDir    = pflag.StringP("out", "o", ".", "directory to write dump artifacts to")
	)
	pflag.Parse()

	if *wasmPath == "" {
		fmt.Fprintln(os.Stderr, "luasampler-run: --wasm is required")
		os.Exit(2)
	}

	if err := run(*wasmPath, *entry, *sampleCPU, *sampleHz, *outDir); err != nil {
		fmt.Fprintln(os.Stderr, "luasampler-run:", err)
		os.Exit(1)
	}
}

func run(wasmPath, entry string, sample bool, hz int, outDir string) error {
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	hooks := newCLIHooks()
	profiler := luasampler.NewProfiler(hooks, nil)

	opts := luasampler.Options{CPUMode: luasampler.ModeProfile, MemMode: luasampler.ModeOff}
	if sample {
		opts.CPUMode = luasampler.ModeSample
		opts.CPUSampleHz = hz
	}
	if err := profiler.Start(opts); err != nil {
		return err
	}
	defer profiler.Stop()

	adapter := luasampler.NewWazeroAdapter(profiler, 1)
	ctx = context.WithValue(ctx, experimental.FunctionListenerFactoryKey{}, adapter)

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return err
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		return err
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(entry)
	if fn == nil {
		return fmt.Errorf("entry function %q not found", entry)
	}
	if _, err := fn.Call(ctx); err != nil {
		return err
	}

	return writeArtifacts(profiler, sample, outDir)
}

func writeArtifacts(p *luasampler.Profiler, sample bool, outDir string) error {
	if !sample {
		dump := p.Dump()
		return writeJSON(outDir+"/trace.json", dump)
	}

	sd, err := p.DumpSample()
	if err != nil {
		return err
	}
	if sd == nil {
		return nil
	}
	if err := os.WriteFile(outDir+"/cpu-c-samples.txt", []byte(sd.NativeChains), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(outDir+"/cpu-c-samples.raw", []byte(sd.RawChains), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(outDir+"/cpu-c-profile.pprof", sd.PProfBinary, 0o644); err != nil {
		return err
	}
	return os.WriteFile(outDir+"/cpu-lua-samples.txt", []byte(sd.LuaChains), 0o644)
}
