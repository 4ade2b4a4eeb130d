package luasampler

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ServeHTTP exposes the profiler's current state under a debug index, in
// the spirit of the teacher's own http.go/pprof.go handlers: a small
// listing page linking to each downloadable artifact, rather than a single
// monolithic endpoint.
func (p *Profiler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/debug/profiler/", "/debug/profiler":
		p.serveIndex(w, r)
	case "/debug/profiler/trace":
		p.serveTraceDump(w, r)
	case "/debug/profiler/sample/lua":
		p.serveSampleArtifact(w, r, func(d *SampleDump) (string, []byte) {
			return "text/plain; charset=utf-8", []byte(d.LuaChains)
		})
	case "/debug/profiler/sample/native":
		p.serveSampleArtifact(w, r, func(d *SampleDump) (string, []byte) {
			return "text/plain; charset=utf-8", []byte(d.NativeChains)
		})
	case "/debug/profiler/sample/raw":
		p.serveSampleArtifact(w, r, func(d *SampleDump) (string, []byte) {
			return "text/plain; charset=utf-8", []byte(d.RawChains)
		})
	case "/debug/profiler/sample/pprof":
		p.serveSampleArtifact(w, r, func(d *SampleDump) (string, []byte) {
			return "application/octet-stream", d.PProfBinary
		})
	case "/debug/profiler/sample/pprof.pb.gz":
		p.servePProfProto(w, r)
	default:
		http.NotFound(w, r)
	}
}

// servePProfProto serves the sample-mode script chains as a standard
// pprof protobuf profile (ToPProf), the gzip-compressed format `go tool
// pprof` itself reads directly, alongside the legacy binary format the
// other sample/pprof route serves.
func (p *Profiler) servePProfProto(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	sampler := p.sampler
	hz := p.opts.CPUSampleHz
	p.mu.Unlock()

	if sampler == nil {
		http.Error(w, "profiler not started in sample mode", http.StatusPreconditionFailed)
		return
	}

	prof := ToPProf(sampler.Weights(), hz)
	w.Header().Set("Content-Type", "application/octet-stream")
	if err := prof.Write(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (p *Profiler) serveIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<html>
<head><title>luasampler</title></head>
<body>
<h1>luasampler</h1>
<ul>
<li><a href="trace">trace tree (json)</a></li>
<li><a href="sample/lua">sample: script chains (folded)</a></li>
<li><a href="sample/native">sample: native chains (folded)</a></li>
<li><a href="sample/raw">sample: native chains (raw)</a></li>
<li><a href="sample/pprof">sample: legacy pprof binary</a></li>
<li><a href="sample/pprof.pb.gz">sample: standard pprof protobuf</a></li>
</ul>
</body>
</html>
`)
}

func (p *Profiler) serveTraceDump(w http.ResponseWriter, _ *http.Request) {
	d := p.Dump()
	if d == nil {
		http.Error(w, "profiler not started", http.StatusPreconditionFailed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d)
}

func (p *Profiler) serveSampleArtifact(w http.ResponseWriter, _ *http.Request, pick func(*SampleDump) (string, []byte)) {
	d, err := p.DumpSample()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if d == nil {
		http.Error(w, "profiler not started in sample mode", http.StatusPreconditionFailed)
		return
	}
	contentType, body := pick(d)
	w.Header().Set("Content-Type", contentType)
	w.Write(body)
}
