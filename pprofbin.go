package luasampler

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"runtime"
)

// wordSize is the native pointer width the legacy gperftools cpuprofile
// format is defined in terms of, matching the original's uintptr_t-sized
// header/record/trailer slots.
const wordSize = 8

// WriteLegacyPProf writes the legacy gperftools-style binary cpuprofile
// format spec.md §6 specifies: a 5-word header, one leaf-first
// [count,depth,pcs...] record per captured native sample, a 3-word
// trailer, and (best-effort, Linux only) the running process's
// /proc/self/maps appended verbatim so standalone pprof tooling can
// resolve symbols without a separate symbol table.
func WriteLegacyPProf(w io.Writer, hz int, samples []nativeSample) error {
	if hz <= 0 {
		hz = defaultCPUSampleHz
	}
	periodUs := uint64(1000000) / uint64(hz)

	bw := bufio.NewWriter(w)

	hdr := [5]uint64{0, 3, 0, periodUs, 0}
	if err := writeWords(bw, hdr[:]); err != nil {
		return err
	}

	for _, s := range samples {
		if s.depth == 0 {
			continue
		}
		rec := make([]uint64, 0, 2+s.depth)
		rec = append(rec, 1, uint64(s.depth))
		for i := 0; i < s.depth; i++ {
			rec = append(rec, uint64(s.pcs[i]))
		}
		if err := writeWords(bw, rec); err != nil {
			return err
		}
	}

	trailer := [3]uint64{0, 1, 0}
	if err := writeWords(bw, trailer[:]); err != nil {
		return err
	}

	if err := appendProcMaps(bw); err != nil {
		return err
	}

	return bw.Flush()
}

func writeWords(w io.Writer, words []uint64) error {
	buf := make([]byte, wordSize)
	for _, v := range words {
		binary.LittleEndian.PutUint64(buf, v)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// appendProcMaps copies /proc/self/maps verbatim, best-effort. On any
// platform without it (everything but Linux) this is silently a no-op,
// matching the original's own fopen-may-fail tolerance.
func appendProcMaps(w io.Writer) error {
	if runtime.GOOS != "linux" {
		return nil
	}
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
