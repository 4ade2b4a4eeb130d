package luasampler

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriteLegacyPProfHeaderAndTrailer(t *testing.T) {
	var buf bytes.Buffer
	samples := []nativeSample{
		{depth: 2, pcs: [nativeMaxFrames]uintptr{0x111, 0x222}},
	}
	if err := WriteLegacyPProf(&buf, 250, samples); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := buf.Bytes()
	if len(data) < 5*wordSize {
		t.Fatalf("output too short for header: %d bytes", len(data))
	}

	readWord := func(i int) uint64 {
		return binary.LittleEndian.Uint64(data[i*wordSize : (i+1)*wordSize])
	}

	if readWord(0) != 0 {
		t.Fatalf("expected header count=0, got %d", readWord(0))
	}
	if readWord(1) != 3 {
		t.Fatalf("expected header slots=3, got %d", readWord(1))
	}
	if readWord(3) != 4000 {
		t.Fatalf("expected sample period 4000us at 250hz, got %d", readWord(3))
	}

	// record: [count=1, depth=2, pc0, pc1]
	rec := data[5*wordSize:]
	if binary.LittleEndian.Uint64(rec[0:wordSize]) != 1 {
		t.Fatalf("expected record count=1")
	}
	if binary.LittleEndian.Uint64(rec[wordSize:2*wordSize]) != 2 {
		t.Fatalf("expected record depth=2")
	}
}
