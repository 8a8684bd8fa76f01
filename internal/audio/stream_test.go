package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
)

type rampSource struct {
	next     float32
	finished bool
}

func (s *rampSource) Process(dst []float32) {
	for i := range dst {
		dst[i] = s.next
		s.next++
	}
}

func (s *rampSource) Finished() bool { return s.finished }

func TestStreamReaderEncodesFloat32LE(t *testing.T) {
	src := &rampSource{}
	r := NewStreamReader(src)
	p := make([]byte, 20) // two whole frames plus a partial one
	n, err := r.Read(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 16 {
		t.Fatalf("n = %d, want 16", n)
	}
	for i := 0; i < 4; i++ {
		got := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		if got != float32(i) {
			t.Fatalf("sample %d = %v", i, got)
		}
	}
	if n, err := r.Read(make([]byte, 7)); n != 0 || err != nil {
		t.Fatalf("short read = %d, %v", n, err)
	}
}

func TestStreamReaderEOF(t *testing.T) {
	src := &rampSource{finished: true}
	r := NewStreamReader(src)
	if n, err := r.Read(make([]byte, 8)); n != 8 || !errors.Is(err, io.EOF) {
		t.Fatalf("finished source read = %d, %v", n, err)
	}

	r = NewStreamReader(&rampSource{})
	_ = r.Close()
	if n, err := r.Read(make([]byte, 8)); n != 0 || !errors.Is(err, io.EOF) {
		t.Fatalf("closed reader read = %d, %v", n, err)
	}
}

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{"ebiten": BackendEbiten, " OTO": BackendOto} {
		got, err := ParseBackend(in)
		if err != nil || got != want {
			t.Fatalf("ParseBackend(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseBackend("alsa"); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	if err := checkRate("x", 44100, 48000); err == nil {
		t.Fatalf("expected rate mismatch error")
	}
}
