// Package audio streams interleaved stereo float32 samples to a sound card.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
)

// SampleSource fills dst with interleaved stereo frames.
type SampleSource interface {
	Process(dst []float32)
}

// FinishingSource is a SampleSource that can signal when playback has ended.
// When Finished returns true, the stream returns io.EOF on the next Read.
type FinishingSource interface {
	SampleSource
	Finished() bool
}

// StreamReader adapts a SampleSource to a float32 little-endian byte stream.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
	closed bool
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, io.EOF
	}
	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i, v := range r.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	n := frames * 8
	if fs, ok := r.source.(FinishingSource); ok && fs.Finished() {
		return n, io.EOF
	}
	return n, nil
}

// Close makes every later Read return io.EOF.
func (r *StreamReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Output is a running sound card stream.
type Output interface {
	Play()
	Pause()
	IsPlaying() bool
	Close() error
}

// Backend names a sound card library.
type Backend string

const (
	BackendEbiten Backend = "ebiten"
	BackendOto    Backend = "oto"
)

// ParseBackend accepts "ebiten" or "oto", case-insensitively.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendEbiten, BackendOto:
		return b, nil
	}
	return "", fmt.Errorf("audio: unknown backend %q", s)
}

// Context creates outputs at a fixed sample rate. Contexts are owned by the
// caller; both backends allow only one per process.
type Context interface {
	SampleRate() int
	// NewOutput starts a paused output pulling from source.
	NewOutput(source SampleSource) (Output, error)
}

// NewContext opens a context on backend. An empty backend means ebiten.
func NewContext(backend Backend, sampleRate int) (Context, error) {
	switch backend {
	case BackendEbiten, "":
		return NewEbitenContext(sampleRate)
	case BackendOto:
		return NewOtoContext(sampleRate)
	}
	return nil, fmt.Errorf("audio: unknown backend %q", backend)
}

func checkRate(name string, have, want int) error {
	if have != want {
		return fmt.Errorf("audio: %s context already initialized at %d Hz (requested %d Hz)", name, have, want)
	}
	return nil
}
