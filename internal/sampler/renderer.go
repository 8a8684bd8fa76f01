package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"strings"
	"sync"

	"github.com/cbegin/nbsplay-go/internal/nbs"
	"github.com/cbegin/nbsplay-go/internal/sequencer"
)

// DefaultVolume scales every note's gain.
const DefaultVolume = 0.8

var (
	ErrNotPrepared       = errors.New("sampler: renderer not prepared")
	ErrUnknownInstrument = errors.New("sampler: unknown instrument")
)

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithVolume sets the gain multiplier applied to every note.
func WithVolume(v float64) RendererOption {
	return func(r *Renderer) {
		if v >= 0 {
			r.volume = v
		}
	}
}

func WithLogger(logger *log.Logger) RendererOption {
	return func(r *Renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBank preloads a bank. Prepare keeps it as long as the instrument
// count matches.
func WithBank(b *Bank) RendererOption {
	return func(r *Renderer) { r.bank = b }
}

// Renderer plays note triggers through a Mixer. It implements
// sequencer.Renderer.
type Renderer struct {
	mixer      *Mixer
	fsys       fs.FS
	sampleRate int
	logger     *log.Logger

	mu      sync.Mutex
	volume  float64
	bank    *Bank
	bankKey string
}

// NewRenderer loads instrument sounds from fsys at sampleRate and plays them
// on mixer.
func NewRenderer(mixer *Mixer, fsys fs.FS, sampleRate int, opts ...RendererOption) *Renderer {
	r := &Renderer{
		mixer:      mixer,
		fsys:       fsys,
		sampleRate: sampleRate,
		volume:     DefaultVolume,
		logger:     log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prepare loads the bank for instruments unless the same instrument set is
// already loaded.
func (r *Renderer) Prepare(ctx context.Context, instruments []nbs.Instrument) error {
	key := bankKey(instruments)
	r.mu.Lock()
	if r.bank != nil && (r.bankKey == key || r.bankKey == "" && r.bank.Len() == len(instruments)) {
		r.bankKey = key
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	bank, err := LoadBank(ctx, r.fsys, instruments, r.sampleRate, r.logger)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.bank, r.bankKey = bank, key
	r.mu.Unlock()
	return nil
}

// Bank returns the loaded bank, or nil before Prepare.
func (r *Renderer) Bank() *Bank {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bank
}

// RenderNote starts the sample of t's instrument on the mixer.
func (r *Renderer) RenderNote(t sequencer.Trigger) error {
	bank := r.Bank()
	if bank == nil {
		return ErrNotPrepared
	}
	s, ok := bank.Sample(t.Instrument)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInstrument, t.Instrument)
	}
	r.mixer.Trigger(s, t.Pitch, t.Velocity/100*r.Volume(), t.Panning)
	return nil
}

// SetVolume changes the gain multiplier for notes started afterwards.
func (r *Renderer) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	r.mu.Lock()
	r.volume = v
	r.mu.Unlock()
}

func (r *Renderer) Volume() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volume
}

func bankKey(instruments []nbs.Instrument) string {
	var b strings.Builder
	for _, inst := range instruments {
		b.WriteString(inst.File)
		b.WriteByte(0)
	}
	return b.String()
}
