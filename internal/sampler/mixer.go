package sampler

import (
	"sync"

	"github.com/viterin/vek/vek32"

	"github.com/cbegin/nbsplay-go/internal/effects"
)

// DefaultMaxVoices caps simultaneously sounding samples.
const DefaultMaxVoices = 256

type voice struct {
	sample *Sample
	pos    float64
	step   float64
	gainL  float32
	gainR  float32
}

// MixerOption configures a Mixer.
type MixerOption func(*Mixer)

// WithMaxVoices limits the number of voices. When full, the oldest voice is
// dropped.
func WithMaxVoices(n int) MixerOption {
	return func(m *Mixer) {
		if n > 0 {
			m.maxVoices = n
		}
	}
}

// WithEffects runs the mixed signal through e.
func WithEffects(e effects.Effector) MixerOption {
	return func(m *Mixer) { m.effects = e }
}

// Mixer sums triggered samples into a stereo stream. It implements
// audio.SampleSource.
type Mixer struct {
	mu        sync.Mutex
	voices    []voice
	maxVoices int
	effects   effects.Effector

	left, right   []float32
	vleft, vright []float32
}

func NewMixer(opts ...MixerOption) *Mixer {
	m := &Mixer{maxVoices: DefaultMaxVoices}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Trigger starts s at playback rate pitch. gain is linear and pan runs from
// -100 (left) to 100 (right).
func (m *Mixer) Trigger(s *Sample, pitch, gain, pan float64) {
	if s == nil || s.Len() == 0 || pitch <= 0 || gain <= 0 {
		return
	}
	p := min(max(pan/100, -1), 1)
	v := voice{
		sample: s,
		step:   pitch,
		gainL:  float32(gain * min(1, 1-p)),
		gainR:  float32(gain * min(1, 1+p)),
	}
	m.mu.Lock()
	if len(m.voices) >= m.maxVoices {
		m.voices = append(m.voices[:0], m.voices[len(m.voices)-m.maxVoices+1:]...)
	}
	m.voices = append(m.voices, v)
	m.mu.Unlock()
}

// Active returns the number of sounding voices.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Reset silences all voices and clears effect state.
func (m *Mixer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voices = m.voices[:0]
	if m.effects != nil {
		m.effects.Reset()
	}
}

// Process fills dst with interleaved stereo frames.
func (m *Mixer) Process(dst []float32) {
	frames := len(dst) / 2
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = vek32.Zeros_Into(grow(m.left, frames), frames)
	m.right = vek32.Zeros_Into(grow(m.right, frames), frames)
	m.render(m.left, m.right)
	for i := 0; i < frames; i++ {
		dst[2*i] = m.left[i]
		dst[2*i+1] = m.right[i]
	}
}

// Render adds the next len(left) frames into the planar buffers left and
// right, which must have equal length.
func (m *Mixer) Render(left, right []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.render(left, right)
}

func (m *Mixer) render(left, right []float32) {
	n := len(left)
	m.vleft = grow(m.vleft, n)
	m.vright = grow(m.vright, n)
	live := m.voices[:0]
	for _, v := range m.voices {
		vl, vr := m.vleft[:n], m.vright[:n]
		sounding := v.fill(vl, vr)
		vek32.MulNumber_Inplace(vl, v.gainL)
		vek32.MulNumber_Inplace(vr, v.gainR)
		vek32.Add_Inplace(left, vl)
		vek32.Add_Inplace(right, vr)
		if sounding {
			live = append(live, v)
		}
	}
	clear(m.voices[len(live):])
	m.voices = live
	if m.effects != nil {
		m.effects.ProcessBlock(left, right)
	}
}

// fill writes the voice's next frames into l and r, zero padding past the
// end of the sample. It reports whether the voice is still sounding.
func (v *voice) fill(l, r []float32) bool {
	src := v.sample
	last := src.Len() - 1
	for i := range l {
		idx := int(v.pos)
		if idx > last {
			clear(l[i:])
			clear(r[i:])
			break
		}
		frac := float32(v.pos - float64(idx))
		next := min(idx+1, last)
		l[i] = src.Left[idx] + (src.Left[next]-src.Left[idx])*frac
		r[i] = src.Right[idx] + (src.Right[next]-src.Right[idx])*frac
		v.pos += v.step
	}
	return int(v.pos) <= last
}

func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}
