package effects

import "github.com/viterin/vek/vek32"

// Reverb is a Schroeder reverb: four parallel combs into two allpasses,
// fed from the mono sum and mixed back into both channels.
type Reverb struct {
	combs   [4]combFilter
	allpass [2]allpassFilter
	wet     float32
	tail    []float32
}

type combFilter struct {
	buf []float32
	pos int
	fb  float32
}

type allpassFilter struct {
	buf []float32
	pos int
	fb  float32
}

// NewReverb creates a reverb. roomSize (0..1) scales the delay lengths,
// feedback (0..0.95) the decay and wet (0..1) the mix.
func NewReverb(sampleRate int, roomSize, feedback, wet float32) *Reverb {
	base := max(int(float32(sampleRate)*roomSize*0.05), 10)
	fb := clamp(feedback, 0, 0.95)
	r := &Reverb{wet: clamp(wet, 0, 1)}
	combLens := [4]int{base, base * 1117 / 1000, base * 1271 / 1000, base * 1437 / 1000}
	for i := range r.combs {
		r.combs[i] = combFilter{buf: make([]float32, combLens[i]), fb: fb}
	}
	apLens := [2]int{base * 347 / 1000, base * 213 / 1000}
	for i := range r.allpass {
		r.allpass[i] = allpassFilter{buf: make([]float32, max(apLens[i], 1)), fb: 0.5}
	}
	return r
}

func (r *Reverb) ProcessBlock(left, right []float32) {
	n := len(left)
	r.tail = grow(r.tail, n)
	for i := 0; i < n; i++ {
		mono := (left[i] + right[i]) * 0.5
		var out float32
		for c := range r.combs {
			out += r.combs[c].process(mono)
		}
		out *= 0.25
		for a := range r.allpass {
			out = r.allpass[a].process(out)
		}
		r.tail[i] = out
	}
	vek32.MulNumber_Inplace(r.tail, r.wet)
	vek32.MulNumber_Inplace(left, 1-r.wet)
	vek32.MulNumber_Inplace(right, 1-r.wet)
	vek32.Add_Inplace(left, r.tail)
	vek32.Add_Inplace(right, r.tail)
}

func (r *Reverb) Reset() {
	for i := range r.combs {
		clear(r.combs[i].buf)
		r.combs[i].pos = 0
	}
	for i := range r.allpass {
		clear(r.allpass[i].buf)
		r.allpass[i].pos = 0
	}
}

func (c *combFilter) process(in float32) float32 {
	out := c.buf[c.pos]
	c.buf[c.pos] = in + out*c.fb
	c.pos++
	if c.pos >= len(c.buf) {
		c.pos = 0
	}
	return out
}

func (a *allpassFilter) process(in float32) float32 {
	bufOut := a.buf[a.pos]
	out := -in + bufOut
	a.buf[a.pos] = in + bufOut*a.fb
	a.pos++
	if a.pos >= len(a.buf) {
		a.pos = 0
	}
	return out
}
