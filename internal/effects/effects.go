// Package effects is the master bus: stereo effects applied to planar
// sample blocks after mixing.
package effects

// Effector processes a planar stereo block in place. left and right always
// have the same length.
type Effector interface {
	ProcessBlock(left, right []float32)
	Reset()
}

// Chain applies a sequence of effects in order.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	return &Chain{effects: effects}
}

func (c *Chain) ProcessBlock(left, right []float32) {
	for _, e := range c.effects {
		e.ProcessBlock(left, right)
	}
}

func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

func (c *Chain) Add(e Effector) {
	c.effects = append(c.effects, e)
}

func (c *Chain) Len() int { return len(c.effects) }

// grow returns buf resized to n, reusing its storage when possible.
func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
