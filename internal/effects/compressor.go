package effects

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// Compressor is a per-channel peak compressor with makeup gain.
type Compressor struct {
	threshold float32 // linear
	ratio     float32
	attack    float32 // envelope coefficients
	release   float32
	makeup    float32
	envL      float32
	envR      float32
}

// NewCompressor creates a compressor. thresholdDB is e.g. -20, ratio 4 for
// 4:1, attack and release in milliseconds, makeupDB added after reduction.
func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float32) *Compressor {
	sr := float64(sampleRate)
	return &Compressor{
		threshold: dbToGain(thresholdDB),
		ratio:     max(ratio, 1),
		attack:    float32(1 - math.Exp(-1/(float64(attackMs)*sr/1000))),
		release:   float32(1 - math.Exp(-1/(float64(releaseMs)*sr/1000))),
		makeup:    dbToGain(makeupDB),
	}
}

func (c *Compressor) ProcessBlock(left, right []float32) {
	for i := range left {
		c.envL = c.follow(c.envL, left[i])
		c.envR = c.follow(c.envR, right[i])
		left[i] *= c.gain(c.envL)
		right[i] *= c.gain(c.envR)
	}
	if c.makeup != 1 {
		vek32.MulNumber_Inplace(left, c.makeup)
		vek32.MulNumber_Inplace(right, c.makeup)
	}
}

func (c *Compressor) follow(env, x float32) float32 {
	if x < 0 {
		x = -x
	}
	if x > env {
		return env + c.attack*(x-env)
	}
	return env + c.release*(x-env)
}

func (c *Compressor) gain(env float32) float32 {
	if env <= c.threshold || c.threshold <= 0 {
		return 1
	}
	over := env / c.threshold
	return float32(math.Pow(float64(over), float64(1/c.ratio-1)))
}

func (c *Compressor) Reset() {
	c.envL = 0
	c.envR = 0
}

func dbToGain(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20))
}
