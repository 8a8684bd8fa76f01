package effects

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
)

// Bands is the number of EQ5Band bands.
const Bands = 5

// EQ5Band is a 5-band equalizer split at 200Hz, 800Hz, 2.5kHz and 8kHz.
// Gains may be changed while audio is running.
type EQ5Band struct {
	gains  [Bands]atomic.Uint32 // float32 bits, 1 = unity
	alphas [Bands - 1]float32
	lpL    [Bands - 1]float32
	lpR    [Bands - 1]float32
}

var crossovers = [Bands - 1]float64{200, 800, 2500, 8000}

func NewEQ5Band(sampleRate int) *EQ5Band {
	eq := &EQ5Band{}
	dt := 1.0 / float64(sampleRate)
	for i, freq := range crossovers {
		rc := 1.0 / (2.0 * math.Pi * freq)
		eq.alphas[i] = float32(dt / (rc + dt))
	}
	for i := range eq.gains {
		eq.gains[i].Store(math.Float32bits(1))
	}
	return eq
}

// SetGain sets the linear gain of band 0..4. Out of range bands are ignored.
func (eq *EQ5Band) SetGain(band int, gain float32) {
	if band >= 0 && band < Bands {
		eq.gains[band].Store(math.Float32bits(gain))
	}
}

func (eq *EQ5Band) Gain(band int) float32 {
	if band >= 0 && band < Bands {
		return math.Float32frombits(eq.gains[band].Load())
	}
	return 1
}

func (eq *EQ5Band) ProcessBlock(left, right []float32) {
	var g [Bands]float32
	for i := range g {
		g[i] = math.Float32frombits(eq.gains[i].Load())
	}
	for n := range left {
		remL, remR := left[n], right[n]
		var outL, outR float32
		for i := range eq.alphas {
			eq.lpL[i] += eq.alphas[i] * (remL - eq.lpL[i])
			eq.lpR[i] += eq.alphas[i] * (remR - eq.lpR[i])
			outL += eq.lpL[i] * g[i]
			outR += eq.lpR[i] * g[i]
			remL -= eq.lpL[i]
			remR -= eq.lpR[i]
		}
		left[n] = outL + remL*g[Bands-1]
		right[n] = outR + remR*g[Bands-1]
	}
}

func (eq *EQ5Band) Reset() {
	eq.lpL = [Bands - 1]float32{}
	eq.lpR = [Bands - 1]float32{}
}

// ParseGains reads comma separated band gains, low band first, e.g.
// "1.2,1,1,0.9,0.8". Missing trailing bands stay at unity.
func ParseGains(s string) ([Bands]float32, error) {
	gains := [Bands]float32{1, 1, 1, 1, 1}
	if strings.TrimSpace(s) == "" {
		return gains, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) > Bands {
		return gains, fmt.Errorf("effects: %d eq bands given, at most %d", len(parts), Bands)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return gains, fmt.Errorf("effects: eq band %d: %w", i, err)
		}
		if v < 0 {
			return gains, fmt.Errorf("effects: eq band %d: negative gain %v", i, v)
		}
		gains[i] = float32(v)
	}
	return gains, nil
}
