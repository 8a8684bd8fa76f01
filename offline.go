package nbsplay

import (
	"context"
	"encoding/binary"
	"io"
	"io/fs"
	"log"
	"math"

	intfx "github.com/cbegin/nbsplay-go/internal/effects"
	"github.com/cbegin/nbsplay-go/internal/nbs"
	intsamp "github.com/cbegin/nbsplay-go/internal/sampler"
	intseq "github.com/cbegin/nbsplay-go/internal/sequencer"
	"github.com/cbegin/nbsplay-go/internal/smfexport"
)

// DefaultTail is how long RenderSamples keeps rendering after the last tick
// while notes still sound.
const DefaultTail = 2.0

type RenderOption func(*renderConfig)

type renderConfig struct {
	volume  float64
	tail    float64
	effects []intfx.Effector
}

// WithRenderVolume sets the note volume multiplier of an offline render.
func WithRenderVolume(v float64) RenderOption {
	return func(cfg *renderConfig) {
		if v >= 0 {
			cfg.volume = v
		}
	}
}

// WithTail bounds the seconds rendered after the last tick.
func WithTail(seconds float64) RenderOption {
	return func(cfg *renderConfig) {
		if seconds >= 0 {
			cfg.tail = seconds
		}
	}
}

func WithRenderEffects(effects ...intfx.Effector) RenderOption {
	return func(cfg *renderConfig) {
		cfg.effects = append(cfg.effects, effects...)
	}
}

// LoadBank decodes the sounds of song's instruments from fsys. Missing sounds
// are logged and render as silence.
func LoadBank(ctx context.Context, fsys fs.FS, song *nbs.Song, sampleRate int, logger *log.Logger) (*intsamp.Bank, error) {
	return intsamp.LoadBank(ctx, fsys, nbs.ResolveInstruments(song), sampleRate, logger)
}

// RenderSamples renders song to interleaved stereo at sampleRate without a
// sound card. Every tick starts its notes at tick/tempo seconds.
func RenderSamples(song *nbs.Song, bank *intsamp.Bank, sampleRate int, opts ...RenderOption) ([]float32, error) {
	cfg := renderConfig{volume: intsamp.DefaultVolume, tail: DefaultTail}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !(song.Header.Tempo > 0) {
		return nil, intseq.ErrInvalidTempo
	}
	table, err := intseq.Build(song)
	if err != nil {
		return nil, err
	}
	var mixOpts []intsamp.MixerOption
	if len(cfg.effects) > 0 {
		mixOpts = append(mixOpts, intsamp.WithEffects(intfx.NewChain(cfg.effects...)))
	}
	mixer := intsamp.NewMixer(mixOpts...)
	renderer := intsamp.NewRenderer(mixer, nil, sampleRate,
		intsamp.WithBank(bank), intsamp.WithVolume(cfg.volume))
	if err := renderer.Prepare(context.Background(), table.Instruments); err != nil {
		return nil, err
	}

	framesPerTick := float64(sampleRate) / song.Header.Tempo
	total := int(math.Ceil(float64(table.Len()) * framesPerTick))
	out := make([]float32, 0, total*2)
	written := 0
	for tick := 0; tick < table.Len(); tick++ {
		for _, trig := range table.Slot(tick) {
			if err := renderer.RenderNote(trig); err != nil {
				return nil, err
			}
		}
		end := int(math.Round(float64(tick+1) * framesPerTick))
		out = renderFrames(mixer, out, end-written)
		written = end
	}

	tail := int(cfg.tail * float64(sampleRate))
	const block = 1024
	for tail > 0 && mixer.Active() > 0 {
		n := min(block, tail)
		out = renderFrames(mixer, out, n)
		tail -= n
	}
	return out, nil
}

func renderFrames(m *intsamp.Mixer, out []float32, frames int) []float32 {
	if frames <= 0 {
		return out
	}
	start := len(out)
	out = append(out, make([]float32, frames*2)...)
	m.Process(out[start:])
	return out
}

// ExportMIDI writes song as a Standard MIDI File.
func ExportMIDI(w io.Writer, song *nbs.Song) error {
	table, err := intseq.Build(song)
	if err != nil {
		return err
	}
	return smfexport.Write(w, song, table)
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
