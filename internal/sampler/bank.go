// Package sampler plays instrument samples for resolved note triggers.
package sampler

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"log"
	"path"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/ebiten/v2/audio/vorbis"
	"github.com/hajimehoshi/ebiten/v2/audio/wav"
	"golang.org/x/sync/errgroup"

	"github.com/cbegin/nbsplay-go/internal/nbs"
)

// maxParallelLoads bounds concurrent sample decodes.
const maxParallelLoads = 8

// Sample is a decoded stereo sound at the bank's sample rate.
type Sample struct {
	Left  []float32
	Right []float32
}

// Len returns the number of frames.
func (s *Sample) Len() int { return len(s.Left) }

// Bank holds one sample per instrument, indexed like the instrument list. A
// nil sample plays silence.
type Bank struct {
	SampleRate int
	samples    []*Sample
}

// NewBank wraps already decoded samples.
func NewBank(sampleRate int, samples []*Sample) *Bank {
	return &Bank{SampleRate: sampleRate, samples: samples}
}

// Len returns the number of instruments.
func (b *Bank) Len() int { return len(b.samples) }

// Sample returns the sample for instrument i. ok is false when i is not an
// instrument of the bank.
func (b *Bank) Sample(i int) (s *Sample, ok bool) {
	if i < 0 || i >= len(b.samples) {
		return nil, false
	}
	return b.samples[i], true
}

// LoadBank decodes every instrument's sound file from fsys. Files that are
// missing or cannot be decoded are logged and play silence. The only errors
// returned come from ctx.
func LoadBank(ctx context.Context, fsys fs.FS, instruments []nbs.Instrument, sampleRate int, logger *log.Logger) (*Bank, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	samples := make([]*Sample, len(instruments))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLoads)
	for i, inst := range instruments {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if fsys == nil || inst.File == "" {
				return nil
			}
			s, err := loadSample(fsys, inst.File, sampleRate)
			if err != nil {
				logger.Printf("sampler: %s: %v", inst.Name, err)
				return nil
			}
			samples[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewBank(sampleRate, samples), nil
}

func loadSample(fsys fs.FS, file string, sampleRate int) (*Sample, error) {
	name := path.Clean(strings.ReplaceAll(file, `\`, "/"))
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("invalid sound path %q", file)
	}
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	return DecodeSample(name, bytes.NewReader(data), sampleRate)
}

// DecodeSample decodes an .ogg or .wav sound, resampled to sampleRate. The
// format is chosen by the extension of name.
func DecodeSample(name string, r io.Reader, sampleRate int) (*Sample, error) {
	var (
		pcm io.Reader
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ogg":
		pcm, err = vorbis.DecodeWithSampleRate(sampleRate, r)
	case ".wav":
		pcm, err = wav.DecodeWithSampleRate(sampleRate, r)
	default:
		return nil, fmt.Errorf("%s: unsupported sound format", name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	data, err := io.ReadAll(pcm)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return fromStereo16(data), nil
}

// fromStereo16 converts interleaved 16-bit little-endian stereo frames.
func fromStereo16(data []byte) *Sample {
	frames := len(data) / 4
	s := &Sample{Left: make([]float32, frames), Right: make([]float32, frames)}
	for i := 0; i < frames; i++ {
		s.Left[i] = float32(int16(binary.LittleEndian.Uint16(data[i*4:]))) / 32768
		s.Right[i] = float32(int16(binary.LittleEndian.Uint16(data[i*4+2:]))) / 32768
	}
	return s
}
