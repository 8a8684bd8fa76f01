package audio

import (
	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// EbitenContext plays through ebiten's audio package.
type EbitenContext struct {
	ctx *ebitaudio.Context
}

// NewEbitenContext returns the process's ebiten audio context, creating it on
// first use. Asking for a second rate fails.
func NewEbitenContext(sampleRate int) (*EbitenContext, error) {
	if cur := ebitaudio.CurrentContext(); cur != nil {
		if err := checkRate("ebiten", cur.SampleRate(), sampleRate); err != nil {
			return nil, err
		}
		return &EbitenContext{ctx: cur}, nil
	}
	return &EbitenContext{ctx: ebitaudio.NewContext(sampleRate)}, nil
}

func (c *EbitenContext) SampleRate() int { return c.ctx.SampleRate() }

func (c *EbitenContext) NewOutput(source SampleSource) (Output, error) {
	reader := NewStreamReader(source)
	pl, err := c.ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &ebitenOutput{player: pl, reader: reader}, nil
}

type ebitenOutput struct {
	player *ebitaudio.Player
	reader *StreamReader
}

func (o *ebitenOutput) Play()           { o.player.Play() }
func (o *ebitenOutput) Pause()          { o.player.Pause() }
func (o *ebitenOutput) IsPlaying() bool { return o.player.IsPlaying() }

func (o *ebitenOutput) Close() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return err
	}
	return o.reader.Close()
}
