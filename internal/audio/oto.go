package audio

import (
	"time"

	"github.com/ebitengine/oto/v3"
)

const otoBufferSize = 60 * time.Millisecond

// OtoContext plays through oto directly.
type OtoContext struct {
	ctx  *oto.Context
	rate int
}

// NewOtoContext opens the oto device and waits until it is ready. oto
// permits one context per process.
func NewOtoContext(sampleRate int) (*OtoContext, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   otoBufferSize,
	})
	if err != nil {
		return nil, err
	}
	<-ready
	return &OtoContext{ctx: ctx, rate: sampleRate}, nil
}

func (c *OtoContext) SampleRate() int { return c.rate }

func (c *OtoContext) NewOutput(source SampleSource) (Output, error) {
	reader := NewStreamReader(source)
	return &otoOutput{player: c.ctx.NewPlayer(reader), reader: reader}, nil
}

type otoOutput struct {
	player *oto.Player
	reader *StreamReader
}

func (o *otoOutput) Play()           { o.player.Play() }
func (o *otoOutput) Pause()          { o.player.Pause() }
func (o *otoOutput) IsPlaying() bool { return o.player.IsPlaying() }

func (o *otoOutput) Close() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return err
	}
	return o.reader.Close()
}
