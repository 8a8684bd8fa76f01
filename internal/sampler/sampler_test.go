package sampler

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io/fs"
	"math"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/cbegin/nbsplay-go/internal/nbs"
	"github.com/cbegin/nbsplay-go/internal/sequencer"
)

const testRate = 8000

// monoWAV encodes 16-bit mono PCM.
func monoWAV(rate int, samples ...int16) []byte {
	var b bytes.Buffer
	dataSize := len(samples) * 2
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+dataSize))
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate*2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(dataSize))
	for _, s := range samples {
		_ = binary.Write(&b, binary.LittleEndian, s)
	}
	return b.Bytes()
}

func constSample(n int, v float32) *Sample {
	s := &Sample{Left: make([]float32, n), Right: make([]float32, n)}
	for i := range s.Left {
		s.Left[i], s.Right[i] = v, v
	}
	return s
}

func nearly(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-5 }

func TestDecodeSampleWAV(t *testing.T) {
	s, err := DecodeSample("x.wav", bytes.NewReader(monoWAV(testRate, 16384, -16384, 0)), testRate)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []float32{0.5, -0.5, 0}
	if s.Len() != len(want) {
		t.Fatalf("len = %d, want %d", s.Len(), len(want))
	}
	for i, w := range want {
		if !nearly(s.Left[i], w) || !nearly(s.Right[i], w) {
			t.Fatalf("frame %d = %v/%v, want %v", i, s.Left[i], s.Right[i], w)
		}
	}

	if _, err := DecodeSample("x.mp3", bytes.NewReader(nil), testRate); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
	if _, err := DecodeSample("x.ogg", bytes.NewReader([]byte("not vorbis")), testRate); err == nil {
		t.Fatalf("expected error for corrupt ogg")
	}
}

type countingFS struct {
	fs.FS
	opens atomic.Int32
}

func (c *countingFS) Open(name string) (fs.File, error) {
	c.opens.Add(1)
	return c.FS.Open(name)
}

func testFS() *countingFS {
	return &countingFS{FS: fstest.MapFS{
		"harp.wav":         {Data: monoWAV(testRate, 16384, 16384, 16384, 16384)},
		"broken.wav":       {Data: []byte("RIFF")},
		"custom/thing.wav": {Data: monoWAV(testRate, 8192, 8192)},
	}}
}

func testInstruments() []nbs.Instrument {
	return []nbs.Instrument{
		{Name: "Harp", File: "harp.wav"},
		{Name: "Missing", File: "missing.wav"},
		{Name: "Broken", File: "broken.wav"},
		{Name: "Custom", File: `custom\thing.wav`},
		{Name: "Escape", File: "../etc/passwd.wav"},
	}
}

func TestLoadBank(t *testing.T) {
	bank, err := LoadBank(context.Background(), testFS(), testInstruments(), testRate, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if bank.Len() != 5 || bank.SampleRate != testRate {
		t.Fatalf("bank len %d rate %d", bank.Len(), bank.SampleRate)
	}
	for i, wantLen := range []int{4, 0, 0, 2, 0} {
		s, ok := bank.Sample(i)
		if !ok {
			t.Fatalf("instrument %d missing from bank", i)
		}
		got := 0
		if s != nil {
			got = s.Len()
		}
		if got != wantLen {
			t.Fatalf("instrument %d has %d frames, want %d", i, got, wantLen)
		}
	}
	if _, ok := bank.Sample(5); ok {
		t.Fatalf("index past the end should not be ok")
	}
}

func TestLoadBankCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := LoadBank(ctx, testFS(), testInstruments(), testRate, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestMixerPanAndGain(t *testing.T) {
	m := NewMixer()
	m.Trigger(constSample(8, 1), 1, 0.5, 0)
	m.Trigger(constSample(8, 1), 1, 1, 100)
	dst := make([]float32, 8)
	m.Process(dst)
	for i := 0; i < 4; i++ {
		if !nearly(dst[2*i], 0.5) || !nearly(dst[2*i+1], 1.5) {
			t.Fatalf("frame %d = %v/%v", i, dst[2*i], dst[2*i+1])
		}
	}
}

func TestMixerPitchAndVoiceEnd(t *testing.T) {
	s := &Sample{Left: []float32{0, 1, 2, 3}, Right: []float32{0, 1, 2, 3}}
	m := NewMixer()
	m.Trigger(s, 0.5, 1, 0)
	left := make([]float32, 4)
	right := make([]float32, 4)
	m.Render(left, right)
	for i, want := range []float32{0, 0.5, 1, 1.5} {
		if !nearly(left[i], want) {
			t.Fatalf("frame %d = %v, want %v", i, left[i], want)
		}
	}
	if m.Active() != 1 {
		t.Fatalf("voice should still sound")
	}

	dst := make([]float32, 16)
	m.Process(dst)
	if m.Active() != 0 {
		t.Fatalf("voice should have ended, %d active", m.Active())
	}
	if !nearly(dst[0], 2) || dst[14] != 0 {
		t.Fatalf("unexpected tail %v", dst)
	}
}

func TestMixerIgnoresSilentTriggers(t *testing.T) {
	m := NewMixer()
	m.Trigger(nil, 1, 1, 0)
	m.Trigger(constSample(4, 1), 1, 0, 0)
	m.Trigger(&Sample{}, 1, 1, 0)
	if m.Active() != 0 {
		t.Fatalf("active = %d", m.Active())
	}
}

func TestMixerDropsOldestVoice(t *testing.T) {
	m := NewMixer(WithMaxVoices(2))
	m.Trigger(constSample(4, 1), 1, 1, 0)
	m.Trigger(constSample(4, 2), 1, 1, 0)
	m.Trigger(constSample(4, 4), 1, 1, 0)
	if m.Active() != 2 {
		t.Fatalf("active = %d", m.Active())
	}
	dst := make([]float32, 2)
	m.Process(dst)
	if !nearly(dst[0], 6) {
		t.Fatalf("mixed %v, want 6", dst[0])
	}
	m.Reset()
	if m.Active() != 0 {
		t.Fatalf("reset left %d voices", m.Active())
	}
}

type halver struct{ resets int }

func (h *halver) ProcessBlock(left, right []float32) {
	for i := range left {
		left[i] /= 2
		right[i] /= 2
	}
}

func (h *halver) Reset() { h.resets++ }

func TestMixerEffects(t *testing.T) {
	h := &halver{}
	m := NewMixer(WithEffects(h))
	m.Trigger(constSample(4, 1), 1, 1, 0)
	dst := make([]float32, 4)
	m.Process(dst)
	if !nearly(dst[0], 0.5) {
		t.Fatalf("effect not applied: %v", dst[0])
	}
	m.Reset()
	if h.resets != 1 {
		t.Fatalf("effects not reset")
	}
}

func TestRendererPrepareCaches(t *testing.T) {
	fsys := testFS()
	r := NewRenderer(NewMixer(), fsys, testRate)
	if err := r.RenderNote(sequencer.Trigger{}); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("err = %v, want ErrNotPrepared", err)
	}
	instruments := testInstruments()
	if err := r.Prepare(context.Background(), instruments); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	opens := fsys.opens.Load()
	if err := r.Prepare(context.Background(), instruments); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if fsys.opens.Load() != opens {
		t.Fatalf("second prepare reloaded the bank")
	}
	if err := r.Prepare(context.Background(), instruments[:1]); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if r.Bank().Len() != 1 {
		t.Fatalf("bank not reloaded for a new instrument set")
	}
}

func TestRendererBatchWithUnknownInstrument(t *testing.T) {
	m := NewMixer()
	bank := NewBank(testRate, []*Sample{constSample(4, 1), nil})
	r := NewRenderer(m, nil, testRate, WithBank(bank), WithVolume(1))
	if err := r.Prepare(context.Background(), make([]nbs.Instrument, 2)); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	batch := []sequencer.Trigger{
		{Instrument: 0, Velocity: 100, Pitch: 1},
		{Instrument: 7, Velocity: 100, Pitch: 1},
		{Instrument: 1, Velocity: 100, Pitch: 1},
	}
	var failed int
	for _, trig := range batch {
		if err := r.RenderNote(trig); err != nil {
			if !errors.Is(err, ErrUnknownInstrument) {
				t.Fatalf("unexpected error %v", err)
			}
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
	if m.Active() != 1 {
		t.Fatalf("active = %d, want 1", m.Active())
	}
}

func TestRendererVolume(t *testing.T) {
	m := NewMixer()
	r := NewRenderer(m, nil, testRate, WithBank(NewBank(testRate, []*Sample{constSample(4, 1)})))
	if err := r.Prepare(context.Background(), make([]nbs.Instrument, 1)); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := r.RenderNote(sequencer.Trigger{Velocity: 50, Pitch: 1}); err != nil {
		t.Fatalf("render: %v", err)
	}
	dst := make([]float32, 2)
	m.Process(dst)
	if !nearly(dst[0], 0.5*DefaultVolume) {
		t.Fatalf("gain = %v", dst[0])
	}
}
