package nbsplay

import (
	"errors"
	"sync"
	"testing"
	"time"

	intaudio "github.com/cbegin/nbsplay-go/internal/audio"
	"github.com/cbegin/nbsplay-go/internal/nbs"
	intpl "github.com/cbegin/nbsplay-go/internal/playlist"
	intseq "github.com/cbegin/nbsplay-go/internal/sequencer"
)

type fakeOutput struct {
	mu      sync.Mutex
	playing bool
	closed  bool
}

func (o *fakeOutput) Play()  { o.mu.Lock(); o.playing = true; o.mu.Unlock() }
func (o *fakeOutput) Pause() { o.mu.Lock(); o.playing = false; o.mu.Unlock() }
func (o *fakeOutput) IsPlaying() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing
}
func (o *fakeOutput) Close() error { o.mu.Lock(); o.closed = true; o.mu.Unlock(); return nil }

type fakeContext struct {
	rate int
	out  *fakeOutput
	src  intaudio.SampleSource
}

func (c *fakeContext) SampleRate() int { return c.rate }
func (c *fakeContext) NewOutput(src intaudio.SampleSource) (intaudio.Output, error) {
	c.src = src
	c.out = &fakeOutput{}
	return c.out, nil
}

func quickSong(name string) *nbs.Song {
	h := nbs.DefaultHeader()
	h.SongName = name
	h.Tempo = 1000
	h.SongLength = 3
	return &nbs.Song{
		Header: h,
		Layers: []nbs.Layer{{Volume: 100}},
		Notes:  []nbs.Note{{Tick: 0, Key: 45, Velocity: 100}, {Tick: 2, Key: 50, Velocity: 100}},
	}
}

func newTestPlayer(t *testing.T, opts ...PlayerOption) (*Player, *fakeContext) {
	t.Helper()
	ctx := &fakeContext{rate: 8000}
	opts = append([]PlayerOption{
		WithOutput(ctx),
		WithSchedulerOptions(intseq.WithTickInterval(time.Millisecond)),
	}, opts...)
	pl, err := NewPlayer(opts...)
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	t.Cleanup(func() { _ = pl.Close() })
	return pl, ctx
}

func waitTimeout(t *testing.T, pl *Player) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		pl.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Wait did not return")
	}
}

func TestPlayerMasterVolumeRuntimeAPI(t *testing.T) {
	pl, _ := newTestPlayer(t)
	if got := pl.MasterVolume(); got != 0.8 {
		t.Fatalf("default master volume = %v, want 0.8", got)
	}
	pl.SetMasterVolume(0.35)
	if got := pl.MasterVolume(); got != 0.35 {
		t.Fatalf("master volume = %v, want 0.35", got)
	}
	pl.SetMasterVolume(-2)
	if got := pl.MasterVolume(); got != 0 {
		t.Fatalf("master volume should clamp to 0, got %v", got)
	}
}

func TestPlayerPlaysQueueToEnd(t *testing.T) {
	pl, ctx := newTestPlayer(t, WithLoopType(LoopNone))
	events := pl.Watch()
	if err := pl.EnqueueSong("a", quickSong("A")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := pl.EnqueueSong("b", quickSong("B")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := pl.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if ctx.out == nil || !ctx.out.IsPlaying() {
		t.Fatalf("output not started")
	}
	waitTimeout(t, pl)

	var switches []string
	stopped := false
	for !stopped {
		select {
		case ev := <-events:
			switch ev.Kind {
			case EventSwitch:
				switches = append(switches, ev.Title)
			case EventStop:
				stopped = true
			}
		case <-time.After(time.Second):
			t.Fatalf("no stop event, switches %v", switches)
		}
	}
	want := []string{"A", "B", ""}
	if len(switches) != len(want) {
		t.Fatalf("switches = %q, want %q", switches, want)
	}
	for i := range want {
		if switches[i] != want[i] {
			t.Fatalf("switches = %q, want %q", switches, want)
		}
	}
	if idx, title := pl.Current(); idx != -1 || title != "" {
		t.Fatalf("current = %d %q after the queue ended", idx, title)
	}
}

func TestPlayerStopReleasesWait(t *testing.T) {
	long := quickSong("Long")
	long.Header.Tempo = 10
	long.Header.SongLength = 100000
	pl, _ := newTestPlayer(t)
	if err := pl.EnqueueSong("long", long); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := pl.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for pl.Song() == nil {
		if time.Now().After(deadline) {
			t.Fatalf("song never started")
		}
		time.Sleep(time.Millisecond)
	}
	if !pl.Playing() {
		t.Fatalf("player should report playing")
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = pl.Stop()
	}()
	waitTimeout(t, pl)
	if pl.Playing() {
		t.Fatalf("player still playing after Stop")
	}
	if idx, title := pl.Current(); idx != 0 || title != "Long" {
		t.Fatalf("selection should survive Stop, got %d %q", idx, title)
	}
}

func TestPlayerEmptyQueue(t *testing.T) {
	pl, _ := newTestPlayer(t)
	if err := pl.Play(); !errors.Is(err, intpl.ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
	waitTimeout(t, pl)
	if err := pl.Pause(); !errors.Is(err, intpl.ErrNotPlaying) {
		t.Fatalf("pause err = %v, want ErrNotPlaying", err)
	}
}

func TestPlayerLoopTypeAndEQ(t *testing.T) {
	pl, _ := newTestPlayer(t, WithLoopType(LoopSingle))
	if pl.LoopType() != LoopSingle {
		t.Fatalf("loop type = %v", pl.LoopType())
	}
	pl.SetLoopType(LoopShuffle)
	if pl.LoopType() != LoopShuffle {
		t.Fatalf("loop type = %v", pl.LoopType())
	}
	pl.SetEQBand(2, 0.5)
	if got := pl.EQBand(2); got != 0.5 {
		t.Fatalf("eq band = %v", got)
	}
}

func TestPlayerSampleTapAndClose(t *testing.T) {
	var tapped int
	pl, ctx := newTestPlayer(t, WithSampleTap(func(buf []float32) { tapped += len(buf) }))
	if err := pl.EnqueueSong("a", quickSong("A")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := pl.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	ctx.src.Process(make([]float32, 64))
	if tapped != 64 {
		t.Fatalf("tap saw %d samples", tapped)
	}
	if err := pl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ctx.out.closed {
		t.Fatalf("output not closed")
	}
	if err := pl.Play(); err == nil {
		t.Fatalf("play after close should fail")
	}
}
