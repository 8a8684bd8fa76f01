package nbsplay

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"sync"

	intaudio "github.com/cbegin/nbsplay-go/internal/audio"
	intfx "github.com/cbegin/nbsplay-go/internal/effects"
	"github.com/cbegin/nbsplay-go/internal/nbs"
	intpl "github.com/cbegin/nbsplay-go/internal/playlist"
	intsamp "github.com/cbegin/nbsplay-go/internal/sampler"
	intseq "github.com/cbegin/nbsplay-go/internal/sequencer"
)

// DefaultSampleRate is the output rate used unless WithSampleRate is given.
const DefaultSampleRate = 44100

type (
	Entry     = intpl.Entry
	EventKind = intpl.EventKind
	LoopType  = intpl.LoopType
)

const (
	EventTick       = intpl.EventTick
	EventPlay       = intpl.EventPlay
	EventStop       = intpl.EventStop
	EventError      = intpl.EventError
	EventSwitch     = intpl.EventSwitch
	EventChange     = intpl.EventChange
	EventLoopChange = intpl.EventLoopChange
	EventPause      = intpl.EventPause
	EventResume     = intpl.EventResume
)

const (
	LoopNone    = intpl.LoopNone
	LoopList    = intpl.LoopList
	LoopSingle  = intpl.LoopSingle
	LoopShuffle = intpl.LoopShuffle
)

// PlaybackEvent carries playlist events from Watch().
type PlaybackEvent struct {
	Kind  EventKind
	Index int     // EventSwitch, EventError: position in the current ordering
	Title string  // EventSwitch, EventError, EventTick: empty when nothing is selected
	Tick  float64 // EventTick: played ticks of the current song
	Notes int     // EventTick: played notes of the current song
	Loop  LoopType
	Err   error
}

type PlayerOption func(*playerConfig)

type playerConfig struct {
	sampleRate int
	sounds     fs.FS
	loop       LoopType
	volume     float64
	logger     *log.Logger
	output     intaudio.Context
	backend    intaudio.Backend
	effects    []intfx.Effector
	songLoop   bool
	sampleTap  func([]float32)
	schedOpts  []intseq.Option
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		sampleRate: DefaultSampleRate,
		loop:       LoopList,
		volume:     intsamp.DefaultVolume,
		logger:     log.New(io.Discard, "", 0),
		backend:    intaudio.BackendEbiten,
	}
}

// WithSoundFS loads instrument sounds (harp.ogg, dbass.ogg, ...) from fsys.
// Without sounds every note is silent.
func WithSoundFS(fsys fs.FS) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sounds = fsys
	}
}

// WithSoundDir loads instrument sounds from a directory.
func WithSoundDir(dir string) PlayerOption {
	return WithSoundFS(os.DirFS(dir))
}

func WithLoopType(l LoopType) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.loop = l
	}
}

// WithVolume sets the note volume multiplier. The default is 0.8.
func WithVolume(v float64) PlayerOption {
	return func(cfg *playerConfig) {
		if v >= 0 {
			cfg.volume = v
		}
	}
}

func WithLogger(l *log.Logger) PlayerOption {
	return func(cfg *playerConfig) {
		if l != nil {
			cfg.logger = l
		}
	}
}

func WithSampleRate(rate int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleRate = rate
	}
}

// WithOutput plays through ctx instead of opening a backend. The sample rate
// follows ctx.
func WithOutput(ctx intaudio.Context) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.output = ctx
	}
}

// WithBackend selects the sound card library opened on first Play.
func WithBackend(b intaudio.Backend) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.backend = b
	}
}

// WithEffects appends effects to the master bus, ahead of the master EQ.
func WithEffects(effects ...intfx.Effector) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.effects = append(cfg.effects, effects...)
	}
}

// WithSongLoop honours the loop settings stored in song headers.
func WithSongLoop(enabled bool) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.songLoop = enabled
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

// WithSchedulerOptions are passed to the scheduler of every song.
func WithSchedulerOptions(opts ...intseq.Option) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.schedOpts = append(cfg.schedOpts, opts...)
	}
}

// Player plays a queue of songs through a sample bank and a sound card.
type Player struct {
	mu         sync.Mutex
	cfg        playerConfig
	sampleRate int
	mixer      *intsamp.Mixer
	renderer   *intsamp.Renderer
	list       *intpl.Playlist
	masterEQ   *intfx.EQ5Band
	output     intaudio.Context
	audio      intaudio.Output
	done       chan struct{}
	detach     func()
	closed     bool
	eventCh    chan PlaybackEvent
	eventChMu  sync.Mutex
}

type tapSource struct {
	src intaudio.SampleSource
	tap func([]float32)
}

func (t tapSource) Process(dst []float32) {
	t.src.Process(dst)
	t.tap(dst)
}

func NewPlayer(opts ...PlayerOption) (*Player, error) {
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	sampleRate := cfg.sampleRate
	if cfg.output != nil {
		sampleRate = cfg.output.SampleRate()
	}
	if sampleRate <= 0 {
		return nil, errors.New("nbsplay: sample rate must be positive")
	}
	masterEQ := intfx.NewEQ5Band(sampleRate)
	chain := intfx.NewChain(cfg.effects...)
	chain.Add(masterEQ)
	mixer := intsamp.NewMixer(intsamp.WithEffects(chain))
	renderer := intsamp.NewRenderer(mixer, cfg.sounds, sampleRate,
		intsamp.WithVolume(cfg.volume),
		intsamp.WithLogger(cfg.logger))
	schedOpts := append([]intseq.Option{intseq.WithSongLoop(cfg.songLoop)}, cfg.schedOpts...)
	list := intpl.New(renderer,
		intpl.WithLoopType(cfg.loop),
		intpl.WithLogger(cfg.logger),
		intpl.WithSchedulerOptions(schedOpts...))

	p := &Player{
		cfg:        cfg,
		sampleRate: sampleRate,
		mixer:      mixer,
		renderer:   renderer,
		list:       list,
		masterEQ:   masterEQ,
		output:     cfg.output,
	}
	p.detach = list.Subscribe(p.handle)
	return p, nil
}

// Decode parses an .nbs file.
func Decode(data []byte) (*nbs.Song, error) {
	return nbs.Decode(data)
}

func (p *Player) handle(ev intpl.Event) {
	pe := PlaybackEvent{Kind: ev.Kind, Index: ev.Index, Loop: ev.Loop, Err: ev.Err}
	if ev.Entry != nil {
		pe.Title = ev.Entry.String()
	}
	if ev.Kind == EventTick && ev.Player != nil {
		pe.Tick = ev.Player.PlayedTicks()
		pe.Notes = ev.Player.PlayedNotes()
	}
	p.sendEvent(pe)
	if ev.Kind == EventStop {
		p.signalDone()
	}
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop event
		}
	}
}

func (p *Player) signalDone() {
	p.mu.Lock()
	done := p.done
	p.done = nil
	p.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// Enqueue appends entries to the queue.
func (p *Player) Enqueue(entries ...Entry) error {
	for _, e := range entries {
		if err := p.list.AddFile(context.Background(), e, -1); err != nil {
			return err
		}
	}
	return nil
}

// EnqueuePaths appends files, directories, manifests and URLs.
func (p *Player) EnqueuePaths(paths ...string) error {
	entries, err := intpl.EntriesFromPaths(paths)
	if err != nil {
		return err
	}
	return p.Enqueue(entries...)
}

// EnqueueSong appends an already decoded song.
func (p *Player) EnqueueSong(name string, song *nbs.Song) error {
	return p.Enqueue(intpl.SongEntry{Name: name, Song: song})
}

// Play starts the selected song from the beginning, selecting the first one
// when nothing is selected.
func (p *Player) Play() error {
	return p.start(p.list.Play)
}

func (p *Player) Next() error {
	return p.start(p.list.Next)
}

func (p *Player) Previous() error {
	return p.start(p.list.Previous)
}

// SwitchTo plays the song at index in the current ordering.
func (p *Player) SwitchTo(index int) error {
	return p.start(func(ctx context.Context) error { return p.list.SwitchTo(ctx, index) })
}

// start opens the output, arms Wait and runs op.
func (p *Player) start(op func(context.Context) error) error {
	out, err := p.ensureAudio()
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.done == nil {
		p.done = make(chan struct{})
	}
	p.mu.Unlock()
	if err := op(context.Background()); err != nil {
		if !p.list.Active() {
			p.signalDone()
		}
		return err
	}
	out.Play()
	return nil
}

func (p *Player) ensureAudio() (intaudio.Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("nbsplay: player closed")
	}
	if p.audio != nil {
		return p.audio, nil
	}
	if p.output == nil {
		ctx, err := intaudio.NewContext(p.cfg.backend, p.sampleRate)
		if err != nil {
			return nil, err
		}
		p.output = ctx
	}
	var src intaudio.SampleSource = p.mixer
	if p.cfg.sampleTap != nil {
		src = tapSource{src: p.mixer, tap: p.cfg.sampleTap}
	}
	out, err := p.output.NewOutput(src)
	if err != nil {
		return nil, err
	}
	p.audio = out
	return out, nil
}

func (p *Player) Pause() error {
	if err := p.list.Pause(context.Background()); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Pause()
	}
	return nil
}

func (p *Player) Resume() error {
	p.mu.Lock()
	if p.audio != nil {
		p.audio.Play()
	}
	p.mu.Unlock()
	return p.list.Resume(context.Background())
}

// Stop halts playback and silences sounding notes. The selection is kept.
func (p *Player) Stop() error {
	if err := p.list.Stop(context.Background()); err != nil {
		return err
	}
	p.mixer.Reset()
	return nil
}

// SetLoopType changes the repeat policy.
func (p *Player) SetLoopType(l LoopType) {
	p.list.SwitchLoopType(l)
}

func (p *Player) LoopType() LoopType {
	return p.list.LoopType()
}

// List returns the queue in play order.
func (p *Player) List() []Entry {
	return p.list.List()
}

// Remove drops the entries at the given queue positions (in insertion order).
func (p *Player) Remove(indices ...int) error {
	return p.list.RemoveFiles(context.Background(), indices...)
}

func (p *Player) Clear() error {
	return p.list.Clear(context.Background())
}

// Current returns the selected position in the play order and the song's
// title, or -1 and "" when nothing is selected.
func (p *Player) Current() (int, string) {
	e := p.list.Playing()
	if e == nil {
		return -1, ""
	}
	return p.list.PlayingIndex(), e.String()
}

// Song returns the decoded song being played, or nil while loading or
// stopped.
func (p *Player) Song() *nbs.Song {
	if s := p.list.Player(); s != nil {
		return s.Song()
	}
	return nil
}

// Position returns the played ticks and the length in ticks of the current
// song. Both are zero when nothing is playing.
func (p *Player) Position() (tick float64, length int) {
	s := p.list.Player()
	if s == nil {
		return 0, 0
	}
	return s.PlayedTicks(), s.Length()
}

func (p *Player) Playing() bool {
	return p.list.Active() && !p.list.Paused()
}

func (p *Player) Paused() bool {
	return p.list.Paused()
}

// Wait blocks until the queue stops: after Stop, or when the last song ends
// without a loop to continue. It returns immediately when nothing plays.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Watch returns a channel that receives playback events. The channel is
// buffered (cap 64); events are dropped while it is full. Only the most
// recent Watch() channel receives events.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 64)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

// Subscribe registers fn for every playlist event. fn must not call Player
// methods synchronously.
func (p *Player) Subscribe(fn func(intpl.Event)) (unsubscribe func()) {
	return p.list.Subscribe(fn)
}

// SetMasterVolume sets the note volume multiplier for notes started from now
// on.
func (p *Player) SetMasterVolume(volume float64) {
	p.renderer.SetVolume(volume)
}

func (p *Player) MasterVolume() float64 {
	return p.renderer.Volume()
}

// SetEQBand sets the gain for a master EQ band (0-4). 1.0 = unity.
// Band frequencies: 0=<200Hz, 1=200-800Hz, 2=800-2.5kHz, 3=2.5-8kHz, 4=>8kHz.
// This takes effect immediately on the audio thread (lock-free).
func (p *Player) SetEQBand(band int, gain float32) {
	p.masterEQ.SetGain(band, gain)
}

// EQBand returns the current gain for a master EQ band (0-4).
func (p *Player) EQBand(band int) float32 {
	return p.masterEQ.Gain(band)
}

// Close stops playback and releases the output. The Player must not be used
// afterwards.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.list.Close()
	p.detach()
	p.signalDone()

	p.mu.Lock()
	out := p.audio
	p.audio = nil
	p.mu.Unlock()
	if out != nil {
		return out.Close()
	}
	return nil
}
