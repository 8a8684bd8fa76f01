package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cbegin/nbsplay-go/internal/nbs"
	"github.com/cbegin/nbsplay-go/internal/notify"
)

var (
	ErrNotPlaying   = errors.New("sequencer: not playing")
	ErrInvalidTempo = errors.New("sequencer: tempo must be positive")
	// ErrRender wraps every renderer failure reported through EventError.
	ErrRender = errors.New("sequencer: render failed")
)

// DefaultTickInterval is the wall-clock period of the tick loop. It is much
// shorter than a song tick at any practical tempo.
const DefaultTickInterval = 5 * time.Millisecond

// Renderer turns triggers into sound. RenderNote is called concurrently for
// triggers that fall due on the same tick.
type Renderer interface {
	// Prepare is called before the tick loop starts, e.g. to load samples.
	Prepare(ctx context.Context, instruments []nbs.Instrument) error
	RenderNote(t Trigger) error
}

type Option func(*config)

type config struct {
	interval  time.Duration
	now       func() time.Time
	newTicker func(time.Duration) TickSource
	songLoop  bool
	build     []BuildOption
}

func defaultConfig() config {
	return config{
		interval:  DefaultTickInterval,
		now:       time.Now,
		newTicker: NewTicker,
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.interval = d
		}
	}
}

// WithClock replaces time.Now as the source of elapsed time.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		cfg.now = now
	}
}

// WithTickSource replaces the ticker that drives the loop.
func WithTickSource(fn func(time.Duration) TickSource) Option {
	return func(cfg *config) {
		cfg.newTicker = fn
	}
}

// WithSongLoop honors the header loop settings: reaching the end jumps back
// to LoopStart up to MaxLoopCount times (0 = forever).
func WithSongLoop(enabled bool) Option {
	return func(cfg *config) {
		cfg.songLoop = enabled
	}
}

func WithBuildOptions(opts ...BuildOption) Option {
	return func(cfg *config) {
		cfg.build = append(cfg.build, opts...)
	}
}

// Scheduler plays a single song in real time.
type Scheduler struct {
	song     *nbs.Song
	table    *Table
	renderer Renderer
	cfg      config
	events   notify.Hub[Event]

	// opMu serializes Play, Resume, Pause and Stop, including the wait for
	// the loop goroutine to exit. The loop goroutine never takes it.
	opMu sync.Mutex

	mu          sync.Mutex
	state       State
	playedTicks float64
	playedNotes int
	lastTick    time.Time
	loopsDone   int
	loop        *repeater
	gen         uint64
}

func New(song *nbs.Song, renderer Renderer, opts ...Option) (*Scheduler, error) {
	if renderer == nil {
		return nil, errors.New("sequencer: renderer is required")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !(song.Header.Tempo > 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTempo, song.Header.Tempo)
	}
	table, err := Build(song, cfg.build...)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		song:     song,
		table:    table,
		renderer: renderer,
		cfg:      cfg,
	}, nil
}

// Subscribe registers fn for scheduler events. Handlers run on the goroutine
// that produced the event, often the tick loop, and must not call Play,
// Resume, Pause or Stop.
func (s *Scheduler) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

func (s *Scheduler) Song() *nbs.Song { return s.song }

func (s *Scheduler) Table() *Table { return s.table }

func (s *Scheduler) Instruments() []nbs.Instrument { return s.table.Instruments }

// Length returns the song length in ticks.
func (s *Scheduler) Length() int { return s.table.Len() }

func (s *Scheduler) NoteCount() int { return s.table.NoteCount() }

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Playing() bool { return s.State() == Playing }

// Ended reports whether the position has reached the end of the song.
func (s *Scheduler) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playedTicks >= float64(s.table.Len())
}

func (s *Scheduler) PlayedTicks() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playedTicks
}

func (s *Scheduler) PlayedNotes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playedNotes
}

// Play starts playback from the beginning. It is a no-op while playing.
func (s *Scheduler) Play(ctx context.Context) error {
	return s.start(ctx, true)
}

// Resume continues from the current position, or from the beginning when
// the song has ended.
func (s *Scheduler) Resume(ctx context.Context) error {
	return s.start(ctx, false)
}

func (s *Scheduler) start(ctx context.Context, reset bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == Playing {
		s.mu.Unlock()
		return nil
	}
	if reset || s.playedTicks >= float64(s.table.Len()) {
		s.seekLocked(0)
		s.loopsDone = 0
	}
	s.mu.Unlock()

	if err := s.renderer.Prepare(ctx, s.table.Instruments); err != nil {
		return fmt.Errorf("sequencer: prepare: %w", err)
	}

	s.mu.Lock()
	s.gen++
	s.state = Playing
	s.lastTick = s.cfg.now()
	s.loop = startRepeater(s.cfg.newTicker(s.cfg.interval), s.step)
	s.mu.Unlock()

	s.events.Emit(Event{Kind: EventPlay, ResetProgress: reset})
	return nil
}

// Pause freezes playback at the current position.
func (s *Scheduler) Pause() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != Playing {
		s.mu.Unlock()
		return ErrNotPlaying
	}
	loop := s.halt(Paused)
	s.mu.Unlock()

	loop.Cancel()
	s.events.Emit(Event{Kind: EventStop, Reason: StopPaused})
	return nil
}

// Stop ends playback and rewinds to the start. Stopping an idle scheduler
// that has no progress does nothing.
func (s *Scheduler) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	notify := s.state != Idle || s.playedTicks > 0
	loop := s.halt(Idle)
	s.seekLocked(0)
	s.mu.Unlock()

	if loop != nil {
		loop.Cancel()
	}
	if notify {
		s.events.Emit(Event{Kind: EventStop, ResetProgress: true, Reason: StopRequested})
	}
	return nil
}

// halt moves to state and detaches the running loop. Caller holds mu.
func (s *Scheduler) halt(state State) *repeater {
	loop := s.loop
	s.loop = nil
	s.state = state
	s.gen++
	return loop
}

// Seek moves the position to tick without triggering any notes.
func (s *Scheduler) Seek(tick float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seekLocked(tick)
	if s.state == Ended && s.playedTicks < float64(s.table.Len()) {
		s.state = Paused
	}
}

func (s *Scheduler) seekLocked(tick float64) {
	if tick < 0 || math.IsNaN(tick) {
		tick = 0
	}
	s.playedTicks = tick
	s.playedNotes = s.table.CountBetween(0, int(math.Ceil(tick)))
}

// step runs one iteration of the tick loop. It returns false when the loop
// should exit.
func (s *Scheduler) step() bool {
	s.mu.Lock()
	if s.state != Playing {
		s.mu.Unlock()
		return false
	}
	gen := s.gen
	now := s.cfg.now()
	elapsedMs := float64(now.Sub(s.lastTick)) / float64(time.Millisecond)
	s.lastTick = now
	passed := elapsedMs * s.song.Header.Tempo / 1000

	prev := int(math.Ceil(s.playedTicks))
	s.playedTicks += passed
	cur := int(math.Ceil(s.playedTicks))
	var due []Trigger
	if prev != cur || prev == 0 {
		due = s.table.Between(prev, cur)
	}
	s.playedNotes += len(due)
	s.mu.Unlock()

	s.events.Emit(Event{Kind: EventTick, Elapsed: passed})
	s.dispatch(due)

	s.mu.Lock()
	if s.gen != gen || s.state != Playing {
		s.mu.Unlock()
		return true
	}
	length := s.table.Len()
	if s.playedTicks < float64(length) {
		s.mu.Unlock()
		return true
	}
	h := s.song.Header
	if s.cfg.songLoop && h.Loop && h.LoopStart < length && (h.MaxLoopCount == 0 || s.loopsDone < h.MaxLoopCount) {
		s.loopsDone++
		loops := s.loopsDone
		s.seekLocked(float64(h.LoopStart))
		s.mu.Unlock()
		s.events.Emit(Event{Kind: EventLoop, Loop: loops})
		return true
	}
	s.halt(Ended)
	s.mu.Unlock()
	s.events.Emit(Event{Kind: EventStop, Reason: StopEnded})
	return false
}

// dispatch renders all triggers concurrently and waits for every one of
// them. Failures are reported as events and never stop the loop.
func (s *Scheduler) dispatch(due []Trigger) {
	if len(due) == 0 {
		return
	}
	errs := make([]error, len(due))
	var wg sync.WaitGroup
	for i, t := range due {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.render(t)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			s.events.Emit(Event{Kind: EventError, Err: err})
		}
	}
}

func (s *Scheduler) render(t Trigger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: instrument %d: panic: %v", ErrRender, t.Instrument, r)
		}
	}()
	if err := s.renderer.RenderNote(t); err != nil {
		return fmt.Errorf("%w: instrument %d: %w", ErrRender, t.Instrument, err)
	}
	return nil
}
