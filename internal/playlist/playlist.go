// Package playlist sequences songs end to end under a repeat policy.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/cbegin/nbsplay-go/internal/notify"
	"github.com/cbegin/nbsplay-go/internal/sequencer"
)

var (
	ErrEmpty           = errors.New("playlist: empty")
	ErrNotPlaying      = errors.New("playlist: not playing")
	ErrNoNext          = errors.New("playlist: no next entry")
	ErrNoPrevious      = errors.New("playlist: no previous entry")
	ErrIndexOutOfRange = errors.New("playlist: index out of range")
)

type Option func(*config)

type config struct {
	loop   LoopType
	logger *log.Logger
	sched  []sequencer.Option
	rng    *rand.Rand
}

func WithLoopType(l LoopType) Option {
	return func(cfg *config) {
		cfg.loop = l
	}
}

func WithLogger(l *log.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithSchedulerOptions are applied to the scheduler created for each entry.
func WithSchedulerOptions(opts ...sequencer.Option) Option {
	return func(cfg *config) {
		cfg.sched = append(cfg.sched, opts...)
	}
}

// WithRand sets the source used for shuffling.
func WithRand(r *rand.Rand) Option {
	return func(cfg *config) {
		if r != nil {
			cfg.rng = r
		}
	}
}

// item gives every added entry an identity, so the same source can be queued
// twice and still be told apart.
type item struct {
	id    uint64
	entry Entry
}

// session is one entry being loaded and played.
type session struct {
	item   item
	index  int
	cancel context.CancelFunc
	done   chan struct{} // closed once the scheduler is stopped
	player *sequencer.Scheduler
}

type outcome int

const (
	outcomeCancelled outcome = iota
	outcomeEnded
	outcomeFailed
)

// Playlist drives one scheduler at a time over a list of entries.
//
// Transitions (play, stop, navigation, mutations and the automatic advance at
// the end of an entry) hold a single-slot semaphore for their whole run, so
// they never overlap. Event handlers run on the goroutine that produced the
// event and must not call Playlist operations synchronously.
type Playlist struct {
	renderer sequencer.Renderer
	cfg      config
	events   notify.Hub[Event]
	slot     *semaphore.Weighted
	base     context.Context
	shutdown context.CancelFunc

	mu       sync.Mutex
	files    []item // natural order
	order    []item // shuffled ordering, nil unless loop is LoopShuffle
	nextID   uint64
	loop     LoopType
	index    int // into the current ordering, -1 when nothing is selected
	active   bool
	pausing  bool
	failures int // consecutive load failures
	session  *session
}

func New(renderer sequencer.Renderer, opts ...Option) *Playlist {
	cfg := config{
		loop:   LoopList,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.rng == nil {
		cfg.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	base, cancel := context.WithCancel(context.Background())
	p := &Playlist{
		renderer: renderer,
		cfg:      cfg,
		slot:     semaphore.NewWeighted(1),
		base:     base,
		shutdown: cancel,
		loop:     cfg.loop,
		index:    -1,
	}
	if p.loop == LoopShuffle {
		p.order = []item{}
	}
	return p
}

func (p *Playlist) Subscribe(fn func(Event)) (unsubscribe func()) {
	return p.events.Subscribe(fn)
}

// Play selects the first entry when nothing is selected and (re)starts the
// selected entry from the beginning.
func (p *Playlist) Play(ctx context.Context) error {
	if err := p.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slot.Release(1)

	p.mu.Lock()
	if len(p.files) == 0 {
		p.mu.Unlock()
		return ErrEmpty
	}
	var sw []Event
	if p.index < 0 {
		p.index = 0
		sw = append(sw, p.switchEvent())
	}
	p.pausing = false
	p.failures = 0
	p.mu.Unlock()

	p.emit(sw...)
	p.flush()
	p.events.Emit(Event{Kind: EventPlay})
	return nil
}

func (p *Playlist) Pause(ctx context.Context) error {
	if err := p.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slot.Release(1)

	p.mu.Lock()
	player := p.player()
	if player == nil {
		p.mu.Unlock()
		return ErrNotPlaying
	}
	p.pausing = true
	p.mu.Unlock()

	if err := player.Pause(); err != nil {
		p.mu.Lock()
		p.pausing = player.State() == sequencer.Paused
		p.mu.Unlock()
		if errors.Is(err, sequencer.ErrNotPlaying) {
			return ErrNotPlaying
		}
		return err
	}
	p.events.Emit(Event{Kind: EventPause})
	return nil
}

func (p *Playlist) Resume(ctx context.Context) error {
	if err := p.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slot.Release(1)

	p.mu.Lock()
	player := p.player()
	if player == nil {
		p.mu.Unlock()
		return ErrNotPlaying
	}
	p.pausing = false
	p.mu.Unlock()

	if player.Playing() {
		return nil
	}
	if err := player.Resume(ctx); err != nil {
		return err
	}
	p.events.Emit(Event{Kind: EventResume})
	return nil
}

// Stop tears down the active entry. The selection is kept.
func (p *Playlist) Stop(ctx context.Context) error {
	if err := p.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slot.Release(1)

	p.mu.Lock()
	p.pausing = false
	p.active = false
	p.mu.Unlock()

	p.teardown()
	p.events.Emit(Event{Kind: EventStop})
	return nil
}

// Next selects and plays the following entry. Unlike the automatic advance
// it leaves LoopSingle, wrapping to the first entry after the last one.
func (p *Playlist) Next(ctx context.Context) error {
	return p.navigate(ctx, (*Playlist).forward)
}

func (p *Playlist) Previous(ctx context.Context) error {
	return p.navigate(ctx, (*Playlist).backward)
}

func (p *Playlist) navigate(ctx context.Context, move func(*Playlist) error) error {
	if err := p.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slot.Release(1)

	p.mu.Lock()
	if err := move(p); err != nil {
		p.mu.Unlock()
		return err
	}
	ev := p.switchEvent()
	p.pausing = false
	p.failures = 0
	p.mu.Unlock()

	p.events.Emit(ev)
	p.flush()
	return nil
}

// SwitchTo selects and plays the entry at index in the current ordering.
func (p *Playlist) SwitchTo(ctx context.Context, index int) error {
	return p.navigate(ctx, func(p *Playlist) error {
		if index < 0 || index >= len(p.files) {
			return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
		}
		p.index = index
		return nil
	})
}

// SwitchLoopType changes the repeat policy. Entering LoopShuffle builds a
// fresh permutation; leaving it maps the selection back to natural order.
func (p *Playlist) SwitchLoopType(l LoopType) {
	p.mu.Lock()
	if p.loop == l {
		p.mu.Unlock()
		return
	}
	prev := p.loop
	cur, had := p.current()
	p.loop = l
	reordered := false
	switch {
	case l == LoopShuffle:
		p.order = p.shuffled()
		reordered = true
	case prev == LoopShuffle:
		p.order = nil
		reordered = true
	}
	if reordered && had {
		p.index = indexOf(p.ordering(), cur.id)
	}
	evs := []Event{{Kind: EventLoopChange, Loop: l}}
	if reordered {
		evs = append(evs, p.changeEvent())
	}
	p.mu.Unlock()
	p.emit(evs...)
}

// AddFile inserts e before the natural-order index at; an index outside the
// list appends.
func (p *Playlist) AddFile(ctx context.Context, e Entry, at int) error {
	if err := p.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slot.Release(1)

	p.mu.Lock()
	it := item{id: p.nextID, entry: e}
	p.nextID++
	if at < 0 || at > len(p.files) {
		at = len(p.files)
	}
	cur, had := p.current()
	p.files = slices.Insert(p.files, at, it)
	p.membershipChanged(cur, had)
	ev := p.changeEvent()
	p.mu.Unlock()

	p.events.Emit(ev)
	return nil
}

// RemoveFile removes the entry at the natural-order index.
func (p *Playlist) RemoveFile(ctx context.Context, index int) error {
	return p.RemoveFiles(ctx, index)
}

// RemoveFiles removes the entries at the given natural-order indices. When the
// playing entry is among them, playback falls back to the first remaining
// entry, or stops when none remain.
func (p *Playlist) RemoveFiles(ctx context.Context, indices ...int) error {
	if err := p.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slot.Release(1)

	p.mu.Lock()
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(p.files) {
			p.mu.Unlock()
			return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
		}
		drop[i] = true
	}
	cur, had := p.current()
	kept := p.files[:0:0]
	for i, it := range p.files {
		if !drop[i] {
			kept = append(kept, it)
		}
	}
	p.files = kept
	lost := p.membershipChanged(cur, had)
	p.mu.Unlock()

	if lost {
		p.reselect(true)
	}
	p.mu.Lock()
	ev := p.changeEvent()
	p.mu.Unlock()
	p.events.Emit(ev)
	return nil
}

// ChangeIndex moves the entry at natural-order index from to index to.
func (p *Playlist) ChangeIndex(ctx context.Context, from, to int) error {
	if err := p.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slot.Release(1)

	p.mu.Lock()
	if from < 0 || from >= len(p.files) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, from)
	}
	if to < 0 || to >= len(p.files) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, to)
	}
	cur, had := p.current()
	it := p.files[from]
	p.files = slices.Delete(p.files, from, from+1)
	p.files = slices.Insert(p.files, to, it)
	if had {
		p.index = indexOf(p.ordering(), cur.id)
	}
	ev := p.changeEvent()
	p.mu.Unlock()

	p.events.Emit(ev)
	return nil
}

// Clear removes every entry and stops playback.
func (p *Playlist) Clear(ctx context.Context) error {
	if err := p.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.slot.Release(1)

	p.mu.Lock()
	hadSelection := p.index >= 0
	p.files = nil
	if p.order != nil {
		p.order = []item{}
	}
	p.failures = 0
	p.mu.Unlock()

	p.reselect(hadSelection)
	p.mu.Lock()
	ev := p.changeEvent()
	p.mu.Unlock()
	p.events.Emit(ev)
	return nil
}

// Close stops playback and cancels any pending transition. The playlist
// must not be used afterwards.
func (p *Playlist) Close() {
	p.shutdown()
	_ = p.slot.Acquire(context.Background(), 1)
	defer p.slot.Release(1)
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
	p.teardown()
}

// List returns the current ordering, shuffled under LoopShuffle.
func (p *Playlist) List() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return entries(p.ordering())
}

// Files returns the entries in natural order.
func (p *Playlist) Files() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return entries(p.files)
}

func (p *Playlist) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

// PlayingIndex returns the selected position in the current ordering, or -1.
func (p *Playlist) PlayingIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Playing returns the selected entry, or nil.
func (p *Playlist) Playing() Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it, ok := p.current(); ok {
		return it.entry
	}
	return nil
}

// Player returns the scheduler of the active entry, or nil while loading or
// stopped.
func (p *Playlist) Player() *sequencer.Scheduler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.player()
}

func (p *Playlist) LoopType() LoopType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loop
}

// Active reports whether the playlist is playing or paused, including the
// gaps while an entry loads.
func (p *Playlist) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Paused reports whether the active entry was paused.
func (p *Playlist) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active && p.pausing
}

func (p *Playlist) emit(evs ...Event) {
	for _, ev := range evs {
		p.events.Emit(ev)
	}
}

// flush tears down the active session and starts one for the selected
// entry. Caller holds the slot.
func (p *Playlist) flush() {
	p.teardown()

	p.mu.Lock()
	it, ok := p.current()
	if !ok {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(p.base)
	s := &session{
		item:   it,
		index:  p.index,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.session = s
	p.active = true
	p.pausing = false
	p.mu.Unlock()

	go p.run(ctx, s)
}

// teardown cancels the active session and waits until its scheduler has
// stopped. Caller holds the slot.
func (p *Playlist) teardown() {
	p.mu.Lock()
	s := p.session
	p.session = nil
	p.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

// settle leaves the playlist stopped with nothing selected. Caller holds the
// slot.
func (p *Playlist) settle() {
	p.teardown()
	p.mu.Lock()
	p.index = -1
	p.active = false
	p.pausing = false
	p.mu.Unlock()
	p.emit(Event{Kind: EventSwitch, Index: -1}, Event{Kind: EventStop})
}

// reselect handles the loss of the selected entry: the first remaining entry
// is selected and restarted if the playlist was active, or the playlist
// settles when it is empty. Caller holds the slot.
func (p *Playlist) reselect(hadSelection bool) {
	p.mu.Lock()
	active := p.active
	if len(p.files) == 0 {
		p.index = -1
		p.mu.Unlock()
		if active {
			p.settle()
		} else if hadSelection {
			p.events.Emit(Event{Kind: EventSwitch, Index: -1})
		}
		return
	}
	p.index = 0
	ev := p.switchEvent()
	p.mu.Unlock()

	p.events.Emit(ev)
	if active {
		p.flush()
	}
}

// run loads and plays one entry, then continues with the next transition
// unless the session was cancelled in the meantime.
func (p *Playlist) run(ctx context.Context, s *session) {
	out := p.playEntry(ctx, s)
	close(s.done)
	if out == outcomeCancelled {
		return
	}
	if err := p.slot.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.slot.Release(1)
	p.mu.Lock()
	current := p.session == s && ctx.Err() == nil
	p.mu.Unlock()
	if current {
		p.advance(out)
	}
}

func (p *Playlist) playEntry(ctx context.Context, s *session) outcome {
	song, err := s.item.entry.Read(ctx)
	var sched *sequencer.Scheduler
	if err == nil {
		sched, err = sequencer.New(song, p.renderer, p.cfg.sched...)
	}
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCancelled
		}
		p.fail(s, err)
		return outcomeFailed
	}

	ended := make(chan struct{}, 1)
	unsubscribe := sched.Subscribe(func(ev sequencer.Event) {
		switch ev.Kind {
		case sequencer.EventTick:
			p.events.Emit(Event{Kind: EventTick, Entry: s.item.entry, Index: s.index, Elapsed: ev.Elapsed, Player: sched})
		case sequencer.EventError:
			p.events.Emit(Event{Kind: EventError, Entry: s.item.entry, Index: s.index, Err: ev.Err})
		case sequencer.EventStop:
			// a pause is not an end
			if ev.Reason == sequencer.StopPaused {
				return
			}
			select {
			case ended <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return outcomeCancelled
	}
	s.player = sched
	p.mu.Unlock()

	if err := sched.Play(ctx); err != nil {
		p.clearPlayer(s)
		if ctx.Err() != nil {
			return outcomeCancelled
		}
		p.fail(s, err)
		return outcomeFailed
	}
	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		_ = sched.Stop()
		p.clearPlayer(s)
		return outcomeCancelled
	case <-ended:
		p.clearPlayer(s)
		return outcomeEnded
	}
}

func (p *Playlist) fail(s *session, err error) {
	p.cfg.logger.Printf("playlist: %s: %v", s.item.entry, err)
	p.mu.Lock()
	p.failures++
	p.mu.Unlock()
	p.events.Emit(Event{Kind: EventError, Entry: s.item.entry, Index: s.index, Err: err})
}

func (p *Playlist) clearPlayer(s *session) {
	p.mu.Lock()
	s.player = nil
	p.mu.Unlock()
}

// advance applies the repeat policy after an entry ended or failed to load.
// Caller holds the slot.
func (p *Playlist) advance(out outcome) {
	p.mu.Lock()
	if out == outcomeEnded && p.loop == LoopSingle {
		p.mu.Unlock()
		p.flush()
		return
	}
	if out == outcomeFailed && p.failures >= len(p.files) {
		p.mu.Unlock()
		p.cfg.logger.Printf("playlist: no entry could be loaded, stopping")
		p.settle()
		return
	}
	err := p.forward()
	var ev Event
	if err == nil {
		ev = p.switchEvent()
	}
	p.mu.Unlock()

	if err != nil {
		p.settle()
		return
	}
	p.events.Emit(ev)
	p.flush()
}

// forward moves the selection one entry on. Caller holds mu.
func (p *Playlist) forward() error {
	n := len(p.files)
	if n == 0 {
		return ErrEmpty
	}
	if p.index < n-1 {
		p.index++
		return nil
	}
	switch p.loop {
	case LoopList, LoopSingle:
		p.index = 0
	case LoopShuffle:
		p.order = p.shuffled()
		p.index = 0
	default:
		return ErrNoNext
	}
	return nil
}

// backward moves the selection one entry back. Caller holds mu.
func (p *Playlist) backward() error {
	n := len(p.files)
	if n == 0 {
		return ErrEmpty
	}
	if p.index > 0 {
		p.index--
		return nil
	}
	switch p.loop {
	case LoopList, LoopSingle:
		p.index = n - 1
	case LoopShuffle:
		p.order = p.shuffled()
		p.index = 0
	default:
		return ErrNoPrevious
	}
	return nil
}

// membershipChanged rebuilds the shuffled ordering and re-derives the index
// of the selected entry. It reports whether that entry is gone. Caller holds
// mu.
func (p *Playlist) membershipChanged(cur item, had bool) (lost bool) {
	p.failures = 0
	if p.loop == LoopShuffle {
		p.order = p.shuffled()
	}
	if !had {
		return false
	}
	p.index = indexOf(p.ordering(), cur.id)
	return p.index < 0
}

func (p *Playlist) ordering() []item {
	if p.loop == LoopShuffle {
		return p.order
	}
	return p.files
}

func (p *Playlist) current() (item, bool) {
	ord := p.ordering()
	if p.index < 0 || p.index >= len(ord) {
		return item{}, false
	}
	return ord[p.index], true
}

func (p *Playlist) player() *sequencer.Scheduler {
	if p.session == nil {
		return nil
	}
	return p.session.player
}

func (p *Playlist) shuffled() []item {
	out := slices.Clone(p.files)
	if out == nil {
		out = []item{}
	}
	p.cfg.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (p *Playlist) switchEvent() Event {
	ev := Event{Kind: EventSwitch, Index: p.index}
	if it, ok := p.current(); ok {
		ev.Entry = it.entry
	} else {
		ev.Index = -1
	}
	return ev
}

func (p *Playlist) changeEvent() Event {
	return Event{Kind: EventChange, List: entries(p.ordering())}
}

func indexOf(items []item, id uint64) int {
	return slices.IndexFunc(items, func(it item) bool { return it.id == id })
}

func entries(items []item) []Entry {
	out := make([]Entry, len(items))
	for i, it := range items {
		out[i] = it.entry
	}
	return out
}
