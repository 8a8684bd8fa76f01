package sequencer

import (
	"errors"
	"fmt"
	"math"

	"github.com/cbegin/nbsplay-go/internal/nbs"
)

// ErrInvalidNote reports a note whose tick, layer, or instrument index does
// not exist in the song.
var ErrInvalidNote = errors.New("sequencer: invalid note")

// Trigger holds everything a renderer needs to play one note.
type Trigger struct {
	Instrument int     // index into Table.Instruments
	Velocity   float64 // 0..100, after layer volume and volume multiplier
	Panning    float64 // -100..100
	Pitch      float64 // playback rate, 1 = unshifted
}

// Table is a song resolved into per-tick trigger slots. A nil slot holds no
// notes. Tables are read-only once built.
type Table struct {
	Instruments []nbs.Instrument
	slots       [][]Trigger
	notes       int
}

type BuildOption func(*buildConfig)

type buildConfig struct {
	volume float64
}

// WithVolume scales every trigger velocity by v.
func WithVolume(v float64) BuildOption {
	return func(cfg *buildConfig) {
		cfg.volume = v
	}
}

// Build resolves every note of song into a Table.
func Build(song *nbs.Song, opts ...BuildOption) (*Table, error) {
	cfg := buildConfig{volume: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if song.Header.SongLength < 0 {
		return nil, fmt.Errorf("%w: negative song length %d", ErrInvalidNote, song.Header.SongLength)
	}
	if song.Header.SongLength > nbs.MaxTick {
		return nil, fmt.Errorf("%w: song length %d past %d", ErrInvalidNote, song.Header.SongLength, nbs.MaxTick)
	}
	instruments := nbs.ResolveInstruments(song)
	t := &Table{
		Instruments: instruments,
		slots:       make([][]Trigger, song.Header.SongLength+1),
	}
	for i, n := range song.Notes {
		if n.Tick < 0 || n.Tick >= len(t.slots) {
			return nil, fmt.Errorf("%w: note %d at tick %d outside song length %d", ErrInvalidNote, i, n.Tick, len(t.slots))
		}
		if n.Layer < 0 || n.Layer >= len(song.Layers) {
			return nil, fmt.Errorf("%w: note %d references layer %d of %d", ErrInvalidNote, i, n.Layer, len(song.Layers))
		}
		if n.Instrument < 0 || n.Instrument >= len(instruments) {
			return nil, fmt.Errorf("%w: note %d references instrument %d of %d", ErrInvalidNote, i, n.Instrument, len(instruments))
		}
		trig := Resolve(n, song.Layers[n.Layer], instruments[n.Instrument])
		trig.Velocity *= cfg.volume
		t.slots[n.Tick] = append(t.slots[n.Tick], trig)
		t.notes++
	}
	return t, nil
}

// Resolve computes the trigger parameters of a single note.
func Resolve(n nbs.Note, layer nbs.Layer, instrument nbs.Instrument) Trigger {
	key := float64(n.Key) + float64(instrument.Pitch-nbs.DefaultPitch) + float64(n.Pitch)/100
	return Trigger{
		Instrument: n.Instrument,
		Velocity:   float64(n.Velocity) * float64(layer.Volume) / 100,
		Panning:    float64(n.Panning+layer.Panning) / 2,
		Pitch:      math.Pow(2, (key-nbs.DefaultPitch)/12),
	}
}

// Len returns the number of slots, one per tick.
func (t *Table) Len() int { return len(t.slots) }

// NoteCount returns the total number of triggers.
func (t *Table) NoteCount() int { return t.notes }

// Slot returns the triggers at tick, or nil.
func (t *Table) Slot(tick int) []Trigger {
	if tick < 0 || tick >= len(t.slots) {
		return nil
	}
	return t.slots[tick]
}

// Between returns the triggers of slots [start, end), clamped to the table.
func (t *Table) Between(start, end int) []Trigger {
	start, end = t.clamp(start, end)
	var out []Trigger
	for _, slot := range t.slots[start:end] {
		out = append(out, slot...)
	}
	return out
}

// CountBetween returns the number of triggers in slots [start, end).
func (t *Table) CountBetween(start, end int) int {
	start, end = t.clamp(start, end)
	n := 0
	for _, slot := range t.slots[start:end] {
		n += len(slot)
	}
	return n
}

func (t *Table) clamp(start, end int) (int, int) {
	if start < 0 {
		start = 0
	}
	if start > len(t.slots) {
		start = len(t.slots)
	}
	if end > len(t.slots) {
		end = len(t.slots)
	}
	if end < start {
		end = start
	}
	return start, end
}
