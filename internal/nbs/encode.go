package nbs

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"golang.org/x/text/encoding/charmap"
)

// Encode writes song in the CurrentVersion layout. Header.Version is ignored.
func Encode(w io.Writer, song *Song) error {
	e := &encoder{w: bufio.NewWriter(w)}
	h := song.Header

	e.u16(0)
	e.u8(CurrentVersion)
	e.u8(h.DefaultInstruments)
	e.u16(h.SongLength)
	e.u16(len(song.Layers))
	e.str(h.SongName)
	e.str(h.SongAuthor)
	e.str(h.OriginalAuthor)
	e.str(h.Description)
	e.u16(int(math.Round(h.Tempo * 100)))
	e.flag(h.AutoSave)
	e.u8(h.AutoSaveDuration)
	e.u8(h.TimeSignature)
	e.u32(h.MinutesSpent)
	e.u32(h.LeftClicks)
	e.u32(h.RightClicks)
	e.u32(h.BlocksAdded)
	e.u32(h.BlocksRemoved)
	e.str(h.SongOrigin)
	e.flag(h.Loop)
	e.u8(h.MaxLoopCount)
	e.u16(h.LoopStart)

	e.notes(song.Notes)

	for _, l := range song.Layers {
		e.str(l.Name)
		e.flag(l.Lock)
		e.u8(l.Volume)
		e.u8(l.Panning + 100)
	}

	e.u8(len(song.Instruments))
	for _, in := range song.Instruments {
		e.str(in.Name)
		e.str(in.File)
		e.u8(in.Pitch)
		e.flag(in.PressKey)
	}
	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

type encoder struct {
	w   *bufio.Writer
	err error
	tmp [4]byte
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) u8(v int) {
	e.tmp[0] = byte(v)
	e.write(e.tmp[:1])
}

func (e *encoder) u16(v int) {
	binary.LittleEndian.PutUint16(e.tmp[:2], uint16(v))
	e.write(e.tmp[:2])
}

func (e *encoder) u32(v int) {
	binary.LittleEndian.PutUint32(e.tmp[:4], uint32(v))
	e.write(e.tmp[:4])
}

func (e *encoder) flag(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) str(s string) {
	raw, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		if e.err == nil {
			e.err = fmt.Errorf("nbs: encoding string %q: %w", s, err)
		}
		return
	}
	e.u32(len(raw))
	e.write(raw)
}

// notes writes the jump-encoded note block. Notes are sorted by tick, then
// layer; two notes on the same tick and layer cannot be represented and the
// later one wins.
func (e *encoder) notes(notes []Note) {
	sorted := make([]Note, len(notes))
	copy(sorted, notes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Tick != sorted[j].Tick {
			return sorted[i].Tick < sorted[j].Tick
		}
		return sorted[i].Layer < sorted[j].Layer
	})

	tick := -1
	for i := 0; i < len(sorted); {
		t := sorted[i].Tick
		e.u16(t - tick)
		tick = t
		layer := -1
		for i < len(sorted) && sorted[i].Tick == t {
			n := sorted[i]
			i++
			if i < len(sorted) && sorted[i].Tick == t && sorted[i].Layer == n.Layer {
				continue
			}
			e.u16(n.Layer - layer)
			layer = n.Layer
			e.u8(n.Instrument)
			e.u8(n.Key)
			e.u8(n.Velocity)
			e.u8(n.Panning + 100)
			e.u16(n.Pitch)
		}
		e.u16(0)
	}
	e.u16(0)
}
