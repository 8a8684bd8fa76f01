// Package smfexport writes songs as Standard MIDI Files.
package smfexport

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/nbsplay-go/internal/nbs"
	"github.com/cbegin/nbsplay-go/internal/sequencer"
)

const (
	// Resolution is the number of MIDI ticks per quarter note.
	Resolution = 96
	// song ticks are sixteenth notes
	ticksPerStep = Resolution / 4
	drumChannel  = 9
	// keyOffset maps song key 0 (A0) to its MIDI note number.
	keyOffset = 21
)

// voice is the General MIDI rendition of a builtin instrument. A drum voice
// plays a fixed key on the drum channel.
type voice struct {
	program uint8
	drum    bool
	key     uint8
}

var builtinVoices = map[string]voice{
	"harp.ogg":           {program: 46},
	"dbass.ogg":          {program: 32},
	"bdrum.ogg":          {drum: true, key: 36},
	"sdrum.ogg":          {drum: true, key: 38},
	"click.ogg":          {drum: true, key: 37},
	"guitar.ogg":         {program: 24},
	"flute.ogg":          {program: 73},
	"bell.ogg":           {program: 14},
	"icechime.ogg":       {program: 8},
	"xylobone.ogg":       {program: 13},
	"iron_xylophone.ogg": {program: 11},
	"cow_bell.ogg":       {drum: true, key: 56},
	"didgeridoo.ogg":     {program: 109},
	"bit.ogg":            {program: 80},
	"banjo.ogg":          {program: 105},
	"pling.ogg":          {program: 4},
}

type noteEvent struct {
	at       uint32
	off      bool
	key, vel uint8
}

// Write encodes table as a format 1 MIDI file: a tempo track followed by one
// track per instrument that has notes. Each note lasts one song tick.
func Write(w io.Writer, song *nbs.Song, table *sequencer.Table) error {
	if !(song.Header.Tempo > 0) {
		return sequencer.ErrInvalidTempo
	}
	perInstrument := make([][]noteEvent, len(table.Instruments))
	for tick := 0; tick < table.Len(); tick++ {
		for _, trig := range table.Slot(tick) {
			if trig.Instrument < 0 || trig.Instrument >= len(perInstrument) {
				return fmt.Errorf("%w: instrument %d", sequencer.ErrInvalidNote, trig.Instrument)
			}
			v := voiceFor(table.Instruments[trig.Instrument])
			key := v.key
			if !v.drum {
				key = midiKey(trig.Pitch)
			}
			vel := uint8(math.Round(min(max(trig.Velocity, 0), 100) * 127 / 100))
			if vel == 0 {
				continue
			}
			at := uint32(tick * ticksPerStep)
			perInstrument[trig.Instrument] = append(perInstrument[trig.Instrument],
				noteEvent{at: at, key: key, vel: vel},
				noteEvent{at: at + ticksPerStep, off: true, key: key})
		}
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(Resolution)

	var meta smf.Track
	meta.Add(0, smf.MetaTrackSequenceName(song.Title("nbsplay")))
	meta.Add(0, smf.MetaTempo(song.Header.Tempo*15))
	meta.Close(0)
	if err := s.Add(meta); err != nil {
		return err
	}

	channel := uint8(0)
	for i, events := range perInstrument {
		if len(events) == 0 {
			continue
		}
		inst := table.Instruments[i]
		v := voiceFor(inst)
		ch := uint8(drumChannel)
		if !v.drum {
			ch = channel
			channel = (channel + 1) % 16
			if channel == drumChannel {
				channel++
			}
		}
		if err := s.Add(instrumentTrack(inst.Name, ch, v, events)); err != nil {
			return err
		}
	}
	_, err := s.WriteTo(w)
	return err
}

func instrumentTrack(name string, ch uint8, v voice, events []noteEvent) smf.Track {
	// offs sort before ons at the same time so repeated keys retrigger
	sort.SliceStable(events, func(a, b int) bool {
		if events[a].at != events[b].at {
			return events[a].at < events[b].at
		}
		return events[a].off && !events[b].off
	})
	var tr smf.Track
	tr.Add(0, smf.MetaTrackSequenceName(name))
	if !v.drum {
		tr.Add(0, midi.ProgramChange(ch, v.program))
	}
	var last uint32
	for _, ev := range events {
		delta := ev.at - last
		last = ev.at
		if ev.off {
			tr.Add(delta, midi.NoteOff(ch, ev.key))
		} else {
			tr.Add(delta, midi.NoteOn(ch, ev.key, ev.vel))
		}
	}
	tr.Close(0)
	return tr
}

func voiceFor(inst nbs.Instrument) voice {
	if v, ok := builtinVoices[inst.File]; ok {
		return v
	}
	return voice{}
}

// midiKey converts a playback rate back to the nearest MIDI note.
func midiKey(rate float64) uint8 {
	if !(rate > 0) {
		rate = 1
	}
	k := math.Round(12*math.Log2(rate)) + nbs.DefaultPitch + keyOffset
	return uint8(min(max(k, 0), 127))
}
