package smfexport

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/nbsplay-go/internal/nbs"
	"github.com/cbegin/nbsplay-go/internal/sequencer"
)

func exportSong() *nbs.Song {
	h := nbs.DefaultHeader()
	h.SongName = "Export"
	h.SongLength = 2
	return &nbs.Song{
		Header: h,
		Layers: []nbs.Layer{{Volume: 100}},
		Notes: []nbs.Note{
			{Tick: 0, Instrument: 0, Key: 45, Velocity: 100},
			{Tick: 1, Instrument: 2, Key: 30, Velocity: 50},
			{Tick: 2, Instrument: 0, Key: 57, Velocity: 100},
		},
	}
}

type noteOn struct {
	at           uint32
	ch, key, vel uint8
}

func TestWriteRoundTrip(t *testing.T) {
	song := exportSong()
	table, err := sequencer.Build(song)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, song, table); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := smf.ReadFrom(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(s.Tracks) != 3 {
		t.Fatalf("got %d tracks, want tempo + 2 instruments", len(s.Tracks))
	}

	var bpm float64
	for _, ev := range s.Tracks[0] {
		if ev.Message.GetMetaTempo(&bpm) {
			break
		}
	}
	if math.Abs(bpm-150) > 0.01 {
		t.Fatalf("bpm = %v, want 150", bpm)
	}

	ons := func(tr smf.Track) []noteOn {
		var out []noteOn
		var at uint32
		for _, ev := range tr {
			at += ev.Delta
			var n noteOn
			if midi.Message(ev.Message).GetNoteStart(&n.ch, &n.key, &n.vel) {
				n.at = at
				out = append(out, n)
			}
		}
		return out
	}

	harp := ons(s.Tracks[1])
	want := []noteOn{
		{at: 0, ch: 0, key: 66, vel: 127},
		{at: 2 * ticksPerStep, ch: 0, key: 78, vel: 127},
	}
	if len(harp) != len(want) {
		t.Fatalf("harp notes = %v", harp)
	}
	for i := range want {
		if harp[i] != want[i] {
			t.Fatalf("harp note %d = %+v, want %+v", i, harp[i], want[i])
		}
	}

	drum := ons(s.Tracks[2])
	if len(drum) != 1 || drum[0].ch != drumChannel || drum[0].key != 36 || drum[0].at != ticksPerStep || drum[0].vel != 64 {
		t.Fatalf("drum notes = %+v", drum)
	}
}

func TestWriteRejectsBadTempo(t *testing.T) {
	song := exportSong()
	table, err := sequencer.Build(song)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	song.Header.Tempo = 0
	if err := Write(&bytes.Buffer{}, song, table); !errors.Is(err, sequencer.ErrInvalidTempo) {
		t.Fatalf("err = %v, want ErrInvalidTempo", err)
	}
}

func TestMidiKey(t *testing.T) {
	cases := map[float64]uint8{
		1:              66,
		2:              78,
		0.5:            54,
		0:              66,
		math.Pow(2, 9): 127,
	}
	for rate, want := range cases {
		if got := midiKey(rate); got != want {
			t.Fatalf("midiKey(%v) = %d, want %d", rate, got, want)
		}
	}
}
