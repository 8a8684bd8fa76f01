package nbs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func sampleSong() *Song {
	h := DefaultHeader()
	h.SongName = "Café Theme"
	h.SongAuthor = "someone"
	h.Tempo = 12.5
	h.SongLength = 8
	h.Loop = true
	h.MaxLoopCount = 2
	h.LoopStart = 4
	return &Song{
		Header: h,
		Notes: []Note{
			{Tick: 0, Layer: 0, Instrument: 0, Key: 45, Velocity: 100},
			{Tick: 0, Layer: 2, Instrument: 16, Key: 50, Velocity: 60, Panning: -30, Pitch: -25},
			{Tick: 8, Layer: 1, Instrument: 3, Key: 33, Velocity: 80, Panning: 100},
		},
		Layers: []Layer{
			{ID: 0, Name: "lead", Volume: 100},
			{ID: 1, Name: "drums", Volume: 50, Panning: 20, Lock: true},
			{ID: 2, Name: "", Volume: 75, Panning: -100},
		},
		Instruments: []Instrument{
			{ID: 0, Name: "Custom", File: "custom/thing.ogg", Pitch: 57, PressKey: false},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleSong()
	var buf bytes.Buffer
	if err := Encode(&buf, want); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Header.Version != CurrentVersion {
		t.Fatalf("version = %d, want %d", got.Header.Version, CurrentVersion)
	}
	if got.Header.SongName != want.Header.SongName {
		t.Fatalf("song name = %q, want %q", got.Header.SongName, want.Header.SongName)
	}
	if got.Header.Tempo != 12.5 {
		t.Fatalf("tempo = %v, want 12.5", got.Header.Tempo)
	}
	if !got.Header.Loop || got.Header.MaxLoopCount != 2 || got.Header.LoopStart != 4 {
		t.Fatalf("loop fields not preserved: %+v", got.Header)
	}
	if len(got.Notes) != len(want.Notes) {
		t.Fatalf("expected %d notes, got %d", len(want.Notes), len(got.Notes))
	}
	for i := range want.Notes {
		if got.Notes[i] != want.Notes[i] {
			t.Fatalf("note %d = %+v, want %+v", i, got.Notes[i], want.Notes[i])
		}
	}
	for i := range want.Layers {
		if got.Layers[i] != want.Layers[i] {
			t.Fatalf("layer %d = %+v, want %+v", i, got.Layers[i], want.Layers[i])
		}
	}
	if got.Instruments[0] != want.Instruments[0] {
		t.Fatalf("instrument = %+v, want %+v", got.Instruments[0], want.Instruments[0])
	}
}

func TestEncodeKeepsLastNoteOnSameTickAndLayer(t *testing.T) {
	song := &Song{
		Header: DefaultHeader(),
		Notes: []Note{
			{Tick: 2, Layer: 0, Key: 40, Velocity: 100},
			{Tick: 2, Layer: 0, Key: 41, Velocity: 100},
		},
		Layers: []Layer{{Volume: 100}},
	}
	song.Header.SongLength = 2
	var buf bytes.Buffer
	if err := Encode(&buf, song); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got.Notes) != 1 || got.Notes[0].Key != 41 {
		t.Fatalf("expected only the later note, got %+v", got.Notes)
	}
}

type legacyWriter struct{ bytes.Buffer }

func (w *legacyWriter) u8(v int)  { w.WriteByte(byte(v)) }
func (w *legacyWriter) u16(v int) { _ = binary.Write(&w.Buffer, binary.LittleEndian, uint16(v)) }
func (w *legacyWriter) u32(v int) { _ = binary.Write(&w.Buffer, binary.LittleEndian, uint32(v)) }
func (w *legacyWriter) str(s string) {
	w.u32(len(s))
	w.WriteString(s)
}

// legacySong builds a version 0 file: no version byte, ten default
// instruments, no velocity or panning fields.
func legacySong(songLength int) []byte {
	var w legacyWriter
	w.header(songLength)
	// notes: tick 0 layer 0, tick 6 layer 0
	w.u16(1)
	w.u16(1)
	w.u8(2)
	w.u8(45)
	w.u16(0)
	w.u16(6)
	w.u16(1)
	w.u8(4)
	w.u8(50)
	w.u16(0)
	w.u16(0)
	// layer
	w.str("L1")
	w.u8(80)
	// custom instruments
	w.u8(0)
	return w.Bytes()
}

func (w *legacyWriter) header(songLength int) {
	w.u16(songLength)
	w.u16(1) // layers
	w.str("old")
	w.str("")
	w.str("")
	w.str("")
	w.u16(1000) // tempo 10.00
	w.u8(0)
	w.u8(10)
	w.u8(4)
	for i := 0; i < 5; i++ {
		w.u32(0)
	}
	w.str("")
}

func TestDecodeLegacyVersion(t *testing.T) {
	song, err := Decode(legacySong(3))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if song.Header.Version != 0 {
		t.Fatalf("version = %d, want 0", song.Header.Version)
	}
	if song.Header.DefaultInstruments != 10 {
		t.Fatalf("default instruments = %d, want 10", song.Header.DefaultInstruments)
	}
	if song.Header.SongLength != 6 {
		t.Fatalf("song length should grow to last note tick 6, got %d", song.Header.SongLength)
	}
	if len(song.Notes) != 2 || song.Notes[1].Tick != 6 || song.Notes[1].Velocity != 100 {
		t.Fatalf("unexpected notes %+v", song.Notes)
	}
	if song.Layers[0].Volume != 80 || song.Layers[0].Panning != 0 {
		t.Fatalf("unexpected layer %+v", song.Layers[0])
	}
}

func TestDecodeTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleSong()); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	full := buf.Bytes()
	for _, cut := range []int{0, 1, 5, 40, len(full) - 1} {
		_, err := Decode(full[:cut])
		if err == nil {
			t.Fatalf("decode of %d/%d bytes should fail", cut, len(full))
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("cut %d: expected ErrUnexpectedEOF, got %v", cut, err)
		}
	}
}

func TestDecodeRejectsTooManyDefaultInstruments(t *testing.T) {
	song := sampleSong()
	song.Header.DefaultInstruments = 40
	var buf bytes.Buffer
	if err := Encode(&buf, song); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := Decode(buf.Bytes()); !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestDecodeRejectsTickPastMax(t *testing.T) {
	var w legacyWriter
	w.header(0)
	// empty ticks of the largest jump push the position past MaxTick
	for pos := -1; pos <= MaxTick; pos += 0xffff {
		w.u16(0xffff)
		w.u16(0)
	}
	w.u16(1)
	w.u16(1)
	w.u8(0)
	w.u8(45)
	w.u16(0)
	w.u16(0)
	w.str("L1")
	w.u8(100)
	w.u8(0)
	if _, err := Decode(w.Bytes()); !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestDecodeAcceptsTickAtMax(t *testing.T) {
	var w legacyWriter
	w.header(0)
	pos := -1
	for pos+0xffff < MaxTick {
		w.u16(0xffff)
		w.u16(0)
		pos += 0xffff
	}
	w.u16(MaxTick - pos)
	w.u16(1)
	w.u8(0)
	w.u8(45)
	w.u16(0)
	w.u16(0)
	w.str("L1")
	w.u8(100)
	w.u8(0)
	song, err := Decode(w.Bytes())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if song.Header.SongLength != MaxTick || len(song.Notes) != 1 {
		t.Fatalf("song length = %d notes = %d, want %d and 1", song.Header.SongLength, len(song.Notes), MaxTick)
	}
}

func TestResolveInstruments(t *testing.T) {
	song := sampleSong()
	song.Header.DefaultInstruments = 10
	all := ResolveInstruments(song)
	if len(all) != 11 {
		t.Fatalf("expected 10 builtin + 1 custom, got %d", len(all))
	}
	if all[9].Name != "Xylophone" || all[10].Name != "Custom" {
		t.Fatalf("unexpected index space: %q, %q", all[9].Name, all[10].Name)
	}
}
