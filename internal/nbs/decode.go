package nbs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrTruncated reports input that ends before the layout does.
	ErrTruncated = fmt.Errorf("nbs: truncated data: %w", io.ErrUnexpectedEOF)
	// ErrInvalidHeader reports header values no editor writes.
	ErrInvalidHeader = errors.New("nbs: invalid header")
)

// maxStringLen bounds a single length-prefixed string so a corrupt length
// cannot make the decoder allocate gigabytes.
const maxStringLen = 1 << 20

// MaxTick is the last tick a decoded note may sit on.
const MaxTick = 1<<20 - 1

// DecodeReader reads all of r and decodes it.
func DecodeReader(r io.Reader) (*Song, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode parses an NBS file of any version.
func Decode(data []byte) (*Song, error) {
	d := &decoder{buf: data}
	d.section = "header"
	header := d.header()
	if d.err != nil {
		return nil, d.err
	}
	if header.SongLayers < 0 || header.DefaultInstruments > len(BuiltinInstruments) {
		return nil, fmt.Errorf("%w: %d layers, %d default instruments", ErrInvalidHeader, header.SongLayers, header.DefaultInstruments)
	}

	d.section = "notes"
	notes := d.notes(header.Version)
	d.section = "layers"
	layers := d.layers(header.SongLayers, header.Version)
	d.section = "instruments"
	instruments := d.instruments()
	if d.err != nil {
		return nil, d.err
	}

	// Legacy files store a zero song length; derive it from the notes.
	for _, n := range notes {
		if n.Tick > header.SongLength {
			header.SongLength = n.Tick
		}
	}
	return &Song{
		Header:      header,
		Notes:       notes,
		Layers:      layers,
		Instruments: instruments,
	}, nil
}

// decoder reads little-endian values with a sticky error; after the first
// failure every read returns zero.
type decoder struct {
	buf     []byte
	off     int
	err     error
	section string
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: reading %s at offset %d", ErrTruncated, d.section, d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() int {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return int(b[0])
}

func (d *decoder) u16() int {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return int(binary.LittleEndian.Uint16(b))
}

func (d *decoder) i16() int {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return int(int16(binary.LittleEndian.Uint16(b)))
}

func (d *decoder) u32() int {
	b := d.take(4)
	if b == nil {
		return 0
	}
	v := binary.LittleEndian.Uint32(b)
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	if n > maxStringLen {
		d.err = fmt.Errorf("%w: string of %d bytes in %s", ErrInvalidHeader, n, d.section)
		return ""
	}
	raw := d.take(n)
	if raw == nil {
		return ""
	}
	s, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		d.err = fmt.Errorf("nbs: decoding %s string: %w", d.section, err)
		return ""
	}
	return string(s)
}

func (d *decoder) flag() bool { return d.u8() == 1 }

func (d *decoder) header() Header {
	var h Header
	legacyLength := d.u16()
	if legacyLength == 0 {
		h.Version = d.u8()
	}
	h.DefaultInstruments = 10
	if h.Version > 0 {
		h.DefaultInstruments = d.u8()
	}
	h.SongLength = legacyLength
	if h.Version >= 3 {
		h.SongLength = d.u16()
	}
	h.SongLayers = d.u16()
	h.SongName = d.str()
	h.SongAuthor = d.str()
	h.OriginalAuthor = d.str()
	h.Description = d.str()
	h.Tempo = float64(d.u16()) / 100
	h.AutoSave = d.flag()
	h.AutoSaveDuration = d.u8()
	h.TimeSignature = d.u8()
	h.MinutesSpent = d.u32()
	h.LeftClicks = d.u32()
	h.RightClicks = d.u32()
	h.BlocksAdded = d.u32()
	h.BlocksRemoved = d.u32()
	h.SongOrigin = d.str()
	if h.Version >= 4 {
		h.Loop = d.flag()
		h.MaxLoopCount = d.u8()
		h.LoopStart = d.u16()
	}
	return h
}

// jumps calls fn with the running position of each jump until a zero jump
// terminates the sequence. The position starts at -1.
func (d *decoder) jumps(fn func(pos int)) {
	pos := -1
	for d.err == nil {
		jump := d.u16()
		if jump == 0 {
			return
		}
		pos += jump
		fn(pos)
	}
}

func (d *decoder) notes(version int) []Note {
	var notes []Note
	d.jumps(func(tick int) {
		if tick > MaxTick {
			d.err = fmt.Errorf("%w: note tick %d past %d", ErrInvalidHeader, tick, MaxTick)
			return
		}
		d.jumps(func(layer int) {
			n := Note{
				Tick:       tick,
				Layer:      layer,
				Instrument: d.u8(),
				Key:        d.u8(),
				Velocity:   100,
			}
			if version >= 4 {
				n.Velocity = d.u8()
				n.Panning = d.u8() - 100
				n.Pitch = d.i16()
			}
			if d.err == nil {
				notes = append(notes, n)
			}
		})
	})
	return notes
}

func (d *decoder) layers(count, version int) []Layer {
	layers := make([]Layer, 0, count)
	for id := 0; id < count && d.err == nil; id++ {
		l := Layer{ID: id, Name: d.str()}
		if version >= 4 {
			l.Lock = d.flag()
		}
		l.Volume = d.u8()
		if version >= 2 {
			l.Panning = d.u8() - 100
		}
		layers = append(layers, l)
	}
	return layers
}

func (d *decoder) instruments() []Instrument {
	count := d.u8()
	instruments := make([]Instrument, 0, count)
	for id := 0; id < count && d.err == nil; id++ {
		instruments = append(instruments, Instrument{
			ID:       id,
			Name:     d.str(),
			File:     d.str(),
			Pitch:    d.u8(),
			PressKey: d.flag(),
		})
	}
	return instruments
}
