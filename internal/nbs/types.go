package nbs

// CurrentVersion is the NBS format version written by Encode.
const CurrentVersion = 5

// DefaultPitch is the key an instrument sample sounds at unshifted (F#4).
const DefaultPitch = 45

// Instrument is a sound identity selected per note. The instrument index
// space of a song is builtin[:Header.DefaultInstruments] followed by the
// song's custom instruments.
type Instrument struct {
	ID       int
	Name     string
	File     string // sound file name, relative to the sound directory
	Pitch    int    // key the sample sounds at, DefaultPitch for builtins
	PressKey bool
}

// Note is one raw note event as stored in the file.
type Note struct {
	Tick       int
	Layer      int
	Instrument int
	Key        int
	Velocity   int // 0..100
	Panning    int // -100..100
	Pitch      int // fine pitch in cents
}

// Layer groups notes and carries its own volume and panning.
type Layer struct {
	ID      int
	Name    string
	Lock    bool
	Volume  int // 0..100
	Panning int // -100..100
}

// Header holds song metadata.
type Header struct {
	Version            int
	DefaultInstruments int
	// SongLength is the last tick index; the song is SongLength+1 ticks long.
	SongLength       int
	SongLayers       int
	SongName         string
	SongAuthor       string
	OriginalAuthor   string
	Description      string
	Tempo            float64 // ticks per second
	AutoSave         bool
	AutoSaveDuration int
	TimeSignature    int
	MinutesSpent     int
	LeftClicks       int
	RightClicks      int
	BlocksAdded      int
	BlocksRemoved    int
	SongOrigin       string
	Loop             bool
	MaxLoopCount     int // 0 loops forever
	LoopStart        int
}

// Song is a decoded NBS file. It is treated as immutable once decoded.
type Song struct {
	Header      Header
	Notes       []Note
	Layers      []Layer
	Instruments []Instrument
}

// Title returns the song name, falling back to the given default.
func (s *Song) Title(fallback string) string {
	if s.Header.SongName != "" {
		return s.Header.SongName
	}
	return fallback
}

// DefaultHeader returns a header with the editor's defaults.
func DefaultHeader() Header {
	return Header{
		Version:            CurrentVersion,
		DefaultInstruments: len(BuiltinInstruments),
		Tempo:              10,
		AutoSaveDuration:   10,
		TimeSignature:      4,
	}
}

// BuiltinInstruments are the vanilla Minecraft note block sounds.
var BuiltinInstruments = []Instrument{
	{ID: 0, Name: "Harp", File: "harp.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 1, Name: "Double Bass", File: "dbass.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 2, Name: "Bass Drum", File: "bdrum.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 3, Name: "Snare Drum", File: "sdrum.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 4, Name: "Click", File: "click.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 5, Name: "Guitar", File: "guitar.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 6, Name: "Flute", File: "flute.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 7, Name: "Bell", File: "bell.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 8, Name: "Chime", File: "icechime.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 9, Name: "Xylophone", File: "xylobone.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 10, Name: "Iron Xylophone", File: "iron_xylophone.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 11, Name: "Cow Bell", File: "cow_bell.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 12, Name: "Didgeridoo", File: "didgeridoo.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 13, Name: "Bit", File: "bit.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 14, Name: "Banjo", File: "banjo.ogg", Pitch: DefaultPitch, PressKey: true},
	{ID: 15, Name: "Pling", File: "pling.ogg", Pitch: DefaultPitch, PressKey: true},
}

// ResolveInstruments returns the song's instrument index space: the builtin
// instruments truncated to DefaultInstruments, followed by the custom ones.
func ResolveInstruments(song *Song) []Instrument {
	n := song.Header.DefaultInstruments
	if n < 0 {
		n = 0
	}
	if n > len(BuiltinInstruments) {
		n = len(BuiltinInstruments)
	}
	out := make([]Instrument, 0, n+len(song.Instruments))
	out = append(out, BuiltinInstruments[:n]...)
	out = append(out, song.Instruments...)
	return out
}
