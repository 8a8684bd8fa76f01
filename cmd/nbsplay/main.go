package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/pflag"
	"github.com/sqweek/dialog"

	"github.com/cbegin/nbsplay-go"
	intaudio "github.com/cbegin/nbsplay-go/internal/audio"
	intfx "github.com/cbegin/nbsplay-go/internal/effects"
	"github.com/cbegin/nbsplay-go/internal/hooks"
	intpl "github.com/cbegin/nbsplay-go/internal/playlist"
)

const statusInterval = 100 * time.Millisecond

func main() {
	var (
		sounds     = pflag.String("sounds", "sounds", "directory holding the instrument sounds (harp.ogg, ...)")
		loopName   = pflag.String("loop", "list", "loop mode: none|list|single|shuffle")
		volume     = pflag.Float64("volume", 0.8, "note volume multiplier")
		backend    = pflag.String("backend", "ebiten", "audio backend: ebiten|oto")
		sampleRate = pflag.Int("sample-rate", nbsplay.DefaultSampleRate, "output sample rate")
		songLoop   = pflag.Bool("song-loop", false, "honour the loop settings stored in songs")
		wavPath    = pflag.String("wav", "", "render the first song to a WAV file instead of playing")
		midiPath   = pflag.String("midi", "", "export the first song as a MIDI file instead of playing")
		dump       = pflag.Bool("dump", false, "print the decoded song headers and exit")
		format     = pflag.String("format", defaultFormat, "now-playing line (text/template with sprig functions)")
		script     = pflag.String("script", "", "Lua script with playlist event hooks")
		reverb     = pflag.Float64("reverb", 0, "reverb wet level (0 disables)")
		compress   = pflag.Float64("compress", 0, "compressor threshold in dB, e.g. -18 (0 disables)")
		eq         = pflag.String("eq", "", "master EQ gains for 5 bands, e.g. 1.2,1,1,0.9,0.8")
		verbose    = pflag.BoolP("verbose", "v", false, "log diagnostics to stderr")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] [file.nbs|dir|playlist.yaml|url ...]\n", filepath.Base(os.Args[0]))
		pflag.PrintDefaults()
	}
	pflag.Parse()

	logger := log.New(io.Discard, "", 0)
	if *verbose {
		logger = log.New(os.Stderr, "nbsplay: ", log.Ldate|log.Ltime)
	}

	args := pflag.Args()
	if len(args) == 0 {
		path, err := dialog.File().Title("Open song").Filter("Note Block Studio song", "nbs").Filter("Playlist", "yaml", "yml").Load()
		if errors.Is(err, dialog.ErrCancelled) {
			return
		}
		if err != nil {
			log.Fatal(err)
		}
		args = []string{path}
	}

	if len(args) == 1 && isManifest(args[0]) {
		m, err := intpl.LoadManifestFile(args[0])
		if err != nil {
			log.Fatal(err)
		}
		if m.Loop != nil && !pflag.CommandLine.Changed("loop") {
			*loopName = m.Loop.String()
		}
		if m.Volume != nil && !pflag.CommandLine.Changed("volume") {
			*volume = *m.Volume
		}
		if m.Sounds != "" && !pflag.CommandLine.Changed("sounds") {
			*sounds = m.Sounds
		}
	}

	entries, err := intpl.EntriesFromPaths(args)
	if err != nil {
		log.Fatal(err)
	}
	if len(entries) == 0 {
		log.Fatal("no songs found")
	}

	if *dump {
		dumpHeaders(entries)
		return
	}

	effects := buildEffects(*sampleRate, *reverb, *compress)
	var eqGains *[intfx.Bands]float32
	if *eq != "" {
		gains, err := intfx.ParseGains(*eq)
		if err != nil {
			log.Fatalf("--eq: %v", err)
		}
		eqGains = &gains
	}

	if *wavPath != "" || *midiPath != "" {
		if err := export(entries[0], *sounds, *sampleRate, *volume, effects, *wavPath, *midiPath, logger); err != nil {
			log.Fatal(err)
		}
		return
	}

	loop, err := intpl.ParseLoopType(*loopName)
	if err != nil {
		log.Fatal(err)
	}
	be, err := intaudio.ParseBackend(*backend)
	if err != nil {
		log.Fatal(err)
	}
	tmpl, err := newStatusTemplate(*format)
	if err != nil {
		log.Fatalf("--format: %v", err)
	}

	pl, err := nbsplay.NewPlayer(
		nbsplay.WithSoundDir(*sounds),
		nbsplay.WithLoopType(loop),
		nbsplay.WithVolume(*volume),
		nbsplay.WithSampleRate(*sampleRate),
		nbsplay.WithBackend(be),
		nbsplay.WithEffects(effects...),
		nbsplay.WithSongLoop(*songLoop),
		nbsplay.WithLogger(logger),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer pl.Close()
	if eqGains != nil {
		for band, g := range eqGains {
			pl.SetEQBand(band, g)
		}
	}

	if *script != "" {
		s, err := hooks.Load(*script, hooks.WithLogger(log.New(os.Stderr, "", 0)))
		if err != nil {
			log.Fatal(err)
		}
		defer s.Close()
		detach := s.Attach(pl)
		defer detach()
	}

	events := pl.Watch()
	if err := pl.Enqueue(entries...); err != nil {
		log.Fatal(err)
	}
	if err := pl.Play(); err != nil {
		log.Fatal(err)
	}

	restore, interactive := rawStdin()
	defer restore()
	actions := make(chan action, 8)
	if interactive {
		go readActions(os.Stdin, actions)
		fmt.Print("space pause/resume, n next, p previous, l loop mode, s stop, q quit\r\n")
	}

	ui := &console{player: pl, tmpl: tmpl, interactive: interactive}
	ui.run(events, actions)
}

type console struct {
	player      *nbsplay.Player
	tmpl        *template.Template
	interactive bool
	stopped     bool // by the user
	lastStatus  time.Time
	notes       int
	width       int
}

func (c *console) run(events <-chan nbsplay.PlaybackEvent, actions <-chan action) {
	for {
		select {
		case ev := <-events:
			if !c.event(ev) {
				c.line("")
				return
			}
		case a, ok := <-actions:
			if !ok {
				actions = nil
				continue
			}
			if !c.act(a) {
				c.line("")
				return
			}
		}
	}
}

// event reports whether the console keeps running.
func (c *console) event(ev nbsplay.PlaybackEvent) bool {
	switch ev.Kind {
	case nbsplay.EventTick:
		c.notes = ev.Notes
		if time.Since(c.lastStatus) >= statusInterval {
			c.lastStatus = time.Now()
			c.status()
		}
	case nbsplay.EventSwitch:
		if ev.Title != "" {
			c.line(fmt.Sprintf("now playing: %s", ev.Title))
		}
	case nbsplay.EventError:
		c.line(fmt.Sprintf("error: %s: %v", ev.Title, ev.Err))
	case nbsplay.EventLoopChange:
		c.line(fmt.Sprintf("loop: %s", ev.Loop))
	case nbsplay.EventPause:
		c.status()
	case nbsplay.EventStop:
		if !c.stopped || !c.interactive {
			return false
		}
		c.line("stopped")
	}
	return true
}

func (c *console) act(a action) bool {
	var err error
	switch a {
	case actionTogglePause:
		switch {
		case c.stopped:
			c.stopped = false
			err = c.player.Play()
		case c.player.Paused():
			err = c.player.Resume()
		default:
			err = c.player.Pause()
		}
	case actionNext:
		c.stopped = false
		err = c.player.Next()
	case actionPrevious:
		c.stopped = false
		err = c.player.Previous()
	case actionCycleLoop:
		c.player.SetLoopType(c.player.LoopType().Next())
	case actionStop:
		c.stopped = true
		err = c.player.Stop()
	case actionQuit:
		return false
	}
	if err != nil {
		c.line(fmt.Sprintf("error: %v", err))
	}
	return true
}

func (c *console) status() {
	idx, title := c.player.Current()
	tick, length := c.player.Position()
	s := status{
		Index:  idx,
		Title:  title,
		Tick:   tick,
		Length: length,
		Notes:  c.notes,
		Loop:   c.player.LoopType().String(),
		Paused: c.player.Paused(),
	}
	if song := c.player.Song(); song != nil {
		s.Tempo = song.Header.Tempo
	}
	text, err := renderStatus(c.tmpl, s)
	if err != nil {
		text = err.Error()
	}
	pad := ""
	if n := c.width - len(text); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	c.width = len(text)
	fmt.Print("\r" + text + pad)
}

// line prints msg on its own line below the status line.
func (c *console) line(msg string) {
	if c.width > 0 {
		fmt.Print("\r" + strings.Repeat(" ", c.width) + "\r")
		c.width = 0
	}
	if msg != "" {
		fmt.Print(msg + "\r\n")
	}
}

func dumpHeaders(entries []intpl.Entry) {
	for _, e := range entries {
		song, err := e.Read(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", e, err)
			continue
		}
		fmt.Printf("%s (%d notes, %d layers, %d custom instruments)\n", e.Key(), len(song.Notes), len(song.Layers), len(song.Instruments))
		fmt.Print(spew.Sdump(song.Header))
	}
}

func export(e intpl.Entry, sounds string, sampleRate int, volume float64, effects []intfx.Effector, wavPath, midiPath string, logger *log.Logger) error {
	song, err := e.Read(context.Background())
	if err != nil {
		return err
	}
	if midiPath != "" {
		f, err := os.Create(midiPath)
		if err != nil {
			return err
		}
		if err := nbsplay.ExportMIDI(f, song); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	if wavPath != "" {
		bank, err := nbsplay.LoadBank(context.Background(), os.DirFS(sounds), song, sampleRate, logger)
		if err != nil {
			return err
		}
		samples, err := nbsplay.RenderSamples(song, bank, sampleRate,
			nbsplay.WithRenderVolume(volume), nbsplay.WithRenderEffects(effects...))
		if err != nil {
			return err
		}
		if err := os.WriteFile(wavPath, nbsplay.EncodeWAVFloat32LE(samples, sampleRate, 2), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// buildEffects returns the insert effects selected on the command line, in
// processing order.
func buildEffects(sampleRate int, reverb, compressDB float64) []intfx.Effector {
	var effects []intfx.Effector
	if compressDB < 0 {
		effects = append(effects, intfx.NewCompressor(sampleRate, float32(compressDB), 4, 5, 120, 0))
	}
	if reverb > 0 {
		effects = append(effects, intfx.NewReverb(sampleRate, 0.5, 0.7, float32(reverb)))
	}
	return effects
}

func isManifest(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}
