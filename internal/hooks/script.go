// Package hooks runs Lua scripts on playlist events.
//
// A script defines any of these globals:
//
//	on_play()  on_pause()  on_resume()  on_stop()
//	on_switch(index, name)    -- index -1 and name nil when nothing is selected
//	on_change(count)
//	on_loop_change(mode)      -- "none", "list", "single" or "shuffle"
//	on_error(message, name)
//
// and may call log(message).
package hooks

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/cbegin/nbsplay-go/internal/playlist"
)

const (
	DefaultTimeout = time.Second
	queueSize      = 64
)

type Option func(*Script)

func WithLogger(logger *log.Logger) Option {
	return func(s *Script) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeout bounds a single hook call.
func WithTimeout(d time.Duration) Option {
	return func(s *Script) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Script is a loaded hook script. Calls into the interpreter are serialized.
type Script struct {
	mu      sync.Mutex
	L       *lua.LState
	name    string
	logger  *log.Logger
	timeout time.Duration

	queue     chan playlist.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Load runs the script at path.
func Load(path string, opts ...Option) (*Script, error) {
	return load(path, opts, func(L *lua.LState) error { return L.DoFile(path) })
}

// LoadString runs src as a script named name.
func LoadString(name, src string, opts ...Option) (*Script, error) {
	return load(name, opts, func(L *lua.LState) error { return L.DoString(src) })
}

func load(name string, opts []Option, run func(*lua.LState) error) (*Script, error) {
	s := &Script{
		L:       lua.NewState(),
		name:    name,
		logger:  log.New(io.Discard, "", 0),
		timeout: DefaultTimeout,
		queue:   make(chan playlist.Event, queueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.L.SetGlobal("log", s.L.NewFunction(s.luaLog))
	if err := run(s.L); err != nil {
		s.L.Close()
		return nil, fmt.Errorf("hooks: %s: %w", name, err)
	}
	go s.loop()
	return s, nil
}

func (s *Script) luaLog(L *lua.LState) int {
	parts := make([]any, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.Get(i).String())
	}
	s.logger.Println(append([]any{s.name + ":"}, parts...)...)
	return 0
}

// Subscriber is implemented by *playlist.Playlist.
type Subscriber interface {
	Subscribe(fn func(playlist.Event)) (unsubscribe func())
}

// Attach delivers events from src to the script on its own goroutine. Events
// arriving while the queue is full are dropped.
func (s *Script) Attach(src Subscriber) (detach func()) {
	return src.Subscribe(func(ev playlist.Event) {
		if ev.Kind == playlist.EventTick {
			return
		}
		select {
		case <-s.done:
		case s.queue <- ev:
		default:
			s.logger.Printf("hooks: %s: dropped %s event", s.name, ev.Kind)
		}
	})
}

func (s *Script) loop() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			s.Handle(ev)
		}
	}
}

// Handle calls the hook for ev, if the script defines one. Script errors are
// logged and returned.
func (s *Script) Handle(ev playlist.Event) error {
	var (
		fn   string
		args []lua.LValue
	)
	switch ev.Kind {
	case playlist.EventPlay:
		fn = "on_play"
	case playlist.EventPause:
		fn = "on_pause"
	case playlist.EventResume:
		fn = "on_resume"
	case playlist.EventStop:
		fn = "on_stop"
	case playlist.EventSwitch:
		fn = "on_switch"
		if ev.Entry == nil {
			args = []lua.LValue{lua.LNumber(-1), lua.LNil}
		} else {
			args = []lua.LValue{lua.LNumber(ev.Index), lua.LString(ev.Entry.String())}
		}
	case playlist.EventChange:
		fn = "on_change"
		args = []lua.LValue{lua.LNumber(len(ev.List))}
	case playlist.EventLoopChange:
		fn = "on_loop_change"
		args = []lua.LValue{lua.LString(ev.Loop.String())}
	case playlist.EventError:
		fn = "on_error"
		name := lua.LValue(lua.LNil)
		if ev.Entry != nil {
			name = lua.LString(ev.Entry.String())
		}
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		args = []lua.LValue{lua.LString(msg), name}
	default:
		return nil
	}
	return s.Call(fn, args...)
}

// Call invokes the global function fn. A missing function is not an error.
func (s *Script) Call(fn string, args ...lua.LValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.L == nil {
		return nil
	}
	f := s.L.GetGlobal(fn)
	if f.Type() != lua.LTFunction {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()
	if err := s.L.CallByParam(lua.P{Fn: f, NRet: 0, Protect: true}, args...); err != nil {
		err = fmt.Errorf("hooks: %s: %s: %w", s.name, fn, err)
		s.logger.Print(err)
		return err
	}
	return nil
}

// Global returns the value of a script global.
func (s *Script) Global(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.L == nil {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// Close stops event delivery and releases the interpreter.
func (s *Script) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.L.Close()
		s.L = nil
		s.mu.Unlock()
	})
}
