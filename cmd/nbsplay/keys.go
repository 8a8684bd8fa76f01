package main

import (
	"io"
	"os"

	"golang.org/x/term"
)

type action int

const (
	actionNone action = iota
	actionTogglePause
	actionNext
	actionPrevious
	actionCycleLoop
	actionStop
	actionQuit
)

func actionFor(b byte) action {
	switch b {
	case ' ':
		return actionTogglePause
	case 'n', 'N':
		return actionNext
	case 'p', 'P':
		return actionPrevious
	case 'l', 'L':
		return actionCycleLoop
	case 's', 'S':
		return actionStop
	case 'q', 'Q', 3: // ctrl-c arrives as a byte in raw mode
		return actionQuit
	}
	return actionNone
}

// rawStdin switches the terminal on stdin to raw mode. ok is false when
// stdin is not a terminal.
func rawStdin() (restore func(), ok bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, false
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, false
	}
	return func() { _ = term.Restore(fd, state) }, true
}

// readActions sends an action for every recognised key read from r until r
// fails.
func readActions(r io.Reader, out chan<- action) {
	buf := make([]byte, 16)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if a := actionFor(b); a != actionNone {
				out <- a
			}
		}
		if err != nil {
			close(out)
			return
		}
	}
}
