package playlist

import (
	"fmt"
	"strings"
)

// LoopType is the repeat policy applied when an entry ends.
type LoopType int

const (
	LoopNone    LoopType = iota // stop after the last entry
	LoopList                    // wrap to the first entry
	LoopSingle                  // replay the same entry
	LoopShuffle                 // play a random permutation, reshuffled on wrap
)

var loopNames = [...]string{"none", "list", "single", "shuffle"}

func (l LoopType) String() string {
	if l < 0 || int(l) >= len(loopNames) {
		return fmt.Sprintf("LoopType(%d)", int(l))
	}
	return loopNames[l]
}

// Next returns the loop type that follows l, cycling through all of them.
func (l LoopType) Next() LoopType {
	return LoopType((int(l) + 1) % len(loopNames))
}

// ParseLoopType accepts the names printed by String, case-insensitively.
// "random" is accepted as an alias of "shuffle".
func ParseLoopType(s string) (LoopType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "random" {
		return LoopShuffle, nil
	}
	for i, n := range loopNames {
		if n == name {
			return LoopType(i), nil
		}
	}
	return LoopNone, fmt.Errorf("playlist: unknown loop type %q", s)
}
