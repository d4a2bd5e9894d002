package resource

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// AllocationStrategy picks which candidate reader is preferred the
// next time a profile has more than one free matching reader.
type AllocationStrategy int

const (
	// AllocationFirst always keeps the configured candidate order.
	AllocationFirst AllocationStrategy = iota
	// AllocationCyclic rotates the candidate list after each
	// successful allocation so that the reader after the one just
	// handed out becomes the new head, giving readers a round-robin
	// turn instead of favoring the first free one every time.
	AllocationCyclic
	// AllocationRandom shuffles the candidate list after each
	// successful allocation.
	AllocationRandom
)

func (s AllocationStrategy) String() string {
	switch s {
	case AllocationFirst:
		return "FIRST"
	case AllocationCyclic:
		return "CYCLIC"
	case AllocationRandom:
		return "RANDOM"
	default:
		return "UNKNOWN"
	}
}

// ParseAllocationStrategy converts a case-insensitive strategy name
// ("first", "cyclic", "random") from configuration or the CLI into an
// AllocationStrategy. Defaults to AllocationFirst on empty input.
func ParseAllocationStrategy(name string) (AllocationStrategy, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "FIRST":
		return AllocationFirst, nil
	case "CYCLIC":
		return AllocationCyclic, nil
	case "RANDOM":
		return AllocationRandom, nil
	default:
		return 0, fmt.Errorf("%w: unknown allocation strategy %q", ErrIllegalArgument, name)
	}
}

// reorder applies the strategy to candidates in place, given the index
// of the readerManager that was just successfully allocated from.
func (s AllocationStrategy) reorder(candidates []*readerManager, allocatedIndex int) {
	switch s {
	case AllocationFirst:
		// No-op: candidate order never changes.
	case AllocationCyclic:
		rotateLeft(candidates, allocatedIndex+1)
	case AllocationRandom:
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
	}
}

// rotateLeft rotates s left by n positions in place, wrapping n to the
// slice length first so it never panics on a short slice.
func rotateLeft(s []*readerManager, n int) {
	if len(s) == 0 {
		return
	}
	n %= len(s)
	if n == 0 {
		return
	}
	rotated := make([]*readerManager, len(s))
	copy(rotated, s[n:])
	copy(rotated[len(s)-n:], s[:n])
	copy(s, rotated)
}
