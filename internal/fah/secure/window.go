package secure

import (
	"fmt"
	"slices"
)

// Skip window bounds for pub-sub sequence numbers.
const (
	maxSkipPerGap = 16
	maxSkipped    = 32
)

// sequenceWindow tracks the last sequence number seen on one logical
// pub-sub stream and the numbers that were jumped over.
type sequenceWindow struct {
	counter uint64
	skipped map[uint64]struct{}
}

func newSequenceWindow(baseline uint64) *sequenceWindow {
	return &sequenceWindow{counter: baseline, skipped: make(map[uint64]struct{})}
}

// check reports whether n may be consumed without changing the window.
//
// The counter is the last number consumed, so n equal to it is a replay.
// A number below the counter is valid only if it was skipped earlier.
func (w *sequenceWindow) check(n uint64) error {
	if n > w.counter {
		return nil
	}
	if _, ok := w.skipped[n]; !ok || n == w.counter {
		return fmt.Errorf("%w: got %d, counter %d", ErrSequence, n, w.counter)
	}
	return nil
}

// commit consumes n, which must have passed check.
//
// A skipped number is removed from the set. A number above the counter
// records up to maxSkipPerGap of the numbers directly below it as skipped
// and becomes the new counter.
func (w *sequenceWindow) commit(n uint64) {
	if n <= w.counter {
		delete(w.skipped, n)
		return
	}
	count := min(n-w.counter-1, maxSkipPerGap)
	x := n - 1
	for range count {
		if x == 0 {
			break
		}
		w.skipped[x] = struct{}{}
		x--
	}
	w.trim()
	w.counter = n
}

// trim evicts the smallest skipped numbers until at most maxSkipped remain.
func (w *sequenceWindow) trim() {
	if len(w.skipped) <= maxSkipped {
		return
	}
	keys := make([]uint64, 0, len(w.skipped))
	for k := range w.skipped {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys[:len(keys)-maxSkipped] {
		delete(w.skipped, k)
	}
}
