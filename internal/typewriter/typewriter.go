// Package typewriter progressively reveals ordered text sections, emitting
// partial-text snapshots on a fixed cadence until the full text is out.
package typewriter

import (
	"context"
	"time"
)

// Section is one ordered block of text to reveal (context, then insight,
// then recommendation).
type Section struct {
	Name string
	Text string
}

// Snapshot is the partially revealed state after one tick. Sections holds
// the accumulated text per input section index.
type Snapshot struct {
	Sections     []string
	SectionIndex int
	Done         bool
}

// Animator reveals section sequences character by character.
type Animator struct {
	charsPerTick int
	tickInterval time.Duration
}

// New constructs an Animator. charsPerTick below 1 is treated as 1.
func New(charsPerTick int, tickInterval time.Duration) *Animator {
	if charsPerTick < 1 {
		charsPerTick = 1
	}
	if tickInterval <= 0 {
		tickInterval = 30 * time.Millisecond
	}
	return &Animator{charsPerTick: charsPerTick, tickInterval: tickInterval}
}

// Reveal streams snapshots for the sections in order. Empty sections are
// skipped entirely, never animated as zero characters. The final snapshot
// has Done set and is emitted exactly once, after which the channel closes.
// Cancelling ctx stops the stream between ticks; no snapshot is emitted
// after cancellation.
func (a *Animator) Reveal(ctx context.Context, sections []Section) <-chan Snapshot {
	snapshots := make(chan Snapshot, 1)

	go func() {
		defer close(snapshots)

		runes := make([][]rune, len(sections))
		for i, s := range sections {
			runes[i] = []rune(s.Text)
		}

		partial := make([]string, len(sections))
		section := nextNonEmpty(runes, 0)
		cursor := 0

		if section == len(sections) {
			// Nothing to animate; still signal completion once.
			send(ctx, snapshots, Snapshot{Sections: partial, SectionIndex: section, Done: true})
			return
		}

		ticker := time.NewTicker(a.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			cursor += a.charsPerTick
			if cursor > len(runes[section]) {
				cursor = len(runes[section])
			}
			partial[section] = string(runes[section][:cursor])

			done := false
			if cursor == len(runes[section]) {
				next := nextNonEmpty(runes, section+1)
				if next == len(sections) {
					done = true
				} else {
					// Advance on the following tick; this tick only
					// finishes the current section.
					section = next
					cursor = 0
				}
			}

			if !send(ctx, snapshots, Snapshot{
				Sections:     append([]string(nil), partial...),
				SectionIndex: section,
				Done:         done,
			}) {
				return
			}
			if done {
				return
			}
		}
	}()

	return snapshots
}

func nextNonEmpty(runes [][]rune, from int) int {
	for i := from; i < len(runes); i++ {
		if len(runes[i]) > 0 {
			return i
		}
	}
	return len(runes)
}

func send(ctx context.Context, ch chan<- Snapshot, snap Snapshot) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- snap:
		return true
	}
}

// Full returns the fully-revealed form of the sections, the shape a
// non-animated display uses.
func Full(sections []Section) []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = s.Text
	}
	return out
}
