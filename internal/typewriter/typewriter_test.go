package typewriter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Snapshot) []Snapshot {
	t.Helper()
	var snaps []Snapshot
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return snaps
			}
			snaps = append(snaps, snap)
		case <-timeout:
			t.Fatal("reveal did not finish in time")
		}
	}
}

func TestRevealEmitsFullTextInOrder(t *testing.T) {
	a := New(1, time.Millisecond)
	sections := []Section{
		{Name: "context", Text: "ab"},
		{Name: "insight", Text: "XYZ"},
	}

	snaps := collect(t, a.Reveal(context.Background(), sections))
	require.NotEmpty(t, snaps)

	// Prefix property: each snapshot extends the previous one, never
	// reorders or retracts characters.
	prev := []string{"", ""}
	for _, snap := range snaps {
		require.Len(t, snap.Sections, 2)
		for i := range prev {
			assert.True(t, strings.HasPrefix(snap.Sections[i], prev[i]),
				"section %d went backwards: %q -> %q", i, prev[i], snap.Sections[i])
		}
		prev = snap.Sections
	}

	last := snaps[len(snaps)-1]
	assert.True(t, last.Done)
	assert.Equal(t, []string{"ab", "XYZ"}, last.Sections)

	// First section fully reveals before the second starts.
	for _, snap := range snaps {
		if snap.Sections[1] != "" {
			assert.Equal(t, "ab", snap.Sections[0])
		}
	}
}

func TestRevealExactlyOneCompletion(t *testing.T) {
	a := New(2, time.Millisecond)
	snaps := collect(t, a.Reveal(context.Background(), []Section{{Name: "insight", Text: "hello world"}}))

	doneCount := 0
	for _, snap := range snaps {
		if snap.Done {
			doneCount++
		}
	}
	assert.Equal(t, 1, doneCount)
	assert.True(t, snaps[len(snaps)-1].Done, "completion must be the final snapshot")
}

func TestRevealSkipsEmptySections(t *testing.T) {
	a := New(1, time.Millisecond)
	sections := []Section{
		{Name: "context", Text: ""},
		{Name: "insight", Text: "X"},
		{Name: "recommendation", Text: ""},
	}

	snaps := collect(t, a.Reveal(context.Background(), sections))
	require.NotEmpty(t, snaps)
	assert.Equal(t, []string{"", "X", ""}, snaps[len(snaps)-1].Sections)
	// An empty section never becomes the active one.
	for _, snap := range snaps {
		assert.Equal(t, 1, snap.SectionIndex)
	}
}

func TestRevealAllEmptySignalsCompletionOnce(t *testing.T) {
	a := New(1, time.Millisecond)
	snaps := collect(t, a.Reveal(context.Background(), []Section{{Name: "context", Text: ""}}))
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Done)
}

func TestRevealCancellationStopsTicks(t *testing.T) {
	a := New(1, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	ch := a.Reveal(ctx, []Section{{Name: "insight", Text: strings.Repeat("x", 10000)}})

	// Read a couple of ticks, then cancel mid-animation.
	<-ch
	<-ch
	cancel()

	for range ch { //nolint:revive // drain until close
	}
	// Channel closed without a Done snapshot: cancellation is silent.
}

func TestRevealMultibyteText(t *testing.T) {
	a := New(1, time.Millisecond)
	snaps := collect(t, a.Reveal(context.Background(), []Section{{Name: "insight", Text: "日本語テキスト"}}))
	assert.Equal(t, "日本語テキスト", snaps[len(snaps)-1].Sections[0])
	// Every intermediate snapshot is valid UTF-8 prefix, one rune per tick.
	assert.Len(t, snaps, len([]rune("日本語テキスト")))
}

func TestFull(t *testing.T) {
	sections := []Section{{Name: "a", Text: "one"}, {Name: "b", Text: ""}}
	assert.Equal(t, []string{"one", ""}, Full(sections))
}
