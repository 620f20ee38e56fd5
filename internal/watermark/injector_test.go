package watermark

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMarkers(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			b.WriteRune(MarkerZero)
		} else {
			b.WriteRune(MarkerOne)
		}
	}
	return b.String()
}

func TestNewInjector_RejectsBadInterval(t *testing.T) {
	for _, interval := range []int{0, -1, -5} {
		_, err := NewInjector(testMarkers(8), interval)
		assert.ErrorIs(t, err, ErrBadInterval)
	}
}

func TestInject_IntervalCadence(t *testing.T) {
	markers := testMarkers(8)
	m := []rune(markers)

	in, err := NewInjector(markers, 5)
	require.NoError(t, err)

	got := in.Inject("Hello there friend")

	// 16 visible characters: markers land after the 5th, 10th, and 15th.
	want := "Hello" + string(m[0]) + " there" + string(m[1]) + " frien" + string(m[2]) + "d"
	assert.Equal(t, want, got)
	assert.Equal(t, InjectorState{Cursor: 3, Visible: 16}, in.State())
}

func TestInject_WhitespaceExcludedFromCount(t *testing.T) {
	markers := testMarkers(4)
	m := []rune(markers)

	in, err := NewInjector(markers, 2)
	require.NoError(t, err)

	// Spaces, tabs and newlines pass through without triggering insertion
	// and without resetting the count. Visible chars: a(1) b(2) c(3) d(4).
	got := in.Inject("a b\tc\nd")
	want := "a b" + string(m[0]) + "\tc\nd" + string(m[1])
	assert.Equal(t, want, got)
}

func TestInject_Exhaustion(t *testing.T) {
	in, err := NewInjector(testMarkers(2), 1)
	require.NoError(t, err)

	got := in.Inject("abcdef")
	m := []rune(testMarkers(2))

	// Two markers, then injection silently stops.
	assert.Equal(t, "a"+string(m[0])+"b"+string(m[1])+"cdef", got)
	assert.True(t, in.Exhausted())

	// Further calls keep passing text through untouched.
	assert.Equal(t, "ghi", in.Inject("ghi"))
}

func TestInject_EmptyMarkerSequence(t *testing.T) {
	in, err := NewInjector("", 3)
	require.NoError(t, err)
	assert.Equal(t, "plain text", in.Inject("plain text"))
	assert.True(t, in.Exhausted())
}

func TestInject_ChunkBoundaryInvariance(t *testing.T) {
	text := "The quick brown fox\njumps over the lazy dog, twice.\tAnd again!"
	markers := testMarkers(12)

	partitions := [][]string{
		{text},
		// Split mid-word.
		{text[:3], text[3:]},
		// Split at whitespace.
		{text[:19], text[19:]},
		// Split exactly at a marker-insertion point (5th visible char).
		{text[:5], text[5:]},
		// One character at a time.
		splitEvery(text, 1),
		// Uneven chunks.
		{text[:1], text[1:2], text[2:17], text[17:17], text[17:40], text[40:]},
	}

	for _, interval := range []int{1, 2, 5, 7} {
		whole, err := NewInjector(markers, interval)
		require.NoError(t, err)
		want := whole.Inject(text)

		for i, parts := range partitions {
			in, err := NewInjector(markers, interval)
			require.NoError(t, err)

			var b strings.Builder
			for _, p := range parts {
				b.WriteString(in.Inject(p))
			}
			assert.Equal(t, want, b.String(), "interval=%d partition=%d", interval, i)
		}
	}
}

func TestInject_StateReplay(t *testing.T) {
	markers := testMarkers(10)

	in, err := NewInjector(markers, 3)
	require.NoError(t, err)

	first := in.Inject("one two three")
	snap := in.State()
	second := in.Inject(" four five")

	// Restoring the snapshot replays the second transition identically.
	in.Restore(snap)
	assert.Equal(t, second, in.Inject(" four five"))

	// A fresh injector fed the concatenation agrees with the pieces.
	fresh, err := NewInjector(markers, 3)
	require.NoError(t, err)
	assert.Equal(t, first+second, fresh.Inject("one two three four five"))
}

func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	return append(parts, s)
}
