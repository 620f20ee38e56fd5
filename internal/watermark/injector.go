package watermark

import (
	"errors"
	"strings"
	"unicode"
)

// DefaultInterval is the default number of visible characters between
// marker insertions.
const DefaultInterval = 5

// ErrBadInterval reports an injector interval below 1.
var ErrBadInterval = errors.New("watermark: interval must be >= 1")

// InjectorState is the per-response state carried between fragment
// arrivals: the next unconsumed marker index and the count of visible
// characters emitted so far. Snapshotting and restoring it replays the
// injection transition exactly, which is what makes feeding a response
// fragment-by-fragment equivalent to feeding it whole.
type InjectorState struct {
	Cursor  int
	Visible int
}

// Injector interleaves an encoded marker sequence with the visible text of
// one response, one marker per Interval visible characters. One instance
// serves exactly one response and is consumed strictly sequentially; it is
// not safe for concurrent use.
type Injector struct {
	markers  []rune
	interval int
	state    InjectorState
}

// NewInjector creates an injector for one response. markers is an
// already-encoded marker sequence (see Encode); interval must be >= 1.
func NewInjector(markers string, interval int) (*Injector, error) {
	if interval < 1 {
		return nil, ErrBadInterval
	}
	return &Injector{
		markers:  []rune(markers),
		interval: interval,
	}, nil
}

// Inject emits the fragment with marker characters interleaved at the
// configured cadence. Calling Inject once per fragment over a partition of
// a text produces output identical to a single call on the whole text with
// a fresh injector: only the carried cursor and visible-character count
// cross fragment boundaries, never buffered text.
//
// Whitespace passes through unchanged and is excluded from the visible
// count. Once the marker sequence is exhausted injection silently stops.
func (in *Injector) Inject(fragment string) string {
	var b strings.Builder
	b.Grow(len(fragment))
	for _, r := range fragment {
		b.WriteRune(r)
		if unicode.IsSpace(r) {
			continue
		}
		in.state.Visible++
		if in.state.Visible%in.interval == 0 && in.state.Cursor < len(in.markers) {
			b.WriteRune(in.markers[in.state.Cursor])
			in.state.Cursor++
		}
	}
	return b.String()
}

// State returns a snapshot of the carried injection state.
func (in *Injector) State() InjectorState {
	return in.state
}

// Restore resets the carried state to a previously taken snapshot.
func (in *Injector) Restore(st InjectorState) {
	in.state = st
}

// Exhausted reports whether the full marker sequence has been embedded.
func (in *Injector) Exhausted() bool {
	return in.state.Cursor >= len(in.markers)
}
