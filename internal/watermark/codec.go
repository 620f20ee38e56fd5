// Package watermark implements an invisible provenance mark for generated
// text. A payload string (timestamp|subject|signature) is rendered as a
// sequence of zero-width codepoints that can be interleaved with visible
// text without changing how it displays, and later recovered and
// authenticated from the plain text alone.
package watermark

import (
	"fmt"
	"strings"
)

// Zero-width marker codepoints. MarkerZero encodes a 0 bit, MarkerOne a 1 bit.
const (
	MarkerZero = '\u200b' // zero width space
	MarkerOne  = '\u200c' // zero width non-joiner
)

// TextToBits converts text to its bit representation: each codepoint is
// rendered as an 8-bit MSB-first binary string, concatenated in order.
// Codepoints outside the 8-bit range are rejected; payloads are built from
// decimal digits, ASCII identifiers, and hex digits, so a wider codepoint
// indicates a caller-supplied identifier this encoding cannot carry.
func TextToBits(text string) (string, error) {
	var b strings.Builder
	b.Grow(len(text) * 8)
	for _, r := range text {
		if r > 0xFF {
			return "", fmt.Errorf("watermark: codepoint %U exceeds 8-bit range", r)
		}
		for shift := 7; shift >= 0; shift-- {
			if r>>uint(shift)&1 == 1 {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
	}
	return b.String(), nil
}

// BitsToText converts a bit string back to text: 8-bit groups in order, each
// group's integer value mapped back to a codepoint. A partial trailing group
// shorter than 8 bits is dropped. Characters other than '0' and '1' are an
// error.
func BitsToText(bits string) (string, error) {
	var b strings.Builder
	for i := 0; i+8 <= len(bits); i += 8 {
		var v rune
		for _, c := range bits[i : i+8] {
			switch c {
			case '0':
				v <<= 1
			case '1':
				v = v<<1 | 1
			default:
				return "", fmt.Errorf("watermark: invalid bit character %q", c)
			}
		}
		b.WriteRune(v)
	}
	return b.String(), nil
}

// Encode maps a bit string to its marker-character sequence, preserving
// order: '0' becomes MarkerZero, '1' becomes MarkerOne.
func Encode(bits string) string {
	var b strings.Builder
	for _, c := range bits {
		if c == '0' {
			b.WriteRune(MarkerZero)
		} else {
			b.WriteRune(MarkerOne)
		}
	}
	return b.String()
}

// Decode scans text codepoint by codepoint and extracts the embedded bit
// string. Marker codepoints map to their bit; every other codepoint is
// skipped. Returns the empty string when no markers are present.
func Decode(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case MarkerZero:
			b.WriteByte('0')
		case MarkerOne:
			b.WriteByte('1')
		}
	}
	return b.String()
}
