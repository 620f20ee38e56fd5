package watermark

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// sigLen is the number of hex characters kept from the SHA-256 digest.
const sigLen = 8

// Payload is the structured provenance record embedded into generated text.
// It is immutable once built.
type Payload struct {
	// Timestamp is seconds since the Unix epoch at build time.
	Timestamp int64

	// SubjectID identifies the requester. The core performs no validation;
	// identifiers must stay within the 8-bit codepoint range to survive the
	// codec (see TextToBits).
	SubjectID string

	// Signature is the first 8 lowercase hex characters of
	// sha256(timestamp|subject), binding the two fields together.
	Signature string
}

// NewPayload builds a payload for the given subject at the current wall
// clock time.
func NewPayload(subjectID string) Payload {
	ts := time.Now().Unix()
	return Payload{
		Timestamp: ts,
		SubjectID: subjectID,
		Signature: sign(strconv.FormatInt(ts, 10), subjectID),
	}
}

// String serializes the payload as the three fields joined by '|'.
func (p Payload) String() string {
	return strconv.FormatInt(p.Timestamp, 10) + "|" + p.SubjectID + "|" + p.Signature
}

// Markers returns the payload rendered as a zero-width marker sequence,
// ready for injection. Fails if the subject identifier contains codepoints
// the 8-bit codec cannot carry.
func (p Payload) Markers() (string, error) {
	bits, err := TextToBits(p.String())
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return Encode(bits), nil
}

// sign computes the truncated signature over the timestamp and subject
// fields exactly as they appear in the serialized payload.
func sign(timestamp, subjectID string) string {
	sum := sha256.Sum256([]byte(timestamp + "|" + subjectID))
	return hex.EncodeToString(sum[:])[:sigLen]
}
