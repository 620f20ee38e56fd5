package watermark

import (
	"strconv"
	"strings"
)

// Status classifies a verification outcome.
type Status string

const (
	// StatusValid means a well-formed payload with a matching signature was
	// recovered.
	StatusValid Status = "valid"
	// StatusNotFound means the text contains no marker characters.
	StatusNotFound Status = "not_found"
	// StatusInvalidFormat means the decoded payload does not split into
	// exactly three fields.
	StatusInvalidFormat Status = "invalid_format"
	// StatusSignatureMismatch means the payload parsed but its signature
	// does not match the recomputed one.
	StatusSignatureMismatch Status = "signature_mismatch"
	// StatusDecodeError means the marker bits could not be decoded into a
	// well-formed payload.
	StatusDecodeError Status = "decode_error"
)

// Result is the outcome of verifying a piece of text. Exactly one status is
// set; Timestamp and SubjectID are populated for StatusValid and
// StatusSignatureMismatch, Signature only for StatusSignatureMismatch, and
// Reason for every non-valid status.
type Result struct {
	Status    Status
	Timestamp int64
	SubjectID string
	Signature string
	Reason    string
}

// Valid reports whether the text carried an authentic watermark.
func (r Result) Valid() bool {
	return r.Status == StatusValid
}

// Verify extracts the watermark from arbitrary text and authenticates it.
// It is stateless, never panics on malformed input, and is safe for
// concurrent use.
func Verify(text string) Result {
	bits := Decode(text)
	if bits == "" {
		return Result{Status: StatusNotFound, Reason: "no watermark found"}
	}

	payload, err := BitsToText(bits)
	if err != nil {
		return Result{Status: StatusDecodeError, Reason: "decoding error: " + err.Error()}
	}

	parts := strings.Split(payload, "|")
	if len(parts) != 3 {
		return Result{Status: StatusInvalidFormat, Reason: "invalid watermark format"}
	}

	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Result{Status: StatusDecodeError, Reason: "decoding error: non-numeric timestamp field"}
	}

	if parts[2] != sign(parts[0], parts[1]) {
		return Result{
			Status:    StatusSignatureMismatch,
			Timestamp: ts,
			SubjectID: parts[1],
			Signature: parts[2],
			Reason:    "signature mismatch",
		}
	}

	return Result{Status: StatusValid, Timestamp: ts, SubjectID: parts[1]}
}
