package proxy

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"markd/internal/watermark"
)

// ssePrefix is the field name prefix of SSE data lines.
const ssePrefix = "data:"

// sseDone is the terminal sentinel frame emitted by the provider.
const sseDone = "[DONE]"

// rewriteContent navigates a chat-completions JSON object and passes the
// text at the given path through fn. Returns the re-serialized object and
// whether a rewrite happened; on any structural surprise the original bytes
// are returned untouched — malformed provider output is forwarded, never
// dropped.
func rewriteContent(data []byte, key string, fn func(string) string) ([]byte, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return data, false
	}

	choices, ok := obj["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return data, false
	}
	first, ok := choices[0].(map[string]interface{})
	if !ok {
		return data, false
	}
	carrier, ok := first[key].(map[string]interface{})
	if !ok {
		return data, false
	}
	content, ok := carrier["content"].(string)
	if !ok || content == "" {
		return data, false
	}

	carrier["content"] = fn(content)

	out, err := json.Marshal(obj)
	if err != nil {
		return data, false
	}
	return out, true
}

// streamRewriter rewrites an SSE chat-completions stream line by line,
// injecting watermark markers into each frame's delta content. One
// rewriter, holding one injector, serves exactly one response; the
// injector's carried state is what keeps the marker cadence correct across
// frame boundaries.
type streamRewriter struct {
	injector *watermark.Injector

	// onFrame, when set, observes every data frame (metrics hook).
	onFrame func(markersEmbedded int)
}

// Copy reads the upstream SSE stream from r and writes the rewritten
// stream to w, flushing after every line when w supports it. Non-data
// lines, the [DONE] sentinel, and frames that fail to parse pass through
// untouched.
func (s *streamRewriter) Copy(w io.Writer, r io.Reader) error {
	flusher, _ := w.(interface{ Flush() })
	br := bufio.NewReader(r)

	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if _, werr := io.WriteString(w, s.rewriteLine(line)); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// rewriteLine rewrites a single SSE line, preserving the original line
// ending.
func (s *streamRewriter) rewriteLine(line string) string {
	trimmed := strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(trimmed, ssePrefix) {
		return line
	}

	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, ssePrefix))
	if payload == "" || payload == sseDone {
		return line
	}

	before := s.injector.State().Cursor
	out, rewritten := rewriteContent([]byte(payload), "delta", s.injector.Inject)
	if s.onFrame != nil {
		s.onFrame(s.injector.State().Cursor - before)
	}
	if !rewritten {
		return line
	}

	return ssePrefix + " " + string(out) + line[len(trimmed):]
}

// rewriteComplete injects markers into a non-streaming chat-completions
// response body, rewriting choices[0].message.content. Bodies without
// rewritable content are returned untouched.
func rewriteComplete(body []byte, injector *watermark.Injector) ([]byte, int) {
	before := injector.State().Cursor
	out, _ := rewriteContent(body, "message", injector.Inject)
	return out, injector.State().Cursor - before
}
