package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markd/internal/config"
	"markd/internal/metrics"
	"markd/internal/watermark"
)

const answerText = "The quick brown fox jumps over the lazy dog while the narrator keeps talking. "

func testConfig(upstreamURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Upstream.BaseURL = upstreamURL
	cfg.Upstream.APIKey = "test-key"
	cfg.Watermark.Interval = 1
	return cfg
}

func newTestProxy(t *testing.T, upstreamURL string) *Server {
	t.Helper()

	m := metrics.NewMarkdMetrics(metrics.NewRegistry("markd_test"))
	s, err := NewServer(testConfig(upstreamURL), nil, m, nil)
	require.NoError(t, err)
	return s
}

// completionUpstream serves a canned non-streaming chat completion.
func completionUpstream(t *testing.T, content string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/chat/completions", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "chatcmpl-1",
			"choices": []interface{}{
				map[string]interface{}{
					"index":   0,
					"message": map[string]interface{}{"role": "assistant", "content": content},
				},
			},
		})
	}))
}

func chatRequest(t *testing.T, target, subject string, stream bool) *http.Request {
	t.Helper()

	body, err := json.Marshal(map[string]interface{}{
		"model":    "gpt-4o",
		"messages": []interface{}{map[string]interface{}{"role": "user", "content": "hi"}},
		"stream":   stream,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if subject != "" {
		req.Header.Set("X-Subject-ID", subject)
	}
	return req
}

func TestNewServer_RequiresAPIKey(t *testing.T) {
	cfg := testConfig("http://upstream.invalid")
	cfg.Upstream.APIKey = ""

	_, err := NewServer(cfg, nil, metrics.NewMarkdMetrics(metrics.NewRegistry("markd_test")), nil)
	require.ErrorIs(t, err, ErrNoAPIKey)
}

func TestChatCompletions_WatermarksCompleteResponse(t *testing.T) {
	carrier := strings.Repeat(answerText, 5)
	upstream := completionUpstream(t, carrier)
	defer upstream.Close()

	s := newTestProxy(t, upstream.URL)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, chatRequest(t, "/v1/chat/completions", "alice", false))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)

	content := resp.Choices[0].Message.Content
	assert.NotEqual(t, carrier, content)

	result := watermark.Verify(content)
	require.True(t, result.Valid(), "reason: %s", result.Reason)
	assert.Equal(t, "alice", result.SubjectID)
	assert.NotZero(t, result.Timestamp)
}

func TestChatCompletions_DefaultSubject(t *testing.T) {
	upstream := completionUpstream(t, strings.Repeat(answerText, 5))
	defer upstream.Close()

	s := newTestProxy(t, upstream.URL)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, chatRequest(t, "/v1/chat/completions", "", false))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	result := watermark.Verify(resp.Choices[0].Message.Content)
	require.True(t, result.Valid())
	assert.Equal(t, "anonymous", result.SubjectID)
}

func TestChatCompletions_StreamedResponse(t *testing.T) {
	full := strings.Repeat(answerText, 5)
	fragments := splitFragments(full, 7)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i, frag := range fragments {
			b, _ := json.Marshal(map[string]interface{}{
				"id": "chatcmpl-1",
				"choices": []interface{}{
					map[string]interface{}{
						"index": i,
						"delta": map[string]interface{}{"content": frag},
					},
				},
			})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	s := newTestProxy(t, upstream.URL)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, chatRequest(t, "/v1/chat/completions", "bob", true))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	stream := rec.Body.String()
	assert.Contains(t, stream, "data: [DONE]")

	result := watermark.Verify(collectContent(t, stream))
	require.True(t, result.Valid(), "reason: %s", result.Reason)
	assert.Equal(t, "bob", result.SubjectID)
}

func TestChatCompletions_SchemaReject(t *testing.T) {
	upstream := completionUpstream(t, "unused")
	defer upstream.Close()

	s := newTestProxy(t, upstream.URL)

	cases := map[string]string{
		"missing model":    `{"messages":[{"role":"user","content":"hi"}]}`,
		"missing messages": `{"model":"gpt-4o"}`,
		"empty messages":   `{"model":"gpt-4o","messages":[]}`,
		"bad role":         `{"model":"gpt-4o","messages":[{"role":"wizard","content":"hi"}]}`,
		"bad temperature":  `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"temperature":7}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	assert.Equal(t, uint64(len(cases)), s.metrics.SchemaRejectsTotal.Value())
}

func TestChatCompletions_BadJSON(t *testing.T) {
	upstream := completionUpstream(t, "unused")
	defer upstream.Close()

	s := newTestProxy(t, upstream.URL)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletions_UpstreamErrorPassthrough(t *testing.T) {
	const errBody = `{"error":{"message":"rate limited","type":"rate_limit_error"}}`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, errBody)
	}))
	defer upstream.Close()

	s := newTestProxy(t, upstream.URL)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, chatRequest(t, "/v1/chat/completions", "alice", false))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, errBody, rec.Body.String())
}

func TestVerifyEndpoint(t *testing.T) {
	s := newTestProxy(t, "http://upstream.invalid")

	const payload = "1700000000|alice|ae346740"
	bits, err := watermark.TextToBits(payload)
	require.NoError(t, err)
	inj, err := watermark.NewInjector(watermark.Encode(bits), 1)
	require.NoError(t, err)
	marked := inj.Inject(strings.Repeat(answerText, 5))
	require.True(t, inj.Exhausted())

	post := func(body string) (*httptest.ResponseRecorder, verifyResponse) {
		req := httptest.NewRequest(http.MethodPost, "/v1/verify", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)

		var resp verifyResponse
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		}
		return rec, resp
	}

	t.Run("valid watermark", func(t *testing.T) {
		body, err := json.Marshal(verifyRequest{Text: marked})
		require.NoError(t, err)

		rec, resp := post(string(body))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resp.Valid)
		require.NotNil(t, resp.Timestamp)
		assert.Equal(t, int64(1700000000), *resp.Timestamp)
		assert.Equal(t, "alice", resp.SubjectID)
		assert.Empty(t, resp.Reason)
	})

	t.Run("no watermark", func(t *testing.T) {
		rec, resp := post(`{"text":"plain unmarked text"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, resp.Valid)
		assert.Equal(t, "no watermark found", resp.Reason)
	})

	t.Run("missing text", func(t *testing.T) {
		rec, _ := post(`{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad json", func(t *testing.T) {
		rec, _ := post(`{nope`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestVerifyEndpoint_SignatureMismatch(t *testing.T) {
	s := newTestProxy(t, "http://upstream.invalid")

	const tampered = "1700000000|mallory|ae346740"
	bits, err := watermark.TextToBits(tampered)
	require.NoError(t, err)
	inj, err := watermark.NewInjector(watermark.Encode(bits), 1)
	require.NoError(t, err)
	marked := inj.Inject(strings.Repeat(answerText, 5))
	require.True(t, inj.Exhausted())

	body, err := json.Marshal(verifyRequest{Text: marked})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/verify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp verifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	assert.Equal(t, "signature mismatch", resp.Reason)
	assert.Equal(t, "mallory", resp.SubjectID)
	assert.Equal(t, "ae346740", resp.Signature)
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestProxy(t, "http://upstream.invalid")

	req := httptest.NewRequest(http.MethodPost, "/v1/verify", strings.NewReader(`{"text":"hello"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodPost, "/v1/verify", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestUpdateWatermark(t *testing.T) {
	s := newTestProxy(t, "http://upstream.invalid")

	wm := s.watermarkConfig()
	wm.Interval = 0
	require.ErrorIs(t, s.UpdateWatermark(wm), watermark.ErrBadInterval)

	wm.Interval = 9
	wm.DefaultSubject = "service-account"
	require.NoError(t, s.UpdateWatermark(wm))
	assert.Equal(t, 9, s.watermarkConfig().Interval)
	assert.Equal(t, "service-account", s.watermarkConfig().DefaultSubject)
}
