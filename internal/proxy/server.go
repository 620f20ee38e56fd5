package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"markd/internal/config"
	"markd/internal/health"
	"markd/internal/logging"
	"markd/internal/metrics"
	"markd/internal/watermark"
)

// maxRequestBody bounds client request bodies (1 MiB).
const maxRequestBody = 1 << 20

// Server carries the proxy's HTTP handlers and their dependencies.
type Server struct {
	upstream  *Upstream
	validator *requestValidator
	log       *logging.Logger
	metrics   *metrics.MarkdMetrics
	checker   *health.Checker

	// mu guards the watermark settings, which are hot-reloadable.
	mu        sync.RWMutex
	watermark config.WatermarkConfig
}

// NewServer creates the proxy server. The configuration must already be
// validated; an invalid interval still fails construction rather than
// being defaulted away.
func NewServer(cfg *config.Config, log *logging.Logger, m *metrics.MarkdMetrics, checker *health.Checker) (*Server, error) {
	upstream, err := NewUpstream(cfg.Upstream)
	if err != nil {
		return nil, err
	}
	validator, err := newRequestValidator()
	if err != nil {
		return nil, fmt.Errorf("request validator: %w", err)
	}
	if cfg.Watermark.Interval < 1 {
		return nil, watermark.ErrBadInterval
	}
	if log == nil {
		log = logging.Default()
	}
	if m == nil {
		m = metrics.GetMetrics()
	}

	s := &Server{
		upstream:  upstream,
		validator: validator,
		log:       log,
		metrics:   m,
		checker:   checker,
		watermark: cfg.Watermark,
	}

	if checker != nil {
		checker.RegisterFunc("upstream", false, health.PingCheck("upstream connection", upstream.Ping))
	}

	return s, nil
}

// UpdateWatermark applies hot-reloaded watermark settings. Invalid
// intervals are rejected so a bad reload cannot disable injection.
func (s *Server) UpdateWatermark(cfg config.WatermarkConfig) error {
	if cfg.Interval < 1 {
		return watermark.ErrBadInterval
	}
	s.mu.Lock()
	s.watermark = cfg
	s.mu.Unlock()
	return nil
}

// watermarkConfig returns a snapshot of the current watermark settings.
func (s *Server) watermarkConfig() config.WatermarkConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)

	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/verify", s.handleVerify)

	if s.checker != nil {
		r.Method(http.MethodGet, "/healthz", s.checker.LivenessHandler())
		r.Method(http.MethodGet, "/readyz", s.checker.ReadinessHandler())
		r.Method(http.MethodGet, "/health", s.checker.HealthHandler())
	}
	r.Method(http.MethodGet, "/metrics", s.metrics.Registry().HTTPHandler())

	return r
}

// requestIDMiddleware assigns each request an id, echoes it in the
// response, and threads it through the context for logging.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logging.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errType, msg string) {
	var body errorBody
	body.Error.Message = msg
	body.Error.Type = errType

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// handleChatCompletions proxies a chat-completions request, injecting the
// watermark into the generated text on the way back.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	var request map[string]interface{}
	if err := json.Unmarshal(body, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "request body is not valid JSON")
		return
	}
	if err := s.validator.Validate(request); err != nil {
		s.metrics.RecordSchemaReject()
		log.Warn("request rejected by schema", "error", err.Error())
		writeError(w, http.StatusBadRequest, "invalid_request_error", "request does not match the chat-completions schema")
		return
	}

	streaming, _ := request["stream"].(bool)
	s.metrics.RecordRequest(streaming)

	wm := s.watermarkConfig()
	subject := r.Header.Get(wm.SubjectHeader)
	if subject == "" {
		subject = wm.DefaultSubject
	}

	payload := watermark.NewPayload(subject)
	markers, err := payload.Markers()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error",
			"subject identifier contains characters the watermark cannot carry")
		return
	}

	// One injector per response; its state is what keeps the marker
	// cadence correct across streamed fragments.
	injector, err := watermark.NewInjector(markers, wm.Interval)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "watermark configuration error")
		return
	}

	accept := "application/json"
	if streaming {
		accept = "text/event-stream"
	}

	latency := s.metrics.UpstreamLatency.Timer()
	resp, err := s.upstream.ChatCompletions(r.Context(), body, accept)
	if err != nil {
		s.metrics.RecordUpstreamError()
		log.Error("upstream request failed", "error", err.Error())
		writeError(w, http.StatusBadGateway, "upstream_error", "upstream request failed")
		return
	}
	defer resp.Body.Close()
	latency.Stop()

	log.Info("proxying chat completion",
		"subject", subject,
		"stream", streaming,
		"upstream_status", resp.StatusCode,
	)

	if streaming && resp.StatusCode == http.StatusOK {
		s.streamResponse(w, resp, injector, log)
		return
	}
	s.completeResponse(w, resp, injector, log)
}

// completeResponse rewrites a non-streaming upstream response. Error
// statuses and bodies without rewritable content pass through untouched.
func (s *Server) completeResponse(w http.ResponseWriter, resp *http.Response, injector *watermark.Injector, log *logging.Logger) {
	upstreamBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("read upstream response", "error", err.Error())
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to read upstream response")
		return
	}

	out := upstreamBody
	if resp.StatusCode == http.StatusOK {
		var embedded int
		out, embedded = rewriteComplete(upstreamBody, injector)
		s.metrics.RecordMarkers(embedded)
	}

	copyHeader(w.Header(), resp.Header, "Content-Type")
	w.WriteHeader(resp.StatusCode)
	w.Write(out)
}

// streamResponse rewrites an SSE upstream response frame by frame.
func (s *Server) streamResponse(w http.ResponseWriter, resp *http.Response, injector *watermark.Injector, log *logging.Logger) {
	s.metrics.StreamStarted()
	defer s.metrics.StreamEnded()

	copyHeader(w.Header(), resp.Header, "Content-Type", "Cache-Control")
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/event-stream")
	}
	w.WriteHeader(resp.StatusCode)

	rewriter := &streamRewriter{
		injector: injector,
		onFrame: func(embedded int) {
			s.metrics.RecordFrame()
			s.metrics.RecordMarkers(embedded)
		},
	}

	if err := rewriter.Copy(flushWriter{w}, resp.Body); err != nil {
		// The response is already in flight; all we can do is log.
		log.Warn("stream interrupted", "error", err.Error())
	}
}

// flushWriter flushes the HTTP response after every write so streamed
// frames reach the client without buffering delay.
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f flushWriter) Flush() {
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
}

// verifyRequest is the body of POST /v1/verify.
type verifyRequest struct {
	Text string `json:"text"`
}

// verifyResponse serializes a watermark.Result per the verification
// contract: valid results carry timestamp and subject, invalid ones a
// reason, and signature mismatches the decoded fields for diagnostics.
type verifyResponse struct {
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
	Timestamp *int64 `json:"timestamp,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// handleVerify checks arbitrary text for an authentic watermark.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil || json.Unmarshal(body, &req) != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "request body is not valid JSON")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "text field is required")
		return
	}

	start := time.Now()
	result := watermark.Verify(req.Text)
	s.metrics.RecordVerification(time.Since(start), result.Valid())

	resp := verifyResponse{Valid: result.Valid()}
	switch result.Status {
	case watermark.StatusValid:
		ts := result.Timestamp
		resp.Timestamp = &ts
		resp.SubjectID = result.SubjectID
	case watermark.StatusSignatureMismatch:
		ts := result.Timestamp
		resp.Reason = result.Reason
		resp.Timestamp = &ts
		resp.SubjectID = result.SubjectID
		resp.Signature = result.Signature
	default:
		resp.Reason = result.Reason
	}

	s.log.WithContext(r.Context()).Info("verification", "status", string(result.Status))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// copyHeader copies the named headers from src to dst when present.
func copyHeader(dst, src http.Header, keys ...string) {
	for _, k := range keys {
		if v := src.Get(k); v != "" {
			dst.Set(k, v)
		}
	}
}
