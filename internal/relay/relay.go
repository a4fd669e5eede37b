// Package relay forwards one upstream LLM call as a stream of SSE frames.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"mathqa/backend/internal/logger"
	"mathqa/backend/internal/metrics"
)

const (
	// DefaultTimeout bounds a whole upstream call, streaming included.
	DefaultTimeout = 60 * time.Second

	framePrefix  = "data:"
	readBufBytes = 4 * 1024
)

// ErrorFrame is the synthetic payload emitted when the upstream call fails.
type ErrorFrame struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Answer string `json:"answer"`
}

// Relay posts requests to the model services and relays their replies.
type Relay struct {
	httpClient *http.Client
	timeout    time.Duration
	metrics    *metrics.Metrics
	log        *logger.Logger
}

// New returns a Relay. A zero timeout means DefaultTimeout.
func New(httpClient *http.Client, timeout time.Duration, m *metrics.Metrics, log *logger.Logger) *Relay {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Relay{
		httpClient: httpClient,
		timeout:    timeout,
		metrics:    m,
		log:        log.Component("relay"),
	}
}

// Stream posts payload as JSON to url and returns the frames of the reply.
// The channel is closed when the upstream is exhausted, fails, times out, or
// ctx is cancelled. Callers that stop reading early must cancel ctx.
func (r *Relay) Stream(ctx context.Context, upstream, url string, payload any) <-chan string {
	out := make(chan string)
	go r.run(ctx, upstream, url, payload, out)
	return out
}

func (r *Relay) run(ctx context.Context, upstream, url string, payload any, out chan<- string) {
	defer close(out)

	streamCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := r.metrics.StreamStarted(upstream)
	started := time.Now()
	s := &stream{ctx: ctx, out: out, upstream: upstream, metrics: r.metrics}

	outcome := r.forward(streamCtx, s, url, payload)
	done(outcome)

	r.log.Info().
		Str("upstream", upstream).
		Str("outcome", outcome).
		Int("frames", s.frames).
		Dur("duration", time.Since(started)).
		Msg("upstream stream finished")
}

func (r *Relay) forward(ctx context.Context, s *stream, url string, payload any) string {
	body, err := json.Marshal(payload)
	if err != nil {
		s.fail(fmt.Sprintf("LLM API请求构建失败: %v", err))
		return "encode_error"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.fail(fmt.Sprintf("LLM API请求构建失败: %v", err))
		return "request_error"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if s.clientGone() {
			return "cancelled"
		}
		s.fail(fmt.Sprintf("LLM API连接失败: %v", describeTransportError(err)))
		return "transport_error"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.fail(fmt.Sprintf("LLM API请求失败: %d", resp.StatusCode))
		return "status_error"
	}

	return s.pump(resp.Body)
}

type stream struct {
	ctx      context.Context
	out      chan<- string
	upstream string
	metrics  *metrics.Metrics
	frames   int
}

// pump reads the body chunk by chunk and emits one frame per text chunk.
func (s *stream) pump(body io.Reader) string {
	buf := make([]byte, readBufBytes)
	var pending []byte

	for {
		n, err := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			text, rest := splitUTF8(pending)
			pending = append(pending[:0:0], rest...)
			if !s.emitChunk(string(text)) {
				return "cancelled"
			}
		}
		if errors.Is(err, io.EOF) {
			if len(pending) > 0 && !s.emitChunk(string(pending)) {
				return "cancelled"
			}
			return "ok"
		}
		if err != nil {
			if s.clientGone() {
				return "cancelled"
			}
			s.fail(fmt.Sprintf("LLM API读取失败: %v", describeTransportError(err)))
			return "read_error"
		}
	}
}

func (s *stream) emitChunk(chunk string) bool {
	if chunk == "" {
		return true
	}
	// Only the caller can abort a handoff. An upstream deadline that passes
	// meanwhile surfaces on the next Read and becomes the error frame.
	frame, kind := Frame(chunk)
	if !s.send(s.ctx, frame) {
		return false
	}
	s.metrics.RecordFrame(s.upstream, kind)
	return true
}

// fail emits the single synthetic error frame. It is sent against the
// caller's context so it still goes out after the upstream deadline passed.
func (s *stream) fail(description string) {
	if s.clientGone() {
		return
	}
	if s.send(s.ctx, ErrorFrameText(description)) {
		s.metrics.RecordFrame(s.upstream, "error")
	}
}

func (s *stream) send(ctx context.Context, frame string) bool {
	select {
	case s.out <- frame:
		s.frames++
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *stream) clientGone() bool {
	return s.ctx.Err() != nil
}

// Frame normalizes one upstream chunk into SSE framing. Chunks that already
// carry the data: prefix are passed through untouched.
func Frame(chunk string) (frame, kind string) {
	if strings.HasPrefix(chunk, framePrefix) {
		return chunk, "forwarded"
	}
	return framePrefix + chunk + "\n\n", "wrapped"
}

// ErrorFrameText renders the synthetic error event.
func ErrorFrameText(description string) string {
	payload, _ := json.Marshal(ErrorFrame{Status: -1, Error: description, Answer: ""})
	return framePrefix + string(payload) + "\n\n"
}

// splitUTF8 holds back an incomplete trailing rune so that a multi-byte
// character split across reads is never emitted in halves.
func splitUTF8(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], b[i:]
		}
		break
	}
	return b, nil
}

func describeTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}
