package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/scheduler"
	"github.com/star/orbitlab/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		BandwidthLimit:     1048576,
		KeepaliveInterval:  30 * time.Second,
	}
}

func testSession(t *testing.T) *session.Session {
	t.Helper()
	s := session.New(session.Options{
		ID:          "stream-test",
		Epoch:       time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC),
		Speed:       10,
		TrailLength: 50,
	}, testLogger())
	t.Cleanup(s.Close)
	if _, err := s.Register(orbit.NewCircular("leo", 420, "#ff0000")); err != nil {
		t.Fatal(err)
	}
	return s
}

// drive ticks s every 10ms until ctx is done.
func drive(ctx context.Context, s *session.Session) {
	s.Play()
	go s.Drive(ctx, 10*time.Millisecond)
}

type sseMessage map[string]any

func parseSSE(t *testing.T, body string) []sseMessage {
	t.Helper()
	var msgs []sseMessage
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg sseMessage
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Errorf("invalid JSON in SSE data line: %v", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// TestSSEMessageFormat verifies the wire format "data: {json}\n\n", the
// leading metadata message and frame contents.
func TestSSEMessageFormat(t *testing.T) {
	s := testSession(t)
	handler := NewHandler(s, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream?rate=60&trail=5", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 500*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	drive(ctx, s)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	body := w.Body.String()
	msgs := parseSSE(t, body)
	if len(msgs) < 2 {
		t.Fatalf("got %d messages, want metadata and at least one frame", len(msgs))
	}

	meta := msgs[0]
	if meta["type"] != "metadata" {
		t.Fatalf("first message type = %v, want metadata", meta["type"])
	}
	if meta["session_id"] != "stream-test" {
		t.Errorf("session_id = %v, want stream-test", meta["session_id"])
	}
	if meta["epoch"] != "2025-02-14T00:00:00Z" {
		t.Errorf("epoch = %v, want 2025-02-14T00:00:00Z", meta["epoch"])
	}

	var sawTrail bool
	for _, msg := range msgs[1:] {
		if msg["type"] != "frame" {
			t.Errorf("unexpected message type %v", msg["type"])
			continue
		}
		if msg["frame"] != "inertial" {
			t.Errorf("frame = %v, want inertial", msg["frame"])
		}
		bodies, ok := msg["bodies"].([]any)
		if !ok || len(bodies) != 1 {
			t.Fatalf("bodies = %v, want 1 element", msg["bodies"])
		}
		b := bodies[0].(map[string]any)
		if b["id"] != "leo" {
			t.Errorf("body id = %v, want leo", b["id"])
		}
		if p, ok := b["p"].([]any); !ok || len(p) != 3 {
			t.Errorf("body p = %v, want 3 components", b["p"])
		}
		if tr, ok := b["tr"].([]any); ok {
			sawTrail = true
			if len(tr) > 5 {
				t.Errorf("trail has %d points, want at most 5", len(tr))
			}
		}
	}
	if !sawTrail {
		t.Error("no frame carried a trail")
	}

	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "retry: ") && line != ":" {
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
}

// TestFrameRateThrottle verifies frames are dropped above the requested rate.
func TestFrameRateThrottle(t *testing.T) {
	s := testSession(t)
	handler := NewHandler(s, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream?rate=2&analysis=false", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 600*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	drive(ctx, s)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var frames int
	for _, msg := range parseSSE(t, w.Body.String()) {
		if msg["type"] == "frame" {
			frames++
		}
	}
	// 2 Hz over 600ms allows at most two frames.
	if frames < 1 || frames > 2 {
		t.Errorf("frames = %d, want 1-2", frames)
	}
}

// TestAnalysisEvent verifies finished analyses are pushed to the stream.
func TestAnalysisEvent(t *testing.T) {
	s := testSession(t)
	if _, err := s.Register(orbit.NewCircular("meo", 2000, "")); err != nil {
		t.Fatal(err)
	}
	handler := NewHandler(s, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	go func() {
		time.Sleep(100 * time.Millisecond)
		if _, err := s.Analyze(ctx, session.AnalysisParams{A: "leo", B: "meo", DurationHours: 1, SampleCount: 60}); err != nil {
			t.Errorf("Analyze: %v", err)
		}
	}()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var found bool
	for _, msg := range parseSSE(t, w.Body.String()) {
		if msg["type"] != "analysis" {
			continue
		}
		found = true
		out := msg["outcome"].(map[string]any)
		if out["status"] != "completed" {
			t.Errorf("status = %v, want completed", out["status"])
		}
	}
	if !found {
		t.Error("did not receive analysis message")
	}
}

// TestRateLimiting verifies per-IP concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3)

	for i := 0; i < 3; i++ {
		if !limiter.acquire("10.0.0.1") {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if limiter.acquire("10.0.0.1") {
		t.Error("acquire beyond limit should fail")
	}
	if !limiter.acquire("10.0.0.2") {
		t.Error("different IP should not be rate limited")
	}

	limiter.release("10.0.0.1")
	if !limiter.acquire("10.0.0.1") {
		t.Error("acquire after release should succeed")
	}

	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
	if c := limiter.count("10.0.0.2"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}
}

// TestRateLimitingConcurrent verifies rate limiter thread safety.
func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

// TestRateLimitHTTPResponse verifies 429 when the per-IP limit is exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	s := testSession(t)
	handler := NewHandler(s, Config{
		MaxConcurrentPerIP: 1,
		KeepaliveInterval:  30 * time.Second,
	}, testLogger())

	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		ctx, cancel := context.WithCancel(req.Context())
		req = req.WithContext(ctx)
		w := httptest.NewRecorder()

		go func() {
			time.Sleep(50 * time.Millisecond)
			close(ready)
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()

		handler.ServeHTTP(w, req)
	}()

	<-ready

	req := httptest.NewRequest("GET", "/api/v1/stream", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	<-done
}

// TestInvalidQueryParams verifies 400 responses for bad rate/trail values.
func TestInvalidQueryParams(t *testing.T) {
	handler := NewHandler(testSession(t), testConfig(), testLogger())

	tests := []struct {
		name  string
		query string
	}{
		{"zero rate", "?rate=0"},
		{"rate too large", "?rate=100"},
		{"rate non-numeric", "?rate=abc"},
		{"negative trail", "?trail=-1"},
		{"trail too large", "?trail=1001"},
		{"bad analysis flag", "?analysis=maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream"+tt.query, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestBuildFrameMessage(t *testing.T) {
	s := testSession(t)
	h := NewHandler(s, testConfig(), testLogger())

	f := scheduler.Frame{
		Seq:           7,
		SimulatedTime: 12.5,
		Time:          time.Date(2025, 2, 14, 0, 0, 12, 500000000, time.UTC),
		Bodies: []scheduler.BodyFrame{
			{ID: "leo", Color: "#ff0000", Position: orbit.Vec3{X: 6798}},
			{ID: "ghost", Error: "propagation failed"},
		},
	}
	msg := h.buildFrameMessage(f, 10)

	if msg.Type != "frame" || msg.Seq != 7 || msg.T != 12.5 {
		t.Errorf("header = %+v", msg)
	}
	if msg.Time != "2025-02-14T00:00:12.5Z" {
		t.Errorf("time = %q", msg.Time)
	}
	if len(msg.Bodies) != 2 {
		t.Fatalf("bodies = %d, want 2", len(msg.Bodies))
	}
	if msg.Bodies[0].P != [3]float64{6798, 0, 0} {
		t.Errorf("p = %v", msg.Bodies[0].P)
	}
	// Unknown bodies get no trail rather than failing the frame.
	if msg.Bodies[1].Tr != nil || msg.Bodies[1].Err != "propagation failed" {
		t.Errorf("ghost = %+v", msg.Bodies[1])
	}
}

func TestByteBudget(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	b := newByteBudget(100, clock)

	if !b.take(80) {
		t.Fatal("first take within burst should succeed")
	}
	if b.take(30) {
		t.Error("take beyond remaining budget should fail")
	}
	now = now.Add(500 * time.Millisecond)
	if !b.take(60) {
		t.Error("take after refill should succeed")
	}

	unlimited := newByteBudget(0, clock)
	if !unlimited.take(1 << 30) {
		t.Error("zero rate should not limit")
	}
}

// TestKeepaliveFormat verifies the SSE comment format.
func TestKeepaliveFormat(t *testing.T) {
	w := httptest.NewRecorder()
	c := newClient(w, w, http.NewResponseController(w), "127.0.0.1", 0, testLogger())

	if err := c.sendKeepalive(); err != nil {
		t.Fatal(err)
	}
	if got := w.Body.String(); got != ":\n\n" {
		t.Errorf("keepalive = %q, want %q", got, ":\n\n")
	}
}
