// Package stream serves a session's scheduler frames as Server-Sent Events.
// Clients connect via GET /api/v1/stream and receive one message per
// published frame, throttled to the requested rate.
//
// SSE message format:
//
//	data: {"type":"frame","seq":42,"t":1234.5,"time":"...","frame":"inertial","bodies":[...]}\n\n
//
// The first message is always metadata:
//
//	data: {"type":"metadata","session_id":"...","epoch":"...","state":"RUNNING","speed":1}\n\n
//
// Finished conjunction analyses arrive as {"type":"analysis",...}. Keep-alive
// comments (:\n\n) are sent every KeepaliveInterval of silence.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/star/orbitlab/internal/clock"
	"github.com/star/orbitlab/internal/conjunction"
	"github.com/star/orbitlab/internal/httputil"
	"github.com/star/orbitlab/internal/metrics"
	"github.com/star/orbitlab/internal/scheduler"
	"github.com/star/orbitlab/internal/simerr"
	"github.com/star/orbitlab/internal/trail"
)

// Source is the session surface the stream reads from.
type Source interface {
	ID() string
	Epoch() time.Time
	Clock() clock.State
	State() scheduler.State
	Frames() *scheduler.Broadcaster
	Trail(id string, count int) ([]trail.Point, error)
	AnalysisEvents() (<-chan conjunction.Outcome, func())
}

// Config holds streaming limits.
type Config struct {
	MaxConcurrentPerIP int           // default 10
	BandwidthLimit     int           // bytes per second per stream, 0 disables
	KeepaliveInterval  time.Duration // default 30s
	TrustProxy         bool
}

// Handler manages SSE connections for one session.
type Handler struct {
	src     Source
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a streaming handler.
func NewHandler(src Source, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP < 1 {
		config.MaxConcurrentPerIP = 10
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		src:     src,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP),
		logger:  logger,
	}
}

type streamParams struct {
	rateHz   int
	trail    int
	analysis bool
}

func parseParams(r *http.Request) (streamParams, error) {
	const op = "stream.params"
	p := streamParams{rateHz: 10, trail: 0, analysis: true}
	q := r.URL.Query()

	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 60 {
			return p, simerr.InvalidParameter(op, "rate must be 1-60, got %q", v)
		}
		p.rateHz = n
	}
	if v := q.Get("trail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > trail.MaxLength {
			return p, simerr.InvalidParameter(op, "trail must be 0-%d, got %q", trail.MaxLength, v)
		}
		p.trail = n
	}
	if v := q.Get("analysis"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, simerr.InvalidParameter(op, "analysis must be a boolean, got %q", v)
		}
		p.analysis = b
	}
	return p, nil
}

// ServeHTTP serves the SSE stream.
// GET /api/v1/stream?rate=10&trail=20&analysis=true
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := parseParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorBody{Error: "too many concurrent streams", Kind: "rate_limited"})
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()
	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"rate_hz", params.rateHz,
		"trail", params.trail,
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorBody{Error: "streaming not supported", Kind: "internal"})
		return
	}

	frames, unsubscribe := h.src.Frames().Subscribe()
	defer unsubscribe()

	var outcomes <-chan conjunction.Outcome
	if params.analysis {
		ch, stop := h.src.AnalysisEvents()
		defer stop()
		outcomes = ch
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Long-lived stream: lift the server-wide write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := newClient(w, flusher, rc, ip, h.config.BandwidthLimit, h.logger)

	// Jittered retry spreads reconnects after a restart.
	fmt.Fprintf(w, "retry: %d\n\n", 3000+rand.Intn(4000))
	flusher.Flush()

	st := h.src.Clock()
	meta := metadataMessage{
		Type:          "metadata",
		SessionID:     h.src.ID(),
		Epoch:         h.src.Epoch().UTC().Format(time.RFC3339),
		State:         h.src.State().String(),
		Speed:         st.Speed,
		SimulatedTime: st.SimulatedTime,
	}
	if err := c.sendJSON(meta); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	minGap := time.Second / time.Duration(params.rateHz)
	var lastSent time.Time

	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case f, ok := <-frames:
			if !ok {
				return
			}
			if now := time.Now(); now.Sub(lastSent) < minGap {
				continue
			} else {
				lastSent = now
			}

			data, err := json.Marshal(h.buildFrameMessage(f, params.trail))
			if err != nil {
				metrics.IncStreamErrors("marshal_error")
				h.logger.Warn("stream marshal error", "remote_ip", ip, "error", err)
				continue
			}
			if !c.allow(len(data)) {
				metrics.IncStreamErrors("bandwidth")
				continue
			}
			if err := c.sendRaw(data); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case out, ok := <-outcomes:
			if !ok {
				outcomes = nil
				continue
			}
			if err := c.sendJSON(analysisMessage{Type: "analysis", Outcome: out}); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error (analysis)", "remote_ip", ip, "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// buildFrameMessage formats a frame. With trail > 0 each body carries up
// to that many past positions, oldest first.
func (h *Handler) buildFrameMessage(f scheduler.Frame, trailLen int) frameMessage {
	bodies := make([]bodyPayload, len(f.Bodies))
	for i, b := range f.Bodies {
		bodies[i] = bodyPayload{
			ID:    b.ID,
			Color: b.Color,
			P:     b.Position.Array(),
			Err:   b.Error,
		}
		if trailLen > 0 {
			pts, err := h.src.Trail(b.ID, trailLen)
			if err != nil {
				continue
			}
			tr := make([][3]float64, len(pts))
			for j, p := range pts {
				tr[j] = p.Position.Array()
			}
			bodies[i].Tr = tr
		}
	}
	return frameMessage{
		Type:   "frame",
		Seq:    f.Seq,
		T:      f.SimulatedTime,
		Time:   f.Time.UTC().Format(time.RFC3339Nano),
		Frame:  "inertial",
		Bodies: bodies,
	}
}

type metadataMessage struct {
	Type          string  `json:"type"`
	SessionID     string  `json:"session_id"`
	Epoch         string  `json:"epoch"`
	State         string  `json:"state"`
	Speed         float64 `json:"speed"`
	SimulatedTime float64 `json:"simulated_time"`
}

type frameMessage struct {
	Type   string        `json:"type"`
	Seq    uint64        `json:"seq"`
	T      float64       `json:"t"`
	Time   string        `json:"time"`
	Frame  string        `json:"frame"`
	Bodies []bodyPayload `json:"bodies"`
}

type bodyPayload struct {
	ID    string       `json:"id"`
	Color string       `json:"color,omitempty"`
	P     [3]float64   `json:"p"`
	Tr    [][3]float64 `json:"tr,omitempty"`
	Err   string       `json:"error,omitempty"`
}

type analysisMessage struct {
	Type    string              `json:"type"`
	Outcome conjunction.Outcome `json:"outcome"`
}
