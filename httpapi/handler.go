// Package httpapi exposes the reconciliation engine over HTTP: one webhook
// endpoint per provider plus health and metrics.
package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/xraph/paysync"
	"github.com/xraph/paysync/webhook"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Processor handles one raw provider delivery.
type Processor interface {
	HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*webhook.Event, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SignatureHeaders maps provider names to the header carrying the
// delivery signature.
var SignatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
}

// DefaultSignatureHeader is used for providers missing from
// SignatureHeaders.
const DefaultSignatureHeader = "Webhook-Signature"

// Handler serves webhook deliveries.
type Handler struct {
	processor Processor
	health    Pinger
	logger    *slog.Logger
	metrics   *metrics
	gatherer  prometheus.Gatherer

	// Identical deliveries in flight at the same time are processed once.
	inflight singleflight.Group
}

type errorResponse struct {
	Error string `json:"error"`
}

type receivedResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id,omitempty"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithHealth sets the health check backend.
func WithHealth(p Pinger) Option {
	return func(h *Handler) { h.health = p }
}

// WithRegistry registers request metrics with reg and serves it on
// /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(h *Handler) {
		h.metrics = newMetrics(reg)
		h.gatherer = reg
	}
}

// New creates a Handler for p.
func New(p Processor, opts ...Option) *Handler {
	h := &Handler{
		processor: p,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = newMetrics(prometheus.DefaultRegisterer)
		h.gatherer = prometheus.DefaultGatherer
	}
	return h
}

// Routes returns the HTTP routes of h.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/{provider}", h.serveWebhook)
	mux.HandleFunc("GET /healthz", h.serveHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	return mux
}

type result struct {
	evt *webhook.Event
	err error
}

func (h *Handler) serveWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	providerName := r.PathValue("provider")
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		h.metrics.observe(providerName, eventType, status, time.Since(start))
	}()

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse{Error: "failed to read request body"})
		return
	}

	signature := r.Header.Get(signatureHeader(providerName))
	if strings.TrimSpace(signature) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, errorResponse{Error: "missing signature"})
		return
	}

	sum := sha256.Sum256(payload)
	key := providerName + ":" + hex.EncodeToString(sum[:])
	v, _, _ := h.inflight.Do(key, func() (any, error) {
		evt, err := h.processor.HandleWebhook(r.Context(), providerName, payload, signature)
		return result{evt: evt, err: err}, nil
	})
	res := v.(result) //nolint:errcheck // Do only ever returns result

	if res.evt != nil {
		eventType = res.evt.RawType
	}
	if res.err != nil {
		status = statusFor(res.err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("webhook processing failed",
				"provider", providerName,
				"event_type", eventType,
				"error", res.err,
			)
		}
		writeJSON(w, status, errorResponse{Error: publicMessage(status)})
		return
	}

	resp := receivedResponse{Received: true}
	if res.evt != nil {
		resp.EventID = res.evt.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps engine errors to responses. 4xx stops provider retries;
// 5xx asks for redelivery.
func statusFor(err error) int {
	switch {
	case errors.Is(err, paysync.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, paysync.ErrUnsupportedProvider):
		return http.StatusNotFound
	case errors.Is(err, paysync.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid signature"
	case http.StatusNotFound:
		return "unsupported provider"
	case http.StatusServiceUnavailable:
		return "shutting down"
	default:
		return "processing failed"
	}
}

func signatureHeader(providerName string) string {
	if h, ok := SignatureHeaders[providerName]; ok {
		return h
	}
	return DefaultSignatureHeader
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ──────────────────────────────────────────────────
// Metrics
// ──────────────────────────────────────────────────

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paysync",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Webhook deliveries by provider, event type and HTTP status.",
		}, []string{"provider", "event_type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paysync",
			Subsystem: "webhook",
			Name:      "duration_seconds",
			Help:      "Webhook processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "event_type"}),
	}
	m.requests = registerVec(reg, m.requests)
	m.duration = registerVec(reg, m.duration)
	return m
}

func registerVec[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) observe(providerName, eventType string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(providerName, eventType, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(providerName, eventType).Observe(elapsed.Seconds())
}
