// Package tracking is the HTTP and SQS edge of the open tracker.
package tracking

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/ignite/pixel-tracker/internal/domain"
	"github.com/ignite/pixel-tracker/internal/pkg/httputil"
	"github.com/ignite/pixel-tracker/internal/pkg/logger"
	trackingsvc "github.com/ignite/pixel-tracker/internal/service/tracking"
)

// 1x1 transparent GIF
const pixelBase64 = "R0lGODlhAQABAPAAAP///wAAACH5BAAAAAAALAAAAAABAAEAAAICRAEAOw=="

var pixelGIF = mustDecode(pixelBase64)

func mustDecode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Tracker is the part of the tracking service the HTTP layer calls.
type Tracker interface {
	Record(ctx context.Context, key string, meta trackingsvc.RequestMeta) error
	Aggregate(ctx context.Context, key string) (*domain.Stats, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// StatsRateLimit is requests per minute per client IP on /stats. 0 disables.
	StatsRateLimit int
}

type Handler struct {
	svc  Tracker
	opts Options
}

func NewHandler(svc Tracker, opts Options) *Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Handler{svc: svc, opts: opts}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/pixel/{file}", h.HandleOpen)
	r.Group(func(r chi.Router) {
		if h.opts.StatsRateLimit > 0 {
			r.Use(httprate.Limit(
				h.opts.StatsRateLimit,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
				}),
			))
		}
		r.Get("/stats/{key}", h.HandleStats)
	})
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen records an open for /pixel/{key}.png and always answers with
// the pixel. Recording failures are logged, never surfaced to the client.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	file := urlParam(r, "file")
	key, ok := strings.CutSuffix(file, ".png")
	if !ok {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	meta := trackingsvc.RequestMeta{
		UserAgent:       r.UserAgent(),
		Section:         q.Get("sect"),
		ClientTimestamp: q.Get("ts"),
		ClientTime:      q.Get("clientTime"),
		IPAddress:       realIP(r),
	}

	if err := h.svc.Record(r.Context(), key, meta); err != nil {
		if errors.Is(err, trackingsvc.ErrEmptyKey) {
			logger.Warn("open without tracking key", "path", r.URL.Path)
		} else {
			logger.Error("recording open failed", "key", key, "error", err)
		}
	} else {
		logger.Debug("open recorded", "key", key)
	}

	h.servePixel(w)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	key := urlParam(r, "key")

	stats, err := h.svc.Aggregate(r.Context(), key)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelGIF)
}

// urlParam returns the unescaped chi parameter. chi matches on the raw path
// when the request has escapes, so keys like "a%40b" arrive still encoded.
func urlParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func realIP(r *http.Request) string {
	// first hop of X-Forwarded-For is the client
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	if ip := strings.TrimSpace(first); ip != "" {
		return ip
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
