package api

import (
	"bufio"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/calibration"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/db"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/httputil"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/protocol"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/registry"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/tracker"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes the tracker over HTTP.
type Server struct {
	t        *tracker.Tracker
	db       *db.DB
	gatherer prometheus.Gatherer
}

// NewServer returns a Server for t. d may be nil, in which case history
// endpoints answer 503. g may be nil to omit /metrics.
func NewServer(t *tracker.Tracker, d *db.DB, g prometheus.Gatherer) *Server {
	return &Server{t: t, db: d, gatherer: g}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

// Hijack is needed by the websocket upgrade.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux registers every route on a new mux.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/devices", s.listDevices)
	mux.HandleFunc("/api/devices/join", s.joinDevice)
	mux.HandleFunc("/api/devices/leave", s.leaveDevice)
	mux.HandleFunc("/api/devices/remove", s.removeDevice)
	mux.HandleFunc("/api/smoothing", s.setSmoothing)
	mux.HandleFunc("/api/calibration", s.showCalibration)
	mux.HandleFunc("/api/calibration/arm", s.armCalibration)
	mux.HandleFunc("/api/calibration/cancel", s.cancelCalibration)
	mux.HandleFunc("/api/calibration/history", s.calibrationHistory)
	mux.HandleFunc("/api/calibration/restore", s.restoreCalibration)
	mux.HandleFunc("/api/rangelog", s.rangeLog)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/events/ws", s.streamEvents)
	mux.HandleFunc("/command", s.sendCommandHandler)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.attachDebugRoutes(mux)
	return mux
}

// writeTrackerError maps tracker errors onto status codes.
func writeTrackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrUnknownDevice), errors.Is(err, db.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, tracker.ErrNotConnected):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, tracker.ErrNoStore):
		httputil.ServiceUnavailable(w, err.Error())
	case errors.Is(err, calibration.ErrInvalidParams), errors.Is(err, tracker.ErrInvalidCommand):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

// deviceID parses the hex "id" form value.
func deviceID(r *http.Request) (uint64, error) {
	raw := r.FormValue("id")
	if raw == "" {
		return 0, errors.New("missing 'id' parameter")
	}
	return protocol.ParseID64(raw)
}

// formBool parses an optional boolean form value.
func formBool(r *http.Request, key string, def bool) (bool, error) {
	raw := r.FormValue(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseBool(raw)
}

// limitParam parses the optional "limit" query parameter.
func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("invalid 'limit' parameter")
	}
	return n, nil
}
