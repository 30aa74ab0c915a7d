package server

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/bazel-auth-broker/internal/config"
	"github.com/rs/zerolog/log"
)

// requestIDHeader is the header the broker stamps on every response so
// callers can correlate a failed request with the broker's own logs
// (spec.md §4.7 supplemented ambient concern).
const requestIDHeader = "X-Request-Id"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID stamps every request with a correlation id, propagated back
// on the response so a CLI caller can quote it when filing a bug.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// withLogging logs one structured line per request, in the style of the
// teacher's std_middleware logging wrapper.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("request_id", w.Header().Get(requestIDHeader)).
			Msg("http request")
	})
}

// withRecovery turns a panicking handler into an INTERNAL error response
// instead of tearing down the process (teacher's main.go applies the same
// recover-and-continue pattern at the top level; this applies it per
// request so one bad handler can't take the listener down).
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("recovered from panic in handler")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "INTERNAL"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withCORS applies the configured allow-list to every response (spec.md §6
// ambient concern; Non-goals exclude a full CORS policy engine, not CORS
// headers entirely).
func withCORS(cors config.CORSConfig) func(http.Handler) http.Handler {
	allowed := cors.GetAllowedOrigins()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed.IsAllowedOrigin(origin) || allowed.IsAllowedOrigin("*")) {
				if allowed.IsAllowedOrigin("*") {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", cors.GetAllowedMethods())
				w.Header().Set("Access-Control-Allow-Headers", cors.GetAllowedHeaders())
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middlewares outermost-first: chain(h, a, b) runs a, then b,
// then h.
func chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
