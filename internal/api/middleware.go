// internal/api/middleware.go
package api

import (
	"fmt"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// requestLogger logs one line per request once it completes.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("HTTP request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("remote_addr", r.RemoteAddr),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// recoverer turns a handler panic into a JSON 500. The stack is only sent
// to the client in development.
func recoverer(logger *zap.Logger, development bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := debug.Stack()
				logger.Error("Recovered from panic in HTTP handler.",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", stack),
				)
				body := errorResponse{Status: "error", Message: "Internal server error"}
				if development {
					body.Stack = fmt.Sprintf("%v\n%s", rec, stack)
				}
				writeJSON(w, http.StatusInternalServerError, body, logger)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// cors allows the configured origins. "*" allows any origin without
// credentials; otherwise matching origins are echoed with credentials.
func cors(origins string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{})
	wildcard := false
	for _, o := range strings.Split(origins, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
		} else if o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			if origin != "" {
				if _, ok := allowed[origin]; ok {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Credentials", "true")
					h.Add("Vary", "Origin")
				} else if wildcard {
					h.Set("Access-Control-Allow-Origin", "*")
				}
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerAuth requires an HS256 token signed with secret.
func bearerAuth(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	unauthorized := func(w http.ResponseWriter, msg string) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="mirage"`)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Status: "error", Message: msg}, logger)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "Missing authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				unauthorized(w, "Invalid authorization header format")
				return
			}

			token, err := parser.Parse(parts[1], func(*jwt.Token) (interface{}, error) { return key, nil })
			if err != nil || !token.Valid {
				logger.Debug("Rejected bearer token.", zap.Error(err))
				unauthorized(w, "Invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit applies one token bucket to every request it wraps.
func rateLimit(rps float64, burst int, logger *zap.Logger) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	retryAfter := strconv.Itoa(int(math.Max(1, math.Ceil(1/rps))))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", retryAfter)
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Status: "error", Message: "Too many requests"}, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitBody caps request bodies at n bytes.
func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if n > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// notFound is the JSON fallback for unknown routes.
func notFound(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not Found"}, logger)
	}
}
