package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kislikjeka/fundflow/pkg/logger"
)

// maxCapturedBody bounds how much of an error body is kept for the log line
const maxCapturedBody = 4 << 10

// errCapture keeps the body of error responses so the log line can carry the error code.
type errCapture struct {
	chimiddleware.WrapResponseWriter
	buf        bytes.Buffer
	statusCode int
}

func (e *errCapture) WriteHeader(code int) {
	e.statusCode = code
	e.WrapResponseWriter.WriteHeader(code)
}

func (e *errCapture) Write(b []byte) (int, error) {
	if e.statusCode >= 400 && e.buf.Len() < maxCapturedBody {
		e.buf.Write(b)
	}
	return e.WrapResponseWriter.Write(b)
}

// errorBody pulls the error message and code out of a JSON error response.
func errorBody(body []byte) (msg, code string) {
	var obj struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &obj) != nil {
		return "", ""
	}
	return obj.Error, obj.Code
}

// Logger returns a request logging middleware
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	log = log.WithComponent("http")
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ec := &errCapture{WrapResponseWriter: ww}
			start := time.Now()

			reqID := chimiddleware.GetReqID(r.Context())
			if reqID != "" {
				ww.Header().Set("X-Request-Id", reqID)
				r = r.WithContext(context.WithValue(r.Context(), logger.RequestIDKey, reqID))
			}

			defer func() {
				status := ww.Status()
				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"status", status,
					"bytes", ww.BytesWritten(),
				}
				// the route pattern is only known once chi has matched
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						attrs = append(attrs, "route", pattern)
					}
				}
				if reqID != "" {
					attrs = append(attrs, "request_id", reqID)
				}
				if status >= 400 {
					if msg, code := errorBody(ec.buf.Bytes()); msg != "" {
						attrs = append(attrs, "error", msg, "error_code", code)
					}
				}

				reqLog := log.WithDuration(time.Since(start))
				switch {
				case status >= 500:
					reqLog.Error("HTTP request", attrs...)
				case status >= 400:
					reqLog.Warn("HTTP request", attrs...)
				default:
					reqLog.Info("HTTP request", attrs...)
				}
			}()

			next.ServeHTTP(ec, r)
		}
		return http.HandlerFunc(fn)
	}
}
