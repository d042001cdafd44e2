// Package http serves the DynamoDB JSON protocol over HTTP.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sysview/sysview/internal/api/wire"
	serrors "github.com/sysview/sysview/internal/errors"
)

// Context keys for request metadata.
type contextKey string

const (
	// requestIDKey is the context key for the request ID.
	requestIDKey contextKey = "request_id"
)

// amzRequestIDHeader is the request ID header the AWS SDKs read.
const amzRequestIDHeader = "X-Amzn-Requestid"

// RequestIDMiddleware adds a unique request ID to each request.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check if request_id is provided in header, otherwise generate one
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)
		w.Header().Set(amzRequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RecoveryMiddleware recovers from panics and returns an InternalServerError.
func RecoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in handler",
						zap.Any("panic", rec),
						zap.String("request_id", GetRequestID(r.Context())))
					writeError(w, serrors.NewInternalError("internal server error", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ChainMiddleware chains multiple middleware functions together.
func ChainMiddleware(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// AccessKeyID extracts the access key id from a SigV4 Authorization header,
// "AWS4-HMAC-SHA256 Credential=<id>/<date>/<region>/<service>/aws4_request, ...".
// The signature is not verified.
func AccessKeyID(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	_, rest, ok := strings.Cut(auth, "Credential=")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	if i := strings.IndexAny(id, ", "); i >= 0 {
		id = id[:i]
	}
	return id
}

// writeError writes a DynamoDB error body.
func writeError(w http.ResponseWriter, err error) {
	status, body := wire.ErrorBody(err)
	writeJSON(w, status, body)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		status, body := wire.ErrorBody(serrors.NewInternalError("failed to encode response", err))
		statusCode = status
		payload, _ = json.Marshal(body)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Amz-Crc32", crc32Header(payload))
	w.WriteHeader(statusCode)
	w.Write(payload)
}
